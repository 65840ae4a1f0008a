package orders

import (
	"context"
	"time"

	"github.com/angelmondragon/apexlabs-backend/pkg/db/models"
	"github.com/angelmondragon/apexlabs-backend/pkg/enums"
	"gorm.io/gorm"
)

// Repository defines persistence operations for the orders table.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	Exists(ctx context.Context, orderNumber string) (bool, error)
	FindByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	ListRecent(ctx context.Context, limit int) ([]models.Order, error)
	ListChangedSince(ctx context.Context, since time.Time, limit int) ([]models.Order, error)
	UpdateStatus(ctx context.Context, orderNumber string, status enums.OrderStatus) error
}
