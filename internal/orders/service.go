package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/apexlabs-backend/pkg/db/models"
	"github.com/angelmondragon/apexlabs-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/apexlabs-backend/pkg/errors"
	"gorm.io/gorm"
)

const (
	defaultListLimit   = 200
	defaultReadTimeout = 5 * time.Second
)

// Service defines the admin-facing order operations.
type Service interface {
	ListRecent(ctx context.Context) ([]models.Order, error)
	ListChangedSince(ctx context.Context, since time.Time) ([]models.Order, error)
	Get(ctx context.Context, orderNumber string) (*models.Order, error)
	UpdateStatus(ctx context.Context, orderNumber, status string) (*StatusUpdate, error)
}

// TxRunner runs fn inside a single database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires the admin order service. Tx is optional; without it the
// status write and the re-fetch run as separate statements.
type ServiceParams struct {
	Repo         Repository
	Tx           TxRunner
	ListLimit    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type service struct {
	repo         Repository
	tx           TxRunner
	listLimit    int
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewService builds the admin order service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	limit := params.ListLimit
	if limit <= 0 {
		limit = defaultListLimit
	}
	read := params.ReadTimeout
	if read <= 0 {
		read = defaultReadTimeout
	}
	write := params.WriteTimeout
	if write <= 0 {
		write = defaultWriteTimeout
	}
	return &service{
		repo:         params.Repo,
		tx:           params.Tx,
		listLimit:    limit,
		readTimeout:  read,
		writeTimeout: write,
	}, nil
}

func (s *service) ListRecent(ctx context.Context) ([]models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	rows, err := s.repo.ListRecent(ctx, s.listLimit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return rows, nil
}

func (s *service) ListChangedSince(ctx context.Context, since time.Time) ([]models.Order, error) {
	if since.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "since is required").WithDetails(map[string]any{"field": "since"})
	}
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	rows, err := s.repo.ListChangedSince(ctx, since.UTC(), s.listLimit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list changed orders")
	}
	return rows, nil
}

func (s *service) Get(ctx context.Context, orderNumber string) (*models.Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	order, err := s.repo.FindByNumber(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// UpdateStatus applies any transition within the status enum and returns the
// re-fetched row.
func (s *service) UpdateStatus(ctx context.Context, orderNumber, status string) (*StatusUpdate, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number required")
	}
	next, err := enums.ParseOrderStatus(status)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status").WithDetails(map[string]any{
			"status":  status,
			"allowed": enums.OrderStatuses(),
		})
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	var order *models.Order
	apply := func(repo Repository) error {
		if err := repo.UpdateStatus(writeCtx, orderNumber, next); err != nil {
			return err
		}
		row, err := repo.FindByNumber(writeCtx, orderNumber)
		if err != nil {
			return err
		}
		order = row
		return nil
	}
	if s.tx != nil {
		err = s.tx.WithTx(writeCtx, func(tx *gorm.DB) error {
			return apply(s.repo.WithTx(tx))
		})
	} else {
		err = apply(s.repo)
	}
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	return &StatusUpdate{Status: next, Order: order}, nil
}
