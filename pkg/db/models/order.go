package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/apexlabs-backend/pkg/enums"
	"github.com/angelmondragon/apexlabs-backend/pkg/types"
)

// PaymentMethodBankTransfer is the only payment method the shop accepts.
const PaymentMethodBankTransfer = "bank_transfer"

// Order is a customer purchase order. Its JSON form matches the row JSON
// emitted by the orders change feed.
type Order struct {
	ID          uuid.UUID `json:"id" gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber string    `json:"order_number" gorm:"column:order_number;type:text;not null;uniqueIndex:orders_order_number_key"`
	Email       string    `json:"email" gorm:"column:email;type:text;not null"`

	types.ShippingAddress `gorm:"embedded"`

	Note          *string                              `json:"note" gorm:"column:note;type:text"`
	PromoCode     *string                              `json:"promo_code" gorm:"column:promo_code;type:text"`
	PromoDiscount decimal.Decimal                      `json:"promo_discount" gorm:"column:promo_discount;type:numeric(12,2);not null;default:0"`
	PaymentMethod string                               `json:"payment_method" gorm:"column:payment_method;type:text;not null;default:'bank_transfer'"`
	Status        enums.OrderStatus                    `json:"status" gorm:"column:status;type:text;not null;default:'pending'"`
	Items         datatypes.JSONSlice[types.OrderItem] `json:"items" gorm:"column:items;type:jsonb"`
	Subtotal      decimal.Decimal                      `json:"subtotal" gorm:"column:subtotal;type:numeric(12,2);not null"`
	ShippingCost  decimal.Decimal                      `json:"shipping" gorm:"column:shipping;type:numeric(12,2);not null;default:0"`
	Total         decimal.Decimal                      `json:"total" gorm:"column:total;type:numeric(12,2);not null"`
	CreatedAt     time.Time                            `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time                            `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName pins the table name.
func (Order) TableName() string {
	return "orders"
}

// BeforeCreate assigns an id client-side so sqlite and replays behave like Postgres.
func (o *Order) BeforeCreate(_ *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Status == "" {
		o.Status = enums.OrderStatusPending
	}
	if o.PaymentMethod == "" {
		o.PaymentMethod = PaymentMethodBankTransfer
	}
	return nil
}

// ItemCount sums quantities across items.
func (o Order) ItemCount() int {
	total := 0
	for _, item := range o.Items {
		total += item.Quantity
	}
	return total
}
