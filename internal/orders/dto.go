package orders

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/apexlabs-backend/pkg/db/models"
	"github.com/angelmondragon/apexlabs-backend/pkg/enums"
	"github.com/angelmondragon/apexlabs-backend/pkg/types"
)

const defaultCountry = "Australia"

// ShippingPayload is the shipping block of a storefront order submission.
type ShippingPayload struct {
	FirstName string  `json:"firstName" validate:"required"`
	LastName  string  `json:"lastName" validate:"required"`
	Email     string  `json:"email,omitempty"`
	Address1  string  `json:"address1" validate:"required"`
	Address2  *string `json:"address2,omitempty"`
	Suburb    string  `json:"suburb" validate:"required"`
	State     string  `json:"state" validate:"required"`
	Postcode  string  `json:"postcode" validate:"required"`
	Phone     *string `json:"phone,omitempty"`
	Country   string  `json:"country"`
}

// ItemPayload is a cart line as submitted by the storefront.
type ItemPayload struct {
	ID        string          `json:"id"`
	ProductID string          `json:"productId"`
	Name      string          `json:"name" validate:"required"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity" validate:"min=1"`
	Image     string          `json:"image,omitempty"`
}

// OrderPayload is the untrusted order submission. It is also the payload kept
// in the fallback outbox, after normalization.
type OrderPayload struct {
	Email         string           `json:"email" validate:"required,email"`
	Shipping      ShippingPayload  `json:"shipping"`
	Note          string           `json:"note"`
	PromoCode     *string          `json:"promoCode,omitempty"`
	PromoPercent  *decimal.Decimal `json:"promoPercent,omitempty"`
	PromoDiscount *decimal.Decimal `json:"promoDiscount,omitempty"`
	PaymentMethod string           `json:"paymentMethod" validate:"required"`
	ShippingCost  decimal.Decimal  `json:"shippingCost"`
	Items         []ItemPayload    `json:"items" validate:"required,min=1,dive"`
	Subtotal      decimal.Decimal  `json:"subtotal"`
	Total         decimal.Decimal  `json:"total"`
}

// Normalize trims free-text fields and fills defaults in place.
func (p *OrderPayload) Normalize() {
	p.Email = strings.TrimSpace(p.Email)
	p.Note = strings.TrimSpace(p.Note)
	p.PaymentMethod = strings.TrimSpace(p.PaymentMethod)
	p.PromoCode = trimOptional(p.PromoCode)

	s := &p.Shipping
	s.FirstName = strings.TrimSpace(s.FirstName)
	s.LastName = strings.TrimSpace(s.LastName)
	s.Email = strings.TrimSpace(s.Email)
	s.Address1 = strings.TrimSpace(s.Address1)
	s.Address2 = trimOptional(s.Address2)
	s.Suburb = strings.TrimSpace(s.Suburb)
	s.State = strings.TrimSpace(s.State)
	s.Postcode = strings.TrimSpace(s.Postcode)
	s.Phone = trimOptional(s.Phone)
	s.Country = strings.TrimSpace(s.Country)
	if s.Country == "" {
		s.Country = defaultCountry
	}

	for i := range p.Items {
		item := &p.Items[i]
		item.ID = strings.TrimSpace(item.ID)
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.Name = strings.TrimSpace(item.Name)
		if item.ProductID == "" {
			item.ProductID = item.ID
		}
	}
}

// ItemsTotal sums unit price times quantity over all items.
func (p OrderPayload) ItemsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range p.Items {
		sum = sum.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return sum
}

// Discount returns the promo discount, zero when absent.
func (p OrderPayload) Discount() decimal.Decimal {
	if p.PromoDiscount == nil {
		return decimal.Zero
	}
	return *p.PromoDiscount
}

// ToOrder maps a validated payload onto a pending order row.
func (p OrderPayload) ToOrder(orderNumber string) *models.Order {
	items := make([]types.OrderItem, 0, len(p.Items))
	for _, item := range p.Items {
		items = append(items, types.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.Price,
			Quantity:  item.Quantity,
			Image:     item.Image,
		})
	}
	var note *string
	if p.Note != "" {
		n := p.Note
		note = &n
	}
	return &models.Order{
		OrderNumber: orderNumber,
		Email:       p.Email,
		ShippingAddress: types.ShippingAddress{
			FirstName: p.Shipping.FirstName,
			LastName:  p.Shipping.LastName,
			Phone:     p.Shipping.Phone,
			Country:   p.Shipping.Country,
			Address1:  p.Shipping.Address1,
			Address2:  p.Shipping.Address2,
			Suburb:    p.Shipping.Suburb,
			State:     p.Shipping.State,
			Postcode:  p.Shipping.Postcode,
		},
		Note:          note,
		PromoCode:     p.PromoCode,
		PromoDiscount: p.Discount(),
		PaymentMethod: models.PaymentMethodBankTransfer,
		Status:        enums.OrderStatusPending,
		Items:         items,
		Subtotal:      p.Subtotal,
		ShippingCost:  p.ShippingCost,
		Total:         p.Total,
	}
}

// SubmitResult is returned for an accepted order, whether stored or queued.
type SubmitResult struct {
	OrderNumber string
	Subtotal    decimal.Decimal
	Total       decimal.Decimal
	Warnings    []string
	Queued      bool
	Degraded    bool
}

// StatusUpdate is the admin status change outcome.
type StatusUpdate struct {
	Status enums.OrderStatus `json:"status"`
	Order  *models.Order     `json:"order"`
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
