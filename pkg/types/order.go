package types

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ShippingAddress is stored as flat columns on orders and flattened into the
// row JSON the change feed emits.
type ShippingAddress struct {
	FirstName string  `json:"first_name" gorm:"column:first_name;type:text;not null"`
	LastName  string  `json:"last_name" gorm:"column:last_name;type:text;not null"`
	Phone     *string `json:"phone" gorm:"column:phone;type:text"`
	Country   string  `json:"country" gorm:"column:country;type:text;not null;default:'Australia'"`
	Address1  string  `json:"address1" gorm:"column:address1;type:text;not null"`
	Address2  *string `json:"address2" gorm:"column:address2;type:text"`
	Suburb    string  `json:"suburb" gorm:"column:suburb;type:text;not null"`
	State     string  `json:"state" gorm:"column:state;type:text;not null"`
	Postcode  string  `json:"postcode" gorm:"column:postcode;type:text;not null"`
}

// FullName joins first and last names for display.
func (s ShippingAddress) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// Lines renders the address as printable lines, skipping empty optional parts.
func (s ShippingAddress) Lines() []string {
	lines := []string{s.Address1}
	if s.Address2 != nil && strings.TrimSpace(*s.Address2) != "" {
		lines = append(lines, *s.Address2)
	}
	lines = append(lines, strings.TrimSpace(s.Suburb+" "+s.State+" "+s.Postcode))
	if s.Country != "" {
		lines = append(lines, s.Country)
	}
	return lines
}

// OrderItem is a single line inside the orders.items jsonb column.
type OrderItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image,omitempty"`
}

// LineTotal returns unit price times quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
