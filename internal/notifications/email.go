package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/angelmondragon/apexlabs-backend/pkg/db/models"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const orderDateLayout = "2 January 2006, 3:04 pm"

// Email is a rendered notification ready for a mailer.
type Email struct {
	To      string
	ReplyTo string
	Subject string
	HTML    string
}

type emailItem struct {
	Name      string
	Quantity  int
	UnitPrice string
	LineTotal string
}

type emailData struct {
	ShopName        string
	BankAccountName string
	OrderNumber     string
	OrderDate       string
	CustomerName    string
	FirstName       string
	Email           string
	Phone           string
	AddressLines    []string
	PromoCode       string
	Note            string
	Items           []emailItem
	Subtotal        string
	Discount        string
	Shipping        string
	Total           string
}

func newEmailData(order *models.Order, shopName string, loc *time.Location) emailData {
	data := emailData{
		ShopName:        shopName,
		BankAccountName: shopName + " Pty Ltd",
		OrderNumber:     order.OrderNumber,
		OrderDate:       order.CreatedAt.In(loc).Format(orderDateLayout),
		CustomerName:    order.FullName(),
		FirstName:       order.FirstName,
		Email:           order.Email,
		AddressLines:    order.Lines(),
		Subtotal:        order.Subtotal.StringFixed(2),
		Shipping:        order.ShippingCost.StringFixed(2),
		Total:           order.Total.StringFixed(2),
	}
	if order.Phone != nil {
		data.Phone = strings.TrimSpace(*order.Phone)
	}
	if order.PromoCode != nil {
		data.PromoCode = strings.TrimSpace(*order.PromoCode)
	}
	if order.Note != nil {
		data.Note = strings.TrimSpace(*order.Note)
	}
	if order.PromoDiscount.IsPositive() {
		data.Discount = order.PromoDiscount.StringFixed(2)
	}
	for _, item := range order.Items {
		data.Items = append(data.Items, emailItem{
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(2),
			LineTotal: item.LineTotal().StringFixed(2),
		})
	}
	return data
}

// OwnerEmail renders the new-order alert for the shop owner. Replies go to the customer.
func OwnerEmail(order *models.Order, ownerAddress, shopName string, loc *time.Location) (Email, error) {
	html, err := render("owner.html", newEmailData(order, shopName, loc))
	if err != nil {
		return Email{}, err
	}
	return Email{
		To:      ownerAddress,
		ReplyTo: order.Email,
		Subject: fmt.Sprintf("New Order %s - %s", order.OrderNumber, shopName),
		HTML:    html,
	}, nil
}

// CustomerEmail renders the order confirmation with payment instructions.
func CustomerEmail(order *models.Order, shopName string, loc *time.Location) (Email, error) {
	html, err := render("customer.html", newEmailData(order, shopName, loc))
	if err != nil {
		return Email{}, err
	}
	return Email{
		To:      order.Email,
		Subject: fmt.Sprintf("Order Confirmation - %s", order.OrderNumber),
		HTML:    html,
	}, nil
}

func render(name string, data emailData) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
