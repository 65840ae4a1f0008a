package orders

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/apexlabs-backend/pkg/errors"
)

// PriceCatalog resolves the authoritative unit price for a product.
type PriceCatalog interface {
	UnitPrice(productID string) (decimal.Decimal, bool)
}

// fieldMessages are the customer-facing messages for payload tag failures.
var fieldMessages = map[string]string{
	"email":              "Valid email is required",
	"shipping.firstName": "First name is required",
	"shipping.lastName":  "Last name is required",
	"shipping.address1":  "Address is required",
	"shipping.suburb":    "Suburb is required",
	"shipping.state":     "State is required",
	"shipping.postcode":  "Postcode is required",
	"items":              "Cart cannot be empty",
	"paymentMethod":      "Payment method is required",
}

var payloadValidator = newPayloadValidator()

func newPayloadValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

type validationIssue struct {
	field   string
	message string
}

// validatePayload checks the normalized payload. It returns nil when the
// payload is acceptable, otherwise a CodeValidation error whose message joins
// every problem and whose details map field to message.
func validatePayload(p OrderPayload, catalog PriceCatalog) error {
	var issues []validationIssue

	if err := payloadValidator.Struct(p); err != nil {
		fieldErrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
		}
		for _, fe := range fieldErrs {
			issues = append(issues, tagIssue(fe))
		}
	}

	for i, item := range p.Items {
		if item.Price.IsNegative() {
			issues = append(issues, validationIssue{
				field:   fmt.Sprintf("items[%d].price", i),
				message: fmt.Sprintf("Price for %s cannot be negative", itemLabel(item)),
			})
		}
		if catalog == nil {
			continue
		}
		price, ok := catalog.UnitPrice(item.ProductID)
		if !ok {
			issues = append(issues, validationIssue{
				field:   fmt.Sprintf("items[%d].productId", i),
				message: fmt.Sprintf("Unknown product %s", itemLabel(item)),
			})
			continue
		}
		if !centsEqual(price, item.Price) {
			issues = append(issues, validationIssue{
				field:   fmt.Sprintf("items[%d].price", i),
				message: fmt.Sprintf("Price for %s does not match the catalog", itemLabel(item)),
			})
		}
	}

	if p.ShippingCost.IsNegative() {
		issues = append(issues, validationIssue{field: "shippingCost", message: "Shipping cost cannot be negative"})
	}
	if p.Discount().IsNegative() {
		issues = append(issues, validationIssue{field: "promoDiscount", message: "Promo discount cannot be negative"})
	}

	if len(p.Items) > 0 {
		expectedSubtotal := p.ItemsTotal().Sub(p.Discount())
		if !centsEqual(expectedSubtotal, p.Subtotal) {
			issues = append(issues, validationIssue{
				field:   "subtotal",
				message: fmt.Sprintf("Subtotal %s does not match items (expected %s)", p.Subtotal.StringFixed(2), expectedSubtotal.StringFixed(2)),
			})
		}
	}
	expectedTotal := p.Subtotal.Add(p.ShippingCost)
	if !centsEqual(expectedTotal, p.Total) {
		issues = append(issues, validationIssue{
			field:   "total",
			message: fmt.Sprintf("Total %s does not equal subtotal plus shipping (expected %s)", p.Total.StringFixed(2), expectedTotal.StringFixed(2)),
		})
	}

	if len(issues) == 0 {
		return nil
	}

	messages := make([]string, 0, len(issues))
	details := make(map[string]string, len(issues))
	for _, issue := range issues {
		messages = append(messages, issue.message)
		if _, seen := details[issue.field]; !seen {
			details[issue.field] = issue.message
		}
	}
	return pkgerrors.New(pkgerrors.CodeValidation, strings.Join(messages, "; ")).WithDetails(details)
}

func tagIssue(fe validator.FieldError) validationIssue {
	field := fe.Namespace()
	if idx := strings.Index(field, "."); idx >= 0 {
		field = field[idx+1:]
	}
	if msg, ok := fieldMessages[field]; ok {
		return validationIssue{field: field, message: msg}
	}
	switch fe.Tag() {
	case "min":
		return validationIssue{field: field, message: fmt.Sprintf("%s must be at least %s", field, fe.Param())}
	case "required":
		return validationIssue{field: field, message: fmt.Sprintf("%s is required", field)}
	}
	return validationIssue{field: field, message: fmt.Sprintf("%s is invalid", field)}
}

func centsEqual(a, b decimal.Decimal) bool {
	return a.Round(2).Equal(b.Round(2))
}

func itemLabel(item ItemPayload) string {
	if item.Name != "" {
		return item.Name
	}
	return item.ProductID
}
