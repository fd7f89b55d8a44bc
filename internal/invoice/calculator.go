package invoice

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	validate = validator.New()
	hundred  = decimal.NewFromInt(100)
)

// LineCandidate is a line the user wants to add to a draft. A nil UnitPrice
// means the product's configured price applies.
type LineCandidate struct {
	ProductID int64            `json:"product_id" validate:"required,gt=0"`
	Quantity  int64            `json:"quantity" validate:"required,gt=0"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
	Color     string           `json:"color,omitempty" validate:"max=100"`
}

// Totals is the derived state shown under the item list.
type Totals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Tax            decimal.Decimal `json:"tax"`
	Total          decimal.Decimal `json:"total"`
	// Clamped is set when the discount exceeded subtotal plus tax and the
	// total was floored at zero.
	Clamped bool `json:"clamped"`
}

// Warning returns the message surfaced alongside clamped totals.
func (t Totals) Warning() string {
	if t.Clamped {
		return MsgTotalClamped
	}
	return ""
}

// ValidateCandidate checks a candidate line without looking up its product.
func ValidateCandidate(c LineCandidate) error {
	verr := &ValidationError{}
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validate line: %w", err)
		}
		for _, fe := range fieldErrs {
			switch fe.Field() {
			case "ProductID":
				verr.add("product_id", MsgProductRequired)
			case "Quantity":
				verr.add("quantity", MsgQuantityInvalid)
			default:
				verr.add(fe.Field(), fe.Error())
			}
		}
	}
	if c.UnitPrice != nil && c.UnitPrice.IsNegative() {
		verr.add("unit_price", MsgPriceNegative)
	}
	if verr.empty() {
		return nil
	}
	return verr
}

// AddLine appends the candidate to a copy of items. product is the catalogue
// record the candidate refers to; nil means nothing was selected.
func AddLine(items []LineItem, c LineCandidate, product *Product, kind Kind) ([]LineItem, error) {
	if err := ValidateCandidate(c); err != nil {
		return items, err
	}
	if product == nil || product.ID != c.ProductID {
		return items, newValidationError("product_id", MsgProductRequired)
	}
	price := product.PriceFor(kind)
	if c.UnitPrice != nil {
		price = *c.UnitPrice
	}
	if price.IsNegative() {
		return items, newValidationError("unit_price", MsgPriceNegative)
	}

	out := make([]LineItem, len(items), len(items)+1)
	copy(out, items)
	return append(out, LineItem{
		ProductID:   product.ID,
		ProductName: product.Name,
		Color:       c.Color,
		Quantity:    c.Quantity,
		UnitPrice:   price,
	}), nil
}

// RemoveLine returns a copy of items without the line at index. An index out
// of range is a programming error and panics.
func RemoveLine(items []LineItem, index int) []LineItem {
	if index < 0 || index >= len(items) {
		panic(fmt.Sprintf("invoice: remove line %d of %d", index, len(items)))
	}
	out := make([]LineItem, 0, len(items)-1)
	out = append(out, items[:index]...)
	return append(out, items[index+1:]...)
}

// ComputeSubtotal sums quantity × unit price at full precision.
func ComputeSubtotal(items []LineItem) decimal.Decimal {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Total())
	}
	return subtotal
}

// ComputeTotal applies the discount and tax to subtotal. The final total is
// never negative.
func ComputeTotal(subtotal decimal.Decimal, mode DiscountMode, value, tax decimal.Decimal) Totals {
	discount := value
	if mode == DiscountPercentage {
		discount = subtotal.Mul(value).Div(hundred)
	}
	total := subtotal.Sub(discount).Add(tax)
	clamped := false
	if total.IsNegative() {
		total = decimal.Zero
		clamped = true
	}
	return Totals{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		Tax:            tax,
		Total:          total,
		Clamped:        clamped,
	}
}

// ValidateAdjustments checks the discount and tax inputs of a draft.
func ValidateAdjustments(mode DiscountMode, value, tax decimal.Decimal) error {
	verr := &ValidationError{}
	switch mode {
	case DiscountPercentage:
		if value.IsNegative() || value.GreaterThan(hundred) {
			verr.add("discount_value", MsgPercentageRange)
		}
	case DiscountFlat:
		if value.IsNegative() {
			verr.add("discount_value", MsgDiscountNegative)
		}
	default:
		verr.add("discount_mode", MsgDiscountModeBad)
	}
	if tax.IsNegative() {
		verr.add("tax", MsgTaxNegative)
	}
	if verr.empty() {
		return nil
	}
	return verr
}

// Compute recomputes the draft's totals.
func Compute(d DraftInvoice) (Totals, error) {
	if err := ValidateAdjustments(d.DiscountMode, d.DiscountValue, d.Tax); err != nil {
		return Totals{}, err
	}
	return ComputeTotal(ComputeSubtotal(d.Items), d.DiscountMode, d.DiscountValue, d.Tax), nil
}

// ValidateForSubmit checks everything the submit action requires.
func ValidateForSubmit(d DraftInvoice) error {
	verr := &ValidationError{}
	if len(d.Items) == 0 {
		verr.add("items", MsgItemsRequired)
	}
	switch d.PaymentType {
	case PaymentCash, PaymentCredit:
	default:
		verr.add("payment_type", MsgPaymentTypeInvalid)
	}
	if d.PartyID == nil && (d.Kind == KindPurchase || d.PaymentType == PaymentCredit) {
		verr.add("party_id", d.Kind.PartyRequiredMessage())
	}
	if err := ValidateAdjustments(d.DiscountMode, d.DiscountValue, d.Tax); err != nil {
		var adj *ValidationError
		if errors.As(err, &adj) {
			for field, msg := range adj.Fields {
				verr.add(field, msg)
			}
		}
	}
	if verr.empty() {
		return nil
	}
	return verr
}
