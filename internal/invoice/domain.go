package invoice

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind distinguishes sales invoices from purchase invoices.
type Kind string

const (
	KindSales    Kind = "sales"
	KindPurchase Kind = "purchase"
)

// ParseKind validates a kind taken from a route or payload.
func ParseKind(raw string) (Kind, bool) {
	switch Kind(raw) {
	case KindSales, KindPurchase:
		return Kind(raw), true
	}
	return "", false
}

// Title is the document heading for the kind.
func (k Kind) Title() string {
	if k == KindPurchase {
		return "فاتورة مشتريات"
	}
	return "فاتورة مبيعات"
}

// PartyLabel names the counterpart of the invoice.
func (k Kind) PartyLabel() string {
	if k == KindPurchase {
		return "المورد"
	}
	return "العميل"
}

// PartyRequiredMessage is the field error shown when the counterpart is missing.
func (k Kind) PartyRequiredMessage() string {
	if k == KindPurchase {
		return MsgSupplierRequired
	}
	return MsgCustomerRequired
}

// DefaultDiscountMode mirrors the invoice forms: sales discount by percentage,
// purchases by a flat amount.
func (k Kind) DefaultDiscountMode() DiscountMode {
	if k == KindPurchase {
		return DiscountFlat
	}
	return DiscountPercentage
}

// PaymentType is how the invoice is settled.
type PaymentType string

const (
	PaymentCash   PaymentType = "cash"
	PaymentCredit PaymentType = "credit"
)

// Label returns the printed payment label.
func (p PaymentType) Label() string {
	if p == PaymentCash {
		return "نقدي"
	}
	return "آجل"
}

// DiscountMode selects how DiscountValue is interpreted.
type DiscountMode string

const (
	DiscountPercentage DiscountMode = "percentage"
	DiscountFlat       DiscountMode = "flat"
)

// CashCustomerName is printed when an invoice has no party account.
const CashCustomerName = "عميل نقدي"

// Product is the catalogue entry a line item is built from.
type Product struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	SalePrice     decimal.Decimal `json:"selling_price"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	Unit          string          `json:"unit"`
}

// PriceFor returns the configured price used when a line has no override.
func (p Product) PriceFor(kind Kind) decimal.Decimal {
	if kind == KindPurchase {
		return p.PurchasePrice
	}
	return p.SalePrice
}

// Party is a customer or a supplier.
type Party struct {
	ID      int64           `json:"id"`
	Name    string          `json:"name"`
	Phone   string          `json:"phone,omitempty"`
	Balance decimal.Decimal `json:"balance"`
}

// LineItem is one product line of a draft invoice.
type LineItem struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Color       string          `json:"color,omitempty"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Total is recomputed on every call.
func (l LineItem) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity))
}

// DraftInvoice is an invoice being composed by one session.
type DraftInvoice struct {
	ID            string          `json:"id"`
	Kind          Kind            `json:"kind"`
	PartyID       *int64          `json:"party_id,omitempty"`
	PaymentType   PaymentType     `json:"payment_type"`
	Items         []LineItem      `json:"items"`
	DiscountMode  DiscountMode    `json:"discount_mode"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	Tax           decimal.Decimal `json:"tax"`
	Notes         string          `json:"notes,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewDraft returns an empty draft with the kind's defaults.
func NewDraft(id string, kind Kind, now time.Time) DraftInvoice {
	return DraftInvoice{
		ID:           id,
		Kind:         kind,
		PaymentType:  PaymentCash,
		Items:        []LineItem{},
		DiscountMode: kind.DefaultDiscountMode(),
		UpdatedAt:    now,
	}
}

// PersistedItem is a line of a backend-confirmed invoice. Printed values are
// nullable so that missing upstream data is detected instead of being read as zero.
type PersistedItem struct {
	ProductID   int64               `json:"product_id"`
	ProductName string              `json:"product_name"`
	Color       string              `json:"color,omitempty"`
	Quantity    decimal.NullDecimal `json:"quantity"`
	UnitPrice   decimal.NullDecimal `json:"unit_price"`
	TotalPrice  decimal.NullDecimal `json:"total_price"`
}

// Complete reports whether the item carries every printed value.
func (i PersistedItem) Complete() bool {
	return i.Quantity.Valid && i.UnitPrice.Valid && i.TotalPrice.Valid
}

// PersistedInvoice is the authoritative record returned by the backend.
type PersistedInvoice struct {
	ID                 int64               `json:"id"`
	Number             string              `json:"invoice_number"`
	CreatedAt          time.Time           `json:"created_at"`
	Party              *Party              `json:"party,omitempty"`
	PartyName          string              `json:"party_name,omitempty"`
	PaymentType        PaymentType         `json:"payment_type"`
	Items              []PersistedItem     `json:"items"`
	Subtotal           decimal.NullDecimal `json:"total_amount"`
	DiscountPercentage decimal.Decimal     `json:"discount_percentage"`
	Discount           decimal.Decimal     `json:"discount"`
	FinalAmount        decimal.NullDecimal `json:"final_amount"`
	Notes              string              `json:"notes,omitempty"`
}

// Complete reports whether the invoice carries its totals and every item's
// printed values.
func (p PersistedInvoice) Complete() bool {
	if !p.Subtotal.Valid || !p.FinalAmount.Valid {
		return false
	}
	for _, item := range p.Items {
		if !item.Complete() {
			return false
		}
	}
	return true
}

// PartyDisplayName resolves the printed party name, falling back to the
// cash customer when the invoice has no party account.
func (p PersistedInvoice) PartyDisplayName() string {
	if p.Party != nil && p.Party.Name != "" {
		return p.Party.Name
	}
	if p.PartyName != "" {
		return p.PartyName
	}
	return CashCustomerName
}

// PartyPhone is empty when no party or phone is known.
func (p PersistedInvoice) PartyPhone() string {
	if p.Party == nil {
		return ""
	}
	return p.Party.Phone
}
