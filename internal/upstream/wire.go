package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/invoice-desk/internal/invoice"
)

// The backend emits naive timestamps (no zone) which are UTC.
var timeLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02",
}

// Timestamp decodes the backend's timestamp formats.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognised format %q", raw)
}

// amount encodes a decimal as a bare JSON number; the backend does arithmetic
// on the values it receives.
type amount decimal.Decimal

func (a amount) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(a).String()), nil
}

type productsResponse struct {
	Products []invoice.Product `json:"products"`
}

type partiesResponse struct {
	Customers []invoice.Party `json:"customers"`
	Suppliers []invoice.Party `json:"suppliers"`
}

type createLine struct {
	ProductID int64  `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	UnitPrice amount `json:"unit_price"`
	Color     string `json:"color"`
}

type createRequest struct {
	CustomerID         *int64       `json:"customer_id,omitempty"`
	SupplierID         *int64       `json:"supplier_id,omitempty"`
	PaymentType        string       `json:"payment_type"`
	DiscountPercentage *amount      `json:"discount_percentage,omitempty"`
	Discount           *amount      `json:"discount,omitempty"`
	Tax                amount       `json:"tax"`
	Notes              string       `json:"notes"`
	Items              []createLine `json:"items"`
}

// Account is the backend user a token was issued to.
type Account struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string  `json:"access_token"`
	User        Account `json:"user"`
}

type profileResponse struct {
	User Account `json:"user"`
}

// Created identifies an invoice the backend has just persisted.
type Created struct {
	ID     int64  `json:"invoice_id"`
	Number string `json:"invoice_number"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type wireParty struct {
	ID    *int64 `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type wireItem struct {
	Product struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"product"`
	ProductID   int64               `json:"product_id"`
	ProductName string              `json:"product_name"`
	Color       string              `json:"color"`
	Quantity    decimal.NullDecimal `json:"quantity"`
	UnitPrice   decimal.NullDecimal `json:"unit_price"`
	TotalPrice  decimal.NullDecimal `json:"total_price"`
}

type wireInvoice struct {
	ID                 int64               `json:"id"`
	Number             string              `json:"invoice_number"`
	Customer           *wireParty          `json:"customer"`
	Supplier           *wireParty          `json:"supplier"`
	CustomerName       string              `json:"customer_name"`
	SupplierName       string              `json:"supplier_name"`
	PaymentType        string              `json:"payment_type"`
	TotalAmount        decimal.NullDecimal `json:"total_amount"`
	DiscountPercentage decimal.Decimal     `json:"discount_percentage"`
	Discount           decimal.Decimal     `json:"discount"`
	FinalAmount        decimal.NullDecimal `json:"final_amount"`
	Notes              string              `json:"notes"`
	CreatedAt          Timestamp           `json:"created_at"`
	InvoiceDate        Timestamp           `json:"invoice_date"`
	Items              []wireItem          `json:"items"`
}

func newCreateRequest(d invoice.DraftInvoice) createRequest {
	req := createRequest{
		PaymentType: string(d.PaymentType),
		Tax:         amount(d.Tax),
		Notes:       d.Notes,
		Items:       make([]createLine, 0, len(d.Items)),
	}
	if d.Kind == invoice.KindPurchase {
		req.SupplierID = d.PartyID
	} else {
		req.CustomerID = d.PartyID
	}
	value := amount(d.DiscountValue)
	if d.DiscountMode == invoice.DiscountPercentage {
		req.DiscountPercentage = &value
	} else {
		req.Discount = &value
	}
	for _, item := range d.Items {
		req.Items = append(req.Items, createLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: amount(item.UnitPrice),
			Color:     item.Color,
		})
	}
	return req
}

func (w wireInvoice) toDomain(kind invoice.Kind) invoice.PersistedInvoice {
	inv := invoice.PersistedInvoice{
		ID:                 w.ID,
		Number:             w.Number,
		CreatedAt:          w.CreatedAt.Time,
		PaymentType:        invoice.PaymentType(w.PaymentType),
		Subtotal:           w.TotalAmount,
		DiscountPercentage: w.DiscountPercentage,
		Discount:           w.Discount,
		FinalAmount:        w.FinalAmount,
		Notes:              w.Notes,
		Items:              make([]invoice.PersistedItem, 0, len(w.Items)),
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = w.InvoiceDate.Time
	}
	// Older records carry no final amount; they were saved without a discount.
	if !inv.FinalAmount.Valid {
		inv.FinalAmount = w.TotalAmount
	}

	party, name := w.Customer, w.CustomerName
	if kind == invoice.KindPurchase {
		party, name = w.Supplier, w.SupplierName
	}
	inv.PartyName = name
	if party != nil {
		if party.ID != nil {
			inv.Party = &invoice.Party{ID: *party.ID, Name: party.Name, Phone: party.Phone}
		} else if inv.PartyName == "" {
			// Cash sales carry only a typed-in name.
			inv.PartyName = party.Name
		}
	}

	for _, item := range w.Items {
		pi := invoice.PersistedItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Color:       item.Color,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
		}
		if item.Product.ID != 0 {
			pi.ProductID = item.Product.ID
		}
		if item.Product.Name != "" {
			pi.ProductName = item.Product.Name
		}
		inv.Items = append(inv.Items, pi)
	}
	return inv
}
