// Package render turns persisted invoices into fixed-layout printable documents.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/odyssey-erp/invoice-desk/internal/invoice"
	"github.com/odyssey-erp/invoice-desk/web"
)

const (
	// DefaultMinRows keeps the printed item table at a constant height.
	DefaultMinRows = 8

	templateName = "print/invoice.html"

	currencySymbol = "د.ع"
	currencyName   = "دينار عراقي"

	MsgNothingToPrint = "لا توجد فاتورة للطباعة"
	MsgIncomplete     = "بيانات الفاتورة غير مكتملة"
)

// State tells whether a document can be printed.
type State string

const (
	StateReady      State = "ready"
	StateEmpty      State = "empty"
	StateIncomplete State = "incomplete"
)

// Letterhead is the business header printed on every document.
type Letterhead struct {
	Name    string
	Details []string
}

// Config tunes the fixed layout.
type Config struct {
	MinRows    int
	Letterhead Letterhead
	// Location is the zone dates and times are printed in. Defaults to UTC.
	Location *time.Location
}

// Row is one line of the item table. Blank rows pad the table.
type Row struct {
	Position  string
	Name      string
	Color     string
	Quantity  string
	UnitPrice string
	Total     string
	Blank     bool
}

// Document is the fully formatted view of one invoice.
type Document struct {
	State         State
	Message       string
	Kind          invoice.Kind
	Letterhead    Letterhead
	Title         string
	Number        string
	Date          string
	PaymentLabel  string
	PartyLabel    string
	PartyName     string
	PartyPhone    string
	Rows          []Row
	Subtotal      string
	Discount      string
	ShowDiscount  bool
	Final         string
	Currency      string
	CurrencyName  string
	AmountInWords string
	FooterTime    string
	Notes         string
}

// Printable reports whether the document carries invoice content.
func (d Document) Printable() bool {
	return d.State == StateReady
}

// FilledRows counts the rows that hold items.
func (d Document) FilledRows() int {
	n := 0
	for _, row := range d.Rows {
		if !row.Blank {
			n++
		}
	}
	return n
}

// Renderer builds and executes invoice documents.
type Renderer struct {
	tpl *template.Template
	cfg Config
}

// NewRenderer parses the embedded print template.
func NewRenderer(cfg Config) (*Renderer, error) {
	if cfg.MinRows <= 0 {
		cfg.MinRows = DefaultMinRows
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	tpl, err := template.ParseFS(web.Templates, "templates/print/*.html")
	if err != nil {
		return nil, fmt.Errorf("render: parse templates: %w", err)
	}
	return &Renderer{tpl: tpl, cfg: cfg}, nil
}

// MinRows exposes the configured table height.
func (r *Renderer) MinRows() int {
	return r.cfg.MinRows
}

// Build formats inv for printing. A nil invoice or one without items yields
// an empty-state document; missing totals or item values yield an incomplete one.
func (r *Renderer) Build(inv *invoice.PersistedInvoice, kind invoice.Kind) Document {
	doc := Document{
		Kind:         kind,
		Letterhead:   r.cfg.Letterhead,
		Title:        kind.Title(),
		Currency:     currencySymbol,
		CurrencyName: currencyName,
	}
	if inv == nil || len(inv.Items) == 0 {
		doc.State = StateEmpty
		doc.Message = MsgNothingToPrint
		return doc
	}
	if !inv.Complete() {
		doc.State = StateIncomplete
		doc.Message = MsgIncomplete
		doc.Number = inv.Number
		return doc
	}

	created := inv.CreatedAt.In(r.cfg.Location)
	doc.State = StateReady
	doc.Number = inv.Number
	doc.Date = created.Format("02/01/2006")
	doc.FooterTime = created.Format("3:04:05 PM")
	doc.PaymentLabel = inv.PaymentType.Label()
	doc.PartyLabel = kind.PartyLabel()
	doc.PartyName = norm.NFC.String(inv.PartyDisplayName())
	doc.PartyPhone = inv.PartyPhone()
	doc.Notes = inv.Notes

	rows := len(inv.Items)
	if rows < r.cfg.MinRows {
		rows = r.cfg.MinRows
	}
	doc.Rows = make([]Row, 0, rows)
	for i, item := range inv.Items {
		doc.Rows = append(doc.Rows, Row{
			Position:  strconv.Itoa(i + 1),
			Name:      norm.NFC.String(item.ProductName),
			Color:     norm.NFC.String(item.Color),
			Quantity:  item.Quantity.Decimal.String(),
			UnitPrice: formatAmount(item.UnitPrice.Decimal),
			Total:     formatAmount(item.TotalPrice.Decimal),
		})
	}
	for len(doc.Rows) < rows {
		doc.Rows = append(doc.Rows, Row{Blank: true})
	}

	doc.Subtotal = formatAmount(inv.Subtotal.Decimal)
	if inv.Discount.IsPositive() {
		doc.ShowDiscount = true
		doc.Discount = formatAmount(inv.Discount)
	}
	doc.Final = formatAmount(inv.FinalAmount.Decimal)
	doc.AmountInWords = invoice.AmountInWords(inv.FinalAmount.Decimal.Floor().IntPart())
	return doc
}

// Render writes the document markup to w.
func (r *Renderer) Render(w io.Writer, doc Document) error {
	if err := r.tpl.ExecuteTemplate(w, templateName, doc); err != nil {
		return fmt.Errorf("render: execute %s: %w", templateName, err)
	}
	return nil
}

// RenderHTML builds and renders inv in one step.
func (r *Renderer) RenderHTML(inv *invoice.PersistedInvoice, kind invoice.Kind) (Document, string, error) {
	doc := r.Build(inv, kind)
	var buf bytes.Buffer
	if err := r.Render(&buf, doc); err != nil {
		return doc, "", err
	}
	return doc, buf.String(), nil
}

// formatAmount prints a currency amount without fractional digits.
func formatAmount(d decimal.Decimal) string {
	return d.StringFixed(0)
}
