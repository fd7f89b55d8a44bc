package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/invoice-desk/internal/invoice"
	"github.com/odyssey-erp/invoice-desk/internal/invoice/render"
	"github.com/odyssey-erp/invoice-desk/internal/observability"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypePrintInvoice sends a persisted invoice to the print spool.
	TaskTypePrintInvoice = "invoice:print"
)

// PrintInvoicePayload identifies the invoice to print. Token is the backend
// token of the session that asked for the printout. It is never serialised:
// Client stashes it and the task carries TokenRef instead.
type PrintInvoicePayload struct {
	Kind        invoice.Kind `json:"kind"`
	InvoiceID   int64        `json:"invoice_id"`
	Token       string       `json:"-"`
	TokenRef    string       `json:"token_ref,omitempty"`
	RequestedBy int64        `json:"requested_by,omitempty"`
}

// NewPrintInvoiceTask constructs an Asynq task. Printing is fire-and-forget,
// so the task is never retried.
func NewPrintInvoiceTask(payload PrintInvoicePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypePrintInvoice, data, asynq.MaxRetry(0), asynq.Queue(QueueDefault)), nil
}

// InvoiceSource loads persisted invoices.
type InvoiceSource interface {
	GetInvoice(ctx context.Context, token string, kind invoice.Kind, id int64) (*invoice.PersistedInvoice, error)
}

// DocumentRenderer renders a persisted invoice into printable markup.
type DocumentRenderer interface {
	RenderHTML(inv *invoice.PersistedInvoice, kind invoice.Kind) (render.Document, string, error)
}

// Spooler hands finished markup to the printer.
type Spooler interface {
	Print(ctx context.Context, name, html string) (string, error)
}

// TokenSource resolves the token reference carried by a task.
type TokenSource interface {
	Take(ctx context.Context, ref string) (string, error)
}

// PrintJob processes TaskTypePrintInvoice tasks.
type PrintJob struct {
	invoices InvoiceSource
	tokens   TokenSource
	renderer DocumentRenderer
	spooler  Spooler
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewPrintJob constructs a PrintJob.
func NewPrintJob(invoices InvoiceSource, tokens TokenSource, renderer DocumentRenderer, spooler Spooler, metrics *observability.Metrics, logger *slog.Logger) *PrintJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PrintJob{invoices: invoices, tokens: tokens, renderer: renderer, spooler: spooler, metrics: metrics, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract. Placeholder documents are
// never sent to the printer.
func (j *PrintJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.invoices == nil || j.tokens == nil || j.renderer == nil || j.spooler == nil {
		return errors.New("print job not configured")
	}
	var payload PrintInvoicePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("print job: decode payload: %w", asynq.SkipRetry)
	}
	kind, ok := invoice.ParseKind(string(payload.Kind))
	if !ok || payload.InvoiceID <= 0 || payload.TokenRef == "" {
		return fmt.Errorf("print job: invalid payload: %w", asynq.SkipRetry)
	}
	log := j.logger.With(slog.String("kind", string(kind)), slog.Int64("invoice_id", payload.InvoiceID))

	token, err := j.tokens.Take(ctx, payload.TokenRef)
	if err != nil {
		j.metrics.PrintJob(string(kind), "failed")
		log.Error("print job: resolve token", slog.Any("error", err))
		return err
	}
	inv, err := j.invoices.GetInvoice(ctx, token, kind, payload.InvoiceID)
	if err != nil {
		j.metrics.PrintJob(string(kind), "failed")
		log.Error("print job: load invoice", slog.Any("error", err))
		return err
	}
	doc, html, err := j.renderer.RenderHTML(inv, kind)
	if err != nil {
		j.metrics.PrintJob(string(kind), "failed")
		return fmt.Errorf("print job: render: %w", err)
	}
	j.metrics.DocumentRendered(string(kind), string(doc.State))
	if !doc.Printable() {
		j.metrics.PrintJob(string(kind), "skipped")
		log.Warn("print job: document not printable", slog.String("state", string(doc.State)))
		return nil
	}

	path, err := j.spooler.Print(ctx, spoolName(kind, inv), html)
	if err != nil {
		j.metrics.PrintJob(string(kind), "failed")
		log.Error("print job: spool", slog.Any("error", err))
		return err
	}
	j.metrics.PrintJob(string(kind), "printed")
	log.Info("invoice printed", slog.String("number", inv.Number), slog.String("file", path))
	return nil
}

func spoolName(kind invoice.Kind, inv *invoice.PersistedInvoice) string {
	number := inv.Number
	if number == "" {
		number = strconv.FormatInt(inv.ID, 10)
	}
	return string(kind) + "-" + number
}
