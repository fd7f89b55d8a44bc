package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/invoice-desk/internal/invoice"
	"github.com/odyssey-erp/invoice-desk/internal/invoice/render"
	"github.com/odyssey-erp/invoice-desk/internal/observability"
)

type stubInvoices struct {
	inv   *invoice.PersistedInvoice
	err   error
	token string
}

func (s *stubInvoices) GetInvoice(ctx context.Context, token string, kind invoice.Kind, id int64) (*invoice.PersistedInvoice, error) {
	s.token = token
	return s.inv, s.err
}

type stubTokens struct {
	tokens map[string]string
	err    error
}

func (s *stubTokens) Take(ctx context.Context, ref string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	token, ok := s.tokens[ref]
	if !ok {
		return "", ErrTokenGone
	}
	delete(s.tokens, ref)
	return token, nil
}

type stubSpooler struct {
	names []string
	err   error
}

func (s *stubSpooler) Print(ctx context.Context, name, html string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.names = append(s.names, name)
	return "/spool/" + name + ".pdf", nil
}

func printable() *invoice.PersistedInvoice {
	price := decimal.NewNullDecimal(decimal.NewFromInt(1000))
	return &invoice.PersistedInvoice{
		ID:          12,
		Number:      "S000012",
		CreatedAt:   time.Date(2025, 3, 14, 16, 5, 9, 0, time.UTC),
		PaymentType: invoice.PaymentCash,
		Items: []invoice.PersistedItem{
			{ProductID: 1, ProductName: "قميص", Quantity: decimal.NewNullDecimal(decimal.NewFromInt(1)), UnitPrice: price, TotalPrice: price},
		},
		Subtotal:    price,
		FinalAmount: price,
	}
}

func newTestJob(t *testing.T, invoices InvoiceSource, spooler Spooler) *PrintJob {
	t.Helper()
	renderer, err := render.NewRenderer(render.Config{})
	require.NoError(t, err)
	tokens := &stubTokens{tokens: map[string]string{"ref-1": "tok"}}
	return NewPrintJob(invoices, tokens, renderer, spooler, observability.NewMetrics(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func task(t *testing.T, payload PrintInvoicePayload) *asynq.Task {
	t.Helper()
	tk, err := NewPrintInvoiceTask(payload)
	require.NoError(t, err)
	return tk
}

func TestPrintJobSpoolsReadyDocument(t *testing.T) {
	invoices := &stubInvoices{inv: printable()}
	spooler := &stubSpooler{}
	job := newTestJob(t, invoices, spooler)

	err := job.Handle(context.Background(), task(t, PrintInvoicePayload{Kind: invoice.KindSales, InvoiceID: 12, TokenRef: "ref-1"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"sales-S000012"}, spooler.names)
	assert.Equal(t, "tok", invoices.token)
}

func TestPrintJobSkipsPlaceholderDocuments(t *testing.T) {
	inv := printable()
	inv.Items[0].UnitPrice = decimal.NullDecimal{}
	spooler := &stubSpooler{}
	job := newTestJob(t, &stubInvoices{inv: inv}, spooler)

	err := job.Handle(context.Background(), task(t, PrintInvoicePayload{Kind: invoice.KindSales, InvoiceID: 12, TokenRef: "ref-1"}))
	require.NoError(t, err)
	assert.Empty(t, spooler.names)
}

func TestPrintJobSurfacesFailures(t *testing.T) {
	boom := errors.New("gotenberg down")
	job := newTestJob(t, &stubInvoices{inv: printable()}, &stubSpooler{err: boom})
	err := job.Handle(context.Background(), task(t, PrintInvoicePayload{Kind: invoice.KindPurchase, InvoiceID: 12, TokenRef: "ref-1"}))
	assert.ErrorIs(t, err, boom)

	job = newTestJob(t, &stubInvoices{err: boom}, &stubSpooler{})
	err = job.Handle(context.Background(), task(t, PrintInvoicePayload{Kind: invoice.KindSales, InvoiceID: 12, TokenRef: "ref-1"}))
	assert.ErrorIs(t, err, boom)
}

func TestPrintJobRejectsBadPayload(t *testing.T) {
	job := newTestJob(t, &stubInvoices{inv: printable()}, &stubSpooler{})

	err := job.Handle(context.Background(), asynq.NewTask(TaskTypePrintInvoice, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), task(t, PrintInvoicePayload{Kind: "refund", InvoiceID: 1, TokenRef: "ref-1"}))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), task(t, PrintInvoicePayload{Kind: invoice.KindSales, InvoiceID: 1}))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestPrintJobUsesTokenOnce(t *testing.T) {
	invoices := &stubInvoices{inv: printable()}
	spooler := &stubSpooler{}
	job := newTestJob(t, invoices, spooler)
	payload := PrintInvoicePayload{Kind: invoice.KindSales, InvoiceID: 12, TokenRef: "ref-1"}

	require.NoError(t, job.Handle(context.Background(), task(t, payload)))
	err := job.Handle(context.Background(), task(t, payload))
	assert.ErrorIs(t, err, ErrTokenGone)
	assert.Len(t, spooler.names, 1)
}

func TestNewPrintInvoiceTask(t *testing.T) {
	tk := task(t, PrintInvoicePayload{Kind: invoice.KindPurchase, InvoiceID: 3, Token: "secret-token", TokenRef: "ref-1", RequestedBy: 9})
	assert.Equal(t, TaskTypePrintInvoice, tk.Type())
	assert.NotContains(t, string(tk.Payload()), "secret-token")
	var decoded PrintInvoicePayload
	require.NoError(t, json.Unmarshal(tk.Payload(), &decoded))
	assert.Equal(t, int64(3), decoded.InvoiceID)
	assert.Equal(t, "ref-1", decoded.TokenRef)
	assert.Equal(t, int64(9), decoded.RequestedBy)
}

func TestClientKeepsTokenOutOfQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	vault := NewTokenVault(rdb, time.Minute)

	opts := asynq.RedisClientOpt{Addr: mr.Addr()}
	client, err := NewClient(opts, vault)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	inspector := asynq.NewInspector(opts)
	t.Cleanup(func() { _ = inspector.Close() })

	id, err := client.EnqueuePrintInvoice(context.Background(), PrintInvoicePayload{Kind: invoice.KindSales, InvoiceID: 12, Token: "secret-token"})
	require.NoError(t, err)

	info, err := inspector.GetTaskInfo(QueueDefault, id)
	require.NoError(t, err)
	assert.Equal(t, 0, info.MaxRetry)
	assert.NotContains(t, string(info.Payload), "secret-token")
	var queued PrintInvoicePayload
	require.NoError(t, json.Unmarshal(info.Payload, &queued))
	require.NotEmpty(t, queued.TokenRef)

	token, err := vault.Take(context.Background(), queued.TokenRef)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", token)
	_, err = vault.Take(context.Background(), queued.TokenRef)
	assert.ErrorIs(t, err, ErrTokenGone)

	_, err = client.EnqueuePrintInvoice(context.Background(), PrintInvoicePayload{Kind: invoice.KindSales, InvoiceID: 12})
	assert.Error(t, err)
}

func TestTokenVaultExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	vault := NewTokenVault(rdb, time.Minute)

	ref, err := vault.Stash(context.Background(), "tok")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = vault.Take(context.Background(), ref)
	assert.ErrorIs(t, err, ErrTokenGone)
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, slog.Default()).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queue":"default","pending":0,"archived":0}`, rec.Body.String())
}

func TestNewWorkerRequiresHandlers(t *testing.T) {
	_, err := NewWorker(WorkerConfig{RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"}})
	assert.Error(t, err)
}

func TestRunMetricsTrackOutcomes(t *testing.T) {
	metrics := observability.NewMetrics()
	runs := NewRunMetrics(metrics.Registerer())

	ok := runs.instrument(TaskTypePrintInvoice, func(ctx context.Context, task *asynq.Task) error { return nil })
	failing := runs.instrument(TaskTypePrintInvoice, func(ctx context.Context, task *asynq.Task) error { return errors.New("spool full") })

	require.NoError(t, ok(context.Background(), asynq.NewTask(TaskTypePrintInvoice, nil)))
	require.EqualError(t, failing(context.Background(), asynq.NewTask(TaskTypePrintInvoice, nil)), "spool full")

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `invoicedesk_jobs_total{job="invoice:print",status="success"} 1`)
	assert.Contains(t, body, `invoicedesk_jobs_total{job="invoice:print",status="failure"} 1`)
	assert.Contains(t, body, "invoicedesk_job_duration_seconds")
}
