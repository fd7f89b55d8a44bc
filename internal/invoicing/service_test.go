package invoicing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/invoice-desk/internal/drafts"
	"github.com/odyssey-erp/invoice-desk/internal/invoice"
	"github.com/odyssey-erp/invoice-desk/internal/invoice/render"
	"github.com/odyssey-erp/invoice-desk/internal/shared"
	"github.com/odyssey-erp/invoice-desk/internal/upstream"
	"github.com/odyssey-erp/invoice-desk/internal/upstream/upstreamtest"
	"github.com/odyssey-erp/invoice-desk/jobs"
)

const sessionID = "sess-1"

type stubPDF struct {
	calls int
}

func (s *stubPDF) RenderHTML(ctx context.Context, html string) ([]byte, error) {
	s.calls++
	return []byte("%PDF-1.7"), nil
}

type stubQueue struct {
	mu       sync.Mutex
	payloads []jobs.PrintInvoicePayload
	err      error
}

func (q *stubQueue) EnqueuePrintInvoice(ctx context.Context, payload jobs.PrintInvoicePayload) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.payloads = append(q.payloads, payload)
	return "job-1", nil
}

type fixture struct {
	svc     *Service
	cfg     ServiceConfig
	backend *upstreamtest.Backend
	redis   *miniredis.Miniredis
	queue   *stubQueue
	pdf     *stubPDF
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	backend := upstreamtest.New(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	renderer, err := render.NewRenderer(render.Config{Letterhead: render.Letterhead{Name: "متجر الاختبار"}})
	require.NoError(t, err)

	f := &fixture{backend: backend, redis: mr, queue: &stubQueue{}, pdf: &stubPDF{}}
	f.cfg = ServiceConfig{
		Backend:  upstream.NewClient(backend.URL, time.Second, logger),
		Drafts:   drafts.NewStore(client, time.Hour),
		Renderer: renderer,
		PDF:      f.pdf,
		Queue:    f.queue,
		Guard:    shared.NewIdempotencyStore(client, time.Minute),
		Logger:   logger,
	}
	f.svc = NewService(f.cfg)
	return f
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestSignInMapsAccount(t *testing.T) {
	f := newFixture(t)

	auth, err := f.svc.SignIn(context.Background(), "admin", "secret")
	require.NoError(t, err)
	assert.Equal(t, upstreamtest.Token, auth.Token)
	assert.Equal(t, shared.User{ID: 1, FullName: "مدير النظام", Role: shared.RoleAdmin}, auth.User)

	_, err = f.svc.SignIn(context.Background(), "admin", "wrong")
	var upErr *upstream.Error
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, 401, upErr.HTTPStatus())
}

func TestAdoptRejectsUnknownToken(t *testing.T) {
	f := newFixture(t)

	auth, err := f.svc.Adopt(context.Background(), upstreamtest.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(1), auth.User.ID)

	_, err = f.svc.Adopt(context.Background(), "stale")
	assert.Error(t, err)
}

func TestOptionsLoadsProductsAndPartiesByKind(t *testing.T) {
	f := newFixture(t)

	sales, err := f.svc.Options(context.Background(), upstreamtest.Token, invoice.KindSales)
	require.NoError(t, err)
	assert.Len(t, sales.Products, 2)
	require.Len(t, sales.Parties, 1)
	assert.Equal(t, "شركة النور", sales.Parties[0].Name)

	purchases, err := f.svc.Options(context.Background(), upstreamtest.Token, invoice.KindPurchase)
	require.NoError(t, err)
	require.Len(t, purchases.Parties, 1)
	assert.Equal(t, "مورد الشمال", purchases.Parties[0].Name)
}

func TestAddLineUsesProductPriceUnlessOverridden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.OpenDraft(ctx, sessionID, invoice.KindSales)
	require.NoError(t, err)

	v, err := f.svc.AddLine(ctx, upstreamtest.Token, sessionID, invoice.KindSales, invoice.LineCandidate{ProductID: 1, Quantity: 2})
	require.NoError(t, err)
	override := dec("450")
	v, err = f.svc.AddLine(ctx, upstreamtest.Token, sessionID, invoice.KindSales, invoice.LineCandidate{ProductID: 2, Quantity: 1, UnitPrice: &override, Color: "أحمر"})
	require.NoError(t, err)

	require.Len(t, v.Lines, 2)
	assert.Equal(t, "قميص", v.Lines[0].ProductName)
	assert.Equal(t, "2000", v.Lines[0].Total)
	assert.Equal(t, "450", v.Lines[1].Total)
	assert.True(t, dec("2450").Equal(v.Totals.Subtotal))

	purchase, err := f.svc.OpenDraft(ctx, sessionID, invoice.KindPurchase)
	require.NoError(t, err)
	assert.Empty(t, purchase.Lines, "drafts are kept per kind")
	purchase, err = f.svc.AddLine(ctx, upstreamtest.Token, sessionID, invoice.KindPurchase, invoice.LineCandidate{ProductID: 1, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, "700", purchase.Lines[0].Total)
}

func TestAddLineRejectsInvalidCandidateWithoutTouchingDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.OpenDraft(ctx, sessionID, invoice.KindSales)
	require.NoError(t, err)
	_, err = f.svc.AddLine(ctx, upstreamtest.Token, sessionID, invoice.KindSales, invoice.LineCandidate{ProductID: 1, Quantity: 1})
	require.NoError(t, err)

	_, err = f.svc.AddLine(ctx, upstreamtest.Token, sessionID, invoice.KindSales, invoice.LineCandidate{ProductID: 1, Quantity: 0})
	var verr *invoice.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, invoice.MsgQuantityInvalid, verr.Fields["quantity"])

	_, err = f.svc.AddLine(ctx, upstreamtest.Token, sessionID, invoice.KindSales, invoice.LineCandidate{ProductID: 99, Quantity: 1})
	require.ErrorAs(t, err, &verr)

	v, err := f.svc.GetDraft(ctx, sessionID, invoice.KindSales)
	require.NoError(t, err)
	assert.Len(t, v.Lines, 1)
}

func TestUpdateHeaderValidatesAdjustments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.OpenDraft(ctx, sessionID, invoice.KindSales)
	require.NoError(t, err)

	_, err = f.svc.UpdateHeader(ctx, sessionID, invoice.KindSales, HeaderUpdate{PaymentType: invoice.PaymentCash, DiscountValue: dec("120")})
	var verr *invoice.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, invoice.MsgPercentageRange, verr.Fields["discount_value"])

	v, err := f.svc.UpdateHeader(ctx, sessionID, invoice.KindSales, HeaderUpdate{
		PaymentType:   invoice.PaymentCredit,
		DiscountMode:  invoice.DiscountFlat,
		DiscountValue: dec("5000"),
		Notes:         "تسليم سريع",
	})
	require.NoError(t, err)
	assert.Equal(t, invoice.DiscountFlat, v.Draft.DiscountMode)
	assert.Equal(t, invoice.PaymentCredit, v.Draft.PaymentType)
	assert.True(t, v.Totals.Total.IsZero())
	assert.Equal(t, invoice.MsgTotalClamped, v.Warning)
}

func TestRemoveLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.OpenDraft(ctx, sessionID, invoice.KindSales)
	require.NoError(t, err)
	for _, id := range []int64{1, 2} {
		_, err = f.svc.AddLine(ctx, upstreamtest.Token, sessionID, invoice.KindSales, invoice.LineCandidate{ProductID: id, Quantity: 1})
		require.NoError(t, err)
	}

	v, err := f.svc.RemoveLine(ctx, sessionID, invoice.KindSales, 0)
	require.NoError(t, err)
	require.Len(t, v.Lines, 1)
	assert.Equal(t, int64(2), v.Lines[0].ProductID)

	_, err = f.svc.RemoveLine(ctx, sessionID, invoice.KindSales, 5)
	assert.ErrorIs(t, err, ErrLineNotFound)
}

func TestMissingDraft(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetDraft(context.Background(), sessionID, invoice.KindSales)
	assert.ErrorIs(t, err, drafts.ErrNotFound)
}

func TestSubmitPersistsAndDiscardsDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.OpenDraft(ctx, sessionID, invoice.KindSales)
	require.NoError(t, err)
	_, err = f.svc.AddLine(ctx, upstreamtest.Token, sessionID, invoice.KindSales, invoice.LineCandidate{ProductID: 1, Quantity: 2})
	require.NoError(t, err)
	customer := int64(3)
	_, err = f.svc.UpdateHeader(ctx, sessionID, invoice.KindSales, HeaderUpdate{PartyID: &customer, PaymentType: invoice.PaymentCash, DiscountValue: dec("10")})
	require.NoError(t, err)

	out, err := f.svc.Submit(ctx, upstreamtest.Token, sessionID, invoice.KindSales)
	require.NoError(t, err)
	assert.Equal(t, int64(101), out.Created.ID)
	assert.Equal(t, "S000101", out.Created.Number)
	require.NotNil(t, out.Invoice)
	assert.Equal(t, "شركة النور", out.Invoice.PartyDisplayName())
	assert.True(t, dec("1800").Equal(out.Invoice.FinalAmount.Decimal))
	assert.Empty(t, out.Warning)

	created := f.backend.Created()
	require.Len(t, created, 1)
	assert.Equal(t, float64(3), created[0]["customer_id"])
	assert.Equal(t, float64(10), created[0]["discount_percentage"])

	_, err = f.svc.GetDraft(ctx, sessionID, invoice.KindSales)
	assert.ErrorIs(t, err, drafts.ErrNotFound)
	assert.Empty(t, f.redis.Keys(), "draft and submit lock are gone")
}

func TestSubmitValidationKeepsDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.OpenDraft(ctx, sessionID, invoice.KindPurchase)
	require.NoError(t, err)
	_, err = f.svc.AddLine(ctx, upstreamtest.Token, sessionID, invoice.KindPurchase, invoice.LineCandidate{ProductID: 1, Quantity: 1})
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, upstreamtest.Token, sessionID, invoice.KindPurchase)
	var verr *invoice.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, invoice.MsgSupplierRequired, verr.Fields["party_id"])
	assert.Empty(t, f.backend.Created())

	_, err = f.svc.GetDraft(ctx, sessionID, invoice.KindPurchase)
	assert.NoError(t, err)
}

func TestSubmitRejectedByBackendKeepsDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.OpenDraft(ctx, sessionID, invoice.KindSales)
	require.NoError(t, err)
	_, err = f.svc.AddLine(ctx, upstreamtest.Token, sessionID, invoice.KindSales, invoice.LineCandidate{ProductID: 1, Quantity: 1})
	require.NoError(t, err)
	f.backend.RejectCreates("الكمية غير متوفرة")

	_, err = f.svc.Submit(ctx, upstreamtest.Token, sessionID, invoice.KindSales)
	var upErr *upstream.Error
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, "الكمية غير متوفرة", upErr.Message)

	v, err := f.svc.GetDraft(ctx, sessionID, invoice.KindSales)
	require.NoError(t, err)
	assert.Len(t, v.Lines, 1)
}

func TestSubmitIsSerialisedPerDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.OpenDraft(ctx, sessionID, invoice.KindSales)
	require.NoError(t, err)
	_, err = f.svc.AddLine(ctx, upstreamtest.Token, sessionID, invoice.KindSales, invoice.LineCandidate{ProductID: 1, Quantity: 1})
	require.NoError(t, err)
	f.backend.SlowCreates(300 * time.Millisecond)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Submit(ctx, upstreamtest.Token, sessionID, invoice.KindSales)
		}(i)
	}
	wg.Wait()

	inFlight := 0
	for _, err := range errs {
		if errors.Is(err, shared.ErrInFlight) {
			inFlight++
		}
	}
	assert.Equal(t, 1, inFlight)
	assert.Len(t, f.backend.Created(), 1)
}

// pausingStore parks the first Get until resume is closed.
type pausingStore struct {
	DraftStore
	once    sync.Once
	reached chan struct{}
	resume  chan struct{}
}

func (p *pausingStore) Get(ctx context.Context, sessionID string, kind invoice.Kind) (invoice.DraftInvoice, error) {
	draft, err := p.DraftStore.Get(ctx, sessionID, kind)
	p.once.Do(func() {
		close(p.reached)
		<-p.resume
	})
	return draft, err
}

func TestSubmitStaleReadDoesNotPersistTwice(t *testing.T) {
	cases := []struct {
		name       string
		expireLock bool
		want       error
	}{
		{name: "lock still held", want: shared.ErrInFlight},
		{name: "lock expired", expireLock: true, want: drafts.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			_, err := f.svc.OpenDraft(ctx, sessionID, invoice.KindSales)
			require.NoError(t, err)
			_, err = f.svc.AddLine(ctx, upstreamtest.Token, sessionID, invoice.KindSales, invoice.LineCandidate{ProductID: 1, Quantity: 1})
			require.NoError(t, err)

			store := &pausingStore{DraftStore: f.cfg.Drafts, reached: make(chan struct{}), resume: make(chan struct{})}
			cfg := f.cfg
			cfg.Drafts = store
			late := NewService(cfg)

			lateErr := make(chan error, 1)
			go func() {
				_, err := late.Submit(ctx, upstreamtest.Token, sessionID, invoice.KindSales)
				lateErr <- err
			}()
			<-store.reached

			_, err = f.svc.Submit(ctx, upstreamtest.Token, sessionID, invoice.KindSales)
			require.NoError(t, err)
			if tc.expireLock {
				f.redis.FastForward(2 * time.Minute)
			}
			close(store.resume)

			require.ErrorIs(t, <-lateErr, tc.want)
			assert.Len(t, f.backend.Created(), 1)
		})
	}
}

func TestSubmitReleasesLockAfterBackendRejection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.OpenDraft(ctx, sessionID, invoice.KindSales)
	require.NoError(t, err)
	_, err = f.svc.AddLine(ctx, upstreamtest.Token, sessionID, invoice.KindSales, invoice.LineCandidate{ProductID: 1, Quantity: 1})
	require.NoError(t, err)
	f.backend.RejectCreates("الكمية غير متوفرة")

	_, err = f.svc.Submit(ctx, upstreamtest.Token, sessionID, invoice.KindSales)
	require.Error(t, err)
	_, err = f.svc.Submit(ctx, upstreamtest.Token, sessionID, invoice.KindSales)
	require.Error(t, err)
	assert.NotErrorIs(t, err, shared.ErrInFlight, "a rejected submit can be retried")
}

func TestSubmitReportsReloadFailureAsWarning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.OpenDraft(ctx, sessionID, invoice.KindSales)
	require.NoError(t, err)
	_, err = f.svc.AddLine(ctx, upstreamtest.Token, sessionID, invoice.KindSales, invoice.LineCandidate{ProductID: 2, Quantity: 3})
	require.NoError(t, err)
	f.backend.FailInvoiceReads()

	out, err := f.svc.Submit(ctx, upstreamtest.Token, sessionID, invoice.KindSales)
	require.NoError(t, err)
	assert.Equal(t, int64(101), out.Created.ID)
	assert.Nil(t, out.Invoice)
	assert.Equal(t, upstream.MsgLoadFailed, out.Warning)
}

func seedInvoice(f *fixture, items []any) {
	f.backend.Seed("sales", 12, map[string]any{
		"invoice_number": "S000012",
		"customer":       map[string]any{"id": 3, "name": "شركة النور", "phone": "07700000000"},
		"payment_type":   "cash",
		"total_amount":   2500.0, "discount_percentage": 0.0, "discount": 0.0, "final_amount": 2500.0,
		"created_at": "2025-03-14T16:05:09",
		"items":      items,
	})
}

func TestDocumentRendersPersistedInvoice(t *testing.T) {
	f := newFixture(t)
	seedInvoice(f, []any{
		map[string]any{"product": map[string]any{"id": 1, "name": "قميص"}, "quantity": 2.0, "unit_price": 1000.0, "total_price": 2000.0},
		map[string]any{"product": map[string]any{"id": 2, "name": "وشاح"}, "quantity": 1.0, "unit_price": 500.0, "total_price": 500.0},
	})

	doc, html, err := f.svc.Document(context.Background(), upstreamtest.Token, invoice.KindSales, 12)
	require.NoError(t, err)
	assert.Equal(t, render.StateReady, doc.State)
	assert.Len(t, doc.Rows, 8)
	assert.Contains(t, html, "S000012")
	assert.Contains(t, html, "شركة النور")

	_, pdf, err := f.svc.PDF(context.Background(), upstreamtest.Token, invoice.KindSales, 12)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), pdf)

	_, _, err = f.svc.Document(context.Background(), upstreamtest.Token, invoice.KindSales, 404)
	var upErr *upstream.Error
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, 404, upErr.HTTPStatus())
}

func TestPlaceholderDocumentsAreNotPrinted(t *testing.T) {
	f := newFixture(t)
	seedInvoice(f, []any{})

	doc, pdf, err := f.svc.PDF(context.Background(), upstreamtest.Token, invoice.KindSales, 12)
	require.NoError(t, err)
	assert.Equal(t, render.StateEmpty, doc.State)
	assert.Nil(t, pdf)
	assert.Zero(t, f.pdf.calls)

	doc, jobID, err := f.svc.QueuePrint(context.Background(), upstreamtest.Token, nil, invoice.KindSales, 12)
	require.NoError(t, err)
	assert.False(t, doc.Printable())
	assert.Empty(t, jobID)
	assert.Empty(t, f.queue.payloads)
}

func TestQueuePrintEnqueuesReadyDocuments(t *testing.T) {
	f := newFixture(t)
	seedInvoice(f, []any{
		map[string]any{"product": map[string]any{"id": 1, "name": "قميص"}, "quantity": 1.0, "unit_price": 2500.0, "total_price": 2500.0},
	})

	user := &shared.User{ID: 9, FullName: "كاشير", Role: shared.RoleUser}
	_, jobID, err := f.svc.QueuePrint(context.Background(), upstreamtest.Token, user, invoice.KindSales, 12)
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)
	require.Len(t, f.queue.payloads, 1)
	assert.Equal(t, jobs.PrintInvoicePayload{Kind: invoice.KindSales, InvoiceID: 12, Token: upstreamtest.Token, RequestedBy: 9}, f.queue.payloads[0])
}
