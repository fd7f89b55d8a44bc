// Package invoicing drives the invoice desk: composing drafts, submitting them
// to the backend and printing the persisted result.
package invoicing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/invoice-desk/internal/drafts"
	"github.com/odyssey-erp/invoice-desk/internal/invoice"
	"github.com/odyssey-erp/invoice-desk/internal/invoice/render"
	"github.com/odyssey-erp/invoice-desk/internal/observability"
	"github.com/odyssey-erp/invoice-desk/internal/shared"
	"github.com/odyssey-erp/invoice-desk/internal/upstream"
	"github.com/odyssey-erp/invoice-desk/jobs"
)

// ErrLineNotFound is returned when a line index does not exist on the draft.
var ErrLineNotFound = errors.New("invoicing: line not found")

// Backend is the subset of the upstream client the desk uses.
type Backend interface {
	Login(ctx context.Context, username, password string) (string, upstream.Account, error)
	Profile(ctx context.Context, token string) (upstream.Account, error)
	ListProducts(ctx context.Context, token string) ([]invoice.Product, error)
	ListParties(ctx context.Context, token string, kind invoice.Kind) ([]invoice.Party, error)
	CreateInvoice(ctx context.Context, token string, draft invoice.DraftInvoice) (upstream.Created, error)
	GetInvoice(ctx context.Context, token string, kind invoice.Kind, id int64) (*invoice.PersistedInvoice, error)
}

// DraftStore keeps one draft per session and kind.
type DraftStore interface {
	Open(ctx context.Context, sessionID string, kind invoice.Kind) (invoice.DraftInvoice, error)
	Get(ctx context.Context, sessionID string, kind invoice.Kind) (invoice.DraftInvoice, error)
	Save(ctx context.Context, sessionID string, draft invoice.DraftInvoice) error
	Discard(ctx context.Context, sessionID string, kind invoice.Kind) error
}

// PDFRenderer converts HTML into PDF bytes.
type PDFRenderer interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// PrintQueue accepts fire-and-forget print jobs.
type PrintQueue interface {
	EnqueuePrintInvoice(ctx context.Context, payload jobs.PrintInvoicePayload) (string, error)
}

// SubmitGuard serialises submissions of the same draft.
type SubmitGuard interface {
	Claim(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
}

// ServiceConfig wires the service dependencies.
type ServiceConfig struct {
	Backend  Backend
	Drafts   DraftStore
	Renderer *render.Renderer
	PDF      PDFRenderer
	Queue    PrintQueue
	Guard    SubmitGuard
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// Service implements the desk operations.
type Service struct {
	backend  Backend
	drafts   DraftStore
	renderer *render.Renderer
	pdf      PDFRenderer
	queue    PrintQueue
	guard    SubmitGuard
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewService constructs the service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		backend:  cfg.Backend,
		drafts:   cfg.Drafts,
		renderer: cfg.Renderer,
		pdf:      cfg.PDF,
		queue:    cfg.Queue,
		guard:    cfg.Guard,
		metrics:  cfg.Metrics,
		logger:   logger,
	}
}

// Options are the choices offered while composing a draft.
type Options struct {
	Products []invoice.Product `json:"products"`
	Parties  []invoice.Party   `json:"parties"`
}

// DraftView is a draft together with its derived totals.
type DraftView struct {
	Draft   invoice.DraftInvoice `json:"draft"`
	Lines   []LineView           `json:"lines"`
	Totals  invoice.Totals       `json:"totals"`
	Warning string               `json:"warning,omitempty"`
}

// LineView is one draft line with its computed total.
type LineView struct {
	invoice.LineItem
	Total string `json:"total"`
}

// HeaderUpdate replaces the editable header of a draft.
type HeaderUpdate struct {
	PartyID       *int64               `json:"party_id" validate:"omitempty,gt=0"`
	PaymentType   invoice.PaymentType  `json:"payment_type" validate:"required,oneof=cash credit"`
	DiscountMode  invoice.DiscountMode `json:"discount_mode" validate:"omitempty,oneof=percentage flat"`
	DiscountValue decimal.Decimal      `json:"discount_value"`
	Tax           decimal.Decimal      `json:"tax"`
	Notes         string               `json:"notes" validate:"max=500"`
}

// Submitted reports a persisted invoice. Invoice is nil when the backend
// accepted the draft but the authoritative record could not be reloaded.
type Submitted struct {
	Created upstream.Created          `json:"created"`
	Invoice *invoice.PersistedInvoice `json:"invoice,omitempty"`
	Warning string                    `json:"warning,omitempty"`
}

// Authenticated is the outcome of a session bootstrap.
type Authenticated struct {
	Token string
	User  shared.User
}

// SignIn exchanges credentials for a backend token.
func (s *Service) SignIn(ctx context.Context, username, password string) (Authenticated, error) {
	token, account, err := s.backend.Login(ctx, username, password)
	if err != nil {
		return Authenticated{}, err
	}
	return Authenticated{Token: token, User: userFromAccount(account)}, nil
}

// Adopt verifies an externally issued token and resolves its user.
func (s *Service) Adopt(ctx context.Context, token string) (Authenticated, error) {
	account, err := s.backend.Profile(ctx, token)
	if err != nil {
		return Authenticated{}, err
	}
	return Authenticated{Token: token, User: userFromAccount(account)}, nil
}

func userFromAccount(a upstream.Account) shared.User {
	role := shared.RoleUser
	if a.Role == shared.RoleAdmin {
		role = shared.RoleAdmin
	}
	name := a.FullName
	if name == "" {
		name = a.Username
	}
	return shared.User{ID: a.ID, FullName: name, Role: role}
}

// Options loads products and parties concurrently.
func (s *Service) Options(ctx context.Context, token string, kind invoice.Kind) (Options, error) {
	var out Options
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		products, err := s.backend.ListProducts(gctx, token)
		if err != nil {
			return err
		}
		out.Products = products
		return nil
	})
	g.Go(func() error {
		parties, err := s.backend.ListParties(gctx, token, kind)
		if err != nil {
			return err
		}
		out.Parties = parties
		return nil
	})
	if err := g.Wait(); err != nil {
		return Options{}, err
	}
	if out.Products == nil {
		out.Products = []invoice.Product{}
	}
	if out.Parties == nil {
		out.Parties = []invoice.Party{}
	}
	return out, nil
}

// OpenDraft returns the session's draft, creating it when needed.
func (s *Service) OpenDraft(ctx context.Context, sessionID string, kind invoice.Kind) (DraftView, error) {
	draft, err := s.drafts.Open(ctx, sessionID, kind)
	if err != nil {
		return DraftView{}, err
	}
	return view(draft)
}

// GetDraft returns the session's existing draft.
func (s *Service) GetDraft(ctx context.Context, sessionID string, kind invoice.Kind) (DraftView, error) {
	draft, err := s.drafts.Get(ctx, sessionID, kind)
	if err != nil {
		return DraftView{}, err
	}
	return view(draft)
}

// UpdateHeader replaces party, payment, discount, tax and notes. Invalid
// adjustments leave the stored draft untouched.
func (s *Service) UpdateHeader(ctx context.Context, sessionID string, kind invoice.Kind, upd HeaderUpdate) (DraftView, error) {
	draft, err := s.drafts.Get(ctx, sessionID, kind)
	if err != nil {
		return DraftView{}, err
	}
	mode := upd.DiscountMode
	if mode == "" {
		mode = draft.DiscountMode
	}
	if err := invoice.ValidateAdjustments(mode, upd.DiscountValue, upd.Tax); err != nil {
		return DraftView{}, err
	}
	draft.PartyID = upd.PartyID
	draft.PaymentType = upd.PaymentType
	draft.DiscountMode = mode
	draft.DiscountValue = upd.DiscountValue
	draft.Tax = upd.Tax
	draft.Notes = upd.Notes
	if err := s.drafts.Save(ctx, sessionID, draft); err != nil {
		return DraftView{}, err
	}
	return view(draft)
}

// AddLine appends a product line to the session's draft.
func (s *Service) AddLine(ctx context.Context, token, sessionID string, kind invoice.Kind, c invoice.LineCandidate) (DraftView, error) {
	if err := invoice.ValidateCandidate(c); err != nil {
		return DraftView{}, err
	}
	draft, err := s.drafts.Get(ctx, sessionID, kind)
	if err != nil {
		return DraftView{}, err
	}
	products, err := s.backend.ListProducts(ctx, token)
	if err != nil {
		return DraftView{}, err
	}
	var product *invoice.Product
	for i := range products {
		if products[i].ID == c.ProductID {
			product = &products[i]
			break
		}
	}
	items, err := invoice.AddLine(draft.Items, c, product, kind)
	if err != nil {
		return DraftView{}, err
	}
	draft.Items = items
	if err := s.drafts.Save(ctx, sessionID, draft); err != nil {
		return DraftView{}, err
	}
	return view(draft)
}

// RemoveLine drops the line at index.
func (s *Service) RemoveLine(ctx context.Context, sessionID string, kind invoice.Kind, index int) (DraftView, error) {
	draft, err := s.drafts.Get(ctx, sessionID, kind)
	if err != nil {
		return DraftView{}, err
	}
	if index < 0 || index >= len(draft.Items) {
		return DraftView{}, ErrLineNotFound
	}
	draft.Items = invoice.RemoveLine(draft.Items, index)
	if err := s.drafts.Save(ctx, sessionID, draft); err != nil {
		return DraftView{}, err
	}
	return view(draft)
}

// DiscardDraft cancels the session's draft.
func (s *Service) DiscardDraft(ctx context.Context, sessionID string, kind invoice.Kind) error {
	return s.drafts.Discard(ctx, sessionID, kind)
}

// Submit persists the draft through the backend and discards it locally once
// the backend accepted it. The draft lock is held until SUBMIT_LOCK_TTL after
// a successful create so a racing submit of the same draft cannot replay it.
func (s *Service) Submit(ctx context.Context, token, sessionID string, kind invoice.Kind) (Submitted, error) {
	draft, err := s.drafts.Get(ctx, sessionID, kind)
	if err != nil {
		return Submitted{}, err
	}
	if err := invoice.ValidateForSubmit(draft); err != nil {
		s.metrics.Submission(string(kind), "invalid")
		return Submitted{}, err
	}

	key := shared.SubmitLockKey(draft.ID)
	if err := s.guard.Claim(ctx, key); err != nil {
		return Submitted{}, err
	}
	persisted := false
	defer func() {
		if persisted {
			return
		}
		if err := s.guard.Release(context.WithoutCancel(ctx), key); err != nil {
			s.logger.Warn("release submit lock", slog.String("draft_id", draft.ID), slog.Any("error", err))
		}
	}()

	// Another submit may have persisted and discarded the draft between the
	// first read and the claim.
	current, err := s.drafts.Get(ctx, sessionID, kind)
	if err != nil {
		return Submitted{}, err
	}
	if current.ID != draft.ID {
		return Submitted{}, drafts.ErrNotFound
	}
	draft = current
	if err := invoice.ValidateForSubmit(draft); err != nil {
		s.metrics.Submission(string(kind), "invalid")
		return Submitted{}, err
	}

	created, err := s.backend.CreateInvoice(ctx, token, draft)
	if err != nil {
		s.metrics.Submission(string(kind), "failed")
		return Submitted{}, err
	}
	persisted = true
	s.metrics.Submission(string(kind), "ok")
	s.logger.Info("invoice submitted",
		slog.String("kind", string(kind)),
		slog.Int64("invoice_id", created.ID),
		slog.String("number", created.Number))

	if err := s.drafts.Discard(ctx, sessionID, kind); err != nil {
		s.logger.Warn("discard submitted draft", slog.String("draft_id", draft.ID), slog.Any("error", err))
	}

	out := Submitted{Created: created}
	inv, err := s.backend.GetInvoice(ctx, token, kind, created.ID)
	if err != nil {
		s.logger.Warn("reload submitted invoice", slog.Int64("invoice_id", created.ID), slog.Any("error", err))
		var upErr *upstream.Error
		if errors.As(err, &upErr) {
			out.Warning = upErr.Message
		} else {
			out.Warning = upstream.MsgLoadFailed
		}
		return out, nil
	}
	out.Invoice = inv
	return out, nil
}

// Document loads a persisted invoice and renders its printable markup.
func (s *Service) Document(ctx context.Context, token string, kind invoice.Kind, id int64) (render.Document, string, error) {
	inv, err := s.backend.GetInvoice(ctx, token, kind, id)
	if err != nil {
		return render.Document{}, "", err
	}
	doc, html, err := s.renderer.RenderHTML(inv, kind)
	if err != nil {
		return doc, "", err
	}
	s.metrics.DocumentRendered(string(kind), string(doc.State))
	return doc, html, nil
}

// PDF renders the printable document to PDF. Placeholder documents are
// returned without a PDF.
func (s *Service) PDF(ctx context.Context, token string, kind invoice.Kind, id int64) (render.Document, []byte, error) {
	doc, html, err := s.Document(ctx, token, kind, id)
	if err != nil || !doc.Printable() {
		return doc, nil, err
	}
	pdf, err := s.pdf.RenderHTML(ctx, html)
	if err != nil {
		return doc, nil, fmt.Errorf("invoicing: pdf: %w", err)
	}
	return doc, pdf, nil
}

// QueuePrint dispatches a printout without waiting for it. Placeholder
// documents are returned instead of being dispatched.
func (s *Service) QueuePrint(ctx context.Context, token string, user *shared.User, kind invoice.Kind, id int64) (render.Document, string, error) {
	inv, err := s.backend.GetInvoice(ctx, token, kind, id)
	if err != nil {
		return render.Document{}, "", err
	}
	doc := s.renderer.Build(inv, kind)
	if !doc.Printable() {
		s.metrics.PrintJob(string(kind), "skipped")
		return doc, "", nil
	}
	payload := jobs.PrintInvoicePayload{Kind: kind, InvoiceID: id, Token: token}
	if user != nil {
		payload.RequestedBy = user.ID
	}
	jobID, err := s.queue.EnqueuePrintInvoice(ctx, payload)
	if err != nil {
		s.metrics.PrintJob(string(kind), "failed")
		return doc, "", fmt.Errorf("invoicing: enqueue print: %w", err)
	}
	s.metrics.PrintJob(string(kind), "enqueued")
	return doc, jobID, nil
}

func view(draft invoice.DraftInvoice) (DraftView, error) {
	totals, err := invoice.Compute(draft)
	if err != nil {
		return DraftView{}, err
	}
	lines := make([]LineView, 0, len(draft.Items))
	for _, item := range draft.Items {
		lines = append(lines, LineView{LineItem: item, Total: item.Total().String()})
	}
	return DraftView{Draft: draft, Lines: lines, Totals: totals, Warning: totals.Warning()}, nil
}
