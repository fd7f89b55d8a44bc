package invoicing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/invoice-desk/internal/drafts"
	"github.com/odyssey-erp/invoice-desk/internal/invoice"
	"github.com/odyssey-erp/invoice-desk/internal/invoice/render"
	"github.com/odyssey-erp/invoice-desk/internal/platform/httpx"
	"github.com/odyssey-erp/invoice-desk/internal/shared"
	"github.com/odyssey-erp/invoice-desk/internal/upstream"
)

// Messages returned by the desk endpoints.
const (
	MsgNoDraft        = "لا توجد فاتورة مفتوحة"
	MsgLineNotFound   = "البند غير موجود"
	MsgSubmitInFlight = "جاري حفظ الفاتورة"
	MsgInvalidKind    = "نوع الفاتورة غير صالح"
	MsgInvalidID      = "رقم الفاتورة غير صالح"
	MsgCredentials    = "يجب إدخال اسم المستخدم وكلمة المرور"
)

// Handler exposes the desk over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	sessions *shared.SessionManager
	csrf     *shared.CSRFManager
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		sessions: sessions,
		csrf:     csrf,
		validate: validator.New(),
	}
}

// MountRoutes registers session and invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/session", func(r chi.Router) {
		r.Post("/", h.signIn)
		r.Get("/", h.currentSession)
		r.Delete("/", h.signOut)
	})

	r.Route("/invoices/{kind}", func(r chi.Router) {
		r.Use(h.requireAuth, h.resolveKind)
		r.Get("/options", h.options)

		r.Post("/draft", h.openDraft)
		r.Get("/draft", h.getDraft)
		r.Put("/draft", h.updateDraft)
		r.Delete("/draft", h.discardDraft)
		r.Post("/draft/lines", h.addLine)
		r.Delete("/draft/lines/{index}", h.removeLine)
		r.Post("/draft/submit", h.submit)

		r.Get("/{id}/print", h.printView)
		r.Post("/{id}/print", h.queuePrint)
		r.Get("/{id}/print.pdf", h.printPDF)
	})
}

type signInRequest struct {
	Username string `json:"username" validate:"required_without=Token,max=100"`
	Password string `json:"password" validate:"required_with=Username,max=200"`
	Token    string `json:"token" validate:"required_without=Username,max=4096"`
}

type sessionResponse struct {
	Authenticated bool         `json:"authenticated"`
	User          *shared.User `json:"user,omitempty"`
	RoleLabel     string       `json:"role_label,omitempty"`
	CSRFToken     string       `json:"csrf_token,omitempty"`
}

func (h *Handler) signIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.MsgBadRequest)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Token = strings.TrimSpace(req.Token)
	if err := h.validate.Struct(req); err != nil {
		httpx.Fail(w, http.StatusUnprocessableEntity, MsgCredentials)
		return
	}

	var (
		auth Authenticated
		err  error
	)
	if req.Username != "" {
		auth, err = h.service.SignIn(r.Context(), req.Username, req.Password)
	} else {
		auth, err = h.service.Adopt(r.Context(), req.Token)
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.validate.Struct(auth.User); err != nil {
		h.logger.Warn("backend returned an incomplete account", slog.Any("error", err))
		httpx.Fail(w, http.StatusBadGateway, upstream.MsgLoginFailed)
		return
	}

	sess := shared.SessionFromContext(r.Context())
	sess.Authenticate(auth.Token, auth.User)
	csrfToken, err := h.csrf.Rotate(r.Context(), sess)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.logger.Info("session signed in", slog.Int64("user_id", auth.User.ID), slog.String("role", auth.User.Role))
	httpx.JSON(w, http.StatusOK, sessionResponse{
		Authenticated: true,
		User:          &auth.User,
		RoleLabel:     auth.User.RoleLabel(),
		CSRFToken:     csrfToken,
	})
}

func (h *Handler) currentSession(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if !sess.Authenticated() {
		httpx.JSON(w, http.StatusOK, sessionResponse{})
		return
	}
	user := sess.User()
	csrfToken, err := h.csrf.EnsureToken(r.Context(), sess)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sessionResponse{
		Authenticated: true,
		User:          user,
		RoleLabel:     user.RoleLabel(),
		CSRFToken:     csrfToken,
	})
}

func (h *Handler) signOut(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil && !sess.IsNew() {
		for _, kind := range []invoice.Kind{invoice.KindSales, invoice.KindPurchase} {
			if err := h.service.DiscardDraft(r.Context(), sess.ID, kind); err != nil {
				h.logger.Warn("discard draft on sign out", slog.String("kind", string(kind)), slog.Any("error", err))
			}
		}
	}
	h.sessions.Destroy(sess)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shared.SessionFromContext(r.Context()).Authenticated() {
			httpx.Fail(w, http.StatusUnauthorized, httpx.MsgUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) resolveKind(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := invoice.ParseKind(chi.URLParam(r, "kind")); !ok {
			httpx.Fail(w, http.StatusNotFound, MsgInvalidKind)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func kindOf(r *http.Request) invoice.Kind {
	kind, _ := invoice.ParseKind(chi.URLParam(r, "kind"))
	return kind
}

func (h *Handler) options(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	opts, err := h.service.Options(r.Context(), sess.Token(), kindOf(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, opts)
}

func (h *Handler) openDraft(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	v, err := h.service.OpenDraft(r.Context(), sess.ID, kindOf(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) getDraft(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	v, err := h.service.GetDraft(r.Context(), sess.ID, kindOf(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) updateDraft(w http.ResponseWriter, r *http.Request) {
	var upd HeaderUpdate
	if err := httpx.DecodeJSON(w, r, &upd); err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.MsgBadRequest)
		return
	}
	if err := h.validate.Struct(upd); err != nil {
		h.respondError(w, r, headerValidationError(kindOf(r), err))
		return
	}
	sess := shared.SessionFromContext(r.Context())
	v, err := h.service.UpdateHeader(r.Context(), sess.ID, kindOf(r), upd)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) discardDraft(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if err := h.service.DiscardDraft(r.Context(), sess.ID, kindOf(r)); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addLine(w http.ResponseWriter, r *http.Request) {
	var c invoice.LineCandidate
	if err := httpx.DecodeJSON(w, r, &c); err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.MsgBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	v, err := h.service.AddLine(r.Context(), sess.Token(), sess.ID, kindOf(r), c)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) removeLine(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		httpx.Fail(w, http.StatusNotFound, MsgLineNotFound)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	v, err := h.service.RemoveLine(r.Context(), sess.ID, kindOf(r), index)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	out, err := h.service.Submit(r.Context(), sess.Token(), sess.ID, kindOf(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

type placeholderResponse struct {
	Error string       `json:"error"`
	State render.State `json:"state"`
}

func (h *Handler) printView(w http.ResponseWriter, r *http.Request) {
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}
	sess := shared.SessionFromContext(r.Context())
	_, html, err := h.service.Document(r.Context(), sess.Token(), kindOf(r), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(html))
}

func (h *Handler) printPDF(w http.ResponseWriter, r *http.Request) {
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}
	sess := shared.SessionFromContext(r.Context())
	doc, pdf, err := h.service.PDF(r.Context(), sess.Token(), kindOf(r), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !doc.Printable() {
		httpx.JSON(w, http.StatusUnprocessableEntity, placeholderResponse{Error: doc.Message, State: doc.State})
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="`+string(doc.Kind)+"-"+doc.Number+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

type queuedResponse struct {
	JobID string `json:"job_id"`
}

func (h *Handler) queuePrint(w http.ResponseWriter, r *http.Request) {
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}
	sess := shared.SessionFromContext(r.Context())
	doc, jobID, err := h.service.QueuePrint(r.Context(), sess.Token(), sess.User(), kindOf(r), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !doc.Printable() {
		httpx.JSON(w, http.StatusUnprocessableEntity, placeholderResponse{Error: doc.Message, State: doc.State})
		return
	}
	httpx.JSON(w, http.StatusAccepted, queuedResponse{JobID: jobID})
}

func invoiceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(w, http.StatusNotFound, MsgInvalidID)
		return 0, false
	}
	return id, true
}

func headerValidationError(kind invoice.Kind, err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	verr := &invoice.ValidationError{Fields: map[string]string{}}
	for _, fe := range fieldErrs {
		switch fe.Field() {
		case "PaymentType":
			verr.Fields["payment_type"] = invoice.MsgPaymentTypeInvalid
		case "DiscountMode":
			verr.Fields["discount_mode"] = invoice.MsgDiscountModeBad
		case "PartyID":
			verr.Fields["party_id"] = kind.PartyRequiredMessage()
		default:
			verr.Fields[strings.ToLower(fe.Field())] = fe.Error()
		}
	}
	return verr
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr  *invoice.ValidationError
		upErr *upstream.Error
	)
	switch {
	case errors.As(err, &verr):
		httpx.FailFields(w, http.StatusUnprocessableEntity, verr.Message(), verr.Fields)
	case errors.As(err, &upErr):
		httpx.Fail(w, upErr.HTTPStatus(), upErr.Message)
	case errors.Is(err, upstream.ErrUnauthenticated), errors.Is(err, shared.ErrUnauthenticated):
		httpx.Fail(w, http.StatusUnauthorized, httpx.MsgUnauthorized)
	case errors.Is(err, drafts.ErrNotFound):
		httpx.Fail(w, http.StatusNotFound, MsgNoDraft)
	case errors.Is(err, ErrLineNotFound):
		httpx.Fail(w, http.StatusNotFound, MsgLineNotFound)
	case errors.Is(err, shared.ErrInFlight):
		httpx.Fail(w, http.StatusConflict, MsgSubmitInFlight)
	default:
		h.logger.Error("invoice desk request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
