package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors shared by handlers.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("conflict")
	ErrBadRequest   = errors.New("bad request")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// Messages shown for the generic failures.
const (
	MsgBadRequest   = "طلب غير صالح"
	MsgUnauthorized = "يجب تسجيل الدخول"
	MsgForbidden    = "غير مسموح"
	MsgInternal     = "حدث خطأ غير متوقع"
)

// RespondError maps the shared sentinel errors to JSON error responses.
// Unknown errors become a 500 without leaking their text.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Fail(w, http.StatusNotFound, "")
	case errors.Is(err, ErrConflict):
		Fail(w, http.StatusConflict, "")
	case errors.Is(err, ErrBadRequest):
		Fail(w, http.StatusBadRequest, MsgBadRequest)
	case errors.Is(err, ErrForbidden):
		Fail(w, http.StatusForbidden, MsgForbidden)
	case errors.Is(err, ErrUnauthorized):
		Fail(w, http.StatusUnauthorized, MsgUnauthorized)
	default:
		Fail(w, http.StatusInternalServerError, MsgInternal)
	}
}
