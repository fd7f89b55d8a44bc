package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

// Fallback messages used when the backend does not supply one.
const (
	MsgLoadFailed  = "حدث خطأ في تحميل البيانات"
	MsgSaveFailed  = "حدث خطأ في حفظ الفاتورة"
	MsgLoginFailed = "حدث خطأ في تسجيل الدخول"
)

// ErrUnauthenticated is returned when a call is attempted without a token.
var ErrUnauthenticated = errors.New("upstream: missing api token")

// Error is a failed backend call. Message is safe to show to the user.
type Error struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("upstream %s: status %d: %s", e.Op, e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the failure onto the status this service answers with.
// Client errors reported by the backend pass through; everything else is a
// bad gateway.
func (e *Error) HTTPStatus() int {
	if e.Status >= 400 && e.Status < 500 {
		return e.Status
	}
	return http.StatusBadGateway
}
