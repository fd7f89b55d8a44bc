package invoice

import (
	"errors"
	"sort"
	"strings"
)

// ErrValidation is wrapped by every ValidationError.
var ErrValidation = errors.New("invoice: validation failed")

// User-facing validation messages.
const (
	MsgProductRequired    = "يجب اختيار منتج"
	MsgQuantityInvalid    = "يجب أن تكون الكمية عدداً صحيحاً موجباً"
	MsgPriceNegative      = "لا يمكن أن يكون السعر سالباً"
	MsgItemsRequired      = "يجب إضافة منتج واحد على الأقل"
	MsgPercentageRange    = "يجب أن تكون نسبة الخصم بين 0 و 100"
	MsgDiscountNegative   = "لا يمكن أن يكون الخصم سالباً"
	MsgTaxNegative        = "لا يمكن أن تكون الضريبة سالبة"
	MsgCustomerRequired   = "يجب تحديد العميل"
	MsgSupplierRequired   = "يجب تحديد المورد"
	MsgPaymentTypeInvalid = "نوع الدفع غير صالح"
	MsgDiscountModeBad    = "نوع الخصم غير صالح"
	MsgTotalClamped       = "الخصم أكبر من المجموع، تم اعتبار المجموع الكلي صفراً"
)

// ValidationError reports local, synchronous input problems keyed by field.
// It never affects lines already on the draft.
type ValidationError struct {
	Fields map[string]string
}

func newValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) empty() bool {
	return e == nil || len(e.Fields) == 0
}

// Error joins the field messages in field order.
func (e *ValidationError) Error() string {
	if e.empty() {
		return ErrValidation.Error()
	}
	keys := e.fieldNames()
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Message returns the single message shown inline next to the action.
func (e *ValidationError) Message() string {
	if e.empty() {
		return ""
	}
	return e.Fields[e.fieldNames()[0]]
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func (e *ValidationError) fieldNames() []string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
