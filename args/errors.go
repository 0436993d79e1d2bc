package args

import (
	"fmt"
	"strings"
)

// Error types reported by the binder. The part before the first dot is the
// error category surfaced to callers (e.g. "type_error" → TYPE_ERROR).
const (
	ErrMissing     = "value_error.missing"
	ErrConst       = "value_error.const"
	ErrNoneAllowed = "type_error.none.not_allowed"
	ErrInteger     = "type_error.integer"
	ErrFloat       = "type_error.float"
	ErrString      = "type_error.str"
	ErrBool        = "type_error.bool"
	ErrUUID        = "type_error.uuid"
	ErrList        = "type_error.list"
	ErrDict        = "type_error.dict"
)

// Path locates a value inside the params bag. Elements are string keys or
// int indices.
type Path []any

// Append returns a new path with elem added; the receiver is never modified.
func (p Path) Append(elem any) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, elem)
}

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, e := range p {
		parts[i] = fmt.Sprint(e)
	}
	return strings.Join(parts, ".")
}

// FieldError describes one violated field.
type FieldError struct {
	Location Path
	Type     string
	Msg      string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Location, e.Msg, e.Type)
}

// Category returns the upper-cased first segment of the error type,
// e.g. TYPE_ERROR or VALUE_ERROR.
func (e FieldError) Category() string {
	head, _, _ := strings.Cut(e.Type, ".")
	return strings.ToUpper(head)
}

// ValidationError carries every field error found while binding, in schema
// declaration order.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Errors) == 0 {
		return "args: validation failed"
	}
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Error()
	}
	return fmt.Sprintf("args: %d validation error(s): %s", len(e.Errors), strings.Join(msgs, "; "))
}

func fieldError(at Path, typ, msg string) []FieldError {
	return []FieldError{{Location: at, Type: typ, Msg: msg}}
}
