package exception

import (
	"errors"
	"fmt"
	"slices"

	"smartapp-rpc/message"
)

// ErrNilResponse is raised when a handler returns neither a response nor
// an error.
var ErrNilResponse = New(RuntimeError, "rpc handler returned no response")

// Exception is a kinded error with an optional cause.
type Exception struct {
	kind  *Kind
	msg   string
	cause error
}

// New returns an error of the given kind.
func New(kind *Kind, msg string) *Exception {
	return &Exception{kind: kind, msg: msg}
}

// Newf is New with formatting.
func Newf(kind *Kind, format string, a ...any) *Exception {
	return &Exception{kind: kind, msg: fmt.Sprintf(format, a...)}
}

// Wrap attaches a kind to err. The wrapped error stays reachable through
// errors.Is and errors.As.
func Wrap(kind *Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Exception{kind: kind, msg: err.Error(), cause: err}
}

func (e *Exception) Error() string {
	if e.msg == "" {
		return e.kind.Name()
	}
	return e.kind.Name() + ": " + e.msg
}

func (e *Exception) Kind() *Kind   { return e.kind }
func (e *Exception) Unwrap() error { return e.cause }

// DetailCarrier is implemented by errors whose details are passed to the
// caller verbatim by RPCErrorHandler.
type DetailCarrier interface {
	error
	ErrorDetails() []message.ErrorDetail
}

// RPCErrorExc is raised by handlers to return declared application errors.
type RPCErrorExc struct {
	Errors []message.ErrorDetail
}

// Raise returns an RPCErrorExc carrying details.
func Raise(details ...message.ErrorDetail) *RPCErrorExc {
	return &RPCErrorExc{Errors: details}
}

// Declared returns an RPCErrorExc for one declared error.
func Declared(d message.DeclaredError, meta map[string]any) *RPCErrorExc {
	return Raise(d.Detail(meta))
}

func (e *RPCErrorExc) Error() string {
	switch len(e.Errors) {
	case 0:
		return "rpc error"
	case 1:
		return fmt.Sprintf("rpc error %s: %s", e.Errors[0].ID, e.Errors[0].Reason)
	}
	return fmt.Sprintf("rpc error %s: %s (and %d more)", e.Errors[0].ID, e.Errors[0].Reason, len(e.Errors)-1)
}

func (e *RPCErrorExc) Kind() *Kind { return RPCError }

func (e *RPCErrorExc) ErrorDetails() []message.ErrorDetail { return slices.Clone(e.Errors) }

// PanicError is a panic recovered from an RPC chain.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

func (e *PanicError) Kind() *Kind { return Panic }

// Unwrap exposes the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// IsPanic reports whether err came out of a recovered panic.
func IsPanic(err error) bool {
	var p *PanicError
	return errors.As(err, &p)
}
