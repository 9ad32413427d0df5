package scope

import (
	"fmt"

	perrors "github.com/jmgilman/go/errors"
)

// ProtocolError is the panic value raised when the engine is misused:
// commit or rollback without an active initialization, begin while one
// is active, lookup of a container that was never committed, duplicate
// session start. These indicate bugs in host glue and are never returned
// as ordinary errors.
//
// Tests and supervisors can recover it and inspect Op or the wrapped
// PlatformError code:
//
//	defer func() {
//	    var pe *scope.ProtocolError
//	    if err, ok := recover().(error); ok && errors.As(err, &pe) { ... }
//	}()
type ProtocolError struct {
	Op  string
	Err perrors.PlatformError
}

func (e *ProtocolError) Error() string { return "scope: " + e.Op + ": " + e.Err.Error() }

func (e *ProtocolError) Unwrap() error { return e.Err }

// violation builds a ProtocolError; subject, when non-nil, is attached as
// error context so panics name the session or container involved.
func violation(op string, code perrors.ErrorCode, msg string, subject any) *ProtocolError {
	err := perrors.New(code, msg)
	if subject != nil {
		err = perrors.WithContext(err, "subject", fmt.Sprint(subject))
	}
	return &ProtocolError{Op: op, Err: err}
}

func violationNoSession(op string) *ProtocolError {
	return violation(op, perrors.CodeNotFound, "no current session in context", nil)
}
