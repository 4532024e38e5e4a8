package edit

import (
	"errors"
	"fmt"

	"github.com/pdok/vedit/backend"
)

// Kind classifies the failures of an edit session.
type Kind int

const (
	KindConnect Kind = iota + 1
	KindVersionIncompatible
	KindVersionNotFound
	KindVersion
	KindBaselineLocked
	KindStateTree
	KindTransaction
	KindSession
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindVersionIncompatible:
		return "version incompatible"
	case KindVersionNotFound:
		return "version not found"
	case KindVersion:
		return "version"
	case KindBaselineLocked:
		return "baseline locked"
	case KindStateTree:
		return "state tree"
	case KindTransaction:
		return "transaction"
	case KindSession:
		return "session"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Severity is how a failure is treated during teardown.
type Severity int

const (
	SeverityFatal Severity = iota
	SeverityWarning
	SeverityIgnore
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityIgnore:
		return "ignore"
	default:
		return "fatal"
	}
}

// Sentinels to match an Error's kind with errors.Is.
var (
	ErrConnect             = &Error{Kind: KindConnect}
	ErrVersionIncompatible = &Error{Kind: KindVersionIncompatible}
	ErrVersionNotFound     = &Error{Kind: KindVersionNotFound}
	ErrVersion             = &Error{Kind: KindVersion}
	ErrBaselineLocked      = &Error{Kind: KindBaselineLocked}
	ErrStateTree           = &Error{Kind: KindStateTree}
	ErrTransaction         = &Error{Kind: KindTransaction}
	ErrSession             = &Error{Kind: KindSession}
)

// Error is a failure of the edit protocol. It carries the operation, the native
// code and message of the backend, and how teardown should treat it.
type Error struct {
	Kind     Kind
	Op       string
	Code     backend.Code
	Msg      string
	Severity Severity
	Err      error
}

// newError wraps a backend failure of op.
func newError(kind Kind, op string, err error) *Error {
	e := &Error{Kind: kind, Op: op, Code: backend.CodeOf(err), Err: err}
	var be *backend.Error
	if errors.As(err, &be) {
		e.Msg = be.Msg
	} else if err != nil {
		e.Msg = err.Error()
	}
	return e
}

func errorf(kind Kind, op string, code backend.Code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Severity == SeverityWarning {
		return fmt.Sprintf("%s warning in %s: %s (%d)", e.Kind, e.Op, msg, int(e.Code))
	}
	return fmt.Sprintf("%s error in %s: %s (%d)", e.Kind, e.Op, msg, int(e.Code))
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Kind == e.Kind
}

// InUse reports whether the backend answered that the state is still in use.
func (e *Error) InUse() bool {
	return e.Code == backend.CodeStateInUse
}
