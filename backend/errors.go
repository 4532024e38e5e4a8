package backend

import (
	"errors"
	"fmt"

	"github.com/muesli/reflow/truncate"
)

// MaxMessageLength caps the native message of an Error.
const MaxMessageLength = 512

// Code is a backend-native error code. Zero is success; every failure is negative.
type Code int

const (
	CodeSuccess           Code = 0
	CodeConnectFailed     Code = -1
	CodeInvalidRelease    Code = -2
	CodeVersionNotFound   Code = -3
	CodeVersionExists     Code = -4
	CodeStateNotFound     Code = -5
	CodeStateInUse        Code = -6
	CodeStateOpen         Code = -7
	CodeStateClosed       Code = -8
	CodeTransactionActive Code = -9
	CodeNoTransaction     Code = -10
	CodeConnectionClosed  Code = -11
	CodeLayerNotFound     Code = -12
	CodeLayerExists       Code = -13
	CodeBusy              Code = -14
	CodeInvalid           Code = -15
	CodeInternal          Code = -16
)

var codeNames = map[Code]string{
	CodeSuccess:           "success",
	CodeConnectFailed:     "connect failed",
	CodeInvalidRelease:    "invalid release",
	CodeVersionNotFound:   "version not found",
	CodeVersionExists:     "version exists",
	CodeStateNotFound:     "state not found",
	CodeStateInUse:        "state in use",
	CodeStateOpen:         "state open",
	CodeStateClosed:       "state closed",
	CodeTransactionActive: "transaction active",
	CodeNoTransaction:     "no transaction",
	CodeConnectionClosed:  "connection closed",
	CodeLayerNotFound:     "layer not found",
	CodeLayerExists:       "layer exists",
	CodeBusy:              "busy",
	CodeInvalid:           "invalid argument",
	CodeInternal:          "internal error",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code %d", int(c))
}

// Error is the triple every backend failure is reported as: the operation, the
// native code and a human readable message.
type Error struct {
	Op   string
	Code Code
	Msg  string
	// Err is the underlying driver error, if any.
	Err error
}

// Errorf builds an Error with a formatted message.
func Errorf(op string, code Code, format string, args ...interface{}) *Error {
	return &Error{Op: op, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	msg := truncate.StringWithTail(e.Msg, MaxMessageLength, "...")
	if msg == "" {
		msg = e.Code.String()
	}
	return fmt.Sprintf("%s: %s (%d)", e.Op, msg, int(e.Code))
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the native code carried by err, CodeSuccess for nil and
// CodeInternal for errors that did not come from a backend.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
