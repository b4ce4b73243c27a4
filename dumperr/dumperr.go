// Package dumperr defines the small set of error kinds the dump engine can
// fail with. Every fatal error surfaced by the engine is wrapped in one of
// these kinds so that the top-level runner can choose an exit status and a
// diagnostic without re-parsing error strings.
package dumperr

import "github.com/pkg/errors"

// Kind classifies why an operation failed.
type Kind int

const (
	// Transport covers network failure, authentication failure and
	// path-not-found responses from the remote.
	Transport Kind = iota
	// Storage covers failures of the keyed blob stores or temp-file
	// operations.
	Storage
	// Protocol covers unexpected callback ordering or a reference to a
	// copy source that has not been dumped yet.
	Protocol
	// Validation covers a replace-check or similar consistency check
	// that could not be completed.
	Validation
	// UserInput covers bad configuration discovered before any work starts.
	UserInput
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Storage:
		return "storage"
	case Protocol:
		return "protocol"
	case Validation:
		return "validation"
	case UserInput:
		return "user input"
	default:
		return "unknown"
	}
}

// Error is a dump-engine error tagged with a Kind and wrapping a cause.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Wrap creates a new Error of the given kind, wrapping cause with a stack
// trace via pkg/errors so the top-level runner can print a full causal
// chain back to the originating remote call or storage operation.
func Wrap(kind Kind, cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, msg: msg, err: errors.WithStack(cause)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, cause error, format string, args ...interface{}) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, msg: errors.Errorf(format, args...).Error(), err: errors.WithStack(cause)}
}

// New creates a new Error of the given kind with no wrapped cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, msg: msg}
}

// Newf is New with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	msg := errors.Errorf(format, args...).Error()
	return &Error{Kind: kind, msg: msg}
}

// As reports whether err is (or wraps) a *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
