// Package swifterr defines the single domain-error kind used across the
// engine and the common header fields shared by every Result record.
package swifterr

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Kind classifies an Error for callers that want to branch on it without
// string matching.
type Kind int

const (
	// KindInput marks an error raised synchronously before any job is
	// scheduled: a bad option value, a malformed SwiftUploadObject, etc.
	KindInput Kind = iota
	// KindTransport marks a non-success HTTP outcome or IO failure
	// inside a job. Never cancels sibling jobs.
	KindTransport
	// KindIntegrity marks an MD5 or length mismatch after an otherwise
	// successful HTTP exchange. Treated as a transport error on the
	// containing job.
	KindIntegrity
	// KindProgrammer marks a violated orchestrator invariant. Propagates
	// as a failure that cancels the whole operation.
	KindProgrammer
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindTransport:
		return "transport"
	case KindIntegrity:
		return "integrity"
	case KindProgrammer:
		return "programmer"
	default:
		return "unknown"
	}
}

// Error is the single domain-error kind carrying container, object,
// segment and the underlying cause (§7).
type Error struct {
	Kind       Kind
	Op         string // e.g. "upload_object", "delete_segment"
	Container  string
	Object     string
	Segment    string
	HTTPStatus int // 0 if not applicable
	cause      error
}

// New wraps cause into a domain Error, capturing a stack trace via
// github.com/pkg/errors so Traceback can render it.
func New(kind Kind, op string, cause error) *Error {
	if cause == nil {
		cause = errors.New(op)
	} else if stackTracer(cause) == nil {
		cause = errors.WithStack(cause)
	}
	return &Error{Kind: kind, Op: op, cause: cause}
}

// Newf builds a domain Error from a format string the way
// fmt.Errorf does, with a captured stack trace.
func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	return New(kind, op, errors.Errorf(format, args...))
}

func stackTracer(err error) errors.StackTrace {
	type tracer interface{ StackTrace() errors.StackTrace }
	if t, ok := err.(tracer); ok {
		return t.StackTrace()
	}
	return nil
}

// WithContainer attaches a container name.
func (e *Error) WithContainer(container string) *Error {
	e.Container = container
	return e
}

// WithObject attaches an object name.
func (e *Error) WithObject(object string) *Error {
	e.Object = object
	return e
}

// WithSegment attaches a segment name.
func (e *Error) WithSegment(segment string) *Error {
	e.Segment = segment
	return e
}

// WithHTTPStatus attaches the HTTP status that produced this error, if any.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.cause.Error()
	switch {
	case e.Segment != "":
		return fmt.Sprintf("%s %s/%s segment %s: %s", e.Op, e.Container, e.Object, e.Segment, msg)
	case e.Object != "":
		return fmt.Sprintf("%s %s/%s: %s", e.Op, e.Container, e.Object, msg)
	case e.Container != "":
		return fmt.Sprintf("%s %s: %s", e.Op, e.Container, msg)
	default:
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// Traceback renders a stringified stack trace for the Result.Traceback
// field (§3). Falls back to the plain message if no trace was captured.
func (e *Error) Traceback() string {
	return fmt.Sprintf("%+v", e.cause)
}

// Timestamp returns the wall-clock time this package considers "now" for
// error_timestamp fields; split out so tests can monkeypatch less and
// assert more.
func Timestamp() time.Time { return time.Now() }

// IsNotFound reports whether err (wrapped or not) represents a 404
// response, used by the delete orchestrator's "already absent" case.
func IsNotFound(err error) bool {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.HTTPStatus == 404
	}
	return false
}
