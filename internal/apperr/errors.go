package apperr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"google.golang.org/api/googleapi"
)

// Kind classifies a failure by what the caller can do about it.
type Kind int

const (
	// KindUnknown is the zero value and never produced by this package.
	KindUnknown Kind = iota

	// KindTransport is a network, TLS or deadline failure before a response arrived.
	KindTransport

	// KindRemote is a non-2xx response from a Google API endpoint.
	KindRemote

	// KindDecode is a response body that does not match the expected schema.
	KindDecode

	// KindAuthServer is a non-2xx response from the OAuth token endpoint.
	KindAuthServer

	// KindScopeMismatch is a bootstrap that granted a different number of scopes than requested.
	KindScopeMismatch

	// KindNotFound is an empty lookup result or a missing persisted record.
	KindNotFound

	// KindAmbiguousMatch is a lookup that matched more than one document.
	KindAmbiguousMatch

	// KindCorruptRecord is a persisted credential that cannot be read back.
	KindCorruptRecord
)

// String returns the kind name used in error messages and logs.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindRemote:
		return "remote"
	case KindDecode:
		return "decode"
	case KindAuthServer:
		return "auth_server"
	case KindScopeMismatch:
		return "scope_mismatch"
	case KindNotFound:
		return "not_found"
	case KindAmbiguousMatch:
		return "ambiguous_match"
	case KindCorruptRecord:
		return "corrupt_record"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching by kind.
var (
	ErrTransport      = &Error{Kind: KindTransport}
	ErrRemote         = &Error{Kind: KindRemote}
	ErrDecode         = &Error{Kind: KindDecode}
	ErrAuthServer     = &Error{Kind: KindAuthServer}
	ErrScopeMismatch  = &Error{Kind: KindScopeMismatch}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrAmbiguousMatch = &Error{Kind: KindAmbiguousMatch}
	ErrCorruptRecord  = &Error{Kind: KindCorruptRecord}
)

// Error is the single error type produced at the collaborator boundary.
type Error struct {
	Kind   Kind
	Op     string // operation that failed, e.g. "drive.list"
	Status int    // HTTP status for KindRemote and KindAuthServer
	Body   string // response body excerpt for KindRemote and KindAuthServer
	Msg    string
	Err    error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Status == 0 && t.Err == nil && t.Msg == "" && t.Kind == e.Kind
}

// New creates an error of the given kind with a message.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsAuthentication reports whether err is a rejection that a token refresh can fix.
func IsAuthentication(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == KindRemote && e.Status == http.StatusUnauthorized
}

// FromGoogle classifies an error returned by a google.golang.org/api call.
func FromGoogle(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &Error{Kind: KindRemote, Op: op, Status: gerr.Code, Body: truncate(gerr.Body), Err: err}
	}
	if isDecode(err) {
		return Wrap(KindDecode, op, err)
	}
	return Wrap(KindTransport, op, err)
}

// FromTransport classifies an error returned by http.Client.Do.
func FromTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	return Wrap(KindTransport, op, err)
}

// IsTransport reports whether err is a network or deadline failure.
func IsTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}

func isDecode(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF)
}

const maxBody = 512

func truncate(s string) string {
	if len(s) <= maxBody {
		return s
	}
	return s[:maxBody] + "..."
}
