// Package apierr defines the error taxonomy shared by the tap authenticator,
// the withdraw session manager, and the HTTP adapter: a small set of kinds
// that map onto LNURL's {status,reason} envelope without leaking internals.
package apierr

import "fmt"

type Kind string

const (
	MalformedRequest Kind = "MalformedRequest"
	NotFound         Kind = "NotFound"
	Disabled         Kind = "Disabled"
	BadPayload       Kind = "BadPayload"
	BadMac           Kind = "BadMac"
	UidMismatch      Kind = "UidMismatch"
	Replay           Kind = "Replay"
	Expired          Kind = "Expired"
	AlreadyUsed      Kind = "AlreadyUsed"
	AlreadyConsumed  Kind = "AlreadyConsumed"
	InvoiceInvalid   Kind = "InvoiceInvalid"
	LimitExceeded    Kind = "LimitExceeded"
	DispatcherFailed Kind = "DispatcherFailed"
	Internal         Kind = "Internal"
)

// authFailureReason is the deliberately vague message returned for every
// cryptographic rejection, so a caller cannot distinguish "bad mac" from
// "replay" from "uid mismatch" by reason text alone. The precise Kind is still
// available to the caller's own code (for logging) but must not reach the
// wire for these kinds.
const authFailureReason = "authentication failed"

var vagueKinds = map[Kind]bool{
	BadPayload:  true,
	BadMac:      true,
	UidMismatch: true,
	Replay:      true,
}

// Error is the error type every component in the withdraw pipeline returns.
// Err carries the precise underlying cause for server-side logging; Reason
// is what may be shown to a caller.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func New(kind Kind, reason string, cause error) *Error {
	if vagueKinds[kind] {
		reason = authFailureReason
	}
	return &Error{Kind: kind, Reason: reason, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from err if it is (or wraps) an *Error, else
// Internal.
func KindOf(err error) Kind {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind
	}
	return Internal
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
