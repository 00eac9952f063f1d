// Package errkind classifies errors by the retry/propagation policy
// they carry, rather than by concrete Go type. The data plane and the
// close-table state machine both switch on Kind to decide whether to
// retry, surface immediately, or fold into a per-row failure.
package errkind

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error policies.
type Kind int

const (
	// Unknown is the zero value; never constructed directly.
	Unknown Kind = iota
	// NotFound: lookup against stale cluster state. Retry after a
	// cluster-state refresh, up to temp_error_retries.
	NotFound
	// Blocked: request level intersects an active block. Surface
	// immediately.
	Blocked
	// VersionConflict: concurrent update to the same primary key.
	// Automatic retry on the primary; surface after exhaustion.
	VersionConflict
	// CircuitBreaking: memory accounting over budget. Always
	// surface, never swallow.
	CircuitBreaking
	// Temporary: broken connection / node disconnected. Retry.
	Temporary
	// Validation: schema/type/constraint violation. Per-row
	// failure; never aborts the whole batch unless propagateError.
	Validation
	// SnapshotInProgress: close attempted while a snapshot of the
	// index is running.
	SnapshotInProgress
	// RestoreInProgress: close attempted while a restore of the
	// index is running.
	RestoreInProgress
	// IllegalState: an invariant was violated (e.g. unresolved
	// shard after create). Fatal for the request.
	IllegalState
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case Blocked:
		return "Blocked"
	case VersionConflict:
		return "VersionConflict"
	case CircuitBreaking:
		return "CircuitBreaking"
	case Temporary:
		return "Temporary"
	case Validation:
		return "Validation"
	case SnapshotInProgress:
		return "SnapshotInProgress"
	case RestoreInProgress:
		return "RestoreInProgress"
	case IllegalState:
		return "IllegalState"
	default:
		return "Unknown"
	}
}

// Retryable reports whether the data plane should retry an operation
// that failed with this kind, per the §7 propagation table.
func (k Kind) Retryable() bool {
	switch k {
	case NotFound, VersionConflict, Temporary:
		return true
	default:
		return false
	}
}

// Swallowed reports whether the data plane converts this kind into a
// per-row failure instead of aborting the whole batch. The first four
// kinds (NotFound, Blocked, VersionConflict, CircuitBreaking) are never
// swallowed — everything else is, unless the caller set propagateError.
func (k Kind) Swallowed() bool {
	switch k {
	case NotFound, Blocked, VersionConflict, CircuitBreaking:
		return false
	default:
		return true
	}
}

// Error wraps an underlying error with a Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind. If err is nil, New returns nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Newf is New with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func NotFoundf(format string, args ...any) error      { return Newf(NotFound, format, args...) }
func Blockedf(format string, args ...any) error        { return Newf(Blocked, format, args...) }
func VersionConflictf(format string, args ...any) error { return Newf(VersionConflict, format, args...) }
func CircuitBreakingf(format string, args ...any) error { return Newf(CircuitBreaking, format, args...) }
func Temporaryf(format string, args ...any) error      { return Newf(Temporary, format, args...) }
func Validationf(format string, args ...any) error     { return Newf(Validation, format, args...) }
func SnapshotInProgressf(format string, args ...any) error {
	return Newf(SnapshotInProgress, format, args...)
}
func RestoreInProgressf(format string, args ...any) error {
	return Newf(RestoreInProgress, format, args...)
}
func IllegalStatef(format string, args ...any) error { return Newf(IllegalState, format, args...) }

// As extracts the Kind from err, walking the Unwrap chain. The second
// return value is false if no *Error is found anywhere in the chain.
func As(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return Unknown, false
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	k, ok := As(err)
	return ok && k == kind
}
