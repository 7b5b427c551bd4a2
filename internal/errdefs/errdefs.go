// Package errdefs defines the structured error taxonomy for the ReplyForge
// agent. Every failure that crosses a package boundary carries a Kind so
// that callers (and ultimately the CLI surface) can render actionable
// guidance instead of a bare error string.
package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	// KindUnauthenticated means no valid session is present.
	KindUnauthenticated Kind = "unauthenticated"

	// KindInsufficientCredits means the ledger denied the operation for
	// lack of available credits.
	KindInsufficientCredits Kind = "insufficient_credits"

	// KindTrialAlreadyUsed means the one-time trial generation has
	// already been consumed for this account.
	KindTrialAlreadyUsed Kind = "trial_already_used"

	// KindFeatureNotEntitled means the current plan does not include the
	// requested capability.
	KindFeatureNotEntitled Kind = "feature_not_entitled"

	// KindBulkSizeExceeded means a bulk run was larger than the plan's
	// configured ceiling.
	KindBulkSizeExceeded Kind = "bulk_size_exceeded"

	// KindTimeout means a bounded wait (job watch, boundary wait)
	// elapsed with no terminal transition. The remote job may still
	// complete later; callers should say "check back" rather than
	// treating this as a hard failure.
	KindTimeout Kind = "timeout"

	// KindJobRecordMissing means the watched job record disappeared (or
	// never existed) on the remote side.
	KindJobRecordMissing Kind = "job_record_missing"

	// KindEmptyResult means the job completed but produced no text.
	KindEmptyResult Kind = "empty_result"

	// KindWatchError means the watch channel itself failed.
	KindWatchError Kind = "watch_error"

	// KindTransport covers timeouts, connection failures and 5xx-class
	// responses. Transport errors are the only retryable kind.
	KindTransport Kind = "transport"

	// KindValidation covers non-retryable rejections from the backend
	// (bad request shape, disabled account, and similar).
	KindValidation Kind = "validation"

	// KindDeferred is not a failure: the operation was queued while
	// offline and will be replayed when connectivity returns.
	KindDeferred Kind = "deferred"
)

// Error is a classified error with an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of err, or the empty Kind for unclassified
// errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether err is worth retrying. Only transport
// failures qualify; everything else is terminal for its caller.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransport
}
