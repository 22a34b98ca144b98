/*
errors.go - Centralized error taxonomy for the referral engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch on these with errors.Is, so every rejection the engine
  can produce is a typed sentinel, never an opaque string.

ERROR CATEGORIES:
  1. Bind rejections  - Validation failures when adding an edge
  2. Claim rejections - Per-item settlement failures
  3. Duplicate writes - Idempotency-constraint hits (often NOT errors to
     the caller: duplicate reward computation is silently absorbed)
  4. Infrastructure   - Transient store/ledger failures, surfaced for retry

SEE ALSO:
  - binder.go: Produces bind rejections
  - claim.go: Produces claim rejections
  - api/handlers.go: Maps these to HTTP status codes
*/
package referral

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrCodeNotFound is returned when a referral code resolves to no user.
	ErrCodeNotFound = errors.New("referral code not found")

	// ErrSelfReferral is returned when a user tries to bind to themselves.
	ErrSelfReferral = errors.New("self referral")

	// ErrAlreadyBound is returned when the referee already has a referrer.
	// Binding is one-time; a second bind never silently overwrites.
	ErrAlreadyBound = errors.New("referee already bound")

	// ErrCycleDetected is returned when binding would close a loop in the
	// referral graph.
	ErrCycleDetected = errors.New("cycle detected")

	// ErrUserNotFound is returned when a referenced user doesn't exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrLineItemNotFound is returned when a claim targets a line item that
	// doesn't exist or is not owned by the caller. Ownership violations are
	// deliberately indistinguishable from missing items.
	ErrLineItemNotFound = errors.New("reward line item not found")

	// ErrAlreadyClaimed is returned when a line item was already settled.
	// Exactly one concurrent claimer wins; the rest observe this.
	ErrAlreadyClaimed = errors.New("reward already claimed")

	// ErrLineItemExpired is returned when a claim targets an expired item.
	ErrLineItemExpired = errors.New("reward expired")

	// ErrDuplicateLineItem is returned by stores when the
	// (event, beneficiary, level) uniqueness constraint is hit.
	// The reward ledger swallows this: duplicate event delivery is expected.
	ErrDuplicateLineItem = errors.New("duplicate reward line item")

	// ErrDuplicateCode is returned by stores when a generated referral code
	// collides with an existing one. The binder regenerates and retries.
	ErrDuplicateCode = errors.New("referral code already taken")

	// ErrStoreUnavailable is returned when a store call times out or the
	// backend is unreachable. Transient; the caller may retry.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrLedgerCreditFailed is returned when the balance credit step of a
	// settlement fails. Transient; safe to re-submit the same line item ids.
	ErrLedgerCreditFailed = errors.New("ledger credit failed")

	// ErrBatchTooLarge is returned when a claim batch exceeds the limit.
	ErrBatchTooLarge = errors.New("claim batch too large")

	// ErrBadCursor is returned when a subtree page cursor cannot be
	// decoded. Cursors are opaque; clients must pass them back verbatim.
	ErrBadCursor = errors.New("malformed subtree cursor")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// BindRejection provides details about a rejected bind attempt.
type BindRejection struct {
	RefereeID  UserID
	ReferrerID UserID // zero when the code didn't resolve
	Code       string
	Reason     error // one of the bind sentinels above
}

func (e *BindRejection) Error() string {
	return fmt.Sprintf("bind rejected for %s: %v", e.RefereeID, e.Reason)
}

func (e *BindRejection) Unwrap() error { return e.Reason }

// TraversalAnomaly records a traversal that hit the hard step ceiling,
// which can only happen with corrupted (cyclic) stored data. It is logged
// and the truncated result is still returned; it is never fatal.
type TraversalAnomaly struct {
	RootID UserID
	Steps  int
}

func (e *TraversalAnomaly) Error() string {
	return fmt.Sprintf("traversal ceiling exceeded at %d steps from %s (cyclic data?)", e.Steps, e.RootID)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to an invalid request
// rather than an engine or infrastructure fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrCodeNotFound) ||
		errors.Is(err, ErrSelfReferral) ||
		errors.Is(err, ErrAlreadyBound) ||
		errors.Is(err, ErrCycleDetected) ||
		errors.Is(err, ErrAlreadyClaimed) ||
		errors.Is(err, ErrLineItemExpired) ||
		errors.Is(err, ErrBatchTooLarge) ||
		errors.Is(err, ErrBadCursor)
}

// IsRetryable returns true if the operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrLedgerCreditFailed)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrCodeNotFound) ||
		errors.Is(err, ErrLineItemNotFound)
}
