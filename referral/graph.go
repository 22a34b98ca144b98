/*
graph.go - Persistence interfaces for the referral graph and reward ledger

PURPOSE:
  Defines the narrow interfaces between the engine and its storage.
  Different implementations can use SQLite, PostgreSQL, or in-memory
  storage; the engine never issues more than one store call per traversal.

KEY INTERFACES:
  GraphStore:  Users, referral codes, edges, bulk reachability
  RewardStore: Reward line items with idempotent insert and conditional
               status transitions
  Settler:     The atomic claim unit (available→claimed + balance credit)

BULK REACHABILITY CONTRACT:
  AncestorRows and DescendantRows MUST each cost a single store round trip
  regardless of chain depth or subtree size. The SQLite implementation uses
  a recursive common-table-expression; the memory implementation walks its
  maps under one lock. This is the central performance property of the
  engine: a naive per-edge walk costs one round trip per edge and, when
  mis-implemented as a per-branch re-fetch, blows up exponentially.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - referral/store/memory.go: In-memory for testing (counts round trips)

SEE ALSO:
  - traversal.go: Consumes the reachability queries
  - rewardledger.go: Higher-level wrapper over RewardStore
*/
package referral

import (
	"context"
	"time"
)

// =============================================================================
// GRAPH STORE - Users, codes, and the append-only edge set
// =============================================================================

// GraphStore persists and retrieves referral edges and user records.
//
// Edges are append-only: there is no update or delete. The referrer
// projection on a user is written exactly once, inside InsertEdge.
type GraphStore interface {
	// CreateUser persists a new user. Fails with ErrDuplicateUser semantics
	// only at the id level; callers are expected to use fresh ids.
	CreateUser(ctx context.Context, u User) error

	// User returns a user by id, or ErrUserNotFound.
	User(ctx context.Context, id UserID) (*User, error)

	// ResolveCode resolves a referral code to its owner,
	// or ErrCodeNotFound.
	ResolveCode(ctx context.Context, code string) (UserID, error)

	// SetReferralCode records a lazily generated code for a user, only if
	// the user has none yet (a lost race leaves the winner's code in
	// place). The code column is unique; a collision returns
	// ErrDuplicateCode so the caller can regenerate and retry.
	SetReferralCode(ctx context.Context, id UserID, code string) error

	// InsertEdge persists the edge AND sets the referee's referrer
	// projection in one atomic unit. The referee's parent-edge slot is
	// unique: a concurrent second bind fails with ErrAlreadyBound rather
	// than overwriting.
	InsertEdge(ctx context.Context, e ReferralEdge) error

	// EdgeByReferee returns the referee's single incoming edge, or nil.
	EdgeByReferee(ctx context.Context, refereeID UserID) (*ReferralEdge, error)

	// AncestorRows returns up to maxSteps ancestors of userID, nearest
	// first, in ONE store round trip. Rows are raw: the traversal engine
	// owns cycle tolerance and level capping.
	AncestorRows(ctx context.Context, userID UserID, maxSteps int) ([]Ancestor, error)

	// DescendantRows returns the reachable set below userID bounded by
	// maxDepth and maxNodes, in ONE store round trip, ordered (depth, id).
	DescendantRows(ctx context.Context, userID UserID, maxDepth, maxNodes int) ([]Descendant, error)
}

// =============================================================================
// REWARD STORE - Line item persistence
// =============================================================================

// RewardStore persists reward line items.
//
// INVARIANTS:
//   - InsertLineItem is idempotent on (EventID, BeneficiaryID, Level):
//     a duplicate insert fails with ErrDuplicateLineItem, which callers
//     absorb as a no-op.
//   - Status transitions are conditional: available→claimed and
//     available→expired only ever move forward, exactly once.
type RewardStore interface {
	// InsertLineItem persists an item in available state.
	// Returns ErrDuplicateLineItem when the idempotency tuple exists.
	InsertLineItem(ctx context.Context, item RewardLineItem) error

	// LineItem returns an item by id, or nil when absent.
	LineItem(ctx context.Context, id LineItemID) (*RewardLineItem, error)

	// LineItemsByBeneficiary returns a beneficiary's items, newest first.
	// Empty status means all statuses.
	LineItemsByBeneficiary(ctx context.Context, beneficiaryID UserID, status LineItemStatus) ([]RewardLineItem, error)

	// HasRewardFor reports whether any line item of the given type already
	// exists for (beneficiary, source user), in any status. Used to enforce
	// the once-ever first-recharge rule.
	HasRewardFor(ctx context.Context, beneficiaryID, sourceUserID UserID, rewardType RewardType) (bool, error)

	// ExpireBefore conditionally transitions available items created before
	// cutoff to expired, returning how many moved.
	ExpireBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// =============================================================================
// SETTLER - The atomic claim unit
// =============================================================================

// Settler performs the settlement of one line item: the conditional
// available→claimed transition and the ledger credit for the beneficiary,
// as ONE atomic unit. The line item id doubles as the ledger operation's
// idempotency key, so a crashed-and-retried settlement can never credit
// twice.
//
// Failure reasons, per item:
//   - ErrLineItemNotFound: missing, or owned by someone else
//   - ErrAlreadyClaimed:   a concurrent claimer won
//   - ErrLineItemExpired:  the expiry sweep got there first
//   - ErrLedgerCreditFailed / ErrStoreUnavailable: transient, retry
type Settler interface {
	Settle(ctx context.Context, beneficiaryID UserID, id LineItemID) (*RewardLineItem, error)
}
