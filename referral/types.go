/*
Package referral provides the referral network resolution and reward
settlement engine.

PURPOSE:
  This package contains the domain types and algorithms for a multi-level
  "who-invited-whom" graph: binding new referral edges safely, resolving
  ancestor chains and descendant subtrees at bounded query cost, computing
  tiered rewards per level, and settling those rewards to user balances
  exactly once.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A decimal currency amount with reward-safe rounding
  - User / ReferralEdge: The graph (a forest: one parent edge per user)
  - QualifyingEvent: A business occurrence that triggers reward computation
  - RewardLineItem: One owed reward for one beneficiary at one level
  - Ancestor / Descendant: Traversal results with their level/depth
  - ClaimResult: Per-item outcome of a settlement batch

DESIGN PRINCIPLES:
  1. Immutability: Edges are created once; the referrer projection on a
     user is set at most once and never overwritten.
  2. Precision: Uses decimal.Decimal to avoid floating-point errors, and
     never rounds reward amounts up.
  3. Idempotency: Reward computation and settlement are keyed so retries
     and duplicate event delivery have effect at most once.
  4. Bounded cost: Traversal results come from single reachability queries,
     never one store round trip per edge.

SEE ALSO:
  - graph.go: Graph store and reward store interfaces
  - traversal.go: Ancestor/descendant resolution
  - calculator.go: Reward computation
  - claim.go: Settlement orchestration
*/
package referral

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Currency amount with reward-safe rounding
// =============================================================================

// Money is a decimal currency amount in the platform's base currency.
type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money {
	return Money{Value: decimal.NewFromFloat(value)}
}

func NewMoneyFromInt(value int64) Money {
	return Money{Value: decimal.NewFromInt(value)}
}

// ParseMoney parses a decimal amount string.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Money{Value: d}, nil
}

func MustParseMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{Value: decimal.Zero}
	}
	return Money{Value: d}
}

func (m Money) Add(o Money) Money        { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money        { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Mul(r decimal.Decimal) Money { return Money{Value: m.Value.Mul(r)} }
func (m Money) Neg() Money               { return Money{Value: m.Value.Neg()} }
func (m Money) IsZero() bool             { return m.Value.IsZero() }
func (m Money) IsPositive() bool         { return m.Value.IsPositive() }
func (m Money) IsNegative() bool         { return m.Value.IsNegative() }
func (m Money) Equal(o Money) bool       { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool { return m.Value.GreaterThan(o.Value) }
func (m Money) String() string           { return m.Value.StringFixed(2) }

// RoundToCent rounds to the ledger's minimum unit (cents) with
// round-half-down semantics: the half case rounds toward zero, so repeated
// reward computation can never over-credit.
//
//	1.005 -> 1.00    1.0051 -> 1.01    1.009 -> 1.01
func (m Money) RoundToCent() Money {
	shifted := m.Value.Shift(2)
	floor := shifted.Floor()
	frac := shifted.Sub(floor)
	if frac.GreaterThan(decimal.New(5, -1)) {
		floor = floor.Add(decimal.NewFromInt(1))
	}
	return Money{Value: floor.Shift(-2)}
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type EdgeID string
type EventID string
type LineItemID string

// =============================================================================
// GRAPH - Users and referral edges
// =============================================================================

// User participates in the referral graph.
//
// ReferrerID is a read projection of the canonical edge set: it is derived
// from the user's single incoming edge and set exactly once, by the Binder.
// The append-only edge log is the source of truth (see ReferralEdge).
type User struct {
	ID           UserID
	ReferrerID   UserID // empty until bound
	ReferralCode string // unique; generated lazily on first request
	CreatedAt    time.Time
}

// Bound reports whether the user already has a referrer.
func (u *User) Bound() bool { return u.ReferrerID != "" }

// ReferralEdge is one directed "referrer invited referee" relationship.
// Each referee has at most one incoming edge; the edge set is a forest and
// must remain acyclic. Edges are append-only and immutable.
type ReferralEdge struct {
	ID         EdgeID
	ReferrerID UserID
	RefereeID  UserID
	CreatedAt  time.Time
}

// Ancestor is one entry of a resolved ancestor chain, nearest first.
// Level 1 is the direct referrer.
type Ancestor struct {
	UserID UserID
	EdgeID EdgeID // the relationship edge the reward flows through
	Level  int
}

// Descendant is one entry of a resolved descendant subtree.
// Depth 1 is a directly referred user.
type Descendant struct {
	UserID UserID
	Depth  int
}

// =============================================================================
// QUALIFYING EVENTS - What triggers reward computation
// =============================================================================

type EventType string

const (
	EventFirstRecharge EventType = "first_recharge"
	EventSpend         EventType = "spend"
)

// QualifyingEvent is a business occurrence that triggers reward computation
// for the ancestors of the triggering user. Delivery is at-least-once:
// the same event may arrive multiple times and must compute the same rewards.
type QualifyingEvent struct {
	ID         EventID
	UserID     UserID // the triggering user (rewards flow to their ancestors)
	Type       EventType
	Amount     Money // the qualifying amount rewards are computed from
	OccurredAt time.Time
}

// =============================================================================
// REWARD LINE ITEMS - One owed reward per (event, beneficiary, level)
// =============================================================================

type RewardType string

const (
	RewardFirstRecharge RewardType = "first_recharge"
	RewardCommission    RewardType = "commission"
)

type LineItemStatus string

const (
	StatusAvailable LineItemStatus = "available"
	StatusClaimed   LineItemStatus = "claimed"
	StatusExpired   LineItemStatus = "expired"
)

// RewardLineItem is one unit of reward owed to one beneficiary for one
// qualifying event at one referral level.
//
// INVARIANT: at most one line item exists per (EventID, BeneficiaryID, Level).
// The store enforces this with a uniqueness constraint so concurrent
// re-delivery of the same event cannot duplicate rewards.
type RewardLineItem struct {
	ID            LineItemID
	BeneficiaryID UserID
	SourceUserID  UserID // the triggering user
	EventID       EventID
	EdgeID        EdgeID // which ancestor link the reward flows through
	Level         int    // 1 = direct referrer
	Type          RewardType
	Amount        Money
	Status        LineItemStatus
	CreatedAt     time.Time
	ClaimedAt     *time.Time
}

// =============================================================================
// SUBTREE PAGINATION
// =============================================================================

// PageRequest selects one page of a descendant subtree. Cursor is the opaque
// NextCursor of a previous page, or empty for the first page.
type PageRequest struct {
	Cursor string
	Limit  int
}

// SubtreePage is one page of a descendant subtree in (depth, id) order.
// NextCursor is empty on the last page. Total is the size of the full
// bounded reachable set for this snapshot.
type SubtreePage struct {
	Descendants []Descendant
	NextCursor  string
	Total       int
	Truncated   bool // hard traversal ceiling was hit; result is partial
}

// =============================================================================
// CLAIMS - Settlement batch results
// =============================================================================

// ClaimFailure is one line item that could not be settled, with the reason
// the caller should branch on.
type ClaimFailure struct {
	ID     LineItemID
	Reason error
}

// ClaimResult reports the per-item outcome of a claim batch. One item's
// failure never rolls back another item's success; Success is false only
// when nothing was claimed.
type ClaimResult struct {
	Claimed      []LineItemID
	Failed       []ClaimFailure
	TotalClaimed Money
}

func (r *ClaimResult) Success() bool { return len(r.Claimed) > 0 }

// =============================================================================
// REFERRAL STATS - Reporting projection
// =============================================================================

// Stats summarizes a user's referral network and reward standing.
type Stats struct {
	DirectReferrals  int
	TotalDescendants int
	AvailableAmount  Money
	ClaimedAmount    Money
	ExpiredAmount    Money
}
