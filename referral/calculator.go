/*
calculator.go - Tiered reward computation for qualifying events

PURPOSE:
  Given a qualifying event (first recharge, ongoing spend) and the
  triggering user's ancestor chain, produces the reward line items owed at
  each level. Computation is pure except for the idempotency lookups: it
  returns items, never persists them.

RATE PLAN:
  - Commission (spend) rewards are multi-tier: one line item per ancestor
    level up to the configured maximum, each at its own rate.
  - First-recharge rewards are tiered by amount threshold: only the
    nearest qualifying threshold fires (not cumulative), with that tier's
    per-level rates, and a beneficiary is rewarded for a given referee's
    first recharge at most once ever.

ROUNDING:
  Amounts round to the ledger's minimum unit half-DOWN. Never up: repeated
  recomputation under floating rates must not over-credit.

IDEMPOTENCY:
  Duplicate event delivery is assumed (at-least-once upstream). The store
  uniqueness constraint on (event, beneficiary, level) is the hard
  guarantee; the calculator additionally skips line items it can prove
  already exist, so recomputing an event yields the same set as computing
  it once.

SEE ALSO:
  - rewardledger.go: Persists the computed items
  - factory/rates.go: JSON rate plan parsing
*/
package referral

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// RATE PLAN CONFIGURATION
// =============================================================================

// RechargeTier is one first-recharge threshold: it applies to recharges of
// at least MinAmount, with per-level rates. Tiers are not cumulative.
type RechargeTier struct {
	MinAmount Money
	Rates     []decimal.Decimal // index 0 = level 1
}

// RatePlan holds the configured reward rates. Pure data, no behavior.
type RatePlan struct {
	// CommissionRates are the per-level spend commission rates,
	// index 0 = level 1. Length bounds the commission fan-out.
	CommissionRates []decimal.Decimal

	// RechargeTiers are first-recharge thresholds, any order; the
	// calculator picks the highest MinAmount ≤ the recharge amount.
	RechargeTiers []RechargeTier
}

// MaxRewardLevels is the deepest level any event type can reward under
// this plan.
func (p *RatePlan) MaxRewardLevels() int {
	max := len(p.CommissionRates)
	for _, t := range p.RechargeTiers {
		if len(t.Rates) > max {
			max = len(t.Rates)
		}
	}
	return max
}

// tierFor returns the nearest qualifying threshold for amount, or nil.
func (p *RatePlan) tierFor(amount Money) *RechargeTier {
	var best *RechargeTier
	for i := range p.RechargeTiers {
		t := &p.RechargeTiers[i]
		if amount.Value.LessThan(t.MinAmount.Value) {
			continue
		}
		if best == nil || t.MinAmount.GreaterThan(best.MinAmount) {
			best = t
		}
	}
	return best
}

// Config is the engine's configuration surface. Pure data, no behavior.
type Config struct {
	Plan RatePlan

	// MaxTraversalDepth bounds descendant resolution (default 20).
	MaxTraversalDepth int

	// ClaimBatchLimit bounds one claim batch (default 50).
	ClaimBatchLimit int

	// RewardTTL is how long an available reward stays claimable before the
	// expiry sweep may take it. Zero disables sweeping.
	RewardTTL time.Duration
}

// DefaultConfig mirrors the production plan: 20%/10% first-recharge rates
// above a minimum recharge, 5%/3%/1% spend commission across three levels.
func DefaultConfig() Config {
	return Config{
		Plan: RatePlan{
			CommissionRates: []decimal.Decimal{
				decimal.NewFromFloat(0.05),
				decimal.NewFromFloat(0.03),
				decimal.NewFromFloat(0.01),
			},
			RechargeTiers: []RechargeTier{
				{
					MinAmount: NewMoneyFromInt(1),
					Rates: []decimal.Decimal{
						decimal.NewFromFloat(0.20),
						decimal.NewFromFloat(0.10),
					},
				},
			},
		},
		MaxTraversalDepth: DefaultMaxDepth,
		ClaimBatchLimit:   DefaultClaimBatchLimit,
		RewardTTL:         0,
	}
}

// =============================================================================
// CALCULATOR
// =============================================================================

// Calculator computes reward line items for qualifying events.
type Calculator struct {
	Traversal *Traversal
	Rewards   RewardStore
	Plan      RatePlan
}

func NewCalculator(traversal *Traversal, rewards RewardStore, plan RatePlan) *Calculator {
	return &Calculator{Traversal: traversal, Rewards: rewards, Plan: plan}
}

// Compute resolves the triggering user's ancestor chain and produces the
// line items the event owes, not yet persisted. Items the calculator can
// prove already exist (duplicate delivery) are skipped; the store
// constraint catches the rest.
func (c *Calculator) Compute(ctx context.Context, event QualifyingEvent) ([]RewardLineItem, error) {
	if !event.Amount.IsPositive() {
		return nil, nil
	}

	chain, err := c.Traversal.ResolveAncestorChain(ctx, event.UserID, c.Plan.MaxRewardLevels())
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, nil
	}

	switch event.Type {
	case EventFirstRecharge:
		return c.computeFirstRecharge(ctx, event, chain)
	case EventSpend:
		return c.computeCommission(ctx, event, chain)
	default:
		return nil, fmt.Errorf("unknown qualifying event type %q", event.Type)
	}
}

func (c *Calculator) computeFirstRecharge(ctx context.Context, event QualifyingEvent, chain []Ancestor) ([]RewardLineItem, error) {
	tier := c.Plan.tierFor(event.Amount)
	if tier == nil {
		return nil, nil
	}

	var items []RewardLineItem
	for _, anc := range chain {
		if anc.Level > len(tier.Rates) {
			break
		}
		// Once per (beneficiary, referee) ever: a referee has exactly one
		// first recharge, but re-delivery may carry a different event id,
		// so the (event, beneficiary, level) constraint alone isn't enough.
		exists, err := c.Rewards.HasRewardFor(ctx, anc.UserID, event.UserID, RewardFirstRecharge)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}
		item := c.lineItem(event, anc, RewardFirstRecharge, tier.Rates[anc.Level-1])
		if item != nil {
			items = append(items, *item)
		}
	}
	return items, nil
}

func (c *Calculator) computeCommission(ctx context.Context, event QualifyingEvent, chain []Ancestor) ([]RewardLineItem, error) {
	var items []RewardLineItem
	for _, anc := range chain {
		if anc.Level > len(c.Plan.CommissionRates) {
			break
		}
		item := c.lineItem(event, anc, RewardCommission, c.Plan.CommissionRates[anc.Level-1])
		if item != nil {
			items = append(items, *item)
		}
	}
	return items, nil
}

func (c *Calculator) lineItem(event QualifyingEvent, anc Ancestor, rt RewardType, rate decimal.Decimal) *RewardLineItem {
	amount := event.Amount.Mul(rate).RoundToCent()
	if !amount.IsPositive() {
		return nil
	}
	return &RewardLineItem{
		ID:            LineItemID(uuid.NewString()),
		BeneficiaryID: anc.UserID,
		SourceUserID:  event.UserID,
		EventID:       event.ID,
		EdgeID:        anc.EdgeID,
		Level:         anc.Level,
		Type:          rt,
		Amount:        amount,
		Status:        StatusAvailable,
		CreatedAt:     time.Now().UTC(),
	}
}

// SortByLevel orders line items nearest level first; deterministic output
// for logging and tests.
func SortByLevel(items []RewardLineItem) {
	sort.Slice(items, func(i, j int) bool { return items[i].Level < items[j].Level })
}
