/*
rewardledger.go - Persistence of computed rewards

PURPOSE:
  The RewardLedger is the write path between the calculator and the
  reward store. It persists computed line items in available state,
  absorbing duplicate-tuple inserts as no-ops: at-least-once event
  delivery is assumed upstream, so an idempotency hit is expected
  behavior, not an error the caller should see.

STATE MACHINE:
  available ──claim──▶ claimed        (claim.go, exactly once)
  available ──sweep──▶ expired        (time-based, conditional)

  Line items are destroyed-by-transition, never deleted.

SEE ALSO:
  - calculator.go: Produces the items recorded here
  - claim.go: The available→claimed transition
  - api/scheduler.go: The expiry sweep
*/
package referral

import (
	"context"
	"errors"
	"time"
)

// RewardLedger records computed reward line items and answers reward
// queries. It wraps a RewardStore with the duplicate-absorbing semantics
// the engine's idempotency model requires.
type RewardLedger struct {
	Store RewardStore
}

func NewRewardLedger(store RewardStore) *RewardLedger {
	return &RewardLedger{Store: store}
}

// Record persists items in available state. Duplicate (event, beneficiary,
// level) tuples are silently skipped; the returned slice holds only the
// items that were actually inserted by this call.
func (l *RewardLedger) Record(ctx context.Context, items []RewardLineItem) ([]RewardLineItem, error) {
	var inserted []RewardLineItem
	for _, item := range items {
		err := l.Store.InsertLineItem(ctx, item)
		if errors.Is(err, ErrDuplicateLineItem) {
			continue
		}
		if err != nil {
			return inserted, err
		}
		inserted = append(inserted, item)
	}
	return inserted, nil
}

// Available returns a beneficiary's claimable items, newest first.
func (l *RewardLedger) Available(ctx context.Context, beneficiaryID UserID) ([]RewardLineItem, error) {
	return l.Store.LineItemsByBeneficiary(ctx, beneficiaryID, StatusAvailable)
}

// History returns all of a beneficiary's items regardless of status.
func (l *RewardLedger) History(ctx context.Context, beneficiaryID UserID) ([]RewardLineItem, error) {
	return l.Store.LineItemsByBeneficiary(ctx, beneficiaryID, "")
}

// ExpireBefore sweeps available items created before cutoff to expired.
func (l *RewardLedger) ExpireBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return l.Store.ExpireBefore(ctx, cutoff)
}

// Totals sums a beneficiary's items by status.
func (l *RewardLedger) Totals(ctx context.Context, beneficiaryID UserID) (available, claimed, expired Money, err error) {
	items, err := l.History(ctx, beneficiaryID)
	if err != nil {
		return available, claimed, expired, err
	}
	for _, item := range items {
		switch item.Status {
		case StatusAvailable:
			available = available.Add(item.Amount)
		case StatusClaimed:
			claimed = claimed.Add(item.Amount)
		case StatusExpired:
			expired = expired.Add(item.Amount)
		}
	}
	return available, claimed, expired, nil
}
