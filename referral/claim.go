/*
claim.go - Claim orchestration: settle rewards exactly once

PURPOSE:
  The public entry point for "claim these reward ids now". Batches
  requests, tolerates partial failure, and reports per-item outcomes.
  The money-critical work - the conditional available→claimed transition
  plus the balance credit, as one atomic unit keyed by the line item id -
  lives behind the Settler interface; the orchestrator owns batching,
  dedup, limits, and result shaping.

PARTIAL SUCCESS:
  One item's failure never rolls back another item's success. The overall
  result reports failure only when zero items settled. A timed-out batch
  leaves already-settled items claimed; re-submitting the remaining ids is
  safe because settlement is idempotent per item.

CONCURRENCY:
  The concurrency unit is the line item id. N concurrent claims for one
  item resolve to exactly one winner (one ledger credit); the others
  observe AlreadyClaimed.

SEE ALSO:
  - graph.go: Settler contract
  - store/sqlite/sqlite.go: Transactional Settle implementation
*/
package referral

import "context"

// DefaultClaimBatchLimit keeps claim transactions short.
const DefaultClaimBatchLimit = 50

// ClaimOrchestrator settles batches of reward line items.
type ClaimOrchestrator struct {
	Settler Settler

	// BatchLimit caps ids per call, after dedup. Zero means the default.
	BatchLimit int
}

func NewClaimOrchestrator(settler Settler) *ClaimOrchestrator {
	return &ClaimOrchestrator{Settler: settler, BatchLimit: DefaultClaimBatchLimit}
}

// Claim settles the given line items for the beneficiary. Items the caller
// does not own fail with ErrLineItemNotFound; already-settled items fail
// with ErrAlreadyClaimed; expired items with ErrLineItemExpired. Transient
// settlement failures are reported per item and safe to re-submit.
func (o *ClaimOrchestrator) Claim(ctx context.Context, beneficiaryID UserID, ids []LineItemID) (*ClaimResult, error) {
	limit := o.BatchLimit
	if limit <= 0 {
		limit = DefaultClaimBatchLimit
	}

	// Duplicate ids within one batch would race against themselves;
	// settle each id once.
	seen := make(map[LineItemID]bool, len(ids))
	unique := make([]LineItemID, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}

	if len(unique) > limit {
		return nil, ErrBatchTooLarge
	}

	result := &ClaimResult{}
	for _, id := range unique {
		item, err := o.Settler.Settle(ctx, beneficiaryID, id)
		if err != nil {
			result.Failed = append(result.Failed, ClaimFailure{ID: id, Reason: err})
			continue
		}
		result.Claimed = append(result.Claimed, id)
		result.TotalClaimed = result.TotalClaimed.Add(item.Amount)
	}
	return result, nil
}
