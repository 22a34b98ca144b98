/*
guard.go - Cycle guard for proposed referral edges

PURPOSE:
  Validates a proposed edge against the existing graph before it is
  persisted. The guard is the single gatekeeper of edge writes: under
  correct operation the edge set is a forest, so a cycle can only arise
  from a race between concurrent binds or externally corrupted data.
  The guard treats both as errors to reject, never as assumptions to rely
  on elsewhere - traversal still tolerates cyclic data defensively.

CHECK ORDER:
  1. Self-referral (cheapest, purely local)
  2. Already bound (one point lookup, definitive)
  3. Reachability (one bounded subtree query)

  Already-bound is checked before cycle detection on purpose: when a
  referee is bound to a different referrer who is also a descendant, both
  conditions hold, and AlreadyBound is the cheaper, definitive answer.

SEE ALSO:
  - binder.go: Runs the guard before every edge write
*/
package referral

import "context"

// GuardDepthCeiling bounds how far the guard walks the candidate's
// descendants looking for the referrer. Deeper genuine chains than this do
// not occur; anything past it is treated as corrupt.
const GuardDepthCeiling = 64

// guardNodeCeiling caps the reachable-set size the guard will pull.
const guardNodeCeiling = 1_000_000

// CycleGuard validates proposed edges against the existing graph.
type CycleGuard struct {
	Graph GraphStore
}

func NewCycleGuard(graph GraphStore) *CycleGuard {
	return &CycleGuard{Graph: graph}
}

// Validate rejects edges that would create a self-loop or a cycle, and
// binds for referees that already have a referrer.
func (g *CycleGuard) Validate(ctx context.Context, referrerID, refereeID UserID) error {
	if referrerID == refereeID {
		return ErrSelfReferral
	}

	existing, err := g.Graph.EdgeByReferee(ctx, refereeID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAlreadyBound
	}

	// Binding referrer→referee closes a loop exactly when the referrer is
	// already reachable below the referee. One bounded subtree query,
	// fail fast on sight.
	descendants, err := g.Graph.DescendantRows(ctx, refereeID, GuardDepthCeiling, guardNodeCeiling)
	if err != nil {
		return err
	}
	for _, d := range descendants {
		if d.UserID == referrerID {
			return ErrCycleDetected
		}
	}
	return nil
}
