/*
engine.go - Facade wiring the engine's components together

PURPOSE:
  Bundles the binder, traversal engine, calculator, reward ledger, and
  claim orchestrator behind the five operations the request layer
  consumes. Handlers stay thin: parse, delegate, serialize.

DATA FLOW:
  qualifying event → traversal (ancestors) → calculator (line items)
  → reward ledger (persist available) → claim orchestrator (on request)
  → ledger service (credit) → reward ledger (claimed)
*/
package referral

import "context"

// Engine is the public surface of the referral subsystem.
type Engine struct {
	Binder    *Binder
	Traversal *Traversal
	Calc      *Calculator
	Rewards   *RewardLedger
	Claims    *ClaimOrchestrator

	Config Config
}

// NewEngine wires the engine over a graph store, reward store, and settler.
func NewEngine(graph GraphStore, rewards RewardStore, settler Settler, cfg Config) *Engine {
	cache := NewMemoryChainCache(0)
	traversal := NewTraversal(graph, cache)
	if cfg.MaxTraversalDepth > 0 {
		traversal.MaxDepth = cfg.MaxTraversalDepth
	}

	claims := NewClaimOrchestrator(settler)
	if cfg.ClaimBatchLimit > 0 {
		claims.BatchLimit = cfg.ClaimBatchLimit
	}

	return &Engine{
		Binder:    NewBinder(graph, cache),
		Traversal: traversal,
		Calc:      NewCalculator(traversal, rewards, cfg.Plan),
		Rewards:   NewRewardLedger(rewards),
		Claims:    claims,
		Config:    cfg,
	}
}

// Bind adds one referral edge, resolving the code first.
func (e *Engine) Bind(ctx context.Context, refereeID UserID, code string) (UserID, error) {
	return e.Binder.Bind(ctx, refereeID, code)
}

// GetAncestorChain returns the full reward-relevant chain above userID.
func (e *Engine) GetAncestorChain(ctx context.Context, userID UserID) ([]Ancestor, error) {
	return e.Traversal.ResolveAncestorChain(ctx, userID, e.Config.MaxTraversalDepth)
}

// GetDescendantSubtree returns one page of the subtree below userID.
func (e *Engine) GetDescendantSubtree(ctx context.Context, userID UserID, page PageRequest) (*SubtreePage, error) {
	return e.Traversal.ResolveDescendantSubtree(ctx, userID, page)
}

// OnQualifyingEvent computes and persists the rewards one event owes.
// Idempotent: re-delivering the same event records nothing new.
func (e *Engine) OnQualifyingEvent(ctx context.Context, event QualifyingEvent) ([]RewardLineItem, error) {
	items, err := e.Calc.Compute(ctx, event)
	if err != nil {
		return nil, err
	}
	return e.Rewards.Record(ctx, items)
}

// Claim settles reward line items for a beneficiary.
func (e *Engine) Claim(ctx context.Context, beneficiaryID UserID, ids []LineItemID) (*ClaimResult, error) {
	return e.Claims.Claim(ctx, beneficiaryID, ids)
}

// Stats summarizes a user's network and reward standing.
func (e *Engine) Stats(ctx context.Context, userID UserID) (*Stats, error) {
	// Pages come back in (depth, id) order, so level-1 referrals are
	// exhausted before any deeper entry appears.
	direct, total := 0, 0
	page := PageRequest{Limit: MaxSubtreePageLimit}
	for {
		subtree, err := e.Traversal.ResolveDescendantSubtree(ctx, userID, page)
		if err != nil {
			return nil, err
		}
		total = subtree.Total
		pastDirect := false
		for _, d := range subtree.Descendants {
			if d.Depth == 1 {
				direct++
			} else {
				pastDirect = true
			}
		}
		if subtree.NextCursor == "" || pastDirect {
			break
		}
		page.Cursor = subtree.NextCursor
	}
	available, claimed, expired, err := e.Rewards.Totals(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Stats{
		DirectReferrals:  direct,
		TotalDescendants: total,
		AvailableAmount:  available,
		ClaimedAmount:    claimed,
		ExpiredAmount:    expired,
	}, nil
}
