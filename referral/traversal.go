/*
traversal.go - Bounded-cost resolution of ancestor chains and subtrees

PURPOSE:
  Resolves the ancestor chain above a user (for reward fan-out) and the
  paginated descendant subtree below a user (for reporting) at a bounded,
  constant number of store round trips regardless of depth or size.

WHY THIS EXISTS:
  The naive implementation walks the graph one point lookup per edge:
  linear-but-chatty for a chain at depth d, and exponential when each
  branch re-derives the same sub-chain independently. The fix, preserved
  here, is to compute reachability as a single closure operation - the
  store answers with the whole bounded set in one query (recursive CTE in
  SQLite, a worklist walk under one lock in memory), and each node is
  visited once.

CYCLE TOLERANCE:
  Stored data may be cyclic despite the guard (races, external
  corruption). Both resolutions keep a visited set and a hard step ceiling
  independent of the caller's limits. Hitting the ceiling is logged as an
  anomaly and yields a truncated-but-successful result, never a crash:
  corrupted data must not take down reward computation for unrelated
  users.

PAGINATION:
  Subtree pages are served from the full reachable set in deterministic
  (depth, id) order. The cursor encodes the last item served, so page
  boundaries are stable across calls for a given snapshot.

SEE ALSO:
  - graph.go: The single-round-trip reachability contract
  - cache.go: Ancestor chain caching
*/
package referral

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
)

// HardStepCeiling bounds total traversal steps independent of the caller's
// maxLevels/maxDepth. Genuine graphs never approach it; hitting it means
// the stored data is cyclic.
const HardStepCeiling = 512

// DefaultSubtreePageLimit is used when a page request carries no limit.
const DefaultSubtreePageLimit = 100

// MaxSubtreePageLimit caps a single page.
const MaxSubtreePageLimit = 1000

// Traversal resolves ancestor chains and descendant subtrees.
// Read-only: safe to run concurrently with binder writes; it sees either
// the pre- or post-bind state, never a partial edge.
type Traversal struct {
	Graph GraphStore
	Cache ChainCache

	// MaxDepth bounds descendant resolution. Zero means DefaultMaxDepth.
	MaxDepth int

	// MaxNodes bounds the reachable set a single resolution will pull.
	MaxNodes int
}

// DefaultMaxDepth is deep enough for any genuine referral network.
const DefaultMaxDepth = 20

const defaultMaxNodes = 500_000

func NewTraversal(graph GraphStore, cache ChainCache) *Traversal {
	if cache == nil {
		cache = NopChainCache{}
	}
	return &Traversal{
		Graph:    graph,
		Cache:    cache,
		MaxDepth: DefaultMaxDepth,
		MaxNodes: defaultMaxNodes,
	}
}

// =============================================================================
// ANCESTOR CHAIN
// =============================================================================

// ResolveAncestorChain returns the ancestors of userID, nearest first,
// levels 1..maxLevels. The chain ends early if the user has fewer
// ancestors. Costs at most one store round trip (zero on cache hit).
func (t *Traversal) ResolveAncestorChain(ctx context.Context, userID UserID, maxLevels int) ([]Ancestor, error) {
	if maxLevels <= 0 {
		return nil, nil
	}

	if chain, ok := t.Cache.Get(userID); ok {
		return capChain(chain, maxLevels), nil
	}

	// One round trip for the full chain up to the hard ceiling; maxLevels
	// capping happens engine-side so the cache holds the complete chain.
	rows, err := t.Graph.AncestorRows(ctx, userID, HardStepCeiling)
	if err != nil {
		return nil, err
	}

	chain := t.sanitizeChain(userID, rows)
	t.Cache.Put(userID, chain)
	return capChain(chain, maxLevels), nil
}

// sanitizeChain applies the visited-set truncation that makes traversal
// safe over cyclic stored data, and renumbers levels 1..n nearest first.
func (t *Traversal) sanitizeChain(root UserID, rows []Ancestor) []Ancestor {
	visited := map[UserID]bool{root: true}
	chain := make([]Ancestor, 0, len(rows))

	for _, row := range rows {
		if visited[row.UserID] {
			log.Printf("[Traversal] anomaly: %v", &TraversalAnomaly{RootID: root, Steps: len(chain)})
			break
		}
		visited[row.UserID] = true
		chain = append(chain, Ancestor{UserID: row.UserID, EdgeID: row.EdgeID, Level: len(chain) + 1})
		if len(chain) >= HardStepCeiling {
			log.Printf("[Traversal] anomaly: %v", &TraversalAnomaly{RootID: root, Steps: len(chain)})
			break
		}
	}
	return chain
}

func capChain(chain []Ancestor, maxLevels int) []Ancestor {
	if len(chain) <= maxLevels {
		out := make([]Ancestor, len(chain))
		copy(out, chain)
		return out
	}
	out := make([]Ancestor, maxLevels)
	copy(out, chain[:maxLevels])
	return out
}

// =============================================================================
// DESCENDANT SUBTREE
// =============================================================================

// ResolveDescendantSubtree returns one page of the users transitively
// referred by userID, ordered by (depth, id). The full bounded reachable
// set comes from one store round trip; pages are sliced engine-side.
func (t *Traversal) ResolveDescendantSubtree(ctx context.Context, userID UserID, page PageRequest) (*SubtreePage, error) {
	maxDepth := t.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	maxNodes := t.MaxNodes
	if maxNodes <= 0 {
		maxNodes = defaultMaxNodes
	}

	limit := page.Limit
	if limit <= 0 {
		limit = DefaultSubtreePageLimit
	}
	if limit > MaxSubtreePageLimit {
		limit = MaxSubtreePageLimit
	}

	rows, err := t.Graph.DescendantRows(ctx, userID, maxDepth, maxNodes)
	if err != nil {
		return nil, err
	}

	// Dedup defensively: with cyclic corruption the same user can appear
	// at several depths. Keep the shallowest occurrence, report truncation.
	truncated := false
	seen := make(map[UserID]bool, len(rows))
	set := make([]Descendant, 0, len(rows))
	for _, d := range rows {
		if d.UserID == userID || seen[d.UserID] {
			truncated = true
			continue
		}
		seen[d.UserID] = true
		set = append(set, d)
	}
	if truncated {
		log.Printf("[Traversal] anomaly: %v", &TraversalAnomaly{RootID: userID, Steps: len(set)})
	}
	if len(rows) >= maxNodes {
		truncated = true
	}

	sort.Slice(set, func(i, j int) bool {
		if set[i].Depth != set[j].Depth {
			return set[i].Depth < set[j].Depth
		}
		return set[i].UserID < set[j].UserID
	})

	start := 0
	if page.Cursor != "" {
		after, err := decodeCursor(page.Cursor)
		if err != nil {
			return nil, err
		}
		start = sort.Search(len(set), func(i int) bool {
			if set[i].Depth != after.Depth {
				return set[i].Depth > after.Depth
			}
			return set[i].UserID > after.UserID
		})
	}

	end := start + limit
	if end > len(set) {
		end = len(set)
	}

	out := &SubtreePage{
		Descendants: append([]Descendant(nil), set[start:end]...),
		Total:       len(set),
		Truncated:   truncated,
	}
	if end < len(set) {
		out.NextCursor = encodeCursor(set[end-1])
	}
	return out, nil
}

// Cursor format: "<depth>:<user id>", the last item of the previous page.
// Ordering by (depth, id) makes resume points stable for a snapshot.

func encodeCursor(d Descendant) string {
	return fmt.Sprintf("%d:%s", d.Depth, d.UserID)
}

func decodeCursor(cursor string) (Descendant, error) {
	sep := strings.IndexByte(cursor, ':')
	if sep <= 0 || sep == len(cursor)-1 {
		return Descendant{}, fmt.Errorf("%w: %q", ErrBadCursor, cursor)
	}
	var depth int
	if _, err := fmt.Sscanf(cursor[:sep], "%d", &depth); err != nil {
		return Descendant{}, fmt.Errorf("%w: %q", ErrBadCursor, cursor)
	}
	return Descendant{UserID: UserID(cursor[sep+1:]), Depth: depth}, nil
}
