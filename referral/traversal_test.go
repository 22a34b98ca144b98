package referral_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/referral-engine/referral"
	memstore "github.com/warp/referral-engine/referral/store"
)

// insertEdge writes an edge directly, bypassing the binder. Used to build
// graphs fast and to inject corrupted (cyclic) data the guard would refuse.
func insertEdge(t *testing.T, mem *memstore.Memory, referrer, referee referral.UserID) {
	t.Helper()
	require.NoError(t, mem.InsertEdge(context.Background(), referral.ReferralEdge{
		ID:         referral.EdgeID(fmt.Sprintf("edge-%s-%s", referrer, referee)),
		ReferrerID: referrer,
		RefereeID:  referee,
	}))
}

// =============================================================================
// ANCESTOR CHAIN
// =============================================================================

func TestTraversal_AncestorChain_OrderAndLevels(t *testing.T) {
	// GIVEN: Chain u0 ← u1 ← ... ← u9
	// WHEN: Resolving u9's ancestors
	// THEN: Nearest first (u8 at level 1), levels numbered 1..9

	engine, mem := newTestEngine(t)
	ids := createChain(t, engine, mem, 10)

	chain, err := engine.GetAncestorChain(context.Background(), ids[9])
	require.NoError(t, err)
	require.Len(t, chain, 9)

	for i, anc := range chain {
		assert.Equal(t, i+1, anc.Level)
		assert.Equal(t, ids[8-i], anc.UserID)
		assert.NotEmpty(t, anc.EdgeID)
	}
}

func TestTraversal_AncestorChain_CappedAtMaxLevels(t *testing.T) {
	// GIVEN: Chain of depth 10
	// WHEN: Resolving with maxLevels 3
	// THEN: Exactly the 3 nearest ancestors

	engine, mem := newTestEngine(t)
	ids := createChain(t, engine, mem, 10)

	traversal := engine.Traversal
	chain, err := traversal.ResolveAncestorChain(context.Background(), ids[9], 3)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, ids[8], chain[0].UserID)
	assert.Equal(t, ids[6], chain[2].UserID)
}

func TestTraversal_AncestorChain_NoReferrer(t *testing.T) {
	engine, mem := newTestEngine(t)
	alice := createUser(t, mem, "alice")

	chain, err := engine.GetAncestorChain(context.Background(), alice)
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestTraversal_AncestorChain_OneRoundTripRegardlessOfDepth(t *testing.T) {
	// GIVEN: A chain of depth 50
	// WHEN: Resolving the deepest user's full chain
	// THEN: Exactly one store call, and zero on the cached second call

	mem := memstore.NewMemory()
	traversal := referral.NewTraversal(mem, referral.NewMemoryChainCache(0))
	ctx := context.Background()

	var prev referral.UserID = "n000"
	for i := 1; i < 50; i++ {
		next := referral.UserID(fmt.Sprintf("n%03d", i))
		insertEdge(t, mem, prev, next)
		prev = next
	}

	mem.ResetRoundTrips()
	chain, err := traversal.ResolveAncestorChain(ctx, prev, referral.HardStepCeiling)
	require.NoError(t, err)
	assert.Len(t, chain, 49)
	assert.Equal(t, int64(1), mem.RoundTrips())

	// Cache hit: no store calls at all.
	mem.ResetRoundTrips()
	chain, err = traversal.ResolveAncestorChain(ctx, prev, referral.HardStepCeiling)
	require.NoError(t, err)
	assert.Len(t, chain, 49)
	assert.Equal(t, int64(0), mem.RoundTrips())
}

func TestTraversal_AncestorChain_CycleTruncatesWithoutError(t *testing.T) {
	// GIVEN: Corrupted data forming a cycle a → b → c → a
	// WHEN: Resolving c's ancestors
	// THEN: Each node appears once and resolution succeeds

	mem := memstore.NewMemory()
	traversal := referral.NewTraversal(mem, nil)

	insertEdge(t, mem, "a", "b")
	insertEdge(t, mem, "b", "c")
	insertEdge(t, mem, "c", "a")

	chain, err := traversal.ResolveAncestorChain(context.Background(), "c", referral.HardStepCeiling)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, referral.UserID("b"), chain[0].UserID)
	assert.Equal(t, referral.UserID("a"), chain[1].UserID)
}

// =============================================================================
// DESCENDANT SUBTREE
// =============================================================================

func TestTraversal_Subtree_BFSOrderAndDepths(t *testing.T) {
	// GIVEN: root ← {a, b}, a ← {c, d}
	// WHEN: Resolving root's subtree
	// THEN: (depth, id) order: a(1), b(1), c(2), d(2)

	mem := memstore.NewMemory()
	traversal := referral.NewTraversal(mem, nil)

	insertEdge(t, mem, "root", "a")
	insertEdge(t, mem, "root", "b")
	insertEdge(t, mem, "a", "c")
	insertEdge(t, mem, "a", "d")

	page, err := traversal.ResolveDescendantSubtree(context.Background(), "root", referral.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Descendants, 4)
	assert.Equal(t, 4, page.Total)
	assert.Empty(t, page.NextCursor)
	assert.False(t, page.Truncated)

	want := []referral.Descendant{
		{UserID: "a", Depth: 1},
		{UserID: "b", Depth: 1},
		{UserID: "c", Depth: 2},
		{UserID: "d", Depth: 2},
	}
	assert.Equal(t, want, page.Descendants)
}

func TestTraversal_Subtree_Pagination_StableNoOverlap(t *testing.T) {
	// GIVEN: A root with 25 direct referrals
	// WHEN: Paging through with limit 10
	// THEN: Three pages, no duplicates, no gaps

	mem := memstore.NewMemory()
	traversal := referral.NewTraversal(mem, nil)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		insertEdge(t, mem, "root", referral.UserID(fmt.Sprintf("kid-%02d", i)))
	}

	seen := map[referral.UserID]bool{}
	cursor := ""
	pages := 0
	for {
		page, err := traversal.ResolveDescendantSubtree(ctx, "root",
			referral.PageRequest{Cursor: cursor, Limit: 10})
		require.NoError(t, err)
		pages++
		assert.Equal(t, 25, page.Total)
		for _, d := range page.Descendants {
			assert.False(t, seen[d.UserID], "duplicate across pages: %s", d.UserID)
			seen[d.UserID] = true
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, 3, pages)
	assert.Len(t, seen, 25)
}

func TestTraversal_Subtree_MalformedCursor(t *testing.T) {
	mem := memstore.NewMemory()
	traversal := referral.NewTraversal(mem, nil)

	_, err := traversal.ResolveDescendantSubtree(context.Background(), "root",
		referral.PageRequest{Cursor: "not-a-cursor"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cursor")
}

func TestTraversal_Subtree_DepthLimit(t *testing.T) {
	// GIVEN: A chain of depth 10 below root
	// WHEN: Resolving with MaxDepth 3
	// THEN: Only depths 1..3 appear

	mem := memstore.NewMemory()
	traversal := referral.NewTraversal(mem, nil)
	traversal.MaxDepth = 3

	var prev referral.UserID = "root"
	for i := 0; i < 10; i++ {
		next := referral.UserID(fmt.Sprintf("d%02d", i))
		insertEdge(t, mem, prev, next)
		prev = next
	}

	page, err := traversal.ResolveDescendantSubtree(context.Background(), "root", referral.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Descendants, 3)
	for _, d := range page.Descendants {
		assert.LessOrEqual(t, d.Depth, 3)
	}
}

func TestTraversal_Subtree_OneRoundTripRegardlessOfSize(t *testing.T) {
	// GIVEN: A three-level network of ~1110 users
	// WHEN: Resolving the root's subtree (one page)
	// THEN: Exactly one store call

	mem := memstore.NewMemory()
	traversal := referral.NewTraversal(mem, nil)
	ctx := context.Background()

	// 10 children, each with 10 children, each with 10 more.
	for i := 0; i < 10; i++ {
		l1 := referral.UserID(fmt.Sprintf("a%d", i))
		insertEdge(t, mem, "root", l1)
		for j := 0; j < 10; j++ {
			l2 := referral.UserID(fmt.Sprintf("b%d-%d", i, j))
			insertEdge(t, mem, l1, l2)
			for k := 0; k < 10; k++ {
				insertEdge(t, mem, l2, referral.UserID(fmt.Sprintf("c%d-%d-%d", i, j, k)))
			}
		}
	}

	mem.ResetRoundTrips()
	page, err := traversal.ResolveDescendantSubtree(ctx, "root",
		referral.PageRequest{Limit: referral.MaxSubtreePageLimit})
	require.NoError(t, err)
	assert.Equal(t, 1110, page.Total)
	assert.Equal(t, int64(1), mem.RoundTrips())
}

func TestTraversal_Subtree_CycleTolerated(t *testing.T) {
	// GIVEN: Corrupted data where a descendant loops back to the root
	// WHEN: Resolving the subtree
	// THEN: Resolution succeeds; the root never lists itself

	mem := memstore.NewMemory()
	traversal := referral.NewTraversal(mem, nil)

	insertEdge(t, mem, "root", "a")
	insertEdge(t, mem, "a", "b")
	insertEdge(t, mem, "b", "root")

	page, err := traversal.ResolveDescendantSubtree(context.Background(), "root", referral.PageRequest{})
	require.NoError(t, err)
	for _, d := range page.Descendants {
		assert.NotEqual(t, referral.UserID("root"), d.UserID)
	}
}

// =============================================================================
// CACHE INVALIDATION
// =============================================================================

func TestTraversal_CacheInvalidatedOnBind(t *testing.T) {
	// GIVEN: alice's chain resolved and cached while unbound
	// WHEN: alice binds under bob
	// THEN: The next resolution reflects the new edge, not the cached miss

	engine, mem := newTestEngine(t)
	ctx := context.Background()

	bob := createUser(t, mem, "bob")
	alice := createUser(t, mem, "alice")

	chain, err := engine.GetAncestorChain(ctx, alice)
	require.NoError(t, err)
	require.Empty(t, chain)

	code, err := engine.Binder.EnsureReferralCode(ctx, bob)
	require.NoError(t, err)
	_, err = engine.Bind(ctx, alice, code)
	require.NoError(t, err)

	chain, err = engine.GetAncestorChain(ctx, alice)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, bob, chain[0].UserID)
}

// =============================================================================
// STATS
// =============================================================================

func TestEngine_Stats_CountsDirectAndTotal(t *testing.T) {
	// GIVEN: root ← {a, b}, a ← c
	// WHEN: Computing root's stats
	// THEN: 2 direct referrals, 3 total descendants

	engine, mem := newTestEngine(t)
	ctx := context.Background()

	insertEdge(t, mem, "root", "a")
	insertEdge(t, mem, "root", "b")
	insertEdge(t, mem, "a", "c")

	stats, err := engine.Stats(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DirectReferrals)
	assert.Equal(t, 3, stats.TotalDescendants)
}
