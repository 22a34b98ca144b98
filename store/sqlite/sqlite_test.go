package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/referral-engine/ledger"
	"github.com/warp/referral-engine/referral"
	"github.com/warp/referral-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedUser(t *testing.T, store *sqlite.Store, id string) referral.UserID {
	t.Helper()
	userID := referral.UserID(id)
	require.NoError(t, store.CreateUser(context.Background(), referral.User{
		ID:        userID,
		CreatedAt: time.Now().UTC(),
	}))
	return userID
}

func seedEdge(t *testing.T, store *sqlite.Store, referrer, referee referral.UserID) {
	t.Helper()
	require.NoError(t, store.InsertEdge(context.Background(), referral.ReferralEdge{
		ID:         referral.EdgeID(fmt.Sprintf("edge-%s-%s", referrer, referee)),
		ReferrerID: referrer,
		RefereeID:  referee,
		CreatedAt:  time.Now().UTC(),
	}))
}

func seedItem(t *testing.T, store *sqlite.Store, id, beneficiary, source, event string, level int, amount string) referral.RewardLineItem {
	t.Helper()
	item := referral.RewardLineItem{
		ID:            referral.LineItemID(id),
		BeneficiaryID: referral.UserID(beneficiary),
		SourceUserID:  referral.UserID(source),
		EventID:       referral.EventID(event),
		EdgeID:        "edge-1",
		Level:         level,
		Type:          referral.RewardFirstRecharge,
		Amount:        referral.MustParseMoney(amount),
		Status:        referral.StatusAvailable,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.InsertLineItem(context.Background(), item))
	return item
}

// =============================================================================
// USERS AND CODES
// =============================================================================

func TestStore_UserRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedUser(t, store, "alice")

	u, err := store.User(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, referral.UserID("alice"), u.ID)
	assert.Empty(t, u.ReferrerID)
	assert.Empty(t, u.ReferralCode)

	_, err = store.User(ctx, "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, referral.ErrUserNotFound))
}

func TestStore_SetReferralCode_FirstWriterWins(t *testing.T) {
	// GIVEN: A user whose code was already set
	// WHEN: A second assignment arrives (lost race)
	// THEN: No error, and the first code survives

	store := newTestStore(t)
	ctx := context.Background()

	seedUser(t, store, "alice")
	require.NoError(t, store.SetReferralCode(ctx, "alice", "CODE-ONE"))
	require.NoError(t, store.SetReferralCode(ctx, "alice", "CODE-TWO"))

	u, err := store.User(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "CODE-ONE", u.ReferralCode)

	owner, err := store.ResolveCode(ctx, "CODE-ONE")
	require.NoError(t, err)
	assert.Equal(t, referral.UserID("alice"), owner)
}

func TestStore_SetReferralCode_CollisionRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedUser(t, store, "alice")
	seedUser(t, store, "bob")
	require.NoError(t, store.SetReferralCode(ctx, "alice", "SAMECODE"))

	err := store.SetReferralCode(ctx, "bob", "SAMECODE")
	require.Error(t, err)
	assert.True(t, errors.Is(err, referral.ErrDuplicateCode))
}

func TestStore_SetReferralCode_UnknownUser(t *testing.T) {
	store := newTestStore(t)

	err := store.SetReferralCode(context.Background(), "ghost", "ANYCODE1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, referral.ErrUserNotFound))
}

func TestStore_ResolveCode_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.ResolveCode(context.Background(), "NOSUCHCD")
	require.Error(t, err)
	assert.True(t, errors.Is(err, referral.ErrCodeNotFound))
}

// =============================================================================
// EDGES
// =============================================================================

func TestStore_InsertEdge_SetsProjection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedUser(t, store, "alice")
	seedUser(t, store, "bob")
	seedEdge(t, store, "alice", "bob")

	edge, err := store.EdgeByReferee(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, edge)
	assert.Equal(t, referral.UserID("alice"), edge.ReferrerID)

	u, err := store.User(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, referral.UserID("alice"), u.ReferrerID)
}

func TestStore_InsertEdge_SecondEdgeForRefereeRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedUser(t, store, "alice")
	seedUser(t, store, "carol")
	seedUser(t, store, "bob")
	seedEdge(t, store, "alice", "bob")

	err := store.InsertEdge(ctx, referral.ReferralEdge{
		ID:         "edge-dup",
		ReferrerID: "carol",
		RefereeID:  "bob",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, referral.ErrAlreadyBound))

	// Projection untouched.
	u, err := store.User(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, referral.UserID("alice"), u.ReferrerID)
}

func TestStore_EdgeByReferee_Unbound(t *testing.T) {
	store := newTestStore(t)

	edge, err := store.EdgeByReferee(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, edge)
}

// =============================================================================
// RECURSIVE REACHABILITY
// =============================================================================

func TestStore_AncestorRows_DeepChainOneQuery(t *testing.T) {
	// GIVEN: A 30-deep chain
	// WHEN: Asking for the deepest user's ancestors
	// THEN: All 29, nearest first, levels 1..29

	store := newTestStore(t)
	ctx := context.Background()

	var prev referral.UserID = "n00"
	for i := 1; i < 30; i++ {
		next := referral.UserID(fmt.Sprintf("n%02d", i))
		seedEdge(t, store, prev, next)
		prev = next
	}

	rows, err := store.AncestorRows(ctx, prev, 512)
	require.NoError(t, err)
	require.Len(t, rows, 29)
	assert.Equal(t, referral.UserID("n28"), rows[0].UserID)
	assert.Equal(t, 1, rows[0].Level)
	assert.Equal(t, referral.UserID("n00"), rows[28].UserID)
	assert.Equal(t, 29, rows[28].Level)
}

func TestStore_AncestorRows_StepCapTerminatesOnCycle(t *testing.T) {
	// GIVEN: Corrupted cyclic data a → b → c → a
	// WHEN: Asking for ancestors with a step cap
	// THEN: The query terminates at the cap instead of recursing forever

	store := newTestStore(t)
	ctx := context.Background()

	seedEdge(t, store, "a", "b")
	seedEdge(t, store, "b", "c")
	seedEdge(t, store, "c", "a")

	rows, err := store.AncestorRows(ctx, "c", 10)
	require.NoError(t, err)
	assert.Len(t, rows, 10)
}

func TestStore_DescendantRows_OrderAndLimits(t *testing.T) {
	// GIVEN: root ← {a, b}, a ← {c, d}
	// WHEN: Asking for root's subtree
	// THEN: (depth, id) ordered; depth and node limits respected

	store := newTestStore(t)
	ctx := context.Background()

	seedEdge(t, store, "root", "a")
	seedEdge(t, store, "root", "b")
	seedEdge(t, store, "a", "c")
	seedEdge(t, store, "a", "d")

	rows, err := store.DescendantRows(ctx, "root", 20, 1000)
	require.NoError(t, err)
	want := []referral.Descendant{
		{UserID: "a", Depth: 1},
		{UserID: "b", Depth: 1},
		{UserID: "c", Depth: 2},
		{UserID: "d", Depth: 2},
	}
	assert.Equal(t, want, rows)

	shallow, err := store.DescendantRows(ctx, "root", 1, 1000)
	require.NoError(t, err)
	assert.Len(t, shallow, 2)

	capped, err := store.DescendantRows(ctx, "root", 20, 3)
	require.NoError(t, err)
	assert.Len(t, capped, 3)
}

// =============================================================================
// REWARD LINE ITEMS
// =============================================================================

func TestStore_InsertLineItem_DuplicateTupleRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedItem(t, store, "li-1", "alice", "bob", "evt-1", 1, "20.00")

	err := store.InsertLineItem(ctx, referral.RewardLineItem{
		ID:            "li-other",
		BeneficiaryID: "alice",
		SourceUserID:  "bob",
		EventID:       "evt-1",
		EdgeID:        "edge-1",
		Level:         1,
		Type:          referral.RewardFirstRecharge,
		Amount:        referral.MustParseMoney("20.00"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, referral.ErrDuplicateLineItem))
}

func TestStore_LineItemsByBeneficiary_StatusFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedItem(t, store, "li-1", "alice", "bob", "evt-1", 1, "20.00")
	seedItem(t, store, "li-2", "alice", "carol", "evt-2", 1, "5.00")
	seedItem(t, store, "li-3", "dave", "bob", "evt-1", 2, "10.00")

	_, err := store.Settle(ctx, "alice", "li-2")
	require.NoError(t, err)

	available, err := store.LineItemsByBeneficiary(ctx, "alice", referral.StatusAvailable)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, referral.LineItemID("li-1"), available[0].ID)

	all, err := store.LineItemsByBeneficiary(ctx, "alice", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_HasRewardFor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedItem(t, store, "li-1", "alice", "bob", "evt-1", 1, "20.00")

	has, err := store.HasRewardFor(ctx, "alice", "bob", referral.RewardFirstRecharge)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = store.HasRewardFor(ctx, "alice", "bob", referral.RewardCommission)
	require.NoError(t, err)
	assert.False(t, has)

	has, err = store.HasRewardFor(ctx, "alice", "carol", referral.RewardFirstRecharge)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestStore_ExpireBefore_OnlyAvailable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedItem(t, store, "li-1", "alice", "bob", "evt-1", 1, "20.00")
	seedItem(t, store, "li-2", "alice", "carol", "evt-2", 1, "5.00")
	_, err := store.Settle(ctx, "alice", "li-2")
	require.NoError(t, err)

	n, err := store.ExpireBefore(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expired, err := store.LineItem(ctx, "li-1")
	require.NoError(t, err)
	assert.Equal(t, referral.StatusExpired, expired.Status)

	claimed, err := store.LineItem(ctx, "li-2")
	require.NoError(t, err)
	assert.Equal(t, referral.StatusClaimed, claimed.Status)
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func TestStore_Settle_ClaimsAndCreditsAtomically(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedItem(t, store, "li-1", "alice", "bob", "evt-1", 1, "20.00")

	settled, err := store.Settle(ctx, "alice", "li-1")
	require.NoError(t, err)
	assert.Equal(t, referral.StatusClaimed, settled.Status)
	require.NotNil(t, settled.ClaimedAt)

	txs, err := store.TransactionsByAccount(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "20.00", txs[0].Delta.StringFixed(2))
	assert.Equal(t, "claim:li-1", txs[0].IdempotencyKey)
	assert.Equal(t, ledger.KindRewardCredit, txs[0].Kind)
}

func TestStore_Settle_SecondAttemptAlreadyClaimed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedItem(t, store, "li-1", "alice", "bob", "evt-1", 1, "20.00")

	_, err := store.Settle(ctx, "alice", "li-1")
	require.NoError(t, err)

	_, err = store.Settle(ctx, "alice", "li-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, referral.ErrAlreadyClaimed))

	txs, err := store.TransactionsByAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestStore_Settle_WrongOwnerReadsAsNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedItem(t, store, "li-1", "alice", "bob", "evt-1", 1, "20.00")

	_, err := store.Settle(ctx, "mallory", "li-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, referral.ErrLineItemNotFound))

	item, err := store.LineItem(ctx, "li-1")
	require.NoError(t, err)
	assert.Equal(t, referral.StatusAvailable, item.Status)
}

func TestStore_Settle_Expired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedItem(t, store, "li-1", "alice", "bob", "evt-1", 1, "20.00")
	_, err := store.ExpireBefore(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)

	_, err = store.Settle(ctx, "alice", "li-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, referral.ErrLineItemExpired))
}

func TestStore_Settle_UnknownItem(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Settle(context.Background(), "alice", "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, referral.ErrLineItemNotFound))
}

func TestStore_Settle_ConcurrentClaimersOneCredit(t *testing.T) {
	// GIVEN: One available item and many concurrent claimers
	// WHEN: All settle at once
	// THEN: Exactly one wins; one ledger entry exists

	store := newTestStore(t)
	ctx := context.Background()

	seedItem(t, store, "li-1", "alice", "bob", "evt-1", 1, "20.00")

	const claimers = 8
	var wg sync.WaitGroup
	var wins int64
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Settle(ctx, "alice", "li-1"); err == nil {
				atomic.AddInt64(&wins, 1)
			} else {
				assert.True(t, errors.Is(err, referral.ErrAlreadyClaimed))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins)
	txs, err := store.TransactionsByAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestStore_InsertEdge_ConcurrentBindsOneWinner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedUser(t, store, "referee")

	const binders = 8
	var wg sync.WaitGroup
	var wins int64
	for i := 0; i < binders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := store.InsertEdge(ctx, referral.ReferralEdge{
				ID:         referral.EdgeID(fmt.Sprintf("edge-%d", n)),
				ReferrerID: referral.UserID(fmt.Sprintf("referrer-%d", n)),
				RefereeID:  "referee",
			})
			if err == nil {
				atomic.AddInt64(&wins, 1)
			} else {
				assert.True(t, errors.Is(err, referral.ErrAlreadyBound))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins)
}

// =============================================================================
// LEDGER
// =============================================================================

func TestStore_AppendTransaction_IdempotencyKeyUnique(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx := ledger.Transaction{
		ID:             "lt-1",
		AccountID:      "alice",
		Delta:          decimal.NewFromFloat(20),
		Kind:           ledger.KindRewardCredit,
		IdempotencyKey: "claim:li-1",
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.AppendTransaction(ctx, tx))

	tx.ID = "lt-2"
	err := store.AppendTransaction(ctx, tx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrAlreadyApplied))
}

// =============================================================================
// FULL ENGINE OVER SQLITE
// =============================================================================

func TestEngine_OverSQLite_RechargeThenClaim(t *testing.T) {
	// GIVEN: u1 ← u2 ← u3 built through the engine over SQLite
	// WHEN: u3's first recharge of 100 arrives and u2 claims their reward
	// THEN: u2's balance is 20.00 and the reward is claimed

	store := newTestStore(t)
	engine := referral.NewEngine(store, store, store, referral.DefaultConfig())
	ctx := context.Background()

	ids := []referral.UserID{"u1", "u2", "u3"}
	for _, id := range ids {
		seedUser(t, store, string(id))
	}
	for i := 1; i < len(ids); i++ {
		code, err := engine.Binder.EnsureReferralCode(ctx, ids[i-1])
		require.NoError(t, err)
		_, err = engine.Bind(ctx, ids[i], code)
		require.NoError(t, err)
	}

	items, err := engine.OnQualifyingEvent(ctx, referral.QualifyingEvent{
		ID:     "evt-1",
		UserID: "u3",
		Type:   referral.EventFirstRecharge,
		Amount: referral.NewMoney(100),
	})
	require.NoError(t, err)
	require.Len(t, items, 2)

	var u2Item referral.LineItemID
	for _, item := range items {
		if item.BeneficiaryID == "u2" {
			u2Item = item.ID
			assert.Equal(t, "20.00", item.Amount.String())
		}
	}
	require.NotEmpty(t, u2Item)

	result, err := engine.Claim(ctx, "u2", []referral.LineItemID{u2Item})
	require.NoError(t, err)
	require.True(t, result.Success())

	balance, err := ledger.NewService(store).BalanceOf(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "20.00", balance.StringFixed(2))
}
