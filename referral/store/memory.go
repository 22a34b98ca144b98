/*
Package store provides an in-memory implementation of the engine's
persistence interfaces, for tests and development.

Implements referral.GraphStore, referral.RewardStore, referral.Settler,
and ledger.Store. Every exported method counts as exactly one store round
trip (see RoundTrips), which is how the traversal cost-bound tests verify
that resolving a deep chain or a large subtree stays at a constant number
of store calls.

Atomicity is simulated with a single mutex: Settle performs the
conditional status transition and the ledger credit under one lock, which
models the one-transaction settlement the SQLite store does for real.
*/
package store

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warp/referral-engine/ledger"
	"github.com/warp/referral-engine/referral"
)

type rewardTuple struct {
	EventID       referral.EventID
	BeneficiaryID referral.UserID
	Level         int
}

// Memory is the in-memory store.
type Memory struct {
	mu sync.RWMutex

	users map[referral.UserID]referral.User
	codes map[string]referral.UserID

	edgesByReferee map[referral.UserID]referral.ReferralEdge
	children       map[referral.UserID][]referral.UserID

	items      map[referral.LineItemID]referral.RewardLineItem
	itemOrder  []referral.LineItemID // insertion order, for stable listings
	itemTuples map[rewardTuple]referral.LineItemID

	ledgerTxs  map[ledger.AccountID][]ledger.Transaction
	ledgerKeys map[string]bool

	roundTrips int64
}

func NewMemory() *Memory {
	return &Memory{
		users:          make(map[referral.UserID]referral.User),
		codes:          make(map[string]referral.UserID),
		edgesByReferee: make(map[referral.UserID]referral.ReferralEdge),
		children:       make(map[referral.UserID][]referral.UserID),
		items:          make(map[referral.LineItemID]referral.RewardLineItem),
		itemTuples:     make(map[rewardTuple]referral.LineItemID),
		ledgerTxs:      make(map[ledger.AccountID][]ledger.Transaction),
		ledgerKeys:     make(map[string]bool),
	}
}

// RoundTrips returns how many store calls have been made.
func (m *Memory) RoundTrips() int64 { return atomic.LoadInt64(&m.roundTrips) }

// ResetRoundTrips zeroes the counter between test phases.
func (m *Memory) ResetRoundTrips() { atomic.StoreInt64(&m.roundTrips, 0) }

func (m *Memory) trip() { atomic.AddInt64(&m.roundTrips, 1) }

// =============================================================================
// GRAPH STORE
// =============================================================================

func (m *Memory) CreateUser(_ context.Context, u referral.User) error {
	m.trip()
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	m.users[u.ID] = u
	if u.ReferralCode != "" {
		m.codes[u.ReferralCode] = u.ID
	}
	return nil
}

func (m *Memory) User(_ context.Context, id referral.UserID) (*referral.User, error) {
	m.trip()
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, referral.ErrUserNotFound
	}
	return &u, nil
}

func (m *Memory) ResolveCode(_ context.Context, code string) (referral.UserID, error) {
	m.trip()
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.codes[code]
	if !ok {
		return "", referral.ErrCodeNotFound
	}
	return id, nil
}

func (m *Memory) SetReferralCode(_ context.Context, id referral.UserID, code string) error {
	m.trip()
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return referral.ErrUserNotFound
	}
	if u.ReferralCode != "" {
		return nil // a concurrent caller won; keep their code
	}
	if _, taken := m.codes[code]; taken {
		return referral.ErrDuplicateCode
	}
	u.ReferralCode = code
	m.users[id] = u
	m.codes[code] = id
	return nil
}

func (m *Memory) InsertEdge(_ context.Context, e referral.ReferralEdge) error {
	m.trip()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, bound := m.edgesByReferee[e.RefereeID]; bound {
		return referral.ErrAlreadyBound
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.edgesByReferee[e.RefereeID] = e
	m.children[e.ReferrerID] = append(m.children[e.ReferrerID], e.RefereeID)

	// Referrer projection, set exactly once alongside the edge.
	if u, ok := m.users[e.RefereeID]; ok && u.ReferrerID == "" {
		u.ReferrerID = e.ReferrerID
		m.users[e.RefereeID] = u
	}
	return nil
}

func (m *Memory) EdgeByReferee(_ context.Context, refereeID referral.UserID) (*referral.ReferralEdge, error) {
	m.trip()
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.edgesByReferee[refereeID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// AncestorRows walks the parent map under one lock: one round trip for the
// whole chain, however deep.
func (m *Memory) AncestorRows(_ context.Context, userID referral.UserID, maxSteps int) ([]referral.Ancestor, error) {
	m.trip()
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []referral.Ancestor
	current := userID
	for len(rows) < maxSteps {
		e, ok := m.edgesByReferee[current]
		if !ok {
			break
		}
		rows = append(rows, referral.Ancestor{
			UserID: e.ReferrerID,
			EdgeID: e.ID,
			Level:  len(rows) + 1,
		})
		current = e.ReferrerID
	}
	return rows, nil
}

// DescendantRows runs a breadth-first worklist with a visited set under
// one lock: one round trip for the whole bounded subtree.
func (m *Memory) DescendantRows(_ context.Context, userID referral.UserID, maxDepth, maxNodes int) ([]referral.Descendant, error) {
	m.trip()
	m.mu.RLock()
	defer m.mu.RUnlock()

	type frontier struct {
		id    referral.UserID
		depth int
	}
	visited := map[referral.UserID]bool{userID: true}
	queue := []frontier{{id: userID, depth: 0}}
	var rows []referral.Descendant

	for len(queue) > 0 && len(rows) < maxNodes {
		head := queue[0]
		queue = queue[1:]
		if head.depth >= maxDepth {
			continue
		}
		for _, child := range m.children[head.id] {
			if visited[child] {
				continue
			}
			visited[child] = true
			rows = append(rows, referral.Descendant{UserID: child, Depth: head.depth + 1})
			if len(rows) >= maxNodes {
				break
			}
			queue = append(queue, frontier{id: child, depth: head.depth + 1})
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Depth != rows[j].Depth {
			return rows[i].Depth < rows[j].Depth
		}
		return rows[i].UserID < rows[j].UserID
	})
	return rows, nil
}

// =============================================================================
// REWARD STORE
// =============================================================================

func (m *Memory) InsertLineItem(_ context.Context, item referral.RewardLineItem) error {
	m.trip()
	m.mu.Lock()
	defer m.mu.Unlock()
	tuple := rewardTuple{EventID: item.EventID, BeneficiaryID: item.BeneficiaryID, Level: item.Level}
	if _, dup := m.itemTuples[tuple]; dup {
		return referral.ErrDuplicateLineItem
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	m.items[item.ID] = item
	m.itemOrder = append(m.itemOrder, item.ID)
	m.itemTuples[tuple] = item.ID
	return nil
}

func (m *Memory) LineItem(_ context.Context, id referral.LineItemID) (*referral.RewardLineItem, error) {
	m.trip()
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (m *Memory) LineItemsByBeneficiary(_ context.Context, beneficiaryID referral.UserID, status referral.LineItemStatus) ([]referral.RewardLineItem, error) {
	m.trip()
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []referral.RewardLineItem
	for i := len(m.itemOrder) - 1; i >= 0; i-- {
		item := m.items[m.itemOrder[i]]
		if item.BeneficiaryID != beneficiaryID {
			continue
		}
		if status != "" && item.Status != status {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (m *Memory) HasRewardFor(_ context.Context, beneficiaryID, sourceUserID referral.UserID, rewardType referral.RewardType) (bool, error) {
	m.trip()
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, item := range m.items {
		if item.BeneficiaryID == beneficiaryID && item.SourceUserID == sourceUserID && item.Type == rewardType {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ExpireBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.trip()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, item := range m.items {
		if item.Status == referral.StatusAvailable && item.CreatedAt.Before(cutoff) {
			item.Status = referral.StatusExpired
			m.items[id] = item
			n++
		}
	}
	return n, nil
}

// =============================================================================
// SETTLER - Conditional transition + credit under one lock
// =============================================================================

func (m *Memory) Settle(_ context.Context, beneficiaryID referral.UserID, id referral.LineItemID) (*referral.RewardLineItem, error) {
	m.trip()
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok || item.BeneficiaryID != beneficiaryID {
		return nil, referral.ErrLineItemNotFound
	}
	switch item.Status {
	case referral.StatusClaimed:
		return nil, referral.ErrAlreadyClaimed
	case referral.StatusExpired:
		return nil, referral.ErrLineItemExpired
	}

	now := time.Now().UTC()
	item.Status = referral.StatusClaimed
	item.ClaimedAt = &now
	m.items[id] = item

	key := "claim:" + string(id)
	if !m.ledgerKeys[key] {
		m.ledgerKeys[key] = true
		account := ledger.AccountID(beneficiaryID)
		m.ledgerTxs[account] = append(m.ledgerTxs[account], ledger.Transaction{
			ID:             ledger.TransactionID("mem-" + string(id)),
			AccountID:      account,
			Delta:          item.Amount.Value,
			Kind:           ledger.KindRewardCredit,
			ReferenceID:    string(id),
			IdempotencyKey: key,
			CreatedAt:      now,
		})
	}
	return &item, nil
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (m *Memory) AppendTransaction(_ context.Context, tx ledger.Transaction) error {
	m.trip()
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.IdempotencyKey != "" && m.ledgerKeys[tx.IdempotencyKey] {
		return ledger.ErrAlreadyApplied
	}
	if tx.IdempotencyKey != "" {
		m.ledgerKeys[tx.IdempotencyKey] = true
	}
	m.ledgerTxs[tx.AccountID] = append(m.ledgerTxs[tx.AccountID], tx)
	return nil
}

func (m *Memory) TransactionsByAccount(_ context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	m.trip()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Transaction, len(m.ledgerTxs[accountID]))
	copy(out, m.ledgerTxs[accountID])
	return out, nil
}

var (
	_ referral.GraphStore  = (*Memory)(nil)
	_ referral.RewardStore = (*Memory)(nil)
	_ referral.Settler     = (*Memory)(nil)
	_ ledger.Store         = (*Memory)(nil)
)
