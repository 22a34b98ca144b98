/*
Package sqlite provides the SQLite-backed implementation of the engine's
storage interfaces.

PURPOSE:
  Implements referral.GraphStore, referral.RewardStore, referral.Settler,
  and ledger.Store using SQLite. In production the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  users:               Identity, referrer projection, unique referral code
  referral_edges:      Append-only edge log (canonical graph)
  reward_line_items:   Rewards with status lifecycle
  ledger_transactions: Immutable account ledger

CONCURRENCY INVARIANTS ENFORCED HERE:
  - referral_edges.referee_id is UNIQUE: two concurrent binds for the same
    referee resolve to one insert and one constraint violation, surfaced
    as ErrAlreadyBound. No read-then-write race.
  - reward_line_items has UNIQUE(event_id, beneficiary_id, level):
    concurrent re-delivery of an event produces at most one item per
    tuple, surfaced as ErrDuplicateLineItem.
  - Settlement is one database transaction: a conditional
    available→claimed UPDATE (the loser of a race matches zero rows) plus
    the ledger credit, whose UNIQUE idempotency key makes the credit
    at-most-once even across crashed retries.

REACHABILITY:
  AncestorRows and DescendantRows are single recursive-CTE queries: one
  round trip for an entire chain or bounded subtree. The recursion is
  depth-capped in SQL so cyclic corrupted data terminates; the traversal
  engine owns visited-set truncation on top.

WAL MODE:
  Opened with WAL for read concurrency and a busy timeout so readers and
  the single writer do not fail spuriously under load.

USAGE:
  store, err := sqlite.New("./data/referral.db")
  engine := referral.NewEngine(store, store, store, referral.DefaultConfig())

SEE ALSO:
  - referral/graph.go: Interface contracts
  - referral/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/referral-engine/ledger"
	"github.com/warp/referral-engine/referral"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; a single pooled connection also keeps
	// ":memory:" databases from splitting per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Users: identity plus the referrer READ PROJECTION. The projection is
	-- written exactly once, inside the same transaction as the edge insert;
	-- the append-only edge log below is the canonical graph.
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		referrer_id TEXT,
		referral_code TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_referral_code
		ON users(referral_code) WHERE referral_code IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_users_referrer
		ON users(referrer_id) WHERE referrer_id IS NOT NULL;

	-- Referral edges (append-only; no UPDATE, no DELETE)
	CREATE TABLE IF NOT EXISTS referral_edges (
		id TEXT PRIMARY KEY,
		referrer_id TEXT NOT NULL,
		referee_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: one incoming edge per referee. This is what decides a race
	-- between two concurrent binds.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_referee
		ON referral_edges(referee_id);
	CREATE INDEX IF NOT EXISTS idx_edges_referrer
		ON referral_edges(referrer_id);

	-- Reward line items
	CREATE TABLE IF NOT EXISTS reward_line_items (
		id TEXT PRIMARY KEY,
		beneficiary_id TEXT NOT NULL,
		source_user_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		edge_id TEXT NOT NULL,
		level INTEGER NOT NULL,
		reward_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'available',
		created_at TEXT NOT NULL,
		claimed_at TEXT
	);

	-- CRITICAL: reward computation idempotency under event re-delivery.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_reward_tuple
		ON reward_line_items(event_id, beneficiary_id, level);
	CREATE INDEX IF NOT EXISTS idx_rewards_beneficiary_status
		ON reward_line_items(beneficiary_id, status);
	CREATE INDEX IF NOT EXISTS idx_rewards_source
		ON reward_line_items(beneficiary_id, source_user_id, reward_type);
	CREATE INDEX IF NOT EXISTS idx_rewards_status_created
		ON reward_line_items(status, created_at);

	-- Account ledger (append-only)
	CREATE TABLE IF NOT EXISTS ledger_transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		delta TEXT NOT NULL,
		kind TEXT NOT NULL,
		reference_id TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_account
		ON ledger_transactions(account_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// GRAPH STORE (referral.GraphStore interface)
// =============================================================================

// CreateUser persists a new user.
func (s *Store) CreateUser(ctx context.Context, u referral.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, referrer_id, referral_code, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, nullString(string(u.ReferrerID)), nullString(u.ReferralCode),
		createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return s.wrap("create user", err)
	}
	return nil
}

// User retrieves a user by id.
func (s *Store) User(ctx context.Context, id referral.UserID) (*referral.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		u            referral.User
		referrerID   sql.NullString
		referralCode sql.NullString
		createdAt    string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, referrer_id, referral_code, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &referrerID, &referralCode, &createdAt)

	if err == sql.ErrNoRows {
		return nil, referral.ErrUserNotFound
	}
	if err != nil {
		return nil, s.wrap("load user", err)
	}

	u.ReferrerID = referral.UserID(referrerID.String)
	u.ReferralCode = referralCode.String
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &u, nil
}

// ResolveCode resolves a referral code to its owner.
func (s *Store) ResolveCode(ctx context.Context, code string) (referral.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var id referral.UserID
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE referral_code = ?`, code,
	).Scan(&id)

	if err == sql.ErrNoRows {
		return "", referral.ErrCodeNotFound
	}
	if err != nil {
		return "", s.wrap("resolve code", err)
	}
	return id, nil
}

// SetReferralCode records a lazily generated code, only if the user has
// none yet. A lost assignment race is a no-op; a code collision returns
// ErrDuplicateCode.
func (s *Store) SetReferralCode(ctx context.Context, id referral.UserID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET referral_code = ?
		 WHERE id = ? AND (referral_code IS NULL OR referral_code = '')`,
		code, id,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return referral.ErrDuplicateCode
		}
		return s.wrap("set referral code", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either the user doesn't exist or they already have a code.
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE id = ?`, id).Scan(&exists); err != nil {
			return s.wrap("set referral code", err)
		}
		if exists == 0 {
			return referral.ErrUserNotFound
		}
	}
	return nil
}

// InsertEdge persists an edge and sets the referee's referrer projection
// in one transaction. The unique index on referee_id decides bind races.
func (s *Store) InsertEdge(ctx context.Context, e referral.ReferralEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("insert edge", err)
	}
	defer tx.Rollback()

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO referral_edges (id, referrer_id, referee_id, created_at) VALUES (?, ?, ?, ?)`,
		e.ID, e.ReferrerID, e.RefereeID, createdAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return referral.ErrAlreadyBound
		}
		return s.wrap("insert edge", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET referrer_id = ?
		 WHERE id = ? AND (referrer_id IS NULL OR referrer_id = '')`,
		e.ReferrerID, e.RefereeID,
	)
	if err != nil {
		return s.wrap("insert edge", err)
	}

	if err := tx.Commit(); err != nil {
		return s.wrap("insert edge", err)
	}
	return nil
}

// EdgeByReferee returns the referee's single incoming edge, or nil.
func (s *Store) EdgeByReferee(ctx context.Context, refereeID referral.UserID) (*referral.ReferralEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		e         referral.ReferralEdge
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, referrer_id, referee_id, created_at FROM referral_edges WHERE referee_id = ?`,
		refereeID,
	).Scan(&e.ID, &e.ReferrerID, &e.RefereeID, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, s.wrap("load edge", err)
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &e, nil
}

// AncestorRows resolves the chain above userID in ONE query. The
// recursion is step-capped in SQL so cyclic data terminates here; the
// traversal engine applies its visited-set tolerance on top.
func (s *Store) AncestorRows(ctx context.Context, userID referral.UserID, maxSteps int) ([]referral.Ancestor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		WITH RECURSIVE chain(edge_id, referrer_id, level) AS (
			SELECT e.id, e.referrer_id, 1
			FROM referral_edges e
			WHERE e.referee_id = ?
			UNION ALL
			SELECT e.id, e.referrer_id, c.level + 1
			FROM referral_edges e
			JOIN chain c ON e.referee_id = c.referrer_id
			WHERE c.level < ?
		)
		SELECT referrer_id, edge_id, level FROM chain ORDER BY level ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, maxSteps)
	if err != nil {
		return nil, s.wrap("ancestor chain", err)
	}
	defer rows.Close()

	var out []referral.Ancestor
	for rows.Next() {
		var a referral.Ancestor
		if err := rows.Scan(&a.UserID, &a.EdgeID, &a.Level); err != nil {
			return nil, s.wrap("ancestor chain", err)
		}
		out = append(out, a)
	}
	return out, s.wrap("ancestor chain", rows.Err())
}

// DescendantRows resolves the bounded subtree below userID in ONE query,
// ordered (depth, user id) for stable pagination.
func (s *Store) DescendantRows(ctx context.Context, userID referral.UserID, maxDepth, maxNodes int) ([]referral.Descendant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		WITH RECURSIVE subtree(user_id, depth) AS (
			SELECT e.referee_id, 1
			FROM referral_edges e
			WHERE e.referrer_id = ?
			UNION ALL
			SELECT e.referee_id, t.depth + 1
			FROM referral_edges e
			JOIN subtree t ON e.referrer_id = t.user_id
			WHERE t.depth < ?
		)
		SELECT user_id, depth FROM subtree
		ORDER BY depth ASC, user_id ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, maxDepth, maxNodes)
	if err != nil {
		return nil, s.wrap("descendant subtree", err)
	}
	defer rows.Close()

	var out []referral.Descendant
	for rows.Next() {
		var d referral.Descendant
		if err := rows.Scan(&d.UserID, &d.Depth); err != nil {
			return nil, s.wrap("descendant subtree", err)
		}
		out = append(out, d)
	}
	return out, s.wrap("descendant subtree", rows.Err())
}

// =============================================================================
// REWARD STORE (referral.RewardStore interface)
// =============================================================================

// InsertLineItem persists an item in available state. The unique tuple
// index absorbs duplicate event delivery.
func (s *Store) InsertLineItem(ctx context.Context, item referral.RewardLineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	status := item.Status
	if status == "" {
		status = referral.StatusAvailable
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reward_line_items
		 (id, beneficiary_id, source_user_id, event_id, edge_id, level, reward_type, amount, status, created_at, claimed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		item.ID, item.BeneficiaryID, item.SourceUserID, item.EventID, item.EdgeID,
		item.Level, item.Type, item.Amount.Value.String(), status,
		createdAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return referral.ErrDuplicateLineItem
		}
		return s.wrap("insert line item", err)
	}
	return nil
}

// LineItem returns an item by id, or nil when absent.
func (s *Store) LineItem(ctx context.Context, id referral.LineItemID) (*referral.RewardLineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items, err := s.queryLineItems(ctx, selectLineItems+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// LineItemsByBeneficiary returns a beneficiary's items, newest first.
// An empty status returns items in every state.
func (s *Store) LineItemsByBeneficiary(ctx context.Context, beneficiaryID referral.UserID, status referral.LineItemStatus) ([]referral.RewardLineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if status == "" {
		return s.queryLineItems(ctx,
			selectLineItems+` WHERE beneficiary_id = ? ORDER BY created_at DESC, id DESC`,
			beneficiaryID)
	}
	return s.queryLineItems(ctx,
		selectLineItems+` WHERE beneficiary_id = ? AND status = ? ORDER BY created_at DESC, id DESC`,
		beneficiaryID, status)
}

// HasRewardFor reports whether the beneficiary already holds a reward of
// the given type sourced from the given user, in any status.
func (s *Store) HasRewardFor(ctx context.Context, beneficiaryID, sourceUserID referral.UserID, rewardType referral.RewardType) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reward_line_items
		 WHERE beneficiary_id = ? AND source_user_id = ? AND reward_type = ?`,
		beneficiaryID, sourceUserID, rewardType,
	).Scan(&count)
	if err != nil {
		return false, s.wrap("reward lookup", err)
	}
	return count > 0, nil
}

// ExpireBefore sweeps available items created before the cutoff to
// expired. Claimed items are never touched.
func (s *Store) ExpireBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE reward_line_items SET status = 'expired'
		 WHERE status = 'available' AND created_at < ?`,
		cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, s.wrap("expire sweep", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

const selectLineItems = `
	SELECT id, beneficiary_id, source_user_id, event_id, edge_id, level,
	       reward_type, amount, status, created_at, claimed_at
	FROM reward_line_items`

func (s *Store) queryLineItems(ctx context.Context, query string, args ...any) ([]referral.RewardLineItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrap("query line items", err)
	}
	defer rows.Close()

	var items []referral.RewardLineItem
	for rows.Next() {
		item, err := scanLineItem(rows)
		if err != nil {
			return nil, s.wrap("scan line item", err)
		}
		items = append(items, item)
	}
	return items, s.wrap("query line items", rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLineItem(row rowScanner) (referral.RewardLineItem, error) {
	var (
		item      referral.RewardLineItem
		amount    string
		createdAt string
		claimedAt sql.NullString
	)
	err := row.Scan(
		&item.ID, &item.BeneficiaryID, &item.SourceUserID, &item.EventID,
		&item.EdgeID, &item.Level, &item.Type, &amount, &item.Status,
		&createdAt, &claimedAt,
	)
	if err != nil {
		return item, err
	}
	item.Amount = referral.MustParseMoney(amount)
	item.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if claimedAt.Valid {
		t, _ := time.Parse(time.RFC3339, claimedAt.String)
		item.ClaimedAt = &t
	}
	return item, nil
}

// =============================================================================
// SETTLER (referral.Settler interface)
// =============================================================================

// Settle transitions one line item available→claimed and credits the
// beneficiary's ledger account, in one database transaction. The
// conditional UPDATE decides claim races (the loser matches zero rows);
// the credit's unique idempotency key makes the balance mutation
// at-most-once even across crashed retries.
func (s *Store) Settle(ctx context.Context, beneficiaryID referral.UserID, id referral.LineItemID) (*referral.RewardLineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.wrap("settle", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE reward_line_items SET status = 'claimed', claimed_at = ?
		 WHERE id = ? AND beneficiary_id = ? AND status = 'available'`,
		now.Format(time.RFC3339), id, beneficiaryID,
	)
	if err != nil {
		return nil, s.wrap("settle", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		// Lost a race, wrong owner, or wrong state: classify for the caller.
		var status string
		var owner referral.UserID
		err := tx.QueryRowContext(ctx,
			`SELECT status, beneficiary_id FROM reward_line_items WHERE id = ?`, id,
		).Scan(&status, &owner)
		if err == sql.ErrNoRows {
			return nil, referral.ErrLineItemNotFound
		}
		if err != nil {
			return nil, s.wrap("settle", err)
		}
		// Ownership mismatch reads as not-found: one user's claim must not
		// leak another user's reward state.
		if owner != beneficiaryID {
			return nil, referral.ErrLineItemNotFound
		}
		if referral.LineItemStatus(status) == referral.StatusExpired {
			return nil, referral.ErrLineItemExpired
		}
		return nil, referral.ErrAlreadyClaimed
	}

	item, err := scanLineItem(tx.QueryRowContext(ctx, selectLineItems+` WHERE id = ?`, id))
	if err != nil {
		return nil, s.wrap("settle", err)
	}

	// The line item id keys the credit: a retried settlement that somehow
	// reaches this point twice still credits once.
	_, err = tx.ExecContext(ctx,
		`INSERT INTO ledger_transactions
		 (id, account_id, delta, kind, reference_id, idempotency_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"lt-"+string(id), string(beneficiaryID), item.Amount.Value.String(),
		ledger.KindRewardCredit, string(id), "claim:"+string(id),
		now.Format(time.RFC3339),
	)
	if err != nil && !isUniqueConstraintError(err) {
		return nil, fmt.Errorf("%w: %v", referral.ErrLedgerCreditFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, s.wrap("settle", err)
	}
	return &item, nil
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

// AppendTransaction persists one ledger entry. Append-only: the table
// never sees UPDATE or DELETE.
func (s *Store) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_transactions
		 (id, account_id, delta, kind, reference_id, idempotency_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.AccountID, tx.Delta.String(), tx.Kind,
		nullString(tx.ReferenceID), nullString(tx.IdempotencyKey),
		createdAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrAlreadyApplied
		}
		return s.wrap("append ledger transaction", err)
	}
	return nil
}

// TransactionsByAccount returns an account's entries, oldest first.
func (s *Store) TransactionsByAccount(ctx context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, delta, kind, reference_id, idempotency_key, created_at
		 FROM ledger_transactions
		 WHERE account_id = ?
		 ORDER BY created_at ASC, id ASC`,
		accountID,
	)
	if err != nil {
		return nil, s.wrap("load ledger transactions", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		var (
			tx             ledger.Transaction
			delta          string
			referenceID    sql.NullString
			idempotencyKey sql.NullString
			createdAt      string
		)
		if err := rows.Scan(&tx.ID, &tx.AccountID, &delta, &tx.Kind, &referenceID, &idempotencyKey, &createdAt); err != nil {
			return nil, s.wrap("scan ledger transaction", err)
		}
		tx.Delta = referral.MustParseMoney(delta).Value
		tx.ReferenceID = referenceID.String
		tx.IdempotencyKey = idempotencyKey.String
		tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		txs = append(txs, tx)
	}
	return txs, s.wrap("load ledger transactions", rows.Err())
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"ledger_transactions", "reward_line_items", "referral_edges", "users"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// wrap classifies infrastructure failures so callers can branch on
// ErrStoreUnavailable and retry. Constraint and not-found cases are
// handled before this is reached.
func (s *Store) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		strings.Contains(err.Error(), "database is locked") {
		return fmt.Errorf("%w: %s: %v", referral.ErrStoreUnavailable, op, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

var (
	_ referral.GraphStore  = (*Store)(nil)
	_ referral.RewardStore = (*Store)(nil)
	_ referral.Settler     = (*Store)(nil)
	_ ledger.Store         = (*Store)(nil)
)
