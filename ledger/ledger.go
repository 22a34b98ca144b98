/*
Package ledger provides the append-only account ledger behind user
balances.

PURPOSE:
  The ledger is the immutable source of truth for balance changes.
  Every reward credit is recorded here; balance is always computed by
  replaying transactions - there is no separate "balance" field that can
  drift out of sync.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, transactions cannot be modified.
  3. IDEMPOTENT: Same idempotency key = same transaction, applied once.
     Credit with a seen key reports ErrAlreadyApplied and changes nothing.

WHY IDEMPOTENT CREDIT?
  Settlement uses the reward line item id as the credit's idempotency key.
  A claim that crashes between the status transition and the credit can be
  retried without ever crediting twice - the key makes the second attempt
  an observably safe no-op.

SEE ALSO:
  - store/sqlite/sqlite.go: Production Store implementation
  - referral/store/memory.go: In-memory Store for tests
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// TYPES
// =============================================================================

type TransactionID string
type AccountID string

type Kind string

const (
	KindRewardCredit Kind = "reward_credit"
	KindAdjustment   Kind = "adjustment"
)

// Transaction is one immutable ledger entry.
type Transaction struct {
	ID             TransactionID
	AccountID      AccountID
	Delta          decimal.Decimal
	Kind           Kind
	ReferenceID    string // e.g. the reward line item id
	IdempotencyKey string
	CreatedAt      time.Time
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrAlreadyApplied is reported when a credit's idempotency key has
	// been seen before. The caller treats this as success.
	ErrAlreadyApplied = errors.New("ledger operation already applied")

	// ErrTransactionFailed is returned when an entry cannot be persisted.
	ErrTransactionFailed = errors.New("ledger transaction failed")
)

// =============================================================================
// STORE - Persistence interface (append-only)
// =============================================================================

// Store persists ledger transactions. Append-only: corrections are made
// with compensating entries, never edits.
type Store interface {
	// AppendTransaction persists one entry. Returns ErrAlreadyApplied if
	// the idempotency key exists.
	AppendTransaction(ctx context.Context, tx Transaction) error

	// TransactionsByAccount returns an account's entries, oldest first.
	TransactionsByAccount(ctx context.Context, accountID AccountID) ([]Transaction, error)
}

// =============================================================================
// SERVICE
// =============================================================================

// Service is the Ledger Service the settlement engine credits against.
type Service struct {
	Store Store
}

func NewService(store Store) *Service {
	return &Service{Store: store}
}

// Credit adds amount to the account's balance, at most once per
// idempotency key. Returns ErrAlreadyApplied when the key was seen before;
// callers treat that as success.
func (s *Service) Credit(ctx context.Context, accountID AccountID, amount decimal.Decimal, idempotencyKey string) error {
	if idempotencyKey == "" {
		return fmt.Errorf("%w: credit requires an idempotency key", ErrTransactionFailed)
	}
	if amount.IsNegative() {
		return fmt.Errorf("%w: credit amount must not be negative", ErrTransactionFailed)
	}
	return s.Store.AppendTransaction(ctx, Transaction{
		ID:             TransactionID(uuid.NewString()),
		AccountID:      accountID,
		Delta:          amount,
		Kind:           KindRewardCredit,
		ReferenceID:    idempotencyKey,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      time.Now().UTC(),
	})
}

// BalanceOf replays the account's entries. Derived, never stored.
func (s *Service) BalanceOf(ctx context.Context, accountID AccountID) (decimal.Decimal, error) {
	txs, err := s.Store.TransactionsByAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	balance := decimal.Zero
	for _, tx := range txs {
		balance = balance.Add(tx.Delta)
	}
	return balance, nil
}

// History returns the account's entries, oldest first.
func (s *Service) History(ctx context.Context, accountID AccountID) ([]Transaction, error) {
	return s.Store.TransactionsByAccount(ctx, accountID)
}
