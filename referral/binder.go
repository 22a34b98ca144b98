/*
binder.go - Orchestrates adding one referral edge

PURPOSE:
  The Binder is the only writer of referral edges. It resolves the
  referral code, runs the cycle guard, persists the edge atomically, and
  invalidates the chain cache. Idempotent under retries: the store's
  uniqueness constraint on the referee's parent-edge slot guarantees that
  two concurrent binds for the same referee resolve to exactly one success
  and one AlreadyBound, with no read-then-write race.

REFERRAL CODES:
  Codes are generated lazily on first request: 8 characters from a
  crockford-style alphabet (no 0/O/1/I ambiguity), uniqueness enforced by
  the store, regenerate-and-retry on collision.

SEE ALSO:
  - guard.go: Validation the binder runs first
  - cache.go: Invalidation rule applied after the write
*/
package referral

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// codeAlphabet avoids visually ambiguous characters.
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const codeLength = 8

// codeRetries bounds collision retries; with a 31^8 space, collisions past
// the first retry mean the RNG is broken, not the code space exhausted.
const codeRetries = 5

// Binder orchestrates adding one edge to the referral graph.
type Binder struct {
	Graph GraphStore
	Guard *CycleGuard
	Cache ChainCache
}

func NewBinder(graph GraphStore, cache ChainCache) *Binder {
	if cache == nil {
		cache = NopChainCache{}
	}
	return &Binder{
		Graph: graph,
		Guard: NewCycleGuard(graph),
		Cache: cache,
	}
}

// Bind resolves the referral code and persists the referrer→referee edge.
// Returns the resolved referrer id on success, or a *BindRejection whose
// Reason is one of ErrCodeNotFound, ErrSelfReferral, ErrAlreadyBound,
// ErrCycleDetected.
func (b *Binder) Bind(ctx context.Context, refereeID UserID, code string) (UserID, error) {
	reject := func(referrerID UserID, reason error) (UserID, error) {
		return "", &BindRejection{
			RefereeID:  refereeID,
			ReferrerID: referrerID,
			Code:       code,
			Reason:     reason,
		}
	}

	if _, err := b.Graph.User(ctx, refereeID); err != nil {
		return "", err
	}

	referrerID, err := b.Graph.ResolveCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			return reject("", ErrCodeNotFound)
		}
		return "", err
	}

	if err := b.Guard.Validate(ctx, referrerID, refereeID); err != nil {
		if IsClientError(err) {
			return reject(referrerID, err)
		}
		return "", err
	}

	edge := ReferralEdge{
		ID:         EdgeID(uuid.NewString()),
		ReferrerID: referrerID,
		RefereeID:  refereeID,
		CreatedAt:  time.Now().UTC(),
	}

	// The guard's already-bound check above is advisory; the store's
	// uniqueness constraint is what decides a race between two binds.
	if err := b.Graph.InsertEdge(ctx, edge); err != nil {
		if errors.Is(err, ErrAlreadyBound) {
			return reject(referrerID, ErrAlreadyBound)
		}
		return "", err
	}

	b.Cache.Invalidate(refereeID)
	return referrerID, nil
}

// EnsureReferralCode returns the user's referral code, generating and
// persisting one on first request.
func (b *Binder) EnsureReferralCode(ctx context.Context, userID UserID) (string, error) {
	u, err := b.Graph.User(ctx, userID)
	if err != nil {
		return "", err
	}
	if u.ReferralCode != "" {
		return u.ReferralCode, nil
	}

	for i := 0; i < codeRetries; i++ {
		code, err := generateCode()
		if err != nil {
			return "", err
		}
		err = b.Graph.SetReferralCode(ctx, userID, code)
		if err == nil {
			// Re-read: if a concurrent caller won the assignment race,
			// the store kept their code and ours was a no-op.
			u, err := b.Graph.User(ctx, userID)
			if err != nil {
				return "", err
			}
			return u.ReferralCode, nil
		}
		if !errors.Is(err, ErrDuplicateCode) {
			return "", err
		}
	}
	return "", fmt.Errorf("could not generate a unique referral code after %d attempts", codeRetries)
}

func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate referral code: %w", err)
	}
	for i, c := range buf {
		buf[i] = codeAlphabet[int(c)%len(codeAlphabet)]
	}
	return string(buf), nil
}
