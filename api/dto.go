/*
dto.go - Data Transfer Objects for the HTTP API

PURPOSE:
  Defines request/response JSON structures. Keeps API contracts separate
  from domain types, so internal refactors don't break API clients.

CONVENTIONS:
  - snake_case JSON fields
  - Amounts serialized as strings with two decimal places ("20.00")
  - Timestamps as RFC3339
  - omitempty on optional fields

SEE ALSO:
  - handlers.go: Uses these DTOs
  - referral/types.go: Domain types these map from
*/
package api

// =============================================================================
// REQUEST DTOS
// =============================================================================

// CreateUserRequest creates a new user, optionally bound at signup.
type CreateUserRequest struct {
	ID   string `json:"id"`
	Code string `json:"code,omitempty"` // referral code to bind at signup
}

// BindRequest attaches an existing user beneath a code's owner.
type BindRequest struct {
	Code string `json:"code"`
}

// EventRequest reports one qualifying event for reward computation.
type EventRequest struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Type       string `json:"type"` // first_recharge | spend
	Amount     string `json:"amount"`
	OccurredAt string `json:"occurred_at,omitempty"` // RFC3339, defaults to now
}

// ClaimRequest settles a batch of available rewards.
type ClaimRequest struct {
	LineItemIDs []string `json:"line_item_ids"`
}

// =============================================================================
// RESPONSE DTOS
// =============================================================================

// UserDTO is the API representation of a user.
type UserDTO struct {
	ID           string `json:"id"`
	ReferrerID   string `json:"referrer_id,omitempty"`
	ReferralCode string `json:"referral_code,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// CodeDTO is the result of referral code issuance.
type CodeDTO struct {
	UserID string `json:"user_id"`
	Code   string `json:"code"`
}

// BindResultDTO reports a successful bind.
type BindResultDTO struct {
	RefereeID  string `json:"referee_id"`
	ReferrerID string `json:"referrer_id"`
}

// AncestorDTO is one level of a resolved referral chain.
type AncestorDTO struct {
	UserID string `json:"user_id"`
	EdgeID string `json:"edge_id"`
	Level  int    `json:"level"`
}

// DescendantDTO is one entry of a resolved subtree page.
type DescendantDTO struct {
	UserID string `json:"user_id"`
	Depth  int    `json:"depth"`
}

// SubtreePageDTO is one page of a descendant subtree.
type SubtreePageDTO struct {
	Descendants []DescendantDTO `json:"descendants"`
	NextCursor  string          `json:"next_cursor,omitempty"`
	Total       int             `json:"total"`
	Truncated   bool            `json:"truncated,omitempty"`
}

// RewardDTO is the API representation of a reward line item.
type RewardDTO struct {
	ID            string `json:"id"`
	BeneficiaryID string `json:"beneficiary_id"`
	SourceUserID  string `json:"source_user_id"`
	EventID       string `json:"event_id"`
	Level         int    `json:"level"`
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
	ClaimedAt     string `json:"claimed_at,omitempty"`
}

// ClaimFailureDTO reports one item that could not be settled.
type ClaimFailureDTO struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// ClaimResultDTO reports the per-item outcome of a claim batch.
type ClaimResultDTO struct {
	Claimed      []string          `json:"claimed"`
	Failed       []ClaimFailureDTO `json:"failed,omitempty"`
	TotalClaimed string            `json:"total_claimed"`
}

// StatsDTO summarizes a user's referral network and reward standing.
type StatsDTO struct {
	UserID           string `json:"user_id"`
	DirectReferrals  int    `json:"direct_referrals"`
	TotalDescendants int    `json:"total_descendants"`
	AvailableAmount  string `json:"available_amount"`
	ClaimedAmount    string `json:"claimed_amount"`
	ExpiredAmount    string `json:"expired_amount"`
}

// BalanceDTO is a user's credited ledger balance.
type BalanceDTO struct {
	UserID  string `json:"user_id"`
	Balance string `json:"balance"`
}

// LedgerEntryDTO is one ledger transaction.
type LedgerEntryDTO struct {
	ID          string `json:"id"`
	Delta       string `json:"delta"`
	Kind        string `json:"kind"`
	ReferenceID string `json:"reference_id,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// SweepResultDTO reports an expiry sweep.
type SweepResultDTO struct {
	Expired int    `json:"expired"`
	Cutoff  string `json:"cutoff"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
