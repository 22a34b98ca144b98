/*
handlers.go - HTTP API handlers for the referral engine

PURPOSE:
  Exposes the referral engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Users:
    POST   /api/users                   Create user (optional bind at signup)
    GET    /api/users/{id}              Get user details
    POST   /api/users/{id}/code         Issue (or return) referral code
    POST   /api/users/{id}/bind         Bind under a referral code
    GET    /api/users/{id}/ancestors    Resolved referrer chain
    GET    /api/users/{id}/subtree      Paginated descendant subtree
    GET    /api/users/{id}/rewards      Reward line items (filterable)
    POST   /api/users/{id}/claims       Settle a claim batch
    GET    /api/users/{id}/stats        Network and reward summary
    GET    /api/users/{id}/balance      Credited ledger balance
    GET    /api/users/{id}/ledger       Ledger history

  Events:
    POST   /api/events                  Report a qualifying event

  Admin:
    POST   /api/admin/expire            Trigger an expiry sweep
    POST   /api/reset                   Database reset (dev only)

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (engine, ledger)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, rejected binds
  - 404: User / line item not found
  - 409: Conflict (already bound, already claimed, duplicate code)
  - 503: Store unavailable (caller should retry)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - referral/engine.go: The domain facade handlers delegate to
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/referral-engine/ledger"
	"github.com/warp/referral-engine/referral"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter clears all data (dev/demo only).
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *referral.Engine
	Graph    referral.GraphStore
	Ledger   *ledger.Service
	Resetter Resetter
}

// NewHandler creates a new handler over the engine and its stores.
func NewHandler(engine *referral.Engine, graph referral.GraphStore, ledgerSvc *ledger.Service) *Handler {
	return &Handler{
		Engine: engine,
		Graph:  graph,
		Ledger: ledgerSvc,
	}
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// CreateUser creates a new user, optionally binding them at signup when a
// referral code is supplied.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}

	u := referral.User{ID: referral.UserID(req.ID), CreatedAt: time.Now().UTC()}
	if err := h.Graph.CreateUser(r.Context(), u); err != nil {
		writeDomainError(w, "Failed to create user", err)
		return
	}

	if req.Code != "" {
		if _, err := h.Engine.Bind(r.Context(), u.ID, req.Code); err != nil {
			// The user exists; surface the bind rejection.
			writeDomainError(w, "Signup bind rejected", err)
			return
		}
	}

	created, err := h.Graph.User(r.Context(), u.ID)
	if err != nil {
		writeDomainError(w, "Failed to load user", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(created))
}

// GetUser returns a single user.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := referral.UserID(chi.URLParam(r, "id"))

	u, err := h.Graph.User(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get user", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(u))
}

// IssueCode returns the user's referral code, generating one on first use.
func (h *Handler) IssueCode(w http.ResponseWriter, r *http.Request) {
	id := referral.UserID(chi.URLParam(r, "id"))

	code, err := h.Engine.Binder.EnsureReferralCode(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to issue referral code", err)
		return
	}
	writeJSON(w, http.StatusOK, CodeDTO{UserID: string(id), Code: code})
}

// Bind attaches an existing user beneath a referral code's owner.
func (h *Handler) Bind(w http.ResponseWriter, r *http.Request) {
	id := referral.UserID(chi.URLParam(r, "id"))

	var req BindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required", nil)
		return
	}

	referrerID, err := h.Engine.Bind(r.Context(), id, req.Code)
	if err != nil {
		writeDomainError(w, "Bind rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, BindResultDTO{
		RefereeID:  string(id),
		ReferrerID: string(referrerID),
	})
}

// =============================================================================
// TRAVERSAL HANDLERS
// =============================================================================

// GetAncestors returns the user's resolved referrer chain, nearest first.
func (h *Handler) GetAncestors(w http.ResponseWriter, r *http.Request) {
	id := referral.UserID(chi.URLParam(r, "id"))

	chain, err := h.Engine.GetAncestorChain(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to resolve ancestors", err)
		return
	}

	dtos := make([]AncestorDTO, len(chain))
	for i, a := range chain {
		dtos[i] = AncestorDTO{UserID: string(a.UserID), EdgeID: string(a.EdgeID), Level: a.Level}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSubtree returns one page of the user's descendant subtree.
// Query params: cursor (opaque, from a previous page), limit.
func (h *Handler) GetSubtree(w http.ResponseWriter, r *http.Request) {
	id := referral.UserID(chi.URLParam(r, "id"))

	page := referral.PageRequest{Cursor: r.URL.Query().Get("cursor")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := parsePositiveInt(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		page.Limit = limit
	}

	result, err := h.Engine.GetDescendantSubtree(r.Context(), id, page)
	if err != nil {
		writeDomainError(w, "Failed to resolve subtree", err)
		return
	}

	dto := SubtreePageDTO{
		Descendants: make([]DescendantDTO, len(result.Descendants)),
		NextCursor:  result.NextCursor,
		Total:       result.Total,
		Truncated:   result.Truncated,
	}
	for i, d := range result.Descendants {
		dto.Descendants[i] = DescendantDTO{UserID: string(d.UserID), Depth: d.Depth}
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetStats returns the user's network and reward summary.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	id := referral.UserID(chi.URLParam(r, "id"))

	stats, err := h.Engine.Stats(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, StatsDTO{
		UserID:           string(id),
		DirectReferrals:  stats.DirectReferrals,
		TotalDescendants: stats.TotalDescendants,
		AvailableAmount:  stats.AvailableAmount.String(),
		ClaimedAmount:    stats.ClaimedAmount.String(),
		ExpiredAmount:    stats.ExpiredAmount.String(),
	})
}

// =============================================================================
// EVENT AND REWARD HANDLERS
// =============================================================================

// ReportEvent accepts a qualifying event and computes rewards for the
// triggering user's ancestor chain. Duplicate delivery is absorbed: items
// already recorded are simply not re-created.
func (h *Handler) ReportEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "id and user_id are required", nil)
		return
	}

	eventType := referral.EventType(req.Type)
	if eventType != referral.EventFirstRecharge && eventType != referral.EventSpend {
		writeError(w, http.StatusBadRequest, "type must be first_recharge or spend", nil)
		return
	}

	amount, err := referral.ParseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	occurredAt := time.Now().UTC()
	if req.OccurredAt != "" {
		occurredAt, err = time.Parse(time.RFC3339, req.OccurredAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid occurred_at (use RFC3339)", err)
			return
		}
	}

	items, err := h.Engine.OnQualifyingEvent(r.Context(), referral.QualifyingEvent{
		ID:         referral.EventID(req.ID),
		UserID:     referral.UserID(req.UserID),
		Type:       eventType,
		Amount:     amount,
		OccurredAt: occurredAt,
	})
	if err != nil {
		writeDomainError(w, "Failed to process event", err)
		return
	}

	dtos := make([]RewardDTO, len(items))
	for i, item := range items {
		dtos[i] = toRewardDTO(item)
	}
	writeJSON(w, http.StatusCreated, dtos)
}

// ListRewards returns a beneficiary's reward line items, newest first.
// Query param: status (available | claimed | expired; empty = all).
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	id := referral.UserID(chi.URLParam(r, "id"))

	status := referral.LineItemStatus(r.URL.Query().Get("status"))
	switch status {
	case "", referral.StatusAvailable, referral.StatusClaimed, referral.StatusExpired:
	default:
		writeError(w, http.StatusBadRequest, "Invalid status filter", nil)
		return
	}

	var (
		items []referral.RewardLineItem
		err   error
	)
	if status == referral.StatusAvailable {
		items, err = h.Engine.Rewards.Available(r.Context(), id)
	} else {
		items, err = h.Engine.Rewards.History(r.Context(), id)
	}
	if err != nil {
		writeDomainError(w, "Failed to list rewards", err)
		return
	}

	dtos := make([]RewardDTO, 0, len(items))
	for _, item := range items {
		if status != "" && item.Status != status {
			continue
		}
		dtos = append(dtos, toRewardDTO(item))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Claim settles a batch of the user's available rewards. Per-item failures
// are reported in the body; the response is 200 as long as the batch was
// processable at all.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	id := referral.UserID(chi.URLParam(r, "id"))

	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.LineItemIDs) == 0 {
		writeError(w, http.StatusBadRequest, "line_item_ids is required", nil)
		return
	}

	ids := make([]referral.LineItemID, len(req.LineItemIDs))
	for i, raw := range req.LineItemIDs {
		ids[i] = referral.LineItemID(raw)
	}

	result, err := h.Engine.Claim(r.Context(), id, ids)
	if err != nil {
		writeDomainError(w, "Failed to process claim batch", err)
		return
	}

	dto := ClaimResultDTO{
		Claimed:      make([]string, len(result.Claimed)),
		TotalClaimed: result.TotalClaimed.String(),
	}
	for i, itemID := range result.Claimed {
		dto.Claimed[i] = string(itemID)
	}
	for _, f := range result.Failed {
		dto.Failed = append(dto.Failed, ClaimFailureDTO{ID: string(f.ID), Reason: f.Reason.Error()})
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// GetBalance returns the user's credited ledger balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	balance, err := h.Ledger.BalanceOf(r.Context(), ledger.AccountID(id))
	if err != nil {
		writeDomainError(w, "Failed to compute balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{UserID: id, Balance: balance.StringFixed(2)})
}

// GetLedger returns the user's ledger history, oldest first.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	txs, err := h.Ledger.History(r.Context(), ledger.AccountID(id))
	if err != nil {
		writeDomainError(w, "Failed to load ledger history", err)
		return
	}

	dtos := make([]LedgerEntryDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = LedgerEntryDTO{
			ID:          string(tx.ID),
			Delta:       tx.Delta.StringFixed(2),
			Kind:        string(tx.Kind),
			ReferenceID: tx.ReferenceID,
			CreatedAt:   tx.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerExpiry runs an immediate expiry sweep against the configured TTL.
func (h *Handler) TriggerExpiry(w http.ResponseWriter, r *http.Request) {
	ttl := h.Engine.Config.RewardTTL
	if ttl <= 0 {
		writeError(w, http.StatusBadRequest, "Reward expiry is disabled (no TTL configured)", nil)
		return
	}

	cutoff := time.Now().UTC().Add(-ttl)
	n, err := h.Engine.Rewards.ExpireBefore(r.Context(), cutoff)
	if err != nil {
		writeDomainError(w, "Failed to run expiry sweep", err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResultDTO{Expired: n, Cutoff: cutoff.Format(time.RFC3339)})
}

// ResetDatabase clears all data (dev/demo only).
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if h.Resetter == nil {
		writeError(w, http.StatusNotFound, "Reset not available", nil)
		return
	}
	if err := h.Resetter.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// HELPERS
// =============================================================================

func toUserDTO(u *referral.User) UserDTO {
	return UserDTO{
		ID:           string(u.ID),
		ReferrerID:   string(u.ReferrerID),
		ReferralCode: u.ReferralCode,
		CreatedAt:    u.CreatedAt.Format(time.RFC3339),
	}
}

func toRewardDTO(item referral.RewardLineItem) RewardDTO {
	dto := RewardDTO{
		ID:            string(item.ID),
		BeneficiaryID: string(item.BeneficiaryID),
		SourceUserID:  string(item.SourceUserID),
		EventID:       string(item.EventID),
		Level:         item.Level,
		Type:          string(item.Type),
		Amount:        item.Amount.String(),
		Status:        string(item.Status),
		CreatedAt:     item.CreatedAt.Format(time.RFC3339),
	}
	if item.ClaimedAt != nil {
		dto.ClaimedAt = item.ClaimedAt.Format(time.RFC3339)
	}
	return dto
}

func parsePositiveInt(raw string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive, got %d", n)
	}
	return n, nil
}

// writeDomainError maps domain errors to HTTP statuses:
// not-found 404, conflicts 409, other client errors 400, retryable 503.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case referral.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, referral.ErrAlreadyBound),
		errors.Is(err, referral.ErrAlreadyClaimed),
		errors.Is(err, referral.ErrDuplicateCode),
		errors.Is(err, referral.ErrDuplicateLineItem):
		writeError(w, http.StatusConflict, message, err)
	case referral.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case referral.IsRetryable(err):
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
