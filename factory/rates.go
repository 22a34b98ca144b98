/*
Package factory provides JSON to Go rate-plan conversion.

PURPOSE:
  Converts JSON rate-plan definitions into referral.Config objects. This
  enables reward configuration without code changes - operations can tune
  rates in JSON, and the factory creates the proper Go structs.

WHY JSON?
  - Non-developers can adjust rates
  - Easy integration with an admin UI
  - Version control for rate plans
  - Database storage of plan configs

JSON SCHEMA:
  {
    "commission_rates": [0.05, 0.03, 0.01],
    "recharge_tiers": [
      {"min_amount": "1", "rates": [0.20, 0.10]},
      {"min_amount": "500", "rates": [0.25, 0.12]}
    ],
    "max_traversal_depth": 20,
    "claim_batch_limit": 50,
    "reward_ttl_days": 90
  }

KEY FEATURES:
  - Validates rate ranges (every rate in [0, 1])
  - Requires ascending, non-duplicate tier thresholds
  - Sets sensible defaults for omitted fields
  - Round-trips back to JSON for admin display

USAGE:
  factory := NewRateFactory()

  // From JSON string (e.g. the contents of -rates file)
  cfg, err := factory.ParseConfig(jsonString)

  // Use in system
  engine := referral.NewEngine(store, store, store, cfg)

SEE ALSO:
  - referral/calculator.go: RatePlan and Config definitions
  - cmd/server/main.go: Loads the plan file at startup
*/
package factory

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/referral-engine/referral"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ConfigJSON is the JSON representation of the engine configuration.
type ConfigJSON struct {
	CommissionRates   []float64          `json:"commission_rates"`
	RechargeTiers     []RechargeTierJSON `json:"recharge_tiers,omitempty"`
	MaxTraversalDepth int                `json:"max_traversal_depth,omitempty"`
	ClaimBatchLimit   int                `json:"claim_batch_limit,omitempty"`
	RewardTTLDays     int                `json:"reward_ttl_days,omitempty"` // 0 = never expire
}

// RechargeTierJSON represents one first-recharge threshold.
type RechargeTierJSON struct {
	MinAmount string    `json:"min_amount"`
	Rates     []float64 `json:"rates"`
}

// =============================================================================
// RATE FACTORY
// =============================================================================

// RateFactory converts JSON rate plans to Go structs.
type RateFactory struct{}

// NewRateFactory creates a new rate factory.
func NewRateFactory() *RateFactory {
	return &RateFactory{}
}

// ParseConfig parses a JSON string into a referral.Config.
func (f *RateFactory) ParseConfig(jsonStr string) (referral.Config, error) {
	var cj ConfigJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return referral.Config{}, fmt.Errorf("failed to parse rate plan JSON: %w", err)
	}
	return f.FromJSON(cj)
}

// FromJSON converts ConfigJSON to referral.Config, validating rates and
// thresholds and filling defaults for omitted fields.
func (f *RateFactory) FromJSON(cj ConfigJSON) (referral.Config, error) {
	cfg := referral.DefaultConfig()

	if len(cj.CommissionRates) > 0 {
		rates, err := parseRates("commission_rates", cj.CommissionRates)
		if err != nil {
			return referral.Config{}, err
		}
		cfg.Plan.CommissionRates = rates
	}

	if len(cj.RechargeTiers) > 0 {
		tiers, err := parseRechargeTiers(cj.RechargeTiers)
		if err != nil {
			return referral.Config{}, err
		}
		cfg.Plan.RechargeTiers = tiers
	}

	if cj.MaxTraversalDepth > 0 {
		cfg.MaxTraversalDepth = cj.MaxTraversalDepth
	}
	if cj.ClaimBatchLimit > 0 {
		cfg.ClaimBatchLimit = cj.ClaimBatchLimit
	}
	if cj.RewardTTLDays > 0 {
		cfg.RewardTTL = time.Duration(cj.RewardTTLDays) * 24 * time.Hour
	}

	return cfg, nil
}

// ToJSON converts a referral.Config back to its JSON representation.
func (f *RateFactory) ToJSON(cfg referral.Config) ConfigJSON {
	cj := ConfigJSON{
		MaxTraversalDepth: cfg.MaxTraversalDepth,
		ClaimBatchLimit:   cfg.ClaimBatchLimit,
		RewardTTLDays:     int(cfg.RewardTTL / (24 * time.Hour)),
	}
	for _, r := range cfg.Plan.CommissionRates {
		v, _ := r.Float64()
		cj.CommissionRates = append(cj.CommissionRates, v)
	}
	for _, t := range cfg.Plan.RechargeTiers {
		tj := RechargeTierJSON{MinAmount: t.MinAmount.Value.String()}
		for _, r := range t.Rates {
			v, _ := r.Float64()
			tj.Rates = append(tj.Rates, v)
		}
		cj.RechargeTiers = append(cj.RechargeTiers, tj)
	}
	return cj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseRates(field string, raw []float64) ([]decimal.Decimal, error) {
	rates := make([]decimal.Decimal, 0, len(raw))
	for i, r := range raw {
		if r < 0 || r > 1 {
			return nil, fmt.Errorf("%s[%d]: rate %v out of range [0, 1]", field, i, r)
		}
		rates = append(rates, decimal.NewFromFloat(r))
	}
	return rates, nil
}

func parseRechargeTiers(raw []RechargeTierJSON) ([]referral.RechargeTier, error) {
	tiers := make([]referral.RechargeTier, 0, len(raw))
	for i, tj := range raw {
		min, err := decimal.NewFromString(tj.MinAmount)
		if err != nil {
			return nil, fmt.Errorf("recharge_tiers[%d]: invalid min_amount %q: %w", i, tj.MinAmount, err)
		}
		if min.IsNegative() {
			return nil, fmt.Errorf("recharge_tiers[%d]: min_amount must not be negative", i)
		}
		if len(tj.Rates) == 0 {
			return nil, fmt.Errorf("recharge_tiers[%d]: at least one rate required", i)
		}
		rates, err := parseRates(fmt.Sprintf("recharge_tiers[%d].rates", i), tj.Rates)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, referral.RechargeTier{
			MinAmount: referral.Money{Value: min},
			Rates:     rates,
		})
	}

	// Tier selection picks the highest qualifying threshold; duplicate
	// thresholds would make the pick ambiguous.
	sort.Slice(tiers, func(a, b int) bool {
		return tiers[a].MinAmount.Value.LessThan(tiers[b].MinAmount.Value)
	})
	for i := 1; i < len(tiers); i++ {
		if tiers[i].MinAmount.Equal(tiers[i-1].MinAmount) {
			return nil, fmt.Errorf("recharge_tiers: duplicate min_amount %s", tiers[i].MinAmount)
		}
	}
	return tiers, nil
}
