package api_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/referral-engine/api"
	"github.com/warp/referral-engine/referral"
	memstore "github.com/warp/referral-engine/referral/store"
)

func TestExpiryScheduler_SkipsWithoutTTL(t *testing.T) {
	mem := memstore.NewMemory()
	engine := referral.NewEngine(mem, mem, mem, referral.DefaultConfig())

	scheduler := api.NewExpiryScheduler(engine)
	scheduler.Start()
	// Stop must be safe even when Start declined to run.
	scheduler.Stop()
}

func TestExpiryScheduler_RunNowSweepsStaleRewards(t *testing.T) {
	// GIVEN: An available reward older than a tiny TTL
	// WHEN: A sweep runs
	// THEN: The reward flips to expired

	cfg := referral.DefaultConfig()
	cfg.RewardTTL = time.Nanosecond

	mem := memstore.NewMemory()
	engine := referral.NewEngine(mem, mem, mem, cfg)
	ctx := context.Background()

	require.NoError(t, mem.InsertLineItem(ctx, referral.RewardLineItem{
		ID:            "li-1",
		BeneficiaryID: "alice",
		SourceUserID:  "bob",
		EventID:       "evt-1",
		EdgeID:        "edge-1",
		Level:         1,
		Type:          referral.RewardFirstRecharge,
		Amount:        referral.MustParseMoney("20.00"),
		Status:        referral.StatusAvailable,
		CreatedAt:     time.Now().UTC().Add(-time.Minute),
	}))

	scheduler := api.NewExpiryScheduler(engine)
	scheduler.RunNow()

	item, err := mem.LineItem(ctx, "li-1")
	require.NoError(t, err)
	assert.Equal(t, referral.StatusExpired, item.Status)
}
