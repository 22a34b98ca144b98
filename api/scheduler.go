/*
scheduler.go - Automated reward expiry scheduler

PURPOSE:
  Periodically sweeps available reward line items whose TTL has elapsed
  into the expired state, so stale rewards stop being claimable without
  any manual intervention.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Sweeps only available items; claimed items are never touched
  - The sweep is one conditional UPDATE, so a claim that lands first
    always wins over expiry

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether the scheduler is active (default: true)
  - A zero RewardTTL in the engine config disables sweeping entirely

USAGE:
  scheduler := NewExpiryScheduler(engine)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerExpiry endpoint (manual sweep)
  - referral/rewardledger.go: ExpireBefore
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/referral-engine/referral"
)

// ExpiryScheduler handles automated reward expiry.
type ExpiryScheduler struct {
	Engine        *referral.Engine
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewExpiryScheduler creates a new scheduler over the engine.
func NewExpiryScheduler(engine *referral.Engine) *ExpiryScheduler {
	return &ExpiryScheduler{
		Engine:        engine,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (es *ExpiryScheduler) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}
	if es.Engine.Config.RewardTTL <= 0 {
		log.Println("[Scheduler] No reward TTL configured, not starting")
		return
	}

	es.ticker = time.NewTicker(es.CheckInterval)
	es.wg.Add(1)

	go es.run()

	log.Printf("[Scheduler] Started with check interval: %v, reward TTL: %v",
		es.CheckInterval, es.Engine.Config.RewardTTL)
}

// Stop stops the scheduler.
func (es *ExpiryScheduler) Stop() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.ticker != nil {
		es.ticker.Stop()
		close(es.stop)
		es.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (es *ExpiryScheduler) run() {
	defer es.wg.Done()

	// Run immediately on start
	es.sweep()

	for {
		select {
		case <-es.ticker.C:
			es.sweep()
		case <-es.stop:
			return
		}
	}
}

func (es *ExpiryScheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().UTC().Add(-es.Engine.Config.RewardTTL)
	n, err := es.Engine.Rewards.ExpireBefore(ctx, cutoff)
	if err != nil {
		log.Printf("[Scheduler] Expiry sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[Scheduler] Expired %d rewards older than %v", n, cutoff.Format(time.RFC3339))
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (es *ExpiryScheduler) RunNow() {
	es.sweep()
}

// GetNextRunTime returns when the next scheduled sweep will occur.
func (es *ExpiryScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(es.CheckInterval)
}
