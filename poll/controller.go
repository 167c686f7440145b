// Package poll implements the pull-based fallback for scan kinds
// without push delivery. A controller periodically re-fetches a scan by
// id and reconciles each snapshot into the shared cache until the scan
// reaches a terminal state.
package poll

import (
	"context"
	"fmt"
	"time"

	"github.com/labelsense/scanstream/cache"
	"github.com/labelsense/scanstream/log"
	"github.com/labelsense/scanstream/metrics"
	"github.com/labelsense/scanstream/types"
)

// Defaults match the server's processing cadence: photo extraction
// rarely finishes inside the warm-up window, and polling faster than
// the interval just burns quota.
const (
	DefaultWarmup   = 3 * time.Second
	DefaultInterval = 2 * time.Second
)

// FetchFunc fetches the current snapshot of a scan by id.
type FetchFunc func(ctx context.Context, scanID string) (types.Scan, error)

// Controller polls one scan to completion. A single controller value
// may serve many scans, one Run per scan id; the per-key liveness guard
// lives in the store.
type Controller struct {
	store     *cache.Store
	fetch     FetchFunc
	warmup    time.Duration
	interval  time.Duration
	logger    *log.Logger
	collector *metrics.Collector
}

// NewController creates a polling controller. Non-positive durations
// fall back to the defaults.
func NewController(store *cache.Store, fetch FetchFunc, warmup, interval time.Duration, logger *log.Logger, collector *metrics.Collector) *Controller {
	if warmup <= 0 {
		warmup = DefaultWarmup
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Controller{
		store:     store,
		fetch:     fetch,
		warmup:    warmup,
		interval:  interval,
		logger:    logger,
		collector: collector,
	}
}

// Run polls scanID until the cached state is terminal, a fetch fails,
// or ctx is canceled. onUpdate fires after every merge with the current
// cached entry. Starting a second producer for a key that already has a
// live one is a no-op returning nil.
//
// Fetch errors merge an error state into the cache and stop the loop;
// there is no automatic retry. Retry is re-initiated only by explicit
// user action (clearing the entry and starting over).
func (c *Controller) Run(ctx context.Context, scanID string, onUpdate func(types.Scan)) error {
	if !c.store.TryAcquire(scanID) {
		c.logger.Debug("producer already live, poll skipped", map[string]any{
			"scan_id": scanID,
		})
		return nil
	}
	defer c.store.Release(scanID)

	c.collector.IncSessionStarted()

	// Server-processing grace period before the first poll.
	if err := c.sleep(ctx, c.warmup); err != nil {
		c.collector.IncSessionCanceled()
		return err
	}

	for {
		// Cancellation is observed before each fetch; a canceled
		// controller performs no further network calls or cache writes.
		if err := ctx.Err(); err != nil {
			c.collector.IncSessionCanceled()
			return err
		}

		c.collector.IncPollIssued()
		scan, err := c.fetch(ctx, scanID)
		if err != nil {
			c.collector.IncPollFailed()
			c.applyMerge(scanID, types.Scan{
				ID:           scanID,
				State:        types.StateError,
				ErrorMessage: err.Error(),
			})
			c.collector.IncSessionFailed()
			return fmt.Errorf("poll fetch %s: %w", scanID, err)
		}

		c.applyMerge(scanID, scan)
		current, _ := c.store.Get(scanID)
		if onUpdate != nil {
			onUpdate(current)
		}
		if current.State.IsTerminal() {
			c.collector.IncSessionCompleted()
			return nil
		}

		if err := c.sleep(ctx, c.interval); err != nil {
			c.collector.IncSessionCanceled()
			return err
		}
	}
}

func (c *Controller) applyMerge(scanID string, scan types.Scan) {
	if c.store.Merge(scanID, scan) {
		c.collector.IncMergeApplied()
	} else {
		c.collector.IncMergeDiscarded()
	}
}

// sleep waits for d or until ctx is canceled, whichever comes first.
func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
