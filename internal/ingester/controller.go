package ingester

import (
	"context"
	"errors"
	"log"
	"time"

	"helium-graph-etl/internal/arango"
	"helium-graph-etl/internal/source"
)

// ChainSource is the subset of the source adapter the controller needs for
// height/time bookkeeping.
type ChainSource interface {
	CurrentHeight(ctx context.Context) (int64, error)
	TimeOf(ctx context.Context, height int64) (int64, error)
	HeightAtOrAfter(ctx context.Context, timestamp int64) (int64, error)
}

// InventorySyncer runs a full inventory pass for the given head time.
type InventorySyncer interface {
	Sync(ctx context.Context, currentTime int64) error
}

// Drainer runs a parallel time-chunked drain for one dynamic collection.
type Drainer interface {
	ParallelDrain(ctx context.Context, collection string, minTime, maxTime int64, onDuplicate arango.OnDuplicate) (int, error)
}

type State int

const (
	StateInit State = iota
	StateInventorySync
	StateDynamicSync
	StateFollow
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateInventorySync:
		return "INVENTORY_SYNC"
	case StateDynamicSync:
		return "DYNAMIC_SYNC"
	case StateFollow:
		return "FOLLOW"
	}
	return "UNKNOWN"
}

type ControllerConfig struct {
	MinBlockDiffForUpdate int64
	ChunkSize             int64
	NumHistoricalBlocks   int64
	UpdateInterval        time.Duration
}

// Controller owns the sole process-wide mutable sync state: the current
// height/time of the source head and the height the target is synced to.
// Workers return values; only the controller mutates these fields.
type Controller struct {
	cfg       ControllerConfig
	chain     ChainSource
	inventory InventorySyncer
	drainer   Drainer

	state         State
	syncHeight    int64
	currentHeight int64
	currentTime   int64
}

func NewController(cfg ControllerConfig, chain ChainSource, inventory InventorySyncer, drainer Drainer) *Controller {
	return &Controller{cfg: cfg, chain: chain, inventory: inventory, drainer: drainer}
}

// SyncHeight reports the height the target store is synced to. It never
// regresses.
func (c *Controller) SyncHeight() int64 { return c.syncHeight }

func (c *Controller) State() State { return c.state }

// Run drives INIT → INVENTORY_SYNC → DYNAMIC_SYNC → FOLLOW until the
// context is cancelled or a fatal error occurs.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.init(ctx); err != nil {
		return err
	}

	for {
		c.state = StateInventorySync
		if err := c.inventory.Sync(ctx, c.currentTime); err != nil {
			if isFatal(err) || ctx.Err() != nil {
				return err
			}
			// Non-fatal inventory failures heal on the next pass.
			log.Printf("[controller] inventory sync incomplete: %v", err)
		}

		c.state = StateDynamicSync
		if err := c.syncDynamic(ctx); err != nil {
			return err
		}

		c.state = StateFollow
		if err := c.follow(ctx); err != nil {
			return err
		}
	}
}

func (c *Controller) init(ctx context.Context) error {
	head, err := c.fetchCurrentHeight(ctx)
	if err != nil {
		return err
	}
	headTime, err := c.timeOf(ctx, head)
	if err != nil {
		return err
	}

	c.currentHeight = head
	c.currentTime = headTime
	c.syncHeight = head - c.cfg.NumHistoricalBlocks
	if c.syncHeight < 1 {
		c.syncHeight = 1
	}
	log.Printf("[controller] performing initial sync from block %d to %d", c.syncHeight, c.currentHeight)
	return nil
}

// syncDynamic walks the dynamic collections forward in time chunks until
// the sync height reaches the current head.
func (c *Controller) syncDynamic(ctx context.Context) error {
	if c.syncHeight >= c.currentHeight {
		return nil
	}

	minTime, err := c.timeOf(ctx, c.syncHeight)
	if err != nil {
		return err
	}

	for c.syncHeight < c.currentHeight {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := c.syncHeight + c.cfg.ChunkSize
		last := end >= c.currentHeight
		if last {
			end = c.currentHeight
		}
		maxTime, err := c.timeOf(ctx, end)
		if err != nil {
			return err
		}

		if maxTime > minTime {
			c.syncChunk(ctx, minTime, maxTime)
		}

		if last {
			c.advanceSyncHeight(c.currentHeight)
		} else {
			next, err := c.heightAtOrAfter(ctx, maxTime)
			if err != nil {
				return err
			}
			c.advanceSyncHeight(next)
		}
		log.Printf("[controller] dynamic collections synced to block %d / %d", c.syncHeight, c.currentHeight)
		minTime = maxTime
	}
	return nil
}

// syncChunk drains payments and daily balances over one window. A failed
// chunk is logged with its window boundaries and the controller advances;
// content-addressed keys let a later re-run heal the gap.
func (c *Controller) syncChunk(ctx context.Context, minTime, maxTime int64) {
	if _, err := c.drainer.ParallelDrain(ctx, "payments", minTime, maxTime, arango.OnDuplicateIgnore); err != nil {
		log.Printf("[controller] %v", err)
	}
	if _, err := c.drainer.ParallelDrain(ctx, "balances", minTime, maxTime, arango.OnDuplicateUpdate); err != nil {
		log.Printf("[controller] %v", err)
	}
}

// follow polls the source head each interval and returns once enough new
// blocks have accumulated to justify a re-sync. On return the current
// height and time reflect the new head.
func (c *Controller) follow(ctx context.Context) error {
	log.Printf("[controller] following; polling for new blocks every %s", c.cfg.UpdateInterval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.UpdateInterval):
		}

		head, err := c.fetchCurrentHeight(ctx)
		if err != nil {
			if isFatal(err) || ctx.Err() != nil {
				return err
			}
			log.Printf("[controller] head poll failed: %v", err)
			continue
		}

		delta := head - c.syncHeight
		if delta < c.cfg.MinBlockDiffForUpdate {
			log.Printf("[controller] only %d new blocks discovered; no re-sync this epoch", delta)
			continue
		}

		log.Printf("[controller] %d new blocks discovered; re-syncing", delta)
		headTime, err := c.timeOf(ctx, head)
		if err != nil {
			return err
		}
		c.currentHeight = head
		c.currentTime = headTime
		return nil
	}
}

// advanceSyncHeight moves the sync cursor forward, never backward.
func (c *Controller) advanceSyncHeight(height int64) {
	if height > c.syncHeight {
		c.syncHeight = height
	}
}

func (c *Controller) fetchCurrentHeight(ctx context.Context) (int64, error) {
	var height int64
	err := withRetry(ctx, "current height", func() error {
		var err error
		height, err = c.chain.CurrentHeight(ctx)
		return err
	})
	return height, err
}

func (c *Controller) timeOf(ctx context.Context, height int64) (int64, error) {
	var t int64
	err := withRetry(ctx, "time of block", func() error {
		var err error
		t, err = c.chain.TimeOf(ctx, height)
		return err
	})
	return t, err
}

func (c *Controller) heightAtOrAfter(ctx context.Context, timestamp int64) (int64, error) {
	var height int64
	err := withRetry(ctx, "height at timestamp", func() error {
		var err error
		height, err = c.chain.HeightAtOrAfter(ctx, timestamp)
		return err
	})
	return height, err
}

func isFatal(err error) bool {
	return errors.Is(err, source.ErrFatalConnect) || errors.Is(err, arango.ErrFatalConnect)
}
