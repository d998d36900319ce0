package ingester

import (
	"context"
	"fmt"
	"log"
	"time"

	"helium-graph-etl/internal/arango"
	"helium-graph-etl/internal/source"
)

// Inventory syncs the snapshot collections: accounts, hotspots, cities,
// the recent witness window, rewards, and the city graph metrics. It runs
// once before the dynamic sync and again on every follow re-entry.
type Inventory struct {
	source            *source.Factory
	sink              *arango.Client
	pipeline          *Pipeline
	analytics         *Analytics
	batchSize         int
	witnessCutoffDays int
}

func NewInventory(src *source.Factory, sink *arango.Client, pipeline *Pipeline, analytics *Analytics, batchSize, witnessCutoffDays int) *Inventory {
	return &Inventory{
		source:            src,
		sink:              sink,
		pipeline:          pipeline,
		analytics:         analytics,
		batchSize:         batchSize,
		witnessCutoffDays: witnessCutoffDays,
	}
}

// Sync imports every inventory in order. Inventory sync happens-before the
// dynamic sync; the controller enforces this by sequential invocation.
func (inv *Inventory) Sync(ctx context.Context, currentTime int64) error {
	src, err := inv.source.Open(ctx)
	if err != nil {
		return fmt.Errorf("inventory source: %w", err)
	}
	defer src.Close()

	now := time.Now()
	var count int
	err = withRetry(ctx, "accounts import", func() error {
		count, err = Drain(ctx, src.Accounts(inv.batchSize), inv.upsert("accounts", arango.OnDuplicateUpdate))
		return err
	})
	if err != nil {
		return fmt.Errorf("accounts inventory: %w", err)
	}
	log.Printf("[inventory] %d accounts imported (%.1fs)", count, time.Since(now).Seconds())

	now = time.Now()
	err = withRetry(ctx, "hotspots import", func() error {
		count, err = Drain(ctx, src.Hotspots(inv.batchSize), inv.upsert("hotspots", arango.OnDuplicateUpdate))
		return err
	})
	if err != nil {
		return fmt.Errorf("hotspots inventory: %w", err)
	}
	log.Printf("[inventory] %d hotspots imported (%.1fs)", count, time.Since(now).Seconds())

	now = time.Now()
	err = withRetry(ctx, "cities import", func() error {
		count, err = Drain(ctx, src.Cities(inv.batchSize), inv.upsert("cities", arango.OnDuplicateIgnore))
		return err
	})
	if err != nil {
		return fmt.Errorf("cities inventory: %w", err)
	}
	log.Printf("[inventory] %d unique cities imported (%.1fs)", count, time.Since(now).Seconds())

	// Witness edges over the recent window, then prune anything older.
	now = time.Now()
	minWitnessTime := currentTime - int64(86400*inv.witnessCutoffDays)
	count, err = inv.pipeline.ParallelDrain(ctx, "witnesses", minWitnessTime, currentTime, arango.OnDuplicateIgnore)
	if err != nil {
		// Content-addressed keys let the next pass heal whatever is missing.
		log.Printf("[inventory] witness window partial: %v", err)
	}
	if err := withRetry(ctx, "witness prune", func() error {
		return inv.sink.RemoveWitnessesBefore(ctx, minWitnessTime)
	}); err != nil {
		return fmt.Errorf("witness prune: %w", err)
	}
	log.Printf("[inventory] %d witness paths reported over last %d days (%.1fs)", count, inv.witnessCutoffDays, time.Since(now).Seconds())

	// Rewards over the same window as witnesses.
	now = time.Now()
	err = withRetry(ctx, "rewards import", func() error {
		count, err = Drain(ctx, src.Rewards(inv.batchSize, minWitnessTime, currentTime), inv.upsert("hotspots", arango.OnDuplicateUpdate))
		return err
	})
	if err != nil {
		return fmt.Errorf("rewards: %w", err)
	}
	log.Printf("[inventory] rewards updated for %d hotspots (%.1fs)", count, time.Since(now).Seconds())

	now = time.Now()
	cities, hotspots, err := inv.analytics.Run(ctx)
	if err != nil {
		return fmt.Errorf("city analytics: %w", err)
	}
	log.Printf("[inventory] graph metrics applied for %d cities encompassing %d hotspots (%.1fs)", cities, hotspots, time.Since(now).Seconds())

	return nil
}

func (inv *Inventory) upsert(collection string, onDuplicate arango.OnDuplicate) ImportFunc {
	return func(ctx context.Context, docs []any) (arango.ImportStats, error) {
		return inv.sink.BulkUpsert(ctx, collection, docs, onDuplicate)
	}
}
