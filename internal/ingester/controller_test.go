package ingester

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"helium-graph-etl/internal/arango"
)

// fakeChain models a chain where block h was produced at time h*10.
type fakeChain struct {
	height int64
}

func (f *fakeChain) CurrentHeight(ctx context.Context) (int64, error) { return f.height, nil }

func (f *fakeChain) TimeOf(ctx context.Context, height int64) (int64, error) {
	if height < 1 || height > f.height {
		return 0, fmt.Errorf("no block at height %d", height)
	}
	return height * 10, nil
}

func (f *fakeChain) HeightAtOrAfter(ctx context.Context, timestamp int64) (int64, error) {
	h := (timestamp + 9) / 10
	if h > f.height {
		return 0, fmt.Errorf("no block at or after time %d", timestamp)
	}
	return h, nil
}

type fakeInventory struct {
	times []int64
	err   error
}

func (f *fakeInventory) Sync(ctx context.Context, currentTime int64) error {
	f.times = append(f.times, currentTime)
	return f.err
}

type drainCall struct {
	collection       string
	minTime, maxTime int64
}

type fakeDrainer struct {
	calls []drainCall
}

func (f *fakeDrainer) ParallelDrain(ctx context.Context, collection string, minTime, maxTime int64, onDuplicate arango.OnDuplicate) (int, error) {
	f.calls = append(f.calls, drainCall{collection, minTime, maxTime})
	return 0, nil
}

func (f *fakeDrainer) windows(collection string) []drainCall {
	var out []drainCall
	for _, c := range f.calls {
		if c.collection == collection {
			out = append(out, c)
		}
	}
	return out
}

func newTestController(chain ChainSource, inv InventorySyncer, drainer Drainer) *Controller {
	return NewController(ControllerConfig{
		MinBlockDiffForUpdate: 1000,
		ChunkSize:             10,
		NumHistoricalBlocks:   30,
		UpdateInterval:        time.Millisecond,
	}, chain, inv, drainer)
}

func TestInitStartsHistoricalWindowBack(t *testing.T) {
	t.Parallel()

	c := newTestController(&fakeChain{height: 100}, &fakeInventory{}, &fakeDrainer{})
	if err := c.init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := c.SyncHeight(); got != 70 {
		t.Errorf("sync height = %d, want 70", got)
	}
	if c.currentHeight != 100 || c.currentTime != 1000 {
		t.Errorf("head = %d @ %d, want 100 @ 1000", c.currentHeight, c.currentTime)
	}

	// A chain shorter than the historical window starts at block 1.
	c2 := newTestController(&fakeChain{height: 20}, &fakeInventory{}, &fakeDrainer{})
	if err := c2.init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := c2.SyncHeight(); got != 1 {
		t.Errorf("sync height = %d, want 1", got)
	}
}

func TestSyncDynamicWalksContiguousChunks(t *testing.T) {
	t.Parallel()

	drainer := &fakeDrainer{}
	c := newTestController(&fakeChain{height: 100}, &fakeInventory{}, drainer)
	if err := c.init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := c.syncDynamic(context.Background()); err != nil {
		t.Fatalf("syncDynamic: %v", err)
	}

	if got := c.SyncHeight(); got != 100 {
		t.Errorf("sync height = %d, want 100", got)
	}

	want := []drainCall{
		{"payments", 700, 800},
		{"payments", 800, 900},
		{"payments", 900, 1000},
	}
	payments := drainer.windows("payments")
	if len(payments) != len(want) {
		t.Fatalf("payment windows = %v, want %v", payments, want)
	}
	for i := range want {
		if payments[i] != want[i] {
			t.Fatalf("payment windows = %v, want %v", payments, want)
		}
	}

	// Balances walk the same windows.
	balances := drainer.windows("balances")
	if len(balances) != len(want) {
		t.Fatalf("balance windows = %v, want 3 windows", balances)
	}
	for i := range balances {
		if balances[i].minTime != want[i].minTime || balances[i].maxTime != want[i].maxTime {
			t.Fatalf("balance windows = %v", balances)
		}
	}

	// Already at head: nothing more to drain.
	before := len(drainer.calls)
	if err := c.syncDynamic(context.Background()); err != nil {
		t.Fatalf("syncDynamic at head: %v", err)
	}
	if len(drainer.calls) != before {
		t.Error("drained past the head")
	}
}

func TestAdvanceSyncHeightNeverRegresses(t *testing.T) {
	t.Parallel()

	c := newTestController(&fakeChain{height: 100}, &fakeInventory{}, &fakeDrainer{})
	c.advanceSyncHeight(80)
	c.advanceSyncHeight(50)
	if got := c.SyncHeight(); got != 80 {
		t.Errorf("sync height = %d, want 80", got)
	}
	c.advanceSyncHeight(90)
	if got := c.SyncHeight(); got != 90 {
		t.Errorf("sync height = %d, want 90", got)
	}
}

func TestFollowWaitsBelowThreshold(t *testing.T) {
	t.Parallel()

	chain := &fakeChain{height: 100}
	c := newTestController(chain, &fakeInventory{}, &fakeDrainer{})
	if err := c.init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	c.advanceSyncHeight(100)

	// Head advances, but by less than the re-sync threshold.
	chain.height = 105

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := c.follow(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("follow = %v, want deadline exceeded", err)
	}
	if c.currentHeight != 100 {
		t.Errorf("head refreshed below threshold: %d", c.currentHeight)
	}
}

func TestFollowReturnsOnCatchUp(t *testing.T) {
	t.Parallel()

	chain := &fakeChain{height: 100}
	c := newTestController(chain, &fakeInventory{}, &fakeDrainer{})
	if err := c.init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	c.advanceSyncHeight(100)

	chain.height = 1200

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.follow(ctx); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if c.currentHeight != 1200 || c.currentTime != 12000 {
		t.Errorf("head = %d @ %d, want 1200 @ 12000", c.currentHeight, c.currentTime)
	}
	// Follow only observes the head; the dynamic sync advances the cursor.
	if got := c.SyncHeight(); got != 100 {
		t.Errorf("sync height = %d, want 100", got)
	}
}

func TestRunSequencesInventoryBeforeDynamic(t *testing.T) {
	t.Parallel()

	chain := &fakeChain{height: 100}
	inv := &fakeInventory{}
	drainer := &fakeDrainer{}
	c := newTestController(chain, inv, drainer)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run = %v, want deadline exceeded", err)
	}

	if len(inv.times) != 1 || inv.times[0] != 1000 {
		t.Fatalf("inventory syncs = %v, want one at head time 1000", inv.times)
	}
	if got := c.SyncHeight(); got != 100 {
		t.Errorf("sync height = %d, want 100", got)
	}
	if len(drainer.windows("payments")) != 3 {
		t.Errorf("payment windows = %v", drainer.windows("payments"))
	}
}

func TestRunStopsOnFatalInventoryError(t *testing.T) {
	t.Parallel()

	fatal := fmt.Errorf("inventory: %w", arango.ErrFatalConnect)
	c := newTestController(&fakeChain{height: 100}, &fakeInventory{err: fatal}, &fakeDrainer{})

	err := c.Run(context.Background())
	if !errors.Is(err, arango.ErrFatalConnect) {
		t.Fatalf("Run = %v, want fatal connect", err)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	cases := map[State]string{
		StateInit:          "INIT",
		StateInventorySync: "INVENTORY_SYNC",
		StateDynamicSync:   "DYNAMIC_SYNC",
		StateFollow:        "FOLLOW",
		State(99):          "UNKNOWN",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d) = %q, want %q", state, got, want)
		}
	}
}
