package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrFatalConnect marks an unrecoverable source connection failure; main
// exits with code 2.
var ErrFatalConnect = errors.New("source connection failed")

// Factory opens independent source connections. Parallel drain workers must
// each call Open so that no session state is shared across goroutines.
type Factory struct {
	url          string
	queryTimeout time.Duration
}

func NewFactory(url string, queryTimeout time.Duration) *Factory {
	return &Factory{url: url, queryTimeout: queryTimeout}
}

// Open connects to the relational store. Each Source owns a small pool of
// its own; callers must Close it when the worker finishes.
func (f *Factory) Open(ctx context.Context) (*Source, error) {
	cfg, err := pgxpool.ParseConfig(f.url)
	if err != nil {
		return nil, fmt.Errorf("%w: parse url: %v", ErrFatalConnect, err)
	}

	cfg.MaxConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	// Kill any query that outlives the configured query timeout server-side.
	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	cfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(f.queryTimeout.Milliseconds(), 10)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFatalConnect, err)
	}

	return &Source{db: pool, queryTimeout: f.queryTimeout}, nil
}

// Source is a read-only adapter over the relational blockchain store. All
// methods are idempotent; transient failures are retried by the caller.
type Source struct {
	db           *pgxpool.Pool
	queryTimeout time.Duration
}

func (s *Source) Close() {
	s.db.Close()
}

func (s *Source) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.queryTimeout)
}

// CurrentHeight returns the highest block height in the source.
func (s *Source) CurrentHeight(ctx context.Context) (int64, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var height int64
	err := s.db.QueryRow(ctx, "SELECT height FROM blocks ORDER BY height DESC LIMIT 1").Scan(&height)
	if err != nil {
		return 0, fmt.Errorf("current height: %w", err)
	}
	return height, nil
}

// TimeOf returns the block timestamp (seconds since epoch) for a height.
func (s *Source) TimeOf(ctx context.Context, height int64) (int64, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var t int64
	err := s.db.QueryRow(ctx, "SELECT time FROM blocks WHERE height = $1", height).Scan(&t)
	if err == pgx.ErrNoRows {
		return 0, fmt.Errorf("time of height %d: block missing", height)
	}
	if err != nil {
		return 0, fmt.Errorf("time of height %d: %w", height, err)
	}
	return t, nil
}

// HeightAtOrAfter returns the smallest height whose block time is greater
// than the given timestamp.
func (s *Source) HeightAtOrAfter(ctx context.Context, timestamp int64) (int64, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var height int64
	err := s.db.QueryRow(ctx,
		"SELECT height FROM blocks WHERE time > $1 ORDER BY height LIMIT 1", timestamp).Scan(&height)
	if err == pgx.ErrNoRows {
		return 0, fmt.Errorf("height at or after %d: no block past timestamp", timestamp)
	}
	if err != nil {
		return 0, fmt.Errorf("height at or after %d: %w", timestamp, err)
	}
	return height, nil
}
