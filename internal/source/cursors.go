package source

import (
	"context"
	"fmt"
	"log"
)

// Cursor streams page-sized document slices from a source query until the
// underlying result set is exhausted. An empty (nil) return signals
// exhaustion; later calls keep returning empty. Cursors are single-consumer
// and hold their own pagination state.
type Cursor interface {
	NextBatch(ctx context.Context) ([]any, error)
}

// slicer holds the (slice_start, slice_end, batch_size, complete) pagination
// state shared by every concrete cursor.
type slicer struct {
	start, end int
	batchSize  int
	complete   bool
}

func newSlicer(batchSize int) slicer {
	return slicer{end: batchSize, batchSize: batchSize}
}

func (s *slicer) limit() int  { return s.end - s.start }
func (s *slicer) offset() int { return s.start }

// advance moves the slice window after a page of n source rows. A page with
// zero rows marks the cursor complete.
func (s *slicer) advance(n int) {
	if n == 0 {
		s.complete = true
		return
	}
	s.start = s.end
	s.end += s.batchSize
}

// pageFunc runs one sliced query, appending mapped documents and returning
// the number of source rows scanned. Rows that fail validation are logged
// and skipped, so a page can legitimately map to zero documents.
type pageFunc func(ctx context.Context, limit, offset int) (docs []any, rows int, err error)

// nextBatch drives a pageFunc under the slicer contract, skipping pages
// whose rows all failed validation or deduplication so that an empty return
// still means exhaustion.
func (s *slicer) nextBatch(ctx context.Context, page pageFunc) ([]any, error) {
	for !s.complete {
		docs, rows, err := page(ctx, s.limit(), s.offset())
		if err != nil {
			return nil, err
		}
		s.advance(rows)
		if len(docs) > 0 {
			return docs, nil
		}
	}
	return nil, nil
}

const qAccounts = `
	SELECT address, balance, dc_balance, dc_nonce, security_balance, staked_balance, nonce, first_block, last_block
	FROM account_inventory
	ORDER BY address
	LIMIT $1 OFFSET $2`

// AccountsCursor scans the full account inventory in slices.
type AccountsCursor struct {
	src *Source
	slicer
}

func (s *Source) Accounts(batchSize int) *AccountsCursor {
	return &AccountsCursor{src: s, slicer: newSlicer(batchSize)}
}

func (c *AccountsCursor) NextBatch(ctx context.Context) ([]any, error) {
	return c.slicer.nextBatch(ctx, func(ctx context.Context, limit, offset int) ([]any, int, error) {
		qctx, cancel := c.src.queryCtx(ctx)
		defer cancel()

		rows, err := c.src.db.Query(qctx, qAccounts, limit, offset)
		if err != nil {
			return nil, 0, fmt.Errorf("accounts query: %w", err)
		}
		defer rows.Close()

		var docs []any
		n := 0
		for rows.Next() {
			n++
			var a accountRow
			if err := rows.Scan(&a.Address, &a.Balance, &a.DCBalance, &a.DCNonce,
				&a.SecurityBalance, &a.StakedBalance, &a.Nonce, &a.FirstBlock, &a.LastBlock); err != nil {
				return nil, 0, fmt.Errorf("accounts scan: %w", err)
			}
			docs = append(docs, a.document())
		}
		return docs, n, rows.Err()
	})
}

const qHotspots = `
	SELECT g.address, g.owner, g.name, g.location, g.location_hex,
	       g.first_block, g.last_block, g.nonce, g.reward_scale,
	       g.elevation, g.gain, g.mode::text, s.online,
	       l.city_id, l.long_city, l.long_state, l.long_country
	FROM gateway_inventory g
	LEFT JOIN gateway_status s ON g.address = s.address
	LEFT JOIN locations l ON g.location = l.location
	ORDER BY g.address
	LIMIT $1 OFFSET $2`

// HotspotsCursor scans the gateway inventory joined with status and
// location metadata; documents carry a derived GeoJSON point and
// null-initialised analytics fields.
type HotspotsCursor struct {
	src *Source
	slicer
}

func (s *Source) Hotspots(batchSize int) *HotspotsCursor {
	return &HotspotsCursor{src: s, slicer: newSlicer(batchSize)}
}

func (c *HotspotsCursor) NextBatch(ctx context.Context) ([]any, error) {
	return c.slicer.nextBatch(ctx, func(ctx context.Context, limit, offset int) ([]any, int, error) {
		qctx, cancel := c.src.queryCtx(ctx)
		defer cancel()

		rows, err := c.src.db.Query(qctx, qHotspots, limit, offset)
		if err != nil {
			return nil, 0, fmt.Errorf("hotspots query: %w", err)
		}
		defer rows.Close()

		var docs []any
		n := 0
		for rows.Next() {
			n++
			var h hotspotRow
			if err := rows.Scan(&h.Address, &h.Owner, &h.Name, &h.Location, &h.LocationHex,
				&h.FirstBlock, &h.LastBlock, &h.Nonce, &h.RewardScale,
				&h.Elevation, &h.Gain, &h.Mode, &h.Online,
				&h.CityID, &h.LongCity, &h.LongState, &h.LongCountry); err != nil {
				return nil, 0, fmt.Errorf("hotspots scan: %w", err)
			}
			docs = append(docs, h.document())
		}
		return docs, n, rows.Err()
	})
}

const qRewards = `
	SELECT gateway, sum(amount)::bigint
	FROM rewards
	WHERE time > $1 AND time < $2
	GROUP BY gateway
	ORDER BY gateway
	LIMIT $3 OFFSET $4`

// RewardsCursor sums rewards per gateway within a time window. Documents
// are partial hotspot updates keyed by the gateway address.
type RewardsCursor struct {
	src              *Source
	minTime, maxTime int64
	slicer
}

func (s *Source) Rewards(batchSize int, minTime, maxTime int64) *RewardsCursor {
	return &RewardsCursor{src: s, minTime: minTime, maxTime: maxTime, slicer: newSlicer(batchSize)}
}

func (c *RewardsCursor) NextBatch(ctx context.Context) ([]any, error) {
	return c.slicer.nextBatch(ctx, func(ctx context.Context, limit, offset int) ([]any, int, error) {
		qctx, cancel := c.src.queryCtx(ctx)
		defer cancel()

		rows, err := c.src.db.Query(qctx, qRewards, c.minTime, c.maxTime, limit, offset)
		if err != nil {
			return nil, 0, fmt.Errorf("rewards query: %w", err)
		}
		defer rows.Close()

		var docs []any
		n := 0
		for rows.Next() {
			n++
			var gateway string
			var amount int64
			if err := rows.Scan(&gateway, &amount); err != nil {
				return nil, 0, fmt.Errorf("rewards scan: %w", err)
			}
			docs = append(docs, rewardsDocument(gateway, amount))
		}
		return docs, n, rows.Err()
	})
}

const qCities = `
	SELECT DISTINCT city_id, long_city, long_state, long_country
	FROM locations
	WHERE city_id IS NOT NULL
	ORDER BY city_id
	LIMIT $1 OFFSET $2`

// CitiesCursor scans the distinct cities present in the locations table.
type CitiesCursor struct {
	src *Source
	slicer
}

func (s *Source) Cities(batchSize int) *CitiesCursor {
	return &CitiesCursor{src: s, slicer: newSlicer(batchSize)}
}

func (c *CitiesCursor) NextBatch(ctx context.Context) ([]any, error) {
	return c.slicer.nextBatch(ctx, func(ctx context.Context, limit, offset int) ([]any, int, error) {
		qctx, cancel := c.src.queryCtx(ctx)
		defer cancel()

		rows, err := c.src.db.Query(qctx, qCities, limit, offset)
		if err != nil {
			return nil, 0, fmt.Errorf("cities query: %w", err)
		}
		defer rows.Close()

		var docs []any
		n := 0
		for rows.Next() {
			n++
			var r cityRow
			if err := rows.Scan(&r.CityID, &r.LongCity, &r.LongState, &r.LongCountry); err != nil {
				return nil, 0, fmt.Errorf("cities scan: %w", err)
			}
			docs = append(docs, r.document())
		}
		return docs, n, rows.Err()
	})
}

const qPayments = `
	SELECT type::text, fields, time
	FROM transactions
	WHERE time > $1 AND time < $2 AND type IN ('payment_v1', 'payment_v2')
	ORDER BY time, hash
	LIMIT $3 OFFSET $4`

// PaymentsCursor streams payment transactions within a time window as
// accounts→accounts edges with content-hashed keys.
type PaymentsCursor struct {
	src              *Source
	minTime, maxTime int64
	slicer
}

func (s *Source) Payments(batchSize int, minTime, maxTime int64) *PaymentsCursor {
	return &PaymentsCursor{src: s, minTime: minTime, maxTime: maxTime, slicer: newSlicer(batchSize)}
}

func (c *PaymentsCursor) NextBatch(ctx context.Context) ([]any, error) {
	return c.slicer.nextBatch(ctx, func(ctx context.Context, limit, offset int) ([]any, int, error) {
		qctx, cancel := c.src.queryCtx(ctx)
		defer cancel()

		rows, err := c.src.db.Query(qctx, qPayments, c.minTime, c.maxTime, limit, offset)
		if err != nil {
			return nil, 0, fmt.Errorf("payments query: %w", err)
		}
		defer rows.Close()

		var docs []any
		n := 0
		for rows.Next() {
			n++
			var txType string
			var fields []byte
			var txTime int64
			if err := rows.Scan(&txType, &fields, &txTime); err != nil {
				return nil, 0, fmt.Errorf("payments scan: %w", err)
			}
			edge, err := mapPayment(txType, fields, txTime)
			if err != nil {
				log.Printf("[payments] skipping row at time %d: %v", txTime, err)
				continue
			}
			docs = append(docs, edge)
		}
		return docs, n, rows.Err()
	})
}

const qDailyBalances = `
	SELECT DISTINCT ON (a.address, date(b.timestamp))
	       a.address, to_char(date(b.timestamp), 'YYYY-MM-DD'),
	       a.balance, a.dc_balance, a.staked_balance
	FROM accounts a
	JOIN blocks b ON a.block = b.height
	WHERE b.time > $1 AND b.time < $2
	ORDER BY a.address, date(b.timestamp), b.time DESC
	LIMIT $3 OFFSET $4`

// DailyBalancesCursor captures, per account and calendar day in the window,
// the balance at the most recent block of that day. Rows are aggregated into
// one document per account per batch; the sink appends arrays across
// batches.
type DailyBalancesCursor struct {
	src              *Source
	minTime, maxTime int64
	slicer
}

func (s *Source) DailyBalances(batchSize int, minTime, maxTime int64) *DailyBalancesCursor {
	return &DailyBalancesCursor{src: s, minTime: minTime, maxTime: maxTime, slicer: newSlicer(batchSize)}
}

func (c *DailyBalancesCursor) NextBatch(ctx context.Context) ([]any, error) {
	return c.slicer.nextBatch(ctx, func(ctx context.Context, limit, offset int) ([]any, int, error) {
		qctx, cancel := c.src.queryCtx(ctx)
		defer cancel()

		rows, err := c.src.db.Query(qctx, qDailyBalances, c.minTime, c.maxTime, limit, offset)
		if err != nil {
			return nil, 0, fmt.Errorf("daily balances query: %w", err)
		}
		defer rows.Close()

		var samples []balanceRow
		n := 0
		for rows.Next() {
			n++
			var r balanceRow
			if err := rows.Scan(&r.Address, &r.Date, &r.Balance, &r.DCBalance, &r.StakedBalance); err != nil {
				return nil, 0, fmt.Errorf("daily balances scan: %w", err)
			}
			samples = append(samples, r)
		}
		if err := rows.Err(); err != nil {
			return nil, 0, err
		}
		return groupDailyBalances(samples), n, nil
	})
}
