package source

import (
	"context"
	"fmt"
	"log"

	"helium-graph-etl/internal/models"
)

const qWitnesses = `
	SELECT time, fields
	FROM transactions
	WHERE time > $1 AND time < $2 AND type = 'poc_receipts_v1'
	ORDER BY time DESC, hash
	LIMIT $3 OFFSET $4`

// WitnessesCursor streams poc receipts newest-first and flattens each
// receipt's witness list into hotspots→hotspots edges. The descending time
// order is load-bearing: combined with the canonicaliser and the sink's
// ignore policy, the edge with the greatest time wins for every
// (challengee, witness) pair.
type WitnessesCursor struct {
	src              *Source
	minTime, maxTime int64
	canon            witnessCanonicaliser
	slicer
}

func (s *Source) Witnesses(batchSize int, minTime, maxTime int64) *WitnessesCursor {
	return &WitnessesCursor{
		src:     s,
		minTime: minTime,
		maxTime: maxTime,
		canon:   witnessCanonicaliser{seen: make(map[string]struct{})},
		slicer:  newSlicer(batchSize),
	}
}

func (c *WitnessesCursor) NextBatch(ctx context.Context) ([]any, error) {
	return c.slicer.nextBatch(ctx, func(ctx context.Context, limit, offset int) ([]any, int, error) {
		qctx, cancel := c.src.queryCtx(ctx)
		defer cancel()

		rows, err := c.src.db.Query(qctx, qWitnesses, c.minTime, c.maxTime, limit, offset)
		if err != nil {
			return nil, 0, fmt.Errorf("witnesses query: %w", err)
		}
		defer rows.Close()

		var docs []any
		n := 0
		for rows.Next() {
			n++
			var txTime int64
			var fields []byte
			if err := rows.Scan(&txTime, &fields); err != nil {
				return nil, 0, fmt.Errorf("witnesses scan: %w", err)
			}
			edges, err := c.canon.receiptEdges(txTime, fields)
			if err != nil {
				log.Printf("[witnesses] skipping receipt at time %d: %v", txTime, err)
				continue
			}
			docs = append(docs, edges...)
		}
		return docs, n, rows.Err()
	})
}

// witnessCanonicaliser deduplicates witness edges by their content key.
// The seen set lives for the cursor's whole window; because receipts are
// walked newest-first, the first occurrence of a key carries the greatest
// time and wins.
type witnessCanonicaliser struct {
	seen map[string]struct{}
}

func (w *witnessCanonicaliser) receiptEdges(txTime int64, rawFields []byte) ([]any, error) {
	fields, err := decodeFields(rawFields)
	if err != nil {
		return nil, err
	}

	path, ok := fields["path"].([]any)
	if !ok || len(path) == 0 {
		return nil, fmt.Errorf("receipt missing path")
	}
	hop, ok := path[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("receipt path malformed")
	}
	challengee, ok := fieldString(hop, "challengee")
	if !ok {
		return nil, fmt.Errorf("receipt missing challengee")
	}

	witnesses, _ := hop["witnesses"].([]any)
	var edges []any
	for _, raw := range witnesses {
		witness, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		gateway, ok := fieldString(witness, "gateway")
		if !ok {
			continue
		}

		key := keyHash(challengee, gateway)
		if _, dup := w.seen[key]; dup {
			continue
		}
		w.seen[key] = struct{}{}

		edge := &models.WitnessEdge{
			Key:  key,
			From: "hotspots/" + challengee,
			To:   "hotspots/" + gateway,
			Time: txTime,
		}
		edge.Signal, _ = fieldInt(witness, "signal")
		edge.SNR, _ = fieldFloat(witness, "snr")
		edge.Frequency, _ = fieldFloat(witness, "frequency")
		edge.Datarate, _ = fieldString(witness, "datarate")
		edge.IsValid, _ = fieldBool(witness, "is_valid")
		edge.Timestamp, _ = fieldInt(witness, "timestamp")
		if loc, ok := fieldString(witness, "location"); ok {
			edge.Location = &loc
		}
		edges = append(edges, edge)
	}
	return edges, nil
}
