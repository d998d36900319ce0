package ingester

import (
	"context"
	"log"
	"math"
	"sync"

	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"helium-graph-etl/internal/arango"
	"helium-graph-etl/internal/models"
)

// Analytics computes per-city witness-graph centrality and writes the
// features back onto hotspot documents. City shards are disjoint, so the
// workers run without any cross-worker synchronisation.
type Analytics struct {
	sink        *arango.Factory
	minCitySize int
	workers     int
}

func NewAnalytics(sink *arango.Factory, minCitySize, workers int) *Analytics {
	if workers < 1 {
		workers = 1
	}
	return &Analytics{sink: sink, minCitySize: minCitySize, workers: workers}
}

// Run shards the city list across workers and processes every shard.
// It returns the number of cities analysed and hotspots updated.
func (a *Analytics) Run(ctx context.Context) (int, int, error) {
	client, err := a.sink.Open(ctx)
	if err != nil {
		return 0, 0, err
	}
	keys, err := client.CityKeys(ctx)
	if err != nil {
		return 0, 0, err
	}
	log.Printf("[analytics] generating graph metrics for %d unique cities", len(keys))

	shards := shardCities(keys, a.workers)

	type result struct {
		cities, hotspots int
	}
	results := make(chan result, len(shards))

	var wg sync.WaitGroup
	for _, shard := range shards {
		wg.Add(1)
		go func(cities []string) {
			defer wg.Done()
			results <- a.processShard(ctx, cities)
		}(shard)
	}
	wg.Wait()
	close(results)

	var cities, hotspots int
	for r := range results {
		cities += r.cities
		hotspots += r.hotspots
	}
	return cities, hotspots, nil
}

func (a *Analytics) processShard(ctx context.Context, cities []string) (r struct{ cities, hotspots int }) {
	// Independent target connection per worker.
	client, err := a.sink.Open(ctx)
	if err != nil {
		log.Printf("[analytics] worker connect failed: %v", err)
		return r
	}

	for _, city := range cities {
		if ctx.Err() != nil {
			return r
		}
		edges, err := client.CityWitnessEdges(ctx, city)
		if err != nil {
			log.Printf("[analytics] city %s: %v", city, err)
			continue
		}
		if len(edges) < a.minCitySize {
			continue
		}

		features := centralityFeatures(edges)
		if len(features) == 0 {
			continue
		}
		if _, err := client.BulkUpsert(ctx, "hotspots", features, arango.OnDuplicateUpdate); err != nil {
			log.Printf("[analytics] city %s feature upsert: %v", city, err)
			continue
		}
		r.cities++
		r.hotspots += len(features)
	}
	return r
}

// shardCities splits the city list into at most n contiguous shards.
func shardCities(keys []string, n int) [][]string {
	if len(keys) == 0 {
		return nil
	}
	if n > len(keys) {
		n = len(keys)
	}
	size := len(keys) / n
	rem := len(keys) % n

	shards := make([][]string, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < rem {
			end++
		}
		shards = append(shards, keys[start:end])
		start = end
	}
	return shards
}

// centralityFeatures builds the directed witness graph and returns one
// feature document per vertex: PageRank and betweenness centrality plus
// their values normalised by the subgraph mean. Edge distances weight the
// betweenness shortest paths; PageRank is structural (link-based only).
// NaN metrics become 0.
func centralityFeatures(edges []models.GraphEdge) []any {
	g := simple.NewWeightedDirectedGraph(0, 0)
	ids := make(map[string]int64)
	var names []string

	nodeFor := func(name string) int64 {
		if id, ok := ids[name]; ok {
			return id
		}
		id := int64(len(names))
		ids[name] = id
		names = append(names, name)
		g.AddNode(simple.Node(id))
		return id
	}

	for _, e := range edges {
		if e.From == e.To || e.From == "" || e.To == "" {
			continue
		}
		from := nodeFor(e.From)
		to := nodeFor(e.To)
		g.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(from), T: simple.Node(to), W: e.DistanceM})
	}
	if len(names) == 0 {
		return nil
	}

	pg := network.PageRank(g, 0.85, 1e-6)
	paths := path.DijkstraAllPaths(g)
	bc := network.BetweennessWeighted(g, paths)

	var pgSum, bcSum float64
	for _, id := range ids {
		pgSum += nanToNum(pg[id])
		bcSum += nanToNum(bc[id])
	}
	pgMean := pgSum / float64(len(names))
	bcMean := bcSum / float64(len(names))

	features := make([]any, 0, len(names))
	for _, name := range names {
		id := ids[name]
		pgVal := nanToNum(pg[id])
		bcVal := nanToNum(bc[id])
		features = append(features, &models.CentralityFeatures{
			Key:                    name,
			Pagerank:               pgVal,
			PagerankN:              normalise(pgVal, pgMean),
			BetweennessCentrality:  bcVal,
			BetweennessCentralityN: normalise(bcVal, bcMean),
		})
	}
	return features
}

func nanToNum(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func normalise(v, mean float64) float64 {
	if mean == 0 {
		return 0
	}
	return nanToNum(v / mean)
}
