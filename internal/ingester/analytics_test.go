package ingester

import (
	"math"
	"testing"

	"helium-graph-etl/internal/models"
)

func TestShardCities(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		keys  []string
		n     int
		sizes []int
	}{
		{"empty", nil, 4, nil},
		{"fewer keys than shards", []string{"a", "b"}, 4, []int{1, 1}},
		{"even", []string{"a", "b", "c", "d"}, 2, []int{2, 2}},
		{"remainder spread first", []string{"a", "b", "c", "d", "e"}, 2, []int{3, 2}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			shards := shardCities(tc.keys, tc.n)
			if len(shards) != len(tc.sizes) {
				t.Fatalf("shards = %v, want %d shards", shards, len(tc.sizes))
			}
			var flat []string
			for i, shard := range shards {
				if len(shard) != tc.sizes[i] {
					t.Fatalf("shard sizes = %v, want %v", shards, tc.sizes)
				}
				flat = append(flat, shard...)
			}
			for i, key := range flat {
				if key != tc.keys[i] {
					t.Fatalf("shards reorder keys: %v", shards)
				}
			}
		})
	}
}

func featureByKey(t *testing.T, features []any, key string) *models.CentralityFeatures {
	t.Helper()
	for _, f := range features {
		cf := f.(*models.CentralityFeatures)
		if cf.Key == key {
			return cf
		}
	}
	t.Fatalf("no feature doc for %q", key)
	return nil
}

func TestCentralityFeaturesCycle(t *testing.T) {
	t.Parallel()

	// A symmetric 3-cycle: every vertex is equivalent, so every metric
	// equals the subgraph mean and both normalised values are 1. The
	// tolerance must sit above PageRank's 1e-6 termination tolerance.
	const tol = 1e-5
	edges := []models.GraphEdge{
		{From: "A", To: "B", DistanceM: 100},
		{From: "B", To: "C", DistanceM: 100},
		{From: "C", To: "A", DistanceM: 100},
	}
	features := centralityFeatures(edges)
	if len(features) != 3 {
		t.Fatalf("features = %d, want 3", len(features))
	}

	for _, name := range []string{"A", "B", "C"} {
		f := featureByKey(t, features, name)
		if f.Pagerank <= 0 {
			t.Errorf("%s pagerank = %v, want > 0", name, f.Pagerank)
		}
		if math.Abs(f.PagerankN-1) > tol {
			t.Errorf("%s pagerank_n = %v, want 1", name, f.PagerankN)
		}
		if math.Abs(f.BetweennessCentralityN-1) > tol {
			t.Errorf("%s betweenness_centrality_n = %v, want 1", name, f.BetweennessCentralityN)
		}
	}

	a := featureByKey(t, features, "A")
	b := featureByKey(t, features, "B")
	if math.Abs(a.Pagerank-b.Pagerank) > tol {
		t.Errorf("symmetric vertices diverge: %v vs %v", a.Pagerank, b.Pagerank)
	}
}

func TestCentralityFeaturesDeterministic(t *testing.T) {
	t.Parallel()

	edges := []models.GraphEdge{
		{From: "A", To: "B", DistanceM: 120},
		{From: "B", To: "C", DistanceM: 450},
		{From: "C", To: "D", DistanceM: 80},
		{From: "D", To: "A", DistanceM: 300},
		{From: "A", To: "C", DistanceM: 900},
	}
	reversed := make([]models.GraphEdge, len(edges))
	for i, e := range edges {
		reversed[len(edges)-1-i] = e
	}

	first := centralityFeatures(edges)
	second := centralityFeatures(reversed)
	if len(first) != len(second) {
		t.Fatalf("feature counts differ: %d vs %d", len(first), len(second))
	}
	for _, f := range first {
		cf := f.(*models.CentralityFeatures)
		other := featureByKey(t, second, cf.Key)
		if math.Abs(cf.Pagerank-other.Pagerank) > 1e-9 ||
			math.Abs(cf.BetweennessCentrality-other.BetweennessCentrality) > 1e-9 {
			t.Errorf("%s differs across edge orderings", cf.Key)
		}
	}
}

func TestCentralityFeaturesSkipsDegenerateEdges(t *testing.T) {
	t.Parallel()

	// Self-loops and half-empty edges contribute no vertices.
	edges := []models.GraphEdge{
		{From: "A", To: "A", DistanceM: 10},
		{From: "", To: "B", DistanceM: 10},
		{From: "C", To: "", DistanceM: 10},
	}
	if features := centralityFeatures(edges); features != nil {
		t.Errorf("features = %v, want nil", features)
	}
	if features := centralityFeatures(nil); features != nil {
		t.Errorf("features for empty edge list = %v, want nil", features)
	}
}

func TestNanToNum(t *testing.T) {
	t.Parallel()

	if got := nanToNum(math.NaN()); got != 0 {
		t.Errorf("NaN -> %v, want 0", got)
	}
	if got := nanToNum(math.Inf(1)); got != 0 {
		t.Errorf("+Inf -> %v, want 0", got)
	}
	if got := nanToNum(math.Inf(-1)); got != 0 {
		t.Errorf("-Inf -> %v, want 0", got)
	}
	if got := nanToNum(1.5); got != 1.5 {
		t.Errorf("1.5 -> %v", got)
	}
}

func TestNormalise(t *testing.T) {
	t.Parallel()

	if got := normalise(2, 4); got != 0.5 {
		t.Errorf("normalise(2, 4) = %v, want 0.5", got)
	}
	if got := normalise(2, 0); got != 0 {
		t.Errorf("normalise by zero mean = %v, want 0", got)
	}
}
