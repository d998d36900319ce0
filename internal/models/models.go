package models

// GeoPoint is a GeoJSON point as stored on hotspot documents. Coordinates
// are [lon, lat]; a nil slice serializes as null when the h3 cell could not
// be resolved.
type GeoPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// LocationDetails links a hotspot to its city document. CityKey is the md5
// of the upstream city_id, the same key used by the cities collection.
type LocationDetails struct {
	CityKey     string  `json:"city_key"`
	LongCity    *string `json:"long_city"`
	LongState   *string `json:"long_state"`
	LongCountry *string `json:"long_country"`
}

// Account mirrors one row of account_inventory, keyed by address.
type Account struct {
	Key             string `json:"_key"`
	Address         string `json:"address"`
	Balance         int64  `json:"balance"`
	DCBalance       int64  `json:"dc_balance"`
	DCNonce         int64  `json:"dc_nonce"`
	SecurityBalance int64  `json:"security_balance"`
	StakedBalance   int64  `json:"staked_balance"`
	Nonce           int64  `json:"nonce"`
	FirstBlock      *int64 `json:"first_block"`
	LastBlock       *int64 `json:"last_block"`
}

// Hotspot is the gateway_inventory snapshot joined with gateway_status and
// locations. Analytics fields start null and are overwritten by the city
// graph stage; RewardsWindow is filled by the rewards import.
type Hotspot struct {
	Key         string   `json:"_key"`
	Address     string   `json:"address"`
	Owner       *string  `json:"owner"`
	Name        *string  `json:"name"`
	Location    *string  `json:"location"`
	LocationHex *string  `json:"location_hex"`
	FirstBlock  *int64   `json:"first_block"`
	LastBlock   *int64   `json:"last_block"`
	Nonce       *int64   `json:"nonce"`
	RewardScale *float64 `json:"reward_scale"`
	Elevation   *int64   `json:"elevation"`
	Gain        *int64   `json:"gain"`
	Mode        *string  `json:"mode"`
	Online      *string  `json:"online"`

	GeoLocation     GeoPoint         `json:"geo_location"`
	LocationDetails *LocationDetails `json:"location_details"`

	RewardsWindow          *int64   `json:"rewards_window"`
	Pagerank               *float64 `json:"pagerank"`
	PagerankN              *float64 `json:"pagerank_n"`
	BetweennessCentrality  *float64 `json:"betweenness_centrality"`
	BetweennessCentralityN *float64 `json:"betweenness_centrality_n"`
}

// HotspotRewards is a partial hotspot document carrying only the summed
// rewards for the current window; imported with onDuplicate=update so it
// merges into the existing hotspot.
type HotspotRewards struct {
	Key           string `json:"_key"`
	RewardsWindow int64  `json:"rewards_window"`
}

// CentralityFeatures is the per-vertex output of the city graph stage,
// merged onto hotspot documents with onDuplicate=update.
type CentralityFeatures struct {
	Key                    string  `json:"_key"`
	Pagerank               float64 `json:"pagerank"`
	PagerankN              float64 `json:"pagerank_n"`
	BetweennessCentrality  float64 `json:"betweenness_centrality"`
	BetweennessCentralityN float64 `json:"betweenness_centrality_n"`
}

// PaymentEdge is an accounts→accounts edge. Key is the md5 of the canonical
// JSON of the transaction's fields, so re-ingesting the same payment is a
// no-op under onDuplicate=ignore.
type PaymentEdge struct {
	Key    string `json:"_key"`
	From   string `json:"_from"`
	To     string `json:"_to"`
	Amount int64  `json:"amount"`
	Time   int64  `json:"time"`
}

// WitnessEdge is a hotspots→hotspots edge derived from a poc receipt. Key is
// md5(challengee + witness gateway); Time is the receipt transaction time and
// decides which version of a path survives.
type WitnessEdge struct {
	Key       string  `json:"_key"`
	From      string  `json:"_from"`
	To        string  `json:"_to"`
	Time      int64   `json:"time"`
	Signal    int64   `json:"signal"`
	SNR       float64 `json:"snr"`
	Frequency float64 `json:"frequency"`
	Datarate  string  `json:"datarate"`
	IsValid   bool    `json:"is_valid"`
	Timestamp int64   `json:"timestamp"`
	Location  *string `json:"location"`
}

// DailyBalance is one day's closing balance for an account.
type DailyBalance struct {
	Date          string `json:"date"`
	Balance       int64  `json:"balance"`
	DCBalance     int64  `json:"dc_balance"`
	StakedBalance int64  `json:"staked_balance"`
}

// BalanceDoc aggregates an account's daily balances for one sync window.
// The sink appends the array onto any existing document.
type BalanceDoc struct {
	Key           string         `json:"_key"`
	DailyBalances []DailyBalance `json:"daily_balances"`
}

// City is keyed by md5(city_id).
type City struct {
	Key         string  `json:"_key"`
	CityID      string  `json:"city_id"`
	LongCity    *string `json:"long_city"`
	LongState   *string `json:"long_state"`
	LongCountry *string `json:"long_country"`
}

// GraphEdge is the projection returned by the city witness traversal:
// endpoint hotspot keys plus the great-circle distance between them.
type GraphEdge struct {
	From      string  `json:"from"`
	To        string  `json:"to"`
	DistanceM float64 `json:"distance_m"`
}
