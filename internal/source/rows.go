package source

import (
	"helium-graph-etl/internal/models"
)

type accountRow struct {
	Address         string
	Balance         int64
	DCBalance       int64
	DCNonce         int64
	SecurityBalance int64
	StakedBalance   int64
	Nonce           int64
	FirstBlock      *int64
	LastBlock       *int64
}

func (r accountRow) document() *models.Account {
	return &models.Account{
		Key:             r.Address,
		Address:         r.Address,
		Balance:         r.Balance,
		DCBalance:       r.DCBalance,
		DCNonce:         r.DCNonce,
		SecurityBalance: r.SecurityBalance,
		StakedBalance:   r.StakedBalance,
		Nonce:           r.Nonce,
		FirstBlock:      r.FirstBlock,
		LastBlock:       r.LastBlock,
	}
}

type hotspotRow struct {
	Address     string
	Owner       *string
	Name        *string
	Location    *string
	LocationHex *string
	FirstBlock  *int64
	LastBlock   *int64
	Nonce       *int64
	RewardScale *float64
	Elevation   *int64
	Gain        *int64
	Mode        *string
	Online      *string
	CityID      *string
	LongCity    *string
	LongState   *string
	LongCountry *string
}

func (r hotspotRow) document() *models.Hotspot {
	doc := &models.Hotspot{
		Key:         r.Address,
		Address:     r.Address,
		Owner:       r.Owner,
		Name:        r.Name,
		Location:    r.Location,
		LocationHex: r.LocationHex,
		FirstBlock:  r.FirstBlock,
		LastBlock:   r.LastBlock,
		Nonce:       r.Nonce,
		RewardScale: r.RewardScale,
		Elevation:   r.Elevation,
		Gain:        r.Gain,
		Mode:        r.Mode,
		Online:      r.Online,
		GeoLocation: geoFromH3(r.LocationHex),
	}
	if r.CityID != nil && *r.CityID != "" {
		doc.LocationDetails = &models.LocationDetails{
			CityKey:     keyHash(*r.CityID),
			LongCity:    r.LongCity,
			LongState:   r.LongState,
			LongCountry: r.LongCountry,
		}
	}
	return doc
}

func rewardsDocument(gateway string, amount int64) *models.HotspotRewards {
	return &models.HotspotRewards{Key: gateway, RewardsWindow: amount}
}

type cityRow struct {
	CityID      string
	LongCity    *string
	LongState   *string
	LongCountry *string
}

func (r cityRow) document() *models.City {
	return &models.City{
		Key:         keyHash(r.CityID),
		CityID:      r.CityID,
		LongCity:    r.LongCity,
		LongState:   r.LongState,
		LongCountry: r.LongCountry,
	}
}

type balanceRow struct {
	Address       string
	Date          string
	Balance       int64
	DCBalance     int64
	StakedBalance int64
}

// groupDailyBalances folds per-day balance rows into one document per
// account. Rows arrive ordered by (address, date), so each account's
// daily_balances array is date-ascending with at most one entry per day.
func groupDailyBalances(rows []balanceRow) []any {
	var docs []any
	var current *models.BalanceDoc
	for _, r := range rows {
		if current == nil || current.Key != r.Address {
			if current != nil {
				docs = append(docs, current)
			}
			current = &models.BalanceDoc{Key: r.Address}
		}
		current.DailyBalances = append(current.DailyBalances, models.DailyBalance{
			Date:          r.Date,
			Balance:       r.Balance,
			DCBalance:     r.DCBalance,
			StakedBalance: r.StakedBalance,
		})
	}
	if current != nil {
		docs = append(docs, current)
	}
	return docs
}
