package binance

import (
	"math"
	"sort"

	"hawkeye-monitor/internal/models"
)

// RankingEntry is one row of a market listing.
type RankingEntry struct {
	Symbol        string
	Price         float64
	ChangePercent float64
	QuoteVolume   float64
}

// SpreadEntry is one row of the spot/futures spread listing.
type SpreadEntry struct {
	Symbol        string
	SpotPrice     float64
	FuturesPrice  float64
	SpreadPercent float64
}

// FundingEntry is one row of the funding rate listing.
type FundingEntry struct {
	Symbol      string
	RatePercent float64
}

// sortByQuoteVolume orders symbols by 24h quote turnover descending,
// breaking ties by symbol.
func sortByQuoteVolume(symbols []string, snaps map[string]*models.Token24h) {
	vol := func(s string) float64 {
		if snap, ok := snaps[s]; ok {
			return snap.QuoteVolume
		}
		return 0
	}
	sort.Slice(symbols, func(i, j int) bool {
		vi, vj := vol(symbols[i]), vol(symbols[j])
		if vi != vj {
			return vi > vj
		}
		return symbols[i] < symbols[j]
	})
}

func (f *Feed) rankingRows(market models.MarketType, minQuoteVolume float64) []RankingEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()

	st := f.state(market)
	rows := make([]RankingEntry, 0, len(st.token24h))
	for symbol, snap := range st.token24h {
		if snap.QuoteVolume < minQuoteVolume {
			continue
		}
		rows = append(rows, RankingEntry{
			Symbol:        symbol,
			Price:         snap.Price,
			ChangePercent: snap.ChangePercent,
			QuoteVolume:   snap.QuoteVolume,
		})
	}
	return rows
}

// TopGainers lists the n largest 24h gainers on market, filtered by minimum
// quote turnover. Ties break by symbol for a deterministic listing.
func (f *Feed) TopGainers(market models.MarketType, n int, minQuoteVolume float64) []RankingEntry {
	rows := f.rankingRows(market, minQuoteVolume)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ChangePercent != rows[j].ChangePercent {
			return rows[i].ChangePercent > rows[j].ChangePercent
		}
		return rows[i].Symbol < rows[j].Symbol
	})
	return truncate(rows, n)
}

// TopLosers lists the n largest 24h losers on market.
func (f *Feed) TopLosers(market models.MarketType, n int, minQuoteVolume float64) []RankingEntry {
	rows := f.rankingRows(market, minQuoteVolume)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ChangePercent != rows[j].ChangePercent {
			return rows[i].ChangePercent < rows[j].ChangePercent
		}
		return rows[i].Symbol < rows[j].Symbol
	})
	return truncate(rows, n)
}

// TopByVolume lists the n highest 24h quote turnovers on market.
func (f *Feed) TopByVolume(market models.MarketType, n int, minQuoteVolume float64) []RankingEntry {
	rows := f.rankingRows(market, minQuoteVolume)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].QuoteVolume != rows[j].QuoteVolume {
			return rows[i].QuoteVolume > rows[j].QuoteVolume
		}
		return rows[i].Symbol < rows[j].Symbol
	})
	return truncate(rows, n)
}

// TopSpreads lists the n widest absolute spot/futures spreads among symbols
// currently priced on both markets, filtered by spot quote turnover.
func (f *Feed) TopSpreads(n int, minQuoteVolume float64) []SpreadEntry {
	f.mu.RLock()
	rows := make([]SpreadEntry, 0, 64)
	for symbol, spot := range f.spot.prices {
		futures, ok := f.futures.prices[symbol]
		if !ok || spot <= 0 {
			continue
		}
		if snap, okSnap := f.spot.token24h[symbol]; !okSnap || snap.QuoteVolume < minQuoteVolume {
			continue
		}
		rows = append(rows, SpreadEntry{
			Symbol:        symbol,
			SpotPrice:     spot,
			FuturesPrice:  futures,
			SpreadPercent: (futures - spot) / spot * 100,
		})
	}
	f.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		ai, aj := math.Abs(rows[i].SpreadPercent), math.Abs(rows[j].SpreadPercent)
		if ai != aj {
			return ai > aj
		}
		return rows[i].Symbol < rows[j].Symbol
	})
	return truncateSpreads(rows, n)
}

// TopFunding lists the n most extreme funding rates; positive selects the
// highest rates, otherwise the most negative.
func (f *Feed) TopFunding(n int, positive bool) []FundingEntry {
	f.mu.RLock()
	rows := make([]FundingEntry, 0, len(f.funding))
	for symbol, fi := range f.funding {
		rows = append(rows, FundingEntry{Symbol: symbol, RatePercent: fi.RatePercent})
	}
	f.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].RatePercent != rows[j].RatePercent {
			if positive {
				return rows[i].RatePercent > rows[j].RatePercent
			}
			return rows[i].RatePercent < rows[j].RatePercent
		}
		return rows[i].Symbol < rows[j].Symbol
	})
	if n < len(rows) {
		rows = rows[:n]
	}
	return rows
}

func truncate(rows []RankingEntry, n int) []RankingEntry {
	if n < len(rows) {
		return rows[:n]
	}
	return rows
}

func truncateSpreads(rows []SpreadEntry, n int) []SpreadEntry {
	if n < len(rows) {
		return rows[:n]
	}
	return rows
}
