// Package rules holds the pure threshold functions that map a metric value
// to an alert level, and the turnover-tiered big-order test.
package rules

import (
	"math"

	"hawkeye-monitor/internal/models"
)

// PriceLevel classifies an N-minute percent change.
func PriceLevel(changePercent float64) models.AlertLevel {
	abs := math.Abs(changePercent)
	switch {
	case abs >= 20:
		return models.LevelExtreme
	case abs >= 10:
		return models.LevelCritical
	case abs >= 5:
		return models.LevelWarning
	default:
		return models.LevelInfo
	}
}

// SpreadLevel classifies a spot/futures spread percent.
func SpreadLevel(spreadPercent float64) models.AlertLevel {
	abs := math.Abs(spreadPercent)
	switch {
	case abs >= 5:
		return models.LevelExtreme
	case abs >= 3:
		return models.LevelCritical
	case abs >= 1.5:
		return models.LevelWarning
	default:
		return models.LevelInfo
	}
}

// FundingLevel classifies a funding rate percent.
func FundingLevel(fundingPercent float64) models.AlertLevel {
	abs := math.Abs(fundingPercent)
	switch {
	case abs >= 0.5:
		return models.LevelExtreme
	case abs >= 0.3:
		return models.LevelCritical
	case abs >= 0.1:
		return models.LevelWarning
	default:
		return models.LevelInfo
	}
}

// VolumeLevel classifies a recent/older volume ratio.
func VolumeLevel(ratio float64) models.AlertLevel {
	switch {
	case ratio >= 50:
		return models.LevelExtreme
	case ratio >= 20:
		return models.LevelCritical
	case ratio >= 10:
		return models.LevelWarning
	default:
		return models.LevelInfo
	}
}

// BigOrderLevel classifies a resting order by its share of 24h quote
// turnover, with absolute-dollar alternatives for liquid symbols.
func BigOrderLevel(orderValue, volume24h float64) models.AlertLevel {
	var ratio float64
	if volume24h > 0 {
		ratio = orderValue / volume24h * 100
	}

	switch {
	case ratio >= 50 || orderValue >= 50_000_000:
		return models.LevelExtreme
	case ratio >= 20 || orderValue >= 20_000_000:
		return models.LevelCritical
	case ratio >= 10 || orderValue >= 5_000_000:
		return models.LevelWarning
	default:
		return models.LevelInfo
	}
}

// BigOrderThreshold is the per-user tiered big-order configuration. Tier
// boundaries are fixed by 24h quote turnover; the dollar floors and ratios
// vary per alert profile.
type BigOrderThreshold struct {
	Enabled bool `json:"enabled"`

	MinOrderSmallCap float64 `json:"min_order_small_cap"`
	MinOrderMidCap   float64 `json:"min_order_mid_cap"`
	MinOrderLargeCap float64 `json:"min_order_large_cap"`
	MinOrderMegaCap  float64 `json:"min_order_mega_cap"`

	RatioSmallCap float64 `json:"ratio_small_cap"`
	RatioMidCap   float64 `json:"ratio_mid_cap"`
	RatioLargeCap float64 `json:"ratio_large_cap"`
	RatioMegaCap  float64 `json:"ratio_mega_cap"`

	// MaxPriceDeviation gates out resting orders too far from the live
	// price, in percent.
	MaxPriceDeviation float64 `json:"max_price_deviation"`

	DepthLevels int `json:"depth_levels"`
}

// DefaultBigOrderThreshold returns the moderate-profile tiering.
func DefaultBigOrderThreshold() BigOrderThreshold {
	return BigOrderThreshold{
		Enabled:           true,
		MinOrderSmallCap:  500_000,
		MinOrderMidCap:    2_000_000,
		MinOrderLargeCap:  5_000_000,
		MinOrderMegaCap:   10_000_000,
		RatioSmallCap:     20.0,
		RatioMidCap:       10.0,
		RatioLargeCap:     5.0,
		RatioMegaCap:      2.0,
		MaxPriceDeviation: 5.0,
		DepthLevels:       20,
	}
}

// TierThresholds returns the (absolute floor, percent ratio) pair for the
// liquidity tier implied by the 24h quote turnover.
func (t BigOrderThreshold) TierThresholds(volume24h float64) (minAbs, ratio float64) {
	switch {
	case volume24h < 10_000_000:
		return t.MinOrderSmallCap, t.RatioSmallCap
	case volume24h < 100_000_000:
		return t.MinOrderMidCap, t.RatioMidCap
	case volume24h < 1_000_000_000:
		return t.MinOrderLargeCap, t.RatioLargeCap
	default:
		return t.MinOrderMegaCap, t.RatioMegaCap
	}
}

// IsBigOrder reports whether an order notional clears the tier threshold:
// max of the absolute floor and the ratio of 24h turnover. With no turnover
// data only the small-cap floor applies.
func (t BigOrderThreshold) IsBigOrder(orderValue, volume24h float64) bool {
	if volume24h <= 0 {
		return orderValue >= t.MinOrderSmallCap
	}
	minAbs, ratio := t.TierThresholds(volume24h)
	threshold := math.Max(minAbs, volume24h*ratio/100)
	return orderValue >= threshold
}
