package rules

import (
	"testing"

	"hawkeye-monitor/internal/models"
)

func TestPriceLevel(t *testing.T) {
	cases := []struct {
		change float64
		want   models.AlertLevel
	}{
		{4.9, models.LevelInfo},
		{5, models.LevelWarning},
		{-7, models.LevelWarning},
		{10, models.LevelCritical},
		{-15, models.LevelCritical},
		{20, models.LevelExtreme},
		{-35, models.LevelExtreme},
	}
	for _, c := range cases {
		if got := PriceLevel(c.change); got != c.want {
			t.Errorf("PriceLevel(%f) = %v, want %v", c.change, got, c.want)
		}
	}
}

func TestSpreadLevel(t *testing.T) {
	cases := []struct {
		spread float64
		want   models.AlertLevel
	}{
		{1.0, models.LevelInfo},
		{1.5, models.LevelWarning},
		{-3, models.LevelCritical},
		{5.5, models.LevelExtreme},
	}
	for _, c := range cases {
		if got := SpreadLevel(c.spread); got != c.want {
			t.Errorf("SpreadLevel(%f) = %v, want %v", c.spread, got, c.want)
		}
	}
}

func TestFundingLevel(t *testing.T) {
	cases := []struct {
		funding float64
		want    models.AlertLevel
	}{
		{0.05, models.LevelInfo},
		{0.1, models.LevelWarning},
		{-0.3, models.LevelCritical},
		{0.6, models.LevelExtreme},
	}
	for _, c := range cases {
		if got := FundingLevel(c.funding); got != c.want {
			t.Errorf("FundingLevel(%f) = %v, want %v", c.funding, got, c.want)
		}
	}
}

func TestVolumeLevel(t *testing.T) {
	cases := []struct {
		ratio float64
		want  models.AlertLevel
	}{
		{5, models.LevelInfo},
		{10, models.LevelWarning},
		{25, models.LevelCritical},
		{51, models.LevelExtreme},
	}
	for _, c := range cases {
		if got := VolumeLevel(c.ratio); got != c.want {
			t.Errorf("VolumeLevel(%f) = %v, want %v", c.ratio, got, c.want)
		}
	}
}

func TestBigOrderLevel(t *testing.T) {
	// Absolute-dollar branches for a liquid symbol.
	if got := BigOrderLevel(6_000_000, 1_000_000_000); got != models.LevelWarning {
		t.Errorf("$6M on $1B = %v, want WARNING", got)
	}
	if got := BigOrderLevel(25_000_000, 1_000_000_000); got != models.LevelCritical {
		t.Errorf("$25M on $1B = %v, want CRITICAL", got)
	}
	if got := BigOrderLevel(60_000_000, 10_000_000_000); got != models.LevelExtreme {
		t.Errorf("$60M on $10B = %v, want EXTREME", got)
	}
	// Ratio branch for an illiquid symbol.
	if got := BigOrderLevel(600_000, 1_000_000); got != models.LevelExtreme {
		t.Errorf("60%% of turnover = %v, want EXTREME", got)
	}
}

func TestTierThresholds(t *testing.T) {
	th := DefaultBigOrderThreshold()
	cases := []struct {
		volume  float64
		minAbs  float64
		ratio   float64
	}{
		{5_000_000, 500_000, 20},
		{50_000_000, 2_000_000, 10},
		{500_000_000, 5_000_000, 5},
		{2_000_000_000, 10_000_000, 2},
	}
	for _, c := range cases {
		minAbs, ratio := th.TierThresholds(c.volume)
		if minAbs != c.minAbs || ratio != c.ratio {
			t.Errorf("TierThresholds(%.0f) = (%.0f, %.0f), want (%.0f, %.0f)",
				c.volume, minAbs, ratio, c.minAbs, c.ratio)
		}
	}
}

func TestIsBigOrderMidTier(t *testing.T) {
	th := DefaultBigOrderThreshold()

	// $50M turnover: threshold is max($2M, 10% of $50M) = $5M.
	if th.IsBigOrder(3_000_000, 50_000_000) {
		t.Error("$3M order passed the $5M mid-tier threshold")
	}
	if !th.IsBigOrder(6_000_000, 50_000_000) {
		t.Error("$6M order failed the $5M mid-tier threshold")
	}
	if !th.IsBigOrder(5_000_000, 50_000_000) {
		t.Error("threshold boundary should admit")
	}
}

func TestIsBigOrderNoTurnover(t *testing.T) {
	th := DefaultBigOrderThreshold()

	if th.IsBigOrder(400_000, 0) {
		t.Error("order below the small-cap floor passed with no turnover data")
	}
	if !th.IsBigOrder(500_000, 0) {
		t.Error("order at the small-cap floor rejected with no turnover data")
	}
}
