package history

import (
	"testing"
	"time"

	"hawkeye-monitor/internal/models"
)

func newTestHistory(now *time.Time) *PriceHistory {
	h := New("BTCUSDT", models.MarketSpot)
	h.now = func() time.Time { return *now }
	return h
}

func TestCapacityBound(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newTestHistory(&now)

	for i := 0; i < Capacity*2; i++ {
		h.Add(float64(i+1), 100)
		now = now.Add(time.Second)
	}

	if h.Len() != Capacity {
		t.Fatalf("retained %d samples, want %d", h.Len(), Capacity)
	}

	// Oldest samples were evicted; the newest survives.
	change, ok := h.Change(0)
	if !ok {
		t.Fatal("change unavailable after fill")
	}
	if change != 0 {
		t.Errorf("change against newest sample = %f, want 0", change)
	}
}

func TestChangeBaseline(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h := newTestHistory(&now)

	h.Add(100, 10)
	now = now.Add(30 * time.Second)
	h.Add(105, 10)
	now = now.Add(30 * time.Second)
	h.Add(110, 10)

	// Baseline is the last sample at or before now-1m: the first one.
	change, ok := h.Change(1)
	if !ok {
		t.Fatal("change unavailable")
	}
	if change != 10 {
		t.Errorf("1m change = %f, want 10", change)
	}
}

func TestChangeFallsBackToEarliest(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h := newTestHistory(&now)

	h.Add(200, 10)
	now = now.Add(10 * time.Second)
	h.Add(220, 10)

	// No sample is an hour old; the earliest retained price serves.
	change, ok := h.Change(60)
	if !ok {
		t.Fatal("change unavailable")
	}
	if change != 10 {
		t.Errorf("1h change = %f, want 10", change)
	}
}

func TestChangeRequiresTwoSamples(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h := newTestHistory(&now)

	if _, ok := h.Change(5); ok {
		t.Error("change reported with no samples")
	}
	h.Add(100, 10)
	if _, ok := h.Change(5); ok {
		t.Error("change reported with a single sample")
	}
}

func TestVolumeRatioDefaults(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h := newTestHistory(&now)

	for i := 0; i < MinVolumeSamples-1; i++ {
		h.Add(100, 50)
		now = now.Add(time.Second)
	}
	if got := h.VolumeRatio(5); got != 1.0 {
		t.Errorf("ratio below sample floor = %f, want 1.0", got)
	}
}

func TestVolumeRatioSpike(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h := newTestHistory(&now)

	// Ten old samples at volume 10, then ten recent at volume 100.
	for i := 0; i < 10; i++ {
		h.Add(100, 10)
		now = now.Add(time.Second)
	}
	now = now.Add(10 * time.Minute)
	for i := 0; i < 10; i++ {
		h.Add(100, 100)
		now = now.Add(time.Second)
	}

	got := h.VolumeRatio(5)
	if got < 9.9 || got > 10.1 {
		t.Errorf("volume ratio = %f, want ~10", got)
	}
}

func TestPriceRange(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h := newTestHistory(&now)

	for _, p := range []float64{100, 95, 120, 110} {
		h.Add(p, 10)
		now = now.Add(time.Second)
	}

	low, high := h.PriceRange(5)
	if low != 95 || high != 120 {
		t.Errorf("range = (%f, %f), want (95, 120)", low, high)
	}
}
