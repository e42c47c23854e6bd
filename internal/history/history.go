// Package history keeps a bounded rolling window of price and volume samples
// per symbol and derives N-minute change and volume ratio from it.
package history

import (
	"time"

	"hawkeye-monitor/internal/models"
)

// Capacity bounds the window: one hour of samples at 5s granularity.
const Capacity = 720

// MinVolumeSamples is the minimum sample count before VolumeRatio is
// considered meaningful.
const MinVolumeSamples = 10

type sample struct {
	at    time.Time
	value float64
}

// PriceHistory is a fixed-capacity FIFO of (timestamp, price) and
// (timestamp, volume) samples for one symbol on one market. Oldest samples
// are evicted on insert. Not safe for concurrent use; the feed serializes
// access per market.
type PriceHistory struct {
	Symbol string
	Market models.MarketType

	prices  []sample
	volumes []sample

	now func() time.Time
}

// New creates an empty history for symbol on market.
func New(symbol string, market models.MarketType) *PriceHistory {
	return &PriceHistory{
		Symbol: symbol,
		Market: market,
		now:    time.Now,
	}
}

// Add appends one price/volume sample, evicting the oldest at capacity.
func (h *PriceHistory) Add(price, volume float64) {
	at := h.now()
	h.prices = push(h.prices, sample{at, price})
	h.volumes = push(h.volumes, sample{at, volume})
}

func push(s []sample, v sample) []sample {
	if len(s) >= Capacity {
		copy(s, s[1:])
		s[len(s)-1] = v
		return s
	}
	return append(s, v)
}

// Len returns the number of retained price samples.
func (h *PriceHistory) Len() int {
	return len(h.prices)
}

// Change returns the percent change between the current price and the most
// recent price at or before now-minutes. With no sample that old, the
// earliest retained price is the baseline. ok is false with fewer than two
// samples or a non-positive baseline.
func (h *PriceHistory) Change(minutes int) (float64, bool) {
	if len(h.prices) < 2 {
		return 0, false
	}

	cutoff := h.now().Add(-time.Duration(minutes) * time.Minute)
	current := h.prices[len(h.prices)-1].value

	var baseline float64
	found := false
	for _, s := range h.prices {
		if !s.at.After(cutoff) {
			baseline = s.value
			found = true
		} else {
			break
		}
	}
	if !found {
		baseline = h.prices[0].value
	}

	if baseline <= 0 {
		return 0, false
	}
	return (current - baseline) / baseline * 100, true
}

// VolumeRatio returns mean(volume newer than now-minutes) over mean(volume at
// or older than the cutoff). Defaults to 1.0 with fewer than
// MinVolumeSamples samples or an empty partition.
func (h *PriceHistory) VolumeRatio(minutes int) float64 {
	if len(h.volumes) < MinVolumeSamples {
		return 1.0
	}

	cutoff := h.now().Add(-time.Duration(minutes) * time.Minute)

	var recentSum, olderSum float64
	var recentN, olderN int
	for _, s := range h.volumes {
		if s.at.After(cutoff) {
			recentSum += s.value
			recentN++
		} else {
			olderSum += s.value
			olderN++
		}
	}

	if recentN == 0 || olderN == 0 {
		return 1.0
	}

	avgOlder := olderSum / float64(olderN)
	if avgOlder <= 0 {
		return 1.0
	}
	return (recentSum / float64(recentN)) / avgOlder
}

// PriceRange returns the min and max price over the trailing window. Falls
// back to the whole retained window when no sample is newer than the cutoff.
func (h *PriceHistory) PriceRange(minutes int) (low, high float64) {
	if len(h.prices) == 0 {
		return 0, 0
	}

	cutoff := h.now().Add(-time.Duration(minutes) * time.Minute)
	first := true
	for _, s := range h.prices {
		if !s.at.After(cutoff) {
			continue
		}
		if first || s.value < low {
			low = s.value
		}
		if first || s.value > high {
			high = s.value
		}
		first = false
	}
	if first {
		for i, s := range h.prices {
			if i == 0 || s.value < low {
				low = s.value
			}
			if i == 0 || s.value > high {
				high = s.value
			}
		}
	}
	return low, high
}
