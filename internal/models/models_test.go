package models

import "testing"

func TestBaseAsset(t *testing.T) {
	cases := map[string]string{
		"BTCUSDT": "BTC",
		"btcusdt": "BTC",
		"ETH":     "ETH",
	}
	for in, want := range cases {
		if got := BaseAsset(in); got != want {
			t.Errorf("BaseAsset(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLevelOrdering(t *testing.T) {
	levels := []AlertLevel{LevelInfo, LevelWarning, LevelCritical, LevelExtreme}
	for i := 1; i < len(levels); i++ {
		if levels[i].Priority() <= levels[i-1].Priority() {
			t.Errorf("%v priority not above %v", levels[i], levels[i-1])
		}
	}
}

func TestNewAlert(t *testing.T) {
	a := NewAlert(AlertPricePump, LevelWarning, "BTCUSDT", MarketSpot, "msg",
		PriceData{ChangePercent: 7, Horizon: "1m"})

	if len(a.ID) != 8 {
		t.Errorf("id length = %d, want 8", len(a.ID))
	}
	if a.Status != StatusPending {
		t.Errorf("status = %v, want pending", a.Status)
	}
	if a.IsEscalation() {
		t.Error("fresh alert marked as escalation")
	}

	b := NewAlert(AlertPricePump, LevelWarning, "BTCUSDT", MarketSpot, "msg", PriceData{})
	if a.ID == b.ID {
		t.Error("ids must be unique")
	}
}

func TestEscalationFlag(t *testing.T) {
	a := NewAlert(AlertPriceDump, LevelCritical, "BTCUSDT", MarketSpot, "msg",
		PriceData{Common: Common{IsEscalation: true}})
	if !a.IsEscalation() {
		t.Error("escalation flag lost")
	}
}

func TestBookLevelValue(t *testing.T) {
	l := BookLevel{Price: 99, Quantity: 50}
	if l.Value() != 4950 {
		t.Errorf("value = %f, want 4950", l.Value())
	}
}
