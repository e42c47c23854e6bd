package users

import (
	"testing"
	"time"
)

func TestShouldMonitor(t *testing.T) {
	c := NewUserConfig("u1")

	if !c.ShouldMonitor("BTCUSDT") {
		t.Error("default config should admit any symbol")
	}

	c.Blacklist = []string{"DOGEUSDT"}
	if c.ShouldMonitor("DOGEUSDT") {
		t.Error("blacklisted symbol admitted")
	}
	if c.ShouldMonitor("dogeusdt") {
		t.Error("blacklist must match case-insensitively")
	}

	c.WatchMode = WatchWhitelist
	c.Whitelist = []string{"BTCUSDT"}
	if !c.ShouldMonitor("BTCUSDT") {
		t.Error("whitelisted symbol rejected")
	}
	if c.ShouldMonitor("ETHUSDT") {
		t.Error("non-whitelisted symbol admitted in whitelist mode")
	}

	// Blacklist wins even in whitelist mode.
	c.Whitelist = append(c.Whitelist, "DOGEUSDT")
	if c.ShouldMonitor("DOGEUSDT") {
		t.Error("blacklist must override whitelist")
	}
}

func TestMonitorByVolume(t *testing.T) {
	c := NewUserConfig("u1")
	if !c.MonitorByVolume(0) {
		t.Error("disabled filter must admit")
	}

	c.VolumeFilterEnabled = true
	c.MinVolume24h = 1_000_000
	if c.MonitorByVolume(999_999) {
		t.Error("turnover below floor admitted")
	}
	if !c.MonitorByVolume(1_000_000) {
		t.Error("turnover at floor rejected")
	}
}

func TestIsNightTimeWrapsMidnight(t *testing.T) {
	c := NewUserConfig("u1")
	c.TimezoneOffset = 0
	c.AlertMode.Night.Start = "23:00"
	c.AlertMode.Night.End = "07:00"

	cases := []struct {
		hour, min int
		want      bool
	}{
		{23, 30, true},
		{2, 0, true},
		{7, 0, true},
		{7, 1, false},
		{12, 0, false},
		{22, 59, false},
	}
	for _, tc := range cases {
		now := time.Date(2026, 1, 15, tc.hour, tc.min, 0, 0, time.UTC)
		if got := c.IsNightTime(now); got != tc.want {
			t.Errorf("IsNightTime(%02d:%02d) = %v, want %v", tc.hour, tc.min, got, tc.want)
		}
	}
}

func TestIsNightTimeSameDayWindow(t *testing.T) {
	c := NewUserConfig("u1")
	c.TimezoneOffset = 0
	c.AlertMode.Night.Start = "01:00"
	c.AlertMode.Night.End = "05:00"

	if !c.IsNightTime(time.Date(2026, 1, 15, 3, 0, 0, 0, time.UTC)) {
		t.Error("03:00 should be inside 01:00-05:00")
	}
	if c.IsNightTime(time.Date(2026, 1, 15, 6, 0, 0, 0, time.UTC)) {
		t.Error("06:00 should be outside 01:00-05:00")
	}
}

func TestIsNightTimeHonorsTimezone(t *testing.T) {
	c := NewUserConfig("u1")
	c.TimezoneOffset = 8
	c.AlertMode.Night.Start = "23:00"
	c.AlertMode.Night.End = "07:00"

	// 16:00 UTC is 00:00 local at UTC+8.
	if !c.IsNightTime(time.Date(2026, 1, 15, 16, 0, 0, 0, time.UTC)) {
		t.Error("midnight local should be night")
	}
	// 04:00 UTC is 12:00 local.
	if c.IsNightTime(time.Date(2026, 1, 15, 4, 0, 0, 0, time.UTC)) {
		t.Error("noon local should not be night")
	}
}

func TestEffectiveModeNightUpgrade(t *testing.T) {
	c := NewUserConfig("u1")
	c.TimezoneOffset = 0
	c.AlertMode.Mode = ModeSingle
	c.AlertMode.Night.Start = "23:00"
	c.AlertMode.Night.End = "07:00"

	night := time.Date(2026, 1, 15, 23, 30, 0, 0, time.UTC)
	day := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	if got := c.EffectiveMode(night); got != ModeRepeat {
		t.Errorf("night mode = %v, want REPEAT", got)
	}
	if got := c.EffectiveMode(day); got != ModeSingle {
		t.Errorf("day mode = %v, want SINGLE", got)
	}

	c.AlertMode.Night.AutoSwitch = false
	if got := c.EffectiveMode(night); got != ModeSingle {
		t.Errorf("auto-switch off but mode = %v", got)
	}
}

func TestEffectiveRepeatNightCadence(t *testing.T) {
	c := NewUserConfig("u1")
	c.TimezoneOffset = 0

	night := time.Date(2026, 1, 15, 23, 30, 0, 0, time.UTC)
	r := c.EffectiveRepeat(night)
	if r.IntervalSeconds != 15 || r.MaxRepeats != 20 {
		t.Errorf("night repeat = %d/%d, want 15/20", r.IntervalSeconds, r.MaxRepeats)
	}

	day := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	r = c.EffectiveRepeat(day)
	if r.IntervalSeconds != 10 || r.MaxRepeats != 30 {
		t.Errorf("day repeat = %d/%d, want 10/30", r.IntervalSeconds, r.MaxRepeats)
	}
}

func TestEffectiveChannelsNightEmail(t *testing.T) {
	c := NewUserConfig("u1")
	c.TimezoneOffset = 0
	c.Email.Enabled = true

	night := time.Date(2026, 1, 15, 23, 30, 0, 0, time.UTC)
	channels := c.EffectiveChannels(night)
	if !HasChannel(channels, ChannelEmail) {
		t.Error("night window should augment channels with email")
	}

	day := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	channels = c.EffectiveChannels(day)
	if HasChannel(channels, ChannelEmail) {
		t.Error("daytime channels should not include email")
	}
}

func TestApplyProfilePresets(t *testing.T) {
	c := NewUserConfig("u1")

	ApplyProfile(c, ProfileConservative)
	if c.Price.Pump1m != 10 || c.Price.Pump1h != 35 || c.CooldownSeconds != 600 {
		t.Errorf("conservative preset wrong: %+v cooldown %d", c.Price, c.CooldownSeconds)
	}
	if c.Volume.SpikeRatio != 20 || c.Spread.SpotFutures != 4.0 {
		t.Errorf("conservative spread/volume wrong")
	}

	ApplyProfile(c, ProfileModerate)
	if c.Price.Pump1m != 6 || c.Price.Dump15m != -15 || c.CooldownSeconds != 300 {
		t.Errorf("moderate preset wrong: %+v cooldown %d", c.Price, c.CooldownSeconds)
	}

	ApplyProfile(c, ProfileAggressive)
	if c.Price.Pump1m != 3.5 || c.CooldownSeconds != 120 || c.Volume.SpikeRatio != 7 {
		t.Errorf("aggressive preset wrong: %+v cooldown %d", c.Price, c.CooldownSeconds)
	}

	// CUSTOM keeps whatever is configured.
	c.Price.Pump1m = 42
	ApplyProfile(c, ProfileCustom)
	if c.Price.Pump1m != 42 {
		t.Error("custom profile must not overwrite thresholds")
	}
}

func TestParseClock(t *testing.T) {
	if v, err := parseClock("23:30"); err != nil || v != 23*60+30 {
		t.Errorf("parseClock(23:30) = %d, %v", v, err)
	}
	for _, bad := range []string{"25:00", "12:75", "noon", ""} {
		if _, err := parseClock(bad); err == nil {
			t.Errorf("parseClock(%q) accepted", bad)
		}
	}
}
