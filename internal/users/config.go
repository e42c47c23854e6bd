// Package users owns per-user alerting configuration and its file store.
package users

import (
	"fmt"
	"strings"
	"time"

	"hawkeye-monitor/internal/models"
	"hawkeye-monitor/internal/rules"
)

// AlertProfile selects a preset threshold bundle.
type AlertProfile string

const (
	ProfileConservative AlertProfile = "conservative"
	ProfileModerate     AlertProfile = "moderate"
	ProfileAggressive   AlertProfile = "aggressive"
	ProfileCustom       AlertProfile = "custom"
)

// AlertMode controls whether alerts repeat until acknowledged.
type AlertMode string

const (
	ModeSingle AlertMode = "single"
	ModeRepeat AlertMode = "repeat"
)

// NotifyChannel names an outbound delivery channel.
type NotifyChannel string

const (
	ChannelTelegram NotifyChannel = "telegram"
	ChannelEmail    NotifyChannel = "email"
	ChannelAll      NotifyChannel = "all"
)

// WatchMode controls symbol admission.
type WatchMode string

const (
	WatchAll       WatchMode = "all"
	WatchWhitelist WatchMode = "whitelist"
	WatchBlacklist WatchMode = "blacklist"
)

// PriceThreshold holds the symmetric pump/dump thresholds per horizon, in
// percent.
type PriceThreshold struct {
	Pump1m  float64 `json:"pump_1m"`
	Dump1m  float64 `json:"dump_1m"`
	Pump5m  float64 `json:"pump_5m"`
	Dump5m  float64 `json:"dump_5m"`
	Pump15m float64 `json:"pump_15m"`
	Dump15m float64 `json:"dump_15m"`
	Pump1h  float64 `json:"pump_1h"`
	Dump1h  float64 `json:"dump_1h"`
}

// SpreadThreshold holds spread and funding cutoffs, in percent.
type SpreadThreshold struct {
	SpotFutures float64 `json:"spot_futures"`
	FundingHigh float64 `json:"funding_high"`
	FundingLow  float64 `json:"funding_low"`
}

// VolumeThreshold holds the volume spike trigger.
type VolumeThreshold struct {
	SpikeRatio float64 `json:"spike_ratio"`
}

// RepeatConfig is the user's base repeat-until-confirmed settings.
type RepeatConfig struct {
	Enabled         bool `json:"enabled"`
	IntervalSeconds int  `json:"interval_seconds"`
	MaxRepeats      int  `json:"max_repeats"`
	RequireConfirm  bool `json:"require_confirm"`
}

// NightConfig is the night-window override: stricter cadence and optional
// email augmentation during the configured local-time window.
type NightConfig struct {
	Enabled         bool   `json:"enabled"`
	AutoSwitch      bool   `json:"auto_switch"`
	Start           string `json:"start"` // "HH:MM" local
	End             string `json:"end"`
	IntervalSeconds int    `json:"interval_seconds"`
	MaxRepeats      int    `json:"max_repeats"`
	AddEmail        bool   `json:"add_email"`
}

// AlertModeConfig groups the mode with its repeat and night settings.
type AlertModeConfig struct {
	Mode   AlertMode    `json:"mode"`
	Repeat RepeatConfig `json:"repeat"`
	Night  NightConfig  `json:"night"`
}

// EmailSettings is the user's email delivery preference.
type EmailSettings struct {
	Enabled     bool     `json:"enabled"`
	ToAddresses []string `json:"to_addresses"`
}

// UserConfig is one user's complete alerting configuration.
type UserConfig struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	ChatID    string `json:"chat_id"`
	IsActive  bool   `json:"is_active"`
	IsAdmin   bool   `json:"is_admin"`
	CreatedAt string `json:"created_at"`

	TimezoneOffset int    `json:"timezone_offset"`
	TimezoneName   string `json:"timezone_name"`

	Profile AlertProfile `json:"profile"`

	Price    PriceThreshold          `json:"price"`
	Spread   SpreadThreshold         `json:"spread"`
	Volume   VolumeThreshold         `json:"volume"`
	BigOrder rules.BigOrderThreshold `json:"big_order"`

	AlertMode AlertModeConfig `json:"alert_mode"`
	Email     EmailSettings   `json:"email"`

	NotifyChannels []NotifyChannel `json:"notify_channels"`

	EnableSpot     bool `json:"enable_spot"`
	EnableFutures  bool `json:"enable_futures"`
	EnableSpread   bool `json:"enable_spread"`
	EnableVolume   bool `json:"enable_volume"`
	EnableFunding  bool `json:"enable_funding"`
	EnableBigOrder bool `json:"enable_big_order"`

	CooldownSeconds int `json:"cooldown_seconds"`

	WatchMode WatchMode `json:"watch_mode"`
	Whitelist []string  `json:"whitelist"`
	Blacklist []string  `json:"blacklist"`

	MinVolume24h        float64 `json:"min_volume_24h"`
	VolumeFilterEnabled bool    `json:"volume_filter_enabled"`
}

// Clone returns an independent copy: slice-typed fields are duplicated so
// the copy can be read while the original keeps mutating under the
// manager's lock.
func (c *UserConfig) Clone() *UserConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.Whitelist = append([]string(nil), c.Whitelist...)
	out.Blacklist = append([]string(nil), c.Blacklist...)
	out.NotifyChannels = append([]NotifyChannel(nil), c.NotifyChannels...)
	out.Email.ToAddresses = append([]string(nil), c.Email.ToAddresses...)
	return &out
}

// NewUserConfig returns a config with moderate-profile defaults.
func NewUserConfig(userID string) *UserConfig {
	c := &UserConfig{
		UserID:         userID,
		ChatID:         userID,
		IsActive:       true,
		CreatedAt:      time.Now().UTC().Format(time.RFC3339),
		TimezoneOffset: 8,
		TimezoneName:   "UTC+8",
		Profile:        ProfileModerate,
		AlertMode: AlertModeConfig{
			Mode: ModeSingle,
			Repeat: RepeatConfig{
				IntervalSeconds: 10,
				MaxRepeats:      30,
				RequireConfirm:  true,
			},
			Night: NightConfig{
				Enabled:         true,
				AutoSwitch:      true,
				Start:           "23:00",
				End:             "07:00",
				IntervalSeconds: 15,
				MaxRepeats:      20,
				AddEmail:        true,
			},
		},
		NotifyChannels: []NotifyChannel{ChannelTelegram},
		EnableSpot:     true,
		EnableFutures:  true,
		EnableSpread:   true,
		EnableVolume:   true,
		EnableFunding:  false,
		EnableBigOrder: true,
		WatchMode:      WatchAll,
	}
	ApplyProfile(c, ProfileModerate)
	return c
}

// ShouldMonitor reports whether symbol passes the user's watch lists.
// The blacklist always suppresses, matching by full symbol or base asset;
// whitelist mode additionally requires a whitelist match.
func (c *UserConfig) ShouldMonitor(symbol string) bool {
	symbol = strings.ToUpper(symbol)
	base := models.BaseAsset(symbol)

	for _, blocked := range c.Blacklist {
		if symbol == blocked || base == models.BaseAsset(blocked) {
			return false
		}
	}

	if c.WatchMode == WatchWhitelist {
		for _, allowed := range c.Whitelist {
			if symbol == allowed || base == models.BaseAsset(allowed) {
				return true
			}
		}
		return false
	}

	return true
}

// MonitorByVolume reports whether a 24h quote turnover passes the user's
// minimum turnover gate.
func (c *UserConfig) MonitorByVolume(volume24h float64) bool {
	if !c.VolumeFilterEnabled || c.MinVolume24h <= 0 {
		return true
	}
	return volume24h >= c.MinVolume24h
}

// MarketEnabled reports whether the user monitors the given market.
func (c *UserConfig) MarketEnabled(market models.MarketType) bool {
	switch market {
	case models.MarketSpot:
		return c.EnableSpot
	case models.MarketFutures:
		return c.EnableFutures
	default:
		return false
	}
}

// LocalTime converts a UTC instant to the user's fixed-offset local time.
func (c *UserConfig) LocalTime(utc time.Time) time.Time {
	loc := time.FixedZone(fmt.Sprintf("UTC%+d", c.TimezoneOffset), c.TimezoneOffset*3600)
	return utc.In(loc)
}

// IsNightTime reports whether the user's local time falls in the configured
// night window. A window wrapping midnight (start > end) matches
// now >= start or now <= end.
func (c *UserConfig) IsNightTime(utc time.Time) bool {
	if !c.AlertMode.Night.Enabled {
		return false
	}

	start, err1 := parseClock(c.AlertMode.Night.Start)
	end, err2 := parseClock(c.AlertMode.Night.End)
	if err1 != nil || err2 != nil {
		return false
	}

	local := c.LocalTime(utc)
	now := local.Hour()*60 + local.Minute()

	if start <= end {
		return now >= start && now <= end
	}
	return now >= start || now <= end
}

func parseClock(s string) (int, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(s, "%d:%d", &hh, &mm); err != nil {
		return 0, fmt.Errorf("bad clock %q: %w", s, err)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("bad clock %q", s)
	}
	return hh*60 + mm, nil
}

// EffectiveMode resolves the alert mode after the night override: inside the
// night window with auto-switch on, the mode is forced to REPEAT.
func (c *UserConfig) EffectiveMode(utc time.Time) AlertMode {
	n := c.AlertMode.Night
	if n.Enabled && n.AutoSwitch && c.IsNightTime(utc) {
		return ModeRepeat
	}
	return c.AlertMode.Mode
}

// EffectiveRepeat returns the repeat parameters in force right now: the
// night cadence during the night window, the base repeat config otherwise.
func (c *UserConfig) EffectiveRepeat(utc time.Time) RepeatConfig {
	if c.AlertMode.Night.Enabled && c.IsNightTime(utc) {
		return RepeatConfig{
			Enabled:         true,
			IntervalSeconds: c.AlertMode.Night.IntervalSeconds,
			MaxRepeats:      c.AlertMode.Night.MaxRepeats,
			RequireConfirm:  true,
		}
	}
	r := c.AlertMode.Repeat
	r.Enabled = r.Enabled || c.AlertMode.Mode == ModeRepeat
	return r
}

// EffectiveChannels returns the channel set with the night email
// augmentation applied.
func (c *UserConfig) EffectiveChannels(utc time.Time) []NotifyChannel {
	channels := append([]NotifyChannel(nil), c.NotifyChannels...)
	n := c.AlertMode.Night
	if n.Enabled && n.AddEmail && c.Email.Enabled && c.IsNightTime(utc) {
		for _, ch := range channels {
			if ch == ChannelEmail || ch == ChannelAll {
				return channels
			}
		}
		channels = append(channels, ChannelEmail)
	}
	return channels
}

// HasChannel reports whether the channel set includes ch, honoring ALL.
func HasChannel(channels []NotifyChannel, ch NotifyChannel) bool {
	for _, c := range channels {
		if c == ch || c == ChannelAll {
			return true
		}
	}
	return false
}

// ApplyProfile overwrites the threshold bundle with a preset. CUSTOM leaves
// the current thresholds untouched.
func ApplyProfile(c *UserConfig, profile AlertProfile) {
	c.Profile = profile
	switch profile {
	case ProfileConservative:
		c.Price = PriceThreshold{
			Pump1m: 10, Dump1m: -10,
			Pump5m: 15, Dump5m: -15,
			Pump15m: 25, Dump15m: -25,
			Pump1h: 35, Dump1h: -35,
		}
		c.Spread = SpreadThreshold{SpotFutures: 4.0, FundingHigh: 0.4, FundingLow: -0.4}
		c.Volume = VolumeThreshold{SpikeRatio: 20.0}
		c.BigOrder = rules.BigOrderThreshold{
			Enabled:           true,
			MinOrderSmallCap:  1_000_000,
			MinOrderMidCap:    5_000_000,
			MinOrderLargeCap:  10_000_000,
			MinOrderMegaCap:   20_000_000,
			RatioSmallCap:     20.0,
			RatioMidCap:       10.0,
			RatioLargeCap:     5.0,
			RatioMegaCap:      2.0,
			MaxPriceDeviation: 5.0,
			DepthLevels:       20,
		}
		c.CooldownSeconds = 600
	case ProfileModerate:
		c.Price = PriceThreshold{
			Pump1m: 6, Dump1m: -6,
			Pump5m: 9, Dump5m: -9,
			Pump15m: 15, Dump15m: -15,
			Pump1h: 21, Dump1h: -21,
		}
		c.Spread = SpreadThreshold{SpotFutures: 2.5, FundingHigh: 0.25, FundingLow: -0.25}
		c.Volume = VolumeThreshold{SpikeRatio: 12.0}
		c.BigOrder = rules.DefaultBigOrderThreshold()
		c.CooldownSeconds = 300
	case ProfileAggressive:
		c.Price = PriceThreshold{
			Pump1m: 3.5, Dump1m: -3.5,
			Pump5m: 5, Dump5m: -5,
			Pump15m: 9, Dump15m: -9,
			Pump1h: 12, Dump1h: -12,
		}
		c.Spread = SpreadThreshold{SpotFutures: 1.5, FundingHigh: 0.15, FundingLow: -0.15}
		c.Volume = VolumeThreshold{SpikeRatio: 7.0}
		c.BigOrder = rules.BigOrderThreshold{
			Enabled:           true,
			MinOrderSmallCap:  300_000,
			MinOrderMidCap:    1_000_000,
			MinOrderLargeCap:  3_000_000,
			MinOrderMegaCap:   5_000_000,
			RatioSmallCap:     20.0,
			RatioMidCap:       10.0,
			RatioLargeCap:     5.0,
			RatioMegaCap:      2.0,
			MaxPriceDeviation: 5.0,
			DepthLevels:       20,
		}
		c.CooldownSeconds = 120
	}
}
