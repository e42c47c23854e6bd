// Package engine evaluates market events against per-user rules and owns
// the cooldown and severity-escalation state.
package engine

import (
	"fmt"
	"math"
	"sync"
	"time"

	"hawkeye-monitor/internal/logging"
	"hawkeye-monitor/internal/metrics"
	"hawkeye-monitor/internal/models"
	"hawkeye-monitor/internal/rules"
	"hawkeye-monitor/internal/users"
)

const userCacheTTL = 30 * time.Second

// AlertSink receives every alert the engine fires.
type AlertSink interface {
	OnAlert(alert *models.Alert, user *users.UserConfig)
}

// MarketData is the slice of the feed the engine reads back: live prices,
// 24h turnover and on-demand depth sampling.
type MarketData interface {
	RequestDepth(symbol string, market models.MarketType)
	Price(symbol string, market models.MarketType) (float64, bool)
	QuoteVolume24h(symbol string) float64
}

type cooldownKey struct {
	UserID string
	Symbol string
	Type   models.AlertType
}

type cooldownCell struct {
	lastFiredAt time.Time
	lastLevel   models.AlertLevel
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	TotalAlerts     int64
	Escalations     int64
	ActiveCooldowns int
	CachedUsers     int
}

// Engine is the per-user alert evaluator.
type Engine struct {
	users  *users.Manager
	sink   AlertSink
	market MarketData

	mu        sync.Mutex
	cooldowns map[cooldownKey]cooldownCell

	cacheMu      sync.Mutex
	cachedUsers  []*users.UserConfig
	cacheExpires time.Time

	totalAlerts int64
	escalations int64

	now func() time.Time
}

// New creates an engine that delivers fired alerts to sink.
func New(userManager *users.Manager, market MarketData, sink AlertSink) *Engine {
	return &Engine{
		users:     userManager,
		sink:      sink,
		market:    market,
		cooldowns: make(map[cooldownKey]cooldownCell),
		now:       time.Now,
	}
}

// activeUsers returns the cached active-user snapshot, refreshing after the
// 30s TTL. Config mutations invalidate the cache synchronously. The manager
// is queried outside cacheMu: the manager's change callback takes cacheMu,
// so holding it across the call would invert the lock order.
func (e *Engine) activeUsers() []*users.UserConfig {
	e.cacheMu.Lock()
	if e.cachedUsers != nil && !e.now().After(e.cacheExpires) {
		snapshot := e.cachedUsers
		e.cacheMu.Unlock()
		return snapshot
	}
	e.cacheMu.Unlock()

	fresh := e.users.ActiveUsers()

	e.cacheMu.Lock()
	e.cachedUsers = fresh
	e.cacheExpires = e.now().Add(userCacheTTL)
	e.cacheMu.Unlock()
	return fresh
}

// InvalidateUserCache forces the next evaluation to reload active users.
func (e *Engine) InvalidateUserCache() {
	e.cacheMu.Lock()
	e.cachedUsers = nil
	e.cacheExpires = time.Time{}
	e.cacheMu.Unlock()
}

// shouldFire applies the cooldown and escalation rules for one cell. A fire
// overwrites the cell; suppression leaves it untouched.
func (e *Engine) shouldFire(key cooldownKey, level models.AlertLevel, cooldown time.Duration) (fire, escalation bool) {
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	cell, exists := e.cooldowns[key]
	switch {
	case !exists, now.Sub(cell.lastFiredAt) >= cooldown:
		fire = true
	case level.Priority() > cell.lastLevel.Priority():
		fire = true
		escalation = true
	}

	if fire {
		e.cooldowns[key] = cooldownCell{lastFiredAt: now, lastLevel: level}
	}
	return fire, escalation
}

// ClearCooldowns removes every cooldown cell for (user, symbol), across all
// alert types. Used by mute so a restored symbol can alert immediately.
func (e *Engine) ClearCooldowns(userID, symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.cooldowns {
		if key.UserID == userID && key.Symbol == symbol {
			delete(e.cooldowns, key)
		}
	}
}

// fire builds the alert, updates counters and hands it to the sink.
func (e *Engine) fire(user *users.UserConfig, typ models.AlertType, level models.AlertLevel, symbol string, market models.MarketType, msg string, data models.AlertData, escalation bool) {
	alert := models.NewAlert(typ, level, symbol, market, msg, data)
	alert.TargetUserID = user.UserID

	e.mu.Lock()
	e.totalAlerts++
	if escalation {
		e.escalations++
	}
	e.mu.Unlock()

	metrics.AlertsFired.WithLabelValues(string(typ)).Inc()
	if escalation {
		metrics.Escalations.Inc()
	}

	e.sink.OnAlert(alert, user)
}

// admit applies the per-user gate common to every alert family.
func admit(user *users.UserConfig, symbol string, market models.MarketType, quoteVolume24h float64) bool {
	if !user.IsActive {
		return false
	}
	if !user.ShouldMonitor(symbol) {
		return false
	}
	if !user.MarketEnabled(market) {
		return false
	}
	return user.MonitorByVolume(quoteVolume24h)
}

// evalGuard isolates one user's evaluation so a fault cannot stall the
// pipeline for everyone else.
func evalGuard(userID string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger := logging.Component("engine")
			logger.Error().
				Str("user", userID).
				Interface("panic", r).
				Msg("user evaluation failed")
		}
	}()
	fn()
}

type horizon struct {
	name    string
	change  float64
	pump    float64
	dump    float64
}

// EvaluateTicker runs price and volume evaluation for every active user.
// When any user fires, one depth sample is requested for the symbol.
func (e *Engine) EvaluateTicker(t *models.Ticker) {
	anyFired := false

	for _, user := range e.activeUsers() {
		u := user
		evalGuard(u.UserID, func() {
			if e.evaluateTickerForUser(u, t) {
				anyFired = true
			}
		})
	}

	if anyFired {
		e.market.RequestDepth(t.Symbol, t.Market)
	}
}

func (e *Engine) evaluateTickerForUser(user *users.UserConfig, t *models.Ticker) bool {
	if !admit(user, t.Symbol, t.Market, t.QuoteVolume24h) {
		return false
	}

	cooldown := time.Duration(user.CooldownSeconds) * time.Second
	fired := false

	horizons := []horizon{
		{"1m", t.Change1m, user.Price.Pump1m, user.Price.Dump1m},
		{"5m", t.Change5m, user.Price.Pump5m, user.Price.Dump5m},
		{"15m", t.Change15m, user.Price.Pump15m, user.Price.Dump15m},
		{"1h", t.Change1h, user.Price.Pump1h, user.Price.Dump1h},
	}

	if pick, ok := bestHorizon(horizons, true); ok {
		fired = e.firePrice(user, t, models.AlertPricePump, pick, cooldown) || fired
	}
	if pick, ok := bestHorizon(horizons, false); ok {
		fired = e.firePrice(user, t, models.AlertPriceDump, pick, cooldown) || fired
	}

	if user.EnableVolume && user.Volume.SpikeRatio > 0 && t.VolumeChangeRatio >= user.Volume.SpikeRatio {
		key := cooldownKey{user.UserID, t.Symbol, models.AlertVolumeSpike}
		level := rules.VolumeLevel(t.VolumeChangeRatio)
		if fire, escalation := e.shouldFire(key, level, cooldown); fire {
			data := models.VolumeData{
				Common:      common(t, escalation),
				VolumeRatio: t.VolumeChangeRatio,
			}
			msg := fmt.Sprintf("%s volume %.1fx recent average", models.BaseAsset(t.Symbol), t.VolumeChangeRatio)
			e.fire(user, models.AlertVolumeSpike, level, t.Symbol, t.Market, msg, data, escalation)
			fired = true
		}
	}

	return fired
}

// bestHorizon selects the breaching horizon with the highest classified
// level; ties break by larger magnitude, then shorter horizon.
func bestHorizon(horizons []horizon, pump bool) (horizon, bool) {
	var best horizon
	bestLevel := models.AlertLevel(0)
	found := false

	for _, h := range horizons {
		breach := false
		if pump {
			breach = h.pump > 0 && h.change >= h.pump
		} else {
			breach = h.dump < 0 && h.change <= h.dump
		}
		if !breach {
			continue
		}

		level := rules.PriceLevel(h.change)
		if !found || level > bestLevel ||
			(level == bestLevel && math.Abs(h.change) > math.Abs(best.change)) {
			best = h
			bestLevel = level
			found = true
		}
	}
	return best, found
}

func (e *Engine) firePrice(user *users.UserConfig, t *models.Ticker, typ models.AlertType, h horizon, cooldown time.Duration) bool {
	key := cooldownKey{user.UserID, t.Symbol, typ}
	level := rules.PriceLevel(h.change)
	fire, escalation := e.shouldFire(key, level, cooldown)
	if !fire {
		return false
	}

	data := models.PriceData{
		Common:        common(t, escalation),
		ChangePercent: h.change,
		Horizon:       h.name,
	}
	direction := "up"
	if typ == models.AlertPriceDump {
		direction = "down"
	}
	msg := fmt.Sprintf("%s %s %.2f%% in %s", models.BaseAsset(t.Symbol), direction, math.Abs(h.change), h.name)
	e.fire(user, typ, level, t.Symbol, t.Market, msg, data, escalation)
	return true
}

func common(t *models.Ticker, escalation bool) models.Common {
	return models.Common{
		Price:        t.Price,
		High24h:      t.High24h,
		Low24h:       t.Low24h,
		Volume24h:    t.QuoteVolume24h,
		Change24h:    t.Change24h,
		IsEscalation: escalation,
	}
}

// EvaluateSpread runs basis and funding evaluation for every active user.
func (e *Engine) EvaluateSpread(s *models.Spread) {
	quoteVolume := e.market.QuoteVolume24h(s.Symbol)

	for _, user := range e.activeUsers() {
		u := user
		evalGuard(u.UserID, func() {
			e.evaluateSpreadForUser(u, s, quoteVolume)
		})
	}
}

func (e *Engine) evaluateSpreadForUser(user *users.UserConfig, s *models.Spread, quoteVolume float64) {
	if !admit(user, s.Symbol, models.MarketFutures, quoteVolume) {
		return
	}

	cooldown := time.Duration(user.CooldownSeconds) * time.Second
	base := models.Common{
		Price:     s.SpotPrice,
		Volume24h: quoteVolume,
	}

	if user.EnableSpread && user.Spread.SpotFutures > 0 && math.Abs(s.SpreadPercent) >= user.Spread.SpotFutures {
		typ := models.AlertSpreadHigh
		if s.SpreadPercent < 0 {
			typ = models.AlertSpreadLow
		}
		key := cooldownKey{user.UserID, s.Symbol, typ}
		level := rules.SpreadLevel(s.SpreadPercent)
		if fire, escalation := e.shouldFire(key, level, cooldown); fire {
			data := models.SpreadAlertData{
				Common:        withEscalation(base, escalation),
				SpotPrice:     s.SpotPrice,
				FuturesPrice:  s.FuturesPrice,
				SpreadPercent: s.SpreadPercent,
				FundingRate:   s.FundingRate,
			}
			msg := fmt.Sprintf("%s spot/futures spread %.2f%%", models.BaseAsset(s.Symbol), s.SpreadPercent)
			e.fire(user, typ, level, s.Symbol, models.MarketFutures, msg, data, escalation)
		}
	}

	if user.EnableFunding {
		var typ models.AlertType
		switch {
		case user.Spread.FundingHigh > 0 && s.FundingRate >= user.Spread.FundingHigh:
			typ = models.AlertFundingHigh
		case user.Spread.FundingLow < 0 && s.FundingRate <= user.Spread.FundingLow:
			typ = models.AlertFundingLow
		default:
			return
		}

		key := cooldownKey{user.UserID, s.Symbol, typ}
		level := rules.FundingLevel(s.FundingRate)
		if fire, escalation := e.shouldFire(key, level, cooldown); fire {
			data := models.FundingData{
				Common:        withEscalation(base, escalation),
				SpotPrice:     s.SpotPrice,
				FuturesPrice:  s.FuturesPrice,
				SpreadPercent: s.SpreadPercent,
				FundingRate:   s.FundingRate,
			}
			msg := fmt.Sprintf("%s funding rate %.4f%%", models.BaseAsset(s.Symbol), s.FundingRate)
			e.fire(user, typ, level, s.Symbol, models.MarketFutures, msg, data, escalation)
		}
	}
}

func withEscalation(c models.Common, escalation bool) models.Common {
	c.IsEscalation = escalation
	return c
}

// EvaluateOrderBook runs big-order detection for every active user. Each
// side's heaviest resting level is tested against the user's tiered
// threshold and the price-deviation gate.
func (e *Engine) EvaluateOrderBook(b *models.OrderBook) {
	livePrice, ok := e.market.Price(b.Symbol, b.Market)
	if !ok || livePrice <= 0 {
		if len(b.Bids) > 0 && len(b.Asks) > 0 {
			livePrice = (b.Bids[0].Price + b.Asks[0].Price) / 2
		} else {
			return
		}
	}
	quoteVolume := e.market.QuoteVolume24h(b.Symbol)

	for _, user := range e.activeUsers() {
		u := user
		evalGuard(u.UserID, func() {
			e.evaluateBookForUser(u, b, livePrice, quoteVolume)
		})
	}
}

func (e *Engine) evaluateBookForUser(user *users.UserConfig, b *models.OrderBook, livePrice, quoteVolume float64) {
	if !user.EnableBigOrder || !user.BigOrder.Enabled {
		return
	}
	if !admit(user, b.Symbol, b.Market, quoteVolume) {
		return
	}

	cooldown := time.Duration(user.CooldownSeconds) * time.Second

	sides := []struct {
		typ        models.AlertType
		orderValue float64
		orderPrice float64
		label      string
	}{
		{models.AlertBigBidOrder, b.MaxBidOrder, b.MaxBidPrice, "bid"},
		{models.AlertBigAskOrder, b.MaxAskOrder, b.MaxAskPrice, "ask"},
	}

	for _, side := range sides {
		if side.orderValue <= 0 || !user.BigOrder.IsBigOrder(side.orderValue, quoteVolume) {
			continue
		}

		deviation := (side.orderPrice - livePrice) / livePrice * 100
		if math.Abs(deviation) > user.BigOrder.MaxPriceDeviation {
			continue
		}

		key := cooldownKey{user.UserID, b.Symbol, side.typ}
		level := rules.BigOrderLevel(side.orderValue, quoteVolume)
		fire, escalation := e.shouldFire(key, level, cooldown)
		if !fire {
			continue
		}

		data := models.BigOrderData{
			Common: models.Common{
				Price:        livePrice,
				Volume24h:    quoteVolume,
				IsEscalation: escalation,
			},
			OrderValue:       side.orderValue,
			OrderPrice:       side.orderPrice,
			PriceDiffPercent: deviation,
			BidAskRatio:      b.BidAskRatio,
			TotalBidValue:    b.TotalBidValue,
			TotalAskValue:    b.TotalAskValue,
		}
		msg := fmt.Sprintf("%s big %s order $%.1fM at %.2f%% from price",
			models.BaseAsset(b.Symbol), side.label, side.orderValue/1e6, deviation)
		e.fire(user, side.typ, level, b.Symbol, b.Market, msg, data, escalation)
	}
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	total, esc, cells := e.totalAlerts, e.escalations, len(e.cooldowns)
	e.mu.Unlock()

	e.cacheMu.Lock()
	cached := len(e.cachedUsers)
	e.cacheMu.Unlock()

	return Stats{
		TotalAlerts:     total,
		Escalations:     esc,
		ActiveCooldowns: cells,
		CachedUsers:     cached,
	}
}
