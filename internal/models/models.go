package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MarketType identifies which Binance market a datum came from.
type MarketType string

const (
	MarketSpot    MarketType = "spot"
	MarketFutures MarketType = "futures"
)

func (m MarketType) String() string {
	return string(m)
}

// AlertType is the closed set of alert families the engine can emit.
type AlertType string

const (
	AlertPricePump   AlertType = "price_pump"
	AlertPriceDump   AlertType = "price_dump"
	AlertVolumeSpike AlertType = "volume_spike"
	AlertSpreadHigh  AlertType = "spread_high"
	AlertSpreadLow   AlertType = "spread_low"
	AlertFundingHigh AlertType = "funding_high"
	AlertFundingLow  AlertType = "funding_low"
	AlertBigBidOrder AlertType = "big_bid_order"
	AlertBigAskOrder AlertType = "big_ask_order"
)

// AlertLevel is the alert severity. Priority is the sole comparison key.
type AlertLevel int

const (
	LevelInfo AlertLevel = iota + 1
	LevelWarning
	LevelCritical
	LevelExtreme
)

func (l AlertLevel) String() string {
	switch l {
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelCritical:
		return "CRITICAL"
	case LevelExtreme:
		return "EXTREME"
	default:
		return "UNKNOWN"
	}
}

// Priority returns the ordering key for escalation comparisons.
func (l AlertLevel) Priority() int {
	return int(l)
}

// AlertStatus tracks an alert through its delivery lifecycle.
// Transitions are monotonic: PENDING -> SENT -> CONFIRMED.
type AlertStatus string

const (
	StatusPending   AlertStatus = "pending"
	StatusSent      AlertStatus = "sent"
	StatusConfirmed AlertStatus = "confirmed"
)

// QuoteAsset is the quote currency the monitor tracks.
const QuoteAsset = "USDT"

// BaseAsset strips the quote suffix from a symbol (BTCUSDT -> BTC).
func BaseAsset(symbol string) string {
	return strings.TrimSuffix(strings.ToUpper(symbol), QuoteAsset)
}

// Ticker is a derived per-symbol market update pushed into the engine.
type Ticker struct {
	Symbol            string
	Market            MarketType
	Price             float64
	Change1m          float64
	Change5m          float64
	Change15m         float64
	Change1h          float64
	Change24h         float64
	Volume24h         float64
	QuoteVolume24h    float64
	VolumeChangeRatio float64
	High24h           float64
	Low24h            float64
	Timestamp         time.Time
}

// Spread pairs the spot and futures price of one symbol.
type Spread struct {
	Symbol          string
	SpotPrice       float64
	FuturesPrice    float64
	SpreadPercent   float64
	FundingRate     float64
	NextFundingTime time.Time
	Timestamp       time.Time
}

// BookLevel is one resting order book level.
type BookLevel struct {
	Price    float64
	Quantity float64
}

// Value returns the level notional in quote currency.
func (l BookLevel) Value() float64 {
	return l.Price * l.Quantity
}

// OrderBook is a sampled depth snapshot with the per-side aggregates the
// big-order detector needs. Bids are ordered descending by price, asks
// ascending.
type OrderBook struct {
	Symbol        string
	Market        MarketType
	Bids          []BookLevel
	Asks          []BookLevel
	MaxBidOrder   float64
	MaxBidPrice   float64
	MaxAskOrder   float64
	MaxAskPrice   float64
	TotalBidValue float64
	TotalAskValue float64
	BidAskRatio   float64
	Timestamp     time.Time
}

// Token24h is the REST-seeded 24 hour snapshot for one symbol.
type Token24h struct {
	Price         float64
	Change        float64
	ChangePercent float64
	High          float64
	Low           float64
	Volume        float64
	QuoteVolume   float64
	Trades        int64
}

// AlertData is the typed payload carried by an Alert; the concrete type is
// determined by the alert family.
type AlertData interface {
	alertData()
	Escalated() bool
}

// Common carries the 24h context every alert payload includes.
type Common struct {
	Price        float64
	High24h      float64
	Low24h       float64
	Volume24h    float64
	Change24h    float64
	IsEscalation bool
}

func (c Common) Escalated() bool { return c.IsEscalation }

// PriceData is the payload for price pump/dump alerts.
type PriceData struct {
	Common
	ChangePercent float64
	Horizon       string
}

// VolumeData is the payload for volume spike alerts.
type VolumeData struct {
	Common
	VolumeRatio float64
}

// SpreadAlertData is the payload for spot/futures spread alerts.
type SpreadAlertData struct {
	Common
	SpotPrice     float64
	FuturesPrice  float64
	SpreadPercent float64
	FundingRate   float64
}

// FundingData is the payload for funding rate alerts.
type FundingData struct {
	Common
	SpotPrice     float64
	FuturesPrice  float64
	SpreadPercent float64
	FundingRate   float64
}

// BigOrderData is the payload for big resting-order alerts.
type BigOrderData struct {
	Common
	OrderValue       float64
	OrderPrice       float64
	PriceDiffPercent float64
	BidAskRatio      float64
	TotalBidValue    float64
	TotalAskValue    float64
}

func (PriceData) alertData()       {}
func (VolumeData) alertData()      {}
func (SpreadAlertData) alertData() {}
func (FundingData) alertData()     {}
func (BigOrderData) alertData()    {}

// Alert is one alert addressed to one user.
type Alert struct {
	ID           string
	Type         AlertType
	Level        AlertLevel
	Symbol       string
	Market       MarketType
	Message      string
	Data         AlertData
	TargetUserID string
	Status       AlertStatus
	SentCount    int
	LastSent     time.Time
	ConfirmedAt  time.Time
	Timestamp    time.Time
}

// NewAlert creates an alert with a short process-unique id.
func NewAlert(typ AlertType, level AlertLevel, symbol string, market MarketType, msg string, data AlertData) *Alert {
	return &Alert{
		ID:        uuid.NewString()[:8],
		Type:      typ,
		Level:     level,
		Symbol:    symbol,
		Market:    market,
		Message:   msg,
		Data:      data,
		Status:    StatusPending,
		Timestamp: time.Now(),
	}
}

// IsEscalation reports whether this alert fired through the cooldown window.
func (a *Alert) IsEscalation() bool {
	return a.Data != nil && a.Data.Escalated()
}
