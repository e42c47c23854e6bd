package binance

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"hawkeye-monitor/internal/metrics"
	"hawkeye-monitor/internal/models"
)

const (
	// maxStreamSymbols caps how many miniTicker streams one session
	// multiplexes over a single combined-stream URL.
	maxStreamSymbols = 200

	initialReconnectDelay = 5 * time.Second
	maxReconnectDelay     = 60 * time.Second
	reconnectFactor       = 1.5

	pingInterval = 20 * time.Second
	pongWait     = 20 * time.Second
)

// tickMsg is one decoded miniTicker update.
type tickMsg struct {
	Symbol      string
	Price       float64
	High        float64
	Low         float64
	Volume      float64
	QuoteVolume float64
}

type miniTicker struct {
	EventType   string  `json:"e"`
	Symbol      string  `json:"s"`
	Close       float64 `json:"c,string"`
	Open        float64 `json:"o,string"`
	High        float64 `json:"h,string"`
	Low         float64 `json:"l,string"`
	Volume      float64 `json:"v,string"`
	QuoteVolume float64 `json:"q,string"`
}

// combinedMessage is the envelope of a multiplexed /stream payload.
type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// streamSession is one long-lived market stream: it dials, reads, decodes
// and pushes ticks onto the market queue, reconnecting with backoff until
// the context is cancelled.
type streamSession struct {
	market  models.MarketType
	baseURL string
	symbols []string
	out     chan<- tickMsg
	logger  zerolog.Logger
}

func newStreamSession(market models.MarketType, symbols []string, out chan<- tickMsg, logger zerolog.Logger) *streamSession {
	base := spotStreamURL
	if market == models.MarketFutures {
		base = futuresStreamURL
	}
	if len(symbols) > maxStreamSymbols {
		symbols = symbols[:maxStreamSymbols]
	}
	return &streamSession{
		market:  market,
		baseURL: base,
		symbols: symbols,
		out:     out,
		logger:  logger.With().Str("market", market.String()).Logger(),
	}
}

func (s *streamSession) streamURL() string {
	parts := make([]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		parts = append(parts, strings.ToLower(sym)+"@miniTicker")
	}
	return s.baseURL + "/stream?streams=" + strings.Join(parts, "/")
}

// run reconnects forever with 5s..60s (x1.5) backoff. A successful connect
// resets the delay. Returns when ctx is cancelled.
func (s *streamSession) run(ctx context.Context) {
	delay := initialReconnectDelay

	for {
		if ctx.Err() != nil {
			return
		}

		connected, err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			delay = initialReconnectDelay
		}

		if err != nil {
			s.logger.Warn().Err(err).Dur("retry_in", delay).Msg("stream disconnected")
		}
		metrics.StreamReconnects.WithLabelValues(s.market.String()).Inc()

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay = nextDelay(delay)
	}
}

// nextDelay advances the reconnect backoff: x1.5 per failure, capped at 60s.
func nextDelay(d time.Duration) time.Duration {
	d = time.Duration(float64(d) * reconnectFactor)
	if d > maxReconnectDelay {
		d = maxReconnectDelay
	}
	return d
}

// connectAndRead dials the combined stream and reads until the transport
// fails or the context is cancelled. connected reports whether the dial
// succeeded, so the caller can reset its backoff.
func (s *streamSession) connectAndRead(ctx context.Context) (connected bool, _ error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.streamURL(), nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	s.logger.Info().Int("symbols", len(s.symbols)).Msg("stream connected")

	conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	// Close the socket on cancellation to unblock ReadMessage.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	pinger := time.NewTicker(pingInterval)
	defer pinger.Stop()
	go func() {
		for {
			select {
			case <-pinger.C:
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			case <-done:
				return
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))

		msg, ok := s.decode(raw)
		if !ok {
			continue
		}

		select {
		case s.out <- msg:
		case <-ctx.Done():
			return true, nil
		}
	}
}

// decode unwraps the combined-stream envelope and parses one miniTicker.
// Malformed payloads are dropped.
func (s *streamSession) decode(raw []byte) (tickMsg, bool) {
	var envelope combinedMessage
	payload := raw
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) > 0 {
		payload = envelope.Data
	}

	var t miniTicker
	if err := json.Unmarshal(payload, &t); err != nil || t.Symbol == "" || t.Close <= 0 {
		s.logger.Debug().Msg("dropping malformed stream message")
		return tickMsg{}, false
	}

	return tickMsg{
		Symbol:      t.Symbol,
		Price:       t.Close,
		High:        t.High,
		Low:         t.Low,
		Volume:      t.Volume,
		QuoteVolume: t.QuoteVolume,
	}, true
}
