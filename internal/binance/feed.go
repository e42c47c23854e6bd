package binance

import (
	"context"
	"sync"
	"time"

	"hawkeye-monitor/internal/history"
	"hawkeye-monitor/internal/logging"
	"hawkeye-monitor/internal/metrics"
	"hawkeye-monitor/internal/models"
)

const (
	tickQueueSize  = 16384
	depthQueueSize = 100

	// coalesceMax bounds how many distinct symbols one batch evaluates.
	coalesceMax  = 50
	coalesceWait = 100 * time.Millisecond

	// depthMinInterval gates repeated depth sampling per symbol.
	depthMinInterval = 30 * time.Second
	depthFetchPause  = 100 * time.Millisecond

	refreshInterval = 60 * time.Second

	defaultDepthLevels = 20
)

// Sink receives the feed's derived market events.
type Sink interface {
	OnTicker(t *models.Ticker)
	OnSpread(s *models.Spread)
	OnOrderBook(b *models.OrderBook)
}

type fundingInfo struct {
	RatePercent     float64
	NextFundingTime time.Time
}

type depthRequest struct {
	Symbol string
	Market models.MarketType
}

// marketState is the per-market view the feed maintains: symbol universe,
// last prices, 24h snapshots and rolling histories.
type marketState struct {
	symbols   map[string]bool
	prices    map[string]float64
	token24h  map[string]*models.Token24h
	histories map[string]*history.PriceHistory
	msgCount  int64
}

func newMarketState() *marketState {
	return &marketState{
		symbols:   make(map[string]bool),
		prices:    make(map[string]float64),
		token24h:  make(map[string]*models.Token24h),
		histories: make(map[string]*history.PriceHistory),
	}
}

// Feed owns the upstream market data path: REST seeding, the two stream
// sessions, coalesced tick evaluation, the depth sampler and the 60s
// snapshot refresher.
type Feed struct {
	client *Client
	sink   Sink

	mu      sync.RWMutex
	spot    *marketState
	futures *marketState
	funding map[string]fundingInfo

	lastDepthMu    sync.Mutex
	lastDepthCheck map[string]time.Time

	tickQueues map[models.MarketType]chan tickMsg
	depthQueue chan depthRequest

	started bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFeed creates a feed pushing derived events into sink.
func NewFeed(client *Client, sink Sink) *Feed {
	return &Feed{
		client:  client,
		sink:    sink,
		spot:    newMarketState(),
		futures: newMarketState(),
		funding: make(map[string]fundingInfo),
		tickQueues: map[models.MarketType]chan tickMsg{
			models.MarketSpot:    make(chan tickMsg, tickQueueSize),
			models.MarketFutures: make(chan tickMsg, tickQueueSize),
		},
		depthQueue:     make(chan depthRequest, depthQueueSize),
		lastDepthCheck: make(map[string]time.Time),
	}
}

func (f *Feed) state(market models.MarketType) *marketState {
	if market == models.MarketFutures {
		return f.futures
	}
	return f.spot
}

// FetchSymbols refreshes the symbol universe for both markets, keeping only
// actively trading pairs quoted in the monitor's quote asset.
func (f *Feed) FetchSymbols(ctx context.Context) error {
	logger := logging.Component("feed")

	for _, market := range []models.MarketType{models.MarketSpot, models.MarketFutures} {
		infos, err := f.client.GetExchangeInfo(ctx, market)
		if err != nil {
			return err
		}

		symbols := make(map[string]bool, len(infos))
		for _, info := range infos {
			if info.Status == "TRADING" && info.QuoteAsset == models.QuoteAsset {
				symbols[info.Symbol] = true
			}
		}

		f.mu.Lock()
		f.state(market).symbols = symbols
		f.mu.Unlock()

		logger.Info().Str("market", market.String()).Int("symbols", len(symbols)).Msg("symbol universe loaded")
	}
	return nil
}

// Fetch24hTickers refreshes the 24h statistics snapshot for one market.
func (f *Feed) Fetch24hTickers(ctx context.Context, market models.MarketType) error {
	tickers, err := f.client.Get24hrTickers(ctx, market)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.state(market)
	for _, t := range tickers {
		if !st.symbols[t.Symbol] {
			continue
		}
		st.token24h[t.Symbol] = &models.Token24h{
			Price:         t.LastPrice,
			Change:        t.PriceChange,
			ChangePercent: t.PriceChangePercent,
			High:          t.HighPrice,
			Low:           t.LowPrice,
			Volume:        t.Volume,
			QuoteVolume:   t.QuoteVolume,
			Trades:        t.Count,
		}
	}
	return nil
}

// FetchFundingRates refreshes the futures funding snapshot.
func (f *Feed) FetchFundingRates(ctx context.Context) error {
	idx, err := f.client.GetPremiumIndex(ctx)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range idx {
		if !f.futures.symbols[p.Symbol] {
			continue
		}
		f.funding[p.Symbol] = fundingInfo{
			RatePercent:     p.LastFundingRate * 100,
			NextFundingTime: time.UnixMilli(p.NextFundingTime),
		}
	}
	return nil
}

// FetchOrderBook fetches a depth snapshot and derives the per-side
// aggregates the big-order detector consumes.
func (f *Feed) FetchOrderBook(ctx context.Context, symbol string, market models.MarketType) (*models.OrderBook, error) {
	bids, asks, err := f.client.GetDepth(ctx, symbol, market, defaultDepthLevels)
	if err != nil {
		return nil, err
	}

	book := &models.OrderBook{
		Symbol:    symbol,
		Market:    market,
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.Now(),
	}
	for _, lvl := range bids {
		v := lvl.Value()
		book.TotalBidValue += v
		if v > book.MaxBidOrder {
			book.MaxBidOrder = v
			book.MaxBidPrice = lvl.Price
		}
	}
	for _, lvl := range asks {
		v := lvl.Value()
		book.TotalAskValue += v
		if v > book.MaxAskOrder {
			book.MaxAskOrder = v
			book.MaxAskPrice = lvl.Price
		}
	}
	if book.TotalAskValue > 0 {
		book.BidAskRatio = book.TotalBidValue / book.TotalAskValue
	}
	return book, nil
}

// RequestDepth enqueues an on-demand depth sample. Overflow is dropped; the
// per-symbol interval gate in the worker deduplicates bursts anyway.
func (f *Feed) RequestDepth(symbol string, market models.MarketType) {
	select {
	case f.depthQueue <- depthRequest{Symbol: symbol, Market: market}:
	default:
	}
}

// Start seeds REST state and launches the stream sessions, coalescers,
// depth worker and refresher. Stop cancels them and waits.
func (f *Feed) Start(ctx context.Context) error {
	if err := f.FetchSymbols(ctx); err != nil {
		return err
	}
	for _, market := range []models.MarketType{models.MarketSpot, models.MarketFutures} {
		if err := f.Fetch24hTickers(ctx, market); err != nil {
			return err
		}
	}
	if err := f.FetchFundingRates(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel

	f.mu.Lock()
	f.started = true
	f.mu.Unlock()

	logger := logging.Component("feed")
	for _, market := range []models.MarketType{models.MarketSpot, models.MarketFutures} {
		symbols := f.streamSymbols(market)
		session := newStreamSession(market, symbols, f.tickQueues[market], logger)

		f.wg.Add(2)
		go func(s *streamSession) {
			defer f.wg.Done()
			s.run(runCtx)
		}(session)
		go func(m models.MarketType) {
			defer f.wg.Done()
			f.coalesceLoop(runCtx, m)
		}(market)
	}

	f.wg.Add(2)
	go func() {
		defer f.wg.Done()
		f.depthWorker(runCtx)
	}()
	go func() {
		defer f.wg.Done()
		f.refreshLoop(runCtx)
	}()

	return nil
}

// Stop cancels all feed tasks and waits for them to exit.
func (f *Feed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
}

// Healthy reports whether the feed has been started and holds market state.
func (f *Feed) Healthy() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.started && (len(f.spot.symbols) > 0 || len(f.futures.symbols) > 0)
}

// streamSymbols orders the market's universe by 24h quote turnover so the
// capped stream subscription covers the most liquid pairs.
func (f *Feed) streamSymbols(market models.MarketType) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	st := f.state(market)
	symbols := make([]string, 0, len(st.symbols))
	for s := range st.symbols {
		symbols = append(symbols, s)
	}
	sortByQuoteVolume(symbols, st.token24h)
	return symbols
}

// coalesceLoop drains one market queue into a symbol-keyed batch, flushing
// at 50 distinct symbols or 100ms, whichever first. Only the latest update
// per symbol within a batch survives.
func (f *Feed) coalesceLoop(ctx context.Context, market models.MarketType) {
	queue := f.tickQueues[market]
	batch := make(map[string]tickMsg, coalesceMax)
	timer := time.NewTimer(coalesceWait)
	defer timer.Stop()

	flush := func() {
		for _, msg := range batch {
			f.processTick(msg, market)
		}
		if n := len(batch); n > 0 {
			metrics.TicksProcessed.WithLabelValues(market.String()).Add(float64(n))
		}
		for k := range batch {
			delete(batch, k)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-queue:
			batch[msg.Symbol] = msg
			if len(batch) >= coalesceMax {
				flush()
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(coalesceWait)
			}
		case <-timer.C:
			flush()
			timer.Reset(coalesceWait)
		}
	}
}

// processTick updates market state for one coalesced tick and emits the
// derived Ticker (and Spread, when both markets have a price).
func (f *Feed) processTick(msg tickMsg, market models.MarketType) {
	now := time.Now()

	f.mu.Lock()
	st := f.state(market)
	st.msgCount++
	st.prices[msg.Symbol] = msg.Price

	snap := st.token24h[msg.Symbol]
	if snap == nil {
		snap = &models.Token24h{}
		st.token24h[msg.Symbol] = snap
	}
	snap.Price = msg.Price
	if msg.High > snap.High {
		snap.High = msg.High
	}
	if msg.Low > 0 && (snap.Low == 0 || msg.Low < snap.Low) {
		snap.Low = msg.Low
	}
	if msg.Volume > 0 {
		snap.Volume = msg.Volume
	}
	if msg.QuoteVolume > 0 {
		snap.QuoteVolume = msg.QuoteVolume
	}

	hist := st.histories[msg.Symbol]
	if hist == nil {
		hist = history.New(msg.Symbol, market)
		st.histories[msg.Symbol] = hist
	}
	hist.Add(msg.Price, msg.QuoteVolume)

	ticker := f.makeTickerLocked(msg.Symbol, market, hist, snap, now)
	spread := f.makeSpreadLocked(msg.Symbol, now)
	f.mu.Unlock()

	f.sink.OnTicker(ticker)
	if spread != nil {
		f.sink.OnSpread(spread)
	}
}

// makeTickerLocked builds the derived Ticker. Callers hold f.mu.
func (f *Feed) makeTickerLocked(symbol string, market models.MarketType, hist *history.PriceHistory, snap *models.Token24h, now time.Time) *models.Ticker {
	change := func(minutes int) float64 {
		v, ok := hist.Change(minutes)
		if !ok {
			return 0
		}
		return v
	}

	return &models.Ticker{
		Symbol:            symbol,
		Market:            market,
		Price:             snap.Price,
		Change1m:          change(1),
		Change5m:          change(5),
		Change15m:         change(15),
		Change1h:          change(60),
		Change24h:         snap.ChangePercent,
		Volume24h:         snap.Volume,
		QuoteVolume24h:    snap.QuoteVolume,
		VolumeChangeRatio: hist.VolumeRatio(5),
		High24h:           snap.High,
		Low24h:            snap.Low,
		Timestamp:         now,
	}
}

// makeSpreadLocked builds a Spread when both markets quote the symbol.
// Callers hold f.mu.
func (f *Feed) makeSpreadLocked(symbol string, now time.Time) *models.Spread {
	spot, okSpot := f.spot.prices[symbol]
	futures, okFutures := f.futures.prices[symbol]
	if !okSpot || !okFutures || spot <= 0 {
		return nil
	}

	fi := f.funding[symbol]
	return &models.Spread{
		Symbol:          symbol,
		SpotPrice:       spot,
		FuturesPrice:    futures,
		SpreadPercent:   (futures - spot) / spot * 100,
		FundingRate:     fi.RatePercent,
		NextFundingTime: fi.NextFundingTime,
		Timestamp:       now,
	}
}

// depthWorker drains depth requests, enforcing a 30s per-symbol gate. Fetch
// failures advance the gate anyway so a failing symbol is not hammered.
func (f *Feed) depthWorker(ctx context.Context) {
	logger := logging.Component("depth")

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-f.depthQueue:
			key := req.Market.String() + ":" + req.Symbol

			f.lastDepthMu.Lock()
			last, seen := f.lastDepthCheck[key]
			if seen && time.Since(last) < depthMinInterval {
				f.lastDepthMu.Unlock()
				continue
			}
			f.lastDepthCheck[key] = time.Now()
			f.lastDepthMu.Unlock()

			fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			book, err := f.FetchOrderBook(fetchCtx, req.Symbol, req.Market)
			cancel()
			if err != nil {
				logger.Warn().Err(err).Str("symbol", req.Symbol).Msg("depth fetch failed")
			} else {
				metrics.DepthFetches.WithLabelValues(req.Market.String()).Inc()
				f.sink.OnOrderBook(book)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(depthFetchPause):
			}
		}
	}
}

// refreshLoop re-seeds the 24h and funding snapshots every 60s and logs
// per-market stream throughput.
func (f *Feed) refreshLoop(ctx context.Context) {
	logger := logging.Component("feed")
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, market := range []models.MarketType{models.MarketSpot, models.MarketFutures} {
				refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				err := f.Fetch24hTickers(refreshCtx, market)
				cancel()
				if err != nil {
					logger.Warn().Err(err).Str("market", market.String()).Msg("24h snapshot refresh failed")
				}
			}
			refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if err := f.FetchFundingRates(refreshCtx); err != nil {
				logger.Warn().Err(err).Msg("funding refresh failed")
			}
			cancel()

			f.mu.Lock()
			spotMsgs, futuresMsgs := f.spot.msgCount, f.futures.msgCount
			f.spot.msgCount, f.futures.msgCount = 0, 0
			f.mu.Unlock()
			logger.Info().
				Int64("spot_msgs_per_min", spotMsgs).
				Int64("futures_msgs_per_min", futuresMsgs).
				Msg("stream throughput")
		}
	}
}

// Price returns the last streamed price for symbol on market.
func (f *Feed) Price(symbol string, market models.MarketType) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.state(market).prices[symbol]
	return p, ok
}

// Token24h returns a copy of the symbol's 24h snapshot.
func (f *Feed) Token24h(symbol string, market models.MarketType) (models.Token24h, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	snap, ok := f.state(market).token24h[symbol]
	if !ok {
		return models.Token24h{}, false
	}
	return *snap, true
}

// QuoteVolume24h returns the symbol's 24h quote turnover, preferring the
// futures snapshot when the spot market does not list it.
func (f *Feed) QuoteVolume24h(symbol string) float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if snap, ok := f.spot.token24h[symbol]; ok && snap.QuoteVolume > 0 {
		return snap.QuoteVolume
	}
	if snap, ok := f.futures.token24h[symbol]; ok {
		return snap.QuoteVolume
	}
	return 0
}
