// Package binance maintains the upstream market data: REST snapshots, the
// two streaming sessions, tick coalescing, rolling histories and the
// on-demand depth sampler.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"hawkeye-monitor/internal/models"
)

const (
	spotRESTURL    = "https://api.binance.com"
	futuresRESTURL = "https://fapi.binance.com"

	spotStreamURL    = "wss://stream.binance.com:9443"
	futuresStreamURL = "wss://fstream.binance.com"
)

// Client is the unauthenticated REST client for both markets.
type Client struct {
	spotBaseURL    string
	futuresBaseURL string
	httpClient     *http.Client
}

// NewClient creates a REST client with the production endpoints.
func NewClient() *Client {
	return &Client{
		spotBaseURL:    spotRESTURL,
		futuresBaseURL: futuresRESTURL,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
	}
}

// NewClientWithBaseURLs creates a client against custom endpoints, used by
// tests to point at a local server.
func NewClientWithBaseURLs(spotURL, futuresURL string) *Client {
	c := NewClient()
	c.spotBaseURL = spotURL
	c.futuresBaseURL = futuresURL
	return c
}

func (c *Client) apiPath(market models.MarketType, endpoint string) string {
	if market == models.MarketFutures {
		return c.futuresBaseURL + "/fapi/v1/" + endpoint
	}
	return c.spotBaseURL + "/api/v3/" + endpoint
}

func (c *Client) get(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// SymbolInfo is one entry of the exchangeInfo symbol list.
type SymbolInfo struct {
	Symbol     string `json:"symbol"`
	Status     string `json:"status"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
}

type exchangeInfo struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// GetExchangeInfo fetches the symbol universe for a market.
func (c *Client) GetExchangeInfo(ctx context.Context, market models.MarketType) ([]SymbolInfo, error) {
	var info exchangeInfo
	if err := c.get(ctx, c.apiPath(market, "exchangeInfo"), &info); err != nil {
		return nil, fmt.Errorf("fetching %s exchange info: %w", market, err)
	}
	return info.Symbols, nil
}

// Ticker24hr is one entry of the 24hr ticker statistics endpoint.
type Ticker24hr struct {
	Symbol             string  `json:"symbol"`
	PriceChange        float64 `json:"priceChange,string"`
	PriceChangePercent float64 `json:"priceChangePercent,string"`
	LastPrice          float64 `json:"lastPrice,string"`
	HighPrice          float64 `json:"highPrice,string"`
	LowPrice           float64 `json:"lowPrice,string"`
	Volume             float64 `json:"volume,string"`
	QuoteVolume        float64 `json:"quoteVolume,string"`
	Count              int64   `json:"count"`
}

// Get24hrTickers fetches 24hr statistics for all symbols on a market.
func (c *Client) Get24hrTickers(ctx context.Context, market models.MarketType) ([]Ticker24hr, error) {
	var tickers []Ticker24hr
	if err := c.get(ctx, c.apiPath(market, "ticker/24hr"), &tickers); err != nil {
		return nil, fmt.Errorf("fetching %s 24hr tickers: %w", market, err)
	}
	return tickers, nil
}

// PremiumIndex is one entry of the futures premium index endpoint.
type PremiumIndex struct {
	Symbol          string  `json:"symbol"`
	LastFundingRate float64 `json:"lastFundingRate,string"`
	NextFundingTime int64   `json:"nextFundingTime"`
}

// GetPremiumIndex fetches funding rates for all futures symbols.
func (c *Client) GetPremiumIndex(ctx context.Context) ([]PremiumIndex, error) {
	var idx []PremiumIndex
	if err := c.get(ctx, c.futuresBaseURL+"/fapi/v1/premiumIndex", &idx); err != nil {
		return nil, fmt.Errorf("fetching premium index: %w", err)
	}
	return idx, nil
}

type depthResponse struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

// GetDepth fetches the top levels of both book sides for a symbol.
func (c *Client) GetDepth(ctx context.Context, symbol string, market models.MarketType, limit int) (bids, asks []models.BookLevel, err error) {
	url := fmt.Sprintf("%s?symbol=%s&limit=%d", c.apiPath(market, "depth"), symbol, limit)

	var resp depthResponse
	if err := c.get(ctx, url, &resp); err != nil {
		return nil, nil, fmt.Errorf("fetching %s depth for %s: %w", market, symbol, err)
	}

	return parseLevels(resp.Bids), parseLevels(resp.Asks), nil
}

func parseLevels(raw [][]string) []models.BookLevel {
	levels := make([]models.BookLevel, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 2 {
			continue
		}
		price, err1 := strconv.ParseFloat(entry[0], 64)
		qty, err2 := strconv.ParseFloat(entry[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, models.BookLevel{Price: price, Quantity: qty})
	}
	return levels
}
