// Package marketdata provides the external market data adapters: an HTTP
// quote/candle client and a websocket tick stream. The engine itself only
// depends on the domain.MarketData interface.
package marketdata

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/avelios/anchor/internal/domain"
	"github.com/rs/zerolog"
)

// Client fetches quotes and historical candles over HTTP. It implements
// domain.MarketData.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a market data client. apiKey is optional.
func NewClient(baseURL, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("component", "marketdata").Logger(),
	}
}

type quoteResponse struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Timestamp     int64   `json:"timestamp"`
	IsMarketHours bool    `json:"is_market_hours"`
}

type candleResponse struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// GetPrice returns the latest quote for the symbol.
func (c *Client) GetPrice(symbol string) (*domain.PriceQuote, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", domain.ErrInvalidInput)
	}

	var resp quoteResponse
	params := url.Values{"symbol": {symbol}}
	if err := c.get("/v1/quote", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch quote for %s: %w", symbol, err)
	}
	if resp.Price <= 0 {
		return nil, fmt.Errorf("%w: non-positive price %f for %s", domain.ErrInvalidInput, resp.Price, symbol)
	}

	return &domain.PriceQuote{
		Symbol:        resp.Symbol,
		Price:         resp.Price,
		Timestamp:     time.Unix(resp.Timestamp, 0).UTC(),
		IsMarketHours: resp.IsMarketHours,
	}, nil
}

// GetHistorical returns OHLC samples in [start, end], oldest first.
func (c *Client) GetHistorical(symbol string, start, end time.Time, resolution domain.Resolution) ([]domain.PriceSample, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", domain.ErrInvalidInput)
	}

	var resp []candleResponse
	params := url.Values{
		"symbol":     {symbol},
		"start":      {strconv.FormatInt(start.Unix(), 10)},
		"end":        {strconv.FormatInt(end.Unix(), 10)},
		"resolution": {string(resolution)},
	}
	if err := c.get("/v1/candles", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch candles for %s: %w", symbol, err)
	}

	samples := make([]domain.PriceSample, 0, len(resp))
	for _, candle := range resp {
		samples = append(samples, domain.PriceSample{
			Symbol:    symbol,
			Timestamp: time.Unix(candle.Timestamp, 0).UTC(),
			Open:      candle.Open,
			High:      candle.High,
			Low:       candle.Low,
			Close:     candle.Close,
			Volume:    candle.Volume,
		})
	}
	return samples, nil
}

func (c *Client) get(path string, params url.Values, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
