// Package quotes provides a client for fetching market data from the quote provider.
package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"finchat-go/internal/config"
	"finchat-go/internal/model"
)

// Client defines the interface for a market data client.
type Client interface {
	LatestQuote(ctx context.Context, symbol string) (*model.Quote, error)
	Fundamentals(ctx context.Context, symbol string) (*model.Fundamentals, error)
}

type httpClient struct {
	cfg    config.QuotesConfig
	client *http.Client
}

// NewClient creates a new market data client from the configuration.
func NewClient(cfg config.QuotesConfig) Client {
	return &httpClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type quoteResponse struct {
	Symbol    string  `json:"symbol"`
	Last      float64 `json:"last"`
	Change    float64 `json:"change"`
	ChangePct float64 `json:"change_pct"`
	Currency  string  `json:"currency"`
	AsOf      int64   `json:"as_of"`
}

type fundamentalsResponse struct {
	Symbol        string  `json:"symbol"`
	MarketCap     float64 `json:"market_cap"`
	PERatio       float64 `json:"pe_ratio"`
	EPS           float64 `json:"eps"`
	DividendYield float64 `json:"dividend_yield"`
	High52W       float64 `json:"high_52w"`
	Low52W        float64 `json:"low_52w"`
}

// LatestQuote 获取某只股票的最新报价。
func (c *httpClient) LatestQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	var resp quoteResponse
	if err := c.get(ctx, "/v1/quote", symbol, &resp); err != nil {
		return nil, err
	}
	return &model.Quote{
		Symbol:    resp.Symbol,
		Last:      resp.Last,
		Change:    resp.Change,
		ChangePct: resp.ChangePct,
		Currency:  resp.Currency,
		AsOf:      time.Unix(resp.AsOf, 0),
	}, nil
}

// Fundamentals 获取某只股票的基本面指标。
func (c *httpClient) Fundamentals(ctx context.Context, symbol string) (*model.Fundamentals, error) {
	var resp fundamentalsResponse
	if err := c.get(ctx, "/v1/fundamentals", symbol, &resp); err != nil {
		return nil, err
	}
	return &model.Fundamentals{
		Symbol:        resp.Symbol,
		MarketCap:     resp.MarketCap,
		PERatio:       resp.PERatio,
		EPS:           resp.EPS,
		DividendYield: resp.DividendYield,
		High52W:       resp.High52W,
		Low52W:        resp.Low52W,
	}, nil
}

func (c *httpClient) get(ctx context.Context, path, symbol string, out interface{}) error {
	u := fmt.Sprintf("%s%s?symbol=%s", c.cfg.BaseURL, path, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create quote request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call quote api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("quote api returned non-200 status: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode quote response: %w", err)
	}
	return nil
}
