// Package polyhttp implements the provider capability interfaces over a
// Polygon-style REST API with per-host rate limiting and a circuit breaker.
package polyhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/flowsentry/flowsentry/internal/provider"
)

// Config holds the HTTP client settings.
type Config struct {
	BaseURL        string
	APIKey         string
	RPS            float64
	Burst          int
	RequestTimeout time.Duration

	Breaker BreakerConfig
}

// BreakerConfig tunes the shared circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// Client implements provider.MarketData against a REST endpoint.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// New constructs a Client. Zero-valued config fields fall back to safe
// defaults (5 rps, 10 burst, 10s request timeout, trip after 5 consecutive
// failures with a 30s open interval).
func New(cfg Config, logger zerolog.Logger) *Client {
	if cfg.RPS <= 0 {
		cfg.RPS = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.Breaker.ConsecutiveFailures == 0 {
		cfg.Breaker.ConsecutiveFailures = 5
	}
	if cfg.Breaker.Timeout <= 0 {
		cfg.Breaker.Timeout = 30 * time.Second
	}

	log := logger.With().Str("component", "polyhttp").Logger()

	settings := gobreaker.Settings{
		Name:        "market-data",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  log,
	}
}

type chainResponse struct {
	Results []struct {
		Details struct {
			Ticker string `json:"ticker"`
		} `json:"details"`
		Day struct {
			Volume int64 `json:"volume"`
		} `json:"day"`
		LastTrade struct {
			Price float64 `json:"price"`
		} `json:"last_trade"`
	} `json:"results"`
}

// GetOptionChainSnapshot fetches one full chain snapshot for an underlying.
func (c *Client) GetOptionChainSnapshot(ctx context.Context, symbol string) ([]provider.ChainContract, error) {
	var resp chainResponse
	path := fmt.Sprintf("/v3/snapshot/options/%s", url.PathEscape(symbol))
	if err := c.getJSON(ctx, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("chain snapshot %s: %w", symbol, err)
	}

	contracts := make([]provider.ChainContract, 0, len(resp.Results))
	for _, r := range resp.Results {
		contracts = append(contracts, provider.ChainContract{
			ContractID: r.Details.Ticker,
			LastPrice:  r.LastTrade.Price,
			DayVolume:  r.Day.Volume,
		})
	}
	return contracts, nil
}

type contractResponse struct {
	Results struct {
		Day struct {
			Volume int64 `json:"volume"`
		} `json:"day"`
		LastQuote struct {
			Bid float64 `json:"bid"`
			Ask float64 `json:"ask"`
		} `json:"last_quote"`
		LastTrade struct {
			Price float64 `json:"price"`
		} `json:"last_trade"`
		Greeks struct {
			Delta float64 `json:"delta"`
			Gamma float64 `json:"gamma"`
			Theta float64 `json:"theta"`
			Vega  float64 `json:"vega"`
		} `json:"greeks"`
		ImpliedVolatility float64 `json:"implied_volatility"`
		OpenInterest      int64   `json:"open_interest"`
		UnderlyingAsset   struct {
			Price float64 `json:"price"`
		} `json:"underlying_asset"`
	} `json:"results"`
}

// GetSingleContractSnapshot fetches the current snapshot of one contract.
func (c *Client) GetSingleContractSnapshot(ctx context.Context, underlying, contractID string) (*provider.ContractSnapshot, error) {
	var resp contractResponse
	path := fmt.Sprintf("/v3/snapshot/options/%s/%s", url.PathEscape(underlying), url.PathEscape(contractID))
	if err := c.getJSON(ctx, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("contract snapshot %s/%s: %w", underlying, contractID, err)
	}

	r := resp.Results
	return &provider.ContractSnapshot{
		Bid:             r.LastQuote.Bid,
		Ask:             r.LastQuote.Ask,
		LastPrice:       r.LastTrade.Price,
		OpenInterest:    r.OpenInterest,
		DayVolume:       r.Day.Volume,
		Delta:           r.Greeks.Delta,
		Gamma:           r.Greeks.Gamma,
		Theta:           r.Greeks.Theta,
		Vega:            r.Greeks.Vega,
		ImpliedVol:      r.ImpliedVolatility,
		UnderlyingPrice: r.UnderlyingAsset.Price,
		Updated:         time.Now().UTC(),
	}, nil
}

type tapeResponse struct {
	Results []struct {
		Price        float64 `json:"price"`
		Size         int64   `json:"size"`
		SIPTimestamp int64   `json:"sip_timestamp"` // unix nanos
	} `json:"results"`
}

// GetEquityTradesInWindow fetches the equity tape inside [center-window, center+window].
func (c *Client) GetEquityTradesInWindow(ctx context.Context, symbol string, center time.Time, window time.Duration) ([]provider.EquityTrade, error) {
	q := url.Values{}
	q.Set("timestamp.gte", fmt.Sprintf("%d", center.Add(-window).UnixNano()))
	q.Set("timestamp.lte", fmt.Sprintf("%d", center.Add(window).UnixNano()))
	q.Set("limit", "1000")

	var resp tapeResponse
	path := fmt.Sprintf("/v3/trades/%s", url.PathEscape(symbol))
	if err := c.getJSON(ctx, path, q, &resp); err != nil {
		return nil, fmt.Errorf("equity tape %s: %w", symbol, err)
	}

	trades := make([]provider.EquityTrade, 0, len(resp.Results))
	for _, r := range resp.Results {
		trades = append(trades, provider.EquityTrade{
			Price:     r.Price,
			Size:      r.Size,
			Timestamp: time.Unix(0, r.SIPTimestamp),
		})
	}
	return trades, nil
}

type lastTradeResponse struct {
	Results struct {
		Price float64 `json:"p"`
	} `json:"results"`
}

// GetUnderlyingPrice fetches just the last trade price of an equity.
func (c *Client) GetUnderlyingPrice(ctx context.Context, symbol string) (float64, error) {
	var resp lastTradeResponse
	path := fmt.Sprintf("/v2/last/trade/%s", url.PathEscape(symbol))
	if err := c.getJSON(ctx, path, nil, &resp); err != nil {
		return 0, fmt.Errorf("last trade %s: %w", symbol, err)
	}
	return resp.Results.Price, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	// A 404 is a data condition, not a provider fault; it must not trip
	// the breaker.
	notFound, err := c.breaker.Execute(func() (interface{}, error) {
		err := c.doGet(ctx, path, query, out)
		if errors.Is(err, provider.ErrNotFound) {
			return true, nil
		}
		return false, err
	})
	if err != nil {
		return err
	}
	if notFound.(bool) {
		return provider.ErrNotFound
	}
	return nil
}

func (c *Client) doGet(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return provider.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ provider.MarketData = (*Client)(nil)
