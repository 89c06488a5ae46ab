package indicator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"oscibot/internal/metrics"
)

// Kind names an indicator query understood by the provider.
type Kind string

const (
	KindRSI    Kind = "rsi"
	KindBands  Kind = "bbands"
	KindUltOsc Kind = "ultosc"
	KindStdDev Kind = "stddev"
	KindMACD   Kind = "macd"
)

// Bands carries a volatility envelope snapshot.
type Bands struct {
	Upper float64
	Lower float64
}

// Client fetches indicator values over HTTP. Every call, regardless of kind,
// passes through the shared RateLimiter because the provider meters quota per
// account, not per indicator.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *RateLimiter
	log     zerolog.Logger
}

// NewClient builds an indicator client against the provider at baseURL.
func NewClient(baseURL, apiKey string, limiter *RateLimiter, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: limiter,
		log:     log,
	}
}

type valueResponse struct {
	Value decimal.Decimal `json:"value"`
}

type bandsResponse struct {
	UpperBand decimal.Decimal `json:"valueUpperBand"`
	LowerBand decimal.Decimal `json:"valueLowerBand"`
}

// Value fetches a single-valued indicator for the symbol and interval.
func (c *Client) Value(ctx context.Context, kind Kind, symbol, interval string) (float64, error) {
	body, err := c.get(ctx, kind, symbol, interval)
	if err != nil {
		return 0, err
	}
	var out valueResponse
	if err := json.Unmarshal(body, &out); err != nil {
		metrics.IndicatorFetchesTotal.WithLabelValues(string(kind), "error").Inc()
		return 0, fmt.Errorf("decode %s response: %w", kind, err)
	}
	c.commit(kind, symbol)
	return out.Value.InexactFloat64(), nil
}

// Bands fetches the volatility band envelope for the symbol and interval.
func (c *Client) Bands(ctx context.Context, symbol, interval string) (Bands, error) {
	body, err := c.get(ctx, KindBands, symbol, interval)
	if err != nil {
		return Bands{}, err
	}
	var out bandsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		metrics.IndicatorFetchesTotal.WithLabelValues(string(KindBands), "error").Inc()
		return Bands{}, fmt.Errorf("decode bands response: %w", err)
	}
	c.commit(KindBands, symbol)
	return Bands{
		Upper: out.UpperBand.InexactFloat64(),
		Lower: out.LowerBand.InexactFloat64(),
	}, nil
}

// commit records one fully successful fetch: a failing call, including a 200
// with an undecodable body, never starts the cooldown window.
func (c *Client) commit(kind Kind, symbol string) {
	c.limiter.Stamp()
	metrics.IndicatorFetchesTotal.WithLabelValues(string(kind), "ok").Inc()
	c.log.Debug().Str("kind", string(kind)).Str("symbol", symbol).Msg("indicator fetched")
}

// get performs the metered HTTP round-trip. It never stamps the limiter;
// callers commit once the payload has decoded.
func (c *Client) get(ctx context.Context, kind Kind, symbol, interval string) ([]byte, error) {
	if err := c.limiter.Allow(); err != nil {
		metrics.IndicatorFetchesTotal.WithLabelValues(string(kind), "cooldown").Inc()
		return nil, err
	}

	query := url.Values{}
	query.Set("secret", c.apiKey)
	query.Set("symbol", symbol)
	query.Set("interval", interval)

	endpoint := fmt.Sprintf("%s/%s?%s", c.baseURL, kind, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", kind, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.IndicatorFetchesTotal.WithLabelValues(string(kind), "error").Inc()
		return nil, fmt.Errorf("fetch %s: %w", kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.IndicatorFetchesTotal.WithLabelValues(string(kind), "error").Inc()
		return nil, fmt.Errorf("fetch %s: unexpected status %d", kind, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.IndicatorFetchesTotal.WithLabelValues(string(kind), "error").Inc()
		return nil, fmt.Errorf("read %s response: %w", kind, err)
	}
	return body, nil
}
