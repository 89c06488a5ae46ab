package venue

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"oscibot/internal/signal"
	"oscibot/internal/util"
)

// Client talks to the venue's signed REST API.
type Client struct {
	baseURL    string
	key        string
	secret     string
	passphrase string
	http       *http.Client
	clock      util.Clock
	log        zerolog.Logger
}

// NewClient builds a venue client. clock defaults to wall time when nil.
func NewClient(baseURL, key, secret, passphrase string, clock util.Clock, log zerolog.Logger) *Client {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		key:        key,
		secret:     secret,
		passphrase: passphrase,
		http:       &http.Client{Timeout: 10 * time.Second},
		clock:      clock,
		log:        log,
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// OpenPositions returns the running positions for the symbol.
func (c *Client) OpenPositions(ctx context.Context, symbol string) ([]Position, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("type", "running")

	data, err := c.do(ctx, http.MethodGet, "/api/v1/positions", query, nil)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	var positions []Position
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	return positions, nil
}

// ClosePosition closes the position with the given ID at market.
func (c *Client) ClosePosition(ctx context.Context, id string) error {
	query := url.Values{}
	query.Set("id", id)
	if _, err := c.do(ctx, http.MethodDelete, "/api/v1/positions", query, nil); err != nil {
		return fmt.Errorf("close position %s: %w", id, err)
	}
	return nil
}

type orderRequest struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Type     string `json:"type"`
	Leverage string `json:"leverage"`
	Quantity string `json:"quantity"`
}

// PlaceMarketOrder opens a leveraged market position on the given side.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side signal.Side, leverage, quantity float64) error {
	req := orderRequest{
		Symbol:   symbol,
		Side:     string(side),
		Type:     "market",
		Leverage: decimal.NewFromFloat(leverage).String(),
		Quantity: decimal.NewFromFloat(quantity).String(),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/positions", nil, body); err != nil {
		return fmt.Errorf("place %s order: %w", side, err)
	}
	return nil
}

// do signs and performs one REST round-trip, unwrapping the venue envelope.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) (json.RawMessage, error) {
	endpoint := c.baseURL + path
	rawQuery := ""
	if len(query) > 0 {
		rawQuery = query.Encode()
		endpoint += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	timestamp := strconv.FormatInt(c.clock.Now().UnixMilli(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Access-Key", c.key)
	req.Header.Set("X-Access-Passphrase", c.passphrase)
	req.Header.Set("X-Access-Timestamp", timestamp)
	req.Header.Set("X-Access-Signature", c.sign(timestamp, method, path, rawQuery, body))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("venue error %d: %s", env.Code, env.Message)
	}
	c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("venue request ok")
	return env.Data, nil
}

// sign computes the request signature: base64 HMAC-SHA256 over
// timestamp + method + path + query + body.
func (c *Client) sign(timestamp, method, path, rawQuery string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write([]byte(rawQuery))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
