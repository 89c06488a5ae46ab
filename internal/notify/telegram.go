// Package notify delivers best-effort trade alerts to an external channel.
// Delivery failures are logged and never reach the decision cycle.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Notifier is the fire-and-forget alert sink used by the engine.
type Notifier interface {
	Send(ctx context.Context, text string)
}

// Telegram posts messages to a chat through the Bot API.
type Telegram struct {
	botToken string
	chatID   string
	baseURL  string
	http     *http.Client
	log      zerolog.Logger
}

// Option adjusts Telegram construction.
type Option func(*Telegram)

// WithBaseURL overrides the Bot API host, used by tests.
func WithBaseURL(url string) Option {
	return func(t *Telegram) { t.baseURL = url }
}

// NewTelegram builds a notifier for the given bot and chat.
func NewTelegram(botToken, chatID string, log zerolog.Logger, opts ...Option) *Telegram {
	t := &Telegram{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  "https://api.telegram.org",
		http:     &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send delivers text to the chat. Errors are logged at warn and swallowed.
func (t *Telegram) Send(ctx context.Context, text string) {
	body, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
	if err != nil {
		t.log.Warn().Err(err).Msg("notify: encode message")
		return
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.log.Warn().Err(err).Msg("notify: build request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		t.log.Warn().Err(err).Msg("notify: send failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.log.Warn().Int("status", resp.StatusCode).Msg("notify: unexpected status")
		return
	}
	t.log.Debug().Msg("notification sent")
}

// Nop discards every message; used when no channel is configured.
type Nop struct{}

func (Nop) Send(context.Context, string) {}
