package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"oscibot/internal/metrics"
	"oscibot/internal/signal"
	"oscibot/internal/util"
)

// Stream subscribes to the venue's live data topics and delivers ticks to a
// channel. Connection failures trigger exponential backoff reconnects up to a
// retry cap; a successful subscription resets the retry counter.
type Stream struct {
	url        string
	symbol     string
	maxRetries int
	clock      util.Clock
	log        zerolog.Logger
}

// NewStream builds a supervisor for the websocket at url.
func NewStream(url, symbol string, maxRetries int, clock util.Clock, log zerolog.Logger) *Stream {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Stream{url: url, symbol: symbol, maxRetries: maxRetries, clock: clock, log: log}
}

// Backoff returns the reconnect delay for the given retry count:
// min(1s·2^retry, 30s).
func Backoff(retry int) time.Duration {
	if retry < 0 || retry > 5 {
		return 30 * time.Second
	}
	d := time.Second << uint(retry)
	if d > 30*time.Second {
		return 30 * time.Second
	}
	return d
}

// Run consumes the stream until the context is canceled or the retry budget
// is exhausted. Ticks are pushed onto out; the caller owns the channel.
func (s *Stream) Run(ctx context.Context, out chan<- signal.Tick) error {
	retries := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := s.consume(ctx, out, func() { retries = 0 })
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn().Err(err).Int("retries", retries).Msg("live data stream closed")

		if retries >= s.maxRetries {
			s.log.Error().Int("retries", retries).Msg("reconnect budget exhausted, giving up")
			return fmt.Errorf("stream: gave up after %d reconnect attempts: %w", retries, err)
		}
		delay := Backoff(retries)
		retries++
		metrics.ReconnectsTotal.Inc()
		s.log.Info().Dur("delay", delay).Int("attempt", retries).Msg("reconnecting")
		select {
		case <-s.clock.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
}

type streamFrame struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

type lastPriceEvent struct {
	LastPrice         *decimal.Decimal `json:"lastPrice"`
	LastTickDirection string           `json:"lastTickDirection"`
}

type indexEvent struct {
	Index *decimal.Decimal `json:"index"`
}

// consume dials, subscribes, and reads frames until the connection drops.
// onSubscribed fires once the subscription is in place.
func (s *Stream) consume(ctx context.Context, out chan<- signal.Tick, onSubscribed func()) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	topics := []string{
		"last-price:" + s.symbol,
		"index:" + s.symbol,
	}
	if err := conn.WriteJSON(subscribeRequest{Method: "subscribe", Params: topics}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	onSubscribed()
	s.log.Info().Str("symbol", s.symbol).Strs("topics", topics).Msg("subscribed to live data")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					s.log.Warn().Err(err).Msg("stream ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		tick, ok := s.parseFrame(message)
		if !ok {
			continue
		}
		select {
		case out <- tick:
			metrics.TicksTotal.WithLabelValues(string(tick.Channel)).Inc()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// parseFrame decodes one inbound message. Malformed payloads are logged and
// dropped without mutating anything.
func (s *Stream) parseFrame(message []byte) (signal.Tick, bool) {
	var frame streamFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		s.log.Warn().Err(err).Msg("undecodable stream frame")
		return signal.Tick{}, false
	}

	switch channelOf(frame.Topic) {
	case signal.ChannelLastPrice:
		var ev lastPriceEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil || ev.LastPrice == nil {
			s.log.Warn().Str("topic", frame.Topic).Msg("last-price frame missing lastPrice")
			return signal.Tick{}, false
		}
		return signal.Tick{
			Channel:   signal.ChannelLastPrice,
			Price:     ev.LastPrice.InexactFloat64(),
			Direction: parseDirection(ev.LastTickDirection),
			Ts:        time.Now(),
		}, true
	case signal.ChannelIndex:
		var ev indexEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil || ev.Index == nil {
			s.log.Warn().Str("topic", frame.Topic).Msg("index frame missing index")
			return signal.Tick{}, false
		}
		return signal.Tick{
			Channel:   signal.ChannelIndex,
			Price:     ev.Index.InexactFloat64(),
			Direction: signal.DirectionUnknown,
			Ts:        time.Now(),
		}, true
	default:
		s.log.Debug().Str("topic", frame.Topic).Msg("ignoring frame for unknown topic")
		return signal.Tick{}, false
	}
}

func channelOf(topic string) signal.Channel {
	for _, ch := range []signal.Channel{signal.ChannelLastPrice, signal.ChannelIndex} {
		prefix := string(ch)
		if topic == prefix || (len(topic) > len(prefix) && topic[:len(prefix)+1] == prefix+":") {
			return ch
		}
	}
	return ""
}

func parseDirection(raw string) signal.Direction {
	switch raw {
	case "PlusTick":
		return signal.DirectionUp
	case "MinusTick":
		return signal.DirectionDown
	case "ZeroPlusTick", "ZeroMinusTick":
		return signal.DirectionFlat
	default:
		return signal.DirectionUnknown
	}
}
