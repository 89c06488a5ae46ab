// Package execution turns decisions into venue orders and trade alerts.
package execution

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"oscibot/internal/metrics"
	"oscibot/internal/notify"
	"oscibot/internal/signal"
)

// OrderAPI is the slice of the venue client the dispatcher needs.
type OrderAPI interface {
	PlaceMarketOrder(ctx context.Context, symbol string, side signal.Side, leverage, quantity float64) error
}

// Dispatcher submits market orders for enter decisions and reports them.
type Dispatcher struct {
	api      OrderAPI
	notifier notify.Notifier
	symbol   string
	log      zerolog.Logger
}

// NewDispatcher wires the dispatcher to the venue and the alert channel.
func NewDispatcher(api OrderAPI, notifier notify.Notifier, symbol string, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{api: api, notifier: notifier, symbol: symbol, log: log}
}

// Dispatch submits the decided order at the given reference price. The caller
// stamps its trade cooldown after the attempt whether or not this succeeds.
func (d *Dispatcher) Dispatch(ctx context.Context, decision signal.Decision, price float64) error {
	if decision.Action == signal.None {
		return nil
	}

	err := d.api.PlaceMarketOrder(ctx, d.symbol, decision.Side, decision.Leverage, decision.Quantity)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", decision, err)
	}

	metrics.OrdersTotal.WithLabelValues(string(decision.Side)).Inc()
	d.log.Info().
		Str("event", "trade").
		Str("side", string(decision.Side)).
		Float64("qty", decision.Quantity).
		Float64("leverage", decision.Leverage).
		Float64("price", price).
		Msg("market order submitted")
	d.notifier.Send(ctx, fmt.Sprintf("%s: opened %s @ %.1f", d.symbol, decision.Side, price))
	return nil
}
