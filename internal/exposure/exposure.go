// Package exposure summarizes open positions per side and realizes
// take-profit / stop-loss closes ahead of each decision cycle.
package exposure

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"oscibot/internal/metrics"
	"oscibot/internal/notify"
	"oscibot/internal/signal"
	"oscibot/internal/util"
	"oscibot/internal/venue"
)

// PositionAPI is the slice of the venue client the tracker needs.
type PositionAPI interface {
	OpenPositions(ctx context.Context, symbol string) ([]venue.Position, error)
	ClosePosition(ctx context.Context, id string) error
}

// Summary aggregates open quantity and unrealized PnL per side. It is derived
// fresh from a snapshot each cycle and never persisted.
type Summary struct {
	LongQty  decimal.Decimal
	ShortQty decimal.Decimal
	LongPnL  decimal.Decimal
	ShortPnL decimal.Decimal
}

// SideAtCap reports whether either side's quantity has reached the cap. The
// cap is a global brake: one saturated side blocks trading on both.
func (s Summary) SideAtCap(cap decimal.Decimal) bool {
	return s.LongQty.GreaterThanOrEqual(cap) || s.ShortQty.GreaterThanOrEqual(cap)
}

// Tracker reviews open positions before each decision cycle.
type Tracker struct {
	api         PositionAPI
	notifier    notify.Notifier
	symbol      string
	takeProfit  decimal.Decimal
	stopLoss    decimal.Decimal
	settleDelay time.Duration
	clock       util.Clock
	log         zerolog.Logger
}

// NewTracker builds a tracker. takeProfit is the strict lower bound for a
// profitable close; stopLoss the strict upper bound for a losing one.
func NewTracker(api PositionAPI, notifier notify.Notifier, symbol string, takeProfit, stopLoss float64, settleDelay time.Duration, clock util.Clock, log zerolog.Logger) *Tracker {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Tracker{
		api:         api,
		notifier:    notifier,
		symbol:      symbol,
		takeProfit:  decimal.NewFromFloat(takeProfit),
		stopLoss:    decimal.NewFromFloat(stopLoss),
		settleDelay: settleDelay,
		clock:       clock,
		log:         log,
	}
}

// Review snapshots open positions, closes any whose PnL breaches a threshold,
// and returns the per-side summary. If anything was closed, the snapshot is
// re-fetched after a settle delay so stale figures never reach the evaluator.
func (t *Tracker) Review(ctx context.Context) (Summary, error) {
	positions, err := t.api.OpenPositions(ctx, t.symbol)
	if err != nil {
		return Summary{}, fmt.Errorf("exposure: snapshot positions: %w", err)
	}

	closed := 0
	for _, p := range positions {
		switch {
		case p.PnL.GreaterThan(t.takeProfit):
			if t.close(ctx, p, "profit") {
				closed++
			}
		case p.PnL.LessThan(t.stopLoss):
			if t.close(ctx, p, "stoploss") {
				closed++
			}
		}
	}

	if closed > 0 {
		// Give the venue a moment to settle before trusting a fresh snapshot.
		select {
		case <-t.clock.After(t.settleDelay):
		case <-ctx.Done():
			return Summary{}, ctx.Err()
		}
		positions, err = t.api.OpenPositions(ctx, t.symbol)
		if err != nil {
			return Summary{}, fmt.Errorf("exposure: refresh positions: %w", err)
		}
	}

	return summarize(positions), nil
}

// close closes one position and reports whether it succeeded. Failures are
// logged and do not abort the remainder of the review.
func (t *Tracker) close(ctx context.Context, p venue.Position, outcome string) bool {
	if err := t.api.ClosePosition(ctx, p.ID); err != nil {
		t.log.Error().Err(err).Str("position", p.ID).Str("outcome", outcome).Msg("close failed")
		return false
	}
	metrics.PositionClosesTotal.WithLabelValues(outcome).Inc()
	t.log.Info().
		Str("event", outcome).
		Str("position", p.ID).
		Str("side", string(p.Side)).
		Str("pl", p.PnL.String()).
		Msg("position closed")
	t.notifier.Send(ctx, fmt.Sprintf("closed %s %s position %s, pl=%s", t.symbol, p.Side, p.ID, p.PnL))
	return true
}

func summarize(positions []venue.Position) Summary {
	var s Summary
	for _, p := range positions {
		switch p.Side {
		case signal.SideLong:
			s.LongQty = s.LongQty.Add(p.Quantity)
			s.LongPnL = s.LongPnL.Add(p.PnL)
		case signal.SideShort:
			s.ShortQty = s.ShortQty.Add(p.Quantity)
			s.ShortPnL = s.ShortPnL.Add(p.PnL)
		}
	}
	return s
}
