// Package engine implements the decision core: a single loop that consumes
// market data ticks, maintains the oscillator history, and turns indicator
// readings into position entries.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"oscibot/internal/config"
	"oscibot/internal/exposure"
	"oscibot/internal/indicator"
	"oscibot/internal/metrics"
	"oscibot/internal/signal"
	"oscibot/internal/util"
)

// Offsets applied to the moving average to derive adaptive thresholds.
const (
	sellOffset = 10.0
	buyOffset  = 2.0

	bandFloorFactor   = 1.03
	bandCeilingFactor = 0.996
)

// Quotes is the rate-limited indicator fetcher the engine depends on.
type Quotes interface {
	Value(ctx context.Context, kind indicator.Kind, symbol, interval string) (float64, error)
	Bands(ctx context.Context, symbol, interval string) (indicator.Bands, error)
}

// Reviewer realizes take-profit/stop-loss closes and summarizes exposure.
type Reviewer interface {
	Review(ctx context.Context) (exposure.Summary, error)
}

// Dispatcher executes a non-None decision against the venue.
type Dispatcher interface {
	Dispatch(ctx context.Context, decision signal.Decision, price float64) error
}

// priceState is the shared view of the market, written only by the tick
// handler. Cycles are no-ops until both prices have been seen once.
type priceState struct {
	lastPrice  float64
	indexPrice float64
	hasLast    bool
	hasIndex   bool
	direction  signal.Direction
}

func (p priceState) ready() bool { return p.hasLast && p.hasIndex }

// Engine owns all mutable trading state. Ticks and decision cycles run in the
// one goroutine driving Run, so no cycle can overlap another.
type Engine struct {
	cfg        config.Engine
	symbol     string
	interval   string
	quotes     Quotes
	reviewer   Reviewer
	dispatcher Dispatcher
	history    *indicator.History
	clock      util.Clock
	log        zerolog.Logger

	prices    priceState
	cap       decimal.Decimal
	lastTrade time.Time
	lastCycle time.Time
}

// New wires an engine together. clock defaults to wall time when nil.
func New(cfg config.Engine, symbol, interval string, quotes Quotes, reviewer Reviewer, dispatcher Dispatcher, clock util.Clock, log zerolog.Logger) *Engine {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Engine{
		cfg:        cfg,
		symbol:     symbol,
		interval:   interval,
		quotes:     quotes,
		reviewer:   reviewer,
		dispatcher: dispatcher,
		history:    indicator.NewHistory(cfg.HistorySize),
		clock:      clock,
		log:        log,
		prices:     priceState{direction: signal.DirectionUnknown},
		cap:        decimal.NewFromFloat(cfg.ExposureCap),
	}
}

// Run consumes ticks until the context is canceled. It is the single
// writer-context for all engine state.
func (e *Engine) Run(ctx context.Context, ticks <-chan signal.Tick) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick := <-ticks:
			e.OnTick(ctx, tick)
		}
	}
}

// OnTick applies a tick to the price state and, if the inter-cycle cooldown
// has elapsed, runs one decision cycle inline. Either tick channel can open
// the gate.
func (e *Engine) OnTick(ctx context.Context, tick signal.Tick) {
	switch tick.Channel {
	case signal.ChannelLastPrice:
		e.prices.lastPrice = tick.Price
		e.prices.hasLast = true
		e.prices.direction = tick.Direction
	case signal.ChannelIndex:
		e.prices.indexPrice = tick.Price
		e.prices.hasIndex = true
	default:
		e.log.Warn().Str("channel", string(tick.Channel)).Msg("tick for unknown channel dropped")
		return
	}

	now := e.clock.Now()
	if !e.lastCycle.IsZero() && now.Sub(e.lastCycle) < e.cycleCooldown() {
		return
	}
	e.lastCycle = now
	e.cycle(ctx)
}

// cycle runs one evaluation. Every failure is logged and terminates the cycle
// without escaping; the next gated tick gets a fresh attempt.
func (e *Engine) cycle(ctx context.Context) {
	metrics.CyclesTotal.Inc()

	if !e.canMakeTrade() {
		e.log.Debug().Msg("trade cooldown active, skipping cycle")
		return
	}
	if !e.prices.ready() {
		e.log.Debug().Msg("waiting for first last-price and index ticks")
		return
	}

	summary, err := e.reviewer.Review(ctx)
	if err != nil {
		e.logFailure("exposure review failed", err)
		return
	}
	if summary.SideAtCap(e.cap) {
		e.log.Warn().
			Str("long_qty", summary.LongQty.String()).
			Str("short_qty", summary.ShortQty.String()).
			Str("cap", e.cap.String()).
			Msg("exposure cap reached, no trade")
		return
	}

	osc, err := e.quotes.Value(ctx, indicator.KindRSI, e.symbol, e.interval)
	if err != nil {
		e.logFetchFailure("oscillator", err)
		return
	}
	e.history.Add(osc)

	sellThreshold := e.cfg.SellThreshold
	buyThreshold := e.cfg.BuyThreshold
	avg, err := e.history.MovingAverage(e.cfg.AveragePeriod)
	switch {
	case errors.Is(err, indicator.ErrNotEnoughSamples):
		e.log.Info().
			Int("samples", e.history.Len()).
			Int("period", e.cfg.AveragePeriod).
			Msg("oscillator history warming up")
		return
	case err != nil:
		e.logFailure("moving average failed", err)
		return
	default:
		// Adaptive thresholds always win over the configured defaults
		// once the average is computable.
		sellThreshold, buyThreshold = adaptiveThresholds(avg)
	}

	// The provider meters all indicator kinds through one cooldown window;
	// the band fetch must wait it out. Hard sequencing, not an optimization.
	select {
	case <-e.clock.After(e.fetchCooldown()):
	case <-ctx.Done():
		return
	}

	bands, err := e.quotes.Bands(ctx, e.symbol, e.interval)
	if err != nil {
		e.logFetchFailure("bands", err)
		return
	}

	price := e.prices.lastPrice
	floor := bands.Lower * bandFloorFactor
	ceiling := bands.Upper * bandCeilingFactor
	decision := evaluate(e.cfg, osc, sellThreshold, buyThreshold, price, floor, ceiling)

	e.log.Info().
		Float64("osc", osc).
		Float64("avg", avg).
		Float64("sell_threshold", sellThreshold).
		Float64("buy_threshold", buyThreshold).
		Float64("price", price).
		Float64("index", e.prices.indexPrice).
		Str("direction", string(e.prices.direction)).
		Float64("floor", floor).
		Float64("ceiling", ceiling).
		Str("decision", decision.String()).
		Msg("cycle evaluated")

	if decision.Action == signal.None {
		return
	}

	dispatchErr := e.dispatcher.Dispatch(ctx, decision, price)
	// Stamp regardless of outcome: a failing venue is throttled, not hammered.
	e.lastTrade = e.clock.Now()
	if dispatchErr != nil {
		e.logFailure("trade submission failed", dispatchErr)
	}
}

// adaptiveThresholds derives the entry thresholds from the smoothed oscillator.
func adaptiveThresholds(avg float64) (sell, buy float64) {
	return avg + sellOffset, avg - buyOffset
}

// evaluate is the ternary decision. Short is checked first, so if both sets
// of conditions held it wins by evaluation order.
func evaluate(cfg config.Engine, osc, sellThreshold, buyThreshold, price, floor, ceiling float64) signal.Decision {
	enter := func(side signal.Side) signal.Decision {
		return signal.Decision{
			Action:   signal.Enter,
			Side:     side,
			Quantity: cfg.OrderQuantity,
			Leverage: cfg.Leverage,
		}
	}
	if osc >= sellThreshold && price > floor {
		return enter(signal.SideShort)
	}
	if osc <= buyThreshold && price < ceiling {
		return enter(signal.SideLong)
	}
	return signal.Decision{Action: signal.None}
}

func (e *Engine) canMakeTrade() bool {
	if e.lastTrade.IsZero() {
		return true
	}
	return e.clock.Now().Sub(e.lastTrade) >= time.Duration(e.cfg.TradeCooldownMs)*time.Millisecond
}

func (e *Engine) cycleCooldown() time.Duration {
	return time.Duration(e.cfg.CycleCooldownMs) * time.Millisecond
}

func (e *Engine) fetchCooldown() time.Duration {
	return time.Duration(e.cfg.FetchCooldownMs) * time.Millisecond
}

// logFetchFailure downgrades expected cooldown rejections to info; everything
// else gets the full error treatment.
func (e *Engine) logFetchFailure(what string, err error) {
	if errors.Is(err, indicator.ErrCooldown) {
		e.log.Info().Str("fetch", what).Msg("indicator cooldown active, cycle deferred")
		return
	}
	e.logFailure(fmt.Sprintf("%s fetch failed", what), err)
}

func (e *Engine) logFailure(what string, err error) {
	e.log.Error().Err(err).Str("detail", fmt.Sprintf("%+v", err)).Msg(what)
}
