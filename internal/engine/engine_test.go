package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"oscibot/internal/config"
	"oscibot/internal/exposure"
	"oscibot/internal/indicator"
	"oscibot/internal/signal"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type fakeQuotes struct {
	value      float64
	valueErr   error
	bands      indicator.Bands
	bandsErr   error
	valueCalls int
	bandCalls  int
}

func (f *fakeQuotes) Value(ctx context.Context, kind indicator.Kind, symbol, interval string) (float64, error) {
	f.valueCalls++
	return f.value, f.valueErr
}

func (f *fakeQuotes) Bands(ctx context.Context, symbol, interval string) (indicator.Bands, error) {
	f.bandCalls++
	return f.bands, f.bandsErr
}

type fakeReviewer struct {
	summary exposure.Summary
	err     error
	calls   int
}

func (f *fakeReviewer) Review(ctx context.Context) (exposure.Summary, error) {
	f.calls++
	return f.summary, f.err
}

type fakeDispatcher struct {
	decisions []signal.Decision
	prices    []float64
	err       error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, decision signal.Decision, price float64) error {
	f.decisions = append(f.decisions, decision)
	f.prices = append(f.prices, price)
	return f.err
}

func testConfig() config.Engine {
	return config.Engine{
		TradeCooldownMs: 1000,
		CycleCooldownMs: 60000,
		FetchCooldownMs: 15000,
		SettleDelayMs:   1000,
		HistorySize:     16,
		AveragePeriod:   15,
		SellThreshold:   75,
		BuyThreshold:    45,
		ExposureCap:     20,
		OrderQuantity:   2,
		Leverage:        1,
		MaxReconnects:   5,
	}
}

func newTestEngine(quotes *fakeQuotes, reviewer *fakeReviewer, dispatcher *fakeDispatcher, clock *fakeClock) *Engine {
	return New(testConfig(), "BTCUSD", "15m", quotes, reviewer, dispatcher, clock, zerolog.Nop())
}

func (e *Engine) seedPrices(last, index float64) {
	e.prices = priceState{lastPrice: last, indexPrice: index, hasLast: true, hasIndex: true, direction: signal.DirectionUp}
}

func (e *Engine) seedHistory(value float64, n int) {
	for i := 0; i < n; i++ {
		e.history.Add(value)
	}
}

func TestAdaptiveThresholds(t *testing.T) {
	sell, buy := adaptiveThresholds(60)
	if sell != 70 || buy != 58 {
		t.Fatalf("adaptiveThresholds(60) = %.1f/%.1f, want 70/58", sell, buy)
	}
	sell, buy = adaptiveThresholds(47.5)
	if sell != 57.5 || buy != 45.5 {
		t.Fatalf("adaptiveThresholds(47.5) = %.1f/%.1f, want 57.5/45.5", sell, buy)
	}
}

func TestEvaluateDecisionTable(t *testing.T) {
	cfg := testConfig()
	cases := []struct {
		name                         string
		osc, sell, buy               float64
		price, floor, ceiling        float64
		want                         signal.Action
		side                         signal.Side
	}{
		{"enter short", 80, 70, 58, 105, 103, 99.6, signal.Enter, signal.SideShort},
		{"enter long", 30, 43, 33, 95, 90, 99.6, signal.Enter, signal.SideLong},
		{"short needs price above floor", 80, 70, 58, 102, 103, 99.6, signal.None, ""},
		{"long needs price below ceiling", 30, 43, 33, 99.7, 90, 99.6, signal.None, ""},
		{"oscillator between thresholds", 55, 70, 40, 105, 103, 110, signal.None, ""},
		{"threshold boundaries inclusive", 70, 70, 40, 105, 103, 110, signal.Enter, signal.SideShort},
		{"short wins evaluation order", 80, 70, 90, 105, 103, 110, signal.Enter, signal.SideShort},
	}
	for _, tc := range cases {
		got := evaluate(cfg, tc.osc, tc.sell, tc.buy, tc.price, tc.floor, tc.ceiling)
		if got.Action != tc.want {
			t.Fatalf("%s: action = %v, want %v", tc.name, got.Action, tc.want)
		}
		if tc.want == signal.Enter {
			if got.Side != tc.side {
				t.Fatalf("%s: side = %s, want %s", tc.name, got.Side, tc.side)
			}
			if got.Quantity != 2 || got.Leverage != 1 {
				t.Fatalf("%s: unexpected sizing %+v", tc.name, got)
			}
		}
	}
}

func TestCycleEntersShort(t *testing.T) {
	quotes := &fakeQuotes{value: 80, bands: indicator.Bands{Upper: 110, Lower: 100}}
	reviewer := &fakeReviewer{}
	dispatcher := &fakeDispatcher{}
	clock := &fakeClock{now: time.Unix(10000, 0)}
	e := newTestEngine(quotes, reviewer, dispatcher, clock)
	e.seedPrices(105, 104.8)
	e.seedHistory(55, 14) // avg after adding 80: (14*55+80)/15 = 56.67, sell=66.67

	e.cycle(context.Background())

	if len(dispatcher.decisions) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(dispatcher.decisions))
	}
	d := dispatcher.decisions[0]
	if d.Action != signal.Enter || d.Side != signal.SideShort {
		t.Fatalf("unexpected decision %+v", d)
	}
	if dispatcher.prices[0] != 105 {
		t.Fatalf("dispatch price = %.2f, want 105", dispatcher.prices[0])
	}
	if e.lastTrade.IsZero() {
		t.Fatalf("lastTrade not stamped after dispatch")
	}
}

func TestCycleEntersLong(t *testing.T) {
	quotes := &fakeQuotes{value: 30, bands: indicator.Bands{Upper: 100, Lower: 80}}
	reviewer := &fakeReviewer{}
	dispatcher := &fakeDispatcher{}
	clock := &fakeClock{now: time.Unix(10000, 0)}
	e := newTestEngine(quotes, reviewer, dispatcher, clock)
	e.seedPrices(95, 95.1)
	e.seedHistory(35, 14) // avg after adding 30: (14*35+30)/15 = 34.67, buy=32.67

	e.cycle(context.Background())

	if len(dispatcher.decisions) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(dispatcher.decisions))
	}
	if dispatcher.decisions[0].Side != signal.SideLong {
		t.Fatalf("unexpected side %s", dispatcher.decisions[0].Side)
	}
}

func TestCycleWarmingUpSkipsBands(t *testing.T) {
	quotes := &fakeQuotes{value: 80, bands: indicator.Bands{Upper: 110, Lower: 100}}
	reviewer := &fakeReviewer{}
	dispatcher := &fakeDispatcher{}
	clock := &fakeClock{now: time.Unix(10000, 0)}
	e := newTestEngine(quotes, reviewer, dispatcher, clock)
	e.seedPrices(105, 104.8)
	// Only 5 retained samples plus the fetched one: below the period.
	e.seedHistory(55, 5)

	e.cycle(context.Background())

	if quotes.bandCalls != 0 {
		t.Fatalf("bands must not be fetched while warming up")
	}
	if len(dispatcher.decisions) != 0 {
		t.Fatalf("no dispatch expected while warming up")
	}
	if e.history.Len() != 6 {
		t.Fatalf("fetched sample should still be recorded, len=%d", e.history.Len())
	}
}

func TestCycleExposureCapShortCircuits(t *testing.T) {
	quotes := &fakeQuotes{value: 80, bands: indicator.Bands{Upper: 110, Lower: 100}}
	reviewer := &fakeReviewer{summary: exposure.Summary{ShortQty: decimal.NewFromInt(20)}}
	dispatcher := &fakeDispatcher{}
	clock := &fakeClock{now: time.Unix(10000, 0)}
	e := newTestEngine(quotes, reviewer, dispatcher, clock)
	e.seedPrices(105, 104.8)
	e.seedHistory(55, 15)

	e.cycle(context.Background())

	if quotes.valueCalls != 0 {
		t.Fatalf("capped exposure must block before any indicator fetch")
	}
	if len(dispatcher.decisions) != 0 {
		t.Fatalf("no dispatch expected at exposure cap")
	}
}

func TestCycleTradeCooldownBlocksBeforeFetch(t *testing.T) {
	quotes := &fakeQuotes{value: 80}
	reviewer := &fakeReviewer{}
	dispatcher := &fakeDispatcher{}
	clock := &fakeClock{now: time.Unix(10000, 0)}
	e := newTestEngine(quotes, reviewer, dispatcher, clock)
	e.seedPrices(105, 104.8)
	e.lastTrade = clock.now.Add(-500 * time.Millisecond)

	e.cycle(context.Background())

	if reviewer.calls != 0 || quotes.valueCalls != 0 {
		t.Fatalf("trade cooldown must abort before review and fetch")
	}
}

func TestCycleWaitsForBothPrices(t *testing.T) {
	quotes := &fakeQuotes{value: 80}
	reviewer := &fakeReviewer{}
	dispatcher := &fakeDispatcher{}
	clock := &fakeClock{now: time.Unix(10000, 0)}
	e := newTestEngine(quotes, reviewer, dispatcher, clock)

	e.OnTick(context.Background(), signal.Tick{Channel: signal.ChannelLastPrice, Price: 105, Direction: signal.DirectionUp})

	if reviewer.calls != 0 {
		t.Fatalf("cycle must be a no-op until both prices are set")
	}
}

func TestOnTickCycleGate(t *testing.T) {
	quotes := &fakeQuotes{value: 80}
	// Cap the exposure so every cycle stops right after review; review count
	// then equals cycle count.
	reviewer := &fakeReviewer{summary: exposure.Summary{LongQty: decimal.NewFromInt(20)}}
	dispatcher := &fakeDispatcher{}
	clock := &fakeClock{now: time.Unix(10000, 0)}
	e := newTestEngine(quotes, reviewer, dispatcher, clock)
	ctx := context.Background()

	e.OnTick(ctx, signal.Tick{Channel: signal.ChannelLastPrice, Price: 105, Direction: signal.DirectionUp})
	clock.advance(time.Millisecond)
	e.OnTick(ctx, signal.Tick{Channel: signal.ChannelIndex, Price: 104.8})
	if reviewer.calls != 0 {
		t.Fatalf("second tick inside the 60s window must not start a cycle")
	}

	clock.advance(60 * time.Second)
	e.OnTick(ctx, signal.Tick{Channel: signal.ChannelIndex, Price: 104.9})
	if reviewer.calls != 1 {
		t.Fatalf("expected one cycle after the gate opened, got %d", reviewer.calls)
	}

	clock.advance(30 * time.Second)
	e.OnTick(ctx, signal.Tick{Channel: signal.ChannelLastPrice, Price: 105.2, Direction: signal.DirectionUp})
	if reviewer.calls != 1 {
		t.Fatalf("gate must stay closed for 60s, got %d cycles", reviewer.calls)
	}
}

func TestLastTradeStampedOnFailedSubmission(t *testing.T) {
	quotes := &fakeQuotes{value: 80, bands: indicator.Bands{Upper: 110, Lower: 100}}
	reviewer := &fakeReviewer{}
	dispatcher := &fakeDispatcher{err: errors.New("venue down")}
	clock := &fakeClock{now: time.Unix(10000, 0)}
	e := newTestEngine(quotes, reviewer, dispatcher, clock)
	e.seedPrices(105, 104.8)
	e.seedHistory(55, 14)

	e.cycle(context.Background())

	if len(dispatcher.decisions) != 1 {
		t.Fatalf("expected attempted dispatch")
	}
	if e.lastTrade.IsZero() {
		t.Fatalf("lastTrade must be stamped even when submission fails")
	}
}

func TestCycleSurvivesFetchErrors(t *testing.T) {
	quotes := &fakeQuotes{valueErr: errors.New("provider down")}
	reviewer := &fakeReviewer{}
	dispatcher := &fakeDispatcher{}
	clock := &fakeClock{now: time.Unix(10000, 0)}
	e := newTestEngine(quotes, reviewer, dispatcher, clock)
	e.seedPrices(105, 104.8)

	e.cycle(context.Background())

	if len(dispatcher.decisions) != 0 {
		t.Fatalf("failed fetch must end the cycle without a trade")
	}

	// Cooldown rejections are expected and equally non-fatal.
	quotes.valueErr = indicator.ErrCooldown
	e.cycle(context.Background())
	if len(dispatcher.decisions) != 0 {
		t.Fatalf("cooldown rejection must end the cycle without a trade")
	}
}
