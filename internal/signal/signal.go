// Package signal standardizes payloads shared between the live data stream and
// the decision engine.
package signal

import "time"

// Channel identifies which market data topic a tick came from.
type Channel string

const (
	// ChannelLastPrice carries traded-price updates.
	ChannelLastPrice Channel = "last-price"
	// ChannelIndex carries index-price updates.
	ChannelIndex Channel = "index"
)

// Direction classifies the price movement reported alongside a last-price tick.
type Direction string

const (
	DirectionUp      Direction = "up"
	DirectionDown    Direction = "down"
	DirectionFlat    Direction = "flat"
	DirectionUnknown Direction = "unknown"
)

// Tick models one inbound market data event consumed by the engine.
type Tick struct {
	Channel   Channel
	Price     float64
	Direction Direction
	Ts        time.Time
}

// Side enumerates position directions on the venue.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Decision is the evaluator's verdict for one cycle. Action None leaves Side,
// Quantity, and Leverage meaningless.
type Decision struct {
	Action   Action
	Side     Side
	Quantity float64
	Leverage float64
}

// Action is the ternary outcome of signal evaluation.
type Action int

const (
	// None means no trade this cycle.
	None Action = iota
	// Enter opens a new position on Decision.Side.
	Enter
)

// String renders the decision for logs.
func (d Decision) String() string {
	if d.Action == None {
		return "none"
	}
	return "enter-" + string(d.Side)
}
