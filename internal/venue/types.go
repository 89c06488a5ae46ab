// Package venue hosts the derivatives venue REST client and the live market
// data stream.
package venue

import (
	"github.com/shopspring/decimal"

	"oscibot/internal/signal"
)

// Position is a snapshot of one open leveraged position as reported by the
// venue. The venue owns the authoritative copy; the bot only reads snapshots
// and closes by ID. Monetary fields arrive as decimal strings and are kept
// exact until arithmetic demands otherwise.
type Position struct {
	ID          string          `json:"id"`
	Side        signal.Side     `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	EntryPrice  decimal.Decimal `json:"price"`
	PnL         decimal.Decimal `json:"pl"`
	OpeningFee  decimal.Decimal `json:"opening_fee"`
}
