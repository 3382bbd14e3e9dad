package broker

import (
	"time"

	"github.com/rhizooai/sweepengine/internal/market"
)

// Monitor watches the Paper Broker's active positions for a stop-loss or
// take-profit breach against the last traded price (spec §4.5's "Position
// Monitor"). It owns no state of its own beyond the broker reference.
type Monitor struct {
	broker *PaperBroker
}

// NewMonitor wraps a PaperBroker with SL/TP watch logic.
func NewMonitor(b *PaperBroker) *Monitor {
	return &Monitor{broker: b}
}

// CheckPositions closes any active position whose SL or TP has been crossed
// by the latest price, returning the resulting closed trades in no
// particular order. TP takes precedence over SL when both would trigger on
// the same tick (a single price print rarely straddles both, but ties favor
// the winning outcome rather than the loss).
func (m *Monitor) CheckPositions(price float64, now time.Time) []ClosedTrade {
	var closed []ClosedTrade
	for _, pos := range m.broker.ActivePositions() {
		switch pos.Side {
		case market.Buy:
			switch {
			case price >= pos.TakeProfit:
				closed = append(closed, m.broker.ClosePosition(pos, price, "WIN", now))
			case price <= pos.StopLoss:
				closed = append(closed, m.broker.ClosePosition(pos, price, "LOSS", now))
			}
		case market.Sell:
			switch {
			case price <= pos.TakeProfit:
				closed = append(closed, m.broker.ClosePosition(pos, price, "WIN", now))
			case price >= pos.StopLoss:
				closed = append(closed, m.broker.ClosePosition(pos, price, "LOSS", now))
			}
		}
	}
	return closed
}
