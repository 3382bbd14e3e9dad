// Package market holds the plain value types shared across the engine:
// the trade tape record, the synthesized candle, the per-tick metrics
// snapshot, and the strategy-to-risk signal/order contracts.
//
// Nothing here does I/O or owns mutable state; every field is validated
// at the boundary that produces it (feed adapters for Trade, the Level
// Engine for Candle, and so on) so downstream code only ever sees typed,
// already-sane records.
package market

import "time"

// Side is the aggressor side of a trade, or the direction of an order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Trade is one print off the tape. Timestamps are chronological with
// jitter up to a few seconds and duplicates are possible; callers must
// not assume strict ordering within a batch.
type Trade struct {
	TimestampMs int64
	Side        Side
	Price       float64
	Amount      float64
}

// Candle is an OHLCV bar. OpenTsMs is floored to the synthesis interval.
// Invariant: Low <= min(Open,Close) <= max(Open,Close) <= High, Volume >= 0.
type Candle struct {
	OpenTsMs int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Trend is the coarse directional label derived from nOFI.
type Trend string

const (
	Bullish Trend = "BULLISH"
	Bearish Trend = "BEARISH"
	Neutral Trend = "NEUTRAL"
)

// Status is the Imbalance Engine's per-tick headline.
type Status string

const (
	Monitoring     Status = "MONITORING"
	SignalDetected Status = "SIGNAL_DETECTED"
)

// MarketMetrics is the per-tick order-flow snapshot. Never persisted —
// recomputed from scratch every tick by the Imbalance Engine.
type MarketMetrics struct {
	NOFI         float64
	BuyVolume    float64
	SellVolume   float64
	Efficiency   float64
	VolumeZScore float64
	IsSignificant bool
	IsAbsorption  bool
	Trend        Trend
	Status       Status
}

// Strength labels a signal's conviction. The Sweep Hunter always emits HIGH.
type Strength string

const (
	StrengthHigh   Strength = "HIGH"
	StrengthMedium Strength = "MEDIUM"
	StrengthLow    Strength = "LOW"
)

// TradeSignal is a strategy's proposed trade, before risk has seen it.
type TradeSignal struct {
	Side        Side
	Strength    Strength
	Reason      string
	Price       float64
	StopLoss    float64
	TakeProfit  float64
	TimestampMs int64
	Metadata    map[string]any
}

// ValidatedOrder is what the Risk Gatekeeper hands to the broker.
// Invariant (buy): StopLoss < EntryPrice < TakeProfit; (sell): reversed.
type ValidatedOrder struct {
	Side         Side
	EntryPrice   float64
	StopLoss     float64
	TakeProfit   float64
	PositionSize float64
	Reason       string
	TimestampMs  int64
}

// NowMs is the single place the engine reads wall-clock time as
// milliseconds, so tests can substitute a fixed clock upstream of it.
func NowMs(t time.Time) int64 { return t.UnixMilli() }
