// Package sweep implements the per-level stop-hunt state machine (spec
// §4.3): SCANNING -> SWEEPING -> CONFIRMING -> COOLDOWN -> SCANNING, run in
// parallel for four levels (H1_High, H1_Low, H4_High, H4_Low).
//
// The Level Engine (internal/levels) owns the four LevelState instances and
// calls Tick once per level per orchestrator tick; this package holds only
// the pure transition logic, no I/O, no shared state across levels.
package sweep

import (
	"time"

	"github.com/rhizooai/sweepengine/internal/config"
	"github.com/rhizooai/sweepengine/internal/market"
)

// State is a level's current stop-hunt phase.
type State string

const (
	Scanning   State = "SCANNING"
	Sweeping   State = "SWEEPING"
	Confirming State = "CONFIRMING"
	Cooldown   State = "COOLDOWN"
)

// LevelState is the per-level state machine record (spec §3). LevelPrice
// and OppositePrice are refreshed by the Level Engine only while State is
// Scanning — this package never mutates them, only reads.
type LevelState struct {
	Name            string
	IsHigh          bool
	State           State
	LevelPrice      float64
	OppositePrice   float64
	WickExtreme     float64
	SweepStartMs    int64
	CooldownUntilMs int64
}

// NewLevelState returns a fresh level state, scanning from the start.
func NewLevelState(name string, isHigh bool) *LevelState {
	return &LevelState{Name: name, IsHigh: isHigh, State: Scanning}
}

// SweepResult is emitted once a level's hunt confirms (spec §3). Immutable.
type SweepResult struct {
	Side        market.Side
	Strength    market.Strength
	LevelName   string
	LevelPrice  float64
	WickExtreme float64
	FibTP       float64
	RangeHigh   float64
	RangeLow    float64
}

// Tick advances one level's state machine by one orchestrator tick and
// returns a SweepResult only on the tick a hunt confirms. cfg.BufferZonePct
// is applied against the current price every tick (not the level price —
// spec §9 preserves this deliberately).
func Tick(ls *LevelState, price, nofi float64, now time.Time, cfg config.Hunter) *SweepResult {
	nowMs := now.UnixMilli()
	buf := price * cfg.BufferZonePct
	sweepTimeoutMs := int64(cfg.SweepTimeoutSec) * 1000
	confirmTimeoutMs := int64(cfg.ConfirmTimeoutSec) * 1000
	cooldownMs := int64(cfg.CooldownSec) * 1000

	if ls.IsHigh {
		return tickHigh(ls, price, nofi, nowMs, buf, sweepTimeoutMs, confirmTimeoutMs, cooldownMs, cfg.NOFIThreshold)
	}
	return tickLow(ls, price, nofi, nowMs, buf, sweepTimeoutMs, confirmTimeoutMs, cooldownMs, cfg.NOFIThreshold)
}

func tickHigh(ls *LevelState, price, nofi float64, nowMs int64, buf float64, sweepTimeout, confirmTimeout, cooldown int64, nofiThreshold float64) *SweepResult {
	switch ls.State {
	case Scanning:
		if price > ls.LevelPrice+buf {
			ls.State = Sweeping
			ls.SweepStartMs = nowMs
			ls.WickExtreme = price
		}
	case Sweeping:
		if nowMs-ls.SweepStartMs > sweepTimeout {
			ls.State = Scanning
			return nil
		}
		if price > ls.WickExtreme {
			ls.WickExtreme = price
			return nil
		}
		if price < ls.LevelPrice {
			ls.State = Confirming
		}
	case Confirming:
		if nowMs-ls.SweepStartMs > sweepTimeout+confirmTimeout {
			ls.State = Scanning
			return nil
		}
		if price > ls.LevelPrice+buf {
			ls.State = Sweeping
			ls.WickExtreme = price
			return nil
		}
		if nofi <= -nofiThreshold {
			ls.State = Cooldown
			ls.CooldownUntilMs = nowMs + cooldown
			return buildResult(ls, market.Sell)
		}
	case Cooldown:
		if nowMs >= ls.CooldownUntilMs {
			ls.State = Scanning
		}
	}
	return nil
}

func tickLow(ls *LevelState, price, nofi float64, nowMs int64, buf float64, sweepTimeout, confirmTimeout, cooldown int64, nofiThreshold float64) *SweepResult {
	switch ls.State {
	case Scanning:
		if price < ls.LevelPrice-buf {
			ls.State = Sweeping
			ls.SweepStartMs = nowMs
			ls.WickExtreme = price
		}
	case Sweeping:
		if nowMs-ls.SweepStartMs > sweepTimeout {
			ls.State = Scanning
			return nil
		}
		if price < ls.WickExtreme {
			ls.WickExtreme = price
			return nil
		}
		if price > ls.LevelPrice {
			ls.State = Confirming
		}
	case Confirming:
		if nowMs-ls.SweepStartMs > sweepTimeout+confirmTimeout {
			ls.State = Scanning
			return nil
		}
		if price < ls.LevelPrice-buf {
			ls.State = Sweeping
			ls.WickExtreme = price
			return nil
		}
		if nofi >= nofiThreshold {
			ls.State = Cooldown
			ls.CooldownUntilMs = nowMs + cooldown
			return buildResult(ls, market.Buy)
		}
	case Cooldown:
		if nowMs >= ls.CooldownUntilMs {
			ls.State = Scanning
		}
	}
	return nil
}

// buildResult computes the Fibonacci take-profit from the swept range and
// assembles the immutable SweepResult (spec §4.3).
func buildResult(ls *LevelState, side market.Side) *SweepResult {
	rangeHigh := ls.LevelPrice
	rangeLow := ls.OppositePrice
	if ls.OppositePrice > ls.LevelPrice {
		rangeHigh = ls.OppositePrice
		rangeLow = ls.LevelPrice
	}
	fibTP := rangeLow + 0.5*(rangeHigh-rangeLow)

	return &SweepResult{
		Side:        side,
		Strength:    market.StrengthHigh,
		LevelName:   ls.Name,
		LevelPrice:  ls.LevelPrice,
		WickExtreme: ls.WickExtreme,
		FibTP:       fibTP,
		RangeHigh:   rangeHigh,
		RangeLow:    rangeLow,
	}
}
