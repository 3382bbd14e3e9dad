// Package levels implements the Level Engine: incremental 1-minute candle
// synthesis from the trade tape, rolling H1/H4 extremes and ATR recomputed
// on every candle close, and single ownership of the four per-level stop-
// hunt state machines (spec §4.2).
//
// Grounded on data/processor.py's LevelTracker (candle bucket-flooring,
// true-range ATR, level refresh-only-while-scanning policy) and
// strategies/liquidity_sweep.py's check_hunt(nofi) entry point.
package levels

import (
	"fmt"
	"time"

	"github.com/rhizooai/sweepengine/internal/config"
	"github.com/rhizooai/sweepengine/internal/market"
	"github.com/rhizooai/sweepengine/internal/sweep"
)

// Clock abstracts wall-clock now for the hunter ticks.
type Clock func() time.Time

const (
	nameH1High = "H1_High"
	nameH1Low  = "H1_Low"
	nameH4High = "H4_High"
	nameH4Low  = "H4_Low"
)

// LevelInfo is the aggregate snapshot returned by Snapshot — supplements the
// spec's level_info() with a human-readable summary for the dashboard pulse.
type LevelInfo struct {
	Price           float64
	H1High          float64
	H1Low           float64
	H4High          float64
	H4Low           float64
	H1HighDistPct   float64
	H1LowDistPct    float64
	H4HighDistPct   float64
	H4LowDistPct    float64
	ATR             float64
	HuntSummary     string
}

// Engine owns the candle ring and the four level states exclusively;
// mutated only from the orchestrator's single drive loop.
type Engine struct {
	cfg   config.Levels
	clock Clock

	candles    []market.Candle // bounded ring, oldest first
	current    *market.Candle
	lastPrice  float64
	atr        float64

	h1High, h1Low, h4High, h4Low *sweep.LevelState
}

// New constructs a Level Engine with four scanning level states.
func New(cfg config.Levels, clock Clock) *Engine {
	if clock == nil {
		clock = time.Now
	}
	window := cfg.CandleWindow
	if window <= 0 {
		window = 240
	}
	return &Engine{
		cfg:     cfg,
		clock:   clock,
		candles: make([]market.Candle, 0, window),
		h1High:  sweep.NewLevelState(nameH1High, true),
		h1Low:   sweep.NewLevelState(nameH1Low, false),
		h4High:  sweep.NewLevelState(nameH4High, true),
		h4Low:   sweep.NewLevelState(nameH4Low, false),
	}
}

// PushTrade folds one trade into the in-progress candle, finalizing and
// recomputing levels on a bucket rollover (spec §4.2's candle synthesis).
func (e *Engine) PushTrade(t market.Trade) {
	e.lastPrice = t.Price
	intervalMs := int64(e.cfg.CandleIntervalSec) * 1000
	if intervalMs <= 0 {
		intervalMs = 60_000
	}
	bucket := (t.TimestampMs / intervalMs) * intervalMs

	if e.current == nil || bucket != e.current.OpenTsMs {
		e.finalizeCurrent()
		e.current = &market.Candle{
			OpenTsMs: bucket,
			Open:     t.Price,
			High:     t.Price,
			Low:      t.Price,
			Close:    t.Price,
			Volume:   t.Amount,
		}
		return
	}

	if t.Price > e.current.High {
		e.current.High = t.Price
	}
	if t.Price < e.current.Low {
		e.current.Low = t.Price
	}
	e.current.Close = t.Price
	e.current.Volume += t.Amount
}

// CurrentCandle returns the in-progress (unfinalized) candle, or false if
// no trade has arrived yet.
func (e *Engine) CurrentCandle() (market.Candle, bool) {
	if e.current == nil {
		return market.Candle{}, false
	}
	return *e.current, true
}

// finalizeCurrent appends the in-progress candle to the bounded ring
// (evicting the oldest on overflow) and recomputes levels + ATR.
func (e *Engine) finalizeCurrent() {
	if e.current == nil {
		return
	}
	if len(e.candles) == cap(e.candles) && cap(e.candles) > 0 {
		copy(e.candles, e.candles[1:])
		e.candles = e.candles[:len(e.candles)-1]
	}
	e.candles = append(e.candles, *e.current)
	e.current = nil
	e.recompute()
}

// recompute refreshes H1/H4 extremes, ATR, and — only for level states
// currently SCANNING — the level/opposite prices (spec §4.2's refresh
// policy: "active hunts pin their level to prevent mid-flight re-targeting").
func (e *Engine) recompute() {
	if len(e.candles) == 0 {
		return
	}

	h4High, h4Low := extremesOf(e.candles)

	lookback := e.cfg.H1LookbackCandles
	if lookback <= 0 || lookback > len(e.candles) {
		lookback = len(e.candles)
	}
	h1High, h1Low := extremesOf(e.candles[len(e.candles)-lookback:])

	e.atr = computeATR(e.candles, e.cfg.ATRPeriod)

	refreshIfScanning(e.h1High, h1High, h1Low)
	refreshIfScanning(e.h1Low, h1Low, h1High)
	refreshIfScanning(e.h4High, h4High, h4Low)
	refreshIfScanning(e.h4Low, h4Low, h4High)
}

func refreshIfScanning(ls *sweep.LevelState, levelPrice, oppositePrice float64) {
	if ls.State != sweep.Scanning {
		return
	}
	ls.LevelPrice = levelPrice
	ls.OppositePrice = oppositePrice
}

func extremesOf(candles []market.Candle) (high, low float64) {
	high, low = candles[0].High, candles[0].Low
	for _, c := range candles[1:] {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	return high, low
}

// computeATR averages true range over the last `period` candles. The first
// candle's prior close is seeded to its own open — a quirk of the source
// implementation preserved deliberately (it slightly dampens the first TR).
func computeATR(candles []market.Candle, period int) float64 {
	if period <= 0 || period > len(candles) {
		period = len(candles)
	}
	if period == 0 {
		return 0
	}
	window := candles[len(candles)-period:]

	prevClose := window[0].Open
	var sum float64
	for _, c := range window {
		hl := c.High - c.Low
		hc := absFloat(c.High - prevClose)
		lc := absFloat(c.Low - prevClose)
		tr := hl
		if hc > tr {
			tr = hc
		}
		if lc > tr {
			tr = lc
		}
		sum += tr
		prevClose = c.Close
	}
	return sum / float64(len(window))
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// CheckHunt advances the level state machines by one tick in fixed order
// (H1_High, H1_Low, H4_High, H4_Low) and returns the first confirmed result.
// Levels after the confirming one are not ticked on this call; they continue
// advancing their own state on the next tick.
func (e *Engine) CheckHunt(nofi float64, cfg config.Hunter) *sweep.SweepResult {
	now := e.clock()
	for _, ls := range []*sweep.LevelState{e.h1High, e.h1Low, e.h4High, e.h4Low} {
		if res := sweep.Tick(ls, e.lastPrice, nofi, now, cfg); res != nil {
			return res
		}
	}
	return nil
}

// Snapshot builds the level_info() aggregate view for telemetry/dashboard.
func (e *Engine) Snapshot() LevelInfo {
	distPct := func(level float64) float64 {
		if e.lastPrice == 0 {
			return 0
		}
		return (level - e.lastPrice) / e.lastPrice * 100
	}

	return LevelInfo{
		Price:         e.lastPrice,
		H1High:        e.h1High.LevelPrice,
		H1Low:         e.h1Low.LevelPrice,
		H4High:        e.h4High.LevelPrice,
		H4Low:         e.h4Low.LevelPrice,
		H1HighDistPct: distPct(e.h1High.LevelPrice),
		H1LowDistPct:  distPct(e.h1Low.LevelPrice),
		H4HighDistPct: distPct(e.h4High.LevelPrice),
		H4LowDistPct:  distPct(e.h4Low.LevelPrice),
		ATR:           e.atr,
		HuntSummary:   e.huntSummary(),
	}
}

func (e *Engine) huntSummary() string {
	active := 0
	for _, ls := range []*sweep.LevelState{e.h1High, e.h1Low, e.h4High, e.h4Low} {
		if ls.State != sweep.Scanning {
			active++
		}
	}
	if active == 0 {
		return "idle"
	}
	return fmt.Sprintf("%d level(s) hunting", active)
}
