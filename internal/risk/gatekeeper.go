// Package risk implements the Risk Gatekeeper: the single capital-
// protection gate every TradeSignal must pass before it becomes a
// ValidatedOrder (spec §4.4).
//
// Grounded on core/risk_manager.py's RiskManager almost line-for-line
// (check order, day-rollover-at-UTC-midnight, process_signal's six-step
// validation), translated to a mutex-guarded gate struct with
// shopspring/decimal money math in the idiom of the risk-gate.go reference.
package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rhizooai/sweepengine/internal/config"
	"github.com/rhizooai/sweepengine/internal/market"
)

// Clock abstracts wall-clock now, including day rollover, for deterministic tests.
type Clock func() time.Time

// Gatekeeper owns all daily-tracking and circuit-breaker state exclusively;
// mutated only from the orchestrator's single drive loop. The mutex guards
// against the telemetry/API read paths that may inspect Snapshot concurrently.
type Gatekeeper struct {
	mu    sync.RWMutex
	cfg   config.Risk
	clock Clock

	volatilityHalted bool

	currentDay         string
	dailyPnL           float64
	consecutiveLosses  int
	dailyHalted        bool
}

// New constructs a Gatekeeper with a fresh daily tracker.
func New(cfg config.Risk, clock Clock) *Gatekeeper {
	if clock == nil {
		clock = time.Now
	}
	return &Gatekeeper{
		cfg:        cfg,
		clock:      clock,
		currentDay: todayUTC(clock()),
	}
}

func todayUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// checkDayRollover resets daily counters at 00:00 UTC. Caller must hold mu.
func (g *Gatekeeper) checkDayRollover() {
	today := todayUTC(g.clock())
	if today != g.currentDay {
		g.currentDay = today
		g.dailyPnL = 0
		g.consecutiveLosses = 0
		g.dailyHalted = false
	}
}

// UpdateMetrics ingests a MarketMetrics tick for the volatility circuit
// breaker (spec §4.4).
func (g *Gatekeeper) UpdateMetrics(m market.MarketMetrics) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkDayRollover()
	g.volatilityHalted = m.VolumeZScore >= g.cfg.MaxVolatilityZScore
}

// CalculatePositionSize applies fixed-fractional sizing, returns 0 when the
// size falls below the exchange minimum, and clamps it to no-leverage
// affordability.
func (g *Gatekeeper) CalculatePositionSize(entryPrice, stopLoss float64) float64 {
	riskDistance := absFloat(entryPrice - stopLoss)
	if riskDistance == 0 {
		return 0
	}

	riskAmount := g.cfg.AccountBalance * g.cfg.MaxAccountRiskPct
	size := riskAmount / riskDistance

	if size < g.cfg.MinOrderQty {
		return 0
	}

	maxSize := g.cfg.AccountBalance / entryPrice
	if size > maxSize {
		size = maxSize
	}

	return round8(size)
}

// ProcessSignal validates a TradeSignal against bid/ask and returns a
// ValidatedOrder, or nil with the rejection logged at debug level by the
// caller (spec: "every Risk Gatekeeper rejection returns None ... not an
// error"). Checks run in this exact order (spec §4.4):
//  1. Daily loss circuit breaker
//  2. Consecutive loss limit
//  3. Volatility circuit breaker
//  4. Slippage guard (spread check)
//  5. Stop-loss validity
//  6. Position sizing
func (g *Gatekeeper) ProcessSignal(signal market.TradeSignal, bid, ask float64) (*market.ValidatedOrder, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkDayRollover()

	// 1. Daily loss circuit breaker
	if g.dailyHalted {
		return nil, "daily circuit breaker active"
	}
	dailyLossLimit := g.cfg.AccountBalance * g.cfg.MaxDailyLossPct
	if g.dailyPnL <= -dailyLossLimit {
		g.dailyHalted = true
		return nil, "daily loss circuit breaker triggered"
	}

	// 2. Consecutive loss limit
	if g.consecutiveLosses >= g.cfg.MaxConsecutiveLoss {
		return nil, "consecutive loss limit reached"
	}

	// 3. Volatility circuit breaker
	if g.volatilityHalted {
		return nil, "volatility circuit breaker active"
	}

	// 4. Slippage guard
	if bid <= 0 || ask <= 0 {
		return nil, "invalid bid/ask"
	}
	midPrice := (bid + ask) / 2.0
	spreadPct := (ask - bid) / midPrice
	if spreadPct > g.cfg.MaxSpreadPct {
		return nil, "spread exceeds limit"
	}

	// 5. Stop-loss validity
	entryPrice := bid
	if signal.Side == market.Buy {
		entryPrice = ask
	}
	stopLoss := signal.StopLoss
	if stopLoss <= 0 {
		return nil, "no stop-loss provided"
	}
	if signal.Side == market.Buy && stopLoss >= entryPrice {
		return nil, "stop-loss on wrong side of entry for a buy"
	}
	if signal.Side == market.Sell && stopLoss <= entryPrice {
		return nil, "stop-loss on wrong side of entry for a sell"
	}

	riskDistance := absFloat(entryPrice - stopLoss)
	var takeProfit float64
	if signal.Side == market.Buy {
		takeProfit = entryPrice + riskDistance*g.cfg.RewardRiskRatio
	} else {
		takeProfit = entryPrice - riskDistance*g.cfg.RewardRiskRatio
	}

	// 6. Position sizing
	size := g.CalculatePositionSize(entryPrice, stopLoss)
	if size == 0 {
		return nil, "position size is zero or below minimum"
	}

	order := &market.ValidatedOrder{
		Side:         signal.Side,
		EntryPrice:   round8(entryPrice),
		StopLoss:     round8(stopLoss),
		TakeProfit:   round8(takeProfit),
		PositionSize: size,
		Reason:       signal.Reason,
		TimestampMs:  signal.TimestampMs,
	}
	return order, ""
}

// RecordFill folds a closed trade's PnL into the daily tracker and the
// consecutive-loss streak, re-checking the daily breaker afterward (spec
// §4.4: a loss that pushes daily PnL past the limit halts signals even
// before the next tick's ProcessSignal call).
func (g *Gatekeeper) RecordFill(pnl float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkDayRollover()

	g.dailyPnL += pnl
	if pnl < 0 {
		g.consecutiveLosses++
	} else {
		g.consecutiveLosses = 0
	}

	dailyLossLimit := g.cfg.AccountBalance * g.cfg.MaxDailyLossPct
	if g.dailyPnL <= -dailyLossLimit {
		g.dailyHalted = true
	}
}

// Snapshot is a read-only view of the gate's current state for telemetry.
type Snapshot struct {
	DailyPnL          float64
	ConsecutiveLosses int
	DailyHalted       bool
	VolatilityHalted  bool
}

func (g *Gatekeeper) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Snapshot{
		DailyPnL:          g.dailyPnL,
		ConsecutiveLosses: g.consecutiveLosses,
		DailyHalted:       g.dailyHalted,
		VolatilityHalted:  g.volatilityHalted,
	}
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// round8 rounds to 8 decimal places via shopspring/decimal, matching the
// original's round(x, 8) money-math invariant exactly (spec invariant #6).
func round8(x float64) float64 {
	d, _ := decimal.NewFromFloat(x).Round(8).Float64()
	return d
}
