package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rhizooai/sweepengine/internal/config"
	"github.com/rhizooai/sweepengine/internal/market"
)

func testCfg() config.Risk {
	return config.Risk{
		AccountBalance:      10000,
		MaxAccountRiskPct:   0.01,
		MaxDailyLossPct:     0.03,
		MaxConsecutiveLoss:  3,
		MaxVolatilityZScore: 4.0,
		MaxSpreadPct:        0.001,
		RewardRiskRatio:     2.0,
		MinOrderQty:         0.001,
	}
}

func buySignal(stopLoss float64) market.TradeSignal {
	return market.TradeSignal{Side: market.Buy, StopLoss: stopLoss, Reason: "test"}
}

// S4 — spread rejection, spec.md §8.
func TestProcessSignal_S4SpreadRejection(t *testing.T) {
	g := New(testCfg(), func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) })
	order, reason := g.ProcessSignal(buySignal(99500), 100, 100.5)
	require.Nil(t, order)
	require.Equal(t, "spread exceeds limit", reason)
}

// S5 — position sizing, spec.md §8.
func TestProcessSignal_S5PositionSizing(t *testing.T) {
	g := New(testCfg(), func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) })
	order, reason := g.ProcessSignal(buySignal(49500), 50000, 50000)
	require.Equal(t, "", reason)
	require.NotNil(t, order)
	require.InDelta(t, 0.2, order.PositionSize, 1e-9)
	require.InDelta(t, 51000, order.TakeProfit, 1e-9)
	require.InDelta(t, 50000, order.EntryPrice, 1e-9)
}

// S6 — daily loss breaker, spec.md §8.
func TestRecordFill_S6DailyLossBreaker(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := New(testCfg(), func() time.Time { return now })

	g.RecordFill(-150)
	g.RecordFill(-160)

	// daily PnL is -310 <= -300, so RecordFill has already latched the breaker
	order, reason := g.ProcessSignal(buySignal(49500), 50000, 50000)
	require.Nil(t, order)
	require.Equal(t, "daily circuit breaker active", reason)

	// rejections persist within the same UTC day
	order, reason = g.ProcessSignal(buySignal(49500), 50000, 50000)
	require.Nil(t, order)
	require.Equal(t, "daily circuit breaker active", reason)
}

func TestDayRollover_ResetsTracker(t *testing.T) {
	day1 := time.Date(2026, 1, 1, 23, 59, 0, 0, time.UTC)
	cur := day1
	g := New(testCfg(), func() time.Time { return cur })

	g.RecordFill(-150)
	g.RecordFill(-160)
	snap := g.Snapshot()
	require.True(t, snap.DailyHalted)

	cur = time.Date(2026, 1, 2, 0, 1, 0, 0, time.UTC)
	order, reason := g.ProcessSignal(buySignal(49500), 50000, 50000)
	require.Equal(t, "", reason)
	require.NotNil(t, order)

	snap = g.Snapshot()
	require.False(t, snap.DailyHalted)
	require.Equal(t, 0, snap.ConsecutiveLosses)
}

// Invariant #6: every ValidatedOrder is internally consistent.
func TestProcessSignal_OrderInvariant(t *testing.T) {
	g := New(testCfg(), func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) })
	order, reason := g.ProcessSignal(buySignal(49500), 50000, 50000)
	require.Equal(t, "", reason)

	require.Less(t, order.StopLoss, order.EntryPrice)
	require.Less(t, order.EntryPrice, order.TakeProfit)
	require.InDelta(t, g.cfg.RewardRiskRatio*absFloat(order.EntryPrice-order.StopLoss), absFloat(order.TakeProfit-order.EntryPrice), 1e-6)
	require.GreaterOrEqual(t, order.PositionSize, g.cfg.MinOrderQty)
	require.LessOrEqual(t, order.PositionSize, g.cfg.AccountBalance/order.EntryPrice)
}

// Invariant #7: consecutive_losses strictly increases on a loss, resets on a win.
func TestRecordFill_ConsecutiveLossesInvariant(t *testing.T) {
	g := New(testCfg(), func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) })
	g.RecordFill(-10)
	require.Equal(t, 1, g.Snapshot().ConsecutiveLosses)
	g.RecordFill(-10)
	require.Equal(t, 2, g.Snapshot().ConsecutiveLosses)
	g.RecordFill(50)
	require.Equal(t, 0, g.Snapshot().ConsecutiveLosses)
}

// Invariant #8: day rollover zeroes daily_pnl, consecutive_losses, daily_halted.
func TestCheckDayRollover_ZeroesTracker(t *testing.T) {
	cur := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	g := New(testCfg(), func() time.Time { return cur })
	g.RecordFill(-500)
	require.NotZero(t, g.Snapshot().DailyPnL)

	cur = time.Date(2026, 1, 2, 0, 0, 1, 0, time.UTC)
	g.UpdateMetrics(market.MarketMetrics{})
	snap := g.Snapshot()
	require.Zero(t, snap.DailyPnL)
	require.Zero(t, snap.ConsecutiveLosses)
	require.False(t, snap.DailyHalted)
}

func TestUpdateMetrics_VolatilityBreaker(t *testing.T) {
	g := New(testCfg(), func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) })
	g.UpdateMetrics(market.MarketMetrics{VolumeZScore: 5.0})
	order, reason := g.ProcessSignal(buySignal(49500), 50000, 50000)
	require.Nil(t, order)
	require.Equal(t, "volatility circuit breaker active", reason)

	g.UpdateMetrics(market.MarketMetrics{VolumeZScore: 1.0})
	order, reason = g.ProcessSignal(buySignal(49500), 50000, 50000)
	require.Equal(t, "", reason)
	require.NotNil(t, order)
}
