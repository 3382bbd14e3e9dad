package imbalance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rhizooai/sweepengine/internal/config"
	"github.com/rhizooai/sweepengine/internal/market"
)

func testCfg() config.Imbalance {
	return config.Imbalance{
		NOFIWindowSec:     60,
		VolumeWindowMin:   20,
		ZScoreThreshold:   2.0,
		AbsorptionNOFIMin: 0.4,
		AbsorptionEffMax:  1e-4,
		MaxBufferSize:     50_000,
	}
}

// S1 — nOFI basic, spec.md §8.
func TestComputeMetrics_S1Basic(t *testing.T) {
	now := time.UnixMilli(20_000 + 1000) // just after the last trade, inside the 60s window
	e := New(testCfg(), func() time.Time { return now })

	e.Push([]market.Trade{
		{TimestampMs: 0, Side: market.Buy, Price: 100, Amount: 1},
		{TimestampMs: 10_000, Side: market.Sell, Price: 100, Amount: 1},
		{TimestampMs: 20_000, Side: market.Buy, Price: 100, Amount: 2},
	})

	m := e.ComputeMetrics()
	require.InDelta(t, 3.0, m.BuyVolume, 1e-9)
	require.InDelta(t, 1.0, m.SellVolume, 1e-9)
	require.InDelta(t, 0.5, m.NOFI, 1e-9)
	require.Equal(t, market.Bullish, m.Trend)
	require.InDelta(t, 0.0, m.Efficiency, 1e-9)
}

func TestComputeMetrics_EmptyRingIsAllZero(t *testing.T) {
	e := New(testCfg(), nil)
	m := e.ComputeMetrics()
	require.Zero(t, m.NOFI)
	require.Equal(t, market.Neutral, m.Trend)
	require.Equal(t, market.Monitoring, m.Status)
}

func TestNOFI_BoundedAndZeroOnNoVolume(t *testing.T) {
	now := time.UnixMilli(5_000)
	e := New(testCfg(), func() time.Time { return now })
	m := e.ComputeMetrics()
	require.Zero(t, m.NOFI)

	e.Push([]market.Trade{{TimestampMs: 0, Side: market.Sell, Price: 50, Amount: 10}})
	m = e.ComputeMetrics()
	require.Equal(t, -1.0, m.NOFI)
	require.GreaterOrEqual(t, m.NOFI, -1.0)
	require.LessOrEqual(t, m.NOFI, 1.0)
}

func TestVolumeZScore_NeedsTwoBuckets(t *testing.T) {
	now := time.UnixMilli(30_000)
	e := New(testCfg(), func() time.Time { return now })
	e.Push([]market.Trade{
		{TimestampMs: 0, Side: market.Buy, Price: 100, Amount: 1},
		{TimestampMs: 1000, Side: market.Buy, Price: 100, Amount: 1},
	})
	m := e.ComputeMetrics()
	require.Zero(t, m.VolumeZScore)
}

func TestRingEvictsOldestFirst(t *testing.T) {
	cfg := testCfg()
	cfg.MaxBufferSize = 3
	now := time.UnixMilli(100_000)
	e := New(cfg, func() time.Time { return now })
	for i := int64(0); i < 5; i++ {
		e.Push([]market.Trade{{TimestampMs: i * 1000, Side: market.Buy, Price: 1, Amount: 1}})
	}
	require.Equal(t, 3, e.Size())
	// oldest two (ts=0,1000) should have been evicted; remaining window covers ts=2000..4000
	w := e.window(0)
	require.Len(t, w, 3)
	require.Equal(t, int64(2000), w[0].tsMs)
}

// Doubling a batch within a window that contains both pushes should double
// volumes while leaving the nOFI ratio identical (idempotence property from
// spec.md §8). Efficiency is not compared: it divides the price move by total
// volume, so it halves (0.5 for one push, 0.25 for two).
func TestDoublePush_ScalesVolumeNotRatios(t *testing.T) {
	now := time.UnixMilli(5_000)
	trades := []market.Trade{
		{TimestampMs: 0, Side: market.Buy, Price: 100, Amount: 1},
		{TimestampMs: 1000, Side: market.Sell, Price: 101, Amount: 1},
	}

	single := New(testCfg(), func() time.Time { return now })
	single.Push(trades)
	mSingle := single.ComputeMetrics()

	doubled := New(testCfg(), func() time.Time { return now })
	doubled.Push(trades)
	doubled.Push(trades)
	mDouble := doubled.ComputeMetrics()

	require.InDelta(t, mSingle.NOFI, mDouble.NOFI, 1e-9)
	require.InDelta(t, mSingle.BuyVolume*2, mDouble.BuyVolume, 1e-9)
}
