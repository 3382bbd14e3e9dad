// Package imbalance implements the Imbalance Engine: a bounded FIFO ring of
// raw trades plus the sliding-window nOFI / efficiency / volume Z-score
// metrics computed from it every tick (spec §4.1).
//
// Grounded on data/processor.py's ImbalanceTracker — the window-by-walking-
// the-ring-backwards-until-cutoff algorithm, the 60s-bucket Z-score, and the
// absorption/trend derivation are all ported as-is, just without NumPy.
package imbalance

import (
	"math"
	"time"

	"github.com/rhizooai/sweepengine/internal/config"
	"github.com/rhizooai/sweepengine/internal/market"
)

// record is the internal ring entry: (timestamp_ms, is_buy, price, amount).
type record struct {
	tsMs   int64
	isBuy  bool
	price  float64
	amount float64
}

// Clock abstracts wall-clock "now" so tests can inject a fixed instant
// without the Imbalance Engine depending on trade-tape time (spec: "Uses
// wall-clock now, not tape time").
type Clock func() time.Time

// Engine owns the trade ring exclusively; it is mutated only by the
// orchestrator's single drive loop.
type Engine struct {
	cfg   config.Imbalance
	clock Clock

	buf   []record // ring storage
	head  int      // index of the oldest element
	count int      // number of valid elements
}

// New constructs an Engine with the given config and clock. A nil clock
// defaults to time.Now.
func New(cfg config.Imbalance, clock Clock) *Engine {
	if clock == nil {
		clock = time.Now
	}
	cap := cfg.MaxBufferSize
	if cap <= 0 {
		cap = 50_000
	}
	return &Engine{cfg: cfg, clock: clock, buf: make([]record, cap)}
}

// Size reports the number of trades currently buffered.
func (e *Engine) Size() int { return e.count }

// Push appends a batch of trades to the ring, evicting oldest-first once
// the ring is full. Amortized O(1) per trade.
func (e *Engine) Push(trades []market.Trade) {
	for _, t := range trades {
		e.push(record{tsMs: t.TimestampMs, isBuy: t.Side == market.Buy, price: t.Price, amount: t.Amount})
	}
}

func (e *Engine) push(r record) {
	n := len(e.buf)
	if n == 0 {
		return
	}
	if e.count < n {
		idx := (e.head + e.count) % n
		e.buf[idx] = r
		e.count++
		return
	}
	// full: overwrite the oldest slot and advance head (oldest-first eviction)
	e.buf[e.head] = r
	e.head = (e.head + 1) % n
}

// at returns the i-th element in chronological order, 0 = oldest.
func (e *Engine) at(i int) record {
	return e.buf[(e.head+i)%len(e.buf)]
}

// window returns the trades with tsMs >= cutoff, walking newest-to-oldest
// and stopping at the first entry below cutoff, then reversed back into
// chronological order — mirrors the Python _window()'s reversed-deque walk.
func (e *Engine) window(cutoffMs int64) []record {
	if e.count == 0 {
		return nil
	}
	var out []record
	for i := e.count - 1; i >= 0; i-- {
		r := e.at(i)
		if r.tsMs < cutoffMs {
			break
		}
		out = append(out, r)
	}
	// out is newest->oldest; reverse to chronological order
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}

// ComputeMetrics recomputes the full MarketMetrics snapshot from the current
// ring contents. Never errors: an empty ring yields all-zero metrics,
// trend NEUTRAL, status MONITORING (spec §4.1 "Failure").
func (e *Engine) ComputeMetrics() market.MarketMetrics {
	now := e.clock().UnixMilli()

	nofiWindow := e.window(now - int64(e.cfg.NOFIWindowSec)*1000)
	nofi, vBuy, vSell := computeNOFI(nofiWindow)
	efficiency := computeEfficiency(nofiWindow)
	zscore := e.computeVolumeZScore(now)

	isSignificant := zscore > e.cfg.ZScoreThreshold
	isAbsorption := absFloat(nofi) >= e.cfg.AbsorptionNOFIMin && absFloat(efficiency) <= e.cfg.AbsorptionEffMax

	trend := market.Neutral
	switch {
	case nofi > 0.3:
		trend = market.Bullish
	case nofi < -0.3:
		trend = market.Bearish
	}

	status := market.Monitoring
	if isSignificant {
		status = market.SignalDetected
	}

	return market.MarketMetrics{
		NOFI:          nofi,
		BuyVolume:     vBuy,
		SellVolume:    vSell,
		Efficiency:    efficiency,
		VolumeZScore:  zscore,
		IsSignificant: isSignificant,
		IsAbsorption:  isAbsorption,
		Trend:         trend,
		Status:        status,
	}
}

// computeNOFI returns (nOFI, buyVolume, sellVolume) for a chronological
// window. nOFI is 0 when total volume is 0 (spec invariant #1).
func computeNOFI(w []record) (nofi, vBuy, vSell float64) {
	for _, r := range w {
		if r.isBuy {
			vBuy += r.amount
		} else {
			vSell += r.amount
		}
	}
	total := vBuy + vSell
	if total == 0 {
		return 0, vBuy, vSell
	}
	return (vBuy - vSell) / total, vBuy, vSell
}

// computeEfficiency is (price_last - price_first) / total_volume over the
// window; 0 if fewer than 2 trades or zero volume.
func computeEfficiency(w []record) float64 {
	if len(w) < 2 {
		return 0
	}
	var totalVol float64
	for _, r := range w {
		totalVol += r.amount
	}
	if totalVol == 0 {
		return 0
	}
	return (w[len(w)-1].price - w[0].price) / totalVol
}

// computeVolumeZScore buckets the trailing volume-window trades into 1-
// minute bins keyed off the window's first timestamp, treats the most
// recent bucket (closed or not — see SPEC_FULL.md's open-question note,
// unless ClosedBucketsOnly is set) as "current", and Z-scores it against
// the mean/stdev (ddof=1) of the remaining buckets.
func (e *Engine) computeVolumeZScore(nowMs int64) float64 {
	w := e.window(nowMs - int64(e.cfg.VolumeWindowMin)*60*1000)
	if len(w) == 0 {
		return 0
	}

	const bucketMs = 60_000.0
	firstTs := w[0].tsMs
	maxBucket := int((w[len(w)-1].tsMs-firstTs)/int64(bucketMs)) + 1

	if e.cfg.ClosedBucketsOnly {
		// Drop a trailing partially-elapsed bucket by excluding trades
		// whose bucket equals the most recent one if it hasn't closed yet
		// relative to wall clock.
		lastBucketStart := firstTs + int64(maxBucket-1)*int64(bucketMs)
		if nowMs < lastBucketStart+int64(bucketMs) {
			maxBucket--
		}
		if maxBucket < 2 {
			return 0
		}
	}

	bucketVols := make([]float64, maxBucket)
	for _, r := range w {
		b := int((r.tsMs - firstTs) / int64(bucketMs))
		if b < 0 {
			b = 0
		}
		if b >= maxBucket {
			continue // only relevant when ClosedBucketsOnly trimmed the tail
		}
		bucketVols[b] += r.amount
	}

	if len(bucketVols) < 2 {
		return 0
	}

	current := bucketVols[len(bucketVols)-1]
	hist := bucketVols[:len(bucketVols)-1]

	mean := meanOf(hist)
	std := stdevOf(hist, mean)
	if std == 0 {
		return 0
	}
	return (current - mean) / std
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stdevOf computes the sample standard deviation (ddof=1), matching
// numpy.std(..., ddof=1). Returns 0 for fewer than 2 samples.
func stdevOf(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
