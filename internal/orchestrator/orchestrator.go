// Package orchestrator wires every component together and drives the
// per-tick sequence (spec §4.6): push → compute metrics → update risk →
// monitor paper positions → check hunt → gate → execute, run once per
// incoming trade; a separate 5-second pulse only emits the dashboard and
// telemetry snapshot from the most recently computed state.
//
// Grounded on main.py's run() coroutine (the exact per-tick order) and the
// teacher's live.go loop shape, wired through golang.org/x/sync/errgroup for
// the cooperative drive+telemetry task split described in spec §5.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rhizooai/sweepengine/internal/api"
	"github.com/rhizooai/sweepengine/internal/broker"
	"github.com/rhizooai/sweepengine/internal/config"
	"github.com/rhizooai/sweepengine/internal/feed"
	"github.com/rhizooai/sweepengine/internal/imbalance"
	"github.com/rhizooai/sweepengine/internal/levels"
	"github.com/rhizooai/sweepengine/internal/market"
	"github.com/rhizooai/sweepengine/internal/risk"
	"github.com/rhizooai/sweepengine/internal/telemetry"
)

// Ticker fetches the current bid/ask on demand (spec §6 "Input — ticker").
type Ticker interface {
	BidAsk(ctx context.Context, symbol string) (bid, ask float64, err error)
}

// Engine wires all components together. The only state it owns directly is
// the latest-snapshot cache the pulse task reads — a single assignment per
// tick, matching spec §5's "a single assignment of a freshly built snapshot
// is sufficient to avoid races in a cooperative runtime".
type Engine struct {
	cfg    config.Config
	log    *zap.Logger
	source feed.TradeSource
	ticker Ticker

	imb     *imbalance.Engine
	lvl     *levels.Engine
	rg      *risk.Gatekeeper
	pb      *broker.PaperBroker
	monitor *broker.Monitor
	fanout  *telemetry.Fanout
	apiSrv  *api.Server

	mu        sync.Mutex
	lastPrice float64
	lastMetrics market.MarketMetrics
}

// New assembles an Engine from already-constructed components so that
// tests can substitute fakes for feed.TradeSource and Ticker. apiSrv may be
// nil (dashboard push disabled).
func New(cfg config.Config, log *zap.Logger, source feed.TradeSource, ticker Ticker, imb *imbalance.Engine, lvl *levels.Engine, rg *risk.Gatekeeper, pb *broker.PaperBroker, fanout *telemetry.Fanout, apiSrv *api.Server) *Engine {
	e := &Engine{
		cfg:     cfg,
		log:     log,
		source:  source,
		ticker:  ticker,
		imb:     imb,
		lvl:     lvl,
		rg:      rg,
		pb:      pb,
		monitor: broker.NewMonitor(pb),
		fanout:  fanout,
		apiSrv:  apiSrv,
	}
	if apiSrv != nil {
		apiSrv.SnapshotFunc = e.snapshot
	}
	return e
}

// snapshot builds the dashboard's current view from the mutex-cached
// last-tick state, mirroring what publishPulse sends to telemetry.
func (e *Engine) snapshot() api.Snapshot {
	e.mu.Lock()
	price, m := e.lastPrice, e.lastMetrics
	e.mu.Unlock()

	return api.Snapshot{
		Symbol:      e.cfg.Symbol,
		TimestampMs: time.Now().UnixMilli(),
		Price:       price,
		Metrics:     m,
		Levels:      e.lvl.Snapshot(),
		Broker:      e.pb.GetStats(),
	}
}

// Run drives the trade stream task and the telemetry-pulse task
// cooperatively (spec §5), returning when ctx is cancelled or the stream
// fails fatally (exceeds its reconnect budget).
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.source.Run(ctx, e.cfg.Symbol, func(t market.Trade) { e.OnTrade(ctx, t, time.Now()) })
	})

	g.Go(func() error {
		return e.runPulse(ctx)
	})

	return g.Wait()
}

// OnTrade runs the full per-tick gating sequence for one trade print (spec
// §4.6 steps 1-5): push into both rings, recompute metrics, update the risk
// gate's volatility breaker, monitor open paper positions, check the
// hunter, and gate+execute any resulting signal.
func (e *Engine) OnTrade(ctx context.Context, t market.Trade, now time.Time) {
	e.imb.Push([]market.Trade{t})
	e.lvl.PushTrade(t)

	m := e.imb.ComputeMetrics()
	e.rg.UpdateMetrics(m)

	e.mu.Lock()
	e.lastPrice = t.Price
	e.lastMetrics = m
	e.mu.Unlock()

	if e.cfg.PaperTrading {
		for _, ct := range e.monitor.CheckPositions(t.Price, now) {
			e.rg.RecordFill(ct.PnL)
			e.fanout.Publish(telemetry.TradeUpdate, now, map[string]any{
				"action": "EXIT", "id": ct.ID, "pair": ct.Pair, "side": string(ct.Side),
				"exit_price": ct.ExitPrice, "pnl": ct.PnL, "result": ct.Result,
				"virtual_balance": e.pb.GetStats().VirtualBalance,
			})
		}
	}

	result := e.lvl.CheckHunt(m.NOFI, e.cfg.Hunter)
	if result == nil {
		return
	}

	signal := market.TradeSignal{
		Side:        result.Side,
		Strength:    result.Strength,
		Reason:      "sweep_" + result.LevelName,
		Price:       t.Price,
		StopLoss:    result.WickExtreme,
		TakeProfit:  result.FibTP,
		TimestampMs: now.UnixMilli(),
	}
	e.fanout.Publish(telemetry.SignalGen, now, map[string]any{
		"side": string(signal.Side), "strength": string(signal.Strength),
		"price": signal.Price, "stop_loss": signal.StopLoss,
		"take_profit": signal.TakeProfit, "reason": signal.Reason,
	})

	bid, ask, err := e.ticker.BidAsk(ctx, e.cfg.Symbol)
	if err != nil {
		e.log.Warn("bid/ask fetch failed", zap.Error(err))
		return
	}

	order, reason := e.rg.ProcessSignal(signal, bid, ask)
	if order == nil {
		e.log.Debug("signal rejected", zap.String("reason", reason))
		return
	}
	if !e.cfg.PaperTrading || len(e.pb.ActivePositions()) > 0 {
		return
	}

	pos := e.pb.ExecuteOrder(*order, now)
	e.fanout.Publish(telemetry.TradeUpdate, now, map[string]any{
		"action": "ENTRY", "id": pos.ID, "pair": pos.Pair, "side": string(pos.Side),
		"entry_price": pos.EntryPrice,
	})
}

// runPulse emits a dashboard/telemetry snapshot every PulseInterval (spec
// §4.6 step 6) from the most recently computed metrics — it never
// recomputes anything itself.
func (e *Engine) runPulse(ctx context.Context) error {
	interval := e.cfg.PulseInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			e.publishPulse(now)
		}
	}
}

func (e *Engine) publishPulse(now time.Time) {
	e.mu.Lock()
	price, m := e.lastPrice, e.lastMetrics
	e.mu.Unlock()

	snap := e.lvl.Snapshot()

	e.fanout.Publish(telemetry.MarketPulse, now, map[string]any{
		"symbol": e.cfg.Symbol, "nofi": m.NOFI, "volume_zscore": m.VolumeZScore,
		"efficiency": m.Efficiency, "trend": string(m.Trend), "is_absorption": m.IsAbsorption,
		"price": price, "atr": snap.ATR,
	})
	e.fanout.Publish(telemetry.LevelUpdate, now, map[string]any{
		"symbol": e.cfg.Symbol, "h1_high": snap.H1High, "h1_low": snap.H1Low,
		"h4_high": snap.H4High, "h4_low": snap.H4Low, "hunt_summary": snap.HuntSummary,
	})

	if e.cfg.PaperTrading {
		bstats := e.pb.GetStats()
		e.log.Info("pulse",
			zap.Float64("price", price), zap.Float64("nofi", m.NOFI),
			zap.Int("active_positions", bstats.ActivePositions),
			zap.Float64("virtual_balance", bstats.VirtualBalance),
		)
	}

	if e.apiSrv != nil {
		e.apiSrv.Broadcast(e.snapshot())
	}
}
