// Command sweepengine runs the liquidity-sweep detection and trade-gating
// engine (spec §1 overview): streams the trade tape, tracks order-flow
// imbalance and H1/H4 levels, hunts stop-sweeps, gates signals through risk,
// and paper-trades the result — serving a dashboard snapshot over HTTP/WS.
//
// Boot sequence (spec §6 "CLI"), mirroring the teacher's main.go shape:
//  1. flag.Parse()           — read -symbol
//  2. config.Load(symbol)    — env → typed Config
//  3. logging.New(cfg)       — process-wide zap logger
//  4. wire imbalance/levels/risk/broker/feed/telemetry/api
//  5. start the API server in the background
//  6. orchestrator.Run(ctx) — blocks until SIGINT/SIGTERM or a fatal feed error
//  7. graceful shutdown of the API server
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rhizooai/sweepengine/internal/api"
	"github.com/rhizooai/sweepengine/internal/broker"
	"github.com/rhizooai/sweepengine/internal/config"
	"github.com/rhizooai/sweepengine/internal/feed"
	"github.com/rhizooai/sweepengine/internal/imbalance"
	"github.com/rhizooai/sweepengine/internal/levels"
	"github.com/rhizooai/sweepengine/internal/logging"
	"github.com/rhizooai/sweepengine/internal/market"
	"github.com/rhizooai/sweepengine/internal/orchestrator"
	"github.com/rhizooai/sweepengine/internal/risk"
	"github.com/rhizooai/sweepengine/internal/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	var symbol string
	flag.StringVar(&symbol, "symbol", "BTC/USDT", "Trading pair, e.g. BTC/USDT")
	flag.Parse()

	cfg := config.Load(symbol)
	log := logging.New(logging.Config{Level: cfg.LogLevel, LogDir: cfg.LogDir, Console: true})
	defer log.Sync()

	imb := imbalance.New(cfg.Imbalance, nil)
	lvl := levels.New(cfg.Levels, nil)
	rg := risk.New(cfg.Risk, nil)
	pb := broker.New(cfg.Broker)

	fanout := telemetry.NewFanout(
		telemetry.NewLogSink(log),
		telemetry.NewPrometheusSink(),
		telemetry.NewTelegramSink(cfg.Telegram, log),
	)

	binanceSymbol := strings.ReplaceAll(cfg.Symbol, "/", "")
	source := feed.NewBinanceAdapter(log, cfg.MaxReconnects)
	ticker := feed.NewBinanceTicker("", "")

	apiSrv := api.New(log, cfg.HTTPAddr)
	eng := orchestrator.New(cfg, log, &symbolTradeSource{inner: source, symbol: binanceSymbol}, &symbolTicker{inner: ticker, symbol: binanceSymbol}, imb, lvl, rg, pb, fanout, apiSrv)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := apiSrv.Start(); err != nil {
			log.Error("api server stopped", zap.Error(err))
		}
	}()

	err := eng.Run(ctx)

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = apiSrv.Stop(shutdownCtx)

	if err != nil && err != context.Canceled {
		log.Error("engine stopped with error", zap.Error(err))
		return 1
	}
	return 0
}

// symbolTradeSource pins the adapter to the configured symbol so
// orchestrator.Engine doesn't need to know the exchange's naming scheme
// ("BTC/USDT" vs Binance's "BTCUSDT") — it always passes cfg.Symbol through,
// which this wrapper substitutes for the exchange-native form.
type symbolTradeSource struct {
	inner  feed.TradeSource
	symbol string
}

func (s *symbolTradeSource) Run(ctx context.Context, _ string, onTrade func(t market.Trade)) error {
	return s.inner.Run(ctx, s.symbol, onTrade)
}

// symbolTicker does the same symbol substitution for BidAsk lookups.
type symbolTicker struct {
	inner  orchestrator.Ticker
	symbol string
}

func (s *symbolTicker) BidAsk(ctx context.Context, _ string) (float64, float64, error) {
	return s.inner.BidAsk(ctx, s.symbol)
}
