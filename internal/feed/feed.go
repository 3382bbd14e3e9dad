// Package feed defines the trade-tape source contract and a concrete
// exchange-backed adapter (spec §1, §5). The engine's core never talks to
// an exchange SDK directly — only through TradeSource — so the orchestrator
// can be driven by a fake stream in tests.
//
// Grounded on core/exchange_client.py's ExchangeConfig/async-streaming
// contract and the teacher's live.go warmup-then-loop shape, translated to
// a push-based callback since go-binance/v2's websocket API is callback-
// driven rather than channel-driven at the library boundary.
package feed

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"

	"github.com/rhizooai/sweepengine/internal/market"
)

// TradeSource streams trades for a symbol until ctx is cancelled, invoking
// onTrade for every print. Run blocks; callers should invoke it from its own
// goroutine (or errgroup task).
type TradeSource interface {
	Run(ctx context.Context, symbol string, onTrade func(market.Trade)) error
}

// BinanceAdapter streams the public aggregate-trade websocket via
// go-binance/v2, reconnecting with exponential backoff on drop.
type BinanceAdapter struct {
	log           *zap.Logger
	maxReconnects int
}

// NewBinanceAdapter constructs an adapter capped at maxReconnects
// consecutive reconnect attempts before giving up (spec §5's "Timeouts":
// "base=2^retry seconds, capped at 5 retries").
func NewBinanceAdapter(log *zap.Logger, maxReconnects int) *BinanceAdapter {
	if maxReconnects <= 0 {
		maxReconnects = 5
	}
	return &BinanceAdapter{log: log, maxReconnects: maxReconnects}
}

// Run streams aggregate trades for symbol (e.g. "BTCUSDT"), reconnecting on
// every drop until ctx is cancelled or maxReconnects consecutive failures
// are hit without a single successful event.
func (a *BinanceAdapter) Run(ctx context.Context, symbol string, onTrade func(market.Trade)) error {
	retry := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		connected := make(chan struct{})
		var once bool

		wsHandler := func(event *binance.WsAggTradeEvent) {
			if !once {
				once = true
				close(connected)
			}
			price := parseFloatOrZero(event.Price)
			amount := parseFloatOrZero(event.Quantity)
			if price <= 0 || amount <= 0 {
				return // unparseable or non-positive print: not a valid trade
			}
			onTrade(market.Trade{
				TimestampMs: event.TradeTime,
				Side:        sideOf(event.IsBuyerMaker),
				Price:       price,
				Amount:      amount,
			})
		}
		errHandler := func(err error) {
			a.log.Warn("binance trade stream error", zap.String("symbol", symbol), zap.Error(err))
		}

		doneC, stopC, err := binance.WsAggTradeServe(symbol, wsHandler, errHandler)
		if err != nil {
			if !a.backoff(ctx, &retry) {
				return fmt.Errorf("feed: giving up on %s after %d reconnects: %w", symbol, a.maxReconnects, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return ctx.Err()
		case <-doneC:
			select {
			case <-connected:
				retry = 0 // the stream delivered events before dropping
			default:
			}
			if !a.backoff(ctx, &retry) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("feed: exceeded %d reconnects for %s", a.maxReconnects, symbol)
			}
			a.log.Warn("binance trade stream disconnected, reconnecting", zap.String("symbol", symbol), zap.Int("retry", retry))
		}
	}
}

// backoff sleeps base=2^retry seconds (capped at maxReconnects) and reports
// whether another attempt should be made.
func (a *BinanceAdapter) backoff(ctx context.Context, retry *int) bool {
	*retry++
	if *retry > a.maxReconnects {
		return false
	}
	wait := time.Duration(math.Pow(2, float64(*retry))) * time.Second
	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}

func sideOf(isBuyerMaker bool) market.Side {
	// Aggressor is the taker; if the buyer is the maker, the taker sold.
	if isBuyerMaker {
		return market.Sell
	}
	return market.Buy
}

func parseFloatOrZero(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
