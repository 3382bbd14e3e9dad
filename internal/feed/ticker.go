package feed

import (
	"context"
	"fmt"

	"github.com/adshao/go-binance/v2"
)

// BinanceTicker fetches the current best bid/ask over REST (spec §6 "Input
// — ticker"), used by the Risk Gatekeeper's spread guard. Kept separate
// from BinanceAdapter since one is websocket-push and this is request/reply.
type BinanceTicker struct {
	client *binance.Client
}

// NewBinanceTicker builds a ticker against the public REST API; empty
// credentials are fine since book-ticker is an unauthenticated endpoint.
func NewBinanceTicker(apiKey, apiSecret string) *BinanceTicker {
	return &BinanceTicker{client: binance.NewClient(apiKey, apiSecret)}
}

// BidAsk implements orchestrator.Ticker.
func (t *BinanceTicker) BidAsk(ctx context.Context, symbol string) (float64, float64, error) {
	tickers, err := t.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("feed: book ticker for %s: %w", symbol, err)
	}
	if len(tickers) == 0 {
		return 0, 0, fmt.Errorf("feed: no book ticker returned for %s", symbol)
	}
	bid := parseFloatOrZero(tickers[0].BidPrice)
	ask := parseFloatOrZero(tickers[0].AskPrice)
	return bid, ask, nil
}
