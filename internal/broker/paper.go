// Package broker implements the Paper Broker: simulated order fills with
// commission-shifted entry/exit, running PnL/drawdown bookkeeping, and a CSV
// trade log (spec §4.5).
//
// Grounded on core/paper_broker.py line-for-line (commission model, CSV
// columns, drawdown formula, profit-factor infinity case) and the teacher's
// broker_paper.go for the Go idiom: a mutex-guarded struct, google/uuid ids.
package broker

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rhizooai/sweepengine/internal/config"
	"github.com/rhizooai/sweepengine/internal/market"
)

const commissionPct = 0.0005 // 0.05% per side, matches core/paper_broker.py

var csvColumns = []string{"id", "timestamp", "pair", "side", "entry", "sl", "tp", "size", "exit_price", "pnl", "result"}

// Position is a currently open simulated trade.
type Position struct {
	ID           string
	TimestampMs  int64
	Pair         string
	Side         market.Side
	EntryPrice   float64
	StopLoss     float64
	TakeProfit   float64
	PositionSize float64
	Reason       string
}

// ClosedTrade is a Position after commission-adjusted exit and PnL settlement.
type ClosedTrade struct {
	Position
	ExitPrice     float64
	PnL           float64
	Result        string // "WIN" or "LOSS"
	ClosedAtMs    int64
}

// Stats is the broker's running performance summary (spec §4.5 "Outputs").
type Stats struct {
	WinRatePct       float64
	ProfitFactor     float64
	MaxDrawdownPct   float64
	TotalTrades      int
	NetPnL           float64
	VirtualBalance   float64
	ActivePositions  int
}

// PaperBroker owns active positions, the CSV trade log, and running stats
// exclusively; mutated only from the orchestrator's single drive loop.
type PaperBroker struct {
	mu sync.Mutex

	pair           string
	virtualBalance float64
	initialBalance float64
	csvPath        string

	active []Position

	closedCount   int
	wins          int
	grossWin      float64
	grossLoss     float64
	peakBalance   float64
	maxDrawdownPc float64
}

// New constructs a PaperBroker and writes the CSV header if the file is new.
func New(cfg config.Broker) *PaperBroker {
	b := &PaperBroker{
		pair:           cfg.Pair,
		virtualBalance: cfg.VirtualBalance,
		initialBalance: cfg.VirtualBalance,
		csvPath:        cfg.CSVPath,
		peakBalance:    cfg.VirtualBalance,
	}
	b.ensureCSVHeader()
	return b
}

func (b *PaperBroker) ensureCSVHeader() {
	if b.csvPath == "" {
		return
	}
	if _, err := os.Stat(b.csvPath); err == nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(b.csvPath), 0o755); err != nil {
		return
	}
	f, err := os.Create(b.csvPath)
	if err != nil {
		return
	}
	defer f.Close()
	w := csv.NewWriter(f)
	_ = w.Write(csvColumns)
	w.Flush()
}

// ExecuteOrder simulates a fill: entry is shifted by commissionPct against
// the trader (up for buys, down for sells), then rounded to 8 decimals.
func (b *PaperBroker) ExecuteOrder(order market.ValidatedOrder, now time.Time) Position {
	entry := order.EntryPrice
	if order.Side == market.Buy {
		entry *= 1 + commissionPct
	} else {
		entry *= 1 - commissionPct
	}
	entry = round8(entry)

	ts := order.TimestampMs
	if ts == 0 {
		ts = now.UnixMilli()
	}

	pos := Position{
		ID:           uuid.New().String()[:8],
		TimestampMs:  ts,
		Pair:         b.pair,
		Side:         order.Side,
		EntryPrice:   entry,
		StopLoss:     order.StopLoss,
		TakeProfit:   order.TakeProfit,
		PositionSize: order.PositionSize,
		Reason:       order.Reason,
	}

	b.mu.Lock()
	b.active = append(b.active, pos)
	b.mu.Unlock()

	return pos
}

// ActivePositions returns a snapshot copy of currently open positions.
func (b *PaperBroker) ActivePositions() []Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Position, len(b.active))
	copy(out, b.active)
	return out
}

// ClosePosition applies exit commission, settles PnL, updates balance,
// drawdown and profit-factor accumulators, removes the position from the
// active list, and appends a CSV row.
func (b *PaperBroker) ClosePosition(position Position, exitPrice float64, result string, now time.Time) ClosedTrade {
	var adjustedExit float64
	if position.Side == market.Buy {
		adjustedExit = exitPrice * (1 - commissionPct)
	} else {
		adjustedExit = exitPrice * (1 + commissionPct)
	}
	adjustedExit = round8(adjustedExit)

	var pnl float64
	if position.Side == market.Buy {
		pnl = (adjustedExit - position.EntryPrice) * position.PositionSize
	} else {
		pnl = (position.EntryPrice - adjustedExit) * position.PositionSize
	}
	pnl = round8(pnl)

	ct := ClosedTrade{
		Position:   position,
		ExitPrice:  adjustedExit,
		PnL:        pnl,
		Result:     result,
		ClosedAtMs: now.UnixMilli(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	filtered := b.active[:0]
	for _, p := range b.active {
		if p.ID != position.ID {
			filtered = append(filtered, p)
		}
	}
	b.active = filtered

	b.virtualBalance += pnl
	b.closedCount++
	if pnl >= 0 {
		b.grossWin += pnl
		b.wins++
	} else {
		b.grossLoss += -pnl
	}

	if b.virtualBalance > b.peakBalance {
		b.peakBalance = b.virtualBalance
	}
	ddPct := 0.0
	if b.peakBalance > 0 {
		ddPct = (b.peakBalance - b.virtualBalance) / b.peakBalance * 100
	}
	if ddPct > b.maxDrawdownPc {
		b.maxDrawdownPc = ddPct
	}

	b.writeCSVRow(ct)

	return ct
}

func (b *PaperBroker) writeCSVRow(ct ClosedTrade) {
	if b.csvPath == "" {
		return
	}
	f, err := os.OpenFile(b.csvPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	w := csv.NewWriter(f)
	_ = w.Write([]string{
		ct.ID,
		strconv.FormatInt(ct.TimestampMs, 10),
		ct.Pair,
		string(ct.Side),
		strconv.FormatFloat(ct.EntryPrice, 'f', -1, 64),
		strconv.FormatFloat(ct.StopLoss, 'f', -1, 64),
		strconv.FormatFloat(ct.TakeProfit, 'f', -1, 64),
		strconv.FormatFloat(ct.PositionSize, 'f', -1, 64),
		strconv.FormatFloat(ct.ExitPrice, 'f', -1, 64),
		strconv.FormatFloat(ct.PnL, 'f', -1, 64),
		ct.Result,
	})
	w.Flush()
}

// GetStats returns the broker's running performance summary.
func (b *PaperBroker) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	winRate := 0.0
	if b.closedCount > 0 {
		winRate = float64(b.wins) / float64(b.closedCount) * 100
	}

	profitFactor := 0.0
	switch {
	case b.grossLoss > 0:
		profitFactor = b.grossWin / b.grossLoss
	case b.grossWin > 0:
		profitFactor = math.Inf(1)
	}

	if !math.IsInf(profitFactor, 1) {
		profitFactor = round2(profitFactor)
	}

	return Stats{
		WinRatePct:      round2(winRate),
		ProfitFactor:    profitFactor,
		MaxDrawdownPct:  round2(b.maxDrawdownPc),
		TotalTrades:     b.closedCount,
		NetPnL:          round2(b.virtualBalance - b.initialBalance),
		VirtualBalance:  round2(b.virtualBalance),
		ActivePositions: len(b.active),
	}
}

func round8(x float64) float64 {
	d, _ := decimal.NewFromFloat(x).Round(8).Float64()
	return d
}

func round2(x float64) float64 {
	d, _ := decimal.NewFromFloat(x).Round(2).Float64()
	return d
}
