// Package telemetry implements the fire-and-forget event envelope (spec
// §6) and its sinks: Prometheus gauges, structured logs, and an optional
// Telegram push.
//
// Grounded on core/telemetry.py's envelope shape ({event, timestamp_ms,
// data}) and "never interrupts the trading loop, swallow and log-debug on
// failure" contract, and the teacher's metrics.go for the gauge/counter
// naming convention (registered once, updated by value).
package telemetry

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rhizooai/sweepengine/internal/config"
)

// EventType names one of the four telemetry envelopes (spec §6).
type EventType string

const (
	MarketPulse EventType = "MARKET_PULSE"
	LevelUpdate EventType = "LEVEL_UPDATE"
	SignalGen   EventType = "SIGNAL_GEN"
	TradeUpdate EventType = "TRADE_UPDATE"
)

// Event is the envelope every Publisher sink receives.
type Event struct {
	Type        EventType
	TimestampMs int64
	Data        map[string]any
}

// Publisher fans an Event out to every configured sink. Publish never
// returns an error: a sink failure is logged at debug level and otherwise
// ignored, matching the original's "never interrupts the trading loop".
type Publisher interface {
	Publish(Event)
}

var (
	gaugeNOFI = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sweepengine_nofi",
		Help: "Current normalized order-flow imbalance.",
	})
	gaugeVolumeZScore = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sweepengine_volume_zscore",
		Help: "Current 1-minute volume Z-score.",
	})
	gaugeATR = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sweepengine_atr",
		Help: "Current Average True Range.",
	})
	gaugePrice = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sweepengine_price",
		Help: "Last traded price.",
	})
	counterSignals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweepengine_signals_total",
		Help: "Sweep signals generated, by side.",
	}, []string{"side"})
	counterFills = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweepengine_fills_total",
		Help: "Closed trades, by result.",
	}, []string{"result"})
	gaugeBalance = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sweepengine_virtual_balance",
		Help: "Paper broker virtual balance.",
	})
)

func init() {
	prometheus.MustRegister(gaugeNOFI, gaugeVolumeZScore, gaugeATR, gaugePrice, counterSignals, counterFills, gaugeBalance)
}

// PrometheusSink updates the package-level gauges/counters from event data.
// Registered once via init(), like the teacher's metrics.go.
type PrometheusSink struct{}

func NewPrometheusSink() *PrometheusSink { return &PrometheusSink{} }

func (PrometheusSink) Publish(e Event) {
	switch e.Type {
	case MarketPulse:
		setGaugeFromFloat(gaugeNOFI, e.Data["nofi"])
		setGaugeFromFloat(gaugeVolumeZScore, e.Data["volume_zscore"])
		setGaugeFromFloat(gaugeATR, e.Data["atr"])
		setGaugeFromFloat(gaugePrice, e.Data["price"])
	case SignalGen:
		if side, ok := e.Data["side"].(string); ok {
			counterSignals.WithLabelValues(side).Inc()
		}
	case TradeUpdate:
		if result, ok := e.Data["result"].(string); ok {
			counterFills.WithLabelValues(result).Inc()
		}
		setGaugeFromFloat(gaugeBalance, e.Data["virtual_balance"])
	}
}

func setGaugeFromFloat(g prometheus.Gauge, v any) {
	if f, ok := v.(float64); ok {
		g.Set(f)
	}
}

// LogSink writes every event as a structured zap log line — the always-on
// sink, since telemetry must never block the drive loop on a missing
// external system.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink { return &LogSink{log: log} }

func (s *LogSink) Publish(e Event) {
	s.log.Debug("telemetry event",
		zap.String("event", string(e.Type)),
		zap.Int64("timestamp_ms", e.TimestampMs),
		zap.Any("data", e.Data),
	)
}

// TelegramSink pushes SIGNAL_GEN and TRADE_UPDATE events to a chat.
// Fire-and-forget: a send failure is logged at debug and otherwise ignored.
type TelegramSink struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *zap.Logger
}

// NewTelegramSink returns nil if cfg.Enabled is false or the bot API client
// can't be constructed — telemetry must never block startup.
func NewTelegramSink(cfg config.Telegram, log *zap.Logger) *TelegramSink {
	if !cfg.Enabled {
		return nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Warn("telegram sink disabled: bot init failed", zap.Error(err))
		return nil
	}
	return &TelegramSink{bot: bot, chatID: cfg.ChatID, log: log}
}

func (s *TelegramSink) Publish(e Event) {
	if s == nil {
		return
	}
	var text string
	switch e.Type {
	case SignalGen:
		text = fmt.Sprintf("sweep signal: %v", e.Data)
	case TradeUpdate:
		text = fmt.Sprintf("trade update: %v", e.Data)
	default:
		return
	}
	msg := tgbotapi.NewMessage(s.chatID, text)
	if _, err := s.bot.Send(msg); err != nil {
		s.log.Debug("telegram publish failed", zap.String("event", string(e.Type)), zap.Error(err))
	}
}

// Fanout broadcasts one Event to every configured sink, stamping the
// envelope's timestamp once (spec §6's {event, timestamp_ms, data} shape).
type Fanout struct {
	sinks []Publisher
}

// NewFanout builds a fanout over the given sinks, skipping any nil entries
// (e.g. a disabled TelegramSink).
func NewFanout(sinks ...Publisher) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s == nil || isNilTelegramSink(s) {
			continue
		}
		f.sinks = append(f.sinks, s)
	}
	return f
}

func isNilTelegramSink(p Publisher) bool {
	ts, ok := p.(*TelegramSink)
	return ok && ts == nil
}

func (f *Fanout) Publish(eventType EventType, now time.Time, data map[string]any) {
	e := Event{Type: eventType, TimestampMs: now.UnixMilli(), Data: data}
	for _, s := range f.sinks {
		s.Publish(e)
	}
}
