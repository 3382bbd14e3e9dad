// Package config builds the engine's runtime configuration once at startup
// from a .env file plus the process environment, and hands back a typed,
// immutable Config passed by value to every component. No component
// reads os.Getenv itself (design note: "replace global env-var config with
// an explicit configuration struct built once at startup").
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Imbalance holds the Imbalance Engine's configuration (spec §4.1).
type Imbalance struct {
	NOFIWindowSec      int
	VolumeWindowMin    int
	ZScoreThreshold    float64
	AbsorptionNOFIMin  float64
	AbsorptionEffMax   float64
	MaxBufferSize      int
	ClosedBucketsOnly  bool // open question: default false preserves legacy behavior
}

// Levels holds the Level Engine's configuration (spec §4.2).
type Levels struct {
	CandleIntervalSec int
	CandleWindow      int
	H1LookbackCandles int
	ATRPeriod         int
}

// Hunter holds the Sweep Hunter's configuration (spec §4.3).
type Hunter struct {
	BufferZonePct     float64
	NOFIThreshold     float64
	SweepTimeoutSec   int
	ConfirmTimeoutSec int
	CooldownSec       int
}

// Risk holds the Risk Gatekeeper's configuration (spec §4.4).
type Risk struct {
	AccountBalance      float64
	MaxAccountRiskPct   float64
	MaxDailyLossPct     float64
	MaxConsecutiveLoss  int
	MaxVolatilityZScore float64
	MaxSpreadPct        float64
	RewardRiskRatio     float64
	MinOrderQty         float64
}

// Broker holds the Paper Broker's configuration (spec §4.5).
type Broker struct {
	Pair            string
	VirtualBalance  float64
	CommissionPct   float64
	CSVPath         string
}

// Telegram is the optional telemetry sink's configuration.
type Telegram struct {
	BotToken string
	ChatID   int64
	Enabled  bool
}

// Config is the full, immutable engine configuration.
type Config struct {
	Symbol         string
	PaperTrading   bool
	PulseInterval  time.Duration
	OHLCVRefresh   time.Duration
	MaxReconnects  int

	Imbalance Imbalance
	Levels    Levels
	Hunter    Hunter
	Risk      Risk
	Broker    Broker
	Telegram  Telegram

	LogDir   string
	LogLevel string
	HTTPAddr string
}

// Load reads ./.env (if present) then binds typed env vars with the spec's
// defaults, mirroring the teacher's loadConfigFromEnv but via viper instead
// of a hand-rolled getEnv* family.
func Load(symbol string) Config {
	_ = godotenv.Load() // best-effort; absent .env is not an error

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("PAPER_TRADING", true)
	v.SetDefault("ACCOUNT_BALANCE", 10000.0)
	v.SetDefault("PAPER_BALANCE", 10000.0)
	v.SetDefault("ZSCORE_THRESHOLD", 2.0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_DIR", "logs")
	v.SetDefault("HTTP_ADDR", ":8090")
	v.SetDefault("MAX_RECONNECTS", 5)
	v.SetDefault("PULSE_INTERVAL_SEC", 5)
	v.SetDefault("OHLCV_REFRESH_MIN", 15)
	v.SetDefault("CLOSED_BUCKETS_ONLY", false)
	v.SetDefault("TELEGRAM_ENABLED", false)
	v.SetDefault("TELEGRAM_CHAT_ID", 0)

	cfg := Config{
		Symbol:        symbol,
		PaperTrading:  v.GetBool("PAPER_TRADING"),
		PulseInterval: time.Duration(v.GetInt("PULSE_INTERVAL_SEC")) * time.Second,
		OHLCVRefresh:  time.Duration(v.GetInt("OHLCV_REFRESH_MIN")) * time.Minute,
		MaxReconnects: v.GetInt("MAX_RECONNECTS"),

		Imbalance: Imbalance{
			NOFIWindowSec:     60,
			VolumeWindowMin:   20,
			ZScoreThreshold:   v.GetFloat64("ZSCORE_THRESHOLD"),
			AbsorptionNOFIMin: 0.4,
			AbsorptionEffMax:  1e-4,
			MaxBufferSize:     50_000,
			ClosedBucketsOnly: v.GetBool("CLOSED_BUCKETS_ONLY"),
		},
		Levels: Levels{
			CandleIntervalSec: 60,
			CandleWindow:      240,
			H1LookbackCandles: 60,
			ATRPeriod:         14,
		},
		Hunter: Hunter{
			BufferZonePct:     0.0005,
			NOFIThreshold:     0.7,
			SweepTimeoutSec:   60,
			ConfirmTimeoutSec: 30,
			CooldownSec:       1800,
		},
		Risk: Risk{
			AccountBalance:      v.GetFloat64("ACCOUNT_BALANCE"),
			MaxAccountRiskPct:   0.01,
			MaxDailyLossPct:     0.03,
			MaxConsecutiveLoss:  3,
			MaxVolatilityZScore: 4.0,
			MaxSpreadPct:        0.001,
			RewardRiskRatio:     2.0,
			MinOrderQty:         0.001,
		},
		Broker: Broker{
			Pair:           symbol,
			VirtualBalance: v.GetFloat64("PAPER_BALANCE"),
			CommissionPct:  0.0005,
			CSVPath:        "logs/simulated_trades_" + strings.ReplaceAll(symbol, "/", "_") + ".csv",
		},
		Telegram: Telegram{
			BotToken: v.GetString("TELEGRAM_BOT_TOKEN"),
			ChatID:   v.GetInt64("TELEGRAM_CHAT_ID"),
			Enabled:  v.GetBool("TELEGRAM_ENABLED") && v.GetString("TELEGRAM_BOT_TOKEN") != "",
		},
		LogDir:   v.GetString("LOG_DIR"),
		LogLevel: v.GetString("LOG_LEVEL"),
		HTTPAddr: v.GetString("HTTP_ADDR"),
	}
	return cfg
}
