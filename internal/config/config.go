// Package config loads process configuration from the environment via
// github.com/joho/godotenv, the way the teacher's src/backpack.Client
// loads .env in loadEnvFile. The field superset is transcribed from
// original_source/config/settings.py's pydantic Settings model, one
// env var per field, with the same defaults where the original
// declares one.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"quantengine/internal/money"
)

// Environment is the run mode the engine operates under.
type Environment string

const (
	EnvironmentDryRun Environment = "DRY_RUN"
	EnvironmentTestnet Environment = "TESTNET"
	EnvironmentLive    Environment = "LIVE"
)

// Config is the full set of tunables loaded at startup.
type Config struct {
	// Venue
	VenueAPIKey     string
	VenuePrivateKey string
	Instruments     []string

	// Redis
	RedisHost         string
	RedisPort         int
	RedisPassword     string
	RedisDB           int
	RedisStateTTLSecs int

	// Notification
	TelegramBotToken           string
	TelegramChatID             string
	TelegramNotificationsOn    bool

	// System
	Environment Environment
	LogLevel    string
	LogFormat   string

	// Trading parameters
	MaxPositions        int
	MaxPositionSizeUSDT money.D
	MaxDrawdownPct      float64
	DailyLossLimitPct   float64

	// Risk parameters
	StopLossATRMultiplier     money.D
	TrailingStopATRMultiplier float64
	TakeProfitRewardMultiple  float64
	MaxHoldBars               int
	ActivationThreshold       float64
	CorrelationThreshold      float64
	MaxCorrelationExposurePct float64

	// Adaptive parameters
	AdaptiveTuningEnabled bool
	MinStrategyWeight     float64
	MaxStrategyWeight     float64
	MinStopLossMultiplier float64
	MaxStopLossMultiplier float64
	PerformanceWindowSize int

	// Data pipeline
	WebsocketReconnectDelaySecs   int
	WebsocketMaxReconnectAttempts int
	DataLossTimeoutSecs           int

	// Execution
	MaxSlippagePct float64

	// Sizing
	RiskPerTradePct   money.D
	MinPositionNotional money.D
	MaxPositionNotional money.D

	StartingEquity money.D
}

// Load reads .env (if present, silently ignored otherwise per the
// teacher's loadEnvFile behavior) then builds a Config from the
// environment, applying defaults for anything unset.
func Load(envPath string) (Config, error) {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg := Config{
		VenueAPIKey:     os.Getenv("VENUE_API_KEY"),
		VenuePrivateKey: os.Getenv("VENUE_PRIVATE_KEY"),
		Instruments:     splitCSV(getenv("INSTRUMENTS", "SOL_USDC_PERP")),

		RedisHost:         getenv("REDIS_HOST", "localhost"),
		RedisPort:         getenvInt("REDIS_PORT", 6379),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getenvInt("REDIS_DB", 0),
		RedisStateTTLSecs: getenvInt("REDIS_STATE_TTL", 86400),

		TelegramBotToken:        os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:          os.Getenv("TELEGRAM_CHAT_ID"),
		TelegramNotificationsOn: getenvBool("TELEGRAM_NOTIFICATIONS_ENABLED", true),

		Environment: Environment(getenv("ENVIRONMENT", string(EnvironmentDryRun))),
		LogLevel:    getenv("LOG_LEVEL", "INFO"),
		LogFormat:   getenv("LOG_FORMAT", "json"),

		MaxPositions:        getenvInt("MAX_POSITIONS", 5),
		MaxPositionSizeUSDT: getenvDecimal("MAX_POSITION_SIZE_USDT", "1000"),
		MaxDrawdownPct:      getenvFloat("MAX_DRAWDOWN_PCT", 15.0),
		DailyLossLimitPct:   getenvFloat("DAILY_LOSS_LIMIT_PCT", 3.0),

		StopLossATRMultiplier:     getenvDecimal("STOP_LOSS_ATR_MULTIPLIER", "2.0"),
		TrailingStopATRMultiplier: getenvFloat("TRAILING_STOP_ATR_MULTIPLIER", 2.0),
		TakeProfitRewardMultiple:  getenvFloat("TAKE_PROFIT_REWARD_MULTIPLE", 1.5),
		MaxHoldBars:               getenvInt("MAX_HOLD_BARS", 12),
		ActivationThreshold:       getenvFloat("ACTIVATION_THRESHOLD", 0.7),
		CorrelationThreshold:      getenvFloat("CORRELATION_THRESHOLD", 0.8),
		MaxCorrelationExposurePct: getenvFloat("MAX_CORRELATION_EXPOSURE_PCT", 3.0),

		AdaptiveTuningEnabled: getenvBool("ADAPTIVE_TUNING_ENABLED", true),
		MinStrategyWeight:     getenvFloat("MIN_STRATEGY_WEIGHT", 0.5),
		MaxStrategyWeight:     getenvFloat("MAX_STRATEGY_WEIGHT", 1.5),
		MinStopLossMultiplier: getenvFloat("MIN_STOP_LOSS_MULTIPLIER", 2.0),
		MaxStopLossMultiplier: getenvFloat("MAX_STOP_LOSS_MULTIPLIER", 4.0),
		PerformanceWindowSize: getenvInt("PERFORMANCE_WINDOW_SIZE", 30),

		WebsocketReconnectDelaySecs:   getenvInt("WEBSOCKET_RECONNECT_DELAY", 5),
		WebsocketMaxReconnectAttempts: getenvInt("WEBSOCKET_MAX_RECONNECT_ATTEMPTS", 10),
		DataLossTimeoutSecs:           getenvInt("DATA_LOSS_TIMEOUT", 30),

		MaxSlippagePct: getenvFloat("MAX_SLIPPAGE_PCT", 0.1),

		RiskPerTradePct:     getenvDecimal("RISK_PER_TRADE_PCT", "0.01"),
		MinPositionNotional: getenvDecimal("MIN_POSITION_NOTIONAL", "5"),
		MaxPositionNotional: getenvDecimal("MAX_POSITION_NOTIONAL", "1000"),

		StartingEquity: getenvDecimal("STARTING_EQUITY", "10000"),
	}

	if cfg.Environment != EnvironmentDryRun {
		if cfg.VenueAPIKey == "" {
			return Config{}, fmt.Errorf("VENUE_API_KEY is required outside DRY_RUN")
		}
		if cfg.VenuePrivateKey == "" {
			return Config{}, fmt.Errorf("VENUE_PRIVATE_KEY is required outside DRY_RUN")
		}
	}

	return cfg, nil
}

// IsDryRun reports whether the engine should skip all venue calls.
func (c Config) IsDryRun() bool { return c.Environment == EnvironmentDryRun }

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDecimal(key, def string) money.D {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	d, err := money.FromString(v)
	if err != nil {
		d, _ = money.FromString(def)
	}
	return d
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
