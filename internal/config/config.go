package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"clob/internal/orderbook"
)

type Server struct {
	Addr        string
	CORSOrigins []string // empty = allow all
	RateLimit   int      // order requests per IP per RateWindow, 0 disables
	RateWindow  time.Duration
}

type Engine struct {
	// AutoCreate lets the first order for an unknown instrument open its book.
	AutoCreate bool
	// Instruments are listed at startup.
	Instruments     []string
	MarketRemainder orderbook.MarketRemainderPolicy
	TradeHistory    int
}

type Log struct {
	Level string
	File  string
}

type Config struct {
	Server Server
	Engine Engine
	DBPath string
	Log    Log
}

func Default() Config {
	return Config{
		Server: Server{
			Addr:       ":8088",
			RateLimit:  100,
			RateWindow: time.Minute,
		},
		Engine: Engine{
			AutoCreate:      true,
			MarketRemainder: orderbook.RestMarketRemainder,
			TradeHistory:    1000,
		},
		DBPath: "exchange.db",
		Log: Log{
			Level: "info",
		},
	}
}

// Load reads configuration from the .env file (if present) and the
// environment. Priority: ENV > .env file > defaults. An explicit envPath must
// exist; a missing ./.env is ignored.
func Load(envPath string) (Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return Config{}, fmt.Errorf("load env file %s: %w", envPath, err)
		}
	} else {
		_ = godotenv.Load()
	}
	return FromEnv(os.Getenv), nil
}

// FromEnv applies overrides from getenv on top of Default
func FromEnv(getenv func(string) string) Config {
	cfg := Default()

	if v := getenv("EXCHANGE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := getenv("EXCHANGE_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = SplitList(v)
	}
	if v := getenv("EXCHANGE_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Server.RateLimit = n
		}
	}
	if v := getenv("EXCHANGE_RATE_WINDOW_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.RateWindow = time.Duration(n) * time.Second
		}
	}

	if v := getenv("EXCHANGE_AUTO_CREATE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Engine.AutoCreate = b
		}
	}
	if v := getenv("EXCHANGE_INSTRUMENTS"); v != "" {
		cfg.Engine.Instruments = SplitList(v)
	}
	if v := getenv("EXCHANGE_MARKET_REMAINDER"); v != "" {
		if p, ok := ParseMarketRemainder(v); ok {
			cfg.Engine.MarketRemainder = p
		}
	}
	if v := getenv("EXCHANGE_TRADE_HISTORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.TradeHistory = n
		}
	}

	if v := getenv("EXCHANGE_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("EXCHANGE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv("EXCHANGE_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}

	return cfg
}

// ParseMarketRemainder accepts "rest" or "cancel"
func ParseMarketRemainder(s string) (orderbook.MarketRemainderPolicy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rest":
		return orderbook.RestMarketRemainder, true
	case "cancel":
		return orderbook.CancelMarketRemainder, true
	}
	return orderbook.RestMarketRemainder, false
}

// SplitList splits a comma-separated value, dropping blanks
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
