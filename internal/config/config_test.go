package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clob/internal/orderbook"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaults(t *testing.T) {
	cfg := FromEnv(envMap(nil))
	assert.Equal(t, Default(), cfg)
	assert.True(t, cfg.Engine.AutoCreate)
	assert.Equal(t, orderbook.RestMarketRemainder, cfg.Engine.MarketRemainder)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg := FromEnv(envMap(map[string]string{
		"EXCHANGE_ADDR":             ":9000",
		"EXCHANGE_CORS_ORIGINS":     "http://a.test, ,http://b.test",
		"EXCHANGE_RATE_LIMIT":       "0",
		"EXCHANGE_RATE_WINDOW_SEC":  "30",
		"EXCHANGE_AUTO_CREATE":      "false",
		"EXCHANGE_INSTRUMENTS":      "aapl,GOOG",
		"EXCHANGE_MARKET_REMAINDER": "Cancel",
		"EXCHANGE_TRADE_HISTORY":    "50",
		"EXCHANGE_DB":               ":memory:",
		"EXCHANGE_LOG_LEVEL":        "debug",
		"EXCHANGE_LOG_FILE":         "/tmp/x.log",
	}))

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 0, cfg.Server.RateLimit)
	assert.Equal(t, 30*time.Second, cfg.Server.RateWindow)
	assert.False(t, cfg.Engine.AutoCreate)
	assert.Equal(t, []string{"aapl", "GOOG"}, cfg.Engine.Instruments)
	assert.Equal(t, orderbook.CancelMarketRemainder, cfg.Engine.MarketRemainder)
	assert.Equal(t, 50, cfg.Engine.TradeHistory)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/x.log", cfg.Log.File)
}

func TestFromEnvIgnoresGarbage(t *testing.T) {
	cfg := FromEnv(envMap(map[string]string{
		"EXCHANGE_RATE_LIMIT":       "-3",
		"EXCHANGE_AUTO_CREATE":      "maybe",
		"EXCHANGE_MARKET_REMAINDER": "kill",
		"EXCHANGE_TRADE_HISTORY":    "zero",
	}))
	def := Default()
	assert.Equal(t, def.Server.RateLimit, cfg.Server.RateLimit)
	assert.Equal(t, def.Engine, cfg.Engine)
}

func TestLoadReadsDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("EXCHANGE_ADDR=:7070\n"), 0644))
	t.Setenv("EXCHANGE_ADDR", "")
	require.NoError(t, os.Unsetenv("EXCHANGE_ADDR"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

func TestLoadMissingExplicitEnvFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
