package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(m map[string]string) lookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, SandboxBaseURL, cfg.Upstox.APIBaseURL())
	assert.Equal(t, 3, cfg.Transport.MaxAttempts)
	assert.Equal(t, 20.0, cfg.Risk.StopLossPercent)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(mapLookup(map[string]string{
		"UPSTOX_API_KEY":       "key",
		"UPSTOX_ENVIRONMENT":   "production",
		"MAX_TRADES_PER_DAY":   "5",
		"STOP_LOSS_PERCENT":    "7.5",
		"MIN_PULLBACK_PERCENT": "",
		"LOG_LEVEL":            "debug",
	}))
	require.NoError(t, err)
	assert.Equal(t, "key", cfg.Upstox.APIKey)
	assert.Equal(t, ProductionBaseURL, cfg.Upstox.APIBaseURL())
	assert.Equal(t, 5, cfg.Risk.MaxTradesPerDay)
	assert.Equal(t, 7.5, cfg.Risk.StopLossPercent)
	assert.Equal(t, 20.0, cfg.Risk.MinPullbackPercent, "empty value keeps default")
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestApplyEnv_BadNumber(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(mapLookup(map[string]string{"MAX_LOSSES_PER_DAY": "one"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_LOSSES_PER_DAY")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"inverted pullback band", func(c *Config) { c.Risk.MinPullbackPercent = 50 }},
		{"stop loss 100", func(c *Config) { c.Risk.StopLossPercent = 100 }},
		{"no attempts", func(c *Config) { c.Transport.MaxAttempts = 0 }},
		{"ma windows", func(c *Config) { c.Strategy.MAShort = 30 }},
		{"journal backend", func(c *Config) { c.Journal.Backend = "postgres" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
upstox:
  base_url: http://127.0.0.1:9999/v2/
loop:
  interval_sec: 60
  watchlist:
    - symbol: ITC
      instrument_key: NSE_EQ|INE154A01025
journal:
  backend: jsonl
  path: ` + dir + `
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9999/v2", cfg.Upstox.APIBaseURL())
	assert.Equal(t, 60, cfg.Loop.IntervalSec)
	require.Len(t, cfg.Loop.Watchlist, 1)
	assert.Equal(t, "ITC", cfg.Loop.Watchlist[0].Symbol)
	assert.Equal(t, "jsonl", cfg.Journal.Backend)
	assert.Equal(t, 14, cfg.Strategy.RSIPeriod, "unset keys keep defaults")
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}
