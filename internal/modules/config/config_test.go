package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "values.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, problems := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], "not found")
	assert.Equal(t, 21, cfg.Equity.Lookback)
	assert.Equal(t, 20, cfg.Sizing.BaseLeverage)
	assert.Equal(t, 30*time.Second, cfg.TPSL.Interval)
	assert.Equal(t, "wss://api.hyperliquid.xyz/ws", cfg.Exchange.WSURL)
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := writeFile(t, `
sizing:
  base_leverage: 15
  min_leverage: 5
  max_leverage: 25
  daily_target_pct: 1.0
tpsl:
  interval: 10s
trader:
  symbols: [BTC, ETH]
  excluded: [eth]
`)
	cfg, problems := Load(path)

	assert.Empty(t, problems)
	assert.Equal(t, 15, cfg.Sizing.BaseLeverage)
	assert.Equal(t, 5, cfg.Sizing.MinLeverage)
	assert.Equal(t, 1.0, cfg.Sizing.DailyTargetPct)
	assert.Equal(t, 10*time.Second, cfg.TPSL.Interval)
	assert.Equal(t, []string{"BTC"}, cfg.ActiveSymbols())
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	path := writeFile(t, `
sizing:
  max_position_pct: 150
  min_leverage: 30
  max_leverage: 10
tpsl:
  cash_reserve_pct: -5
trader:
  symbols: []
`)
	cfg, problems := Load(path)

	assert.Len(t, problems, 4)
	assert.Equal(t, 90.0, cfg.Sizing.MaxPositionPct)
	assert.Equal(t, 10, cfg.Sizing.MinLeverage)
	assert.Equal(t, 25, cfg.Sizing.MaxLeverage)
	assert.Equal(t, 20.0, cfg.TPSL.CashReservePct)
	assert.NotEmpty(t, cfg.Trader.Symbols)
	assert.Empty(t, cfg.Validate())
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeFile(t, "sizing: [oops")
	cfg, problems := Load(path)

	require.NotEmpty(t, problems)
	assert.Contains(t, problems[0], "decode config file")
	assert.Equal(t, 20, cfg.Sizing.BaseLeverage)
}

func TestValidateReportsWithoutChanging(t *testing.T) {
	cfg := Default()
	cfg.Close.MinConfidence = 120

	problems := cfg.Validate()

	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], "close.min_confidence")
	assert.Equal(t, 120.0, cfg.Close.MinConfidence)
}
