package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()
	err := applyEnv(&cfg, envMap(map[string]string{
		"PORT":                   "9090",
		"PLATFORM_FEE_PERCENT":   "12.5",
		"PAYOUT_CURRENCY":        " USD ",
		"SETTLEMENT_INTERVAL":    "15m",
		"SETTLEMENT_CONCURRENCY": "8",
		"STALE_CLAIM_AFTER":      "30m",
		"CORS_ORIGINS":           "https://a.example,https://b.example",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.PlatformFeePercent.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, "usd", cfg.PayoutCurrency)
	assert.Equal(t, 15*time.Minute, cfg.SettlementInterval)
	assert.Equal(t, 8, cfg.SettlementConcurrency)
	assert.Equal(t, 30*time.Minute, cfg.StaleClaimAfter)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestApplyEnvRejectsGarbage(t *testing.T) {
	cfg := Default()
	err := applyEnv(&cfg, envMap(map[string]string{"SETTLEMENT_CONCURRENCY": "many"}))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.PlatformFeePercent = decimal.NewFromInt(100)
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.PayoutCurrency = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.SettlementConcurrency = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.StaleClaimAfter = 2 * cfg.GatewayTimeout
	assert.Error(t, cfg.Validate())
}

func TestFeeFor(t *testing.T) {
	cfg := Default()
	assert.Equal(t, int64(3000), cfg.FeeFor(20000))
	assert.Equal(t, int64(150), cfg.FeeFor(1000))

	cfg.PlatformFeePercent = decimal.NewFromInt(10)
	assert.Equal(t, int64(100), cfg.FeeFor(1000))
	// 15% of 333 = 49.95, rounded
	cfg.PlatformFeePercent = decimal.NewFromInt(15)
	assert.Equal(t, int64(50), cfg.FeeFor(333))
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"7000\"\npayout_currency: gbp\nsettlement_concurrency: 2\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, "gbp", cfg.PayoutCurrency)
	assert.Equal(t, 2, cfg.SettlementConcurrency)
	assert.True(t, cfg.PlatformFeePercent.Equal(decimal.NewFromInt(15)))
}
