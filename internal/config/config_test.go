package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
broker:
  addresses: ["broker-1:9092", "broker-2:9092"]
  username: "svc"
  password: "secret"
  group: "flowsentry"
  topic: "options-trades"
  premium_filter: 25000
  fetch_timeout_secs: 5
provider:
  base_url: "https://api.example.com"
  api_key: "key"
  rps: 10
  request_timeout_secs: 8
enrich:
  timeout_secs: 3
  degraded_price_ms: 1500
  degraded_min_premium: 250000
health:
  fallback_timeout_secs: 120
  check_interval_secs: 5
poll:
  interval_secs: 60
  min_delta: 5
  symbols: ["AAPL", "TSLA", "SPX"]
roll:
  near_dte: 14
  far_dte: 21
  max_gap_secs: 5
hedge:
  min_premium: 100000
  window_ms: 50
dedup:
  accumulation_multiple: 2.0
  accumulation_gap_minutes: 15
  refresh_premium: 500000
  refresh_gap_minutes: 240
  contract_cooldown_secs: 900
ops:
  enabled: true
  listen_addr: ":8090"
log:
  level: "info"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flowsentry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Broker.Addresses)
	assert.Equal(t, "options-trades", cfg.Broker.Topic)
	assert.Equal(t, 25000.0, cfg.Broker.PremiumFilter)
	assert.Equal(t, []string{"AAPL", "TSLA", "SPX"}, cfg.Poll.Symbols)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "broker: ["))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no brokers", func(c *Config) { c.Broker.Addresses = nil }, "broker.addresses"},
		{"no topic", func(c *Config) { c.Broker.Topic = "" }, "broker.topic"},
		{"no group", func(c *Config) { c.Broker.Group = "" }, "broker.group"},
		{"no provider url", func(c *Config) { c.Provider.BaseURL = "" }, "provider.base_url"},
		{"no poll symbols", func(c *Config) { c.Poll.Symbols = nil }, "poll.symbols"},
		{"ops enabled without addr", func(c *Config) { c.Ops.ListenAddr = "" }, "ops.listen_addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validYAML))
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDurationTranslation(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.StreamConfig().FetchTimeout)
	assert.Equal(t, 120*time.Second, cfg.FallbackTimeout())
	assert.Equal(t, 1500*time.Millisecond, cfg.EnricherConfig().DegradedPriceTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.HedgeCorrelatorConfig().Window)
	assert.Equal(t, 15*time.Minute, cfg.DeduplicatorConfig().AccumulationMinGap)
	assert.Equal(t, 240*time.Minute, cfg.DeduplicatorConfig().RefreshGap)
	assert.Equal(t, 900*time.Second, cfg.DeduplicatorConfig().ContractCooldown)
	assert.Equal(t, 5*time.Second, cfg.RollCorrelatorConfig().MaxGap)
}

func TestPollSharesPremiumFilter(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, cfg.Broker.PremiumFilter, cfg.PollSourceConfig().PremiumFilter)
}
