// Package config loads and validates the flowsentry YAML configuration and
// translates it into the runtime configs of each pipeline stage. Durations
// are expressed in the units their field names carry (secs, ms, minutes).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flowsentry/flowsentry/internal/correlate"
	"github.com/flowsentry/flowsentry/internal/dedup"
	"github.com/flowsentry/flowsentry/internal/enrich"
	"github.com/flowsentry/flowsentry/internal/pipeline"
	"github.com/flowsentry/flowsentry/internal/provider/polyhttp"
	"github.com/flowsentry/flowsentry/internal/source"
)

// Config is the full configuration surface. Zero values fall back to the
// stage defaults; Validate only rejects what cannot be defaulted.
type Config struct {
	Broker   BrokerConfig   `yaml:"broker"`
	Provider ProviderConfig `yaml:"provider"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Enrich   EnrichConfig   `yaml:"enrich"`
	Health   HealthConfig   `yaml:"health"`
	Poll     PollConfig     `yaml:"poll"`
	Roll     RollConfig     `yaml:"roll"`
	Hedge    HedgeConfig    `yaml:"hedge"`
	Dedup    DedupConfig    `yaml:"dedup"`
	Ops      OpsConfig      `yaml:"ops"`
	Log      LogConfig      `yaml:"log"`
}

// BrokerConfig is the upstream message-broker subscription.
type BrokerConfig struct {
	Addresses        []string `yaml:"addresses"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	Group            string   `yaml:"group"`
	Topic            string   `yaml:"topic"`
	PremiumFilter    float64  `yaml:"premium_filter"`
	FetchTimeoutSecs int      `yaml:"fetch_timeout_secs"`
	Buffer           int      `yaml:"buffer"`
}

// ProviderConfig is the upstream data-provider REST endpoint.
type ProviderConfig struct {
	BaseURL             string  `yaml:"base_url"`
	APIKey              string  `yaml:"api_key"`
	RPS                 float64 `yaml:"rps"`
	Burst               int     `yaml:"burst"`
	RequestTimeoutSecs  int     `yaml:"request_timeout_secs"`
	BreakerFailures     uint32  `yaml:"breaker_failures"`
	BreakerTimeoutSecs  int     `yaml:"breaker_timeout_secs"`
	BreakerIntervalSecs int     `yaml:"breaker_interval_secs"`
}

// PipelineConfig is the pipeline-wide concurrency/lifecycle surface.
type PipelineConfig struct {
	MaxTasks          int `yaml:"max_tasks"`
	ShutdownGraceSecs int `yaml:"shutdown_grace_secs"`
	SweepIntervalSecs int `yaml:"sweep_interval_secs"`
}

// EnrichConfig is the enrichment timeout budget.
type EnrichConfig struct {
	TimeoutSecs        int     `yaml:"timeout_secs"`
	DegradedPriceMS    int     `yaml:"degraded_price_ms"`
	DegradedMinPremium float64 `yaml:"degraded_min_premium"`
}

// HealthConfig is stream liveness and failover timing.
type HealthConfig struct {
	FallbackTimeoutSecs   int `yaml:"fallback_timeout_secs"`
	CheckIntervalSecs     int `yaml:"check_interval_secs"`
	ReconnectIntervalSecs int `yaml:"reconnect_interval_secs"`
}

// PollConfig is the snapshot-diff fallback source.
type PollConfig struct {
	IntervalSecs      int      `yaml:"interval_secs"`
	FetchTimeoutSecs  int      `yaml:"fetch_timeout_secs"`
	MinDelta          int64    `yaml:"min_delta"`
	SnapshotTTLSecs   int      `yaml:"snapshot_ttl_secs"`
	SweepIntervalSecs int      `yaml:"sweep_interval_secs"`
	Symbols           []string `yaml:"symbols"`
}

// RollConfig is position-roll detection.
type RollConfig struct {
	NearDTE          int     `yaml:"near_dte"`
	FarDTE           int     `yaml:"far_dte"`
	MaxGapSecs       int     `yaml:"max_gap_secs"`
	MinReinvestRatio float64 `yaml:"min_reinvest_ratio"`
	CooldownSecs     int     `yaml:"cooldown_secs"`
	WindowAgeSecs    int     `yaml:"window_age_secs"`
	WindowSize       int     `yaml:"window_size"`
}

// HedgeConfig is synthetic-hedge detection.
type HedgeConfig struct {
	MinPremium        float64 `yaml:"min_premium"`
	WindowMS          int     `yaml:"window_ms"`
	MinLot            int64   `yaml:"min_lot"`
	AssumedDelta      float64 `yaml:"assumed_delta"`
	ThresholdFraction float64 `yaml:"threshold_fraction"`
	FetchTimeoutSecs  int     `yaml:"fetch_timeout_secs"`
}

// DedupConfig is the dedup gate and its throttles.
type DedupConfig struct {
	AccumulationMultiple   float64 `yaml:"accumulation_multiple"`
	AccumulationGapMinutes int     `yaml:"accumulation_gap_minutes"`
	MaxAccumulationAlerts  int     `yaml:"max_accumulation_alerts"`
	RefreshPremium         float64 `yaml:"refresh_premium"`
	RefreshGapMinutes      int     `yaml:"refresh_gap_minutes"`
	GlobalPerMinute        int     `yaml:"global_per_minute"`
	PerSymbolLimit         int     `yaml:"per_symbol_limit"`
	PerSymbolWindowMinutes int     `yaml:"per_symbol_window_minutes"`
	ContractCooldownSecs   int     `yaml:"contract_cooldown_secs"`
	SweepHorizonHours      int     `yaml:"sweep_horizon_hours"`
}

// OpsConfig is the read-only ops HTTP server.
type OpsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Load reads, parses, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects the unrecoverable startup errors: missing broker
// endpoints/credentials and missing provider endpoint. Everything else
// defaults at stage construction.
func (c *Config) Validate() error {
	if len(c.Broker.Addresses) == 0 {
		return fmt.Errorf("broker.addresses is required")
	}
	if c.Broker.Topic == "" {
		return fmt.Errorf("broker.topic is required")
	}
	if c.Broker.Group == "" {
		return fmt.Errorf("broker.group is required")
	}
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	if len(c.Poll.Symbols) == 0 {
		return fmt.Errorf("poll.symbols is required (the fallback source needs a universe)")
	}
	if c.Ops.Enabled && c.Ops.ListenAddr == "" {
		return fmt.Errorf("ops.listen_addr is required when ops.enabled")
	}
	return nil
}

func secs(n int) time.Duration    { return time.Duration(n) * time.Second }
func millis(n int) time.Duration  { return time.Duration(n) * time.Millisecond }
func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }

// StreamConfig builds the broker subscription runtime config.
func (c *Config) StreamConfig() source.StreamConfig {
	return source.StreamConfig{
		Addresses:     c.Broker.Addresses,
		Username:      c.Broker.Username,
		Password:      c.Broker.Password,
		Group:         c.Broker.Group,
		Topic:         c.Broker.Topic,
		PremiumFilter: c.Broker.PremiumFilter,
		FetchTimeout:  secs(c.Broker.FetchTimeoutSecs),
		Buffer:        c.Broker.Buffer,
	}
}

// PollSourceConfig builds the fallback source runtime config. The premium
// pre-filter is shared with the stream source.
func (c *Config) PollSourceConfig() source.PollConfig {
	return source.PollConfig{
		Interval:      secs(c.Poll.IntervalSecs),
		FetchTimeout:  secs(c.Poll.FetchTimeoutSecs),
		MinDelta:      c.Poll.MinDelta,
		SnapshotTTL:   secs(c.Poll.SnapshotTTLSecs),
		SweepInterval: secs(c.Poll.SweepIntervalSecs),
		PremiumFilter: c.Broker.PremiumFilter,
		Symbols:       c.Poll.Symbols,
	}
}

// GatewayConfig builds the failover supervisor runtime config.
func (c *Config) GatewayConfig() source.GatewayConfig {
	return source.GatewayConfig{
		CheckInterval:     secs(c.Health.CheckIntervalSecs),
		ReconnectInterval: secs(c.Health.ReconnectIntervalSecs),
	}
}

// FallbackTimeout is the stream-silence horizon for the health monitor.
func (c *Config) FallbackTimeout() time.Duration {
	return secs(c.Health.FallbackTimeoutSecs)
}

// ProviderClientConfig builds the REST client runtime config.
func (c *Config) ProviderClientConfig() polyhttp.Config {
	return polyhttp.Config{
		BaseURL:        c.Provider.BaseURL,
		APIKey:         c.Provider.APIKey,
		RPS:            c.Provider.RPS,
		Burst:          c.Provider.Burst,
		RequestTimeout: secs(c.Provider.RequestTimeoutSecs),
		Breaker: polyhttp.BreakerConfig{
			ConsecutiveFailures: c.Provider.BreakerFailures,
			Timeout:             secs(c.Provider.BreakerTimeoutSecs),
			Interval:            secs(c.Provider.BreakerIntervalSecs),
		},
	}
}

// EnricherConfig builds the enrichment runtime config.
func (c *Config) EnricherConfig() enrich.Config {
	return enrich.Config{
		Timeout:              secs(c.Enrich.TimeoutSecs),
		DegradedPriceTimeout: millis(c.Enrich.DegradedPriceMS),
		DegradedMinPremium:   c.Enrich.DegradedMinPremium,
	}
}

// RollCorrelatorConfig builds the roll detection runtime config.
func (c *Config) RollCorrelatorConfig() correlate.RollConfig {
	return correlate.RollConfig{
		NearDTE:          c.Roll.NearDTE,
		FarDTE:           c.Roll.FarDTE,
		MaxGap:           secs(c.Roll.MaxGapSecs),
		MinReinvestRatio: c.Roll.MinReinvestRatio,
		Cooldown:         secs(c.Roll.CooldownSecs),
		Window: correlate.WindowConfig{
			MaxAge:  secs(c.Roll.WindowAgeSecs),
			MaxSize: c.Roll.WindowSize,
		},
	}
}

// HedgeCorrelatorConfig builds the hedge detection runtime config.
func (c *Config) HedgeCorrelatorConfig() correlate.HedgeConfig {
	return correlate.HedgeConfig{
		MinPremium:        c.Hedge.MinPremium,
		Window:            millis(c.Hedge.WindowMS),
		MinLot:            c.Hedge.MinLot,
		AssumedDelta:      c.Hedge.AssumedDelta,
		ThresholdFraction: c.Hedge.ThresholdFraction,
		FetchTimeout:      secs(c.Hedge.FetchTimeoutSecs),
	}
}

// DeduplicatorConfig builds the dedup gate runtime config.
func (c *Config) DeduplicatorConfig() dedup.Config {
	return dedup.Config{
		AccumulationMultiple:  c.Dedup.AccumulationMultiple,
		AccumulationMinGap:    minutes(c.Dedup.AccumulationGapMinutes),
		MaxAccumulationAlerts: c.Dedup.MaxAccumulationAlerts,
		RefreshPremium:        c.Dedup.RefreshPremium,
		RefreshGap:            minutes(c.Dedup.RefreshGapMinutes),
		GlobalPerMinute:       c.Dedup.GlobalPerMinute,
		PerSymbolLimit:        c.Dedup.PerSymbolLimit,
		PerSymbolWindow:       minutes(c.Dedup.PerSymbolWindowMinutes),
		ContractCooldown:      secs(c.Dedup.ContractCooldownSecs),
		SweepHorizon:          time.Duration(c.Dedup.SweepHorizonHours) * time.Hour,
	}
}

// PipelineRuntimeConfig builds the pipeline lifecycle runtime config.
func (c *Config) PipelineRuntimeConfig() pipeline.Config {
	return pipeline.Config{
		MaxTasks:      c.Pipeline.MaxTasks,
		ShutdownGrace: secs(c.Pipeline.ShutdownGraceSecs),
		SweepInterval: secs(c.Pipeline.SweepIntervalSecs),
	}
}
