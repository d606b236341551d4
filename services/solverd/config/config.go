package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment overrides for secrets that must not live in the config file.
const (
	EnvDatabaseURL  = "SOLVERD_DATABASE_URL"
	EnvSolverSecret = "SOLVERD_SOLVER_SECRET"
	EnvRedisAddr    = "SOLVERD_REDIS_ADDR"
	EnvNATSURL      = "SOLVERD_NATS_URL"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for solverd.
type Config struct {
	ListenAddress string           `yaml:"listen"`
	DatabaseURL   string           `yaml:"database_url"`
	Chain         ChainConfig      `yaml:"chain"`
	TxBuilder     TxBuilderConfig  `yaml:"tx_builder"`
	Settlement    SettlementConfig `yaml:"settlement"`
	Sweeper       SweeperConfig    `yaml:"sweeper"`
	API           APIConfig        `yaml:"api"`
	QuoteCache    QuoteCacheConfig `yaml:"quote_cache"`
	Events        EventsConfig     `yaml:"events"`
	Reports       ReportsConfig    `yaml:"reports"`
}

// ChainConfig points at the chain indexer RPC endpoint.
type ChainConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AuthToken string `yaml:"auth_token"`
}

// TxBuilderConfig points at the transaction-building service.
type TxBuilderConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// SettlementConfig tunes the settlement coordinator.
type SettlementConfig struct {
	MaxBatchSize int `yaml:"max_batch_size"`
}

// SweeperConfig tunes the consistency sweeper.
type SweeperConfig struct {
	Interval Duration `yaml:"interval"`
}

// APIConfig tunes the public HTTP surface.
type APIConfig struct {
	SolverSecret      string  `yaml:"solver_secret"`
	MaxOpenIntents    uint32  `yaml:"max_open_intents"`
	MaxOpenOrders     uint32  `yaml:"max_open_orders"`
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// QuoteCacheConfig enables the Redis quote cache when an address is set.
type QuoteCacheConfig struct {
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	TTL      Duration `yaml:"ttl"`
}

// EventsConfig enables NATS event publication when a URL is set.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
}

// ReportsConfig controls the daily fill export.
type ReportsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OutputDir string `yaml:"output_dir"`
}

// Load reads configuration from the supplied path and applies environment
// overrides.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvDatabaseURL)); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvSolverSecret)); v != "" {
		cfg.API.SolverSecret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRedisAddr)); v != "" {
		cfg.QuoteCache.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvNATSURL)); v != "" {
		cfg.Events.NATSURL = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7080"
	}
	if cfg.Settlement.MaxBatchSize <= 0 {
		cfg.Settlement.MaxBatchSize = 10
	}
	if cfg.Sweeper.Interval.Duration == 0 {
		cfg.Sweeper.Interval.Duration = time.Minute
	}
	if cfg.API.RequestsPerMinute == 0 {
		cfg.API.RequestsPerMinute = 60
	}
	if cfg.API.Burst <= 0 {
		cfg.API.Burst = 10
	}
	if cfg.QuoteCache.TTL.Duration == 0 {
		cfg.QuoteCache.TTL.Duration = 5 * time.Second
	}
	if cfg.Reports.OutputDir == "" {
		cfg.Reports.OutputDir = "/var/data/solverd/reports"
	}
}

func validate(cfg Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database_url must be configured")
	}
	if cfg.Chain.Endpoint == "" {
		return fmt.Errorf("chain endpoint must be configured")
	}
	if cfg.TxBuilder.Endpoint == "" {
		return fmt.Errorf("tx_builder endpoint must be configured")
	}
	if cfg.API.SolverSecret == "" {
		return fmt.Errorf("api solver_secret must be configured")
	}
	return nil
}
