package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PipelineConfig bounds a single nightly run: worker pool size, run timeout,
// history windows, and the stage-level retry policy for transient failures.
type PipelineConfig struct {
	Workers       int           `yaml:"workers"`
	RunTimeout    time.Duration `yaml:"run_timeout"`
	HistoryWindow int           `yaml:"history_window"`
	MinHistory    int           `yaml:"min_history"`
	TopN          int           `yaml:"top_n"`
	RetryMax      int           `yaml:"retry_max"`
	BackoffMin    time.Duration `yaml:"backoff_min"`
	BackoffMax    time.Duration `yaml:"backoff_max"`
}

// ModelConfig parameterizes the forecaster and optimizer. Costs maps SKU to
// cost basis; DefaultCost applies to SKUs not listed.
type ModelConfig struct {
	Version     string             `yaml:"version"`
	Elasticity  float64            `yaml:"elasticity"`
	GridMin     float64            `yaml:"grid_min"`
	GridMax     float64            `yaml:"grid_max"`
	GridStep    float64            `yaml:"grid_step"`
	DefaultCost float64            `yaml:"default_cost"`
	Costs       map[string]float64 `yaml:"costs"`
}

// AnomalyConfig carries the detector thresholds.
type AnomalyConfig struct {
	PriceCrashThreshold float64 `yaml:"price_crash_threshold"`
	StockSigmaMultiple  float64 `yaml:"stock_sigma_multiple"`
	StockAbsThreshold   float64 `yaml:"stock_abs_threshold"`
	UndercutMargin      float64 `yaml:"undercut_margin"`
}

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Kafka struct {
		Brokers       []string `yaml:"brokers"`
		SnapshotTopic string   `yaml:"snapshot_topic"`
		DigestTopic   string   `yaml:"digest_topic"`
		ErrorTopic    string   `yaml:"error_topic"`
		RequiredAcks  int      `yaml:"required_acks"`
		Compression   string   `yaml:"compression"`
		Producer      struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	SQLite struct {
		Path        string        `yaml:"path"`
		BusyTimeout time.Duration `yaml:"busy_timeout"`
	} `yaml:"sqlite"`
	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		CacheTTL time.Duration `yaml:"cache_ttl"`
		RunQueue string        `yaml:"run_queue"`
	} `yaml:"redis"`
	Scheduler struct {
		Enabled bool   `yaml:"enabled"`
		Spec    string `yaml:"spec"`
	} `yaml:"scheduler"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Model    ModelConfig    `yaml:"model"`
	Anomaly  AnomalyConfig  `yaml:"anomaly"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_SNAPSHOT_TOPIC"); v != "" {
		c.Kafka.SnapshotTopic = v
	}
	if v := os.Getenv("KAFKA_DIGEST_TOPIC"); v != "" {
		c.Kafka.DigestTopic = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.SQLite.Path = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}

	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = 8
	}
	if c.Pipeline.RunTimeout <= 0 {
		c.Pipeline.RunTimeout = 10 * time.Minute
	}
	if c.Pipeline.HistoryWindow <= 0 {
		c.Pipeline.HistoryWindow = 30
	}
	if c.Pipeline.MinHistory <= 0 {
		c.Pipeline.MinHistory = 2
	}
	if c.Pipeline.TopN <= 0 {
		c.Pipeline.TopN = 5
	}
	if c.Pipeline.RetryMax <= 0 {
		c.Pipeline.RetryMax = 3
	}
	if c.Pipeline.BackoffMin <= 0 {
		c.Pipeline.BackoffMin = 100 * time.Millisecond
	}
	if c.Pipeline.BackoffMax <= 0 {
		c.Pipeline.BackoffMax = 2 * time.Second
	}
	if c.Redis.RunQueue == "" {
		c.Redis.RunQueue = "pricepulse:runs"
	}
	if c.Scheduler.Spec == "" {
		c.Scheduler.Spec = "0 2 * * *"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.SQLite.Path == "" {
		return fmt.Errorf("sqlite.path is required")
	}
	if c.Model.Version == "" {
		return fmt.Errorf("model.version is required")
	}
	if c.Model.GridStep <= 0 {
		return fmt.Errorf("model.grid_step must be positive")
	}
	if c.Model.GridMin > c.Model.GridMax {
		return fmt.Errorf("model.grid_min must not exceed model.grid_max")
	}
	if c.Model.DefaultCost <= 0 && len(c.Model.Costs) == 0 {
		return fmt.Errorf("model.default_cost or model.costs is required")
	}
	if c.Anomaly.PriceCrashThreshold < 0 || c.Anomaly.PriceCrashThreshold > 1 {
		return fmt.Errorf("anomaly.price_crash_threshold must be in [0,1]")
	}
	if c.Anomaly.UndercutMargin < 0 || c.Anomaly.UndercutMargin > 1 {
		return fmt.Errorf("anomaly.undercut_margin must be in [0,1]")
	}
	return nil
}

// CostFor returns the cost basis for a SKU, falling back to the default.
func (m *ModelConfig) CostFor(sku string) float64 {
	if c, ok := m.Costs[sku]; ok {
		return c
	}
	return m.DefaultCost
}

// FallbackVersion tags records produced by the naive fallback forecast.
func (m *ModelConfig) FallbackVersion() string {
	return m.Version + "-naive"
}
