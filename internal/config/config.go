package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "IB"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Batching  BatchingConfig  `mapstructure:"batching"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Benchmark BenchmarkConfig `mapstructure:"benchmark"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type BatchingConfig struct {
	Strategy                string  `mapstructure:"strategy"`
	BatchSize               int     `mapstructure:"batch_size"`
	MaxWaitMs               int     `mapstructure:"max_wait_ms"`
	MinWaitMs               int     `mapstructure:"min_wait_ms"`
	QueueDepthLowThreshold  int     `mapstructure:"queue_depth_low_threshold"`
	QueueDepthHighThreshold int     `mapstructure:"queue_depth_high_threshold"`
	TargetP99Ms             float64 `mapstructure:"target_p99_ms"`
	Workers                 int     `mapstructure:"workers"`
}

// MetricsConfig.QPSWindow sets the span of the metrics API rate. The field
// is still reported as qps_10s.
type MetricsConfig struct {
	WindowSize int           `mapstructure:"window_size"`
	QPSWindow  time.Duration `mapstructure:"qps_window"`
	Namespace  string        `mapstructure:"namespace"`
}

type BenchmarkConfig struct {
	ResultTimeout    time.Duration `mapstructure:"result_timeout"`
	RequestTimeoutMs int           `mapstructure:"request_timeout_ms"`
	MaxBatchSize     int           `mapstructure:"max_batch_size"`
	MaxRequests      int           `mapstructure:"max_requests"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaults = map[string]any{
	"server.host":                         "0.0.0.0",
	"server.port":                         8000,
	"server.read_timeout":                 "10s",
	"server.write_timeout":                "30s",
	"server.shutdown_timeout":             "15s",
	"batching.strategy":                   "fixed",
	"batching.batch_size":                 4,
	"batching.max_wait_ms":                50,
	"batching.min_wait_ms":                5,
	"batching.queue_depth_low_threshold":  8,
	"batching.queue_depth_high_threshold": 64,
	"batching.target_p99_ms":              0,
	"batching.workers":                    1,
	"metrics.window_size":                 5000,
	"metrics.qps_window":                  "10s",
	"metrics.namespace":                   "inference_mock",
	"benchmark.result_timeout":            "10s",
	"benchmark.request_timeout_ms":        5000,
	"benchmark.max_batch_size":            32,
	"benchmark.max_requests":              100,
	"log.level":                           "info",
	"log.format":                          "json",
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Batching.BatchSize <= 0 {
		return fmt.Errorf("batching.batch_size must be > 0")
	}
	if c.Batching.MaxWaitMs <= 0 {
		return fmt.Errorf("batching.max_wait_ms must be > 0")
	}
	if c.Batching.MinWaitMs < 0 || c.Batching.MinWaitMs > c.Batching.MaxWaitMs {
		return fmt.Errorf("batching.min_wait_ms must be in [0, batching.max_wait_ms]")
	}
	if c.Batching.QueueDepthHighThreshold < c.Batching.QueueDepthLowThreshold {
		return fmt.Errorf("batching.queue_depth_high_threshold must be >= batching.queue_depth_low_threshold")
	}
	if c.Batching.Workers <= 0 {
		return fmt.Errorf("batching.workers must be > 0")
	}
	if c.Metrics.WindowSize <= 0 {
		return fmt.Errorf("metrics.window_size must be > 0")
	}
	if c.Metrics.QPSWindow <= 0 {
		return fmt.Errorf("metrics.qps_window must be > 0")
	}
	if c.Benchmark.ResultTimeout <= 0 {
		return fmt.Errorf("benchmark.result_timeout must be > 0")
	}
	if c.Benchmark.RequestTimeoutMs <= 0 {
		return fmt.Errorf("benchmark.request_timeout_ms must be > 0")
	}
	if c.Benchmark.MaxBatchSize <= 0 || c.Benchmark.MaxRequests <= 0 {
		return fmt.Errorf("benchmark.max_batch_size and benchmark.max_requests must be > 0")
	}
	return nil
}

// Load reads config.yaml from path (or ./ and ./config when path is empty),
// then applies IB_* environment overrides. A config.yaml missing from the
// search path is not an error; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key := range defaults {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
