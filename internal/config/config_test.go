package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Batching: BatchingConfig{
			BatchSize:               4,
			MaxWaitMs:               50,
			MinWaitMs:               5,
			QueueDepthLowThreshold:  8,
			QueueDepthHighThreshold: 64,
			Workers:                 1,
		},
		Metrics: MetricsConfig{
			WindowSize: 5000,
			QPSWindow:  10 * time.Second,
		},
		Benchmark: BenchmarkConfig{
			ResultTimeout:    10 * time.Second,
			RequestTimeoutMs: 5000,
			MaxBatchSize:     32,
			MaxRequests:      100,
		},
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"server port must be > 0", func(cfg *Config) { cfg.Server.Port = 0 }},
		{"batch size must be > 0", func(cfg *Config) { cfg.Batching.BatchSize = 0 }},
		{"max wait must be > 0", func(cfg *Config) { cfg.Batching.MaxWaitMs = 0 }},
		{"min wait must be <= max wait", func(cfg *Config) { cfg.Batching.MinWaitMs = 100 }},
		{"min wait must be >= 0", func(cfg *Config) { cfg.Batching.MinWaitMs = -1 }},
		{"high threshold must be >= low threshold", func(cfg *Config) {
			cfg.Batching.QueueDepthLowThreshold = 10
			cfg.Batching.QueueDepthHighThreshold = 5
		}},
		{"workers must be > 0", func(cfg *Config) { cfg.Batching.Workers = 0 }},
		{"window size must be > 0", func(cfg *Config) { cfg.Metrics.WindowSize = 0 }},
		{"qps window must be > 0", func(cfg *Config) { cfg.Metrics.QPSWindow = 0 }},
		{"result timeout must be > 0", func(cfg *Config) { cfg.Benchmark.ResultTimeout = 0 }},
		{"request timeout must be > 0", func(cfg *Config) { cfg.Benchmark.RequestTimeoutMs = 0 }},
		{"benchmark limits must be > 0", func(cfg *Config) { cfg.Benchmark.MaxRequests = 0 }},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			cfg := validConfig()
			testCase.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func chdirTemp(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd failed: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(oldWD)
	})
	return tmpDir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults: %v", err)
	}
	if cfg.Batching.BatchSize != 4 || cfg.Batching.MaxWaitMs != 50 {
		t.Errorf("unexpected batching defaults: %+v", cfg.Batching)
	}
	if cfg.Batching.Strategy != "fixed" || cfg.Batching.Workers != 1 {
		t.Errorf("unexpected strategy defaults: %+v", cfg.Batching)
	}
	if cfg.Metrics.WindowSize != 5000 || cfg.Metrics.QPSWindow != 10*time.Second {
		t.Errorf("unexpected metrics defaults: %+v", cfg.Metrics)
	}
	if cfg.Benchmark.ResultTimeout != 10*time.Second || cfg.Benchmark.RequestTimeoutMs != 5000 {
		t.Errorf("unexpected benchmark defaults: %+v", cfg.Benchmark)
	}
	if cfg.Server.Addr() != "0.0.0.0:8000" {
		t.Errorf("unexpected addr %s", cfg.Server.Addr())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	chdirTemp(t)

	t.Setenv("IB_SERVER_PORT", "8081")
	t.Setenv("IB_BATCHING_BATCH_SIZE", "8")
	t.Setenv("IB_BATCHING_MAX_WAIT_MS", "20")
	t.Setenv("IB_BATCHING_MIN_WAIT_MS", "2")
	t.Setenv("IB_METRICS_QPS_WINDOW", "5s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected Load() to succeed with env overrides: %v", err)
	}
	if cfg.Server.Port != 8081 {
		t.Fatalf("expected server.port=8081, got %d", cfg.Server.Port)
	}
	if cfg.Batching.BatchSize != 8 || cfg.Batching.MaxWaitMs != 20 {
		t.Fatalf("unexpected batching config: %+v", cfg.Batching)
	}
	if cfg.Metrics.QPSWindow != 5*time.Second {
		t.Fatalf("expected qps window 5s, got %v", cfg.Metrics.QPSWindow)
	}
}

func TestLoadFile(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "custom.yaml")
	content := []byte("batching:\n  batch_size: 16\n  strategy: queue_depth\nlog:\n  level: debug\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected Load(%s) to succeed: %v", path, err)
	}
	if cfg.Batching.BatchSize != 16 || cfg.Batching.Strategy != "queue_depth" {
		t.Errorf("unexpected batching config: %+v", cfg.Batching)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Log.Level)
	}
	if cfg.Batching.MaxWaitMs != 50 {
		t.Errorf("expected default max wait to survive, got %d", cfg.Batching.MaxWaitMs)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	chdirTemp(t)
	t.Setenv("IB_BATCHING_BATCH_SIZE", "0")

	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for batch_size=0")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	dir := chdirTemp(t)
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}
