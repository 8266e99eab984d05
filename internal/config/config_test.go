package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("默认配置应可加载: %v", err)
	}
	if cfg.Cache.DefaultDuration != 5*time.Minute {
		t.Fatalf("默认缓存时长应为 5m, 实际 %s", cfg.Cache.DefaultDuration)
	}
	if cfg.Analysis.BatchSize != 5 || cfg.Analysis.BatchDelay != time.Second {
		t.Fatalf("批处理默认值不正确: %+v", cfg.Analysis)
	}
	if cfg.Monitoring.Interval != time.Minute {
		t.Fatalf("监控间隔默认应为 60s, 实际 %s", cfg.Monitoring.Interval)
	}
	if cfg.Analysis.MaxBatchTokens != 50 {
		t.Fatalf("批量上限应为 50, 实际 %d", cfg.Analysis.MaxBatchTokens)
	}
	if cfg.Server.BatchTimeout <= cfg.Server.RequestTimeout {
		t.Fatalf("批量超时应长于普通请求超时: %s <= %s", cfg.Server.BatchTimeout, cfg.Server.RequestTimeout)
	}
	if cfg.Analysis.Timeout != 2*time.Minute {
		t.Fatalf("共享分析超时默认应为 2m, 实际 %s", cfg.Analysis.Timeout)
	}
}

func TestLoadProviderKeysFromPlainEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("COINGECKO_API_KEY", "cg-key")
	t.Setenv("MORALIS_API_KEY", "moralis-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Providers.CoinGecko.APIKey != "cg-key" {
		t.Fatalf("COINGECKO_API_KEY 未生效: %q", cfg.Providers.CoinGecko.APIKey)
	}
	if cfg.Providers.Moralis.APIKey != "moralis-key" {
		t.Fatalf("MORALIS_API_KEY 未生效: %q", cfg.Providers.Moralis.APIKey)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "riskscope.yaml")
	content := []byte(`
cache:
  backend: redis
  redis:
    addr: localhost:6379
analysis:
  batch_size: 3
monitoring:
  interval: 30s
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.Redis.Addr != "localhost:6379" {
		t.Fatalf("redis 配置未读取: %+v", cfg.Cache)
	}
	if cfg.Analysis.BatchSize != 3 {
		t.Fatalf("batch_size 应为 3, 实际 %d", cfg.Analysis.BatchSize)
	}
	if cfg.Monitoring.Interval != 30*time.Second {
		t.Fatalf("interval 应为 30s, 实际 %s", cfg.Monitoring.Interval)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())
	base, err := Load("")
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}

	cases := map[string]func(c *Config){
		"unknown backend":    func(c *Config) { c.Cache.Backend = "memcached" },
		"redis without addr": func(c *Config) { c.Cache.Backend = "redis"; c.Cache.Redis.Addr = "" },
		"zero batch size":    func(c *Config) { c.Analysis.BatchSize = 0 },
		"zero retries":       func(c *Config) { c.Analysis.MaxRetries = 0 },
		"telegram missing":   func(c *Config) { c.Alerting.Telegram.Enabled = true },
		"max below default":  func(c *Config) { c.Cache.MaxDuration = time.Second },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := *base
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("%s 应校验失败", name)
			}
		})
	}
}
