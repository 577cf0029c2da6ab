// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/Corphon/SceneDirector/internal/errors"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "director.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("写入配置文件失败: %v", err)
	}
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("配置文件不存在时应使用默认值: %v", err)
	}
	if cfg.MaxRetries != DefaultMaxRetries {
		t.Errorf("默认重试次数应为 %d, got %d", DefaultMaxRetries, cfg.MaxRetries)
	}
	if cfg.LLM.MaxTokens != DefaultLLMMaxTokens || cfg.LLM.Temperature != DefaultLLMTemperature {
		t.Errorf("unexpected LLM defaults: %+v", cfg.LLM)
	}
	if cfg.Storage.Backend != StorageBackendNone {
		t.Errorf("默认存储后端应为 none, got %s", cfg.Storage.Backend)
	}
}

func TestLoadFileYAMLAndEnvOverride(t *testing.T) {
	path := writeConfigFile(t, `
port: "9090"
max_retries: 3
llm:
  provider: openai
  model: gpt-4o
storage:
  backend: dir
  dir: /tmp/durable
media:
  concurrency: 8
`)
	t.Setenv("LLM_MODEL", "gpt-4o-mini")
	t.Setenv("MAX_RETRIES", "5")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("port from yaml expected 9090, got %s", cfg.Port)
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("provider from yaml expected openai, got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("环境变量应覆盖配置文件, got %s", cfg.LLM.Model)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("MAX_RETRIES 应覆盖为 5, got %d", cfg.MaxRetries)
	}
	if cfg.Media.Concurrency != 8 {
		t.Errorf("concurrency expected 8, got %d", cfg.Media.Concurrency)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"non-positive retries", func(c *Config) { c.MaxRetries = 0 }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Backend = StorageBackendS3 }},
		{"dir without path", func(c *Config) { c.Storage.Backend = StorageBackendDir }},
	}

	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		err := cfg.Validate()
		if err == nil {
			t.Errorf("%s: 应该返回错误", tc.name)
			continue
		}
		if !apperrors.IsConfigurationError(err) {
			t.Errorf("%s: 应为配置错误, got %v", tc.name, err)
		}
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("默认配置应有效: %v", err)
	}
}
