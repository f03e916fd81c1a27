package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ELASTICSEARCH_HOST", "ELASTICSEARCH_API_KEY_ID", "ELASTICSEARCH_API_KEY",
		"ELASTICSEARCH_USERNAME", "ELASTICSEARCH_PASSWORD", "ELASTICPRINTER_TEMP_DIR", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_FileWithDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
elasticsearch:
  host: https://localhost:9200
  api_key: abc
processing:
  keep_pdfs: true
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://localhost:9200", cfg.Elasticsearch.Host)
	assert.Equal(t, "abc", cfg.Elasticsearch.APIKey)
	assert.Equal(t, "print-jobs", cfg.Elasticsearch.Index)
	assert.Equal(t, "attachment", cfg.Elasticsearch.Pipeline)
	assert.True(t, cfg.Elasticsearch.VerifyCerts)
	assert.Equal(t, 30*time.Second, cfg.Elasticsearch.Timeout)
	assert.True(t, cfg.Processing.KeepPDFs)
	assert.Equal(t, "/tmp/elasticprinter", cfg.Processing.TempDir)
	assert.Equal(t, 60*time.Second, cfg.Processing.ConversionTimeout)
	assert.True(t, cfg.Processing.CopyFallback)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 1, cfg.Recovery.Parallelism)
}

func TestLoad_Durations(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
elasticsearch:
  host: http://es:9200
  timeout: 5s
processing:
  conversion_timeout: 2m
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Elasticsearch.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.Processing.ConversionTimeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
elasticsearch:
  host: http://from-file:9200
`)
	t.Setenv("ELASTICSEARCH_HOST", "http://from-env:9200")
	t.Setenv("ELASTICSEARCH_USERNAME", "elastic")
	t.Setenv("ELASTICSEARCH_PASSWORD", "changeme")
	t.Setenv("ELASTICPRINTER_TEMP_DIR", "/var/tmp/ep")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://from-env:9200", cfg.Elasticsearch.Host)
	assert.Equal(t, "elastic", cfg.Elasticsearch.Username)
	assert.Equal(t, "changeme", cfg.Elasticsearch.Password)
	assert.Equal(t, "/var/tmp/ep", cfg.Processing.TempDir)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_LocatesViaEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "elasticsearch:\n  host: http://located:9200\n")
	t.Setenv(EnvConfigPath, path)

	assert.Equal(t, path, Locate())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://located:9200", cfg.Elasticsearch.Host)
}

func TestLoad_MissingHost(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "processing:\n  keep_pdfs: true\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "elasticsearch.host")
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeConfig(t, "elasticsearch: [unterminated")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ok", func(c *Config) {}, ""},
		{"negative timeout", func(c *Config) { c.Elasticsearch.Timeout = -time.Second }, "elasticsearch.timeout"},
		{"empty index", func(c *Config) { c.Elasticsearch.Index = "" }, "elasticsearch.index"},
		{"empty pipeline", func(c *Config) { c.Elasticsearch.Pipeline = "" }, "elasticsearch.pipeline"},
		{"empty temp dir", func(c *Config) { c.Processing.TempDir = "" }, "processing.temp_dir"},
		{"zero conversion timeout", func(c *Config) { c.Processing.ConversionTimeout = 0 }, "processing.conversion_timeout"},
		{"zero parallelism", func(c *Config) { c.Recovery.Parallelism = 0 }, "recovery.parallelism"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Elasticsearch.Host = "http://localhost:9200"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
