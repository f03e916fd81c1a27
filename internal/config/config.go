// Package config loads elasticprinter settings from YAML with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that points at the config file.
const EnvConfigPath = "ELASTICPRINTER_CONFIG"

// Config holds all configuration for the print backend.
type Config struct {
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Processing    ProcessingConfig    `yaml:"processing"`
	Logging       LoggingConfig       `yaml:"logging"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Recovery      RecoveryConfig      `yaml:"recovery"`
}

// ElasticsearchConfig holds index engine connection settings.
type ElasticsearchConfig struct {
	Host        string        `yaml:"host"`
	Index       string        `yaml:"index"`
	Pipeline    string        `yaml:"pipeline"`
	APIKeyID    string        `yaml:"api_key_id"`
	APIKey      string        `yaml:"api_key"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	VerifyCerts bool          `yaml:"verify_certs"`
	Timeout     time.Duration `yaml:"timeout"` // per request, 0 disables
	// ScopeIDsByUser includes the requester in document ids so that equal job ids
	// from different users do not overwrite each other.
	ScopeIDsByUser bool `yaml:"scope_ids_by_user"`
}

// ProcessingConfig holds conversion and retention settings.
type ProcessingConfig struct {
	TempDir           string        `yaml:"temp_dir"`
	KeepPDFs          bool          `yaml:"keep_pdfs"`
	ConversionTimeout time.Duration `yaml:"conversion_timeout"`
	CopyFallback      bool          `yaml:"copy_fallback"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// LedgerConfig holds Firestore job ledger settings. Empty ProjectID disables the ledger.
type LedgerConfig struct {
	ProjectID  string `yaml:"project_id"`
	Collection string `yaml:"collection"`
}

// ArchiveConfig holds GCS archive settings. Empty Bucket disables archiving.
type ArchiveConfig struct {
	Bucket string `yaml:"bucket"`
}

// RecoveryConfig holds settings for reprocessing jobs stuck in the CUPS queue.
type RecoveryConfig struct {
	Printer     string `yaml:"printer"`
	SpoolDir    string `yaml:"spool_dir"`
	Parallelism int    `yaml:"parallelism"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// An empty path searches the default locations; finding nothing is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	cfg := DefaultConfig()

	if path == "" {
		path = Locate()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Locate returns the first existing config file among the default locations, or "".
func Locate() string {
	candidates := []string{os.Getenv(EnvConfigPath)}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".elasticprinter", "config.yaml"))
	}
	candidates = append(candidates, "/etc/elasticprinter/config.yaml")

	for _, c := range candidates {
		if c == "" {
			continue
		}
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

// DefaultConfig returns a configuration with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Elasticsearch: ElasticsearchConfig{
			Index:       "print-jobs",
			Pipeline:    "attachment",
			VerifyCerts: true,
			Timeout:     30 * time.Second,
		},
		Processing: ProcessingConfig{
			TempDir:           "/tmp/elasticprinter",
			ConversionTimeout: 60 * time.Second,
			CopyFallback:      true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Ledger: LedgerConfig{
			Collection: "print-jobs",
		},
		Recovery: RecoveryConfig{
			Printer:     "ElasticPrinter",
			SpoolDir:    "/var/spool/cups",
			Parallelism: 1,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Elasticsearch.Host) == "" {
		return fmt.Errorf("elasticsearch.host must be set")
	}
	if c.Elasticsearch.Index == "" {
		return fmt.Errorf("elasticsearch.index must not be empty")
	}
	if c.Elasticsearch.Pipeline == "" {
		return fmt.Errorf("elasticsearch.pipeline must not be empty")
	}
	if c.Elasticsearch.Timeout < 0 {
		return fmt.Errorf("elasticsearch.timeout must not be negative")
	}
	if c.Processing.TempDir == "" {
		return fmt.Errorf("processing.temp_dir must not be empty")
	}
	if c.Processing.ConversionTimeout <= 0 {
		return fmt.Errorf("processing.conversion_timeout must be positive")
	}
	if c.Recovery.Parallelism < 1 {
		return fmt.Errorf("recovery.parallelism must be at least 1")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ELASTICSEARCH_HOST"); v != "" {
		cfg.Elasticsearch.Host = v
	}
	if v := os.Getenv("ELASTICSEARCH_API_KEY_ID"); v != "" {
		cfg.Elasticsearch.APIKeyID = v
	}
	if v := os.Getenv("ELASTICSEARCH_API_KEY"); v != "" {
		cfg.Elasticsearch.APIKey = v
	}
	if v := os.Getenv("ELASTICSEARCH_USERNAME"); v != "" {
		cfg.Elasticsearch.Username = v
	}
	if v := os.Getenv("ELASTICSEARCH_PASSWORD"); v != "" {
		cfg.Elasticsearch.Password = v
	}
	if v := os.Getenv("ELASTICPRINTER_TEMP_DIR"); v != "" {
		cfg.Processing.TempDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
