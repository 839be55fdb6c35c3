package application

import (
	"errors"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"frostguard/internal/alarms/evaluator"
)

// Config defines engine configuration.
type Config struct {
	Workers           int              `yaml:"workers"`
	EvaluationTimeout time.Duration    `yaml:"evaluation_timeout"`
	LogBatchSize      int              `yaml:"log_batch_size"`
	CatalogFile       string           `yaml:"catalog_file"`
	CacheTTL          time.Duration    `yaml:"cache_ttl"`
	RecordReadings    bool             `yaml:"record_readings"`
	Tuning            evaluator.Tuning `yaml:"tuning"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Workers:           8,
		EvaluationTimeout: 2 * time.Second,
		LogBatchSize:      50,
		CacheTTL:          5 * time.Minute,
		RecordReadings:    true,
		Tuning:            evaluator.DefaultTuning(),
	}
}

// LoadConfig loads config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	cfg.Workers = getenvIntDefault("ENGINE_WORKERS", cfg.Workers)
	cfg.EvaluationTimeout = getenvDuration("ENGINE_EVALUATION_TIMEOUT", cfg.EvaluationTimeout)
	cfg.LogBatchSize = getenvIntDefault("ENGINE_LOG_BATCH_SIZE", cfg.LogBatchSize)
	cfg.CatalogFile = os.Getenv("CATALOG_FILE")
	cfg.CacheTTL = getenvDuration("CONFIG_CACHE_TTL", cfg.CacheTTL)

	if path := os.Getenv("ENGINE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks config bounds.
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return errors.New("engine config: workers must be positive")
	}
	if c.EvaluationTimeout <= 0 {
		return errors.New("engine config: evaluation_timeout must be positive")
	}
	if c.LogBatchSize <= 0 {
		return errors.New("engine config: log_batch_size must be positive")
	}
	return nil
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
