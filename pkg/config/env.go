// Package config loads the process environment and YAML run files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/Sternrassler/et-gather/pkg/client"
	"github.com/Sternrassler/et-gather/pkg/logging"
)

// EnvPrefix prefixes every environment variable, e.g. ET_KEY.
const EnvPrefix = "et"

// Environment contains the imported environment variables.
type Environment struct {
	// API key sent in the Authorization header
	Key string `json:"-"`
	// Log level (debug, info, warn, error)
	LogLevel string `default:"info" split_words:"true"`
	// Human readable console logs
	LogPretty bool `split_words:"true"`
	// Directory for per-run log files, empty disables file logging
	LogDir string `split_words:"true"`
	// Timeout of a single request
	Timeout time.Duration `default:"5m"`
	// Retries per bounded retry cycle
	MaxRetries int `default:"3" split_words:"true"`
	// Upper bound of the exponential backoff
	MaxBackoff time.Duration `default:"60s" split_words:"true"`
	// Ask on the terminal how to continue after retries run out
	Interactive bool `default:"true"`
	// Root of the packet run directories
	PacketDir string `default:"data/bin" split_words:"true"`
	// Directory of the persisted field queue, empty keeps the queue in memory
	QueueDir string `split_words:"true"`
	// Name of the persisted field queue
	QueueName string `default:"fields" split_words:"true"`
	// Redis address of the response cache, empty disables caching
	RedisAddr string `split_words:"true"`
	// Lifetime of cached responses
	CacheTTL time.Duration `default:"24h" envconfig:"CACHE_TTL"`
	// SQLite ledger path, empty disables the ledger
	LedgerPath string `split_words:"true"`
	// Address of the /metrics and /health server, empty disables it
	MetricsAddr string `split_words:"true"`
	// Cloud Storage bucket for exports, empty disables uploads
	GCSBucket string `envconfig:"GCS_BUCKET"`
	// Object prefix inside the bucket
	GCSPrefix string `envconfig:"GCS_PREFIX"`
	// Service account file, empty uses application default credentials
	GCSCredentials string `envconfig:"GCS_CREDENTIALS"`
}

func (e Environment) String() string {
	settings, err := json.MarshalIndent(e, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal env: %v", err).Error()
	}
	return fmt.Sprintf("Environment Settings:\n%s\n", string(settings))
}

// LoadEnv reads envFile when it exists and then the process environment.
// Variables already set in the environment win over the file.
func LoadEnv(envFile string) (*Environment, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("loading %s: %w", envFile, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	var env Environment
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, fmt.Errorf("processing environment config: %w", err)
	}
	return &env, nil
}

// ClientConfig returns the request client settings.
func (e Environment) ClientConfig() client.Config {
	cfg := client.DefaultConfig(e.Key)
	cfg.Timeout = e.Timeout
	cfg.Retry.MaxRetries = e.MaxRetries
	cfg.Retry.MaxBackoff = e.MaxBackoff
	if cfg.Retry.BaseBackoff > cfg.Retry.MaxBackoff {
		cfg.Retry.BaseBackoff = cfg.Retry.MaxBackoff
	}
	return cfg
}

// LogConfig returns the logger settings without a file.
func (e Environment) LogConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(e.LogLevel)
	cfg.Pretty = e.LogPretty
	return cfg
}
