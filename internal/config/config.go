// Package config manages wvb configuration and the .wvb directory structure.
// It handles loading, saving, and initializing the project configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/kilupskalvis/wvb/internal/batch"
)

const (
	WVBDir               = ".wvb"
	ConfigFile           = "config"
	DeadLetterBoltFile   = "deadletter.db"
	DeadLetterSQLiteFile = "deadletter.sqlite"
)

// Environment variables that override the config file.
const (
	EnvAPIKey      = "WVB_API_KEY"
	EnvWeaviateURL = "WVB_WEAVIATE_URL"
)

// Transport names.
const (
	TransportREST = "rest"
	TransportGRPC = "grpc"
)

// ErrNotInitialized is returned when no .wvb directory is found.
var ErrNotInitialized = errors.New("not a wvb project (or any parent up to root)")

// Duration is a time.Duration written as a string such as "500ms".
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config represents the wvb configuration
type Config struct {
	Weaviate   WeaviateConfig   `toml:"weaviate"`
	Batch      BatchConfig      `toml:"batch"`
	AutoBatch  AutoBatchConfig  `toml:"auto_batch"`
	DeadLetter DeadLetterConfig `toml:"dead_letter"`
	Log        LogConfig        `toml:"log"`
	path       string           // path to .wvb directory
}

// WeaviateConfig selects and configures the transport.
type WeaviateConfig struct {
	URL              string     `toml:"url"`
	Transport        string     `toml:"transport"` // rest or grpc
	GRPCHost         string     `toml:"grpc_host,omitempty"`
	GRPCSecured      bool       `toml:"grpc_secured"`
	APIKey           string     `toml:"api_key,omitempty"`
	ConsistencyLevel string     `toml:"consistency_level,omitempty"`
	Timeout          Duration   `toml:"timeout"`
	ServerVersion    string     `toml:"server_version,omitempty"` // detected on init
	OIDC             OIDCConfig `toml:"oidc,omitempty"`
}

// OIDCConfig configures the client-credentials flow. It is used when
// TokenURL is set and no API key is configured.
type OIDCConfig struct {
	TokenURL     string   `toml:"token_url,omitempty"`
	ClientID     string   `toml:"client_id,omitempty"`
	ClientSecret string   `toml:"client_secret,omitempty"`
	Scopes       []string `toml:"scopes,omitempty"`
}

// BatchConfig holds retry and buffering settings.
type BatchConfig struct {
	MaxRetries     int      `toml:"max_retries"`
	InitialBackoff Duration `toml:"initial_backoff"`
	BackoffFactor  float64  `toml:"backoff_factor"`
	MaxBackoff     Duration `toml:"max_backoff"`
	MaxBuffered    int      `toml:"max_buffered"`
	AsyncWorkers   int      `toml:"async_workers"`
}

// AutoBatchConfig holds background flush settings.
type AutoBatchConfig struct {
	Enabled      bool     `toml:"enabled"`
	MaxObjects   int      `toml:"max_objects"`
	MaxBytes     int64    `toml:"max_bytes"`
	IdleInterval Duration `toml:"idle_interval"`
}

// DeadLetterConfig selects the dead-letter journal.
type DeadLetterConfig struct {
	Enabled bool   `toml:"enabled"`
	Backend string `toml:"backend"` // bbolt or sqlite
	File    string `toml:"file,omitempty"`
}

// LogConfig configures the CLI logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json or console
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	retries := batch.DefaultBatchRetriesConfig()
	auto := batch.DefaultAutoBatchConfig()
	return &Config{
		Weaviate: WeaviateConfig{
			URL:       "http://localhost:8080",
			Transport: TransportREST,
			Timeout:   Duration{60 * time.Second},
		},
		Batch: BatchConfig{
			MaxRetries:     retries.MaxRetries,
			InitialBackoff: Duration{retries.InitialBackoff},
			BackoffFactor:  retries.BackoffFactor,
			MaxBackoff:     Duration{retries.MaxBackoff},
			AsyncWorkers:   4,
		},
		AutoBatch: AutoBatchConfig{
			Enabled:      true,
			MaxObjects:   auto.MaxObjects,
			MaxBytes:     auto.MaxBytes,
			IdleInterval: Duration{auto.IdleInterval},
		},
		DeadLetter: DeadLetterConfig{
			Enabled: true,
			Backend: "bbolt",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// FindWVBRoot finds the .wvb directory by walking up from current directory
func FindWVBRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		wvbPath := filepath.Join(dir, WVBDir)
		if info, err := os.Stat(wvbPath); err == nil && info.IsDir() {
			return wvbPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotInitialized
		}
		dir = parent
	}
}

// Load loads the configuration from the .wvb directory
func Load() (*Config, error) {
	wvbPath, err := FindWVBRoot()
	if err != nil {
		return nil, err
	}
	return LoadFile(filepath.Join(wvbPath, ConfigFile))
}

// LoadFile loads a config file. Keys missing from the file keep their
// defaults; environment overrides are applied last.
func LoadFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.path = filepath.Dir(configPath)
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Weaviate.APIKey = v
	}
	if v := os.Getenv(EnvWeaviateURL); v != "" {
		c.Weaviate.URL = v
	}
}

// Validate checks settings that the batch package does not.
func (c *Config) Validate() error {
	switch c.Weaviate.Transport {
	case TransportREST:
	case TransportGRPC:
		if c.Weaviate.GRPCHost == "" {
			return fmt.Errorf("weaviate.grpc_host is required for the grpc transport")
		}
	default:
		return fmt.Errorf("unknown weaviate.transport %q", c.Weaviate.Transport)
	}
	if c.Weaviate.URL == "" {
		return fmt.Errorf("weaviate.url is required")
	}
	switch c.DeadLetter.Backend {
	case "bbolt", "sqlite":
	default:
		return fmt.Errorf("unknown dead_letter.backend %q", c.DeadLetter.Backend)
	}
	if err := c.Retries().Validate(); err != nil {
		return err
	}
	return c.AutoBatchSettings().Validate()
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	configPath := filepath.Join(c.path, ConfigFile)
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(configPath, data, 0600)
}

// WVBPath returns the path to the .wvb directory
func (c *Config) WVBPath() string {
	return c.path
}

// DeadLetterPath returns the path to the dead-letter journal
func (c *Config) DeadLetterPath() string {
	if c.DeadLetter.File != "" {
		if filepath.IsAbs(c.DeadLetter.File) {
			return c.DeadLetter.File
		}
		return filepath.Join(c.path, c.DeadLetter.File)
	}
	if c.DeadLetter.Backend == "sqlite" {
		return filepath.Join(c.path, DeadLetterSQLiteFile)
	}
	return filepath.Join(c.path, DeadLetterBoltFile)
}

// Retries converts the batch section to the batcher's retry settings.
func (c *Config) Retries() batch.BatchRetriesConfig {
	return batch.BatchRetriesConfig{
		MaxRetries:     c.Batch.MaxRetries,
		InitialBackoff: c.Batch.InitialBackoff.Duration,
		BackoffFactor:  c.Batch.BackoffFactor,
		MaxBackoff:     c.Batch.MaxBackoff.Duration,
	}
}

// AutoBatchSettings converts the auto_batch section to the batcher's settings.
func (c *Config) AutoBatchSettings() batch.AutoBatchConfig {
	return batch.AutoBatchConfig{
		MaxObjects:   c.AutoBatch.MaxObjects,
		MaxBytes:     c.AutoBatch.MaxBytes,
		IdleInterval: c.AutoBatch.IdleInterval.Duration,
	}
}

// Initialize creates a new .wvb directory in dir with initial configuration
func Initialize(dir, weaviateURL string) (*Config, error) {
	wvbPath := filepath.Join(dir, WVBDir)

	// Check if already initialized
	if _, err := os.Stat(wvbPath); err == nil {
		return nil, fmt.Errorf("wvb project already exists")
	}

	if err := os.MkdirAll(wvbPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create .wvb directory: %w", err)
	}

	cfg := Default()
	if weaviateURL != "" {
		cfg.Weaviate.URL = weaviateURL
	}
	cfg.path = wvbPath

	if err := cfg.Save(); err != nil {
		// Cleanup on failure
		os.RemoveAll(wvbPath)
		return nil, err
	}

	return cfg, nil
}
