package batch

import "time"

// Defaults for BatchRetriesConfig and AutoBatchConfig.
const (
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultBackoffFactor  = 2.0
	DefaultMaxBackoff     = 30 * time.Second

	DefaultMaxObjects   = 100
	DefaultMaxBytes     = 10 << 20 // 10 MiB
	DefaultIdleInterval = time.Second
)

// BatchRetriesConfig configures retry behavior for failed batch items.
type BatchRetriesConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	BackoffFactor  float64
	MaxBackoff     time.Duration
}

// DefaultBatchRetriesConfig returns sensible retry defaults.
func DefaultBatchRetriesConfig() BatchRetriesConfig {
	return BatchRetriesConfig{
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		BackoffFactor:  DefaultBackoffFactor,
		MaxBackoff:     DefaultMaxBackoff,
	}
}

// Validate rejects non-positive settings.
func (c BatchRetriesConfig) Validate() error {
	switch {
	case c.MaxRetries <= 0:
		return &ConfigurationError{Field: "max_retries", Reason: "must be positive"}
	case c.InitialBackoff <= 0:
		return &ConfigurationError{Field: "initial_backoff", Reason: "must be positive"}
	case c.BackoffFactor <= 0:
		return &ConfigurationError{Field: "backoff_factor", Reason: "must be positive"}
	case c.MaxBackoff <= 0:
		return &ConfigurationError{Field: "max_backoff", Reason: "must be positive"}
	case c.MaxBackoff < c.InitialBackoff:
		return &ConfigurationError{Field: "max_backoff", Reason: "must not be below initial_backoff"}
	}
	return nil
}

// AutoBatchConfig configures background flushing.
type AutoBatchConfig struct {
	MaxObjects   int           // flush once this many items are buffered
	MaxBytes     int64         // flush once the buffered payload estimate reaches this size
	IdleInterval time.Duration // flush when no item arrived for this long
}

// DefaultAutoBatchConfig returns sensible auto-batch defaults.
func DefaultAutoBatchConfig() AutoBatchConfig {
	return AutoBatchConfig{
		MaxObjects:   DefaultMaxObjects,
		MaxBytes:     DefaultMaxBytes,
		IdleInterval: DefaultIdleInterval,
	}
}

// Validate rejects non-positive settings.
func (c AutoBatchConfig) Validate() error {
	switch {
	case c.MaxObjects <= 0:
		return &ConfigurationError{Field: "max_objects", Reason: "must be positive"}
	case c.MaxBytes <= 0:
		return &ConfigurationError{Field: "max_bytes", Reason: "must be positive"}
	case c.IdleInterval <= 0:
		return &ConfigurationError{Field: "idle_interval", Reason: "must be positive"}
	}
	return nil
}
