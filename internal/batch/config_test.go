package batch

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBatchRetriesConfig_Defaults(t *testing.T) {
	cfg := DefaultBatchRetriesConfig()

	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 2.0, cfg.BackoffFactor)
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
}

func TestBatchRetriesConfig_Validate(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*BatchRetriesConfig)
		field string
	}{
		{"zero retries", func(c *BatchRetriesConfig) { c.MaxRetries = 0 }, "max_retries"},
		{"negative retries", func(c *BatchRetriesConfig) { c.MaxRetries = -1 }, "max_retries"},
		{"zero initial backoff", func(c *BatchRetriesConfig) { c.InitialBackoff = 0 }, "initial_backoff"},
		{"zero factor", func(c *BatchRetriesConfig) { c.BackoffFactor = 0 }, "backoff_factor"},
		{"zero max backoff", func(c *BatchRetriesConfig) { c.MaxBackoff = 0 }, "max_backoff"},
		{"max below initial", func(c *BatchRetriesConfig) { c.MaxBackoff = time.Millisecond }, "max_backoff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultBatchRetriesConfig()
			tt.edit(&cfg)

			var cfgErr *ConfigurationError
			err := cfg.Validate()
			if assert.True(t, errors.As(err, &cfgErr)) {
				assert.Equal(t, tt.field, cfgErr.Field)
			}
		})
	}
}

func TestAutoBatchConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultAutoBatchConfig().Validate())

	cfg := DefaultAutoBatchConfig()
	cfg.MaxObjects = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultAutoBatchConfig()
	cfg.MaxBytes = -1
	assert.Error(t, cfg.Validate())

	cfg = DefaultAutoBatchConfig()
	cfg.IdleInterval = 0
	assert.Error(t, cfg.Validate())
}
