package batch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kilupskalvis/wvb/internal/auth"
	"github.com/kilupskalvis/wvb/internal/models"
)

// ResultCallback receives the outcome of every automatic flush.
type ResultCallback func(result *models.Result, err error)

// Option configures an ObjectsBatcher.
type Option func(*options)

type options struct {
	retries        BatchRetriesConfig
	auto           *AutoBatchConfig
	logger         *zap.Logger
	metrics        *Metrics
	tracerProvider trace.TracerProvider
	tokens         auth.TokenProvider
	onResult       ResultCallback
	maxBuffered    int
	asyncWorkers   int
	flushTimeout   time.Duration
	sleep          func(context.Context, time.Duration) error
}

func defaultOptions() options {
	return options{
		retries:      DefaultBatchRetriesConfig(),
		logger:       zap.NewNop(),
		asyncWorkers: 4,
		sleep:        sleep,
	}
}

// WithRetries overrides the retry configuration.
func WithRetries(cfg BatchRetriesConfig) Option {
	return func(o *options) { o.retries = cfg }
}

// WithAutoBatch enables background flushing with the given thresholds.
// Without it the batcher only flushes on explicit Flush calls.
func WithAutoBatch(cfg AutoBatchConfig) Option {
	return func(o *options) { o.auto = &cfg }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records flush metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracerProvider sets the provider for flush and send spans. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithTokenProvider acquires a bearer token before every send.
func WithTokenProvider(p auth.TokenProvider) Option {
	return func(o *options) { o.tokens = p }
}

// WithResultCallback receives automatic flush results. The callback runs on
// the scheduler goroutine and must not call Close.
func WithResultCallback(fn ResultCallback) Option {
	return func(o *options) { o.onResult = fn }
}

// WithMaxBuffered caps the number of buffered items per kind. Adds beyond the
// cap fail with ErrCapacityExceeded.
func WithMaxBuffered(n int) Option {
	return func(o *options) { o.maxBuffered = n }
}

// WithAsyncWorkers sizes the pool that runs FlushAsync calls.
func WithAsyncWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.asyncWorkers = n
		}
	}
}

// WithFlushTimeout bounds each automatic flush, retries included.
func WithFlushTimeout(d time.Duration) Option {
	return func(o *options) { o.flushTimeout = d }
}
