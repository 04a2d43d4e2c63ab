// Package batch buffers Weaviate objects and references and sends them in
// batches, retrying transient per-item failures and reconciling each reply
// into one outcome per submitted item.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kilupskalvis/wvb/internal/auth"
	"github.com/kilupskalvis/wvb/internal/models"
	"github.com/kilupskalvis/wvb/internal/weaviate"
)

const tracerName = "github.com/kilupskalvis/wvb/internal/batch"

const (
	kindObjects    = "objects"
	kindReferences = "references"
)

// FlushResult is delivered by FlushAsync.
type FlushResult struct {
	Result *models.Result
	Err    error
}

// ObjectsBatcher buffers objects and references and flushes them through a
// Transport. It is safe for concurrent use.
//
// Closing a batcher does not flush it: buffered items are discarded unless the
// caller flushes first or reads them back with Drain.
type ObjectsBatcher struct {
	transport weaviate.Transport
	objects   *buffer[*models.BatchObject]
	refs      *buffer[*models.BatchReference]
	policy    *RetryPolicy
	scheduler *scheduler
	pool      *ants.Pool

	tokens       auth.TokenProvider
	logger       *zap.Logger
	metrics      *Metrics
	tracer       trace.Tracer
	onResult     ResultCallback
	flushTimeout time.Duration
	sleep        func(context.Context, time.Duration) error

	flushMu sync.Mutex
	closed  atomic.Bool
}

// NewObjectsBatcher creates a batcher sending through t. Invalid retry or
// auto-batch settings are rejected with a *ConfigurationError.
func NewObjectsBatcher(t weaviate.Transport, opts ...Option) (*ObjectsBatcher, error) {
	if t == nil {
		return nil, errors.New("transport is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.retries.Validate(); err != nil {
		return nil, err
	}
	if o.auto != nil {
		if err := o.auto.Validate(); err != nil {
			return nil, err
		}
	}
	if o.maxBuffered < 0 {
		return nil, &ConfigurationError{Field: "max_buffered", Reason: "must not be negative"}
	}

	pool, err := ants.NewPool(o.asyncWorkers, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("create flush pool: %w", err)
	}

	tp := o.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	b := &ObjectsBatcher{
		transport:    t,
		objects:      newBuffer[*models.BatchObject](o.maxBuffered),
		refs:         newBuffer[*models.BatchReference](o.maxBuffered),
		policy:       NewRetryPolicy(o.retries),
		pool:         pool,
		tokens:       o.tokens,
		logger:       o.logger,
		metrics:      o.metrics,
		tracer:       tp.Tracer(tracerName),
		onResult:     o.onResult,
		flushTimeout: o.flushTimeout,
		sleep:        o.sleep,
	}

	if o.auto != nil {
		b.scheduler = newScheduler(*o.auto, b.pendingTotals, b.autoFlush, b.logger)
		b.scheduler.start()
	}
	return b, nil
}

// AddObject enqueues an object. An empty ID is filled with a random UUID.
// Ownership of obj passes to the batcher.
func (b *ObjectsBatcher) AddObject(obj *models.BatchObject) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if obj == nil {
		return errors.New("object is nil")
	}
	if obj.Class == "" {
		return errors.New("object class is required")
	}
	if obj.ID == "" {
		obj.ID = uuid.NewString()
	}

	count, _, err := b.objects.add(obj)
	if err != nil {
		return err
	}
	b.metrics.setBuffered(kindObjects, count)
	b.notify()
	return nil
}

// AddReference enqueues a cross-reference.
func (b *ObjectsBatcher) AddReference(ref *models.BatchReference) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if ref == nil {
		return errors.New("reference is nil")
	}
	if ref.FromClass == "" || ref.FromID == "" || ref.FromProperty == "" || ref.ToID == "" {
		return fmt.Errorf("reference %s is incomplete", ref.Key())
	}

	count, _, err := b.refs.add(ref)
	if err != nil {
		return err
	}
	b.metrics.setBuffered(kindReferences, count)
	b.notify()
	return nil
}

func (b *ObjectsBatcher) notify() {
	if b.scheduler == nil {
		return
	}
	b.scheduler.notifyAdd(b.pendingTotals())
}

// pendingTotals sums objects and references for threshold checks.
func (b *ObjectsBatcher) pendingTotals() (int, int64) {
	return b.objects.count() + b.refs.count(), b.objects.byteSize() + b.refs.byteSize()
}

// Pending returns the number of buffered objects and references.
func (b *ObjectsBatcher) Pending() (objects, references int) {
	return b.objects.count(), b.refs.count()
}

// State returns the auto-batch scheduler state, or StateIdle in manual mode.
func (b *ObjectsBatcher) State() SchedulerState {
	if b.scheduler == nil {
		return StateIdle
	}
	return b.scheduler.State()
}

// Drain removes and returns every buffered item without sending it.
func (b *ObjectsBatcher) Drain() ([]*models.BatchObject, []*models.BatchReference) {
	objs := b.objects.drainAll()
	refs := b.refs.drainAll()
	b.metrics.setBuffered(kindObjects, 0)
	b.metrics.setBuffered(kindReferences, 0)
	return objs, refs
}

// Flush sends every buffered item and blocks until all retries finish. The
// result holds one outcome per drained item in submission order. Fatal errors
// are returned as *FlushError carrying the unconfirmed items.
func (b *ObjectsBatcher) Flush(ctx context.Context) (*models.Result, error) {
	return b.flush(ctx, TriggerManual)
}

// FlushAsync runs Flush on the batcher's worker pool. The channel receives
// exactly one FlushResult once reconciliation and retries are done.
func (b *ObjectsBatcher) FlushAsync(ctx context.Context) <-chan FlushResult {
	ch := make(chan FlushResult, 1)
	if b.closed.Load() {
		ch <- FlushResult{Err: ErrClosed}
		return ch
	}

	err := b.pool.Submit(func() {
		result, err := b.flush(ctx, TriggerAsync)
		ch <- FlushResult{Result: result, Err: err}
	})
	switch {
	case errors.Is(err, ants.ErrPoolOverload):
		ch <- FlushResult{Err: ErrAsyncOverload}
	case errors.Is(err, ants.ErrPoolClosed):
		ch <- FlushResult{Err: ErrClosed}
	case err != nil:
		ch <- FlushResult{Err: err}
	}
	return ch
}

// Close stops automatic flushing and the async pool. It waits for an
// in-flight automatic flush but does not flush buffered items.
func (b *ObjectsBatcher) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if b.scheduler != nil {
		b.scheduler.stop()
	}
	b.pool.Release()

	if objs, refs := b.Pending(); objs+refs > 0 {
		b.logger.Warn("batcher closed with unflushed items",
			zap.Int("objects", objs),
			zap.Int("references", refs),
		)
	}
	return nil
}

func (b *ObjectsBatcher) autoFlush(trigger string) {
	ctx := context.Background()
	if b.flushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.flushTimeout)
		defer cancel()
	}

	result, err := b.flush(ctx, trigger)
	if err != nil {
		b.logger.Error("automatic flush failed", zap.String("trigger", trigger), zap.Error(err))
	}
	if b.onResult != nil {
		b.onResult(result, err)
	}
}

func (b *ObjectsBatcher) flush(ctx context.Context, trigger string) (*models.Result, error) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	objs, refs := b.Drain()
	if len(objs) == 0 && len(refs) == 0 {
		return models.NewEmptyResult(), nil
	}

	start := time.Now()
	ctx, span := b.tracer.Start(ctx, "batch.flush", trace.WithAttributes(
		attribute.String("batch.trigger", trigger),
		attribute.Int("batch.objects", len(objs)),
		attribute.Int("batch.references", len(refs)),
	))
	defer span.End()

	fail := func(err error, fe *FlushError) (*models.Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.logger.Error("flush aborted", zap.String("trigger", trigger), zap.Error(err))
		return nil, fe
	}

	objOutcomes, objStatus, err := runCycle(ctx, b, objectCycle(b.transport), objs)
	if err != nil {
		return fail(err, &FlushError{Err: err, Objects: objs, References: refs})
	}
	refOutcomes, refStatus, err := runCycle(ctx, b, referenceCycle(b.transport), refs)
	if err != nil {
		completed := &models.Result{Objects: objOutcomes, References: []models.ObjectOutcome{}}
		completed.StatusCode = aggregateStatus(completed, objStatus)
		return fail(err, &FlushError{Err: err, References: refs, Completed: completed})
	}

	result := &models.Result{Objects: objOutcomes, References: refOutcomes}
	result.StatusCode = aggregateStatus(result, combineStatus(len(objs), objStatus, len(refs), refStatus))

	b.metrics.observeOutcomes(kindObjects, countSuccess(objOutcomes), len(objOutcomes)-countSuccess(objOutcomes))
	b.metrics.observeOutcomes(kindReferences, countSuccess(refOutcomes), len(refOutcomes)-countSuccess(refOutcomes))
	b.metrics.observeFlush(trigger, time.Since(start))

	failed := result.Total() - result.Succeeded()
	span.SetAttributes(attribute.Int("batch.failed", failed), attribute.Int("batch.status", result.StatusCode))
	fields := []zap.Field{
		zap.String("trigger", trigger),
		zap.Int("objects", len(objs)),
		zap.Int("references", len(refs)),
		zap.Int("failed", failed),
		zap.Int("status", result.StatusCode),
		zap.Duration("duration", time.Since(start)),
	}
	if failed > 0 {
		b.logger.Warn("batch flushed with failures", fields...)
	} else {
		b.logger.Debug("batch flushed", fields...)
	}
	return result, nil
}

// combineStatus returns the transport status of the whole flush. It is only
// non-zero when every non-empty kind ended on a transport error.
func combineStatus(nObjs, objStatus, nRefs, refStatus int) int {
	switch {
	case nObjs > 0 && nRefs > 0:
		if objStatus != 0 && refStatus != 0 {
			return objStatus
		}
		return 0
	case nObjs > 0:
		return objStatus
	default:
		return refStatus
	}
}

func countSuccess(outcomes []models.ObjectOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Success {
			n++
		}
	}
	return n
}

// authorize acquires a bearer token and stores it in the send context.
func (b *ObjectsBatcher) authorize(ctx context.Context) (context.Context, error) {
	if b.tokens == nil {
		return ctx, nil
	}
	token, err := b.tokens.Token(ctx)
	if err != nil {
		return nil, &AuthError{Err: err}
	}
	return auth.ContextWithToken(ctx, token), nil
}
