package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kilupskalvis/wvb/internal/models"
	"github.com/kilupskalvis/wvb/internal/weaviate"
)

type flushRecord struct {
	result *models.Result
	err    error
	at     time.Time
}

func collectResults() (ResultCallback, <-chan flushRecord) {
	ch := make(chan flushRecord, 16)
	return func(result *models.Result, err error) {
		ch <- flushRecord{result: result, err: err, at: time.Now()}
	}, ch
}

func waitResult(t *testing.T, ch <-chan flushRecord) flushRecord {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no automatic flush")
		return flushRecord{}
	}
}

func TestScheduler_ThresholdFlush(t *testing.T) {
	tr := weaviate.NewMockTransport()
	cb, results := collectResults()
	b := newTestBatcher(t, tr,
		WithAutoBatch(AutoBatchConfig{MaxObjects: 5, MaxBytes: 1 << 30, IdleInterval: time.Hour}),
		WithResultCallback(cb),
	)

	addObjects(t, b, "a", "b", "c", "d", "e")

	r := waitResult(t, results)
	require.NoError(t, r.err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, outcomeIDs(r.result.Objects))
	calls := tr.ObjectCalls()
	require.Len(t, calls, 1)
	assert.Len(t, calls[0], 5)
}

func TestScheduler_ByteThresholdFlush(t *testing.T) {
	tr := weaviate.NewMockTransport()
	cb, results := collectResults()
	b := newTestBatcher(t, tr,
		WithAutoBatch(AutoBatchConfig{MaxObjects: 1000, MaxBytes: 1, IdleInterval: time.Hour}),
		WithResultCallback(cb),
	)

	addObjects(t, b, "a")

	r := waitResult(t, results)
	require.NoError(t, r.err)
	assert.Len(t, r.result.Objects, 1)
}

func TestScheduler_IdleFlush(t *testing.T) {
	tr := weaviate.NewMockTransport()
	cb, results := collectResults()
	b := newTestBatcher(t, tr,
		WithAutoBatch(AutoBatchConfig{MaxObjects: 100, MaxBytes: 1 << 30, IdleInterval: 50 * time.Millisecond}),
		WithResultCallback(cb),
	)

	start := time.Now()
	addObjects(t, b, "a", "b")

	r := waitResult(t, results)
	require.NoError(t, r.err)
	assert.GreaterOrEqual(t, r.at.Sub(start), 50*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, outcomeIDs(r.result.Objects))
	assert.Eventually(t, func() bool { return b.State() == StateIdle }, time.Second, 5*time.Millisecond)
}

func TestScheduler_CoalescesTriggersDuringFlush(t *testing.T) {
	tr := weaviate.NewMockTransport()
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	tr.OnObjects = func(call int, objs []*models.BatchObject) (*weaviate.BatchReply, error) {
		if call == 1 {
			once.Do(func() { close(started) })
			<-release
		}
		return &weaviate.BatchReply{}, nil
	}
	cb, results := collectResults()
	b := newTestBatcher(t, tr,
		WithAutoBatch(AutoBatchConfig{MaxObjects: 2, MaxBytes: 1 << 30, IdleInterval: time.Hour}),
		WithResultCallback(cb),
	)

	addObjects(t, b, "a", "b")
	<-started
	assert.Equal(t, StateFlushing, b.State())

	addObjects(t, b, "c", "d", "e", "f")
	close(release)

	first := waitResult(t, results)
	second := waitResult(t, results)
	require.NoError(t, first.err)
	require.NoError(t, second.err)
	assert.Equal(t, []string{"a", "b"}, outcomeIDs(first.result.Objects))
	assert.Equal(t, []string{"c", "d", "e", "f"}, outcomeIDs(second.result.Objects))
	assert.Len(t, tr.ObjectCalls(), 2)
}

func TestScheduler_CloseStopsFlushing(t *testing.T) {
	tr := weaviate.NewMockTransport()
	b, err := NewObjectsBatcher(tr,
		withSleep(noSleep),
		WithAutoBatch(AutoBatchConfig{MaxObjects: 100, MaxBytes: 1 << 30, IdleInterval: 50 * time.Millisecond}),
	)
	require.NoError(t, err)

	addObjects(t, b, "a")
	require.NoError(t, b.Close())
	assert.Equal(t, StateStopped, b.State())

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, tr.ObjectCalls())
	objs, _ := b.Pending()
	assert.Equal(t, 1, objs)
}

func TestScheduler_ManualFlushWhileAutoEnabled(t *testing.T) {
	tr := weaviate.NewMockTransport()
	b := newTestBatcher(t, tr,
		WithAutoBatch(AutoBatchConfig{MaxObjects: 100, MaxBytes: 1 << 30, IdleInterval: time.Hour}),
	)

	addObjects(t, b, "a")
	result, err := b.Flush(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Objects, 1)
}

func TestScheduler_StaleKickBelowThresholdRearmsIdleTimer(t *testing.T) {
	var mu sync.Mutex
	var triggers []string
	flush := func(trigger string) {
		mu.Lock()
		defer mu.Unlock()
		triggers = append(triggers, trigger)
	}
	// one item left after a manual flush drained the batch that queued the kick
	pending := func() (int, int64) { return 1, 10 }

	s := newScheduler(AutoBatchConfig{MaxObjects: 5, MaxBytes: 1 << 30, IdleInterval: time.Hour}, pending, flush, zap.NewNop())
	signal(s.kick)
	s.start()

	require.Eventually(t, func() bool { return s.State() == StateScheduled }, 5*time.Second, time.Millisecond)
	s.stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, triggers)
}

func TestScheduler_KickAboveThresholdFlushes(t *testing.T) {
	flushed := make(chan string, 1)
	count := 5
	var mu sync.Mutex
	pending := func() (int, int64) {
		mu.Lock()
		defer mu.Unlock()
		return count, 50
	}
	flush := func(trigger string) {
		mu.Lock()
		count = 0
		mu.Unlock()
		flushed <- trigger
	}

	s := newScheduler(AutoBatchConfig{MaxObjects: 5, MaxBytes: 1 << 30, IdleInterval: time.Hour}, pending, flush, zap.NewNop())
	signal(s.kick)
	s.start()
	defer s.stop()

	select {
	case trigger := <-flushed:
		assert.Equal(t, TriggerThreshold, trigger)
	case <-time.After(5 * time.Second):
		t.Fatal("no threshold flush")
	}
}
