package batch

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// SchedulerState is the state of the auto-batch flush scheduler.
type SchedulerState int32

const (
	StateIdle      SchedulerState = iota // nothing buffered, no timer armed
	StateScheduled                       // items buffered, idle timer armed
	StateFlushing                        // a scheduled flush is running
	StateStopped
)

func (s SchedulerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateFlushing:
		return "flushing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Flush triggers reported to metrics and the result callback.
const (
	TriggerManual    = "manual"
	TriggerAsync     = "async"
	TriggerThreshold = "threshold"
	TriggerIdle      = "idle"
)

// scheduler runs automatic flushes on a single goroutine, so at most one
// scheduled flush is in flight. Signals arriving while it is flushing stay
// queued in the buffered channels and are re-evaluated afterwards.
type scheduler struct {
	cfg     AutoBatchConfig
	pending func() (int, int64)
	flush   func(trigger string)
	logger  *zap.Logger

	touch  chan struct{}
	kick   chan struct{}
	stopCh chan struct{}
	done   chan struct{}
	timer  *time.Timer

	state    atomic.Int32
	stopOnce sync.Once
}

func newScheduler(cfg AutoBatchConfig, pending func() (int, int64), flush func(string), logger *zap.Logger) *scheduler {
	timer := time.NewTimer(cfg.IdleInterval)
	timer.Stop()
	return &scheduler{
		cfg:     cfg,
		pending: pending,
		flush:   flush,
		logger:  logger,
		touch:   make(chan struct{}, 1),
		kick:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		timer:   timer,
	}
}

func (s *scheduler) start() {
	go s.run()
}

// State returns the current scheduler state.
func (s *scheduler) State() SchedulerState {
	return SchedulerState(s.state.Load())
}

// notifyAdd is called after every add with the buffer totals after the add.
func (s *scheduler) notifyAdd(count int, bytes int64) {
	if s.crossed(count, bytes) {
		signal(s.kick)
		return
	}
	signal(s.touch)
}

func (s *scheduler) crossed(count int, bytes int64) bool {
	return count >= s.cfg.MaxObjects || bytes >= s.cfg.MaxBytes
}

// stop ends automatic flushing and waits for an in-flight scheduled flush.
// It must not be called from the flush callback.
func (s *scheduler) stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.done
	})
}

func (s *scheduler) run() {
	defer close(s.done)
	defer s.state.Store(int32(StateStopped))
	defer s.timer.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-s.touch:
			s.timer.Reset(s.cfg.IdleInterval)
			s.state.Store(int32(StateScheduled))
		case <-s.kick:
			// A manual flush may have drained the buffer since the kick was queued.
			count, bytes := s.pending()
			switch {
			case s.crossed(count, bytes):
				s.runFlush(TriggerThreshold)
			case count > 0:
				s.timer.Reset(s.cfg.IdleInterval)
				s.state.Store(int32(StateScheduled))
			}
		case <-s.timer.C:
			if count, _ := s.pending(); count > 0 {
				s.runFlush(TriggerIdle)
			} else {
				s.state.Store(int32(StateIdle))
			}
		}
	}
}

func (s *scheduler) runFlush(trigger string) {
	s.timer.Stop()
	s.state.Store(int32(StateFlushing))
	s.flush(trigger)

	// The buffer may have grown while flushing
	count, bytes := s.pending()
	switch {
	case count == 0:
		s.state.Store(int32(StateIdle))
	case s.crossed(count, bytes):
		s.state.Store(int32(StateScheduled))
		signal(s.kick)
	default:
		s.state.Store(int32(StateScheduled))
		s.timer.Reset(s.cfg.IdleInterval)
	}
	s.logger.Debug("scheduled flush finished",
		zap.String("trigger", trigger),
		zap.Int("buffered", count),
		zap.Stringer("state", s.State()),
	)
}

// signal performs a non-blocking send; a pending signal already covers this one.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
