package job

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"repodocx/internal/metrics"
)

// DefaultPollInterval is the cadence used when no interval is configured.
const DefaultPollInterval = time.Second

// PollFunc retrieves the current status of the bound job.
type PollFunc func(ctx context.Context, h Handle) (PollResult, error)

// DeliverFunc applies one poll outcome and reports whether polling should stop.
// It runs under the scheduler's delivery lock and must not call Cancel. When
// the parent context ends it receives a final *PollTransportError.
type DeliverFunc func(res PollResult, err error) (stop bool)

// Scheduler polls one job on a fixed interval. It is single-use: once
// cancelled it cannot be started again.
type Scheduler struct {
	handle   Handle
	interval time.Duration
	poll     PollFunc
	deliver  DeliverFunc

	mu        sync.Mutex
	started   bool
	cancelled bool
	cancel    context.CancelFunc
	inFlight  atomic.Bool
	done      chan struct{}
}

// NewScheduler binds a scheduler to h. A non-positive interval falls back to DefaultPollInterval.
func NewScheduler(h Handle, interval time.Duration, poll PollFunc, deliver DeliverFunc) *Scheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Scheduler{
		handle:   h,
		interval: interval,
		poll:     poll,
		deliver:  deliver,
		done:     make(chan struct{}),
	}
}

// Handle returns the job the scheduler is bound to.
func (s *Scheduler) Handle() Handle { return s.handle }

// Start begins ticking in the background. The first tick fires one interval
// after Start returns.
func (s *Scheduler) Start(parent context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.cancelled {
		return ErrSchedulerUsed
	}
	ctx, cancel := context.WithCancel(parent)
	s.started = true
	s.cancel = cancel
	go s.loop(ctx)
	log.Debug().Str("job_id", s.handle.JobID).Dur("interval", s.interval).Msg("polling started")
	return nil
}

// Cancel stops the scheduler. It is idempotent. Once it returns no further
// delivery happens, including for a retrieval that is still in flight.
// Cancelling the context passed to Start also stops it; see DeliverFunc.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

// Cancelled reports whether Cancel was called or the scheduler stopped itself.
func (s *Scheduler) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Done is closed when the tick loop has exited.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

func (s *Scheduler) cancelLocked() {
	if s.cancelled {
		return
	}
	s.cancelled = true
	if s.cancel != nil {
		s.cancel()
	} else {
		close(s.done)
	}
	log.Debug().Str("job_id", s.handle.JobID).Msg("polling stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		close(s.done)
	}()
	for {
		select {
		case <-ctx.Done():
			s.parentStopped(ctx)
			return
		case <-ticker.C:
			if !s.dispatch(ctx) {
				s.parentStopped(ctx)
				return
			}
		}
	}
}

// parentStopped handles the parent context ending while no Cancel was issued.
// The scheduler becomes cancelled and the stop is delivered as a transport
// failure, so the owner never waits on a scheduler that no longer ticks.
func (s *Scheduler) parentStopped(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	s.cancelled = true
	s.cancel()
	metrics.IncPollTick("parent_stopped")
	log.Debug().Str("job_id", s.handle.JobID).Err(ctx.Err()).Msg("polling stopped with parent context")
	s.deliver(PollResult{}, &PollTransportError{Err: context.Cause(ctx)})
}

// dispatch starts one tick unless a retrieval is still outstanding.
func (s *Scheduler) dispatch(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled || ctx.Err() != nil {
		return false
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		metrics.IncPollTick("skipped")
		log.Debug().Str("job_id", s.handle.JobID).Msg("previous status check still running, skipping tick")
		return true
	}
	go s.tick(ctx)
	return true
}

func (s *Scheduler) tick(ctx context.Context) {
	defer s.inFlight.Store(false)

	started := time.Now()
	res, err := s.poll(ctx, s.handle)
	metrics.ObservePollLatency(time.Since(started))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled || ctx.Err() != nil {
		metrics.IncPollTick("dropped")
		return
	}
	if err != nil {
		metrics.IncPollTick("transport_error")
	} else {
		metrics.IncPollTick("delivered")
	}
	if s.deliver(res, err) {
		s.cancelLocked()
	}
}
