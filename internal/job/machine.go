package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"repodocx/internal/conversion"
	"repodocx/internal/metrics"
)

// Gateway starts jobs on the remote service.
type Gateway interface {
	Submit(ctx context.Context, req conversion.Request) (Handle, error)
}

// StatusSource reads the status of a running job.
type StatusSource interface {
	Poll(ctx context.Context, h Handle) (PollResult, error)
}

// Options configures a Machine.
type Options struct {
	Gateway      Gateway
	Status       StatusSource
	PollInterval time.Duration
}

const subscriberBuffer = 8

// Machine is the authoritative state container for one client session. It
// owns at most one Scheduler at a time.
type Machine struct {
	gateway  Gateway
	status   StatusSource
	interval time.Duration

	mu           sync.Mutex
	baseCtx      context.Context
	generation   uint64
	attemptID    string
	state        State
	request      *conversion.Request
	handle       *Handle
	progress     *Progress
	artifacts    []ArtifactRef
	failure      FailureKind
	cause        error
	scheduler    *Scheduler
	submitCancel context.CancelFunc
	subs         map[chan Snapshot]struct{}
}

// NewMachine creates an idle machine.
func NewMachine(opts Options) *Machine {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Machine{
		gateway:  opts.Gateway,
		status:   opts.Status,
		interval: interval,
		baseCtx:  context.Background(),
		state:    StateIdle,
		subs:     make(map[chan Snapshot]struct{}),
	}
}

// SetBaseContext sets the parent context of every scheduler started afterwards.
// Cancelling it stops polling on process shutdown.
func (m *Machine) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns a copy of the current session state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Err returns the typed error behind a Failed state, or nil.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cause
}

// Submit starts a conversion. It is only legal while idle and blocks until the
// remote service acknowledged the request. On success polling has started.
func (m *Machine) Submit(ctx context.Context, req conversion.Request) (Handle, error) {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return Handle{}, ErrNotIdle
	}
	m.generation++
	attempt := m.generation
	m.attemptID = uuid.NewString()
	held := req.WithoutCredential()
	m.request = &held
	submitCtx, cancel := context.WithCancel(ctx)
	m.submitCancel = cancel
	m.setStateLocked(StateSubmitting)
	attemptID := m.attemptID
	m.mu.Unlock()
	defer cancel()

	log.Info().
		Str("attempt_id", attemptID).
		Str("url", req.SourceURL).
		Bool("credential", req.HasCredential()).
		Strs("extensions", req.Extensions).
		Msg("submitting conversion")

	h, err := m.gateway.Submit(submitCtx, req)

	m.mu.Lock()
	defer m.mu.Unlock()
	if attempt != m.generation {
		log.Info().Str("attempt_id", attemptID).Msg("submission acknowledged after reset, discarding")
		return Handle{}, ErrAbandoned
	}
	m.submitCancel = nil

	if err != nil {
		metrics.IncSubmission("rejected")
		var subErr *SubmissionError
		if !errors.As(err, &subErr) {
			subErr = &SubmissionError{Message: MsgSubmissionFailed, Err: err}
		}
		log.Warn().Str("attempt_id", attemptID).Err(err).Msg("submission failed")
		m.failLocked(FailureSubmission, subErr)
		return Handle{}, subErr
	}
	metrics.IncSubmission("accepted")

	sched := NewScheduler(h, m.interval, m.status.Poll, func(res PollResult, pollErr error) bool {
		return m.deliver(attempt, res, pollErr)
	})
	if err := sched.Start(m.baseCtx); err != nil {
		m.failLocked(FailurePollTransport, &PollTransportError{Err: err})
		return Handle{}, err
	}
	m.scheduler = sched
	m.handle = &h
	m.progress = &Progress{}
	m.setStateLocked(StatePolling)
	log.Info().Str("attempt_id", attemptID).Str("job_id", h.JobID).Msg("conversion accepted, polling status")
	return h, nil
}

// Reset abandons the current attempt and returns to Idle. Active polling and
// any pending submission are cancelled before state is cleared, so a late
// response for the abandoned attempt is dropped.
func (m *Machine) Reset() {
	for {
		m.mu.Lock()
		m.generation++
		sched, cancelSubmit := m.scheduler, m.submitCancel
		m.scheduler, m.submitCancel = nil, nil
		if sched == nil && cancelSubmit == nil {
			m.clearLocked()
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		if cancelSubmit != nil {
			cancelSubmit()
		}
		if sched != nil {
			sched.Cancel()
		}
	}
}

// Results exposes the artifacts of a completed job, retrieved through r.
func (m *Machine) Results(r Retriever) (*Results, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateCompleted || m.handle == nil {
		return nil, ErrNotCompleted
	}
	return NewResults(*m.handle, m.artifacts, r), nil
}

// Subscribe returns a channel receiving a snapshot after every change. A slow
// reader only misses intermediate snapshots, never the latest one.
func (m *Machine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, ch)
			m.mu.Unlock()
		})
	}
}

// Wait blocks until the current attempt reaches a terminal state. It returns
// ErrAbandoned when the session is (or becomes) idle.
func (m *Machine) Wait(ctx context.Context) (Snapshot, error) {
	updates, unsubscribe := m.Subscribe()
	defer unsubscribe()

	snap := m.Snapshot()
	for {
		switch {
		case snap.State.Terminal():
			return snap, nil
		case snap.State == StateIdle:
			return snap, ErrAbandoned
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case snap = <-updates:
		}
	}
}

func (m *Machine) deliver(attempt uint64, res PollResult, err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if attempt != m.generation || m.state != StatePolling {
		return true
	}
	jobID := m.handle.JobID

	if err != nil {
		log.Warn().Str("job_id", jobID).Err(err).Msg("status check failed")
		var pollErr *PollTransportError
		if !errors.As(err, &pollErr) {
			pollErr = &PollTransportError{Err: err}
		}
		m.failLocked(FailurePollTransport, pollErr)
		return true
	}

	switch res.Status {
	case StatusCompleted:
		m.artifacts = append([]ArtifactRef(nil), res.Artifacts...)
		m.progress = nil
		m.setStateLocked(StateCompleted)
		log.Info().Str("job_id", jobID).Int("artifacts", len(m.artifacts)).Msg("conversion completed")
		return true
	case StatusError:
		msg := res.Error
		if msg == "" {
			msg = MsgJobFailed
		}
		log.Warn().Str("job_id", jobID).Str("error", msg).Msg("conversion failed on server")
		m.failLocked(FailureServer, &ServerReportedError{Message: msg})
		return true
	}

	next := Progress{}
	if res.Progress != nil {
		next = *res.Progress
	}
	if next.Phase == "" {
		next.Phase = res.Status
	}
	m.progress = &next
	log.Debug().
		Str("job_id", jobID).
		Str("phase", next.Phase).
		Int("processed", next.Processed).
		Int("total", next.Total).
		Msg("job progress")
	m.publishLocked()
	return false
}

func (m *Machine) failLocked(kind FailureKind, cause error) {
	m.failure = kind
	m.cause = cause
	m.progress = nil
	m.setStateLocked(StateFailed)
}

func (m *Machine) clearLocked() {
	m.attemptID = ""
	m.request = nil
	m.handle = nil
	m.progress = nil
	m.artifacts = nil
	m.failure = FailureNone
	m.cause = nil
	m.setStateLocked(StateIdle)
}

func (m *Machine) setStateLocked(s State) {
	if m.state != s {
		metrics.IncTransition(string(s))
	}
	m.state = s
	m.publishLocked()
}

func (m *Machine) publishLocked() {
	if len(m.subs) == 0 {
		return
	}
	snap := m.snapshotLocked()
	for ch := range m.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		// drop the oldest pending snapshot so the latest one always lands
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (m *Machine) snapshotLocked() Snapshot {
	snap := Snapshot{
		AttemptID:   m.attemptID,
		State:       m.state,
		FailureKind: m.failure,
		Busy:        m.state == StateSubmitting || m.state == StatePolling,
	}
	if m.request != nil {
		req := m.request.WithoutCredential()
		snap.Request = &req
	}
	if m.handle != nil {
		h := *m.handle
		snap.Job = &h
	}
	if m.progress != nil {
		p := *m.progress
		snap.Progress = &p
		snap.Percent = p.Percent()
	}
	if len(m.artifacts) > 0 {
		snap.Artifacts = append([]ArtifactRef(nil), m.artifacts...)
	}
	if m.cause != nil {
		snap.Error = failureMessage(m.cause)
	}
	return snap
}

// failureMessage is the text shown to the user for a failed attempt.
func failureMessage(err error) string {
	var pollErr *PollTransportError
	if errors.As(err, &pollErr) {
		return MsgPollFailed
	}
	return err.Error()
}
