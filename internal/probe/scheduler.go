// Package probe places spaced probe calls toward one destination and reports whether it
// proved reachable.
package probe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"vhlr/internal/calls"
	"vhlr/internal/metrics"
	"vhlr/internal/telephony"

	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

// drainPollInterval is how often Stop rechecks the in-flight set.
const drainPollInterval = 100 * time.Millisecond

// DefaultNonRetriable are outcomes that no later attempt can change.
var DefaultNonRetriable = []calls.Code{calls.CodeNotFound, calls.CodeGone, calls.CodeAddressIncomplete}

type SchedulerConfig struct {
	Source      string
	Destination string
	// Schedule holds the delay before each retry. The first attempt starts immediately
	// and never consumes an entry.
	Schedule []time.Duration
	// NonRetriable outcomes finalize at once even when retries remain.
	NonRetriable []calls.Code
	Call         calls.Options
}

// Attempt is one lifecycle run started by a Scheduler.
type Attempt struct {
	Index int
	Delay time.Duration
	Call  calls.Call
}

// Result is the final outcome of a scheduler run.
type Result struct {
	Destination string
	Outcome     calls.Outcome
	// Call is the attempt that decided the outcome; zero when no attempt was started.
	Call       calls.Call
	Attempts   []Attempt
	StartedAt  time.Time
	FinishedAt time.Time
}

func (r Result) Available() bool { return r.Outcome.Available }

// Scheduler drives one or more CallLifecycle attempts toward a destination. It is single use.
type Scheduler struct {
	ctl   telephony.CallControl
	cfg   SchedulerConfig
	clock clock.WithTicker
	log   *slog.Logger
	// callLog is handed to lifecycles, which annotate it themselves.
	callLog *slog.Logger
	metrics *metrics.Metrics
	newID   func() string

	nonRetriable map[calls.Code]bool

	runOnce sync.Once
	ctx     context.Context

	mu          sync.Mutex
	schedule    []time.Duration
	inflight    map[string]*calls.Lifecycle
	attempts    []Attempt
	last        calls.Call
	cancelSpawn context.CancelFunc
	finalized   bool
	result      Result

	done chan struct{}
}

type SchedulerOption func(*Scheduler)

func WithSchedulerClock(c clock.WithTicker) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

func WithSchedulerLogger(log *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.log = log }
}

func WithSchedulerMetrics(m *metrics.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// WithIDGenerator overrides how call ids are minted. Ids must be unique per attempt.
func WithIDGenerator(fn func() string) SchedulerOption {
	return func(s *Scheduler) { s.newID = fn }
}

func NewScheduler(ctl telephony.CallControl, cfg SchedulerConfig, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		ctl:      ctl,
		cfg:      cfg,
		clock:    clock.RealClock{},
		log:      slog.Default(),
		newID:    uuid.NewString,
		schedule: append([]time.Duration(nil), cfg.Schedule...),
		inflight: make(map[string]*calls.Lifecycle),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	nr := cfg.NonRetriable
	if nr == nil {
		nr = DefaultNonRetriable
	}
	s.nonRetriable = make(map[calls.Code]bool, len(nr))
	for _, c := range nr {
		s.nonRetriable[c] = true
	}
	s.callLog = s.log
	s.log = s.log.With("dst", cfg.Destination)
	return s
}

// Run starts the first attempt and blocks until the scheduler finalizes.
// Canceling ctx terminates running attempts and suppresses further retries.
func (s *Scheduler) Run(ctx context.Context) Result {
	s.runOnce.Do(func() {
		s.mu.Lock()
		s.ctx = ctx
		if !s.finalized {
			s.result.StartedAt = s.clock.Now()
			s.spawnLocked(0)
		}
		s.mu.Unlock()
	})
	<-s.done
	return s.Result()
}

// Done is closed once the scheduler has finalized.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

func (s *Scheduler) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Inflight returns the number of attempts currently running.
func (s *Scheduler) Inflight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Stop drops remaining retries and waits up to grace for in-flight attempts to finish on
// their own. Attempts still running after grace are stopped. It reports whether the
// in-flight set drained naturally.
func (s *Scheduler) Stop(grace time.Duration) bool {
	s.mu.Lock()
	s.schedule = nil
	if s.cancelSpawn != nil {
		s.cancelSpawn()
		s.cancelSpawn = nil
	}
	if len(s.inflight) > 0 {
		s.log.Info("waiting for call termination", "inflight", len(s.inflight))
	}
	s.mu.Unlock()

	deadline := s.clock.Now().Add(grace)
	for {
		s.mu.Lock()
		n := len(s.inflight)
		s.mu.Unlock()
		if n == 0 {
			s.abandon()
			return true
		}
		if !s.clock.Now().Before(deadline) {
			break
		}
		<-s.clock.After(drainPollInterval)
	}

	s.mu.Lock()
	running := make([]*calls.Lifecycle, 0, len(s.inflight))
	for _, l := range s.inflight {
		running = append(running, l)
	}
	s.mu.Unlock()
	s.log.Warn("grace period exceeded, stopping calls", "inflight", len(running))
	for _, l := range running {
		l.Stop()
	}
	return false
}

// createAttemptLocked pops the next retry delay and schedules a new attempt.
func (s *Scheduler) createAttemptLocked() {
	if s.finalized {
		return
	}
	var delay time.Duration
	if len(s.schedule) > 0 {
		delay = s.schedule[0]
		s.schedule = s.schedule[1:]
	}
	s.spawnLocked(delay)
}

// spawnLocked starts an attempt after delay. Only the latest pending spawn is cancellable;
// attempts never overlap because a retry is only scheduled once the previous one ended.
func (s *Scheduler) spawnLocked(delay time.Duration) {
	spawnCtx, cancel := context.WithCancel(s.ctx)
	s.cancelSpawn = cancel
	index := len(s.attempts)

	go func() {
		defer cancel()
		if delay > 0 {
			timer := s.clock.NewTimer(delay)
			select {
			case <-timer.C():
			case <-spawnCtx.Done():
				timer.Stop()
				s.abandon()
				return
			}
		}
		if spawnCtx.Err() != nil {
			s.abandon()
			return
		}

		id := s.newID()
		s.mu.Lock()
		if s.finalized {
			s.mu.Unlock()
			return
		}
		l := calls.NewLifecycle(s.ctl, id, s.cfg.Source, s.cfg.Destination, s.cfg.Call,
			calls.WithClock(s.clock),
			calls.WithLogger(s.callLog),
			calls.WithMetrics(s.metrics),
			calls.OnTerminated(s.onAttemptTerminated),
		)
		s.inflight[id] = l
		s.attempts = append(s.attempts, Attempt{Index: index, Delay: delay, Call: l.Snapshot()})
		s.mu.Unlock()

		s.log.Debug("call attempt", "attempt", index+1, "delay", delay, "call_id", id)
		l.Start(s.ctx)
	}()
}

// onAttemptTerminated receives every finished attempt exactly once.
func (s *Scheduler) onAttemptTerminated(c calls.Call) {
	s.mu.Lock()
	delete(s.inflight, c.ID)
	for i := range s.attempts {
		if s.attempts[i].Call.ID == c.ID {
			s.attempts[i].Call = c
		}
	}
	s.last = c
	if s.finalized {
		s.mu.Unlock()
		return
	}

	switch {
	case c.Outcome.Available:
		s.finalizeLocked()
	case s.nonRetriable[c.Outcome.Code]:
		s.log.Debug("outcome is final, not retrying", "code", c.Outcome.Code)
		s.finalizeLocked()
	case len(s.schedule) > 0 && s.ctx.Err() == nil:
		s.createAttemptLocked()
	default:
		s.finalizeLocked()
	}
	s.mu.Unlock()
}

// abandon finalizes when nothing is running and no attempt can start anymore.
func (s *Scheduler) abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finalized && len(s.inflight) == 0 {
		s.finalizeLocked()
	}
}

func (s *Scheduler) finalizeLocked() {
	s.finalized = true
	if s.cancelSpawn != nil {
		s.cancelSpawn()
		s.cancelSpawn = nil
	}

	outcome := s.last.Outcome
	if outcome.IsZero() {
		outcome = calls.OutcomeCancelled
	}
	s.result = Result{
		Destination: s.cfg.Destination,
		Outcome:     outcome,
		Call:        s.last,
		Attempts:    append([]Attempt(nil), s.attempts...),
		StartedAt:   s.result.StartedAt,
		FinishedAt:  s.clock.Now(),
	}
	s.log.Debug("probe finalized", "code", outcome.Code, "available", outcome.Available, "attempts", len(s.attempts))
	close(s.done)
}
