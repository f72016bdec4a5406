package calls

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"vhlr/internal/metrics"
	"vhlr/internal/telephony"

	"k8s.io/utils/clock"
)

// Options bound a single probe attempt.
type Options struct {
	// ConnectTimeout caps the attempt; it is what guarantees termination.
	ConnectTimeout time.Duration
	PollInterval   time.Duration
	// KillTimeout bounds the best-effort kill command.
	KillTimeout time.Duration

	// Originate is a template; CallID, Source and Destination are filled per call.
	Originate telephony.Originate
}

func (o Options) withDefaults() Options {
	out := o
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = 15 * time.Second
	}
	if out.PollInterval <= 0 {
		out.PollInterval = time.Second
	}
	if out.KillTimeout <= 0 {
		out.KillTimeout = 5 * time.Second
	}
	return out
}

// Lifecycle drives one probe call from origination to termination.
//
// Once started, three activities race: the origination command, a state poller and a
// connect-timeout timer. Whichever first claims termination (under mu) issues the single
// kill command and cancels the others; every later claim is a no-op.
type Lifecycle struct {
	ctl     telephony.CallControl
	opts    Options
	clock   clock.WithTicker
	log     *slog.Logger
	metrics *metrics.Metrics
	notify  func(Call)

	mu     sync.Mutex
	call   Call
	cancel context.CancelFunc

	done     chan struct{}
	notified sync.Once
}

type LifecycleOption func(*Lifecycle)

func WithClock(c clock.WithTicker) LifecycleOption {
	return func(l *Lifecycle) { l.clock = c }
}

func WithLogger(log *slog.Logger) LifecycleOption {
	return func(l *Lifecycle) { l.log = log }
}

func WithMetrics(m *metrics.Metrics) LifecycleOption {
	return func(l *Lifecycle) { l.metrics = m }
}

// OnTerminated registers fn to receive the final call exactly once.
func OnTerminated(fn func(Call)) LifecycleOption {
	return func(l *Lifecycle) { l.notify = fn }
}

// NewLifecycle prepares a call in the initial state. Nothing is dialed until Start.
func NewLifecycle(ctl telephony.CallControl, id, source, destination string, opts Options, options ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		ctl:   ctl,
		opts:  opts.withDefaults(),
		clock: clock.RealClock{},
		log:   slog.Default(),
		call: Call{
			ID:          id,
			Source:      source,
			Destination: destination,
			State:       StateInitial,
		},
		done: make(chan struct{}),
	}
	for _, o := range options {
		o(l)
	}
	l.log = l.log.With("call_id", id, "src", source, "dst", destination)
	return l
}

// Start originates the call and blocks until it is terminated, then returns the final call.
// Canceling ctx forces termination with OutcomeCancelled; Start still waits for cleanup.
func (l *Lifecycle) Start(ctx context.Context) Call {
	l.mu.Lock()
	if l.call.State != StateInitial {
		l.mu.Unlock()
		<-l.done
		return l.finish()
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.cancel = cancel
	now := l.clock.Now()
	l.call.State = StateDialing
	l.call.SetupTime = &now
	l.metrics.CallGenerated()
	l.mu.Unlock()

	l.log.Debug("call start")

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		l.originate(runCtx)
	}()
	go func() {
		defer wg.Done()
		l.poll(runCtx)
	}()
	go func() {
		defer wg.Done()
		l.watch(ctx, runCtx)
	}()

	<-l.done
	wg.Wait()
	return l.finish()
}

// Stop requests termination. It returns true only for the caller that performed it.
func (l *Lifecycle) Stop() bool {
	return l.terminate(OutcomeCancelled)
}

// Snapshot returns a copy of the call's current state.
func (l *Lifecycle) Snapshot() Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.call
}

func (l *Lifecycle) ID() string { return l.call.ID }

func (l *Lifecycle) terminated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.call.State == StateTerminated
}

func (l *Lifecycle) finish() Call {
	c := l.Snapshot()
	l.notified.Do(func() {
		if l.notify != nil {
			l.notify(c)
		}
	})
	return c
}

// terminate claims the transition to StateTerminated. The claimant records the outcome
// (unless one was already set), cancels sibling activities and kills the channel.
func (l *Lifecycle) terminate(outcome Outcome) bool {
	l.mu.Lock()
	if l.call.State == StateTerminated {
		l.mu.Unlock()
		return false
	}
	dialed := l.call.State != StateInitial
	now := l.clock.Now()
	l.call.State = StateTerminated
	l.call.TerminateTime = &now
	if l.call.Outcome.IsZero() {
		l.call.Outcome = outcome
	}
	cancel := l.cancel
	call := l.call
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if dialed {
		l.kill()
	}

	l.log.Debug("call terminated", "code", call.Outcome.Code, "reason", call.Outcome.Reason)
	l.metrics.CallTerminated(dialed, call.Connected(), int(call.Outcome.Code), call.Outcome.Code == CodeNotFound)
	close(l.done)
	return true
}

// kill is best-effort: the switch reaps dead channels on its own.
func (l *Lifecycle) kill() {
	ctx, cancel := context.WithTimeout(context.Background(), l.opts.KillTimeout)
	defer cancel()

	if _, err := l.ctl.Execute(ctx, telephony.KillCommand(l.call.ID)); err != nil {
		if telephony.IsNoSuchChannel(err) {
			l.log.Debug("kill: channel already gone", "err", err)
			return
		}
		l.log.Error("failed to stop call", "err", err)
	}
}

func (l *Lifecycle) connect() {
	l.mu.Lock()
	if l.call.State != StateDialing {
		l.mu.Unlock()
		return
	}
	now := l.clock.Now()
	l.call.State = StateActive
	l.call.ConnectTime = &now
	if l.call.Outcome.IsZero() {
		l.call.Outcome = OutcomeConnected
	}
	l.mu.Unlock()
	l.metrics.CallConnected()
}

func (l *Lifecycle) originate(ctx context.Context) {
	o := l.opts.Originate
	o.CallID = l.call.ID
	o.Source = l.call.Source
	o.Destination = l.call.Destination

	result, err := l.ctl.Execute(ctx, telephony.OriginateCommand(o))
	if err != nil {
		if l.terminated() {
			l.log.Debug("originate ended after termination", "err", err)
			return
		}
		outcome := ClassifyOriginateError(err)
		l.log.Warn("failed to connect call", "err", err, "code", outcome.Code)
		l.terminate(outcome)
		return
	}

	l.log.Debug("originate result", "result", result)
	// Probes are never left bridged.
	l.connect()
	l.terminate(OutcomeConnected)
}

func (l *Lifecycle) poll(ctx context.Context) {
	ticker := l.clock.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}
		if l.terminated() {
			return
		}

		dump, err := l.ctl.Execute(ctx, telephony.DumpCommand(l.call.ID))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.log.Debug("call state query failed", "err", err)
			l.terminate(OutcomeCancelled)
			return
		}

		st, err := telephony.ParseChannelStatus(dump)
		if err != nil {
			l.log.Warn("call state unreadable", "err", err)
			l.terminate(OutcomeCancelled)
			return
		}

		l.mu.Lock()
		if l.call.State != StateTerminated {
			l.call.RawState = st.State
		}
		l.mu.Unlock()

		outcome, terminal, connected := ClassifyStatus(st)
		if !terminal {
			continue
		}
		l.log.Debug("terminal call state", "state", st.Raw, "cause", st.HangupCause)
		if connected {
			l.connect()
		}
		l.terminate(outcome)
		return
	}
}

func (l *Lifecycle) watch(parent, run context.Context) {
	timer := l.clock.NewTimer(l.opts.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-timer.C():
		l.log.Debug("connect timeout exceeded", "timeout", l.opts.ConnectTimeout)
		l.terminate(OutcomeConnectTimeout)
	case <-parent.Done():
		l.terminate(OutcomeCancelled)
	case <-run.Done():
	}
}
