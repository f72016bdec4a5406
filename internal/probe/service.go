package probe

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"vhlr/internal/cache"
	"vhlr/internal/calls"
	"vhlr/internal/dlr"
	"vhlr/internal/history"
	"vhlr/internal/metrics"
	"vhlr/internal/telephony"
	"vhlr/pkg/utils"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"
)

// persistTimeout bounds cache and history writes after a probe.
const persistTimeout = 5 * time.Second

var (
	ErrInvalidDestination = errors.New("probe: invalid destination number")
	ErrTooManyProbes      = errors.New("probe: concurrency limit reached")
	ErrShuttingDown       = errors.New("probe: service is shutting down")
)

// Config controls how the Service probes a destination.
type Config struct {
	Source       string
	Schedule     []time.Duration
	NonRetriable []calls.Code
	Call         calls.Options

	// Timeout bounds one whole probe, retries included.
	Timeout time.Duration

	// MaxConcurrent caps probes across all instances sharing redis. Zero disables the cap.
	MaxConcurrent  int
	ConcurrencyKey string
	ConcurrencyTTL time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.Source == "" {
		out.Source = "vhlr"
	}
	if out.Timeout <= 0 {
		out.Timeout = 2 * time.Minute
	}
	if out.ConcurrencyKey == "" {
		out.ConcurrencyKey = "vhlr:probes:inflight"
	}
	if out.ConcurrencyTTL <= 0 {
		out.ConcurrencyTTL = out.Timeout + time.Minute
	}
	return out
}

// Request asks for the reachability of one number.
type Request struct {
	Destination string
	MessageID   string
	ClientID    string
	// SkipCache forces a fresh probe and overwrites any cached result.
	SkipCache bool
}

// Report is what callers of the Service see.
type Report struct {
	Destination string      `json:"destination"`
	State       calls.State `json:"state"`
	Code        calls.Code  `json:"code"`
	Reason      string      `json:"reason"`
	Available   bool        `json:"available"`
	Cached      bool        `json:"cached"`
	Attempts    int         `json:"attempts"`

	SetupTime     *time.Time `json:"setup_time,omitempty"`
	ConnectTime   *time.Time `json:"connect_time,omitempty"`
	TerminateTime *time.Time `json:"terminate_time,omitempty"`
	CheckedAt     time.Time  `json:"checked_at"`
}

// Notifier delivers probe receipts. *dlr.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, r dlr.Receipt) error
}

// Service owns probing: it consults the cache, de-duplicates concurrent probes of one
// number, runs a Scheduler and publishes the result to cache, history and DLR.
type Service struct {
	ctl     telephony.CallControl
	cfg     Config
	cache   cache.Cache
	history *history.Service
	dlr     Notifier
	rdb     *redis.Client
	metrics *metrics.Metrics
	log     *slog.Logger
	clock   clock.WithTicker

	group singleflight.Group

	mu      sync.Mutex
	closing bool
	active  map[*Scheduler]struct{}
	pending sync.WaitGroup
}

type ServiceOption func(*Service)

func WithCache(c cache.Cache) ServiceOption { return func(s *Service) { s.cache = c } }

func WithHistory(h *history.Service) ServiceOption { return func(s *Service) { s.history = h } }

func WithNotifier(n Notifier) ServiceOption { return func(s *Service) { s.dlr = n } }

// WithRedis enables the cross-instance concurrency cap.
func WithRedis(rdb *redis.Client) ServiceOption { return func(s *Service) { s.rdb = rdb } }

func WithMetrics(m *metrics.Metrics) ServiceOption { return func(s *Service) { s.metrics = m } }

func WithLogger(log *slog.Logger) ServiceOption { return func(s *Service) { s.log = log } }

func WithClock(c clock.WithTicker) ServiceOption { return func(s *Service) { s.clock = c } }

func NewService(ctl telephony.CallControl, cfg Config, opts ...ServiceOption) *Service {
	s := &Service{
		ctl:    ctl,
		cfg:    cfg.withDefaults(),
		log:    slog.Default(),
		clock:  clock.RealClock{},
		active: make(map[*Scheduler]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NormalizeDestination trims the number and checks it is 3 to 15 digits with an
// optional leading '+'.
func NormalizeDestination(raw string) (string, error) {
	dst := strings.TrimSpace(raw)
	digits := strings.TrimPrefix(dst, "+")
	if len(digits) < 3 || len(digits) > 15 {
		return "", ErrInvalidDestination
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return "", ErrInvalidDestination
		}
	}
	return dst, nil
}

// Probe returns the reachability of req.Destination, from cache when possible.
// Concurrent probes of the same number share one scheduler run.
func (s *Service) Probe(ctx context.Context, req Request) (Report, error) {
	// Callers are counted in pending so receipts they fire are always waited for.
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return Report{}, ErrShuttingDown
	}
	s.pending.Add(1)
	s.mu.Unlock()
	defer s.pending.Done()

	dst, err := NormalizeDestination(req.Destination)
	if err != nil {
		return Report{}, err
	}
	req.Destination = dst

	if !req.SkipCache {
		if res, ok := s.lookup(ctx, dst); ok {
			s.notify(req, res)
			return res, nil
		}
	}

	ch := s.group.DoChan(dst, func() (any, error) {
		return s.run(req)
	})
	select {
	case <-ctx.Done():
		return Report{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Report{}, r.Err
		}
		res := r.Val.(Report)
		if r.Shared {
			s.log.Debug("probe result shared", "dst", dst)
		}
		s.notify(req, res)
		return res, nil
	}
}

// Forget drops the cached result for a number.
func (s *Service) Forget(ctx context.Context, destination string) error {
	dst, err := NormalizeDestination(destination)
	if err != nil {
		return err
	}
	if s.cache == nil {
		return nil
	}
	return s.cache.Remove(ctx, dst)
}

// Cached returns the cached result for a number without probing.
func (s *Service) Cached(ctx context.Context, destination string) (Report, bool, error) {
	dst, err := NormalizeDestination(destination)
	if err != nil {
		return Report{}, false, err
	}
	res, ok := s.lookup(ctx, dst)
	return res, ok, nil
}

// CacheSize reports the number of cached results, or cache.ErrCountUnsupported.
func (s *Service) CacheSize(ctx context.Context) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.Count(ctx)
}

// Shutdown rejects new probes, lets running ones drain until ctx is done and then stops
// them. It waits for in-progress callers and their outstanding receipts.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	running := make([]*Scheduler, 0, len(s.active))
	for sch := range s.active {
		running = append(running, sch)
	}
	s.mu.Unlock()

	grace := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		grace = time.Until(deadline)
	}
	var wg sync.WaitGroup
	for _, sch := range running {
		wg.Add(1)
		go func(sch *Scheduler) {
			defer wg.Done()
			sch.Stop(grace)
		}(sch)
	}
	wg.Wait()

	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) run(req Request) (Report, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	sch := NewScheduler(s.ctl, SchedulerConfig{
		Source:       s.cfg.Source,
		Destination:  req.Destination,
		Schedule:     s.cfg.Schedule,
		NonRetriable: s.cfg.NonRetriable,
		Call:         s.cfg.Call,
	},
		WithSchedulerClock(s.clock),
		WithSchedulerLogger(s.log),
		WithSchedulerMetrics(s.metrics),
	)
	if !s.track(sch) {
		return Report{}, ErrShuttingDown
	}
	defer s.untrack(sch)

	release, err := s.acquire(ctx)
	if err != nil {
		return Report{}, err
	}
	defer release()

	out := sch.Run(ctx)
	res := reportOf(out)
	s.metrics.ProbeCompleted(res.Available)
	s.log.Info("probe completed",
		"dst", res.Destination,
		"code", res.Code,
		"reason", res.Reason,
		"available", res.Available,
		"attempts", res.Attempts,
	)

	// ctx may have expired with the probe itself.
	saveCtx, cancelSave := context.WithTimeout(context.Background(), persistTimeout)
	defer cancelSave()
	s.remember(saveCtx, res, req.SkipCache)
	s.record(saveCtx, req, out)
	return res, nil
}

func (s *Service) track(sch *Scheduler) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.active[sch] = struct{}{}
	return true
}

func (s *Service) untrack(sch *Scheduler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, sch)
}

// acquire takes a slot of the shared concurrency cap. Redis errors fail open.
func (s *Service) acquire(ctx context.Context) (func(), error) {
	noop := func() {}
	if s.rdb == nil || s.cfg.MaxConcurrent <= 0 {
		return noop, nil
	}
	ok, err := utils.AcquireConcurrencyCap(ctx, s.rdb, s.cfg.ConcurrencyKey, s.cfg.MaxConcurrent, s.cfg.ConcurrencyTTL)
	if err != nil {
		s.log.Warn("concurrency cap unavailable, probing anyway", "err", err)
		return noop, nil
	}
	if !ok {
		return nil, ErrTooManyProbes
	}
	return func() {
		relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := utils.ReleaseConcurrencyCap(relCtx, s.rdb, s.cfg.ConcurrencyKey); err != nil {
			s.log.Warn("failed to release concurrency slot", "err", err)
		}
	}, nil
}

func (s *Service) lookup(ctx context.Context, dst string) (Report, bool) {
	if s.cache == nil {
		return Report{}, false
	}
	raw, ok, err := s.cache.Get(ctx, dst)
	if err != nil {
		s.metrics.CacheLookup(metrics.CacheError)
		s.log.Warn("cache get failed", "dst", dst, "err", err)
		return Report{}, false
	}
	if !ok {
		s.metrics.CacheLookup(metrics.CacheMiss)
		return Report{}, false
	}
	var res Report
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		s.metrics.CacheLookup(metrics.CacheError)
		s.log.Warn("cached result unreadable", "dst", dst, "err", err)
		return Report{}, false
	}
	s.metrics.CacheLookup(metrics.CacheHit)
	res.Cached = true
	return res, true
}

// remember caches the result. A regular probe keeps an already cached value and only
// slides its expiry; a forced probe replaces it.
func (s *Service) remember(ctx context.Context, res Report, overwrite bool) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		s.log.Error("encode result for cache", "err", err)
		return
	}
	var opts []cache.SetOption
	if !overwrite {
		opts = append(opts, cache.KeepValue())
	}
	if err := s.cache.Set(ctx, res.Destination, string(raw), opts...); err != nil {
		s.log.Warn("cache set failed", "dst", res.Destination, "err", err)
	}
}

func (s *Service) record(ctx context.Context, req Request, out Result) {
	if s.history == nil {
		return
	}
	if err := s.history.Append(ctx, historyRecord(req, out)); err != nil {
		s.log.Warn("failed to record probe history", "dst", out.Destination, "err", err)
	}
}

// notify fires the receipt in the background; failures are only logged.
func (s *Service) notify(req Request, res Report) {
	if s.dlr == nil {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		r := dlr.Receipt{Number: res.Destination, MessageID: req.MessageID, Available: res.Available, Code: int(res.Code)}
		if err := s.dlr.Notify(context.Background(), r); err != nil {
			s.log.Warn("dlr notification failed", "dst", res.Destination, "message_id", req.MessageID, "err", err)
		}
	}()
}
