package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

const sweepInterval = time.Second

type entry struct {
	value     string
	expiresAt time.Time
	bucket    int64
}

// Memory is the in-process backend.
//
// Entries are indexed by the unix second in which they expire (rounded up), so a sweep
// only touches buckets that have come due. A bucket is swept once the clock has fully
// reached its second, which means entries are never dropped before their expiry.
type Memory struct {
	ttl   time.Duration
	clock clock.WithTicker
	log   *slog.Logger

	mu          sync.Mutex
	entries     map[string]*entry
	buckets     map[int64]map[string]struct{}
	lastChecked int64

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

func NewMemory(ttl time.Duration, opts ...Option) *Memory {
	o := options{clock: clock.RealClock{}, log: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	return &Memory{
		ttl:         ttl,
		clock:       o.clock,
		log:         o.log,
		entries:     make(map[string]*entry),
		buckets:     make(map[int64]map[string]struct{}),
		lastChecked: o.clock.Now().Unix() - 1,
		stop:        make(chan struct{}),
	}
}

// Start launches the eviction loop. It is safe to call more than once.
func (m *Memory) Start() {
	m.startOnce.Do(func() {
		ticker := m.clock.NewTicker(sweepInterval)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer ticker.Stop()
			for {
				select {
				case <-m.stop:
					return
				case <-ticker.C():
					if n := m.evictExpired(); n > 0 {
						m.log.Debug("cache entries evicted", "count", n)
					}
				}
			}
		}()
	})
}

// Close stops the eviction loop and waits for it to exit.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || !m.clock.Now().Before(e.expiresAt) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, opts ...SetOption) error {
	o := applySetOptions(opts)
	now := m.clock.Now()
	expiresAt := now.Add(m.ttl)
	bucket := bucketOf(expiresAt)

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		m.entries[key] = &entry{value: value, expiresAt: expiresAt, bucket: bucket}
		m.attach(bucket, key)
		return nil
	}
	if e.bucket != bucket {
		m.detach(e.bucket, key)
		m.attach(bucket, key)
		e.bucket = bucket
	}
	// an expired entry awaiting its sweep counts as absent
	if !o.keepValue || !now.Before(e.expiresAt) {
		e.value = value
	}
	e.expiresAt = expiresAt
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	m.detach(e.bucket, key)
	delete(m.entries, key)
	return nil
}

func (m *Memory) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

// evictExpired drops every bucket whose second lies in (lastChecked, now] and advances
// the watermark. It returns the number of entries removed.
func (m *Memory) evictExpired() int {
	now := m.clock.Now().Unix()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for sec := m.lastChecked + 1; sec <= now; sec++ {
		keys, ok := m.buckets[sec]
		if !ok {
			continue
		}
		for key := range keys {
			delete(m.entries, key)
			removed++
		}
		delete(m.buckets, sec)
	}
	if now > m.lastChecked {
		m.lastChecked = now
	}
	return removed
}

func (m *Memory) attach(bucket int64, key string) {
	keys, ok := m.buckets[bucket]
	if !ok {
		keys = make(map[string]struct{})
		m.buckets[bucket] = keys
	}
	keys[key] = struct{}{}
}

func (m *Memory) detach(bucket int64, key string) {
	keys, ok := m.buckets[bucket]
	if !ok {
		return
	}
	delete(keys, key)
	if len(keys) == 0 {
		delete(m.buckets, bucket)
	}
}

// bucketOf rounds t up to a whole unix second.
func bucketOf(t time.Time) int64 {
	sec := t.Unix()
	if t.Nanosecond() > 0 {
		sec++
	}
	return sec
}
