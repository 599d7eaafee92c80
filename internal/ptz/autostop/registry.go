// Package autostop keeps the delayed stop commands armed by press events.
package autostop

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultFireTimeout = 5 * time.Second

// StopFunc sends the stop command. It runs detached from the request that armed it.
type StopFunc func(ctx context.Context) error

type Options struct {
	// Coalesce cancels a pending stop for the same key when a new one is armed.
	// When false every armed stop fires.
	Coalesce    bool
	FireTimeout time.Duration
	// OnFire is called after each fired stop, for metrics.
	OnFire func(key string, err error)
}

type entry struct {
	id     uint64
	key    string
	fireAt time.Time
	timer  *time.Timer
	fn     StopFunc
}

// Registry holds one cancellable timer per armed stop, keyed by camera identity.
type Registry struct {
	mu      sync.Mutex
	entries map[string]map[uint64]*entry
	seq     uint64
	closed  bool

	coalesce    bool
	fireTimeout time.Duration
	onFire      func(key string, err error)
	logger      *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Registry {
	if opts.FireTimeout <= 0 {
		opts.FireTimeout = DefaultFireTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries:     make(map[string]map[uint64]*entry),
		coalesce:    opts.Coalesce,
		fireTimeout: opts.FireTimeout,
		onFire:      opts.OnFire,
		logger:      logger,
	}
}

// SetCoalesce switches between cancel-pending and fire-all behavior.
func (r *Registry) SetCoalesce(v bool) {
	r.mu.Lock()
	r.coalesce = v
	r.mu.Unlock()
}

func (r *Registry) Coalescing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.coalesce
}

// Arm schedules fn once after delay. It returns false if the registry is closed.
func (r *Registry) Arm(key string, delay time.Duration, fn StopFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	if r.coalesce {
		r.cancelLocked(key)
	}

	r.seq++
	e := &entry{id: r.seq, key: key, fireAt: time.Now().Add(delay), fn: fn}
	if r.entries[key] == nil {
		r.entries[key] = make(map[uint64]*entry)
	}
	r.entries[key][e.id] = e
	e.timer = time.AfterFunc(delay, func() { r.fire(e) })

	r.logger.Debug("auto-stop armed", zap.String("key", key), zap.Duration("delay", delay))
	return true
}

func (r *Registry) fire(e *entry) {
	r.mu.Lock()
	bucket, ok := r.entries[e.key]
	if !ok || bucket[e.id] == nil {
		// cancelled or flushed after the timer had already started
		r.mu.Unlock()
		return
	}
	delete(bucket, e.id)
	if len(bucket) == 0 {
		delete(r.entries, e.key)
	}
	timeout := r.fireTimeout
	r.mu.Unlock()

	r.run(e, timeout)
}

func (r *Registry) run(e *entry, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := e.fn(ctx)
	if err != nil {
		r.logger.Warn("auto-stop failed", zap.String("key", e.key), zap.Error(err))
	} else {
		r.logger.Debug("auto-stop sent", zap.String("key", e.key))
	}
	if r.onFire != nil {
		r.onFire(e.key, err)
	}
}

// Cancel drops every pending stop for key and returns how many were dropped.
func (r *Registry) Cancel(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelLocked(key)
}

func (r *Registry) cancelLocked(key string) int {
	bucket := r.entries[key]
	for _, e := range bucket {
		e.timer.Stop()
	}
	delete(r.entries, key)
	return len(bucket)
}

// Pending is the number of armed stops across all keys.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, bucket := range r.entries {
		n += len(bucket)
	}
	return n
}

// PendingFor is the number of armed stops for key.
func (r *Registry) PendingFor(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries[key])
}

// NextFire returns when the earliest stop for key is due.
func (r *Registry) NextFire(key string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var next time.Time
	for _, e := range r.entries[key] {
		if next.IsZero() || e.fireAt.Before(next) {
			next = e.fireAt
		}
	}
	return next, !next.IsZero()
}

// Close fires every pending stop immediately, waits for them, and rejects
// further Arm calls. A camera pressed just before shutdown still gets its stop.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	var pending []*entry
	for _, bucket := range r.entries {
		for _, e := range bucket {
			e.timer.Stop()
			pending = append(pending, e)
		}
	}
	r.entries = make(map[string]map[uint64]*entry)
	timeout := r.fireTimeout
	r.mu.Unlock()

	if len(pending) > 0 {
		r.logger.Info("flushing pending auto-stops", zap.Int("count", len(pending)))
	}
	var wg sync.WaitGroup
	for _, e := range pending {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			r.run(e, timeout)
		}(e)
	}
	wg.Wait()
}
