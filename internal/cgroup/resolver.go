package cgroup

import (
	"io/fs"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL bounds how long a pid's container attribution is trusted.
const DefaultTTL = 5 * time.Second

// sweepAt is the entry count above which expired entries are evicted.
const sweepAt = 4096

// Ref identifies the container a process belongs to.
type Ref struct {
	ID string `json:"id"`
}

// StartTimer reports a process start time. A change in start time for the
// same pid means the pid was reused.
type StartTimer interface {
	StartTime(pid int) (uint64, error)
}

// CacheStats counts cache activity.
type CacheStats struct {
	Hits          uint64
	Misses        uint64
	Invalidations uint64
}

type entry struct {
	ref     Ref
	ok      bool
	start   uint64
	expires time.Time
}

// Resolver maps pids to containers, caching results per pid.
//
// A Resolver is safe for concurrent use. Concurrent lookups of the same pid
// are collapsed so only one of them reads the cgroup file and writes the
// cache entry.
type Resolver struct {
	fsys   fs.FS
	starts StartTimer
	ttl    time.Duration
	now    func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	entries map[int]entry
	stats   CacheStats
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTTL sets the cache entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithClock replaces time.Now (for testing).
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// NewResolver returns a Resolver reading cgroup files from fsys, which must
// be laid out like /proc.
func NewResolver(fsys fs.FS, starts StartTimer, opts ...Option) *Resolver {
	r := &Resolver{
		fsys:    fsys,
		starts:  starts,
		ttl:     DefaultTTL,
		now:     time.Now,
		entries: make(map[int]entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the container pid belongs to. It reports false for host
// processes, exited processes, and unparsable cgroup layouts.
func (r *Resolver) Resolve(pid int) (Ref, bool) {
	if pid <= 0 {
		return Ref{}, false
	}

	// An unreadable start time means the process is gone. The cached entry,
	// if still fresh, was recorded while it was alive and is the best answer.
	start, startErr := r.starts.StartTime(pid)

	r.mu.Lock()
	e, cached := r.entries[pid]
	if cached && r.now().Before(e.expires) && (startErr != nil || e.start == start) {
		r.stats.Hits++
		r.mu.Unlock()
		return e.ref, e.ok
	}
	if cached && startErr == nil && e.start != start {
		r.stats.Invalidations++
	}
	r.stats.Misses++
	r.mu.Unlock()

	if startErr != nil {
		return Ref{}, false
	}

	// Keyed by start time too, so a lookup for a reused pid never joins a
	// read begun for the previous process.
	key := strconv.Itoa(pid) + ":" + strconv.FormatUint(start, 10)
	v, _, _ := r.group.Do(key, func() (any, error) {
		ref, ok := r.read(pid)
		e := entry{ref: ref, ok: ok, start: start, expires: r.now().Add(r.ttl)}
		r.mu.Lock()
		if len(r.entries) >= sweepAt {
			r.sweepLocked()
		}
		r.entries[pid] = e
		r.mu.Unlock()
		return e, nil
	})
	e = v.(entry)
	return e.ref, e.ok
}

// Forget drops the cached entry for pid.
func (r *Resolver) Forget(pid int) {
	r.mu.Lock()
	delete(r.entries, pid)
	r.mu.Unlock()
}

// Stats returns a snapshot of the cache counters.
func (r *Resolver) Stats() CacheStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Resolver) sweepLocked() {
	now := r.now()
	for pid, e := range r.entries {
		if !now.Before(e.expires) {
			delete(r.entries, pid)
		}
	}
}

func (r *Resolver) read(pid int) (Ref, bool) {
	data, err := fs.ReadFile(r.fsys, strconv.Itoa(pid)+"/cgroup")
	if err != nil {
		return Ref{}, false
	}
	id, ok := ParseContainerID(data)
	if !ok {
		return Ref{}, false
	}
	return Ref{ID: id}, true
}
