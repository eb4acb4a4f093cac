// Package monitor correlates file-access events with the process and
// container that caused them.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/majorcontext/sedock/internal/cgroup"
	"github.com/majorcontext/sedock/internal/fanotify"
	"github.com/majorcontext/sedock/internal/log"
	"github.com/majorcontext/sedock/internal/proc"
)

// Defaults for Options fields left at zero.
const (
	DefaultWorkers        = 1
	DefaultQueueSize      = 1024
	DefaultEnqueueTimeout = 50 * time.Millisecond
	DefaultDrainTimeout   = 2 * time.Second
)

// ErrAlreadyStarted is returned by Run on a pipeline that has already run.
var ErrAlreadyStarted = errors.New("monitor pipeline already started")

// Source produces batches of access events in kernel order.
type Source interface {
	Next() ([]fanotify.Event, error)
	Stats() fanotify.Stats
	Close() error
}

// Sink receives enriched events in arrival order.
type Sink interface {
	Write(EnrichedEvent) error
}

// ProcessResolver looks up host processes.
type ProcessResolver interface {
	Resolve(pid int) (proc.Info, error)
}

// ContainerResolver maps a pid to its container.
type ContainerResolver interface {
	Resolve(pid int) (cgroup.Ref, bool)
}

// EnrichedEvent is an access event plus whatever could be learned about
// its origin. Process is nil when the process had already exited;
// Container is nil when the process is not containerised or attribution
// is disabled.
type EnrichedEvent struct {
	fanotify.Event
	Process   *proc.Info
	Container *cgroup.Ref
}

// Options tunes a Pipeline.
type Options struct {
	// ShowContainer enables container attribution.
	ShowContainer bool
	// Workers resolving events concurrently. Output order is unaffected.
	Workers int
	// QueueSize bounds events buffered between the reader and workers.
	QueueSize int
	// EnqueueTimeout is how long the reader waits on a full queue before
	// dropping an event.
	EnqueueTimeout time.Duration
	// DrainTimeout bounds how long queued events are processed after
	// cancellation.
	DrainTimeout time.Duration
	// Dedup suppresses an event identical in pid, kind, and path to the
	// one emitted just before it.
	Dedup bool
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.EnqueueTimeout <= 0 {
		o.EnqueueTimeout = DefaultEnqueueTimeout
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	return o
}

// Stats summarises a run.
type Stats struct {
	// Processed events were written to the sink.
	Processed uint64 `json:"processed"`
	// Dropped events were read from the kernel but never written, because
	// the queue stayed full, the drain deadline passed, or the batch that
	// carried them was malformed.
	Dropped uint64 `json:"dropped"`
	// Lost counts kernel queue overflows; the number of events behind
	// each is unknown.
	Lost uint64 `json:"lost"`
	// UnknownProcess counts events whose process could not be resolved.
	UnknownProcess uint64 `json:"unknown_process"`
	// Deduplicated counts events suppressed by Dedup.
	Deduplicated uint64 `json:"deduplicated"`
}

// FatalError ends a run early.
type FatalError struct {
	Err       error
	Processed uint64
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("monitor failed after %d events: %v", e.Processed, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Pipeline moves events from a Source to a Sink. A Pipeline runs once.
type Pipeline struct {
	src        Source
	sink       Sink
	procs      ProcessResolver
	containers ContainerResolver
	opts       Options

	mu    sync.Mutex
	state State

	processed, dropped, unknown, deduped atomic.Uint64
}

// New creates a pipeline. containers may be nil when attribution is off.
func New(src Source, sink Sink, procs ProcessResolver, containers ContainerResolver, opts Options) *Pipeline {
	return &Pipeline{
		src:        src,
		sink:       sink,
		procs:      procs,
		containers: containers,
		opts:       opts.withDefaults(),
		state:      Idle,
	}
}

type queued struct {
	seq uint64
	ev  fanotify.Event
}

type resolved struct {
	seq uint64
	ev  EnrichedEvent
}

// Run processes events until ctx is cancelled or a fatal error occurs.
// Cancellation is a clean stop and returns a nil error.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	if !p.transition(Idle, Running) {
		return Stats{}, ErrAlreadyStarted
	}
	log.Debug("monitor pipeline running",
		"workers", p.opts.Workers, "queue", p.opts.QueueSize,
		"containers", p.opts.ShowContainer, "dedup", p.opts.Dedup)

	queue := make(chan queued, p.opts.QueueSize)
	results := make(chan resolved, p.opts.QueueSize)

	var abortOnce, closeOnce sync.Once
	abort := make(chan struct{})
	stopAbort := func() { abortOnce.Do(func() { close(abort) }) }
	closeSource := func() {
		closeOnce.Do(func() {
			if err := p.src.Close(); err != nil {
				log.Debug("closing event source", "error", err)
			}
		})
	}

	finished := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-ctx.Done():
		case <-finished:
			return
		}
		p.transition(Running, Stopping)
		closeSource()
		timer := time.NewTimer(p.opts.DrainTimeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			log.Warn("drain deadline passed; discarding queued events", "timeout", p.opts.DrainTimeout)
			stopAbort()
		case <-finished:
		}
	}()

	var g errgroup.Group
	g.Go(func() error {
		defer close(queue)
		return p.read(queue, abort)
	})

	var workers errgroup.Group
	for range p.opts.Workers {
		workers.Go(func() error {
			p.work(queue, results, abort)
			return nil
		})
	}
	g.Go(func() error {
		_ = workers.Wait()
		close(results)
		return nil
	})

	g.Go(func() error {
		return p.reorder(results, abort, func() {
			stopAbort()
			closeSource()
		})
	})

	err := g.Wait()
	close(finished)
	<-watcherDone
	closeSource()

	stats := p.stats()
	if err != nil {
		p.setState(Failed)
		log.Error("monitor pipeline failed", "error", err, "processed", stats.Processed)
		return stats, &FatalError{Err: err, Processed: stats.Processed}
	}
	p.transition(Running, Stopping)
	p.setState(Stopped)
	return stats, nil
}

// read feeds the queue until the source is closed or fails.
func (p *Pipeline) read(queue chan<- queued, abort <-chan struct{}) error {
	var seq uint64
	for {
		batch, err := p.src.Next()
		if err != nil {
			if errors.Is(err, fanotify.ErrClosed) {
				return nil
			}
			return err
		}
		for _, ev := range batch {
			if p.enqueue(queue, queued{seq: seq, ev: ev}, abort) {
				seq++
			}
		}
	}
}

// enqueue waits briefly on a full queue and drops the event if no room
// appears. Only enqueued events consume a sequence number.
func (p *Pipeline) enqueue(queue chan<- queued, item queued, abort <-chan struct{}) bool {
	select {
	case queue <- item:
		return true
	default:
	}

	timer := time.NewTimer(p.opts.EnqueueTimeout)
	defer timer.Stop()
	select {
	case queue <- item:
		return true
	case <-timer.C:
	case <-abort:
	}
	if n := p.dropped.Add(1); n == 1 || n%1000 == 0 {
		log.Warn("event queue full; dropping events", "dropped", n)
	}
	return false
}

func (p *Pipeline) work(queue <-chan queued, results chan<- resolved, abort <-chan struct{}) {
	for item := range queue {
		select {
		case <-abort:
			p.dropped.Add(1)
			continue
		default:
		}

		r := resolved{seq: item.seq, ev: p.resolve(item.ev)}
		select {
		case results <- r:
		case <-abort:
			p.dropped.Add(1)
		}
	}
}

func (p *Pipeline) resolve(ev fanotify.Event) EnrichedEvent {
	out := EnrichedEvent{Event: ev}

	info, err := p.procs.Resolve(ev.PID)
	if err != nil {
		p.unknown.Add(1)
		if !errors.Is(err, proc.ErrNotFound) {
			log.Debug("resolving process", "pid", ev.PID, "error", err)
		}
	} else {
		out.Process = &info
	}

	if p.opts.ShowContainer && p.containers != nil {
		if ref, ok := p.containers.Resolve(ev.PID); ok {
			out.Container = &ref
		}
	}
	return out
}

// reorder writes results to the sink in sequence order. A sink failure
// calls fail to stop the reader. After a failure or abort it keeps
// consuming so workers never block, counting everything it discards.
func (p *Pipeline) reorder(results <-chan resolved, abort <-chan struct{}, fail func()) error {
	pending := make(map[uint64]EnrichedEvent)
	var next uint64
	var last *EnrichedEvent
	var sinkErr error

	for r := range results {
		if sinkErr != nil || isClosed(abort) {
			p.dropped.Add(1)
			continue
		}
		pending[r.seq] = r.ev
		for {
			ev, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++

			if p.opts.Dedup && last != nil && sameAccess(*last, ev) {
				p.deduped.Add(1)
				continue
			}
			if err := p.sink.Write(ev); err != nil {
				sinkErr = fmt.Errorf("writing event: %w", err)
				p.dropped.Add(uint64(len(pending)) + 1)
				clear(pending)
				fail()
				break
			}
			p.processed.Add(1)
			last = &ev
		}
	}
	p.dropped.Add(uint64(len(pending)))
	return sinkErr
}

func sameAccess(a, b EnrichedEvent) bool {
	return a.PID == b.PID && a.Kind == b.Kind && a.Path == b.Path
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (p *Pipeline) stats() Stats {
	src := p.src.Stats()
	return Stats{
		Processed:      p.processed.Load(),
		Dropped:        p.dropped.Load() + src.Discarded,
		Lost:           src.Lost,
		UnknownProcess: p.unknown.Load(),
		Deduplicated:   p.deduped.Load(),
	}
}
