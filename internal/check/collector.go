// Package check assembles per-container reports from the Docker daemon and
// the host process table.
package check

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/majorcontext/sedock/internal/docker"
	"github.com/majorcontext/sedock/internal/log"
	"github.com/majorcontext/sedock/internal/proc"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultConcurrency bounds in-flight inspect requests during a full scan.
	DefaultConcurrency = 4
	// DefaultLogLines is how much recent output verbose reports carry.
	DefaultLogLines = 20
)

// Daemon is the part of docker.Client the collector needs.
type Daemon interface {
	Ping(ctx context.Context) error
	ListContainers(ctx context.Context, f docker.Filter) ([]docker.Ref, error)
	Inspect(ctx context.Context, id string) (docker.Summary, error)
	Top(ctx context.Context, id string) ([]docker.TopProcess, error)
	Stats(ctx context.Context, id string) (docker.Usage, error)
	Logs(ctx context.Context, id string, tail int, tty bool) ([]string, error)
}

// ProcessResolver resolves host pids.
type ProcessResolver interface {
	Resolve(pid int) (proc.Info, error)
}

// SelectorKind says which containers a Selector picks.
type SelectorKind int

const (
	SelectAll SelectorKind = iota
	SelectByID
	SelectByName
)

// Selector picks the containers to collect.
type Selector struct {
	Kind  SelectorKind
	Value string
}

// All selects every container, running or stopped.
func All() Selector { return Selector{Kind: SelectAll} }

// ByID selects one container by short or full id.
func ByID(id string) Selector { return Selector{Kind: SelectByID, Value: id} }

// ByName selects one container by name.
func ByName(name string) Selector { return Selector{Kind: SelectByName, Value: name} }

var hexID = regexp.MustCompile(`^[0-9a-f]{1,64}$`)

// Parse turns a user-supplied container reference into a Selector. An empty
// string selects all containers; hex strings are treated as ids.
func Parse(s string) Selector {
	switch {
	case s == "":
		return All()
	case hexID.MatchString(s):
		return ByID(s)
	default:
		return ByName(s)
	}
}

func (s Selector) String() string {
	switch s.Kind {
	case SelectByID:
		return "id " + s.Value
	case SelectByName:
		return "name " + s.Value
	default:
		return "all containers"
	}
}

// Result is the outcome for one container. Exactly one of Summary and Err
// is set.
type Result struct {
	// Ref is the identity the item was requested by.
	Ref     string
	Summary *docker.Summary
	Err     error
	// Notes records non-fatal gaps, such as an unreadable main process.
	Notes []string
}

// Options configures a Collector.
type Options struct {
	// Verbose adds the process list, environment, resource usage, and
	// recent output of each container.
	Verbose bool
	// Concurrency bounds parallel inspects; <= 0 means DefaultConcurrency.
	Concurrency int
	// LogLines is the output tail kept in verbose mode; <= 0 means
	// DefaultLogLines.
	LogLines int
}

// Collector builds container reports.
type Collector struct {
	daemon Daemon
	procs  ProcessResolver
	opts   Options
}

// NewCollector creates a Collector.
func NewCollector(daemon Daemon, procs ProcessResolver, opts Options) *Collector {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.LogLines <= 0 {
		opts.LogLines = DefaultLogLines
	}
	return &Collector{daemon: daemon, procs: procs, opts: opts}
}

// Collect resolves each selected container independently. The returned
// error is non-nil only when the daemon itself cannot be used; per-item
// failures are reported in Result.Err. Results follow the daemon's listing
// order.
func (c *Collector) Collect(ctx context.Context, sel Selector) ([]Result, error) {
	if err := c.daemon.Ping(ctx); err != nil {
		return nil, err
	}

	var refs []docker.Ref
	if sel.Kind == SelectAll {
		var err error
		refs, err = c.daemon.ListContainers(ctx, docker.Filter{All: true})
		if err != nil {
			return nil, err
		}
	} else {
		refs = []docker.Ref{{ID: sel.Value}}
	}

	results := make([]Result, len(refs))
	// Item errors stay in results; the group never sees them, so one
	// failure cannot cancel the other inspects.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			results[i] = c.collectOne(gctx, ref.ID)
			if results[i].Err == nil && results[i].Summary.Name == "" {
				results[i].Summary.Name = ref.Name
			}
			return nil
		})
	}
	_ = g.Wait()

	// A daemon that went away mid-scan fails every item the same way.
	if len(results) > 0 && allUnreachable(results) {
		return nil, results[0].Err
	}
	return results, nil
}

func (c *Collector) collectOne(ctx context.Context, id string) Result {
	res := Result{Ref: id}

	s, err := c.daemon.Inspect(ctx, id)
	if err != nil {
		if errors.Is(err, docker.ErrNotFound) {
			log.Debug("container vanished during check", "container", id)
		}
		res.Err = err
		return res
	}
	res.Ref = s.ID
	res.Summary = &s

	if !c.opts.Verbose {
		// Environment values often hold credentials.
		s.Env = nil
		return res
	}
	res.Notes = c.attachProcess(ctx, &s)
	res.Notes = append(res.Notes, c.attachUsage(ctx, &s)...)
	return res
}

// attachUsage adds a resource sample for running containers and the tail
// of every container's output.
func (c *Collector) attachUsage(ctx context.Context, s *docker.Summary) []string {
	var notes []string
	if s.Status == "running" {
		u, err := c.daemon.Stats(ctx, s.ID)
		if err != nil {
			notes = append(notes, fmt.Sprintf("resource usage unavailable: %v", err))
		} else {
			s.Usage = &u
		}
	}

	lines, err := c.daemon.Logs(ctx, s.ID, c.opts.LogLines, s.TTY)
	if err != nil {
		return append(notes, fmt.Sprintf("logs unavailable: %v", err))
	}
	s.Logs = lines
	return notes
}

// attachProcess asks the daemon for the container's process table and
// resolves the main process on the host.
func (c *Collector) attachProcess(ctx context.Context, s *docker.Summary) []string {
	top, err := c.daemon.Top(ctx, s.ID)
	if err != nil {
		if s.Status == "running" {
			return []string{fmt.Sprintf("process list unavailable: %v", err)}
		}
		return nil
	}
	s.Processes = top

	pid := mainPID(s.MainPID, top)
	if pid == 0 {
		return nil
	}

	info, err := c.procs.Resolve(pid)
	if err != nil {
		if errors.Is(err, proc.ErrNotFound) {
			return []string{fmt.Sprintf("main process %d not visible on this host", pid)}
		}
		return []string{fmt.Sprintf("main process %d: %v", pid, err)}
	}
	s.Process = &info
	return nil
}

// mainPID prefers the pid recorded by inspect when the process table
// confirms it, falling back to the first row.
func mainPID(inspected int, top []docker.TopProcess) int {
	if len(top) == 0 {
		return 0
	}
	for _, p := range top {
		if p.PID == inspected {
			return inspected
		}
	}
	return top[0].PID
}

func allUnreachable(results []Result) bool {
	for _, r := range results {
		if r.Err == nil || !errors.Is(r.Err, docker.ErrDaemonUnreachable) {
			return false
		}
	}
	return true
}
