// Package dockertest provides an in-memory docker.API for tests.
package dockertest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

// ErrUnreachable is what a Fake returns from every call when Down is set.
var ErrUnreachable = errors.New("Cannot connect to the Docker daemon at unix:///var/run/docker.sock")

// Fake serves list/inspect/top from fixed data.
type Fake struct {
	mu sync.Mutex

	// Containers are listed in slice order.
	Containers []container.InspectResponse
	// Top maps a container id to its process table.
	Top map[string]container.TopResponse
	// Stats maps a container id to its resource sample. Containers without
	// an entry report an empty sample.
	Stats map[string]container.StatsResponse
	// Logs maps a container id to its output, oldest first.
	Logs map[string][]LogLine
	// InspectErr forces an error for the given id or name.
	InspectErr map[string]error
	// Down makes every call fail as if the daemon were unreachable.
	Down bool

	inspects []string
	tops     []string
	logOpts  []container.LogsOptions
}

// LogLine is one line a container wrote to stdout or stderr.
type LogLine struct {
	Stderr bool
	Text   string
}

// Ping implements docker.API.
func (f *Fake) Ping(ctx context.Context) (types.Ping, error) {
	if f.Down {
		return types.Ping{}, ErrUnreachable
	}
	return types.Ping{APIVersion: "1.47"}, nil
}

// ContainerList implements docker.API.
func (f *Fake) ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error) {
	if f.Down {
		return nil, ErrUnreachable
	}
	var out []container.Summary
	for _, c := range f.Containers {
		if c.State == nil || (!options.All && !c.State.Running) {
			continue
		}
		if name := options.Filters.Get("name"); len(name) > 0 && !strings.Contains(c.Name, name[0]) {
			continue
		}
		out = append(out, container.Summary{
			ID:    c.ID,
			Names: []string{c.Name},
			State: c.State.Status,
		})
	}
	return out, nil
}

// ContainerInspect implements docker.API. It resolves full ids, id
// prefixes, and names the way the daemon does.
func (f *Fake) ContainerInspect(ctx context.Context, id string) (container.InspectResponse, error) {
	f.mu.Lock()
	f.inspects = append(f.inspects, id)
	f.mu.Unlock()

	if f.Down {
		return container.InspectResponse{}, ErrUnreachable
	}
	if err, ok := f.InspectErr[id]; ok {
		return container.InspectResponse{}, err
	}
	for _, c := range f.Containers {
		if c.ID == id || strings.HasPrefix(c.ID, id) || strings.TrimPrefix(c.Name, "/") == id {
			return c, nil
		}
	}
	return container.InspectResponse{}, notFound(id)
}

// ContainerTop implements docker.API.
func (f *Fake) ContainerTop(ctx context.Context, id string, arguments []string) (container.TopResponse, error) {
	f.mu.Lock()
	f.tops = append(f.tops, id)
	f.mu.Unlock()

	if f.Down {
		return container.TopResponse{}, ErrUnreachable
	}
	for full, top := range f.Top {
		if strings.HasPrefix(full, id) {
			return top, nil
		}
	}
	return container.TopResponse{}, notFound(id)
}

// ContainerStats implements docker.API.
func (f *Fake) ContainerStats(ctx context.Context, id string, stream bool) (container.StatsResponseReader, error) {
	if f.Down {
		return container.StatsResponseReader{}, ErrUnreachable
	}
	full, ok := f.resolve(id)
	if !ok {
		return container.StatsResponseReader{}, notFound(id)
	}
	body, err := json.Marshal(f.Stats[full])
	if err != nil {
		return container.StatsResponseReader{}, err
	}
	return container.StatsResponseReader{Body: io.NopCloser(bytes.NewReader(body)), OSType: "linux"}, nil
}

// ContainerLogs implements docker.API. Output is multiplexed the way the
// daemon sends it unless the container has a TTY.
func (f *Fake) ContainerLogs(ctx context.Context, id string, options container.LogsOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	f.logOpts = append(f.logOpts, options)
	f.mu.Unlock()

	if f.Down {
		return nil, ErrUnreachable
	}
	full, ok := f.resolve(id)
	if !ok {
		return nil, notFound(id)
	}
	lines := f.Logs[full]
	if n, err := strconv.Atoi(options.Tail); err == nil && n < len(lines) {
		lines = lines[len(lines)-n:]
	}

	tty := false
	for _, c := range f.Containers {
		if c.ID == full && c.Config != nil {
			tty = c.Config.Tty
		}
	}
	var buf bytes.Buffer
	stdout, stderr := stdcopy.NewStdWriter(&buf, stdcopy.Stdout), stdcopy.NewStdWriter(&buf, stdcopy.Stderr)
	for _, l := range lines {
		w := stdout
		switch {
		case tty:
			w = &buf
		case l.Stderr:
			w = stderr
		}
		if _, err := io.WriteString(w, l.Text+"\n"); err != nil {
			return nil, err
		}
	}
	return io.NopCloser(&buf), nil
}

func (f *Fake) resolve(id string) (string, bool) {
	for _, c := range f.Containers {
		if c.ID == id || strings.HasPrefix(c.ID, id) || strings.TrimPrefix(c.Name, "/") == id {
			return c.ID, true
		}
	}
	return "", false
}

// notFound returns the error the daemon gives for a missing container.
func notFound(id string) error {
	return fmt.Errorf("No such container: %s: %w", id, errdefs.ErrNotFound)
}

// Close implements docker.API.
func (f *Fake) Close() error { return nil }

// Inspected returns the ids passed to ContainerInspect, in call order.
func (f *Fake) Inspected() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.inspects...)
}

// LogOptions returns the options passed to ContainerLogs, in call order.
func (f *Fake) LogOptions() []container.LogsOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]container.LogsOptions(nil), f.logOpts...)
}

// TopCalls returns the ids passed to ContainerTop, in call order.
func (f *Fake) TopCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tops...)
}
