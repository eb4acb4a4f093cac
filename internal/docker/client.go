// Package docker is a read-only client for the Docker daemon's management
// endpoint. It lists and inspects containers; it never mutates them.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

var (
	// ErrDaemonUnreachable is returned when the daemon cannot be contacted.
	ErrDaemonUnreachable = errors.New("docker daemon not reachable")

	// ErrNotFound is returned when a container does not exist, including
	// when it was removed between listing and inspecting.
	ErrNotFound = errors.New("container not found")
)

// API is the subset of the Docker SDK client used here.
type API interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerTop(ctx context.Context, containerID string, arguments []string) (container.TopResponse, error)
	ContainerStats(ctx context.Context, containerID string, stream bool) (container.StatsResponseReader, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	Close() error
}

// Client wraps the Docker SDK client with list/inspect operations.
type Client struct {
	api API
}

type options struct {
	host string
}

// Option configures NewClient.
type Option func(*options)

// WithHost overrides the daemon endpoint (e.g. unix:///run/docker.sock).
// An empty host keeps the environment default.
func WithHost(host string) Option {
	return func(o *options) {
		o.host = host
	}
}

// NewClient creates a client from the environment (DOCKER_HOST etc.).
func NewClient(opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if o.host != "" {
		clientOpts = append(clientOpts, client.WithHost(o.host))
	}

	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Client{api: cli}, nil
}

// New wraps an existing API implementation.
func New(api API) *Client {
	return &Client{api: api}
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.api.Close()
}

// Ping verifies the daemon is accessible.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrDaemonUnreachable, err)
	}
	return nil
}

// Filter narrows a container listing. Zero values are ignored.
type Filter struct {
	// All includes stopped containers.
	All    bool
	Name   string
	ID     string
	Status string
}

func (f Filter) args() filters.Args {
	args := filters.NewArgs()
	if f.Name != "" {
		args.Add("name", f.Name)
	}
	if f.ID != "" {
		args.Add("id", f.ID)
	}
	if f.Status != "" {
		args.Add("status", f.Status)
	}
	return args
}

// Ref identifies a listed container.
type Ref struct {
	ID    string
	Name  string
	State string
}

// ListContainers returns container identities in the daemon's order.
func (c *Client) ListContainers(ctx context.Context, f Filter) ([]Ref, error) {
	list, err := c.api.ContainerList(ctx, container.ListOptions{
		All:     f.All,
		Filters: f.args(),
	})
	if err != nil {
		return nil, classify("listing containers", err)
	}

	refs := make([]Ref, 0, len(list))
	for _, s := range list {
		name := ""
		if len(s.Names) > 0 {
			name = strings.TrimPrefix(s.Names[0], "/")
		}
		refs = append(refs, Ref{ID: s.ID, Name: name, State: string(s.State)})
	}
	return refs, nil
}

// Inspect returns a summary built from a single inspect call. id may be a
// short id, full id, or name; the daemon resolves it.
func (c *Client) Inspect(ctx context.Context, id string) (Summary, error) {
	resp, err := c.api.ContainerInspect(ctx, id)
	if err != nil {
		return Summary{}, classify("inspecting container "+id, err)
	}
	s, err := summarize(resp)
	if err != nil {
		return Summary{}, fmt.Errorf("container %s: %w", id, err)
	}
	return s, nil
}

// TopProcess is one row of the daemon's process table for a container.
type TopProcess struct {
	PID  int    `json:"pid"`
	PPID int    `json:"ppid"`
	User string `json:"user"`
	Cmd  string `json:"cmd"`
}

// Top lists the processes running in a container, with host pids.
func (c *Client) Top(ctx context.Context, id string) ([]TopProcess, error) {
	resp, err := c.api.ContainerTop(ctx, id, nil)
	if err != nil {
		return nil, classify("listing processes of "+id, err)
	}
	return parseTop(resp.Titles, resp.Processes), nil
}

func classify(what string, err error) error {
	switch {
	case errdefs.IsNotFound(err):
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	case client.IsErrConnectionFailed(err):
		return fmt.Errorf("%s: %w: %w", what, ErrDaemonUnreachable, err)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}
