package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"

	"github.com/majorcontext/sedock/internal/check"
	"github.com/majorcontext/sedock/internal/docker"
	"github.com/majorcontext/sedock/internal/proc"
	"github.com/majorcontext/sedock/internal/ui"
)

// ContainerRenderer writes the outcome of a check.
type ContainerRenderer interface {
	Render(results []check.Result) error
}

// ContainerOptions tunes a ContainerRenderer.
type ContainerOptions struct {
	// Verbose adds runtime settings, limits, usage, processes, and logs to
	// table blocks. JSON carries whatever the collector gathered.
	Verbose bool
	// Width is the terminal width used for separators.
	Width int
}

// NewContainerRenderer returns the renderer for f.
func NewContainerRenderer(f Format, w io.Writer, opts ContainerOptions) (ContainerRenderer, error) {
	switch f {
	case Table:
		return &containerTable{w: w, opts: opts}, nil
	case JSON:
		return &containerJSON{w: w}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", f)
	}
}

// containerRecord is the JSON shape of one check result and the single
// source of every value the table prints.
type containerRecord struct {
	ID         string            `json:"id"`
	Name       string            `json:"name,omitempty"`
	Image      string            `json:"image,omitempty"`
	ImageID    string            `json:"image_id,omitempty"`
	Status     string            `json:"status,omitempty"`
	Created    string            `json:"created,omitempty"`
	StartedAt  string            `json:"started_at,omitempty"`
	FinishedAt string            `json:"finished_at,omitempty"`
	Ports      []docker.Port     `json:"ports"`
	Mounts     []docker.Mount    `json:"mounts"`
	Network    *docker.Network   `json:"network,omitempty"`
	Networks   []docker.Endpoint `json:"networks,omitempty"`
	Process    *proc.Info        `json:"process,omitempty"`

	MainPID        int      `json:"main_pid,omitempty"`
	ExitCode       int      `json:"exit_code"`
	OOMKilled      bool     `json:"oom_killed"`
	RestartPolicy  string   `json:"restart_policy,omitempty"`
	RestartCount   int      `json:"restart_count"`
	Cmd            string   `json:"cmd,omitempty"`
	Entrypoint     string   `json:"entrypoint,omitempty"`
	User           string   `json:"user,omitempty"`
	WorkingDir     string   `json:"working_dir,omitempty"`
	Privileged     bool     `json:"privileged"`
	ReadOnlyRootfs bool     `json:"readonly_rootfs"`
	CapAdd         []string `json:"cap_add,omitempty"`
	SecurityOpt    []string `json:"security_opt,omitempty"`

	Resources *docker.Resources   `json:"resources,omitempty"`
	Usage     *docker.Usage       `json:"usage,omitempty"`
	Env       []string            `json:"env,omitempty"`
	Processes []docker.TopProcess `json:"processes,omitempty"`
	Logs      []string            `json:"logs,omitempty"`

	Notes []string `json:"notes,omitempty"`
	Error string   `json:"error,omitempty"`
}

// failedRecord is the JSON shape of an item that could not be inspected.
type failedRecord struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

func newContainerRecord(r check.Result) containerRecord {
	if r.Err != nil || r.Summary == nil {
		msg := "no data"
		if r.Err != nil {
			msg = r.Err.Error()
		}
		// Ref may be a name; only a full id is abbreviated.
		return containerRecord{ID: docker.ShortID(r.Ref), Error: msg}
	}

	s := r.Summary
	rec := containerRecord{
		ID:             s.ID,
		Name:           s.Name,
		Image:          s.Image,
		ImageID:        s.ImageID,
		Status:         s.Status,
		Created:        formatTime(s.Created),
		StartedAt:      formatTime(s.StartedAt),
		FinishedAt:     formatTime(s.FinishedAt),
		Ports:          s.Ports,
		Mounts:         s.Mounts,
		Networks:       s.Networks,
		Process:        s.Process,
		MainPID:        s.MainPID,
		ExitCode:       s.ExitCode,
		OOMKilled:      s.OOMKilled,
		RestartPolicy:  s.RestartPolicy,
		RestartCount:   s.RestartCount,
		Cmd:            s.Cmd,
		Entrypoint:     s.Entrypoint,
		User:           s.User,
		WorkingDir:     s.WorkingDir,
		Privileged:     s.Privileged,
		ReadOnlyRootfs: s.ReadOnlyRoot,
		CapAdd:         s.CapAdd,
		SecurityOpt:    s.SecurityOpt,
		Usage:          s.Usage,
		Env:            s.Env,
		Processes:      s.Processes,
		Logs:           s.Logs,
		Notes:          r.Notes,
	}
	if rec.Ports == nil {
		rec.Ports = []docker.Port{}
	}
	if rec.Mounts == nil {
		rec.Mounts = []docker.Mount{}
	}
	if s.Network != (docker.Network{}) {
		n := s.Network
		rec.Network = &n
	}
	if s.Resources != (docker.Resources{}) {
		res := s.Resources
		rec.Resources = &res
	}
	return rec
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

type containerJSON struct {
	w io.Writer
}

func (j *containerJSON) Render(results []check.Result) error {
	recs := make([]any, 0, len(results))
	for _, r := range results {
		rec := newContainerRecord(r)
		if rec.Error != "" {
			recs = append(recs, failedRecord{ID: rec.ID, Error: rec.Error})
			continue
		}
		recs = append(recs, rec)
	}
	return json.NewEncoder(j.w).Encode(recs)
}

type containerTable struct {
	w    io.Writer
	opts ContainerOptions
}

func (t *containerTable) Render(results []check.Result) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(t.w, "No containers found")
		return err
	}
	for i, r := range results {
		if i > 0 {
			ui.Rule(t.w, t.opts.Width)
		}
		if err := t.block(newContainerRecord(r)); err != nil {
			return err
		}
	}
	return nil
}

func (t *containerTable) block(rec containerRecord) error {
	tw := tabwriter.NewWriter(t.w, 0, 0, 2, ' ', 0)
	for _, line := range tableLines(rec, t.opts.Verbose) {
		key, value := line[0], line[1]
		if key == "status" {
			value = ui.Status(value)
		}
		fmt.Fprintf(tw, "%s\t%s\n", key, value)
	}
	return tw.Flush()
}

// tableLines lists the key/value rows of a container block. Keys repeat
// for list fields.
func tableLines(rec containerRecord, verbose bool) [][2]string {
	var lines [][2]string
	add := func(k, v string) { lines = append(lines, [2]string{k, v}) }

	add("id", rec.ID)
	if rec.Error != "" {
		add("error", rec.Error)
		return lines
	}

	add("name", rec.Name)
	add("image", rec.Image)
	add("status", rec.Status)
	add("created", rec.Created)
	if len(rec.Ports) == 0 {
		add("port", placeholder)
	}
	for _, p := range rec.Ports {
		add("port", formatPort(p))
	}
	if len(rec.Mounts) == 0 {
		add("mount", placeholder)
	}
	for _, m := range rec.Mounts {
		add("mount", formatMount(m))
	}
	if rec.Network != nil {
		add("network", formatNetwork(*rec.Network))
	} else {
		add("network", placeholder)
	}

	if verbose {
		for _, ep := range rec.Networks {
			add("endpoint", formatEndpoint(ep))
		}
		if rec.ImageID != "" {
			add("image_id", rec.ImageID)
		}
		if rec.StartedAt != "" {
			add("started", rec.StartedAt)
		}
		if rec.Process != nil {
			add("process", formatProcess(*rec.Process))
		}
		add("restart", fmt.Sprintf("%s (count %d)", orPlaceholder(rec.RestartPolicy), rec.RestartCount))
		if rec.Status != "running" {
			if rec.FinishedAt != "" {
				add("finished", rec.FinishedAt)
			}
			add("exit_code", strconv.Itoa(rec.ExitCode))
			if rec.OOMKilled {
				add("oom_killed", "true")
			}
		}
		add("entrypoint", orPlaceholder(rec.Entrypoint))
		add("cmd", orPlaceholder(rec.Cmd))
		add("user", orPlaceholder(rec.User))
		if rec.WorkingDir != "" {
			add("working_dir", rec.WorkingDir)
		}
		if rec.Privileged {
			add("privileged", "true")
		}
		if rec.ReadOnlyRootfs {
			add("readonly_rootfs", "true")
		}
		if len(rec.CapAdd) > 0 {
			add("cap_add", strings.Join(rec.CapAdd, ","))
		}
		if len(rec.SecurityOpt) > 0 {
			add("security_opt", strings.Join(rec.SecurityOpt, ","))
		}
		if rec.Resources != nil {
			add("limits", formatResources(*rec.Resources))
		}
		if rec.Usage != nil {
			add("usage", formatUsage(*rec.Usage))
		}
		for _, e := range rec.Env {
			add("env", e)
		}
		for _, p := range rec.Processes {
			add("proc", formatTop(p))
		}
		for _, l := range rec.Logs {
			add("log", l)
		}
	}
	for _, n := range rec.Notes {
		add("note", n)
	}
	return lines
}

func formatPort(p docker.Port) string {
	return fmt.Sprintf("%d->%d/%s", p.Host, p.Container, p.Proto)
}

func formatMount(m docker.Mount) string {
	return fmt.Sprintf("%s -> %s [%s]", m.Host, m.Container, m.Mode)
}

func formatNetwork(n docker.Network) string {
	return fmt.Sprintf("ip=%s gateway=%s mode=%s",
		orPlaceholder(n.IP), orPlaceholder(n.Gateway), orPlaceholder(n.Mode))
}

func formatEndpoint(ep docker.Endpoint) string {
	return fmt.Sprintf("%s ip=%s gateway=%s mac=%s",
		ep.Name, orPlaceholder(ep.IP), orPlaceholder(ep.Gateway), orPlaceholder(ep.MAC))
}

// formatResources lists the limits that are set; unset ones are omitted.
func formatResources(r docker.Resources) string {
	var parts []string
	if r.CPUShares > 0 {
		parts = append(parts, fmt.Sprintf("cpu_shares=%d", r.CPUShares))
	}
	if r.NanoCPUs > 0 {
		parts = append(parts, fmt.Sprintf("cpus=%.2f", float64(r.NanoCPUs)/1e9))
	}
	if r.CPUQuota > 0 {
		parts = append(parts, fmt.Sprintf("cpu_quota=%d/%d", r.CPUQuota, r.CPUPeriod))
	} else if r.CPUPeriod > 0 {
		parts = append(parts, fmt.Sprintf("cpu_period=%d", r.CPUPeriod))
	}
	if r.Memory > 0 {
		parts = append(parts, "memory="+units.BytesSize(float64(r.Memory)))
	}
	switch {
	case r.MemorySwap < 0:
		parts = append(parts, "swap=unlimited")
	case r.MemorySwap > 0:
		parts = append(parts, "swap="+units.BytesSize(float64(r.MemorySwap)))
	}
	if r.PidsLimit > 0 {
		parts = append(parts, fmt.Sprintf("pids_limit=%d", r.PidsLimit))
	}
	if len(parts) == 0 {
		return placeholder
	}
	return strings.Join(parts, " ")
}

func formatUsage(u docker.Usage) string {
	return fmt.Sprintf("cpu=%.2f%% mem=%s / %s (%.2f%%) pids=%d net=%s/%s block=%s/%s",
		u.CPUPercent,
		units.BytesSize(float64(u.MemoryUsage)), units.BytesSize(float64(u.MemoryLimit)), u.MemoryPercent,
		u.PIDs,
		units.BytesSize(float64(u.NetRx)), units.BytesSize(float64(u.NetTx)),
		units.BytesSize(float64(u.BlockRead)), units.BytesSize(float64(u.BlockWrite)))
}

func formatTop(p docker.TopProcess) string {
	return fmt.Sprintf("pid=%d ppid=%d user=%s cmd=%s", p.PID, p.PPID, orPlaceholder(p.User), p.Cmd)
}

func formatProcess(p proc.Info) string {
	return fmt.Sprintf("pid=%d uid=%d cmd=%s", p.PID, p.UID, p.Cmdline)
}

func orPlaceholder(s string) string {
	if s == "" {
		return placeholder
	}
	return s
}
