package output

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majorcontext/sedock/internal/cgroup"
	"github.com/majorcontext/sedock/internal/check"
	"github.com/majorcontext/sedock/internal/docker"
	"github.com/majorcontext/sedock/internal/docker/dockertest"
	"github.com/majorcontext/sedock/internal/fanotify"
	"github.com/majorcontext/sedock/internal/monitor"
	"github.com/majorcontext/sedock/internal/proc"
	"github.com/majorcontext/sedock/internal/ui"
)

func init() { ui.SetColorEnabled(false) }

var mysqld = proc.Info{PID: 12345, UID: 27, GID: 27, Exe: "/usr/sbin/mysqld", Cmdline: "mysqld"}

func mysqlWrite() monitor.EnrichedEvent {
	p := mysqld
	return monitor.EnrichedEvent{
		Event: fanotify.Event{
			Kind: fanotify.KindWrite,
			PID:  12345,
			Path: "/docker/mysql/data/ibdata1",
			Time: time.Date(2024, 3, 1, 8, 15, 30, 500, time.UTC),
		},
		Process:   &p,
		Container: &cgroup.Ref{ID: "a6c8a98ddebb"},
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": Table, "table": Table, "TEXT": Table, "json": JSON} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("yaml")
	assert.ErrorContains(t, err, `"yaml"`)
}

func TestEventTableRow(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewEventRenderer(Table, &buf, EventOptions{})
	require.NoError(t, err)

	require.NoError(t, r.Write(mysqlWrite()))
	assert.Equal(t, "[WRITE]  12345  27  27  /usr/sbin/mysqld  a6c8a98ddebb  /docker/mysql/data/ibdata1\n", buf.String())
}

func TestEventTableUnresolved(t *testing.T) {
	ev := monitor.EnrichedEvent{Event: fanotify.Event{Kind: fanotify.KindOpen, PID: 4242, Path: "/docker/mysql/data/tmp"}}
	assert.Equal(t, "[OPEN]  4242  -  -  unknown  -  /docker/mysql/data/tmp", EventRow(ev))
}

func TestEventTableHeaderOnce(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewEventRenderer(Table, &buf, EventOptions{Header: true})
	require.NoError(t, err)

	require.NoError(t, r.Write(mysqlWrite()))
	require.NoError(t, r.Write(mysqlWrite()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, EventHeader, lines[0])
}

func TestEventJSON(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewEventRenderer(JSON, &buf, EventOptions{Header: true})
	require.NoError(t, err)

	require.NoError(t, r.Write(mysqlWrite()))
	require.NoError(t, r.Write(monitor.EnrichedEvent{Event: fanotify.Event{
		Kind: fanotify.KindClose, PID: 4242, Path: "/docker/mysql/data/tmp",
		Time: time.Date(2024, 3, 1, 8, 15, 31, 0, time.UTC),
	}}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{
		"event": "WRITE", "pid": 12345, "uid": 27, "gid": 27,
		"process_path": "/usr/sbin/mysqld", "container": "a6c8a98ddebb",
		"file_path": "/docker/mysql/data/ibdata1",
		"timestamp": "2024-03-01T08:15:30.0000005Z"
	}`, lines[0])
	assert.JSONEq(t, `{
		"event": "CLOSE", "pid": 4242, "uid": null, "gid": null,
		"process_path": "unknown", "container": null,
		"file_path": "/docker/mysql/data/tmp",
		"timestamp": "2024-03-01T08:15:31Z"
	}`, lines[1])
}

func TestUnknownFormat(t *testing.T) {
	_, err := NewEventRenderer("xml", &bytes.Buffer{}, EventOptions{})
	assert.Error(t, err)
	_, err = NewContainerRenderer("xml", &bytes.Buffer{}, ContainerOptions{})
	assert.Error(t, err)
}

func mysqlResult(t *testing.T, verbose bool) check.Result {
	t.Helper()
	fake := &dockertest.Fake{
		Containers: []container.InspectResponse{dockertest.MySQL()},
		Top:        map[string]container.TopResponse{dockertest.MySQLID: dockertest.MySQLTop()},
		Stats:      map[string]container.StatsResponse{dockertest.MySQLID: dockertest.MySQLStats()},
		Logs:       map[string][]dockertest.LogLine{dockertest.MySQLID: dockertest.MySQLLogs()},
	}
	c := check.NewCollector(docker.New(fake), procTable{12345: mysqld}, check.Options{Verbose: verbose})
	results, err := c.Collect(t.Context(), check.ByID("a6c8a98ddebb"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	return results[0]
}

type procTable map[int]proc.Info

func (p procTable) Resolve(pid int) (proc.Info, error) {
	if info, ok := p[pid]; ok {
		return info, nil
	}
	return proc.Info{}, proc.ErrNotFound
}

func TestContainerJSONPortsAndMounts(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewContainerRenderer(JSON, &buf, ContainerOptions{})
	require.NoError(t, err)
	require.NoError(t, r.Render([]check.Result{mysqlResult(t, false)}))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "["), "check output is an array")
	assert.Contains(t, out, `"ports":[{"host":3306,"proto":"tcp","container":3306}]`)
	assert.Contains(t, out, `"mounts":[{"host":"/docker/mysql/data","container":"/var/lib/mysql","mode":"rw,rw"}]`)
	assert.Contains(t, out, `"network":{"ip":"172.17.0.2","gateway":"172.17.0.1","mode":"bridge"}`)
	assert.Contains(t, out, `"created":"2024-03-01T08:15:30Z"`)
	assert.Contains(t, out, `"started_at":"2024-03-01T08:15:31Z"`)
	assert.Contains(t, out, `"networks":[{"name":"bridge","ip":"172.17.0.2","gateway":"172.17.0.1","mac":"02:42:ac:11:00:02"}]`)
	assert.Contains(t, out, `"resources":{"cpu_shares":512,"cpu_period":0,"cpu_quota":0,"nano_cpus":0,"memory":1073741824,"memory_swap":-1,"pids_limit":512}`)
	assert.NotContains(t, out, `"finished_at"`)
	assert.NotContains(t, out, `"process"`)
	assert.NotContains(t, out, `"env"`)
	assert.NotContains(t, out, `"usage"`)
	assert.NotContains(t, out, `"logs"`)
}

func TestContainerJSONVerboseDetails(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewContainerRenderer(JSON, &buf, ContainerOptions{})
	require.NoError(t, err)
	require.NoError(t, r.Render([]check.Result{mysqlResult(t, true)}))

	var recs []containerRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &recs))
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, []docker.TopProcess{{PID: 12345, PPID: 12320, User: "27", Cmd: "mysqld"}}, rec.Processes)
	assert.Contains(t, rec.Env, "MYSQL_DATABASE=app")
	require.NotNil(t, rec.Usage)
	assert.Equal(t, uint64(38), rec.Usage.PIDs)
	assert.Len(t, rec.Logs, 3)
}

func TestContainerJSONFailedItemIsMinimal(t *testing.T) {
	c := check.NewCollector(docker.New(&dockertest.Fake{}), procTable{}, check.Options{})
	results, err := c.Collect(t.Context(), check.Parse("billing-postgres-primary"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)

	byID := check.Result{Ref: dockertest.MySQLID, Err: errors.New("permission denied")}
	results = append(results, byID)

	var buf bytes.Buffer
	r, err := NewContainerRenderer(JSON, &buf, ContainerOptions{})
	require.NoError(t, err)
	require.NoError(t, r.Render(results))

	want, err := json.Marshal([]map[string]string{
		{"id": "billing-postgres-primary", "error": results[0].Err.Error()},
		{"id": "a6c8a98ddebb", "error": "permission denied"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, string(want), buf.String())

	buf.Reset()
	r, err = NewContainerRenderer(Table, &buf, ContainerOptions{Verbose: true})
	require.NoError(t, err)
	require.NoError(t, r.Render(results[:1]))
	assert.True(t, strings.HasPrefix(buf.String(), "id     billing-postgres-primary\n"), "got %q", buf.String())
}

func TestContainerTableBlock(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewContainerRenderer(Table, &buf, ContainerOptions{Verbose: true})
	require.NoError(t, err)
	require.NoError(t, r.Render([]check.Result{mysqlResult(t, true)}))

	out := buf.String()
	assert.Contains(t, out, "id          a6c8a98ddebb\n")
	assert.Contains(t, out, "created     2024-03-01T08:15:30Z\n")
	assert.Contains(t, out, "port        3306->3306/tcp\n")
	assert.Contains(t, out, "mount       /docker/mysql/data -> /var/lib/mysql [rw,rw]\n")
	assert.Contains(t, out, "network     ip=172.17.0.2 gateway=172.17.0.1 mode=bridge\n")
	assert.Contains(t, out, "process     pid=12345 uid=27 cmd=mysqld\n")
	assert.Contains(t, out, "restart     always (count 2)\n")

	fields := parseBlock(t, out)
	assert.Equal(t, []string{"bridge ip=172.17.0.2 gateway=172.17.0.1 mac=02:42:ac:11:00:02"}, fields["endpoint"])
	assert.Equal(t, []string{"sha256:5c69c4d7e8a6f0b1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b9c0d1e2f3a4b5"}, fields["image_id"])
	assert.Equal(t, []string{"2024-03-01T08:15:31Z"}, fields["started"])
	assert.Nil(t, fields["finished"])
	assert.Equal(t, []string{"cpu_shares=512 memory=1GiB swap=unlimited pids_limit=512"}, fields["limits"])
	assert.Equal(t, []string{"cpu=25.00% mem=300MiB / 1GiB (29.30%) pids=38 net=1000B/1.953KiB block=4KiB/8KiB"}, fields["usage"])
	assert.Equal(t, []string{"MYSQL_DATABASE=app", "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin"}, fields["env"])
	assert.Equal(t, []string{"pid=12345 ppid=12320 user=27 cmd=mysqld"}, fields["proc"])
	assert.Equal(t, []string{
		"2024-03-01T08:15:31.600000000Z [Note] mysqld: starting",
		"2024-03-01T08:15:32.100000000Z [Warning] insecure configuration",
		"2024-03-01T08:15:33.000000000Z [Note] ready for connections",
	}, fields["log"])
}

func TestFormatResources(t *testing.T) {
	assert.Equal(t, placeholder, formatResources(docker.Resources{}))
	assert.Equal(t, "cpus=1.50 cpu_quota=50000/100000 memory=512MiB swap=1GiB",
		formatResources(docker.Resources{NanoCPUs: 1_500_000_000, CPUQuota: 50000, CPUPeriod: 100000, Memory: 512 << 20, MemorySwap: 1 << 30}))
	assert.Equal(t, "cpu_period=100000", formatResources(docker.Resources{CPUPeriod: 100000}))
}

// parseBlock reads a table block back into key -> values.
func parseBlock(t *testing.T, s string) map[string][]string {
	t.Helper()
	fields := make(map[string][]string)
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "─") || line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, " ")
		require.True(t, ok, "malformed line %q", line)
		fields[key] = append(fields[key], strings.TrimSpace(value))
	}
	return fields
}

func TestContainerTableAndJSONAgree(t *testing.T) {
	stopped := check.Result{Ref: "bbbbbbbbbbbb", Summary: &docker.Summary{
		ID: "bbbbbbbbbbbb", Name: "batch", Image: "busybox:1.36", Status: "exited",
		Created:    time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		StartedAt:  time.Date(2024, 2, 1, 0, 0, 1, 0, time.UTC),
		FinishedAt: time.Date(2024, 2, 1, 0, 5, 0, 0, time.UTC),
		ExitCode:   137, OOMKilled: true,
		RestartPolicy: "no", Cmd: "sh -c work",
	}}
	failed := check.Result{Ref: "cccccccccccc0000", Err: errors.New("inspecting container cccccccccccc0000: permission denied")}
	results := []check.Result{mysqlResult(t, true), stopped, failed}

	var jsonBuf bytes.Buffer
	jr, err := NewContainerRenderer(JSON, &jsonBuf, ContainerOptions{})
	require.NoError(t, err)
	require.NoError(t, jr.Render(results))
	var recs []containerRecord
	require.NoError(t, json.Unmarshal(jsonBuf.Bytes(), &recs))
	require.Len(t, recs, len(results))

	for i, res := range results {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			var buf bytes.Buffer
			tr, err := NewContainerRenderer(Table, &buf, ContainerOptions{Verbose: true, Width: 40})
			require.NoError(t, err)
			require.NoError(t, tr.Render([]check.Result{res}))

			table := parseBlock(t, buf.String())
			want := make(map[string][]string)
			for _, line := range tableLines(recs[i], true) {
				want[line[0]] = append(want[line[0]], line[1])
			}
			assert.Equal(t, want, table)
		})
	}

	assert.Equal(t, "cccccccccccc0000", recs[2].ID)
	assert.Equal(t, "2024-02-01T00:05:00Z", recs[1].FinishedAt)
	assert.Equal(t, "inspecting container cccccccccccc0000: permission denied", recs[2].Error)
	assert.Equal(t, 137, recs[1].ExitCode)
	assert.Equal(t, []docker.Port{}, recs[1].Ports)
}

func TestContainerTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewContainerRenderer(Table, &buf, ContainerOptions{})
	require.NoError(t, err)
	require.NoError(t, r.Render(nil))
	assert.Equal(t, "No containers found\n", buf.String())

	buf.Reset()
	r, err = NewContainerRenderer(JSON, &buf, ContainerOptions{})
	require.NoError(t, err)
	require.NoError(t, r.Render(nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestContainerTableSeparatesBlocks(t *testing.T) {
	a := check.Result{Ref: "a", Err: errors.New("boom")}
	var buf bytes.Buffer
	r, err := NewContainerRenderer(Table, &buf, ContainerOptions{Width: 10})
	require.NoError(t, err)
	require.NoError(t, r.Render([]check.Result{a, a}))

	assert.Equal(t, "id     a\nerror  boom\n──────────\nid     a\nerror  boom\n", buf.String())
}
