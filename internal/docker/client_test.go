package docker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	"github.com/majorcontext/sedock/internal/docker/dockertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectMySQL(t *testing.T) {
	c := New(&dockertest.Fake{Containers: []container.InspectResponse{dockertest.MySQL()}})

	s, err := c.Inspect(context.Background(), "a6c8a98ddebb")
	require.NoError(t, err)

	assert.Equal(t, "a6c8a98ddebb", s.ID)
	assert.Equal(t, "mysql", s.Name)
	assert.Equal(t, "mysql:8.0", s.Image)
	assert.Equal(t, "running", s.Status)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 15, 30, 123456789, time.UTC), s.Created)
	assert.Equal(t, []Port{{Host: 3306, Proto: "tcp", Container: 3306}}, s.Ports)
	assert.Equal(t, []Mount{{Host: "/docker/mysql/data", Container: "/var/lib/mysql", Mode: "rw,rw"}}, s.Mounts)
	assert.Equal(t, Network{IP: "172.17.0.2", Gateway: "172.17.0.1", Mode: "bridge"}, s.Network)
	assert.Equal(t, 12345, s.MainPID)
	assert.Equal(t, "always", s.RestartPolicy)
	assert.Equal(t, 2, s.RestartCount)
	assert.Equal(t, "mysqld", s.Cmd)
	assert.Equal(t, []string{"SYS_NICE"}, s.CapAdd)
	assert.Nil(t, s.Process)
}

func TestInspectByName(t *testing.T) {
	c := New(&dockertest.Fake{Containers: []container.InspectResponse{dockertest.MySQL()}})

	s, err := c.Inspect(context.Background(), "mysql")
	require.NoError(t, err)
	assert.Equal(t, "a6c8a98ddebb", s.ID)
}

func TestInspectNotFound(t *testing.T) {
	c := New(&dockertest.Fake{})

	_, err := c.Inspect(context.Background(), "deadbeef")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	assert.Contains(t, err.Error(), "deadbeef")
}

func TestPingUnreachable(t *testing.T) {
	c := New(&dockertest.Fake{Down: true})

	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDaemonUnreachable))
}

func TestListContainersKeepsDaemonOrder(t *testing.T) {
	fake := &dockertest.Fake{Containers: []container.InspectResponse{
		dockertest.Simple("cccccccccccc1", "web", "running"),
		dockertest.Simple("aaaaaaaaaaaa2", "db", "exited"),
		dockertest.Simple("bbbbbbbbbbbb3", "cache", "running"),
	}}
	c := New(fake)

	refs, err := c.ListContainers(context.Background(), Filter{All: true})
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Equal(t, []string{"web", "db", "cache"}, []string{refs[0].Name, refs[1].Name, refs[2].Name})

	running, err := c.ListContainers(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, running, 2)

	named, err := c.ListContainers(context.Background(), Filter{All: true, Name: "db"})
	require.NoError(t, err)
	require.Len(t, named, 1)
	assert.Equal(t, "aaaaaaaaaaaa2", named[0].ID)
}

func TestFilterArgs(t *testing.T) {
	args := Filter{Name: "web", ID: "abc", Status: "running"}.args()
	assert.Equal(t, []string{"web"}, args.Get("name"))
	assert.Equal(t, []string{"abc"}, args.Get("id"))
	assert.Equal(t, []string{"running"}, args.Get("status"))

	assert.Equal(t, 0, Filter{All: true}.args().Len())
}

func TestPortsStoppedContainerUsesConfiguredBindings(t *testing.T) {
	resp := dockertest.MySQL()
	resp.State.Running = false
	resp.State.Status = "exited"
	resp.NetworkSettings.Ports = nil

	assert.Equal(t, []Port{{Host: 3306, Proto: "tcp", Container: 3306}}, portsOf(resp))
}

func TestPortsSkipsUnpublishedAndSorts(t *testing.T) {
	resp := dockertest.MySQL()
	resp.NetworkSettings.Ports = nat.PortMap{
		"9000/udp": {{HostPort: "19000"}},
		"8080/tcp": {{HostPort: "80"}, {HostPort: "8080"}},
		"5000/tcp": nil,
		"7000/tcp": {{HostPort: ""}},
	}

	assert.Equal(t, []Port{
		{Host: 80, Proto: "tcp", Container: 8080},
		{Host: 8080, Proto: "tcp", Container: 8080},
		{Host: 19000, Proto: "udp", Container: 9000},
	}, portsOf(resp))
}

func TestMountModes(t *testing.T) {
	mounts := mountsOf([]container.MountPoint{
		{Source: "/a", Destination: "/a", Mode: "", RW: true},
		{Source: "/b", Destination: "/b", Mode: "ro", RW: false},
		{Source: "/c", Destination: "/c", Mode: "z", RW: true},
	})

	assert.Equal(t, []Mount{
		{Host: "/a", Container: "/a", Mode: "rw"},
		{Host: "/b", Container: "/b", Mode: "ro,ro"},
		{Host: "/c", Container: "/c", Mode: "z,rw"},
	}, mounts)
}

func TestNetworkFallsBackToFirstEndpoint(t *testing.T) {
	resp := dockertest.MySQL()
	resp.HostConfig.NetworkMode = "app_default"
	resp.NetworkSettings.Networks = map[string]*network.EndpointSettings{
		"zeta":  {IPAddress: "10.0.9.2", Gateway: "10.0.9.1"},
		"alpha": {IPAddress: "10.0.1.2", Gateway: "10.0.1.1"},
	}

	assert.Equal(t, Network{IP: "10.0.1.2", Gateway: "10.0.1.1", Mode: "app_default"}, networkOf(resp))
}

func TestSummarizeEmptyResponse(t *testing.T) {
	_, err := summarize(container.InspectResponse{})
	assert.Error(t, err)
}

func TestTop(t *testing.T) {
	fake := &dockertest.Fake{Top: map[string]container.TopResponse{dockertest.MySQLID: dockertest.MySQLTop()}}
	c := New(fake)

	procs, err := c.Top(context.Background(), "a6c8a98ddebb")
	require.NoError(t, err)
	assert.Equal(t, []TopProcess{{PID: 12345, PPID: 12320, User: "27", Cmd: "mysqld"}}, procs)
}

func TestParseTopAlternateTitles(t *testing.T) {
	procs := parseTop(
		[]string{"USER", "PID", "COMMAND"},
		[][]string{
			{"root", "100", "nginx: master"},
			{"www", "bogus", "nginx: worker"},
		},
	)
	assert.Equal(t, []TopProcess{{PID: 100, User: "root", Cmd: "nginx: master"}}, procs)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "a6c8a98ddebb", ShortID(dockertest.MySQLID))
	assert.Equal(t, "abc", ShortID("abc"))
	assert.Equal(t, "billing-postgres-primary", ShortID("billing-postgres-primary"))
	assert.Equal(t, "cccccccccccc0000", ShortID("cccccccccccc0000"))
	assert.Equal(t, strings.ToUpper(dockertest.MySQLID), ShortID(strings.ToUpper(dockertest.MySQLID)))
}

func TestInspectDetails(t *testing.T) {
	c := New(&dockertest.Fake{Containers: []container.InspectResponse{dockertest.MySQL()}})

	s, err := c.Inspect(context.Background(), "mysql")
	require.NoError(t, err)

	assert.Equal(t, "sha256:5c69c4d7e8a6f0b1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b9c0d1e2f3a4b5", s.ImageID)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 15, 31, 500000000, time.UTC), s.StartedAt)
	assert.True(t, s.FinishedAt.IsZero(), "never-finished container reported %v", s.FinishedAt)
	assert.Equal(t, []Endpoint{{Name: "bridge", IP: "172.17.0.2", Gateway: "172.17.0.1", MAC: "02:42:ac:11:00:02"}}, s.Networks)
	assert.Equal(t, Resources{CPUShares: 512, Memory: 1 << 30, MemorySwap: -1, PidsLimit: 512}, s.Resources)
	assert.Equal(t, []string{"MYSQL_DATABASE=app", "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin"}, s.Env)
	assert.False(t, s.TTY)
}

func TestEndpointsSortedByName(t *testing.T) {
	resp := dockertest.MySQL()
	resp.NetworkSettings.Networks = map[string]*network.EndpointSettings{
		"zeta":  {IPAddress: "10.0.9.2", Gateway: "10.0.9.1", MacAddress: "02:42:0a:00:09:02"},
		"gone":  nil,
		"alpha": {IPAddress: "10.0.1.2", Gateway: "10.0.1.1"},
	}

	assert.Equal(t, []Endpoint{
		{Name: "alpha", IP: "10.0.1.2", Gateway: "10.0.1.1"},
		{Name: "zeta", IP: "10.0.9.2", Gateway: "10.0.9.1", MAC: "02:42:0a:00:09:02"},
	}, endpointsOf(resp))
}

func TestStats(t *testing.T) {
	fake := &dockertest.Fake{
		Containers: []container.InspectResponse{dockertest.MySQL()},
		Stats:      map[string]container.StatsResponse{dockertest.MySQLID: dockertest.MySQLStats()},
	}
	c := New(fake)

	u, err := c.Stats(context.Background(), "a6c8a98ddebb")
	require.NoError(t, err)
	assert.InDelta(t, 25.0, u.CPUPercent, 0.001)
	assert.Equal(t, uint64(300<<20), u.MemoryUsage)
	assert.Equal(t, uint64(1<<30), u.MemoryLimit)
	assert.InDelta(t, 29.296875, u.MemoryPercent, 0.0001)
	assert.Equal(t, uint64(4096), u.BlockRead)
	assert.Equal(t, uint64(8192), u.BlockWrite)
	assert.Equal(t, uint64(1000), u.NetRx)
	assert.Equal(t, uint64(2000), u.NetTx)
	assert.Equal(t, uint64(38), u.PIDs)
}

func TestStatsNotFound(t *testing.T) {
	_, err := New(&dockertest.Fake{}).Stats(context.Background(), "deadbeef")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestUsageOf(t *testing.T) {
	t.Run("per-cpu fallback", func(t *testing.T) {
		st := dockertest.MySQLStats()
		st.CPUStats.OnlineCPUs = 0
		st.CPUStats.CPUUsage.PercpuUsage = []uint64{1, 1, 1, 1}
		assert.InDelta(t, 50.0, usageOf(st).CPUPercent, 0.001)
	})
	t.Run("first sample", func(t *testing.T) {
		st := dockertest.MySQLStats()
		st.PreCPUStats = container.CPUStats{}
		st.CPUStats.SystemUsage = 0
		assert.Zero(t, usageOf(st).CPUPercent)
	})
	t.Run("cgroup v1 cache", func(t *testing.T) {
		st := dockertest.MySQLStats()
		st.MemoryStats.Stats = map[string]uint64{"total_inactive_file": 200 << 20, "inactive_file": 100 << 20}
		assert.Equal(t, uint64(200<<20), usageOf(st).MemoryUsage)
	})
	t.Run("cache larger than usage", func(t *testing.T) {
		st := dockertest.MySQLStats()
		st.MemoryStats.Stats = map[string]uint64{"inactive_file": 500 << 20}
		assert.Equal(t, uint64(400<<20), usageOf(st).MemoryUsage)
	})
	t.Run("no limit", func(t *testing.T) {
		st := dockertest.MySQLStats()
		st.MemoryStats.Limit = 0
		assert.Zero(t, usageOf(st).MemoryPercent)
	})
}

func TestLogsKeepsStreamOrder(t *testing.T) {
	fake := &dockertest.Fake{
		Containers: []container.InspectResponse{dockertest.MySQL()},
		Logs:       map[string][]dockertest.LogLine{dockertest.MySQLID: dockertest.MySQLLogs()},
	}
	c := New(fake)

	lines, err := c.Logs(context.Background(), "mysql", 0, false)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2024-03-01T08:15:31.600000000Z [Note] mysqld: starting",
		"2024-03-01T08:15:32.100000000Z [Warning] insecure configuration",
		"2024-03-01T08:15:33.000000000Z [Note] ready for connections",
	}, lines)

	opts := fake.LogOptions()
	require.Len(t, opts, 1)
	assert.Equal(t, "all", opts[0].Tail)
	assert.True(t, opts[0].ShowStdout)
	assert.True(t, opts[0].ShowStderr)
	assert.True(t, opts[0].Timestamps)
}

func TestLogsTail(t *testing.T) {
	fake := &dockertest.Fake{
		Containers: []container.InspectResponse{dockertest.MySQL()},
		Logs:       map[string][]dockertest.LogLine{dockertest.MySQLID: dockertest.MySQLLogs()},
	}

	lines, err := New(fake).Logs(context.Background(), "mysql", 1, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-01T08:15:33.000000000Z [Note] ready for connections"}, lines)
	assert.Equal(t, "1", fake.LogOptions()[0].Tail)
}

func TestLogsTTY(t *testing.T) {
	resp := dockertest.MySQL()
	resp.Config.Tty = true
	fake := &dockertest.Fake{
		Containers: []container.InspectResponse{resp},
		Logs: map[string][]dockertest.LogLine{dockertest.MySQLID: {
			{Text: "login:\r"},
			{Text: "shell ready", Stderr: true},
		}},
	}

	lines, err := New(fake).Logs(context.Background(), "mysql", 0, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"login:", "shell ready"}, lines)
}

func TestLogsEmpty(t *testing.T) {
	fake := &dockertest.Fake{Containers: []container.InspectResponse{dockertest.MySQL()}}

	lines, err := New(fake).Logs(context.Background(), "mysql", 20, false)
	require.NoError(t, err)
	assert.Empty(t, lines)
}
