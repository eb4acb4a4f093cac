package dockertest

import (
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
)

// MySQLID is the full id of the MySQL fixture.
const MySQLID = "a6c8a98ddebb5f1e2d3c4b5a69788796a5b4c3d2e1f00112233445566778899a"

// MySQL returns a running mysql container publishing 3306/tcp on both
// address families and bind-mounting /docker/mysql/data.
func MySQL() container.InspectResponse {
	binding := []nat.PortBinding{
		{HostIP: "0.0.0.0", HostPort: "3306"},
		{HostIP: "::", HostPort: "3306"},
	}
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:      MySQLID,
			Name:    "/mysql",
			Image:   "sha256:5c69c4d7e8a6f0b1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b9c0d1e2f3a4b5",
			Created: "2024-03-01T08:15:30.123456789Z",
			State: &container.State{
				Status:     "running",
				Running:    true,
				Pid:        12345,
				StartedAt:  "2024-03-01T08:15:31.5Z",
				FinishedAt: "0001-01-01T00:00:00Z",
			},
			RestartCount: 2,
			HostConfig: &container.HostConfig{
				NetworkMode:   "bridge",
				PortBindings:  nat.PortMap{"3306/tcp": {{HostPort: "3306"}}},
				RestartPolicy: container.RestartPolicy{Name: "always"},
				CapAdd:        []string{"SYS_NICE"},
				Resources: container.Resources{
					CPUShares:  512,
					Memory:     1 << 30,
					MemorySwap: -1,
					PidsLimit:  &pidsLimit,
				},
			},
		},
		Mounts: []container.MountPoint{{
			Type:        mount.TypeBind,
			Source:      "/docker/mysql/data",
			Destination: "/var/lib/mysql",
			Mode:        "rw",
			RW:          true,
		}},
		Config: &container.Config{
			Image:      "mysql:8.0",
			Cmd:        []string{"mysqld"},
			Entrypoint: []string{"docker-entrypoint.sh"},
			User:       "mysql",
			Env:        []string{"MYSQL_DATABASE=app", "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin"},
		},
		NetworkSettings: &container.NetworkSettings{
			NetworkSettingsBase: container.NetworkSettingsBase{
				Ports: nat.PortMap{"3306/tcp": binding},
			},
			Networks: map[string]*network.EndpointSettings{
				"bridge": {IPAddress: "172.17.0.2", Gateway: "172.17.0.1", MacAddress: "02:42:ac:11:00:02"},
			},
		},
	}
}

var pidsLimit int64 = 512

// MySQLStats is a stats sample for MySQL: 25% of two CPUs over the
// interval, 300MiB used of 1GiB once 100MiB of page cache is excluded.
func MySQLStats() container.StatsResponse {
	return container.StatsResponse{
		CPUStats: container.CPUStats{
			CPUUsage:    container.CPUUsage{TotalUsage: 1_250_000_000},
			SystemUsage: 12_000_000_000,
			OnlineCPUs:  2,
		},
		PreCPUStats: container.CPUStats{
			CPUUsage:    container.CPUUsage{TotalUsage: 1_000_000_000},
			SystemUsage: 10_000_000_000,
		},
		MemoryStats: container.MemoryStats{
			Usage: 400 << 20,
			Limit: 1 << 30,
			Stats: map[string]uint64{"inactive_file": 100 << 20},
		},
		BlkioStats: container.BlkioStats{IoServiceBytesRecursive: []container.BlkioStatEntry{
			{Major: 8, Op: "read", Value: 4096},
			{Major: 8, Op: "write", Value: 8192},
			{Major: 8, Op: "total", Value: 12288},
		}},
		Networks: map[string]container.NetworkStats{
			"eth0": {RxBytes: 1000, TxBytes: 2000},
		},
		PidsStats: container.PidsStats{Current: 38},
	}
}

// MySQLLogs is MySQL's startup output.
func MySQLLogs() []LogLine {
	return []LogLine{
		{Text: "2024-03-01T08:15:31.600000000Z [Note] mysqld: starting"},
		{Text: "2024-03-01T08:15:32.100000000Z [Warning] insecure configuration", Stderr: true},
		{Text: "2024-03-01T08:15:33.000000000Z [Note] ready for connections"},
	}
}

// MySQLTop is the process table the daemon reports for MySQL.
func MySQLTop() container.TopResponse {
	return container.TopResponse{
		Titles: []string{"UID", "PID", "PPID", "C", "STIME", "TTY", "TIME", "CMD"},
		Processes: [][]string{
			{"27", "12345", "12320", "0", "08:15", "?", "00:00:42", "mysqld"},
		},
	}
}

// Simple returns a minimal container with the given id, name, and state.
func Simple(id, name, status string) container.InspectResponse {
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:      id,
			Name:    "/" + name,
			Created: "2024-03-02T10:00:00Z",
			State: &container.State{
				Status:  status,
				Running: status == "running",
			},
			HostConfig: &container.HostConfig{NetworkMode: "bridge"},
		},
		Config: &container.Config{Image: name + ":latest"},
		NetworkSettings: &container.NetworkSettings{
			Networks: map[string]*network.EndpointSettings{
				"bridge": {IPAddress: "172.17.0.9", Gateway: "172.17.0.1"},
			},
		},
	}
}
