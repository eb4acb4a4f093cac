package docker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

// Usage is a single sample of a running container's resource consumption.
type Usage struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryUsage   uint64  `json:"memory_usage"`
	MemoryLimit   uint64  `json:"memory_limit"`
	MemoryPercent float64 `json:"memory_percent"`
	BlockRead     uint64  `json:"block_read"`
	BlockWrite    uint64  `json:"block_write"`
	NetRx         uint64  `json:"net_rx"`
	NetTx         uint64  `json:"net_tx"`
	PIDs          uint64  `json:"pids"`
}

// Stats takes one resource sample. The daemon waits for a second reading
// so the CPU figure covers a real interval.
func (c *Client) Stats(ctx context.Context, id string) (Usage, error) {
	resp, err := c.api.ContainerStats(ctx, id, false)
	if err != nil {
		return Usage{}, classify("reading stats of "+id, err)
	}
	defer resp.Body.Close()

	var st container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return Usage{}, fmt.Errorf("decoding stats of %s: %w", id, err)
	}
	return usageOf(st), nil
}

// usageOf computes the figures docker stats shows from a raw sample.
func usageOf(st container.StatsResponse) Usage {
	u := Usage{
		MemoryUsage: memoryUsed(st.MemoryStats),
		MemoryLimit: st.MemoryStats.Limit,
		PIDs:        st.PidsStats.Current,
	}

	cpuDelta := float64(st.CPUStats.CPUUsage.TotalUsage) - float64(st.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(st.CPUStats.SystemUsage) - float64(st.PreCPUStats.SystemUsage)
	cpus := float64(st.CPUStats.OnlineCPUs)
	if cpus == 0 {
		cpus = float64(len(st.CPUStats.CPUUsage.PercpuUsage))
	}
	if cpuDelta > 0 && sysDelta > 0 {
		u.CPUPercent = cpuDelta / sysDelta * cpus * 100
	}
	if u.MemoryLimit > 0 {
		u.MemoryPercent = float64(u.MemoryUsage) / float64(u.MemoryLimit) * 100
	}

	for _, e := range st.BlkioStats.IoServiceBytesRecursive {
		switch strings.ToLower(e.Op) {
		case "read":
			u.BlockRead += e.Value
		case "write":
			u.BlockWrite += e.Value
		}
	}
	for _, n := range st.Networks {
		u.NetRx += n.RxBytes
		u.NetTx += n.TxBytes
	}
	return u
}

// memoryUsed excludes reclaimable page cache, as docker stats does.
// cgroup v1 reports it as total_inactive_file, v2 as inactive_file.
func memoryUsed(m container.MemoryStats) uint64 {
	for _, key := range []string{"total_inactive_file", "inactive_file"} {
		if v, ok := m.Stats[key]; ok && v < m.Usage {
			return m.Usage - v
		}
	}
	return m.Usage
}

// Logs returns the last tail lines of a container's output, stdout and
// stderr interleaved as written, each prefixed with its timestamp. A tail
// of zero or less returns everything.
func (c *Client) Logs(ctx context.Context, id string, tail int, tty bool) ([]string, error) {
	opts := container.LogsOptions{ShowStdout: true, ShowStderr: true, Timestamps: true, Tail: "all"}
	if tail > 0 {
		opts.Tail = strconv.Itoa(tail)
	}
	rc, err := c.api.ContainerLogs(ctx, id, opts)
	if err != nil {
		return nil, classify("reading logs of "+id, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if tty {
		_, err = io.Copy(&buf, rc)
	} else {
		// One buffer for both streams keeps their relative order.
		_, err = stdcopy.StdCopy(&buf, &buf, rc)
	}
	if err != nil {
		return nil, fmt.Errorf("reading logs of %s: %w", id, err)
	}

	var lines []string
	sc := bufio.NewScanner(&buf)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	return lines, sc.Err()
}
