package docker

import (
	"cmp"
	"errors"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/majorcontext/sedock/internal/proc"
)

// Port is a published port mapping.
type Port struct {
	Host      int    `json:"host"`
	Proto     string `json:"proto"`
	Container int    `json:"container"`
}

// Mount is a host path made visible inside a container.
type Mount struct {
	Host      string `json:"host"`
	Container string `json:"container"`
	Mode      string `json:"mode"`
}

// Network describes a container's primary network attachment.
type Network struct {
	IP      string `json:"ip"`
	Gateway string `json:"gateway"`
	Mode    string `json:"mode"`
}

// Endpoint is one network the container is attached to.
type Endpoint struct {
	Name    string `json:"name"`
	IP      string `json:"ip"`
	Gateway string `json:"gateway"`
	MAC     string `json:"mac"`
}

// Resources are the limits configured on a container. Zero means unset;
// MemorySwap -1 means unlimited swap.
type Resources struct {
	CPUShares  int64 `json:"cpu_shares"`
	CPUPeriod  int64 `json:"cpu_period"`
	CPUQuota   int64 `json:"cpu_quota"`
	NanoCPUs   int64 `json:"nano_cpus"`
	Memory     int64 `json:"memory"`
	MemorySwap int64 `json:"memory_swap"`
	PidsLimit  int64 `json:"pids_limit"`
}

// Summary is a point-in-time view of one container. Every field down to
// Env comes from the same inspect response. Process, Processes, Usage,
// and Logs are filled in separately by verbose collection.
type Summary struct {
	ID         string
	Name       string
	Image      string
	ImageID    string
	Status     string
	Created    time.Time
	StartedAt  time.Time
	FinishedAt time.Time

	Ports    []Port
	Mounts   []Mount
	Network  Network
	Networks []Endpoint

	MainPID       int
	ExitCode      int
	OOMKilled     bool
	RestartCount  int
	RestartPolicy string
	Cmd           string
	Entrypoint    string
	User          string
	WorkingDir    string
	Privileged    bool
	ReadOnlyRoot  bool
	CapAdd        []string
	SecurityOpt   []string
	Resources     Resources
	Env           []string
	// TTY containers log a raw stream instead of a multiplexed one.
	TTY bool

	Process   *proc.Info
	Processes []TopProcess
	Usage     *Usage
	Logs      []string
}

var fullID = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ShortID abbreviates a full 64-hex container id. Anything else, such as
// a name or an id prefix, is returned unchanged.
func ShortID(id string) string {
	if fullID.MatchString(id) {
		return id[:12]
	}
	return id
}

func summarize(resp container.InspectResponse) (Summary, error) {
	if resp.ContainerJSONBase == nil {
		return Summary{}, errors.New("empty inspect response")
	}

	s := Summary{
		ID:           ShortID(resp.ID),
		Name:         strings.TrimPrefix(resp.Name, "/"),
		RestartCount: resp.RestartCount,
		Ports:        portsOf(resp),
		Mounts:       mountsOf(resp.Mounts),
		Network:      networkOf(resp),
		Networks:     endpointsOf(resp),
		ImageID:      resp.Image,
	}

	s.Created = parseTime(resp.Created)
	if st := resp.State; st != nil {
		s.Status = string(st.Status)
		s.MainPID = st.Pid
		s.ExitCode = st.ExitCode
		s.OOMKilled = st.OOMKilled
		s.StartedAt = parseTime(st.StartedAt)
		s.FinishedAt = parseTime(st.FinishedAt)
	}

	if cfg := resp.Config; cfg != nil {
		s.Image = cfg.Image
		s.Cmd = strings.Join(cfg.Cmd, " ")
		s.Entrypoint = strings.Join(cfg.Entrypoint, " ")
		s.User = cfg.User
		s.WorkingDir = cfg.WorkingDir
		s.Env = slices.Clone(cfg.Env)
		s.TTY = cfg.Tty
	}
	if s.Image == "" {
		s.Image = resp.Image
	}

	if hc := resp.HostConfig; hc != nil {
		s.RestartPolicy = string(hc.RestartPolicy.Name)
		s.Privileged = hc.Privileged
		s.ReadOnlyRoot = hc.ReadonlyRootfs
		s.CapAdd = slices.Clone([]string(hc.CapAdd))
		s.SecurityOpt = slices.Clone(hc.SecurityOpt)
		s.Resources = Resources{
			CPUShares:  hc.CPUShares,
			CPUPeriod:  hc.CPUPeriod,
			CPUQuota:   hc.CPUQuota,
			NanoCPUs:   hc.NanoCPUs,
			Memory:     hc.Memory,
			MemorySwap: hc.MemorySwap,
		}
		if hc.PidsLimit != nil {
			s.Resources.PidsLimit = *hc.PidsLimit
		}
	}

	return s, nil
}

// portsOf reads live bindings for running containers and the configured
// bindings otherwise. IPv4 and IPv6 bindings of the same port collapse
// into one entry.
func portsOf(resp container.InspectResponse) []Port {
	var pm nat.PortMap
	running := resp.State != nil && resp.State.Running
	if running && resp.NetworkSettings != nil {
		pm = resp.NetworkSettings.Ports
	} else if resp.HostConfig != nil {
		pm = resp.HostConfig.PortBindings
	}

	seen := make(map[Port]bool)
	var ports []Port
	for port, bindings := range pm {
		for _, b := range bindings {
			host, err := strconv.Atoi(b.HostPort)
			if err != nil || host == 0 {
				continue
			}
			p := Port{Host: host, Proto: port.Proto(), Container: port.Int()}
			if seen[p] {
				continue
			}
			seen[p] = true
			ports = append(ports, p)
		}
	}

	slices.SortFunc(ports, func(a, b Port) int {
		return cmp.Or(
			cmp.Compare(a.Container, b.Container),
			cmp.Compare(a.Proto, b.Proto),
			cmp.Compare(a.Host, b.Host),
		)
	})
	return ports
}

func mountsOf(points []container.MountPoint) []Mount {
	mounts := make([]Mount, 0, len(points))
	for _, m := range points {
		rw := "ro"
		if m.RW {
			rw = "rw"
		}
		var flags []string
		if m.Mode != "" {
			flags = append(flags, m.Mode)
		}
		flags = append(flags, rw)
		mounts = append(mounts, Mount{
			Host:      m.Source,
			Container: m.Destination,
			Mode:      strings.Join(flags, ","),
		})
	}
	return mounts
}

func networkOf(resp container.InspectResponse) Network {
	var n Network
	if resp.HostConfig != nil {
		n.Mode = string(resp.HostConfig.NetworkMode)
	}
	if resp.NetworkSettings == nil {
		return n
	}

	nets := resp.NetworkSettings.Networks
	ep, ok := nets[n.Mode]
	if !ok || ep == nil {
		names := make([]string, 0, len(nets))
		for name := range nets {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			if nets[name] != nil {
				ep = nets[name]
				break
			}
		}
	}
	if ep != nil {
		n.IP = ep.IPAddress
		n.Gateway = ep.Gateway
	}
	return n
}

// endpointsOf lists every attached network, sorted by name.
func endpointsOf(resp container.InspectResponse) []Endpoint {
	if resp.NetworkSettings == nil {
		return nil
	}
	var eps []Endpoint
	for name, ep := range resp.NetworkSettings.Networks {
		if ep == nil {
			continue
		}
		eps = append(eps, Endpoint{Name: name, IP: ep.IPAddress, Gateway: ep.Gateway, MAC: ep.MacAddress})
	}
	slices.SortFunc(eps, func(a, b Endpoint) int { return cmp.Compare(a.Name, b.Name) })
	return eps
}

// parseTime reads a daemon timestamp. The daemon reports never-set times
// as the zero time, which stays zero here.
func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil || t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}

// parseTop maps the daemon's ps table onto TopProcess using the column
// titles, which vary with the ps arguments.
func parseTop(titles []string, rows [][]string) []TopProcess {
	col := func(name string) int {
		for i, t := range titles {
			if strings.EqualFold(t, name) {
				return i
			}
		}
		return -1
	}
	pidCol, ppidCol := col("PID"), col("PPID")
	userCol := col("UID")
	if userCol == -1 {
		userCol = col("USER")
	}
	cmdCol := col("CMD")
	if cmdCol == -1 {
		cmdCol = col("COMMAND")
	}

	field := func(row []string, i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return row[i]
	}

	procs := make([]TopProcess, 0, len(rows))
	for _, row := range rows {
		pid, err := strconv.Atoi(field(row, pidCol))
		if err != nil {
			continue
		}
		ppid, _ := strconv.Atoi(field(row, ppidCol))
		procs = append(procs, TopProcess{
			PID:  pid,
			PPID: ppid,
			User: field(row, userCol),
			Cmd:  field(row, cmdCol),
		})
	}
	return procs
}
