package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/majorcontext/sedock/internal/config"
	"github.com/majorcontext/sedock/internal/docker"
	"github.com/majorcontext/sedock/internal/doctor"
	"github.com/majorcontext/sedock/internal/fanotify"
	"github.com/majorcontext/sedock/internal/ui"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that this host can run sedock",
	Long: `Report privileges, fanotify support, cgroup layout, Docker daemon
reachability, and configuration paths. Exits non-zero if any check fails.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	reg := doctor.NewRegistry()
	reg.Register(versionSection{})
	reg.Register(privilegeSection{statusPath: "/proc/self/status"})
	reg.Register(fanotifySection{})
	reg.Register(cgroupSection{})
	reg.Register(&dockerSection{ctx: ctx, host: globalCfg.Docker.Host})
	reg.Register(configSection{cfg: globalCfg, path: configPath})

	if failed := reg.Run(cmd.OutOrStdout()); failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(reg.Sections()))
	}
	return nil
}

type versionSection struct{}

func (versionSection) Name() string { return "Version" }

func (versionSection) Print(w io.Writer) error {
	fmt.Fprintf(w, "sedock:   %s\n", Version())
	fmt.Fprintf(w, "platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	return nil
}

type privilegeSection struct {
	statusPath string
}

func (privilegeSection) Name() string { return "Privileges" }

func (s privilegeSection) Print(w io.Writer) error {
	euid := unix.Geteuid()
	fmt.Fprintf(w, "euid: %d\n", euid)

	status, err := os.ReadFile(s.statusPath)
	if err != nil {
		return fmt.Errorf("reading capabilities: %w", err)
	}
	caps, err := doctor.EffectiveCaps(status)
	if err != nil {
		return err
	}
	if euid == 0 || doctor.HasCap(caps, doctor.CapSysAdmin) {
		fmt.Fprintf(w, "%s CAP_SYS_ADMIN available\n", ui.OKTag())
		return nil
	}
	return fmt.Errorf("monitor needs root or CAP_SYS_ADMIN (effective caps %#x)", caps)
}

type fanotifySection struct{}

func (fanotifySection) Name() string { return "fanotify" }

func (fanotifySection) Print(w io.Writer) error {
	if err := fanotify.Supported(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s kernel accepts fanotify_init\n", ui.OKTag())
	return nil
}

type cgroupSection struct{}

func (cgroupSection) Name() string { return "cgroups" }

func (cgroupSection) Print(w io.Writer) error {
	v, err := doctor.CgroupVersion(os.DirFS("/"))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s cgroup v%d\n", ui.OKTag(), v)
	return nil
}

type dockerSection struct {
	ctx  context.Context
	host string
}

func (*dockerSection) Name() string { return "Docker" }

func (s *dockerSection) Print(w io.Writer) error {
	client, err := docker.NewClient(docker.WithHost(s.host))
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Ping(s.ctx); err != nil {
		return err
	}
	refs, err := client.ListContainers(s.ctx, docker.Filter{All: true})
	if err != nil {
		return err
	}
	running, err := client.ListContainers(s.ctx, docker.Filter{})
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s daemon reachable\n", ui.OKTag())
	fmt.Fprintf(w, "containers: %d (%d running)\n", len(refs), len(running))
	return nil
}

type configSection struct {
	cfg  *config.GlobalConfig
	path string
}

func (configSection) Name() string { return "Configuration" }

func (s configSection) Print(w io.Writer) error {
	path := s.path
	if path == "" {
		path = filepath.Join(config.GlobalConfigDir(), "config.yaml")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(w, "config:    %s %s\n", path, ui.Dim("(not present, using defaults)"))
	} else {
		fmt.Fprintf(w, "config:    %s\n", path)
	}
	debug := s.cfg.DebugDir()
	if debug == "" {
		debug = "off"
	}
	fmt.Fprintf(w, "debug log: %s (kept %d days)\n", debug, s.cfg.Debug.RetentionDays)
	return nil
}
