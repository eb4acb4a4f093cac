package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/majorcontext/sedock/internal/cgroup"
	"github.com/majorcontext/sedock/internal/fanotify"
	"github.com/majorcontext/sedock/internal/log"
	"github.com/majorcontext/sedock/internal/monitor"
	"github.com/majorcontext/sedock/internal/output"
	"github.com/majorcontext/sedock/internal/proc"
	"github.com/majorcontext/sedock/internal/term"
	"github.com/majorcontext/sedock/internal/ui"
)

var monitorFlags struct {
	dir           string
	showContainer bool
	format        string
	events        string
	workers       int
	queueSize     int
	noRecursive   bool
	dedup         bool
}

var monitorCmd = &cobra.Command{
	Use:   "monitor -d <dir>",
	Short: "Stream file accesses under a directory",
	Long: `Stream open, write, and close events for files under a directory,
attributed to the host process and, with --show-container, the container
that performed them.

Requires root or CAP_SYS_ADMIN. Runs until interrupted; a summary of
processed, dropped, and lost events is printed to stderr on exit.

Table columns:
  EVENT  PID  UID  GID  PROCESS_PATH  CONTAINER  FILE_PATH`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	f := monitorCmd.Flags()
	f.StringVarP(&monitorFlags.dir, "directory", "d", "", "directory to watch (required)")
	f.BoolVar(&monitorFlags.showContainer, "show-container", false, "attribute events to containers")
	f.StringVarP(&monitorFlags.format, "format", "f", "table", "output format: table or json")
	f.StringVar(&monitorFlags.events, "events", "open,write,close", "comma-separated event kinds to report")
	f.IntVar(&monitorFlags.workers, "workers", 1, "concurrent resolvers (output order is preserved)")
	f.IntVar(&monitorFlags.queueSize, "queue-size", 1024, "events buffered before dropping")
	f.BoolVar(&monitorFlags.noRecursive, "no-recursive", false, "watch only direct children of the directory")
	f.BoolVar(&monitorFlags.dedup, "dedup", false, "suppress consecutive identical events")
	_ = monitorCmd.MarkFlagRequired("directory")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg := globalCfg.Monitor
	flags := cmd.Flags()
	if flags.Changed("format") {
		cfg.Format = monitorFlags.format
	}
	if flags.Changed("events") {
		cfg.Events = monitorFlags.events
	}
	if flags.Changed("workers") {
		cfg.Workers = monitorFlags.workers
	}
	if flags.Changed("queue-size") {
		cfg.QueueSize = monitorFlags.queueSize
	}

	format, err := output.ParseFormat(cfg.Format)
	if err != nil {
		return err
	}
	kinds, err := fanotify.ParseKinds(cfg.Events)
	if err != nil {
		return err
	}

	opts := fanotify.DefaultOptions()
	opts.Kinds = kinds
	opts.Recursive = !monitorFlags.noRecursive
	session, err := fanotify.Open(monitorFlags.dir, opts)
	if err != nil {
		return err
	}
	defer session.Close()

	sink, err := output.NewEventRenderer(format, os.Stdout, output.EventOptions{
		Header: format == output.Table && term.IsTerminal(os.Stdout),
	})
	if err != nil {
		return err
	}

	procs := proc.Default()
	var containers monitor.ContainerResolver
	var cache *cgroup.Resolver
	if monitorFlags.showContainer {
		cache = cgroup.NewResolver(os.DirFS("/proc"), procs, cgroup.WithTTL(cfg.CacheTTL))
		containers = cache
	}

	p := monitor.New(session, sink, procs, containers, monitor.Options{
		ShowContainer:  monitorFlags.showContainer,
		Workers:        cfg.Workers,
		QueueSize:      cfg.QueueSize,
		EnqueueTimeout: cfg.EnqueueTimeout,
		DrainTimeout:   cfg.DrainTimeout,
		Dedup:          monitorFlags.dedup,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ui.Infof("Monitoring %s (Ctrl+C to stop)", monitorFlags.dir)
	stats, runErr := p.Run(ctx)

	ui.Info(summaryLine(stats, monitorFlags.dedup))
	if stats.Lost > 0 {
		ui.Warnf("kernel queue overflowed %d times; some events were never seen", stats.Lost)
	}
	ss := session.Stats()
	log.Debug("fanotify session closed", "read", ss.Read, "filtered", ss.Filtered, "retries", ss.Retries)
	if cache != nil {
		cs := cache.Stats()
		log.Debug("container cache", "hits", cs.Hits, "misses", cs.Misses, "invalidations", cs.Invalidations)
	}
	return runErr
}

func summaryLine(s monitor.Stats, dedup bool) string {
	line := fmt.Sprintf("processed=%d dropped=%d lost=%d unknown_process=%d",
		s.Processed, s.Dropped, s.Lost, s.UnknownProcess)
	if dedup {
		line += fmt.Sprintf(" deduplicated=%d", s.Deduplicated)
	}
	return line
}
