package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/majorcontext/sedock/internal/check"
	"github.com/majorcontext/sedock/internal/docker"
	"github.com/majorcontext/sedock/internal/log"
	"github.com/majorcontext/sedock/internal/output"
	"github.com/majorcontext/sedock/internal/proc"
	"github.com/majorcontext/sedock/internal/term"
	"github.com/majorcontext/sedock/internal/ui"
)

var checkFlags struct {
	container string
	verbose   bool
	logLines  int
	output    string
}

var checkCmd = &cobra.Command{
	Use:   "check [-c <container>]",
	Short: "Show container configuration and state",
	Long: `Show id, name, image, status, creation time, published ports, mounts,
and network settings for one container or all of them. --verbose adds
runtime settings, resource limits and usage, environment, the process
list, the main process as seen from the host, and recent output.

Containers that fail to inspect are reported individually; the command
exits non-zero only when the Docker daemon cannot be reached.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	f := checkCmd.Flags()
	f.StringVarP(&checkFlags.container, "container", "c", "", "container id or name (default: all containers)")
	f.BoolVar(&checkFlags.verbose, "verbose", false, "include runtime settings, processes, usage, and logs")
	f.IntVar(&checkFlags.logLines, "log-lines", 20, "lines of recent output shown with --verbose")
	f.StringVarP(&checkFlags.output, "output", "o", "table", "output format: table or json")
}

func runCheck(cmd *cobra.Command, args []string) error {
	outFormat := globalCfg.Check.Format
	if cmd.Flags().Changed("output") {
		outFormat = checkFlags.output
	}
	format, err := output.ParseFormat(outFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := docker.NewClient(docker.WithHost(globalCfg.Docker.Host))
	if err != nil {
		return err
	}
	defer client.Close()

	logLines := globalCfg.Check.LogLines
	if cmd.Flags().Changed("log-lines") {
		logLines = checkFlags.logLines
	}
	collector := check.NewCollector(client, proc.Default(), check.Options{
		Verbose:     checkFlags.verbose,
		Concurrency: globalCfg.Check.Concurrency,
		LogLines:    logLines,
	})
	sel := check.Parse(checkFlags.container)
	log.Debug("collecting containers", "selector", sel.String())

	results, err := collector.Collect(ctx, sel)
	if err != nil {
		return err
	}

	renderer, err := output.NewContainerRenderer(format, os.Stdout, output.ContainerOptions{
		Verbose: checkFlags.verbose,
		Width:   term.Width(os.Stdout),
	})
	if err != nil {
		return err
	}
	if err := renderer.Render(results); err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			log.Debug("container check failed", "container", r.Ref, "error", r.Err)
		}
	}
	if failed > 0 && format == output.Table {
		ui.Warnf("%d of %d containers could not be inspected", failed, len(results))
	}
	return nil
}
