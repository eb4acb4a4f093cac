// Package cli implements the sedock command-line interface using Cobra.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/majorcontext/sedock/internal/config"
	"github.com/majorcontext/sedock/internal/log"
)

var (
	logVerbose bool
	logJSON    bool
	configPath string

	// globalCfg is loaded before any subcommand runs.
	globalCfg = config.DefaultGlobalConfig()
)

var rootCmd = &cobra.Command{
	Use:   "sedock",
	Short: "Watch file access in shared storage and inspect Docker containers",
	Long: `sedock shows which processes, and which containers, are touching files
under a directory, and reports a consistent snapshot of container
configuration from the Docker daemon.

  sedock monitor -d /docker/mysql/data --show-container
  sedock check -c mysql --verbose`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadGlobal(configPath)
		if err != nil {
			return err
		}
		globalCfg = cfg

		if err := log.Init(log.Options{
			Verbose:       logVerbose,
			JSONFormat:    logJSON,
			DebugDir:      cfg.DebugDir(),
			RetentionDays: cfg.Debug.RetentionDays,
			Stderr:        cmd.ErrOrStderr(),
		}); err != nil {
			// The debug file is optional; keep going with stderr only.
			cmd.PrintErrf("Warning: failed to initialize debug logging: %v\n", err)
			_ = log.Init(log.Options{Verbose: logVerbose, JSONFormat: logJSON, Stderr: cmd.ErrOrStderr()})
		}
		log.SetCommand(cmd.Name())
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		log.Close()
	},
}

// Execute runs the root command.
func Execute() error {
	defer log.Close()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&logVerbose, "log-verbose", false, "write debug logs to stderr")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "write stderr logs as JSON")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.sedock/config.yaml)")
}
