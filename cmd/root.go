package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"machine-monitor/internal/config"
	"machine-monitor/internal/observability/logging"
)

// app holds what PersistentPreRunE prepared for the subcommands.
type app struct {
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "machine-monitor",
		Short:         "Real-time anomaly monitoring for industrial machines.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.NewWithWriter(cfg.Log, logSink(cmd))
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (YAML); MONITOR_* environment variables override it")
	root.AddCommand(newServeCommand(a), newValidateCommand(a), newSimulateCommand(a))
	return root
}

// logSink keeps logs off stdout so simulate output stays machine readable.
func logSink(cmd *cobra.Command) io.Writer {
	return cmd.ErrOrStderr()
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
