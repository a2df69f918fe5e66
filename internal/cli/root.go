package cli

import (
	"github.com/go-kit/log"
	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/checkpoint/internal/config"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configFile string
	logLevel   string
	logFormat  string

	logger log.Logger
}

// NewRootCmd creates the root checkpoint command.
func NewRootCmd() *cobra.Command {
	ro := &rootOptions{}

	root := &cobra.Command{
		Use:   "checkpoint",
		Short: "Pluggable request admission",
		Long: `Checkpoint decides whether each incoming request is admitted or rejected
using one of four rate limiting algorithms over a shared counter store.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), ro.logFormat, ro.logLevel)
			if err != nil {
				return err
			}
			ro.logger = logger
			return nil
		},
	}

	root.PersistentFlags().StringVar(&ro.configFile, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&ro.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&ro.logFormat, "log-format", "logfmt", "log format (logfmt, json)")

	root.AddCommand(
		newServerCmd(ro),
		newTestCmd(ro),
		newInitCmd(),
	)

	return root
}

// loadConfig returns defaults, overlaid with the config file when one was
// given and then with CHECKPOINT_* environment variables.
func (ro *rootOptions) loadConfig() (config.Config, error) {
	cfg := config.Default()
	if ro.configFile != "" {
		var err error
		cfg, err = config.LoadFile(ro.configFile)
		if err != nil {
			return cfg, err
		}
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (ro *rootOptions) baseLogger() log.Logger {
	if ro.logger == nil {
		return log.NewNopLogger()
	}
	return ro.logger
}
