package cli

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/apexlabs-backend/pkg/config"
	"github.com/angelmondragon/apexlabs-backend/pkg/logger"
)

// RootOptions holds global flags and the hooks subcommands use to reach
// configuration.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	LoadConfig func() (*config.Config, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the orderctl command tree backed by the environment config.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWith(&RootOptions{LoadConfig: config.Load})
}

// NewRootCommandWith creates the command tree with caller-supplied options.
func NewRootCommandWith(opts *RootOptions) *cobra.Command {
	if opts.LoadConfig == nil {
		opts.LoadConfig = config.Load
	}

	cmd := &cobra.Command{
		Use:   "orderctl",
		Short: "Operate the order store and its fallback outbox",
		Long: `orderctl inspects and drains the pending-orders outbox, runs schema
migrations, checks store health and follows the live admin order list.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log to stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewPendingCommand(opts))
	cmd.AddCommand(NewSyncPendingCommand(opts))
	cmd.AddCommand(NewStoreStatusCommand(opts))
	cmd.AddCommand(NewHashPasswordCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// commandLogger logs to stderr only with --verbose so stdout stays parseable.
func commandLogger(opts *RootOptions, cmd *cobra.Command, cfg *config.Config) *logger.Logger {
	var out io.Writer = io.Discard
	level := zerolog.Disabled
	if opts.Verbose {
		out = cmd.ErrOrStderr()
		level = logger.ParseLevel("debug")
		if cfg != nil && cfg.App.LogLevel != "" {
			level = logger.ParseLevel(cfg.App.LogLevel)
		}
	}
	return logger.New(logger.Options{ServiceName: "orderctl", Level: level, Output: out, Format: logger.FormatConsole})
}
