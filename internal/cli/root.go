// Package cli implements the vhlrctl operator command line.
package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"vhlr/internal/app"
	"vhlr/internal/config"
	"vhlr/pkg/logger"

	"github.com/spf13/cobra"
)

// ErrUnavailable is returned by the probe command when the number proved unreachable.
var ErrUnavailable = errors.New("destination unavailable")

type deps struct {
	loadConfig func() (config.Config, error)
	open       func(ctx context.Context, cfg config.Config, log *slog.Logger) (*app.App, error)
	out        io.Writer
}

// NewRootCmd builds the vhlrctl command tree. Configuration comes from the same
// environment variables as the API server.
func NewRootCmd() *cobra.Command {
	return newRootCmd(deps{
		loadConfig: config.Load,
		open: func(ctx context.Context, cfg config.Config, log *slog.Logger) (*app.App, error) {
			return app.Open(ctx, cfg, log)
		},
		out: os.Stdout,
	})
}

func newRootCmd(d deps) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "vhlrctl",
		Short: "Operate the VHLR reachability probe",
		Long: `vhlrctl places probe calls and mints API tokens using the service configuration
read from the environment.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(d.out)
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level to stderr")

	newLogger := func() *slog.Logger {
		if !verbose {
			return logger.Discard()
		}
		return logger.NewTo(os.Stderr, "dev")
	}

	root.AddCommand(newProbeCmd(d, newLogger))
	root.AddCommand(newTokenCmd(d))
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
