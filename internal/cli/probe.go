package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vhlr/internal/probe"

	"github.com/spf13/cobra"
)

func newProbeCmd(d deps, newLogger func() *slog.Logger) *cobra.Command {
	var (
		dst       string
		messageID string
		noCache   bool
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Probe one number and report whether it is reachable",
		Long: `probe dials the destination through the configured switch, retrying per the reconnect
schedule. The exit status is 0 when the number is reachable and 2 when it is not.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := d.loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := d.open(ctx, cfg, newLogger())
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				_ = a.Close(closeCtx)
			}()

			res, err := a.Probes.Probe(ctx, probe.Request{Destination: dst, MessageID: messageID, SkipCache: noCache})
			if err != nil {
				return err
			}
			if err := printReport(cmd, res, asJSON); err != nil {
				return err
			}
			if !res.Available {
				return ErrUnavailable
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dst, "dst", "", "Destination number (3 to 15 digits, optional +)")
	cmd.Flags().StringVar(&messageID, "message-id", "", "Message id passed to the delivery receipt")
	cmd.Flags().BoolVar(&noCache, "nocache", false, "Ignore and overwrite any cached result")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	_ = cmd.MarkFlagRequired("dst")
	return cmd
}

func printReport(cmd *cobra.Command, res probe.Report, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	status := "unavailable"
	if res.Available {
		status = "available"
	}
	_, err := fmt.Fprintf(out, "%s %s code=%d reason=%s attempts=%d cached=%t\n",
		res.Destination, status, res.Code, res.Reason, res.Attempts, res.Cached)
	return err
}
