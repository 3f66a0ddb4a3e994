package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/samims/keepsake/internal/model"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one processing pass and exit",
		Long: `Run one processing pass: sweep expired leases, deliver every due keepsake and
print the run summary as JSON.

The exit status is non-zero when the run was aborted, so an external
scheduler such as cron can alert on it.

Example:
  keepsake run
  */1 * * * * keepsake run >> /var/log/keepsake.log`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, l, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, l, true)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, runErr := a.processor.RunOnce(ctx)
			if err := writeSummary(cmd.OutOrStdout(), summary); err != nil {
				return err
			}
			if runErr != nil {
				return fmt.Errorf("processing run aborted: %w", runErr)
			}
			return nil
		},
	}
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Return keepsakes with expired leases to scheduled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, l, false)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.processor.Sweep(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "released %d expired leases\n", n)
			return nil
		},
	}
}

func writeSummary(w io.Writer, s model.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

