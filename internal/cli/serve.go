package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/fieldsync/backend/internal/diagnostics"
	"github.com/kimhsiao/fieldsync/backend/internal/logging"
)

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync engine with the diagnostics server",
		Long: `Run the engine in the foreground: probe the backend periodically, sync
automatically when it becomes reachable and serve status, manual sync,
conflict resolution, a WebSocket event stream and metrics over HTTP.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = opts.config.Diagnostics.Address
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()

			hub := diagnostics.NewHub()
			a.engine.SetEventHandler(hub)
			a.engine.Start(ctx)

			if !opts.Offline {
				go a.prober.Start(ctx)
				defer a.prober.Wait()
			}

			logging.Info("fieldsync engine running", map[string]interface{}{
				"address": addr,
				"pending": a.engine.PendingCount(),
			})
			return diagnostics.NewServer(a.engine, hub).ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "diagnostics listen address (default from diagnostics.address)")
	return cmd
}
