package cli

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kimhsiao/fieldsync/backend/internal/models"
	"github.com/kimhsiao/fieldsync/backend/internal/uuid"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle now",
		Long: `Probe the backend and, if it is reachable, upload every eligible item
in queue order. Items in conflict are left for 'fieldsync resolve'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()
			a.start(cmd.Context(), opts.Offline)

			result, err := a.engine.SyncNow(cmd.Context())
			if err != nil {
				return err
			}

			out := NewOutputFormatter(opts.Format, cmd.OutOrStdout())
			if out.IsJSON() {
				return out.JSON(result)
			}
			if result.Skipped {
				out.Printf("%s nothing was sent\n", color.New(color.FgRed).Sprint("Backend unreachable:"))
				return nil
			}
			out.Printf("Attempted %d: %s, %d retrying, %s, %s",
				result.Attempted,
				color.New(color.FgGreen).Sprintf("%d synced", result.Synced),
				result.Retrying,
				color.New(color.FgRed).Sprintf("%d failed", result.Failed),
				color.New(color.FgYellow).Sprintf("%d conflicts", result.Conflicts))
			if result.Deferred > 0 {
				out.Printf(", %d deferred", result.Deferred)
			}
			out.Printf(" (%s)\n", result.Duration().Round(time.Millisecond))
			return nil
		},
	}
}

// NewRetryCommand creates the retry command.
func NewRetryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [item-id]",
		Short: "Give items in error a fresh retry budget",
		Long: `Move items in error back to pending with a fresh retry budget.
With an item id only that item is requeued; otherwise every item in error is.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if err := uuid.Validate(args[0]); err != nil {
					return err
				}
			}

			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()
			a.start(cmd.Context(), true)

			n := 0
			if len(args) == 1 {
				if err := a.engine.Retry(cmd.Context(), models.UUID(args[0])); err != nil {
					return err
				}
				n = 1
			} else {
				n = a.engine.RetryFailed(cmd.Context())
			}

			out := NewOutputFormatter(opts.Format, cmd.OutOrStdout())
			if out.IsJSON() {
				return out.JSON(map[string]int{"requeued": n})
			}
			out.Printf("Requeued %d item(s)\n", n)
			return nil
		},
	}
}

// NewClearCommand creates the clear command.
func NewClearCommand(opts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every item from the outbox",
		Long:  "Drop every item from the outbox, including unsynced ones. Use after signing out.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to drop unsynced work without --yes")
			}

			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			n := a.engine.Clear(cmd.Context())

			out := NewOutputFormatter(opts.Format, cmd.OutOrStdout())
			if out.IsJSON() {
				return out.JSON(map[string]int{"removed": n})
			}
			out.Printf("Removed %d item(s)\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm dropping unsynced items")
	return cmd
}
