package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kimhsiao/fieldsync/backend/internal/diagnostics"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity and outbox counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()
			a.start(cmd.Context(), opts.Offline)

			status := a.engine.Status()
			out := NewOutputFormatter(opts.Format, cmd.OutOrStdout())
			if out.IsJSON() {
				return out.JSON(status)
			}

			c := status.Counts
			out.Printf("Connectivity: %s\n", colorConnectivity(status.Connectivity))
			out.Printf("Sync:         %s\n", status.Status)
			out.Printf("Outbox:       %d pending, %d uploading, %d synced, %s, %s\n",
				c.Pending, c.Uploading, c.Synced,
				color.New(color.FgRed).Sprintf("%d error", c.Error),
				color.New(color.FgYellow).Sprintf("%d conflict", c.Conflict))
			out.Printf("Last sync:    %s\n", formatTime(status.LastSyncTime))
			if status.RehydrateError != "" {
				out.Printf("%s %s\n", color.New(color.FgRed).Sprint("Outbox reset:"), status.RehydrateError)
			}
			if status.DurabilityWarning != "" {
				out.Printf("%s %s\n", color.New(color.FgYellow).Sprint("Warning:"), status.DurabilityWarning)
			}
			return nil
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(opts *RootOptions) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List outbox items in queue order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := models.OutboxStatus(status)
			if filter != "" && !filter.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}

			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()
			a.start(cmd.Context(), true)

			var views []diagnostics.ItemView
			for _, item := range a.engine.Snapshot() {
				if filter != "" && item.Status != filter {
					continue
				}
				views = append(views, diagnostics.NewItemView(item))
			}

			out := NewOutputFormatter(opts.Format, cmd.OutOrStdout())
			if out.IsJSON() {
				if views == nil {
					views = []diagnostics.ItemView{}
				}
				return out.JSON(views)
			}
			if len(views) == 0 {
				out.Printf("Outbox is empty\n")
				return nil
			}

			tw := tabwriter.NewWriter(out.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tENTITY\tOP\tSTATUS\tATTEMPTS\tLAST ERROR")
			for _, v := range views {
				fmt.Fprintf(tw, "%s\t%s/%s\t%s\t%s\t%d/%d\t%s\n",
					v.ID, v.EntityType, v.EntityID, v.Operation, colorStatus(v.Status),
					v.Attempts, v.MaxAttempts, v.LastError)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "only show items with this status")
	return cmd
}
