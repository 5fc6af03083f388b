package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/fieldsync/backend/internal/models"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/conflict"
	"github.com/kimhsiao/fieldsync/backend/internal/uuid"
)

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	Side string
	All  bool
}

type resolveView struct {
	ItemID     models.UUID         `json:"itemId"`
	Resolution conflict.Resolution `json:"resolution"`
	Outcome    conflict.Outcome    `json:"outcome"`
	Triggered  bool                `json:"triggered"`
	Error      string              `json:"error,omitempty"`
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve [item-id]",
		Short: "Resolve a conflicting item",
		Long: `Resolve an item the server rejected as conflicting.

  --side local    resubmit the local change, overwriting the server
  --side server   discard the local change`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.All {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			resolution, err := conflict.ParseResolution(opts.Side)
			if err != nil {
				return err
			}
			if !opts.All {
				if err := uuid.Validate(args[0]); err != nil {
					return err
				}
			}

			a, err := openApp(cmd.Context(), opts.RootOptions)
			if err != nil {
				return err
			}
			defer a.close()
			a.start(cmd.Context(), opts.Offline)

			var results []conflict.ResolveResult
			if opts.All {
				results = a.engine.ResolveAll(cmd.Context(), resolution)
			} else {
				results = append(results, a.engine.Resolve(cmd.Context(), models.UUID(args[0]), resolution))
			}

			views := make([]resolveView, 0, len(results))
			for _, r := range results {
				v := resolveView{ItemID: r.ItemID, Resolution: r.Resolution, Outcome: r.Outcome, Triggered: r.Triggered}
				if r.Err != nil {
					v.Error = r.Err.Error()
				}
				views = append(views, v)
			}

			out := NewOutputFormatter(opts.Format, cmd.OutOrStdout())
			if out.IsJSON() {
				return out.JSON(views)
			}
			if len(views) == 0 {
				out.Printf("No conflicts to resolve\n")
				return nil
			}
			for _, v := range views {
				if v.Error != "" {
					out.Printf("%s: %s\n", v.ItemID, v.Error)
					continue
				}
				out.Printf("%s: %s\n", v.ItemID, v.Outcome)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Side, "side", "", "winning side (local|server)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "resolve every conflicting item")
	_ = cmd.MarkFlagRequired("side")

	return cmd
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent conflict resolutions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Ephemeral {
				return fmt.Errorf("history is not recorded with --ephemeral")
			}

			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			entries, err := a.history.ListConflictLogs(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := NewOutputFormatter(opts.Format, cmd.OutOrStdout())
			if out.IsJSON() {
				if entries == nil {
					entries = []*models.ConflictLog{}
				}
				return out.JSON(entries)
			}
			if len(entries) == 0 {
				out.Printf("No resolutions recorded\n")
				return nil
			}

			tw := tabwriter.NewWriter(out.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "RESOLVED\tITEM\tENTITY\tSIDE\tDETAIL")
			for _, e := range entries {
				t := e.ResolvedAtTime()
				fmt.Fprintf(tw, "%s\t%s\t%s/%s\t%s\t%s\n",
					formatTime(&t), e.ItemID, e.EntityType, e.EntityID, e.Resolution, e.Detail)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}
