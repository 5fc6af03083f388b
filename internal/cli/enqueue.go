package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/fieldsync/backend/internal/diagnostics"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/outbox"
)

// EnqueueOptions holds flags for the enqueue command.
type EnqueueOptions struct {
	*RootOptions
	Payload     string
	MaxAttempts int
}

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnqueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "enqueue <entity-type> <operation>",
		Short: "Queue a local mutation",
		Long: `Queue a mutation for later upload.

Entity types: visit, task, party, quote, media.
Operations:   create, update, delete.

The payload is the entity's JSON document, for example:
  fieldsync enqueue visit update --payload '{"visitId":"V1","notes":"meter replaced"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityType := models.EntityType(args[0])
			if !entityType.Valid() {
				return fmt.Errorf("unknown entity type %q", args[0])
			}
			payload, err := models.DecodePayload(entityType, []byte(opts.Payload))
			if err != nil {
				return fmt.Errorf("invalid payload: %w", err)
			}

			a, err := openApp(cmd.Context(), opts.RootOptions)
			if err != nil {
				return err
			}
			defer a.close()
			a.start(cmd.Context(), opts.Offline)

			item, err := a.engine.Enqueue(cmd.Context(), outbox.EnqueueRequest{
				EntityType:  entityType,
				Operation:   models.Operation(args[1]),
				Payload:     payload,
				MaxAttempts: opts.MaxAttempts,
			})
			if err != nil {
				return err
			}

			out := NewOutputFormatter(opts.Format, cmd.OutOrStdout())
			if out.IsJSON() {
				return out.JSON(diagnostics.NewItemView(item))
			}
			out.Printf("Queued %s %s as %s\n", item.EntityKey(), item.Operation, item.ID)
			if w := a.engine.Status().DurabilityWarning; w != "" {
				out.Printf("Warning: %s\n", w)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Payload, "payload", "p", "", "entity JSON document")
	cmd.Flags().IntVar(&opts.MaxAttempts, "max-attempts", 0, "retry budget (default from sync.default_max_attempts)")
	_ = cmd.MarkFlagRequired("payload")

	return cmd
}
