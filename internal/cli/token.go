package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/fieldsync/backend/internal/crypto"
)

// NewSealTokenCommand creates the seal-token command.
func NewSealTokenCommand(opts *RootOptions) *cobra.Command {
	var passphrase string

	cmd := &cobra.Command{
		Use:   "seal-token",
		Short: "Encrypt a backend token for the config file",
		Long: `Read a bearer token from stdin and print it sealed, ready for backend.token.
Set backend.token_passphrase (or FIELDSYNC_BACKEND_TOKEN_PASSPHRASE) to the
same passphrase so the token can be opened on load.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				passphrase = opts.config.Backend.TokenPassphrase
			}

			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read token: %w", err)
			}

			sealed, err := crypto.SealToken(strings.TrimSpace(line), passphrase)
			if err != nil {
				return err
			}

			out := NewOutputFormatter(opts.Format, cmd.OutOrStdout())
			if out.IsJSON() {
				return out.JSON(map[string]string{"token": sealed})
			}
			out.Printf("%s\n", sealed)
			return nil
		},
	}

	cmd.Flags().StringVar(&passphrase, "passphrase", "", "passphrase (default from backend.token_passphrase)")
	return cmd
}
