package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the schema and seed demo data, then exit",
		Long: `Create the conversations and messages tables if they are missing.
When seeding is enabled and the store holds no conversations, two demo
conversations are inserted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "database initialised (%s)\n", store.Driver())
			return nil
		},
	}
}
