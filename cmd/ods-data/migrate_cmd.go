package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iota-uz/ods/modules/ods/infrastructure/persistence"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, root, "migrate")
			if err != nil {
				return err
			}
			defer a.Close()

			applied, err := persistence.Migrate(ctx, a.pool, a.log)
			if err != nil {
				return withCode(exitDB, fmt.Errorf("migrate: %w", err))
			}
			return writeJSONLine(cmd.OutOrStdout(), map[string]any{"applied": applied})
		},
	}
}
