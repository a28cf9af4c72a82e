package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReindexCmd(root *rootOptions) *cobra.Command {
	var codes []string

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the full-text search index",
		Long:  "Rebuilds search rows for every organisation, or only for --code when given.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, root, "reindex")
			if err != nil {
				return err
			}
			defer a.Close()

			var n int64
			if len(codes) > 0 {
				n, err = a.svc.ReindexCodes(ctx, codes)
			} else {
				n, err = a.svc.Reindex(ctx)
			}
			if err != nil {
				return withCode(exitDBWrite, fmt.Errorf("reindex: %w", err))
			}
			return writeJSONLine(cmd.OutOrStdout(), map[string]any{"indexed": n})
		},
	}
	cmd.Flags().StringSliceVar(&codes, "code", nil, "Only refresh these organisation codes")
	return cmd
}
