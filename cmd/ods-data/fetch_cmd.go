package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iota-uz/ods/modules/ods/services"
)

type fetchLine struct {
	Code         string                          `json:"code"`
	Found        bool                            `json:"found"`
	Organisation *services.DescribedOrganisation `json:"organisation,omitempty"`
}

func newFetchCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch CODE...",
		Short: "Print organisations with roles, relationships, successions and type labels as JSON lines",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, root, "fetch")
			if err != nil {
				return err
			}
			defer a.Close()

			orgs, err := a.svc.Describe(ctx, args)
			if err != nil {
				return classify(fmt.Errorf("fetch: %w", err))
			}
			for _, code := range args {
				o, ok := orgs[code]
				if err := writeJSONLine(cmd.OutOrStdout(), fetchLine{Code: code, Found: ok, Organisation: o}); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
