package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iota-uz/ods/modules/ods/domain/organisation"
	"github.com/iota-uz/ods/modules/ods/services"
)

type closureLine struct {
	Code  string   `json:"code"`
	Codes []string `json:"codes"`
}

type closureFunc func(ctx context.Context, svc *services.OrgService, codes []string) (map[string][]string, error)

func newClosureCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "closure",
		Short: "Resolve succession and relationship closures for one or more codes",
	}

	cmd.AddCommand(closureSubcommand(root, "predecessors", "All transitive predecessors",
		func(ctx context.Context, svc *services.OrgService, codes []string) (map[string][]string, error) {
			return svc.AllPredecessorsBatch(ctx, codes)
		}))
	cmd.AddCommand(closureSubcommand(root, "successors", "All transitive successors",
		func(ctx context.Context, svc *services.OrgService, codes []string) (map[string][]string, error) {
			return svc.AllSuccessorsBatch(ctx, codes)
		}))
	cmd.AddCommand(closureSubcommand(root, "active", "Active organisations each code resolves to",
		func(ctx context.Context, svc *services.OrgService, codes []string) (map[string][]string, error) {
			return svc.ActiveSuccessorsBatch(ctx, codes)
		}))
	cmd.AddCommand(closureSubcommand(root, "equivalent", "The code with its successors and predecessors",
		func(ctx context.Context, svc *services.OrgService, codes []string) (map[string][]string, error) {
			return svc.EquivalentOrgCodesBatch(ctx, codes)
		}))
	cmd.AddCommand(closureSubcommand(root, "all-equivalent", "Every code linked by succession in either direction",
		func(ctx context.Context, svc *services.OrgService, codes []string) (map[string][]string, error) {
			return svc.AllEquivalentOrgCodesBatch(ctx, codes)
		}))
	cmd.AddCommand(newChildrenCmd(root))
	cmd.AddCommand(newAllChildrenCmd(root))
	return cmd
}

func closureSubcommand(root *rootOptions, use, short string, fn closureFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " CODE...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClosure(cmd, root, "closure "+use, args, fn)
		},
	}
}

func runClosure(cmd *cobra.Command, root *rootOptions, name string, codes []string, fn closureFunc) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, root, name)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := fn(ctx, a.svc, codes)
	if err != nil {
		return classify(fmt.Errorf("%s: %w", name, err))
	}
	for _, c := range codes {
		got, ok := out[c]
		if !ok {
			got = []string{}
		}
		if err := writeJSONLine(cmd.OutOrStdout(), closureLine{Code: c, Codes: got}); err != nil {
			return err
		}
	}
	return nil
}

func newChildrenCmd(root *rootOptions) *cobra.Command {
	var (
		relTypes []string
		roles    []string
		active   string
	)
	cmd := &cobra.Command{
		Use:   "children PARENT...",
		Short: "Direct children over relationship edges",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			act, err := parseTriState(active)
			if err != nil {
				return withCode(exitUsage, fmt.Errorf("invalid --active: %w", err))
			}
			filter := organisation.ChildFilter{Active: act, RelationshipTypes: relTypes, RoleTypes: roles}
			return runClosure(cmd, root, "closure children", args,
				func(ctx context.Context, svc *services.OrgService, codes []string) (map[string][]string, error) {
					return svc.ChildOrgsBatch(ctx, codes, filter)
				})
		},
	}
	cmd.Flags().StringSliceVar(&relTypes, "rel-type", nil, "Relationship types to follow (default: all)")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Keep children holding one of these active roles")
	cmd.Flags().StringVar(&active, "active", "", "Keep only active (true) or inactive (false) children")
	return cmd
}

func newAllChildrenCmd(root *rootOptions) *cobra.Command {
	var relTypes []string
	cmd := &cobra.Command{
		Use:   "all-children PARENT...",
		Short: "Transitive children over relationship edges",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClosure(cmd, root, "closure all-children", args,
				func(ctx context.Context, svc *services.OrgService, codes []string) (map[string][]string, error) {
					return svc.AllChildOrgsBatch(ctx, codes, relTypes)
				})
		},
	}
	cmd.Flags().StringSliceVar(&relTypes, "rel-type", nil, "Relationship types to follow (default: all)")
	return cmd
}

func parseTriState(v string) (*bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
