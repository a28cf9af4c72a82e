package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iota-uz/ods/modules/ods/domain/organisation"
	"github.com/iota-uz/ods/modules/ods/services"
)

type searchFlags struct {
	text         string
	name         string
	address      string
	activeOnly   bool
	roles        []string
	primaryRoles []string
	recordClass  string
	childOf      string
	childRelType []string
	origin       string
	postcode     string
	rangeMetres  int
	limit        int
	shape        string
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	var f searchFlags

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search organisations by text, role, relationship and distance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := f.params()
			if err != nil {
				return classify(err)
			}
			// Reject bad options before opening any connection.
			if err := params.Validate(); err != nil {
				return classify(err)
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, root, "search")
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.Search(ctx, params)
			if err != nil {
				return classify(fmt.Errorf("search: %w", err))
			}
			out := cmd.OutOrStdout()
			switch res.Shape {
			case services.ShapeCodes, services.ShapeOrderedCodes:
				return writeJSONLine(out, map[string]any{"codes": res.Codes})
			default:
				for _, o := range res.Organisations {
					if err := writeJSONLine(out, o); err != nil {
						return err
					}
				}
				return nil
			}
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.text, "text", "", "Match words anywhere in name or address")
	fl.StringVar(&f.name, "name", "", "Match words in the name")
	fl.StringVar(&f.address, "address", "", "Match words in the address")
	fl.BoolVar(&f.activeOnly, "active-only", false, "Only active organisations")
	fl.StringSliceVar(&f.roles, "role", nil, "Holds one of these active roles")
	fl.StringSliceVar(&f.primaryRoles, "primary-role", nil, "Holds one of these as its active primary role")
	fl.StringVar(&f.recordClass, "record-class", "", "Organisation or Site")
	fl.StringVar(&f.childOf, "child-of", "", "Direct children of this parent code")
	fl.StringSliceVar(&f.childRelType, "child-rel-type", nil, "Relationship types for --child-of")
	fl.StringVar(&f.origin, "origin", "", "Geo origin as NORTHING,EASTING")
	fl.StringVar(&f.postcode, "postcode", "", "Geo origin as a postcode")
	fl.IntVar(&f.rangeMetres, "range", 0, "Geo range in metres")
	fl.IntVar(&f.limit, "limit", 0, fmt.Sprintf("Maximum results (default and maximum %d)", services.MaxSearchLimit))
	fl.StringVar(&f.shape, "shape", string(services.ShapeCodes), "codes, ordered-codes, organisations or extended")

	return cmd
}

func (f searchFlags) params() (services.SearchParams, error) {
	shape, err := services.ParseResultShape(f.shape)
	if err != nil {
		return services.SearchParams{}, err
	}
	p := services.SearchParams{
		Text:         f.text,
		NameText:     f.name,
		AddressText:  f.address,
		ActiveOnly:   f.activeOnly,
		Roles:        f.roles,
		PrimaryRoles: f.primaryRoles,
		RecordClass:  organisation.RecordClass(strings.TrimSpace(f.recordClass)),
		Limit:        f.limit,
		Shape:        shape,
	}
	if strings.TrimSpace(f.childOf) != "" {
		p.ChildOf = &services.ChildOfFilter{Parent: strings.TrimSpace(f.childOf), RelationshipTypes: f.childRelType}
	}
	if f.origin != "" || f.postcode != "" || f.rangeMetres != 0 {
		geo := &services.GeoFilter{Postcode: strings.TrimSpace(f.postcode), RangeMetres: f.rangeMetres}
		if f.origin != "" {
			c, err := parseOrigin(f.origin)
			if err != nil {
				return services.SearchParams{}, withCode(exitUsage, err)
			}
			geo.Origin = c
		}
		p.Geo = geo
	}
	return p, nil
}

func parseOrigin(v string) (*organisation.Coordinates, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid --origin %q: want NORTHING,EASTING", v)
	}
	n, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("invalid --origin northing: %w", err)
	}
	e, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, fmt.Errorf("invalid --origin easting: %w", err)
	}
	return &organisation.Coordinates{Northing: n, Easting: e}, nil
}
