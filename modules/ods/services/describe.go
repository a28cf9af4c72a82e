package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/iota-uz/ods/modules/ods/domain/organisation"
)

// DescribedOrganisation is an organisation as shown to people: type codes
// come with their display names and the graph parts are flattened to codes.
type DescribedOrganisation struct {
	*organisation.Organisation
	PrimaryRole      string            `json:"primary_role,omitempty"`
	ActiveRoleTypes  []string          `json:"active_role_types"`
	SuccessorCodes   []string          `json:"successor_codes"`
	PredecessorCodes []string          `json:"predecessor_codes"`
	Labels           map[string]string `json:"labels"`
}

// ResolveCodes looks up display names for role and relationship type codes.
// Unknown codes are absent from the result.
func (s *OrgService) ResolveCodes(ctx context.Context, codes []string) (map[string]organisation.Code, error) {
	return s.store.Codes(ctx, normalizeSeeds(codes))
}

// Describe fetches codes and resolves every role and relationship type they
// use with one extra query. Unknown codes are absent from the result.
func (s *OrgService) Describe(ctx context.Context, codes []string) (map[string]*DescribedOrganisation, error) {
	orgs, err := s.store.FetchMany(ctx, codes)
	if err != nil {
		return nil, err
	}

	typeSet := map[string]struct{}{}
	for _, o := range orgs {
		for _, r := range o.Roles {
			typeSet[r.RoleType] = struct{}{}
		}
		for _, r := range o.Relationships {
			typeSet[r.RelationshipType] = struct{}{}
		}
	}
	resolved, err := s.ResolveCodes(ctx, sortedSet(typeSet))
	if err != nil {
		return nil, fmt.Errorf("resolve codes: %w", err)
	}

	out := make(map[string]*DescribedOrganisation, len(orgs))
	for code, o := range orgs {
		d := &DescribedOrganisation{
			Organisation:     o,
			SuccessorCodes:   o.SuccessorCodes(),
			PredecessorCodes: o.PredecessorCodes(),
			Labels:           map[string]string{},
		}
		if r, ok := o.PrimaryRole(); ok {
			d.PrimaryRole = r.RoleType
		}
		for _, r := range o.ActiveRoles() {
			d.ActiveRoleTypes = append(d.ActiveRoleTypes, r.RoleType)
		}
		sort.Strings(d.ActiveRoleTypes)
		for _, r := range o.Roles {
			if c, ok := resolved[r.RoleType]; ok {
				d.Labels[r.RoleType] = c.DisplayName
			}
		}
		for _, r := range o.Relationships {
			if c, ok := resolved[r.RelationshipType]; ok {
				d.Labels[r.RelationshipType] = c.DisplayName
			}
		}
		out[code] = d
	}
	return out, nil
}
