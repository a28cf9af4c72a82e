package persistence

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/iota-uz/ods/modules/ods/domain/organisation"
	"github.com/iota-uz/ods/pkg/composables"
	"github.com/iota-uz/ods/pkg/repo"
)

const (
	selectOrganisationsQuery = `SELECT
    code, root, coalesce(assigning_authority, ''), name, record_class, active,
    operational_start, operational_end, last_change_date,
    coalesce(address1, ''), coalesce(address2, ''), coalesce(address3, ''),
    coalesce(town, ''), coalesce(county, ''), coalesce(postcode, ''), coalesce(country, ''), coalesce(uprn, ''),
    northing, easting
FROM organisation
WHERE code = ANY($1)`

	selectRolesQuery = `SELECT id, org_code, role_type, is_primary, active, start_date, end_date
FROM role
WHERE org_code = ANY($1)
ORDER BY org_code, is_primary DESC, id`

	selectRelationshipsQuery = `SELECT source_code, relationship_type, target_code, active, start_date, end_date
FROM relationship
WHERE source_code = ANY($1)
ORDER BY source_code, relationship_type, target_code`

	selectSuccessionsQuery = `SELECT predecessor_code, successor_code, coalesce(carried_primary_role, ''), coalesce(succession_type, ''), start_date
FROM succession
WHERE predecessor_code = ANY($1) OR successor_code = ANY($1)
ORDER BY predecessor_code, successor_code`

	selectSuccessorEdgesQuery = `SELECT predecessor_code, successor_code FROM succession
WHERE predecessor_code = ANY($1)
ORDER BY predecessor_code, successor_code`

	selectPredecessorEdgesQuery = `SELECT successor_code, predecessor_code FROM succession
WHERE successor_code = ANY($1)
ORDER BY successor_code, predecessor_code`

	selectActiveQuery = `SELECT code, active FROM organisation WHERE code = ANY($1)`
)

// Fetch returns the organisation with its roles, relationships and succession
// edges. An unknown code yields nil without error.
func (r *OrgRepository) Fetch(ctx context.Context, code string) (*organisation.Organisation, error) {
	found, err := r.FetchMany(ctx, []string{code})
	if err != nil {
		return nil, err
	}
	return found[code], nil
}

// FetchMany is the batch form of Fetch. It runs at most four queries no matter
// how many codes are requested; unknown codes are absent from the result.
func (r *OrgRepository) FetchMany(ctx context.Context, codes []string) (map[string]*organisation.Organisation, error) {
	out := map[string]*organisation.Organisation{}
	codes = uniqueCodes(codes)
	if len(codes) == 0 {
		return out, nil
	}
	tx := composables.UseTx(ctx, r.db)

	if err := r.loadOrganisations(ctx, tx, codes, out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	found := make([]string, 0, len(out))
	for code := range out {
		found = append(found, code)
	}
	sort.Strings(found)

	if err := r.loadRoles(ctx, tx, found, out); err != nil {
		return nil, err
	}
	if err := r.loadRelationships(ctx, tx, found, out); err != nil {
		return nil, err
	}
	if err := r.loadSuccessions(ctx, tx, found, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *OrgRepository) loadOrganisations(ctx context.Context, tx repo.Tx, codes []string, out map[string]*organisation.Organisation) error {
	rows, err := tx.Query(ctx, selectOrganisationsQuery, codes)
	if err != nil {
		return errors.Wrap(err, "failed to query organisations")
	}
	defer rows.Close()

	for rows.Next() {
		o := &organisation.Organisation{}
		var recordClass string
		var northing, easting *int
		l := &o.Location
		if err := rows.Scan(
			&o.Code, &o.Root, &o.AssigningAuthority, &o.Name, &recordClass, &o.Active,
			&o.OperationalStart, &o.OperationalEnd, &o.LastChangeDate,
			&l.Address1, &l.Address2, &l.Address3,
			&l.Town, &l.County, &l.Postcode, &l.Country, &l.UPRN,
			&northing, &easting,
		); err != nil {
			return errors.Wrap(err, "failed to scan organisation")
		}
		o.RecordClass = organisation.RecordClass(recordClass)
		if northing != nil && easting != nil {
			l.Coordinates = &organisation.Coordinates{Northing: *northing, Easting: *easting}
		}
		out[o.Code] = o
	}
	return errors.Wrap(rows.Err(), "failed to iterate organisations")
}

func (r *OrgRepository) loadRoles(ctx context.Context, tx repo.Tx, codes []string, out map[string]*organisation.Organisation) error {
	rows, err := tx.Query(ctx, selectRolesQuery, codes)
	if err != nil {
		return errors.Wrap(err, "failed to query roles")
	}
	defer rows.Close()

	for rows.Next() {
		var role organisation.Role
		if err := rows.Scan(&role.ID, &role.OrgCode, &role.RoleType, &role.IsPrimary, &role.Active, &role.StartDate, &role.EndDate); err != nil {
			return errors.Wrap(err, "failed to scan role")
		}
		if o := out[role.OrgCode]; o != nil {
			o.Roles = append(o.Roles, role)
		}
	}
	return errors.Wrap(rows.Err(), "failed to iterate roles")
}

func (r *OrgRepository) loadRelationships(ctx context.Context, tx repo.Tx, codes []string, out map[string]*organisation.Organisation) error {
	rows, err := tx.Query(ctx, selectRelationshipsQuery, codes)
	if err != nil {
		return errors.Wrap(err, "failed to query relationships")
	}
	defer rows.Close()

	for rows.Next() {
		var rel organisation.Relationship
		if err := rows.Scan(&rel.SourceCode, &rel.RelationshipType, &rel.TargetCode, &rel.Active, &rel.StartDate, &rel.EndDate); err != nil {
			return errors.Wrap(err, "failed to scan relationship")
		}
		if o := out[rel.SourceCode]; o != nil {
			o.Relationships = append(o.Relationships, rel)
		}
	}
	return errors.Wrap(rows.Err(), "failed to iterate relationships")
}

func (r *OrgRepository) loadSuccessions(ctx context.Context, tx repo.Tx, codes []string, out map[string]*organisation.Organisation) error {
	rows, err := tx.Query(ctx, selectSuccessionsQuery, codes)
	if err != nil {
		return errors.Wrap(err, "failed to query successions")
	}
	defer rows.Close()

	for rows.Next() {
		var s organisation.Succession
		if err := rows.Scan(&s.PredecessorCode, &s.SuccessorCode, &s.CarriedPrimaryRole, &s.SuccessionType, &s.StartDate); err != nil {
			return errors.Wrap(err, "failed to scan succession")
		}
		if o := out[s.PredecessorCode]; o != nil {
			o.Successors = append(o.Successors, s)
		}
		if o := out[s.SuccessorCode]; o != nil {
			o.Predecessors = append(o.Predecessors, s)
		}
	}
	return errors.Wrap(rows.Err(), "failed to iterate successions")
}

// SuccessorsOf returns the direct successors of each code that has any.
func (r *OrgRepository) SuccessorsOf(ctx context.Context, codes []string) (map[string][]string, error) {
	codes = uniqueCodes(codes)
	if len(codes) == 0 {
		return map[string][]string{}, nil
	}
	return r.adjacency(ctx, selectSuccessorEdgesQuery, "successors", codes)
}

// PredecessorsOf returns the direct predecessors of each code that has any.
func (r *OrgRepository) PredecessorsOf(ctx context.Context, codes []string) (map[string][]string, error) {
	codes = uniqueCodes(codes)
	if len(codes) == 0 {
		return map[string][]string{}, nil
	}
	return r.adjacency(ctx, selectPredecessorEdgesQuery, "predecessors", codes)
}

// ChildrenOf returns, per parent, the sources of relationships targeting it.
// An empty relTypes matches every relationship type.
func (r *OrgRepository) ChildrenOf(ctx context.Context, parents []string, relTypes []string) (map[string][]string, error) {
	parents = uniqueCodes(parents)
	if len(parents) == 0 {
		return map[string][]string{}, nil
	}
	args := &repo.Args{}
	where := []string{"target_code = ANY(" + args.Add(parents) + ")"}
	if len(relTypes) > 0 {
		where = append(where, "relationship_type = ANY("+args.Add(relTypes)+")")
	}
	sql := repo.Join(
		"SELECT DISTINCT target_code, source_code FROM relationship",
		repo.JoinWhere(where...),
		"ORDER BY target_code, source_code",
	)
	return r.adjacency(ctx, sql, "children", args.Values()...)
}

func (r *OrgRepository) adjacency(ctx context.Context, sql string, what string, args ...any) (map[string][]string, error) {
	out := map[string][]string{}
	rows, err := composables.UseTx(ctx, r.db).Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query %s", what)
	}
	defer rows.Close()

	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, errors.Wrapf(err, "failed to scan %s", what)
		}
		out[from] = append(out[from], to)
	}
	return out, errors.Wrapf(rows.Err(), "failed to iterate %s", what)
}

// ActiveStatus reports the active flag of each known code; unknown codes are absent.
func (r *OrgRepository) ActiveStatus(ctx context.Context, codes []string) (map[string]bool, error) {
	out := map[string]bool{}
	codes = uniqueCodes(codes)
	if len(codes) == 0 {
		return out, nil
	}

	rows, err := composables.UseTx(ctx, r.db).Query(ctx, selectActiveQuery, codes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query active status")
	}
	defer rows.Close()

	for rows.Next() {
		var code string
		var active bool
		if err := rows.Scan(&code, &active); err != nil {
			return nil, errors.Wrap(err, "failed to scan active status")
		}
		out[code] = active
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate active status")
}

// FilterChildren keeps the codes that satisfy the active and role filters.
// Relationship types are applied by ChildrenOf, not here.
func (r *OrgRepository) FilterChildren(ctx context.Context, codes []string, filter organisation.ChildFilter) ([]string, error) {
	codes = uniqueCodes(codes)
	if len(codes) == 0 {
		return nil, nil
	}

	args := &repo.Args{}
	where := []string{"o.code = ANY(" + args.Add(codes) + ")"}
	if filter.Active != nil {
		where = append(where, "o.active = "+args.Add(*filter.Active))
	}
	if len(filter.RoleTypes) > 0 {
		where = append(where, "EXISTS (SELECT 1 FROM role r WHERE r.org_code = o.code AND r.active AND r.role_type = ANY("+args.Add(filter.RoleTypes)+"))")
	}
	sql := repo.Join("SELECT o.code FROM organisation o", repo.JoinWhere(where...), "ORDER BY o.code")

	rows, err := composables.UseTx(ctx, r.db).Query(ctx, sql, args.Values()...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to filter children")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, errors.Wrap(err, "failed to scan child")
		}
		out = append(out, code)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate children")
}

func uniqueCodes(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
