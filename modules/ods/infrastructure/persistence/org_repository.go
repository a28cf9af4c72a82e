package persistence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/ods/modules/ods/domain/organisation"
	"github.com/iota-uz/ods/modules/ods/infrastructure/postcode"
	"github.com/iota-uz/ods/pkg/composables"
	"github.com/iota-uz/ods/pkg/repo"
)

const (
	upsertOrganisationQuery = `INSERT INTO organisation (
    code, root, assigning_authority, name, record_class, active,
    operational_start, operational_end, last_change_date,
    address1, address2, address3, town, county, postcode, country, uprn,
    northing, easting, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, now())
ON CONFLICT (code) DO UPDATE SET
    root = EXCLUDED.root,
    assigning_authority = EXCLUDED.assigning_authority,
    name = EXCLUDED.name,
    record_class = EXCLUDED.record_class,
    active = EXCLUDED.active,
    operational_start = EXCLUDED.operational_start,
    operational_end = EXCLUDED.operational_end,
    last_change_date = EXCLUDED.last_change_date,
    address1 = EXCLUDED.address1,
    address2 = EXCLUDED.address2,
    address3 = EXCLUDED.address3,
    town = EXCLUDED.town,
    county = EXCLUDED.county,
    postcode = EXCLUDED.postcode,
    country = EXCLUDED.country,
    uprn = EXCLUDED.uprn,
    northing = EXCLUDED.northing,
    easting = EXCLUDED.easting,
    updated_at = now()`

	upsertSuccessionQuery = `INSERT INTO succession (predecessor_code, successor_code, carried_primary_role, succession_type, start_date)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (predecessor_code, successor_code) DO UPDATE SET
    carried_primary_role = EXCLUDED.carried_primary_role,
    succession_type = EXCLUDED.succession_type,
    start_date = EXCLUDED.start_date`

	upsertRelationshipQuery = `INSERT INTO relationship (source_code, relationship_type, target_code, active, start_date, end_date)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (source_code, relationship_type, target_code) DO UPDATE SET
    active = EXCLUDED.active,
    start_date = EXCLUDED.start_date,
    end_date = EXCLUDED.end_date`

	upsertRoleQuery = `INSERT INTO role (id, org_code, role_type, is_primary, active, start_date, end_date)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
    org_code = EXCLUDED.org_code,
    role_type = EXCLUDED.role_type,
    is_primary = EXCLUDED.is_primary,
    active = EXCLUDED.active,
    start_date = EXCLUDED.start_date,
    end_date = EXCLUDED.end_date`

	upsertCodeQuery = `INSERT INTO code_system (code_system_id, code, display_name, code_system_name)
VALUES ($1, $2, $3, $4)
ON CONFLICT (code_system_id, code) DO UPDATE SET
    display_name = EXCLUDED.display_name,
    code_system_name = EXCLUDED.code_system_name`

	upsertManifestQuery = `INSERT INTO manifest (content_description, version, publication_type, publication_date, record_count, file_name)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (content_description) DO UPDATE SET
    version = EXCLUDED.version,
    publication_type = EXCLUDED.publication_type,
    publication_date = EXCLUDED.publication_date,
    record_count = EXCLUDED.record_count,
    file_name = EXCLUDED.file_name,
    loaded_at = now()`

	upsertReleaseQuery = `INSERT INTO release (release_id, release_date)
VALUES ($1, $2)
ON CONFLICT (release_id) DO UPDATE SET release_date = EXCLUDED.release_date, loaded_at = now()`

	releaseExistsQuery = `SELECT EXISTS (SELECT 1 FROM release WHERE release_id = $1)`
)

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	repo.Tx
	composables.Beginner
}

type Options struct {
	// Postcodes fills in grid coordinates for records that lack them.
	Postcodes postcode.Directory
	// MaintainSearchIndex refreshes search rows for each batch inside its
	// write transaction. Without it the index is rebuilt explicitly.
	MaintainSearchIndex bool
	Logger              *logrus.Entry
}

type OrgRepository struct {
	db                  DB
	postcodes           postcode.Directory
	maintainSearchIndex bool
	log                 *logrus.Entry
}

func NewOrgRepository(db DB, opts Options) *OrgRepository {
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &OrgRepository{
		db:                  db,
		postcodes:           opts.Postcodes,
		maintainSearchIndex: opts.MaintainSearchIndex,
		log:                 log.WithField("component", "ods.repository"),
	}
}

// ValidateBatch checks every record before anything is written.
func ValidateBatch(orgs []organisation.Organisation) error {
	for _, o := range orgs {
		if o.Code == "" {
			return fmt.Errorf("%w: organisation without code", organisation.ErrIntegrity)
		}
		if o.Root != organisation.Namespace {
			return fmt.Errorf("%w: %w: organisation %q has root %q", organisation.ErrIntegrity, organisation.ErrNamespaceMismatch, o.Code, o.Root)
		}
		if !o.RecordClass.Valid() {
			return fmt.Errorf("%w: organisation %q has record class %q", organisation.ErrIntegrity, o.Code, o.RecordClass)
		}
	}
	return nil
}

// WriteBatch upserts the organisations of one batch together with their
// successions, relationships and roles in a single transaction. Any failure
// rolls the whole batch back.
func (r *OrgRepository) WriteBatch(ctx context.Context, orgs []organisation.Organisation) error {
	if len(orgs) == 0 {
		return nil
	}
	if err := ValidateBatch(orgs); err != nil {
		return err
	}

	rows := dedupeOrganisations(orgs)
	if err := r.resolveCoordinates(ctx, rows); err != nil {
		return err
	}

	b := &pgx.Batch{}
	codes := make([]string, 0, len(rows))
	for _, o := range rows {
		queueOrganisation(b, o)
		codes = append(codes, o.Code)
	}
	for _, s := range collectSuccessions(rows) {
		b.Queue(upsertSuccessionQuery, s.PredecessorCode, s.SuccessorCode, nullString(s.CarriedPrimaryRole), nullString(s.SuccessionType), s.StartDate)
	}
	for _, rel := range collectRelationships(rows) {
		b.Queue(upsertRelationshipQuery, rel.SourceCode, rel.RelationshipType, rel.TargetCode, rel.Active, rel.StartDate, rel.EndDate)
	}
	for _, role := range collectRoles(rows) {
		b.Queue(upsertRoleQuery, role.ID, role.OrgCode, role.RoleType, role.IsPrimary, role.Active, role.StartDate, role.EndDate)
	}
	if r.maintainSearchIndex {
		b.Queue(refreshSearchQuery, codes)
	}

	return composables.InTx(ctx, r.db, func(txCtx context.Context) error {
		tx := composables.UseTx(txCtx, r.db)
		return mapWriteError(execBatch(txCtx, tx, b))
	})
}

func execBatch(ctx context.Context, tx repo.Tx, b *pgx.Batch) error {
	br := tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	return br.Close()
}

func queueOrganisation(b *pgx.Batch, o organisation.Organisation) {
	var northing, easting *int
	if c := o.Location.Coordinates; c != nil {
		northing, easting = &c.Northing, &c.Easting
	}
	l := o.Location
	b.Queue(upsertOrganisationQuery,
		o.Code, o.Root, nullString(o.AssigningAuthority), o.Name, string(o.RecordClass), o.Active,
		o.OperationalStart, o.OperationalEnd, o.LastChangeDate,
		nullString(l.Address1), nullString(l.Address2), nullString(l.Address3),
		nullString(l.Town), nullString(l.County), nullString(l.Postcode), nullString(l.Country), nullString(l.UPRN),
		northing, easting,
	)
}

func (r *OrgRepository) resolveCoordinates(ctx context.Context, rows []organisation.Organisation) error {
	if r.postcodes == nil {
		return nil
	}
	var pending []string
	for _, o := range rows {
		if o.Location.Coordinates == nil && o.Location.Postcode != "" {
			pending = append(pending, o.Location.Postcode)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	found, err := r.postcodes.Lookup(ctx, pending)
	if err != nil {
		return errors.Wrap(err, "failed to resolve postcodes")
	}
	for i := range rows {
		loc := &rows[i].Location
		if loc.Coordinates != nil || loc.Postcode == "" {
			continue
		}
		if c, ok := found[postcode.Normalize(loc.Postcode)]; ok {
			loc.Coordinates = &c
		}
	}
	return nil
}

// dedupeOrganisations keeps the last record per code, in first-seen order.
func dedupeOrganisations(orgs []organisation.Organisation) []organisation.Organisation {
	index := make(map[string]int, len(orgs))
	out := make([]organisation.Organisation, 0, len(orgs))
	for _, o := range orgs {
		if i, ok := index[o.Code]; ok {
			out[i] = o
			continue
		}
		index[o.Code] = len(out)
		out = append(out, o)
	}
	return out
}

type successionKey struct{ pred, succ string }

// collectSuccessions merges both views of each edge: a predecessor listing
// and a successor listing describe the same row.
func collectSuccessions(orgs []organisation.Organisation) []organisation.Succession {
	seen := map[successionKey]int{}
	var out []organisation.Succession
	add := func(s organisation.Succession) {
		k := successionKey{s.PredecessorCode, s.SuccessorCode}
		if i, ok := seen[k]; ok {
			out[i] = s
			return
		}
		seen[k] = len(out)
		out = append(out, s)
	}
	for _, o := range orgs {
		for _, s := range o.Predecessors {
			add(s)
		}
		for _, s := range o.Successors {
			add(s)
		}
	}
	return out
}

type relationshipKey struct{ source, relType, target string }

func collectRelationships(orgs []organisation.Organisation) []organisation.Relationship {
	seen := map[relationshipKey]int{}
	var out []organisation.Relationship
	for _, o := range orgs {
		for _, rel := range o.Relationships {
			k := relationshipKey{rel.SourceCode, rel.RelationshipType, rel.TargetCode}
			if i, ok := seen[k]; ok {
				out[i] = rel
				continue
			}
			seen[k] = len(out)
			out = append(out, rel)
		}
	}
	return out
}

func collectRoles(orgs []organisation.Organisation) []organisation.Role {
	seen := map[int64]int{}
	var out []organisation.Role
	for _, o := range orgs {
		for _, role := range o.Roles {
			if i, ok := seen[role.ID]; ok {
				out[i] = role
				continue
			}
			seen[role.ID] = len(out)
			out = append(out, role)
		}
	}
	return out
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *OrgRepository) UpsertCodeSystems(ctx context.Context, codes []organisation.Code) error {
	if len(codes) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, c := range codes {
		b.Queue(upsertCodeQuery, c.CodeSystemID, c.Code, c.DisplayName, nullString(c.CodeSystemName))
	}
	return composables.InTx(ctx, r.db, func(txCtx context.Context) error {
		return errors.Wrap(execBatch(txCtx, composables.UseTx(txCtx, r.db), b), "failed to upsert code systems")
	})
}

func (r *OrgRepository) UpsertManifest(ctx context.Context, m organisation.Manifest) error {
	_, err := composables.UseTx(ctx, r.db).Exec(ctx, upsertManifestQuery,
		m.ContentDescription, m.Version, nullString(m.PublicationType), m.PublicationDate, m.RecordCount, nullString(m.FileName),
	)
	return errors.Wrap(err, "failed to upsert manifest")
}

func (r *OrgRepository) UpsertRelease(ctx context.Context, rel organisation.Release) error {
	if rel.ID == "" {
		return nil
	}
	_, err := composables.UseTx(ctx, r.db).Exec(ctx, upsertReleaseQuery, rel.ID, rel.Date)
	return errors.Wrap(err, "failed to upsert release")
}

// ReleaseLoaded reports whether a release id has already been recorded.
func (r *OrgRepository) ReleaseLoaded(ctx context.Context, releaseID string) (bool, error) {
	var exists bool
	if err := composables.UseTx(ctx, r.db).QueryRow(ctx, releaseExistsQuery, releaseID).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "failed to check release")
	}
	return exists, nil
}

// Codes resolves role and relationship type codes to their display names.
func (r *OrgRepository) Codes(ctx context.Context, codes []string) (map[string]organisation.Code, error) {
	out := make(map[string]organisation.Code, len(codes))
	if len(codes) == 0 {
		return out, nil
	}
	rows, err := composables.UseTx(ctx, r.db).Query(ctx,
		`SELECT code_system_id, coalesce(code_system_name, ''), code, display_name FROM code_system WHERE code = ANY($1)`, codes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query codes")
	}
	defer rows.Close()
	for rows.Next() {
		var c organisation.Code
		if err := rows.Scan(&c.CodeSystemID, &c.CodeSystemName, &c.Code, &c.DisplayName); err != nil {
			return nil, errors.Wrap(err, "failed to scan code")
		}
		out[c.Code] = c
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate codes")
}
