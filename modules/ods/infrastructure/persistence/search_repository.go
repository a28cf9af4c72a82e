package persistence

import (
	"context"

	"github.com/pkg/errors"

	"github.com/iota-uz/ods/pkg/composables"
)

const searchDocumentsSelect = `SELECT
    code,
    to_tsvector('simple', concat_ws(' ', code, name, address1, address2, address3, town, county, postcode)),
    to_tsvector('simple', coalesce(name, '')),
    to_tsvector('simple', concat_ws(' ', address1, address2, address3, town, county, postcode))
FROM organisation`

const searchDocumentsUpsert = `
ON CONFLICT (code) DO UPDATE SET
    document = EXCLUDED.document,
    name_document = EXCLUDED.name_document,
    address_document = EXCLUDED.address_document`

const (
	rebuildSearchQuery = `INSERT INTO organisation_search (code, document, name_document, address_document)
` + searchDocumentsSelect + searchDocumentsUpsert

	pruneSearchQuery = `DELETE FROM organisation_search s
WHERE NOT EXISTS (SELECT 1 FROM organisation o WHERE o.code = s.code)`

	refreshSearchQuery = `INSERT INTO organisation_search (code, document, name_document, address_document)
` + searchDocumentsSelect + `
WHERE code = ANY($1)` + searchDocumentsUpsert
)

// RebuildSearchIndex regenerates the search documents of every organisation.
// Writes do not maintain them unless MaintainSearchIndex is set, so loads
// finish with this call.
func (r *OrgRepository) RebuildSearchIndex(ctx context.Context) (int64, error) {
	n, err := composables.InTxResult(ctx, r.db, func(txCtx context.Context) (int64, error) {
		tx := composables.UseTx(txCtx, r.db)
		if _, err := tx.Exec(txCtx, pruneSearchQuery); err != nil {
			return 0, err
		}
		tag, err := tx.Exec(txCtx, rebuildSearchQuery)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to rebuild search index")
	}
	r.log.WithField("rows", n).Info("search index rebuilt")
	return n, nil
}

// RefreshSearchIndex regenerates the search documents of the given codes.
func (r *OrgRepository) RefreshSearchIndex(ctx context.Context, codes []string) (int64, error) {
	codes = uniqueCodes(codes)
	if len(codes) == 0 {
		return 0, nil
	}
	tag, err := composables.UseTx(ctx, r.db).Exec(ctx, refreshSearchQuery, codes)
	if err != nil {
		return 0, errors.Wrap(err, "failed to refresh search index")
	}
	return tag.RowsAffected(), nil
}

// SearchQuery is a rendered search statement selecting organisation codes.
type SearchQuery struct {
	SQL  string
	Args []any
}

// SearchCodes runs q and returns the codes in the order the statement yields them.
func (r *OrgRepository) SearchCodes(ctx context.Context, q SearchQuery) ([]string, error) {
	rows, err := composables.UseTx(ctx, r.db).Query(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to run search")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, errors.Wrap(err, "failed to scan search result")
		}
		out = append(out, code)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate search results")
}
