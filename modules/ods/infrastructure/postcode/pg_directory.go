package postcode

import (
	"context"

	"github.com/pkg/errors"

	"github.com/iota-uz/ods/modules/ods/domain/organisation"
	"github.com/iota-uz/ods/pkg/composables"
	"github.com/iota-uz/ods/pkg/repo"
)

const (
	selectPostcodesQuery = `SELECT pcd_key, northing, easting FROM postcode WHERE pcd_key = ANY($1) AND northing IS NOT NULL AND easting IS NOT NULL`

	upsertPostcodeQuery = `INSERT INTO postcode (pcd_key, postcode, northing, easting)
VALUES ($1, $2, $3, $4)
ON CONFLICT (pcd_key) DO UPDATE SET postcode = EXCLUDED.postcode, northing = EXCLUDED.northing, easting = EXCLUDED.easting`
)

// PGDirectory reads the postcode table maintained by the directory service.
type PGDirectory struct {
	db repo.Tx
}

func NewPGDirectory(db repo.Tx) *PGDirectory {
	return &PGDirectory{db: db}
}

func (d *PGDirectory) Coordinates(ctx context.Context, postcode string) (*organisation.Coordinates, error) {
	found, err := d.Lookup(ctx, []string{postcode})
	if err != nil {
		return nil, err
	}
	c, ok := found[Normalize(postcode)]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (d *PGDirectory) Lookup(ctx context.Context, postcodes []string) (map[string]organisation.Coordinates, error) {
	keys := normalizeAll(postcodes)
	out := make(map[string]organisation.Coordinates, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	rows, err := composables.UseTx(ctx, d.db).Query(ctx, selectPostcodesQuery, keys)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query postcodes")
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var c organisation.Coordinates
		if err := rows.Scan(&key, &c.Northing, &c.Easting); err != nil {
			return nil, errors.Wrap(err, "failed to scan postcode")
		}
		out[key] = c
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate postcodes")
	}
	return out, nil
}

// Put stores one postcode. Bulk loading belongs to the directory service; this
// exists for seeding and tests.
func (d *PGDirectory) Put(ctx context.Context, postcode string, c organisation.Coordinates) error {
	_, err := composables.UseTx(ctx, d.db).Exec(ctx, upsertPostcodeQuery, Normalize(postcode), postcode, c.Northing, c.Easting)
	return errors.Wrap(err, "failed to upsert postcode")
}
