//go:build integration

package services

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/ods/modules/ods/domain/organisation"
	"github.com/iota-uz/ods/modules/ods/infrastructure/persistence"
	"github.com/iota-uz/ods/modules/ods/infrastructure/postcode"
	"github.com/iota-uz/ods/pkg/testutil/containers"
)

func setupService(t *testing.T) (*pgxpool.Pool, *OrgService) {
	t.Helper()
	ctx := context.Background()

	pool := containers.NewPostgresContainer(t).Pool(t, nil)
	_, err := persistence.Migrate(ctx, pool, nil)
	require.NoError(t, err)

	pg := postcode.NewPGDirectory(pool)
	require.NoError(t, pg.Put(ctx, "CF14 4XW", organisation.Coordinates{Northing: 179500, Easting: 316800}))
	require.NoError(t, pg.Put(ctx, "CF10 1BH", organisation.Coordinates{Northing: 176200, Easting: 318400}))

	rc := containers.NewRedisContainer(t)
	dir := postcode.NewCachedDirectory(rc.Client, pg, "ods-test:", time.Minute, nil)

	repo := persistence.NewOrgRepository(pool, persistence.Options{Postcodes: dir})
	return pool, NewOrgService(repo, dir, nil)
}

func loadFixture(t *testing.T, svc *OrgService, opts ...PipelineOption) LoadResult {
	t.Helper()
	f, err := os.Open("../infrastructure/source/testdata/ods_fixture.xml")
	require.NoError(t, err)
	defer f.Close()

	res, err := svc.Load(context.Background(), f, opts...)
	require.NoError(t, err)
	return res
}

func TestOrgService_LoadIsIdempotent(t *testing.T) {
	pool, svc := setupService(t)
	ctx := context.Background()

	counts := func() map[string]int {
		out := map[string]int{}
		for _, table := range []string{"organisation", "role", "relationship", "succession", "code_system"} {
			var n int
			require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM "+table).Scan(&n))
			out[table] = n
		}
		return out
	}

	res := loadFixture(t, svc, WithBatchSize(2), WithRelease(organisation.Release{ID: "2024-05"}))
	require.EqualValues(t, 5, res.Written)
	first := counts()

	loadFixture(t, svc, WithBatchSize(3))
	require.Equal(t, first, counts())

	loaded, err := svc.ReleaseLoaded(ctx, "2024-05")
	require.NoError(t, err)
	require.True(t, loaded)
}

func TestOrgService_ScenarioEndToEnd(t *testing.T) {
	_, svc := setupService(t)
	ctx := context.Background()
	loadFixture(t, svc)

	n, err := svc.Reindex(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 5, n)

	active, err := svc.ActiveSuccessors(ctx, "RWMBV")
	require.NoError(t, err)
	require.Equal(t, []string{"7A4"}, active)

	batch, err := svc.ActiveSuccessorsBatch(ctx, []string{"RWMBV", "RWM", "7A4", "NOPE"})
	require.NoError(t, err)
	require.Equal(t, map[string][]string{
		"RWMBV": {"7A4"},
		"RWM":   {"7A4"},
		"7A4":   {"7A4"},
		"NOPE":  {},
	}, batch)

	equiv, err := svc.AllEquivalentOrgCodes(ctx, "7A4")
	require.NoError(t, err)
	require.Equal(t, []string{"7A4", "RWM", "RWMBV"}, equiv)

	children, err := svc.ChildOrgs(ctx, "7A4", organisation.ChildFilter{RoleTypes: []string{"RO76"}})
	require.NoError(t, err)
	require.Equal(t, []string{"W97001"}, children)

	res, err := svc.Search(ctx, SearchParams{NameText: "univ hosp", Shape: ShapeOrderedCodes})
	require.NoError(t, err)
	require.Equal(t, []string{"7A4BV", "RWMBV"}, res.Codes)

	res, err = svc.Search(ctx, SearchParams{Text: "castle gate", Shape: ShapeOrganisations})
	require.NoError(t, err)
	require.Len(t, res.Organisations, 1)
	require.Equal(t, "CASTLE GATE MEDICAL PRACTICE", res.Organisations[0].Name)

	res, err = svc.Search(ctx, SearchParams{ActiveOnly: true, PrimaryRoles: []string{"RO177"}})
	require.NoError(t, err)
	require.Equal(t, []string{"W97001"}, res.Codes)

	described, err := svc.Describe(ctx, []string{"W97001"})
	require.NoError(t, err)
	gp := described["W97001"]
	require.NotNil(t, gp)
	require.Equal(t, "RO177", gp.PrimaryRole)
	require.Equal(t, "PRESCRIBING COST CENTRE", gp.Labels["RO177"])
	require.Equal(t, "GP PRACTICE", gp.Labels["RO76"])
}

func TestOrgService_GeoSearchStaysWithinRange(t *testing.T) {
	_, svc := setupService(t)
	ctx := context.Background()
	loadFixture(t, svc)

	origin := organisation.Coordinates{Northing: 179500, Easting: 316800}
	for _, r := range []int{1, 1000, 5000} {
		res, err := svc.Search(ctx, SearchParams{
			Geo:   &GeoFilter{Origin: &origin, RangeMetres: r},
			Shape: ShapeOrganisations,
		})
		require.NoError(t, err)
		for _, o := range res.Organisations {
			c := o.Location.Coordinates
			require.NotNil(t, c)
			dn, de := int64(c.Northing-origin.Northing), int64(c.Easting-origin.Easting)
			require.LessOrEqual(t, dn*dn+de*de, int64(r)*int64(r), o.Code)
		}
	}

	res, err := svc.Search(ctx, SearchParams{Geo: &GeoFilter{Postcode: "cf14 4xw", RangeMetres: 100}, Shape: ShapeOrderedCodes})
	require.NoError(t, err)
	require.Equal(t, []string{"7A4BV", "RWM", "RWMBV"}, res.Codes)

	res, err = svc.Search(ctx, SearchParams{Geo: &GeoFilter{Postcode: "CF14 4XW", RangeMetres: 5000}, Shape: ShapeOrderedCodes})
	require.NoError(t, err)
	require.Equal(t, []string{"7A4BV", "RWM", "RWMBV", "W97001"}, res.Codes, "nearest first")

	res, err = svc.Search(ctx, SearchParams{Geo: &GeoFilter{Postcode: "ZZ99 9ZZ", RangeMetres: 5000}})
	require.NoError(t, err)
	require.Empty(t, res.Codes)
}
