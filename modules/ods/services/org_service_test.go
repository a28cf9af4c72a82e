package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/ods/modules/ods/domain/organisation"
	"github.com/iota-uz/ods/modules/ods/infrastructure/source"
)

// stubStore implements the write side only; any other call panics on the
// nil embedded interface.
type stubStore struct {
	OrgStore
	writeErr error
	writes   [][]organisation.Organisation
	meta     recordingMetadata
}

func (s *stubStore) WriteBatch(_ context.Context, orgs []organisation.Organisation) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes = append(s.writes, orgs)
	return nil
}

func (s *stubStore) UpsertCodeSystems(ctx context.Context, codes []organisation.Code) error {
	return s.meta.UpsertCodeSystems(ctx, codes)
}

func (s *stubStore) UpsertManifest(ctx context.Context, m organisation.Manifest) error {
	return s.meta.UpsertManifest(ctx, m)
}

func (s *stubStore) UpsertRelease(ctx context.Context, rel organisation.Release) error {
	return s.meta.UpsertRelease(ctx, rel)
}

// describeStore answers reads from fixed maps.
type describeStore struct {
	OrgStore
	orgs       map[string]*organisation.Organisation
	codes      map[string]organisation.Code
	codeLookup [][]string
}

func (s *describeStore) FetchMany(_ context.Context, codes []string) (map[string]*organisation.Organisation, error) {
	out := map[string]*organisation.Organisation{}
	for _, c := range codes {
		if o, ok := s.orgs[c]; ok {
			out[c] = o
		}
	}
	return out, nil
}

func (s *describeStore) Codes(_ context.Context, codes []string) (map[string]organisation.Code, error) {
	s.codeLookup = append(s.codeLookup, codes)
	out := map[string]organisation.Code{}
	for _, c := range codes {
		if v, ok := s.codes[c]; ok {
			out[c] = v
		}
	}
	return out, nil
}

func TestDescribe_ResolvesTypeCodesInOneLookup(t *testing.T) {
	store := &describeStore{
		orgs: map[string]*organisation.Organisation{
			"W97001": {
				Code: "W97001",
				Roles: []organisation.Role{
					{RoleType: "RO177", IsPrimary: true, Active: true},
					{RoleType: "RO76", Active: true},
					{RoleType: "RO80", Active: false},
				},
				Relationships: []organisation.Relationship{{SourceCode: "W97001", RelationshipType: "RE4", TargetCode: "7A4"}},
				Predecessors:  []organisation.Succession{{PredecessorCode: "W00009", SuccessorCode: "W97001"}},
			},
			"7A4": {Code: "7A4", Roles: []organisation.Role{{RoleType: "RO76", Active: true}}},
		},
		codes: map[string]organisation.Code{
			"RO177": {Code: "RO177", DisplayName: "PRESCRIBING COST CENTRE"},
			"RO76":  {Code: "RO76", DisplayName: "GP PRACTICE"},
			"RE4":   {Code: "RE4", DisplayName: "IS COMMISSIONED BY"},
		},
	}
	svc := NewOrgService(store, nil, nil)

	got, err := svc.Describe(context.Background(), []string{"W97001", "7A4", "NOPE"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Len(t, store.codeLookup, 1)
	require.Equal(t, []string{"RE4", "RO177", "RO76", "RO80"}, store.codeLookup[0])

	d := got["W97001"]
	require.Equal(t, "RO177", d.PrimaryRole)
	require.Equal(t, []string{"RO177", "RO76"}, d.ActiveRoleTypes)
	require.Equal(t, []string{"W00009"}, d.PredecessorCodes)
	require.Empty(t, d.SuccessorCodes)
	require.Equal(t, map[string]string{
		"RO177": "PRESCRIBING COST CENTRE",
		"RO76":  "GP PRACTICE",
		"RE4":   "IS COMMISSIONED BY",
	}, d.Labels, "unknown codes stay unlabelled")

	names, err := svc.ResolveCodes(context.Background(), []string{"RE4", "RE4", ""})
	require.NoError(t, err)
	require.Equal(t, "IS COMMISSIONED BY", names["RE4"].DisplayName)
	require.Equal(t, []string{"RE4"}, store.codeLookup[1])
}

func TestLoadBatch_EmptyBatchIsANoop(t *testing.T) {
	store := &stubStore{writeErr: fmt.Errorf("must not be called")}
	svc := NewOrgService(store, nil, nil)
	require.NoError(t, svc.LoadBatch(context.Background(), nil))
}

func TestLoadBatch_CountsNamespaceConflicts(t *testing.T) {
	store := &stubStore{writeErr: fmt.Errorf("%w: %w: root X", organisation.ErrIntegrity, organisation.ErrNamespaceMismatch)}
	svc := NewOrgService(store, nil, nil)

	before := testutil.ToFloat64(writeConflicts.WithLabelValues("namespace"))
	err := svc.LoadBatch(context.Background(), []organisation.Organisation{{Code: "A"}})

	require.ErrorIs(t, err, organisation.ErrIntegrity)
	require.Equal(t, CodeNamespaceMismatch, ErrorCode(err))
	require.Equal(t, before+1, testutil.ToFloat64(writeConflicts.WithLabelValues("namespace")))
}

func TestOrgService_LoadRecordsMetadataAndRelease(t *testing.T) {
	store := &stubStore{}
	svc := NewOrgService(store, nil, nil)

	res, err := svc.Load(context.Background(),
		strings.NewReader(syntheticDocument(source.SupportedVersion, 7, 0)),
		WithBatchSize(3), WithRelease(organisation.Release{ID: "r1"}))
	require.NoError(t, err)
	require.EqualValues(t, 7, res.Written)
	require.Len(t, store.writes, 3)
	require.Equal(t, "Synthetic", store.meta.manifest.ContentDescription)
	require.Equal(t, "r1", store.meta.release.ID)
}

func TestOrgService_ExposesClosures(t *testing.T) {
	svc := &OrgService{GraphService: NewGraphService(scenarioEdges(), nil)}
	got, err := svc.AllEquivalentOrgCodes(context.Background(), "RWM")
	require.NoError(t, err)
	require.Equal(t, []string{"7A4", "RWM", "RWMBV"}, got)
}
