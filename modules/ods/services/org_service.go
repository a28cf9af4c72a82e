package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/ods/modules/ods/domain/organisation"
	"github.com/iota-uz/ods/modules/ods/infrastructure/persistence"
	"github.com/iota-uz/ods/modules/ods/infrastructure/postcode"
)

// OrgStore is everything the service needs from the relational store.
// *persistence.OrgRepository implements it.
type OrgStore interface {
	BatchWriter
	MetadataWriter
	EdgeReader
	SearchStore
	Fetch(ctx context.Context, code string) (*organisation.Organisation, error)
	ReleaseLoaded(ctx context.Context, releaseID string) (bool, error)
	RebuildSearchIndex(ctx context.Context) (int64, error)
	RefreshSearchIndex(ctx context.Context, codes []string) (int64, error)
	Codes(ctx context.Context, codes []string) (map[string]organisation.Code, error)
}

var _ OrgStore = (*persistence.OrgRepository)(nil)

// OrgService is the entry point for loading, reading, traversing and
// searching organisations. The closure functions come from the embedded
// GraphService.
type OrgService struct {
	*GraphService
	store  OrgStore
	search *SearchService
	log    *logrus.Entry
}

func NewOrgService(store OrgStore, postcodes postcode.Directory, log *logrus.Entry) *OrgService {
	return &OrgService{
		GraphService: NewGraphService(store, log),
		store:        store,
		search:       NewSearchService(store, postcodes, log),
		log:          componentLogger(log, "ods.service"),
	}
}

// LoadBatch writes one batch in a single transaction. Integrity failures
// roll back the whole batch and are counted by kind.
func (s *OrgService) LoadBatch(ctx context.Context, orgs []organisation.Organisation) error {
	if len(orgs) == 0 {
		return nil
	}
	if err := s.store.WriteBatch(ctx, orgs); err != nil {
		if errors.Is(err, organisation.ErrIntegrity) {
			recordWriteConflict(persistence.IntegrityKind(err))
		}
		return fmt.Errorf("load batch of %d: %w", len(orgs), err)
	}
	return nil
}

// WriteBatch lets the service act as the pipeline's writer.
func (s *OrgService) WriteBatch(ctx context.Context, orgs []organisation.Organisation) error {
	return s.LoadBatch(ctx, orgs)
}

// Load runs a full import of r. Options override the pipeline defaults; the
// store always receives the manifest and code systems.
func (s *OrgService) Load(ctx context.Context, r io.Reader, opts ...PipelineOption) (LoadResult, error) {
	base := []PipelineOption{WithMetadata(s.store), WithPipelineLogger(s.log)}
	return NewPipeline(s, append(base, opts...)...).Load(ctx, r)
}

func (s *OrgService) ReleaseLoaded(ctx context.Context, releaseID string) (bool, error) {
	if releaseID == "" {
		return false, nil
	}
	return s.store.ReleaseLoaded(ctx, releaseID)
}

// Fetch returns nil without error when code is unknown.
func (s *OrgService) Fetch(ctx context.Context, code string) (*organisation.Organisation, error) {
	return s.store.Fetch(ctx, code)
}

// FetchMany loads every known code with a fixed number of queries.
func (s *OrgService) FetchMany(ctx context.Context, codes []string) (map[string]*organisation.Organisation, error) {
	return s.store.FetchMany(ctx, codes)
}

func (s *OrgService) Search(ctx context.Context, params SearchParams) (SearchResult, error) {
	return s.search.Search(ctx, params)
}

// Reindex rebuilds the full-text index for every organisation.
func (s *OrgService) Reindex(ctx context.Context) (int64, error) {
	return s.store.RebuildSearchIndex(ctx)
}

// ReindexCodes refreshes the full-text index for the given codes only.
func (s *OrgService) ReindexCodes(ctx context.Context, codes []string) (int64, error) {
	return s.store.RefreshSearchIndex(ctx, codes)
}
