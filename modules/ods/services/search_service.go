package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/ods/modules/ods/domain/organisation"
	"github.com/iota-uz/ods/modules/ods/infrastructure/persistence"
	"github.com/iota-uz/ods/modules/ods/infrastructure/postcode"
)

type SearchStore interface {
	SearchCodes(ctx context.Context, q persistence.SearchQuery) ([]string, error)
	FetchMany(ctx context.Context, codes []string) (map[string]*organisation.Organisation, error)
}

// SearchResult holds codes for the code shapes and organisations for the
// others, in query order except for ShapeCodes which is sorted.
type SearchResult struct {
	Shape         ResultShape
	Codes         []string
	Organisations []*organisation.Organisation
}

type SearchService struct {
	store     SearchStore
	postcodes postcode.Directory
	log       *logrus.Entry
}

// NewSearchService wires a search service. postcodes may be nil, in which
// case geo filters must carry coordinates.
func NewSearchService(store SearchStore, postcodes postcode.Directory, log *logrus.Entry) *SearchService {
	return &SearchService{store: store, postcodes: postcodes, log: componentLogger(log, "ods.search")}
}

func (s *SearchService) Search(ctx context.Context, params SearchParams) (res SearchResult, err error) {
	if err := params.Validate(); err != nil {
		recordSearch(params.Shape, err)
		return SearchResult{}, err
	}
	defer func() { recordSearch(params.Shape, err) }()

	res = SearchResult{Shape: params.Shape, Codes: []string{}}

	if g := params.Geo; g != nil && g.Origin == nil {
		origin, err := s.resolveOrigin(ctx, g.Postcode)
		if err != nil {
			return SearchResult{}, err
		}
		if origin == nil {
			loggerFor(ctx, s.log).WithField("postcode", g.Postcode).Debug("geo origin postcode unknown")
			return res, nil
		}
		geo := *g
		geo.Origin = origin
		params.Geo = &geo
	}

	q, err := BuildSearchQuery(params)
	if err != nil {
		return SearchResult{}, err
	}
	loggerFor(ctx, s.log).WithFields(logrus.Fields{
		"predicates": predicateNames(params),
		"origin":     formatOrigin(originOf(params)),
		"limit":      params.Limit,
	}).Debug("search")

	codes, err := s.store.SearchCodes(ctx, q)
	if err != nil {
		return SearchResult{}, fmt.Errorf("search: %w", err)
	}

	switch params.Shape {
	case ShapeCodes:
		set := make(map[string]struct{}, len(codes))
		for _, c := range codes {
			set[c] = struct{}{}
		}
		res.Codes = sortedSet(set)
	case ShapeOrderedCodes:
		res.Codes = append(res.Codes, codes...)
	case ShapeOrganisations, ShapeExtended:
		orgs, err := s.store.FetchMany(ctx, codes)
		if err != nil {
			return SearchResult{}, fmt.Errorf("search: load results: %w", err)
		}
		res.Codes = append(res.Codes, codes...)
		res.Organisations = make([]*organisation.Organisation, 0, len(codes))
		for _, c := range codes {
			o, ok := orgs[c]
			if !ok {
				continue
			}
			if params.Shape == ShapeOrganisations {
				o = summary(o)
			}
			res.Organisations = append(res.Organisations, o)
		}
	}
	return res, nil
}

func (s *SearchService) resolveOrigin(ctx context.Context, pc string) (*organisation.Coordinates, error) {
	if s.postcodes == nil {
		return nil, invalidParameter("geo postcode %q given but no postcode directory is configured", pc)
	}
	c, err := s.postcodes.Coordinates(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("search: resolve postcode: %w", err)
	}
	return c, nil
}

// summary drops the graph parts the extended shape adds.
func summary(o *organisation.Organisation) *organisation.Organisation {
	cp := *o
	cp.Relationships = nil
	cp.Predecessors = nil
	cp.Successors = nil
	return &cp
}

func originOf(p SearchParams) *organisation.Coordinates {
	if p.Geo == nil {
		return nil
	}
	return p.Geo.Origin
}
