package services

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/iota-uz/ods/modules/ods/domain/organisation"
	"github.com/iota-uz/ods/modules/ods/infrastructure/persistence"
	"github.com/iota-uz/ods/pkg/repo"
)

// MaxSearchLimit caps a single search; a zero Limit means this many.
const MaxSearchLimit = 1000

type ResultShape string

const (
	ShapeCodes         ResultShape = "codes"
	ShapeOrderedCodes  ResultShape = "ordered-codes"
	ShapeOrganisations ResultShape = "organisations"
	ShapeExtended      ResultShape = "extended"
)

func ParseResultShape(v string) (ResultShape, error) {
	switch s := ResultShape(strings.TrimSpace(v)); s {
	case "":
		return ShapeCodes, nil
	case ShapeCodes, ShapeOrderedCodes, ShapeOrganisations, ShapeExtended:
		return s, nil
	default:
		return "", invalidParameter("unknown result shape %q", v)
	}
}

// GeoFilter bounds results to RangeMetres of an origin given either as grid
// coordinates or as a postcode resolved through the postcode directory.
type GeoFilter struct {
	Origin      *organisation.Coordinates
	Postcode    string
	RangeMetres int
}

type ChildOfFilter struct {
	Parent            string
	RelationshipTypes []string
}

// SearchParams are independent optional filters combined with AND.
type SearchParams struct {
	Text         string
	NameText     string
	AddressText  string
	ActiveOnly   bool
	Roles        []string
	PrimaryRoles []string
	RecordClass  organisation.RecordClass
	ChildOf      *ChildOfFilter
	Geo          *GeoFilter
	Limit        int
	Shape        ResultShape
}

// Validate normalizes p in place and rejects malformed options.
func (p *SearchParams) Validate() error {
	if p.Shape == "" {
		p.Shape = ShapeCodes
	}
	if _, err := ParseResultShape(string(p.Shape)); err != nil {
		return err
	}
	if p.Limit < 0 {
		return invalidParameter("limit must not be negative, got %d", p.Limit)
	}
	if p.Limit > MaxSearchLimit {
		return invalidParameter("limit must not exceed %d, got %d", MaxSearchLimit, p.Limit)
	}
	if p.Limit == 0 {
		p.Limit = MaxSearchLimit
	}
	if p.RecordClass != "" && !p.RecordClass.Valid() {
		return invalidParameter("unknown record class %q", p.RecordClass)
	}
	texts := []struct{ name, value string }{
		{"text", p.Text},
		{"name text", p.NameText},
		{"address text", p.AddressText},
	}
	for _, t := range texts {
		if strings.TrimSpace(t.value) != "" && len(Tokenize(t.value)) == 0 {
			return invalidParameter("%s has no searchable words", t.name)
		}
	}
	for _, list := range [][]string{p.Roles, p.PrimaryRoles} {
		for _, r := range list {
			if strings.TrimSpace(r) == "" {
				return invalidParameter("role codes must not be empty")
			}
		}
	}
	if p.ChildOf != nil && strings.TrimSpace(p.ChildOf.Parent) == "" {
		return invalidParameter("child-of requires a parent code")
	}
	if g := p.Geo; g != nil {
		if g.RangeMetres <= 0 {
			return invalidParameter("geo range must be positive, got %d", g.RangeMetres)
		}
		if g.Origin == nil && strings.TrimSpace(g.Postcode) == "" {
			return invalidParameter("geo filter needs coordinates or a postcode")
		}
	}
	return nil
}

// Tokenize splits text on anything that is not a letter or digit and
// case-folds each word. A Caser is not safe for concurrent use, so each call
// builds its own.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	folder := cases.Fold()
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, folder.String(f))
	}
	return out
}

// PrefixQuery renders words as a to_tsquery argument matching each word as a prefix.
func PrefixQuery(text string) string {
	tokens := Tokenize(text)
	for i, t := range tokens {
		tokens[i] = t + ":*"
	}
	return strings.Join(tokens, " & ")
}

// predicate is one optional search condition.
type predicate struct {
	name string
	// joinsSearch marks conditions over the full-text table.
	joinsSearch bool
	render      func(a *repo.Args) string
}

type distanceExpr struct {
	northing, easting string
}

func (d distanceExpr) String() string {
	return fmt.Sprintf("((o.northing - %s)::bigint * (o.northing - %s) + (o.easting - %s)::bigint * (o.easting - %s))",
		d.northing, d.northing, d.easting, d.easting)
}

func textPredicate(name, column, text string) predicate {
	return predicate{name: name, joinsSearch: true, render: func(a *repo.Args) string {
		return fmt.Sprintf("s.%s @@ to_tsquery('simple', %s)", column, a.Add(PrefixQuery(text)))
	}}
}

func rolePredicate(name string, roles []string, primaryOnly bool) predicate {
	return predicate{name: name, render: func(a *repo.Args) string {
		cond := "r.org_code = o.code AND r.active AND r.role_type = ANY(" + a.Add(roles) + ")"
		if primaryOnly {
			cond += " AND r.is_primary"
		}
		return "EXISTS (SELECT 1 FROM role r WHERE " + cond + ")"
	}}
}

// searchPredicates lists the conditions present in p, in a fixed order.
func searchPredicates(p SearchParams, dist *distanceExpr) []predicate {
	var out []predicate
	if strings.TrimSpace(p.Text) != "" {
		out = append(out, textPredicate("text", "document", p.Text))
	}
	if strings.TrimSpace(p.NameText) != "" {
		out = append(out, textPredicate("name_text", "name_document", p.NameText))
	}
	if strings.TrimSpace(p.AddressText) != "" {
		out = append(out, textPredicate("address_text", "address_document", p.AddressText))
	}
	if p.ActiveOnly {
		out = append(out, predicate{name: "active", render: func(*repo.Args) string { return "o.active" }})
	}
	if len(p.Roles) > 0 {
		out = append(out, rolePredicate("roles", p.Roles, false))
	}
	if len(p.PrimaryRoles) > 0 {
		out = append(out, rolePredicate("primary_roles", p.PrimaryRoles, true))
	}
	if p.RecordClass != "" {
		out = append(out, predicate{name: "record_class", render: func(a *repo.Args) string {
			return "o.record_class = " + a.Add(string(p.RecordClass))
		}})
	}
	if c := p.ChildOf; c != nil {
		out = append(out, predicate{name: "child_of", render: func(a *repo.Args) string {
			sub := "SELECT rel.source_code FROM relationship rel WHERE rel.target_code = " + a.Add(c.Parent)
			if len(c.RelationshipTypes) > 0 {
				sub += " AND rel.relationship_type = ANY(" + a.Add(c.RelationshipTypes) + ")"
			}
			return "o.code IN (" + sub + ")"
		}})
	}
	if g := p.Geo; g != nil && g.Origin != nil {
		n, e, r := g.Origin.Northing, g.Origin.Easting, g.RangeMetres
		out = append(out,
			predicate{name: "geo_box", render: func(a *repo.Args) string {
				return fmt.Sprintf("o.northing BETWEEN %s AND %s AND o.easting BETWEEN %s AND %s",
					a.Add(n-r), a.Add(n+r), a.Add(e-r), a.Add(e+r))
			}},
			predicate{name: "geo_distance", render: func(a *repo.Args) string {
				dist.northing, dist.easting = a.Add(n), a.Add(e)
				return dist.String() + " <= " + a.Add(int64(r)*int64(r))
			}},
		)
	}
	return out
}

// BuildSearchQuery renders validated params into one statement selecting
// organisation codes. A geo origin orders by distance, otherwise by name.
// Geo filters given only as a postcode must be resolved first.
func BuildSearchQuery(p SearchParams) (persistence.SearchQuery, error) {
	if err := p.Validate(); err != nil {
		return persistence.SearchQuery{}, err
	}
	if p.Geo != nil && p.Geo.Origin == nil {
		return persistence.SearchQuery{}, invalidParameter("geo postcode %q was not resolved to coordinates", p.Geo.Postcode)
	}

	dist := &distanceExpr{}
	preds := searchPredicates(p, dist)

	args := &repo.Args{}
	where := make([]string, 0, len(preds))
	joinSearch := false
	for _, pr := range preds {
		where = append(where, pr.render(args))
		joinSearch = joinSearch || pr.joinsSearch
	}

	from := "SELECT o.code FROM organisation o"
	if joinSearch {
		from += " JOIN organisation_search s ON s.code = o.code"
	}
	order := "ORDER BY o.name, o.code"
	if dist.northing != "" {
		order = "ORDER BY " + dist.String() + ", o.code"
	}

	sql := repo.Join(from, repo.JoinWhere(where...), order, repo.FormatLimitOffset(p.Limit, 0))
	return persistence.SearchQuery{SQL: sql, Args: args.Values()}, nil
}

// predicateNames is used by tests and debug logging.
func predicateNames(p SearchParams) []string {
	preds := searchPredicates(p, &distanceExpr{})
	out := make([]string, len(preds))
	for i, pr := range preds {
		out[i] = pr.name
	}
	return out
}

func formatOrigin(c *organisation.Coordinates) string {
	if c == nil {
		return ""
	}
	return strconv.Itoa(c.Northing) + "," + strconv.Itoa(c.Easting)
}
