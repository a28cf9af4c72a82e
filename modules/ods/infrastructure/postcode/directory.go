// Package postcode resolves UK postcodes to national-grid coordinates.
package postcode

import (
	"context"
	"strings"

	"github.com/iota-uz/ods/modules/ods/domain/organisation"
)

// Directory looks up grid coordinates. An unknown postcode is not an error:
// Coordinates returns nil and Lookup omits it.
type Directory interface {
	Coordinates(ctx context.Context, postcode string) (*organisation.Coordinates, error)
	// Lookup resolves many postcodes at once, keyed by Normalize(postcode).
	Lookup(ctx context.Context, postcodes []string) (map[string]organisation.Coordinates, error)
}

// Normalize turns "cf14 4xw" and "CF144XW" into the same key.
func Normalize(postcode string) string {
	var b strings.Builder
	b.Grow(len(postcode))
	for _, r := range postcode {
		if r == ' ' || r == '\t' {
			continue
		}
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func normalizeAll(postcodes []string) []string {
	seen := make(map[string]struct{}, len(postcodes))
	out := make([]string, 0, len(postcodes))
	for _, pc := range postcodes {
		k := Normalize(pc)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Static is an in-memory Directory keyed by normalized postcode.
type Static map[string]organisation.Coordinates

func (s Static) Coordinates(_ context.Context, postcode string) (*organisation.Coordinates, error) {
	c, ok := s[Normalize(postcode)]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s Static) Lookup(_ context.Context, postcodes []string) (map[string]organisation.Coordinates, error) {
	out := make(map[string]organisation.Coordinates, len(postcodes))
	for _, k := range normalizeAll(postcodes) {
		if c, ok := s[k]; ok {
			out[k] = c
		}
	}
	return out, nil
}
