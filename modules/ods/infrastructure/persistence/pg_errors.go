package persistence

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/iota-uz/ods/modules/ods/domain/organisation"
)

// mapWriteError turns constraint violations (SQLSTATE class 23) into
// ErrIntegrity. Anything else is returned unchanged.
func mapWriteError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	if !strings.HasPrefix(pgErr.Code, "23") {
		return err
	}

	kind := constraintKind(pgErr.Code)
	if pgErr.ConstraintName == "organisation_root_check" {
		return fmt.Errorf("%w: %w: %s", organisation.ErrIntegrity, organisation.ErrNamespaceMismatch, pgErr.Message)
	}
	return fmt.Errorf("%w: %s on %s: %w", organisation.ErrIntegrity, kind, pgErr.ConstraintName, err)
}

func constraintKind(code string) string {
	switch code {
	case "23505":
		return "unique violation"
	case "23503":
		return "foreign key violation"
	case "23502":
		return "not null violation"
	case "23514":
		return "check violation"
	default:
		return "integrity violation"
	}
}

// IntegrityKind reports the constraint class of a mapped write error, for metrics.
func IntegrityKind(err error) string {
	if errors.Is(err, organisation.ErrNamespaceMismatch) {
		return "namespace"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return "unique"
		case "23503":
			return "foreign_key"
		case "23514":
			return "check"
		}
	}
	return "other"
}
