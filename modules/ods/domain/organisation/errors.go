package organisation

import "errors"

var (
	// ErrIntegrity marks a batch rejected for a data-integrity violation. The
	// containing write transaction is rolled back.
	ErrIntegrity = errors.New("organisation data integrity violation")

	// ErrNamespaceMismatch is wrapped together with ErrIntegrity when a record
	// carries an identifier root other than Namespace.
	ErrNamespaceMismatch = errors.New("organisation identifier namespace mismatch")
)

// ChildFilter narrows a one-hop child lookup. Zero values do not filter.
type ChildFilter struct {
	Active            *bool
	RelationshipTypes []string
	RoleTypes         []string
}
