// Package organisation holds the normalized records produced from an ODS release
// and returned by the store.
package organisation

import (
	"sort"
	"time"
)

// Namespace is the only organisation identifier root accepted by the store.
const Namespace = "2.16.840.1.113883.2.1.3.2.4.18.48"

type RecordClass string

const (
	RecordClassOrganisation RecordClass = "Organisation"
	RecordClassSite         RecordClass = "Site"
)

func (c RecordClass) Valid() bool {
	return c == RecordClassOrganisation || c == RecordClassSite
}

// Coordinates are national-grid metres.
type Coordinates struct {
	Northing int `json:"northing"`
	Easting  int `json:"easting"`
}

type Location struct {
	Address1    string       `json:"address1,omitempty"`
	Address2    string       `json:"address2,omitempty"`
	Address3    string       `json:"address3,omitempty"`
	Town        string       `json:"town,omitempty"`
	County      string       `json:"county,omitempty"`
	Postcode    string       `json:"postcode,omitempty"`
	Country     string       `json:"country,omitempty"`
	UPRN        string       `json:"uprn,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

type Role struct {
	ID        int64      `json:"id"`
	OrgCode   string     `json:"org_code"`
	RoleType  string     `json:"role_type"`
	IsPrimary bool       `json:"is_primary"`
	Active    bool       `json:"active"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

type Relationship struct {
	SourceCode       string     `json:"source_code"`
	RelationshipType string     `json:"relationship_type"`
	TargetCode       string     `json:"target_code"`
	Active           bool       `json:"active"`
	StartDate        *time.Time `json:"start_date,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty"`
}

// Succession is a directed predecessor -> successor edge.
type Succession struct {
	PredecessorCode    string     `json:"predecessor_code"`
	SuccessorCode      string     `json:"successor_code"`
	CarriedPrimaryRole string     `json:"carried_primary_role,omitempty"`
	SuccessionType     string     `json:"succession_type,omitempty"`
	StartDate          *time.Time `json:"start_date,omitempty"`
}

type Organisation struct {
	Root               string      `json:"root"`
	AssigningAuthority string      `json:"assigning_authority,omitempty"`
	Code               string      `json:"code"`
	Name               string      `json:"name"`
	RecordClass        RecordClass `json:"record_class"`
	Active             bool        `json:"active"`
	OperationalStart   *time.Time  `json:"operational_start,omitempty"`
	OperationalEnd     *time.Time  `json:"operational_end,omitempty"`
	LastChangeDate     *time.Time  `json:"last_change_date,omitempty"`
	Location           Location    `json:"location"`

	Roles         []Role         `json:"roles,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
	Predecessors  []Succession   `json:"predecessors,omitempty"`
	Successors    []Succession   `json:"successors,omitempty"`
}

// PrimaryRole returns the active primary role, falling back to any primary role.
func (o *Organisation) PrimaryRole() (Role, bool) {
	var fallback *Role
	for i := range o.Roles {
		r := o.Roles[i]
		if !r.IsPrimary {
			continue
		}
		if r.Active {
			return r, true
		}
		if fallback == nil {
			fallback = &o.Roles[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Role{}, false
}

// ActiveRoles returns the roles currently flagged active.
func (o *Organisation) ActiveRoles() []Role {
	out := make([]Role, 0, len(o.Roles))
	for _, r := range o.Roles {
		if r.Active {
			out = append(out, r)
		}
	}
	return out
}

// SuccessorCodes lists direct successors, sorted.
func (o *Organisation) SuccessorCodes() []string {
	out := make([]string, 0, len(o.Successors))
	for _, s := range o.Successors {
		out = append(out, s.SuccessorCode)
	}
	sort.Strings(out)
	return out
}

// PredecessorCodes lists direct predecessors, sorted.
func (o *Organisation) PredecessorCodes() []string {
	out := make([]string, 0, len(o.Predecessors))
	for _, s := range o.Predecessors {
		out = append(out, s.PredecessorCode)
	}
	sort.Strings(out)
	return out
}

// Code resolves a role or relationship type code to display text.
type Code struct {
	CodeSystemID   string `json:"code_system_id"`
	CodeSystemName string `json:"code_system_name"`
	Code           string `json:"code"`
	DisplayName    string `json:"display_name"`
}

type Manifest struct {
	Version            string     `json:"version"`
	PublicationType    string     `json:"publication_type"`
	PublicationDate    *time.Time `json:"publication_date,omitempty"`
	ContentDescription string     `json:"content_description"`
	RecordCount        int64      `json:"record_count"`
	FileName           string     `json:"file_name,omitempty"`
}

// Release identifies the distribution a load came from. It is supplied by the caller.
type Release struct {
	ID   string     `json:"release_id"`
	Date *time.Time `json:"release_date,omitempty"`
}
