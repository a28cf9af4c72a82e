package source

import (
	"bytes"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"github.com/iota-uz/ods/modules/ods/domain/organisation"
)

const (
	statusActive     = "Active"
	dateOperational  = "Operational"
	succPredecessor  = "Predecessor"
	succSuccessor    = "Successor"
	recordClassOrg   = "RC1"
	recordClassSite  = "RC2"
	fragmentRootOpen = "<Organisation>"
	fragmentRootEnd  = "</Organisation>"
)

type xmlValue struct {
	Value string `xml:"value,attr"`
}

type xmlDate struct {
	Type  xmlValue `xml:"Type"`
	Start xmlValue `xml:"Start"`
	End   xmlValue `xml:"End"`
}

type xmlOrgID struct {
	Root               string `xml:"root,attr"`
	AssigningAuthority string `xml:"assigningAuthorityName,attr"`
	Extension          string `xml:"extension,attr"`
}

type xmlLocation struct {
	AddrLn1  string `xml:"AddrLn1"`
	AddrLn2  string `xml:"AddrLn2"`
	AddrLn3  string `xml:"AddrLn3"`
	Town     string `xml:"Town"`
	County   string `xml:"County"`
	PostCode string `xml:"PostCode"`
	Country  string `xml:"Country"`
	UPRN     string `xml:"UPRN"`
}

type xmlRole struct {
	ID           string    `xml:"id,attr"`
	UniqueRoleID string    `xml:"uniqueRoleId,attr"`
	Primary      bool      `xml:"primaryRole,attr"`
	Dates        []xmlDate `xml:"Date"`
	Status       xmlValue  `xml:"Status"`
}

type xmlTarget struct {
	OrgID         xmlOrgID `xml:"OrgId"`
	PrimaryRoleID struct {
		ID string `xml:"id,attr"`
	} `xml:"PrimaryRoleId"`
}

type xmlRel struct {
	ID     string    `xml:"id,attr"`
	Dates  []xmlDate `xml:"Date"`
	Status xmlValue  `xml:"Status"`
	Target xmlTarget `xml:"Target"`
}

type xmlSucc struct {
	Dates  []xmlDate `xml:"Date"`
	Type   string    `xml:"Type"`
	Target xmlTarget `xml:"Target"`
}

type xmlOrganisation struct {
	Name           string      `xml:"Name"`
	Dates          []xmlDate   `xml:"Date"`
	OrgID          xmlOrgID    `xml:"OrgId"`
	Status         xmlValue    `xml:"Status"`
	LastChangeDate xmlValue    `xml:"LastChangeDate"`
	Location       xmlLocation `xml:"GeoLoc>Location"`
	Roles          []xmlRole   `xml:"Roles>Role"`
	Rels           []xmlRel    `xml:"Rels>Rel"`
	Succs          []xmlSucc   `xml:"Succs>Succ"`
}

// ParseFragment normalizes one fragment. Reference-only stubs report ok=false
// and are never written.
func ParseFragment(f Fragment) (organisation.Organisation, bool, error) {
	if f.RefOnly {
		return organisation.Organisation{}, false, nil
	}

	var buf bytes.Buffer
	buf.Grow(len(f.Inner) + len(fragmentRootOpen) + len(fragmentRootEnd))
	buf.WriteString(fragmentRootOpen)
	buf.Write(f.Inner)
	buf.WriteString(fragmentRootEnd)

	var x xmlOrganisation
	if err := xml.Unmarshal(buf.Bytes(), &x); err != nil {
		return organisation.Organisation{}, false, fmt.Errorf("%w: organisation %d: %v", ErrMalformedSource, f.Seq, err)
	}

	o, err := normalize(f, x)
	if err != nil {
		return organisation.Organisation{}, false, fmt.Errorf("%w: organisation %q: %v", ErrMalformedSource, x.OrgID.Extension, err)
	}
	return o, true, nil
}

func normalize(f Fragment, x xmlOrganisation) (organisation.Organisation, error) {
	code := strings.TrimSpace(x.OrgID.Extension)
	if code == "" {
		return organisation.Organisation{}, fmt.Errorf("missing OrgId extension")
	}

	class, err := recordClass(f.RecordClass)
	if err != nil {
		return organisation.Organisation{}, err
	}

	o := organisation.Organisation{
		Root:               strings.TrimSpace(x.OrgID.Root),
		AssigningAuthority: strings.TrimSpace(x.OrgID.AssigningAuthority),
		Code:               code,
		Name:               strings.TrimSpace(x.Name),
		RecordClass:        class,
		Active:             x.Status.Value == statusActive,
		Location: organisation.Location{
			Address1: strings.TrimSpace(x.Location.AddrLn1),
			Address2: strings.TrimSpace(x.Location.AddrLn2),
			Address3: strings.TrimSpace(x.Location.AddrLn3),
			Town:     strings.TrimSpace(x.Location.Town),
			County:   strings.TrimSpace(x.Location.County),
			Postcode: strings.TrimSpace(x.Location.PostCode),
			Country:  strings.TrimSpace(x.Location.Country),
			UPRN:     strings.TrimSpace(x.Location.UPRN),
		},
	}

	if o.OperationalStart, o.OperationalEnd, err = operationalWindow(x.Dates); err != nil {
		return o, err
	}
	if o.LastChangeDate, err = parseDate(x.LastChangeDate.Value); err != nil {
		return o, fmt.Errorf("last change date: %w", err)
	}

	for _, xr := range x.Roles {
		role, err := normalizeRole(code, xr)
		if err != nil {
			return o, err
		}
		o.Roles = append(o.Roles, role)
	}

	for _, xr := range x.Rels {
		target := strings.TrimSpace(xr.Target.OrgID.Extension)
		if target == "" || xr.ID == "" {
			continue
		}
		start, end, err := operationalWindow(xr.Dates)
		if err != nil {
			return o, fmt.Errorf("relationship %s: %w", xr.ID, err)
		}
		o.Relationships = append(o.Relationships, organisation.Relationship{
			SourceCode:       code,
			RelationshipType: xr.ID,
			TargetCode:       target,
			Active:           xr.Status.Value == statusActive,
			StartDate:        start,
			EndDate:          end,
		})
	}

	for _, xs := range x.Succs {
		target := strings.TrimSpace(xs.Target.OrgID.Extension)
		if target == "" {
			continue
		}
		s := organisation.Succession{CarriedPrimaryRole: xs.Target.PrimaryRoleID.ID}
		if len(xs.Dates) > 0 {
			s.SuccessionType = xs.Dates[0].Type.Value
			if s.StartDate, err = parseDate(xs.Dates[0].Start.Value); err != nil {
				return o, fmt.Errorf("succession %s: %w", target, err)
			}
		}
		switch strings.TrimSpace(xs.Type) {
		case succPredecessor:
			s.PredecessorCode, s.SuccessorCode = target, code
			o.Predecessors = append(o.Predecessors, s)
		case succSuccessor:
			s.PredecessorCode, s.SuccessorCode = code, target
			o.Successors = append(o.Successors, s)
		default:
			return o, fmt.Errorf("unknown succession type %q", xs.Type)
		}
	}
	return o, nil
}

func normalizeRole(orgCode string, xr xmlRole) (organisation.Role, error) {
	start, end, err := operationalWindow(xr.Dates)
	if err != nil {
		return organisation.Role{}, fmt.Errorf("role %s: %w", xr.ID, err)
	}
	r := organisation.Role{
		OrgCode:   orgCode,
		RoleType:  xr.ID,
		IsPrimary: xr.Primary,
		Active:    xr.Status.Value == statusActive,
		StartDate: start,
		EndDate:   end,
	}
	if v := strings.TrimSpace(xr.UniqueRoleID); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return r, fmt.Errorf("role %s: uniqueRoleId %q", xr.ID, v)
		}
		r.ID = id
	} else {
		r.ID = StableRoleID(orgCode, xr.ID, start)
	}
	return r, nil
}

// StableRoleID derives a positive id for roles the source leaves unnumbered,
// so repeated loads upsert the same row.
func StableRoleID(orgCode, roleType string, start *time.Time) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(orgCode))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(roleType))
	_, _ = h.Write([]byte{0})
	if start != nil {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(start.Unix()))
		_, _ = h.Write(b[:])
	}
	return int64(h.Sum64() >> 1)
}

func operationalWindow(dates []xmlDate) (*time.Time, *time.Time, error) {
	for _, d := range dates {
		if d.Type.Value != dateOperational {
			continue
		}
		start, err := parseDate(d.Start.Value)
		if err != nil {
			return nil, nil, fmt.Errorf("start date: %w", err)
		}
		end, err := parseDate(d.End.Value)
		if err != nil {
			return nil, nil, fmt.Errorf("end date: %w", err)
		}
		return start, end, nil
	}
	return nil, nil, nil
}

func recordClass(v string) (organisation.RecordClass, error) {
	switch v {
	case recordClassOrg, "":
		return organisation.RecordClassOrganisation, nil
	case recordClassSite:
		return organisation.RecordClassSite, nil
	default:
		return "", fmt.Errorf("unknown record class %q", v)
	}
}
