// Package source reads HSCOrgRefData XML releases. The Reader validates the
// manifest and streams raw organisation fragments; ParseFragment turns a
// fragment into a normalized record and is safe to run on many goroutines.
package source

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/iota-uz/ods/modules/ods/domain/organisation"
)

// SupportedVersion is the only manifest version the normalizer understands.
const SupportedVersion = "2-0-0"

const dateLayout = "2006-01-02"

var (
	ErrUnsupportedVersion = errors.New("unsupported source format version")
	ErrMalformedSource    = errors.New("malformed source document")
)

// Fragment is one undecoded Organisation element in document order.
type Fragment struct {
	Seq         int64
	RecordClass string
	RefOnly     bool
	Inner       []byte
}

type Reader struct {
	dec         *xml.Decoder
	pending     *xml.StartElement
	manifest    organisation.Manifest
	codeSystems []organisation.Code
}

// NewReader consumes the document header (Manifest and CodeSystems) and fails
// before any organisation is read when the declared version is not supported.
func NewReader(r io.Reader) (*Reader, error) {
	rd := &Reader{dec: xml.NewDecoder(r)}
	if err := rd.readHeader(); err != nil {
		return nil, err
	}
	return rd, nil
}

func (r *Reader) Manifest() organisation.Manifest {
	return r.manifest
}

func (r *Reader) CodeSystems() []organisation.Code {
	return r.codeSystems
}

// SetFileName records the archive entry the document came from.
func (r *Reader) SetFileName(name string) {
	r.manifest.FileName = name
}

type xmlManifest struct {
	Version            xmlValue `xml:"Version"`
	PublicationType    xmlValue `xml:"PublicationType"`
	PublicationDate    xmlValue `xml:"PublicationDate"`
	ContentDescription xmlValue `xml:"ContentDescription"`
	RecordCount        xmlValue `xml:"RecordCount"`
}

type xmlCodeSystem struct {
	Name     string       `xml:"name,attr"`
	OID      string       `xml:"oid,attr"`
	Concepts []xmlConcept `xml:"concept"`
}

type xmlConcept struct {
	ID          string `xml:"id,attr"`
	Code        string `xml:"code,attr"`
	DisplayName string `xml:"displayName,attr"`
}

func (r *Reader) readHeader() error {
	seenManifest := false
	for {
		tok, err := r.dec.Token()
		if errors.Is(err, io.EOF) {
			if !seenManifest {
				return fmt.Errorf("%w: no manifest", ErrMalformedSource)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedSource, err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "Manifest":
			var m xmlManifest
			if err := r.dec.DecodeElement(&m, &se); err != nil {
				return fmt.Errorf("%w: manifest: %v", ErrMalformedSource, err)
			}
			if err := r.applyManifest(m); err != nil {
				return err
			}
			seenManifest = true
		case "CodeSystem":
			var cs xmlCodeSystem
			if err := r.dec.DecodeElement(&cs, &se); err != nil {
				return fmt.Errorf("%w: code system: %v", ErrMalformedSource, err)
			}
			for _, c := range cs.Concepts {
				r.codeSystems = append(r.codeSystems, organisation.Code{
					CodeSystemID:   cs.OID,
					CodeSystemName: cs.Name,
					Code:           c.ID,
					DisplayName:    c.DisplayName,
				})
			}
		case "Organisations", "Organisation":
			if !seenManifest {
				return fmt.Errorf("%w: organisations before manifest", ErrMalformedSource)
			}
			// Stream resumes here; a bare Organisation is replayed.
			if se.Name.Local == "Organisation" {
				r.pending = &se
			}
			return nil
		}
	}
}

func (r *Reader) applyManifest(m xmlManifest) error {
	version := strings.TrimSpace(m.Version.Value)
	if version != SupportedVersion {
		return fmt.Errorf("%w: got %q, want %q", ErrUnsupportedVersion, version, SupportedVersion)
	}
	r.manifest.Version = version
	r.manifest.PublicationType = strings.TrimSpace(m.PublicationType.Value)
	r.manifest.ContentDescription = strings.TrimSpace(m.ContentDescription.Value)

	published, err := parseDate(m.PublicationDate.Value)
	if err != nil {
		return fmt.Errorf("%w: publication date: %v", ErrMalformedSource, err)
	}
	r.manifest.PublicationDate = published

	if v := strings.TrimSpace(m.RecordCount.Value); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: record count %q", ErrMalformedSource, v)
		}
		r.manifest.RecordCount = n
	}
	return nil
}

type xmlFragment struct {
	RecordClass string `xml:"orgRecordClass,attr"`
	RefOnly     bool   `xml:"refOnly,attr"`
	Inner       []byte `xml:",innerxml"`
}

// Stream sends every Organisation element to out in document order and
// closes out when it returns. It blocks while out is full.
func (r *Reader) Stream(ctx context.Context, out chan<- Fragment) error {
	defer close(out)

	var seq int64
	for {
		se, err := r.nextOrganisation()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		var raw xmlFragment
		if err := r.dec.DecodeElement(&raw, se); err != nil {
			return fmt.Errorf("%w: organisation %d: %v", ErrMalformedSource, seq, err)
		}
		f := Fragment{Seq: seq, RecordClass: raw.RecordClass, RefOnly: raw.RefOnly, Inner: raw.Inner}
		seq++

		select {
		case out <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Reader) nextOrganisation() (*xml.StartElement, error) {
	if r.pending != nil {
		se := r.pending
		r.pending = nil
		return se, nil
	}
	for {
		tok, err := r.dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("%w: %v", ErrMalformedSource, err)
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "Organisation" {
			return &se, nil
		}
	}
}

func parseDate(v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
