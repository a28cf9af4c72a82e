package source

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/ods/modules/ods/domain/organisation"
)

func openFixture(t *testing.T) *Reader {
	t.Helper()
	f, err := os.Open("testdata/ods_fixture.xml")
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	r, err := NewReader(f)
	require.NoError(t, err)
	return r
}

func collect(t *testing.T, r *Reader) []Fragment {
	t.Helper()
	out := make(chan Fragment)
	errCh := make(chan error, 1)
	go func() { errCh <- r.Stream(context.Background(), out) }()

	var got []Fragment
	for f := range out {
		got = append(got, f)
	}
	require.NoError(t, <-errCh)
	return got
}

func TestNewReader_ReadsManifestAndCodeSystems(t *testing.T) {
	r := openFixture(t)

	m := r.Manifest()
	require.Equal(t, SupportedVersion, m.Version)
	require.Equal(t, "Full", m.PublicationType)
	require.Equal(t, "FullFile_20240502", m.ContentDescription)
	require.EqualValues(t, 6, m.RecordCount)
	require.NotNil(t, m.PublicationDate)
	require.True(t, m.PublicationDate.Equal(time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)))

	codes := r.CodeSystems()
	require.Len(t, codes, 7)
	require.Equal(t, organisation.Code{
		CodeSystemID:   "2.16.840.1.113883.2.1.3.2.4.17.508",
		CodeSystemName: "OrganisationRelationship",
		Code:           "RE4",
		DisplayName:    "IS COMMISSIONED BY",
	}, codes[0])
}

func TestStream_EmitsFragmentsInDocumentOrder(t *testing.T) {
	got := collect(t, openFixture(t))
	require.Len(t, got, 6)
	for i, f := range got {
		require.EqualValues(t, i, f.Seq)
	}
	require.Equal(t, "RC2", got[3].RecordClass)
	require.True(t, got[4].RefOnly)
	require.Contains(t, string(got[0].Inner), `extension="7A4"`)
}

func TestNewReader_RejectsUnsupportedVersion(t *testing.T) {
	doc := `<OrgRefData><Manifest><Version value="1-0-0"/></Manifest>
<Organisations><Organisation orgRecordClass="RC1"><OrgId extension="A1"/></Organisation></Organisations></OrgRefData>`

	r, err := NewReader(strings.NewReader(doc))
	require.ErrorIs(t, err, ErrUnsupportedVersion)
	require.Nil(t, r)
}

func TestNewReader_RejectsOrganisationsBeforeManifest(t *testing.T) {
	doc := `<OrgRefData><Organisations><Organisation/></Organisations><Manifest><Version value="2-0-0"/></Manifest></OrgRefData>`

	_, err := NewReader(strings.NewReader(doc))
	require.ErrorIs(t, err, ErrMalformedSource)
}

func TestNewReader_RejectsMissingManifest(t *testing.T) {
	_, err := NewReader(strings.NewReader(`<OrgRefData></OrgRefData>`))
	require.ErrorIs(t, err, ErrMalformedSource)
}

func TestStream_StopsOnCancel(t *testing.T) {
	r := openFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan Fragment)
	err := r.Stream(ctx, out)
	require.ErrorIs(t, err, context.Canceled)

	_, open := <-out
	require.False(t, open)
}
