package postcode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/ods/modules/ods/domain/organisation"
)

func TestNormalize(t *testing.T) {
	require.Equal(t, "CF144XW", Normalize("cf14 4xw"))
	require.Equal(t, "CF144XW", Normalize(" CF14\t4XW "))
	require.Empty(t, Normalize("  "))
}

func TestStatic_UnknownIsNotAnError(t *testing.T) {
	d := Static{"CF144XW": {Northing: 179000, Easting: 316000}}

	c, err := d.Coordinates(context.Background(), "cf14 4xw")
	require.NoError(t, err)
	require.Equal(t, &organisation.Coordinates{Northing: 179000, Easting: 316000}, c)

	c, err = d.Coordinates(context.Background(), "ZZ1 1ZZ")
	require.NoError(t, err)
	require.Nil(t, c)

	found, err := d.Lookup(context.Background(), []string{"CF14 4XW", "cf144xw", "ZZ1 1ZZ", ""})
	require.NoError(t, err)
	require.Len(t, found, 1)
}

func TestCoordinatesEncoding(t *testing.T) {
	c := organisation.Coordinates{Northing: 179123, Easting: 316456}
	got, ok := decodeCoordinates(encodeCoordinates(c))
	require.True(t, ok)
	require.Equal(t, c, got)

	_, ok = decodeCoordinates(unknownMarker)
	require.False(t, ok)
	_, ok = decodeCoordinates("1,x")
	require.False(t, ok)
}
