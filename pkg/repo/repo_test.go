package repo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJoin_SkipsEmptyParts(t *testing.T) {
	require.Equal(t, "SELECT 1 WHERE a LIMIT 5", Join("SELECT 1", "", "WHERE a", "  ", "LIMIT 5"))
}

func TestJoinWhere(t *testing.T) {
	require.Equal(t, "", JoinWhere())
	require.Equal(t, "WHERE a = $1", JoinWhere("a = $1"))
	require.Equal(t, "WHERE a = $1 AND b = $2", JoinWhere("a = $1", "b = $2"))
}

func TestFormatLimitOffset(t *testing.T) {
	require.Equal(t, "", FormatLimitOffset(0, 0))
	require.Equal(t, "LIMIT 10", FormatLimitOffset(10, 0))
	require.Equal(t, "LIMIT 10 OFFSET 20", FormatLimitOffset(10, 20))
}

func TestArgs_Placeholders(t *testing.T) {
	var a Args
	require.Equal(t, "$1", a.Add("x"))
	require.Equal(t, "$2", a.Add(42))
	require.Equal(t, []any{"x", 42}, a.Values())
	require.Equal(t, 2, a.Len())
}
