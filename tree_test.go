package main

import (
	"testing"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/require"

	"github.com/pdok/vedit/backend"
)

func TestRenderTree(t *testing.T) {
	states := []backend.StateInfo{
		{ID: 12, Parent: 0},
		{ID: 11, Parent: 10, Open: true, Owner: "c1"},
		{ID: 0, Parent: 0},
		{ID: 10, Parent: 0},
	}
	versions := []backend.VersionInfo{
		{Name: "SDE.DEFAULT", State: 0},
		{Name: "HEAD", State: 11},
		{Name: "BACKUP", State: 11},
	}
	want := "0 SDE.DEFAULT\n" +
		"  10\n" +
		"    11 BACKUP, HEAD [open by c1]\n" +
		"  12\n"
	require.Equal(t, want, renderTree(states, versions))
	require.Equal(t, "", renderTree(nil, nil))
}

func TestFormatFeature(t *testing.T) {
	f := backend.Feature{
		RowID:      3,
		State:      11,
		Attributes: map[string]interface{}{"name": "A1", "lanes": int64(2)},
	}
	require.Equal(t, "3\t11\tlanes=2\tname=A1", formatFeature(f))

	f.Geometry = geom.Point{1, 2}
	require.Contains(t, formatFeature(f), "POINT")
}

func TestParseColumns(t *testing.T) {
	columns, err := parseColumns([]string{"name:text", "lanes:INTEGER"})
	require.NoError(t, err)
	require.Equal(t, []backend.Column{{Name: "name", Type: "TEXT"}, {Name: "lanes", Type: "INTEGER"}}, columns)

	_, err = parseColumns([]string{"name"})
	require.Error(t, err)
}

func TestParseAttributes(t *testing.T) {
	attrs, err := parseAttributes([]string{"name=A1", "note=a=b"})
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"name": "A1", "note": "a=b"}, attrs)

	_, err = parseAttributes([]string{"=x"})
	require.Error(t, err)
}
