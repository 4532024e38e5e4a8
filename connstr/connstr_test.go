package connstr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pdok/vedit/backend"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Params
		wantErr bool
	}{
		{
			in:   "SDE:gis,5151,edits.gpkg,editor,secret",
			want: Params{Server: "gis", Instance: "5151", Database: "edits.gpkg", User: "editor", Password: "secret"},
		},
		{
			in:   "sde:gis,,edits.gpkg,,,roads",
			want: Params{Server: "gis", Database: "edits.gpkg", Layer: "roads"},
		},
		{
			in:   "SDE:gis,,edits.gpkg,editor,secret,,HEAD",
			want: Params{Server: "gis", Database: "edits.gpkg", User: "editor", Password: "secret", Version: "HEAD"},
		},
		{
			in:   `SDE:gis,,"C:\\data\\a,b.gpkg",editor,"pa\"ss",roads,HEAD`,
			want: Params{Server: "gis", Database: `C:\data\a,b.gpkg`, User: "editor", Password: `pa"ss`, Layer: "roads", Version: "HEAD"},
		},
		{in: "PG:dbname=gis", wantErr: true},
		{in: "SDE:gis,,edits.gpkg,editor", wantErr: true},
		{in: "SDE:gis,,edits.gpkg,editor,secret,roads,HEAD,extra", wantErr: true},
		{in: "SDE:,,edits.gpkg,editor,secret", wantErr: true},
		{in: "SDE:gis,,,editor,secret", wantErr: true},
		{in: `SDE:gis,,"edits.gpkg,editor,secret`, wantErr: true},
		{in: "SDE", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestString(t *testing.T) {
	p := Params{Server: "gis", Database: `a,b.gpkg`, User: "editor", Password: "secret", Version: "HEAD"}
	s := p.String()
	require.Equal(t, `SDE:gis,,"a,b.gpkg",editor,***,,HEAD`, s)
	require.NotContains(t, s, "secret")

	back, err := Parse(s)
	require.NoError(t, err)
	require.Equal(t, "a,b.gpkg", back.Database)
	require.Equal(t, "HEAD", back.Version)
}

func TestConnectParams(t *testing.T) {
	p, err := Parse("SDE:gis,5151,edits.gpkg,editor,secret,roads")
	require.NoError(t, err)
	require.Equal(t, backend.ConnectParams{Server: "gis", Instance: "5151", Database: "edits.gpkg", User: "editor", Password: "secret"},
		p.ConnectParams())
}
