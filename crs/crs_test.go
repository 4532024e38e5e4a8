package crs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pdok/vedit/backend"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    CRS
		wantErr bool
	}{
		{in: "EPSG:28992", want: CRS{Authority: "EPSG", Code: 28992}},
		{in: "epsg:4326", want: CRS{Authority: "EPSG", Code: 4326}},
		{in: "http://www.opengis.net/def/crs/EPSG/0/28992", want: CRS{Authority: "EPSG", Code: 28992}},
		{in: "https://www.opengis.net/def/crs/EPSG/0/3857", want: CRS{Authority: "EPSG", Code: 3857}},
		{in: "urn:ogc:def:crs:EPSG::4258", want: CRS{Authority: "EPSG", Code: 4258}},
		{in: "urn:ogc:def:crs:EPSG:9.8:3035", want: CRS{Authority: "EPSG", Code: 3035}},
		{in: "http://www.opengis.net/def/crs/OGC/1.3/CRS84", wantErr: true},
		{in: "28992", wantErr: true},
		{in: "", wantErr: true},
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

func TestSpatialReference(t *testing.T) {
	c, err := Parse("EPSG:28992")
	require.NoError(t, err)
	require.Equal(t, "EPSG:28992", c.String())
	require.Equal(t, backend.SpatialReference{ID: 28992, Name: "Amersfoort / RD New", Organization: "EPSG", Code: 28992},
		c.SpatialReference())

	require.Equal(t, "EPSG:2056", CRS{Authority: "EPSG", Code: 2056}.SpatialReference().Name)
}
