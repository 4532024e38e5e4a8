// Package crs resolves the coordinate reference system names accepted for new
// layers into spatial references.
package crs

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pdok/vedit/backend"
)

var (
	crsURIRegexURL   = regexp.MustCompile("^https?://.+/def/crs/(?P<authority>[^/]+)/[^/]+/(?P<code>[^/]+)$")
	crsURIRegexURN   = regexp.MustCompile("^urn:ogc:def:crs:(?P<authority>[^:]+):[^:]*:(?P<code>[^:]+)$")
	crsURIRegexShort = regexp.MustCompile("^(?P<authority>[A-Za-z]+):(?P<code>[^:]+)$")
)

// names of the reference systems commonly used for Dutch and European data
var names = map[int32]string{
	4258:  "ETRS89",
	4326:  "WGS 84",
	3035:  "ETRS89-extended / LAEA Europe",
	3857:  "WGS 84 / Pseudo-Mercator",
	28992: "Amersfoort / RD New",
	7415:  "Amersfoort / RD New + NAP height",
}

// CRS is a reference system identified by an authority and a numeric code.
type CRS struct {
	Authority string
	Code      int32
}

// Parse accepts "EPSG:28992", "http://www.opengis.net/def/crs/EPSG/0/28992" and
// "urn:ogc:def:crs:EPSG::28992".
func Parse(s string) (CRS, error) {
	var parts []string
	for _, re := range []*regexp.Regexp{crsURIRegexURL, crsURIRegexURN, crsURIRegexShort} {
		if parts = re.FindStringSubmatch(s); parts != nil {
			break
		}
	}
	if parts == nil {
		return CRS{}, fmt.Errorf(`could not parse crs "%v"`, s)
	}
	code, err := strconv.ParseInt(parts[2], 10, 32)
	if err != nil {
		return CRS{}, fmt.Errorf(`crs "%v" has no numeric code: %w`, s, err)
	}
	return CRS{Authority: strings.ToUpper(parts[1]), Code: int32(code)}, nil
}

func (c CRS) String() string {
	return fmt.Sprintf("%s:%d", c.Authority, c.Code)
}

// SpatialReference is the reference system to register a layer with. EPSG codes are
// used as srs id, as GeoPackage producers conventionally do.
func (c CRS) SpatialReference() backend.SpatialReference {
	name, ok := names[c.Code]
	if !ok || c.Authority != "EPSG" {
		name = c.String()
	}
	return backend.SpatialReference{
		ID:           c.Code,
		Name:         name,
		Organization: c.Authority,
		Code:         c.Code,
	}
}
