package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Well-known observation fields
const (
	FieldFlight      = "flight"
	FieldHex         = "hex"
	FieldLat         = "lat"
	FieldLon         = "lon"
	FieldAltBaro     = "alt_baro"
	FieldGroundSpeed = "gs"
	FieldSquawk      = "squawk"
	FieldTime        = "time"
	FieldDescription = "Description"
)

// AltitudeGround is the alt_baro sentinel the feed uses for aircraft on the ground
const AltitudeGround = "ground"

// Circle is a geographic query region
type Circle struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	RadiusNM float64 `json:"radius_nm"`
}

// String returns the circle as lat,lon,radius
func (c Circle) String() string {
	return fmt.Sprintf("%g,%g,%g", c.Lat, c.Lon, c.RadiusNM)
}

// Validate checks the circle is a usable query region
func (c Circle) Validate() error {
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %g out of range", c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("longitude %g out of range", c.Lon)
	}
	if c.RadiusNM <= 0 {
		return fmt.Errorf("radius %g must be positive", c.RadiusNM)
	}
	return nil
}

// Opaque is a structured feed value flattened to canonical JSON text. It is
// stored as text and never queried structurally.
type Opaque string

// Observation is one aircraft sighting. Values are normalized by the fetcher to
// string, Opaque, int64, float64, []string or nil.
type Observation map[string]any

// Flight returns the callsign with surrounding whitespace trimmed
func (o Observation) Flight() string {
	s, _ := o[FieldFlight].(string)
	return strings.TrimSpace(s)
}

// Hex returns the ICAO address of the transponder
func (o Observation) Hex() string {
	s, _ := o[FieldHex].(string)
	return strings.TrimSpace(strings.ToLower(s))
}

// Identity returns the dedup key for the observation. Callsign wins; the ICAO
// address is used for aircraft that do not broadcast one. Empty means anonymous.
func (o Observation) Identity() string {
	if f := o.Flight(); f != "" {
		return f
	}
	if h := o.Hex(); h != "" {
		return "hex:" + h
	}
	return ""
}

// Position returns longitude and latitude when both are present
func (o Observation) Position() (lon, lat float64, ok bool) {
	lon, okLon := toFloat(o[FieldLon])
	lat, okLat := toFloat(o[FieldLat])
	return lon, lat, okLon && okLat
}

// OnGround reports whether alt_baro carries the ground sentinel
func (o Observation) OnGround() bool {
	s, ok := o[FieldAltBaro].(string)
	return ok && s == AltitudeGround
}

// Fields returns the observation's field names in sorted order
func (o Observation) Fields() []string {
	names := make([]string, 0, len(o))
	for k := range o {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Batch is one cycle's deduplicated output
type Batch struct {
	CycleID      string        `json:"cycle_id"`
	CapturedAt   time.Time     `json:"captured_at"`
	Observations []Observation `json:"observations"`
}

// ColumnKind is the semantic type of a stored column
type ColumnKind int

const (
	KindText ColumnKind = iota + 1
	KindInteger
	KindFloat
	KindTextArray
	KindOpaqueText
)

// SQLType returns the PostgreSQL type used for the kind
func (k ColumnKind) SQLType() string {
	switch k {
	case KindInteger:
		return "int8"
	case KindFloat:
		return "float8"
	case KindTextArray:
		return "text[]"
	default:
		return "text"
	}
}

func (k ColumnKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindTextArray:
		return "text-array"
	case KindOpaqueText:
		return "opaque-text"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Column is a named, typed column of the observation table
type Column struct {
	Name string     `json:"name"`
	Kind ColumnKind `json:"kind"`
}

// Point is a stored position, longitude first
type Point struct {
	Lon float64
	Lat float64
}

// Cell is one occupied hexagonal cell
type Cell struct {
	ID    string `json:"id"`
	WKT   string `json:"wkt"`
	Count int    `json:"count"`
}

// CycleReport summarizes one polling cycle
type CycleReport struct {
	CycleID       string
	Circles       int
	FailedCircles int
	Fetched       int
	Duplicates    int
	Anonymous     int
	ColumnsAdded  int
	Stored        int
	Duration      time.Duration
	Err           error
}

// Failed reports whether the cycle stored nothing because of an error
func (r CycleReport) Failed() bool {
	return r.Err != nil
}
