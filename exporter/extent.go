package exporter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/paulmach/orb"
)

// Canonical dictionary keys of an extent.
const (
	keyXMin             = "xmin"
	keyYMin             = "ymin"
	keyXMax             = "xmax"
	keyYMax             = "ymax"
	keySpatialReference = "spatialReference"
	keyWKID             = "wkid"
	keyLatestWKID       = "latestWkid"
)

var extentKeys = []string{keyXMin, keyYMin, keyXMax, keyYMax, keySpatialReference}

// SpatialReference identifies a coordinate system by well-known id.
// LatestWKID is the optional current alias of WKID (102100 -> 3857).
type SpatialReference struct {
	WKID       int `json:"wkid"`
	LatestWKID int `json:"latestWkid,omitempty"`
}

// Extent is an axis aligned rectangle in a spatial reference.
// A canonical Extent always satisfies XMin < XMax and YMin < YMax.
type Extent struct {
	XMin             float64          `json:"xmin"`
	YMin             float64          `json:"ymin"`
	XMax             float64          `json:"xmax"`
	YMax             float64          `json:"ymax"`
	SpatialReference SpatialReference `json:"spatialReference"`
}

// ExtentInput is one of Bounds, Geometry, Dict or Extent.
type ExtentInput interface {
	canonicalize() (Extent, error)
}

// Bounds is an extent given as four numbers. SpatialReference may be an
// integer wkid, a SpatialReference, or a map with an integer "wkid".
type Bounds struct {
	XMin, YMin, XMax, YMax float64
	SpatialReference       any
}

// Geometry is an extent given as the bound of a geometry.
type Geometry struct {
	Geometry         orb.Geometry
	SpatialReference SpatialReference
}

// Dict is an extent in its dictionary form, as decoded from JSON.
type Dict map[string]any

// Canonicalize converts any extent input into a validated Extent.
func Canonicalize(in ExtentInput) (Extent, error) {
	if in == nil {
		return Extent{}, fmt.Errorf("%w: no extent given", ErrMalformedExtent)
	}
	return in.canonicalize()
}

// ParseExtent decodes an extent dictionary from JSON and canonicalizes it.
func ParseExtent(data []byte) (Extent, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var d Dict
	if err := dec.Decode(&d); err != nil {
		return Extent{}, fmt.Errorf("%w: %v", ErrMalformedExtent, err)
	}
	return Canonicalize(d)
}

func (e Extent) canonicalize() (Extent, error) {
	if e.SpatialReference.WKID == 0 {
		return Extent{}, ErrMissingSpatialReference
	}
	if e.SpatialReference.WKID < 0 || e.SpatialReference.LatestWKID < 0 {
		return Extent{}, fmt.Errorf("%w: negative wkid", ErrInvalidSpatialReference)
	}
	return e, e.validate()
}

func (b Bounds) canonicalize() (Extent, error) {
	sr, err := spatialReferenceOf(b.SpatialReference)
	if err != nil {
		return Extent{}, err
	}
	e := Extent{XMin: b.XMin, YMin: b.YMin, XMax: b.XMax, YMax: b.YMax, SpatialReference: sr}
	return e, e.validate()
}

func (g Geometry) canonicalize() (Extent, error) {
	if g.Geometry == nil {
		return Extent{}, fmt.Errorf("%w: nil geometry", ErrMalformedExtent)
	}
	b := g.Geometry.Bound()
	return Extent{
		XMin:             b.Min[0],
		YMin:             b.Min[1],
		XMax:             b.Max[0],
		YMax:             b.Max[1],
		SpatialReference: g.SpatialReference,
	}.canonicalize()
}

func (d Dict) canonicalize() (Extent, error) {
	if len(d) != len(extentKeys) {
		return Extent{}, fmt.Errorf("%w: keys %s, want %s", ErrMalformedExtent, sortedKeys(d), strings.Join(extentKeys, ","))
	}
	var coords [4]float64
	for i, k := range extentKeys[:4] {
		v, ok := d[k]
		if !ok {
			return Extent{}, fmt.Errorf("%w: keys %s, want %s", ErrMalformedExtent, sortedKeys(d), strings.Join(extentKeys, ","))
		}
		f, ok := toFloat(v)
		if !ok {
			return Extent{}, fmt.Errorf("%w: %s is not a number", ErrMalformedExtent, k)
		}
		coords[i] = f
	}
	raw, ok := d[keySpatialReference]
	if !ok {
		return Extent{}, fmt.Errorf("%w: keys %s, want %s", ErrMalformedExtent, sortedKeys(d), strings.Join(extentKeys, ","))
	}
	return Bounds{
		XMin:             coords[0],
		YMin:             coords[1],
		XMax:             coords[2],
		YMax:             coords[3],
		SpatialReference: raw,
	}.canonicalize()
}

func (e Extent) validate() error {
	if !(e.XMin < e.XMax) {
		return fmt.Errorf("%w: xmin %v is not less than xmax %v", ErrInvalidExtent, e.XMin, e.XMax)
	}
	if !(e.YMin < e.YMax) {
		return fmt.Errorf("%w: ymin %v is not less than ymax %v", ErrInvalidExtent, e.YMin, e.YMax)
	}
	return nil
}

// Map returns the five key dictionary form of the extent.
func (e Extent) Map() map[string]any {
	sr := map[string]any{keyWKID: e.SpatialReference.WKID}
	if e.SpatialReference.LatestWKID != 0 {
		sr[keyLatestWKID] = e.SpatialReference.LatestWKID
	}
	return map[string]any{
		keyXMin:             e.XMin,
		keyYMin:             e.YMin,
		keyXMax:             e.XMax,
		keyYMax:             e.YMax,
		keySpatialReference: sr,
	}
}

// Bound returns the rectangle as an orb bound.
func (e Extent) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{e.XMin, e.YMin},
		Max: orb.Point{e.XMax, e.YMax},
	}
}

func (e Extent) String() string {
	return fmt.Sprintf("[%g %g, %g %g]@%d", e.XMin, e.YMin, e.XMax, e.YMax, e.SpatialReference.WKID)
}

// with returns a copy of e with a new rectangle and the same spatial reference.
func (e Extent) with(xmin, ymin, xmax, ymax float64) Extent {
	e.XMin, e.YMin, e.XMax, e.YMax = xmin, ymin, xmax, ymax
	return e
}

func spatialReferenceOf(v any) (SpatialReference, error) {
	switch sr := v.(type) {
	case nil:
		return SpatialReference{}, ErrMissingSpatialReference
	case SpatialReference:
		if sr.WKID <= 0 {
			return SpatialReference{}, fmt.Errorf("%w: wkid %d", ErrInvalidSpatialReference, sr.WKID)
		}
		return sr, nil
	case *SpatialReference:
		if sr == nil {
			return SpatialReference{}, ErrMissingSpatialReference
		}
		return spatialReferenceOf(*sr)
	case map[string]any:
		wkid, ok := toInt(sr[keyWKID])
		if !ok || wkid <= 0 {
			return SpatialReference{}, fmt.Errorf("%w: wkid %v", ErrInvalidSpatialReference, sr[keyWKID])
		}
		out := SpatialReference{WKID: wkid}
		if raw, present := sr[keyLatestWKID]; present {
			latest, ok := toInt(raw)
			if !ok || latest < 0 {
				return SpatialReference{}, fmt.Errorf("%w: latestWkid %v", ErrInvalidSpatialReference, raw)
			}
			out.LatestWKID = latest
		}
		return out, nil
	case Dict:
		return spatialReferenceOf(map[string]any(sr))
	default:
		wkid, ok := toInt(v)
		if !ok || wkid <= 0 {
			return SpatialReference{}, fmt.Errorf("%w: %v", ErrInvalidSpatialReference, v)
		}
		return SpatialReference{WKID: wkid}, nil
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}

func sortedKeys(d Dict) string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}
