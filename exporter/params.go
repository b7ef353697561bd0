package exporter

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Form fields owned by the exporter. Callers cannot set them.
const (
	paramLevels       = "levels"
	paramExportExtent = "exportExtent"
	paramToken        = "token"
)

// Form fields with a named Params field.
const (
	paramFormat            = "f"
	paramExportBy          = "exportBy"
	paramStorageFormatType = "storageFormatType"
	paramTilePackage       = "tilePackage"
	paramAreaOfInterest    = "areaOfInterest"
)

var reservedParams = map[string]struct{}{
	paramLevels:       {},
	paramExportExtent: {},
	paramToken:        {},
}

var namedParams = map[string]struct{}{
	paramFormat:            {},
	paramExportBy:          {},
	paramStorageFormatType: {},
	paramTilePackage:       {},
	paramAreaOfInterest:    {},
}

// Params are the exportTiles options a caller may tune. Extra is passed
// through untouched and may not name a reserved or named field.
type Params struct {
	// Format is the response format, "json" when empty.
	Format string
	// ExportBy is one of LevelID, Resolution or Scale.
	ExportBy string
	// StorageFormatType is Compact or CompactV2.
	StorageFormatType string
	// TilePackage asks for a tile package rather than a cache.
	TilePackage *bool
	// AreaOfInterest is a JSON polygon clipping the export.
	AreaOfInterest string
	Extra          map[string]string
}

// NewParams builds Params around a passthrough map, rejecting reserved keys.
func NewParams(extra map[string]string) (Params, error) {
	p := Params{Extra: extra}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate checks Extra against the reserved and named keys.
func (p Params) Validate() error {
	for k := range p.Extra {
		if _, ok := reservedParams[k]; ok {
			return fmt.Errorf("%w: %q is set by the exporter", ErrReservedParam, k)
		}
		if _, ok := namedParams[k]; ok {
			return fmt.Errorf("%w: %q has a named field", ErrReservedParam, k)
		}
	}
	return nil
}

func (p Params) form(levels []int, extent []byte, token string) url.Values {
	v := url.Values{}
	for k, val := range p.Extra {
		v.Set(k, val)
	}

	f := p.Format
	if f == "" {
		f = "json"
	}
	v.Set(paramFormat, f)
	if p.ExportBy != "" {
		v.Set(paramExportBy, p.ExportBy)
	}
	if p.StorageFormatType != "" {
		v.Set(paramStorageFormatType, p.StorageFormatType)
	}
	if p.TilePackage != nil {
		v.Set(paramTilePackage, strconv.FormatBool(*p.TilePackage))
	}
	if p.AreaOfInterest != "" {
		v.Set(paramAreaOfInterest, p.AreaOfInterest)
	}

	v.Set(paramLevels, joinLevels(levels))
	v.Set(paramExportExtent, string(extent))
	if token != "" {
		v.Set(paramToken, token)
	}
	return v
}

// normalizeLevels sorts and deduplicates levels and rejects negative ones.
func normalizeLevels(levels []int) ([]int, error) {
	out := make([]int, 0, len(levels))
	seen := make(map[int]struct{}, len(levels))
	for _, l := range levels {
		if l < 0 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidLevel, l)
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Ints(out)
	return out, nil
}

func levelRange(min, max int) []int {
	out := make([]int, 0, max-min+1)
	for l := min; l <= max; l++ {
		out = append(out, l)
	}
	return out
}

func joinLevels(levels []int) string {
	parts := make([]string, len(levels))
	for i, l := range levels {
		parts[i] = strconv.Itoa(l)
	}
	return strings.Join(parts, ",")
}
