package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"tileexport/exporter"
)

// loadExtent reads a geojson feature collection (or a single feature) and
// returns the bound of all its geometries in sr.
func loadExtent(path string, sr exporter.SpatialReference) (exporter.Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return exporter.Geometry{}, fmt.Errorf("unable to read file: %w", err)
	}

	var collection orb.Collection
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err == nil && len(fc.Features) > 0 {
		for _, f := range fc.Features {
			if f.Geometry != nil {
				collection = append(collection, f.Geometry)
			}
		}
	} else {
		f, ferr := geojson.UnmarshalFeature(data)
		if ferr != nil || f.Geometry == nil {
			return exporter.Geometry{}, fmt.Errorf("unable to unmarshal feature from %s", path)
		}
		collection = append(collection, f.Geometry)
	}
	if len(collection) == 0 {
		return exporter.Geometry{}, fmt.Errorf("%s has no geometry", path)
	}

	return exporter.Geometry{Geometry: collection, SpatialReference: sr}, nil
}

// parseLevels parses "0-5", "0,2,4" or a mix like "0-2,7".
func parseLevels(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	seen := make(map[int]struct{})
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(part, "-")
		min, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("bad level %q", part)
		}
		max := min
		if isRange {
			if max, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
				return nil, fmt.Errorf("bad level range %q", part)
			}
		}
		if min < 0 || max < min {
			return nil, fmt.Errorf("bad level range %q", part)
		}
		for z := min; z <= max; z++ {
			seen[z] = struct{}{}
		}
	}

	levels := make([]int, 0, len(seen))
	for z := range seen {
		levels = append(levels, z)
	}
	sort.Ints(levels)
	return levels, nil
}

// parseParams turns "name=value" pairs into extra export parameters.
func parseParams(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("bad service param %q, want name=value", p)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}
