package exporter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartition_CoversExtent(t *testing.T) {
	exts := []Extent{
		testExtent,
		{XMin: -13957416.7735, YMin: 5638646.356700003, XMax: -12946003.8225, YMax: 6348834.4032000005, SpatialReference: SpatialReference{WKID: 102100, LatestWKID: 3857}},
		{XMin: 0.1, YMin: -0.3, XMax: 0.7, YMax: 0.2, SpatialReference: SpatialReference{WKID: 4326}},
	}
	for _, ext := range exts {
		for factor := 1; factor <= 9; factor++ {
			cells := Partition(ext, factor)
			require.Len(t, cells, factor*factor)

			xs := distinctIntervals(cells, func(e Extent) [2]float64 { return [2]float64{e.XMin, e.XMax} })
			ys := distinctIntervals(cells, func(e Extent) [2]float64 { return [2]float64{e.YMin, e.YMax} })
			assertTiles(t, xs, ext.XMin, ext.XMax, factor)
			assertTiles(t, ys, ext.YMin, ext.YMax, factor)

			for _, c := range cells {
				assert.Equal(t, ext.SpatialReference, c.SpatialReference)
				_, err := Canonicalize(c)
				assert.NoError(t, err)
			}
		}
	}
}

func TestPartition_DoesNotMutateSource(t *testing.T) {
	ext := testExtent
	cells := Partition(ext, 3)
	cells[0].XMin = -1
	assert.Equal(t, testExtent, ext)
}

func TestPartition_Order(t *testing.T) {
	cells := Partition(testExtent, 2)
	want := []Extent{
		testExtent.with(0, 0, 50, 50),
		testExtent.with(0, 50, 50, 100),
		testExtent.with(50, 0, 100, 50),
		testExtent.with(50, 50, 100, 100),
	}
	assert.Equal(t, want, cells)
}

func TestOverflow_ParseAndSplit(t *testing.T) {
	sig, ok := ParseOverflow("ERROR 001564: The estimated tile count of (15000) is greater than the max export tiles count of (5000).")
	require.True(t, ok)
	assert.Equal(t, OverflowSignal{Estimated: 15000, Max: 5000}, sig)
	assert.Equal(t, 2, sig.Factor())
	assert.Len(t, Split(testExtent, sig.Ratio()), 4)
}

func TestParseOverflow_Wording(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want OverflowSignal
		ok   bool
	}{
		{"singular tile", "estimated tile count (120001) is greater than max export tile count (100000)", OverflowSignal{120001, 100000}, true},
		{"mixed case", "The Estimated Tile Count of (9) is Greater Than the Maximum Export Tiles Count of (4)", OverflowSignal{9, 4}, true},
		{"multi line", "estimated tile count\nof ( 30 )\nis greater than the\nmax export tiles count of ( 10 )", OverflowSignal{30, 10}, true},
		{"not greater", "estimated tile count of (10) is greater than the max export tiles count of (10)", OverflowSignal{}, false},
		{"unrelated", "Unable to complete operation.", OverflowSignal{}, false},
		{"missing numbers", "estimated tile count is greater than max export tiles count", OverflowSignal{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseOverflow(tt.msg)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOverflowSignal_Factor(t *testing.T) {
	tests := []struct {
		sig  OverflowSignal
		want int
	}{
		{OverflowSignal{5001, 5000}, 2},
		{OverflowSignal{20000, 5000}, 2},
		{OverflowSignal{20001, 5000}, 3},
		{OverflowSignal{45000, 5000}, 3},
		{OverflowSignal{1000000, 100}, 100},
		{OverflowSignal{10, 0}, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.sig.Factor(), "%+v", tt.sig)
	}
	assert.True(t, math.IsInf(OverflowSignal{10, 0}.Ratio(), 1))
}

// distinctIntervals returns the distinct axis intervals of cells in order
// of first appearance.
func distinctIntervals(cells []Extent, axis func(Extent) [2]float64) [][2]float64 {
	seen := map[[2]float64]bool{}
	var out [][2]float64
	for _, c := range cells {
		iv := axis(c)
		if !seen[iv] {
			seen[iv] = true
			out = append(out, iv)
		}
	}
	return out
}

func assertTiles(t *testing.T, ivs [][2]float64, lo, hi float64, factor int) {
	t.Helper()
	require.Len(t, ivs, factor)
	assert.Equal(t, lo, ivs[0][0])
	assert.Equal(t, hi, ivs[len(ivs)-1][1])
	width := (hi - lo) / float64(factor)
	for i, iv := range ivs {
		assert.Less(t, iv[0], iv[1])
		assert.InDelta(t, width, iv[1]-iv[0], math.Abs(width)*1e-9)
		if i > 0 {
			assert.Equal(t, ivs[i-1][1], iv[0], "interval %d must start where %d ends", i, i-1)
		}
	}
}
