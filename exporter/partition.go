package exporter

import "math"

// OverflowSignal holds the tile counts the service reported when it refused
// an export for being too large. Estimated is always greater than Max.
type OverflowSignal struct {
	Estimated int
	Max       int
}

// Ratio is how many times over the per-request budget the export is.
func (s OverflowSignal) Ratio() float64 {
	if s.Max <= 0 {
		return math.Inf(1)
	}
	return float64(s.Estimated) / float64(s.Max)
}

// Factor is the number of slices per axis needed to bring each cell under
// budget, assuming tiles are spread evenly over the extent.
func (s OverflowSignal) Factor() int {
	return factorFor(s.Ratio())
}

func factorFor(ratio float64) int {
	if math.IsNaN(ratio) || ratio <= 1 {
		return 1
	}
	if math.IsInf(ratio, 1) {
		// a zero budget can never be met, Export stops before splitting
		return 1
	}
	return int(math.Ceil(math.Sqrt(ratio)))
}

// Split partitions ext into a square grid sized for the given overflow ratio.
func Split(ext Extent, ratio float64) []Extent {
	return Partition(ext, factorFor(ratio))
}

// Partition slices ext into factor*factor equal cells. Cells share their
// edges and together cover ext exactly. Cells are ordered x-outer, y-inner.
func Partition(ext Extent, factor int) []Extent {
	if factor < 1 {
		factor = 1
	}
	xs := sliceAxis(ext.XMin, ext.XMax, factor)
	ys := sliceAxis(ext.YMin, ext.YMax, factor)

	cells := make([]Extent, 0, factor*factor)
	for _, x := range xs {
		for _, y := range ys {
			cells = append(cells, ext.with(x[0], y[0], x[1], y[1]))
		}
	}
	return cells
}

// sliceAxis cuts [lo, hi] into n intervals of equal width. Cut points are
// measured from the nearer end so the first interval starts exactly at lo and
// the last ends exactly at hi; neighbours share the same float cut point.
func sliceAxis(lo, hi float64, n int) [][2]float64 {
	stride := (hi - lo) / float64(n)
	cuts := make([]float64, n+1)
	for k := 0; k <= n; k++ {
		if 2*k <= n {
			cuts[k] = lo + float64(k)*stride
		} else {
			cuts[k] = hi - float64(n-k)*stride
		}
	}
	out := make([][2]float64, n)
	for i := range out {
		out[i] = [2]float64{cuts[i], cuts[i+1]}
	}
	return out
}
