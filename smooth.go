package latenttb

import (
	"math"
	"sort"
)

// convolveFull returns the full discrete convolution of a and k
// (length len(a)+len(k)-1).
func convolveFull(a, k []float64) []float64 {
	if len(a) == 0 || len(k) == 0 {
		return nil
	}
	out := make([]float64, len(a)+len(k)-1)
	for i, av := range a {
		for j, kv := range k {
			out[i+j] += av * kv
		}
	}
	return out
}

// centered returns the middle newsize elements of arr. If the excess
// is odd, the extra element is dropped from the end.
func centered(arr []float64, newsize int) []float64 {
	if newsize >= len(arr) {
		return append([]float64(nil), arr...)
	}
	start := (len(arr) - newsize) / 2
	return append([]float64(nil), arr[start:start+newsize]...)
}

// movingAverage smooths y with a flat window of the given width. The
// window shrinks at the ends so edge values are averages of the
// available neighbours, not of zero padding.
func movingAverage(y []float64, width int) []float64 {
	if width < 1 {
		width = 1
	}
	if width > len(y) {
		width = len(y)
	}
	kernel := make([]float64, width)
	ones := make([]float64, len(y))
	for i := range kernel {
		kernel[i] = 1
	}
	for i := range ones {
		ones[i] = 1
	}
	sum := centered(convolveFull(y, kernel), len(y))
	n := centered(convolveFull(ones, kernel), len(y))
	for i := range sum {
		sum[i] /= n[i]
	}
	return sum
}

// interpolate returns the piecewise linear interpolation of
// (xs, ys) at x; xs must be sorted ascending. Values outside the
// range are clamped to the end points.
func interpolate(xs, ys []float64, x float64) float64 {
	n := len(xs)
	if n == 0 {
		return math.NaN()
	}
	if x <= xs[0] {
		return ys[0]
	}
	if x >= xs[n-1] {
		return ys[n-1]
	}
	i := sort.SearchFloat64s(xs, x)
	x0, x1 := xs[i-1], xs[i]
	if x1 == x0 {
		return ys[i]
	}
	return ys[i-1] + (ys[i]-ys[i-1])*(x-x0)/(x1-x0)
}

// quantileR7 returns the pth quantile of v using the R-7 method
// (linear interpolation between order statistics). v is sorted in
// place.
func quantileR7(v []float64, p float64) float64 {
	sort.Float64s(v)
	if p >= 1 {
		return v[len(v)-1]
	}
	if p <= 0 {
		return v[0]
	}
	h := float64(len(v)-1) * p
	i := int(h)
	if i+1 >= len(v) {
		return v[i]
	}
	return v[i] + (h-math.Floor(h))*(v[i+1]-v[i])
}
