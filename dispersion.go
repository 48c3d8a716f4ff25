// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package latenttb

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat"
)

const (
	minDispersion = 1e-8
	// prior variance floor for log dispersion residuals
	minPriorVar = 0.25
	// raw estimates below this are not used to fit the trend
	trendMinDispersion = 100 * minDispersion
)

const (
	FitParametric = "parametric"
	FitLocal      = "local"
	FitMean       = "mean"
)

// Dispersions holds per-gene negative binomial dispersion estimates.
// For low-information genes (all counts equal) every value is 0.
type Dispersions struct {
	BaseMean       []float64
	Raw            []float64
	Trend          []float64
	Final          []float64
	LowInformation []bool

	// Fit type actually used, after fallbacks.
	FitType string
	// Parametric trend coefficients, a0 + a1/mean (zero unless
	// FitType is parametric).
	TrendCoef [2]float64
	PriorVar  float64
	// Genes that kept their raw estimate because it was far above
	// the trend.
	Outliers int
}

// EstimateDispersions estimates one dispersion per gene: a raw
// method-of-moments estimate, a fitted mean-dispersion trend, and a
// final value shrunk from the raw estimate toward the trend.
//
// norm is the size-factor normalized count matrix for cm.
func EstimateDispersions(cm *CountMatrix, norm [][]float64, sf []float64, d *Design, fitType string) (*Dispersions, error) {
	switch fitType {
	case FitParametric, FitLocal, FitMean:
	default:
		return nil, fmt.Errorf("unknown dispersion fit type %q (use %s, %s, or %s)", fitType, FitParametric, FitLocal, FitMean)
	}
	ngenes, nsamples := cm.Dims()
	df := d.ResidualDF()
	maxDispersion := math.Max(10, float64(nsamples))
	xim := 0.0
	for _, s := range sf {
		xim += 1 / s
	}
	xim /= float64(len(sf))

	disp := &Dispersions{
		BaseMean:       make([]float64, ngenes),
		Raw:            make([]float64, ngenes),
		Trend:          make([]float64, ngenes),
		Final:          make([]float64, ngenes),
		LowInformation: make([]bool, ngenes),
	}
	for g, row := range cm.Counts {
		disp.BaseMean[g] = stat.Mean(norm[g], nil)
		if allEqual(row) {
			disp.LowInformation[g] = true
			continue
		}
		raw := momentsDispersion(norm[g], xim)
		if df >= 1 {
			if rough := roughDispersion(norm[g], d.IsAlt, df); !math.IsNaN(rough) && (math.IsNaN(raw) || rough < raw) {
				raw = rough
			}
		}
		disp.Raw[g] = clamp(raw, minDispersion, maxDispersion)
	}

	var usable []int
	for g := range cm.Genes {
		if !disp.LowInformation[g] && disp.BaseMean[g] > 0 && disp.Raw[g] >= trendMinDispersion {
			usable = append(usable, g)
		}
	}
	trend := disp.fitTrend(usable, fitType)
	for g := range cm.Genes {
		if !disp.LowInformation[g] {
			disp.Trend[g] = clamp(trend(disp.BaseMean[g]), minDispersion, maxDispersion)
		}
	}

	var resid []float64
	for _, g := range usable {
		resid = append(resid, math.Log(disp.Raw[g])-math.Log(disp.Trend[g]))
	}
	varLogResid := 0.0
	if len(resid) >= 2 {
		mad, err := stats.MedianAbsoluteDeviation(resid)
		if err == nil {
			varLogResid = math.Pow(1.4826*mad, 2)
		}
	}
	if df >= 1 {
		sampleVar := mathext.Zeta(2, float64(df)/2) // trigamma
		disp.PriorVar = math.Max(varLogResid-sampleVar, minPriorVar)
		for g := range cm.Genes {
			if disp.LowInformation[g] {
				continue
			}
			logRaw, logTrend := math.Log(disp.Raw[g]), math.Log(disp.Trend[g])
			if logRaw > logTrend+2*math.Sqrt(disp.PriorVar) {
				disp.Final[g] = disp.Raw[g]
				disp.Outliers++
				continue
			}
			post := (logRaw/sampleVar + logTrend/disp.PriorVar) / (1/sampleVar + 1/disp.PriorVar)
			disp.Final[g] = clamp(math.Exp(post), minDispersion, maxDispersion)
		}
	} else {
		// No residual degrees of freedom: the raw estimate carries no
		// information about within-group variation.
		disp.PriorVar = math.Max(varLogResid, minPriorVar)
		for g := range cm.Genes {
			if !disp.LowInformation[g] {
				disp.Final[g] = disp.Trend[g]
			}
		}
	}
	log.Infof("dispersion: %s trend fitted on %d genes, prior variance %.3g, %d dispersion outliers", disp.FitType, len(usable), disp.PriorVar, disp.Outliers)
	return disp, nil
}

// fitTrend returns the mean-dispersion trend function, trying the
// requested fit type first and falling back parametric → local →
// mean.
func (disp *Dispersions) fitTrend(usable []int, fitType string) func(float64) float64 {
	means := make([]float64, len(usable))
	raws := make([]float64, len(usable))
	for i, g := range usable {
		means[i] = disp.BaseMean[g]
		raws[i] = disp.Raw[g]
	}
	if fitType == FitParametric {
		if a0, a1, ok := fitParametricTrend(means, raws); ok {
			disp.FitType = FitParametric
			disp.TrendCoef = [2]float64{a0, a1}
			return func(mu float64) float64 { return a0 + a1/mu }
		}
		log.Warn("dispersion: parametric trend fit failed, using local fit")
		fitType = FitLocal
	}
	if fitType == FitLocal {
		if fn, ok := fitLocalTrend(means, raws); ok {
			disp.FitType = FitLocal
			return fn
		}
		log.Warn("dispersion: too few genes for local trend fit, using mean")
	}
	disp.FitType = FitMean
	if len(raws) == 0 {
		// Nothing passed the trend threshold; fall back to every
		// informative gene.
		for g, raw := range disp.Raw {
			if !disp.LowInformation[g] {
				raws = append(raws, raw)
			}
		}
	}
	mean := minDispersion
	if len(raws) > 0 {
		mean = stat.Mean(raws, nil)
	}
	return func(float64) float64 { return mean }
}

// fitParametricTrend fits dispersion = a0 + a1/mean by iteratively
// reweighted least squares with gamma-family weights, excluding
// points whose ratio to the current fit is outside (1e-4, 15).
func fitParametricTrend(means, disps []float64) (a0, a1 float64, ok bool) {
	a0, a1 = 0.1, 1
	xs := make([]float64, 0, len(means))
	ys := make([]float64, 0, len(means))
	ws := make([]float64, 0, len(means))
	for iter := 0; iter < 10; iter++ {
		xs, ys, ws = xs[:0], ys[:0], ws[:0]
		for i, mu := range means {
			fit := a0 + a1/mu
			if r := disps[i] / fit; r <= 1e-4 || r >= 15 {
				continue
			}
			xs = append(xs, 1/mu)
			ys = append(ys, disps[i])
			ws = append(ws, 1/(fit*fit))
		}
		if len(xs) < 3 {
			return 0, 0, false
		}
		na0, na1 := stat.LinearRegression(xs, ys, ws, false)
		if !(na0 > 0) || !(na1 > 0) {
			return 0, 0, false
		}
		change := math.Abs(math.Log(na0/a0)) + math.Abs(math.Log(na1/a1))
		a0, a1 = na0, na1
		if change < 1e-6 {
			return a0, a1, true
		}
	}
	return 0, 0, false
}

// fitLocalTrend smooths log dispersion against log mean with a
// moving average and interpolates between the smoothed points.
func fitLocalTrend(means, disps []float64) (func(float64) float64, bool) {
	n := len(means)
	if n < 3 {
		return nil, false
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return means[idx[i]] < means[idx[j]] })
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, j := range idx {
		xs[i] = math.Log(means[j])
		ys[i] = math.Log(disps[j])
	}
	width := n / 5
	if width < 3 {
		width = 3
	}
	if width%2 == 0 {
		width++
	}
	smoothed := movingAverage(ys, width)
	return func(mu float64) float64 {
		return math.Exp(interpolate(xs, smoothed, math.Log(mu)))
	}, true
}

// momentsDispersion solves var = mean*xim + α·mean² for α, ignoring
// the design.
func momentsDispersion(q []float64, xim float64) float64 {
	mean, variance := stat.MeanVariance(q, nil)
	if mean == 0 {
		return math.NaN()
	}
	return (variance - xim*mean) / (mean * mean)
}

// roughDispersion is the method-of-moments estimate using residuals
// from the per-condition means.
func roughDispersion(q []float64, isAlt []bool, df int) float64 {
	var sum, n [2]float64
	for j, v := range q {
		k := 0
		if isAlt[j] {
			k = 1
		}
		sum[k] += v
		n[k]++
	}
	var mu [2]float64
	for k := range mu {
		if n[k] > 0 {
			mu[k] = sum[k] / n[k]
		}
	}
	est := 0.0
	for j, v := range q {
		m := mu[0]
		if isAlt[j] {
			m = mu[1]
		}
		if m == 0 {
			continue
		}
		est += ((v-m)*(v-m) - m) / (m * m)
	}
	return est / float64(df)
}

func allEqual(row []int64) bool {
	if len(row) == 0 {
		return true
	}
	for _, v := range row[1:] {
		if v != row[0] {
			return false
		}
	}
	return true
}

func clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) || x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
