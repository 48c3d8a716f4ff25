// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package latenttb

import (
	"math"
	"sort"

	log "github.com/sirupsen/logrus"
)

// AdjustBH returns Benjamini-Hochberg adjusted p-values. NaN inputs
// are excluded from the ranking and stay NaN; the number of tests is
// the number of defined p-values.
func AdjustBH(p []float64) []float64 {
	out := make([]float64, len(p))
	idx := make([]int, 0, len(p))
	for i, v := range p {
		out[i] = math.NaN()
		if !math.IsNaN(v) {
			idx = append(idx, i)
		}
	}
	n := len(idx)
	sort.SliceStable(idx, func(i, j int) bool { return p[idx[i]] < p[idx[j]] })
	cummin := 1.0
	for rank := n; rank >= 1; rank-- {
		i := idx[rank-1]
		adj := p[i] * float64(n) / float64(rank)
		if adj < cummin {
			cummin = adj
		}
		out[i] = cummin
	}
	return out
}

const (
	filterSteps       = 50
	filterSmoothWidth = 9
	// below this many rejections the least stringent filter is used
	filterMinRejections = 10
)

// IndependentFilterResult describes the base mean filter chosen by
// IndependentFilter.
type IndependentFilterResult struct {
	Theta      float64
	Cutoff     float64
	Thetas     []float64
	Rejections []int
}

// IndependentFilter sets PAdj by independent filtering on base mean:
// for each candidate quantile θ, genes with base mean below the θ
// quantile are dropped and the rest are BH adjusted. The θ chosen is
// the first whose rejection count at alpha comes within one RMSE of
// the smoothed maximum. Genes below the chosen cutoff get PAdj NaN
// even if their PValue is defined.
func IndependentFilter(results []GeneResult, alpha float64) *IndependentFilterResult {
	n := len(results)
	nan := math.NaN()
	for i := range results {
		results[i].PAdj = nan
	}
	if n == 0 {
		return &IndependentFilterResult{Theta: nan, Cutoff: nan}
	}
	baseMean := make([]float64, n)
	p := make([]float64, n)
	zeros := 0
	for i, r := range results {
		baseMean[i] = r.BaseMean
		p[i] = r.PValue
		if r.BaseMean == 0 {
			zeros++
		}
	}
	lower := float64(zeros) / float64(n)
	upper := 0.95
	if lower >= upper {
		upper = 1
	}
	sorted := append([]float64(nil), baseMean...)
	sort.Float64s(sorted)

	res := &IndependentFilterResult{
		Thetas:     make([]float64, filterSteps),
		Rejections: make([]int, filterSteps),
	}
	padj := make([][]float64, filterSteps)
	cutoffs := make([]float64, filterSteps)
	masked := make([]float64, n)
	maxRej := 0
	for t := range res.Thetas {
		theta := lower + (upper-lower)*float64(t)/float64(filterSteps-1)
		res.Thetas[t] = theta
		cutoffs[t] = quantileR7(sorted, theta)
		for i := range masked {
			if baseMean[i] >= cutoffs[t] {
				masked[i] = p[i]
			} else {
				masked[i] = nan
			}
		}
		padj[t] = AdjustBH(masked)
		for _, v := range padj[t] {
			if v < alpha {
				res.Rejections[t]++
			}
		}
		if res.Rejections[t] > maxRej {
			maxRej = res.Rejections[t]
		}
	}

	chosen := 0
	if maxRej > filterMinRejections {
		rej := make([]float64, filterSteps)
		for t, v := range res.Rejections {
			rej[t] = float64(v)
		}
		smooth := movingAverage(rej, filterSmoothWidth)
		maxSmooth, sumsq, npos := 0.0, 0.0, 0
		for t, v := range smooth {
			maxSmooth = math.Max(maxSmooth, v)
			if rej[t] > 0 {
				sumsq += (rej[t] - v) * (rej[t] - v)
				npos++
			}
		}
		thresh := maxSmooth
		if npos > 0 {
			thresh -= math.Sqrt(sumsq / float64(npos))
		}
		for t, v := range rej {
			if v > thresh {
				chosen = t
				break
			}
		}
	}
	res.Theta = res.Thetas[chosen]
	res.Cutoff = cutoffs[chosen]
	for i := range results {
		results[i].PAdj = padj[chosen][i]
	}
	return res
}

// CorrectionSummary counts genes at each step of multiple testing
// correction.
type CorrectionSummary struct {
	Tested int `json:"tested"`
	// Defined PValue but PAdj NaN after independent filtering.
	GapsFound int `json:"correction_gaps_found"`
	// Gaps that have a defined Adjusted value after the recovery
	// pass.
	GapsRecovered   int     `json:"correction_gaps_recovered"`
	GapsUnrecovered int     `json:"correction_gaps_unrecovered"`
	Undefined       int     `json:"adjusted_undefined"`
	FilterTheta     float64 `json:"independent_filter_theta"`
	FilterCutoff    float64 `json:"independent_filter_base_mean_cutoff"`
}

// Correct sets PAdj (independent filtering) and Adjusted (BH over
// every defined PValue) on results.
func Correct(results []GeneResult, alpha float64) CorrectionSummary {
	filt := IndependentFilter(results, alpha)
	p := make([]float64, len(results))
	for i, r := range results {
		p[i] = r.PValue
	}
	adj := AdjustBH(p)
	summary := CorrectionSummary{FilterTheta: filt.Theta, FilterCutoff: filt.Cutoff}
	for i := range results {
		results[i].Adjusted = adj[i]
		r := results[i]
		if !math.IsNaN(r.PValue) {
			summary.Tested++
		}
		if math.IsNaN(r.Adjusted) {
			summary.Undefined++
		}
		if !math.IsNaN(r.PValue) && math.IsNaN(r.PAdj) {
			summary.GapsFound++
			if math.IsNaN(r.Adjusted) {
				summary.GapsUnrecovered++
			} else {
				summary.GapsRecovered++
			}
		}
	}
	log.Infof("correction: %d tested, independent filter θ=%.3f (base mean ≥ %.3g), %d correction gaps found, %d recovered", summary.Tested, filt.Theta, filt.Cutoff, summary.GapsFound, summary.GapsRecovered)
	return summary
}
