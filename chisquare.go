// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package latenttb

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

var (
	chisquared = distuv.ChiSquared{K: 1}
	stdnormal  = distuv.UnitNormal
)

// waldPValue returns the two-sided p-value of a Wald statistic under
// the standard normal.
func waldPValue(z float64) float64 {
	if math.IsNaN(z) {
		return math.NaN()
	}
	return 2 * stdnormal.Survival(math.Abs(z))
}

// lrtPValue returns the p-value of a likelihood ratio test with one
// degree of freedom, given the deviances of the reduced and full
// models.
func lrtPValue(devReduced, devFull float64) float64 {
	stat := devReduced - devFull
	if math.IsNaN(stat) {
		return math.NaN()
	}
	if stat < 0 {
		stat = 0
	}
	return chisquared.Survival(stat)
}

// cooksCutoff is the 0.99 quantile of F(p, m-p), the threshold above
// which a sample's Cook's distance marks its gene as an outlier.
func cooksCutoff(p, m int) float64 {
	if m-p < 1 {
		return math.Inf(1)
	}
	return distuv.F{D1: float64(p), D2: float64(m - p)}.Quantile(0.99)
}
