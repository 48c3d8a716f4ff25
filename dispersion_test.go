// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package latenttb

import (
	"fmt"
	"math"

	"gopkg.in/check.v1"
)

type dispersionSuite struct{}

var _ = check.Suite(&dispersionSuite{})

func (s *dispersionSuite) TestParametricTrend(c *check.C) {
	var means, disps []float64
	for mu := 5.0; mu < 5000; mu *= 1.3 {
		means = append(means, mu)
		disps = append(disps, 0.05+2/mu)
	}
	a0, a1, ok := fitParametricTrend(means, disps)
	c.Assert(ok, check.Equals, true)
	c.Check(math.Abs(a0-0.05) < 1e-6, check.Equals, true, check.Commentf("a0 %g", a0))
	c.Check(math.Abs(a1-2) < 1e-6, check.Equals, true, check.Commentf("a1 %g", a1))

	_, _, ok = fitParametricTrend(means[:2], disps[:2])
	c.Check(ok, check.Equals, false)
}

func (s *dispersionSuite) TestLocalTrend(c *check.C) {
	means := []float64{1, 10, 100, 1000, 10000}
	disps := []float64{0.2, 0.2, 0.2, 0.2, 0.2}
	fn, ok := fitLocalTrend(means, disps)
	c.Assert(ok, check.Equals, true)
	for _, mu := range []float64{0.5, 3, 50, 1e5} {
		c.Check(math.Abs(fn(mu)-0.2) < 1e-12, check.Equals, true)
	}
	_, ok = fitLocalTrend(means[:2], disps[:2])
	c.Check(ok, check.Equals, false)
}

func (s *dispersionSuite) TestLowInformation(c *check.C) {
	cm := scenario1(c)
	d := scenario1Design(c, cm)
	sf, err := EstimateSizeFactors(cm)
	c.Assert(err, check.IsNil)
	disp, err := EstimateDispersions(cm, Normalize(cm, sf), sf, d, FitParametric)
	c.Assert(err, check.IsNil)
	c.Check(disp.LowInformation, check.DeepEquals, []bool{false, true, false, false})
	c.Check(disp.Final[1], check.Equals, 0.0)
	c.Check(disp.Raw[1], check.Equals, 0.0)
	for g, v := range disp.Final {
		if g == 1 {
			continue
		}
		c.Check(v >= minDispersion && v <= 10, check.Equals, true, check.Commentf("gene %d dispersion %g", g, v))
	}
	// too few usable genes for either trend
	c.Check(disp.FitType, check.Equals, FitMean)
	c.Check(disp.PriorVar >= minPriorVar, check.Equals, true)
}

func (s *dispersionSuite) TestOverdispersed(c *check.C) {
	var genes []string
	var counts [][]int64
	for g := 0; g < 40; g++ {
		base := int64(20 + 15*g)
		row := make([]int64, 8)
		for j := range row {
			// half the genes high on even samples, half on odd, so
			// size factors stay near 1 and variance is well above
			// the Poisson level
			if (j+g)%2 == 0 {
				row[j] = base + base/2
			} else {
				row[j] = base - base/2
			}
		}
		genes = append(genes, fmt.Sprintf("gene%d", g))
		counts = append(counts, row)
	}
	cm, err := NewCountMatrix(genes, []string{"s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8"}, counts)
	c.Assert(err, check.IsNil)
	d := &Design{Reference: "Healthy", Alternative: "TB", IsAlt: []bool{false, false, false, false, true, true, true, true}}
	sf, err := EstimateSizeFactors(cm)
	c.Assert(err, check.IsNil)
	for _, fitType := range []string{FitParametric, FitLocal, FitMean} {
		disp, err := EstimateDispersions(cm, Normalize(cm, sf), sf, d, fitType)
		c.Assert(err, check.IsNil)
		for g, v := range disp.Final {
			c.Check(disp.LowInformation[g], check.Equals, false)
			c.Check(v > 0.05 && v <= 10, check.Equals, true, check.Commentf("%s gene %d dispersion %g", fitType, g, v))
		}
	}
}

func (s *dispersionSuite) TestBadFitType(c *check.C) {
	cm := scenario1(c)
	d := scenario1Design(c, cm)
	_, err := EstimateDispersions(cm, Normalize(cm, []float64{1, 1, 1, 1, 1, 1}), []float64{1, 1, 1, 1, 1, 1}, d, "loess")
	c.Check(err, check.ErrorMatches, `unknown dispersion fit type "loess".*`)
}

func (s *dispersionSuite) TestClamp(c *check.C) {
	c.Check(clamp(math.NaN(), 1, 2), check.Equals, 1.0)
	c.Check(clamp(5, 1, 2), check.Equals, 2.0)
	c.Check(clamp(1.5, 1, 2), check.Equals, 1.5)
	c.Check(allEqual([]int64{3, 3, 3}), check.Equals, true)
	c.Check(allEqual([]int64{3, 3, 4}), check.Equals, false)
	c.Check(allEqual(nil), check.Equals, true)
}
