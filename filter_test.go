package latenttb

import (
	"errors"
	"math"

	"gopkg.in/check.v1"
)

type filterSuite struct{}

var _ = check.Suite(&filterSuite{})

func (s *filterSuite) TestApply(c *check.C) {
	cm, err := NewCountMatrix(
		[]string{"high", "zero", "low", "mid"},
		[]string{"s1", "s2", "s3", "s4"},
		[][]int64{
			{100, 200, 150, 120},
			{0, 0, 0, 0},
			{0, 1, 0, 0},
			{1, 2, 0, 3},
		})
	c.Assert(err, check.IsNil)
	f := filter{PseudoCount: 0.5, MinMeanLog2: 0.5}
	res, err := f.Apply(cm)
	c.Assert(err, check.IsNil)
	c.Check(res.Kept.Genes, check.DeepEquals, []string{"high", "mid"})
	c.Check(res.Kept.Counts[1], check.DeepEquals, []int64{1, 2, 0, 3})
	c.Check(res.Removed, check.Equals, 2)
	// all-zero gene sits exactly at the log2(ε) floor
	c.Check(res.MeanLog2[1], check.Equals, -1.0)

	kept := map[string]bool{}
	for _, g := range res.Kept.Genes {
		kept[g] = true
	}
	for g, name := range cm.Genes {
		if kept[name] {
			c.Check(res.MeanLog2[g] >= f.MinMeanLog2, check.Equals, true)
		} else {
			c.Check(res.MeanLog2[g] < f.MinMeanLog2, check.Equals, true)
		}
	}
}

func (s *filterSuite) TestTooFewGenes(c *check.C) {
	cm, err := NewCountMatrix([]string{"a", "b"}, []string{"s1", "s2"}, [][]int64{{100, 100}, {0, 0}})
	c.Assert(err, check.IsNil)
	_, err = (&filter{PseudoCount: 0.5, MinMeanLog2: 0.5}).Apply(cm)
	var ferr *FilteringError
	c.Check(errors.As(err, &ferr), check.Equals, true)
	c.Check(ferr.Kept, check.Equals, 1)

	_, err = (&filter{PseudoCount: 0, MinMeanLog2: 0.5}).Apply(cm)
	c.Check(err, check.ErrorMatches, `pseudo-count must be positive.*`)
}

func (s *filterSuite) TestLog2Clip(c *check.C) {
	c.Check(log2Clip(0, 0.5), check.Equals, -1.0)
	c.Check(log2Clip(1, 1), check.Equals, 1.0)
	c.Check(math.Abs(log2Clip(7, 1)-3) < 1e-12, check.Equals, true)
	cm, _ := NewCountMatrix([]string{"a", "b"}, []string{"s1", "s2", "s3"}, [][]int64{{0, 1, 3}, {7, 7, 7}})
	m := log2Matrix(cm, 1)
	c.Check(len(m), check.Equals, 3)
	c.Check(m[2], check.DeepEquals, []float64{2, 3})
}
