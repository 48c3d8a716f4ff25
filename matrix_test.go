// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package latenttb

import (
	"errors"

	"gopkg.in/check.v1"
)

type matrixSuite struct{}

var _ = check.Suite(&matrixSuite{})

func (s *matrixSuite) TestNewCountMatrix(c *check.C) {
	_, err := NewCountMatrix([]string{"g1", "g2"}, []string{"s1", "s2"}, [][]int64{{1, 2}, {3, 4}})
	c.Check(err, check.IsNil)
	_, err = NewCountMatrix([]string{"g1", "g1"}, []string{"s1", "s2"}, [][]int64{{1, 2}, {3, 4}})
	c.Check(err, check.ErrorMatches, `duplicate gene ID "g1"`)
	_, err = NewCountMatrix([]string{"g1", "g2"}, []string{"s1", "s1"}, [][]int64{{1, 2}, {3, 4}})
	c.Check(err, check.ErrorMatches, `duplicate sample ID "s1"`)
	_, err = NewCountMatrix([]string{"g1", "g2"}, []string{"s1", "s2"}, [][]int64{{1, 2}, {3}})
	c.Check(err, check.ErrorMatches, `gene "g2" has 1 counts, expected 2`)
	_, err = NewCountMatrix([]string{"g1"}, []string{"s1", "s2"}, [][]int64{{1, -2}})
	c.Check(err, check.ErrorMatches, `negative count .*`)
	_, err = NewCountMatrix([]string{"g1"}, nil, [][]int64{{}})
	c.Check(err, check.ErrorMatches, `count matrix is empty \(1 genes, 0 samples\)`)
	_, err = NewCountMatrix(nil, []string{"s1"}, nil)
	c.Check(err, check.ErrorMatches, `count matrix is empty \(0 genes, 1 samples\)`)
}

func (s *matrixSuite) TestSubset(c *check.C) {
	cm, err := NewCountMatrix([]string{"g1", "g2", "g3"}, []string{"s1", "s2"}, [][]int64{{1, 2}, {3, 4}, {5, 6}})
	c.Assert(err, check.IsNil)
	sub := cm.Subset([]int{2, 0})
	c.Check(sub.Genes, check.DeepEquals, []string{"g3", "g1"})
	c.Check(sub.Counts, check.DeepEquals, [][]int64{{5, 6}, {1, 2}})
	c.Check(cm.Genes, check.DeepEquals, []string{"g1", "g2", "g3"})

	sub, err = cm.SubsetGenes([]string{"g2"})
	c.Check(err, check.IsNil)
	c.Check(sub.Counts, check.DeepEquals, [][]int64{{3, 4}})
	_, err = cm.SubsetGenes([]string{"nope"})
	c.Check(err, check.NotNil)
}

func (s *matrixSuite) TestDesign(c *check.C) {
	cm, err := NewCountMatrix([]string{"g1"}, []string{"s1", "s2", "s3"}, [][]int64{{1, 2, 3}})
	c.Assert(err, check.IsNil)
	meta := SampleMetadata{
		{ID: "s3", Condition: "TB"},
		{ID: "s1", Condition: "Healthy"},
		{ID: "s2", Condition: "TB"},
	}
	d, err := meta.Design(cm, "")
	c.Assert(err, check.IsNil)
	c.Check(d.Reference, check.Equals, "Healthy")
	c.Check(d.Alternative, check.Equals, "TB")
	c.Check(d.IsAlt, check.DeepEquals, []bool{false, true, true})
	c.Check(d.ResidualDF(), check.Equals, 1)

	d, err = meta.Design(cm, "TB")
	c.Assert(err, check.IsNil)
	c.Check(d.Reference, check.Equals, "TB")
	c.Check(d.IsAlt, check.DeepEquals, []bool{true, false, false})
	ref, alt := d.Replicates()
	c.Check([]int{ref, alt}, check.DeepEquals, []int{2, 1})

	var cerr *ConfigurationError
	for _, trial := range []struct {
		meta SampleMetadata
		ref  string
	}{
		{SampleMetadata{{"s1", "A", nil}, {"s2", "A", nil}, {"s3", "A", nil}}, ""},
		{SampleMetadata{{"s1", "A", nil}, {"s2", "B", nil}, {"s3", "C", nil}}, ""},
		{SampleMetadata{{"s1", "A", nil}, {"s2", "B", nil}}, ""},
		{SampleMetadata{{"s1", "A", nil}, {"s2", "B", nil}, {"s3", "B", nil}, {"s4", "B", nil}}, ""},
		{SampleMetadata{{"s1", "A", nil}, {"s2", "B", nil}, {"s3", "B", nil}}, "Healthy"},
		{SampleMetadata{{"s1", "A", nil}, {"s1", "B", nil}, {"s3", "B", nil}}, ""},
	} {
		_, err := trial.meta.Design(cm, trial.ref)
		c.Check(errors.As(err, &cerr), check.Equals, true, check.Commentf("%v", trial.meta))
	}
}
