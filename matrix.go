// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package latenttb

import (
	"errors"
	"fmt"
	"sort"
)

// CountMatrix holds raw read counts, gene-major: Counts[g][s] is the
// count for Genes[g] in Samples[s]. Treat it as immutable; Subset
// returns a new matrix.
type CountMatrix struct {
	Genes   []string
	Samples []string
	Counts  [][]int64
}

// NewCountMatrix checks shape, uniqueness of identifiers, and
// non-negativity of counts.
func NewCountMatrix(genes, samples []string, counts [][]int64) (*CountMatrix, error) {
	if len(counts) != len(genes) {
		return nil, fmt.Errorf("count matrix has %d rows but %d gene IDs", len(counts), len(genes))
	}
	if len(genes) == 0 || len(samples) == 0 {
		return nil, fmt.Errorf("count matrix is empty (%d genes, %d samples)", len(genes), len(samples))
	}
	if err := checkUnique("gene", genes); err != nil {
		return nil, err
	}
	if err := checkUnique("sample", samples); err != nil {
		return nil, err
	}
	for g, row := range counts {
		if len(row) != len(samples) {
			return nil, fmt.Errorf("gene %q has %d counts, expected %d", genes[g], len(row), len(samples))
		}
		for s, v := range row {
			if v < 0 {
				return nil, fmt.Errorf("negative count %d for gene %q sample %q", v, genes[g], samples[s])
			}
		}
	}
	return &CountMatrix{Genes: genes, Samples: samples, Counts: counts}, nil
}

func checkUnique(what string, ids []string) error {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" {
			return fmt.Errorf("empty %s ID", what)
		}
		if seen[id] {
			return fmt.Errorf("duplicate %s ID %q", what, id)
		}
		seen[id] = true
	}
	return nil
}

// Subset returns a new matrix with only the given gene rows, in the
// given order. Count rows are shared with the receiver, which is
// fine because neither is ever modified.
func (cm *CountMatrix) Subset(keep []int) *CountMatrix {
	out := &CountMatrix{
		Genes:   make([]string, len(keep)),
		Samples: cm.Samples,
		Counts:  make([][]int64, len(keep)),
	}
	for i, g := range keep {
		out.Genes[i] = cm.Genes[g]
		out.Counts[i] = cm.Counts[g]
	}
	return out
}

// SubsetGenes returns a new matrix with the named genes, in the
// given order.
func (cm *CountMatrix) SubsetGenes(names []string) (*CountMatrix, error) {
	idx := make(map[string]int, len(cm.Genes))
	for i, g := range cm.Genes {
		idx[g] = i
	}
	keep := make([]int, 0, len(names))
	for _, name := range names {
		i, ok := idx[name]
		if !ok {
			return nil, fmt.Errorf("gene %q not found in count matrix", name)
		}
		keep = append(keep, i)
	}
	return cm.Subset(keep), nil
}

// Dims returns (genes, samples).
func (cm *CountMatrix) Dims() (int, int) {
	return len(cm.Genes), len(cm.Samples)
}

type SampleInfo struct {
	ID            string
	Condition     string
	PCAComponents []float64
}

// SampleMetadata maps sample IDs to condition labels. Order is not
// significant; Design aligns it to a count matrix.
type SampleMetadata []SampleInfo

// Design is a two-level condition factor aligned to the sample order
// of a count matrix.
type Design struct {
	Reference   string
	Alternative string
	// IsAlt[s] is true if sample s has the alternative condition.
	IsAlt []bool
}

// NumParams is the number of model coefficients (intercept and
// condition).
func (d *Design) NumParams() int { return 2 }

// Replicates returns the number of samples in the reference and
// alternative groups.
func (d *Design) Replicates() (ref, alt int) {
	for _, a := range d.IsAlt {
		if a {
			alt++
		} else {
			ref++
		}
	}
	return
}

// ResidualDF is the number of samples minus the number of
// coefficients.
func (d *Design) ResidualDF() int {
	return len(d.IsAlt) - d.NumParams()
}

// Design returns the condition design for the samples of cm. If
// reference is empty, the alphabetically first level is used.
func (meta SampleMetadata) Design(cm *CountMatrix, reference string) (*Design, error) {
	bySample := make(map[string]string, len(meta))
	for _, si := range meta {
		if _, dup := bySample[si.ID]; dup {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("sample %q appears more than once in metadata", si.ID)}
		}
		if si.Condition == "" {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("sample %q has no condition label", si.ID)}
		}
		bySample[si.ID] = si.Condition
	}
	inMatrix := make(map[string]bool, len(cm.Samples))
	for _, s := range cm.Samples {
		inMatrix[s] = true
		if _, ok := bySample[s]; !ok {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("sample %q in count matrix has no metadata entry", s)}
		}
	}
	for _, si := range meta {
		if !inMatrix[si.ID] {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("sample %q in metadata is not in count matrix", si.ID)}
		}
	}

	levelSet := map[string]bool{}
	for _, c := range bySample {
		levelSet[c] = true
	}
	var levels []string
	for c := range levelSet {
		levels = append(levels, c)
	}
	sort.Strings(levels)
	if len(levels) < 2 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("condition has %d distinct level(s) %q, need 2", len(levels), levels)}
	}
	if len(levels) > 2 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("condition has %d levels %q, only two-level designs are supported", len(levels), levels)}
	}
	d := &Design{Reference: levels[0], Alternative: levels[1]}
	if reference != "" {
		switch reference {
		case levels[0]:
		case levels[1]:
			d.Reference, d.Alternative = levels[1], levels[0]
		default:
			return nil, &ConfigurationError{Reason: fmt.Sprintf("reference level %q is not one of %q", reference, levels)}
		}
	}
	d.IsAlt = make([]bool, len(cm.Samples))
	for s, id := range cm.Samples {
		d.IsAlt[s] = bySample[id] == d.Alternative
	}
	return d, nil
}

var errNoSamples = errors.New("count matrix has no samples")
