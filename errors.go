// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package latenttb

import "fmt"

// ConfigurationError means the design cannot be fitted: fewer than
// two condition levels, or the count matrix and sample metadata do
// not describe the same samples.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %s", e.Reason, e.Err)
	}
	return "configuration error: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// FilteringError means the gene filter left too few genes to
// continue.
type FilteringError struct {
	Kept      int
	Threshold float64
}

func (e *FilteringError) Error() string {
	return fmt.Sprintf("filtering error: %d genes have mean log2 expression >= %g, need at least 2", e.Kept, e.Threshold)
}

// NormalizationError means no gene qualified for median-of-ratios
// size factor estimation (every gene has a zero count in at least
// one sample).
type NormalizationError struct {
	Genes   int
	Samples int
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalization error: none of %d genes has a non-zero count in all %d samples", e.Genes, e.Samples)
}

// GeneStatus records why a gene's test result is (or is not)
// defined. Per-gene failures never abort a run.
type GeneStatus int

const (
	StatusOK GeneStatus = iota
	// All counts equal (including all zero): dispersion 0, no test.
	StatusLowInformation
	// IRLS did not converge, or the information matrix was singular.
	StatusNotConverged
	// Cook's distance above cutoff.
	StatusOutlier
	// No residual degrees of freedom.
	StatusInsufficientReplicates
)

var geneStatusNames = []string{"ok", "low-information", "not-converged", "outlier", "insufficient-replicates"}

func (s GeneStatus) String() string {
	if int(s) < len(geneStatusNames) {
		return geneStatusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText makes GeneStatus readable in JSON reports.
func (s GeneStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
