// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package latenttb

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Analysis is the output of every pipeline stage.
type Analysis struct {
	Design      *Design
	Filtered    *CountMatrix
	SizeFactors []float64
	// Normalized counts of the filtered genes, gene-major.
	Normalized  [][]float64
	Dispersions *Dispersions
	Results     []GeneResult
	Selected    []string
	Report      Report
}

// Report counts genes excluded or flagged at each stage.
type Report struct {
	InputDigest            string  `json:"input_digest,omitempty"`
	Genes                  int     `json:"genes"`
	Samples                int     `json:"samples"`
	Reference              string  `json:"reference"`
	Alternative            string  `json:"alternative"`
	RemovedByFilter        int     `json:"removed_by_filter"`
	LowInformation         int     `json:"low_information"`
	NotConverged           int     `json:"not_converged"`
	Outliers               int     `json:"outliers"`
	InsufficientReplicates int     `json:"insufficient_replicates"`
	DispersionFit          string  `json:"dispersion_fit"`
	DispersionPriorVar     float64 `json:"dispersion_prior_variance"`
	DispersionOutliers     int     `json:"dispersion_outliers"`
	CorrectionSummary
	Selected int `json:"selected"`
}

// RunPipeline runs filter, normalization, dispersion estimation,
// testing, correction, and selection on counts. Errors are fatal
// preconditions (*ConfigurationError, *FilteringError,
// *NormalizationError) or context cancellation.
func RunPipeline(ctx context.Context, counts *CountMatrix, meta SampleMetadata, cfg *Config) (*Analysis, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	design, err := meta.Design(counts, cfg.Reference)
	if err != nil {
		return nil, err
	}
	a := &Analysis{Design: design}
	a.Report.Genes, a.Report.Samples = counts.Dims()
	a.Report.Reference, a.Report.Alternative = design.Reference, design.Alternative
	ref, alt := design.Replicates()
	log.Infof("design: %s (%d samples) vs reference %s (%d samples)", design.Alternative, alt, design.Reference, ref)

	filt, err := cfg.Filter.Apply(counts)
	if err != nil {
		return nil, err
	}
	a.Filtered = filt.Kept
	a.Report.RemovedByFilter = filt.Removed
	log.Infof("filter: kept %d of %d genes with mean log2(count+%g) >= %g", len(filt.Kept.Genes), len(counts.Genes), cfg.Filter.PseudoCount, cfg.Filter.MinMeanLog2)

	a.SizeFactors, err = EstimateSizeFactors(a.Filtered)
	if err != nil {
		return nil, err
	}
	a.Normalized = Normalize(a.Filtered, a.SizeFactors)

	a.Dispersions, err = EstimateDispersions(a.Filtered, a.Normalized, a.SizeFactors, design, cfg.FitType)
	if err != nil {
		return nil, err
	}
	a.Report.DispersionFit = a.Dispersions.FitType
	a.Report.DispersionPriorVar = a.Dispersions.PriorVar
	a.Report.DispersionOutliers = a.Dispersions.Outliers

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.Results, err = TestGenes(ctx, a.Filtered, a.SizeFactors, a.Dispersions, design, TestOptions{
		Test:      cfg.Test,
		Threads:   cfg.Threads,
		DebugGene: cfg.DebugGene,
	})
	if err != nil {
		return nil, fmt.Errorf("testing genes: %w", err)
	}
	for _, r := range a.Results {
		switch r.Status {
		case StatusLowInformation:
			a.Report.LowInformation++
		case StatusNotConverged:
			a.Report.NotConverged++
		case StatusOutlier:
			a.Report.Outliers++
		case StatusInsufficientReplicates:
			a.Report.InsufficientReplicates++
		}
	}

	a.Report.CorrectionSummary = Correct(a.Results, cfg.Alpha)
	a.Selected = SelectSignificant(a.Results, cfg.Alpha, cfg.LFCThreshold)
	a.Report.Selected = len(a.Selected)
	a.Report.log()
	return a, nil
}

func (r *Report) log() {
	log.Infof("report: %d genes in, %d removed by filter, %d low-information, %d not converged, %d outliers, %d insufficient replicates",
		r.Genes, r.RemovedByFilter, r.LowInformation, r.NotConverged, r.Outliers, r.InsufficientReplicates)
	log.Infof("report: %d correction gaps found, %d recovered, %d unrecovered; %d genes selected",
		r.GapsFound, r.GapsRecovered, r.GapsUnrecovered, r.Selected)
}
