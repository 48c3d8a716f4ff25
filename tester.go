// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package latenttb

import (
	"context"
	"fmt"
	"math"
	"runtime"

	log "github.com/sirupsen/logrus"
)

const (
	TestWald = "wald"
	TestLRT  = "lrt"
)

// GeneResult is the differential expression result for one gene.
// Undefined values are NaN.
type GeneResult struct {
	Gene           string
	BaseMean       float64
	Log2FoldChange float64
	LfcSE          float64
	Stat           float64
	PValue         float64
	// Adjusted p-value after independent filtering; NaN for genes
	// filtered out by base mean.
	PAdj float64
	// Benjamini-Hochberg adjustment over every defined PValue.
	Adjusted   float64
	Dispersion float64
	MaxCooks   float64
	Status     GeneStatus
}

type TestOptions struct {
	// TestWald (default) or TestLRT.
	Test string
	// Maximum concurrent gene fits; 0 means GOMAXPROCS.
	Threads int
	// Log fit details for this gene.
	DebugGene string
}

// TestGenes fits a negative binomial GLM to every gene and tests the
// condition coefficient. Results are in the same order as cm.Genes.
// Per-gene problems are reported in GeneResult.Status; the only
// errors are bad options and context cancellation.
func TestGenes(ctx context.Context, cm *CountMatrix, sf []float64, disp *Dispersions, d *Design, opts TestOptions) ([]GeneResult, error) {
	switch opts.Test {
	case "":
		opts.Test = TestWald
	case TestWald, TestLRT:
	default:
		return nil, fmt.Errorf("unknown test %q (use %s or %s)", opts.Test, TestWald, TestLRT)
	}
	if opts.Threads < 1 {
		opts.Threads = runtime.GOMAXPROCS(0)
	}
	ngenes, nsamples := cm.Dims()
	if len(d.IsAlt) != nsamples || len(sf) != nsamples {
		return nil, fmt.Errorf("design has %d samples and %d size factors, count matrix has %d samples", len(d.IsAlt), len(sf), nsamples)
	}

	gt := &geneTester{
		design:   d,
		disp:     disp,
		x:        make([][]float64, nsamples),
		x0:       make([][]float64, nsamples),
		offset:   make([]float64, nsamples),
		test:     opts.Test,
		debug:    opts.DebugGene,
		cooksMax: cooksCutoff(d.NumParams(), nsamples),
	}
	for j := range gt.x {
		cond := 0.0
		if d.IsAlt[j] {
			cond = 1
		}
		gt.x[j] = []float64{1, cond}
		gt.x0[j] = []float64{1}
		gt.offset[j] = math.Log(sf[j])
	}
	ref, alt := d.Replicates()
	gt.useCooks = ref >= 3 && alt >= 3

	results := make([]GeneResult, ngenes)
	thr := throttle{Max: opts.Threads}
	for g := range cm.Genes {
		if err := ctx.Err(); err != nil {
			thr.Report(err)
			break
		}
		g := g
		thr.Go(func() error {
			results[g] = gt.testGene(cm.Genes[g], g, cm.Counts[g])
			return nil
		})
	}
	if err := thr.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

type geneTester struct {
	design   *Design
	disp     *Dispersions
	x, x0    [][]float64
	offset   []float64
	test     string
	debug    string
	useCooks bool
	cooksMax float64
}

func (gt *geneTester) testGene(name string, g int, counts []int64) GeneResult {
	nan := math.NaN()
	r := GeneResult{
		Gene:           name,
		BaseMean:       gt.disp.BaseMean[g],
		Log2FoldChange: nan,
		LfcSE:          nan,
		Stat:           nan,
		PValue:         nan,
		PAdj:           nan,
		Adjusted:       nan,
		Dispersion:     gt.disp.Final[g],
		MaxCooks:       nan,
	}
	if gt.disp.LowInformation[g] {
		r.Status = StatusLowInformation
		r.Dispersion = 0
		return r
	}
	y := make([]float64, len(counts))
	for j, c := range counts {
		y[j] = float64(c)
	}
	alpha := gt.disp.Final[g]
	if gt.groupAllZero(counts) {
		// the condition coefficient diverges; IRLS can still stop on
		// a flat deviance with a meaningless fold change
		r.Status = StatusNotConverged
		log.WithField("gene", name).Debug("all counts zero in one condition")
		return r
	}
	fit := fitNB(y, gt.x, gt.offset, alpha)
	if !fit.Converged {
		r.Status = StatusNotConverged
		gt.logDebug(name, alpha, fit, nil, r)
		return r
	}
	r.Log2FoldChange = fit.Beta[1] / math.Ln2
	r.LfcSE = fit.SE[1] / math.Ln2
	cooks := cooksDistances(fit, y, alpha)
	for _, dj := range cooks {
		if !math.IsNaN(dj) && (math.IsNaN(r.MaxCooks) || dj > r.MaxCooks) {
			r.MaxCooks = dj
		}
	}
	if gt.design.ResidualDF() < 1 {
		r.Status = StatusInsufficientReplicates
		gt.logDebug(name, alpha, fit, cooks, r)
		return r
	}

	switch gt.test {
	case TestLRT:
		reduced := fitNB(y, gt.x0, gt.offset, alpha)
		if !reduced.Converged {
			r.Status = StatusNotConverged
			gt.logDebug(name, alpha, fit, cooks, r)
			return r
		}
		r.Stat = reduced.Deviance - fit.Deviance
		r.PValue = lrtPValue(reduced.Deviance, fit.Deviance)
	default:
		r.Stat = fit.Beta[1] / fit.SE[1]
		r.PValue = waldPValue(r.Stat)
	}
	if gt.useCooks && r.MaxCooks > gt.cooksMax {
		r.Status = StatusOutlier
		r.PValue = nan
	}
	gt.logDebug(name, alpha, fit, cooks, r)
	return r
}

// groupAllZero reports whether either condition has no reads for
// this gene.
func (gt *geneTester) groupAllZero(counts []int64) bool {
	var ref, alt int64
	for j, c := range counts {
		if gt.design.IsAlt[j] {
			alt += c
		} else {
			ref += c
		}
	}
	return ref == 0 || alt == 0
}

func (gt *geneTester) logDebug(name string, alpha float64, fit *nbFit, cooks []float64, r GeneResult) {
	if gt.debug == "" || gt.debug != name {
		return
	}
	log.WithFields(log.Fields{
		"gene":       name,
		"dispersion": alpha,
		"beta":       fit.Beta,
		"se":         fit.SE,
		"mu":         fit.Mu,
		"iterations": fit.Iter,
		"converged":  fit.Converged,
		"cooks":      cooks,
		"cutoff":     gt.cooksMax,
		"status":     r.Status,
		"pvalue":     r.PValue,
	}).Info("debug gene")
}
