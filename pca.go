// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package latenttb

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	_ "net/http/pprof"
	"os"
	"sort"

	"github.com/james-bowman/nlp"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// PCAResult holds principal component scores of samples.
type PCAResult struct {
	// Scores[s][k] is the score of sample s on component k.
	Scores [][]float64
	// Fraction of total variance explained by each component.
	ExplainedVariance []float64
	// Genes most correlated with each component, strongest first.
	TopGenes [][]string
}

// RunPCA standardizes each gene (column) of data, a samples × genes
// matrix, and projects the samples onto the first k principal
// components.
func RunPCA(data [][]float64, genes []string, k, topN int) (res *PCAResult, err error) {
	rows := len(data)
	if rows < 2 {
		return nil, fmt.Errorf("PCA needs at least 2 samples, got %d", rows)
	}
	cols := len(data[0])
	if cols != len(genes) {
		return nil, fmt.Errorf("PCA input has %d columns but %d gene names", cols, len(genes))
	}
	if limit := min(rows, cols); k > limit {
		log.Warnf("PCA: reducing components from %d to %d", k, limit)
		k = limit
	}
	if k < 1 {
		return nil, errors.New("PCA needs at least 1 component and 1 gene")
	}
	std := make([][]float64, cols)
	totalVar := 0.0
	for g := range std {
		col := make([]float64, rows)
		for s, row := range data {
			col[s] = row[g]
		}
		std[g] = standardize(col)
		totalVar += stat.Variance(std[g], nil)
	}

	// features × samples, the orientation nlp expects
	flat := make([]float64, 0, rows*cols)
	for _, col := range std {
		flat = append(flat, col...)
	}
	mtx := mat.NewDense(cols, rows, flat)

	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("PCA failed: %v", r)
		}
	}()
	transformer := nlp.NewPCA(k)
	transformer.Fit(mtx)
	out, err := transformer.Transform(mtx)
	if err != nil {
		return nil, err
	}
	scoresT := out.T()

	res = &PCAResult{
		Scores:            make([][]float64, rows),
		ExplainedVariance: make([]float64, k),
		TopGenes:          make([][]string, k),
	}
	for s := range res.Scores {
		res.Scores[s] = make([]float64, k)
		for c := 0; c < k; c++ {
			res.Scores[s][c] = scoresT.At(s, c)
		}
	}
	score := make([]float64, rows)
	for c := 0; c < k; c++ {
		for s := range score {
			score[s] = res.Scores[s][c]
		}
		if totalVar > 0 {
			res.ExplainedVariance[c] = stat.Variance(score, nil) / totalVar
		}
		res.TopGenes[c] = topLoadings(std, genes, score, topN)
	}
	log.Infof("PCA: explained variance %.3f", res.ExplainedVariance)
	return res, nil
}

// topLoadings returns the n genes whose standardized values have the
// largest absolute correlation with score.
func topLoadings(std [][]float64, genes []string, score []float64, n int) []string {
	type loading struct {
		gene string
		r    float64
	}
	var ls []loading
	for g, col := range std {
		r := stat.Correlation(col, score, nil)
		if math.IsNaN(r) {
			continue
		}
		ls = append(ls, loading{genes[g], math.Abs(r)})
	}
	sort.SliceStable(ls, func(i, j int) bool { return ls[i].r > ls[j].r })
	if len(ls) > n {
		ls = ls[:n]
	}
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.gene
	}
	return out
}

// standardize returns (x-mean)/sd. A constant column becomes all
// zeros.
func standardize(a []float64) []float64 {
	mean, sd := stat.MeanStdDev(a, nil)
	out := make([]float64, len(a))
	if !(sd > 0) {
		return out
	}
	for i, x := range a {
		out[i] = (x - mean) / sd
	}
	return out
}

// degLog2 returns the clipped log2(count+eps) values of the named
// genes, samples × genes.
func degLog2(cm *CountMatrix, genes []string, eps float64) ([][]float64, error) {
	sub, err := cm.SubsetGenes(genes)
	if err != nil {
		return nil, err
	}
	return log2Matrix(sub, eps), nil
}

type pcaCmd struct{}

func (cmd *pcaCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	cfg := DefaultConfig()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	cfg.Flags(flags)
	configFile := flags.String("config", "", "load settings from YAML `file` (command line flags take precedence)")
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	countsFilename := flags.String("i", "", "count table `file`")
	metaFilename := flags.String("metadata", "", "sample metadata `file`")
	genesFilename := flags.String("genes", "", "`file` listing genes to use, one per line (default: all genes passing the filter)")
	outputDir := flags.String("output-dir", ".", "output `directory` for pca.npy and samples.csv")
	topN := flags.Int("top-genes", 5, "report `N` genes most correlated with each component")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if *configFile != "" {
		if err = cfg.Merge(*configFile, flags); err != nil {
			return 2
		}
	}
	if *countsFilename == "" || *metaFilename == "" {
		err = fmt.Errorf("%s: -i and -metadata are required", prog)
		return 2
	}
	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	cm, err := ReadCountTable(*countsFilename, cfg.SamplesAsRows)
	if err != nil {
		return 1
	}
	meta, err := ReadMetadata(*metaFilename, cfg.SampleColumn, cfg.ConditionColumn, cfg.HealthyLabel, cfg.DiseaseLabel)
	if err != nil {
		return 1
	}
	var genes []string
	if *genesFilename != "" {
		genes, err = readLines(*genesFilename)
		if err != nil {
			return 1
		}
	} else {
		var filt *filterResult
		filt, err = cfg.Filter.Apply(cm)
		if err != nil {
			return 1
		}
		genes = filt.Kept.Genes
	}
	samples, _, err := writePCA(cm, meta, genes, cfg, *topN, *outputDir)
	if err != nil {
		return 1
	}
	fmt.Fprintf(stdout, "%d samples written to %s/samples.csv\n", len(samples), *outputDir)
	return 0
}

// writePCA runs PCA on the log2 counts of genes and writes pca.npy
// and samples.csv (in count matrix sample order) to outputDir.
func writePCA(cm *CountMatrix, meta SampleMetadata, genes []string, cfg *Config, topN int, outputDir string) (SampleMetadata, *PCAResult, error) {
	cond := make(map[string]string, len(meta))
	for _, si := range meta {
		cond[si.ID] = si.Condition
	}
	data, err := degLog2(cm, genes, cfg.Filter.PseudoCount)
	if err != nil {
		return nil, nil, err
	}
	res, err := RunPCA(data, genes, cfg.PCAComponents, topN)
	if err != nil {
		return nil, nil, err
	}
	for c, top := range res.TopGenes {
		log.Infof("PC%d (%.1f%% of variance): top genes %v", c+1, 100*res.ExplainedVariance[c], top)
	}
	samples := make(SampleMetadata, len(cm.Samples))
	for s, id := range cm.Samples {
		c, ok := cond[id]
		if !ok {
			return nil, nil, &ConfigurationError{Reason: fmt.Sprintf("sample %q in count matrix has no metadata entry", id)}
		}
		samples[s] = SampleInfo{ID: id, Condition: c, PCAComponents: res.Scores[s]}
	}
	if err := os.MkdirAll(outputDir, 0777); err != nil {
		return nil, nil, err
	}
	if err := writeNumpyFile(outputDir+"/pca.npy", res.Scores); err != nil {
		return nil, nil, err
	}
	if err := writeSampleInfo(samples, outputDir+"/samples.csv"); err != nil {
		return nil, nil, err
	}
	return samples, res, nil
}
