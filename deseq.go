// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package latenttb

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strconv"

	log "github.com/sirupsen/logrus"
)

type deseqCmd struct{}

func (cmd *deseqCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	countsFilename := flags.String("i", "", "count table `file` (.csv, .tsv, .gz, .xlsx)")
	metaFilename := flags.String("metadata", "", "sample metadata `file` (.csv, .tsv, .xlsx)")
	outputDir := flags.String("output-dir", ".", "output `directory`")
	sqlitePath := flags.String("sqlite", "", "also write results to SQLite database `file`")
	sqliteDebug := flags.Bool("sqlite-debug", false, "log SQL statements")
	doPCA := flags.Bool("pca", true, "run PCA on log2 counts of selected genes, write pca.npy and samples.csv")
	doClassify := flags.Bool("classify", false, "cross-validate classifiers on PCA scores (implies -pca)")
	topN := flags.Int("top-genes", 5, "report `N` genes most correlated with each principal component")
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
	if err = cfg.Validate(); err != nil {
		return 2
	}
	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cm, err := ReadCountTable(*countsFilename, cfg.SamplesAsRows)
	if err != nil {
		return 1
	}
	meta, err := ReadMetadata(*metaFilename, cfg.SampleColumn, cfg.ConditionColumn, cfg.HealthyLabel, cfg.DiseaseLabel)
	if err != nil {
		return 1
	}
	digest, err := inputDigest(*countsFilename, *metaFilename)
	if err != nil {
		return 1
	}
	a, err := RunPipeline(ctx, cm, meta, cfg)
	if err != nil {
		return 1
	}
	a.Report.InputDigest = digest

	if err = os.MkdirAll(*outputDir, 0777); err != nil {
		return 1
	}
	if err = writeResults(*outputDir+"/results.tsv", a.Results); err != nil {
		return 1
	}
	if err = writeLines(*outputDir+"/deg.txt", a.Selected); err != nil {
		return 1
	}
	if err = writeNumpyFile(*outputDir+"/normalized.npy", transpose(a.Normalized)); err != nil {
		return 1
	}
	if err = writeLines(*outputDir+"/normalized-genes.txt", a.Filtered.Genes); err != nil {
		return 1
	}
	if err = writeLines(*outputDir+"/normalized-samples.txt", a.Filtered.Samples); err != nil {
		return 1
	}
	if err = writeReport(*outputDir+"/report.json", &a.Report); err != nil {
		return 1
	}
	if *sqlitePath != "" {
		if err = writeResultsDB(ctx, *sqlitePath, a, *sqliteDebug); err != nil {
			return 1
		}
	}

	if (*doPCA || *doClassify) && len(a.Selected) > 0 {
		var samples SampleMetadata
		samples, _, err = writePCA(a.Filtered, meta, a.Selected, cfg, *topN, *outputDir)
		if err != nil {
			return 1
		}
		if *doClassify {
			x := make([][]float64, len(samples))
			conditions := make([]string, len(samples))
			for i, si := range samples {
				x[i] = si.PCAComponents
				conditions[i] = si.Condition
			}
			if _, err = Classify(x, conditions, cfg.DiseaseLabel, cfg.Folds, cfg.Seed); err != nil {
				return 1
			}
		}
	} else if *doPCA {
		log.Warn("no genes selected, skipping PCA")
	}
	fmt.Fprintf(stdout, "%d of %d genes selected, results in %s\n", len(a.Selected), len(a.Results), *outputDir)
	return 0
}

type sizeFactorsCmd struct{}

func (cmd *sizeFactorsCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	countsFilename := flags.String("i", "", "count table `file`")
	noFilter := flags.Bool("no-filter", false, "use all genes, not only those passing the expression filter")
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
	if *countsFilename == "" {
		err = fmt.Errorf("%s: missing -i count table", prog)
		return 2
	}
	cm, err := ReadCountTable(*countsFilename, cfg.SamplesAsRows)
	if err != nil {
		return 1
	}
	if !*noFilter {
		var filt *filterResult
		filt, err = cfg.Filter.Apply(cm)
		if err != nil {
			return 1
		}
		cm = filt.Kept
	}
	sf, err := EstimateSizeFactors(cm)
	if err != nil {
		return 1
	}
	w := csv.NewWriter(stdout)
	w.Write([]string{"sample", "size_factor"})
	for s, v := range sf {
		w.Write([]string{cm.Samples[s], strconv.FormatFloat(v, 'g', -1, 64)})
	}
	w.Flush()
	err = w.Error()
	if err != nil {
		return 1
	}
	return 0
}
