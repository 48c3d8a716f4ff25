// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package latenttb

import (
	"flag"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds analysis settings. Zero values are not meaningful;
// start from DefaultConfig.
type Config struct {
	Filter filter `yaml:"filter"`

	Alpha        float64 `yaml:"alpha"`
	LFCThreshold float64 `yaml:"lfc_threshold"`
	Reference    string  `yaml:"reference"`
	FitType      string  `yaml:"fit_type"`
	Test         string  `yaml:"test"`
	Threads      int     `yaml:"threads"`
	DebugGene    string  `yaml:"debug_gene"`

	// Input layout
	SamplesAsRows   bool   `yaml:"samples_as_rows"`
	SampleColumn    string `yaml:"sample_column"`
	ConditionColumn string `yaml:"condition_column"`
	HealthyLabel    string `yaml:"healthy_label"`
	DiseaseLabel    string `yaml:"disease_label"`

	// Downstream PCA and classifiers
	Seed          uint64 `yaml:"seed"`
	Folds         int    `yaml:"folds"`
	PCAComponents int    `yaml:"pca_components"`
}

func DefaultConfig() *Config {
	return &Config{
		Filter:          filter{PseudoCount: 0.5, MinMeanLog2: 0.5},
		Alpha:           0.05,
		LFCThreshold:    1,
		Reference:       "Healthy",
		FitType:         FitParametric,
		Test:            TestWald,
		SampleColumn:    "sample",
		ConditionColumn: "condition",
		HealthyLabel:    "Healthy",
		DiseaseLabel:    "TB",
		Seed:            1,
		Folds:           5,
		PCAComponents:   4,
	}
}

// Flags registers cfg's fields on flags, using the current values
// as defaults.
func (cfg *Config) Flags(flags *flag.FlagSet) {
	cfg.Filter.Flags(flags)
	flags.Float64Var(&cfg.Alpha, "alpha", cfg.Alpha, "adjusted p-value `threshold` for significance")
	flags.Float64Var(&cfg.LFCThreshold, "lfc-threshold", cfg.LFCThreshold, "minimum absolute log2 fold `change` for significance")
	flags.StringVar(&cfg.Reference, "reference", cfg.Reference, "reference condition `level` (empty: alphabetically first)")
	flags.StringVar(&cfg.FitType, "fit-type", cfg.FitType, "dispersion trend `type`: parametric, local, or mean")
	flags.StringVar(&cfg.Test, "test", cfg.Test, "`test` for the condition coefficient: wald or lrt")
	flags.IntVar(&cfg.Threads, "threads", cfg.Threads, "maximum concurrent gene fits (0: number of CPUs)")
	flags.StringVar(&cfg.DebugGene, "debug-gene", cfg.DebugGene, "log model fit details for `gene`")
	flags.BoolVar(&cfg.SamplesAsRows, "samples-as-rows", cfg.SamplesAsRows, "count table has one row per sample instead of one row per gene")
	flags.StringVar(&cfg.SampleColumn, "sample-column", cfg.SampleColumn, "metadata `column` with sample IDs")
	flags.StringVar(&cfg.ConditionColumn, "condition-column", cfg.ConditionColumn, "metadata `column` with condition labels")
	flags.StringVar(&cfg.HealthyLabel, "healthy-label", cfg.HealthyLabel, "condition `label` of control samples")
	flags.StringVar(&cfg.DiseaseLabel, "disease-label", cfg.DiseaseLabel, "condition `label` assigned to every non-control sample")
	flags.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "random `seed` for cross-validation folds")
	flags.IntVar(&cfg.Folds, "folds", cfg.Folds, "number of cross-validation `folds`")
	flags.IntVar(&cfg.PCAComponents, "pca-components", cfg.PCAComponents, "number of principal `components`")
}

// LoadFile reads YAML settings from path. Keys not present in the
// file keep their current values.
func (cfg *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	err = dec.Decode(cfg)
	if err == io.EOF {
		// empty file
		return nil
	} else if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Merge replaces cfg with the settings in the YAML file at path,
// then re-applies every flag that was set explicitly on flags, so
// the command line takes precedence over the file.
func (cfg *Config) Merge(path string, flags *flag.FlagSet) error {
	loaded := DefaultConfig()
	if err := loaded.LoadFile(path); err != nil {
		return err
	}
	fresh := flag.NewFlagSet("", flag.ContinueOnError)
	fresh.SetOutput(io.Discard)
	loaded.Flags(fresh)
	var err error
	flags.Visit(func(f *flag.Flag) {
		if fresh.Lookup(f.Name) == nil || err != nil {
			return
		}
		err = fresh.Set(f.Name, f.Value.String())
	})
	if err != nil {
		return err
	}
	*cfg = *loaded
	return nil
}

// Validate checks value ranges.
func (cfg *Config) Validate() error {
	switch {
	case !(cfg.Filter.PseudoCount > 0):
		return &ConfigurationError{Reason: fmt.Sprintf("pseudo-count must be positive, got %g", cfg.Filter.PseudoCount)}
	case !(cfg.Alpha > 0 && cfg.Alpha <= 1):
		return &ConfigurationError{Reason: fmt.Sprintf("alpha must be in (0, 1], got %g", cfg.Alpha)}
	case cfg.LFCThreshold < 0:
		return &ConfigurationError{Reason: fmt.Sprintf("lfc-threshold must not be negative, got %g", cfg.LFCThreshold)}
	case cfg.FitType != FitParametric && cfg.FitType != FitLocal && cfg.FitType != FitMean:
		return &ConfigurationError{Reason: fmt.Sprintf("unknown fit type %q", cfg.FitType)}
	case cfg.Test != TestWald && cfg.Test != TestLRT:
		return &ConfigurationError{Reason: fmt.Sprintf("unknown test %q", cfg.Test)}
	case cfg.Folds < 2:
		return &ConfigurationError{Reason: fmt.Sprintf("need at least 2 cross-validation folds, got %d", cfg.Folds)}
	case cfg.PCAComponents < 1:
		return &ConfigurationError{Reason: fmt.Sprintf("need at least 1 principal component, got %d", cfg.PCAComponents)}
	}
	return nil
}
