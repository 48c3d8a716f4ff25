// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package latenttb

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

var resultColumns = []string{"gene", "baseMean", "log2FoldChange", "lfcSE", "stat", "pvalue", "padj", "bh_adj", "dispersion", "maxCooks", "status"}

// writeResults writes one tab-separated row per gene. Undefined
// values are empty fields.
func writeResults(fnm string, results []GeneResult) error {
	log.Infof("writing results to %s", fnm)
	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	fmt.Fprintln(bufw, strings.Join(resultColumns, "\t"))
	for _, r := range results {
		disp := formatFloat(r.Dispersion)
		if r.Status == StatusLowInformation {
			disp = ""
		}
		fmt.Fprintln(bufw, strings.Join([]string{
			r.Gene,
			formatFloat(r.BaseMean),
			formatFloat(r.Log2FoldChange),
			formatFloat(r.LfcSE),
			formatFloat(r.Stat),
			formatFloat(r.PValue),
			formatFloat(r.PAdj),
			formatFloat(r.Adjusted),
			disp,
			formatFloat(r.MaxCooks),
			r.Status.String(),
		}, "\t"))
	}
	if err = bufw.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", fnm, err)
	}
	return f.Close()
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// writeLines writes one string per line, e.g., the selected gene
// list for enrichment tools.
func writeLines(fnm string, lines []string) error {
	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	for _, line := range lines {
		fmt.Fprintln(bufw, line)
	}
	if err = bufw.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", fnm, err)
	}
	return f.Close()
}

// readLines returns the non-empty lines of a text file, trimmed.
func readLines(fnm string) ([]string, error) {
	buf, err := os.ReadFile(fnm)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(string(buf), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func writeReport(fnm string, report *Report) error {
	buf, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(fnm, append(buf, '\n'), 0666)
}

// writeSampleInfo writes samples.csv: index, sample ID, condition,
// and one column per principal component.
func writeSampleInfo(samples SampleMetadata, fnm string) error {
	log.Infof("writing sample metadata to %s", fnm)
	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	pcaLabels := ""
	if len(samples) > 0 {
		for i := range samples[0].PCAComponents {
			pcaLabels += fmt.Sprintf(",PC%d", i+1)
		}
	}
	_, err = fmt.Fprintf(f, "Index,SampleID,Condition%s\n", pcaLabels)
	if err != nil {
		return err
	}
	for i, si := range samples {
		var pcavals string
		for _, pcaval := range si.PCAComponents {
			pcavals += fmt.Sprintf(",%f", pcaval)
		}
		_, err = fmt.Fprintf(f, "%d,%s,%s%s\n", i, si.ID, si.Condition, pcavals)
		if err != nil {
			return fmt.Errorf("write %s: %w", fnm, err)
		}
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("close %s: %w", fnm, err)
	}
	return nil
}

// loadSampleInfo reads a file written by writeSampleInfo.
func loadSampleInfo(fnm string) (SampleMetadata, error) {
	rows, err := readTable(fnm)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || len(rows[0]) < 3 || rows[0][0] != "Index" || rows[0][1] != "SampleID" || rows[0][2] != "Condition" {
		return nil, fmt.Errorf("%s: header does not look right", fnm)
	}
	var si SampleMetadata
	for lineNum, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		if len(row) != len(rows[0]) {
			return nil, fmt.Errorf("%s line %d: %d fields, header has %d", fnm, lineNum+2, len(row), len(rows[0]))
		}
		idx, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: index: %s", fnm, lineNum+2, err)
		}
		if idx != len(si) {
			return nil, fmt.Errorf("%s line %d: index %d out of order", fnm, lineNum+2, idx)
		}
		var pcaComponents []float64
		for _, s := range row[3:] {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: cannot parse float %q: %s", fnm, lineNum+2, s, err)
			}
			pcaComponents = append(pcaComponents, f)
		}
		si = append(si, SampleInfo{ID: row[1], Condition: row[2], PCAComponents: pcaComponents})
	}
	return si, nil
}
