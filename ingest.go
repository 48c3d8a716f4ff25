// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package latenttb

import (
	"bufio"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/blake2b"
)

// ReadCountTable reads a count table from a .csv, .tsv, or .xlsx
// file (.csv and .tsv may be gzipped). The first row is a header.
// By default each subsequent row is a gene: gene ID, then one count
// per sample. With samplesAsRows, each row is a sample and the
// header lists gene IDs.
func ReadCountTable(path string, samplesAsRows bool) (*CountMatrix, error) {
	rows, err := readTable(path)
	if err != nil {
		return nil, err
	}
	cm, err := parseCountRows(rows, samplesAsRows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Infof("%s: %d genes × %d samples", path, len(cm.Genes), len(cm.Samples))
	return cm, nil
}

// ReadMetadata reads a CSV/TSV/xlsx sample table and returns the
// condition of each sample. Values of conditionColumn equal to
// healthy are kept; anything else becomes disease.
func ReadMetadata(path, sampleColumn, conditionColumn, healthy, disease string) (SampleMetadata, error) {
	rows, err := readTable(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: empty metadata table", path)
	}
	sampleIdx, condIdx := -1, -1
	for i, name := range rows[0] {
		switch strings.TrimSpace(name) {
		case sampleColumn:
			sampleIdx = i
		case conditionColumn:
			condIdx = i
		}
	}
	if sampleIdx < 0 || condIdx < 0 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("%s: header %q lacks sample column %q or condition column %q", path, rows[0], sampleColumn, conditionColumn)}
	}
	var meta SampleMetadata
	for lineno, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		if len(row) <= sampleIdx || len(row) <= condIdx {
			return nil, fmt.Errorf("%s: row %d: too few fields", path, lineno+2)
		}
		cond := strings.TrimSpace(row[condIdx])
		if cond != healthy {
			cond = disease
		}
		meta = append(meta, SampleInfo{ID: strings.TrimSpace(row[sampleIdx]), Condition: cond})
	}
	return meta, nil
}

func parseCountRows(rows [][]string, samplesAsRows bool) (*CountMatrix, error) {
	for len(rows) > 0 && blankRow(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("count table needs a header and at least one data row, got %d rows", len(rows))
	}
	header := trimAll(rows[0][1:])
	var rowIDs []string
	var values [][]int64
	for i, row := range rows[1:] {
		if len(row) != len(header)+1 {
			return nil, fmt.Errorf("row %d has %d fields, header has %d", i+2, len(row), len(header)+1)
		}
		rowIDs = append(rowIDs, strings.TrimSpace(row[0]))
		vals := make([]int64, len(header))
		for j, field := range row[1:] {
			v, err := parseCount(field)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", i+2, header[j], err)
			}
			vals[j] = v
		}
		values = append(values, vals)
	}
	if !samplesAsRows {
		return NewCountMatrix(rowIDs, header, values)
	}
	counts := make([][]int64, len(header))
	for g := range counts {
		counts[g] = make([]int64, len(rowIDs))
		for s := range rowIDs {
			counts[g][s] = values[s][g]
		}
	}
	return NewCountMatrix(header, rowIDs, counts)
}

// parseCount accepts integers, and floats with no fractional part
// (spreadsheets often store counts as "12.0").
func parseCount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid count %q", s)
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("count %q is not an integer", s)
	}
	return int64(f), nil
}

// readTable returns all rows of a spreadsheet (first sheet) or
// delimited text file.
func readTable(path string) ([][]string, error) {
	if strings.HasSuffix(path, ".xlsx") {
		xf, err := excelize.OpenFile(path)
		if err != nil {
			return nil, err
		}
		defer xf.Close()
		sheets := xf.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("%s: no sheets", path)
		}
		return xf.GetRows(sheets[0])
	}
	f, err := zopen(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rdr := csv.NewReader(f)
	rdr.FieldsPerRecord = -1
	rdr.LazyQuotes = true
	if base := strings.TrimSuffix(path, ".gz"); strings.HasSuffix(base, ".tsv") || strings.HasSuffix(base, ".txt") {
		rdr.Comma = '\t'
	}
	rows, err := rdr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// zopen opens the given file, transparently decompressing it if
// fnm ends with ".gz".
func zopen(fnm string) (io.ReadCloser, error) {
	f, err := os.Open(fnm)
	if err != nil || !strings.HasSuffix(fnm, ".gz") {
		return f, err
	}
	rdr, err := pgzip.NewReader(bufio.NewReaderSize(f, 4*1024*1024))
	if err != nil {
		f.Close()
		return nil, err
	}
	return gzipr{rdr, f}, nil
}

// gzipr wraps a ReadCloser and a Closer, presenting a single Close()
// method that closes both wrapped objects.
type gzipr struct {
	io.ReadCloser
	io.Closer
}

func (gr gzipr) Close() error {
	e1 := gr.ReadCloser.Close()
	e2 := gr.Closer.Close()
	if e1 != nil {
		return e1
	}
	return e2
}

// inputDigest returns a hex BLAKE2b-256 digest of the named files'
// contents, in order.
func inputDigest(paths ...string) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func blankRow(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func trimAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.TrimSpace(s)
	}
	return out
}
