// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package latenttb

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
)

// EstimateSizeFactors returns one median-of-ratios size factor per
// sample, scaled so their geometric mean is 1.
//
// Genes with a zero count in any sample do not contribute. If no gene
// qualifies (for example because one sample has no reads at all) the
// result is a *NormalizationError.
func EstimateSizeFactors(cm *CountMatrix) ([]float64, error) {
	ngenes, nsamples := cm.Dims()
	if nsamples == 0 {
		return nil, errNoSamples
	}
	// log geometric mean per gene; NaN marks a disqualified gene
	logGeoMean := make([]float64, ngenes)
	qualifying := 0
	for g, row := range cm.Counts {
		sum := 0.0
		for _, c := range row {
			if c == 0 {
				sum = math.NaN()
				break
			}
			sum += math.Log(float64(c))
		}
		logGeoMean[g] = sum / float64(nsamples)
		if !math.IsNaN(sum) {
			qualifying++
		}
	}
	if qualifying == 0 {
		return nil, &NormalizationError{Genes: ngenes, Samples: nsamples}
	}

	sf := make([]float64, nsamples)
	ratios := make([]float64, 0, qualifying)
	for s := range sf {
		ratios = ratios[:0]
		for g, row := range cm.Counts {
			if math.IsNaN(logGeoMean[g]) {
				continue
			}
			ratios = append(ratios, math.Log(float64(row[s]))-logGeoMean[g])
		}
		med, err := stats.Median(ratios)
		if err != nil {
			return nil, fmt.Errorf("sample %q: %w", cm.Samples[s], err)
		}
		sf[s] = math.Exp(med)
	}
	return geoMeanScaled(sf), nil
}

// geoMeanScaled divides each factor by the geometric mean of all
// factors, in place.
func geoMeanScaled(sf []float64) []float64 {
	logMean := 0.0
	for _, v := range sf {
		logMean += math.Log(v)
	}
	gm := math.Exp(logMean / float64(len(sf)))
	for i := range sf {
		sf[i] /= gm
	}
	return sf
}

// Normalize returns counts divided by size factors, gene-major.
func Normalize(cm *CountMatrix, sf []float64) [][]float64 {
	out := make([][]float64, len(cm.Genes))
	for g, row := range cm.Counts {
		out[g] = make([]float64, len(row))
		for s, c := range row {
			out[g][s] = float64(c) / sf[s]
		}
	}
	return out
}
