package latenttb

import (
	"flag"
	"fmt"
	"math"
)

type filter struct {
	PseudoCount float64 `yaml:"pseudo_count"`
	MinMeanLog2 float64 `yaml:"min_mean_log2"`
}

func (f *filter) Flags(flags *flag.FlagSet) {
	flags.Float64Var(&f.PseudoCount, "pseudo-count", f.PseudoCount, "add `ε` to counts before log2 transform")
	flags.Float64Var(&f.MinMeanLog2, "min-mean-log2", f.MinMeanLog2, "drop genes whose mean log2(count+ε) is below `τ`")
}

type filterResult struct {
	Kept *CountMatrix
	// MeanLog2[g] is the statistic for input gene g.
	MeanLog2 []float64
	Removed  int
}

// Apply drops genes with low mean log2 expression. Surviving genes
// keep their original counts and order.
func (f *filter) Apply(cm *CountMatrix) (*filterResult, error) {
	if len(cm.Samples) == 0 {
		return nil, errNoSamples
	}
	if !(f.PseudoCount > 0) {
		return nil, fmt.Errorf("pseudo-count must be positive, got %g", f.PseudoCount)
	}
	res := &filterResult{MeanLog2: make([]float64, len(cm.Genes))}
	var keep []int
	for g, row := range cm.Counts {
		res.MeanLog2[g] = meanLog2(row, f.PseudoCount)
		if res.MeanLog2[g] >= f.MinMeanLog2 {
			keep = append(keep, g)
		}
	}
	res.Removed = len(cm.Genes) - len(keep)
	if len(keep) < 2 {
		return nil, &FilteringError{Kept: len(keep), Threshold: f.MinMeanLog2}
	}
	res.Kept = cm.Subset(keep)
	return res, nil
}

// log2Clip returns log2(count+eps), clipped below at log2(eps).
func log2Clip(count int64, eps float64) float64 {
	v := math.Log2(float64(count) + eps)
	if floor := math.Log2(eps); v < floor {
		return floor
	}
	return v
}

func meanLog2(row []int64, eps float64) float64 {
	sum := 0.0
	for _, c := range row {
		sum += log2Clip(c, eps)
	}
	return sum / float64(len(row))
}

// log2Matrix returns a samples × genes matrix of clipped log2
// values, the layout used for PCA and classifiers.
func log2Matrix(cm *CountMatrix, eps float64) [][]float64 {
	out := make([][]float64, len(cm.Samples))
	for s := range out {
		out[s] = make([]float64, len(cm.Genes))
		for g, row := range cm.Counts {
			out[s][g] = log2Clip(row[s], eps)
		}
	}
	return out
}
