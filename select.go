package latenttb

import (
	"math"
	"sort"
)

// SelectSignificant returns the genes with Adjusted < alpha and
// |Log2FoldChange| > minLFC, in result order. Genes with undefined
// Adjusted or Log2FoldChange are never selected.
func SelectSignificant(results []GeneResult, alpha, minLFC float64) []string {
	var genes []string
	for _, r := range results {
		if math.IsNaN(r.Adjusted) || math.IsNaN(r.Log2FoldChange) {
			continue
		}
		if r.Adjusted < alpha && math.Abs(r.Log2FoldChange) > minLFC {
			genes = append(genes, r.Gene)
		}
	}
	return genes
}

// SortByFoldChange returns a copy of results sorted by decreasing
// |Log2FoldChange|, undefined fold changes last.
func SortByFoldChange(results []GeneResult) []GeneResult {
	out := append([]GeneResult(nil), results...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := math.Abs(out[i].Log2FoldChange), math.Abs(out[j].Log2FoldChange)
		if math.IsNaN(b) {
			return !math.IsNaN(a)
		}
		return a > b
	})
	return out
}
