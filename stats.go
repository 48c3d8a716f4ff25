package latenttb

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/montanaflynn/stats"
)

type statscmd struct {
	perSample bool
}

func (cmd *statscmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	inputFilename := flags.String("i", "", "count table `file`")
	outputFilename := flags.String("o", "-", "output `file`")
	flags.BoolVar(&cmd.perSample, "per-sample", true, "include per-sample library size, zero fraction, and detected genes")
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
	if *inputFilename == "" {
		err = fmt.Errorf("%s: missing -i count table", prog)
		return 2
	}
	cm, err := ReadCountTable(*inputFilename, cfg.SamplesAsRows)
	if err != nil {
		return 1
	}

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	bufw := bufio.NewWriter(output)
	err = cmd.doStats(cm, &cfg.Filter, bufw)
	if err != nil {
		return 1
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}

type sampleStats struct {
	Sample        string
	LibrarySize   int64
	ZeroFraction  float64
	DetectedGenes int
}

type countStats struct {
	Genes   int
	Samples int
	// genes with a zero count in some sample are not used for size
	// factors
	SizeFactorGenes   int
	AllZeroGenes      int
	ConstantGenes     int
	PassingFilter     int
	MedianLibrarySize float64
	// 5th, 50th, and 95th percentile of per-gene mean log2 counts
	MeanLog2Percentiles []float64
	PerSample           []sampleStats `json:",omitempty"`
}

func (cmd *statscmd) doStats(cm *CountMatrix, f *filter, output io.Writer) error {
	ngenes, nsamples := cm.Dims()
	ret := countStats{Genes: ngenes, Samples: nsamples}
	per := make([]sampleStats, nsamples)
	for s, id := range cm.Samples {
		per[s].Sample = id
	}
	meanLog2s := make([]float64, ngenes)
	for g, row := range cm.Counts {
		hasZero, allZero := false, true
		for s, c := range row {
			per[s].LibrarySize += c
			if c == 0 {
				hasZero = true
				per[s].ZeroFraction++
			} else {
				allZero = false
				per[s].DetectedGenes++
			}
		}
		if !hasZero {
			ret.SizeFactorGenes++
		}
		if allZero {
			ret.AllZeroGenes++
		}
		if allEqual(row) {
			ret.ConstantGenes++
		}
		meanLog2s[g] = meanLog2(row, f.PseudoCount)
		if meanLog2s[g] >= f.MinMeanLog2 {
			ret.PassingFilter++
		}
	}
	libSizes := make([]float64, nsamples)
	for s := range per {
		per[s].ZeroFraction /= float64(ngenes)
		libSizes[s] = float64(per[s].LibrarySize)
	}
	var err error
	ret.MedianLibrarySize, err = stats.Median(libSizes)
	if err != nil {
		return err
	}
	for _, pct := range []float64{5, 50, 95} {
		v, err := stats.PercentileNearestRank(meanLog2s, pct)
		if err != nil {
			return err
		}
		ret.MeanLog2Percentiles = append(ret.MeanLog2Percentiles, v)
	}
	if cmd.perSample {
		ret.PerSample = per
	}
	return json.NewEncoder(output).Encode(ret)
}
