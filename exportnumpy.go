package latenttb

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

// exportNumpy writes the filtered, size-factor normalized count
// matrix (samples × genes) as a .npy file, for use as a feature
// matrix outside this program.
type exportNumpy struct{}

func (cmd *exportNumpy) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	countsFilename := flags.String("i", "", "count table `file` (.csv, .tsv, .gz, .xlsx)")
	outputFilename := flags.String("o", "-", "output `file`")
	namesPrefix := flags.String("names", "", "also write gene and sample names to `prefix`-genes.txt and `prefix`-samples.txt")
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
	filt, err := cfg.Filter.Apply(cm)
	if err != nil {
		return 1
	}
	sf, err := EstimateSizeFactors(filt.Kept)
	if err != nil {
		return 1
	}
	norm := transpose(Normalize(filt.Kept, sf))

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
	if err = writeNumpy(output, norm); err != nil {
		return 1
	}
	if err = output.Close(); err != nil {
		return 1
	}
	if *namesPrefix != "" {
		if err = writeLines(*namesPrefix+"-genes.txt", filt.Kept.Genes); err != nil {
			return 1
		}
		if err = writeLines(*namesPrefix+"-samples.txt", filt.Kept.Samples); err != nil {
			return 1
		}
	}
	return 0
}

// writeNumpy writes a rows × cols float64 matrix in .npy format.
func writeNumpy(w io.Writer, data [][]float64) error {
	rows, cols := len(data), 0
	if rows > 0 {
		cols = len(data[0])
	}
	flat := make([]float64, 0, rows*cols)
	for _, row := range data {
		if len(row) != cols {
			return fmt.Errorf("ragged matrix: row has %d columns, expected %d", len(row), cols)
		}
		flat = append(flat, row...)
	}
	bufw := bufio.NewWriter(w)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	npw.Shape = []int{rows, cols}
	if err = npw.WriteFloat64(flat); err != nil {
		return err
	}
	return bufw.Flush()
}

func writeNumpyFile(fnm string, data [][]float64) error {
	log.Infof("writing %d-row matrix to %s", len(data), fnm)
	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	if err = writeNumpy(f, data); err != nil {
		return fmt.Errorf("write %s: %w", fnm, err)
	}
	return f.Close()
}

// readNumpyFile reads a 2-D float64 .npy file.
func readNumpyFile(fnm string) ([][]float64, error) {
	f, err := os.Open(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	npy, err := gonpy.NewReader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	if len(npy.Shape) != 2 {
		return nil, fmt.Errorf("%s: expected 2-D array, got shape %v", fnm, npy.Shape)
	}
	flat, err := npy.GetFloat64()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	rows, cols := npy.Shape[0], npy.Shape[1]
	out := make([][]float64, rows)
	for i := range out {
		out[i] = flat[i*cols : (i+1)*cols]
	}
	return out, nil
}

// transpose returns a new matrix with rows and columns swapped.
func transpose(m [][]float64) [][]float64 {
	if len(m) == 0 {
		return nil
	}
	out := make([][]float64, len(m[0]))
	for j := range out {
		out[j] = make([]float64, len(m))
		for i, row := range m {
			out[j][i] = row[j]
		}
	}
	return out
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
