package latenttb

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"strings"

	"gopkg.in/check.v1"
)

type cmdSuite struct{}

var _ = check.Suite(&cmdSuite{})

func writeScenario1Inputs(c *check.C) (dir, counts, meta string) {
	dir = c.MkDir()
	counts = dir + "/counts.csv"
	meta = dir + "/metadata.csv"
	c.Assert(os.WriteFile(counts, []byte(scenario1CSV), 0666), check.IsNil)
	c.Assert(os.WriteFile(meta, []byte(scenario1Metadata), 0666), check.IsNil)
	return
}

func (s *cmdSuite) TestDeseq(c *check.C) {
	dir, counts, meta := writeScenario1Inputs(c)
	outdir := dir + "/out"
	var stdout, stderr bytes.Buffer
	exited := (&deseqCmd{}).RunCommand("latenttb deseq", []string{
		"-i", counts,
		"-metadata", meta,
		"-output-dir", outdir,
		"-sqlite", outdir + "/results.db",
		"-pca=false",
	}, &bytes.Buffer{}, &stdout, &stderr)
	c.Assert(exited, check.Equals, 0, check.Commentf("%s", stderr.String()))
	c.Check(stdout.String(), check.Equals, "1 of 4 genes selected, results in "+outdir+"\n")

	deg, err := readLines(outdir + "/deg.txt")
	c.Check(err, check.IsNil)
	c.Check(deg, check.DeepEquals, []string{"A"})

	results, err := os.ReadFile(outdir + "/results.tsv")
	c.Check(err, check.IsNil)
	lines := strings.Split(strings.TrimSpace(string(results)), "\n")
	c.Check(lines, check.HasLen, 5)
	c.Check(lines[2], check.Matches, `B\t[0-9.]+\t.*\tlow-information`)

	var report map[string]interface{}
	buf, err := os.ReadFile(outdir + "/report.json")
	c.Assert(err, check.IsNil)
	c.Assert(json.Unmarshal(buf, &report), check.IsNil)
	c.Check(report["selected"], check.Equals, 1.0)
	c.Check(report["low_information"], check.Equals, 1.0)
	c.Check(report["reference"], check.Equals, "Healthy")
	c.Check(report["input_digest"], check.HasLen, 64)

	norm, err := readNumpyFile(outdir + "/normalized.npy")
	c.Assert(err, check.IsNil)
	c.Check(norm, check.HasLen, 6)
	c.Check(norm[0], check.HasLen, 4)

	_, err = os.Stat(outdir + "/results.db")
	c.Check(err, check.IsNil)
	_, err = os.Stat(outdir + "/pca.npy")
	c.Check(os.IsNotExist(err), check.Equals, true)
}

func (s *cmdSuite) TestDeseqConfigFile(c *check.C) {
	dir, counts, meta := writeScenario1Inputs(c)
	c.Assert(os.WriteFile(dir+"/config.yaml", []byte("lfc_threshold: 5\n"), 0666), check.IsNil)
	var stdout, stderr bytes.Buffer
	exited := (&deseqCmd{}).RunCommand("latenttb deseq", []string{
		"-config", dir + "/config.yaml",
		"-i", counts,
		"-metadata", meta,
		"-output-dir", dir,
	}, &bytes.Buffer{}, &stdout, &stderr)
	c.Assert(exited, check.Equals, 0, check.Commentf("%s", stderr.String()))
	c.Check(stdout.String(), check.Matches, `0 of 4 genes selected.*\n`)
}

func (s *cmdSuite) TestDeseqErrors(c *check.C) {
	dir, counts, meta := writeScenario1Inputs(c)
	var stderr bytes.Buffer
	exited := (&deseqCmd{}).RunCommand("latenttb deseq", []string{"-i", counts}, &bytes.Buffer{}, &bytes.Buffer{}, &stderr)
	c.Check(exited, check.Equals, 2)
	c.Check(stderr.String(), check.Matches, `(?s).*-i and -metadata are required.*`)

	stderr.Reset()
	exited = (&deseqCmd{}).RunCommand("latenttb deseq", []string{"-i", counts, "-metadata", meta, "-alpha", "2"}, &bytes.Buffer{}, &bytes.Buffer{}, &stderr)
	c.Check(exited, check.Equals, 2)
	c.Check(stderr.String(), check.Matches, `(?s).*alpha must be in.*`)

	// every sample labeled healthy: one condition level
	c.Assert(os.WriteFile(dir+"/onelevel.csv", []byte("sample,condition\ns1,Healthy\ns2,Healthy\ns3,Healthy\ns4,Healthy\ns5,Healthy\ns6,Healthy\n"), 0666), check.IsNil)
	stderr.Reset()
	exited = (&deseqCmd{}).RunCommand("latenttb deseq", []string{"-i", counts, "-metadata", dir + "/onelevel.csv", "-output-dir", dir}, &bytes.Buffer{}, &bytes.Buffer{}, &stderr)
	c.Check(exited, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `(?s).*configuration error: condition has 1 distinct level.*`)

	exited = (&deseqCmd{}).RunCommand("latenttb deseq", []string{"-help"}, &bytes.Buffer{}, &bytes.Buffer{}, &bytes.Buffer{})
	c.Check(exited, check.Equals, 0)
}

func (s *cmdSuite) TestSizeFactors(c *check.C) {
	_, counts, _ := writeScenario1Inputs(c)
	var stdout, stderr bytes.Buffer
	exited := (&sizeFactorsCmd{}).RunCommand("latenttb size-factors", []string{"-i", counts}, &bytes.Buffer{}, &stdout, &stderr)
	c.Assert(exited, check.Equals, 0, check.Commentf("%s", stderr.String()))
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	c.Check(lines, check.HasLen, 7)
	c.Check(lines[0], check.Equals, "sample,size_factor")
	c.Check(lines[1], check.Matches, `s1,0\.9\d*`)
}

func (s *cmdSuite) TestStats(c *check.C) {
	_, counts, _ := writeScenario1Inputs(c)
	var stdout, stderr bytes.Buffer
	exited := (&statscmd{}).RunCommand("latenttb stats", []string{"-i", counts}, &bytes.Buffer{}, &stdout, &stderr)
	c.Assert(exited, check.Equals, 0, check.Commentf("%s", stderr.String()))
	var st countStats
	c.Assert(json.Unmarshal(stdout.Bytes(), &st), check.IsNil)
	c.Check(st.Genes, check.Equals, 4)
	c.Check(st.Samples, check.Equals, 6)
	c.Check(st.SizeFactorGenes, check.Equals, 4)
	c.Check(st.ConstantGenes, check.Equals, 1)
	c.Check(st.AllZeroGenes, check.Equals, 0)
	c.Check(st.PassingFilter, check.Equals, 4)
	// fewer than 20 genes: the 5th percentile is the smallest mean
	c.Assert(st.MeanLog2Percentiles, check.HasLen, 3)
	c.Check(st.MeanLog2Percentiles[0] <= st.MeanLog2Percentiles[1], check.Equals, true)
	c.Check(st.MeanLog2Percentiles[1] <= st.MeanLog2Percentiles[2], check.Equals, true)
	c.Check(math.Abs(st.MeanLog2Percentiles[0]-meanLog2([]int64{20, 25, 22, 24, 21, 23}, 0.5)) < 1e-9, check.Equals, true)
	c.Assert(st.PerSample, check.HasLen, 6)
	c.Check(st.PerSample[0].LibrarySize, check.Equals, int64(10+50+20+100))

	stdout.Reset()
	exited = (&statscmd{}).RunCommand("latenttb stats", []string{"-i", counts, "-per-sample=false"}, &bytes.Buffer{}, &stdout, &stderr)
	c.Assert(exited, check.Equals, 0)
	c.Check(stdout.String(), check.Not(check.Matches), `(?s).*PerSample.*`)
}

func (s *cmdSuite) TestPCAAndClassify(c *check.C) {
	dir, counts, meta := writeScenario1Inputs(c)
	var stdout, stderr bytes.Buffer
	exited := (&pcaCmd{}).RunCommand("latenttb pca", []string{
		"-i", counts,
		"-metadata", meta,
		"-output-dir", dir,
		"-pca-components", "2",
	}, &bytes.Buffer{}, &stdout, &stderr)
	c.Assert(exited, check.Equals, 0, check.Commentf("%s", stderr.String()))
	c.Check(stdout.String(), check.Equals, "6 samples written to "+dir+"/samples.csv\n")

	stdout.Reset()
	exited = (&classifyCmd{}).RunCommand("latenttb classify", []string{"-samples", dir + "/samples.csv", "-folds", "3"}, &bytes.Buffer{}, &stdout, &stderr)
	c.Assert(exited, check.Equals, 0, check.Commentf("%s", stderr.String()))
	var scores []CVScore
	c.Assert(json.Unmarshal(stdout.Bytes(), &scores), check.IsNil)
	c.Check(scores, check.HasLen, 3)
	c.Check(scores[0].Model, check.Equals, "naive-bayes")

	exited = (&classifyCmd{}).RunCommand("latenttb classify", []string{"-samples", dir + "/samples.csv", "-folds", "4"}, &bytes.Buffer{}, &bytes.Buffer{}, &stderr)
	c.Check(exited, check.Equals, 1)
}

func (s *cmdSuite) TestMulti(c *check.C) {
	var stdout bytes.Buffer
	exited := handler.RunCommand("latenttb", []string{"version"}, &bytes.Buffer{}, &stdout, &bytes.Buffer{})
	c.Check(exited, check.Equals, 0)
	exited = handler.RunCommand("latenttb", []string{"no-such-command"}, &bytes.Buffer{}, &bytes.Buffer{}, &bytes.Buffer{})
	c.Check(exited, check.Equals, 2)
}
