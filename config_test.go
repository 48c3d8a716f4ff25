package latenttb

import (
	"errors"
	"flag"
	"io"
	"os"

	"gopkg.in/check.v1"
)

type configSuite struct{}

var _ = check.Suite(&configSuite{})

func (s *configSuite) TestDefaults(c *check.C) {
	cfg := DefaultConfig()
	c.Check(cfg.Validate(), check.IsNil)
	c.Check(cfg.Alpha, check.Equals, 0.05)
	c.Check(cfg.LFCThreshold, check.Equals, 1.0)
	c.Check(cfg.Filter.PseudoCount, check.Equals, 0.5)
	c.Check(cfg.Filter.MinMeanLog2, check.Equals, 0.5)
}

func (s *configSuite) TestMerge(c *check.C) {
	fnm := c.MkDir() + "/config.yaml"
	c.Assert(os.WriteFile(fnm, []byte(`
filter:
  min_mean_log2: 2
alpha: 0.1
fit_type: local
disease_label: LTBI
`), 0666), check.IsNil)

	cfg := DefaultConfig()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	cfg.Flags(flags)
	c.Assert(flags.Parse([]string{"-alpha=0.01", "-threads=3"}), check.IsNil)
	c.Assert(cfg.Merge(fnm, flags), check.IsNil)

	// command line wins over the file, the file over defaults
	c.Check(cfg.Alpha, check.Equals, 0.01)
	c.Check(cfg.Threads, check.Equals, 3)
	c.Check(cfg.Filter.MinMeanLog2, check.Equals, 2.0)
	c.Check(cfg.Filter.PseudoCount, check.Equals, 0.5)
	c.Check(cfg.FitType, check.Equals, FitLocal)
	c.Check(cfg.DiseaseLabel, check.Equals, "LTBI")
	c.Check(cfg.HealthyLabel, check.Equals, "Healthy")
}

func (s *configSuite) TestLoadErrors(c *check.C) {
	dir := c.MkDir()
	c.Assert(os.WriteFile(dir+"/unknown.yaml", []byte("alpah: 0.1\n"), 0666), check.IsNil)
	c.Check(DefaultConfig().LoadFile(dir+"/unknown.yaml"), check.ErrorMatches, `(?s).*field alpah not found.*`)

	c.Assert(os.WriteFile(dir+"/empty.yaml", nil, 0666), check.IsNil)
	cfg := DefaultConfig()
	c.Check(cfg.LoadFile(dir+"/empty.yaml"), check.IsNil)
	c.Check(cfg, check.DeepEquals, DefaultConfig())

	c.Check(cfg.LoadFile(dir+"/missing.yaml"), check.NotNil)
}

func (s *configSuite) TestValidate(c *check.C) {
	for _, mangle := range []func(*Config){
		func(cfg *Config) { cfg.Alpha = 0 },
		func(cfg *Config) { cfg.Alpha = 1.5 },
		func(cfg *Config) { cfg.LFCThreshold = -1 },
		func(cfg *Config) { cfg.Filter.PseudoCount = 0 },
		func(cfg *Config) { cfg.FitType = "loess" },
		func(cfg *Config) { cfg.Test = "t" },
		func(cfg *Config) { cfg.Folds = 1 },
		func(cfg *Config) { cfg.PCAComponents = 0 },
	} {
		cfg := DefaultConfig()
		mangle(cfg)
		var cerr *ConfigurationError
		c.Check(errors.As(cfg.Validate(), &cerr), check.Equals, true, check.Commentf("%+v", cfg))
	}
}
