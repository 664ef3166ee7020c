// Package config defines the Config struct that is the sole
// configuration surface the core touches, per §4.8. The CLI populates
// it from flags; nothing downstream reads flags or the environment
// directly.
package config

import (
	"raoteh/internal/errs"
)

// DomainSpec names one state domain to register and its alphabet.
type DomainSpec struct {
	Name    string
	Symbols []string
}

// Config is validated once, at startup, before any I/O begins.
type Config struct {
	TreeFile      string
	AlignmentFile string

	MCMC struct {
		Generations           int
		OutputFrequency       int
		PrintFrequency        int
		TreeSampleFrequency   int
		TripleRecursion       bool
		PositionSampleCount   int
	}

	Output struct {
		LikelihoodOutFile     string
		CountsOutFile         string
		SequencesOutFile      string
		SubstitutionsOutFile  string
		RateVectorsOutFile    string
	}

	Model struct {
		Domains                []DomainSpec
		UniformizationConstant float64
		MaxSegmentLength       float64
		Seed                   int64
	}
}

// Validate checks every constraint of §8 scenario 8: it must catch a
// misconfigured run before any file is opened or any tree is parsed.
func (c *Config) Validate() error {
	if c.TreeFile == "" {
		return &errs.ConfigError{Key: "tree_file", Reason: "must be set"}
	}
	if c.AlignmentFile == "" {
		return &errs.ConfigError{Key: "alignment_file", Reason: "must be set"}
	}
	if c.MCMC.Generations <= 0 {
		return &errs.ConfigError{Key: "MCMC.generations", Reason: "must be positive"}
	}
	if c.MCMC.OutputFrequency <= 0 {
		return &errs.ConfigError{Key: "MCMC.output_frequency", Reason: "must be positive"}
	}
	if c.MCMC.PrintFrequency <= 0 {
		return &errs.ConfigError{Key: "MCMC.print_frequency", Reason: "must be positive"}
	}
	if c.MCMC.TreeSampleFrequency <= 0 {
		return &errs.ConfigError{Key: "MCMC.tree_sample_frequency", Reason: "must be positive"}
	}
	if c.MCMC.PositionSampleCount <= 0 {
		return &errs.ConfigError{Key: "MCMC.position_sample_count", Reason: "must be at least 1"}
	}
	if c.Output.LikelihoodOutFile == "" {
		return &errs.ConfigError{Key: "OUTPUT.likelihood_out_file", Reason: "must be set"}
	}
	if c.Output.CountsOutFile == "" {
		return &errs.ConfigError{Key: "OUTPUT.counts_out_file", Reason: "must be set"}
	}
	if c.Output.SequencesOutFile == "" {
		return &errs.ConfigError{Key: "OUTPUT.sequences_out_file", Reason: "must be set"}
	}
	if c.Output.SubstitutionsOutFile == "" {
		return &errs.ConfigError{Key: "OUTPUT.substitutions_out_file", Reason: "must be set"}
	}
	if c.Output.RateVectorsOutFile == "" {
		return &errs.ConfigError{Key: "OUTPUT.ratevectors_out_file", Reason: "must be set"}
	}
	if len(c.Model.Domains) == 0 {
		return &errs.ConfigError{Key: "MODEL.domains", Reason: "must register at least one domain"}
	}
	for _, d := range c.Model.Domains {
		if d.Name == "" {
			return &errs.ConfigError{Key: "MODEL.domains", Reason: "domain with empty name"}
		}
		if len(d.Symbols) == 0 {
			return &errs.ConfigError{Key: "MODEL.domains", Reason: "domain " + d.Name + " has an empty alphabet"}
		}
	}
	if c.Model.UniformizationConstant <= 0 {
		return &errs.ConfigError{Key: "MODEL.uniformization_constant", Reason: "must be positive"}
	}
	if c.Model.MaxSegmentLength <= 0 {
		return &errs.ConfigError{Key: "MODEL.max_segment_length", Reason: "must be positive"}
	}
	return nil
}
