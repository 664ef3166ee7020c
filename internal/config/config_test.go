package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	c := &Config{TreeFile: "t.nwk", AlignmentFile: "a.fasta"}
	c.MCMC.Generations = 100
	c.MCMC.OutputFrequency = 10
	c.MCMC.PrintFrequency = 10
	c.MCMC.TreeSampleFrequency = 5
	c.MCMC.PositionSampleCount = 1
	c.Output.LikelihoodOutFile = "out.l"
	c.Output.CountsOutFile = "out.counts"
	c.Output.SequencesOutFile = "out.seq"
	c.Output.SubstitutionsOutFile = "out.subs"
	c.Output.RateVectorsOutFile = "out.rv"
	c.Model.Domains = []DomainSpec{{Name: "amino_acid", Symbols: []string{"A", "C"}}}
	c.Model.UniformizationConstant = 1.0
	c.Model.MaxSegmentLength = 10.0
	return c
}

func TestValidConfigPasses(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestZeroGenerationsIsConfigError(t *testing.T) {
	c := validConfig()
	c.MCMC.Generations = 0
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MCMC.generations")
}

func TestMissingDomainsIsConfigError(t *testing.T) {
	c := validConfig()
	c.Model.Domains = nil
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MODEL.domains")
}

func TestNonPositiveUniformizationConstantIsConfigError(t *testing.T) {
	c := validConfig()
	c.Model.UniformizationConstant = 0
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "uniformization_constant")
}
