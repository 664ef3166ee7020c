package mcmc

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"raoteh/internal/align"
	"raoteh/internal/config"
	"raoteh/internal/domain"
	"raoteh/internal/msa"
	"raoteh/internal/output"
	"raoteh/internal/paramgraph"
	"raoteh/internal/ratevec"
	"raoteh/internal/tree"
)

func buildTestDriver(t *testing.T) *Driver {
	t.Helper()
	d, err := domain.New("nt", []string{"A", "C"})
	require.NoError(t, err)

	raw, err := msa.ParseNewick("(x:1.0,y:1.0);")
	require.NoError(t, err)
	tr, err := tree.Build(raw, 10.0, tree.UniformSplit{}, 3)
	require.NoError(t, err)

	aln := align.New(d, 1, align.Dynamic)
	require.NoError(t, aln.LoadTip("x", msa.FreqSequence{{{State: "A", Freq: 1}}}))
	require.NoError(t, aln.LoadTip("y", msa.FreqSequence{{{State: "A", Freq: 1}}}))
	require.NoError(t, aln.SyncWithTree(tr))
	require.NoError(t, aln.ValidateSiteStatic())

	graph := paramgraph.NewGraph()
	store := ratevec.NewStore(graph)
	rate := paramgraph.NewSampleable("rate01", 1.0)
	graph.Register(rate)
	for _, anc := range []int8{0, 1} {
		var cells []paramgraph.Value
		var others []paramgraph.Value
		if anc == 0 {
			cells = make([]paramgraph.Value, 2)
			cells[1] = rate
			others = []paramgraph.Value{rate}
		} else {
			cells = make([]paramgraph.Value, 2)
			cells[0] = rate
			others = []paramgraph.Value{rate}
		}
		virt := paramgraph.NewVirtualRate("virt", 1.0, others)
		require.NoError(t, virt.Refresh())
		cells[anc] = virt
		graph.DeclareDependency("rate01", virt)
		rv := &ratevec.RateVector{ID: "nt-anc", Domain: "nt", AncState: anc, Cells: cells}
		require.NoError(t, store.Add(rv, ratevec.ExtendedState{}))
	}

	m := &align.Model{
		Tree:       tr,
		Alignments: map[string]*align.Alignment{"nt": aln},
		Store:      store,
		U:          map[string]float64{"nt": 1.0},
	}
	require.NoError(t, m.ParsimonyInit("nt"))

	dir := t.TempDir()
	likeW, err := output.NewLikelihoodWriter(filepath.Join(dir, "l.tsv"))
	require.NoError(t, err)
	countsW, err := output.NewSubstitutionCountWriter(filepath.Join(dir, "c.tsv"))
	require.NoError(t, err)
	seqW, err := output.NewSequenceWriter(filepath.Join(dir, "s.tsv"))
	require.NoError(t, err)
	subW, err := output.NewSubstitutionWriter(filepath.Join(dir, "sub.tsv"))
	require.NoError(t, err)
	rvW, err := output.NewRateVectorWriter(filepath.Join(dir, "rv.tsv"))
	require.NoError(t, err)
	bundle := &output.Bundle{Likelihood: likeW, Counts: countsW, Sequences: seqW, Substitutions: subW, RateVectors: rvW}

	cfg := &config.Config{}
	cfg.MCMC.Generations = 20
	cfg.MCMC.OutputFrequency = 5
	cfg.MCMC.PrintFrequency = 100
	cfg.MCMC.TreeSampleFrequency = 4
	cfg.MCMC.PositionSampleCount = 1

	drv, err := New(m, graph, cfg, bundle, nil, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	return drv
}

func TestDriverRunsToCompletionWithoutError(t *testing.T) {
	drv := buildTestDriver(t)
	require.NoError(t, drv.Run(context.Background()))
	require.NoError(t, drv.Out.Close())
	require.Equal(t, drv.Cfg.MCMC.Generations, drv.Gen)
}

func TestDriverStopsOnCancelledContext(t *testing.T) {
	drv := buildTestDriver(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := drv.Run(ctx)
	require.Error(t, err)
	require.NoError(t, drv.Out.Close())
}
