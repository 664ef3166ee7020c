package paramgraph

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedValueNeverChanges(t *testing.T) {
	f := NewFixed("mu", 0.5)
	require.NoError(t, f.Refresh())
	assert.Equal(t, 0.5, f.Get())
}

func TestSampleableProposeAndUndo(t *testing.T) {
	s := NewSampleable("theta", 1.0)
	rng := rand.New(rand.NewSource(7))
	ratio, undo := s.Propose(rng, 0.2)
	assert.Equal(t, 1.0, ratio)
	assert.NotEqual(t, 1.0, s.Get())
	undo()
	assert.Equal(t, 1.0, s.Get())
}

func TestVirtualRateRefreshWithinBounds(t *testing.T) {
	others := []Value{NewFixed("r1", 0.05), NewFixed("r2", 0.05), NewFixed("r3", 0.05)}
	vr := NewVirtualRate("virt", 0.3, others)
	require.NoError(t, vr.Refresh())
	assert.InDelta(t, 0.15, vr.Get(), 1e-12)
}

func TestVirtualRateRefreshOutOfBounds(t *testing.T) {
	others := []Value{NewFixed("r1", 0.4), NewFixed("r2", 0.05), NewFixed("r3", 0.05)}
	vr := NewVirtualRate("virt", 0.3, others)
	err := vr.Refresh()
	require.Error(t, err)
}

func TestGraphRefreshDependents(t *testing.T) {
	g := NewGraph()
	r1 := NewSampleable("r1", 0.05)
	r2 := NewFixed("r2", 0.05)
	r3 := NewFixed("r3", 0.05)
	vr := NewVirtualRate("virt", 0.3, []Value{r1, r2, r3})
	g.Register(r1)
	g.Register(vr)
	g.DeclareDependency("r1", vr)
	require.NoError(t, vr.Refresh())
	before := vr.Get()

	rng := rand.New(rand.NewSource(1))
	_, undo := r1.Propose(rng, 0.4)
	defer undo()

	require.NoError(t, g.RefreshDependents("r1"))
	assert.NotEqual(t, before, vr.Get())
}

func TestGraphSampleableValuesExcludesFixedAndDerived(t *testing.T) {
	g := NewGraph()
	fixed := NewFixed("f", 1.0)
	s1 := NewSampleable("s1", 0.1)
	s2 := NewSampleable("s2", 0.2)
	virt := NewVirtualRate("v", 1.0, []Value{s1, s2})
	g.Register(fixed)
	g.Register(s1)
	g.Register(virt)
	g.Register(s2)

	got := g.SampleableValues()
	require.Len(t, got, 2)
	assert.Equal(t, "s1", got[0].ID())
	assert.Equal(t, "s2", got[1].ID())
}

func TestGraphLocations(t *testing.T) {
	g := NewGraph()
	loc := RateVectorLocation{Domain: "amino_acid", ExtendedID: "ctx-1", StateIndex: 2}
	g.DeclareLocation("r1", loc)
	got := g.Locations("r1")
	require.Len(t, got, 1)
	assert.Equal(t, loc, got[0])
}
