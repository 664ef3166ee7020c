package msa

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNewickRoundTrip(t *testing.T) {
	raw, err := ParseNewick("((a:0.1,b:0.2):0.3,c:0.4);")
	require.NoError(t, err)
	require.Len(t, raw.Children, 2)

	inner := raw.Children[0]
	require.Len(t, inner.Children, 2)
	assert.InDelta(t, 0.3, inner.Distance, 1e-12)
	assert.Equal(t, "a", inner.Children[0].Name)
	assert.InDelta(t, 0.1, inner.Children[0].Distance, 1e-12)
	assert.Equal(t, "c", raw.Children[1].Name)
	assert.InDelta(t, 0.4, raw.Children[1].Distance, 1e-12)
}

func TestParseNewickTwoTaxon(t *testing.T) {
	raw, err := ParseNewick("((x:1.0,y:1.0):0);")
	require.NoError(t, err)
	require.Len(t, raw.Children, 1)
	inner := raw.Children[0]
	require.Len(t, inner.Children, 2)
	assert.Equal(t, "x", inner.Children[0].Name)
	assert.Equal(t, "y", inner.Children[1].Name)
}

func TestParseNewickRejectsUnbalancedParens(t *testing.T) {
	_, err := ParseNewick("((a:0.1,b:0.2):0.3;")
	require.Error(t, err)
}

func TestParseNewickRejectsNegativeDistance(t *testing.T) {
	_, err := ParseNewick("(a:-1.0,b:1.0);")
	require.Error(t, err)
}

func TestParseFASTAOneHot(t *testing.T) {
	in := ">a\nAC-\n>b\nAAG\n"
	rawMSA, err := ParseFASTA(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, rawMSA, 2)
	a := rawMSA["a"]
	require.Len(t, a, 3)
	assert.Equal(t, "A", a[0][0].State)
	assert.Equal(t, "-", a[2][0].State)
	assert.Equal(t, 1.0, a[2][0].Freq)
}

func TestParseFrequencyTable(t *testing.T) {
	in := "x\tA:0.9,C:0.1\tG:1.0\n"
	rawMSA, err := ParseFrequencyTable(strings.NewReader(in))
	require.NoError(t, err)
	x := rawMSA["x"]
	require.Len(t, x, 2)
	require.Len(t, x[0], 2)
	assert.Equal(t, "A", x[0][0].State)
}

func TestParseFrequencyTableRejectsBadSum(t *testing.T) {
	in := "x\tA:0.5,C:0.1\n"
	_, err := ParseFrequencyTable(strings.NewReader(in))
	require.Error(t, err)
}
