package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	d, err := New("amino_acid", []string{"A", "C", "D", "E"})
	require.NoError(t, err)

	for _, sym := range d.Symbols() {
		code, err := d.Encode(sym)
		require.NoError(t, err)
		back, err := d.Decode(code)
		require.NoError(t, err)
		assert.Equal(t, sym, back)
	}
}

func TestGapEncodesToReservedCode(t *testing.T) {
	d, err := New("amino_acid", []string{"A", "C"})
	require.NoError(t, err)

	code, err := d.Encode("-")
	require.NoError(t, err)
	assert.Equal(t, Gap, code)

	sym, err := d.Decode(Gap)
	require.NoError(t, err)
	assert.Equal(t, "-", sym)
}

func TestEncodeUnknownSymbol(t *testing.T) {
	d, err := New("amino_acid", []string{"A", "C"})
	require.NoError(t, err)

	_, err = d.Encode("Z")
	var unk *UnknownSymbolError
	require.True(t, errors.As(err, &unk))
	assert.Equal(t, "Z", unk.Symbol)
}

func TestDecodeUnknownCode(t *testing.T) {
	d, err := New("amino_acid", []string{"A", "C"})
	require.NoError(t, err)

	_, err = d.Decode(5)
	var unk *UnknownCodeError
	require.True(t, errors.As(err, &unk))
}

func TestNewRejectsGapSymbol(t *testing.T) {
	_, err := New("bad", []string{"A", "-"})
	require.Error(t, err)
}

func TestNewRejectsDuplicateSymbol(t *testing.T) {
	_, err := New("bad", []string{"A", "A"})
	require.Error(t, err)
}

func TestNewRejectsEmptyAlphabet(t *testing.T) {
	_, err := New("empty", nil)
	require.Error(t, err)
}

func TestNewRejectsOversizedAlphabet(t *testing.T) {
	symbols := make([]string, 128)
	for i := range symbols {
		symbols[i] = string(rune('!' + i))
	}
	_, err := New("huge", symbols)
	require.Error(t, err)
}
