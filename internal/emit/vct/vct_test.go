package vct_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aledsdavies/stilconv/internal/ast"
	"github.com/aledsdavies/stilconv/internal/channelmap"
	"github.com/aledsdavies/stilconv/internal/emit/vct"
	"github.com/aledsdavies/stilconv/internal/engine"
	"github.com/aledsdavies/stilconv/internal/errs"
)

func newTestSymbols() *ast.SymbolTable {
	symbols := ast.NewSymbolTable()
	symbols.Signals.Add(ast.Signal{Name: "a", Direction: ast.DirIn})
	return symbols
}

func TestTooManyWaveformTables(t *testing.T) {
	symbols := newTestSymbols()
	for i := 0; i < 9; i++ {
		symbols.AddWFT(ast.NewWaveformTable("w", 10, 0))
	}
	_, err := vct.New(&bytes.Buffer{}, symbols, nil, "test.stil")
	require.Error(t, err)
	var ce *errs.ConvertError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, errs.TooManyWaveformTables, ce.Kind)
}

func TestWriteVectorProjectsOntoChannelBuffer(t *testing.T) {
	symbols := newTestSymbols()
	cm := channelmap.Map{"a": {0}}

	var buf bytes.Buffer
	e, err := vct.New(&buf, symbols, cm, "test.stil")
	require.NoError(t, err)
	require.NoError(t, e.WriteHeader())

	err = e.WriteVector(&engine.LoweredVector{
		Signals: map[string]byte{"a": 'D'},
		Micro:   engine.Micro{Kind: engine.MicroADV},
		Address: 0,
	})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	out := buf.String()
	require.Contains(t, out, "; 0x000000", "expected an address comment for the single vector")
	require.Contains(t, out, "D"+strings.Repeat(".", 255), "channel 0 should carry 'D'; channels 1-255 unmapped")
	require.Contains(t, out, "#VECTOREND")
	require.Equal(t, 1, e.VectorCount())
}
