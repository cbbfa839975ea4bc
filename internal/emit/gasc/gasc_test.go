package gasc_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aledsdavies/stilconv/internal/ast"
	"github.com/aledsdavies/stilconv/internal/emit/gasc"
	"github.com/aledsdavies/stilconv/internal/engine"
)

func TestWriteVectorOmitsADVAndWFTWhenUnset(t *testing.T) {
	symbols := ast.NewSymbolTable()
	symbols.Signals.Add(ast.Signal{Name: "a", Direction: ast.DirIn})
	symbols.Signals.Add(ast.Signal{Name: "b", Direction: ast.DirIn})

	var buf bytes.Buffer
	e := gasc.New(&buf, symbols, "p", "test.stil")
	require.NoError(t, e.WriteHeader())

	err := e.WriteVector(&engine.LoweredVector{
		Signals: map[string]byte{"a": 'D', "b": 'U'},
		Micro:   engine.Micro{Kind: engine.MicroADV},
	})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	out := buf.String()
	require.Contains(t, out, "*DU*;\n")
	require.NotContains(t, out, "#ADV")
	require.True(t, strings.HasSuffix(strings.TrimRight(out, "\n"), "}"))
	require.Equal(t, 1, e.VectorCount())
}

func TestWriteVectorIncludesMicroWFTAndLabel(t *testing.T) {
	symbols := ast.NewSymbolTable()
	symbols.Signals.Add(ast.Signal{Name: "a", Direction: ast.DirIn})
	wft := ast.NewWaveformTable("w", 10, 0)
	symbols.AddWFT(wft)

	var buf bytes.Buffer
	e := gasc.New(&buf, symbols, "p", "test.stil")
	require.NoError(t, e.WriteHeader())

	err := e.WriteVector(&engine.LoweredVector{
		WFT:     wft,
		Signals: map[string]byte{"a": 'D'},
		Micro:   engine.Micro{Kind: engine.MicroHALT},
		Labels:  []string{"start"},
	})
	require.NoError(t, err)

	require.Contains(t, buf.String(), "*D*#HALT;w:start;\n")
}

func TestWriteVectorOmitsRepeatedWFTSuffix(t *testing.T) {
	symbols := ast.NewSymbolTable()
	symbols.Signals.Add(ast.Signal{Name: "a", Direction: ast.DirIn})
	wft := ast.NewWaveformTable("w", 10, 0)
	symbols.AddWFT(wft)

	var buf bytes.Buffer
	e := gasc.New(&buf, symbols, "p", "test.stil")
	require.NoError(t, e.WriteHeader())

	for i := 0; i < 3; i++ {
		require.NoError(t, e.WriteVector(&engine.LoweredVector{
			WFT:     wft,
			Signals: map[string]byte{"a": 'D'},
			Micro:   engine.Micro{Kind: engine.MicroADV},
		}))
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	vectorLines := lines[len(lines)-3:]
	require.Equal(t, "       *D*;w;", vectorLines[0])
	require.Equal(t, "       *D*;", vectorLines[1])
	require.Equal(t, "       *D*;", vectorLines[2])
}

func TestWriteVectorReemitsWFTSuffixOnChange(t *testing.T) {
	symbols := ast.NewSymbolTable()
	symbols.Signals.Add(ast.Signal{Name: "a", Direction: ast.DirIn})
	w1 := ast.NewWaveformTable("w1", 10, 0)
	w2 := ast.NewWaveformTable("w2", 20, 0)
	symbols.AddWFT(w1)
	symbols.AddWFT(w2)

	var buf bytes.Buffer
	e := gasc.New(&buf, symbols, "p", "test.stil")
	require.NoError(t, e.WriteHeader())

	require.NoError(t, e.WriteVector(&engine.LoweredVector{
		WFT: w1, Signals: map[string]byte{"a": 'D'}, Micro: engine.Micro{Kind: engine.MicroADV},
	}))
	require.NoError(t, e.WriteVector(&engine.LoweredVector{
		WFT: w1, Signals: map[string]byte{"a": 'D'}, Micro: engine.Micro{Kind: engine.MicroADV},
	}))
	require.NoError(t, e.WriteVector(&engine.LoweredVector{
		WFT: w2, Signals: map[string]byte{"a": 'D'}, Micro: engine.Micro{Kind: engine.MicroADV},
	}))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	vectorLines := lines[len(lines)-3:]
	require.Equal(t, "       *D*;w1;", vectorLines[0])
	require.Equal(t, "       *D*;", vectorLines[1])
	require.Equal(t, "       *D*;w2;", vectorLines[2])
}
