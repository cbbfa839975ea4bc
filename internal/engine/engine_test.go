package engine_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/aledsdavies/stilconv/internal/engine"
	"github.com/aledsdavies/stilconv/internal/errs"
	"github.com/aledsdavies/stilconv/internal/parser"
)

// lowerAll runs source through the parser and engine and collects every
// emitted vector, failing the test immediately on any error.
func lowerAll(t *testing.T, source string, opts ...engine.Opt) []*engine.LoweredVector {
	t.Helper()
	p := parser.New([]byte(source))
	symbols, cursor, err := p.ParseHeader()
	require.NoError(t, err)
	require.NotNil(t, cursor)

	eng := engine.New(symbols, cursor, opts...)
	var out []*engine.LoweredVector
	for {
		v, ok, err := eng.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		out = append(out, v)
	}
	return out
}

const minimalSource = `
STIL 5;
Signals {
  a In;
}
Timing {
  WaveformTable w {
    Period 10;
    Waveforms {
      a {
        0: D;
        1: U;
      }
    }
  }
}
Pattern p {
  W w;
  V{a=0;}
  V{a=1;}
  Stop;
}
`

// Scenario 1: Minimal.
func TestMinimal(t *testing.T) {
	vectors := lowerAll(t, minimalSource)
	require.Len(t, vectors, 3)

	require.Equal(t, "MSSA", vectors[0].Micro.String())
	require.Equal(t, "ADV", vectors[1].Micro.String())
	require.Equal(t, "HALT", vectors[2].Micro.String())

	for i, v := range vectors {
		require.Equal(t, i, v.Address)
	}

	require.Equal(t, byte('D'), vectors[0].Signals["a"])
	require.Equal(t, byte('U'), vectors[1].Signals["a"])
	require.Equal(t, byte('U'), vectors[2].Signals["a"], "sticky: unassigned in Stop inherits previous vector's driven WFC")
}

// Scenario 2: Repeat expansion.
func TestRepeatExpansion(t *testing.T) {
	const source = `
STIL 5;
Signals {
  s0 In; s1 In; s2 In; s3 In;
}
SignalGroups {
  bus = 's0+s1+s2+s3';
}
Timing {
  WaveformTable w {
    Period 10;
    Waveforms {
      s0 { 0: D; }
      s1 { 0: D; }
      s2 { 0: D; }
      s3 { 0: D; }
    }
  }
}
Pattern p {
  W w;
  V{bus=\r4 0;}
}
`
	vectors := lowerAll(t, source)
	require.Len(t, vectors, 1)
	for _, name := range []string{"s0", "s1", "s2", "s3"} {
		require.Equal(t, byte('D'), vectors[0].Signals[name], name)
	}
}

// Scenario 3: Single-V loop collapses to one vector with RPT N, no frame.
func TestSingleVectorLoop(t *testing.T) {
	const source = `
STIL 5;
Signals { a In; }
Timing { WaveformTable w { Period 10; Waveforms { a { 1: U; } } } }
Pattern p {
  W w;
  Loop 50 { V{a=1;} }
}
`
	vectors := lowerAll(t, source)
	require.Len(t, vectors, 1)
	require.Equal(t, "RPT 50", vectors[0].Micro.String())
}

// Scenario 4: Two-V loop lowers to LI0 N / ADV / JNI0 across three addresses.
func TestTwoVectorLoop(t *testing.T) {
	const source = `
STIL 5;
Signals { a In; }
Timing { WaveformTable w { Period 10; Waveforms { a { 0: D; 1: U; } } } }
Pattern p {
  W w;
  Loop 3 { V{a=0;} V{a=1;} }
}
`
	vectors := lowerAll(t, source)
	require.Len(t, vectors, 3)
	require.Equal(t, "LI0 3", vectors[0].Micro.String())
	require.Equal(t, "ADV", vectors[1].Micro.String())
	require.Equal(t, "JNI0", vectors[2].Micro.String())
	for i, v := range vectors {
		require.Equal(t, i, v.Address)
	}
}

// Scenario 5: Nested two-V loops lower to LI0/LI1/ADV/JNI1/JNI0.
func TestNestedLoops(t *testing.T) {
	const source = `
STIL 5;
Signals { a In; }
Timing { WaveformTable w { Period 10; Waveforms { a { 0: D; 1: U; } } } }
Pattern p {
  W w;
  Loop 2 { Loop 2 { V{a=0;} V{a=1;} } }
}
`
	vectors := lowerAll(t, source)
	require.Len(t, vectors, 5)
	want := []string{"LI0 2", "LI1 2", "ADV", "JNI1", "JNI0"}
	for i, w := range want {
		require.Equal(t, w, vectors[i].Micro.String(), "vector %d", i)
	}
}

// Scenario 6: Procedure inlining is byte-identical (including the MSSA
// override the first emitted vector receives) to the equivalent inline
// body.
func TestProcedureInlineEquivalentToScenario1(t *testing.T) {
	const source = `
STIL 5;
Signals { a In; }
Timing { WaveformTable w { Period 10; Waveforms { a { 0: D; 1: U; } } } }
Procedures {
  P { W w; V{a=0;} V{a=1;} }
}
Pattern p {
  Call P;
  Stop;
}
`
	vectors := lowerAll(t, source)
	inlineVectors := lowerAll(t, minimalSource)
	require.Len(t, vectors, len(inlineVectors))
	for i := range vectors {
		require.Equal(t, inlineVectors[i].Micro.String(), vectors[i].Micro.String(), "vector %d micro", i)
		if diff := cmp.Diff(inlineVectors[i].Signals, vectors[i].Signals); diff != "" {
			t.Errorf("vector %d signals mismatch (-inline +called):\n%s", i, diff)
		}
	}
}

// Loop depth 4 succeeds; depth 5 fails with UnsupportedConstruct.
func TestLoopDepthBoundary(t *testing.T) {
	build := func(depth int) string {
		open, close := "", ""
		for i := 0; i < depth; i++ {
			open += "Loop 2 {"
			close += "}"
		}
		return `
STIL 5;
Signals { a In; }
Timing { WaveformTable w { Period 10; Waveforms { a { 0: D; 1: U; } } } }
Pattern p {
  W w;
  ` + open + `V{a=0;} V{a=1;}` + close + `
}
`
	}

	t.Run("depth 4 succeeds", func(t *testing.T) {
		p := parser.New([]byte(build(4)))
		symbols, cursor, err := p.ParseHeader()
		require.NoError(t, err)
		eng := engine.New(symbols, cursor)
		for {
			_, ok, err := eng.Next()
			require.NoError(t, err)
			if !ok {
				break
			}
		}
	})

	t.Run("depth 5 fails with UnsupportedConstruct", func(t *testing.T) {
		p := parser.New([]byte(build(5)))
		symbols, cursor, err := p.ParseHeader()
		require.NoError(t, err)
		eng := engine.New(symbols, cursor)
		var gotErr error
		for gotErr == nil {
			_, ok, err := eng.Next()
			if err != nil {
				gotErr = err
				break
			}
			if !ok {
				break
			}
		}
		require.Error(t, gotErr)
		var ce *errs.ConvertError
		require.ErrorAs(t, gotErr, &ce)
		require.Equal(t, errs.UnsupportedConstruct, ce.Kind)
	})
}

// MissingWaveformContext: a V{} before any W statement has run.
func TestMissingWaveformContext(t *testing.T) {
	const source = `
STIL 5;
Signals { a In; }
Pattern p {
  V{a=0;}
}
`
	p := parser.New([]byte(source))
	symbols, cursor, err := p.ParseHeader()
	require.NoError(t, err)
	eng := engine.New(symbols, cursor)
	_, _, err = eng.Next()
	require.Error(t, err)
	var ce *errs.ConvertError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, errs.MissingWaveformContext, ce.Kind)
}

// VectorWidthError: a group assignment whose expanded WFC length doesn't
// match the group's resolved signal count.
func TestVectorWidthMismatch(t *testing.T) {
	const source = `
STIL 5;
Signals { s0 In; s1 In; }
SignalGroups { bus = 's0+s1'; }
Timing { WaveformTable w { Period 10; Waveforms { s0 { 0: D; } s1 { 0: D; } } } }
Pattern p {
  W w;
  V{bus=000;}
}
`
	p := parser.New([]byte(source))
	symbols, cursor, err := p.ParseHeader()
	require.NoError(t, err)
	eng := engine.New(symbols, cursor)
	_, _, err = eng.Next()
	require.Error(t, err)
	var ce *errs.ConvertError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, errs.VectorWidthError, ce.Kind)
}
