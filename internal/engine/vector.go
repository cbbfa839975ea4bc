package engine

import "github.com/aledsdavies/stilconv/internal/ast"

// LoweredVector is the output of the lowering engine (spec.md §3), the
// unit an emitter consumes. Signals holds the driven (post-WFT) WFC for
// every declared signal, keyed by name.
type LoweredVector struct {
	Address int
	WFT     *ast.WaveformTable // nil only if no W statement has ever run
	Signals map[string]byte
	Micro   Micro
	Labels  []string
}

// frameKind distinguishes Loop from MatchLoop on the shared loop-state
// stack (spec.md §3: "depth <= 4 ... matches LI0-3/JNI0-3 register set").
type frameKind int

const (
	frameLoop frameKind = iota
	frameMatchLoop
)

// loopFrame is one entry of the loop-state stack.
type loopFrame struct {
	Kind         frameKind
	Count        int
	StartAddress int
	Register     int // LI<k>/JNI<k> register index; unused for MatchLoop
}
