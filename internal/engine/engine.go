// Package engine implements the Pattern Lowering Engine (spec.md §4.3):
// it pulls Pattern statements from the block parser's Cursor and turns
// them into a stream of Lowered Vector events, expanding \rN repeats,
// collapsing single- and two-vector loop bodies into RPT/LI/JNI
// micro-instructions, lowering MatchLoop into IMATCH/MBGN/MEND, applying
// the current waveform table's per-signal substitution, and maintaining
// STIL's sticky (inherit-from-previous-vector) semantics.
package engine

import (
	"fmt"

	"github.com/aledsdavies/stilconv/internal/ast"
	"github.com/aledsdavies/stilconv/internal/errs"
	"github.com/aledsdavies/stilconv/internal/events"
	"github.com/aledsdavies/stilconv/internal/invariant"
	"github.com/aledsdavies/stilconv/internal/parser"
)

const (
	maxLoopDepth = 4
	maxAddress   = 0xFFFFFF
)

// Opt configures an Engine at construction.
type Opt func(*Engine)

// WithInlining controls whether Call/Macro statements reaching the engine
// were already spliced by the parser's Cursor (the default) or are left
// literal for the engine to lower into a CALL micro-instruction. This must
// match the inlining mode the Cursor/Parser were built with.
func WithInlining(enabled bool) Opt {
	return func(e *Engine) { e.inline = enabled }
}

// WithSink attaches the event sink that receives Warning events produced
// while lowering (e.g. a Call/Macro naming no declared Procedure/MacroDef,
// which is not fatal: it still lowers to a CALL micro-instruction).
func WithSink(sink events.Sink) Opt {
	return func(e *Engine) { e.sink = sink }
}

// WithCancelFlag attaches the cooperative cancellation flag (spec.md §5).
func WithCancelFlag(flag *events.CancelFlag) Opt {
	return func(e *Engine) { e.cancel = flag }
}

// Engine pulls Pattern statements from a Cursor and lowers them into
// Lowered Vector events, one Next() call at a time.
type Engine struct {
	symbols *ast.SymbolTable
	cursor  *parser.Cursor
	inline  bool
	sink    events.Sink
	cancel  *events.CancelFlag

	currentWFT    *ast.WaveformTable
	sticky        map[string]byte
	loopStack     []loopFrame
	address       int
	firstEmitted  bool
	pendingLabels []string

	pending []*LoweredVector
	done    bool

	cancelled bool
}

// New builds an Engine over the given symbol table and Pattern cursor.
func New(symbols *ast.SymbolTable, cursor *parser.Cursor, opts ...Opt) *Engine {
	invariant.NotNil(symbols, "symbols")
	invariant.NotNil(cursor, "cursor")
	e := &Engine{
		symbols: symbols,
		cursor:  cursor,
		inline:  true,
		sticky:  make(map[string]byte),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Cancelled reports whether Next ever returned because the cancellation
// flag was observed (spec.md §5).
func (e *Engine) Cancelled() bool { return e.cancelled }

// Address returns the last address assigned (the next vector would land
// on Address()+1), useful for a Cancelled control event's last_addr.
func (e *Engine) Address() int { return e.address - 1 }

// Next returns the next Lowered Vector. ok is false once the pattern body
// is exhausted or cancellation was observed; err is non-nil on any fatal
// error in the §7 taxonomy.
func (e *Engine) Next() (*LoweredVector, bool, error) {
	for {
		if len(e.pending) > 0 {
			v := e.pending[0]
			e.pending = e.pending[1:]
			fv, err := e.finalize(v)
			if err != nil {
				return nil, false, err
			}
			return fv, true, nil
		}
		if e.done {
			return nil, false, nil
		}
		if e.cancel != nil && e.cancel.Requested() {
			e.cancelled = true
			e.done = true
			return nil, false, nil
		}

		stmt, ok, err := e.cursor.Next()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			e.done = true
			continue
		}

		vectors, err := e.lowerStatement(stmt)
		if err != nil {
			return nil, false, err
		}
		e.pending = vectors
	}
}

// finalize assigns the running address, enforces AddressOverflow, and
// overrides the micro-instruction to MSSA for the very first vector
// emitted by the whole pattern (spec.md §4.3.5's top precedence tier),
// except when that vector opens a loop (RPT N or LI<k> N), which keeps
// its loop instruction.
func (e *Engine) finalize(v *LoweredVector) (*LoweredVector, error) {
	if e.address > maxAddress {
		return nil, errs.New(errs.AddressOverflow, fmt.Sprintf("vector address exceeds 0x%06X", maxAddress))
	}
	prevAddress := e.address
	v.Address = e.address
	e.address++
	if !e.firstEmitted {
		e.firstEmitted = true
		if v.Micro.Kind != MicroRPT && v.Micro.Kind != MicroLI {
			v.Micro = Micro{Kind: MicroMSSA}
		}
	}
	invariant.Postcondition(v.Address == prevAddress && e.address == prevAddress+1,
		"vector address must increase by exactly 1 per emitted vector, got %d -> %d", prevAddress, e.address)
	invariant.InRange(int(v.Micro.Kind), int(MicroADV), int(MicroRET), "emitted vector's micro-instruction kind")
	return v, nil
}

func (e *Engine) warn(offset int, format string, args ...interface{}) {
	if e.sink == nil {
		return
	}
	e.sink.Emit(events.Warning(offset, fmt.Sprintf(format, args...)))
}
