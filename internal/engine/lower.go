package engine

import (
	"fmt"

	"github.com/aledsdavies/stilconv/internal/ast"
	"github.com/aledsdavies/stilconv/internal/errs"
	"github.com/aledsdavies/stilconv/internal/invariant"
	"github.com/aledsdavies/stilconv/internal/parser"
)

// lowerStatement dispatches one Pattern statement to zero, one, or many
// Lowered Vectors. W and Label statements never produce a vector of their
// own; Loop/MatchLoop may produce several (spec.md §4.3.2/§4.3.3).
func (e *Engine) lowerStatement(stmt ast.Stmt) ([]*LoweredVector, error) {
	switch st := stmt.(type) {
	case *ast.WStmt:
		wft, ok := e.symbols.WFTs[st.WFTName]
		if !ok {
			return nil, errs.New(errs.MalformedSymbolTable, fmt.Sprintf("unknown waveform table %q", st.WFTName))
		}
		e.currentWFT = wft
		return nil, nil

	case *ast.LabelStmt:
		e.pendingLabels = append(e.pendingLabels, st.Name)
		return nil, nil

	case *ast.VectorStmt:
		v, err := e.lowerVector(st, Micro{Kind: MicroADV})
		if err != nil {
			return nil, err
		}
		return []*LoweredVector{v}, nil

	case *ast.StopStmt:
		return []*LoweredVector{e.synthetic(Micro{Kind: MicroHALT})}, nil

	case *ast.GotoStmt:
		return []*LoweredVector{e.synthetic(Micro{Kind: MicroJUMP, Label: st.Label})}, nil

	case *ast.IddqTestPointStmt:
		return []*LoweredVector{e.synthetic(Micro{Kind: MicroIDDQ})}, nil

	case *ast.ReturnStmt:
		return []*LoweredVector{e.synthetic(Micro{Kind: MicroRET})}, nil

	case *ast.CallStmt:
		// Reached with inlining disabled, or when the name resolves to no
		// declared Procedure; an unresolved name is warned about and still
		// lowers to a CALL opcode (the target is a host/runtime concern).
		if _, ok := e.symbols.Procedures.Get(st.Name); !ok {
			e.warn(e.cursor.Offset(), "Call to undeclared procedure %q", st.Name)
		}
		return []*LoweredVector{e.synthetic(Micro{Kind: MicroCALL, Name: st.Name})}, nil

	case *ast.MacroStmt:
		if _, ok := e.symbols.Macros.Get(st.Name); !ok {
			e.warn(e.cursor.Offset(), "Macro call to undeclared macro %q", st.Name)
		}
		return []*LoweredVector{e.synthetic(Micro{Kind: MicroCALL, Name: st.Name})}, nil

	case *ast.LoopStmt:
		return e.lowerLoop(st)

	case *ast.MatchLoopStmt:
		return e.lowerMatchLoop(st)

	default:
		return nil, errs.New(errs.ParseError, fmt.Sprintf("unhandled pattern statement %T", stmt))
	}
}

// flattenBody fully resolves Call/Macro references inside a bounded body
// (Loop/MatchLoop/Procedure/MacroDef), reusing the Cursor's own inlining
// logic rather than re-implementing it.
func flattenBody(body []ast.Stmt, symbols *ast.SymbolTable, inline bool) []ast.Stmt {
	stream := parser.NewBodyStream(body, symbols.Procedures, symbols.Macros, inline)
	var out []ast.Stmt
	for {
		s, ok := stream.Next()
		if !ok {
			return out
		}
		out = append(out, s)
	}
}

func allVectorStmts(body []ast.Stmt) bool {
	for _, s := range body {
		if _, ok := s.(*ast.VectorStmt); !ok {
			return false
		}
	}
	return true
}

// lowerLoop implements spec.md §4.3.2: a single-V body collapses to one
// RPT vector with no frame pushed; a pure two-V body pushes a frame,
// attaches LI<k> to its first vector and ADV to its second, and closes
// with a synthetic, address-consuming JNI<k> vector; a pure-V body of 0
// or 3+ vectors is UnsupportedConstruct. Any other shape (including a
// body whose sole child is itself a nested Loop/MatchLoop) pushes a frame,
// attaches LI<k> to the first statement if it is a V (otherwise emits a
// synthetic LI<k> vector), lowers the rest, and closes with a synthetic
// JNI<k>; synthetic vectors carry the sticky signal state.
func (e *Engine) lowerLoop(st *ast.LoopStmt) ([]*LoweredVector, error) {
	flat := flattenBody(st.Body, e.symbols, e.inline)

	if allVectorStmts(flat) {
		switch len(flat) {
		case 1:
			v, err := e.lowerVector(flat[0].(*ast.VectorStmt), Micro{Kind: MicroRPT, N: st.Count})
			if err != nil {
				return nil, err
			}
			return []*LoweredVector{v}, nil
		case 2:
			if len(e.loopStack) >= maxLoopDepth {
				return nil, errs.New(errs.UnsupportedConstruct, "loop nesting exceeds maximum depth of 4")
			}
			k := len(e.loopStack)
			e.pushFrame(frameLoop, st.Count, k)
			v1, err := e.lowerVector(flat[0].(*ast.VectorStmt), Micro{Kind: MicroLI, K: k, N: st.Count})
			if err != nil {
				return nil, err
			}
			v2, err := e.lowerVector(flat[1].(*ast.VectorStmt), Micro{Kind: MicroADV})
			if err != nil {
				return nil, err
			}
			closeV := e.synthetic(Micro{Kind: MicroJNI, K: k})
			e.popFrame()
			return []*LoweredVector{v1, v2, closeV}, nil
		default:
			return nil, errs.New(errs.UnsupportedConstruct, fmt.Sprintf("loop body has %d V statements; only 1 or 2 are supported", len(flat)))
		}
	}

	if len(e.loopStack) >= maxLoopDepth {
		return nil, errs.New(errs.UnsupportedConstruct, "loop nesting exceeds maximum depth of 4")
	}
	k := len(e.loopStack)
	e.pushFrame(frameLoop, st.Count, k)

	var out []*LoweredVector
	if len(flat) > 0 {
		if vs, ok := flat[0].(*ast.VectorStmt); ok {
			v, err := e.lowerVector(vs, Micro{Kind: MicroLI, K: k, N: st.Count})
			if err != nil {
				return nil, err
			}
			out = append(out, v)
			flat = flat[1:]
		} else {
			out = append(out, e.synthetic(Micro{Kind: MicroLI, K: k, N: st.Count}))
		}
	} else {
		out = append(out, e.synthetic(Micro{Kind: MicroLI, K: k, N: st.Count}))
	}
	for _, s := range flat {
		vs, err := e.lowerStatement(s)
		if err != nil {
			return nil, err
		}
		out = append(out, vs...)
	}
	out = append(out, e.synthetic(Micro{Kind: MicroJNI, K: k}))
	e.popFrame()
	return out, nil
}

// lowerMatchLoop implements spec.md §4.3.3: a single-V body collapses to
// one IMATCH vector with no frame pushed; any other shape brackets the
// lowered body with MBGN/MEND, both always synthetic events (unlike Loop,
// MatchLoop never fuses its open marker onto a real vector).
func (e *Engine) lowerMatchLoop(st *ast.MatchLoopStmt) ([]*LoweredVector, error) {
	flat := flattenBody(st.Body, e.symbols, e.inline)

	if len(flat) == 1 {
		if vs, ok := flat[0].(*ast.VectorStmt); ok {
			v, err := e.lowerVector(vs, Micro{Kind: MicroIMATCH})
			if err != nil {
				return nil, err
			}
			return []*LoweredVector{v}, nil
		}
	}

	if len(e.loopStack) >= maxLoopDepth {
		return nil, errs.New(errs.UnsupportedConstruct, "match-loop nesting exceeds maximum depth of 4")
	}
	e.pushFrame(frameMatchLoop, st.Count, -1)

	out := []*LoweredVector{e.synthetic(Micro{Kind: MicroMBGN})}
	for _, s := range flat {
		vs, err := e.lowerStatement(s)
		if err != nil {
			return nil, err
		}
		out = append(out, vs...)
	}
	out = append(out, e.synthetic(Micro{Kind: MicroMEND}))
	e.popFrame()
	return out, nil
}

// pushFrame and popFrame assume the caller already rejected a push that
// would exceed maxLoopDepth with an UnsupportedConstruct error (a §7
// user-facing condition, not a programming bug); the Invariant/Precondition
// calls here are a backstop against the bookkeeping itself drifting out of
// sync with that check.
func (e *Engine) pushFrame(kind frameKind, count, register int) {
	e.loopStack = append(e.loopStack, loopFrame{Kind: kind, Count: count, StartAddress: e.address, Register: register})
	invariant.Invariant(len(e.loopStack) <= maxLoopDepth, "loop-stack depth must not exceed %d, got %d", maxLoopDepth, len(e.loopStack))
}

func (e *Engine) popFrame() {
	invariant.Precondition(len(e.loopStack) > 0, "popFrame called with an empty loop stack")
	e.loopStack = e.loopStack[:len(e.loopStack)-1]
}

// lowerVector implements spec.md §4.3.1: resolve each assignment target to
// a flat signal list, expand \rN repeats, accumulate into the sticky map
// (raw WFCs, not yet driven — so a mid-pattern W switch re-applies to a
// signal that hasn't been reassigned since), then drive every signal
// through the current waveform table.
func (e *Engine) lowerVector(vstmt *ast.VectorStmt, micro Micro) (*LoweredVector, error) {
	if e.currentWFT == nil {
		return nil, errs.New(errs.MissingWaveformContext, "V statement before any W statement set a waveform table")
	}

	for _, assign := range vstmt.Assigns {
		signals, err := e.symbols.Groups.Resolve(assign.Target)
		if err != nil {
			return nil, errs.Wrap(errs.MalformedSymbolTable, fmt.Sprintf("resolving %q", assign.Target), err)
		}
		expanded, err := expandRepeats(assign.WFC)
		if err != nil {
			return nil, err
		}
		if len(expanded) != len(signals) {
			return nil, errs.New(errs.VectorWidthError, fmt.Sprintf(
				"assignment to %q has %d WFC characters but %d signals", assign.Target, len(expanded), len(signals)))
		}
		for i, sig := range signals {
			e.sticky[sig] = expanded[i]
		}
	}

	driven := make(map[string]byte, e.symbols.Signals.Len())
	for _, name := range e.symbols.Signals.Names() {
		raw, ok := e.sticky[name]
		if !ok {
			sig, _ := e.symbols.Signals.Get(name)
			raw = sig.DefaultOrX()
		}
		driven[name] = e.currentWFT.Drive(name, raw)
	}

	v := &LoweredVector{WFT: e.currentWFT, Signals: driven, Micro: micro, Labels: e.pendingLabels}
	e.pendingLabels = nil
	return v, nil
}

// synthetic builds a Lowered Vector that consumes an address and carries
// the current sticky signal state but represents no new V assignment —
// used for the open/close markers the Loop/MatchLoop collapsing rules
// insert around a non-trivial body (spec.md §4.3.2/§4.3.3).
func (e *Engine) synthetic(micro Micro) *LoweredVector {
	driven := make(map[string]byte, e.symbols.Signals.Len())
	for _, name := range e.symbols.Signals.Names() {
		raw, ok := e.sticky[name]
		if !ok {
			sig, _ := e.symbols.Signals.Get(name)
			raw = sig.DefaultOrX()
		}
		if e.currentWFT != nil {
			driven[name] = e.currentWFT.Drive(name, raw)
		} else {
			driven[name] = raw
		}
	}
	v := &LoweredVector{WFT: e.currentWFT, Signals: driven, Micro: micro, Labels: e.pendingLabels}
	e.pendingLabels = nil
	return v
}

// expandRepeats expands every `\rN C` occurrence in a raw WFC string (as
// scanned by lexer.ScanWFCSequence, which validates but does not expand
// them) into N copies of C, concatenating with the literal WFC runs
// between repeats.
func expandRepeats(raw string) (string, error) {
	var b []byte
	i := 0
	for i < len(raw) {
		if raw[i] != '\\' {
			b = append(b, raw[i])
			i++
			continue
		}
		// raw[i] == '\\'; ScanWFCSequence already validated the grammar:
		// '\\' 'r' digit+ whitespace* WFCchar.
		i++ // backslash
		if i >= len(raw) || raw[i] != 'r' {
			return "", errs.New(errs.LexError, "malformed repeat: expected 'r' after '\\'")
		}
		i++ // 'r'
		digitsStart := i
		for i < len(raw) && raw[i] >= '0' && raw[i] <= '9' {
			i++
		}
		if i == digitsStart {
			return "", errs.New(errs.LexError, "malformed repeat: expected positive integer after '\\r'")
		}
		count := 0
		for _, d := range raw[digitsStart:i] {
			count = count*10 + int(d-'0')
		}
		for i < len(raw) && (raw[i] == ' ' || raw[i] == '\t' || raw[i] == '\r' || raw[i] == '\n') {
			i++
		}
		if i >= len(raw) {
			return "", errs.New(errs.LexError, "malformed repeat: expected a WFC character after count")
		}
		c := raw[i]
		i++
		for n := 0; n < count; n++ {
			b = append(b, c)
		}
	}
	return string(b), nil
}
