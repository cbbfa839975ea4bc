package parser

import (
	"fmt"

	"github.com/aledsdavies/stilconv/internal/ast"
	"github.com/aledsdavies/stilconv/internal/errs"
	"github.com/aledsdavies/stilconv/internal/invariant"
	"github.com/aledsdavies/stilconv/internal/lexer"
)

// errEndOfBody is a sentinel parseOneStatement returns when, after skipping
// one or more deny-listed statements, the body's closing '}' is reached
// with nothing left to parse. Callers treat it exactly like an ordinary
// end-of-list RBRACE rather than a parse failure.
var errEndOfBody = errs.New(errs.ParseError, "end of statement body")

// parseStatementList parses statements up to (and consuming) the next
// RBRACE — the shared body grammar for Procedures, MacroDefs, Loop, and
// MatchLoop, all of which spec.md §3 requires to be fully materialized
// (bounded depth, eagerly parsed) rather than streamed.
func (p *Parser) parseStatementList() ([]ast.Stmt, error) {
	return parseStatementList(p.lex, p.denyList, p.warn)
}

func parseStatementList(lex *lexer.Lexer, denyList DenyList, warn WarningFunc) ([]ast.Stmt, error) {
	var stmts []ast.Stmt
	for {
		tok, err := lex.PeekToken()
		if err != nil {
			return nil, err
		}
		if tok.Type == lexer.RBRACE {
			_, _ = lex.NextToken()
			return stmts, nil
		}
		stmt, err := parseOneStatement(lex, denyList, warn)
		if err == errEndOfBody {
			return stmts, nil
		}
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
}

// parseOneStatement parses exactly one Pattern-body statement (spec.md §3),
// consuming its trailing ';' where the grammar requires one. A keyword not
// in the fixed grammar subset is, per the construction-time deny-list
// (spec.md §3), either skipped with a Warning or a fatal ParseError.
func parseOneStatement(lex *lexer.Lexer, denyList DenyList, warn WarningFunc) (ast.Stmt, error) {
	tok, err := lex.NextToken()
	if err != nil {
		return nil, err
	}
	if tok.Type == lexer.EOF {
		return nil, lexFatalf(lex, tok, "unexpected EOF in pattern body")
	}
	if tok.Type != lexer.IDENT {
		return nil, lexFatalf(lex, tok, "expected a statement, got %s %q", tok.Type, tok.Text)
	}

	keyword := string(tok.Text)
	switch keyword {
	case "V":
		return parseVectorStmt(lex)
	case "W":
		name, err := lexExpectIdent(lex, "W statement")
		if err != nil {
			return nil, err
		}
		if err := lexExpect(lex, lexer.SEMICOLON, "W statement"); err != nil {
			return nil, err
		}
		return &ast.WStmt{WFTName: name}, nil
	case "Loop":
		count, err := lexExpectInteger(lex, "Loop count")
		if err != nil {
			return nil, err
		}
		if err := lexExpect(lex, lexer.LBRACE, "Loop body"); err != nil {
			return nil, err
		}
		body, err := parseStatementList(lex, denyList, warn)
		if err != nil {
			return nil, err
		}
		return &ast.LoopStmt{Count: count, Body: body}, nil
	case "MatchLoop":
		count, err := lexExpectInteger(lex, "MatchLoop count")
		if err != nil {
			return nil, err
		}
		if err := lexExpect(lex, lexer.LBRACE, "MatchLoop body"); err != nil {
			return nil, err
		}
		body, err := parseStatementList(lex, denyList, warn)
		if err != nil {
			return nil, err
		}
		return &ast.MatchLoopStmt{Count: count, Body: body}, nil
	case "Call":
		name, err := lexExpectIdent(lex, "Call statement")
		if err != nil {
			return nil, err
		}
		if err := lexExpect(lex, lexer.SEMICOLON, "Call statement"); err != nil {
			return nil, err
		}
		return &ast.CallStmt{Name: name}, nil
	case "Macro":
		name, err := lexExpectIdent(lex, "Macro statement")
		if err != nil {
			return nil, err
		}
		if err := lexExpect(lex, lexer.SEMICOLON, "Macro statement"); err != nil {
			return nil, err
		}
		return &ast.MacroStmt{Name: name}, nil
	case "Stop":
		if err := lexExpect(lex, lexer.SEMICOLON, "Stop statement"); err != nil {
			return nil, err
		}
		return &ast.StopStmt{}, nil
	case "Goto":
		label, err := lexExpectIdent(lex, "Goto statement")
		if err != nil {
			return nil, err
		}
		if err := lexExpect(lex, lexer.SEMICOLON, "Goto statement"); err != nil {
			return nil, err
		}
		return &ast.GotoStmt{Label: label}, nil
	case "IddqTestPoint":
		if err := lexExpect(lex, lexer.SEMICOLON, "IddqTestPoint statement"); err != nil {
			return nil, err
		}
		return &ast.IddqTestPointStmt{}, nil
	case "Return":
		if err := lexExpect(lex, lexer.SEMICOLON, "Return statement"); err != nil {
			return nil, err
		}
		return &ast.ReturnStmt{}, nil
	default:
		// A bare identifier followed by ':' is a label, attachable to the
		// statement that follows it (spec.md §3's Label control event is
		// produced from this at lowering time, not parse time).
		peek, err := lex.PeekToken()
		if err != nil {
			return nil, err
		}
		if peek.Type == lexer.COLON {
			_, _ = lex.NextToken()
			return &ast.LabelStmt{Name: keyword}, nil
		}
		if denyList.has(keyword) {
			if warn != nil {
				warn(tok.Position.Offset, fmt.Sprintf("skipping deny-listed statement %q", keyword))
			}
			if err := skipStatementBody(lex); err != nil {
				return nil, err
			}
			next, err := lex.PeekToken()
			if err != nil {
				return nil, err
			}
			if next.Type == lexer.RBRACE {
				return nil, errEndOfBody
			}
			return parseOneStatement(lex, denyList, warn)
		}
		return nil, lexFatalf(lex, tok, "unrecognized pattern statement %q", keyword)
	}
}

// skipStatementBody consumes an unrecognized statement's remainder: a
// balanced `{...}` body (optionally followed by a ';') or, lacking one,
// tokens up to the next ';'. It never consumes the enclosing block's
// closing '}'.
func skipStatementBody(lex *lexer.Lexer) error {
	peek, err := lex.PeekToken()
	if err != nil {
		return err
	}
	if peek.Type == lexer.LBRACE {
		_, _ = lex.NextToken()
		depth := 1
		for depth > 0 {
			tok, err := lex.NextToken()
			if err != nil {
				return err
			}
			if tok.Type == lexer.EOF {
				return lexFatalf(lex, tok, "unexpected EOF skipping deny-listed statement")
			}
			switch tok.Type {
			case lexer.LBRACE:
				depth++
			case lexer.RBRACE:
				depth--
			}
		}
		if trailing, err := lex.PeekToken(); err == nil && trailing.Type == lexer.SEMICOLON {
			_, _ = lex.NextToken()
		}
		return nil
	}
	for {
		tok, err := lex.PeekToken()
		if err != nil {
			return err
		}
		if tok.Type == lexer.RBRACE || tok.Type == lexer.EOF {
			return nil
		}
		_, _ = lex.NextToken()
		if tok.Type == lexer.SEMICOLON {
			return nil
		}
	}
}

// parseVectorStmt parses `V { target=wfc, target=wfc; ... }` (optionally
// terminated by a trailing ';'); assignments may be separated by ',' or
// ';' interchangeably.
func parseVectorStmt(lex *lexer.Lexer) (ast.Stmt, error) {
	if err := lexExpect(lex, lexer.LBRACE, "V statement"); err != nil {
		return nil, err
	}
	v := &ast.VectorStmt{}
	for {
		peek, err := lex.PeekToken()
		if err != nil {
			return nil, err
		}
		if peek.Type == lexer.RBRACE {
			_, _ = lex.NextToken()
			break
		}
		target, err := lexExpectIdent(lex, "vector assignment target")
		if err != nil {
			return nil, err
		}
		if err := lexExpect(lex, lexer.EQUALS, "vector assignment"); err != nil {
			return nil, err
		}
		wfc, err := lex.ScanWFCSequence()
		if err != nil {
			return nil, err
		}
		v.Assigns = append(v.Assigns, ast.VectorAssign{Target: target, WFC: string(wfc)})

		sep, err := lex.PeekToken()
		if err != nil {
			return nil, err
		}
		if sep.Type == lexer.COMMA || sep.Type == lexer.SEMICOLON {
			_, _ = lex.NextToken()
		}
	}
	// Tolerate (and consume) an optional trailing ';' after the closing '}'.
	peek, err := lex.PeekToken()
	if err != nil {
		return nil, err
	}
	if peek.Type == lexer.SEMICOLON {
		_, _ = lex.NextToken()
	}
	return v, nil
}

func lexExpect(lex *lexer.Lexer, tt lexer.TokenType, context string) error {
	tok, err := lex.NextToken()
	if err != nil {
		return err
	}
	if tok.Type != tt {
		return lexFatalf(lex, tok, "expected %s in %s, got %s %q", tt, context, tok.Type, tok.Text)
	}
	return nil
}

func lexExpectIdent(lex *lexer.Lexer, context string) (string, error) {
	tok, err := lex.NextToken()
	if err != nil {
		return "", err
	}
	if tok.Type != lexer.IDENT {
		return "", lexFatalf(lex, tok, "expected identifier in %s, got %s %q", context, tok.Type, tok.Text)
	}
	return string(tok.Text), nil
}

func lexExpectInteger(lex *lexer.Lexer, context string) (int, error) {
	tok, err := lex.NextToken()
	if err != nil {
		return 0, err
	}
	if tok.Type != lexer.INTEGER {
		return 0, lexFatalf(lex, tok, "expected integer in %s, got %s %q", context, tok.Type, tok.Text)
	}
	return parseIntLiteral(string(tok.Text)), nil
}

func lexFatalf(lex *lexer.Lexer, tok lexer.Token, format string, args ...interface{}) error {
	_ = lex
	return errs.At(errs.ParseError, fmt.Sprintf(format, args...), tok.Position.Offset)
}

// Cursor streams Pattern-body statements directly off the lexer without
// materializing the whole body (spec.md §4.2/§4.3/§9). Call and Macro
// statements are transparently inlined by pushing the target's already
// fully-parsed body onto a stack; the stack frames themselves are
// ordinary slices (bounded, per spec.md §3), so only the live top-level
// stream is ever lazy.
type Cursor struct {
	lex      *lexer.Lexer
	procs    *ast.ProcTable
	macros   *ast.MacroTable
	inline   bool
	denyList DenyList
	warn     WarningFunc

	// PatternName is the name following the `Pattern` keyword, carried
	// through for emitters that label their output with it.
	PatternName string

	frames []inlineFrame
	done   bool
}

type inlineFrame struct {
	stmts []ast.Stmt
	idx   int
}

func newCursor(lex *lexer.Lexer, procs *ast.ProcTable, macros *ast.MacroTable, inline bool, denyList DenyList, warn WarningFunc) *Cursor {
	return &Cursor{lex: lex, procs: procs, macros: macros, inline: inline, denyList: denyList, warn: warn}
}

// Offset reports the underlying lexer's current byte position, for
// progress reporting over the source file (spec.md §5).
func (c *Cursor) Offset() int { return c.lex.Offset() }

// Next returns the next statement in inlined, source order. ok is false
// once the Pattern block's closing '}' has been reached; err is non-nil
// on any fatal parse condition.
func (c *Cursor) Next() (stmt ast.Stmt, ok bool, err error) {
	for {
		if n := len(c.frames); n > 0 {
			top := &c.frames[n-1]
			if top.idx >= len(top.stmts) {
				c.frames = c.frames[:n-1]
				continue
			}
			s := top.stmts[top.idx]
			top.idx++
			if pushed, isInline := c.inlineTarget(s); isInline {
				c.frames = append(c.frames, inlineFrame{stmts: pushed})
				continue
			}
			return s, true, nil
		}

		if c.done {
			return nil, false, nil
		}

		peek, perr := c.lex.PeekToken()
		if perr != nil {
			return nil, false, perr
		}
		if peek.Type == lexer.RBRACE {
			_, _ = c.lex.NextToken()
			c.done = true
			return nil, false, nil
		}

		startOffset := c.lex.Offset()
		s, perr := parseOneStatement(c.lex, c.denyList, c.warn)
		if perr == errEndOfBody {
			c.done = true
			return nil, false, nil
		}
		if perr != nil {
			return nil, false, perr
		}
		invariant.Invariant(c.lex.Offset() > startOffset, "pattern cursor must advance past its starting offset on each parsed statement")
		if pushed, isInline := c.inlineTarget(s); isInline {
			c.frames = append(c.frames, inlineFrame{stmts: pushed})
			continue
		}
		return s, true, nil
	}
}

// BodyStream replays a bounded, already-materialized statement list (a
// Procedure, MacroDef, Loop, or MatchLoop body) with the same transparent
// Call/Macro inlining Cursor applies to the top-level Pattern stream, but
// without any lexer — the whole list is already in memory, so there is
// nothing left to stream lazily.
type BodyStream struct {
	procs  *ast.ProcTable
	macros *ast.MacroTable
	inline bool
	frames []inlineFrame
}

// NewBodyStream wraps body for inlined iteration.
func NewBodyStream(body []ast.Stmt, procs *ast.ProcTable, macros *ast.MacroTable, inline bool) *BodyStream {
	return &BodyStream{procs: procs, macros: macros, inline: inline, frames: []inlineFrame{{stmts: body}}}
}

// Next returns the next statement with Call/Macro targets spliced in place;
// ok is false once every frame is exhausted.
func (b *BodyStream) Next() (ast.Stmt, bool) {
	for len(b.frames) > 0 {
		top := &b.frames[len(b.frames)-1]
		if top.idx >= len(top.stmts) {
			b.frames = b.frames[:len(b.frames)-1]
			continue
		}
		s := top.stmts[top.idx]
		top.idx++
		if b.inline {
			if pushed, isInline := inlineTargetFor(s, b.procs, b.macros); isInline {
				b.frames = append(b.frames, inlineFrame{stmts: pushed})
				continue
			}
		}
		return s, true
	}
	return nil, false
}

func inlineTargetFor(s ast.Stmt, procs *ast.ProcTable, macros *ast.MacroTable) ([]ast.Stmt, bool) {
	switch st := s.(type) {
	case *ast.CallStmt:
		if proc, ok := procs.Get(st.Name); ok {
			return proc.Body, true
		}
		return nil, false
	case *ast.MacroStmt:
		if m, ok := macros.Get(st.Name); ok {
			return m.Body, true
		}
		return nil, false
	}
	return nil, false
}

// inlineTarget reports whether s is a Call/Macro statement and, if so,
// returns the body to splice in place of it. When inlining is disabled
// (spec.md §4.3.5's "Call (when inlining disabled)" mode), Call/Macro
// statements are left untouched for the engine to lower into a CALL
// micro-instruction directly.
func (c *Cursor) inlineTarget(s ast.Stmt) ([]ast.Stmt, bool) {
	if !c.inline {
		return nil, false
	}
	return inlineTargetFor(s, c.procs, c.macros)
}
