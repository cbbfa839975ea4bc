// Package parser consumes the lexer's token stream and dispatches by
// top-level block keyword (spec.md §4.2): STIL, Header, Signals,
// SignalGroups, Timing, Procedures, MacroDefs, Pattern. All non-Pattern
// blocks are fully parsed into the ast.SymbolTable before any Pattern
// body is lowered — two-phase semantics. On Pattern, the parser hands a
// statement Cursor to the caller instead of materializing the body.
package parser

import (
	"fmt"

	"github.com/aledsdavies/stilconv/internal/ast"
	"github.com/aledsdavies/stilconv/internal/errs"
	"github.com/aledsdavies/stilconv/internal/lexer"
)

// DenyList is a construction-time set of statement/block keywords that
// cause the parser to emit a warning and skip the statement rather than
// fail (spec.md §3: "a construction-time contract, not runtime-mutable").
type DenyList map[string]bool

// NewDenyList builds a DenyList from the given names.
func NewDenyList(names ...string) DenyList {
	d := make(DenyList, len(names))
	for _, n := range names {
		d[n] = true
	}
	return d
}

func (d DenyList) has(name string) bool { return d != nil && d[name] }

// WarningFunc receives a non-fatal Warning event (spec.md §6's
// Warning{source_offset, message}), reported when the parser skips a
// deny-listed or unrecognized construct.
type WarningFunc func(offset int, message string)

// Opt configures a Parser at construction.
type Opt func(*Parser)

// WithDenyList installs the construction-time deny-list.
func WithDenyList(d DenyList) Opt {
	return func(p *Parser) { p.denyList = d }
}

// WithWarningFunc installs the sink for non-fatal Warning events.
func WithWarningFunc(fn WarningFunc) Opt {
	return func(p *Parser) { p.warn = fn }
}

// WithCallInlining toggles whether Call/Macro statements are spliced
// transparently into the Pattern statement stream (the default) or left
// as literal statements for the lowering engine to turn into a CALL
// micro-instruction (spec.md §4.3.5's "inlining disabled" mode).
func WithCallInlining(enabled bool) Opt {
	return func(p *Parser) { p.inline = enabled }
}

// Parser holds the lexer and the in-progress symbol table.
type Parser struct {
	lex      *lexer.Lexer
	source   []byte
	denyList DenyList
	warn     WarningFunc
	brackets bracketTracker
	inline   bool

	symbols *ast.SymbolTable
}

func New(source []byte, opts ...Opt) *Parser {
	p := &Parser{
		lex:     lexer.New(source),
		source:  source,
		inline:  true,
		symbols: ast.NewSymbolTable(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Parser) reportWarning(offset int, format string, args ...interface{}) {
	if p.warn != nil {
		p.warn(offset, fmt.Sprintf(format, args...))
	}
}

func (p *Parser) fatalf(offset int, format string, args ...interface{}) error {
	return errs.At(errs.ParseError, fmt.Sprintf(format, args...), offset)
}

// ParseHeader consumes every top-level block up to (but not including)
// the Pattern block, fully populating the SymbolTable, then returns a
// Cursor positioned to stream the Pattern body. Returns (symbols, cursor, nil)
// on success; cursor is nil if the file has no Pattern block.
func (p *Parser) ParseHeader() (*ast.SymbolTable, *Cursor, error) {
	for {
		tok, err := p.lex.NextToken()
		if err != nil {
			return nil, nil, err
		}
		if tok.Type == lexer.EOF {
			if err := ast.ValidateNoInlineRecursion(p.symbols.Procedures, p.symbols.Macros); err != nil {
				return nil, nil, wrapMalformed(err)
			}
			return p.symbols, nil, nil
		}
		if tok.Type != lexer.IDENT {
			return nil, nil, p.fatalf(tok.Position.Offset, "expected a top-level block keyword, got %s", tok.Type)
		}

		keyword := string(tok.Text)
		switch keyword {
		case "STIL":
			if err := p.parseSTILVersion(); err != nil {
				return nil, nil, err
			}
		case "Header":
			if err := p.skipBlock("Header"); err != nil {
				return nil, nil, err
			}
		case "Signals":
			if err := p.parseSignals(); err != nil {
				return nil, nil, err
			}
		case "SignalGroups":
			if err := p.parseSignalGroups(); err != nil {
				return nil, nil, err
			}
		case "Timing":
			if err := p.parseTiming(); err != nil {
				return nil, nil, err
			}
		case "Procedures":
			if err := p.parseProcedures(); err != nil {
				return nil, nil, err
			}
		case "MacroDefs":
			if err := p.parseMacroDefs(); err != nil {
				return nil, nil, err
			}
		case "Pattern":
			name, err := p.expectIdent("pattern name")
			if err != nil {
				return nil, nil, err
			}
			if err := p.expect(lexer.LBRACE, "pattern body"); err != nil {
				return nil, nil, err
			}
			if err := ast.ValidateNoInlineRecursion(p.symbols.Procedures, p.symbols.Macros); err != nil {
				return nil, nil, wrapMalformed(err)
			}
			cursor := newCursor(p.lex, p.symbols.Procedures, p.symbols.Macros, p.inline, p.denyList, p.warn)
			cursor.PatternName = name
			return p.symbols, cursor, nil
		default:
			p.reportWarning(tok.Position.Offset, "unrecognized top-level block %q, skipping", keyword)
			if err := p.skipBlock(keyword); err != nil {
				return nil, nil, err
			}
		}
	}
}

// parseSTILVersion consumes `STIL <major> [. <minor>] ;` — the file
// format header; the version itself carries no data-model content.
func (p *Parser) parseSTILVersion() error {
	tok, err := p.lex.NextToken()
	if err != nil {
		return err
	}
	if tok.Type != lexer.INTEGER {
		return p.fatalf(tok.Position.Offset, "expected STIL version number")
	}
	// Optional ".minor"
	peek, err := p.lex.PeekToken()
	if err != nil {
		return err
	}
	if peek.Type == lexer.ILLEGAL && string(peek.Text) == "." {
		if _, err := p.lex.NextToken(); err != nil {
			return err
		}
		if _, err := p.expectInteger("STIL minor version"); err != nil {
			return err
		}
	}
	return p.expect(lexer.SEMICOLON, "STIL version declaration")
}

// skipBlock consumes a balanced `{ ... }` body (the opening LBRACE is
// consumed here too), tolerant of arbitrary unrecognized content inside —
// used for the Header block and for any unrecognized top-level keyword
// (spec.md §4.2: "tolerant of unrecognized top-level blocks"). Every
// opening brace is pushed onto p.brackets so a fatal EOF can report which
// one was left unclosed, not just where the EOF itself landed.
func (p *Parser) skipBlock(context string) error {
	open, err := p.lex.NextToken()
	if err != nil {
		return err
	}
	if open.Type != lexer.LBRACE {
		return p.fatalf(open.Position.Offset, "expected %s in %s, got %s %q", lexer.LBRACE, context, open.Type, open.Text)
	}
	p.brackets.push(open)
	depth := 1
	for depth > 0 {
		tok, err := p.lex.NextToken()
		if err != nil {
			return err
		}
		if tok.Type == lexer.EOF {
			unclosed, _ := p.brackets.pop()
			return p.fatalf(tok.Position.Offset, "unexpected EOF inside %s block; opening brace at offset %d was never closed", context, unclosed.Position.Offset)
		}
		switch tok.Type {
		case lexer.LBRACE:
			depth++
			p.brackets.push(tok)
		case lexer.RBRACE:
			depth--
			p.brackets.pop()
		}
	}
	return nil
}

// expect consumes the next token and fails with *ParseError if it isn't
// of type tt.
func (p *Parser) expect(tt lexer.TokenType, context string) error {
	tok, err := p.lex.NextToken()
	if err != nil {
		return err
	}
	if tok.Type != tt {
		return p.fatalf(tok.Position.Offset, "expected %s in %s, got %s %q", tt, context, tok.Type, tok.Text)
	}
	return nil
}

// expectIdent consumes the next token, requiring IDENT, and returns its text.
func (p *Parser) expectIdent(context string) (string, error) {
	tok, err := p.lex.NextToken()
	if err != nil {
		return "", err
	}
	if tok.Type != lexer.IDENT {
		return "", p.fatalf(tok.Position.Offset, "expected identifier in %s, got %s %q", context, tok.Type, tok.Text)
	}
	return string(tok.Text), nil
}

// expectWFCChar consumes the next token, requiring a single-character
// IDENT or INTEGER (a WFC letter or digit), and returns that byte.
func (p *Parser) expectWFCChar(context string) (byte, error) {
	tok, err := p.lex.NextToken()
	if err != nil {
		return 0, err
	}
	if (tok.Type != lexer.IDENT && tok.Type != lexer.INTEGER) || len(tok.Text) != 1 {
		return 0, p.fatalf(tok.Position.Offset, "expected a single WFC character in %s, got %s %q", context, tok.Type, tok.Text)
	}
	return tok.Text[0], nil
}

// expectInteger consumes the next token, requiring INTEGER, and returns
// its parsed decimal or hexadecimal value.
func (p *Parser) expectInteger(context string) (int, error) {
	tok, err := p.lex.NextToken()
	if err != nil {
		return 0, err
	}
	if tok.Type != lexer.INTEGER {
		return 0, p.fatalf(tok.Position.Offset, "expected integer in %s, got %s %q", context, tok.Type, tok.Text)
	}
	return parseIntLiteral(string(tok.Text)), nil
}

func parseIntLiteral(text string) int {
	if len(text) > 1 && text[0] == '0' && (text[1] == 'x' || text[1] == 'X') {
		n := 0
		for _, c := range text[2:] {
			n *= 16
			switch {
			case c >= '0' && c <= '9':
				n += int(c - '0')
			case c >= 'a' && c <= 'f':
				n += int(c-'a') + 10
			case c >= 'A' && c <= 'F':
				n += int(c-'A') + 10
			}
		}
		return n
	}
	n := 0
	for _, c := range text {
		n = n*10 + int(c-'0')
	}
	return n
}

// bracketTracker tracks opening brackets for diagnostic context, grounded
// on the teacher's runtime/parser/errors.go BracketTracker. Currently used
// only to report unclosed-bracket context on fatal errors.
type bracketTracker struct {
	stack []lexer.Token
}

func (bt *bracketTracker) push(tok lexer.Token) { bt.stack = append(bt.stack, tok) }

func (bt *bracketTracker) pop() (lexer.Token, bool) {
	if len(bt.stack) == 0 {
		return lexer.Token{}, false
	}
	top := bt.stack[len(bt.stack)-1]
	bt.stack = bt.stack[:len(bt.stack)-1]
	return top, true
}
