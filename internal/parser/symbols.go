package parser

import (
	"strings"

	"github.com/aledsdavies/stilconv/internal/ast"
	"github.com/aledsdavies/stilconv/internal/errs"
	"github.com/aledsdavies/stilconv/internal/lexer"
)

// wrapMalformed turns an ast.CycleError (or any symbol-resolution failure)
// into the closed *errs.ConvertError taxonomy.
func wrapMalformed(cause error) error {
	return errs.Wrap(errs.MalformedSymbolTable, cause.Error(), cause)
}

var directionKeywords = map[string]ast.Direction{
	"In":      ast.DirIn,
	"Out":     ast.DirOut,
	"InOut":   ast.DirInOut,
	"Supply":  ast.DirSupply,
	"Pseudo":  ast.DirPseudo,
}

// parseSignals parses `Signals { name Direction [defaultWFC]; ... }`.
func (p *Parser) parseSignals() error {
	if err := p.expect(lexer.LBRACE, "Signals block"); err != nil {
		return err
	}
	for {
		tok, err := p.lex.PeekToken()
		if err != nil {
			return err
		}
		if tok.Type == lexer.RBRACE {
			_, _ = p.lex.NextToken()
			return nil
		}

		name, err := p.expectIdent("signal declaration")
		if err != nil {
			return err
		}
		dirName, err := p.expectIdent("signal direction")
		if err != nil {
			return err
		}
		dir, ok := directionKeywords[dirName]
		if !ok {
			return p.fatalf(tok.Position.Offset, "unknown signal direction %q for signal %q", dirName, name)
		}

		sig := ast.Signal{Name: name, Direction: dir}

		// Optional single-character default WFC before the terminating ';'.
		next, err := p.lex.PeekToken()
		if err != nil {
			return err
		}
		if next.Type == lexer.IDENT && len(next.Text) == 1 {
			_, _ = p.lex.NextToken()
			sig.DefaultWFC = next.Text[0]
		}

		if err := p.expect(lexer.SEMICOLON, "signal declaration"); err != nil {
			return err
		}
		p.symbols.Signals.Add(sig)
	}
}

// parseSignalGroups parses `SignalGroups { name = 'member+member+...'; ... }`.
func (p *Parser) parseSignalGroups() error {
	if err := p.expect(lexer.LBRACE, "SignalGroups block"); err != nil {
		return err
	}
	for {
		tok, err := p.lex.PeekToken()
		if err != nil {
			return err
		}
		if tok.Type == lexer.RBRACE {
			_, _ = p.lex.NextToken()
			return nil
		}

		name, err := p.expectIdent("signal group declaration")
		if err != nil {
			return err
		}
		if err := p.expect(lexer.EQUALS, "signal group declaration"); err != nil {
			return err
		}
		if err := p.expect(lexer.QUOTE, "signal group member list"); err != nil {
			return err
		}
		raw, err := p.lex.ScanQuotedGroupList()
		if err != nil {
			return err
		}
		var members []string
		for _, m := range strings.Split(string(raw), "+") {
			m = strings.TrimSpace(m)
			if m != "" {
				members = append(members, m)
			}
		}
		if err := p.expect(lexer.SEMICOLON, "signal group declaration"); err != nil {
			return err
		}
		p.symbols.Groups.Add(ast.SignalGroup{Name: name, Members: members})
	}
}

// parseTiming parses `Timing { WaveformTable name { Period n; Waveforms {
// signal { raw: driven; ... } ... } } ... }` — the simplified,
// enumerated-grammar-subset form of STIL's edge-based waveform syntax.
func (p *Parser) parseTiming() error {
	if err := p.expect(lexer.LBRACE, "Timing block"); err != nil {
		return err
	}
	for {
		tok, err := p.lex.PeekToken()
		if err != nil {
			return err
		}
		if tok.Type == lexer.RBRACE {
			_, _ = p.lex.NextToken()
			return nil
		}

		kw, err := p.expectIdent("Timing block entry")
		if err != nil {
			return err
		}
		if kw != "WaveformTable" {
			return p.fatalf(tok.Position.Offset, "expected WaveformTable, got %q", kw)
		}
		if err := p.parseWaveformTable(); err != nil {
			return err
		}
	}
}

func (p *Parser) parseWaveformTable() error {
	name, err := p.expectIdent("waveform table name")
	if err != nil {
		return err
	}
	if err := p.expect(lexer.LBRACE, "waveform table body"); err != nil {
		return err
	}

	if len(p.symbols.WFTOrder) >= 8 {
		// The VCT emitter (vct.New) is what enforces the
		// TooManyWaveformTables limit per spec.md §4.4 ("VCT only") — the
		// symbol table itself has no target-format context, so it
		// records all declared WFTs and lets the VCT emitter reject.
	}
	wft := ast.NewWaveformTable(name, 0, 0)

	for {
		tok, err := p.lex.PeekToken()
		if err != nil {
			return err
		}
		if tok.Type == lexer.RBRACE {
			_, _ = p.lex.NextToken()
			break
		}

		kw, err := p.expectIdent("waveform table entry")
		if err != nil {
			return err
		}
		switch kw {
		case "Period":
			period, err := p.expectInteger("Period")
			if err != nil {
				return err
			}
			wft.Period = float64(period)
			if err := p.expect(lexer.SEMICOLON, "Period declaration"); err != nil {
				return err
			}
		case "Waveforms":
			if err := p.parseWaveforms(wft); err != nil {
				return err
			}
		default:
			return p.fatalf(tok.Position.Offset, "unexpected waveform table entry %q", kw)
		}
	}

	p.symbols.AddWFT(wft)
	return nil
}

func (p *Parser) parseWaveforms(wft *ast.WaveformTable) error {
	if err := p.expect(lexer.LBRACE, "Waveforms block"); err != nil {
		return err
	}
	for {
		tok, err := p.lex.PeekToken()
		if err != nil {
			return err
		}
		if tok.Type == lexer.RBRACE {
			_, _ = p.lex.NextToken()
			return nil
		}

		signal, err := p.expectIdent("waveform signal mapping")
		if err != nil {
			return err
		}
		if err := p.expect(lexer.LBRACE, "waveform signal mapping body"); err != nil {
			return err
		}
		for {
			peek, err := p.lex.PeekToken()
			if err != nil {
				return err
			}
			if peek.Type == lexer.RBRACE {
				_, _ = p.lex.NextToken()
				break
			}
			rawTok, err := p.expectWFCChar("raw WFC")
			if err != nil {
				return err
			}
			// A real arrow token doesn't exist in this grammar subset; a
			// single ':' stands in for raw->driven, e.g. `0: D;`.
			if err := p.expect(lexer.COLON, "waveform event"); err != nil {
				return err
			}
			drivenTok, err := p.expectWFCChar("driven WFC")
			if err != nil {
				return err
			}
			if err := p.expect(lexer.SEMICOLON, "waveform event"); err != nil {
				return err
			}
			wft.SetMapping(signal, rawTok, drivenTok)
		}
	}
}

// parseProcedures parses `Procedures { name { stmts } ... }`, fully
// materializing each procedure's body (spec.md §3: "pre-parsed to an
// internal statement list"). Recursion is validated once both Procedures
// and MacroDefs are fully parsed (see ParseHeader's combined check) since
// a cycle can alternate between a Call and a Macro reference.
func (p *Parser) parseProcedures() error {
	if err := p.expect(lexer.LBRACE, "Procedures block"); err != nil {
		return err
	}
	for {
		tok, err := p.lex.PeekToken()
		if err != nil {
			return err
		}
		if tok.Type == lexer.RBRACE {
			_, _ = p.lex.NextToken()
			break
		}
		name, err := p.expectIdent("procedure name")
		if err != nil {
			return err
		}
		if err := p.expect(lexer.LBRACE, "procedure body"); err != nil {
			return err
		}
		body, err := p.parseStatementList()
		if err != nil {
			return err
		}
		p.symbols.Procedures.Add(&ast.Procedure{Name: name, Body: body})
	}
	return nil
}

// parseMacroDefs mirrors parseProcedures for MacroDefs. Recursion is
// validated once both Procedures and MacroDefs are fully parsed (see
// ParseHeader's combined check).
func (p *Parser) parseMacroDefs() error {
	if err := p.expect(lexer.LBRACE, "MacroDefs block"); err != nil {
		return err
	}
	for {
		tok, err := p.lex.PeekToken()
		if err != nil {
			return err
		}
		if tok.Type == lexer.RBRACE {
			_, _ = p.lex.NextToken()
			break
		}
		name, err := p.expectIdent("macro name")
		if err != nil {
			return err
		}
		if err := p.expect(lexer.LBRACE, "macro body"); err != nil {
			return err
		}
		body, err := p.parseStatementList()
		if err != nil {
			return err
		}
		p.symbols.Macros.Add(&ast.MacroDef{Name: name, Body: body})
	}
	return nil
}
