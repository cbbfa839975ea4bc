package gasc

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aledsdavies/stilconv/internal/ast"
	"github.com/aledsdavies/stilconv/internal/errs"
)

// ReadSymbols re-parses the Signals/SignalGroups/Timing blocks of a GASC
// pattern written by this package's Emitter, rebuilding the portion of a
// SymbolTable those blocks carry (spec.md §8's round-trip property:
// "re-parsing an emitted GASC pattern's signal/waveform declarations
// yields a symbol table equal to the input's"). Stops at the first
// SPM_PATTERN line — vector lines are never re-parsed, only the header
// declarations that precede them.
//
// GASC's format names no Procedures/MacroDefs section (spec.md §4.5 lists
// only HEADER/Signals/SignalGroups/Timing/SPM_PATTERN), so the returned
// table's Procedures and Macros are always empty; the round-trip
// property is scoped to Signals/Groups/WFTs accordingly.
func ReadSymbols(r io.Reader) (*ast.SymbolTable, error) {
	symbols := ast.NewSymbolTable()
	scanner := bufio.NewScanner(r)
	block := ""
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		if block == "" {
			switch {
			case text == "HEADER":
				block = "HEADER"
			case text == "Signals {":
				block = "Signals"
			case text == "SignalGroups {":
				block = "SignalGroups"
			case text == "Timing {":
				block = "Timing"
			case strings.HasPrefix(text, "SPM_PATTERN"):
				return symbols, nil
			default:
				return nil, errs.At(errs.ParseError, fmt.Sprintf("unexpected GASC line %q", text), lineNo)
			}
			continue
		}

		if text == "}" {
			block = ""
			continue
		}

		var err error
		switch block {
		case "HEADER":
			// source/generated metadata; carries no symbol-table content.
		case "Signals":
			err = readSignalLine(symbols, text, lineNo)
		case "SignalGroups":
			err = readGroupLine(symbols, text, lineNo)
		case "Timing":
			err = readTimingLine(symbols, text, lineNo)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.IOError, "reading GASC source", err)
	}
	return symbols, nil
}

// readSignalLine parses "name Direction;" or "name Direction D;" (the
// latter when a default WFC was declared), mirroring WriteHeader's
// Signals block format.
func readSignalLine(symbols *ast.SymbolTable, text string, lineNo int) error {
	fields := strings.Fields(strings.TrimSuffix(text, ";"))
	if len(fields) < 2 || len(fields) > 3 {
		return errs.At(errs.ParseError, fmt.Sprintf("malformed Signals line %q", text), lineNo)
	}
	dir, ok := gascDirections[fields[1]]
	if !ok {
		return errs.At(errs.ParseError, fmt.Sprintf("unknown signal direction %q", fields[1]), lineNo)
	}
	sig := ast.Signal{Name: fields[0], Direction: dir}
	if len(fields) == 3 {
		if len(fields[2]) != 1 {
			return errs.At(errs.ParseError, fmt.Sprintf("malformed default WFC %q", fields[2]), lineNo)
		}
		sig.DefaultWFC = fields[2][0]
	}
	symbols.Signals.Add(sig)
	return nil
}

var gascDirections = map[string]ast.Direction{
	"In":     ast.DirIn,
	"Out":    ast.DirOut,
	"InOut":  ast.DirInOut,
	"Supply": ast.DirSupply,
	"Pseudo": ast.DirPseudo,
}

// readGroupLine parses "name = 'member+member+...';", mirroring
// WriteHeader's SignalGroups block format.
func readGroupLine(symbols *ast.SymbolTable, text string, lineNo int) error {
	eq := strings.Index(text, "=")
	if eq < 0 {
		return errs.At(errs.ParseError, fmt.Sprintf("malformed SignalGroups line %q", text), lineNo)
	}
	name := strings.TrimSpace(text[:eq])
	rest := strings.TrimSpace(text[eq+1:])
	rest = strings.TrimSuffix(rest, ";")
	if len(rest) < 2 || rest[0] != '\'' || rest[len(rest)-1] != '\'' {
		return errs.At(errs.ParseError, fmt.Sprintf("malformed SignalGroups member list %q", text), lineNo)
	}
	members := strings.Split(rest[1:len(rest)-1], "+")
	symbols.Groups.Add(ast.SignalGroup{Name: name, Members: members})
	return nil
}

// readTimingLine parses "WaveformTable name { Period N; }", mirroring
// WriteHeader's Timing block format.
func readTimingLine(symbols *ast.SymbolTable, text string, lineNo int) error {
	if !strings.HasPrefix(text, "WaveformTable ") {
		return errs.At(errs.ParseError, fmt.Sprintf("malformed Timing line %q", text), lineNo)
	}
	rest := strings.TrimSpace(strings.TrimPrefix(text, "WaveformTable "))
	open := strings.Index(rest, "{")
	shut := strings.LastIndex(rest, "}")
	if open < 0 || shut < open {
		return errs.At(errs.ParseError, fmt.Sprintf("malformed Timing line %q", text), lineNo)
	}
	name := strings.TrimSpace(rest[:open])
	body := strings.TrimSpace(rest[open+1 : shut])
	body = strings.TrimSuffix(body, ";")
	if !strings.HasPrefix(body, "Period ") {
		return errs.At(errs.ParseError, fmt.Sprintf("malformed WaveformTable body %q", body), lineNo)
	}
	periodText := strings.TrimSpace(strings.TrimPrefix(body, "Period "))
	period, err := strconv.ParseFloat(periodText, 64)
	if err != nil {
		return errs.At(errs.ParseError, fmt.Sprintf("malformed waveform table period %q", periodText), lineNo)
	}
	symbols.AddWFT(ast.NewWaveformTable(name, period, 0))
	return nil
}
