// Package gasc renders a stream of Lowered Vectors as the free-form GASC
// text format (spec.md §4.5): HEADER, Signals, SignalGroups, Timing, and
// one SPM_PATTERN (SCAN) block. No channel map is consulted — every
// declared signal's driven WFC is printed in declaration order.
package gasc

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aledsdavies/stilconv/internal/ast"
	"github.com/aledsdavies/stilconv/internal/engine"
)

// Emitter writes a GASC pattern to an underlying writer.
type Emitter struct {
	w           *bufio.Writer
	symbols     *ast.SymbolTable
	patternName string
	sourcePath  string

	headerWritten bool
	vectorCount   int
	lastWFT       string // name of the WFT last printed on a ";wft" suffix
}

// New builds a GASC emitter.
func New(w io.Writer, symbols *ast.SymbolTable, patternName, sourcePath string) *Emitter {
	return &Emitter{w: bufio.NewWriter(w), symbols: symbols, patternName: patternName, sourcePath: sourcePath}
}

// WriteHeader emits HEADER, Signals, SignalGroups, and Timing, then opens
// the SPM_PATTERN (SCAN) block (spec.md §4.5).
func (e *Emitter) WriteHeader() error {
	if e.headerWritten {
		return nil
	}
	e.headerWritten = true

	fmt.Fprintln(e.w, "HEADER")
	fmt.Fprintf(e.w, "  source \"%s\";\n", e.sourcePath)
	fmt.Fprintf(e.w, "  generated \"%s\";\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintln(e.w, "}")

	fmt.Fprintln(e.w, "Signals {")
	for _, name := range e.symbols.Signals.Names() {
		sig, _ := e.symbols.Signals.Get(name)
		if sig.DefaultWFC != 0 {
			fmt.Fprintf(e.w, "  %s %s %c;\n", name, sig.Direction, sig.DefaultWFC)
		} else {
			fmt.Fprintf(e.w, "  %s %s;\n", name, sig.Direction)
		}
	}
	fmt.Fprintln(e.w, "}")

	fmt.Fprintln(e.w, "SignalGroups {")
	for _, name := range e.symbols.Groups.Names() {
		g, _ := e.symbols.Groups.Lookup(name)
		fmt.Fprintf(e.w, "  %s = '%s';\n", g.Name, strings.Join(g.Members, "+"))
	}
	fmt.Fprintln(e.w, "}")

	fmt.Fprintln(e.w, "Timing {")
	for _, name := range e.symbols.WFTOrder {
		wft := e.symbols.WFTs[name]
		fmt.Fprintf(e.w, "  WaveformTable %s { Period %g; }\n", wft.Name, wft.Period)
	}
	fmt.Fprintln(e.w, "}")

	fmt.Fprintf(e.w, "SPM_PATTERN (SCAN) %s {\n", e.patternName)
	return e.w.Flush()
}

// WriteVector renders one Lowered Vector as:
//
//	       *<WFCs in header order>*#<micro-instruction>;<wft>:<label>;
//
// (every line ends with a terminating ';') with :label omitted when absent, #micro omitted when it's the implicit
// ADV, and the ;wft suffix omitted once the WFT hasn't changed since the
// last vector that printed it — not merely absent (spec.md §4.5).
func (e *Emitter) WriteVector(v *engine.LoweredVector) error {
	if err := e.WriteHeader(); err != nil {
		return err
	}

	var wfcs strings.Builder
	for _, name := range e.symbols.Signals.Names() {
		wfc, ok := v.Signals[name]
		if !ok {
			wfc = 'X'
		}
		wfcs.WriteByte(wfc)
	}

	var line strings.Builder
	line.WriteString("       *")
	line.WriteString(wfcs.String())
	line.WriteString("*")
	if v.Micro.Kind != engine.MicroADV {
		line.WriteString("#")
		line.WriteString(v.Micro.String())
	}
	if v.WFT != nil && v.WFT.Name != e.lastWFT {
		line.WriteString(";")
		line.WriteString(v.WFT.Name)
		e.lastWFT = v.WFT.Name
	}
	for _, label := range v.Labels {
		line.WriteString(":")
		line.WriteString(label)
	}
	line.WriteString(";\n")

	if _, err := e.w.WriteString(line.String()); err != nil {
		return err
	}
	e.vectorCount++
	return e.w.Flush()
}

// Close writes the closing brace of the SPM_PATTERN block.
func (e *Emitter) Close() error {
	fmt.Fprintln(e.w, "}")
	return e.w.Flush()
}

// VectorCount reports how many lines have been written so far.
func (e *Emitter) VectorCount() int { return e.vectorCount }
