// Package vct renders a stream of Lowered Vectors as the fixed-column VCT
// text format (spec.md §4.4): a 256-slot channel buffer per vector line,
// framed by a header block, ORG/legend section, and a closing marker.
package vct

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/aledsdavies/stilconv/internal/ast"
	"github.com/aledsdavies/stilconv/internal/channelmap"
	"github.com/aledsdavies/stilconv/internal/engine"
	"github.com/aledsdavies/stilconv/internal/errs"
)

const (
	numChannels = 256
	microWidth  = 14
)

// Emitter writes VCT vector lines to an underlying writer, maintaining the
// 256-slot channel buffer and the file-framing state (header written once,
// #VECTOREND written exactly once on Close).
type Emitter struct {
	w          *bufio.Writer
	symbols    *ast.SymbolTable
	channelMap channelmap.Map
	sourcePath string

	// channelOwner[c] is the signal bound to channel c, or "" if unmapped.
	channelOwner [numChannels]string
	buf          [numChannels]byte

	headerWritten bool
	vectorCount   int
}

// New builds a VCT emitter. VCT caps at 8 waveform tables (RRADR holds
// the WFT id as a single digit, 0-7); a 9th declared table is
// TooManyWaveformTables.
func New(w io.Writer, symbols *ast.SymbolTable, cm channelmap.Map, sourcePath string) (*Emitter, error) {
	if len(symbols.WFTOrder) > 8 {
		return nil, errs.New(errs.TooManyWaveformTables,
			fmt.Sprintf("%d waveform tables declared; VCT supports at most 8", len(symbols.WFTOrder)))
	}
	e := &Emitter{
		w:          bufio.NewWriter(w),
		symbols:    symbols,
		channelMap: cm,
		sourcePath: sourcePath,
	}
	for name, channels := range cm {
		for _, ch := range channels {
			if ch >= 0 && ch < numChannels {
				e.channelOwner[ch] = name
			}
		}
	}
	return e, nil
}

// WriteHeader emits the one-time header comment block, the ORG directive,
// the signal legend and channel ruler, then VECTOR:/START: (spec.md §4.4:
// "File framing (written once)").
func (e *Emitter) WriteHeader() error {
	if e.headerWritten {
		return nil
	}
	e.headerWritten = true

	fmt.Fprintf(e.w, "* stilconv VCT export\n")
	fmt.Fprintf(e.w, "* source: %s\n", e.sourcePath)
	fmt.Fprintf(e.w, "* generated: %s\n", time.Now().UTC().Format(time.RFC3339))
	for _, name := range e.symbols.WFTOrder {
		wft := e.symbols.WFTs[name]
		fmt.Fprintf(e.w, "* WFT %d: %s (period=%g)\n", wft.ID, wft.Name, wft.Period)
	}
	mapped := 0
	for _, owner := range e.channelOwner {
		if owner != "" {
			mapped++
		}
	}
	fmt.Fprintf(e.w, "* DRVR channels: %d/%d mapped\n", mapped, numChannels)
	fmt.Fprintln(e.w, "#VECTOR")
	fmt.Fprintln(e.w, "  ORG 0")

	declared := e.symbols.Signals.Names()
	sorted := append([]string(nil), declared...)
	sort.Strings(sorted)
	for _, name := range sorted {
		channels := e.channelMap[name]
		fmt.Fprintf(e.w, "* %-32s %v\n", name, channels)
	}
	var ruler []byte
	for c := 0; c < numChannels; c++ {
		ruler = append(ruler, rulerDigit(c))
	}
	fmt.Fprintf(e.w, "* %s\n", ruler)
	fmt.Fprintln(e.w, "VECTOR:")
	fmt.Fprintln(e.w, "START:")
	return e.w.Flush()
}

func rulerDigit(c int) byte {
	return byte('0' + (c % 10))
}

// WriteVector renders and writes one Lowered Vector as a fixed-column
// line (spec.md §4.4's layout, field-for-field).
func (e *Emitter) WriteVector(v *engine.LoweredVector) error {
	if err := e.WriteHeader(); err != nil {
		return err
	}

	for i := range e.buf {
		e.buf[i] = '.'
	}
	for name, wfc := range v.Signals {
		for _, ch := range e.channelMap[name] {
			if ch >= 0 && ch < numChannels {
				e.buf[ch] = wfc
			}
		}
	}

	rradr := byte('0')
	if v.WFT != nil {
		rradr = byte('0' + v.WFT.ID)
	}

	micro := fmt.Sprintf("%-*s", microWidth, v.Micro.String())
	fmt.Fprintf(e.w, "%s %% %c%c0 %c%c%c %16s%s %c %c %s ; 0x%06X\n",
		micro,
		'0', '0', // MRST, MCMP
		'0', '0', '0', // GTST, TENA, TMEM
		"", "000", // RESERVED 16, SYNC 3
		rradr,
		'0', // CS
		string(e.buf[:]),
		v.Address,
	)
	e.vectorCount++
	return e.w.Flush()
}

// Close writes the closing #VECTOREND marker. Per spec.md §7's policy, this
// is called on success or cancellation, never after a fatal error.
func (e *Emitter) Close() error {
	fmt.Fprintln(e.w, "#VECTOREND")
	return e.w.Flush()
}

// VectorCount reports how many lines have been written so far.
func (e *Emitter) VectorCount() int { return e.vectorCount }
