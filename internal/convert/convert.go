// Package convert wires the lexer, block parser, lowering engine, and an
// emitter together behind the single entry point spec.md §6 names:
// Convert(source_path, output_path, target, channel_map, deny_list,
// event_sink) -> Result.
package convert

import (
	"fmt"
	"os"

	"github.com/aledsdavies/stilconv/internal/ast"
	"github.com/aledsdavies/stilconv/internal/channelmap"
	"github.com/aledsdavies/stilconv/internal/emit/gasc"
	"github.com/aledsdavies/stilconv/internal/emit/vct"
	"github.com/aledsdavies/stilconv/internal/engine"
	"github.com/aledsdavies/stilconv/internal/errs"
	"github.com/aledsdavies/stilconv/internal/events"
	"github.com/aledsdavies/stilconv/internal/parser"
)

// Target selects the output format.
type Target int

const (
	TargetVCT Target = iota
	TargetGASC
)

func (t Target) String() string {
	if t == TargetGASC {
		return "GASC"
	}
	return "VCT"
}

// progressChunk is how many bytes of source consumed triggers one Progress
// event (spec.md §5: "approximately every fixed byte-count of input
// consumed"); fixed at 64 KiB per SPEC_FULL.md's supplemented detail.
const progressChunk = 64 * 1024

// Result summarizes a completed or cancelled conversion.
type Result struct {
	TotalVectors int
	Cancelled    bool
	LastAddress  int
}

// vectorWriter is the shape both emit/vct and emit/gasc satisfy.
type vectorWriter interface {
	WriteHeader() error
	WriteVector(v *engine.LoweredVector) error
	Close() error
	VectorCount() int
}

// Convert runs the full pipeline: lex + parse the STIL source at
// sourcePath, validate/apply channelMap (VCT only), lower the Pattern body,
// and write target-formatted output to outputPath. Input/output handles
// are released unconditionally before Convert returns (spec.md §5:
// "Resource scoping").
func Convert(sourcePath, outputPath string, target Target, channelMap channelmap.Map, denyList parser.DenyList, sink events.Sink, cancel *events.CancelFlag) (*Result, error) {
	source, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, fmt.Sprintf("reading %s", sourcePath), err)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, fmt.Sprintf("creating %s", outputPath), err)
	}
	defer out.Close()

	warn := func(offset int, message string) {
		if sink != nil {
			sink.Emit(events.Warning(offset, message))
		}
	}

	p := parser.New(source, parser.WithDenyList(denyList), parser.WithWarningFunc(warn))
	symbols, cursor, err := p.ParseHeader()
	if err != nil {
		return nil, err
	}
	if cursor == nil {
		return nil, errs.New(errs.ParseError, fmt.Sprintf("%s has no Pattern block", sourcePath))
	}

	if target == TargetVCT {
		if err := channelmap.Validate(channelMap, symbols.Signals, func(msg string) { warn(0, msg) }); err != nil {
			return nil, err
		}
	} else if len(channelMap) > 0 {
		warn(0, "channel map supplied but GASC output consults none; ignoring")
	}

	emitter, err := newEmitter(target, out, symbols, channelMap, sourcePath, cursor.PatternName)
	if err != nil {
		return nil, err
	}
	if err := emitter.WriteHeader(); err != nil {
		return nil, errs.Wrap(errs.IOError, "writing output header", err)
	}

	eng := engine.New(symbols, cursor, engine.WithSink(sink), engine.WithCancelFlag(cancel))

	lastProgressOffset := 0
	for {
		v, ok, err := eng.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if err := emitter.WriteVector(v); err != nil {
			return nil, errs.Wrap(errs.IOError, "writing vector", err)
		}

		if off := cursor.Offset(); off-lastProgressOffset >= progressChunk {
			lastProgressOffset = off
			pct := float64(off) / float64(len(source)) * 100
			if sink != nil {
				sink.Emit(events.Progress(pct))
			}
		}
	}

	if eng.Cancelled() {
		if err := emitter.Close(); err != nil {
			return nil, errs.Wrap(errs.IOError, "closing output after cancellation", err)
		}
		if sink != nil {
			sink.Emit(events.Cancelled(eng.Address()))
		}
		return &Result{TotalVectors: emitter.VectorCount(), Cancelled: true, LastAddress: eng.Address()}, nil
	}

	if err := emitter.Close(); err != nil {
		return nil, errs.Wrap(errs.IOError, "closing output", err)
	}
	if sink != nil {
		sink.Emit(events.Done(emitter.VectorCount()))
	}
	return &Result{TotalVectors: emitter.VectorCount(), LastAddress: eng.Address()}, nil
}

func newEmitter(target Target, out *os.File, symbols *ast.SymbolTable, cm channelmap.Map, sourcePath, patternName string) (vectorWriter, error) {
	if target == TargetGASC {
		return gasc.New(out, symbols, patternName, sourcePath), nil
	}
	return vct.New(out, symbols, cm, sourcePath)
}
