// Command stilconv is the thin CLI host around the core conversion
// pipeline: it owns the file paths, the channel map, and the terminal —
// the core package never imports this one.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aledsdavies/stilconv/internal/channelmap"
	"github.com/aledsdavies/stilconv/internal/convert"
	"github.com/aledsdavies/stilconv/internal/errs"
	"github.com/aledsdavies/stilconv/internal/events"
	"github.com/aledsdavies/stilconv/internal/parser"
)

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("STILCONV_DEBUG") != "" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey || a.Key == slog.LevelKey {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func main() {
	var (
		inFile       string
		outFile      string
		target       string
		channelMapIn string
		denyNames    []string
		dumpSymbols  bool
	)

	logger := newLogger()

	rootCmd := &cobra.Command{
		Use:           "stilconv",
		Short:         "Convert STIL test vector patterns to VCT or GASC",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(inFile, outFile, target, channelMapIn, denyNames, dumpSymbols, logger)
		},
	}

	rootCmd.Flags().StringVarP(&inFile, "file", "f", "", "Path to the STIL source file (required)")
	rootCmd.Flags().StringVarP(&outFile, "out", "o", "", "Path to write the converted output (required)")
	rootCmd.Flags().StringVarP(&target, "target", "t", "vct", "Output format: vct or gasc")
	rootCmd.Flags().StringVar(&channelMapIn, "channel-map", "", "Path to a CSV or JSON channel map (VCT only)")
	rootCmd.Flags().StringSliceVar(&denyNames, "deny", nil, "Pattern-statement keywords to skip with a warning instead of failing")
	rootCmd.Flags().BoolVar(&dumpSymbols, "dump-symbols", false, "Print the symbol table's CBOR size and SHA-256 fingerprint to stderr before lowering")
	_ = rootCmd.MarkFlagRequired("file")
	_ = rootCmd.MarkFlagRequired("out")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(inFile, outFile, targetFlag, channelMapPath string, denyNames []string, dumpSymbols bool, logger *slog.Logger) error {
	target, err := parseTarget(targetFlag)
	if err != nil {
		return err
	}

	var cm channelmap.Map
	if channelMapPath != "" {
		cm, err = loadChannelMap(channelMapPath)
		if err != nil {
			return err
		}
	}

	if dumpSymbols {
		if err := printSymbolDump(inFile, logger); err != nil {
			return err
		}
	}

	denyList := parser.NewDenyList(denyNames...)

	cancel := events.NewCancelFlag()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel.Request()
	}()

	ch := make(chan events.Event, 64)
	sink := events.NewChannelSink(ch)
	done := make(chan struct{})
	go drainEvents(ch, logger, done)

	result, err := convert.Convert(inFile, outFile, target, cm, denyList, sink, cancel)
	close(done)
	if err != nil {
		var ce *errs.ConvertError
		if errors.As(err, &ce) {
			return fmt.Errorf("%s: %s", ce.Kind, ce.Message)
		}
		return err
	}

	if result.Cancelled {
		logger.Info("conversion cancelled", "vectors_written", result.TotalVectors, "last_address", result.LastAddress)
		return nil
	}
	logger.Info("conversion complete", "vectors_written", result.TotalVectors)
	return nil
}

func parseTarget(s string) (convert.Target, error) {
	switch strings.ToLower(s) {
	case "vct":
		return convert.TargetVCT, nil
	case "gasc":
		return convert.TargetGASC, nil
	default:
		return 0, fmt.Errorf("unknown target %q: expected vct or gasc", s)
	}
}

func loadChannelMap(path string) (channelmap.Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.ChannelMapParseError, fmt.Sprintf("opening channel map %s", path), err)
	}
	defer f.Close()

	if strings.HasSuffix(strings.ToLower(path), ".json") {
		return channelmap.LoadJSON(f)
	}
	return channelmap.LoadCSV(f)
}

// drainEvents forwards core events to the CLI's logger until done is
// closed; this is the "UI thread" side of spec.md §5's one-way channel.
func drainEvents(ch <-chan events.Event, logger *slog.Logger, done <-chan struct{}) {
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			logEvent(logger, e)
		case <-done:
			// Drain whatever's buffered, then stop.
			for {
				select {
				case e, ok := <-ch:
					if !ok {
						return
					}
					logEvent(logger, e)
				default:
					return
				}
			}
		}
	}
}

func logEvent(logger *slog.Logger, e events.Event) {
	switch e.Kind {
	case events.KindProgress:
		logger.Debug("progress", "percent", e.Percent)
	case events.KindWarning:
		logger.Warn(e.WarningText, "offset", e.SourceOffset)
	case events.KindLog:
		logger.Log(context.Background(), e.Level, e.Message)
	case events.KindCancelled:
		logger.Info("cancelled", "last_addr", e.LastAddr)
	case events.KindDone:
		logger.Debug("done", "total_vectors", e.TotalVectors)
	}
}

func printSymbolDump(inFile string, logger *slog.Logger) error {
	source, err := os.ReadFile(inFile)
	if err != nil {
		return errs.Wrap(errs.IOError, fmt.Sprintf("reading %s", inFile), err)
	}
	p := parser.New(source)
	symbols, _, err := p.ParseHeader()
	if err != nil {
		return err
	}
	snap := convert.Snapshot(symbols)
	data, err := snap.MarshalBinary()
	if err != nil {
		return err
	}
	fingerprint, err := snap.Fingerprint()
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "symbol table: %d bytes CBOR, sha256=%x\n", len(data), fingerprint)
	logger.Debug("symbol snapshot", "signals", len(snap.Signals), "groups", len(snap.Groups), "wfts", len(snap.WFTs))
	return nil
}
