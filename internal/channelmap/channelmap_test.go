package channelmap_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aledsdavies/stilconv/internal/ast"
	"github.com/aledsdavies/stilconv/internal/channelmap"
	"github.com/aledsdavies/stilconv/internal/errs"
)

func TestLoadCSV(t *testing.T) {
	const csv = "Signal,Channel\na,0\nbus,10,11,12,13\n"
	m, err := channelmap.LoadCSV(strings.NewReader(csv))
	require.NoError(t, err)
	require.Equal(t, []int{0}, m["a"])
	require.Equal(t, []int{10, 11, 12, 13}, m["bus"])
}

func TestLoadCSVBadHeader(t *testing.T) {
	_, err := channelmap.LoadCSV(strings.NewReader("Name,Chan\na,0\n"))
	require.Error(t, err)
	var ce *errs.ConvertError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, errs.ChannelMapParseError, ce.Kind)
}

func TestLoadJSON(t *testing.T) {
	const in = `{"a": [0], "bus": [10, 11, 12, 13]}`
	m, err := channelmap.LoadJSON(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, []int{0}, m["a"])
	require.Equal(t, []int{10, 11, 12, 13}, m["bus"])
}

func TestLoadJSONOutOfRangeChannel(t *testing.T) {
	_, err := channelmap.LoadJSON(strings.NewReader(`{"a": [999]}`))
	require.Error(t, err)
	var ce *errs.ConvertError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, errs.ChannelMapParseError, ce.Kind)
}

func newSignals(names ...string) *ast.SignalTable {
	st := ast.NewSignalTable()
	for _, n := range names {
		st.Add(ast.Signal{Name: n, Direction: ast.DirIn})
	}
	return st
}

func TestValidateConflict(t *testing.T) {
	m := channelmap.Map{"a": {0}, "b": {0}}
	err := channelmap.Validate(m, newSignals("a", "b"), nil)
	require.Error(t, err)
	var ce *errs.ConvertError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, errs.ChannelMapConflict, ce.Kind)
}

func TestValidateOutOfRange(t *testing.T) {
	m := channelmap.Map{"a": {300}}
	err := channelmap.Validate(m, newSignals("a"), nil)
	require.Error(t, err)
	var ce *errs.ConvertError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, errs.ChannelMapConflict, ce.Kind)
}

func TestValidateWarnsOnUnmappedAndUnknownSignal(t *testing.T) {
	m := channelmap.Map{"ck": {0}}
	var warnings []string
	err := channelmap.Validate(m, newSignals("clk", "data"), func(msg string) {
		warnings = append(warnings, msg)
	})
	require.NoError(t, err)
	require.Len(t, warnings, 3, "clk and data unmapped, ck unknown with a fuzzy suggestion")

	var sawSuggestion bool
	for _, w := range warnings {
		if strings.Contains(w, `did you mean "clk"`) {
			sawSuggestion = true
		}
	}
	require.True(t, sawSuggestion, "expected a did-you-mean suggestion for %q", warnings)
}
