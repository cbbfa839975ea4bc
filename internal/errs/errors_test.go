package errs_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aledsdavies/stilconv/internal/errs"
)

func TestIsComparesByKindOnly(t *testing.T) {
	a := errs.At(errs.VectorWidthError, "assignment to bus has 3 WFCs but 2 signals", 42)
	b := errs.New(errs.VectorWidthError, "")
	require.True(t, errors.Is(a, b))

	c := errs.New(errs.LexError, "")
	require.False(t, errors.Is(a, c))
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("permission denied")
	wrapped := errs.Wrap(errs.IOError, "opening output", cause)
	require.ErrorIs(t, wrapped, cause)
	require.Contains(t, wrapped.Error(), "permission denied")
}

func TestWithContext(t *testing.T) {
	base := errs.New(errs.MalformedSymbolTable, "unknown waveform table")
	withCtx := base.WithContext("Pattern p, statement 3")
	require.Contains(t, withCtx.Error(), "Pattern p, statement 3")
	require.NotContains(t, base.Error(), "Pattern p, statement 3", "WithContext must not mutate the receiver")
}
