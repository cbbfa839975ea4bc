// Package errs implements the §7 error taxonomy as a closed sum type.
package errs

import (
	"fmt"
	"strings"
)

// Kind is one of the fatal or controlled-termination error categories
// spec.md §7 enumerates.
type Kind int

const (
	LexError Kind = iota
	ParseError
	MalformedSymbolTable
	MissingWaveformContext
	VectorWidthError
	UnsupportedConstruct
	TooManyWaveformTables
	ChannelMapConflict
	ChannelMapParseError
	AddressOverflow
	IOError
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case LexError:
		return "LexError"
	case ParseError:
		return "ParseError"
	case MalformedSymbolTable:
		return "MalformedSymbolTable"
	case MissingWaveformContext:
		return "MissingWaveformContext"
	case VectorWidthError:
		return "VectorWidthError"
	case UnsupportedConstruct:
		return "UnsupportedConstruct"
	case TooManyWaveformTables:
		return "TooManyWaveformTables"
	case ChannelMapConflict:
		return "ChannelMapConflict"
	case ChannelMapParseError:
		return "ChannelMapParseError"
	case AddressOverflow:
		return "AddressOverflow"
	case IOError:
		return "IOError"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Offset is a byte offset into the source file, or -1 when not applicable
// (e.g. channel-map errors that predate any STIL source being opened).
type Offset int

const NoOffset Offset = -1

// ConvertError is the error type every fatal or controlled-termination
// condition in the core is surfaced as.
type ConvertError struct {
	Kind    Kind
	Message string
	Offset  Offset
	Context string // block/statement context, e.g. "Pattern p, statement 12"
	Wrapped error
}

func (e *ConvertError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Offset != NoOffset {
		fmt.Fprintf(&b, " (offset %d)", e.Offset)
	}
	if e.Context != "" {
		fmt.Fprintf(&b, " [%s]", e.Context)
	}
	if e.Wrapped != nil {
		fmt.Fprintf(&b, ": %v", e.Wrapped)
	}
	return b.String()
}

func (e *ConvertError) Unwrap() error { return e.Wrapped }

// Is supports errors.Is comparisons by Kind: errors.Is(err, errs.New(errs.LexError, ""))
// reports true for any *ConvertError sharing that Kind, regardless of message.
func (e *ConvertError) Is(target error) bool {
	t, ok := target.(*ConvertError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs a ConvertError with no offset/context.
func New(kind Kind, message string) *ConvertError {
	return &ConvertError{Kind: kind, Message: message, Offset: NoOffset}
}

// At constructs a ConvertError anchored to a byte offset.
func At(kind Kind, message string, offset int) *ConvertError {
	return &ConvertError{Kind: kind, Message: message, Offset: Offset(offset)}
}

// Wrap constructs a ConvertError wrapping an underlying cause (e.g. an os.PathError).
func Wrap(kind Kind, message string, cause error) *ConvertError {
	return &ConvertError{Kind: kind, Message: message, Offset: NoOffset, Wrapped: cause}
}

// WithContext returns a copy of e with Context set, for errors produced deep
// inside the lowering engine that want to name the enclosing block.
func (e *ConvertError) WithContext(context string) *ConvertError {
	cp := *e
	cp.Context = context
	return &cp
}
