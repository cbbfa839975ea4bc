// Package events defines the one-way event sink the core reports progress,
// diagnostics, and termination through (spec.md §5/§6). The core never
// blocks on the sink accepting an event; callers choose the channel or
// callback mechanics (buffered channel, slog handler, etc).
package events

import "log/slog"

// Kind tags an Event's payload.
type Kind int

const (
	KindProgress Kind = iota
	KindLog
	KindWarning
	KindCancelled
	KindDone
)

func (k Kind) String() string {
	switch k {
	case KindProgress:
		return "Progress"
	case KindLog:
		return "Log"
	case KindWarning:
		return "Warning"
	case KindCancelled:
		return "Cancelled"
	case KindDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Event is a single item on the one-way core-to-host channel.
type Event struct {
	Kind Kind

	// Progress
	Percent float64

	// Log
	Level   slog.Level
	Message string

	// Warning
	SourceOffset int
	WarningText  string

	// Cancelled
	LastAddr int

	// Done
	TotalVectors int
}

// Progress returns a Progress event (percent in [0,100]).
func Progress(percent float64) Event { return Event{Kind: KindProgress, Percent: percent} }

// Log returns a Log event at the given slog level.
func Log(level slog.Level, message string) Event {
	return Event{Kind: KindLog, Level: level, Message: message}
}

// Warning returns a Warning event anchored to a source byte offset.
func Warning(offset int, message string) Event {
	return Event{Kind: KindWarning, SourceOffset: offset, WarningText: message}
}

// Cancelled returns a Cancelled event naming the last address emitted
// before the core honored the cancellation flag.
func Cancelled(lastAddr int) Event { return Event{Kind: KindCancelled, LastAddr: lastAddr} }

// Done returns a Done event naming the total vector count emitted.
func Done(totalVectors int) Event { return Event{Kind: KindDone, TotalVectors: totalVectors} }

// Sink receives events from the core. Implementations must not block
// indefinitely — the core has no other way to make progress.
type Sink interface {
	Emit(Event)
}

// ChannelSink adapts a buffered chan Event to the Sink interface, dropping
// events rather than blocking once the channel is full — the core's
// progress/warning stream is best-effort, never a backpressure mechanism.
type ChannelSink struct {
	ch chan<- Event
}

// NewChannelSink wraps ch. Callers own ch's lifetime (including closing it
// once the core signals Done or Cancelled).
func NewChannelSink(ch chan<- Event) ChannelSink { return ChannelSink{ch: ch} }

func (s ChannelSink) Emit(e Event) {
	select {
	case s.ch <- e:
	default:
	}
}

// CancelFlag is the single-bit cooperative cancellation signal from host to
// core (spec.md §5). Safe for concurrent use.
type CancelFlag struct {
	requested chan struct{}
}

// NewCancelFlag returns a flag in the not-requested state.
func NewCancelFlag() *CancelFlag { return &CancelFlag{requested: make(chan struct{})} }

// Request marks cancellation. Idempotent.
func (f *CancelFlag) Request() {
	select {
	case <-f.requested:
	default:
		close(f.requested)
	}
}

// Requested reports whether cancellation has been requested.
func (f *CancelFlag) Requested() bool {
	select {
	case <-f.requested:
		return true
	default:
		return false
	}
}
