package domain

import "context"

// FragmentKind tags what a Fragment carries.
type FragmentKind int

const (
	// FragmentText is a piece of model output.
	FragmentText FragmentKind = iota
	// FragmentError replaces a failure that happened inside the producer.
	FragmentError
	// FragmentDone marks normal end of stream. It is only returned by Next.
	FragmentDone
)

func (k FragmentKind) String() string {
	switch k {
	case FragmentText:
		return "chunk"
	case FragmentError:
		return "error"
	case FragmentDone:
		return "done"
	default:
		return "unknown"
	}
}

// ErrorPrefix starts the text of every error fragment.
const ErrorPrefix = "Error: "

// Fragment is one incremental piece of a stream.
type Fragment struct {
	Kind FragmentKind
	Text string
	Err  error // set for FragmentError
}

// TextFragment wraps model output.
func TextFragment(s string) Fragment {
	return Fragment{Kind: FragmentText, Text: s}
}

// ErrorFragment turns err into an in-band fragment whose text reads
// "Error: <description>".
func ErrorFragment(err error) Fragment {
	return Fragment{Kind: FragmentError, Text: ErrorPrefix + Describe(err), Err: err}
}

// IsError reports whether f carries a failure.
func (f Fragment) IsError() bool { return f.Kind == FragmentError }

// Sink receives fragments from a producer. Emit blocks while the relay buffer
// is full and fails once the consumer is gone.
type Sink interface {
	Emit(ctx context.Context, text string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, text string) error

// Emit implements Sink.
func (f SinkFunc) Emit(ctx context.Context, text string) error { return f(ctx, text) }

// Producer pushes zero or more fragments into sink and returns when done.
// A returned error becomes a single error fragment.
type Producer func(ctx context.Context, sink Sink) error
