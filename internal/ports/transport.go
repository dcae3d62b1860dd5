package ports

//go:generate go tool mockgen -source=transport.go -destination=mocks/transport_mock.go -package=mocks

import (
	"context"

	"github.com/ZanzyTHEbar/visionrelay/internal/domain"
)

// Completer performs a single-shot chat completion.
type Completer interface {
	Complete(ctx context.Context, req domain.ChatRequest) (*domain.Completion, error)
}

// ChatTransport is the remote multimodal chat API.
type ChatTransport interface {
	Completer

	// Stream sends req with streaming enabled and pushes every content delta
	// into sink, in order. It returns once the upstream signals the end of the
	// stream, on the first transport failure, or when ctx is done.
	// Malformed incremental payloads are skipped.
	Stream(ctx context.Context, req domain.ChatRequest, sink domain.Sink) error
}

// Image is a loaded binary resource ready to be embedded in a request.
type Image struct {
	Source   string // path or URL it was loaded from
	MimeType string
	Data     []byte
}

// ImageSource loads images referenced by prompts.
type ImageSource interface {
	LoadFile(ctx context.Context, path string) (*Image, error)
	LoadURL(ctx context.Context, url string) (*Image, error)
}
