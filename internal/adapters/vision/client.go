package vision

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/visionrelay/internal/adapters/imagesource"
	"github.com/ZanzyTHEbar/visionrelay/internal/domain"
	"github.com/ZanzyTHEbar/visionrelay/internal/ports"
	"github.com/ZanzyTHEbar/visionrelay/internal/utils"
)

const (
	// DefaultModel is the free multimodal model the service was built around.
	DefaultModel = "nvidia/nemotron-nano-12b-v2-vl:free"
	// DefaultAnalyzeMessage is sent with an image when the caller gives no prompt.
	DefaultAnalyzeMessage = "Analyze this satellite image"
	// DefaultMaxHistory caps how many previous turns go upstream.
	DefaultMaxHistory = 10
)

// DefaultSystemPrompt keeps the model on remote sensing topics.
const DefaultSystemPrompt = `You are a satellite imagery analyst specializing in environmental data interpretation.

Focus exclusively on: satellite images, spectral indices (NDVI, NDWI, EVI), vegetation health, water bodies, geological features, and environmental patterns.

Decline requests outside remote sensing by redirecting to your domain expertise.`

// Client is the multimodal vision client. Every upstream call runs in a
// pool slot through the supervisor.
type Client struct {
	sup          *domain.Supervisor
	transport    ports.ChatTransport
	completer    ports.Completer
	images       ports.ImageSource
	model        string
	systemPrompt string
	maxHistory   int
	log          zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithCompleter routes single-shot calls through c instead of the transport.
func WithCompleter(c ports.Completer) Option {
	return func(cl *Client) {
		if c != nil {
			cl.completer = c
		}
	}
}

// WithModel sets the model identifier.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithSystemPrompt replaces the system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(c *Client) {
		if prompt != "" {
			c.systemPrompt = prompt
		}
	}
}

// WithMaxHistory caps the conversation turns forwarded upstream.
func WithMaxHistory(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxHistory = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient wires the client. The transport also serves single-shot calls
// unless WithCompleter is given.
func NewClient(sup *domain.Supervisor, transport ports.ChatTransport, images ports.ImageSource, opts ...Option) *Client {
	c := &Client{
		sup:          sup,
		transport:    transport,
		completer:    transport,
		images:       images,
		model:        DefaultModel,
		systemPrompt: DefaultSystemPrompt,
		maxHistory:   DefaultMaxHistory,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// SimpleChat sends a text-only message.
func (c *Client) SimpleChat(ctx context.Context, message string) domain.ChatResult {
	return c.Chat(ctx, domain.Prompt{Message: message})
}

// ChatWithImages sends message with the images at paths. Unreadable images are skipped.
func (c *Client) ChatWithImages(ctx context.Context, message string, paths []string) domain.ChatResult {
	return c.Chat(ctx, domain.Prompt{Message: message, ImagePaths: paths})
}

// AnalyzeImage analyzes the image at path.
func (c *Client) AnalyzeImage(ctx context.Context, path, message string) domain.ChatResult {
	return c.Chat(ctx, domain.Prompt{Message: orDefault(message), ImagePaths: []string{path}})
}

// AnalyzeRemoteImage analyzes the image served at url.
func (c *Client) AnalyzeRemoteImage(ctx context.Context, url, message string) domain.ChatResult {
	return c.Chat(ctx, domain.Prompt{Message: orDefault(message), ImageURLs: []string{url}})
}

// SimpleChatStream is the streaming form of SimpleChat.
func (c *Client) SimpleChatStream(ctx context.Context, message string) (*domain.StreamHandle, error) {
	return c.ChatStream(ctx, domain.Prompt{Message: message})
}

// ChatWithImagesStream is the streaming form of ChatWithImages.
func (c *Client) ChatWithImagesStream(ctx context.Context, message string, paths []string) (*domain.StreamHandle, error) {
	return c.ChatStream(ctx, domain.Prompt{Message: message, ImagePaths: paths})
}

// AnalyzeImageStream is the streaming form of AnalyzeImage.
func (c *Client) AnalyzeImageStream(ctx context.Context, path, message string) (*domain.StreamHandle, error) {
	return c.ChatStream(ctx, domain.Prompt{Message: orDefault(message), ImagePaths: []string{path}})
}

// AnalyzeRemoteImageStream is the streaming form of AnalyzeRemoteImage.
func (c *Client) AnalyzeRemoteImageStream(ctx context.Context, url, message string) (*domain.StreamHandle, error) {
	return c.ChatStream(ctx, domain.Prompt{Message: orDefault(message), ImageURLs: []string{url}})
}

// Chat runs a single-shot completion. It never returns a raw error: every
// failure is folded into a ChatResult with Success=false.
func (c *Client) Chat(ctx context.Context, p domain.Prompt) domain.ChatResult {
	const op = "vision.chat"
	if err := p.Validate(); err != nil {
		return domain.FailureResult(err)
	}

	start := time.Now()
	c.log.Info().Str("model", c.model).Int("images", len(p.ImagePaths)+len(p.ImageURLs)).
		Msgf("Starting threaded AI API call to %s", c.model)

	parts, err := c.encodePooled(ctx, p)
	if err != nil {
		c.log.Error().Err(err).Msgf("Threaded AI API call failed after %s", utils.FormatDuration(time.Since(start)))
		return domain.FailureResult(err)
	}
	req := c.buildRequest(p, parts)

	completion, err := domain.Call(ctx, c.sup, op, c.sup.Budget().Total, func(ctx context.Context) (*domain.Completion, error) {
		return c.completer.Complete(ctx, req)
	})
	if err != nil {
		c.log.Error().Err(err).Msgf("Threaded AI API call failed after %s", utils.FormatDuration(time.Since(start)))
		return domain.FailureResult(err)
	}
	c.log.Info().Msgf("Threaded AI API call completed in %s", utils.FormatDuration(time.Since(start)))
	return domain.SuccessResult(completion)
}

// ChatStream starts a streaming completion. The returned error only covers
// an invalid prompt or failing to get a slot; everything after that arrives
// as fragments.
func (c *Client) ChatStream(ctx context.Context, p domain.Prompt) (*domain.StreamHandle, error) {
	const op = "vision.chat_stream"
	if err := p.Validate(); err != nil {
		return nil, err
	}
	c.log.Info().Str("model", c.model).Int("images", len(p.ImagePaths)+len(p.ImageURLs)).
		Msgf("Starting threaded streaming chat to %s", c.model)

	return c.sup.Stream(ctx, op, func(ctx context.Context, sink domain.Sink) error {
		// Already inside a slot: encode here instead of submitting more units.
		parts, err := c.encodeInline(ctx, p)
		if err != nil {
			return err
		}
		return c.transport.Stream(ctx, c.buildRequest(p, parts), sink)
	})
}

// encodePooled loads every image as its own pool unit, bounded by the encode budget.
func (c *Client) encodePooled(ctx context.Context, p domain.Prompt) ([]domain.ContentPart, error) {
	refs := imageRefs(p)
	if len(refs) == 0 {
		return nil, nil
	}

	urls := make([]string, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		g.Go(func() error {
			url, err := domain.Call(gctx, c.sup, "vision.encode_image", c.sup.Budget().Encode, func(ctx context.Context) (string, error) {
				return c.encode(ctx, ref)
			})
			if err != nil {
				if ctx.Err() != nil {
					return domain.AsError("vision.encode_image", ctx.Err())
				}
				c.log.Error().Err(err).Str("image", ref.source).Msg("Failed to encode image, skipping")
				return nil
			}
			urls[i] = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return imageParts(urls), nil
}

// encodeInline loads images in the calling goroutine, each bounded by the encode budget.
func (c *Client) encodeInline(ctx context.Context, p domain.Prompt) ([]domain.ContentPart, error) {
	refs := imageRefs(p)
	urls := make([]string, len(refs))
	for i, ref := range refs {
		ectx, cancel := context.WithTimeout(ctx, c.sup.Budget().Encode)
		url, err := c.encode(ectx, ref)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, domain.AsError("vision.encode_image", ctx.Err())
			}
			c.log.Error().Err(err).Str("image", ref.source).Msg("Failed to encode image, skipping")
			continue
		}
		urls[i] = url
	}
	return imageParts(urls), nil
}

type imageRef struct {
	source string
	remote bool
}

func imageRefs(p domain.Prompt) []imageRef {
	refs := make([]imageRef, 0, len(p.ImagePaths)+len(p.ImageURLs))
	for _, path := range p.ImagePaths {
		refs = append(refs, imageRef{source: path})
	}
	for _, url := range p.ImageURLs {
		refs = append(refs, imageRef{source: url, remote: true})
	}
	return refs
}

func (c *Client) encode(ctx context.Context, ref imageRef) (string, error) {
	var (
		img *ports.Image
		err error
	)
	if ref.remote {
		img, err = c.images.LoadURL(ctx, ref.source)
	} else {
		img, err = c.images.LoadFile(ctx, ref.source)
	}
	if err != nil {
		return "", err
	}
	return imagesource.DataURL(img), nil
}

// imageParts keeps the order of successfully encoded images.
func imageParts(urls []string) []domain.ContentPart {
	parts := make([]domain.ContentPart, 0, len(urls))
	for _, u := range urls {
		if u != "" {
			parts = append(parts, domain.ContentPart{Type: domain.PartImageURL, ImageURL: u})
		}
	}
	return parts
}

// buildRequest lays out system prompt, recent history, then the user turn
// with images ahead of the text.
func (c *Client) buildRequest(p domain.Prompt, images []domain.ContentPart) domain.ChatRequest {
	history := p.History
	if c.maxHistory >= 0 && len(history) > c.maxHistory {
		history = history[len(history)-c.maxHistory:]
	}

	msgs := make([]domain.Message, 0, len(history)+2)
	msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Text: c.systemPrompt})
	for _, t := range history {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		role := domain.RoleUser
		if t.Role == domain.RoleAssistant {
			role = domain.RoleAssistant
		}
		msgs = append(msgs, domain.Message{Role: role, Text: t.Content})
	}

	parts := append(images, domain.ContentPart{Type: domain.PartText, Text: p.Message})
	msgs = append(msgs, domain.Message{Role: domain.RoleUser, Parts: parts})
	return domain.ChatRequest{Model: c.model, Messages: msgs}
}

func orDefault(message string) string {
	if strings.TrimSpace(message) == "" {
		return DefaultAnalyzeMessage
	}
	return message
}
