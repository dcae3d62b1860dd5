// Package openaisdk implements the single-shot completer on top of the
// official openai-go SDK. Any OpenAI-compatible base URL works, OpenRouter
// included. Streaming stays on the raw HTTP transport.
package openaisdk

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/visionrelay/internal/domain"
	"github.com/ZanzyTHEbar/visionrelay/internal/ports"
)

// DefaultBaseURL points the SDK at OpenRouter.
const DefaultBaseURL = "https://openrouter.ai/api/v1/"

var _ ports.Completer = (*Completer)(nil)

// Config holds the SDK client settings.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Completer sends chat completions through the SDK.
type Completer struct {
	client openai.Client
	log    zerolog.Logger
}

// New builds a completer. Retries are disabled; the pool budget governs retries.
func New(cfg Config, log zerolog.Logger) *Completer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(0),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &Completer{client: openai.NewClient(opts...), log: log}
}

// Complete implements ports.Completer.
func (c *Completer) Complete(ctx context.Context, req domain.ChatRequest) (*domain.Completion, error) {
	const op = "openaisdk.complete"

	c.log.Info().Str("model", req.Model).Msgf("Making blocking SDK call to %s", req.Model)
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: toParams(req.Messages),
	})
	if err != nil {
		return nil, classify(ctx, op, err)
	}
	if len(resp.Choices) == 0 {
		return nil, domain.NewError(domain.KindDecode, op, "completion response has no choices", nil)
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return &domain.Completion{
		Content: resp.Choices[0].Message.Content,
		Model:   model,
		Usage: &domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func toParams(msgs []domain.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case domain.RoleSystem:
			out = append(out, openai.SystemMessage(flatten(m)))
		case domain.RoleAssistant:
			out = append(out, openai.AssistantMessage(flatten(m)))
		default:
			if len(m.Parts) == 0 {
				out = append(out, openai.UserMessage(m.Text))
				continue
			}
			parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(m.Parts))
			for _, p := range m.Parts {
				if p.Type == domain.PartImageURL {
					parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: p.ImageURL}))
					continue
				}
				parts = append(parts, openai.TextContentPart(p.Text))
			}
			out = append(out, openai.UserMessage(parts))
		}
	}
	return out
}

// flatten joins the text parts of a non-user message.
func flatten(m domain.Message) string {
	if len(m.Parts) == 0 {
		return m.Text
	}
	s := ""
	for _, p := range m.Parts {
		if p.Type == domain.PartText {
			s += p.Text
		}
	}
	return s
}

func classify(ctx context.Context, op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		return domain.UpstreamStatusError(op, apiErr.StatusCode, msg)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.AsError(op, ctxErr)
	}
	kind := domain.KindOf(err)
	if kind == domain.KindInternal {
		kind = domain.KindTransport
	}
	return domain.NewError(kind, op, "", err)
}
