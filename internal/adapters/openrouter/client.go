// Package openrouter is the raw HTTP transport for OpenAI-compatible chat
// completion endpoints such as https://openrouter.ai/api/v1/chat/completions.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/visionrelay/internal/domain"
	"github.com/ZanzyTHEbar/visionrelay/internal/ports"
	"github.com/ZanzyTHEbar/visionrelay/internal/utils"
)

const (
	// DefaultEndpoint is the OpenRouter chat completions URL.
	DefaultEndpoint = "https://openrouter.ai/api/v1/chat/completions"
	// DefaultTimeout bounds the network exchange.
	DefaultTimeout = 60 * time.Second

	maxErrorBody = 64 << 10
)

var _ ports.ChatTransport = (*Client)(nil)

// errNetworkTimeout is the cancel cause set by the network budget timer.
var errNetworkTimeout = errors.New("network budget exceeded")

// Client talks to a chat completions endpoint over plain HTTP.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	timeout  time.Duration
	headers  http.Header
	log      zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the network budget. For single-shot calls it bounds the
// whole exchange; for streams it bounds the wait for the next line.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHeader adds a header to every request (e.g. HTTP-Referer, X-Title).
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Set(key, value) }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a client for endpoint. An empty endpoint uses DefaultEndpoint.
func New(endpoint, apiKey string, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{},
		timeout:  DefaultTimeout,
		headers:  make(http.Header),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends req and waits for the full answer.
func (c *Client) Complete(ctx context.Context, req domain.ChatRequest) (*domain.Completion, error) {
	const op = "openrouter.complete"

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	budget := time.AfterFunc(c.timeout, func() { cancel(errNetworkTimeout) })
	defer budget.Stop()

	c.log.Info().Str("model", req.Model).Msgf("Making blocking API call to %s", req.Model)
	resp, err := c.post(ctx, req, false)
	if err != nil {
		return nil, c.classify(ctx, op, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(op, resp); err != nil {
		c.log.Error().Err(err).Int("status", resp.StatusCode).Msg("upstream rejected request")
		return nil, err
	}

	var body completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		if ctx.Err() != nil {
			return nil, c.classify(ctx, op, err)
		}
		return nil, domain.NewError(domain.KindDecode, op, "malformed completion response", err)
	}
	if len(body.Choices) == 0 {
		return nil, domain.NewError(domain.KindDecode, op, "completion response has no choices", nil)
	}

	model := body.Model
	if model == "" {
		model = req.Model
	}
	c.log.Info().Str("model", model).Msg("Blocking API call successful")
	return &domain.Completion{
		Content: body.Choices[0].Message.Content,
		Model:   model,
		Usage:   body.Usage,
	}, nil
}

// Stream sends req with streaming enabled and forwards each content delta to sink.
//
// Only "data: " lines are read. A "[DONE]" payload ends the stream; lines that
// do not decode are skipped. Canceling ctx closes the response body, which
// unblocks the read loop.
func (c *Client) Stream(ctx context.Context, req domain.ChatRequest, sink domain.Sink) error {
	const op = "openrouter.stream"

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	idle := time.AfterFunc(c.timeout, func() { cancel(errNetworkTimeout) })
	defer idle.Stop()

	c.log.Info().Str("model", req.Model).Msgf("Making streaming API call to %s", req.Model)
	resp, err := c.post(ctx, req, true)
	if err != nil {
		return c.classify(ctx, op, err)
	}
	defer resp.Body.Close()
	stop := context.AfterFunc(ctx, func() { resp.Body.Close() })
	defer stop()

	if err := checkStatus(op, resp); err != nil {
		c.log.Error().Err(err).Int("status", resp.StatusCode).Msg("upstream rejected stream")
		return err
	}

	n, err := readEvents(resp.Body, func(text string) error {
		idle.Reset(c.timeout)
		return sink.Emit(ctx, text)
	}, func() { idle.Reset(c.timeout) }, c.log)
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) && ctx.Err() == nil {
			return de // from the sink, or a decode failure
		}
		return c.classify(ctx, op, err)
	}
	if ctx.Err() != nil {
		return c.classify(ctx, op, ctx.Err())
	}
	c.log.Info().Int("fragments", n).Msg("Streaming API call completed successfully")
	return nil
}

func (c *Client) post(ctx context.Context, req domain.ChatRequest, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(newChatRequest(req, stream))
	if err != nil {
		return nil, domain.NewError(domain.KindInvalidInput, "openrouter.encode", "encode request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, domain.NewError(domain.KindInvalidInput, "openrouter.request", "build request", err)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	return c.http.Do(httpReq)
}

// classify maps a failed exchange to the error taxonomy.
func (c *Client) classify(ctx context.Context, op string, err error) error {
	var de *domain.Error
	if errors.As(err, &de) && ctx.Err() == nil {
		return de
	}
	if errors.Is(context.Cause(ctx), errNetworkTimeout) {
		return &domain.Error{
			Kind: domain.KindDeadlineExceeded,
			Op:   op,
			Msg:  "Request timed out after " + utils.FormatDuration(c.timeout),
			Err:  context.DeadlineExceeded,
		}
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

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return domain.UpstreamStatusError(op, resp.StatusCode, strings.TrimSpace(string(body)))
}
