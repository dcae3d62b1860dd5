package domain

import "strings"

// Roles used in chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content part types accepted by multimodal chat APIs.
const (
	PartText     = "text"
	PartImageURL = "image_url"
)

// ContentPart is one element of a multimodal user message.
type ContentPart struct {
	Type     string // PartText or PartImageURL
	Text     string
	ImageURL string // data: URL or remote URL
}

// Message is one chat turn. Parts is used when non-empty, Text otherwise.
type Message struct {
	Role  string
	Text  string
	Parts []ContentPart
}

// ChatRequest is what a transport sends upstream.
type ChatRequest struct {
	Model    string
	Messages []Message
}

// Usage is the token accounting returned by the upstream.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Completion is a single-shot answer.
type Completion struct {
	Content string
	Model   string
	Usage   *Usage
}

// ChatResult is the JSON shape returned to callers of non-streaming operations.
type ChatResult struct {
	Success  bool   `json:"success"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
	Model    string `json:"model,omitempty"`
	Usage    *Usage `json:"usage,omitempty"`

	Err error `json:"-"` // typed cause of a failure, for status mapping
}

// SuccessResult builds a successful result from a completion.
func SuccessResult(c *Completion) ChatResult {
	return ChatResult{Success: true, Response: c.Content, Model: c.Model, Usage: c.Usage}
}

// FailureResult builds a failed result. The raw error never leaks, only its description.
func FailureResult(err error) ChatResult {
	return ChatResult{Success: false, Error: Describe(err), Err: err}
}

// Turn is a previous exchange sent along with a prompt for context.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt is a caller request to the vision client.
type Prompt struct {
	Message    string
	History    []Turn
	ImagePaths []string
	ImageURLs  []string
}

// Validate rejects prompts with nothing to say.
func (p Prompt) Validate() error {
	if strings.TrimSpace(p.Message) == "" {
		return NewError(KindInvalidInput, "", "message is empty", nil)
	}
	return nil
}
