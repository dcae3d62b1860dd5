package openrouter

import "github.com/ZanzyTHEbar/visionrelay/internal/domain"

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

// wireMessage content is either a plain string or a list of parts.
type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type wirePart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *domain.Usage `json:"usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func newChatRequest(req domain.ChatRequest, stream bool) chatRequest {
	out := chatRequest{
		Model:    req.Model,
		Messages: make([]wireMessage, 0, len(req.Messages)),
		Stream:   stream,
	}
	for _, m := range req.Messages {
		if len(m.Parts) == 0 {
			out.Messages = append(out.Messages, wireMessage{Role: m.Role, Content: m.Text})
			continue
		}
		parts := make([]wirePart, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch p.Type {
			case domain.PartImageURL:
				parts = append(parts, wirePart{Type: domain.PartImageURL, ImageURL: &imageURL{URL: p.ImageURL}})
			default:
				parts = append(parts, wirePart{Type: domain.PartText, Text: p.Text})
			}
		}
		out.Messages = append(out.Messages, wireMessage{Role: m.Role, Content: parts})
	}
	return out
}
