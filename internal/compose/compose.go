// Package compose builds backend request payloads from user input and
// ingested attachment content. Composition is pure; submission belongs to
// the HTTP client.
package compose

import (
	"errors"
	"strings"

	"ragchat/internal/ingest"
	"ragchat/internal/models"
)

// ErrEmptyRequest is returned when there is neither text nor content to send.
var ErrEmptyRequest = errors.New("empty message and no attachments")

const docPrefix = "doc:"

// ParseCommand trims the input and detects the document-augmented command
// mode. The "doc:" prefix is matched case-insensitively and stripped from
// the returned text.
func ParseCommand(input string) (text string, docMode bool) {
	text = strings.TrimSpace(input)
	if len(text) >= len(docPrefix) && strings.EqualFold(text[:len(docPrefix)], docPrefix) {
		return strings.TrimSpace(text[len(docPrefix):]), true
	}
	return text, false
}

// Options carries the model identifiers and system prompt every request
// shape shares.
type Options struct {
	Model          string
	EmbeddingModel string
	SystemPrompt   string
}

// UserMessage is the single user turn inside a conversational request.
// Images are omitted entirely when empty: the backend distinguishes a
// missing field from an empty one.
type UserMessage struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
	Images  []string    `json:"images,omitempty"`
}

// ChatRequest is the conversational request shape for POST /chat/{chatId}.
type ChatRequest struct {
	Model          string        `json:"model"`
	EmbeddingModel string        `json:"embeddingModel"`
	SystemPrompt   string        `json:"system_prompt"`
	Messages       []UserMessage `json:"messages"`
	Stream         bool          `json:"stream"`
	Documents      []string      `json:"doc,omitempty"`
}

// GenerateRequest is the one-shot shape for POST /generate/{chatId}.
type GenerateRequest struct {
	Model          string   `json:"model"`
	EmbeddingModel string   `json:"embeddingModel"`
	SystemPrompt   string   `json:"system_prompt"`
	Prompt         string   `json:"prompt"`
	Images         []string `json:"images,omitempty"`
	Stream         bool     `json:"stream"`
	Documents      []string `json:"doc,omitempty"`
}

// body derives the content field shared by both request shapes. Ingested
// text is inlined after the user text; in document mode with at least one
// document the raw fragments are superseded by the doc field and the
// content carries the doc: marker for the backend.
func body(text string, docMode bool, content *ingest.Content, docs []string) string {
	out := text
	if joined := content.JoinedText(); joined != "" {
		out = text + "\r\n" + joined
	}
	if docMode && len(docs) > 0 {
		out = docPrefix + text
	}
	return out
}

func validate(text string, content *ingest.Content, docs []string) error {
	if text == "" && content.Empty() && len(docs) == 0 {
		return ErrEmptyRequest
	}
	return nil
}

// Chat composes a conversational turn.
func Chat(opts Options, text string, docMode bool, content *ingest.Content, docs []string) (*ChatRequest, error) {
	if err := validate(text, content, docs); err != nil {
		return nil, err
	}
	msg := UserMessage{
		Role:    models.RoleUser,
		Content: body(text, docMode, content, docs),
	}
	if len(content.Images) > 0 {
		msg.Images = content.Images
	}
	req := &ChatRequest{
		Model:          opts.Model,
		EmbeddingModel: opts.EmbeddingModel,
		SystemPrompt:   opts.SystemPrompt,
		Messages:       []UserMessage{msg},
		Stream:         true,
	}
	if docMode && len(docs) > 0 {
		req.Documents = docs
	}
	return req, nil
}

// Generate composes a one-shot generation request.
func Generate(opts Options, text string, docMode bool, content *ingest.Content, docs []string) (*GenerateRequest, error) {
	if err := validate(text, content, docs); err != nil {
		return nil, err
	}
	req := &GenerateRequest{
		Model:          opts.Model,
		EmbeddingModel: opts.EmbeddingModel,
		SystemPrompt:   opts.SystemPrompt,
		Prompt:         body(text, docMode, content, docs),
		Stream:         true,
	}
	if len(content.Images) > 0 {
		req.Images = content.Images
	}
	if docMode && len(docs) > 0 {
		req.Documents = docs
	}
	return req, nil
}
