package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	textMaxTokens   = 8000
	visionMaxTokens = 4000
)

// Image is an inline image attached to a request.
type Image struct {
	Base64   string
	MIMEType string
}

// DataURL renders the image as a data: URL.
func (i Image) DataURL() string {
	return "data:" + i.MIMEType + ";base64," + i.Base64
}

// Request is a single chat completion with an optional image.
type Request struct {
	System    string
	Prompt    string
	Image     *Image
	MaxTokens int
}

// Provider produces text for a request.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client. Extra headers are sent with every request.
func New(baseURL, apiKey, modelName string, headers map[string]string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if len(headers) > 0 {
		config.HTTPClient = &http.Client{
			Transport: headerTransport{base: http.DefaultTransport, headers: headers},
		}
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Complete sends the request as one system message and one user message.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if req.Image != nil {
		user.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
			{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: req.Image.DataURL()},
			},
		}
	} else {
		user.Content = req.Prompt
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			user,
		},
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "model", c.model, "raw", raw)
	return raw, nil
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	for k, v := range t.headers {
		r.Header.Set(k, v)
	}
	return t.base.RoundTrip(r)
}

var codeFenceRegex = regexp.MustCompile("```(?:json)?\\n?")

// StripCodeFence removes markdown code fences that models add around JSON
// despite being told not to.
func StripCodeFence(s string) string {
	return strings.TrimSpace(codeFenceRegex.ReplaceAllString(s, ""))
}
