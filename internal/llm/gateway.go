package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultTimeout bounds a single provider attempt.
const DefaultTimeout = 55 * time.Second

var (
	// ErrNoCredential is returned for a provider that has no usable API key.
	ErrNoCredential = errors.New("no API key configured")
	// ErrAllProvidersFailed is returned when every provider attempt failed.
	ErrAllProvidersFailed = errors.New("all AI providers failed")
)

// ProviderName identifies an AI provider.
type ProviderName string

const (
	ProviderOpenRouter ProviderName = "openrouter"
	ProviderGemini     ProviderName = "gemini"
)

// providers lists every known provider. The first entry is the default primary.
var providers = []ProviderName{ProviderOpenRouter, ProviderGemini}

// ParseProviderName returns the provider for s, or "" if s names none.
func ParseProviderName(s string) ProviderName {
	p := ProviderName(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range providers {
		if p == known {
			return p
		}
	}
	return ""
}

// Credentials is a point-in-time view of provider configuration.
type Credentials struct {
	Preferred ProviderName
	Keys      map[ProviderName]string
}

// Usable reports whether p has a real API key. Unedited sample keys such as
// "your-gemini-api-key-here" do not count.
func (c Credentials) Usable(p ProviderName) bool {
	k := strings.TrimSpace(c.Keys[p])
	if k == "" {
		return false
	}
	return !(strings.HasPrefix(k, "your-") && strings.HasSuffix(k, "-here"))
}

// CredentialSource yields current credentials. It is consulted on every call.
type CredentialSource interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// StaticCredentials is a CredentialSource that never changes.
type StaticCredentials Credentials

// Credentials implements CredentialSource.
func (s StaticCredentials) Credentials(context.Context) (Credentials, error) {
	return Credentials(s), nil
}

// ResolveOrder returns the providers to try, primary first. The primary is the
// operator's preference if set, else the first provider with a usable key,
// else the default provider.
func ResolveOrder(c Credentials) []ProviderName {
	primary := providers[0]
	if p := ParseProviderName(string(c.Preferred)); p != "" {
		primary = p
	} else {
		for _, p := range providers {
			if c.Usable(p) {
				primary = p
				break
			}
		}
	}
	order := []ProviderName{primary}
	for _, p := range providers {
		if p != primary {
			order = append(order, p)
		}
	}
	return order
}

// ProviderConfig describes how to reach one OpenAI-compatible provider.
type ProviderConfig struct {
	BaseURL string
	Model   string
	Headers map[string]string
}

// DefaultProviderConfigs returns endpoints for OpenRouter and for Gemini's
// OpenAI-compatible API.
func DefaultProviderConfigs(appURL string) map[ProviderName]ProviderConfig {
	return map[ProviderName]ProviderConfig{
		ProviderOpenRouter: {
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "google/gemini-2.0-flash-001",
			Headers: map[string]string{"HTTP-Referer": appURL},
		},
		ProviderGemini: {
			BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai/",
			Model:   "gemini-2.0-flash",
		},
	}
}

// Factory builds a provider for one attempt.
type Factory func(name ProviderName, apiKey string) (Provider, error)

// NewFactory returns a Factory creating Clients from cfgs.
func NewFactory(cfgs map[ProviderName]ProviderConfig) Factory {
	return func(name ProviderName, apiKey string) (Provider, error) {
		cfg, ok := cfgs[name]
		if !ok {
			return nil, fmt.Errorf("provider %q is not configured", name)
		}
		return New(cfg.BaseURL, apiKey, cfg.Model, cfg.Headers), nil
	}
}

// Gateway routes text and vision calls over the configured providers: one
// attempt per provider, primary first, each under the same timeout.
type Gateway struct {
	creds   CredentialSource
	factory Factory
	timeout time.Duration
}

// NewGateway creates a Gateway. A non-positive timeout means DefaultTimeout.
func NewGateway(creds CredentialSource, factory Factory, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{creds: creds, factory: factory, timeout: timeout}
}

// GenerateText returns the model's reply to prompt.
func (g *Gateway) GenerateText(ctx context.Context, prompt, systemPrompt string) (string, error) {
	return g.complete(ctx, "text", Request{
		System:    systemPrompt,
		Prompt:    prompt,
		MaxTokens: textMaxTokens,
	})
}

// EvaluateImage returns the model's reply to prompt about a base64 image.
func (g *Gateway) EvaluateImage(ctx context.Context, imageBase64, mimeType, prompt, systemPrompt string) (string, error) {
	return g.complete(ctx, "vision", Request{
		System:    systemPrompt,
		Prompt:    prompt,
		Image:     &Image{Base64: imageBase64, MIMEType: mimeType},
		MaxTokens: visionMaxTokens,
	})
}

func (g *Gateway) complete(ctx context.Context, kind string, req Request) (string, error) {
	creds, err := g.creds.Credentials(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve AI credentials: %w", err)
	}

	var errs []error
	for _, name := range ResolveOrder(creds) {
		text, err := g.attempt(ctx, name, creds, req)
		if err == nil {
			return text, nil
		}
		slog.Warn("AI provider failed", "provider", name, "kind", kind, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return "", fmt.Errorf("%w (%s): %w", ErrAllProvidersFailed, kind, errors.Join(errs...))
}

type reply struct {
	text string
	err  error
}

// attempt races one provider call against the timeout.
func (g *Gateway) attempt(ctx context.Context, name ProviderName, creds Credentials, req Request) (string, error) {
	if !creds.Usable(name) {
		return "", ErrNoCredential
	}
	p, err := g.factory(name, strings.TrimSpace(creds.Keys[name]))
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan reply, 1)
	go func() {
		text, err := p.Complete(ctx, req)
		done <- reply{text: text, err: err}
	}()

	select {
	case r := <-done:
		return r.text, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("AI request timed out after %s: %w", g.timeout, ctx.Err())
		}
		return "", ctx.Err()
	}
}
