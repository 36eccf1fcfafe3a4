// Package settings serves runtime-editable configuration backed by the
// app_settings table, with static defaults from flags and environment.
package settings

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/singleflight"

	"github.com/pavelanni/mockboard/internal/llm"
)

// DefaultTTL is how long a loaded snapshot is served before the store is read again.
const DefaultTTL = 60 * time.Second

// Setting keys.
const (
	KeyOpenRouterAPIKey = "OPENROUTER_API_KEY"
	KeyGeminiAPIKey     = "GEMINI_API_KEY"
	KeyAIProvider       = "AI_PROVIDER"
	KeyPromptVariant    = "PROMPT_VARIANT"
	KeyAdminPassword    = "ADMIN_PASSWORD"
)

// AllowedKeys are the keys an administrator may read and write.
var AllowedKeys = []string{
	KeyGeminiAPIKey,
	KeyOpenRouterAPIKey,
	KeyAIProvider,
	KeyPromptVariant,
	KeyAdminPassword,
}

const maskPrefix = "••••••"

// ErrUnknownKey is returned when writing a key outside AllowedKeys.
var ErrUnknownKey = errors.New("unknown setting key")

// Store persists settings.
type Store interface {
	AllSettings(ctx context.Context) (map[string]string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Provider caches the merged view of defaults and stored settings for a TTL.
// Writes through the Provider invalidate the cache.
type Provider struct {
	store    Store
	defaults map[string]string
	ttl      time.Duration
	now      func() time.Time
	group    singleflight.Group

	mu       sync.RWMutex
	cached   map[string]string
	loadedAt time.Time
	gen      uint64
}

// New creates a Provider. A non-positive ttl means DefaultTTL.
func New(store Store, defaults map[string]string, ttl time.Duration) *Provider {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Provider{
		store:    store,
		defaults: maps.Clone(defaults),
		ttl:      ttl,
		now:      time.Now,
	}
}

// All returns every setting. Stored values override non-empty defaults. When
// the store cannot be read the defaults are returned and nothing is cached.
func (p *Provider) All(ctx context.Context) map[string]string {
	p.mu.RLock()
	if p.cached != nil && p.now().Sub(p.loadedAt) < p.ttl {
		out := maps.Clone(p.cached)
		p.mu.RUnlock()
		return out
	}
	gen := p.gen
	p.mu.RUnlock()

	v, _, _ := p.group.Do("settings", func() (any, error) {
		return p.refresh(ctx, gen), nil
	})
	return maps.Clone(v.(map[string]string))
}

func (p *Provider) refresh(ctx context.Context, gen uint64) map[string]string {
	merged := maps.Clone(p.defaults)
	if merged == nil {
		merged = make(map[string]string)
	}
	stored, err := p.store.AllSettings(ctx)
	if err != nil {
		slog.Warn("load settings, using defaults", "error", err)
		return merged
	}
	for k, v := range stored {
		if v != "" {
			merged[k] = v
		}
	}

	p.mu.Lock()
	if p.gen == gen {
		p.cached = merged
		p.loadedAt = p.now()
	}
	p.mu.Unlock()
	return merged
}

// Get returns one setting, or "" when unset.
func (p *Provider) Get(ctx context.Context, key string) string {
	return p.All(ctx)[key]
}

// Invalidate drops the cached snapshot so the next read goes to the store.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.gen++
	p.mu.Unlock()
	p.group.Forget("settings")
}

// Set writes one allowed key and invalidates the cache. The admin password is
// stored as a bcrypt hash.
func (p *Provider) Set(ctx context.Context, key, value string) error {
	if !slices.Contains(AllowedKeys, key) {
		return ErrUnknownKey
	}
	if key == KeyAdminPassword {
		hash, err := HashPassword(value)
		if err != nil {
			return err
		}
		value = hash
	}
	err := p.store.SetSetting(ctx, key, value)
	p.Invalidate()
	return err
}

// Update applies an administrator's edit form. Unknown keys, empty values and
// values equal to the masked form of the current value are skipped. It returns
// the keys that were written.
func (p *Provider) Update(ctx context.Context, incoming map[string]string) ([]string, error) {
	current := p.All(ctx)
	var written []string
	for _, key := range AllowedKeys {
		value, ok := incoming[key]
		if !ok || value == "" || value == mask(key, current[key]) {
			continue
		}
		if err := p.Set(ctx, key, value); err != nil {
			return written, err
		}
		written = append(written, key)
	}
	return written, nil
}

// Masked returns the allowed keys with secrets reduced to their last four characters.
func (p *Provider) Masked(ctx context.Context) map[string]string {
	all := p.All(ctx)
	out := make(map[string]string, len(AllowedKeys))
	for _, key := range AllowedKeys {
		out[key] = mask(key, all[key])
	}
	return out
}

// CheckAdminPassword reports whether password unlocks the settings. With no
// admin password configured every caller is allowed.
func (p *Provider) CheckAdminPassword(ctx context.Context, password string) bool {
	hash := p.Get(ctx, KeyAdminPassword)
	if hash == "" {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// PromptVariant returns the configured written-answer prompt variant.
func (p *Provider) PromptVariant(ctx context.Context) string {
	return strings.ToLower(strings.TrimSpace(p.Get(ctx, KeyPromptVariant)))
}

// Credentials implements llm.CredentialSource.
func (p *Provider) Credentials(ctx context.Context) (llm.Credentials, error) {
	all := p.All(ctx)
	return llm.Credentials{
		Preferred: llm.ParseProviderName(all[KeyAIProvider]),
		Keys: map[llm.ProviderName]string{
			llm.ProviderOpenRouter: all[KeyOpenRouterAPIKey],
			llm.ProviderGemini:     all[KeyGeminiAPIKey],
		},
	}, nil
}

// HashPassword returns the bcrypt hash stored for the admin password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func mask(key, value string) string {
	if value == "" {
		return ""
	}
	switch {
	case key == KeyAdminPassword:
		return maskPrefix
	case strings.Contains(key, "KEY"):
		r := []rune(value)
		if len(r) > 4 {
			r = r[len(r)-4:]
		}
		return maskPrefix + string(r)
	}
	return value
}
