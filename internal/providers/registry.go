package providers

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/chatrelay/chatrelay/internal/config"
)

// Kind identifies one of the closed set of backends.
type Kind string

const (
	KindOpenAI    Kind = "openai"
	KindAnthropic Kind = "anthropic"
	KindGoogle    Kind = "google"
	KindLocal     Kind = "lmstudio"
)

// rule is one entry of the resolution table.
type rule struct {
	match func(cfg *config.Config, model string) bool
	kind  Kind
}

// rules are evaluated top to bottom; first match wins, KindOpenAI is the
// explicit default for anything the earlier rules don't claim.
var rules = []rule{
	{func(_ *config.Config, m string) bool { return strings.HasPrefix(m, "claude-") }, KindAnthropic},
	{func(_ *config.Config, m string) bool { return strings.HasPrefix(m, "gemini-") }, KindGoogle},
	{func(c *config.Config, m string) bool { return c.LocalModel(m) }, KindLocal},
	{func(_ *config.Config, _ string) bool { return true }, KindOpenAI},
}

// Registry maps model identifiers to upstream clients.
type Registry struct {
	cfg    *config.Config
	logger *slog.Logger
}

// NewRegistry creates a provider registry over the configured catalog.
func NewRegistry(cfg *config.Config, logger *slog.Logger) *Registry {
	return &Registry{
		cfg:    cfg,
		logger: logger.With("component", "providers"),
	}
}

// KindFor returns the backend selection for a model id. It is total over
// catalog members; a model outside the catalog yields ErrUnknownModel.
func (r *Registry) KindFor(model string) (Kind, error) {
	model = strings.TrimSpace(model)
	if !r.cfg.KnownModel(model) {
		return "", fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	for _, ru := range rules {
		if ru.match(r.cfg, model) {
			return ru.kind, nil
		}
	}
	// Unreachable: the last rule always matches.
	return KindOpenAI, nil
}

// Resolve returns a client for the model, or an error if the model is not in
// the catalog or the resolved backend lacks credentials. No network I/O.
func (r *Registry) Resolve(model string) (Client, error) {
	kind, err := r.KindFor(model)
	if err != nil {
		return nil, err
	}

	pc := r.cfg.Provider(string(kind))
	switch kind {
	case KindAnthropic:
		if strings.TrimSpace(pc.APIKey) == "" {
			return nil, fmt.Errorf("%w: anthropic", ErrMissingCredentials)
		}
		return NewAnthropicClient(pc.APIKey, pc.BaseURL), nil
	case KindGoogle:
		if strings.TrimSpace(pc.APIKey) == "" {
			return nil, fmt.Errorf("%w: google", ErrMissingCredentials)
		}
		return NewGoogleClient(pc.APIKey, pc.BaseURL), nil
	case KindLocal:
		base := strings.TrimSpace(pc.BaseURL)
		if base == "" {
			base = "http://localhost:1234/v1"
		}
		// LM Studio accepts any key; it only needs the header to be present.
		return NewOpenAIClientWithBaseURL("lm-studio", base), nil
	default:
		if strings.TrimSpace(pc.APIKey) == "" {
			return nil, fmt.Errorf("%w: openai", ErrMissingCredentials)
		}
		if strings.TrimSpace(pc.BaseURL) != "" {
			return NewOpenAIClientWithBaseURL(pc.APIKey, pc.BaseURL), nil
		}
		return NewOpenAIClient(pc.APIKey), nil
	}
}
