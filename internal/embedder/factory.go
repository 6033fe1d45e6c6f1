package embedder

import (
	"fmt"
	"os"
	"strings"
)

// Conventional API key variables, consulted when no key is configured
const (
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	APIKey    string
	Model     string
	Dimension int
	Guard     GuardConfig
}

// New creates a guarded provider from explicit configuration.
// Provider selection:
//  1. cfg.Provider when set (jina, openai, local)
//  2. jina when a Jina key is available
//  3. openai when an OpenAI key is available
//  4. local otherwise
func New(cfg Config) (Provider, error) {
	provider := DetectProvider(cfg)

	var (
		p   Provider
		err error
	)
	switch provider {
	case ProviderJina:
		p, err = NewJinaProvider(apiKey(cfg, EnvJinaAPIKey), cfg.Model, cfg.Dimension)
	case ProviderOpenAI:
		p, err = NewOpenAIProvider(apiKey(cfg, EnvOpenAIAPIKey), cfg.Model, cfg.Dimension)
	case ProviderLocal:
		p = NewLocalProvider(cfg.Dimension)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return NewGuardedProvider(p, cfg.Guard), nil
}

// DetectProvider returns the provider New would use for cfg
func DetectProvider(cfg Config) string {
	if cfg.Provider != "" {
		return strings.ToLower(cfg.Provider)
	}
	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if cfg.APIKey != "" || os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	return ProviderLocal
}

func apiKey(cfg Config, envVar string) string {
	if cfg.APIKey != "" {
		return cfg.APIKey
	}
	return os.Getenv(envVar)
}
