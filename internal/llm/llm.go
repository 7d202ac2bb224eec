// Package llm is the text-generation service behind every LLM
// collaborator of an audit run. A provider (Anthropic, Gemini or an
// OpenAI-compatible endpoint) is wrapped by Resilient, which adds rate
// limiting, a circuit breaker and retries on transient failures.
package llm

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/stefanos11892/GVD-Engine/internal/config"
	"github.com/stefanos11892/GVD-Engine/internal/model"
	"github.com/stefanos11892/GVD-Engine/internal/resilience"
	"github.com/stefanos11892/GVD-Engine/pkg/anthropic"
	"github.com/stefanos11892/GVD-Engine/pkg/gemini"
)

// Generator produces a completion for one prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Request is a single-turn prompt.
type Request struct {
	// Role names the calling collaborator ("extractor", "auditor", ...)
	// for logs and metrics.
	Role        string
	System      string
	Prompt      string
	Temperature *float64
	MaxTokens   int
	// JSON hints that the caller expects a JSON object back.
	JSON bool
}

// Response is the generated text plus usage.
type Response struct {
	Text  string
	Model string
	Usage model.TokenUsage
}

// Observer receives one event per provider call.
type Observer interface {
	ObserveLLMCall(provider, role, outcome string, elapsed time.Duration, usage model.TokenUsage)
}

// Temp is shorthand for an explicit temperature.
func Temp(t float64) *float64 { return &t }

// pricing prices token usage per model.
type pricing map[string]config.ModelPricing

func (p pricing) usage(modelName string, in, out int) model.TokenUsage {
	u := model.TokenUsage{InputTokens: in, OutputTokens: out}
	if mp, ok := p[modelName]; ok {
		u.Cost = float64(in)/1e6*mp.Input + float64(out)/1e6*mp.Output
	}
	return u
}

// New builds the configured provider wrapped in Resilient.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Resilient, error) {
	key := cfg.ProviderKey()
	if key == "" {
		return nil, eris.Errorf("llm: provider %q requires an API key", cfg.LLM.Provider)
	}
	modelName := cfg.ProviderModel()
	prices := pricing(cfg.Pricing.Models)

	var (
		gen     Generator
		closeFn func() error
	)
	switch cfg.LLM.Provider {
	case "anthropic":
		gen = NewAnthropic(anthropic.NewClient(key), modelName, cfg.LLM.MaxTokens, cfg.Anthropic.CacheSystem, prices)
	case "gemini":
		client, err := gemini.NewClient(ctx, key)
		if err != nil {
			return nil, eris.Wrap(err, "llm: gemini client")
		}
		gen = NewGemini(client, modelName, cfg.LLM.MaxTokens, prices)
		closeFn = client.Close
	case "openai":
		gen = NewOpenAI(key, cfg.OpenAI.BaseURL, modelName, cfg.LLM.MaxTokens, prices)
	default:
		return nil, eris.Errorf("llm: unknown provider %q", cfg.LLM.Provider)
	}

	base := []Option{
		WithRateLimit(cfg.LLM.RateLimit, cfg.LLM.Burst),
		WithRetry(resilience.FromRetryConfig(cfg.LLM.Retry)),
		WithCircuitBreaker(resilience.FromCircuitConfig(cfg.LLM.Circuit)),
		WithTimeout(time.Duration(cfg.LLM.TimeoutSecs) * time.Second),
		WithTemperature(cfg.LLM.Temperature),
	}
	r := NewResilient(cfg.LLM.Provider, gen, append(base, opts...)...)
	r.closeFn = closeFn
	return r, nil
}
