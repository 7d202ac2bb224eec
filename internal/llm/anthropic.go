package llm

import (
	"context"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"

	"github.com/stefanos11892/GVD-Engine/internal/resilience"
	"github.com/stefanos11892/GVD-Engine/pkg/anthropic"
)

// Anthropic generates text with the Messages API.
type Anthropic struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	cacheSystem bool
	prices      pricing
}

// NewAnthropic creates an Anthropic generator.
func NewAnthropic(client anthropic.Client, modelName string, maxTokens int, cacheSystem bool, prices pricing) *Anthropic {
	return &Anthropic{
		client:      client,
		model:       modelName,
		maxTokens:   maxTokens,
		cacheSystem: cacheSystem,
		prices:      prices,
	}
}

func (a *Anthropic) Generate(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}
	system := anthropic.PlainSystem(req.System)
	if a.cacheSystem && req.System != "" {
		system = anthropic.CachedSystem(req.System)
	}

	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   int64(maxTokens),
		System:      system,
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, classifyAnthropic(err)
	}
	resp.Usage.LogCost(a.model, req.Role)

	usage := a.prices.usage(a.model, int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))
	if usage.Cost == 0 {
		usage.Cost = resp.Usage.EstimateCost(a.model)
	}
	return &Response{Text: resp.Text(), Model: a.model, Usage: usage}, nil
}

func classifyAnthropic(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return resilience.NewTransientError(eris.Wrap(err, "llm: anthropic"), apiErr.StatusCode)
	}
	return eris.Wrap(err, "llm: anthropic")
}
