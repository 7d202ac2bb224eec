package llm

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"google.golang.org/api/googleapi"

	"github.com/stefanos11892/GVD-Engine/internal/resilience"
	"github.com/stefanos11892/GVD-Engine/pkg/gemini"
)

// Gemini generates text with the Gemini API.
type Gemini struct {
	client    gemini.Client
	model     string
	maxTokens int
	prices    pricing
}

// NewGemini creates a Gemini generator.
func NewGemini(client gemini.Client, modelName string, maxTokens int, prices pricing) *Gemini {
	return &Gemini{client: client, model: modelName, maxTokens: maxTokens, prices: prices}
}

func (g *Gemini) Generate(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}
	greq := gemini.TextRequest{
		Model:     g.model,
		System:    req.System,
		Prompt:    req.Prompt,
		MaxTokens: int32(maxTokens),
		JSON:      req.JSON,
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		greq.Temperature = &t
	}

	resp, err := g.client.GenerateText(ctx, greq)
	if err != nil {
		return nil, classifyGemini(err)
	}
	return &Response{
		Text:  resp.Text,
		Model: g.model,
		Usage: g.prices.usage(g.model, int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)),
	}, nil
}

func classifyGemini(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.Code) {
		return resilience.NewTransientError(eris.Wrap(err, "llm: gemini"), apiErr.Code)
	}
	return eris.Wrap(err, "llm: gemini")
}
