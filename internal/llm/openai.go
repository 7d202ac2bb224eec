package llm

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	openai "github.com/sashabaranov/go-openai"

	"github.com/stefanos11892/GVD-Engine/internal/resilience"
)

// OpenAI generates text with the chat completions API of OpenAI or any
// compatible endpoint.
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
	prices    pricing
}

// NewOpenAI creates an OpenAI generator. An empty baseURL uses the
// public API.
func NewOpenAI(apiKey, baseURL, modelName string, maxTokens int, prices pricing) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{
		client:    openai.NewClientWithConfig(cfg),
		model:     modelName,
		maxTokens: maxTokens,
		prices:    prices,
	}
}

func (o *OpenAI) Generate(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.maxTokens
	}

	var msgs []openai.ChatCompletionMessage
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	creq := openai.ChatCompletionRequest{
		Model:     o.model,
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	if req.Temperature != nil {
		creq.Temperature = float32(*req.Temperature)
	}
	if req.JSON {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := o.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, classifyOpenAI(err)
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("llm: openai returned no choices")
	}
	return &Response{
		Text:  resp.Choices[0].Message.Content,
		Model: o.model,
		Usage: o.prices.usage(o.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}, nil
}

func classifyOpenAI(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if resilience.IsTransientHTTPStatus(status) {
		return resilience.NewTransientError(eris.Wrap(err, "llm: openai"), status)
	}
	return eris.Wrap(err, "llm: openai")
}
