// Package gemini wraps the Google Gemini API for text and image prompts.
package gemini

import (
	"context"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rotisserie/eris"
	"google.golang.org/api/option"
)

// Client defines the Gemini operations used by the audit pipeline.
type Client interface {
	GenerateText(ctx context.Context, req TextRequest) (*Response, error)
	GenerateWithImage(ctx context.Context, req ImageRequest) (*Response, error)
	Close() error
}

// TextRequest is a text-only prompt.
type TextRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature *float32
	MaxTokens   int32
	// JSON asks the model for an application/json response.
	JSON bool
}

// ImageRequest is a prompt over a single image.
type ImageRequest struct {
	Model  string
	Prompt string
	// Format is the image subtype, e.g. "jpeg" or "png".
	Format string
	Data   []byte
}

// Response is the text of the first candidate plus usage.
type Response struct {
	Text         string
	Model        string
	FinishReason string
	Usage        Usage
}

// Usage counts tokens for one call.
type Usage struct {
	InputTokens  int32
	OutputTokens int32
}

type sdkClient struct {
	client *genai.Client
}

// NewClient creates a Client authenticated with apiKey.
func NewClient(ctx context.Context, apiKey string, opts ...option.ClientOption) (Client, error) {
	if apiKey == "" {
		return nil, eris.New("gemini: API key is required")
	}
	c, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: create client")
	}
	return &sdkClient{client: c}, nil
}

func (c *sdkClient) GenerateText(ctx context.Context, req TextRequest) (*Response, error) {
	model := c.client.GenerativeModel(req.Model)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.Temperature != nil {
		model.SetTemperature(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}
	if req.JSON {
		model.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, eris.Wrap(err, "gemini: generate content")
	}
	return fromResponse(req.Model, resp)
}

func (c *sdkClient) GenerateWithImage(ctx context.Context, req ImageRequest) (*Response, error) {
	format := req.Format
	if format == "" {
		format = "jpeg"
	}
	model := c.client.GenerativeModel(req.Model)
	model.SetTemperature(0)

	resp, err := model.GenerateContent(ctx, genai.ImageData(format, req.Data), genai.Text(req.Prompt))
	if err != nil {
		return nil, eris.Wrap(err, "gemini: generate with image")
	}
	return fromResponse(req.Model, resp)
}

func (c *sdkClient) Close() error {
	return c.client.Close()
}

// fromResponse joins the text parts of the first candidate.
func fromResponse(model string, resp *genai.GenerateContentResponse) (*Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, eris.New("gemini: no candidates in response")
	}
	cand := resp.Candidates[0]
	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		return nil, eris.Errorf("gemini: empty candidate (finish reason %s)", cand.FinishReason)
	}

	var parts []string
	for _, p := range cand.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			parts = append(parts, string(t))
		}
	}
	if len(parts) == 0 {
		return nil, eris.New("gemini: no text parts in response")
	}

	out := &Response{
		Text:         strings.Join(parts, ""),
		Model:        model,
		FinishReason: cand.FinishReason.String(),
	}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		}
	}
	return out, nil
}
