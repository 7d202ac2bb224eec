// Package vision checks extracted figures against a rendered crop of the
// source table with a multimodal model.
package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stefanos11892/GVD-Engine/internal/llmjson"
	"github.com/stefanos11892/GVD-Engine/internal/model"
	"github.com/stefanos11892/GVD-Engine/pkg/gemini"
)

// Result is the outcome of a visual check.
type Result struct {
	Verified   bool     `json:"verified"`
	Mismatches []string `json:"mismatches,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Reason summarizes why the check failed.
func (r Result) Reason() string {
	switch {
	case r.Error != "":
		return r.Error
	case len(r.Mismatches) > 0:
		return strings.Join(r.Mismatches, "; ")
	default:
		return "Visual Mismatch"
	}
}

// Verifier compares a metric claim with an image of its source table.
type Verifier interface {
	VerifyImage(ctx context.Context, cropPath string, metric model.Metric) (Result, error)
}

// Gemini is a Verifier backed by a Gemini vision model.
type Gemini struct {
	client gemini.Client
	model  string
}

// NewGemini creates a Gemini verifier.
func NewGemini(client gemini.Client, modelName string) *Gemini {
	return &Gemini{client: client, model: modelName}
}

// VerifyImage sends the crop and the claim and decodes the verdict.
func (g *Gemini) VerifyImage(ctx context.Context, cropPath string, metric model.Metric) (Result, error) {
	data, err := os.ReadFile(cropPath)
	if err != nil {
		return Result{Error: err.Error()}, eris.Wrapf(err, "vision: read crop %s", cropPath)
	}

	resp, err := g.client.GenerateWithImage(ctx, gemini.ImageRequest{
		Model:  g.model,
		Prompt: buildPrompt(metric),
		Format: imageFormat(cropPath),
		Data:   data,
	})
	if err != nil {
		return Result{Error: err.Error()}, eris.Wrap(err, "vision: generate")
	}

	var res Result
	if err := llmjson.Decode(resp.Text, &res); err != nil {
		zap.L().Warn("vision: reply not decodable", zap.String("crop", cropPath), zap.Error(err))
		return Result{Error: "unparseable vision reply"}, eris.Wrap(err, "vision: decode reply")
	}
	return res, nil
}

func buildPrompt(metric model.Metric) string {
	claim, _ := json.MarshalIndent(map[string]any{
		"metric_id":    metric.MetricID,
		"display_name": metric.DisplayName,
		"value_raw":    metric.ValueRaw,
	}, "", "  ")
	return fmt.Sprintf(`Act as a financial auditor.
The image is a crop of a financial table. The JSON claim holds an extracted value.
Verify visually whether the value in the claim matches the image EXACTLY.

CLAIM:
%s

INSTRUCTIONS:
1. Compare "value_raw" against the image.
2. Watch for "in thousands" or "in millions" headers.
3. Return a JSON object: {"verified": bool, "mismatches": ["list of errors"]}
`, claim)
}

func imageFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "png"
	case ".webp":
		return "webp"
	default:
		return "jpeg"
	}
}
