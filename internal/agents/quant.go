package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stefanos11892/GVD-Engine/internal/llm"
	"github.com/stefanos11892/GVD-Engine/internal/llmjson"
	"github.com/stefanos11892/GVD-Engine/internal/model"
	"github.com/stefanos11892/GVD-Engine/internal/retrieval"
)

// QuantPersona extracts hard figures and their provenance.
var QuantPersona = Persona{
	Name:        "Quant",
	Role:        "extractor",
	Temperature: llm.Temp(0),
	JSON:        true,
	System: `[SYSTEM: QUANT AGENT]
ROLE: Financial data specialist acting as a skeptic.
GOAL: Extract precise hard data (GAAP and non-GAAP). Ignore management narrative.

RULES:
1. DATA ONLY: never extract feelings or expectations unless backed by a hard number range.
2. IGNORE SPIN: "Strong growth of 5%" becomes "Revenue Growth: 5%".
3. PROVENANCE: every metric carries a provenance object quoting the source text.
   Include "page" (1-based) and "bbox" ([x0, y0, x1, y1], PDF points, lower-left origin)
   when the document gives them.
4. EXACTNESS: copy values exactly as printed (e.g. 10.4B). Do not round.

JSON SCHEMA:
{
  "metrics": [
    {
      "metric_id": "revenue",
      "display_name": "Revenue",
      "value_raw": "10.4B",
      "provenance": {"source_snippet": "Total Revenue ... $10.4B", "page": 45}
    }
  ],
  "note": "Optional explanation if data is missing or incorporated by reference."
}`,
}

// ExtractRequest asks for a set of metrics from a document.
type ExtractRequest struct {
	// Context is the document markdown. Relevant sections are retrieved
	// from it before prompting.
	Context string
	// TargetMetricIDs narrows extraction. Empty means the default set.
	TargetMetricIDs []string
	// Feedback is the auditor's rejection of a previous attempt.
	Feedback string
}

// ExtractResult is the decoded extractor reply.
type ExtractResult struct {
	Metrics []model.Metric `json:"metrics"`
	Note    string         `json:"note,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Find returns the first metric with the given id.
func (r *ExtractResult) Find(metricID string) (model.Metric, bool) {
	want := NormalizeMetricID(metricID)
	for _, m := range r.Metrics {
		if NormalizeMetricID(m.MetricID) == want {
			return m, true
		}
	}
	return model.Metric{}, false
}

// Extractor produces metrics from a document.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error)
}

// QuantExtractor is the LLM-backed Extractor.
type QuantExtractor struct {
	agent         *Agent
	defaults      []string
	maxChars      int
	fallbackChars int
}

// NewQuantExtractor creates an extractor. defaults are used when a request
// names no targets.
func NewQuantExtractor(gen llm.Generator, defaults []string, maxChars, fallbackChars int) *QuantExtractor {
	if maxChars <= 0 {
		maxChars = 25000
	}
	if fallbackChars <= 0 {
		fallbackChars = 50000
	}
	return &QuantExtractor{
		agent:         New(gen, QuantPersona),
		defaults:      defaults,
		maxChars:      maxChars,
		fallbackChars: fallbackChars,
	}
}

// Extract retrieves the relevant sections, prompts the model and decodes
// its reply. A reply without a decodable JSON object is an error.
func (q *QuantExtractor) Extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	targets := req.TargetMetricIDs
	if len(targets) == 0 {
		targets = q.defaults
	}

	docContext := retrieval.ContextForMetrics(targets, req.Context, q.maxChars, q.fallbackChars)
	reply, err := q.agent.Ask(ctx, buildExtractPrompt(targets, req.Feedback, docContext))
	if err != nil {
		return nil, err
	}

	var res ExtractResult
	if err := llmjson.Decode(reply, &res); err != nil {
		zap.L().Warn("agents: quant reply not decodable",
			zap.Int("reply_chars", len(reply)),
			zap.Error(err),
		)
		return nil, eris.Wrap(err, "agents: quant extraction")
	}
	if res.Error != "" && len(res.Metrics) == 0 {
		return nil, eris.Errorf("agents: quant extraction: %s", res.Error)
	}
	return &res, nil
}

func buildExtractPrompt(targets []string, feedback, docContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TASK: Extract the following metrics: %s.\n\n", strings.Join(targets, ", "))
	if feedback != "" {
		b.WriteString("CRITICAL CORRECTION REQUEST:\n")
		b.WriteString("Your previous extraction was REJECTED by the Auditor.\n")
		fmt.Fprintf(&b, "Auditor Feedback: %q\n", feedback)
		b.WriteString("CONSTRAINT: You must fix this specific error. Do not repeat the same mistake.\n\n")
	}
	b.WriteString("DOCUMENT CONTEXT (Retrieved Sections):\n\"\"\"\n")
	b.WriteString(docContext)
	b.WriteString("\n\"\"\"\n\n")
	b.WriteString("INSTRUCTIONS:\n")
	b.WriteString("- Find the most recent annual data (current year).\n")
	b.WriteString("- Return valid JSON only.\n")
	return b.String()
}

// NormalizeMetricID lowercases id and joins its words with underscores,
// so "Operating Cash Flow" and "operating_cash_flow" compare equal.
func NormalizeMetricID(id string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.ReplaceAll(id, "_", " "))), "_")
}
