package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/stefanos11892/GVD-Engine/internal/llm"
	"github.com/stefanos11892/GVD-Engine/internal/llmjson"
	"github.com/stefanos11892/GVD-Engine/internal/model"
	"github.com/stefanos11892/GVD-Engine/internal/retrieval"
)

// QualPersona reads management tone.
var QualPersona = Persona{
	Name: "Qual",
	Role: "sentiment",
	JSON: true,
	System: `[SYSTEM: QUALITATIVE ANALYST]
ROLE: Anthropologist studying corporate management teams.
GOAL: Decode the narrative tone and hidden signals in the text.

ANALYSIS FRAMEWORK:
1. Sentiment: is the tone bullish, bearish or neutral?
2. Vagueness detection: flag defensive or evasive phrasing ("headwinds", "transition year").
3. Confidence: how confident is management in its own projections?

JSON SCHEMA:
{
  "sentiment_score": 0.0 to 1.0,
  "narrative_tone": "Bullish" | "Bearish" | "Neutral" | "Defensive",
  "key_themes": ["Efficiency", "Growth"],
  "vagueness_flags": ["Used term 'headwinds' 5 times"],
  "management_confidence": "High" | "Medium" | "Low"
}`,
}

// ConsolidatorPersona weighs the quant and qual streams into a thesis.
var ConsolidatorPersona = Persona{
	Name: "Consolidator",
	Role: "consolidator",
	JSON: true,
	System: `[SYSTEM: CONSOLIDATOR]
ROLE: Senior portfolio manager and capital allocator.
GOAL: Evaluate owner earnings and the durability of the business model.

WEIGHTING:
1. Economic reality (50%): cash conversion. OCF must exceed net income.
2. Capital allocation (25%): value created per dollar retained; buyback timing.
3. Moat and margin (15%): operating margin durability.
4. Narrative integrity (10%): a 0.8x to 1.2x multiplier for omissions and retreats.

VERDICT KEY: SOLID, TRANSITIONING or FRAGILE.

JSON SCHEMA:
{
  "institutional_thesis": "SOLID/TRANSITIONING/FRAGILE with reasoning",
  "conviction_score": 0.85,
  "economic_reality": {"score": 0.9, "ocf_vs_net_income": "...", "reasoning": "..."},
  "capital_allocation": {"grade": "A-F", "reasoning": "..."},
  "moat_margin": {"durability": "Strong/Moderate/Weak", "reasoning": "..."},
  "narrative_integrity": {"multiplier": 1.0, "findings": [], "reasoning": "..."},
  "key_risks": [],
  "final_verdict": "Buy/Sell/Hold"
}`,
}

// Sentiment scores narrative tone.
type Sentiment interface {
	Analyze(ctx context.Context, text string) (json.RawMessage, error)
}

// Consolidator synthesizes the final thesis.
type Consolidator interface {
	Consolidate(ctx context.Context, quant map[string]string, qual json.RawMessage, delta map[string]any) (json.RawMessage, error)
}

// QualAnalyst is the LLM-backed Sentiment.
type QualAnalyst struct {
	agent    *Agent
	maxChars int
}

// NewQualAnalyst creates a sentiment analyst reading at most maxChars of
// the document.
func NewQualAnalyst(gen llm.Generator, maxChars int) *QualAnalyst {
	if maxChars <= 0 {
		maxChars = 10000
	}
	return &QualAnalyst{agent: New(gen, QualPersona), maxChars: maxChars}
}

// Analyze returns the decoded reply. On failure the returned JSON is an
// error placeholder, so callers can store it either way.
func (q *QualAnalyst) Analyze(ctx context.Context, text string) (json.RawMessage, error) {
	prompt := fmt.Sprintf(`TASK: Analyze the following management discussion.

TEXT:
"""
%s
"""

INSTRUCTIONS:
- Ignore specific numbers.
- Focus on adjectives, qualifiers and sentence structure.
- Return valid JSON only.
`, retrieval.Truncate(text, q.maxChars))

	reply, err := q.agent.Ask(ctx, prompt)
	return decodeOrPlaceholder(reply, err, "qual")
}

// PortfolioManager is the LLM-backed Consolidator.
type PortfolioManager struct {
	agent *Agent
}

// NewPortfolioManager creates the consolidator.
func NewPortfolioManager(gen llm.Generator) *PortfolioManager {
	return &PortfolioManager{agent: New(gen, ConsolidatorPersona)}
}

// Consolidate returns the decoded thesis, or an error placeholder with a
// non-nil error.
func (p *PortfolioManager) Consolidate(ctx context.Context, quant map[string]string, qual json.RawMessage, delta map[string]any) (json.RawMessage, error) {
	quantJSON, _ := json.MarshalIndent(quant, "", "  ")
	deltaJSON, _ := json.MarshalIndent(delta, "", "  ")
	if len(qual) == 0 {
		qual = json.RawMessage("null")
	}

	prompt := fmt.Sprintf(`ANALYST REPORTS:

1. QUANT (HARD DATA):
%s

2. QUAL (NARRATIVE):
%s

3. DELTA (CONTEXT SHIFTS):
%s

TASK:
- Identify contradictions (friction).
- Assign a conviction score (0.0-1.0).
- Produce the final verdict.
`, quantJSON, qual, deltaJSON)

	reply, err := p.agent.Ask(ctx, prompt)
	return decodeOrPlaceholder(reply, err, "consolidator")
}

func decodeOrPlaceholder(reply string, callErr error, who string) (json.RawMessage, error) {
	if callErr != nil {
		return model.RawJSON(model.ErrorPlaceholder{Error: callErr.Error()}), callErr
	}
	obj, err := llmjson.Object(reply)
	if err != nil {
		err = eris.Wrapf(err, "agents: %s reply", who)
		return model.RawJSON(model.ErrorPlaceholder{Error: err.Error(), Raw: reply}), err
	}
	return obj, nil
}
