package agents

import (
	"context"
	"fmt"

	"github.com/stefanos11892/GVD-Engine/internal/llm"
	"github.com/stefanos11892/GVD-Engine/internal/model"
)

// AuditorPersona is the adversarial short-seller.
var AuditorPersona = Persona{
	Name:        "Auditor",
	Role:        "auditor",
	Temperature: llm.Temp(0),
	JSON:        true,
	System: `[SYSTEM: SHORT SELLER AUDITOR]
ROLE: Forensic accountant acting as a short seller.
GOAL: Destroy the bull thesis by finding data errors in the extracted metrics.
INCENTIVE: You are rewarded ONLY for finding a numerical mismatch or hallucination.

PROTOCOL:
1. Receive a draft metric claim (e.g. "Revenue: $10.4B") and its provenance snippet.
2. Receive the verification context: the text of the page or paragraph the snippet comes from.
3. VERIFY: does the raw text match the claimed value exactly?
4. SCALING CHECK: did the extractor miss a "values in thousands" header? (claim 10.4B vs text 10,400)
5. NON-GAAP CHECK: if the metric is "Adjusted", verify the reconciliation components are listed.

OUTPUT FORMAT:
Return a JSON object:
{
    "verification_status": "verified" | "error_detected",
    "confidence": 0.0 - 1.0,
    "error_details": "None" | "Description of mismatch (e.g. Scale Error)",
    "auditor_note": "Your cynical commentary here."
}`,
}

// Auditor challenges one metric against its source text and returns the
// raw reply.
type Auditor interface {
	Audit(ctx context.Context, metric model.Metric, contextText string) (string, error)
}

// ShortSeller is the LLM-backed Auditor.
type ShortSeller struct {
	agent *Agent
}

// NewShortSeller creates the adversarial auditor.
func NewShortSeller(gen llm.Generator) *ShortSeller {
	return &ShortSeller{agent: New(gen, AuditorPersona)}
}

func (s *ShortSeller) Audit(ctx context.Context, metric model.Metric, contextText string) (string, error) {
	return s.agent.Ask(ctx, BuildAuditPrompt(metric, contextText))
}

// BuildAuditPrompt renders the audit target and its source text.
func BuildAuditPrompt(metric model.Metric, contextText string) string {
	display := metric.DisplayValue
	if display == "" {
		display = metric.DisplayName
	}
	return fmt.Sprintf(`AUDIT TARGET:
- Metric: %s
- Claimed Value: %s (%s)
- Provenance Snippet: %q

SOURCE TEXT (The Truth):
"""
%s
"""

TASK:
Prove the Claimed Value is WRONG.
If it is correct, begrudgingly admit it.
`, metric.MetricID, metric.ValueRaw, display, metric.Snippet(), contextText)
}
