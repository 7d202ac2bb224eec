// Package gateway normalizes the textual and visual checks of a metric
// into a single verdict.
package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/stefanos11892/GVD-Engine/internal/agents"
	"github.com/stefanos11892/GVD-Engine/internal/llmjson"
	"github.com/stefanos11892/GVD-Engine/internal/model"
	"github.com/stefanos11892/GVD-Engine/internal/vision"
)

// Gateway routes a metric to the visual verifier and the adversarial
// auditor.
type Gateway struct {
	auditor agents.Auditor
	vision  vision.Verifier
}

// New creates a Gateway. visual may be nil to disable visual checks.
func New(auditor agents.Auditor, visual vision.Verifier) *Gateway {
	return &Gateway{auditor: auditor, vision: visual}
}

// Verify returns the verdict for metric. It never fails: collaborator
// errors become an unparseable verdict.
func (g *Gateway) Verify(ctx context.Context, metric model.Metric, contextText, cropPath string) model.Verdict {
	log := zap.L().With(zap.String("metric_id", metric.MetricID))

	if g.vision != nil && cropPath != "" && IsCashFlow(metric.MetricID) {
		res, err := g.vision.VerifyImage(ctx, cropPath, metric)
		if err != nil || !res.Verified {
			reason := res.Reason()
			if err != nil {
				reason = err.Error()
			}
			log.Warn("gateway: visual check failed", zap.String("reason", reason), zap.Error(err))
			return model.Verdict{
				Status:     model.VerdictErrorDetected,
				Confidence: model.Float64(1.0),
				Note:       "Visual inspection contradicts the extraction.",
				Details:    "VLM Verification Failed: " + reason,
			}
		}
		log.Debug("gateway: visual check passed")
	}

	reply, err := g.auditor.Audit(ctx, metric, contextText)
	if err != nil {
		log.Warn("gateway: auditor call failed", zap.Error(err))
		return model.Verdict{
			Status:  model.VerdictUnparseable,
			Details: "Auditor Call Failed: " + err.Error(),
		}
	}
	return ParseAuditReply(reply)
}

// IsCashFlow reports whether metricID names a cash-flow figure.
func IsCashFlow(metricID string) bool {
	return strings.Contains(agents.NormalizeMetricID(metricID), "cash_flow")
}

// ParseAuditReply decodes the auditor's free-text reply. It tolerates
// prose, code fences and line comments around the JSON object; a reply
// with no decodable object yields an unparseable verdict.
func ParseAuditReply(reply string) model.Verdict {
	var fields map[string]any
	if err := llmjson.Decode(reply, &fields); err != nil {
		return model.Verdict{
			Status:  model.VerdictUnparseable,
			Details: "Auditor Parse Error: " + err.Error(),
		}
	}

	status := stringField(fields, "verification_status")
	if status == "" {
		status = stringField(fields, "status")
	}
	return model.Verdict{
		Status:     model.ParseVerdictStatus(status),
		Note:       stringField(fields, "auditor_note"),
		Details:    stringField(fields, "error_details"),
		Confidence: floatField(fields, "confidence"),
	}
}

func stringField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func floatField(fields map[string]any, key string) *float64 {
	switch v := fields[key].(type) {
	case float64:
		return model.Float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return model.Float64(f)
		}
	}
	return nil
}
