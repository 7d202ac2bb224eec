// Package audit runs the verification and recovery pipeline over one
// document: parse, extract, verify every metric with a single
// feedback-driven retry, then assemble and persist the report.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stefanos11892/GVD-Engine/internal/agents"
	"github.com/stefanos11892/GVD-Engine/internal/config"
	"github.com/stefanos11892/GVD-Engine/internal/coordinate"
	"github.com/stefanos11892/GVD-Engine/internal/docparse"
	"github.com/stefanos11892/GVD-Engine/internal/gateway"
	"github.com/stefanos11892/GVD-Engine/internal/model"
	"github.com/stefanos11892/GVD-Engine/internal/pdftext"
	"github.com/stefanos11892/GVD-Engine/internal/retrieval"
)

// Verdict outcomes reported to an Observer, one per metric.
const (
	OutcomeVerified   = "verified"
	OutcomeRecovered  = "recovered"
	OutcomeEscalated  = "escalated"
	OutcomeFlagged    = "flagged"
	OutcomeUnverified = "unverified"
)

// Gateway produces the textual/visual verdict for a metric.
// *gateway.Gateway implements it.
type Gateway interface {
	Verify(ctx context.Context, metric model.Metric, contextText, cropPath string) model.Verdict
}

// Cropper renders an image of a page region. *pdftext.Poppler implements it.
type Cropper interface {
	RenderCrop(ctx context.Context, path string, n int, box model.BBox, dir string) (string, error)
}

// Sink persists a finished report.
type Sink interface {
	Save(ctx context.Context, r *model.Report) error
}

// PhaseRecorder records phase timings. store.Store implements it.
type PhaseRecorder interface {
	CreatePhase(ctx context.Context, ownerID, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error
}

// Observer is notified of each metric's final outcome.
type Observer interface {
	ObserveVerdict(outcome string)
}

// Deps are the collaborators of an Orchestrator. Cropper, Sink, Phases
// and Observer are optional.
type Deps struct {
	Parser       docparse.Parser
	Extractor    agents.Extractor
	Gateway      Gateway
	Opener       pdftext.Opener
	Sentiment    agents.Sentiment
	Consolidator agents.Consolidator
	Cropper      Cropper
	Sink         Sink
	Phases       PhaseRecorder
	Observer     Observer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency bounds how many metrics are verified at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithVisualCheck enables image crops for cash-flow metrics.
func WithVisualCheck(enabled bool) Option {
	return func(o *Orchestrator) { o.visual = enabled }
}

// WithResolveProvenance lets the auditor context of a metric without a
// page come from the page of the unique provenance entry holding its
// snippet. The metric itself is left as extracted, so only claimed
// coordinates ever reach the coordinate check.
func WithResolveProvenance(enabled bool) Option {
	return func(o *Orchestrator) { o.resolve = enabled }
}

// WithValidator checks the assembled report before it is persisted.
func WithValidator(fn func(*model.Report) error) Option {
	return func(o *Orchestrator) { o.validate = fn }
}

// WithContextChars bounds the retrieval context used when a metric has no
// usable provenance.
func WithContextChars(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.contextChars = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// FromConfig translates the audit config section into options.
func FromConfig(cfg config.AuditConfig) []Option {
	return []Option{
		WithConcurrency(cfg.MetricConcurrency),
		WithVisualCheck(cfg.VisualCheck),
		WithResolveProvenance(cfg.ResolveProvenance),
		WithContextChars(cfg.ContextMaxChars),
	}
}

// noHistoricalDelta is sent to the consolidator until multi-period
// comparison exists.
var noHistoricalDelta = map[string]any{"notes": "No historical delta available yet."}

// snippetWindow is how much markdown either side of a snippet the auditor
// sees when the metric's page text is unavailable.
const snippetWindow = 1500

// Orchestrator runs audits. It is safe for concurrent use; each Run owns
// its own coordinate verifier and crop directory.
type Orchestrator struct {
	deps         Deps
	concurrency  int
	visual       bool
	resolve      bool
	contextChars int
	validate     func(*model.Report) error
	now          func() time.Time
}

// New creates an Orchestrator.
func New(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		deps:         deps,
		concurrency:  4,
		resolve:      true,
		contextChars: 25000,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewRunID returns a run id of the form YYYYMMDD_HHMMSS_<8 hex>.
func NewRunID(t time.Time) string {
	return t.UTC().Format("20060102_150405") + "_" + uuid.NewString()[:8]
}

// run is the per-document state shared by the metric workers.
type run struct {
	id     string
	path   string
	parsed *docparse.Parsed
	coords *coordinate.Verifier
	log    *zap.Logger

	cropOnce sync.Once
	cropDir  string
	cropErr  error
}

// Run audits the document at path. Parse and extraction failures are
// returned as *StepError; every later failure degrades the report instead.
func (o *Orchestrator) Run(ctx context.Context, path string) (*model.Report, error) {
	started := o.now()
	r := &run{
		id:     NewRunID(started),
		path:   path,
		coords: coordinate.New(o.deps.Opener),
	}
	r.log = zap.L().With(zap.String("run_id", r.id), zap.String("pdf_path", path))
	if jobID := JobIDFromContext(ctx); jobID != "" {
		r.log = r.log.With(zap.String("job_id", jobID))
	}
	defer func() {
		if err := r.coords.Close(); err != nil {
			r.log.Warn("audit: close document", zap.Error(err))
		}
		if r.cropDir != "" {
			_ = os.RemoveAll(r.cropDir)
		}
	}()

	r.log.Info("audit: starting run")
	track := o.tracker(ctx, r)

	// Phase 1: parse.
	err := track(StepParse, func() (*model.PhaseResult, error) {
		parsed, parseErr := o.deps.Parser.Parse(ctx, path)
		if parseErr != nil {
			return nil, parseErr
		}
		r.parsed = parsed
		return &model.PhaseResult{Metadata: map[string]any{
			"pages":              parsed.PageCount(),
			"provenance_entries": len(parsed.Provenance),
			"markdown_chars":     len(parsed.Markdown),
		}}, nil
	})
	if err != nil {
		return nil, &StepError{Step: StepParse, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "audit: run cancelled")
	}

	// Phase 2: extraction, attempt 1.
	var extracted *agents.ExtractResult
	err = track(StepExtraction, func() (*model.PhaseResult, error) {
		res, extractErr := o.deps.Extractor.Extract(ctx, agents.ExtractRequest{Context: r.parsed.Markdown})
		if extractErr != nil {
			return nil, extractErr
		}
		if res == nil {
			return nil, eris.New("audit: extractor returned no result")
		}
		extracted = res
		return &model.PhaseResult{Metadata: map[string]any{"metrics": len(res.Metrics)}}, nil
	})
	if err != nil {
		return nil, &StepError{Step: StepExtraction, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "audit: run cancelled")
	}

	// Phase 3: verification and one-strike recovery, results by index.
	metrics := make([]model.Metric, len(extracted.Metrics))
	err = track(StepVerification, func() (*model.PhaseResult, error) {
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(o.concurrency)
		for i, m := range extracted.Metrics {
			g.Go(func() error {
				out, procErr := o.processMetric(gCtx, r, m)
				if procErr != nil {
					return procErr
				}
				metrics[i] = out
				return nil
			})
		}
		if waitErr := g.Wait(); waitErr != nil {
			return nil, waitErr
		}
		s := (&model.Report{Metrics: metrics}).Summarize()
		return &model.PhaseResult{Metadata: map[string]any{
			"total":                 s.Total,
			"verified":              s.Verified,
			"recovered":             s.Recovered,
			"flagged":               s.Flagged,
			"intervention_required": s.InterventionRequired,
		}}, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "audit: verification interrupted")
	}

	// Phase 4: narrative sentiment. Failures degrade the field.
	var qual json.RawMessage
	_ = track(StepQual, func() (*model.PhaseResult, error) {
		raw, qualErr := o.deps.Sentiment.Analyze(ctx, r.parsed.Markdown)
		qual = orPlaceholder(raw, qualErr)
		return nil, qualErr
	})
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "audit: run cancelled")
	}

	// Phase 5: consolidation over the final metric values.
	var thesis json.RawMessage
	_ = track(StepConsolidate, func() (*model.PhaseResult, error) {
		quant := make(map[string]string, len(metrics))
		for _, m := range metrics {
			quant[m.MetricID] = m.ValueRaw
		}
		raw, consErr := o.deps.Consolidator.Consolidate(ctx, quant, qual, noHistoricalDelta)
		thesis = orPlaceholder(raw, consErr)
		return nil, consErr
	})
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "audit: run cancelled")
	}

	report := &model.Report{
		RunID:               r.id,
		Timestamp:           started,
		PDFPath:             path,
		Metrics:             metrics,
		QualAnalysis:        qual,
		InstitutionalThesis: thesis,
		QuantNote:           model.String(extracted.Note),
		QuantError:          model.String(extracted.Error),
	}

	if o.validate != nil {
		if err := o.validate(report); err != nil {
			return nil, &StepError{Step: StepPersist, Err: eris.Wrap(err, "audit: report failed validation")}
		}
	}

	// Phase 6: persist. Sink failures are logged; the report is still
	// returned to the caller.
	if o.deps.Sink != nil {
		_ = track(StepPersist, func() (*model.PhaseResult, error) {
			return nil, o.deps.Sink.Save(ctx, report)
		})
	}

	s := report.Summarize()
	r.log.Info("audit: run complete",
		zap.Int("metrics", s.Total),
		zap.Int("verified", s.Verified),
		zap.Int("recovered", s.Recovered),
		zap.Int("flagged", s.Flagged),
		zap.Int("intervention_required", s.InterventionRequired),
		zap.Duration("elapsed", o.now().Sub(started)),
	)
	return report, nil
}

// tracker returns a helper that records a phase around fn and logs its
// outcome. It returns fn's error.
func (o *Orchestrator) tracker(ctx context.Context, r *run) func(string, func() (*model.PhaseResult, error)) error {
	owner := JobIDFromContext(ctx)
	if owner == "" {
		owner = r.id
	}
	return func(name string, fn func() (*model.PhaseResult, error)) error {
		var phase *model.RunPhase
		if o.deps.Phases != nil {
			p, phaseErr := o.deps.Phases.CreatePhase(ctx, owner, name)
			if phaseErr != nil {
				r.log.Warn("audit: failed to create phase", zap.String("phase", name), zap.Error(phaseErr))
			}
			phase = p
		}

		start := time.Now()
		result, fnErr := fn()
		duration := time.Since(start).Milliseconds()

		if result == nil {
			result = &model.PhaseResult{}
		}
		result.Name = name
		result.Duration = duration

		if fnErr != nil {
			result.Status = model.PhaseStatusFailed
			result.Error = fnErr.Error()
			r.log.Error("audit: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
		} else {
			result.Status = model.PhaseStatusComplete
			r.log.Info("audit: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
			)
		}

		if phase != nil {
			if err := o.deps.Phases.CompletePhase(context.WithoutCancel(ctx), phase.ID, result); err != nil {
				r.log.Warn("audit: failed to complete phase", zap.String("phase", name), zap.Error(err))
			}
		}
		return fnErr
	}
}

// processMetric verifies one metric and, when an error is detected,
// performs exactly one feedback-driven re-extraction and re-verification.
// It only fails when ctx is done.
func (o *Orchestrator) processMetric(ctx context.Context, r *run, extracted model.Metric) (model.Metric, error) {
	original := extracted.Clone()
	log := r.log.With(zap.String("metric_id", original.MetricID))

	first := o.verify(ctx, r, original)
	if err := ctx.Err(); err != nil {
		return model.Metric{}, err
	}

	if !first.IsErrorDetected() {
		out := original
		out.Verification = &first
		out.Flagged = false
		if first.IsVerified() {
			o.observe(OutcomeVerified)
		} else {
			log.Info("audit: metric left unverified", zap.String("status", string(first.Status)))
			o.observe(OutcomeUnverified)
		}
		return out, nil
	}

	feedback := fmt.Sprintf("Error in %s: %s. %s", original.MetricID, first.Note, first.Details)
	log.Info("audit: error detected, requesting correction", zap.String("feedback", feedback))

	retry, err := o.deps.Extractor.Extract(ctx, agents.ExtractRequest{
		Context:         r.parsed.Markdown,
		TargetMetricIDs: []string{original.MetricID},
		Feedback:        feedback,
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return model.Metric{}, ctxErr
	}
	if err != nil {
		log.Warn("audit: re-extraction failed", zap.Error(err))
	}

	var corrected model.Metric
	found := false
	if err == nil && retry != nil {
		corrected, found = retry.Find(original.MetricID)
	}
	if !found {
		out := original
		out.Verification = &first
		out.Flagged = true
		log.Warn("audit: no correction offered, metric flagged")
		o.observe(OutcomeFlagged)
		return out, nil
	}

	corrected = corrected.Clone()
	corrected.MetricID = original.MetricID
	if corrected.DisplayName == "" {
		corrected.DisplayName = original.DisplayName
	}

	second := o.verify(ctx, r, corrected)
	if err := ctx.Err(); err != nil {
		return model.Metric{}, err
	}

	if second.IsVerified() {
		out := corrected
		out.Verification = &second
		out.Flagged = false
		out.RecoveryUsed = true
		out.AuditHistory = append(append([]model.AuditAttempt(nil), original.AuditHistory...), model.AuditAttempt{
			Attempt:      len(original.AuditHistory) + 1,
			ValueRaw:     original.ValueRaw,
			Verification: first,
			Timestamp:    o.now(),
		})
		log.Info("audit: metric recovered",
			zap.String("original", original.ValueRaw),
			zap.String("corrected", corrected.ValueRaw),
		)
		o.observe(OutcomeRecovered)
		return out, nil
	}

	// The unverified correction is discarded; the original value stands.
	out := original
	out.Verification = &second
	out.Flagged = true
	out.InterventionRequired = true
	out.FailureChain = []model.Verdict{first, second}
	log.Warn("audit: recovery failed, escalating",
		zap.String("original", original.ValueRaw),
		zap.String("rejected", corrected.ValueRaw),
		zap.String("status", string(second.Status)),
	)
	o.observe(OutcomeEscalated)
	return out, nil
}

// verify runs the physical check when provenance allows, then the gateway.
// A physical mismatch never reaches the gateway.
func (o *Orchestrator) verify(ctx context.Context, r *run, m model.Metric) model.Verdict {
	if m.Provenance.Locatable() {
		res := r.coords.Verify(ctx, r.path, m.Provenance.Page, *m.Provenance.BBox, m.ValueRaw)
		if !res.Match {
			details := "Physical coordinate validation failed"
			if res.Error != "" {
				details += ": " + res.Error
			}
			return model.Verdict{
				Status:  model.VerdictErrorDetected,
				Reason:  "Coordinate Mismatch",
				Note:    fmt.Sprintf("Text at coordinates is '%s', not '%s'", res.GroundTruthText, m.ValueRaw),
				Details: details,
			}
		}
	}
	if ctx.Err() != nil {
		return model.Verdict{Status: model.VerdictUnknown}
	}
	return o.deps.Gateway.Verify(ctx, m, o.contextFor(r, m), o.crop(ctx, r, m))
}

// contextFor picks the source text shown to the auditor: the metric's
// page, else a window around its snippet, else the snippet, else
// retrieval over the whole document.
func (o *Orchestrator) contextFor(r *run, m model.Metric) string {
	if page := o.contextPage(r, m); page > 0 {
		if text := r.parsed.PageText(page); text != "" {
			return text
		}
	}
	if snippet := m.Snippet(); snippet != "" {
		if w := r.parsed.Window(snippet, snippetWindow); w != "" {
			return w
		}
		return snippet
	}
	name := m.DisplayName
	if name == "" {
		name = m.MetricID
	}
	return retrieval.ContextForMetrics([]string{name}, r.parsed.Markdown, o.contextChars, o.contextChars)
}

// crop renders the metric's region for the visual check. It returns ""
// when visual checks do not apply or rendering fails.
func (o *Orchestrator) crop(ctx context.Context, r *run, m model.Metric) string {
	if !o.visual || o.deps.Cropper == nil || !gateway.IsCashFlow(m.MetricID) || !m.Provenance.Locatable() || m.Provenance.Page < 1 {
		return ""
	}
	r.cropOnce.Do(func() {
		r.cropDir, r.cropErr = os.MkdirTemp("", "gvd-crops-"+r.id+"-")
	})
	if r.cropErr != nil {
		r.log.Warn("audit: crop dir", zap.Error(r.cropErr))
		return ""
	}
	path, err := o.deps.Cropper.RenderCrop(ctx, r.path, m.Provenance.Page, *m.Provenance.BBox, r.cropDir)
	if err != nil {
		r.log.Warn("audit: render crop failed", zap.String("metric_id", m.MetricID), zap.Error(err))
		return ""
	}
	return path
}

// contextPage is the claimed page, else with resolution on the page of
// the provenance entry that uniquely holds the snippet.
func (o *Orchestrator) contextPage(r *run, m model.Metric) int {
	if m.Provenance == nil {
		return 0
	}
	if m.Provenance.Page > 0 {
		return m.Provenance.Page
	}
	snippet := m.Snippet()
	if !o.resolve || snippet == "" {
		return 0
	}
	entry, ok := r.parsed.Lookup(snippet)
	if !ok {
		return 0
	}
	return entry.Page
}

func (o *Orchestrator) observe(outcome string) {
	if o.deps.Observer != nil {
		o.deps.Observer.ObserveVerdict(outcome)
	}
}

// orPlaceholder returns raw, or an error placeholder when raw is empty.
func orPlaceholder(raw json.RawMessage, err error) json.RawMessage {
	if len(raw) > 0 {
		return raw
	}
	msg := "no output"
	if err != nil {
		msg = err.Error()
	}
	return model.RawJSON(model.ErrorPlaceholder{Error: msg})
}
