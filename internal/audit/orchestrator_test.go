package audit

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefanos11892/GVD-Engine/internal/agents"
	"github.com/stefanos11892/GVD-Engine/internal/docparse"
	"github.com/stefanos11892/GVD-Engine/internal/model"
	"github.com/stefanos11892/GVD-Engine/internal/pdftext"
)

// --- fakes ---

type fakeDoc struct {
	path  string
	pages []*pdftext.Page
}

func (d *fakeDoc) Path() string   { return d.path }
func (d *fakeDoc) PageCount() int { return len(d.pages) }
func (d *fakeDoc) Page(_ context.Context, n int) (*pdftext.Page, error) {
	return d.pages[n-1], nil
}
func (d *fakeDoc) Close() error { return nil }

type fakeOpener struct {
	mu    sync.Mutex
	opens int
}

func (o *fakeOpener) Open(_ context.Context, path string) (pdftext.Document, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	return &fakeDoc{path: path, pages: []*pdftext.Page{revenuePage()}}, nil
}

func (o *fakeOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

// revenuePage prints "Revenue $10.4B" near the top of page 1.
func revenuePage() *pdftext.Page {
	return &pdftext.Page{
		Number: 1, Width: 612, Height: 792,
		Blocks: []pdftext.Block{{Lines: []pdftext.Line{{Words: []pdftext.Word{
			{Text: "Revenue", Box: model.BBox{72, 680, 120, 692}},
			{Text: "$10.4B", Box: model.BBox{130, 680, 170, 692}},
		}}}}},
	}
}

var valueBox = model.BBox{125, 675, 175, 695}

type fakeParser struct {
	parsed *docparse.Parsed
	err    error
}

func (p *fakeParser) Parse(ctx context.Context, _ string) (*docparse.Parsed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.parsed, p.err
}

func sampleParsed() *docparse.Parsed {
	return docparse.NewParsed(
		"## Page 1\n\nRevenue $10.4B\n\nNet income was $2.1B for the year.",
		[]model.ProvenanceEntry{{Text: "Revenue $10.4B", Type: "line", Page: 1, BBox: model.BBox{72, 680, 170, 692}}},
		map[int]string{1: "Revenue $10.4B\n\nNet income was $2.1B for the year."},
	)
}

type fakeExtractor struct {
	mu      sync.Mutex
	first   *agents.ExtractResult
	err     error
	retries map[string]*agents.ExtractResult
	calls   []agents.ExtractRequest
}

func (e *fakeExtractor) Extract(_ context.Context, req agents.ExtractRequest) (*agents.ExtractResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, req)
	if len(req.TargetMetricIDs) == 0 {
		return e.first, e.err
	}
	if res, ok := e.retries[req.TargetMetricIDs[0]]; ok {
		return res, nil
	}
	return &agents.ExtractResult{}, nil
}

func (e *fakeExtractor) retryCalls(id string) []agents.ExtractRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []agents.ExtractRequest
	for _, c := range e.calls {
		if len(c.TargetMetricIDs) == 1 && c.TargetMetricIDs[0] == id {
			out = append(out, c)
		}
	}
	return out
}

type gatewayCall struct {
	metric      model.Metric
	contextText string
	cropPath    string
}

type fakeGateway struct {
	mu     sync.Mutex
	decide func(m model.Metric) model.Verdict
	calls  []gatewayCall
}

func (g *fakeGateway) Verify(_ context.Context, m model.Metric, contextText, cropPath string) model.Verdict {
	g.mu.Lock()
	g.calls = append(g.calls, gatewayCall{metric: m, contextText: contextText, cropPath: cropPath})
	decide := g.decide
	g.mu.Unlock()
	if decide == nil {
		return model.Verdict{Status: model.VerdictVerified}
	}
	return decide(m)
}

func (g *fakeGateway) callsFor(id string) []gatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []gatewayCall
	for _, c := range g.calls {
		if c.metric.MetricID == id {
			out = append(out, c)
		}
	}
	return out
}

type fakeSentiment struct {
	raw json.RawMessage
	err error
}

func (s *fakeSentiment) Analyze(context.Context, string) (json.RawMessage, error) {
	return s.raw, s.err
}

type fakeConsolidator struct {
	mu    sync.Mutex
	quant map[string]string
	raw   json.RawMessage
	err   error
}

func (c *fakeConsolidator) Consolidate(_ context.Context, quant map[string]string, _ json.RawMessage, _ map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quant = quant
	return c.raw, c.err
}

type fakeSink struct {
	mu    sync.Mutex
	saved []*model.Report
	err   error
}

func (s *fakeSink) Save(_ context.Context, r *model.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, r)
	return s.err
}

type fakePhases struct {
	mu        sync.Mutex
	owner     string
	names     []string
	completed map[string]model.PhaseStatus
}

func (p *fakePhases) CreatePhase(_ context.Context, owner, name string) (*model.RunPhase, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.owner = owner
	p.names = append(p.names, name)
	return &model.RunPhase{ID: name, Name: name}, nil
}

func (p *fakePhases) CompletePhase(_ context.Context, id string, res *model.PhaseResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.completed == nil {
		p.completed = map[string]model.PhaseStatus{}
	}
	p.completed[id] = res.Status
	return nil
}

type fakeObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (o *fakeObserver) ObserveVerdict(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[string]int{}
	}
	o.outcomes[outcome]++
}

type fakeCropper struct {
	mu    sync.Mutex
	calls int
}

func (c *fakeCropper) RenderCrop(_ context.Context, _ string, n int, _ model.BBox, dir string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return dir + "/crop.jpg", nil
}

type harness struct {
	opener       *fakeOpener
	extractor    *fakeExtractor
	gateway      *fakeGateway
	sentiment    *fakeSentiment
	consolidator *fakeConsolidator
	sink         *fakeSink
	phases       *fakePhases
	observer     *fakeObserver
	parser       *fakeParser
}

func newHarness(metrics ...model.Metric) *harness {
	return &harness{
		opener:       &fakeOpener{},
		extractor:    &fakeExtractor{first: &agents.ExtractResult{Metrics: metrics}, retries: map[string]*agents.ExtractResult{}},
		gateway:      &fakeGateway{},
		sentiment:    &fakeSentiment{raw: json.RawMessage(`{"sentiment_score":7}`)},
		consolidator: &fakeConsolidator{raw: json.RawMessage(`{"thesis":"hold"}`)},
		sink:         &fakeSink{},
		phases:       &fakePhases{},
		observer:     &fakeObserver{},
		parser:       &fakeParser{parsed: sampleParsed()},
	}
}

func (h *harness) orchestrator(opts ...Option) *Orchestrator {
	return New(Deps{
		Parser:       h.parser,
		Extractor:    h.extractor,
		Gateway:      h.gateway,
		Opener:       h.opener,
		Sentiment:    h.sentiment,
		Consolidator: h.consolidator,
		Sink:         h.sink,
		Phases:       h.phases,
		Observer:     h.observer,
	}, opts...)
}

func located(id, value string) model.Metric {
	box := valueBox
	return model.Metric{
		MetricID:    id,
		DisplayName: "Revenue",
		ValueRaw:    value,
		Provenance:  &model.Provenance{SourceSnippet: "Revenue " + value, Page: 1, BBox: &box},
	}
}

func unlocated(id, value string) model.Metric {
	return model.Metric{
		MetricID:    id,
		DisplayName: id,
		ValueRaw:    value,
		Provenance:  &model.Provenance{SourceSnippet: "Net income was " + value},
	}
}

// --- scenarios ---

func TestRun_PhysicalMismatchRecovered(t *testing.T) {
	h := newHarness(located("revenue", "$50.0B"))
	h.extractor.retries["revenue"] = &agents.ExtractResult{Metrics: []model.Metric{located("revenue", "$10.4B")}}

	report, err := h.orchestrator().Run(context.Background(), "/docs/annual.pdf")
	require.NoError(t, err)
	require.Len(t, report.Metrics, 1)

	m := report.Metrics[0]
	assert.Equal(t, "$10.4B", m.ValueRaw)
	assert.True(t, m.RecoveryUsed)
	assert.False(t, m.Flagged)
	require.Len(t, m.AuditHistory, 1)
	assert.Equal(t, 1, m.AuditHistory[0].Attempt)
	assert.Equal(t, "$50.0B", m.AuditHistory[0].ValueRaw)
	assert.Equal(t, model.VerdictErrorDetected, m.AuditHistory[0].Verification.Status)
	assert.Contains(t, m.AuditHistory[0].Verification.Note, "'$10.4B'")
	require.NotNil(t, m.Verification)
	assert.Equal(t, model.VerdictVerified, m.Verification.Status)

	// The mismatch skipped the gateway; only the corrected value reached it.
	calls := h.gateway.callsFor("revenue")
	require.Len(t, calls, 1)
	assert.Equal(t, "$10.4B", calls[0].metric.ValueRaw)

	retries := h.extractor.retryCalls("revenue")
	require.Len(t, retries, 1)
	assert.Contains(t, retries[0].Feedback, "Error in revenue:")
	assert.Equal(t, 1, h.observer.outcomes[OutcomeRecovered])
}

func TestRun_NoProvenanceUsesGatewayOnly(t *testing.T) {
	h := newHarness(unlocated("net_income", "$2.1B"))

	report, err := h.orchestrator().Run(context.Background(), "/docs/annual.pdf")
	require.NoError(t, err)

	m := report.Metrics[0]
	assert.Equal(t, model.VerdictVerified, m.Verification.Status)
	assert.False(t, m.Flagged)
	assert.Zero(t, h.opener.count(), "coordinate check must not open the document")
	require.Len(t, h.gateway.callsFor("net_income"), 1)
	assert.Contains(t, h.gateway.callsFor("net_income")[0].contextText, "Net income was $2.1B")
}

func TestRun_NegativePageFailsCoordinateCheck(t *testing.T) {
	bad := located("revenue", "$10.4B")
	bad.Provenance.Page = -2
	h := newHarness(bad)

	report, err := h.orchestrator().Run(context.Background(), "/docs/annual.pdf")
	require.NoError(t, err)

	m := report.Metrics[0]
	assert.Equal(t, 1, h.opener.count())
	assert.True(t, m.Flagged)
	require.NotNil(t, m.Verification)
	assert.Equal(t, "Coordinate Mismatch", m.Verification.Reason)
	assert.Contains(t, m.Verification.Details, "page -2 out of bounds (1-1)")
	assert.Empty(t, h.gateway.callsFor("revenue"))
}

func TestRun_NoCorrectionFlagsWithOneVerdict(t *testing.T) {
	h := newHarness(unlocated("ebitda", "$9.9B"))
	h.gateway.decide = func(model.Metric) model.Verdict {
		return model.Verdict{Status: model.VerdictErrorDetected, Note: "wrong scale", Details: "units"}
	}

	report, err := h.orchestrator().Run(context.Background(), "/docs/annual.pdf")
	require.NoError(t, err)

	m := report.Metrics[0]
	assert.True(t, m.Flagged)
	assert.False(t, m.RecoveryUsed)
	assert.False(t, m.InterventionRequired)
	assert.Empty(t, m.FailureChain)
	assert.Empty(t, m.AuditHistory)
	require.NotNil(t, m.Verification)
	assert.Equal(t, "wrong scale", m.Verification.Note)
	assert.Len(t, h.gateway.callsFor("ebitda"), 1)
	assert.Len(t, h.extractor.retryCalls("ebitda"), 1)
	assert.Equal(t, 1, h.observer.outcomes[OutcomeFlagged])
}

func TestRun_RecoveryExhaustedKeepsOriginal(t *testing.T) {
	h := newHarness(unlocated("eps", "$4.00"))
	h.extractor.retries["eps"] = &agents.ExtractResult{Metrics: []model.Metric{unlocated("EPS", "$0.40")}}
	h.gateway.decide = func(m model.Metric) model.Verdict {
		return model.Verdict{Status: model.VerdictErrorDetected, Note: "still wrong: " + m.ValueRaw}
	}

	report, err := h.orchestrator().Run(context.Background(), "/docs/annual.pdf")
	require.NoError(t, err)

	m := report.Metrics[0]
	assert.Equal(t, "$4.00", m.ValueRaw, "unverified correction must not replace the original")
	assert.True(t, m.Flagged)
	assert.True(t, m.InterventionRequired)
	assert.False(t, m.RecoveryUsed)
	require.Len(t, m.FailureChain, 2)
	assert.Equal(t, "still wrong: $4.00", m.FailureChain[0].Note)
	assert.Equal(t, "still wrong: $0.40", m.FailureChain[1].Note)
	assert.Equal(t, "still wrong: $0.40", m.Verification.Note)

	assert.Len(t, h.gateway.callsFor("eps"), 2)
	assert.Len(t, h.extractor.retryCalls("eps"), 1)
	assert.Equal(t, 1, h.observer.outcomes[OutcomeEscalated])
}

func TestRun_NonVerifiedSecondVerdictEscalates(t *testing.T) {
	h := newHarness(unlocated("eps", "$4.00"))
	h.extractor.retries["eps"] = &agents.ExtractResult{Metrics: []model.Metric{unlocated("eps", "$0.40")}}
	calls := 0
	h.gateway.decide = func(model.Metric) model.Verdict {
		calls++
		if calls == 1 {
			return model.Verdict{Status: model.VerdictErrorDetected}
		}
		return model.Verdict{Status: model.VerdictUnparseable, Details: "Auditor Parse Error: eof"}
	}

	report, err := h.orchestrator().Run(context.Background(), "/docs/annual.pdf")
	require.NoError(t, err)

	m := report.Metrics[0]
	assert.Equal(t, "$4.00", m.ValueRaw)
	assert.True(t, m.InterventionRequired)
	require.Len(t, m.FailureChain, 2)
	assert.True(t, m.FailureChain[1].IsUnparseable())
}

func TestRun_UnparseableVerdictIsSoftFailure(t *testing.T) {
	h := newHarness(unlocated("net_income", "$2.1B"))
	h.gateway.decide = func(model.Metric) model.Verdict {
		return model.Verdict{Status: model.VerdictUnparseable, Details: "Auditor Parse Error: no json"}
	}

	report, err := h.orchestrator().Run(context.Background(), "/docs/annual.pdf")
	require.NoError(t, err)

	m := report.Metrics[0]
	assert.False(t, m.Flagged)
	assert.True(t, m.Verification.IsUnparseable())
	assert.Empty(t, h.extractor.retryCalls("net_income"), "soft failures are not retried")
	assert.Equal(t, 1, h.observer.outcomes[OutcomeUnverified])
}

func TestRun_PreservesExtractionOrder(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var metrics []model.Metric
	for _, id := range ids {
		metrics = append(metrics, unlocated(id, "$1"))
	}
	h := newHarness(metrics...)
	h.gateway.decide = func(m model.Metric) model.Verdict {
		// Earlier metrics finish last.
		time.Sleep(time.Duration(len(ids)-indexOf(ids, m.MetricID)) * 2 * time.Millisecond)
		return model.Verdict{Status: model.VerdictVerified}
	}

	report, err := h.orchestrator(WithConcurrency(8)).Run(context.Background(), "/docs/annual.pdf")
	require.NoError(t, err)
	require.Len(t, report.Metrics, len(ids))
	for i, id := range ids {
		assert.Equal(t, id, report.Metrics[i].MetricID)
	}
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func TestRun_SnippetInProvenanceMapStillSkipsCoordinateCheck(t *testing.T) {
	m := model.Metric{
		MetricID: "revenue",
		ValueRaw: "$10.4 billion",
		Provenance: &model.Provenance{
			SourceSnippet: "Revenue $10.4B",
		},
	}
	h := newHarness(m)

	report, err := h.orchestrator().Run(context.Background(), "/docs/annual.pdf")
	require.NoError(t, err)

	got := report.Metrics[0]
	assert.Zero(t, h.opener.count(), "unclaimed coordinates must not be checked")
	assert.Nil(t, got.Provenance.BBox)
	assert.Zero(t, got.Provenance.Page)
	assert.False(t, got.Flagged)
	assert.Equal(t, model.VerdictVerified, got.Verification.Status)

	calls := h.gateway.callsFor("revenue")
	require.Len(t, calls, 1, "the gateway is the sole source of the verdict")
	assert.Equal(t, "Revenue $10.4B\n\nNet income was $2.1B for the year.", calls[0].contextText,
		"the mapped page feeds the auditor context")
}

func TestRun_ResolutionOffUsesSnippetWindow(t *testing.T) {
	m := model.Metric{
		MetricID:   "revenue",
		ValueRaw:   "$10.4B",
		Provenance: &model.Provenance{SourceSnippet: "Revenue $10.4B"},
	}
	h := newHarness(m)

	_, err := h.orchestrator(WithResolveProvenance(false)).Run(context.Background(), "/docs/annual.pdf")
	require.NoError(t, err)

	assert.Zero(t, h.opener.count())
	calls := h.gateway.callsFor("revenue")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].contextText, "## Page 1")
}

func TestRun_CashFlowGetsCrop(t *testing.T) {
	box := model.BBox{125, 675, 175, 695}
	cf := model.Metric{
		MetricID:   "operating_cash_flow",
		ValueRaw:   "$10.4B",
		Provenance: &model.Provenance{SourceSnippet: "$10.4B", Page: 1, BBox: &box},
	}
	h := newHarness(cf, unlocated("net_income", "$2.1B"))
	cropper := &fakeCropper{}

	o := New(Deps{
		Parser:       h.parser,
		Extractor:    h.extractor,
		Gateway:      h.gateway,
		Opener:       h.opener,
		Sentiment:    h.sentiment,
		Consolidator: h.consolidator,
		Cropper:      cropper,
	}, WithVisualCheck(true))

	_, err := o.Run(context.Background(), "/docs/annual.pdf")
	require.NoError(t, err)

	assert.Equal(t, 1, cropper.calls)
	require.Len(t, h.gateway.callsFor("operating_cash_flow"), 1)
	assert.Contains(t, h.gateway.callsFor("operating_cash_flow")[0].cropPath, "crop.jpg")
	assert.Empty(t, h.gateway.callsFor("net_income")[0].cropPath)
}

// --- report assembly ---

func TestRun_ReportFields(t *testing.T) {
	h := newHarness(unlocated("net_income", "$2.1B"))
	h.extractor.first.Note = "EPS not disclosed"
	fixed := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

	report, err := h.orchestrator(WithClock(func() time.Time { return fixed })).Run(context.Background(), "/docs/annual.pdf")
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^20250301_093000_[0-9a-f]{8}$`), report.RunID)
	assert.Equal(t, fixed, report.Timestamp)
	assert.Equal(t, "/docs/annual.pdf", report.PDFPath)
	require.NotNil(t, report.QuantNote)
	assert.Equal(t, "EPS not disclosed", *report.QuantNote)
	assert.Nil(t, report.QuantError)
	assert.JSONEq(t, `{"sentiment_score":7}`, string(report.QualAnalysis))
	assert.JSONEq(t, `{"thesis":"hold"}`, string(report.InstitutionalThesis))
	assert.Equal(t, map[string]string{"net_income": "$2.1B"}, h.consolidator.quant)

	require.Len(t, h.sink.saved, 1)
	assert.Same(t, report, h.sink.saved[0])
}

func TestRun_CollaboratorFailuresDegrade(t *testing.T) {
	h := newHarness(unlocated("net_income", "$2.1B"))
	h.sentiment.raw = nil
	h.sentiment.err = errors.New("sentiment down")
	h.consolidator.err = errors.New("consolidator down")
	h.consolidator.raw = nil
	h.sink.err = errors.New("disk full")

	report, err := h.orchestrator().Run(context.Background(), "/docs/annual.pdf")
	require.NoError(t, err)

	assert.JSONEq(t, `{"error":"sentiment down"}`, string(report.QualAnalysis))
	assert.JSONEq(t, `{"error":"consolidator down"}`, string(report.InstitutionalThesis))
	assert.Equal(t, model.PhaseStatusFailed, h.phases.completed[StepPersist])
	assert.Equal(t, model.PhaseStatusFailed, h.phases.completed[StepQual])
}

func TestRun_RecordsPhasesUnderJobID(t *testing.T) {
	h := newHarness(unlocated("net_income", "$2.1B"))
	ctx := WithJobID(context.Background(), "job-123")

	_, err := h.orchestrator().Run(ctx, "/docs/annual.pdf")
	require.NoError(t, err)

	assert.Equal(t, "job-123", h.phases.owner)
	assert.Equal(t, []string{StepParse, StepExtraction, StepVerification, StepQual, StepConsolidate, StepPersist}, h.phases.names)
	for _, name := range h.phases.names {
		assert.Equal(t, model.PhaseStatusComplete, h.phases.completed[name], name)
	}
}

func TestRun_ValidatorRejects(t *testing.T) {
	h := newHarness(unlocated("net_income", "$2.1B"))
	o := h.orchestrator(WithValidator(func(*model.Report) error { return errors.New("missing run_id") }))

	_, err := o.Run(context.Background(), "/docs/annual.pdf")
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepPersist, stepErr.Step)
	assert.Empty(t, h.sink.saved)
}

// --- fatal steps ---

func TestRun_ParseFailure(t *testing.T) {
	h := newHarness()
	h.parser.err = errors.New("open /missing.pdf: no such file or directory")
	h.parser.parsed = nil

	report, err := h.orchestrator().Run(context.Background(), "/missing.pdf")
	assert.Nil(t, report)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepParse, stepErr.Step)
	assert.Contains(t, err.Error(), "/missing.pdf")
	assert.Empty(t, h.extractor.calls)
}

func TestRun_ExtractionFailure(t *testing.T) {
	h := newHarness()
	h.extractor.first = nil
	h.extractor.err = errors.New("agents: quant extraction: no JSON object")

	report, err := h.orchestrator().Run(context.Background(), "/docs/annual.pdf")
	assert.Nil(t, report)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepExtraction, stepErr.Step)
	assert.Empty(t, h.gateway.calls)
	assert.Empty(t, h.sink.saved)
}

func TestRun_Cancelled(t *testing.T) {
	h := newHarness(unlocated("net_income", "$2.1B"))
	ctx, cancel := context.WithCancel(context.Background())
	h.gateway.decide = func(model.Metric) model.Verdict {
		cancel()
		return model.Verdict{Status: model.VerdictVerified}
	}

	report, err := h.orchestrator().Run(ctx, "/docs/annual.pdf")
	assert.Nil(t, report)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.sink.saved)
}

func TestStepError_Unwrap(t *testing.T) {
	base := errors.New("boom")
	err := &StepError{Step: StepParse, Err: base}
	assert.Equal(t, "parse: boom", err.Error())
	assert.ErrorIs(t, err, base)
}

func TestJobIDFromContext(t *testing.T) {
	assert.Empty(t, JobIDFromContext(context.Background()))
	assert.Equal(t, "j1", JobIDFromContext(WithJobID(context.Background(), "j1")))
}
