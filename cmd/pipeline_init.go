package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stefanos11892/GVD-Engine/internal/agents"
	"github.com/stefanos11892/GVD-Engine/internal/audit"
	"github.com/stefanos11892/GVD-Engine/internal/docparse"
	"github.com/stefanos11892/GVD-Engine/internal/gateway"
	"github.com/stefanos11892/GVD-Engine/internal/jobs"
	"github.com/stefanos11892/GVD-Engine/internal/llm"
	"github.com/stefanos11892/GVD-Engine/internal/monitoring"
	"github.com/stefanos11892/GVD-Engine/internal/pdftext"
	"github.com/stefanos11892/GVD-Engine/internal/report"
	"github.com/stefanos11892/GVD-Engine/internal/store"
	"github.com/stefanos11892/GVD-Engine/internal/vision"
	"github.com/stefanos11892/GVD-Engine/pkg/gemini"
)

// auditEnv holds the store, clients and orchestrator needed by the
// audit/serve/brief commands.
type auditEnv struct {
	Store        store.Store // nil when store.driver is "none"
	LLM          *llm.Resilient
	Vision       gemini.Client // nil when visual checks are off
	PDF          *pdftext.Poppler
	Parser       docparse.Parser
	Reports      *report.FileSink
	Metrics      *monitoring.Metrics
	Registry     *prometheus.Registry
	Orchestrator *audit.Orchestrator
}

// Close releases resources held by the environment.
func (e *auditEnv) Close() {
	if e.LLM != nil {
		if err := e.LLM.Close(); err != nil {
			zap.L().Warn("close llm client", zap.Error(err))
		}
	}
	if e.Vision != nil {
		if err := e.Vision.Close(); err != nil {
			zap.L().Warn("close vision client", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// jobOptions returns the job manager options for this environment.
func (e *auditEnv) jobOptions() []jobs.Option {
	opts := jobs.FromConfig(cfg.Jobs, cfg.Audit)
	if e.Metrics != nil {
		opts = append(opts, jobs.WithMetrics(e.Metrics))
	}
	if e.Store != nil {
		opts = append(opts, jobs.WithStore(e.Store))
	}
	return opts
}

// initStore opens and migrates the configured store. It returns nil, nil
// for driver "none".
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, nil
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initVision opens the Gemini client used for crop checks. It returns nil
// when visual checks are disabled or no Gemini key is configured.
func initVision(ctx context.Context) (gemini.Client, error) {
	if !cfg.Audit.VisualCheck {
		return nil, nil
	}
	if cfg.Gemini.Key == "" {
		zap.L().Warn("GVD_GEMINI_KEY not set, visual checks disabled")
		return nil, nil
	}
	client, err := gemini.NewClient(ctx, cfg.Gemini.Key)
	if err != nil {
		return nil, eris.Wrap(err, "vision client")
	}
	return client, nil
}

// initAudit validates the config and builds every collaborator of the
// orchestrator. Callers should defer env.Close().
func initAudit(ctx context.Context) (*auditEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	env := &auditEnv{
		PDF:      pdftext.NewPoppler(cfg.PDF),
		Reports:  report.NewFileSink(cfg.Audit.ReportDir),
		Registry: prometheus.NewRegistry(),
	}
	env.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	env.Metrics = monitoring.NewMetrics(env.Registry)

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env.Store = st

	gen, err := llm.New(ctx, cfg, llm.WithObserver(env.Metrics))
	if err != nil {
		env.Close()
		return nil, err
	}
	env.LLM = gen

	env.Vision, err = initVision(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Parser, err = docparse.NewParser(cfg.Parser, env.PDF)
	if err != nil {
		env.Close()
		return nil, err
	}

	var visual vision.Verifier
	if env.Vision != nil {
		visual = vision.NewGemini(env.Vision, cfg.Gemini.VisionModel)
		zap.L().Info("visual checks enabled", zap.String("model", cfg.Gemini.VisionModel))
	}

	deps := audit.Deps{
		Parser:       env.Parser,
		Extractor:    agents.NewQuantExtractor(gen, cfg.Audit.Metrics, cfg.Audit.ContextMaxChars, cfg.Audit.FallbackMaxChars),
		Gateway:      gateway.New(agents.NewShortSeller(gen), visual),
		Opener:       env.PDF,
		Sentiment:    agents.NewQualAnalyst(gen, cfg.Audit.SentimentMaxChars),
		Consolidator: agents.NewPortfolioManager(gen),
		Cropper:      env.PDF,
		Sink:         env.Reports,
		Observer:     env.Metrics,
	}
	if st != nil {
		deps.Sink = report.Tee(env.Reports, report.NewStoreSink(st))
		deps.Phases = st
	}

	opts := audit.FromConfig(cfg.Audit)
	if cfg.Audit.ValidateReport {
		opts = append(opts, audit.WithValidator(report.Validate))
	}
	env.Orchestrator = audit.New(deps, opts...)

	zap.L().Info("audit environment ready",
		zap.String("provider", gen.Provider()),
		zap.String("parser", cfg.Parser.Provider),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("visual", visual != nil),
	)
	return env, nil
}
