// Package server exposes the job manager over HTTP: submit a document,
// poll its status and fetch the finished report.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stefanos11892/GVD-Engine/internal/config"
	"github.com/stefanos11892/GVD-Engine/internal/model"
)

// JobManager is the part of jobs.Manager the API drives.
type JobManager interface {
	Submit(path string) (string, error)
	Status(ctx context.Context, id string) model.JobStatus
	Get(ctx context.Context, id string) (model.Job, bool)
	Result(ctx context.Context, id string) *model.Report
	List() []model.Job
	Cancel(id string) error
}

// ReportSource looks a report up by run id, returning nil, nil when absent.
type ReportSource interface {
	GetReport(ctx context.Context, runID string) (*model.Report, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Option configures a Server.
type Option func(*Server)

// WithReports sets the report lookups, tried in order.
func WithReports(sources ...ReportSource) Option {
	return func(s *Server) {
		for _, src := range sources {
			if src != nil {
				s.reports = append(s.reports, src)
			}
		}
	}
}

// WithPinger makes /health check p.
func WithPinger(p Pinger) Option {
	return func(s *Server) { s.pinger = p }
}

// WithUploads sets where uploaded documents are written and the size cap.
func WithUploads(dir string, maxMB int) Option {
	return func(s *Server) {
		s.uploadDir = dir
		if maxMB > 0 {
			s.maxUpload = int64(maxMB) << 20
		}
	}
}

// WithCORSOrigins sets the allowed browser origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithGatherer serves g at /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// FromConfig maps server and jobs config onto options.
func FromConfig(srv config.ServerConfig, jobs config.JobsConfig) []Option {
	return []Option{
		WithUploads(jobs.UploadDir, srv.MaxUploadMB),
		WithCORSOrigins(srv.CORSOrigins),
		WithShutdownTimeout(time.Duration(srv.ShutdownSecs) * time.Second),
	}
}

// Server is the HTTP polling API.
type Server struct {
	jobs            JobManager
	reports         []ReportSource
	pinger          Pinger
	gatherer        prometheus.Gatherer
	uploadDir       string
	maxUpload       int64
	corsOrigins     []string
	shutdownTimeout time.Duration
	validate        *validator.Validate
}

// New creates a Server.
func New(jobs JobManager, opts ...Option) *Server {
	s := &Server{
		jobs:            jobs,
		uploadDir:       "uploads",
		maxUpload:       50 << 20,
		corsOrigins:     []string{"*"},
		shutdownTimeout: 30 * time.Second,
		validate:        validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Post("/", s.handleSubmit)
		r.Post("/upload", s.handleUpload)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetJob)
			r.Delete("/", s.handleCancel)
			r.Get("/status", s.handleStatus)
			r.Get("/result", s.handleResult)
		})
	})
	r.Get("/reports/{run_id}", s.handleReport)
	return r
}

// ListenAndServe serves on port until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("server: listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return eris.Wrap(err, "server: listen")
	case <-ctx.Done():
	}

	zap.L().Info("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server: shutdown")
	}
	return nil
}

// requestLogger logs one line per request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
