// Package jobs runs audits in the background on a fixed pool of workers and
// exposes their state for polling.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stefanos11892/GVD-Engine/internal/audit"
	"github.com/stefanos11892/GVD-Engine/internal/config"
	"github.com/stefanos11892/GVD-Engine/internal/model"
	"github.com/stefanos11892/GVD-Engine/internal/resilience"
)

var (
	// ErrNotFound is returned for ids the manager does not know.
	ErrNotFound = eris.New("job not found")
	// ErrFinished is returned when cancelling a job that already ended.
	ErrFinished = eris.New("job already finished")
	// ErrClosed is returned by Submit after Shutdown.
	ErrClosed = eris.New("job manager is shut down")
	// ErrNotRetryable is returned by Resubmit for permanent or exhausted
	// dead-letter entries.
	ErrNotRetryable = eris.New("dead-letter entry is not retryable")
)

// Runner executes one audit. *audit.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, path string) (*model.Report, error)
}

// Store persists job snapshots and dead-letter entries.
type Store interface {
	SaveJob(ctx context.Context, job *model.Job) error
	// GetJob returns nil, nil when the job is unknown.
	GetJob(ctx context.Context, id string) (*model.Job, error)
	EnqueueDLQ(ctx context.Context, entry *resilience.DLQEntry) error
	RemoveDLQ(ctx context.Context, id string) error
}

// Metrics receives job lifecycle events.
type Metrics interface {
	JobSubmitted()
	JobStarted()
	JobFinished(status model.JobStatus, elapsed time.Duration)
}

// Option configures a Manager.
type Option func(*Manager)

// WithWorkers sets the pool size.
func WithWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithRetention evicts finished jobs from memory once they are older than
// d. Zero keeps them forever.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) { m.retention = d }
}

// WithJanitorInterval sets how often expired jobs are evicted.
func WithJanitorInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.janitorEvery = d
		}
	}
}

// WithStore persists every transition and serves reads for evicted jobs.
func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithMetrics reports lifecycle events.
func WithMetrics(mt Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithRunTimeout bounds each audit. Zero means no limit.
func WithRunTimeout(d time.Duration) Option {
	return func(m *Manager) { m.runTimeout = d }
}

// WithDLQMaxRetries sets the retry budget recorded on new dead-letter
// entries. Resubmit refuses an entry once its budget is spent.
func WithDLQMaxRetries(n int) Option {
	return func(m *Manager) { m.dlqMaxRetries = n }
}

// FromConfig translates the jobs and audit config sections into options.
func FromConfig(jobs config.JobsConfig, auditCfg config.AuditConfig) []Option {
	return []Option{
		WithWorkers(jobs.Workers),
		WithRetention(time.Duration(jobs.RetentionHours) * time.Hour),
		WithDLQMaxRetries(jobs.DLQMaxRetries),
		WithRunTimeout(time.Duration(auditCfg.RunTimeoutMins) * time.Minute),
	}
}

type entry struct {
	job       model.Job
	cancel    context.CancelFunc
	cancelled bool
	redrive   *resilience.DLQEntry // dead-letter entry this job retries
}

// Manager owns the job registry and the worker pool. The registry lock is
// held only while a record is read or mutated, never across a run or a
// store call.
type Manager struct {
	runner        Runner
	workers       int
	retention     time.Duration
	janitorEvery  time.Duration
	store         Store
	metrics       Metrics
	runTimeout    time.Duration
	dlqMaxRetries int
	now           func() time.Time

	mu   sync.RWMutex
	jobs map[string]*entry

	qmu    sync.Mutex
	cond   *sync.Cond
	queue  []string
	closed bool

	baseCtx   context.Context
	stopBase  context.CancelFunc
	stopJan   chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewManager creates a Manager. Call Start to launch the workers.
func NewManager(runner Runner, opts ...Option) *Manager {
	base, stop := context.WithCancel(context.Background())
	m := &Manager{
		runner:        runner,
		workers:       4,
		janitorEvery:  time.Minute,
		dlqMaxRetries: 3,
		now:           time.Now,
		jobs:          make(map[string]*entry),
		baseCtx:       base,
		stopBase:      stop,
		stopJan:       make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.qmu)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the workers and, with a retention set, the janitor.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		for i := 0; i < m.workers; i++ {
			m.wg.Add(1)
			go m.worker(i)
		}
		if m.retention > 0 {
			m.wg.Add(1)
			go m.janitor()
		}
		zap.L().Info("jobs: manager started",
			zap.Int("workers", m.workers),
			zap.Duration("retention", m.retention),
		)
	})
}

// Submit registers a job for path and queues it. It returns immediately.
func (m *Manager) Submit(path string) (string, error) {
	return m.submit(path, nil)
}

// Resubmit queues a new job for a dead-lettered document. If it fails
// again the same entry is updated with a bumped retry count; if it
// completes the entry is removed.
func (m *Manager) Resubmit(dl resilience.DLQEntry) (string, error) {
	if !dl.CanRetry() {
		return "", ErrNotRetryable
	}
	id, err := m.submit(dl.PDFPath, &dl)
	if err != nil {
		return "", err
	}
	zap.L().Info("jobs: resubmitted dead-letter entry",
		zap.String("dlq_id", dl.ID),
		zap.String("job_id", id),
		zap.Int("retry", dl.RetryCount+1),
	)
	return id, nil
}

func (m *Manager) submit(path string, redrive *resilience.DLQEntry) (string, error) {
	now := m.now()
	id := uuid.NewString()
	e := &entry{job: model.Job{
		ID:          id,
		Status:      model.JobStatusQueued,
		PDFPath:     path,
		SubmittedAt: now,
	}, redrive: redrive}
	appendLog(&e.job, now, "queued")
	if redrive != nil {
		appendLog(&e.job, now, "retrying dead-letter entry "+redrive.ID)
	}

	m.qmu.Lock()
	closed := m.closed
	m.qmu.Unlock()
	if closed {
		return "", ErrClosed
	}

	// The QUEUED record is stored before a worker can see the job, so it
	// can never land after PROCESSING or a terminal write.
	m.mu.Lock()
	m.jobs[id] = e
	snap := e.job.Clone()
	m.mu.Unlock()
	m.persist(snap)

	zap.L().Info("jobs: submitted", zap.String("job_id", id), zap.String("pdf_path", path))
	if m.metrics != nil {
		m.metrics.JobSubmitted()
	}

	m.qmu.Lock()
	if m.closed {
		m.qmu.Unlock()
		m.finish(id, nil, eris.New("job manager shut down before the job started"), 0)
		return id, nil
	}
	m.queue = append(m.queue, id)
	m.cond.Signal()
	m.qmu.Unlock()
	return id, nil
}

// Status returns the job's status, or UNKNOWN.
func (m *Manager) Status(ctx context.Context, id string) model.JobStatus {
	job, ok := m.Get(ctx, id)
	if !ok {
		return model.JobStatusUnknown
	}
	return job.Status
}

// Get returns a copy of the job. Evicted jobs are read from the store.
func (m *Manager) Get(ctx context.Context, id string) (model.Job, bool) {
	m.mu.RLock()
	e, ok := m.jobs[id]
	var snap model.Job
	if ok {
		snap = e.job.Clone()
	}
	m.mu.RUnlock()
	if ok {
		return snap, true
	}

	if m.store == nil {
		return model.Job{}, false
	}
	stored, err := m.store.GetJob(ctx, id)
	if err != nil {
		zap.L().Warn("jobs: store lookup failed", zap.String("job_id", id), zap.Error(err))
		return model.Job{}, false
	}
	if stored == nil {
		return model.Job{}, false
	}
	return stored.Clone(), true
}

// Result returns the report of a COMPLETED job, or nil.
func (m *Manager) Result(ctx context.Context, id string) *model.Report {
	job, ok := m.Get(ctx, id)
	if !ok || job.Status != model.JobStatusCompleted {
		return nil
	}
	return job.Result
}

// List returns copies of the jobs in memory, newest first.
func (m *Manager) List() []model.Job {
	m.mu.RLock()
	out := make([]model.Job, 0, len(m.jobs))
	for _, e := range m.jobs {
		out = append(out, e.job.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}

// Cancel stops a job. A queued job fails immediately; a running job has
// its context cancelled and fails when the run returns.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	e, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if e.job.Status.Terminal() {
		m.mu.Unlock()
		return ErrFinished
	}

	if e.job.Status == model.JobStatusQueued {
		now := m.now()
		advance(&e.job, model.JobStatusFailed, now)
		e.job.Error = "cancelled before start"
		e.job.FinishedAt = &now
		appendLog(&e.job, now, "cancelled")
		snap := e.job.Clone()
		m.mu.Unlock()

		zap.L().Info("jobs: cancelled queued job", zap.String("job_id", id))
		m.persist(snap)
		if m.metrics != nil {
			m.metrics.JobFinished(model.JobStatusFailed, 0)
		}
		return nil
	}

	e.cancelled = true
	cancel := e.cancel
	appendLog(&e.job, m.now(), "cancellation requested")
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	zap.L().Info("jobs: cancelling running job", zap.String("job_id", id))
	return nil
}

// Shutdown stops accepting jobs, fails the ones still queued and waits for
// running ones. When ctx expires first, running jobs are cancelled and
// ctx's error is returned once they have stopped.
func (m *Manager) Shutdown(ctx context.Context) error {
	var pending []string
	m.stopOnce.Do(func() {
		m.qmu.Lock()
		m.closed = true
		pending = m.queue
		m.queue = nil
		m.cond.Broadcast()
		m.qmu.Unlock()
		close(m.stopJan)
	})

	for _, id := range pending {
		m.finish(id, nil, eris.New("job manager shut down before the job started"), 0)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.stopBase()
		zap.L().Info("jobs: manager stopped")
		return nil
	case <-ctx.Done():
		zap.L().Warn("jobs: shutdown deadline reached, cancelling running jobs")
		m.stopBase()
		<-done
		return ctx.Err()
	}
}

func (m *Manager) worker(n int) {
	defer m.wg.Done()
	log := zap.L().With(zap.Int("worker", n))
	for {
		id, ok := m.next()
		if !ok {
			log.Debug("jobs: worker exiting")
			return
		}
		m.process(id)
	}
}

// next blocks until a job is queued or the manager closes.
func (m *Manager) next() (string, bool) {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	for len(m.queue) == 0 && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		return "", false
	}
	id := m.queue[0]
	m.queue[0] = ""
	m.queue = m.queue[1:]
	return id, true
}

func (m *Manager) process(id string) {
	ctx, cancel := context.WithCancel(m.baseCtx)
	defer cancel()
	if m.runTimeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, m.runTimeout)
		defer stop()
	}

	m.mu.Lock()
	e, ok := m.jobs[id]
	if !ok || e.job.Status != model.JobStatusQueued {
		m.mu.Unlock()
		return
	}
	now := m.now()
	advance(&e.job, model.JobStatusProcessing, now)
	e.job.StartedAt = &now
	e.cancel = cancel
	appendLog(&e.job, now, "processing")
	path := e.job.PDFPath
	snap := e.job.Clone()
	m.mu.Unlock()

	log := zap.L().With(zap.String("job_id", id), zap.String("pdf_path", path))
	log.Info("jobs: processing")
	m.persist(snap)
	if m.metrics != nil {
		m.metrics.JobStarted()
	}

	start := time.Now()
	report, err := m.run(audit.WithJobID(ctx, id), path)
	m.finish(id, report, err, time.Since(start))
}

// run executes the runner, turning a missing document or a panic into an
// error.
func (m *Manager) run(ctx context.Context, path string) (report *model.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("jobs: audit panicked: %v", r)
		}
	}()

	if _, statErr := os.Stat(path); statErr != nil {
		return nil, &audit.StepError{
			Step: audit.StepParse,
			Err:  eris.Wrapf(statErr, "document not found: %s", path),
		}
	}
	return m.runner.Run(ctx, path)
}

// finish moves a job to its terminal state. Status and result are set in
// one critical section so readers never see COMPLETED without a report.
func (m *Manager) finish(id string, report *model.Report, runErr error, elapsed time.Duration) {
	m.mu.Lock()
	e, ok := m.jobs[id]
	if !ok || e.job.Status.Terminal() {
		m.mu.Unlock()
		return
	}

	now := m.now()
	if runErr == nil && report == nil {
		runErr = eris.New("audit returned no report")
	}
	if e.cancelled && runErr == nil {
		runErr = context.Canceled
	}

	var step string
	if runErr != nil {
		var stepErr *audit.StepError
		if errors.As(runErr, &stepErr) {
			step = stepErr.Step
		}
		advance(&e.job, model.JobStatusFailed, now)
		e.job.Error = runErr.Error()
		if e.cancelled {
			e.job.Error = "cancelled: " + runErr.Error()
		}
		e.job.Step = step
		appendLog(&e.job, now, "failed: "+e.job.Error)
	} else {
		e.job.Result = report
		advance(&e.job, model.JobStatusCompleted, now)
		appendLog(&e.job, now, "completed")
	}
	e.job.FinishedAt = &now
	e.cancel = nil
	redrive := e.redrive
	started := e.job.StartedAt != nil
	snap := e.job.Clone()
	m.mu.Unlock()

	log := zap.L().With(zap.String("job_id", id), zap.Duration("elapsed", elapsed))
	if runErr != nil {
		log.Error("jobs: failed", zap.String("step", step), zap.Error(runErr))
	} else {
		log.Info("jobs: completed", zap.String("run_id", report.RunID))
	}

	m.persist(snap)
	switch {
	case runErr != nil && redrive != nil && !started:
		// A retry that never ran leaves its entry as it was.
	case runErr != nil:
		m.deadLetter(snap, runErr, redrive)
	case redrive != nil:
		m.clearDeadLetter(redrive.ID, id)
	}
	if m.metrics != nil {
		m.metrics.JobFinished(snap.Status, elapsed)
	}
}

// advance moves job to status if that is a step forward. Regressions and
// repeats are ignored.
func advance(job *model.Job, to model.JobStatus, at time.Time) bool {
	if to.Rank() <= job.Status.Rank() {
		zap.L().Warn("jobs: refused status regression",
			zap.String("job_id", job.ID),
			zap.String("from", string(job.Status)),
			zap.String("to", string(to)),
			zap.Time("at", at),
		)
		return false
	}
	job.Status = to
	return true
}

func appendLog(job *model.Job, at time.Time, msg string) {
	job.Logs = append(job.Logs, fmt.Sprintf("%s %s", at.UTC().Format(time.RFC3339), msg))
}

func (m *Manager) persist(job model.Job) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.store.SaveJob(ctx, &job); err != nil {
		zap.L().Warn("jobs: persist failed",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
			zap.Error(err),
		)
	}
}

// deadLetter records a failed job. A failed retry updates the entry it
// came from instead of adding a new one.
func (m *Manager) deadLetter(job model.Job, runErr error, prev *resilience.DLQEntry) {
	if m.store == nil {
		return
	}
	now := m.now()
	entry := &resilience.DLQEntry{
		ID:         uuid.NewString(),
		MaxRetries: m.dlqMaxRetries,
		CreatedAt:  now,
	}
	if prev != nil {
		entry.ID = prev.ID
		entry.MaxRetries = prev.MaxRetries
		entry.CreatedAt = prev.CreatedAt
		entry.RetryCount = prev.RetryCount + 1
	}
	entry.JobID = job.ID
	entry.PDFPath = job.PDFPath
	entry.Error = runErr.Error()
	entry.ErrorType = resilience.ClassifyError(runErr)
	entry.FailedStep = job.Step
	entry.LastFailedAt = now
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.store.EnqueueDLQ(ctx, entry); err != nil {
		zap.L().Warn("jobs: dead-letter failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (m *Manager) clearDeadLetter(dlqID, jobID string) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.store.RemoveDLQ(ctx, dlqID); err != nil {
		zap.L().Warn("jobs: clear dead-letter failed",
			zap.String("dlq_id", dlqID),
			zap.String("job_id", jobID),
			zap.Error(err),
		)
		return
	}
	zap.L().Info("jobs: dead-letter entry recovered", zap.String("dlq_id", dlqID), zap.String("job_id", jobID))
}

func (m *Manager) janitor() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.janitorEvery)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopJan:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

// evictExpired drops finished jobs older than the retention window.
func (m *Manager) evictExpired() int {
	if m.retention <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.retention)

	m.mu.Lock()
	var evicted int
	for id, e := range m.jobs {
		if e.job.Status.Terminal() && e.job.FinishedAt != nil && e.job.FinishedAt.Before(cutoff) {
			delete(m.jobs, id)
			evicted++
		}
	}
	m.mu.Unlock()

	if evicted > 0 {
		zap.L().Info("jobs: evicted expired jobs", zap.Int("count", evicted))
	}
	return evicted
}
