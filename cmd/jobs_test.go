package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefanos11892/GVD-Engine/internal/config"
	"github.com/stefanos11892/GVD-Engine/internal/jobs"
	"github.com/stefanos11892/GVD-Engine/internal/model"
	"github.com/stefanos11892/GVD-Engine/internal/resilience"
	"github.com/stefanos11892/GVD-Engine/internal/store"
)

func useSQLite(t *testing.T) {
	t.Helper()
	cfg = &config.Config{
		Store: config.StoreConfig{
			Driver:     "sqlite",
			SQLitePath: filepath.Join(t.TempDir(), "gvd.db"),
		},
	}
}

func TestInitStore_SQLite(t *testing.T) {
	useSQLite(t)
	ctx := context.Background()

	st, err := initStore(ctx)
	require.NoError(t, err)
	require.NotNil(t, st)
	defer st.Close() //nolint:errcheck

	require.NoError(t, st.Ping(ctx))
}

func TestInitStore_None(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Driver: "none"}}

	st, err := initStore(context.Background())
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = openHistory(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not persisted")
}

func TestInitStore_UnknownDriver(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Driver: "mysql"}}

	st, err := initStore(context.Background())
	assert.Nil(t, st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestOpenHistory_ListsSavedJobs(t *testing.T) {
	useSQLite(t)
	ctx := context.Background()

	st, err := openHistory(ctx)
	require.NoError(t, err)
	require.NoError(t, st.SaveJob(ctx, &model.Job{
		ID:          "job-1",
		Status:      model.JobStatusQueued,
		PDFPath:     "/data/q3.pdf",
		SubmittedAt: time.Now().UTC(),
	}))
	require.NoError(t, st.Close())

	st, err = openHistory(ctx)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	list, err := st.ListJobs(ctx, store.JobFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "/data/q3.pdf", list[0].PDFPath)
}

func TestComputeJobStats(t *testing.T) {
	now := time.Now()
	started := now.Add(-10 * time.Second)
	finished := now

	list := []model.Job{
		{ID: "1", Status: model.JobStatusCompleted, SubmittedAt: now, StartedAt: &started, FinishedAt: &finished},
		{ID: "2", Status: model.JobStatusFailed, Step: "parse", SubmittedAt: now},
		{ID: "3", Status: model.JobStatusFailed, SubmittedAt: now},
		{ID: "4", Status: model.JobStatusProcessing, SubmittedAt: now},
		{ID: "5", Status: model.JobStatusCompleted, SubmittedAt: now.Add(-48 * time.Hour)},
	}

	s := computeJobStats(list, now.Add(-24*time.Hour))
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, 1, s.Pending)
	assert.Equal(t, map[string]int{"parse": 1, "unknown": 1}, s.Steps)
	assert.InDelta(t, 10.0, s.AvgDurSecs, 0.01)

	all := computeJobStats(list, time.Time{})
	assert.Equal(t, 5, all.Total)
}

func TestFormatJobStats(t *testing.T) {
	var buf bytes.Buffer
	formatJobStats(&buf, jobStats{Total: 3, Completed: 1, Failed: 2, Steps: map[string]int{"parse": 2}, AvgDurSecs: 4.5})
	out := buf.String()
	assert.Contains(t, out, "Total jobs:")
	assert.Contains(t, out, "parse:")
	assert.Contains(t, out, "4.5s")
}

func TestFormatJobsList(t *testing.T) {
	var buf bytes.Buffer
	formatJobsList(&buf, []model.Job{{
		ID:          "0123456789abcdef",
		Status:      model.JobStatusFailed,
		Step:        "quant_extraction",
		PDFPath:     "/very/long/path/to/some/deeply/nested/annual/report/2024.pdf",
		SubmittedAt: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
	}})
	out := buf.String()
	assert.Contains(t, out, "01234567")
	assert.NotContains(t, out, "0123456789abcdef")
	assert.Contains(t, out, "quant_extraction")
	assert.Contains(t, out, "2024-03-01 09:30")
	assert.Contains(t, out, "...")
}

func TestFormatDLQ(t *testing.T) {
	var buf bytes.Buffer
	formatDLQ(&buf, []resilience.DLQEntry{{
		ID:           "dlq-0000000001",
		JobID:        "job-0000000001",
		PDFPath:      "q3.pdf",
		Error:        "llm: rate limited",
		ErrorType:    "transient",
		FailedStep:   "quant_extraction",
		RetryCount:   1,
		MaxRetries:   3,
		LastFailedAt: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
	}})
	out := buf.String()
	assert.Contains(t, out, "transient")
	assert.Contains(t, out, "1/3")
	assert.Contains(t, out, "llm: rate limited")
}

type fakeLookup struct {
	rep *model.Report
	err error
}

func (f fakeLookup) GetReport(context.Context, string) (*model.Report, error) {
	return f.rep, f.err
}

func TestFindReport(t *testing.T) {
	ctx := context.Background()
	want := &model.Report{RunID: "20240301_093000_abcd1234"}

	rep, err := findReport(ctx, want.RunID, nil, fakeLookup{}, fakeLookup{rep: want})
	require.NoError(t, err)
	assert.Same(t, want, rep)

	_, err = findReport(ctx, want.RunID, fakeLookup{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	_, err = findReport(ctx, want.RunID, fakeLookup{err: errors.New("disk")}, fakeLookup{rep: want})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk")
}

func writePDF(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4"), 0o644))
	return p
}

func TestRedrive_RetriesThroughManager(t *testing.T) {
	useSQLite(t)
	ctx := context.Background()
	st, err := initStore(ctx)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	dir := t.TempDir()
	okPath := writePDF(t, dir, "ok.pdf")
	badPath := writePDF(t, dir, "bad.pdf")

	entries := []*resilience.DLQEntry{
		{ID: "dlq-ok", JobID: "j1", PDFPath: okPath, Error: "timeout", ErrorType: "transient", MaxRetries: 3},
		{ID: "dlq-bad", JobID: "j2", PDFPath: badPath, Error: "timeout", ErrorType: "transient", RetryCount: 1, MaxRetries: 3},
		{ID: "dlq-perm", JobID: "j3", PDFPath: okPath, Error: "not a pdf", ErrorType: "permanent", MaxRetries: 3},
	}
	var listed []resilience.DLQEntry
	for _, e := range entries {
		require.NoError(t, st.EnqueueDLQ(ctx, e))
		listed = append(listed, *e)
	}

	r := &fakeRunner{fail: map[string]error{
		badPath: resilience.NewTransientError(errors.New("503 Service Unavailable"), 503),
	}}
	mgr := jobs.NewManager(r, jobs.WithStore(st))
	mgr.Start()
	defer mgr.Shutdown(ctx) //nolint:errcheck

	results := redrive(ctx, mgr, listed, 5*time.Millisecond)
	require.Len(t, results, 3)
	assert.Equal(t, model.JobStatusCompleted, results[0].Status)
	assert.Equal(t, model.JobStatusFailed, results[1].Status)
	assert.Empty(t, results[2].JobID, "permanent entries are not retried")
	assert.Contains(t, results[2].Note, "not retryable")

	require.Eventually(t, func() bool {
		left, err := st.ListDLQ(ctx, resilience.DLQFilter{ErrorType: "transient"})
		return err == nil && len(left) == 1 && left[0].RetryCount == 2
	}, 2*time.Second, 10*time.Millisecond)

	left, err := st.ListDLQ(ctx, resilience.DLQFilter{ErrorType: "transient"})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "dlq-bad", left[0].ID)
	assert.Equal(t, 2, left[0].RetryCount)
	assert.Equal(t, results[1].JobID, left[0].JobID)

	var buf bytes.Buffer
	formatRedrive(&buf, results)
	out := buf.String()
	assert.Contains(t, out, "SKIPPED")
	assert.Contains(t, out, "2/3")
	assert.Contains(t, out, string(model.JobStatusCompleted))
}

func TestRedrive_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stuck := stuckRedriver{}
	results := redrive(ctx, stuck, []resilience.DLQEntry{{ID: "d", ErrorType: "transient", MaxRetries: 1}}, time.Hour)
	require.Len(t, results, 1)
	assert.Equal(t, "job-stuck", results[0].JobID)
	assert.Equal(t, "interrupted", results[0].Note)
}

type stuckRedriver struct{}

func (stuckRedriver) Resubmit(resilience.DLQEntry) (string, error) { return "job-stuck", nil }
func (stuckRedriver) Status(context.Context, string) model.JobStatus {
	return model.JobStatusProcessing
}
