package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stefanos11892/GVD-Engine/internal/jobs"
	"github.com/stefanos11892/GVD-Engine/internal/model"
	"github.com/stefanos11892/GVD-Engine/internal/report"
	"github.com/stefanos11892/GVD-Engine/internal/resilience"
	"github.com/stefanos11892/GVD-Engine/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect job history, reports and the dead-letter queue",
	Long:  "Commands for listing jobs, viewing a job with its phases, summarizing outcomes, reading stored reports and managing dead-lettered documents.",
}

// openHistory opens the store for read commands. Driver "none" keeps no
// history, so there is nothing to inspect.
func openHistory(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.New("store driver is \"none\"; job history is not persisted")
	}
	return st, nil
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openHistory(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		list, err := st.ListJobs(ctx, store.JobFilter{
			Status: model.JobStatus(status),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}

		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(os.Stdout, list)
		return nil
	},
}

// -- jobs show --

// jobDetail is a job with its recorded phases.
type jobDetail struct {
	Job    *model.Job       `json:"job"`
	Phases []model.RunPhase `json:"phases,omitempty"`
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show full details of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openHistory(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs show")
		}
		if job == nil {
			return eris.Errorf("jobs show: job %s not found", args[0])
		}

		phases, err := st.ListPhases(ctx, job.ID)
		if err != nil {
			return eris.Wrap(err, "jobs show: phases")
		}

		format, _ := cmd.Flags().GetString("format")
		return writeOutput(os.Stdout, format, jobDetail{Job: job, Phases: phases})
	},
}

// -- jobs stats --

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate job statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openHistory(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		list, err := st.ListJobs(ctx, store.JobFilter{Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "jobs stats")
		}

		var cutoff time.Time
		if since > 0 {
			cutoff = time.Now().Add(-since)
		}
		formatJobStats(os.Stdout, computeJobStats(list, cutoff))
		return nil
	},
}

// -- jobs report --

var jobsReportCmd = &cobra.Command{
	Use:   "report <run-id>",
	Short: "Print a stored audit report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		runID := args[0]
		if !report.ValidRunID(runID) {
			return eris.Errorf("jobs report: invalid run id %q", runID)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		rep, err := findReport(ctx, runID, st, report.NewFileSink(cfg.Audit.ReportDir))
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		return writeOutput(os.Stdout, format, rep)
	},
}

// reportLookup finds a report by run id, returning nil, nil when absent.
type reportLookup interface {
	GetReport(ctx context.Context, runID string) (*model.Report, error)
}

// findReport tries each source in order. Nil sources are skipped.
func findReport(ctx context.Context, runID string, sources ...reportLookup) (*model.Report, error) {
	for _, src := range sources {
		if src == nil {
			continue
		}
		rep, err := src.GetReport(ctx, runID)
		if err != nil {
			return nil, eris.Wrapf(err, "jobs report: %s", runID)
		}
		if rep != nil {
			return rep, nil
		}
	}
	return nil, eris.Errorf("jobs report: run %s not found", runID)
}

// -- jobs dlq --

var jobsDLQCmd = &cobra.Command{
	Use:   "dlq",
	Short: "List, remove or retry dead-lettered documents",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		errType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")
		filter := resilience.DLQFilter{ErrorType: errType, Limit: limit}

		if retry, _ := cmd.Flags().GetBool("retry"); retry {
			return retryDLQ(ctx, filter)
		}

		st, err := openHistory(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if id, _ := cmd.Flags().GetString("remove"); id != "" {
			if err := st.RemoveDLQ(ctx, id); err != nil {
				return eris.Wrap(err, "jobs dlq")
			}
			fmt.Fprintf(os.Stderr, "Removed %s.\n", id)
			return nil
		}

		entries, err := st.ListDLQ(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "jobs dlq")
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Dead-letter queue is empty.")
			return nil
		}

		formatDLQ(os.Stdout, entries)
		return nil
	},
}

// retryDLQ re-runs the retryable entries matching filter through a local
// job manager and waits for them.
func retryDLQ(ctx context.Context, filter resilience.DLQFilter) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := initAudit(ctx)
	if err != nil {
		return err
	}
	defer env.Close()
	if env.Store == nil {
		return eris.New("store driver is \"none\"; no dead-letter queue to retry")
	}

	entries, err := env.Store.ListDLQ(ctx, filter)
	if err != nil {
		return eris.Wrap(err, "jobs dlq")
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "Dead-letter queue is empty.")
		return nil
	}

	mgr := jobs.NewManager(env.Orchestrator, env.jobOptions()...)
	mgr.Start()
	results := redrive(ctx, mgr, entries, 500*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSecs)*time.Second)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("job manager shutdown", zap.Error(err))
	}

	formatRedrive(os.Stdout, results)

	var failed int
	for _, r := range results {
		if r.JobID != "" && r.Status != model.JobStatusCompleted {
			failed++
		}
	}
	if failed > 0 {
		return eris.Errorf("jobs dlq: %d retried documents failed again", failed)
	}
	return nil
}

// redriver is the part of jobs.Manager a dead-letter retry uses.
type redriver interface {
	Resubmit(dl resilience.DLQEntry) (string, error)
	Status(ctx context.Context, id string) model.JobStatus
}

// redriveResult is the outcome of retrying one entry. JobID is empty when
// the entry was skipped.
type redriveResult struct {
	Entry  resilience.DLQEntry
	JobID  string
	Status model.JobStatus
	Note   string
}

// redrive resubmits every retryable entry and polls until each job ends
// or ctx is done. Results follow the order of entries.
func redrive(ctx context.Context, r redriver, entries []resilience.DLQEntry, poll time.Duration) []redriveResult {
	results := make([]redriveResult, len(entries))
	pending := 0
	for i, e := range entries {
		results[i].Entry = e
		id, err := r.Resubmit(e)
		if err != nil {
			results[i].Note = err.Error()
			continue
		}
		results[i].JobID = id
		results[i].Status = model.JobStatusQueued
		pending++
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for pending > 0 {
		for i := range results {
			if results[i].JobID == "" || results[i].Status.Terminal() {
				continue
			}
			results[i].Status = r.Status(ctx, results[i].JobID)
			if results[i].Status.Terminal() {
				pending--
			}
		}
		if pending == 0 {
			break
		}
		select {
		case <-ctx.Done():
			for i := range results {
				if results[i].JobID != "" && !results[i].Status.Terminal() {
					results[i].Note = "interrupted"
				}
			}
			return results
		case <-ticker.C:
		}
	}
	return results
}

// formatRedrive writes one line per retried or skipped entry.
func formatRedrive(out io.Writer, results []redriveResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DLQ\tPDF\tRETRY\tJOB\tSTATUS\tNOTE")
	_, _ = fmt.Fprintln(w, "---\t---\t-----\t---\t------\t----")
	for _, r := range results {
		job, status := "-", "SKIPPED"
		if r.JobID != "" {
			job, status = truncateID(r.JobID), string(r.Status)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\t%s\n",
			truncateID(r.Entry.ID),
			r.Entry.PDFPath,
			r.Entry.RetryCount+1,
			r.Entry.MaxRetries,
			job,
			status,
			r.Note,
		)
	}
	_ = w.Flush()
}

func init() {
	jobsListCmd.Flags().String("status", "", "filter by status (QUEUED, PROCESSING, COMPLETED, FAILED)")
	jobsListCmd.Flags().Int("limit", 50, "max number of jobs to display")
	jobsListCmd.Flags().Int("offset", 0, "number of jobs to skip")

	jobsShowCmd.Flags().String("format", "json", "output format: json or yaml")
	jobsReportCmd.Flags().String("format", "json", "output format: json or yaml")

	jobsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 168h); 0 for all")

	jobsDLQCmd.Flags().String("type", "", "filter by error type (transient, permanent)")
	jobsDLQCmd.Flags().Int("limit", 50, "max number of entries to display")
	jobsDLQCmd.Flags().String("remove", "", "remove the entry with this id")
	jobsDLQCmd.Flags().Bool("retry", false, "re-run retryable entries and wait for them to finish")
	jobsDLQCmd.MarkFlagsMutuallyExclusive("retry", "remove")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsStatsCmd)
	jobsCmd.AddCommand(jobsReportCmd)
	jobsCmd.AddCommand(jobsDLQCmd)
	rootCmd.AddCommand(jobsCmd)
}

// jobStats holds aggregate statistics computed from a set of jobs.
type jobStats struct {
	Total      int
	Completed  int
	Failed     int
	Pending    int
	Steps      map[string]int
	AvgDurSecs float64
}

// computeJobStats aggregates jobs submitted at or after cutoff. A zero
// cutoff includes every job.
func computeJobStats(list []model.Job, cutoff time.Time) jobStats {
	s := jobStats{Steps: make(map[string]int)}

	var totalDur time.Duration
	var durCount int

	for _, j := range list {
		if !cutoff.IsZero() && j.SubmittedAt.Before(cutoff) {
			continue
		}
		s.Total++
		switch j.Status {
		case model.JobStatusCompleted:
			s.Completed++
			if j.StartedAt != nil && j.FinishedAt != nil {
				totalDur += j.FinishedAt.Sub(*j.StartedAt)
				durCount++
			}
		case model.JobStatusFailed:
			s.Failed++
			step := j.Step
			if step == "" {
				step = "unknown"
			}
			s.Steps[step]++
		default:
			s.Pending++
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatJobsList writes a tabular list of jobs to w.
func formatJobsList(out io.Writer, list []model.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPDF\tSTATUS\tSTEP\tSUBMITTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t---\t------\t----\t---------\t--------")

	for _, j := range list {
		dur := ""
		if j.StartedAt != nil && j.FinishedAt != nil {
			dur = j.FinishedAt.Sub(*j.StartedAt).Round(time.Second).String()
		}

		pdf := j.PDFPath
		if len(pdf) > 40 {
			pdf = "..." + pdf[len(pdf)-37:]
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(j.ID),
			pdf,
			j.Status,
			j.Step,
			j.SubmittedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatJobStats writes aggregate stats to w.
func formatJobStats(out io.Writer, s jobStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total jobs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Completed:\t%d\n", s.Completed)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	for _, step := range slices.Sorted(maps.Keys(s.Steps)) {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", step, s.Steps[step])
	}
	_, _ = fmt.Fprintf(w, "Pending:\t%d\n", s.Pending)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

// formatDLQ writes a tabular list of dead-letter entries to w.
func formatDLQ(out io.Writer, entries []resilience.DLQEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tJOB\tPDF\tTYPE\tSTEP\tRETRIES\tFAILED\tERROR")
	_, _ = fmt.Fprintln(w, "--\t---\t---\t----\t----\t-------\t------\t-----")

	for _, e := range entries {
		msg := e.Error
		if len(msg) > 60 {
			msg = msg[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			truncateID(e.ID),
			truncateID(e.JobID),
			e.PDFPath,
			e.ErrorType,
			e.FailedStep,
			e.RetryCount,
			e.MaxRetries,
			e.LastFailedAt.Format("2006-01-02 15:04"),
			msg,
		)
	}
	_ = w.Flush()
}
