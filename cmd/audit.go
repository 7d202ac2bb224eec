package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stefanos11892/GVD-Engine/internal/audit"
	"github.com/stefanos11892/GVD-Engine/internal/model"
)

var auditCmd = &cobra.Command{
	Use:   "audit <pdf>...",
	Short: "Audit one or more PDFs synchronously",
	Long:  "Runs the full verification and recovery pipeline on each PDF and prints the reports. Reports are also written to the report dir and store.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		format, _ := cmd.Flags().GetString("format")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency <= 0 {
			concurrency = cfg.Audit.BatchConcurrency
		}

		env, err := initAudit(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		results := runBatch(ctx, env.Orchestrator, args, concurrency)

		var reports []*model.Report
		var failed int
		for _, r := range results {
			if r.Err != nil {
				failed++
				continue
			}
			reports = append(reports, r.Report)
		}

		if format == "summary" {
			formatBatchSummary(os.Stdout, results)
		} else if len(reports) > 0 {
			var out any = reports
			if len(reports) == 1 {
				out = reports[0]
			}
			if err := writeOutput(os.Stdout, format, out); err != nil {
				return err
			}
		}

		if failed > 0 {
			return eris.Errorf("audit: %d of %d documents failed", failed, len(results))
		}
		return nil
	},
}

// runner is the part of the orchestrator the batch needs.
type runner interface {
	Run(ctx context.Context, path string) (*model.Report, error)
}

// batchResult is the outcome for one input PDF.
type batchResult struct {
	Path   string
	Report *model.Report
	Err    error
}

// runBatch audits paths with at most limit runs in flight. Results keep
// the input order; a failed document does not stop the others.
func runBatch(ctx context.Context, r runner, paths []string, limit int) []batchResult {
	results := make([]batchResult, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, path := range paths {
		g.Go(func() error {
			results[i].Path = path
			rep, err := r.Run(gctx, path)
			if err != nil {
				zap.L().Error("audit failed",
					zap.String("pdf_path", path),
					zap.String("step", failedStep(err)),
					zap.Error(err),
				)
				results[i].Err = err
				return nil
			}
			zap.L().Info("audit complete",
				zap.String("pdf_path", path),
				zap.String("run_id", rep.RunID),
			)
			results[i].Report = rep
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// failedStep names the pipeline step behind err, if known.
func failedStep(err error) string {
	var se *audit.StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}

// formatBatchSummary writes one row per document to w.
func formatBatchSummary(out io.Writer, results []batchResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PDF\tRUN_ID\tTOTAL\tVERIFIED\tRECOVERED\tFLAGGED\tINTERVENTION\tERROR")
	_, _ = fmt.Fprintln(w, "---\t------\t-----\t--------\t---------\t-------\t------------\t-----")

	for _, r := range results {
		if r.Err != nil {
			_, _ = fmt.Fprintf(w, "%s\t\t\t\t\t\t\t%s\n", r.Path, r.Err.Error())
			continue
		}
		s := r.Report.Summarize()
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t\n",
			r.Path,
			r.Report.RunID,
			s.Total,
			s.Verified,
			s.Recovered,
			s.Flagged,
			s.InterventionRequired,
		)
	}
	_ = w.Flush()
}

func init() {
	auditCmd.Flags().String("format", "json", "output format: json, yaml or summary")
	auditCmd.Flags().Int("concurrency", 0, "documents audited at once (default from config)")
	rootCmd.AddCommand(auditCmd)
}
