package report

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stefanos11892/GVD-Engine/internal/model"
)

// LatestFile is rewritten with the most recent report of a FileSink.
const LatestFile = "verification_log.json"

var runIDPattern = regexp.MustCompile(`^[0-9A-Za-z_-]+$`)

// Sink persists a finished report.
type Sink interface {
	Save(ctx context.Context, r *model.Report) error
}

// FileSink writes reports as indented JSON files under a directory.
type FileSink struct {
	dir string
}

// NewFileSink creates a FileSink rooted at dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// Dir returns the sink's directory.
func (s *FileSink) Dir() string { return s.dir }

// Save writes <dir>/<run_id>.json and replaces <dir>/verification_log.json.
func (s *FileSink) Save(_ context.Context, r *model.Report) error {
	if !runIDPattern.MatchString(r.RunID) {
		return eris.Errorf("report: invalid run id %q", r.RunID)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return eris.Wrapf(err, "report: create dir %s", s.dir)
	}

	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return eris.Wrap(err, "report: marshal")
	}

	for _, name := range []string{r.RunID + ".json", LatestFile} {
		if err := writeAtomic(filepath.Join(s.dir, name), b); err != nil {
			return err
		}
	}
	zap.L().Info("report: saved",
		zap.String("run_id", r.RunID),
		zap.String("dir", s.dir),
	)
	return nil
}

// Load reads the report written for runID.
func (s *FileSink) Load(runID string) (*model.Report, error) {
	if !runIDPattern.MatchString(runID) {
		return nil, eris.Errorf("report: invalid run id %q", runID)
	}
	b, err := os.ReadFile(filepath.Join(s.dir, runID+".json"))
	if err != nil {
		return nil, eris.Wrapf(err, "report: read %s", runID)
	}
	var r model.Report
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, eris.Wrapf(err, "report: decode %s", runID)
	}
	return &r, nil
}

// GetReport is Load for lookups: a report that was never written returns
// nil, nil.
func (s *FileSink) GetReport(_ context.Context, runID string) (*model.Report, error) {
	r, err := s.Load(runID)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return r, err
}

// ValidRunID reports whether id is safe to use as a report file name.
func ValidRunID(id string) bool {
	return runIDPattern.MatchString(id)
}

func writeAtomic(path string, b []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*")
	if err != nil {
		return eris.Wrap(err, "report: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return eris.Wrapf(err, "report: write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "report: close %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "report: rename to %s", path)
	}
	return nil
}

// ReportSaver is the subset of store.Store a StoreSink needs.
type ReportSaver interface {
	SaveReport(ctx context.Context, r *model.Report) error
}

// StoreSink persists reports to a store.
type StoreSink struct {
	store ReportSaver
}

// NewStoreSink adapts st to a Sink.
func NewStoreSink(st ReportSaver) *StoreSink {
	return &StoreSink{store: st}
}

// Save stores r.
func (s *StoreSink) Save(ctx context.Context, r *model.Report) error {
	if err := s.store.SaveReport(ctx, r); err != nil {
		return eris.Wrapf(err, "report: store %s", r.RunID)
	}
	return nil
}

type tee []Sink

// Tee returns a Sink that saves to every non-nil sink in order. All sinks
// are attempted; their errors are joined.
func Tee(sinks ...Sink) Sink {
	var t tee
	for _, s := range sinks {
		if s != nil {
			t = append(t, s)
		}
	}
	return t
}

func (t tee) Save(ctx context.Context, r *model.Report) error {
	var errs []error
	for _, s := range t {
		if err := s.Save(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
