// Package coordinate checks a claimed value against the text physically
// printed inside a bounding box of the source PDF.
package coordinate

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/stefanos11892/GVD-Engine/internal/model"
	"github.com/stefanos11892/GVD-Engine/internal/pdftext"
)

// Result is the outcome of one coordinate check. Error is set instead of
// returning a Go error so callers can treat every outcome uniformly.
type Result struct {
	Match           bool   `json:"match"`
	GroundTruthText string `json:"ground_truth_text"`
	ClaimedText     string `json:"claimed_text"`
	Page            int    `json:"page"`
	Error           string `json:"error,omitempty"`
}

// Verifier compares claims against document text. It keeps at most one
// document open, keyed by path, and closes it when a different path is
// requested or Close is called. Calls are serialized.
type Verifier struct {
	opener pdftext.Opener

	mu   sync.Mutex
	doc  pdftext.Document
	path string
}

// New creates a Verifier that opens documents through opener.
func New(opener pdftext.Opener) *Verifier {
	return &Verifier{opener: opener}
}

// Verify extracts the text under bbox on page and compares it to claimed.
// Matching is case-insensitive two-way containment: the claim may sit
// inside surrounding boilerplate, or the box may clip part of the claim.
// Short claims can therefore match unrelated text (e.g. "10" inside a date),
// and a box holding no glyphs matches every claim because the empty ground
// truth is contained in any string.
func (v *Verifier) Verify(ctx context.Context, path string, page int, bbox model.BBox, claimed string) Result {
	res := Result{ClaimedText: claimed, Page: page}

	v.mu.Lock()
	defer v.mu.Unlock()

	doc, err := v.document(ctx, path)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	if page < 1 || page > doc.PageCount() {
		res.Error = pdftext.OutOfBounds(page, doc.PageCount())
		return res
	}

	pg, err := doc.Page(ctx, page)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.GroundTruthText = pg.TextIn(bbox)
	res.Match = Matches(res.GroundTruthText, claimed)
	return res
}

// Close releases the cached document, if any.
func (v *Verifier) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.release()
}

// document returns the cached handle for path, replacing (and closing) any
// handle for a different path. Caller holds v.mu.
func (v *Verifier) document(ctx context.Context, path string) (pdftext.Document, error) {
	if v.doc != nil && v.path == path {
		return v.doc, nil
	}
	if err := v.release(); err != nil {
		zap.L().Warn("coordinate: close previous document", zap.String("path", v.path), zap.Error(err))
	}
	doc, err := v.opener.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	v.doc = doc
	v.path = path
	return doc, nil
}

func (v *Verifier) release() error {
	if v.doc == nil {
		return nil
	}
	err := v.doc.Close()
	v.doc = nil
	v.path = ""
	return err
}

// Matches reports whether either normalized string contains the other. An
// empty or blank groundTruth matches anything.
func Matches(groundTruth, claimed string) bool {
	gt := normalize(groundTruth)
	c := normalize(claimed)
	return strings.Contains(c, gt) || strings.Contains(gt, c)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
