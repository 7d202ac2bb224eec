package docparse

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stefanos11892/GVD-Engine/internal/model"
)

// Poppler parses digital-born PDFs from their text layer. Every line
// becomes a provenance entry.
type Poppler struct {
	layout LayoutSource
}

// NewPoppler creates a layout-based parser.
func NewPoppler(layout LayoutSource) *Poppler {
	return &Poppler{layout: layout}
}

func (p *Poppler) Parse(ctx context.Context, path string) (*Parsed, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(err, "docparse: open %s", path)
	}

	pages, err := p.layout.Layout(ctx, path, 1, 0)
	if err != nil {
		return nil, eris.Wrapf(err, "docparse: parse %s", path)
	}

	out := &Parsed{pages: make(map[int]string, len(pages))}
	var md strings.Builder
	for _, page := range pages {
		text := page.Text()
		out.pages[page.Number] = text

		if md.Len() > 0 {
			md.WriteString("\n\n")
		}
		fmt.Fprintf(&md, "## Page %d\n\n%s", page.Number, text)

		for _, b := range page.Blocks {
			for _, l := range b.Lines {
				t := strings.TrimSpace(l.Text())
				if t == "" {
					continue
				}
				out.Provenance = append(out.Provenance, model.ProvenanceEntry{
					Text: t,
					Type: "line",
					Page: page.Number,
					BBox: l.Box,
				})
			}
		}
	}
	out.Markdown = md.String()

	zap.L().Info("docparse: parsed document",
		zap.String("path", path),
		zap.Int("pages", len(pages)),
		zap.Int("provenance_entries", len(out.Provenance)),
		zap.Int("markdown_chars", len(out.Markdown)),
	)
	return out, nil
}
