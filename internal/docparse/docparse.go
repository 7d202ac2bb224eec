// Package docparse turns a PDF into markdown plus a provenance map of
// located text spans.
package docparse

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/stefanos11892/GVD-Engine/internal/config"
	"github.com/stefanos11892/GVD-Engine/internal/model"
	"github.com/stefanos11892/GVD-Engine/internal/pdftext"
)

// Parser converts a document into markdown and provenance.
type Parser interface {
	Parse(ctx context.Context, path string) (*Parsed, error)
}

// Parsed is the output of a Parser.
type Parsed struct {
	Markdown   string
	Provenance []model.ProvenanceEntry
	pages      map[int]string
}

// NewParsed assembles a Parsed from already-extracted parts. pages maps
// 1-based page numbers to their text and may be nil.
func NewParsed(markdown string, provenance []model.ProvenanceEntry, pages map[int]string) *Parsed {
	if pages == nil {
		pages = map[int]string{}
	}
	return &Parsed{Markdown: markdown, Provenance: provenance, pages: pages}
}

// PageText returns the text of page n, or "" when unknown.
func (p *Parsed) PageText(n int) string {
	return p.pages[n]
}

// PageCount returns the number of pages with text.
func (p *Parsed) PageCount() int {
	return len(p.pages)
}

// Lookup returns the single provenance entry whose text contains snippet,
// comparing case-insensitively with collapsed whitespace. It reports false
// when no entry or more than one entry matches.
func (p *Parsed) Lookup(snippet string) (model.ProvenanceEntry, bool) {
	want := normalize(snippet)
	if want == "" {
		return model.ProvenanceEntry{}, false
	}

	var found model.ProvenanceEntry
	n := 0
	for _, e := range p.Provenance {
		if e.Page < 1 || e.BBox.IsZero() {
			continue
		}
		if strings.Contains(normalize(e.Text), want) {
			found = e
			n++
			if n > 1 {
				return model.ProvenanceEntry{}, false
			}
		}
	}
	return found, n == 1
}

// Window returns up to radius bytes of markdown on each side of the first
// occurrence of snippet, or "" when the snippet does not occur.
func (p *Parsed) Window(snippet string, radius int) string {
	if snippet == "" {
		return ""
	}
	i := strings.Index(strings.ToLower(p.Markdown), strings.ToLower(snippet))
	if i < 0 {
		return ""
	}
	start := max(i-radius, 0)
	end := min(i+len(snippet)+radius, len(p.Markdown))
	return strings.TrimSpace(p.Markdown[start:end])
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// NewParser builds the configured parser.
func NewParser(cfg config.ParserConfig, layout LayoutSource) (Parser, error) {
	switch cfg.Provider {
	case "poppler", "":
		return NewPoppler(layout), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("docparse: mistral provider requires mistral_api_key")
		}
		return NewMistral(cfg.MistralKey, cfg.MistralModel), nil
	default:
		return nil, eris.Errorf("docparse: unknown provider %q", cfg.Provider)
	}
}

// LayoutSource reads positioned text; *pdftext.Poppler implements it.
type LayoutSource interface {
	Layout(ctx context.Context, path string, first, last int) ([]pdftext.Page, error)
}
