// Package retrieval selects the parts of a long markdown document that are
// relevant to a query, so prompts carry a fraction of the filing.
package retrieval

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// DefaultChunkSize caps a chunk before it is split on paragraphs.
const DefaultChunkSize = 4000

// DefaultTopK is the number of chunks retrieved per query.
const DefaultTopK = 10

// Chunk is one section of a document.
type Chunk struct {
	Index   int
	Section string
	Text    string
}

// Scored is a chunk with its relevance to a query in [0, 1].
type Scored struct {
	Chunk
	Score float64
	hits  int
}

var headerRe = regexp.MustCompile(`^#{2,3}\s+`)

// ChunkSections splits markdown on "##" and "###" headers. Sections longer
// than maxSize are split further on paragraph breaks. Text before the
// first header belongs to section "Document Start".
func ChunkSections(markdown string, maxSize int) []Chunk {
	if strings.TrimSpace(markdown) == "" {
		return nil
	}
	if maxSize <= 0 {
		maxSize = DefaultChunkSize
	}

	var chunks []Chunk
	section := "Document Start"
	var current strings.Builder

	flush := func() {
		text := strings.TrimSpace(current.String())
		current.Reset()
		if text == "" {
			return
		}
		for _, sub := range splitLarge(text, maxSize) {
			chunks = append(chunks, Chunk{Index: len(chunks), Section: section, Text: sub})
		}
	}

	for _, line := range strings.Split(markdown, "\n") {
		if headerRe.MatchString(line) {
			flush()
			section = strings.TrimSpace(strings.TrimLeft(line, "# "))
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	flush()
	return chunks
}

// splitLarge packs paragraphs into pieces of at most maxSize where
// possible. A single oversized paragraph becomes its own piece.
func splitLarge(text string, maxSize int) []string {
	if len(text) <= maxSize {
		return []string{text}
	}
	var out []string
	var current string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		switch {
		case current == "":
			current = para
		case len(current)+2+len(para) > maxSize:
			out = append(out, current)
			current = para
		default:
			current += "\n\n" + para
		}
	}
	if current != "" {
		out = append(out, current)
	}
	return out
}

// Index scores chunks of one document against keyword queries.
type Index struct {
	chunks []Chunk
	lower  []string
}

// NewIndex indexes chunks.
func NewIndex(chunks []Chunk) *Index {
	lower := make([]string, len(chunks))
	for i, c := range chunks {
		lower[i] = strings.ToLower(c.Section + "\n" + c.Text)
	}
	return &Index{chunks: chunks, lower: lower}
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int { return len(ix.chunks) }

// Retrieve returns up to topK chunks that share at least one keyword with
// query, best first. Score is the fraction of query keywords the chunk
// contains; ties go to the chunk with more keyword occurrences, then to
// the earlier chunk.
func (ix *Index) Retrieve(query string, topK int) []Scored {
	keywords := Keywords(query)
	if len(keywords) == 0 || len(ix.chunks) == 0 {
		return nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	var scored []Scored
	for i, text := range ix.lower {
		matched, hits := 0, 0
		for _, kw := range keywords {
			if n := strings.Count(text, kw); n > 0 {
				matched++
				hits += n
			}
		}
		if matched == 0 {
			continue
		}
		scored = append(scored, Scored{
			Chunk: ix.chunks[i],
			Score: float64(matched) / float64(len(keywords)),
			hits:  hits,
		})
	}

	sort.SliceStable(scored, func(a, b int) bool {
		if scored[a].Score != scored[b].Score {
			return scored[a].Score > scored[b].Score
		}
		return scored[a].hits > scored[b].hits
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

// Context formats the best chunks for query within maxChars, in document
// order. It returns "" when nothing matches.
func (ix *Index) Context(query string, topK, maxChars int) string {
	results := ix.Retrieve(query, topK)

	var picked []Scored
	total := 0
	for _, r := range results {
		n := len(formatChunk(r))
		if total+n > maxChars {
			continue
		}
		picked = append(picked, r)
		total += n
	}
	sort.Slice(picked, func(a, b int) bool { return picked[a].Index < picked[b].Index })

	parts := make([]string, len(picked))
	for i, p := range picked {
		parts[i] = formatChunk(p)
	}
	return strings.Join(parts, "\n---\n")
}

func formatChunk(s Scored) string {
	return fmt.Sprintf("[Section: %s] (Relevance: %.2f)\n%s\n", s.Section, s.Score, s.Text)
}

// MetricsQuery builds the retrieval query for a metric extraction.
func MetricsQuery(metrics []string) string {
	return fmt.Sprintf("Financial data for: %s. Income statement, revenue, expenses, cash flow.",
		strings.Join(metrics, ", "))
}

// ContextForMetrics returns the sections of markdown relevant to metrics
// within maxChars. When retrieval finds nothing it falls back to the
// first fallbackChars of the document.
func ContextForMetrics(metrics []string, markdown string, maxChars, fallbackChars int) string {
	ix := NewIndex(ChunkSections(markdown, DefaultChunkSize))
	if ctx := ix.Context(MetricsQuery(metrics), DefaultTopK, maxChars); ctx != "" {
		zap.L().Debug("retrieval: context selected",
			zap.Int("chunks", ix.Len()),
			zap.Int("chars", len(ctx)),
			zap.Int("document_chars", len(markdown)),
		)
		return ctx
	}
	zap.L().Warn("retrieval: no relevant sections, using truncated document",
		zap.Int("chunks", ix.Len()),
		zap.Int("fallback_chars", fallbackChars),
	)
	return Truncate(markdown, fallbackChars)
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true,
	"were": true, "been": true, "have": true, "has": true, "had": true,
	"this": true, "that": true, "with": true, "from": true, "what": true,
	"how": true, "does": true, "which": true, "where": true, "when": true,
	"who": true, "why": true, "can": true, "will": true, "not": true,
	"data": true,
}

// Keywords returns the distinct lowercase words of 3+ characters in text,
// excluding stop words.
func Keywords(text string) []string {
	var keywords []string
	seen := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, "?.,!;:'\"()[]{}")
		if len(w) < 3 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		keywords = append(keywords, w)
	}
	return keywords
}
