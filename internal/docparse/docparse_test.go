package docparse

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefanos11892/GVD-Engine/internal/config"
	"github.com/stefanos11892/GVD-Engine/internal/model"
	"github.com/stefanos11892/GVD-Engine/internal/pdftext"
	"github.com/stefanos11892/GVD-Engine/internal/resilience"
)

type fakeLayout struct {
	pages []pdftext.Page
	err   error
	calls int
}

func (f *fakeLayout) Layout(_ context.Context, _ string, first, last int) ([]pdftext.Page, error) {
	f.calls++
	return f.pages, f.err
}

func word(text string, x0, y0, x1, y1 float64) pdftext.Word {
	return pdftext.Word{Text: text, Box: model.BBox{x0, y0, x1, y1}}
}

func samplePages() []pdftext.Page {
	return []pdftext.Page{
		{
			Number: 1, Width: 612, Height: 792,
			Blocks: []pdftext.Block{{
				Lines: []pdftext.Line{
					{Words: []pdftext.Word{word("Annual", 72, 700, 110, 712), word("Report", 112, 700, 150, 712)}, Box: model.BBox{72, 700, 150, 712}},
				},
			}},
		},
		{
			Number: 2, Width: 612, Height: 792,
			Blocks: []pdftext.Block{
				{Lines: []pdftext.Line{
					{Words: []pdftext.Word{word("Revenue", 72, 680, 120, 692), word("$10.4B", 130, 680, 170, 692)}, Box: model.BBox{72, 680, 170, 692}},
					{Words: []pdftext.Word{word("Net", 72, 660, 90, 672), word("income", 92, 660, 130, 672), word("$2.1B", 132, 660, 160, 672)}, Box: model.BBox{72, 660, 160, 672}},
				}},
				{Lines: []pdftext.Line{
					{Words: []pdftext.Word{word("Revenue", 72, 400, 120, 412), word("grew", 122, 400, 150, 412)}, Box: model.BBox{72, 400, 150, 412}},
				}},
			},
		},
	}
}

func tempPDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 test"), 0o644))
	return path
}

func TestPoppler_Parse(t *testing.T) {
	layout := &fakeLayout{pages: samplePages()}
	parsed, err := NewPoppler(layout).Parse(context.Background(), tempPDF(t))
	require.NoError(t, err)

	assert.Equal(t, "## Page 1\n\nAnnual Report\n\n## Page 2\n\nRevenue $10.4B\nNet income $2.1B\n\nRevenue grew", parsed.Markdown)
	assert.Equal(t, 2, parsed.PageCount())
	assert.Equal(t, "Revenue $10.4B\nNet income $2.1B\n\nRevenue grew", parsed.PageText(2))
	assert.Empty(t, parsed.PageText(3))

	require.Len(t, parsed.Provenance, 4)
	assert.Equal(t, model.ProvenanceEntry{Text: "Revenue $10.4B", Type: "line", Page: 2, BBox: model.BBox{72, 680, 170, 692}}, parsed.Provenance[1])
}

func TestPoppler_MissingFile(t *testing.T) {
	layout := &fakeLayout{}
	_, err := NewPoppler(layout).Parse(context.Background(), "/nonexistent/annual.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/nonexistent/annual.pdf")
	assert.Zero(t, layout.calls)
}

func TestPoppler_LayoutError(t *testing.T) {
	layout := &fakeLayout{err: errors.New("pdftext: pdftotext failed: bad xref")}
	_, err := NewPoppler(layout).Parse(context.Background(), tempPDF(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad xref")
}

func TestParsed_Lookup(t *testing.T) {
	parsed, err := NewPoppler(&fakeLayout{pages: samplePages()}).Parse(context.Background(), tempPDF(t))
	require.NoError(t, err)

	e, ok := parsed.Lookup("net  INCOME $2.1b")
	require.True(t, ok)
	assert.Equal(t, 2, e.Page)
	assert.Equal(t, model.BBox{72, 660, 160, 672}, e.BBox)

	// Two lines mention revenue.
	_, ok = parsed.Lookup("Revenue")
	assert.False(t, ok)

	_, ok = parsed.Lookup("EBITDA")
	assert.False(t, ok)

	_, ok = parsed.Lookup("  ")
	assert.False(t, ok)
}

func TestParsed_Window(t *testing.T) {
	p := &Parsed{Markdown: "aaaa Net income was $2.1B bbbb"}
	assert.Equal(t, "a Net income was $2.1B b", p.Window("net income was $2.1B", 2))
	assert.Empty(t, p.Window("missing", 10))
	assert.Empty(t, p.Window("", 10))
	assert.Equal(t, p.Markdown, p.Window("aaaa", 1000))
}

func TestNewParser(t *testing.T) {
	p, err := NewParser(config.ParserConfig{Provider: "poppler"}, &fakeLayout{})
	require.NoError(t, err)
	assert.IsType(t, &Poppler{}, p)

	p, err = NewParser(config.ParserConfig{}, &fakeLayout{})
	require.NoError(t, err)
	assert.IsType(t, &Poppler{}, p)

	_, err = NewParser(config.ParserConfig{Provider: "mistral"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral provider requires mistral_api_key")

	p, err = NewParser(config.ParserConfig{Provider: "mistral", MistralKey: "k"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Mistral{}, p)

	_, err = NewParser(config.ParserConfig{Provider: "docling"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider "docling"`)
}

func TestMistral_DefaultModel(t *testing.T) {
	m := NewMistral("key", "")
	assert.Equal(t, defaultMistralModel, m.model)
	assert.Equal(t, mistralOCREndpoint, m.endpoint)
}

func TestMistral_Parse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req mistralOCRRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, "document_url", req.Document.Type)
		assert.Contains(t, req.Document.DocumentURL, "data:application/pdf;base64,")

		resp := mistralOCRResponse{Pages: []mistralOCRPage{
			{Index: 0, Markdown: "Page one content"},
			{Index: 1, Markdown: "Revenue $10.4B"},
		}}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	}))
	defer srv.Close()

	m := &Mistral{apiKey: "test-key", model: "test-model", endpoint: srv.URL, client: &http.Client{}}
	parsed, err := m.Parse(context.Background(), tempPDF(t))
	require.NoError(t, err)
	assert.Equal(t, "## Page 1\n\nPage one content\n\n## Page 2\n\nRevenue $10.4B", parsed.Markdown)
	assert.Equal(t, "Revenue $10.4B", parsed.PageText(2))
	assert.Empty(t, parsed.Provenance)
}

func TestMistral_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	m := &Mistral{apiKey: "bad-key", model: "test-model", endpoint: srv.URL, client: &http.Client{}}
	_, err := m.Parse(context.Background(), tempPDF(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral API returned 401")
	assert.False(t, resilience.IsTransient(err))
}

func TestMistral_TransientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := &Mistral{apiKey: "k", model: "m", endpoint: srv.URL, client: &http.Client{}}
	_, err := m.Parse(context.Background(), tempPDF(t))
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestMistral_FileNotFound(t *testing.T) {
	_, err := NewMistral("key", "model").Parse(context.Background(), "/nonexistent/file.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/nonexistent/file.pdf")
}
