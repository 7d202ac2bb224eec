package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const filing = `Acme Corp annual report.

## Risk Factors
Competition is intense.

## Income Statement
Total revenue was $10.4B. Net income was $2.1B.

### Cash Flow
Operating cash flow reached $3.0B.

## Legal Proceedings
None material.
`

func TestChunkSections(t *testing.T) {
	chunks := ChunkSections(filing, 0)
	require.Len(t, chunks, 5)

	assert.Equal(t, "Document Start", chunks[0].Section)
	assert.Equal(t, "Acme Corp annual report.", chunks[0].Text)
	assert.Equal(t, "Risk Factors", chunks[1].Section)
	assert.Equal(t, "Income Statement", chunks[2].Section)
	assert.Equal(t, "Cash Flow", chunks[3].Section)
	assert.Equal(t, "Legal Proceedings", chunks[4].Section)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
}

func TestChunkSections_Empty(t *testing.T) {
	assert.Nil(t, ChunkSections("  \n", 100))
}

func TestChunkSections_SplitsLargeSection(t *testing.T) {
	para := strings.Repeat("x", 60)
	md := "## Notes\n" + strings.Join([]string{para, para, para, para}, "\n\n")

	chunks := ChunkSections(md, 130)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.Equal(t, "Notes", c.Section)
		assert.LessOrEqual(t, len(c.Text), 130)
	}
}

func TestSplitLarge_OversizedParagraph(t *testing.T) {
	big := strings.Repeat("y", 50)
	out := splitLarge("a\n\n"+big+"\n\nb", 20)
	assert.Equal(t, []string{"a", big, "b"}, out)
}

func TestRetrieve_RanksByOverlap(t *testing.T) {
	ix := NewIndex(ChunkSections(filing, 0))
	results := ix.Retrieve("operating cash flow", 10)
	require.NotEmpty(t, results)
	assert.Equal(t, "Cash Flow", results[0].Section)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)

	for _, r := range results {
		assert.NotEqual(t, "Risk Factors", r.Section)
	}
}

func TestRetrieve_TopK(t *testing.T) {
	ix := NewIndex(ChunkSections(filing, 0))
	assert.Len(t, ix.Retrieve("revenue income cash", 1), 1)
	assert.Empty(t, ix.Retrieve("the and", 5))
}

func TestContext_DocumentOrderAndBudget(t *testing.T) {
	ix := NewIndex(ChunkSections(filing, 0))
	ctx := ix.Context("revenue net income operating cash flow", 10, 10000)

	income := strings.Index(ctx, "[Section: Income Statement]")
	cash := strings.Index(ctx, "[Section: Cash Flow]")
	require.GreaterOrEqual(t, income, 0)
	require.GreaterOrEqual(t, cash, 0)
	assert.Less(t, income, cash)
	assert.Contains(t, ctx, "\n---\n")

	small := ix.Context("revenue net income operating cash flow", 10, 90)
	assert.LessOrEqual(t, len(small), 90)
}

func TestContextForMetrics_Fallback(t *testing.T) {
	md := strings.Repeat("lorem ipsum ", 100)
	got := ContextForMetrics([]string{"Revenue"}, md, 25000, 50)
	assert.Equal(t, md[:50], got)
}

func TestContextForMetrics_Retrieves(t *testing.T) {
	got := ContextForMetrics([]string{"Revenue", "Net Income"}, filing, 25000, 50000)
	assert.Contains(t, got, "Total revenue was $10.4B")
	assert.NotContains(t, got, "None material")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "abc", Truncate("abc", 0))
	assert.Equal(t, "a", Truncate("aé", 2))
}

func TestKeywords(t *testing.T) {
	assert.Equal(t, []string{"operating", "cash", "flow"}, Keywords("What was the Operating cash flow? Cash!"))
}
