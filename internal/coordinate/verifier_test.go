package coordinate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefanos11892/GVD-Engine/internal/model"
	"github.com/stefanos11892/GVD-Engine/internal/pdftext"
)

type fakeDoc struct {
	path   string
	pages  []*pdftext.Page
	mu     sync.Mutex
	closed bool
}

func (d *fakeDoc) Path() string   { return d.path }
func (d *fakeDoc) PageCount() int { return len(d.pages) }
func (d *fakeDoc) Page(_ context.Context, n int) (*pdftext.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("closed")
	}
	return d.pages[n-1], nil
}
func (d *fakeDoc) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

type fakeOpener struct {
	mu     sync.Mutex
	opened []*fakeDoc
	err    error
}

func (o *fakeOpener) Open(_ context.Context, path string) (pdftext.Document, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	d := &fakeDoc{path: path, pages: []*pdftext.Page{samplePage()}}
	o.opened = append(o.opened, d)
	return d, nil
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened)
}

// samplePage has "Revenue $10.4B" on one line and a date further down.
func samplePage() *pdftext.Page {
	return &pdftext.Page{
		Number: 1, Width: 612, Height: 792,
		Blocks: []pdftext.Block{
			{Lines: []pdftext.Line{{Words: []pdftext.Word{
				{Text: "Revenue", Box: model.BBox{72, 680, 120, 692}},
				{Text: "$10.4B", Box: model.BBox{130, 680, 170, 692}},
			}}}},
			{Lines: []pdftext.Line{{Words: []pdftext.Word{
				{Text: "2024-10-15", Box: model.BBox{72, 580, 140, 592}},
			}}}},
		},
	}
}

var valueBox = model.BBox{125, 675, 175, 695}

func TestVerify_Match(t *testing.T) {
	v := New(&fakeOpener{})
	defer v.Close() //nolint:errcheck

	res := v.Verify(context.Background(), "a.pdf", 1, valueBox, "$10.4B")
	assert.True(t, res.Match)
	assert.Equal(t, "$10.4B", res.GroundTruthText)
	assert.Equal(t, "$10.4B", res.ClaimedText)
	assert.Equal(t, 1, res.Page)
	assert.Empty(t, res.Error)
}

func TestVerify_Mismatch(t *testing.T) {
	v := New(&fakeOpener{})
	defer v.Close() //nolint:errcheck

	res := v.Verify(context.Background(), "a.pdf", 1, valueBox, "$50.0B")
	assert.False(t, res.Match)
	assert.Equal(t, "$10.4B", res.GroundTruthText)
	assert.Empty(t, res.Error)
}

func TestVerify_ContainmentBothWays(t *testing.T) {
	v := New(&fakeOpener{})
	defer v.Close() //nolint:errcheck
	ctx := context.Background()

	// Box wider than the claim: claim is inside the ground truth.
	lineBox := model.BBox{70, 675, 175, 695}
	assert.True(t, v.Verify(ctx, "a.pdf", 1, lineBox, "$10.4b").Match)

	// Claim carries extra words: ground truth is inside the claim.
	assert.True(t, v.Verify(ctx, "a.pdf", 1, valueBox, "Total revenue was $10.4B").Match)
}

func TestVerify_ShortClaimFalsePositive(t *testing.T) {
	v := New(&fakeOpener{})
	defer v.Close() //nolint:errcheck

	res := v.Verify(context.Background(), "a.pdf", 1, model.BBox{70, 575, 145, 595}, "10")
	assert.True(t, res.Match, "containment accepts short claims inside unrelated text")
}

func TestVerify_Idempotent(t *testing.T) {
	v := New(&fakeOpener{})
	defer v.Close() //nolint:errcheck
	ctx := context.Background()

	first := v.Verify(ctx, "a.pdf", 1, valueBox, "$50.0B")
	for range 5 {
		assert.Equal(t, first, v.Verify(ctx, "a.pdf", 1, valueBox, "$50.0B"))
	}
}

func TestVerify_OutOfBounds(t *testing.T) {
	v := New(&fakeOpener{})
	defer v.Close() //nolint:errcheck

	for _, page := range []int{0, 2, -1} {
		res := v.Verify(context.Background(), "a.pdf", page, valueBox, "$10.4B")
		assert.False(t, res.Match)
		assert.Contains(t, res.Error, "out of bounds (1-1)")
	}
}

func TestVerify_OpenErrorIsCaptured(t *testing.T) {
	v := New(&fakeOpener{err: errors.New("no such file")})

	res := v.Verify(context.Background(), "missing.pdf", 1, valueBox, "$10.4B")
	assert.False(t, res.Match)
	assert.Equal(t, "no such file", res.Error)
}

func TestVerify_CachesPerPathAndClosesOnReplace(t *testing.T) {
	op := &fakeOpener{}
	v := New(op)
	ctx := context.Background()

	v.Verify(ctx, "a.pdf", 1, valueBox, "x")
	v.Verify(ctx, "a.pdf", 1, valueBox, "x")
	assert.Equal(t, 1, op.openCount())

	v.Verify(ctx, "b.pdf", 1, valueBox, "x")
	require.Equal(t, 2, op.openCount())
	assert.True(t, op.opened[0].closed, "previous handle closed on replace")
	assert.False(t, op.opened[1].closed)

	require.NoError(t, v.Close())
	assert.True(t, op.opened[1].closed)
	require.NoError(t, v.Close())
}

func TestVerify_ConcurrentCallsAreSafe(t *testing.T) {
	op := &fakeOpener{}
	v := New(op)
	defer v.Close() //nolint:errcheck

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := "a.pdf"
			if i%2 == 0 {
				path = "b.pdf"
			}
			res := v.Verify(context.Background(), path, 1, valueBox, "$10.4B")
			assert.True(t, res.Match)
		}(i)
	}
	wg.Wait()

	for _, d := range op.opened[:len(op.opened)-1] {
		assert.True(t, d.closed)
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		gt, claim string
		want      bool
	}{
		{"$10.4B", "$10.4B", true},
		{"$10.4  B", "$10.4 b", true},
		{"Revenue $10.4B", "$10.4B", true},
		{"$10.4B", "$50.0B", false},
		{"", "$10.4B", true},      // empty box matches any claim
		{" \n\t", "$50.0B", true}, // blank text normalizes to empty
		{"", "", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Matches(tt.gt, tt.claim), "%q vs %q", tt.gt, tt.claim)
	}
}

func TestVerify_EmptyBoxMatchesAnyClaim(t *testing.T) {
	v := New(&fakeOpener{})
	defer v.Close() //nolint:errcheck

	blank := model.BBox{400, 100, 500, 120}
	res := v.Verify(context.Background(), "/docs/a.pdf", 1, blank, "$50.0B")
	assert.Empty(t, res.Error)
	assert.Empty(t, res.GroundTruthText)
	assert.True(t, res.Match)
}
