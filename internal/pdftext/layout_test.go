package pdftext

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefanos11892/GVD-Engine/internal/model"
)

const sampleLayout = `<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Transitional//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-transitional.dtd">
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
<title></title>
</head>
<body>
<doc>
  <page width="612.000000" height="792.000000">
    <flow>
      <block xMin="72.000000" yMin="100.000000" xMax="170.000000" yMax="112.000000">
        <line xMin="72.000000" yMin="100.000000" xMax="170.000000" yMax="112.000000">
          <word xMin="72.000000" yMin="100.000000" xMax="120.000000" yMax="112.000000">Revenue</word>
          <word xMin="130.000000" yMin="100.000000" xMax="170.000000" yMax="112.000000">$10.4B</word>
        </line>
      </block>
      <block xMin="72.000000" yMin="200.000000" xMax="200.000000" yMax="212.000000">
        <line xMin="72.000000" yMin="200.000000" xMax="200.000000" yMax="212.000000">
          <word xMin="72.000000" yMin="200.000000" xMax="100.000000" yMax="212.000000">Net</word>
          <word xMin="104.000000" yMin="200.000000" xMax="150.000000" yMax="212.000000">income</word>
          <word xMin="160.000000" yMin="200.000000" xMax="200.000000" yMax="212.000000">$2.1B</word>
        </line>
      </block>
    </flow>
  </page>
  <page width="612.000000" height="792.000000">
  </page>
</doc>
</body>
</html>`

func TestParseLayout_PagesAndBlocks(t *testing.T) {
	pages, err := ParseLayout(strings.NewReader(sampleLayout), 3)
	require.NoError(t, err)
	require.Len(t, pages, 2)

	pg := pages[0]
	assert.Equal(t, 3, pg.Number)
	assert.Equal(t, 4, pages[1].Number)
	assert.InDelta(t, 612.0, pg.Width, 0.001)
	assert.InDelta(t, 792.0, pg.Height, 0.001)
	require.Len(t, pg.Blocks, 2)
	assert.Equal(t, "Revenue $10.4B", pg.Blocks[0].Text())
	assert.Equal(t, "Net income $2.1B", pg.Blocks[1].Lines[0].Text())
	assert.Empty(t, pages[1].Blocks)
}

func TestParseLayout_FlipsToLowerOrigin(t *testing.T) {
	pages, err := ParseLayout(strings.NewReader(sampleLayout), 1)
	require.NoError(t, err)

	w := pages[0].Words()[0]
	assert.Equal(t, "Revenue", w.Text)
	assert.Equal(t, model.BBox{72, 680, 120, 692}, w.Box)
}

func TestParseLayout_PlainBBox(t *testing.T) {
	in := `<html><body><doc><page width="100" height="200">
<word xMin="10" yMin="10" xMax="20" yMax="20">alpha</word>
<word xMin="30" yMin="10" xMax="40" yMax="20">beta</word>
</page></doc></body></html>`

	pages, err := ParseLayout(strings.NewReader(in), 1)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.Len(t, pages[0].Blocks, 1)
	assert.Equal(t, "alpha beta", pages[0].Text())
	assert.Equal(t, model.BBox{10, 180, 40, 190}, pages[0].Blocks[0].Box)
}

func TestParseLayout_BadAttribute(t *testing.T) {
	in := `<html><body><doc><page width="abc" height="200"></page></doc></body></html>`
	_, err := ParseLayout(strings.NewReader(in), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad width attribute")
}

func TestPage_TextIn(t *testing.T) {
	pages, err := ParseLayout(strings.NewReader(sampleLayout), 1)
	require.NoError(t, err)
	pg := pages[0]

	tests := []struct {
		name string
		box  model.BBox
		want string
	}{
		{"value only", model.BBox{125, 675, 175, 695}, "$10.4B"},
		{"whole line", model.BBox{70, 675, 175, 695}, "Revenue $10.4B"},
		{"reversed corners", model.BBox{175, 695, 125, 675}, "$10.4B"},
		{"empty region", model.BBox{300, 300, 400, 400}, ""},
		{"second block", model.BBox{155, 575, 205, 595}, "$2.1B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pg.TextIn(tt.box))
		})
	}
}

func TestPage_Text(t *testing.T) {
	pages, err := ParseLayout(strings.NewReader(sampleLayout), 1)
	require.NoError(t, err)
	assert.Equal(t, "Revenue $10.4B\n\nNet income $2.1B", pages[0].Text())
}
