// Package pdftext reads positioned text out of PDF documents using the
// poppler command line tools.
package pdftext

import (
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/stefanos11892/GVD-Engine/internal/model"
)

// Word is a single positioned word. Box uses PDF user space with a
// lower-left origin.
type Word struct {
	Text string
	Box  model.BBox
}

// Line is a run of words poppler grouped on one baseline.
type Line struct {
	Words []Word
	Box   model.BBox
}

// Text joins the line's words with single spaces.
func (l Line) Text() string {
	parts := make([]string, 0, len(l.Words))
	for _, w := range l.Words {
		parts = append(parts, w.Text)
	}
	return strings.Join(parts, " ")
}

// Block is a paragraph-like group of lines.
type Block struct {
	Lines []Line
	Box   model.BBox
}

// Text joins the block's lines with newlines.
func (b Block) Text() string {
	parts := make([]string, 0, len(b.Lines))
	for _, l := range b.Lines {
		parts = append(parts, l.Text())
	}
	return strings.Join(parts, "\n")
}

// Page is the positioned text of one page.
type Page struct {
	Number int
	Width  float64
	Height float64
	Blocks []Block
}

// Words returns every word on the page in reading order.
func (p *Page) Words() []Word {
	var out []Word
	for _, b := range p.Blocks {
		for _, l := range b.Lines {
			out = append(out, l.Words...)
		}
	}
	return out
}

// TextIn returns the words whose centre falls inside box, in reading order,
// joined by single spaces and trimmed.
func (p *Page) TextIn(box model.BBox) string {
	box = box.Normalize()
	var parts []string
	for _, w := range p.Words() {
		cx := (w.Box[0] + w.Box[2]) / 2
		cy := (w.Box[1] + w.Box[3]) / 2
		if box.Contains(cx, cy) {
			parts = append(parts, w.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// Text returns the full page text, blocks separated by blank lines.
func (p *Page) Text() string {
	parts := make([]string, 0, len(p.Blocks))
	for _, b := range p.Blocks {
		if t := strings.TrimSpace(b.Text()); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// ParseLayout parses the XHTML written by `pdftotext -bbox-layout` (or plain
// `-bbox`) into pages. firstPage is the number of the first page in the
// output. Coordinates are flipped from poppler's top-left origin.
func ParseLayout(r io.Reader, firstPage int) ([]Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, eris.Wrap(err, "pdftext: parse layout")
	}

	var pages []Page
	var parseErr error
	doc.Find("page").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		pg := Page{Number: firstPage + i}
		if pg.Width, parseErr = floatAttr(sel, "width"); parseErr != nil {
			return false
		}
		if pg.Height, parseErr = floatAttr(sel, "height"); parseErr != nil {
			return false
		}

		blocks := sel.Find("block")
		if blocks.Length() == 0 {
			// Plain -bbox output: words sit directly under the page.
			var line Line
			line, parseErr = parseLine(sel, pg.Height)
			if parseErr != nil {
				return false
			}
			if len(line.Words) > 0 {
				pg.Blocks = []Block{{Lines: []Line{line}, Box: line.Box}}
			}
			pages = append(pages, pg)
			return true
		}

		blocks.EachWithBreak(func(_ int, bs *goquery.Selection) bool {
			var block Block
			if block.Box, parseErr = boxAttr(bs, pg.Height); parseErr != nil {
				return false
			}
			bs.Find("line").EachWithBreak(func(_ int, ls *goquery.Selection) bool {
				var line Line
				line, parseErr = parseLine(ls, pg.Height)
				if parseErr != nil {
					return false
				}
				if len(line.Words) > 0 {
					block.Lines = append(block.Lines, line)
				}
				return true
			})
			if parseErr != nil {
				return false
			}
			if len(block.Lines) > 0 {
				pg.Blocks = append(pg.Blocks, block)
			}
			return true
		})
		if parseErr != nil {
			return false
		}
		pages = append(pages, pg)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return pages, nil
}

func parseLine(sel *goquery.Selection, pageHeight float64) (Line, error) {
	var line Line
	var err error
	if _, ok := sel.Attr("xmin"); ok {
		if line.Box, err = boxAttr(sel, pageHeight); err != nil {
			return line, err
		}
	}
	sel.Find("word").EachWithBreak(func(_ int, ws *goquery.Selection) bool {
		text := strings.TrimSpace(ws.Text())
		if text == "" {
			return true
		}
		var box model.BBox
		if box, err = boxAttr(ws, pageHeight); err != nil {
			return false
		}
		line.Words = append(line.Words, Word{Text: text, Box: box})
		return true
	})
	if err != nil {
		return line, err
	}
	if line.Box.IsZero() && len(line.Words) > 0 {
		line.Box = union(line.Words)
	}
	return line, nil
}

// boxAttr reads xMin/yMin/xMax/yMax (lowercased by the HTML parser) and
// converts them to a lower-origin box.
func boxAttr(sel *goquery.Selection, pageHeight float64) (model.BBox, error) {
	var v [4]float64
	for i, name := range []string{"xmin", "ymin", "xmax", "ymax"} {
		f, err := floatAttr(sel, name)
		if err != nil {
			return model.BBox{}, err
		}
		v[i] = f
	}
	return model.BBox{v[0], pageHeight - v[3], v[2], pageHeight - v[1]}, nil
}

func floatAttr(sel *goquery.Selection, name string) (float64, error) {
	raw, ok := sel.Attr(name)
	if !ok {
		return 0, eris.Errorf("pdftext: missing %s attribute on <%s>", name, goquery.NodeName(sel))
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, eris.Wrapf(err, "pdftext: bad %s attribute %q", name, raw)
	}
	return f, nil
}

func union(words []Word) model.BBox {
	b := words[0].Box
	for _, w := range words[1:] {
		b[0] = min(b[0], w.Box[0])
		b[1] = min(b[1], w.Box[1])
		b[2] = max(b[2], w.Box[2])
		b[3] = max(b[3], w.Box[3])
	}
	return b
}
