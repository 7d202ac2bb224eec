package model

import "fmt"

// BBox is a rectangle in PDF user space with a lower-left origin:
// [x0, y0, x1, y1].
type BBox [4]float64

// Normalize returns the box with x0 <= x1 and y0 <= y1.
func (b BBox) Normalize() BBox {
	x0, y0, x1, y1 := b[0], b[1], b[2], b[3]
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	return BBox{x0, y0, x1, y1}
}

// Contains reports whether the point lies inside the (normalized) box,
// edges included.
func (b BBox) Contains(x, y float64) bool {
	n := b.Normalize()
	return x >= n[0] && x <= n[2] && y >= n[1] && y <= n[3]
}

// Width of the normalized box.
func (b BBox) Width() float64 {
	n := b.Normalize()
	return n[2] - n[0]
}

// Height of the normalized box.
func (b BBox) Height() float64 {
	n := b.Normalize()
	return n[3] - n[1]
}

// IsZero reports whether every coordinate is zero.
func (b BBox) IsZero() bool {
	return b == BBox{}
}

func (b BBox) String() string {
	return fmt.Sprintf("[%.1f, %.1f, %.1f, %.1f]", b[0], b[1], b[2], b[3])
}

// Provenance points at where in the source document a value was quoted from.
type Provenance struct {
	SourceSnippet string `json:"source_snippet"`
	Page          int    `json:"page,omitempty"` // 1-based; 0 when unknown
	BBox          *BBox  `json:"bbox,omitempty"`
}

// Locatable reports whether both page and bbox are present, which is what
// the coordinate check needs. Any non-zero page counts: a page outside the
// document is for the coordinate check to reject.
func (p *Provenance) Locatable() bool {
	return p != nil && p.Page != 0 && p.BBox != nil && !p.BBox.IsZero()
}

// ProvenanceEntry is one located text span produced by the document parser.
type ProvenanceEntry struct {
	Text string `json:"text_snippet"`
	Type string `json:"type"`
	Page int    `json:"page"`
	BBox BBox   `json:"bbox"`
}
