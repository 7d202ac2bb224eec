package pdftext

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/stefanos11892/GVD-Engine/internal/config"
	"github.com/stefanos11892/GVD-Engine/internal/model"
)

// Opener opens documents for positioned text access.
type Opener interface {
	Open(ctx context.Context, path string) (Document, error)
}

// Document is an open PDF. Implementations must be safe for concurrent use.
type Document interface {
	Path() string
	PageCount() int
	// Page returns the 1-based page n.
	Page(ctx context.Context, n int) (*Page, error)
	Close() error
}

// Poppler reads PDFs by shelling out to pdfinfo, pdftotext and pdftoppm.
type Poppler struct {
	pdfToText string
	pdfInfo   string
	pdfToPPM  string
	cropDPI   int
}

// NewPoppler creates a Poppler from config. Empty paths fall back to the
// binaries on $PATH.
func NewPoppler(cfg config.PDFConfig) *Poppler {
	p := &Poppler{
		pdfToText: cfg.PdfToTextPath,
		pdfInfo:   cfg.PdfInfoPath,
		pdfToPPM:  cfg.PdfToPPMPath,
		cropDPI:   cfg.CropDPI,
	}
	if p.pdfToText == "" {
		p.pdfToText = "pdftotext"
	}
	if p.pdfInfo == "" {
		p.pdfInfo = "pdfinfo"
	}
	if p.pdfToPPM == "" {
		p.pdfToPPM = "pdftoppm"
	}
	if p.cropDPI <= 0 {
		p.cropDPI = 150
	}
	return p
}

// Open checks the file exists, reads its page count and returns a lazily
// loaded Document.
func (p *Poppler) Open(ctx context.Context, path string) (Document, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(err, "pdftext: open %s", path)
	}
	n, err := p.PageCount(ctx, path)
	if err != nil {
		return nil, err
	}
	return &popplerDoc{poppler: p, path: path, pageCount: n, pages: make(map[int]*Page)}, nil
}

// PageCount runs pdfinfo and returns the "Pages:" value.
func (p *Poppler) PageCount(ctx context.Context, path string) (int, error) {
	out, err := p.run(ctx, p.pdfInfo, path)
	if err != nil {
		return 0, err
	}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if rest, ok := strings.CutPrefix(line, "Pages:"); ok {
			n, err := strconv.Atoi(strings.TrimSpace(rest))
			if err != nil {
				return 0, eris.Wrapf(err, "pdftext: bad page count in %s", path)
			}
			return n, nil
		}
	}
	return 0, eris.Errorf("pdftext: pdfinfo reported no page count for %s", path)
}

// Layout returns pages first..last (inclusive, 1-based). last <= 0 means
// through the end of the document.
func (p *Poppler) Layout(ctx context.Context, path string, first, last int) ([]Page, error) {
	if first < 1 {
		first = 1
	}
	args := []string{"-f", strconv.Itoa(first)}
	if last > 0 {
		args = append(args, "-l", strconv.Itoa(last))
	}
	args = append(args, "-bbox-layout", path, "-")

	out, err := p.run(ctx, p.pdfToText, args...)
	if err != nil {
		return nil, err
	}
	pages, err := ParseLayout(bytes.NewReader(out), first)
	if err != nil {
		return nil, eris.Wrapf(err, "pdftext: layout %s", path)
	}
	return pages, nil
}

var pageSizeRe = regexp.MustCompile(`Page\s+\d+\s+size:\s+([\d.]+)\s+x\s+([\d.]+)`)

// PageSize returns the width and height in points of page n.
func (p *Poppler) PageSize(ctx context.Context, path string, n int) (float64, float64, error) {
	out, err := p.run(ctx, p.pdfInfo, "-f", strconv.Itoa(n), "-l", strconv.Itoa(n), path)
	if err != nil {
		return 0, 0, err
	}
	m := pageSizeRe.FindSubmatch(out)
	if m == nil {
		return 0, 0, eris.Errorf("pdftext: no size for page %d of %s", n, path)
	}
	w, _ := strconv.ParseFloat(string(m[1]), 64)
	h, _ := strconv.ParseFloat(string(m[2]), 64)
	return w, h, nil
}

// RenderCrop rasterizes the region box of page n into a JPEG under dir and
// returns the file path.
func (p *Poppler) RenderCrop(ctx context.Context, path string, n int, box model.BBox, dir string) (string, error) {
	_, height, err := p.PageSize(ctx, path, n)
	if err != nil {
		return "", err
	}
	box = box.Normalize()
	scale := float64(p.cropDPI) / 72.0
	x := int(math.Floor(box[0] * scale))
	y := int(math.Floor((height - box[3]) * scale))
	w := int(math.Ceil(box.Width() * scale))
	h := int(math.Ceil(box.Height() * scale))
	if w <= 0 || h <= 0 {
		return "", eris.Errorf("pdftext: empty crop region %s", box)
	}

	prefix := filepath.Join(dir, "crop-"+uuid.New().String()[:8])
	_, err = p.run(ctx, p.pdfToPPM,
		"-f", strconv.Itoa(n), "-l", strconv.Itoa(n),
		"-r", strconv.Itoa(p.cropDPI),
		"-x", strconv.Itoa(x), "-y", strconv.Itoa(y),
		"-W", strconv.Itoa(w), "-H", strconv.Itoa(h),
		"-jpeg", "-singlefile", path, prefix,
	)
	if err != nil {
		return "", err
	}
	return prefix + ".jpg", nil
}

func (p *Poppler) run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, eris.Wrapf(err, "pdftext: %s failed: %s", filepath.Base(bin), strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

type popplerDoc struct {
	poppler   *Poppler
	path      string
	pageCount int

	mu     sync.Mutex
	pages  map[int]*Page
	closed bool
}

func (d *popplerDoc) Path() string   { return d.path }
func (d *popplerDoc) PageCount() int { return d.pageCount }

func (d *popplerDoc) Page(ctx context.Context, n int) (*Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, eris.Errorf("pdftext: document %s is closed", d.path)
	}
	if n < 1 || n > d.pageCount {
		return nil, eris.New(OutOfBounds(n, d.pageCount))
	}
	if pg, ok := d.pages[n]; ok {
		return pg, nil
	}
	pages, err := d.poppler.Layout(ctx, d.path, n, n)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, eris.Errorf("pdftext: no layout for page %d of %s", n, d.path)
	}
	pg := &pages[0]
	pg.Number = n
	d.pages[n] = pg
	return pg, nil
}

func (d *popplerDoc) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.pages = nil
	return nil
}

// OutOfBounds formats the page range error shared by callers.
func OutOfBounds(n, count int) string {
	return fmt.Sprintf("page %d out of bounds (1-%d)", n, count)
}
