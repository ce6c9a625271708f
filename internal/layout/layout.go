// Package layout holds the page geometry constants and the single canonical
// rule for resolving a stored signature block's ambiguous coordinate
// convention. Every rendering surface (signing view, static view, PDF export)
// must position blocks through Resolve; per-surface reimplementations of the
// rule are how legacy renderers drifted apart.
package layout

import (
	"sync"

	"leadsign.org/internal/sigblock"
)

// A4 page geometry at 96 DPI, in pixels. These mirror the editor layout and
// must not change independently of it.
const (
	PageWidth   = 794  // 210mm
	PageHeight  = 1123 // 297mm
	PagePadding = 64

	ContentWidth  = PageWidth - 2*PagePadding  // 666
	ContentHeight = PageHeight - 2*PagePadding // 995

	// LegacyThreshold separates the two historical coordinate conventions.
	// A default-centred content-relative block sits at x=233, a page-relative
	// one at x=297; the threshold is the midpoint. Blocks below it are
	// treated as content-relative and shifted by PagePadding on both axes.
	LegacyThreshold = 280
)

// Point is a resolved page-relative position.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Resolve maps a stored block position to an unambiguous page-relative
// position. Pure and total: a misclassified hand-dragged block still gets a
// position, favouring always-rendering over refusing to render.
func Resolve(b sigblock.Block) Point {
	if b.X < LegacyThreshold {
		return Point{X: b.X + PagePadding, Y: b.Y + PagePadding}
	}
	return Point{X: b.X, Y: b.Y}
}

// PageCount derives the number of rendered pages from live content height.
func PageCount(contentHeight int) int {
	if contentHeight <= 0 {
		return 1
	}
	pages := (contentHeight + ContentHeight - 1) / ContentHeight
	if pages < 1 {
		pages = 1
	}
	return pages
}

// PageBreaks returns the y offsets, relative to the page stack, at which one
// page ends and the next begins. Breaks sit at whole-page multiples so the
// markers agree with PageOf about where every page boundary lies.
func PageBreaks(numPages int) []int {
	if numPages <= 1 {
		return nil
	}
	breaks := make([]int, 0, numPages-1)
	for i := 1; i < numPages; i++ {
		breaks = append(breaks, i*PageHeight)
	}
	return breaks
}

// PageOf maps a resolved y offset in the page stack to its zero-based page
// index. Every surface that assigns content to pages must use this mapping.
func PageOf(y int) int {
	if y < 0 {
		return 0
	}
	return y / PageHeight
}

// OutOfBounds returns the ids of blocks whose resolved rectangle leaves the
// horizontal page bounds or overlaps a page-break gap. Advisory only: blocks
// may legally sit anywhere in the scrollable height and are never moved or
// rejected, but editors surface these as placement warnings.
func OutOfBounds(blocks []sigblock.Block, contentHeight int) []string {
	numPages := PageCount(contentHeight)
	breaks := PageBreaks(numPages)

	var flagged []string
	for _, b := range blocks {
		p := Resolve(b)
		if p.X < 0 || p.X+b.Width > PageWidth {
			flagged = append(flagged, b.ID)
			continue
		}
		for _, brk := range breaks {
			if p.Y < brk+PagePadding && p.Y+b.Height > brk-PagePadding {
				flagged = append(flagged, b.ID)
				break
			}
		}
	}
	return flagged
}

// Estimator recomputes the page count when observed content height changes,
// notifying at most once per change. It replaces polling with a push model:
// callers observe new heights as content mutates.
type Estimator struct {
	mu       sync.Mutex
	pages    int
	onChange func(pages int)
}

// NewEstimator creates an estimator. onChange may be nil.
func NewEstimator(onChange func(pages int)) *Estimator {
	return &Estimator{pages: 1, onChange: onChange}
}

// Observe records a new content height and returns the current page count.
func (e *Estimator) Observe(contentHeight int) int {
	e.mu.Lock()
	pages := PageCount(contentHeight)
	changed := pages != e.pages
	e.pages = pages
	cb := e.onChange
	e.mu.Unlock()

	if changed && cb != nil {
		cb(pages)
	}
	return pages
}

// Pages returns the last computed page count.
func (e *Estimator) Pages() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pages
}
