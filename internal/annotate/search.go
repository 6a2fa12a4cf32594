package annotate

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/roach88/papersync/internal/record"
	"github.com/roach88/papersync/internal/textnorm"
)

// Glyph boxes extend below and above the baseline by these fractions of
// the font size.
const (
	descent = 0.22
	ascent  = 0.9
)

// pageIndex is the folded search key of one page plus the glyph each key
// rune came from.
type pageIndex struct {
	page  pageText
	key   string
	owner []int
}

func newPageIndex(p pageText) *pageIndex {
	parts := make([]string, len(p.Glyphs))
	for i, g := range p.Glyphs {
		parts[i] = g.S
	}
	key, owner := textnorm.FoldIndexed(parts)
	return &pageIndex{page: p, key: string(key), owner: owner}
}

// find locates text on the page. When the text occurs more than once, the
// occurrence whose first glyph lies nearest position (a fraction of the
// page height from the top) wins. It returns one region per line, or nil.
func (ix *pageIndex) find(text string, position float64) []record.Region {
	needle := textnorm.Fold(text)
	if needle == "" {
		return nil
	}
	best, bestDist := -1, math.Inf(1)
	for from := 0; from < len(ix.key); {
		at := strings.Index(ix.key[from:], needle)
		if at < 0 {
			break
		}
		at += from
		start := utf8.RuneCountInString(ix.key[:at])
		if d := math.Abs(ix.position(ix.owner[start]) - position); d < bestDist {
			best, bestDist = start, d
		}
		_, size := utf8.DecodeRuneInString(ix.key[at:])
		from = at + size
	}
	if best < 0 {
		return nil
	}
	end := best + utf8.RuneCountInString(needle) - 1
	return ix.regions(ix.owner[best], ix.owner[end])
}

// position is the distance of a glyph's top from the top of the page as a
// fraction of the page height.
func (ix *pageIndex) position(i int) float64 {
	h := ix.page.Height
	if h <= 0 {
		return 0
	}
	g := ix.page.Glyphs[i]
	return (h - (g.Y + ascent*g.Size)) / h
}

func (ix *pageIndex) regions(first, last int) []record.Region {
	var out []record.Region
	var lineY float64
	for _, g := range ix.page.Glyphs[first : last+1] {
		if strings.TrimSpace(g.S) == "" {
			continue
		}
		x0, x1 := g.X, g.X+g.W
		y0, y1 := g.Y-descent*g.Size, g.Y+ascent*g.Size
		if n := len(out); n > 0 && math.Abs(g.Y-lineY) <= max(g.Size, 1)/2 {
			r := &out[n-1]
			r.X0, r.X1 = min(r.X0, x0), max(r.X1, x1)
			r.Y0, r.Y1 = min(r.Y0, y0), max(r.Y1, y1)
			continue
		}
		out = append(out, record.Region{PageIndex: ix.page.Index, X0: x0, Y0: y0, X1: x1, Y1: y1})
		lineY = g.Y
	}
	return out
}

// locate finds text on pages from..to, nearest position on the first page.
// A passage continued across a page break is split at the word boundary
// whose head is found on the first page and whose tail continues at the top
// of the following ones; longer heads win.
func locate(pages []*pageIndex, text string, position float64, from, to int) []record.Region {
	if from < 0 || from >= len(pages) {
		return nil
	}
	ix := pages[from]
	if r := ix.find(text, position); r != nil {
		return r
	}
	if from >= to {
		return nil
	}
	words := strings.Fields(text)
	for i := len(words) - 1; i > 0; i-- {
		head := ix.find(strings.Join(words[:i], " "), position)
		if head == nil {
			continue
		}
		if tail := locate(pages, strings.Join(words[i:], " "), 0, from+1, to); tail != nil {
			return append(head, tail...)
		}
	}
	return nil
}
