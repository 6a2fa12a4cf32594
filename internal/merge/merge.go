// Package merge turns raw stroke-order fragments into reading-order
// passages.
package merge

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/roach88/papersync/internal/bundle"
	"github.com/roach88/papersync/internal/record"
	"github.com/roach88/papersync/internal/textnorm"
)

// Options tunes fragment coalescing. Distances are in scene units.
type Options struct {
	// LineTolerance is the largest vertical distance between consecutive
	// fragments of one passage.
	LineTolerance float64
	// HorizontalGap is the largest horizontal gap still treated as contiguous.
	HorizontalGap float64
	// MaxOverlapWords bounds the boundary run collapsed by deduplication.
	MaxOverlapWords int
}

// DefaultOptions returns the tuning used for device scenes.
func DefaultOptions() Options {
	return Options{LineTolerance: 100, HorizontalGap: 10, MaxOverlapWords: 5}
}

// Merger coalesces fragments into excerpts.
type Merger struct {
	Options Options
}

// passage is an excerpt under construction.
type passage struct {
	page      int
	endPage   int
	column    int
	position  float64
	fragments []bundle.Fragment
	text      string
	sourceIDs []string
}

func (p *passage) last() bundle.Fragment { return p.fragments[len(p.fragments)-1] }

func (p *passage) left() float64 {
	x := p.fragments[0].Box.X
	for _, f := range p.fragments[1:] {
		x = min(x, f.Box.X)
	}
	return x
}

func (p *passage) right() float64 {
	x := p.fragments[0].Box.Right()
	for _, f := range p.fragments[1:] {
		x = max(x, f.Box.Right())
	}
	return x
}

// Merge groups fragments by page, orders each page by vertical then
// horizontal position, coalesces adjacent fragments, and joins passages
// continued across a page break. pages supplies scene widths for column
// detection and heights for excerpt positions; a page of unknown width is
// treated as single-column.
func (m Merger) Merge(pages []bundle.Page, fragments []bundle.Fragment) []record.Excerpt {
	opts := m.Options
	if opts == (Options{}) {
		opts = DefaultOptions()
	}

	byPage := map[int][]bundle.Fragment{}
	for _, f := range fragments {
		byPage[f.PageIndex] = append(byPage[f.PageIndex], f)
	}
	pageIdx := make([]int, 0, len(byPage))
	for p := range byPage {
		pageIdx = append(pageIdx, p)
	}
	sort.Ints(pageIdx)

	sizes := map[int]bundle.Page{}
	for _, p := range pages {
		sizes[p.Index] = p
	}

	var ordered []*passage
	for _, p := range pageIdx {
		ordered = append(ordered, mergePage(p, byPage[p], sizes[p], opts)...)
	}

	ordered = joinAcrossPages(ordered, opts)

	out := make([]record.Excerpt, 0, len(ordered))
	for _, p := range ordered {
		out = append(out, record.Excerpt{
			PageIndex:         p.page,
			EndPageIndex:      p.endPage,
			ColumnIndex:       p.column,
			Regions:           []record.Region{},
			Text:              p.text,
			SourceFragmentIDs: p.sourceIDs,
			Position:          p.position,
		})
	}
	return out
}

func mergePage(page int, frags []bundle.Fragment, size bundle.Page, opts Options) []*passage {
	width := size.Width
	sorted := append([]bundle.Fragment(nil), frags...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Box.Y != sorted[j].Box.Y {
			return sorted[i].Box.Y < sorted[j].Box.Y
		}
		return sorted[i].Box.X < sorted[j].Box.X
	})

	var passages []*passage
	for _, f := range sorted {
		if p := attachTarget(passages, f, width, opts); p != nil {
			p.fragments = append(p.fragments, f)
			continue
		}
		passages = append(passages, &passage{page: page, endPage: page, fragments: []bundle.Fragment{f}})
	}

	assignColumns(passages, width, opts)

	for _, p := range passages {
		readingOrder(p.fragments)
		if size.Height > 0 {
			p.position = min(max(p.fragments[0].Box.Y/size.Height, 0), 1)
		}
		parts := make([]string, len(p.fragments))
		for i, f := range p.fragments {
			parts[i] = f.Text
			p.sourceIDs = append(p.sourceIDs, f.ID)
		}
		p.text = textnorm.Clean(JoinDedup(parts, opts.MaxOverlapWords))
	}

	sort.SliceStable(passages, func(i, j int) bool {
		a, b := passages[i], passages[j]
		if a.column != b.column {
			return a.column < b.column
		}
		if a.fragments[0].Box.Y != b.fragments[0].Box.Y {
			return a.fragments[0].Box.Y < b.fragments[0].Box.Y
		}
		return a.fragments[0].Box.X < b.fragments[0].Box.X
	})
	return passages
}

// readingOrder sorts fragments into lines, top to bottom, and each line left
// to right. A fragment within half a line height of the line's first
// fragment shares its line.
func readingOrder(frags []bundle.Fragment) {
	sort.SliceStable(frags, func(i, j int) bool { return frags[i].Box.Y < frags[j].Box.Y })
	for start := 0; start < len(frags); {
		top, height := frags[start].Box.Y, frags[start].Box.H
		end := start + 1
		for ; end < len(frags); end++ {
			lineHeight := max(height, frags[end].Box.H)
			if lineHeight <= 0 {
				lineHeight = 10
			}
			if frags[end].Box.Y-top > lineHeight/2 {
				break
			}
			height = lineHeight
		}
		line := frags[start:end]
		sort.SliceStable(line, func(i, j int) bool { return line[i].Box.X < line[j].Box.X })
		start = end
	}
}

// attachTarget returns the most recent passage f continues. Candidates share
// f's color and sit within LineTolerance vertically of their last fragment.
// On the same line the two must be horizontally contiguous or overlapping;
// on a following line they must lie in the same column, so a highlight
// wrapping to the next line joins while one in the facing column does not.
func attachTarget(passages []*passage, f bundle.Fragment, width float64, opts Options) *passage {
	for i := len(passages) - 1; i >= 0; i-- {
		last := passages[i].last()
		if last.Color != f.Color {
			continue
		}
		dy := f.Box.Y - last.Box.Y
		if dy > opts.LineTolerance {
			continue
		}
		lineHeight := max(last.Box.H, f.Box.H)
		if lineHeight <= 0 {
			lineHeight = 10
		}
		if dy <= lineHeight/2 {
			if f.Box.X > last.Box.Right()+opts.HorizontalGap || last.Box.X > f.Box.Right()+opts.HorizontalGap {
				continue
			}
			return passages[i]
		}
		if oppositeSides(side(last.Box, width, opts), side(f.Box, width, opts)) {
			continue
		}
		return passages[i]
	}
	return nil
}

type pageSide int

const (
	sideSpanning pageSide = iota
	sideLeft
	sideRight
)

// side places a box relative to the page midline. Without a known page
// width every box counts as spanning.
func side(b bundle.Box, width float64, opts Options) pageSide {
	if width <= 0 {
		return sideSpanning
	}
	mid := width / 2
	switch {
	case b.Right() <= mid+opts.HorizontalGap:
		return sideLeft
	case b.X >= mid-opts.HorizontalGap:
		return sideRight
	}
	return sideSpanning
}

func oppositeSides(a, b pageSide) bool {
	return (a == sideLeft && b == sideRight) || (a == sideRight && b == sideLeft)
}

// assignColumns marks a page two-column when every passage sits wholly on
// one side of the midline and both sides are used; right-side passages get
// column 1.
func assignColumns(passages []*passage, width float64, opts Options) {
	if width <= 0 {
		return
	}
	var leftSeen, rightSeen bool
	for _, p := range passages {
		extent := bundle.Box{X: p.left(), W: p.right() - p.left()}
		switch side(extent, width, opts) {
		case sideLeft:
			leftSeen = true
		case sideRight:
			rightSeen = true
		default:
			return
		}
	}
	if !leftSeen || !rightSeen {
		return
	}
	for _, p := range passages {
		extent := bundle.Box{X: p.left(), W: p.right() - p.left()}
		if side(extent, width, opts) == sideRight {
			p.column = 1
		}
	}
}

// joinAcrossPages concatenates the last passage ending on page k with the
// first passage of page k+1 when the former stops mid-sentence and the
// latter starts with a lowercase word.
func joinAcrossPages(ordered []*passage, opts Options) []*passage {
	var out []*passage
	for i, p := range ordered {
		firstOnPage := i == 0 || ordered[i-1].page != p.page
		if len(out) > 0 && firstOnPage {
			prev := out[len(out)-1]
			if prev.endPage+1 == p.page && !EndsSentence(prev.text) && StartsLowercase(p.text) {
				prev.text = JoinDedup([]string{prev.text, p.text}, opts.MaxOverlapWords)
				prev.endPage = p.page
				prev.sourceIDs = append(prev.sourceIDs, p.sourceIDs...)
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

// JoinDedup joins parts with single spaces, collapsing a run of up to
// maxOverlap words that ends one part and starts the next.
func JoinDedup(parts []string, maxOverlap int) string {
	var words []string
	for _, part := range parts {
		next := strings.Fields(part)
		overlap := 0
		for n := min(maxOverlap, len(words), len(next)); n > 0; n-- {
			if equalWords(words[len(words)-n:], next[:n]) {
				overlap = n
				break
			}
		}
		words = append(words, next[overlap:]...)
	}
	return strings.Join(words, " ")
}

func equalWords(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

const terminal = `.!?:"”…`

// EndsSentence reports whether text ends in sentence-terminal punctuation.
func EndsSentence(text string) bool {
	text = strings.TrimRightFunc(text, unicode.IsSpace)
	if text == "" {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text)
	return strings.ContainsRune(terminal, r)
}

// StartsLowercase reports whether text's first letter-bearing word begins
// with a lowercase letter.
func StartsLowercase(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) {
			return unicode.IsLower(r)
		}
		if unicode.IsDigit(r) {
			return false
		}
	}
	return false
}
