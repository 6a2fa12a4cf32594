package annotate

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/ledongthuc/pdf"
)

// Letter-size fallback when a page declares no usable MediaBox.
const (
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0
)

// glyph is one positioned character of a page's text layer. X and Y are
// the baseline origin in PDF user space.
type glyph struct {
	X, Y float64
	W    float64
	Size float64
	S    string
}

type pageText struct {
	Index         int
	Width, Height float64
	Glyphs        []glyph
}

// readTextLayer returns the text layer of every page. A page whose content
// stream cannot be interpreted yields no glyphs; a document that cannot be
// opened at all is an error.
func readTextLayer(data []byte, logger *slog.Logger) (pages []pageText, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("read text layer: %v", r)
		}
	}()

	rd, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open text layer: %w", err)
	}

	n := rd.NumPage()
	pages = make([]pageText, 0, n)
	for i := 1; i <= n; i++ {
		p := rd.Page(i)
		pt := pageText{Index: i - 1, Width: defaultPageWidth, Height: defaultPageHeight}
		if p.V.IsNull() {
			pages = append(pages, pt)
			continue
		}
		pt.Width, pt.Height = pageSize(p)
		glyphs, perr := pageGlyphs(p)
		if perr != nil {
			logger.Warn("skipping unreadable text layer", "page", i-1, "error", perr)
		}
		pt.Glyphs = glyphs
		pages = append(pages, pt)
	}
	return pages, nil
}

func pageGlyphs(p pdf.Page) (glyphs []glyph, err error) {
	defer func() {
		if r := recover(); r != nil {
			glyphs, err = nil, fmt.Errorf("interpret content: %v", r)
		}
	}()
	for _, t := range p.Content().Text {
		glyphs = append(glyphs, glyph{X: t.X, Y: t.Y, W: t.W, Size: t.FontSize, S: t.S})
	}
	return glyphs, nil
}

// pageSize resolves the MediaBox, which may be inherited from the page tree.
func pageSize(p pdf.Page) (float64, float64) {
	for v := p.V; !v.IsNull(); v = v.Key("Parent") {
		box := v.Key("MediaBox")
		if box.Kind() != pdf.Array || box.Len() != 4 {
			continue
		}
		w := box.Index(2).Float64() - box.Index(0).Float64()
		h := box.Index(3).Float64() - box.Index(1).Float64()
		if w > 0 && h > 0 {
			return w, h
		}
	}
	return defaultPageWidth, defaultPageHeight
}
