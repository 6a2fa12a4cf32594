package annotate

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/color"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/roach88/papersync/internal/record"
)

func init() {
	// Keep pdfcpu from installing a config directory under the user's home.
	model.ConfigPath = "disable"
}

var (
	highlightColor   = color.SimpleColor{R: 1.0, G: 0.92, B: 0.3}
	highlightOpacity = 0.35
)

const highlightTitle = "papersync"

// A vertical gap between consecutive line regions of at least this
// fraction of the page height splits a highlight in two.
const splitGapFraction = 0.03

// errNothingToOverlay is returned when no excerpt carries a region.
var errNothingToOverlay = errors.New("no regions to highlight")

// DefaultConfiguration returns the pdfcpu configuration used for overlays.
func DefaultConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// overlay writes src with highlight annotations for every located excerpt.
// heights holds the page heights by page index.
func overlay(src []byte, excerpts []record.Excerpt, heights []float64, conf *model.Configuration) ([]byte, error) {
	m := make(map[int][]model.AnnotationRenderer)
	for i, e := range excerpts {
		byPage := make(map[int][]record.Region)
		var order []int
		for _, r := range e.Regions {
			if _, seen := byPage[r.PageIndex]; !seen {
				order = append(order, r.PageIndex)
			}
			byPage[r.PageIndex] = append(byPage[r.PageIndex], r)
		}
		for _, page := range order {
			height := defaultPageHeight
			if page < len(heights) {
				height = heights[page]
			}
			for j, group := range splitGroups(byPage[page], splitGapFraction*height) {
				id := fmt.Sprintf("papersync-%d-%d-%d", i, page, j)
				m[page+1] = append(m[page+1], highlight(id, e.Text, group))
			}
		}
	}
	if len(m) == 0 {
		return nil, errNothingToOverlay
	}

	var out bytes.Buffer
	if err := api.AddAnnotationsMap(bytes.NewReader(src), &out, m, conf); err != nil {
		return nil, fmt.Errorf("add highlights: %w", err)
	}
	return out.Bytes(), nil
}

// splitGroups cuts regions, in reading order, wherever the next region
// starts at least gap below the previous one or jumps back up the page.
func splitGroups(regions []record.Region, gap float64) [][]record.Region {
	var groups [][]record.Region
	start := 0
	for i := 1; i < len(regions); i++ {
		prev, cur := regions[i-1], regions[i]
		if prev.Y0-cur.Y1 >= gap || cur.Y0 > prev.Y1 {
			groups = append(groups, regions[start:i])
			start = i
		}
	}
	return append(groups, regions[start:])
}

func highlight(id, text string, regions []record.Region) model.HighlightAnnotation {
	bounds := regions[0]
	var quads types.QuadPoints
	for _, r := range regions {
		bounds.X0, bounds.Y0 = min(bounds.X0, r.X0), min(bounds.Y0, r.Y0)
		bounds.X1, bounds.Y1 = max(bounds.X1, r.X1), max(bounds.Y1, r.Y1)
		quads.AddQuadLiteral(*types.NewQuadLiteralForRect(types.NewRectangle(r.X0, r.Y0, r.X1, r.Y1)))
	}
	rect := types.NewRectangle(bounds.X0, bounds.Y0, bounds.X1, bounds.Y1)
	col := highlightColor
	opacity := highlightOpacity
	return model.NewHighlightAnnotation(
		*rect,
		0,
		text, id,
		"",
		model.AnnPrint,
		&col,
		0, 0, 0,
		highlightTitle,
		nil,
		&opacity,
		"", "",
		quads,
	)
}
