// Package annotate locates merged excerpts in a document's text layer and
// overlays highlight annotations at the matched positions.
package annotate

import (
	"context"
	"log/slog"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/roach88/papersync/internal/record"
)

// Degradation reasons reported in Result.Degraded.
const (
	DegradedUnmatched = "unmatched_excerpts"
	DegradedTextLayer = "text_layer_unreadable"
	DegradedOverlay   = "overlay_failed"
)

// Result is the outcome of annotating one document.
type Result struct {
	// PDF is the annotated document, or the unmodified source when no
	// highlight could be rendered.
	PDF []byte
	// Excerpts are the inputs with Regions filled in where matched.
	Excerpts  []record.Excerpt
	Matched   int
	Unmatched int
	Degraded  []string
}

// Annotator places highlights for excerpts on the source document.
type Annotator struct {
	Logger *slog.Logger
	// Config is the pdfcpu configuration; nil uses DefaultConfiguration.
	Config *model.Configuration
}

// Annotate never fails on document content: unparseable text layers and
// overlay errors degrade to the unannotated source. Only a cancelled
// context is returned as an error.
func (a Annotator) Annotate(ctx context.Context, src []byte, excerpts []record.Excerpt) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}

	res := &Result{PDF: src, Excerpts: make([]record.Excerpt, len(excerpts))}
	for i, e := range excerpts {
		e.Regions = []record.Region{}
		res.Excerpts[i] = e
	}

	pages, err := readTextLayer(src, logger)
	if err != nil {
		logger.Warn("text layer unreadable; leaving excerpts unmatched", "error", err)
		res.Unmatched = len(excerpts)
		res.Degraded = append(res.Degraded, DegradedTextLayer)
		return res, nil
	}

	index := make([]*pageIndex, len(pages))
	heights := make([]float64, len(pages))
	for i, p := range pages {
		index[i] = newPageIndex(p)
		heights[i] = p.Height
	}

	for i := range res.Excerpts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e := &res.Excerpts[i]
		regions := locate(index, e.Text, e.Position, e.PageIndex, max(e.EndPageIndex, e.PageIndex))
		if regions == nil {
			res.Unmatched++
			logger.Debug("excerpt not found in text layer", "page", e.PageIndex, "text", preview(e.Text))
			continue
		}
		e.Regions = regions
		res.Matched++
	}
	if res.Unmatched > 0 {
		res.Degraded = append(res.Degraded, DegradedUnmatched)
	}
	if res.Matched == 0 {
		return res, nil
	}

	conf := a.Config
	if conf == nil {
		conf = DefaultConfiguration()
	}
	out, err := overlay(src, res.Excerpts, heights, conf)
	if err != nil {
		logger.Warn("highlight overlay failed; keeping unannotated document", "error", err)
		res.Degraded = append(res.Degraded, DegradedOverlay)
		return res, nil
	}
	res.PDF = out
	return res, nil
}

func preview(s string) string {
	const n = 60
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
