package record

import (
	"math"
	"strings"
)

// Engagement summarizes how thoroughly a paper was read, derived from its
// excerpts and page count.
type Engagement struct {
	PageCount          int `json:"page_count"`
	HighlightedPages   int `json:"highlighted_pages"`
	HighlightWordCount int `json:"highlight_word_count"`
	// Score is 0..100: highlight density (30%, saturating at one per page),
	// page coverage (40%) and volume (30%, saturating at 20 highlights).
	Score int `json:"score"`
}

// ComputeEngagement scores excerpts against a document of pageCount pages.
// An excerpt counts toward the page it starts on.
func ComputeEngagement(excerpts []Excerpt, pageCount int) Engagement {
	e := Engagement{PageCount: pageCount}
	if len(excerpts) == 0 {
		return e
	}
	pages := map[int]bool{}
	for _, x := range excerpts {
		pages[x.PageIndex] = true
		e.HighlightWordCount += len(strings.Fields(x.Text))
	}
	e.HighlightedPages = len(pages)

	n := float64(max(pageCount, 1))
	count := float64(len(excerpts))
	density := min(count/n, 1)
	coverage := min(float64(e.HighlightedPages)/n, 1)
	volume := min(count/20, 1)
	e.Score = int(math.RoundToEven((density*0.3 + coverage*0.4 + volume*0.3) * 100))
	return e
}
