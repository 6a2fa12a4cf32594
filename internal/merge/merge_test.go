package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/papersync/internal/bundle"
)

func frag(id string, page int, x, y, w float64, text string) bundle.Fragment {
	return bundle.Fragment{ID: id, PageIndex: page, Box: bundle.Box{X: x, Y: y, W: w, H: 20}, Text: text}
}

func pages(n int) []bundle.Page {
	out := make([]bundle.Page, n)
	for i := range out {
		out[i] = bundle.Page{ID: "p", Index: i, Width: 1404, Height: 1872}
	}
	return out
}

func TestMerge_AdjoiningFragmentsBecomeOnePassage(t *testing.T) {
	got := Merger{}.Merge(pages(1), []bundle.Fragment{
		frag("p/b", 0, 295, 302, 200, "brown fox jumps"),
		frag("p/a", 0, 100, 300, 200, "the quick brown"),
	})

	require.Len(t, got, 1)
	assert.Equal(t, "the quick brown fox jumps", got[0].Text)
	assert.Equal(t, []string{"p/a", "p/b"}, got[0].SourceFragmentIDs)
	assert.Empty(t, got[0].Regions)
	assert.NotNil(t, got[0].Regions)
}

func TestMerge_SubpixelSkewKeepsLeftToRight(t *testing.T) {
	got := Merger{}.Merge(pages(1), []bundle.Fragment{
		frag("p/a", 0, 100, 300.4, 200, "the quick"),
		frag("p/b", 0, 305, 300, 200, "brown fox"),
	})

	require.Len(t, got, 1)
	assert.Equal(t, "the quick brown fox", got[0].Text)
	assert.Equal(t, []string{"p/a", "p/b"}, got[0].SourceFragmentIDs)
}

func TestMerge_WrappedLinesReadTopToBottom(t *testing.T) {
	got := Merger{}.Merge(pages(1), []bundle.Fragment{
		frag("p/c", 0, 100, 330, 500, "over the lazy dog"),
		frag("p/b", 0, 305, 300.5, 200, "brown fox jumps"),
		frag("p/a", 0, 100, 301, 200, "the quick"),
	})

	require.Len(t, got, 1)
	assert.Equal(t, "the quick brown fox jumps over the lazy dog", got[0].Text)
	assert.Equal(t, []string{"p/a", "p/b", "p/c"}, got[0].SourceFragmentIDs)
}

func TestMerge_PositionIsFractionOfPageHeight(t *testing.T) {
	got := Merger{}.Merge(pages(1), []bundle.Fragment{
		frag("p/a", 0, 100, 468, 500, "A passage a quarter down."),
		frag("p/b", 0, 100, 1404, 500, "Another three quarters down."),
	})

	require.Len(t, got, 2)
	assert.InDelta(t, 0.25, got[0].Position, 1e-9)
	assert.InDelta(t, 0.75, got[1].Position, 1e-9)

	unknown := Merger{}.Merge(nil, []bundle.Fragment{frag("p/a", 0, 100, 468, 500, "No page size.")})
	require.Len(t, unknown, 1)
	assert.Zero(t, unknown[0].Position)
}

func TestMerge_RightColumnCapturedFirstReadsAfterLeft(t *testing.T) {
	got := Merger{}.Merge(pages(1), []bundle.Fragment{
		frag("p/r", 0, 760, 200, 500, "Right column passage."),
		frag("p/l", 0, 80, 400, 500, "Left column passage."),
	})

	require.Len(t, got, 2)
	assert.Equal(t, "Left column passage.", got[0].Text)
	assert.Equal(t, 0, got[0].ColumnIndex)
	assert.Equal(t, "Right column passage.", got[1].Text)
	assert.Equal(t, 1, got[1].ColumnIndex)
}

func TestMerge_FacingColumnsOnSameLineStaySeparate(t *testing.T) {
	got := Merger{}.Merge(pages(1), []bundle.Fragment{
		frag("p/l", 0, 80, 300, 500, "left text"),
		frag("p/r", 0, 760, 300, 500, "right text"),
	})
	require.Len(t, got, 2)
	assert.Equal(t, "left text", got[0].Text)
	assert.Equal(t, "right text", got[1].Text)
}

func TestMerge_WrappedHighlightJoins(t *testing.T) {
	got := Merger{}.Merge(pages(1), []bundle.Fragment{
		frag("p/1", 0, 300, 300, 300, "highlight begins here and"),
		frag("p/2", 0, 80, 330, 200, "wraps onto the next line."),
	})
	require.Len(t, got, 1)
	assert.Equal(t, "highlight begins here and wraps onto the next line.", got[0].Text)
	assert.Equal(t, 0, got[0].ColumnIndex)
}

func TestMerge_DistantLinesStaySeparate(t *testing.T) {
	got := Merger{}.Merge(pages(1), []bundle.Fragment{
		frag("p/1", 0, 80, 300, 500, "First idea."),
		frag("p/2", 0, 80, 900, 500, "Second idea."),
	})
	require.Len(t, got, 2)
}

func TestMerge_DifferentColorsStaySeparate(t *testing.T) {
	a := frag("p/1", 0, 100, 300, 200, "yellow part")
	b := frag("p/2", 0, 300, 300, 200, "green part")
	b.Color = 4
	got := Merger{}.Merge(pages(1), []bundle.Fragment{a, b})
	require.Len(t, got, 2)
}

func TestMerge_CrossPageContinuation(t *testing.T) {
	got := Merger{}.Merge(pages(2), []bundle.Fragment{
		frag("p0/1", 0, 80, 1700, 500, "results show that the proposed"),
		frag("p1/1", 1, 80, 100, 500, "method outperforms the baseline."),
	})

	require.Len(t, got, 1)
	assert.Equal(t, "results show that the proposed method outperforms the baseline.", got[0].Text)
	assert.Equal(t, 0, got[0].PageIndex)
	assert.Equal(t, 1, got[0].EndPageIndex)
	assert.Equal(t, []string{"p0/1", "p1/1"}, got[0].SourceFragmentIDs)
}

func TestMerge_SentenceEndKeepsPagesSeparate(t *testing.T) {
	got := Merger{}.Merge(pages(2), []bundle.Fragment{
		frag("p0/1", 0, 80, 1700, 500, "as shown in Figure 3."),
		frag("p1/1", 1, 80, 100, 500, "In this section"),
	})

	require.Len(t, got, 2)
	assert.Equal(t, "as shown in Figure 3.", got[0].Text)
	assert.Equal(t, "In this section", got[1].Text)
	assert.Equal(t, 1, got[1].PageIndex)
}

func TestMerge_NonAdjacentPagesNeverJoin(t *testing.T) {
	got := Merger{}.Merge(pages(3), []bundle.Fragment{
		frag("p0/1", 0, 80, 1700, 500, "an unfinished"),
		frag("p2/1", 2, 80, 100, 500, "thought continues"),
	})
	require.Len(t, got, 2)
}

func TestMerge_ContinuationChainsOverThreePages(t *testing.T) {
	got := Merger{}.Merge(pages(3), []bundle.Fragment{
		frag("p0/1", 0, 80, 1700, 500, "a very long"),
		frag("p1/1", 1, 80, 100, 500, "sentence that keeps"),
		frag("p2/1", 2, 80, 100, 500, "going on."),
	})
	require.Len(t, got, 1)
	assert.Equal(t, "a very long sentence that keeps going on.", got[0].Text)
	assert.Equal(t, 2, got[0].EndPageIndex)
}

func TestMerge_CleansCitationMarkers(t *testing.T) {
	got := Merger{}.Merge(pages(1), []bundle.Fragment{
		frag("p/1", 0, 80, 300, 500, "prior work(12) showed"),
	})
	require.Len(t, got, 1)
	assert.Equal(t, "prior work showed", got[0].Text)
}

func TestMerge_UnknownWidthIsSingleColumn(t *testing.T) {
	got := Merger{}.Merge(nil, []bundle.Fragment{
		frag("p/1", 0, 300, 300, 300, "starts mid line and"),
		frag("p/2", 0, 80, 330, 100, "wraps."),
	})
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].ColumnIndex)
}

func TestJoinDedup(t *testing.T) {
	assert.Equal(t, "species or genus", JoinDedup([]string{"species", "species or genus"}, 5))
	assert.Equal(t, "a b c d e", JoinDedup([]string{"a b c", "b c d e"}, 5))
	assert.Equal(t, "a b c b c d", JoinDedup([]string{"a b c", "b c d"}, 1))
	assert.Equal(t, "no overlap here", JoinDedup([]string{"no overlap", "here"}, 5))
	assert.Equal(t, "", JoinDedup(nil, 5))
}

func TestEndsSentence(t *testing.T) {
	for _, s := range []string{"done.", "really?", "wow!", "as follows:", `he said "go"`, "trailing.  ", "…"} {
		assert.True(t, EndsSentence(s), s)
	}
	for _, s := range []string{"the proposed", "a list,", "x;"} {
		assert.False(t, EndsSentence(s), s)
	}
}

func TestStartsLowercase(t *testing.T) {
	assert.True(t, StartsLowercase("method outperforms"))
	assert.True(t, StartsLowercase(`"quoted lowercase`))
	assert.False(t, StartsLowercase("In this section"))
	assert.False(t, StartsLowercase("3 results"))
	assert.False(t, StartsLowercase(""))
}
