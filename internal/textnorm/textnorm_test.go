package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"deep networks(12) generalize", "deep networks generalize"},
		{"as shown(p3), and later", "as shown and later"},
		{"end.Next sentence", "end. Next sentence"},
		{"alpha,beta", "alpha, beta"},
		{"operationsWe measured", "operations We measured"},
		{"GenAI systems", "GenAI systems"},
		{"  spaced \n  out  ", "spaced out"},
		{"one,, two", "one, two"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestIsBlank(t *testing.T) {
	assert.True(t, IsBlank(""))
	assert.True(t, IsBlank("  "))
	assert.True(t, IsBlank("-"))
	assert.True(t, IsBlank(" — "))
	assert.True(t, IsBlank("...,;"))
	assert.False(t, IsBlank("a"))
	assert.False(t, IsBlank("(3)"))
	assert.False(t, IsBlank("+"))
}

func TestFold(t *testing.T) {
	assert.Equal(t, "theproposedmethod", Fold("The pro-\nposed  Method"))
	assert.Equal(t, "efficient", Fold("eﬃcient"))
	assert.Equal(t, "softhyphen", Fold("soft\u00adhyphen"))
}

func TestFoldIndexed(t *testing.T) {
	key, owner := FoldIndexed([]string{"Ab", " ", "c-d"})
	assert.Equal(t, []rune("abcd"), key)
	assert.Equal(t, []int{0, 0, 2, 2}, owner)
}

func TestFold_DropsCitationMarkers(t *testing.T) {
	assert.Equal(t, Fold(Clean("Prior work (12) shows large gains.")), Fold("Prior work (12) shows large gains."))
	assert.Equal(t, "seepage.", Fold("see (p4) page."))
	assert.Equal(t, "(a)and(p)stay", Fold("(a) and (p) stay"))
	assert.Equal(t, "x()", Fold("x ()"))
}

func TestFoldIndexed_CitationAcrossParts(t *testing.T) {
	key, owner := FoldIndexed([]string{"work", " ", "(1", "2)", " ", "shows"})
	assert.Equal(t, []rune("workshows"), key)
	assert.Equal(t, []int{0, 0, 0, 0, 5, 5, 5, 5, 5}, owner)
}
