// Package textnorm cleans recognized highlight text and folds text for
// whitespace- and hyphenation-insensitive matching.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var cleanups = []struct {
	re   *regexp.Regexp
	repl string
}{
	// superscript citation markers: (1), (23), (p4)
	{regexp.MustCompile(`\(p?\d+\)`), ""},
	{regexp.MustCompile(`,\s*,`), ","},
	{regexp.MustCompile(`;\s*;`), ";"},
	{regexp.MustCompile(`,(\s*and\b)`), "$1"},
	{regexp.MustCompile(`([.;!?])([A-Za-z])`), "$1 $2"},
	{regexp.MustCompile(`,([A-Za-z])`), ", $1"},
	// line-wrap joins like "operationsWe"; acronyms such as "GenAI" survive
	{regexp.MustCompile(`([a-z]{2})([A-Z][a-z])`), "$1 $2"},
	{regexp.MustCompile(` {2,}`), " "},
}

// Clean repairs recognition artifacts in highlight text.
func Clean(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	for _, c := range cleanups {
		text = c.re.ReplaceAllString(text, c.repl)
	}
	return strings.TrimSpace(text)
}

// IsBlank reports whether text has no letters, digits or symbols once
// whitespace and punctuation are stripped.
func IsBlank(text string) bool {
	for _, r := range text {
		if !unicode.IsSpace(r) && !unicode.IsPunct(r) {
			return false
		}
	}
	return true
}

// skipped runes vanish when folding: hyphens break differently in the
// recognized text and the document's text layer.
func skipped(r rune) bool {
	switch r {
	case '-', '\u00ad', '\u2010', '\u2011':
		return true
	}
	return unicode.IsSpace(r)
}

// Fold returns the matching key of s: NFKC, lowercased, with whitespace,
// hyphens and citation markers removed.
func Fold(s string) string {
	key, _ := FoldIndexed([]string{s})
	return string(key)
}

// FoldIndexed folds each element of parts independently and returns the
// concatenated key with, for every key rune, the index of the part it came
// from. Matching a substring of the key then maps back to source parts.
// Citation markers are removed from the joined key, so a marker split
// across parts still folds away.
func FoldIndexed(parts []string) ([]rune, []int) {
	var key []rune
	var owner []int
	for i, p := range parts {
		for _, r := range norm.NFKC.String(p) {
			if skipped(r) {
				continue
			}
			key = append(key, unicode.ToLower(r))
			owner = append(owner, i)
		}
	}
	return dropCitations(key, owner)
}

// dropCitations removes folded citation markers, "(12)" or "(p3)", the same
// markers Clean strips from highlight text.
func dropCitations(key []rune, owner []int) ([]rune, []int) {
	outKey, outOwner := key[:0:0], owner[:0:0]
	for i := 0; i < len(key); i++ {
		if n := citationLen(key[i:]); n > 0 {
			i += n - 1
			continue
		}
		outKey = append(outKey, key[i])
		outOwner = append(outOwner, owner[i])
	}
	return outKey, outOwner
}

// citationLen returns the length of the citation marker starting key, or 0.
func citationLen(key []rune) int {
	if len(key) < 3 || key[0] != '(' {
		return 0
	}
	i := 1
	if key[i] == 'p' {
		i++
	}
	digits := i
	for i < len(key) && key[i] >= '0' && key[i] <= '9' {
		i++
	}
	if i == digits || i >= len(key) || key[i] != ')' {
		return 0
	}
	return i + 1
}
