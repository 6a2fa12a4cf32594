package record

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "in": true, "on": true,
	"for": true, "and": true, "to": true, "with": true, "from": true,
}

// DeriveCitekey builds the surname_word_year key for meta. An externally
// supplied key wins.
func DeriveCitekey(meta Metadata) string {
	if k := strings.TrimSpace(meta.Citekey); k != "" {
		return k
	}

	surname := "unknown"
	if len(meta.Authors) > 0 {
		raw, _, _ := strings.Cut(meta.Authors[0], ",")
		if s := asciiLetters(raw); s != "" {
			surname = s
		}
	}

	word := "untitled"
	for _, w := range strings.Fields(meta.Title) {
		cleaned := asciiLetters(w)
		if cleaned != "" && !stopWords[cleaned] {
			word = cleaned
			break
		}
	}

	parts := []string{surname, word}
	if y := yearOf(meta.Date); y != "" {
		parts = append(parts, y)
	}
	return strings.Join(parts, "_")
}

// asciiLetters lowercases s, folds accents (é -> e) and keeps a-z only.
func asciiLetters(s string) string {
	var b strings.Builder
	for _, r := range norm.NFD.String(strings.ToLower(s)) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func yearOf(date string) string {
	date = strings.TrimSpace(date)
	if len(date) < 4 {
		return ""
	}
	y := date[:4]
	for _, r := range y {
		if !unicode.IsDigit(r) {
			return ""
		}
	}
	return y
}

// ResolveCollision returns base when free, otherwise base with the first
// free suffix of _a.._z, _aa, _ab, ... taken reports whether a key is held
// by another record.
func ResolveCollision(base string, taken func(string) bool) string {
	if !taken(base) {
		return base
	}
	for n := 0; ; n++ {
		candidate := base + "_" + suffix(n)
		if !taken(candidate) {
			return candidate
		}
	}
}

// suffix maps 0 -> a, 25 -> z, 26 -> aa (bijective base 26).
func suffix(n int) string {
	var out []byte
	for n >= 0 {
		out = append([]byte{byte('a' + n%26)}, out...)
		n = n/26 - 1
	}
	return string(out)
}
