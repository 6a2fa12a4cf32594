package vault

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/roach88/papersync/internal/record"
)

// Markers delimit the part of a note this tool owns. Everything outside
// them belongs to the user.
const (
	MarkerStart = "<!-- papersync:start -->"
	MarkerEnd   = "<!-- papersync:end -->"
)

const myNotesHeading = "## My Notes"

// Note is the content rendered into a paper note.
type Note struct {
	Citekey    string
	ExternalID string
	Metadata   record.Metadata
	DateRead   time.Time
	Excerpts   []record.Excerpt
	Engagement record.Engagement
}

// NoteFor builds the note content of a record.
func NoteFor(rec *record.DocumentRecord) Note {
	return Note{
		Citekey:    rec.Citekey,
		ExternalID: rec.ExternalID,
		Metadata:   rec.Metadata,
		DateRead:   rec.ReadAt,
		Excerpts:   rec.Excerpts,
		Engagement: rec.Engagement,
	}
}

type frontmatter struct {
	Title    string   `yaml:"title"`
	Authors  []string `yaml:"authors"`
	Citekey  string   `yaml:"citekey"`
	DateRead string   `yaml:"date_read"`
	Tags     []string `yaml:"tags"`
	Zotero   string   `yaml:"zotero"`
	DOI      string   `yaml:"doi,omitempty"`

	Engagement         int `yaml:"engagement,omitempty"`
	HighlightedPages   int `yaml:"highlighted_pages,omitempty"`
	HighlightWordCount int `yaml:"highlight_word_count,omitempty"`
	PageCount          int `yaml:"page_count,omitempty"`
}

func (n Note) frontmatter() frontmatter {
	fm := frontmatter{
		Title:   n.Metadata.Title,
		Authors: append([]string{}, n.Metadata.Authors...),
		Citekey: n.Citekey,
		Tags:    []string{},
		Zotero:  "zotero://select/library/items/" + n.ExternalID,
		DOI:     n.Metadata.DOI,

		Engagement:         n.Engagement.Score,
		HighlightedPages:   n.Engagement.HighlightedPages,
		HighlightWordCount: n.Engagement.HighlightWordCount,
		PageCount:          n.Engagement.PageCount,
	}
	if !n.DateRead.IsZero() {
		fm.DateRead = n.DateRead.UTC().Format(time.DateOnly)
	}
	for _, t := range n.Metadata.Tags {
		if s := sanitizeTag(t); s != "" {
			fm.Tags = append(fm.Tags, s)
		}
	}
	return fm
}

// sanitizeTag lowercases a tag and replaces characters the vault does not
// accept in tags.
func sanitizeTag(tag string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(tag)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '/':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// block renders the owned section, markers included.
func (n Note) block() string {
	var b strings.Builder
	b.WriteString(MarkerStart + "\n")
	b.WriteString("## Highlights\n\n")

	byPage := map[int][]record.Excerpt{}
	var pages []int
	for _, e := range n.Excerpts {
		if _, ok := byPage[e.PageIndex]; !ok {
			pages = append(pages, e.PageIndex)
		}
		byPage[e.PageIndex] = append(byPage[e.PageIndex], e)
	}
	sort.Ints(pages)

	switch len(pages) {
	case 0:
		b.WriteString("*No highlights extracted.*\n")
	case 1:
		n.writeBullets(&b, byPage[pages[0]])
	default:
		for i, p := range pages {
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "### Page %d\n\n", p+1)
			n.writeBullets(&b, byPage[p])
		}
	}
	b.WriteString(MarkerEnd)
	return b.String()
}

// writeBullets lists excerpts; located ones link to their page of the
// annotated document.
func (n Note) writeBullets(b *strings.Builder, excerpts []record.Excerpt) {
	for _, e := range excerpts {
		fmt.Fprintf(b, "- \"%s\"", e.Text)
		if e.Matched() {
			page := e.Regions[0].PageIndex + 1
			fmt.Fprintf(b, " ([[%s.pdf#page=%d|p. %d]])", n.Citekey, page, page)
		}
		b.WriteString("\n")
	}
}

// WriteNote creates the note of n.Citekey or refreshes an existing one:
// owned frontmatter keys and the marked block are replaced, everything
// else is kept. It reports whether the file changed.
func (v *Vault) WriteNote(n Note) (bool, error) {
	path := v.NotePath(n.Citekey)
	current, err := readOptional(path)
	if err != nil {
		return false, fmt.Errorf("read note: %w", err)
	}

	var content string
	if current == nil {
		content, err = renderNew(n)
	} else {
		content, err = v.patch(string(current), n)
	}
	if err != nil {
		return false, err
	}

	changed, err := writeIfChanged(path, []byte(content))
	if err != nil {
		return false, err
	}
	if changed {
		v.logger.Info("wrote note", "citekey", n.Citekey)
	}
	return changed, nil
}

func renderNew(n Note) (string, error) {
	fm, err := encodeFrontmatter(n.frontmatter(), nil)
	if err != nil {
		return "", err
	}
	return "---\n" + fm + "---\n\n" + n.block() + "\n\n" + myNotesHeading + "\n", nil
}

func (v *Vault) patch(current string, n Note) (string, error) {
	fmText, body, hasFM := splitFrontmatter(current)

	var existing *yaml.Node
	if hasFM {
		var doc yaml.Node
		if err := yaml.Unmarshal([]byte(fmText), &doc); err != nil || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
			v.logger.Warn("note frontmatter unreadable; rewriting it", "citekey", n.Citekey, "error", err)
		} else {
			existing = doc.Content[0]
		}
	}
	fm, err := encodeFrontmatter(n.frontmatter(), existing)
	if err != nil {
		return "", err
	}

	block := n.block()
	start := strings.Index(body, MarkerStart)
	switch {
	case start < 0:
		body = strings.TrimRight(body, "\n") + "\n\n" + block + "\n"
	default:
		end := strings.Index(body[start:], MarkerEnd)
		if end < 0 {
			v.logger.Warn("note end marker missing; inserting a fresh block", "citekey", n.Citekey)
			body = body[:start] + block + body[start+len(MarkerStart):]
		} else {
			body = body[:start] + block + body[start+end+len(MarkerEnd):]
		}
	}
	if !hasFM {
		body = "\n" + strings.TrimLeft(body, "\n")
	}
	return "---\n" + fm + "---\n" + body, nil
}

// splitFrontmatter separates a leading "---" delimited YAML header.
func splitFrontmatter(s string) (fm, body string, ok bool) {
	if !strings.HasPrefix(s, "---\n") {
		return "", s, false
	}
	rest := s[len("---\n"):]
	if strings.HasPrefix(rest, "---\n") {
		return "", rest[len("---\n"):], true
	}
	end := strings.Index(rest, "\n---\n")
	if end < 0 {
		return "", s, false
	}
	return rest[:end+1], rest[end+len("\n---\n"):], true
}

// encodeFrontmatter renders owned fields, merged into base when given so
// user keys and their order survive.
func encodeFrontmatter(fm frontmatter, base *yaml.Node) (string, error) {
	var owned yaml.Node
	if err := owned.Encode(fm); err != nil {
		return "", fmt.Errorf("encode frontmatter: %w", err)
	}
	out := &owned
	if base != nil {
		mergeMapping(base, &owned)
		out = base
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return "", fmt.Errorf("encode frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encode frontmatter: %w", err)
	}
	return buf.String(), nil
}

// mergeMapping sets every key of src on dst, replacing values in place and
// appending keys dst lacks.
func mergeMapping(dst, src *yaml.Node) {
	for i := 0; i+1 < len(src.Content); i += 2 {
		key, val := src.Content[i], src.Content[i+1]
		found := false
		for j := 0; j+1 < len(dst.Content); j += 2 {
			if dst.Content[j].Value == key.Value {
				dst.Content[j+1] = val
				found = true
				break
			}
		}
		if !found {
			dst.Content = append(dst.Content, key, val)
		}
	}
}
