package testutil

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"testing"
)

// Primitive is a scene element for BuildBundle.
type Primitive struct {
	ID    string  `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	W     float64 `json:"w"`
	H     float64 `json:"h"`
	Text  string  `json:"text"`
	Color int     `json:"color"`
}

// ScenePage describes one page of a device bundle. Raw, when set, is
// written verbatim instead of the encoded scene.
type ScenePage struct {
	ID      string
	Glyphs  []Primitive
	Strokes []Primitive
	Raw     []byte
	NoScene bool
}

// BuildBundle assembles a device bundle zip for docID.
func BuildBundle(t testing.TB, docID string, pdf []byte, pages ...ScenePage) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	type pageRef struct {
		ID string `json:"id"`
	}
	var content struct {
		CPages struct {
			Pages []pageRef `json:"pages"`
		} `json:"cPages"`
	}
	for _, p := range pages {
		content.CPages.Pages = append(content.CPages.Pages, pageRef{ID: p.ID})
	}
	writeJSON(t, zw, docID+".content", content)

	if pdf != nil {
		writeRaw(t, zw, docID+".pdf", pdf)
	}

	for _, p := range pages {
		if p.NoScene {
			continue
		}
		name := docID + "/" + p.ID + ".json"
		if p.Raw != nil {
			writeRaw(t, zw, name, p.Raw)
			continue
		}
		writeJSON(t, zw, name, map[string]any{
			"width":   1404,
			"height":  1872,
			"glyphs":  nonNil(p.Glyphs),
			"strokes": nonNil(p.Strokes),
		})
	}

	if err := zw.Close(); err != nil {
		t.Fatalf("close bundle: %v", err)
	}
	return buf.Bytes()
}

func nonNil(p []Primitive) []Primitive {
	if p == nil {
		return []Primitive{}
	}
	return p
}

func writeJSON(t testing.TB, zw *zip.Writer, name string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", name, err)
	}
	writeRaw(t, zw, name, data)
}

func writeRaw(t testing.TB, zw *zip.Writer, name string, data []byte) {
	t.Helper()
	w, err := zw.Create(name)
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}
