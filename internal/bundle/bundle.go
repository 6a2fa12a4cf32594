// Package bundle reads a device-exported annotation bundle and extracts the
// raw, page-scoped text fragments drawn on it.
//
// A bundle is a zip archive holding a <doc>.content manifest that lists page
// ids in reading order, the original <doc>.pdf, and one scene description
// per annotated page at <doc>/<page_id>.json.
package bundle

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/roach88/papersync/internal/textnorm"
)

// ErrNoManifest is returned for an archive without a .content manifest.
var ErrNoManifest = errors.New("bundle has no .content manifest")

// Box is a bounding box in scene coordinates (origin top-left, y down).
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Right returns the box's right edge.
func (b Box) Right() float64 { return b.X + b.W }

// Fragment is one highlight glyph range or recognized stroke.
type Fragment struct {
	ID        string
	PageIndex int
	Box       Box
	Text      string
	Color     int
}

// primitive is a scene element as serialized on the device side.
type primitive struct {
	ID    string  `json:"id"`
	Tool  string  `json:"tool,omitempty"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	W     float64 `json:"w"`
	H     float64 `json:"h"`
	Text  string  `json:"text"`
	Color int     `json:"color"`
}

type scene struct {
	Width   float64     `json:"width"`
	Height  float64     `json:"height"`
	Glyphs  []primitive `json:"glyphs"`
	Strokes []primitive `json:"strokes"`
}

type manifest struct {
	CPages struct {
		Pages []struct {
			ID string `json:"id"`
		} `json:"pages"`
	} `json:"cPages"`
	Pages []string `json:"pages"`
}

func (m manifest) pageIDs() []string {
	if len(m.CPages.Pages) > 0 {
		ids := make([]string, 0, len(m.CPages.Pages))
		for _, p := range m.CPages.Pages {
			ids = append(ids, p.ID)
		}
		return ids
	}
	return m.Pages
}

// Page is the scene size of one page. Pages without a scene keep zero size.
type Page struct {
	ID     string
	Index  int
	Width  float64
	Height float64
}

// Result is the outcome of extracting one bundle.
type Result struct {
	DocumentID string
	Pages      []Page
	Fragments  []Fragment
	// Discarded counts fragments dropped for carrying no retrievable text.
	Discarded int
	// PDF holds the original document when the bundle carries one.
	PDF []byte
}

// Extractor turns bundles into fragments.
type Extractor struct {
	Logger *slog.Logger
}

// Extract parses a bundle. Fragments come out in page order, and within a
// page in capture order: glyph ranges first, then recognized strokes.
// Fragments whose text is empty after stripping whitespace and punctuation
// are discarded. A malformed scene loses only its own page.
func (e Extractor) Extract(data []byte) (*Result, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}

	files := map[string]*zip.File{}
	var manifestFile *zip.File
	for _, f := range zr.File {
		files[f.Name] = f
		if strings.HasSuffix(f.Name, ".content") && manifestFile == nil {
			manifestFile = f
		}
	}
	if manifestFile == nil {
		return nil, ErrNoManifest
	}

	raw, err := readFile(manifestFile)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	docID := strings.TrimSuffix(path.Base(manifestFile.Name), ".content")
	res := &Result{DocumentID: docID}

	if f, ok := files[docID+".pdf"]; ok {
		if res.PDF, err = readFile(f); err != nil {
			return nil, fmt.Errorf("read original pdf: %w", err)
		}
	}

	for idx, pageID := range m.pageIDs() {
		page := Page{ID: pageID, Index: idx}
		f, ok := files[docID+"/"+pageID+".json"]
		if !ok {
			res.Pages = append(res.Pages, page)
			continue
		}

		sc, err := readScene(f)
		if err != nil {
			logger.Warn("skipping unreadable page scene", "document", docID, "page", pageID, "error", err)
			res.Pages = append(res.Pages, page)
			continue
		}
		page.Width, page.Height = sc.Width, sc.Height
		res.Pages = append(res.Pages, page)

		for _, group := range [][]primitive{sc.Glyphs, sc.Strokes} {
			for _, p := range group {
				if textnorm.IsBlank(p.Text) {
					res.Discarded++
					continue
				}
				res.Fragments = append(res.Fragments, Fragment{
					ID:        pageID + "/" + p.ID,
					PageIndex: idx,
					Box:       Box{X: p.X, Y: p.Y, W: p.W, H: p.H},
					Text:      strings.TrimSpace(p.Text),
					Color:     p.Color,
				})
			}
		}
	}

	logger.Debug("extracted fragments", "document", docID,
		"pages", len(res.Pages), "fragments", len(res.Fragments), "discarded", res.Discarded)
	return res, nil
}

func readScene(f *zip.File) (*scene, error) {
	raw, err := readFile(f)
	if err != nil {
		return nil, err
	}
	var sc scene
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

func readFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
