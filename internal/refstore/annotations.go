package refstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/roach88/papersync/internal/record"
)

// annotationTag marks annotations this tool owns so a rewrite can replace
// them without touching the user's own.
const annotationTag = "papersync"

const annotationColor = "#ffd400"

type apiAnnotation struct {
	ItemType            string   `json:"itemType"`
	ParentItem          string   `json:"parentItem"`
	AnnotationType      string   `json:"annotationType"`
	AnnotationText      string   `json:"annotationText"`
	AnnotationComment   string   `json:"annotationComment"`
	AnnotationColor     string   `json:"annotationColor"`
	AnnotationPageLabel string   `json:"annotationPageLabel"`
	AnnotationSortIndex string   `json:"annotationSortIndex"`
	AnnotationPosition  string   `json:"annotationPosition"`
	Tags                []apiTag `json:"tags"`
}

type position struct {
	PageIndex int         `json:"pageIndex"`
	Rects     [][]float64 `json:"rects"`
}

type writeResult struct {
	Successful map[string]struct {
		Key string `json:"key"`
	} `json:"successful"`
	Failed map[string]struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"failed"`
}

// WriteAnnotations replaces the highlight annotations previously written
// to attachmentKey with one per located excerpt and returns how many were
// created. Excerpts without regions are skipped.
func (c *Client) WriteAnnotations(ctx context.Context, attachmentKey string, excerpts []record.Excerpt) (int, error) {
	if err := c.deleteOwnedAnnotations(ctx, attachmentKey); err != nil {
		return 0, err
	}

	items := buildAnnotations(attachmentKey, excerpts)
	created := 0
	for start := 0; start < len(items); start += maxBatch {
		end := min(start+maxBatch, len(items))
		resp, err := c.do(ctx, "write annotations", request{method: http.MethodPost, path: "/items", body: items[start:end]})
		if err != nil {
			return created, err
		}
		var res writeResult
		if err := json.Unmarshal(resp.body, &res); err != nil {
			return created, fmt.Errorf("write annotations: decode response: %w", err)
		}
		created += len(res.Successful)
		for idx, f := range res.Failed {
			c.logger.Warn("annotation rejected", "attachment", attachmentKey, "index", idx, "code", f.Code, "message", f.Message)
		}
	}
	return created, nil
}

func (c *Client) deleteOwnedAnnotations(ctx context.Context, attachmentKey string) error {
	var children []apiItem
	q := url.Values{"itemType": {"annotation"}, "tag": {annotationTag}}
	if _, err := c.getJSON(ctx, "list annotations", "/items/"+attachmentKey+"/children", q, &children); err != nil {
		return err
	}
	for _, ch := range children {
		if !ownedAnnotation(ch) {
			continue
		}
		_, err := c.do(ctx, "delete annotation", request{
			method: http.MethodDelete,
			path:   "/items/" + ch.Key,
			header: http.Header{"If-Unmodified-Since-Version": {strconv.FormatInt(ch.Version, 10)}},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func ownedAnnotation(it apiItem) bool {
	for _, t := range it.Data.Tags {
		if t.Tag == annotationTag {
			return true
		}
	}
	return false
}

// buildAnnotations anchors each excerpt on the page of its first region;
// rects on continuation pages belong to that page only and are dropped.
func buildAnnotations(attachmentKey string, excerpts []record.Excerpt) []apiAnnotation {
	var out []apiAnnotation
	ordinal := map[int]int{}
	for _, e := range excerpts {
		if !e.Matched() {
			continue
		}
		page := e.Regions[0].PageIndex
		var rects [][]float64
		top := 0.0
		for _, r := range e.Regions {
			if r.PageIndex != page {
				continue
			}
			rects = append(rects, []float64{round3(r.X0), round3(r.Y0), round3(r.X1), round3(r.Y1)})
			top = math.Max(top, r.Y1)
		}
		pos, _ := json.Marshal(position{PageIndex: page, Rects: rects})
		out = append(out, apiAnnotation{
			ItemType:            "annotation",
			ParentItem:          attachmentKey,
			AnnotationType:      "highlight",
			AnnotationText:      e.Text,
			AnnotationColor:     annotationColor,
			AnnotationPageLabel: strconv.Itoa(page + 1),
			AnnotationSortIndex: fmt.Sprintf("%05d|%06d|%05d", page, ordinal[page], int(top)),
			AnnotationPosition:  string(pos),
			Tags:                []apiTag{{Tag: annotationTag}},
		})
		ordinal[page]++
	}
	return out
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
