package refstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/papersync/internal/record"
	"github.com/roach88/papersync/internal/syncerr"
	"github.com/roach88/papersync/internal/testutil"
)

type captured struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   string
}

// fakeZotero records requests and serves handlers keyed by "METHOD path".
type fakeZotero struct {
	mu       sync.Mutex
	requests []captured
	routes   map[string]http.HandlerFunc
}

func newFakeZotero(t *testing.T) (*fakeZotero, *Client) {
	t.Helper()
	f := &fakeZotero{routes: map[string]http.HandlerFunc{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	c := New(Config{
		BaseURL:  srv.URL,
		UserID:   "42",
		APIKey:   "secret",
		InboxTag: "inbox",
		ReadTag:  "read",
		Timeout:  5 * time.Second,
	}, WithLogger(testutil.DiscardLogger()))
	return f, c
}

func (f *fakeZotero) handle(method, path string, h http.HandlerFunc) {
	f.routes[method+" /users/42"+path] = h
}

func (f *fakeZotero) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, captured{
		Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Header: r.Header.Clone(), Body: string(body),
	})
	f.mu.Unlock()

	h, ok := f.routes[r.Method+" "+r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (f *fakeZotero) calls(method, path string) []captured {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []captured
	for _, c := range f.requests {
		if c.Method == method && c.Path == "/users/42"+path {
			out = append(out, c)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestPollChanges(t *testing.T) {
	f, c := newFakeZotero(t)
	f.handle("GET", "/items/top", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "versions", r.URL.Query().Get("format"))
		assert.Equal(t, "100", r.URL.Query().Get("since"))
		w.Header().Set("Last-Modified-Version", "120")
		writeJSON(w, map[string]int64{"BBBB": 118, "AAAA": 120})
	})
	f.handle("GET", "/deleted", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string][]string{"items": {"ZZZZ"}, "collections": {}})
	})

	changes, err := c.PollChanges(context.Background(), 100)
	require.NoError(t, err)

	assert.Equal(t, int64(120), changes.LibraryVersion)
	assert.Equal(t, []string{"AAAA", "BBBB"}, changes.Keys())
	assert.Equal(t, []string{"ZZZZ"}, changes.Deleted)

	req := f.calls("GET", "/items/top")[0]
	assert.Equal(t, "3", req.Header.Get("Zotero-API-Version"))
	assert.Equal(t, "secret", req.Header.Get("Zotero-API-Key"))
}

func TestItems_BatchesAndExtractsMetadata(t *testing.T) {
	f, c := newFakeZotero(t)
	f.handle("GET", "/items", func(w http.ResponseWriter, r *http.Request) {
		keys := strings.Split(r.URL.Query().Get("itemKey"), ",")
		items := make([]map[string]any, 0, len(keys))
		for _, k := range keys {
			items = append(items, map[string]any{
				"key":     k,
				"version": 7,
				"meta":    map[string]any{"parsedDate": "2024-05-01"},
				"data": map[string]any{
					"itemType": "journalArticle",
					"title":    "Attention Is Enough | Science",
					"date":     "May 2024",
					"DOI":      "10.1/xyz",
					"extra":    "tex.note: x\nCitation Key: smith2024attention",
					"creators": []map[string]any{
						{"creatorType": "editor", "lastName": "Editor"},
						{"creatorType": "author", "firstName": "Ann", "lastName": "Smith"},
						{"creatorType": "author", "name": "Research Group"},
					},
					"tags": []map[string]any{{"tag": "inbox"}, {"tag": "ml"}},
				},
			})
		}
		writeJSON(w, items)
	})

	keys := make([]string, 120)
	for i := range keys {
		keys[i] = fmt.Sprintf("K%03d", i)
	}
	items, err := c.Items(context.Background(), keys)
	require.NoError(t, err)
	require.Len(t, items, 120)
	assert.Len(t, f.calls("GET", "/items"), 3)

	it := items[0]
	assert.Equal(t, "K000", it.Key)
	assert.Equal(t, []string{"inbox", "ml"}, it.Tags)
	assert.Equal(t, record.Metadata{
		Title:    "Attention Is Enough",
		Authors:  []string{"Smith", "Research Group"},
		Date:     "2024-05-01",
		Tags:     []string{"ml"},
		DOI:      "10.1/xyz",
		ItemType: "journalArticle",
		Citekey:  "smith2024attention",
		Version:  7,
	}, it.Metadata)
}

func TestExtractMetadata_AuthorPrefixAndFallbacks(t *testing.T) {
	it := apiItem{Key: "K", Version: 3, Data: apiData{
		ItemType: "preprint",
		Title:    "Dario Amodei — Machines of Loving Grace",
		Creators: []apiCreator{{CreatorType: "contributor", LastName: "Amodei"}},
	}}
	meta := extractMetadata(it, "inbox", "read")
	assert.Equal(t, "Machines of Loving Grace", meta.Title)
	assert.Equal(t, []string{"Amodei"}, meta.Authors)
	assert.Empty(t, meta.Citekey)

	untitled := extractMetadata(apiItem{Data: apiData{ItemType: "preprint"}})
	assert.Equal(t, "Untitled", untitled.Title)
	assert.Empty(t, untitled.Authors)
}

func TestTrackable(t *testing.T) {
	_, c := newFakeZotero(t)
	assert.True(t, c.Trackable(Item{ItemType: "journalArticle", Tags: []string{"inbox"}}))
	assert.False(t, c.Trackable(Item{ItemType: "journalArticle", Tags: []string{"read"}}))
	assert.False(t, c.Trackable(Item{ItemType: "attachment"}))
	assert.False(t, c.Trackable(Item{ItemType: "webpage"}))
}

func TestAttachment(t *testing.T) {
	f, c := newFakeZotero(t)
	f.handle("GET", "/items/PARENT/children", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{
			{"key": "NOTE", "data": map[string]any{"itemType": "note"}},
			{"key": "LINK", "data": map[string]any{"itemType": "attachment", "contentType": "application/pdf", "linkMode": "linked_file"}},
			{"key": "FILE", "data": map[string]any{"itemType": "attachment", "contentType": "application/pdf", "linkMode": "imported_url"}},
		})
	})
	f.handle("GET", "/items/FILE/file", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.4 body"))
	})

	att, err := c.Attachment(context.Background(), "PARENT")
	require.NoError(t, err)
	assert.Equal(t, "FILE", att.Key)
	assert.Equal(t, "%PDF-1.4 body", string(att.Data))
	assert.Len(t, att.Fingerprint(), 64)
}

func TestAttachment_NotFound(t *testing.T) {
	f, c := newFakeZotero(t)
	f.handle("GET", "/items/EMPTY/children", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{})
	})
	f.handle("GET", "/items/PENDING/children", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{
			{"key": "GONE", "data": map[string]any{"itemType": "attachment", "contentType": "application/pdf", "linkMode": "imported_file"}},
		})
	})

	_, err := c.Attachment(context.Background(), "EMPTY")
	assert.True(t, syncerr.IsNotFound(err), "no child: %v", err)

	_, err = c.Attachment(context.Background(), "PENDING")
	assert.True(t, syncerr.IsNotFound(err), "file 404: %v", err)
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		header map[string]string
		kind   syncerr.Kind
		hint   time.Duration
	}{
		{name: "unauthorized", status: 401, kind: syncerr.KindAuth},
		{name: "forbidden", status: 403, kind: syncerr.KindAuth},
		{name: "missing", status: 404, kind: syncerr.KindNotFound},
		{name: "rate limited", status: 429, header: map[string]string{"Retry-After": "7"}, kind: syncerr.KindTransient, hint: 7 * time.Second},
		{name: "unavailable with backoff", status: 503, header: map[string]string{"Backoff": "30"}, kind: syncerr.KindTransient, hint: 30 * time.Second},
		{name: "version conflict", status: 412, kind: syncerr.KindTransient},
		{name: "bad request", status: 400, kind: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, c := newFakeZotero(t)
			f.handle("GET", "/items/top", func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tc.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tc.status)
			})
			_, err := c.PollChanges(context.Background(), 0)
			require.Error(t, err)
			assert.Equal(t, tc.kind, syncerr.KindOf(err))
			hint, _ := syncerr.RetryAfterHint(err)
			assert.Equal(t, tc.hint, hint)
		})
	}
}

func TestTransportFailureIsTransient(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1", UserID: "42", Timeout: time.Second},
		WithLogger(testutil.DiscardLogger()))
	_, err := c.PollChanges(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, syncerr.IsTransient(err))
}

func TestWriteAnnotations(t *testing.T) {
	f, c := newFakeZotero(t)
	f.handle("GET", "/items/ATT/children", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{
			{"key": "OLD1", "version": 11, "data": map[string]any{"itemType": "annotation", "tags": []map[string]any{{"tag": "papersync"}}}},
			{"key": "MINE", "version": 12, "data": map[string]any{"itemType": "annotation", "tags": []map[string]any{{"tag": "important"}}}},
		})
	})
	f.handle("DELETE", "/items/OLD1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	f.handle("POST", "/items", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"successful": map[string]any{"0": map[string]any{"key": "NEW1"}, "1": map[string]any{"key": "NEW2"}},
			"failed":     map[string]any{},
		})
	})

	excerpts := []record.Excerpt{
		{PageIndex: 0, Text: "first", Regions: []record.Region{{PageIndex: 0, X0: 72, Y0: 697.36, X1: 186, Y1: 710.8}}},
		{PageIndex: 0, Text: "unmatched", Regions: []record.Region{}},
		{PageIndex: 2, EndPageIndex: 3, Text: "spans pages", Regions: []record.Region{
			{PageIndex: 2, X0: 72, Y0: 97.3, X1: 250, Y1: 110.8},
			{PageIndex: 3, X0: 72, Y0: 697.3, X1: 200, Y1: 710.8},
		}},
	}
	n, err := c.WriteAnnotations(context.Background(), "ATT", excerpts)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	deletes := f.calls("DELETE", "/items/OLD1")
	require.Len(t, deletes, 1)
	assert.Equal(t, "11", deletes[0].Header.Get("If-Unmodified-Since-Version"))
	assert.Empty(t, f.calls("DELETE", "/items/MINE"))

	posts := f.calls("POST", "/items")
	require.Len(t, posts, 1)
	var sent []apiAnnotation
	require.NoError(t, json.Unmarshal([]byte(posts[0].Body), &sent))
	require.Len(t, sent, 2)

	assert.Equal(t, "ATT", sent[0].ParentItem)
	assert.Equal(t, "highlight", sent[0].AnnotationType)
	assert.Equal(t, "#ffd400", sent[0].AnnotationColor)
	assert.Equal(t, "1", sent[0].AnnotationPageLabel)
	assert.Equal(t, "00000|000000|00710", sent[0].AnnotationSortIndex)
	assert.JSONEq(t, `{"pageIndex":0,"rects":[[72,697.36,186,710.8]]}`, sent[0].AnnotationPosition)

	assert.Equal(t, "3", sent[1].AnnotationPageLabel)
	assert.Equal(t, "00002|000000|00110", sent[1].AnnotationSortIndex)
	assert.JSONEq(t, `{"pageIndex":2,"rects":[[72,97.3,250,110.8]]}`, sent[1].AnnotationPosition)
}

func TestReplaceTag(t *testing.T) {
	f, c := newFakeZotero(t)
	f.handle("GET", "/items/ITEM", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"key": "ITEM", "version": 31,
			"data": map[string]any{"itemType": "journalArticle", "tags": []map[string]any{{"tag": "ml"}, {"tag": "inbox"}}},
		})
	})
	f.handle("PATCH", "/items/ITEM", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.ReplaceTag(context.Background(), "ITEM", "inbox", "read"))

	patches := f.calls("PATCH", "/items/ITEM")
	require.Len(t, patches, 1)
	assert.Equal(t, "31", patches[0].Header.Get("If-Unmodified-Since-Version"))
	assert.JSONEq(t, `{"tags":[{"tag":"ml"},{"tag":"read"}]}`, patches[0].Body)
}

func TestReplaceTag_AlreadyDone(t *testing.T) {
	f, c := newFakeZotero(t)
	f.handle("GET", "/items/ITEM", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"key": "ITEM", "version": 31,
			"data": map[string]any{"itemType": "journalArticle", "tags": []map[string]any{{"tag": "read"}}},
		})
	})

	require.NoError(t, c.ReplaceTag(context.Background(), "ITEM", "inbox", "read"))
	assert.Empty(t, f.calls("PATCH", "/items/ITEM"))
}

func TestAddTag(t *testing.T) {
	f, c := newFakeZotero(t)
	f.handle("GET", "/items/ITEM", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"key": "ITEM", "version": 2, "data": map[string]any{"itemType": "preprint", "tags": []any{}}})
	})
	f.handle("PATCH", "/items/ITEM", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.AddTag(context.Background(), "ITEM", "inbox"))
	patches := f.calls("PATCH", "/items/ITEM")
	require.Len(t, patches, 1)
	assert.JSONEq(t, `{"tags":[{"tag":"inbox"}]}`, patches[0].Body)
}
