package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/papersync/internal/annotate"
	"github.com/roach88/papersync/internal/device"
	"github.com/roach88/papersync/internal/record"
	"github.com/roach88/papersync/internal/refstore"
	"github.com/roach88/papersync/internal/store"
	"github.com/roach88/papersync/internal/syncerr"
	"github.com/roach88/papersync/internal/testutil"
	"github.com/roach88/papersync/internal/vault"
)

var start = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

// fakeRefs is an in-memory reference store. Mutating calls are counted
// separately so idempotence can be asserted.
type fakeRefs struct {
	mu          sync.Mutex
	version     int64
	changes     *refstore.Changes
	items       map[string]refstore.Item
	attachments map[string]*refstore.Attachment

	// errs fails the named operation ("attachment", "poll", ...) for the
	// given item key, or for every key under "*".
	errs        map[string]error
	calls       []string
	mutations   []string
	tags        map[string][]string
	annotations map[string][]record.Excerpt
}

func newFakeRefs() *fakeRefs {
	return &fakeRefs{
		version:     10,
		changes:     &refstore.Changes{Versions: map[string]int64{}, LibraryVersion: 10},
		items:       map[string]refstore.Item{},
		attachments: map[string]*refstore.Attachment{},
		errs:        map[string]error{},
		tags:        map[string][]string{},
		annotations: map[string][]record.Excerpt{},
	}
}

func (f *fakeRefs) fail(op, key string) error {
	if err, ok := f.errs[op+" "+key]; ok {
		return err
	}
	return f.errs[op+" *"]
}

func (f *fakeRefs) record(op, key string, mutating bool) {
	f.calls = append(f.calls, op+" "+key)
	if mutating {
		f.mutations = append(f.mutations, op+" "+key)
	}
}

// newItem makes key appear as a new item in the next poll.
func (f *fakeRefs) newItem(key string, meta record.Metadata, pdf []byte) {
	f.version++
	meta.Version = f.version
	f.items[key] = refstore.Item{Key: key, Version: f.version, ItemType: "journalArticle", Metadata: meta}
	f.changes.Versions[key] = f.version
	f.changes.LibraryVersion = f.version
	if pdf != nil {
		f.attachments[key] = &refstore.Attachment{Key: "att-" + key, Data: pdf}
	}
}

// settle clears pending changes, as a poll at the current version would.
func (f *fakeRefs) settle() {
	f.changes = &refstore.Changes{Versions: map[string]int64{}, LibraryVersion: f.version}
}

func (f *fakeRefs) LibraryVersion(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("version", "", false)
	return f.version, f.fail("version", "")
}

func (f *fakeRefs) PollChanges(_ context.Context, since int64) (*refstore.Changes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("poll", "", false)
	if err := f.fail("poll", ""); err != nil {
		return nil, err
	}
	c := *f.changes
	return &c, nil
}

func (f *fakeRefs) Items(_ context.Context, keys []string) ([]refstore.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("items", strings.Join(keys, ","), false)
	var out []refstore.Item
	for _, k := range keys {
		if it, ok := f.items[k]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeRefs) Trackable(item refstore.Item) bool {
	return item.ItemType != "note" && !item.HasTag("read")
}

func (f *fakeRefs) Attachment(_ context.Context, itemKey string) (*refstore.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("attachment", itemKey, false)
	if err := f.fail("attachment", itemKey); err != nil {
		return nil, err
	}
	att, ok := f.attachments[itemKey]
	if !ok {
		return nil, syncerr.New(syncerr.KindNotFound, "zotero.attachment", "no pdf attachment")
	}
	return att, nil
}

func (f *fakeRefs) WriteAnnotations(_ context.Context, attachmentKey string, excerpts []record.Excerpt) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("annotations", attachmentKey, true)
	if err := f.fail("annotations", attachmentKey); err != nil {
		return 0, err
	}
	f.annotations[attachmentKey] = excerpts
	n := 0
	for _, e := range excerpts {
		if e.Matched() {
			n++
		}
	}
	return n, nil
}

func (f *fakeRefs) AddTag(_ context.Context, itemKey, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("add_tag", itemKey, true)
	if err := f.fail("add_tag", itemKey); err != nil {
		return err
	}
	if !slices.Contains(f.tags[itemKey], tag) {
		f.tags[itemKey] = append(f.tags[itemKey], tag)
	}
	return nil
}

func (f *fakeRefs) ReplaceTag(_ context.Context, itemKey, oldTag, newTag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("replace_tag", itemKey, true)
	tags := slices.DeleteFunc(f.tags[itemKey], func(t string) bool { return t == oldTag })
	if !slices.Contains(tags, newTag) {
		tags = append(tags, newTag)
	}
	f.tags[itemKey] = tags
	return nil
}

// fakeDevice keeps folders of named documents in memory.
type fakeDevice struct {
	mu      sync.Mutex
	folders map[device.Folder]map[string]bool
	bundles map[string][]byte

	// dropUploads makes uploads report success without storing anything.
	dropUploads bool
	errs        map[string]error
	calls       []string
	mutations   []string
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		folders: map[device.Folder]map[string]bool{
			device.FolderInbox: {}, device.FolderRead: {}, device.FolderSaved: {},
		},
		bundles: map[string][]byte{},
		errs:    map[string]error{},
	}
}

func (f *fakeDevice) record(call string, mutating bool) {
	f.calls = append(f.calls, call)
	if mutating {
		f.mutations = append(f.mutations, call)
	}
}

// read simulates the user finishing a document on the device.
func (f *fakeDevice) read(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.folders[device.FolderInbox], name)
	f.folders[device.FolderRead][name] = true
}

func (f *fakeDevice) EnsureFolders(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "ensure_folders")
	return f.errs["ensure_folders"]
}

func (f *fakeDevice) List(_ context.Context, folder device.Folder) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list "+string(folder), false)
	if err := f.errs["list"]; err != nil {
		return nil, err
	}
	var names []string
	for n := range f.folders[folder] {
		names = append(names, n)
	}
	slices.Sort(names)
	return names, nil
}

func (f *fakeDevice) Upload(_ context.Context, folder device.Folder, name string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("upload "+name, true)
	if err := f.errs["upload"]; err != nil {
		return err
	}
	if !f.dropUploads {
		f.folders[folder][name] = true
	}
	return nil
}

func (f *fakeDevice) Exists(_ context.Context, folder device.Folder, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("exists "+name, false)
	return f.folders[folder][name], nil
}

func (f *fakeDevice) Download(_ context.Context, folder device.Folder, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("download "+string(folder)+"/"+name, false)
	if !f.folders[folder][name] {
		return nil, syncerr.New(syncerr.KindNotFound, "rmapi.get", name+" not found")
	}
	return f.bundles[name], nil
}

func (f *fakeDevice) Move(_ context.Context, name string, from, to device.Folder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("move "+name+" "+string(from)+"->"+string(to), true)
	if !f.folders[from][name] {
		return syncerr.New(syncerr.KindNotFound, "rmapi.mv", name+" not found")
	}
	delete(f.folders[from], name)
	f.folders[to][name] = true
	return nil
}

// stubAnnotator locates every excerpt except those mentioning "unmatched",
// giving it one region on its own page.
type stubAnnotator struct {
	calls int
}

func (a *stubAnnotator) Annotate(ctx context.Context, src []byte, excerpts []record.Excerpt) (*annotate.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.calls++
	res := &annotate.Result{PDF: append(append([]byte{}, src...), "%annotated"...)}
	for _, e := range excerpts {
		e.Regions = []record.Region{}
		if strings.Contains(e.Text, "unmatched") {
			res.Unmatched++
		} else {
			e.Regions = []record.Region{{PageIndex: e.PageIndex, X0: 72, Y0: 700, X1: 300, Y1: 712}}
			res.Matched++
		}
		res.Excerpts = append(res.Excerpts, e)
	}
	if res.Unmatched > 0 {
		res.Degraded = []string{annotate.DegradedUnmatched}
	}
	return res, nil
}

// env wires an Orchestrator over fakes, a real store and a real vault.
type env struct {
	t         *testing.T
	dir       string
	clock     *testutil.Clock
	store     *store.Store
	refs      *fakeRefs
	device    *fakeDevice
	vault     *vault.Vault
	annotator *stubAnnotator
	sleeps    int
	opts      []Option
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	e := &env{
		t:         t,
		dir:       dir,
		clock:     testutil.NewClock(start),
		refs:      newFakeRefs(),
		device:    newFakeDevice(),
		vault:     vault.New(filepath.Join(dir, "vault"), "Papers", vault.WithLogger(testutil.DiscardLogger())),
		annotator: &stubAnnotator{},
	}
	e.store = e.loadStore()
	e.store.SetWatermark(10)
	require.NoError(t, e.store.SaveAll(nil))
	return e
}

func (e *env) loadStore() *store.Store {
	e.t.Helper()
	st := store.New(filepath.Join(e.dir, "state.json"), store.WithLogger(testutil.DiscardLogger()))
	_, err := st.Load()
	require.NoError(e.t, err)
	return st
}

func (e *env) orchestrator() *Orchestrator {
	policy := syncerr.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Sleep: func(context.Context, time.Duration) error {
			e.sleeps++
			return nil
		},
	}
	opts := append([]Option{
		WithLogger(testutil.DiscardLogger()),
		WithClock(e.clock.Now),
		WithRetryPolicy(policy),
	}, e.opts...)
	return New(e.store, e.refs, e.device, e.vault, e.annotator, opts...)
}

func (e *env) run(req Request) *Summary {
	e.t.Helper()
	sum, err := e.orchestrator().Run(context.Background(), req)
	require.NoError(e.t, err)
	return sum
}

func (e *env) sync() *Summary {
	e.t.Helper()
	return e.run(Request{Mode: ModeSync})
}

// paperBundle is a device bundle holding one highlight per entry of texts,
// each on its own line of the first page.
func paperBundle(t *testing.T, texts ...string) []byte {
	t.Helper()
	var glyphs []testutil.Primitive
	for i, text := range texts {
		glyphs = append(glyphs, testutil.Primitive{
			ID: "g" + string(rune('a'+i)), X: 100, Y: 200 + float64(i)*400, W: 600, H: 40, Text: text,
		})
	}
	return testutil.BuildBundle(t, "doc", nil, testutil.ScenePage{ID: "p1", Glyphs: glyphs})
}

func attentionMeta() record.Metadata {
	return record.Metadata{
		Title:    "Attention Is All You Need",
		Authors:  []string{"Vaswani", "Shazeer"},
		Date:     "2017-06-12",
		ItemType: "journalArticle",
	}
}

var errBoom = errors.New("boom")
