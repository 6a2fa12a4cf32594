// Package device drives the e-ink reading device's cloud through the rmapi
// command-line client: uploads, folder listings, bundle downloads and
// moves between the workflow folders.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/roach88/papersync/internal/syncerr"
)

// Folder is a workflow folder below the root folder.
type Folder string

const (
	FolderInbox Folder = "Inbox"
	FolderRead  Folder = "Read"
	FolderSaved Folder = "Saved"
)

// DefaultRoot is the device folder holding the workflow folders.
const DefaultRoot = "/Distillate"

// DefaultTimeout bounds each device command.
const DefaultTimeout = 120 * time.Second

// Bridge is the device adapter.
type Bridge struct {
	runner  CommandRunner
	root    string
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithRoot sets the root folder path.
func WithRoot(root string) Option {
	return func(b *Bridge) { b.root = "/" + strings.Trim(root, "/") }
}

// WithTimeout sets the per-command timeout.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// NewBridge creates a bridge over runner.
func NewBridge(runner CommandRunner, opts ...Option) *Bridge {
	b := &Bridge{runner: runner, root: DefaultRoot, timeout: DefaultTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bridge) folderPath(f Folder) string {
	return path.Join(b.root, string(f))
}

// run executes one command under the per-call timeout and classifies a
// failure. The returned Result is valid only when err is nil.
func (b *Bridge) run(ctx context.Context, op, dir string, args ...string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	res, err := b.runner.Run(ctx, dir, args...)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return res, err
		}
		return res, syncerr.Transient(op, err, 0)
	}
	if res.ExitCode != 0 {
		return res, classify(op, res, args...)
	}
	return res, nil
}

var (
	notFoundWords  = []string{"doesn't exist", "does not exist", "not found", "no such file", "no such entry"}
	transientWords = []string{
		"timeout", "timed out", "deadline", "connection", "network", "dial", "eof",
		"temporar", "unavailable", "502", "503", "504", "too many requests", "tls",
	}
	// authPattern matches rmapi's credential failures as whole phrases.
	authPattern = regexp.MustCompile(`\b(unauthori[sz]ed|forbidden|401|403)\b` +
		`|\b(invalid|expired|missing|renew|refresh)\s+(user\s+|device\s+)?token\b` +
		`|\btoken\s+(is\s+)?(invalid|expired)\b` +
		`|\bauth(entication)?\s+failed\b` +
		`|\bone-time code\b`)
)

// classify maps a failed command onto an error kind from its stderr. An
// empty stderr gives no signal and counts as transient. Document paths and
// names from args are removed first, since rmapi echoes them and they carry
// paper titles.
func classify(op string, res Result, args ...string) error {
	msg := strings.TrimSpace(res.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(res.Stdout)
	}
	signal := strings.ToLower(withoutPaths(msg, args))
	cause := fmt.Errorf("exit %d: %s", res.ExitCode, msg)
	switch {
	case msg == "":
		return syncerr.Transient(op, fmt.Errorf("exit %d with no output", res.ExitCode), 0)
	case containsAny(signal, notFoundWords):
		return syncerr.Wrap(syncerr.KindNotFound, op, cause)
	case containsAny(signal, transientWords):
		return syncerr.Transient(op, cause, 0)
	case authPattern.MatchString(signal):
		return syncerr.Wrap(syncerr.KindAuth, op, cause)
	default:
		return fmt.Errorf("%s: %w", op, cause)
	}
}

// withoutPaths removes every path argument from msg along with its base
// name, with and without extension, longest first.
func withoutPaths(msg string, args []string) string {
	var parts []string
	for _, a := range args {
		if !strings.Contains(a, "/") {
			continue
		}
		base := path.Base(strings.TrimRight(a, "/"))
		parts = append(parts, a, strings.TrimRight(a, "/"), base, strings.TrimSuffix(base, path.Ext(base)))
	}
	sort.Slice(parts, func(i, j int) bool { return len(parts[i]) > len(parts[j]) })
	for _, p := range parts {
		if len(p) > 1 {
			msg = strings.ReplaceAll(msg, p, " ")
		}
	}
	return msg
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// EnsureFolders creates the root and workflow folders that are missing.
func (b *Bridge) EnsureFolders(ctx context.Context) error {
	if err := b.ensureFolder(ctx, b.root); err != nil {
		return err
	}
	for _, f := range []Folder{FolderInbox, FolderRead, FolderSaved} {
		if err := b.ensureFolder(ctx, b.folderPath(f)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bridge) ensureFolder(ctx context.Context, p string) error {
	parent, name := path.Split(p)
	res, err := b.run(ctx, "list folders", "", "ls", path.Clean(parent))
	if err != nil {
		return err
	}
	for _, entry := range parseListing(res.Stdout, "[d]") {
		if entry == name {
			return nil
		}
	}
	if _, err := b.run(ctx, "create folder", "", "mkdir", p); err != nil {
		return err
	}
	b.logger.Info("created device folder", "folder", p)
	return nil
}

// List returns the document names in folder.
func (b *Bridge) List(ctx context.Context, folder Folder) ([]string, error) {
	res, err := b.run(ctx, "list documents", "", "ls", b.folderPath(folder))
	if err != nil {
		return nil, err
	}
	return parseListing(res.Stdout, "[f]"), nil
}

// parseListing extracts entry names of the given kind from "ls" output,
// whose lines read "[f]\tname" or "[d]\tname".
func parseListing(out, kind string) []string {
	var names []string
	for _, line := range strings.Split(out, "\n") {
		rest, ok := strings.CutPrefix(line, kind)
		if !ok {
			continue
		}
		if name := strings.TrimSpace(rest); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Upload stores pdf as name in folder. An existing entry with that name
// counts as uploaded.
func (b *Bridge) Upload(ctx context.Context, folder Folder, name string, pdf []byte) error {
	dir, err := os.MkdirTemp("", "papersync-put-")
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	defer os.RemoveAll(dir)

	file := filepath.Join(dir, name+".pdf")
	if err := os.WriteFile(file, pdf, 0o600); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	res, err := b.run(ctx, "upload", "", "put", file, b.folderPath(folder)+"/")
	if err != nil {
		if strings.Contains(res.Stderr, "entry already exists") {
			b.logger.Info("document already on device", "name", name, "folder", folder)
			return nil
		}
		return err
	}
	b.logger.Info("uploaded document", "name", name, "folder", folder)
	return nil
}

// Exists reports whether name is present in folder. Only an explicit
// not-found answer yields false.
func (b *Bridge) Exists(ctx context.Context, folder Folder, name string) (bool, error) {
	res, err := b.run(ctx, "stat", "", "stat", path.Join(b.folderPath(folder), name))
	if syncerr.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(res.Stdout) == "" {
		return false, syncerr.Transient("stat", errors.New("empty response"), 0)
	}
	return true, nil
}

// Download fetches the document bundle of name in folder.
func (b *Bridge) Download(ctx context.Context, folder Folder, name string) ([]byte, error) {
	dir, err := os.MkdirTemp("", "papersync-get-")
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer os.RemoveAll(dir)

	if _, err := b.run(ctx, "download", dir, "get", path.Join(b.folderPath(folder), name)); err != nil {
		return nil, err
	}

	for _, pattern := range []string{"*.zip", "*.rmdoc"} {
		matches, _ := filepath.Glob(filepath.Join(dir, pattern))
		if len(matches) > 0 {
			data, err := os.ReadFile(matches[0])
			if err != nil {
				return nil, fmt.Errorf("download: %w", err)
			}
			return data, nil
		}
	}
	return nil, syncerr.Transient("download", fmt.Errorf("no bundle produced for %q", name), 0)
}

// Move relocates name from one workflow folder to another.
func (b *Bridge) Move(ctx context.Context, name string, from, to Folder) error {
	if _, err := b.run(ctx, "move", "", "mv", path.Join(b.folderPath(from), name), b.folderPath(to)+"/"); err != nil {
		return err
	}
	b.logger.Info("moved document", "name", name, "from", from, "to", to)
	return nil
}

// SanitizeName turns a title into a device document name.
func SanitizeName(title string) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`<>:"/\|?*`, r) {
			return -1
		}
		return r
	}, title)
	name = strings.Join(strings.Fields(name), " ")
	if r := []rune(name); len(r) > 200 {
		name = string(r[:200])
	}
	return strings.TrimSpace(name)
}
