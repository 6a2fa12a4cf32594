// Package vault writes the derived artifacts of a processed document into
// the note vault: the annotated PDF, the paper note and the reading log.
//
// Every write compares against the file on disk first, so re-running with
// unchanged inputs leaves the vault untouched.
package vault

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// SavedFolder holds notes and annotated documents below the papers folder.
const SavedFolder = "Saved"

// LogName is the reading log file name.
const LogName = "Reading Log.md"

// Vault is a note vault rooted at a directory.
type Vault struct {
	root   string
	folder string
	logger *slog.Logger
}

// Option configures a Vault.
type Option func(*Vault)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Vault) { v.logger = l }
}

// New creates a vault whose papers live in root/papersFolder.
func New(root, papersFolder string, opts ...Option) *Vault {
	v := &Vault{root: root, folder: papersFolder, logger: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Vault) papersDir() string {
	return filepath.Join(v.root, v.folder)
}

// NotePath returns the note file of citekey.
func (v *Vault) NotePath(citekey string) string {
	return filepath.Join(v.papersDir(), SavedFolder, citekey+".md")
}

// PDFPath returns the annotated document of citekey.
func (v *Vault) PDFPath(citekey string) string {
	return filepath.Join(v.papersDir(), SavedFolder, citekey+".pdf")
}

// LogPath returns the reading log file.
func (v *Vault) LogPath() string {
	return filepath.Join(v.papersDir(), LogName)
}

// WritePDF stores the annotated document for citekey. It reports whether
// the file changed.
func (v *Vault) WritePDF(citekey string, data []byte) (bool, error) {
	return writeIfChanged(v.PDFPath(citekey), data)
}

// readOptional returns the file content, or nil when it does not exist.
func readOptional(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// writeIfChanged atomically replaces path with data unless it already
// holds exactly data.
func writeIfChanged(path string, data []byte) (bool, error) {
	current, err := readOptional(path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if current != nil && bytes.Equal(current, data) {
		return false, nil
	}
	if err := writeAtomic(path, data); err != nil {
		return false, err
	}
	return true, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
