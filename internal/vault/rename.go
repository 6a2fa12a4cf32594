package vault

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Rename moves the artifacts of oldKey to newKey. New files are written
// before the reading log is repointed and only then are old files removed,
// so an interruption never leaves a log link without a target.
func (v *Vault) Rename(oldKey, newKey string) error {
	if oldKey == newKey {
		return nil
	}

	type move struct{ src, dst string }
	moves := []move{
		{v.NotePath(oldKey), v.NotePath(newKey)},
		{v.PDFPath(oldKey), v.PDFPath(newKey)},
	}

	var done []string
	for _, m := range moves {
		data, err := readOptional(m.src)
		if err != nil {
			return fmt.Errorf("rename: %w", err)
		}
		if data == nil {
			continue
		}
		target, err := readOptional(m.dst)
		if err != nil {
			return fmt.Errorf("rename: %w", err)
		}
		switch {
		case target == nil:
			if err := writeAtomic(m.dst, data); err != nil {
				return fmt.Errorf("rename: %w", err)
			}
		case !bytes.Equal(target, data):
			v.logger.Warn("rename target exists; keeping both", "from", m.src, "to", m.dst)
			continue
		}
		done = append(done, m.src)
	}

	if _, err := v.renameLogLinks(oldKey, newKey); err != nil {
		return fmt.Errorf("rename: %w", err)
	}

	for _, src := range done {
		if err := os.Remove(src); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("rename: remove old file: %w", err)
		}
	}
	v.logger.Info("renamed paper artifacts", "from", oldKey, "to", newKey)
	return nil
}
