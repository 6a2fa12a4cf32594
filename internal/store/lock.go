package store

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/roach88/papersync/internal/syncerr"
)

// DefaultStaleAfter is the age past which a lock is considered abandoned.
const DefaultStaleAfter = 2 * time.Hour

// Lock is a held advisory lock file.
type Lock struct {
	path string
}

// LockOptions configures AcquireLock.
type LockOptions struct {
	StaleAfter time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

// AcquireLock creates the lock file at path holding the current timestamp.
// An existing lock younger than StaleAfter yields a conflict error; an older
// one is reclaimed with a warning.
func AcquireLock(path string, opts LockOptions) (*Lock, error) {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	now := opts.Now()
	err := createLock(path, now)
	if err == nil {
		return &Lock{path: path}, nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("create lock: %w", err)
	}

	held, err := lockTime(path)
	if err != nil {
		return nil, fmt.Errorf("inspect lock: %w", err)
	}
	age := now.Sub(held)
	if age < opts.StaleAfter {
		return nil, syncerr.New(syncerr.KindConflict, "store.lock",
			fmt.Sprintf("lock %s held since %s (%s ago); another run is in progress",
				path, held.UTC().Format(time.RFC3339), age.Round(time.Second)))
	}

	opts.Logger.Warn("reclaiming stale lock", "path", path, "held_since", held.UTC().Format(time.RFC3339), "age", age.Round(time.Second))
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove stale lock: %w", err)
	}
	if err := createLock(path, now); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, syncerr.New(syncerr.KindConflict, "store.lock",
				fmt.Sprintf("lock %s was taken by another run during stale takeover", path))
		}
		return nil, fmt.Errorf("create lock: %w", err)
	}
	return &Lock{path: path}, nil
}

func createLock(path string, now time.Time) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(now.UTC().Format(time.RFC3339Nano) + "\n"); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// lockTime reads the holder timestamp, falling back to the file's
// modification time when the content is unparseable.
func lockTime(path string) (time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, err
	}
	if t, perr := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data))); perr == nil {
		return t, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
