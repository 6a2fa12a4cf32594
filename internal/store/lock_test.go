package store

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/papersync/internal/syncerr"
)

func lockOpts(now time.Time, logs *bytes.Buffer) LockOptions {
	return LockOptions{
		StaleAfter: time.Hour,
		Now:        func() time.Time { return now },
		Logger:     slog.New(slog.NewTextHandler(logs, nil)),
	}
}

func TestAcquireLock_WritesTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json.lock")
	var logs bytes.Buffer

	l, err := AcquireLock(path, lockOpts(fixedNow, &logs))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T09:30:00Z\n", string(data))

	require.NoError(t, l.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireLock_FreshLockConflicts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json.lock")
	var logs bytes.Buffer

	_, err := AcquireLock(path, lockOpts(fixedNow, &logs))
	require.NoError(t, err)

	_, err = AcquireLock(path, lockOpts(fixedNow.Add(10*time.Minute), &logs))
	require.Error(t, err)
	assert.True(t, syncerr.IsConflict(err))
	assert.Contains(t, err.Error(), "another run is in progress")
}

func TestAcquireLock_StaleLockReclaimedWithWarning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json.lock")
	var logs bytes.Buffer

	_, err := AcquireLock(path, lockOpts(fixedNow, &logs))
	require.NoError(t, err)

	later := fixedNow.Add(3 * time.Hour)
	l, err := AcquireLock(path, lockOpts(later, &logs))
	require.NoError(t, err)
	defer l.Release()

	assert.Contains(t, logs.String(), "reclaiming stale lock")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, later.Format(time.RFC3339Nano)+"\n", string(data))
}

func TestAcquireLock_UnparseableFallsBackToModTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json.lock")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	old := fixedNow.Add(-5 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	var logs bytes.Buffer
	l, err := AcquireLock(path, lockOpts(fixedNow, &logs))
	require.NoError(t, err)
	defer l.Release()
	assert.Contains(t, logs.String(), "reclaiming stale lock")
}

func TestRelease_NilAndMissing(t *testing.T) {
	var l *Lock
	assert.NoError(t, l.Release())

	l = &Lock{path: filepath.Join(t.TempDir(), "gone.lock")}
	assert.NoError(t, l.Release())
}
