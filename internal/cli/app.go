package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/papersync/internal/config"
	"github.com/roach88/papersync/internal/device"
	"github.com/roach88/papersync/internal/journal"
	"github.com/roach88/papersync/internal/orchestrator"
	"github.com/roach88/papersync/internal/refstore"
	"github.com/roach88/papersync/internal/store"
	"github.com/roach88/papersync/internal/syncerr"
)

// newLogger installs the process logger: text on stderr, debug under
// --verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func (o *RootOptions) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// loadConfig reads --config, or the default path when it exists.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	path := o.ConfigPath
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, WrapExitError(ExitCommandError, "config file not readable", err)
		}
	} else {
		path = config.DefaultPath()
	}
	lookup := o.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg, err := config.Load(path, lookup)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// app is the opened local state of a command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	lock    *store.Lock
	journal *journal.Journal
}

type appMode int

const (
	// readOnly loads the store without taking the lock.
	readOnly appMode = iota
	// exclusive takes the lock.
	exclusive
	// exclusiveWithCredentials also requires a complete configuration.
	exclusiveWithCredentials
	// planning is exclusiveWithCredentials without the journal, for dry
	// runs.
	planning
)

func (o *RootOptions) openApp(cmd *cobra.Command, mode appMode) (*app, error) {
	logger := newLogger(cmd.ErrOrStderr(), o.Verbose)
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if mode == exclusiveWithCredentials || mode == planning {
		if err := cfg.Validate(); err != nil {
			return nil, WrapExitError(ExitCommandError, "incomplete configuration", err)
		}
	}
	if err := os.MkdirAll(cfg.State.Dir, 0o755); err != nil {
		return nil, WrapExitError(ExitCommandError, "cannot create state directory", err)
	}

	a := &app{cfg: cfg, logger: logger}
	if mode != readOnly {
		lock, err := store.AcquireLock(cfg.State.LockPath(), store.LockOptions{
			StaleAfter: cfg.State.LockStaleAfter,
			Now:        o.now,
			Logger:     logger,
		})
		if err != nil {
			if syncerr.IsConflict(err) {
				return nil, WrapExitError(ExitCommandError, "another papersync run is in progress", err)
			}
			return nil, WrapExitError(ExitCommandError, "cannot take the state lock", err)
		}
		a.lock = lock
	}

	a.store = store.New(cfg.State.StatePath(), store.WithLogger(logger), store.WithClock(o.now))
	if _, err := a.store.Load(); err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "cannot load state", err)
	}
	if a.store.Recovered {
		logger.Warn("state was reset after corruption", "backup", a.store.BackupPath)
	}

	if mode == exclusive || mode == exclusiveWithCredentials {
		j, err := journal.Open(cfg.State.JournalPath())
		if err != nil {
			logger.Warn("journal unavailable; continuing without history", "error", err)
		} else {
			a.journal = j
		}
	}
	return a, nil
}

func (a *app) Close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn("close journal", "error", err)
		}
	}
	if err := a.lock.Release(); err != nil {
		a.logger.Warn("release lock", "error", err)
	}
}

// collaborators builds the Zotero client and the rmapi bridge.
func (o *RootOptions) collaborators(cfg *config.Config, logger *slog.Logger) (orchestrator.RefStore, orchestrator.Device) {
	if o.Collaborators != nil {
		return o.Collaborators(cfg, logger)
	}
	refs := refstore.New(refstore.Config{
		BaseURL:           cfg.Zotero.BaseURL,
		UserID:            cfg.Zotero.UserID,
		APIKey:            cfg.Zotero.APIKey,
		InboxTag:          cfg.Zotero.TagInbox,
		ReadTag:           cfg.Zotero.TagRead,
		Timeout:           cfg.Zotero.Timeout,
		RequestsPerSecond: cfg.Zotero.RequestsPerSecond,
	}, refstore.WithLogger(logger))
	dev := device.NewBridge(device.ExecRunner{Binary: cfg.Device.RmapiPath},
		device.WithRoot(cfg.Device.Root),
		device.WithTimeout(cfg.Device.Timeout),
		device.WithLogger(logger))
	return refs, dev
}

// openJournal opens the journal read side for trace.
func openJournal(cfg *config.Config) (*journal.Journal, error) {
	if _, err := os.Stat(cfg.State.JournalPath()); errors.Is(err, fs.ErrNotExist) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("no journal at %s; run sync first", cfg.State.JournalPath()))
	}
	j, err := journal.Open(cfg.State.JournalPath())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "cannot open journal", err)
	}
	return j, nil
}
