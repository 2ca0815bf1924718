package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/blqio/blq/internal/config"
	"github.com/blqio/blq/internal/liveout"
	"github.com/blqio/blq/internal/query"
	"github.com/blqio/blq/internal/store"
)

const (
	lqDirName   = ".lq"
	dbFileName  = "blq.db"
	liveDirName = "live"
)

// blobContentDir is where blob files live relative to the .lq directory.
// Other tooling reads this layout, so it is part of the on-disk contract.
var blobContentDir = filepath.Join("blobs", "content")

// workspace bundles the opened backends for one .lq directory. Commands
// open it at start and close it on every exit path; nothing is shared at
// package level.
type workspace struct {
	lqDir string
	cfg   config.Config
	store *store.Store
	blobs *store.BlobStore
	live  *liveout.Channel
}

// openWorkspace creates or opens the .lq directory under the project dir.
func openWorkspace(opts *RootOptions) (*workspace, error) {
	lqDir := filepath.Join(opts.Dir, lqDirName)
	if err := os.MkdirAll(lqDir, 0o755); err != nil {
		return nil, WrapExitError(ExitCommandError, "create .lq directory", err)
	}

	cfg, err := config.Load(filepath.Join(lqDir, config.FileName))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}

	st, err := store.Open(filepath.Join(lqDir, dbFileName))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open database", err)
	}
	st.SetRetryPolicy(cfg.RetryPolicy())

	blobs := store.NewBlobStore(filepath.Join(lqDir, blobContentDir), cfg.InlineThresholdBytes, st)
	live := liveout.New(filepath.Join(lqDir, liveDirName))
	live.SetPollInterval(cfg.LivePollInterval())

	slog.Debug("workspace open", "dir", lqDir)
	return &workspace{lqDir: lqDir, cfg: cfg, store: st, blobs: blobs, live: live}, nil
}

// requireWorkspace opens an existing .lq directory and fails when the
// project was never recorded into. Read-side commands use this so a typo
// in --dir does not silently create an empty database.
func requireWorkspace(opts *RootOptions) (*workspace, error) {
	lqDir := filepath.Join(opts.Dir, lqDirName)
	if _, err := os.Stat(filepath.Join(lqDir, dbFileName)); err != nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("no recording database under %s", lqDir))
	}
	return openWorkspace(opts)
}

func (w *workspace) Close() {
	if err := w.store.Close(); err != nil {
		slog.Error("close database", "error", err)
	}
}

func (w *workspace) queries() *query.Facade {
	return query.New(w.store, w.live)
}

// formatter builds the output formatter for a command, writing to the
// command's configured streams.
func formatter(opts *RootOptions, out, errOut io.Writer) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    out,
		ErrWriter: errOut,
		Verbose:   opts.Verbose,
	}
}
