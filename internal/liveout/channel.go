package liveout

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/blqio/blq/internal/store"
)

const (
	metaFileName        = "meta.json"
	logFileSuffix       = ".log"
	DefaultPollInterval = 100 * time.Millisecond
)

// Meta describes the process behind a live directory. It is written once
// at channel creation and is advisory only; the ledger is authoritative.
type Meta struct {
	AttemptID   string `json:"attempt_id"`
	SessionID   string `json:"session_id,omitempty"`
	Command     string `json:"command,omitempty"`
	Cwd         string `json:"cwd,omitempty"`
	Pid         int    `json:"pid,omitempty"`
	StartedAtMs int64  `json:"started_at_ms"`
}

// Entry is one live directory as seen by List.
type Entry struct {
	AttemptID string
	Dir       string
	Meta      *Meta
}

// Channel manages live output directories rooted at a single live/ dir.
type Channel struct {
	root         string
	pollInterval time.Duration
}

func New(root string) *Channel {
	return &Channel{root: root, pollInterval: DefaultPollInterval}
}

// SetPollInterval overrides the Follow poll interval. Values <= 0 are ignored.
func (c *Channel) SetPollInterval(d time.Duration) {
	if d > 0 {
		c.pollInterval = d
	}
}

// Dir returns the live directory path for an attempt. The directory may
// not exist.
func (c *Channel) Dir(attemptID string) string {
	return filepath.Join(c.root, attemptID)
}

// Path returns the log file path for one stream of an attempt.
func (c *Channel) Path(attemptID, stream string) string {
	return filepath.Join(c.root, attemptID, stream+logFileSuffix)
}

// Create makes the live directory for an attempt and writes its meta.json.
// Creating an already-existing channel overwrites the metadata but leaves
// any log files in place.
func (c *Channel) Create(attemptID string, meta Meta) (string, error) {
	dir := c.Dir(attemptID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create live dir: %w", err)
	}
	meta.AttemptID = attemptID
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal live meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metaFileName), data, 0o644); err != nil {
		return "", fmt.Errorf("write live meta: %w", err)
	}
	return dir, nil
}

// OpenWriter opens the append-only log file for one stream, creating it
// if needed. The caller owns the returned file.
func (c *Channel) OpenWriter(attemptID, stream string) (*os.File, error) {
	f, err := os.OpenFile(c.Path(attemptID, stream), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open live log: %w", err)
	}
	return f, nil
}

// ReadMeta loads meta.json for an attempt's live directory.
func (c *Channel) ReadMeta(attemptID string) (*Meta, error) {
	data, err := os.ReadFile(filepath.Join(c.Dir(attemptID), metaFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("live meta for %s: %w", attemptID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("read live meta: %w", err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse live meta: %w", err)
	}
	return &m, nil
}

// Exists reports whether an attempt currently has a live directory.
func (c *Channel) Exists(attemptID string) bool {
	info, err := os.Stat(c.Dir(attemptID))
	return err == nil && info.IsDir()
}

// List enumerates all live directories, sorted by attempt ID. Metadata is
// loaded best-effort; an entry with unreadable meta.json has a nil Meta.
func (c *Channel) List() ([]Entry, error) {
	dirents, err := os.ReadDir(c.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("list live dirs: %w", err)
	}
	entries := []Entry{}
	for _, de := range dirents {
		if !de.IsDir() {
			continue
		}
		e := Entry{AttemptID: de.Name(), Dir: filepath.Join(c.root, de.Name())}
		if m, err := c.ReadMeta(de.Name()); err == nil {
			e.Meta = m
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].AttemptID < entries[j].AttemptID })
	return entries, nil
}

// Cleanup removes an attempt's live directory and everything in it.
// Removing a directory that does not exist is not an error.
func (c *Channel) Cleanup(attemptID string) error {
	if err := os.RemoveAll(c.Dir(attemptID)); err != nil {
		return fmt.Errorf("clean live dir: %w", err)
	}
	return nil
}
