package liveout

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/blqio/blq/internal/record"
	"github.com/blqio/blq/internal/store"
)

// StatusFunc reports the current status of the attempt behind a live
// channel. Follow keeps polling while it returns StatusPending.
type StatusFunc func(ctx context.Context) (record.RunStatus, error)

// Read returns the current content of one stream's log file, optionally
// trimmed to the last tail lines or first head lines. When both are set,
// tail takes precedence. Zero values mean no trimming.
func (c *Channel) Read(attemptID, stream string, tail, head int) (string, error) {
	data, err := os.ReadFile(c.Path(attemptID, stream))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("live output %s/%s: %w", attemptID, stream, store.ErrNotFound)
		}
		return "", fmt.Errorf("read live output: %w", err)
	}
	if tail <= 0 && head <= 0 {
		return string(data), nil
	}
	content := strings.TrimSuffix(string(data), "\n")
	if content == "" {
		return string(data), nil
	}
	// A final newline survives trimming only if the original had one, or
	// if head dropped trailing lines, in which case the last kept line was
	// newline-terminated in the file.
	terminator := ""
	if strings.HasSuffix(string(data), "\n") {
		terminator = "\n"
	}
	lines := strings.Split(content, "\n")
	switch {
	case tail > 0:
		if tail < len(lines) {
			lines = lines[len(lines)-tail:]
		}
	case head > 0:
		if head < len(lines) {
			lines = lines[:head]
			terminator = "\n"
		}
	}
	return strings.Join(lines, "\n") + terminator, nil
}

// Follow streams lines from one stream's log file as they are appended,
// calling emit once per complete line without the trailing newline. It
// emits everything already present, then polls for growth. Polling stops
// when the attempt's status leaves pending; any trailing bytes without a
// final newline are emitted as a last line before returning. The log
// file not existing yet is not an error while the attempt is pending.
func (c *Channel) Follow(ctx context.Context, attemptID, stream string, status StatusFunc, emit func(line string) error) error {
	path := c.Path(attemptID, stream)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var offset int64
	var partial []byte
	for {
		chunk, err := readFrom(path, offset)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("follow live output: %w", err)
		}
		if len(chunk) > 0 {
			offset += int64(len(chunk))
			if partial, err = emitLines(append(partial, chunk...), emit); err != nil {
				return err
			}
			// Drain available data before spending a status query.
			continue
		}

		st, err := status(ctx)
		if err != nil {
			return fmt.Errorf("follow status: %w", err)
		}
		if st != record.StatusPending {
			// The writer flushes its last output before the outcome is
			// recorded, so bytes appended between the empty read above
			// and the status query are already on disk. One more read
			// picks them up.
			chunk, err := readFrom(path, offset)
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("follow live output: %w", err)
			}
			if partial, err = emitLines(append(partial, chunk...), emit); err != nil {
				return err
			}
			if len(partial) > 0 {
				return emit(string(partial))
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// emitLines emits every complete line in buf and returns the remainder
// after the last newline.
func emitLines(buf []byte, emit func(line string) error) ([]byte, error) {
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			return buf, nil
		}
		if err := emit(string(buf[:i])); err != nil {
			return nil, err
		}
		buf = buf[i+1:]
	}
}

func readFrom(path string, offset int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}
