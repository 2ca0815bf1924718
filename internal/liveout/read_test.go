package liveout

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blqio/blq/internal/record"
	"github.com/blqio/blq/internal/store"
)

func writeStream(t *testing.T, ch *Channel, attemptID, stream, content string) {
	t.Helper()
	_, err := ch.Create(attemptID, Meta{})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(ch.Path(attemptID, stream), []byte(content), 0o644))
}

func TestReadFull(t *testing.T) {
	ch := newTestChannel(t)
	writeStream(t, ch, "att-1", record.StreamStdout, "a\nb\nc\n")

	got, err := ch.Read("att-1", record.StreamStdout, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\n", got)
}

func TestReadTail(t *testing.T) {
	ch := newTestChannel(t)
	writeStream(t, ch, "att-1", record.StreamStdout, "a\nb\nc\nd\n")

	got, err := ch.Read("att-1", record.StreamStdout, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, "c\nd\n", got)
}

func TestReadHead(t *testing.T) {
	ch := newTestChannel(t)
	writeStream(t, ch, "att-1", record.StreamStdout, "a\nb\nc\nd\n")

	got, err := ch.Read("att-1", record.StreamStdout, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\n", got)
}

func TestReadTailWinsOverHead(t *testing.T) {
	ch := newTestChannel(t)
	writeStream(t, ch, "att-1", record.StreamStdout, "a\nb\nc\nd\n")

	got, err := ch.Read("att-1", record.StreamStdout, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, "d\n", got)
}

func TestReadTrimLargerThanContent(t *testing.T) {
	ch := newTestChannel(t)
	writeStream(t, ch, "att-1", record.StreamStdout, "a\nb\n")

	got, err := ch.Read("att-1", record.StreamStdout, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", got)
}

func TestReadTailKeepsMissingTerminator(t *testing.T) {
	ch := newTestChannel(t)
	writeStream(t, ch, "att-1", record.StreamStdout, "a\nb\nc")

	got, err := ch.Read("att-1", record.StreamStdout, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, "b\nc", got)
}

func TestReadHeadOfUnterminatedFile(t *testing.T) {
	ch := newTestChannel(t)
	writeStream(t, ch, "att-1", record.StreamStdout, "a\nb\nc")

	got, err := ch.Read("att-1", record.StreamStdout, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", got)

	got, err = ch.Read("att-1", record.StreamStdout, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc", got)
}

func TestReadMissingFileIsNotFound(t *testing.T) {
	ch := newTestChannel(t)

	_, err := ch.Read("att-1", record.StreamStdout, 0, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestReadEmptyFile(t *testing.T) {
	ch := newTestChannel(t)
	writeStream(t, ch, "att-1", record.StreamStdout, "")

	got, err := ch.Read("att-1", record.StreamStdout, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

// statusScript returns pending for the first n calls, then completed.
func statusScript(pendingCalls int) StatusFunc {
	var mu sync.Mutex
	calls := 0
	return func(ctx context.Context) (record.RunStatus, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= pendingCalls {
			return record.StatusPending, nil
		}
		return record.StatusCompleted, nil
	}
}

func TestFollowEmitsExistingLinesThenStops(t *testing.T) {
	ch := newTestChannel(t)
	ch.SetPollInterval(time.Millisecond)
	writeStream(t, ch, "att-1", record.StreamCombined, "one\ntwo\n")

	var lines []string
	err := ch.Follow(context.Background(), "att-1", record.StreamCombined, statusScript(0), func(line string) error {
		lines = append(lines, line)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, lines)
}

func TestFollowPicksUpAppendedLines(t *testing.T) {
	ch := newTestChannel(t)
	ch.SetPollInterval(time.Millisecond)
	writeStream(t, ch, "att-1", record.StreamCombined, "one\n")

	appended := false
	var mu sync.Mutex
	status := func(ctx context.Context) (record.RunStatus, error) {
		mu.Lock()
		defer mu.Unlock()
		if !appended {
			w, err := ch.OpenWriter("att-1", record.StreamCombined)
			require.NoError(t, err)
			_, err = w.WriteString("two\nthree\n")
			require.NoError(t, err)
			require.NoError(t, w.Close())
			appended = true
			return record.StatusPending, nil
		}
		return record.StatusCompleted, nil
	}

	var lines []string
	err := ch.Follow(context.Background(), "att-1", record.StreamCombined, status, func(line string) error {
		lines = append(lines, line)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, lines)
}

func TestFollowDrainsOutputFlushedBeforeCompletion(t *testing.T) {
	ch := newTestChannel(t)
	ch.SetPollInterval(time.Millisecond)
	writeStream(t, ch, "att-1", record.StreamCombined, "first\n")

	// The writer's final flush lands after the follower's empty read but
	// before it sees the completed status.
	status := func(ctx context.Context) (record.RunStatus, error) {
		w, err := ch.OpenWriter("att-1", record.StreamCombined)
		require.NoError(t, err)
		_, err = w.WriteString("last\n")
		require.NoError(t, err)
		require.NoError(t, w.Close())
		return record.StatusCompleted, nil
	}

	var lines []string
	err := ch.Follow(context.Background(), "att-1", record.StreamCombined, status, func(line string) error {
		lines = append(lines, line)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "last"}, lines)
}

func TestFollowEmitsTrailingPartialLine(t *testing.T) {
	ch := newTestChannel(t)
	ch.SetPollInterval(time.Millisecond)
	writeStream(t, ch, "att-1", record.StreamCombined, "done\nno newline")

	var lines []string
	err := ch.Follow(context.Background(), "att-1", record.StreamCombined, statusScript(0), func(line string) error {
		lines = append(lines, line)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"done", "no newline"}, lines)
}

func TestFollowMissingFileWaitsForStatus(t *testing.T) {
	ch := newTestChannel(t)
	ch.SetPollInterval(time.Millisecond)
	_, err := ch.Create("att-1", Meta{})
	require.NoError(t, err)

	var lines []string
	err = ch.Follow(context.Background(), "att-1", record.StreamCombined, statusScript(2), func(line string) error {
		lines = append(lines, line)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestFollowCancellation(t *testing.T) {
	ch := newTestChannel(t)
	ch.SetPollInterval(time.Millisecond)
	writeStream(t, ch, "att-1", record.StreamCombined, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pending := func(ctx context.Context) (record.RunStatus, error) { return record.StatusPending, nil }

	err := ch.Follow(ctx, "att-1", record.StreamCombined, pending, func(string) error { return nil })
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFollowEmitErrorStopsFollow(t *testing.T) {
	ch := newTestChannel(t)
	ch.SetPollInterval(time.Millisecond)
	writeStream(t, ch, "att-1", record.StreamCombined, "one\ntwo\n")

	wantErr := errors.New("pipe closed")
	err := ch.Follow(context.Background(), "att-1", record.StreamCombined, statusScript(0), func(string) error {
		return wantErr
	})
	assert.True(t, errors.Is(err, wantErr))
}
