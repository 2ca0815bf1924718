package liveout

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/blqio/blq/internal/record"
	"github.com/blqio/blq/internal/store"
)

// BlobPut stores finalized content and reports where it landed. It is
// satisfied by (*store.BlobStore).Put.
type BlobPut func(ctx context.Context, data []byte) (store.PutResult, error)

// Finalize moves one stream's live content into durable storage and
// returns the Output row describing it. The row's ID is left empty for
// the caller to assign, and the caller inserts it. A missing or empty
// log file finalizes to nil with no error. The live directory is never
// removed here; Cleanup is a separate step so a crash mid-finalize
// leaves the content recoverable.
func (c *Channel) Finalize(ctx context.Context, attemptID, stream string, put BlobPut, nowMs int64) (*record.Output, error) {
	data, err := os.ReadFile(c.Path(attemptID, stream))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("finalize read: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	res, err := put(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("finalize store: %w", err)
	}
	return &record.Output{
		InvocationID:  attemptID,
		Stream:        stream,
		ContentHash:   res.ContentHash,
		ByteLength:    res.ByteLength,
		StorageType:   res.StorageType,
		StorageRef:    res.StorageRef,
		ContentType:   "text/plain",
		DatePartition: record.PartitionFor(nowMs),
	}, nil
}
