package store

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/blqio/blq/internal/record"
)

// createTestBlobStore returns a blob store with the default 4096 threshold.
func createTestBlobStore(t *testing.T) (*BlobStore, *Store) {
	t.Helper()
	s := createTestStore(t)
	b := NewBlobStore(filepath.Join(t.TempDir(), "content"), DefaultInlineThreshold, s)
	return b, s
}

func TestPut_SmallContentStoredInline(t *testing.T) {
	b, _ := createTestBlobStore(t)

	data := bytes.Repeat([]byte("x"), 100)
	res, err := b.Put(context.Background(), data)
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	if res.StorageType != record.StorageInline {
		t.Errorf("storage type = %q, want inline", res.StorageType)
	}
	if res.ByteLength != 100 {
		t.Errorf("byte length = %d, want 100", res.ByteLength)
	}

	got, err := b.Get(res.StorageType, res.StorageRef)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("inline round-trip mismatch")
	}
}

func TestPut_LargeContentStoredAsBlob(t *testing.T) {
	b, _ := createTestBlobStore(t)

	data := bytes.Repeat([]byte("y"), 5000)
	res, err := b.Put(context.Background(), data)
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	if res.StorageType != record.StorageBlob {
		t.Errorf("storage type = %q, want blob", res.StorageType)
	}

	// File exists at <hash[:2]>/<hash>.bin
	path := filepath.Join(b.dir, res.ContentHash[:2], res.ContentHash+".bin")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("blob file missing: %v", err)
	}

	got, err := b.Get(res.StorageType, res.StorageRef)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("blob round-trip mismatch")
	}
}

func TestPut_ThresholdBoundaryGoesToBlob(t *testing.T) {
	b, _ := createTestBlobStore(t)

	// Exactly the threshold: not strictly smaller, so blob storage.
	data := bytes.Repeat([]byte("z"), DefaultInlineThreshold)
	res, err := b.Put(context.Background(), data)
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if res.StorageType != record.StorageBlob {
		t.Errorf("storage type at boundary = %q, want blob", res.StorageType)
	}

	// One byte under the threshold stays inline.
	res, err = b.Put(context.Background(), data[:DefaultInlineThreshold-1])
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if res.StorageType != record.StorageInline {
		t.Errorf("storage type under boundary = %q, want inline", res.StorageType)
	}
}

func TestPut_IdenticalContentDeduplicates(t *testing.T) {
	b, s := createTestBlobStore(t)
	ctx := context.Background()

	data := bytes.Repeat([]byte("y"), 5000)
	first, err := b.Put(ctx, data)
	if err != nil {
		t.Fatalf("first Put() failed: %v", err)
	}
	second, err := b.Put(ctx, data)
	if err != nil {
		t.Fatalf("second Put() failed: %v", err)
	}

	if first.ContentHash != second.ContentHash {
		t.Fatal("identical content produced different hashes")
	}

	// Exactly one file on disk.
	entries, err := os.ReadDir(filepath.Join(b.dir, first.ContentHash[:2]))
	if err != nil {
		t.Fatalf("read blob dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("blob files = %d, want 1", len(entries))
	}

	entry, err := s.ReadBlobEntry(ctx, first.ContentHash)
	if err != nil {
		t.Fatalf("ReadBlobEntry() failed: %v", err)
	}
	if entry.RefCount != 2 {
		t.Errorf("ref_count = %d, want 2", entry.RefCount)
	}
}

func TestGet_MissingBlobFileIsNotFound(t *testing.T) {
	b, _ := createTestBlobStore(t)

	_, err := b.Get(record.StorageBlob, "blob:ab/abcdef.bin")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGet_MalformedInlineIsNotFound(t *testing.T) {
	b, _ := createTestBlobStore(t)

	// Truncated base64 reads as NotFound, not a crash: display paths fail soft.
	_, err := b.Get(record.StorageInline, "inline:!!!not-base64!!!")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGet_UnknownStorageTypeIsNotFound(t *testing.T) {
	b, _ := createTestBlobStore(t)

	_, err := b.Get("carrier-pigeon", "ref")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestNewBlobStore_ClampsThreshold(t *testing.T) {
	s := createTestStore(t)
	dir := t.TempDir()

	if got := NewBlobStore(dir, -1, s).InlineThreshold(); got != DefaultInlineThreshold {
		t.Errorf("negative threshold = %d, want default %d", got, DefaultInlineThreshold)
	}
	if got := NewBlobStore(dir, 10_000_000, s).InlineThreshold(); got != MaxInlineThreshold {
		t.Errorf("oversized threshold = %d, want cap %d", got, MaxInlineThreshold)
	}
	if got := NewBlobStore(dir, 0, s).InlineThreshold(); got != 0 {
		t.Errorf("zero threshold = %d, want 0 (inline disabled)", got)
	}
}

func TestCleanup_SharedHashFreedOnlyWithLastReference(t *testing.T) {
	b, s := createTestBlobStore(t)
	ctx := context.Background()

	data := bytes.Repeat([]byte("q"), 8000)
	res, err := b.Put(ctx, data)
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if _, err := b.Put(ctx, data); err != nil {
		t.Fatalf("second Put() failed: %v", err)
	}

	// Two outputs referencing the same content hash.
	for _, id := range []string{"out-1", "out-2"} {
		out := record.Output{
			ID:            id,
			InvocationID:  "inv-" + id,
			Stream:        record.StreamCombined,
			ContentHash:   res.ContentHash,
			ByteLength:    res.ByteLength,
			StorageType:   res.StorageType,
			StorageRef:    res.StorageRef,
			ContentType:   "text/plain",
			DatePartition: "2023-11-14",
		}
		if err := s.WriteOutput(ctx, out); err != nil {
			t.Fatalf("WriteOutput(%s) failed: %v", id, err)
		}
	}

	// Delete one reference: the blob must survive cleanup.
	if err := s.DeleteOutput(ctx, "out-1"); err != nil {
		t.Fatalf("DeleteOutput() failed: %v", err)
	}
	deleted, freed, err := b.CleanupOrphanedBlobs(ctx)
	if err != nil {
		t.Fatalf("CleanupOrphanedBlobs() failed: %v", err)
	}
	if deleted != 0 || freed != 0 {
		t.Errorf("cleanup with live reference deleted %d blobs (%d bytes), want none", deleted, freed)
	}

	// Delete the last reference: now the blob goes.
	if err := s.DeleteOutput(ctx, "out-2"); err != nil {
		t.Fatalf("DeleteOutput() failed: %v", err)
	}
	deleted, freed, err = b.CleanupOrphanedBlobs(ctx)
	if err != nil {
		t.Fatalf("CleanupOrphanedBlobs() failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if freed != 8000 {
		t.Errorf("freed = %d, want 8000", freed)
	}

	path := filepath.Join(b.dir, res.ContentHash[:2], res.ContentHash+".bin")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("blob file should be gone after cleanup")
	}
	if _, err := s.ReadBlobEntry(ctx, res.ContentHash); !errors.Is(err, ErrNotFound) {
		t.Errorf("registry row should be gone, got err = %v", err)
	}
}

func TestCleanup_SecondRunDeletesNothing(t *testing.T) {
	b, _ := createTestBlobStore(t)
	ctx := context.Background()

	data := bytes.Repeat([]byte("w"), 6000)
	if _, err := b.Put(ctx, data); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	// No output row references this blob: the first cleanup reclaims it.
	deleted, _, err := b.CleanupOrphanedBlobs(ctx)
	if err != nil {
		t.Fatalf("first cleanup failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("first cleanup deleted = %d, want 1", deleted)
	}

	deleted, freed, err := b.CleanupOrphanedBlobs(ctx)
	if err != nil {
		t.Fatalf("second cleanup failed: %v", err)
	}
	if deleted != 0 || freed != 0 {
		t.Errorf("second cleanup deleted %d blobs (%d bytes), want none", deleted, freed)
	}
}

func TestCleanup_IgnoresAlreadyDeletedFiles(t *testing.T) {
	b, _ := createTestBlobStore(t)
	ctx := context.Background()

	data := bytes.Repeat([]byte("v"), 6000)
	res, err := b.Put(ctx, data)
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	// Simulate an external deletion before cleanup runs.
	path := filepath.Join(b.dir, res.ContentHash[:2], res.ContentHash+".bin")
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove blob file: %v", err)
	}

	deleted, _, err := b.CleanupOrphanedBlobs(ctx)
	if err != nil {
		t.Fatalf("cleanup should ignore already-gone files: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1 (registry row still reclaimed)", deleted)
	}
}

func TestContentHash_MatchesKnownDigest(t *testing.T) {
	// SHA-256 of the empty string is a well-known vector.
	const want = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := ContentHash(nil); got != want {
		t.Errorf("ContentHash(nil) = %s, want %s", got, want)
	}
}
