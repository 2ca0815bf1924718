package store

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blqio/blq/internal/record"
)

// Inline threshold bounds. Content strictly smaller than the threshold is
// stored inline in the output row; everything else goes to a blob file.
const (
	DefaultInlineThreshold = 4096
	MaxInlineThreshold     = 1_048_576
)

const (
	inlineRefPrefix = "inline:"
	blobRefPrefix   = "blob:"
)

// BlobStore is content-addressed byte storage under a blob directory, with
// an inline threshold policy and a reference-counted registry kept in the
// ledger database.
//
// Blob files live at <dir>/<hash[:2]>/<hash>.bin. Concurrent writers racing
// to create the same blob never conflict: content addressing guarantees
// byte-identical content, so a rename that loses the race is still success.
type BlobStore struct {
	dir       string
	threshold int
	store     *Store
}

// PutResult describes where Put stored the bytes.
type PutResult struct {
	StorageType string
	StorageRef  string
	ContentHash string
	ByteLength  int64
}

// NewBlobStore creates a blob store rooted at dir, clamping threshold to
// [0, MaxInlineThreshold]. A threshold of 0 disables inline storage; a
// negative value selects the default.
func NewBlobStore(dir string, threshold int, st *Store) *BlobStore {
	if threshold < 0 {
		threshold = DefaultInlineThreshold
	}
	if threshold > MaxInlineThreshold {
		threshold = MaxInlineThreshold
	}
	return &BlobStore{dir: dir, threshold: threshold, store: st}
}

// InlineThreshold returns the clamped threshold in effect.
func (b *BlobStore) InlineThreshold() int {
	return b.threshold
}

// ContentHash returns the SHA-256 hex digest of data. This is the identity
// of output content everywhere in the system.
func ContentHash(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h)
}

// Put stores data and returns a self-describing reference.
//
// Content strictly smaller than the inline threshold is base64-encoded into
// the reference itself (no filesystem write). Larger content is written to
// <dir>/<hash[:2]>/<hash>.bin via write-to-temp-then-atomic-rename, and the
// blob registry row is upserted: inserted on first write, ref_count bumped
// on subsequent writes of identical content.
func (b *BlobStore) Put(ctx context.Context, data []byte) (PutResult, error) {
	res := PutResult{
		ContentHash: ContentHash(data),
		ByteLength:  int64(len(data)),
	}

	if len(data) < b.threshold {
		res.StorageType = record.StorageInline
		res.StorageRef = inlineRefPrefix + base64.StdEncoding.EncodeToString(data)
		return res, nil
	}

	relPath := filepath.Join(res.ContentHash[:2], res.ContentHash+".bin")
	if err := b.writeBlobFile(relPath, data); err != nil {
		return PutResult{}, fmt.Errorf("put blob: %w", err)
	}

	nowMs := b.store.now().UnixMilli()
	err := b.store.retry.Do(ctx, func() error {
		_, err := b.store.db.ExecContext(ctx, `
			INSERT INTO blob_registry
			(content_hash, byte_length, storage_path, last_accessed_ms, ref_count)
			VALUES (?, ?, ?, ?, 1)
			ON CONFLICT(content_hash) DO UPDATE SET
				ref_count = ref_count + 1,
				last_accessed_ms = excluded.last_accessed_ms
		`, res.ContentHash, res.ByteLength, filepath.ToSlash(relPath), nowMs)
		return err
	})
	if err != nil {
		return PutResult{}, fmt.Errorf("put blob: registry upsert: %w", err)
	}

	res.StorageType = record.StorageBlob
	res.StorageRef = blobRefPrefix + filepath.ToSlash(relPath)
	return res, nil
}

// writeBlobFile writes data to relPath under the blob dir atomically.
// The temp file lives in the final directory so the rename never crosses a
// filesystem boundary. If another writer won the race the target already
// holds identical bytes, so any rename outcome that leaves the target in
// place counts as success.
func (b *BlobStore) writeBlobFile(relPath string, data []byte) error {
	target := filepath.Join(b.dir, relPath)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		// Lost a rename race: identical content already in place.
		if _, statErr := os.Stat(target); statErr == nil {
			return nil
		}
		return fmt.Errorf("rename temp: %w", err)
	}
	return nil
}

// Get resolves a storage reference back to its bytes.
//
// Inline references decode in place; malformed inline encoding reads as
// ErrNotFound so display paths fail soft rather than crashing. Blob
// references resolve relative to the blob dir; a missing file is
// ErrNotFound, not an error, since it commonly reflects a cleanup race.
func (b *BlobStore) Get(storageType, storageRef string) ([]byte, error) {
	switch storageType {
	case record.StorageInline:
		encoded := strings.TrimPrefix(storageRef, inlineRefPrefix)
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("malformed inline content: %w", ErrNotFound)
		}
		return data, nil

	case record.StorageBlob:
		relPath := filepath.FromSlash(strings.TrimPrefix(storageRef, blobRefPrefix))
		data, err := os.ReadFile(filepath.Join(b.dir, relPath))
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("blob %s: %w", relPath, ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("read blob: %w", err)
		}
		return data, nil

	default:
		return nil, fmt.Errorf("storage type %q: %w", storageType, ErrNotFound)
	}
}

// CleanupOrphanedBlobs deletes blob files whose content hash is no longer
// referenced by any output row, removes their registry rows, and prunes
// now-empty hash subdirectories. Returns the number of blobs deleted and
// the bytes freed.
//
// This is the ONLY deletion path for blob content. The registry indirection
// exists so identical content shared by multiple invocations is freed only
// when the last output reference is gone. Running cleanup twice with no
// intervening writes deletes nothing the second time.
func (b *BlobStore) CleanupOrphanedBlobs(ctx context.Context) (int, int64, error) {
	rows, err := b.store.db.QueryContext(ctx, `
		SELECT r.content_hash, r.byte_length, r.storage_path
		FROM blob_registry r
		LEFT JOIN outputs o ON o.content_hash = r.content_hash
		WHERE o.id IS NULL
	`)
	if err != nil {
		return 0, 0, fmt.Errorf("query orphaned blobs: %w", err)
	}

	type orphan struct {
		hash string
		size int64
		path string
	}
	var orphans []orphan
	for rows.Next() {
		var o orphan
		if err := rows.Scan(&o.hash, &o.size, &o.path); err != nil {
			rows.Close()
			return 0, 0, fmt.Errorf("scan orphaned blob: %w", err)
		}
		orphans = append(orphans, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, 0, fmt.Errorf("iterate orphaned blobs: %w", err)
	}
	rows.Close()

	var deleted int
	var freed int64
	for _, o := range orphans {
		target := filepath.Join(b.dir, filepath.FromSlash(o.path))
		if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
			return deleted, freed, fmt.Errorf("remove blob %s: %w", o.path, err)
		}

		err := b.store.retry.Do(ctx, func() error {
			_, err := b.store.db.ExecContext(ctx, `
				DELETE FROM blob_registry WHERE content_hash = ?
			`, o.hash)
			return err
		})
		if err != nil {
			return deleted, freed, fmt.Errorf("delete registry row %s: %w", o.hash, err)
		}

		// Prune the hash prefix directory if this was its last file.
		// os.Remove refuses non-empty directories, which is exactly the
		// behavior wanted here.
		_ = os.Remove(filepath.Dir(target))

		deleted++
		freed += o.size
	}

	return deleted, freed, nil
}
