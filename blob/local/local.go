// Package local provides a filesystem-backed blob.Bucket.
//
// Objects are written to a temp file next to their destination while the
// sha256 is computed on the fly, synced, then renamed into place. A
// concurrent reader sees either the previous object or the new one.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/xraph/export"
	"github.com/xraph/export/blob"
)

var _ blob.Bucket = (*Bucket)(nil)

// Bucket stores objects under a root directory.
type Bucket struct {
	root string
}

// New creates the root directory if needed and returns a Bucket over it.
func New(root string) (*Bucket, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("blob/local: create root %s: %w", root, err)
	}
	return &Bucket{root: root}, nil
}

// Root returns the root directory.
func (b *Bucket) Root() string { return b.root }

func (b *Bucket) path(key string) (string, error) {
	key, err := blob.CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(b.root, filepath.FromSlash(key)), nil
}

// Put implements blob.Bucket.
func (b *Bucket) Put(ctx context.Context, key string, r io.Reader, contentType string) (*blob.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := b.path(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return nil, fmt.Errorf("blob/local: create dir for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), filepath.Base(full)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("blob/local: create temp for %s: %w", key, err)
	}
	tmpPath := tmp.Name()

	hasher := sha256.New()
	size, err := io.Copy(tmp, io.TeeReader(r, hasher))
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("blob/local: write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("blob/local: sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("blob/local: close %s: %w", key, err)
	}
	if err := os.Rename(tmpPath, full); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("blob/local: rename %s: %w", key, err)
	}

	info, err := os.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("blob/local: stat %s: %w", key, err)
	}

	return &blob.Object{
		Key:         filepath.ToSlash(mustRel(b.root, full)),
		Size:        size,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
		ContentType: contentType,
		ModifiedAt:  info.ModTime().UTC(),
	}, nil
}

// Get implements blob.Bucket.
func (b *Bucket) Get(_ context.Context, key string) (io.ReadCloser, error) {
	full, err := b.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", export.ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("blob/local: open %s: %w", key, err)
	}
	return f, nil
}

// Stat implements blob.Bucket. The checksum is recomputed from disk.
func (b *Bucket) Stat(ctx context.Context, key string) (*blob.Object, error) {
	rc, err := b.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	f := rc.(*os.File)
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("blob/local: stat %s: %w", key, err)
	}
	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return nil, fmt.Errorf("blob/local: checksum %s: %w", key, err)
	}

	cleaned, _ := blob.CleanKey(key)
	return &blob.Object{
		Key:        cleaned,
		Size:       info.Size(),
		Checksum:   hex.EncodeToString(hasher.Sum(nil)),
		ModifiedAt: info.ModTime().UTC(),
	}, nil
}

// Delete implements blob.Bucket.
func (b *Bucket) Delete(_ context.Context, key string) error {
	full, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("blob/local: delete %s: %w", key, err)
	}
	return nil
}

func mustRel(root, full string) string {
	rel, err := filepath.Rel(root, full)
	if err != nil {
		return full
	}
	return rel
}
