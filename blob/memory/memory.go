// Package memory provides an in-process blob.Bucket.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/xraph/export"
	"github.com/xraph/export/blob"
)

var _ blob.Bucket = (*Bucket)(nil)

type entry struct {
	data []byte
	obj  blob.Object
}

// Bucket stores objects in a map. Safe for concurrent use.
type Bucket struct {
	mu      sync.RWMutex
	objects map[string]entry
}

// New returns an empty Bucket.
func New() *Bucket {
	return &Bucket{objects: make(map[string]entry)}
}

// Put implements blob.Bucket.
func (b *Bucket) Put(_ context.Context, key string, r io.Reader, contentType string) (*blob.Object, error) {
	key, err := blob.CleanKey(key)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("blob/memory: read %s: %w", key, err)
	}

	obj := blob.Object{
		Key:         key,
		Size:        int64(len(data)),
		Checksum:    blob.Checksum(data),
		ContentType: contentType,
		ModifiedAt:  time.Now().UTC(),
	}

	b.mu.Lock()
	b.objects[key] = entry{data: data, obj: obj}
	b.mu.Unlock()

	return &obj, nil
}

// Get implements blob.Bucket.
func (b *Bucket) Get(_ context.Context, key string) (io.ReadCloser, error) {
	b.mu.RLock()
	e, ok := b.objects[key]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", export.ErrObjectNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(e.data)), nil
}

// Stat implements blob.Bucket.
func (b *Bucket) Stat(_ context.Context, key string) (*blob.Object, error) {
	b.mu.RLock()
	e, ok := b.objects[key]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", export.ErrObjectNotFound, key)
	}
	obj := e.obj
	return &obj, nil
}

// Delete implements blob.Bucket.
func (b *Bucket) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	delete(b.objects, key)
	b.mu.Unlock()
	return nil
}

// Keys returns every stored key. Intended for tests.
func (b *Bucket) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	return keys
}
