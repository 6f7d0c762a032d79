// Package blob defines the object persistence contract used for export
// artifacts.
//
// Keys are slash-separated paths such as "tenant-1/exp_01h….csv". Writing
// an existing key replaces it; readers never observe a partial object.
//
// Implementations live in sub-packages:
//
//	blob/local  : filesystem directory (temp file + atomic rename)
//	blob/s3     : AWS S3 or any S3-compatible service
//	blob/memory : in-process map for tests and single-binary setups
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"path"
	"strings"
	"time"

	"github.com/xraph/export"
)

// Object describes a stored object.
type Object struct {
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	Checksum    string    `json:"checksum"` // hex sha256
	ContentType string    `json:"contentType,omitempty"`
	ModifiedAt  time.Time `json:"modifiedAt"`
}

// Bucket is the persistence contract for artifact payloads.
type Bucket interface {
	// Put stores the content of r under key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader, contentType string) (*Object, error)

	// Get returns the content stored under key, or export.ErrObjectNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Stat returns metadata for key, or export.ErrObjectNotFound.
	Stat(ctx context.Context, key string) (*Object, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// CleanKey validates key and returns its canonical form. Keys must be
// relative and must not climb out of the bucket root.
func CleanKey(key string) (string, error) {
	if key == "" {
		return "", export.NewValidationError("key", "required")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return "", export.NewValidationError("key", "must be a relative slash-separated path")
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", export.NewValidationError("key", "must stay inside the bucket")
	}
	return cleaned, nil
}

// Checksum returns the hex-encoded sha256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
