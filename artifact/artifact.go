// Package artifact persists rendered exports and issues expiring signed
// download links for them.
//
// An artifact for job J of tenant T in format F is stored under the blob key
// "T/J.F" with a JSON sidecar at "T/J.F.meta.json". Storing the same job
// again overwrites both, so duplicate processing converges on one object.
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/export"
	"github.com/xraph/export/analytics"
	"github.com/xraph/export/blob"
	"github.com/xraph/export/id"
	"github.com/xraph/export/render"
)

// DefaultTTL is how long a download link stays valid by default.
const DefaultTTL = 24 * time.Hour

// Request describes one artifact to store.
type Request struct {
	TenantID string
	JobID    id.ExportID
	Format   export.Format
	Sessions []analytics.Session
	Filters  *export.Filters
	ActorID  string
}

// Artifact is the immutable result of StoreArtifact.
type Artifact struct {
	DownloadURL  string    `json:"downloadUrl"`
	ArtifactPath string    `json:"artifactPath"`
	MetadataPath string    `json:"metadataPath"`
	RecordCount  int       `json:"recordCount"`
	Size         int64     `json:"size"`
	Checksum     string    `json:"checksum"`
	CreatedAt    time.Time `json:"createdAt"`
	CompletedAt  time.Time `json:"completedAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Metadata is the sidecar document written next to every artifact.
type Metadata struct {
	TenantID     string          `json:"tenantId"`
	JobID        string          `json:"jobId"`
	Format       export.Format   `json:"format"`
	Filters      *export.Filters `json:"filters,omitempty"`
	ActorID      string          `json:"actorId,omitempty"`
	ArtifactPath string          `json:"artifactPath"`
	RecordCount  int             `json:"recordCount"`
	Size         int64           `json:"size"`
	Checksum     string          `json:"checksum"`
	CreatedAt    time.Time       `json:"createdAt"`
	CompletedAt  time.Time       `json:"completedAt"`
	ExpiresAt    time.Time       `json:"expiresAt"`
}

// Store renders, persists and signs artifacts.
type Store struct {
	bucket blob.Bucket
	signer *Signer
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the lifetime of download links.
func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore returns a Store writing to bucket and signing with signer.
func NewStore(bucket blob.Bucket, signer *Signer, opts ...Option) *Store {
	s := &Store{
		bucket: bucket,
		signer: signer,
		ttl:    DefaultTTL,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bucket returns the underlying bucket.
func (s *Store) Bucket() blob.Bucket { return s.bucket }

// Signer returns the URL signer.
func (s *Store) Signer() *Signer { return s.signer }

func validate(req *Request) error {
	switch {
	case req.TenantID == "":
		return export.NewValidationError("tenantId", "required")
	case strings.ContainsAny(req.TenantID, `/\`) || req.TenantID == "." || req.TenantID == "..":
		return export.NewValidationError("tenantId", "must be a single path segment")
	case req.JobID.IsNil():
		return export.NewValidationError("jobId", "required")
	case req.Format == "":
		return export.NewValidationError("format", "required")
	}
	return nil
}

// StoreArtifact renders req.Sessions, writes the payload and its metadata
// sidecar, and returns the artifact with a signed download URL.
func (s *Store) StoreArtifact(ctx context.Context, req Request) (*Artifact, error) {
	if err := validate(&req); err != nil {
		return nil, err
	}

	payload, err := render.Render(req.Format, req.Sessions)
	if err != nil {
		return nil, err
	}

	createdAt := s.now().UTC()
	fileName := req.JobID.String() + "." + string(req.Format)
	key := req.TenantID + "/" + fileName
	metaKey := key + ".meta.json"

	obj, err := s.bucket.Put(ctx, key, bytes.NewReader(payload), render.ContentType(req.Format))
	if err != nil {
		return nil, fmt.Errorf("artifact: store %s: %w", key, err)
	}

	completedAt := s.now().UTC()
	expiresAt := createdAt.Add(s.ttl)

	meta := Metadata{
		TenantID:     req.TenantID,
		JobID:        req.JobID.String(),
		Format:       req.Format,
		Filters:      req.Filters,
		ActorID:      req.ActorID,
		ArtifactPath: obj.Key,
		RecordCount:  len(req.Sessions),
		Size:         obj.Size,
		Checksum:     obj.Checksum,
		CreatedAt:    createdAt,
		CompletedAt:  completedAt,
		ExpiresAt:    expiresAt,
	}
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("artifact: encode metadata for %s: %w", key, err)
	}
	if _, err := s.bucket.Put(ctx, metaKey, bytes.NewReader(metaBytes), "application/json"); err != nil {
		return nil, fmt.Errorf("artifact: store metadata %s: %w", metaKey, err)
	}

	s.logger.Debug("artifact stored",
		slog.String("job_id", req.JobID.String()),
		slog.String("tenant_id", req.TenantID),
		slog.String("path", obj.Key),
		slog.Int64("size", obj.Size),
	)

	return &Artifact{
		DownloadURL:  s.signer.Sign(req.TenantID, fileName, expiresAt),
		ArtifactPath: obj.Key,
		MetadataPath: metaKey,
		RecordCount:  len(req.Sessions),
		Size:         obj.Size,
		Checksum:     obj.Checksum,
		CreatedAt:    createdAt,
		CompletedAt:  completedAt,
		ExpiresAt:    expiresAt,
	}, nil
}

// ReadMetadata loads the sidecar for tenantID's job in format.
func (s *Store) ReadMetadata(ctx context.Context, tenantID string, jobID id.ExportID, format export.Format) (*Metadata, error) {
	key := tenantID + "/" + jobID.String() + "." + string(format) + ".meta.json"
	rc, err := s.bucket.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var meta Metadata
	if err := json.NewDecoder(rc).Decode(&meta); err != nil {
		return nil, fmt.Errorf("artifact: decode metadata %s: %w", key, err)
	}
	return &meta, nil
}
