package artifact_test

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/xraph/export"
	"github.com/xraph/export/analytics"
	"github.com/xraph/export/artifact"
	"github.com/xraph/export/blob/memory"
	"github.com/xraph/export/id"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*artifact.Store, *memory.Bucket) {
	t.Helper()
	signer, err := artifact.NewSigner([]byte("test-secret"), "https://exports.local/downloads")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	bucket := memory.New()
	store := artifact.NewStore(bucket, signer,
		artifact.WithClock(func() time.Time { return fixedNow }),
	)
	return store, bucket
}

func sessions() []analytics.Session {
	return []analytics.Session{{SessionID: "s-1"}, {SessionID: "s-2"}}
}

func TestStoreArtifact(t *testing.T) {
	store, bucket := newStore(t)
	jobID := id.NewExportID()

	art, err := store.StoreArtifact(context.Background(), artifact.Request{
		TenantID: "tenant-1",
		JobID:    jobID,
		Format:   export.FormatCSV,
		Sessions: sessions(),
		ActorID:  "u1",
	})
	if err != nil {
		t.Fatalf("StoreArtifact: %v", err)
	}

	wantPath := "tenant-1/" + jobID.String() + ".csv"
	if art.ArtifactPath != wantPath {
		t.Errorf("ArtifactPath = %q, want %q", art.ArtifactPath, wantPath)
	}
	if art.MetadataPath != wantPath+".meta.json" {
		t.Errorf("MetadataPath = %q", art.MetadataPath)
	}
	if !art.ExpiresAt.Equal(fixedNow.Add(24 * time.Hour)) {
		t.Errorf("ExpiresAt = %v", art.ExpiresAt)
	}
	if art.RecordCount != 2 || art.Size == 0 || len(art.Checksum) != 64 {
		t.Errorf("unexpected artifact: %+v", art)
	}
	if len(bucket.Keys()) != 2 {
		t.Errorf("expected payload and sidecar, got keys %v", bucket.Keys())
	}

	u, err := url.Parse(art.DownloadURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if u.Path != "/downloads/"+wantPath {
		t.Errorf("url path = %q", u.Path)
	}
	if u.Query().Get("expires") == "" || u.Query().Get("signature") == "" {
		t.Errorf("url missing expires/signature: %s", art.DownloadURL)
	}

	rc, err := bucket.Get(context.Background(), wantPath)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	if !strings.Contains(string(data), "s-2") {
		t.Errorf("payload missing session: %s", data)
	}

	meta, err := store.ReadMetadata(context.Background(), "tenant-1", jobID, export.FormatCSV)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if meta.ActorID != "u1" || meta.Checksum != art.Checksum || meta.ArtifactPath != wantPath {
		t.Errorf("unexpected metadata: %+v", meta)
	}
}

func TestStoreArtifactValidation(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  artifact.Request
	}{
		{"missing tenant", artifact.Request{JobID: id.NewExportID(), Format: export.FormatCSV}},
		{"missing job", artifact.Request{TenantID: "t", Format: export.FormatCSV}},
		{"missing format", artifact.Request{TenantID: "t", JobID: id.NewExportID()}},
		{"tenant with slash", artifact.Request{TenantID: "a/b", JobID: id.NewExportID(), Format: export.FormatCSV}},
		{"unsupported format", artifact.Request{TenantID: "t", JobID: id.NewExportID(), Format: "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.StoreArtifact(ctx, tt.req)
			if !errors.Is(err, export.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestStoreArtifactOverwrites(t *testing.T) {
	store, bucket := newStore(t)
	req := artifact.Request{TenantID: "t", JobID: id.NewExportID(), Format: export.FormatJSON, Sessions: sessions()}

	first, err := store.StoreArtifact(context.Background(), req)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := store.StoreArtifact(context.Background(), req)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.ArtifactPath != second.ArtifactPath || first.Checksum != second.Checksum {
		t.Errorf("rewrite diverged: %+v vs %+v", first, second)
	}
	if len(bucket.Keys()) != 2 {
		t.Errorf("expected 2 keys after rewrite, got %v", bucket.Keys())
	}
}

func TestSignerVerify(t *testing.T) {
	signer, _ := artifact.NewSigner([]byte("k"), "https://exports.local/downloads")
	expires := fixedNow.Add(time.Hour)
	link := signer.Sign("tenant-1", "exp_1.csv", expires)

	grant, err := signer.Verify(link, fixedNow)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if grant.TenantID != "tenant-1" || grant.FileName != "exp_1.csv" || grant.Key() != "tenant-1/exp_1.csv" {
		t.Errorf("unexpected grant: %+v", grant)
	}

	if _, err := signer.Verify(link, expires.Add(time.Second)); !errors.Is(err, export.ErrURLExpired) {
		t.Errorf("expected ErrURLExpired, got %v", err)
	}

	tampered := strings.Replace(link, "tenant-1", "tenant-2", 1)
	if _, err := signer.Verify(tampered, fixedNow); !errors.Is(err, export.ErrSignatureMismatch) {
		t.Errorf("expected ErrSignatureMismatch for tampered tenant, got %v", err)
	}

	u, _ := url.Parse(link)
	q := u.Query()
	q.Set("expires", "9999999999")
	u.RawQuery = q.Encode()
	if _, err := signer.Verify(u.String(), fixedNow); !errors.Is(err, export.ErrSignatureMismatch) {
		t.Errorf("expected ErrSignatureMismatch for extended expiry, got %v", err)
	}

	other, _ := artifact.NewSigner([]byte("other"), "https://exports.local/downloads")
	if _, err := other.Verify(link, fixedNow); !artifact.IsDenied(err) {
		t.Errorf("expected denial under a different secret, got %v", err)
	}
}

func TestNewSignerRequiresSecret(t *testing.T) {
	if _, err := artifact.NewSigner(nil, "https://x"); !errors.Is(err, export.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := artifact.NewSigner([]byte("k"), "not a url"); !errors.Is(err, export.ErrValidation) {
		t.Errorf("expected validation error for relative base, got %v", err)
	}
}
