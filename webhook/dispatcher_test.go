package webhook_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/export/backoff"
	"github.com/xraph/export/id"
	"github.com/xraph/export/webhook"
)

var testSecrets = webhook.StaticSecrets{Tenants: map[string]string{"tenant-1": "s3cr3t"}}

func noDelay() webhook.Option { return webhook.WithBackoff(backoff.NewConstant(0)) }

func TestDispatch_AlwaysFailingEndpoint_ExhaustsAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := webhook.NewDispatcher(testSecrets, noDelay())
	res := d.Dispatch(context.Background(), webhook.Request{
		TenantID: "tenant-1",
		JobID:    id.NewExportID(),
		URL:      srv.URL,
		Payload:  map[string]any{"status": "ready"},
	})

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("server hits = %d, want 3", got)
	}
	if res.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", res.StatusCode)
	}
	if res.Error == "" {
		t.Error("expected an error message")
	}
	if res.LastAttemptAt.IsZero() {
		t.Error("LastAttemptAt not set")
	}
}

func TestDispatch_CustomMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := webhook.NewDispatcher(testSecrets, noDelay(), webhook.WithMaxAttempts(5))
	res := d.Dispatch(context.Background(), webhook.Request{TenantID: "tenant-1", URL: srv.URL})

	if res.Attempts != 5 || hits.Load() != 5 {
		t.Errorf("attempts = %d, hits = %d, want 5 and 5", res.Attempts, hits.Load())
	}
}

func TestDispatch_SuccessOnFirstAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := webhook.NewDispatcher(testSecrets, noDelay())
	res := d.Dispatch(context.Background(), webhook.Request{
		TenantID: "tenant-1",
		JobID:    id.NewExportID(),
		URL:      srv.URL,
		Payload:  map[string]any{"ok": true},
	})

	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
	if res.Error != "" {
		t.Errorf("Error = %q, want empty", res.Error)
	}
}

func TestDispatch_RecoversAfterTransientFailure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := webhook.NewDispatcher(testSecrets, noDelay())
	res := d.Dispatch(context.Background(), webhook.Request{TenantID: "tenant-1", URL: srv.URL})

	if !res.Success || res.Attempts != 2 {
		t.Errorf("got success=%v attempts=%d, want true and 2", res.Success, res.Attempts)
	}
}

func TestDispatch_SignsRequest(t *testing.T) {
	jobID := id.NewExportID()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	type captured struct {
		header http.Header
		body   []byte
	}
	var (
		mu  sync.Mutex
		got []captured
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, captured{header: r.Header.Clone(), body: body})
		n := len(got)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := webhook.NewDispatcher(testSecrets, noDelay(), webhook.WithClock(func() time.Time { return now }))
	res := d.Dispatch(context.Background(), webhook.Request{
		TenantID: "tenant-1",
		JobID:    jobID,
		URL:      srv.URL,
		Payload:  map[string]any{"downloadUrl": "https://x/y"},
	})
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if len(got) != 2 {
		t.Fatalf("captured %d requests, want 2", len(got))
	}

	for i, c := range got {
		h := c.header
		if ct := h.Get("Content-Type"); ct != "application/json" {
			t.Errorf("request %d: Content-Type = %q", i, ct)
		}
		if h.Get(webhook.HeaderTenant) != "tenant-1" {
			t.Errorf("request %d: tenant header = %q", i, h.Get(webhook.HeaderTenant))
		}
		if h.Get(webhook.HeaderJob) != jobID.String() {
			t.Errorf("request %d: job header = %q", i, h.Get(webhook.HeaderJob))
		}
		if h.Get(webhook.HeaderDelivery) != res.DeliveryID.String() {
			t.Errorf("request %d: delivery header = %q, want %q", i, h.Get(webhook.HeaderDelivery), res.DeliveryID)
		}
		ts := h.Get(webhook.HeaderTimestamp)
		if ts != strconv.FormatInt(now.Unix(), 10) {
			t.Errorf("request %d: timestamp = %q", i, ts)
		}
		if !webhook.Verify([]byte("s3cr3t"), ts, c.body, h.Get(webhook.HeaderSignature)) {
			t.Errorf("request %d: signature does not verify", i)
		}

		var payload map[string]any
		if err := json.Unmarshal(c.body, &payload); err != nil {
			t.Fatalf("request %d: body is not JSON: %v", i, err)
		}
		if payload["downloadUrl"] != "https://x/y" {
			t.Errorf("request %d: payload = %v", i, payload)
		}
	}
}

func TestDispatch_SecretFailure_NoAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	sp := webhook.SecretProviderFunc(func(context.Context, string) ([]byte, error) {
		return nil, errors.New("vault unavailable")
	})
	d := webhook.NewDispatcher(sp, noDelay())
	res := d.Dispatch(context.Background(), webhook.Request{TenantID: "tenant-1", URL: srv.URL})

	if res.Success || res.Attempts != 0 {
		t.Errorf("got success=%v attempts=%d, want false and 0", res.Success, res.Attempts)
	}
	if hits.Load() != 0 {
		t.Errorf("server hits = %d, want 0", hits.Load())
	}
}

func TestDispatch_NetworkError_CountsAsAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	d := webhook.NewDispatcher(testSecrets, noDelay(), webhook.WithMaxAttempts(2))
	res := d.Dispatch(context.Background(), webhook.Request{TenantID: "tenant-1", URL: url})

	if res.Success || res.Attempts != 2 {
		t.Errorf("got success=%v attempts=%d, want false and 2", res.Success, res.Attempts)
	}
}

func TestDispatch_CancelledDuringBackoff(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	d := webhook.NewDispatcher(testSecrets, webhook.WithBackoff(backoff.NewConstant(time.Hour)))
	start := time.Now()
	res := d.Dispatch(ctx, webhook.Request{TenantID: "tenant-1", URL: srv.URL})

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Attempts != 1 || hits.Load() != 1 {
		t.Errorf("attempts = %d, hits = %d, want 1 and 1", res.Attempts, hits.Load())
	}
	if time.Since(start) > 5*time.Second {
		t.Error("dispatch did not stop waiting on cancellation")
	}
}

func TestDispatch_UnencodablePayload(t *testing.T) {
	d := webhook.NewDispatcher(testSecrets, noDelay())
	res := d.Dispatch(context.Background(), webhook.Request{
		TenantID: "tenant-1",
		URL:      "http://127.0.0.1:1",
		Payload:  make(chan int),
	})
	if res.Success || res.Attempts != 0 || res.Error == "" {
		t.Errorf("got %+v, want failure with zero attempts", res)
	}
}

func TestStaticSecrets(t *testing.T) {
	s := webhook.StaticSecrets{Tenants: map[string]string{"a": "1"}, Default: "d"}

	if v, err := s.Secret(context.Background(), "a"); err != nil || string(v) != "1" {
		t.Errorf("Secret(a) = %q, %v", v, err)
	}
	if v, err := s.Secret(context.Background(), "b"); err != nil || string(v) != "d" {
		t.Errorf("Secret(b) = %q, %v", v, err)
	}
	if _, err := (webhook.StaticSecrets{}).Secret(context.Background(), "b"); err == nil {
		t.Error("expected error without default")
	}
}
