package queue_test

import (
	"testing"
	"time"

	"github.com/xraph/export"
	"github.com/xraph/export/id"
	"github.com/xraph/export/queue"
)

func TestCodecs(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	msg := &queue.Message{
		JobID:    id.NewExportID(),
		TenantID: "tenant-1",
		ActorID:  "u1",
		Filters: &export.Filters{
			RangeStart:       start,
			RangeEnd:         start.Add(24 * time.Hour),
			GameMode:         "endless",
			MinCompletedWave: 3,
			Format:           export.FormatCSV,
			Delivery:         export.Delivery{Type: export.DeliveryWebhook, WebhookURL: "https://x"},
		},
		EnqueuedAt: start.Add(time.Minute),
	}

	for _, name := range []string{queue.CodecNameJSON, queue.CodecNameMsgpack} {
		t.Run(name, func(t *testing.T) {
			codec := queue.GetCodec(name)
			if codec.Name() != name {
				t.Fatalf("GetCodec(%q).Name() = %q", name, codec.Name())
			}

			data, err := codec.Encode(msg)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := codec.Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}

			if got.JobID.String() != msg.JobID.String() || got.TenantID != msg.TenantID || got.ActorID != msg.ActorID {
				t.Errorf("identity mismatch: %+v", got)
			}
			if got.Filters == nil || got.Filters.GameMode != "endless" || got.Filters.Delivery.WebhookURL != "https://x" {
				t.Errorf("filters mismatch: %+v", got.Filters)
			}
			if !got.Filters.RangeEnd.Equal(msg.Filters.RangeEnd) || !got.EnqueuedAt.Equal(msg.EnqueuedAt) {
				t.Errorf("time mismatch: %+v", got)
			}
		})
	}
}

func TestGetCodecDefaultsToJSON(t *testing.T) {
	if got := queue.GetCodec("protobuf").Name(); got != queue.CodecNameJSON {
		t.Errorf("GetCodec(unknown) = %q, want json", got)
	}
}

func TestMsgpackRejectsForeignID(t *testing.T) {
	codec := queue.MsgpackCodec{}
	data, err := codec.Encode(&queue.Message{JobID: id.NewAuditID()})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := codec.Decode(data); err == nil {
		t.Error("expected error decoding a non-export job id")
	}
}

func TestMessageClone(t *testing.T) {
	m := &queue.Message{Filters: &export.Filters{GameMode: "a"}}
	cp := m.Clone()
	cp.Filters.GameMode = "b"
	if m.Filters.GameMode != "a" {
		t.Error("Clone shares Filters with the original")
	}
}
