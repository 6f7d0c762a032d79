package id_test

import (
	"strings"
	"testing"
	"time"

	"github.com/xraph/export/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"ExportID", id.NewExportID, "exp_"},
		{"AuditID", id.NewAuditID, "aud_"},
		{"ScheduleID", id.NewScheduleID, "sched_"},
		{"WorkerID", id.NewWorkerID, "wkr_"},
		{"DeliveryID", id.NewDeliveryID, "dlv_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"ExportID", id.NewExportID, id.ParseExportID},
		{"AuditID", id.NewAuditID, id.ParseAuditID},
		{"ScheduleID", id.NewScheduleID, id.ParseScheduleID},
		{"WorkerID", id.NewWorkerID, id.ParseWorkerID},
		{"DeliveryID", id.NewDeliveryID, id.ParseDeliveryID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		parseFn func(string) (id.ID, error)
	}{
		{"ParseExportID rejects aud_", id.NewAuditID().String(), id.ParseExportID},
		{"ParseAuditID rejects sched_", id.NewScheduleID().String(), id.ParseAuditID},
		{"ParseScheduleID rejects dlv_", id.NewDeliveryID().String(), id.ParseScheduleID},
		{"ParseDeliveryID rejects exp_", id.NewExportID().String(), id.ParseDeliveryID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.parseFn(tt.input); err == nil {
				t.Errorf("expected error for cross-type parse of %q, got nil", tt.input)
			}
		})
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}
	if i.Prefix() != "" {
		t.Errorf("expected empty prefix, got %q", i.Prefix())
	}
}

func TestMarshalUnmarshalText(t *testing.T) {
	original := id.NewExportID()
	data, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}

	var restored id.ID
	if err := restored.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if restored.String() != original.String() {
		t.Errorf("mismatch: %q != %q", restored.String(), original.String())
	}

	var empty id.ID
	if err := empty.UnmarshalText(nil); err != nil {
		t.Fatalf("UnmarshalText(nil) failed: %v", err)
	}
	if !empty.IsNil() {
		t.Error("expected nil after unmarshal of empty text")
	}
}

func TestValueScan(t *testing.T) {
	original := id.NewAuditID()
	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var scanned id.ID
	if err := scanned.Scan(val); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if scanned.String() != original.String() {
		t.Errorf("mismatch: %q != %q", scanned.String(), original.String())
	}

	var nilID id.ID
	val, err = nilID.Value()
	if err != nil {
		t.Fatalf("Value(nil) failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil value for nil ID, got %v", val)
	}

	if err := scanned.Scan(42); err == nil {
		t.Error("expected error scanning an int")
	}
}

func TestExportIDsSortByCreation(t *testing.T) {
	first := id.NewExportID()
	time.Sleep(2 * time.Millisecond)
	second := id.NewExportID()

	if first.String() >= second.String() {
		t.Errorf("expected %q < %q", first.String(), second.String())
	}
}
