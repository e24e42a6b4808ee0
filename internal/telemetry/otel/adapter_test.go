package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"gogrow/backend/internal/audit/domain"
)

// recordCapture stores the last Record passed to Emit for assertion.
type recordCapture struct {
	rec   otellog.Record
	calls int
}

func (r *recordCapture) Emit(ctx context.Context, rec otellog.Record) {
	r.rec = rec
	r.calls++
}

func attributes(rec otellog.Record) map[string]string {
	attrs := make(map[string]string)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	return attrs
}

func TestNewAuditMirror_NilProvider_DropsEntries(t *testing.T) {
	m := NewAuditMirror(nil)
	if m == nil {
		t.Fatal("NewAuditMirror(nil) returned nil")
	}
	m.Mirror(context.Background(), &domain.AuditLog{Action: "login"})
}

func TestNewAuditMirror_RealProvider(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	NewAuditMirror(provider).Mirror(context.Background(), &domain.AuditLog{ID: "a1", Action: "login"})
}

func TestMirror_NilEntry(t *testing.T) {
	cap := &recordCapture{}
	newAuditMirrorWithLogger(cap).Mirror(context.Background(), nil)
	if cap.calls != 0 {
		t.Errorf("Emit calls = %d, want 0", cap.calls)
	}
}

func TestMirror_AttributeAndBodyMapping(t *testing.T) {
	cap := &recordCapture{}
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	entry := &domain.AuditLog{
		ID:        "a1",
		UserID:    "user-1",
		Action:    "login",
		Resource:  "session",
		IP:        "10.0.0.1",
		Metadata:  `{"session_id":"s1"}`,
		CreatedAt: now,
	}
	newAuditMirrorWithLogger(cap).Mirror(context.Background(), entry)
	rec := cap.rec

	if !rec.Timestamp().Equal(now) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp(), now)
	}
	if got := rec.Body().AsString(); got != entry.Metadata {
		t.Errorf("body = %q, want %q", got, entry.Metadata)
	}
	if rec.EventName() != "login" {
		t.Errorf("event name = %q, want login", rec.EventName())
	}
	want := map[string]string{
		"audit.id": "a1", "action": "login", "resource": "session", "user_id": "user-1", "ip": "10.0.0.1",
	}
	attrs := attributes(rec)
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attr %q = %q, want %q", k, attrs[k], v)
		}
	}
}

func TestMirror_OptionalFieldsOmitted(t *testing.T) {
	cap := &recordCapture{}
	before := time.Now().UTC()
	newAuditMirrorWithLogger(cap).Mirror(context.Background(), &domain.AuditLog{ID: "a2", Action: "otp_requested", Resource: "otp"})
	rec := cap.rec

	if !rec.Body().Empty() {
		t.Error("body should be empty when metadata is empty")
	}
	attrs := attributes(rec)
	if _, ok := attrs["user_id"]; ok {
		t.Error("user_id should be omitted when empty")
	}
	if _, ok := attrs["ip"]; ok {
		t.Error("ip should be omitted when empty")
	}
	if rec.Timestamp().Before(before) {
		t.Errorf("timestamp = %v, should default to now", rec.Timestamp())
	}
}
