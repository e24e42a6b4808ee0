package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"gogrow/backend/internal/audit/domain"
)

const instrumentationName = "gogrow/backend/audit"

type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// AuditMirror re-emits persisted audit entries as OTel log records.
type AuditMirror struct {
	logger recordEmitter
}

// NewAuditMirror returns a mirror backed by provider. A nil provider yields a mirror that drops everything.
func NewAuditMirror(provider *sdklog.LoggerProvider) *AuditMirror {
	if provider == nil {
		return &AuditMirror{}
	}
	return &AuditMirror{logger: provider.Logger(instrumentationName)}
}

func newAuditMirrorWithLogger(l recordEmitter) *AuditMirror {
	return &AuditMirror{logger: l}
}

// Mirror converts entry into a log record. Nil entries are ignored.
func (m *AuditMirror) Mirror(ctx context.Context, entry *domain.AuditLog) {
	if m == nil || m.logger == nil || entry == nil {
		return
	}
	rec := otellog.Record{}
	ts := entry.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetEventName(entry.Action)
	if entry.Metadata != "" {
		rec.SetBody(otellog.StringValue(entry.Metadata))
	}
	rec.AddAttributes(
		otellog.String("audit.id", entry.ID),
		otellog.String("action", entry.Action),
		otellog.String("resource", entry.Resource),
	)
	if entry.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", entry.UserID))
	}
	if entry.IP != "" {
		rec.AddAttributes(otellog.String("ip", entry.IP))
	}
	m.logger.Emit(ctx, rec)
}
