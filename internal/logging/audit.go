package logging

import (
	"go.uber.org/zap"

	"statfiler/internal/filing"
)

// Auditor mirrors persisted audit events into the log stream so they can be
// shipped and queried without database access.
type Auditor struct {
	logger *zap.Logger
}

// NewAuditor returns an auditor writing to the audit category.
func NewAuditor(l *Logger) *Auditor {
	if l == nil {
		l = Nop()
	}
	return &Auditor{logger: l.For(CategoryAudit)}
}

// Record logs ev. A nil auditor is a no-op.
func (a *Auditor) Record(ev filing.AuditEvent) {
	if a == nil {
		return
	}
	a.logger.Info("audit event", AuditFields(ev)...)
}

// AuditFields flattens an audit event into zap fields.
func AuditFields(ev filing.AuditEvent) []zap.Field {
	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.String("filing_id", ev.FilingID),
		zap.String("task_id", ev.TaskID),
		zap.String("phase", string(ev.Phase)),
		zap.Time("timestamp", ev.Timestamp),
	}
	if ev.Detail != "" {
		fields = append(fields, zap.String("detail", ev.Detail))
	}
	if len(ev.Evidence) > 0 {
		fields = append(fields, zap.Strings("evidence", ev.Evidence))
	}
	return fields
}
