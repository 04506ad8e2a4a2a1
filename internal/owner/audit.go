package owner

import (
	"context"

	"civreg/pkg/attrs"
	id "civreg/pkg/domain"
	"civreg/pkg/platform/audit"
	"civreg/pkg/requestcontext"
)

func (b *Builder) logAudit(ctx context.Context, event audit.AuditEvent, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", string(event), "log_type", "audit")
	b.logger.InfoContext(ctx, string(event), args...)
	if b.auditPublisher == nil {
		return
	}
	userID, _ := id.ParseUserID(attrs.ExtractString(attributes, "user_id"))
	if err := b.auditPublisher.Emit(ctx, audit.Event{
		UserID:  userID,
		Subject: "request:" + attrs.ExtractString(attributes, "req_id"),
		Action:  string(event),
	}); err != nil {
		b.logger.WarnContext(ctx, "audit emit failed", "event", string(event), "error", err)
	}
}
