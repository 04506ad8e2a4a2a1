package service

import (
	"context"

	"civreg/pkg/attrs"
	id "civreg/pkg/domain"
	"civreg/pkg/platform/audit"
	"civreg/pkg/requestcontext"
)

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", string(event), "log_type", "audit")
	s.logger.InfoContext(ctx, string(event), args...)
	if s.auditPublisher == nil {
		return
	}
	userID, _ := id.ParseUserID(attrs.ExtractString(attributes, "user_id"))
	subject := ""
	if rid := attrs.ExtractString(attributes, "req_id"); rid != "" {
		subject = "request:" + rid
	}
	if err := s.auditPublisher.Emit(ctx, audit.Event{
		UserID:  userID,
		Subject: subject,
		Action:  string(event),
		Reason:  attrs.ExtractString(attributes, "reason"),
		ActorID: attrs.ExtractString(attributes, "actor_id"),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "event", string(event), "error", err)
	}
}
