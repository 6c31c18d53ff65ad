package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-fee-api/internal/models"
)

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type auditTrail interface {
	auditLogger
	ListForResource(ctx context.Context, resource, resourceID string, limit int) ([]models.AuditLog, error)
}

// emitAudit stores the entry best-effort; failures are logged and never abort the caller.
func emitAudit(ctx context.Context, audit auditLogger, logger *zap.Logger, source string, log *models.AuditLog) {
	if audit == nil || log == nil {
		return
	}
	if log.IPAddress == "" {
		log.IPAddress = "system"
	}
	if log.UserAgent == "" {
		log.UserAgent = source
	}
	if err := audit.CreateAuditLog(ctx, log); err != nil {
		logger.Warn("failed to persist audit log", zap.String("action", log.Action), zap.Error(err))
	}
}
