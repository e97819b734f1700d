package notify

import (
	"context"
	"database/sql"
	"encoding/json"

	"dinein-commerce/internal/common/clock"
	"dinein-commerce/internal/common/logger"

	"github.com/google/uuid"
)

// Audit decisions.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
	DecisionError = "error"
)

// AuditEntry is one row of notification_audit.
type AuditEntry struct {
	NotificationID string
	Action         string // send, resend, retry, cancel
	Decision       string
	Reason         string
	Details        map[string]interface{}
}

// Auditor records every policy decision and admin action.
type Auditor interface {
	Record(ctx context.Context, e AuditEntry) error
}

type PostgresAuditor struct {
	db     *sql.DB
	clock  clock.Clock
	logger logger.Logger
}

func NewPostgresAuditor(db *sql.DB, c clock.Clock, log logger.Logger) *PostgresAuditor {
	return &PostgresAuditor{db: db, clock: c, logger: log}
}

func (a *PostgresAuditor) Record(ctx context.Context, e AuditEntry) error {
	details := e.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	raw, _ := json.Marshal(details)

	var notificationID, reason interface{}
	if e.NotificationID != "" {
		notificationID = e.NotificationID
	}
	if e.Reason != "" {
		reason = e.Reason
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO notification_audit (id, notification_id, action, decision, reason, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.NewString(), notificationID, e.Action, e.Decision, reason, raw, a.clock.Now().UTC())
	if err != nil {
		a.logger.Error("audit write failed", map[string]interface{}{
			"notificationId": e.NotificationID,
			"action":         e.Action,
			"error":          err.Error(),
		})
	}
	return err
}
