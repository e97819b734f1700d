// Package notify queues outbound messages, applies the outbound policy and delivers them.
package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"math"
	"strings"
	"time"

	"dinein-commerce/internal/common/clock"
	"dinein-commerce/internal/common/config"
	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/common/logger"
	"dinein-commerce/internal/models"

	"github.com/google/uuid"
)

// RetryPolicy controls delivery retries.
type RetryPolicy struct {
	MaxRetries int
	Base       time.Duration
	Max        time.Duration
}

// RetryPolicyFromConfig reads delivery settings.
func RetryPolicyFromConfig(cfg config.NotificationConfig) RetryPolicy {
	d := cfg.Delivery
	return RetryPolicy{
		MaxRetries: d.MaxRetries,
		Base:       time.Duration(d.BackoffBase) * time.Second,
		Max:        time.Duration(d.BackoffMax) * time.Second,
	}
}

// Backoff is the wait before attempt number attempt (1-based): base doubled per attempt, capped.
func (r RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(r.Base) * math.Pow(2, float64(attempt-1))
	if r.Max > 0 && d > float64(r.Max) {
		return r.Max
	}
	return time.Duration(d)
}

// Queue is the notifications table.
type Queue struct {
	db     *sql.DB
	retry  RetryPolicy
	lease  time.Duration
	clock  clock.Clock
	logger logger.Logger
}

func NewQueue(db *sql.DB, retry RetryPolicy, lease time.Duration, c clock.Clock, log logger.Logger) *Queue {
	if c == nil {
		c = clock.Real()
	}
	return &Queue{
		db:     db,
		retry:  retry,
		lease:  lease,
		clock:  c,
		logger: log.WithFields(map[string]interface{}{"component": "notify_queue"}),
	}
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Enqueue stores n as queued. A notification without a recipient is rejected and never stored.
func (q *Queue) Enqueue(ctx context.Context, n *models.Notification) error {
	n.ToAddress = strings.TrimSpace(n.ToAddress)
	if n.ToAddress == "" {
		q.logger.Warn("notification without recipient dropped", map[string]interface{}{"type": n.Type, "orderId": n.OrderID})
		return errors.NewMissingRecipientError(n.Type)
	}
	if n.Type == "" {
		return errors.NewValidationError("notification type is required")
	}
	if n.Channel == "" {
		n.Channel = models.ChannelTemplate
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return errors.NewValidationError("notification payload: " + err.Error())
	}
	n.Status = models.NotificationQueued
	n.CreatedAt = q.clock.Now().UTC()

	var deliverAfter interface{}
	if n.DeliverAfter != nil {
		deliverAfter = n.DeliverAfter.UTC()
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO notifications (id, to_address, type, channel, payload, status, retry_count, deliver_after, venue_id, order_id, created_at)
		VALUES ($1, $2, $3, $4, $5, 'queued', 0, $6, $7, $8, $9)`,
		n.ID, n.ToAddress, n.Type, string(n.Channel), payload, deliverAfter, nullable(n.VenueID), nullable(n.OrderID), n.CreatedAt)
	if err != nil {
		return errors.WrapQuery("enqueue_notification", err)
	}
	q.logger.Debug("notification queued", map[string]interface{}{
		"id":   n.ID,
		"type": n.Type,
		"to":   logger.MaskPhone(n.ToAddress),
	})
	return nil
}

const notificationColumns = `id, to_address, type, channel, payload, status, retry_count, next_attempt_at, locked_at,
	deliver_after, COALESCE(error_message, ''), COALESCE(venue_id::text, ''), COALESCE(order_id::text, ''), created_at`

func scanNotification(row interface{ Scan(...interface{}) error }) (*models.Notification, error) {
	var (
		n                          models.Notification
		channel, status            string
		payload                    []byte
		nextAttempt, locked, after sql.NullTime
	)
	if err := row.Scan(&n.ID, &n.ToAddress, &n.Type, &channel, &payload, &status, &n.RetryCount,
		&nextAttempt, &locked, &after, &n.ErrorMessage, &n.VenueID, &n.OrderID, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.Channel = models.Channel(channel)
	n.Status = models.NotificationStatus(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &n.Payload); err != nil {
			return nil, err
		}
	}
	if nextAttempt.Valid {
		n.NextAttemptAt = &nextAttempt.Time
	}
	if locked.Valid {
		n.LockedAt = &locked.Time
	}
	if after.Valid {
		n.DeliverAfter = &after.Time
	}
	return &n, nil
}

func (q *Queue) Get(ctx context.Context, id string) (*models.Notification, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.NewNotFoundError("notification", id)
	}
	n, err := scanNotification(q.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("notification", id)
	}
	if err != nil {
		return nil, errors.WrapQuery("get_notification", err)
	}
	return n, nil
}

// Claim leases up to limit due notifications. Rows leased by another consumer are skipped
// until their lease expires.
func (q *Queue) Claim(ctx context.Context, limit int) ([]models.Notification, error) {
	now := q.clock.Now().UTC()
	rows, err := q.db.QueryContext(ctx, `
		UPDATE notifications SET locked_at = $1
		WHERE id IN (
			SELECT id FROM notifications
			WHERE status = 'queued'
			  AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
			  AND (deliver_after IS NULL OR deliver_after <= $1)
			  AND (locked_at IS NULL OR locked_at < $2)
			ORDER BY created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+notificationColumns, now, now.Add(-q.lease), limit)
	if err != nil {
		return nil, errors.WrapQuery("claim_notifications", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, errors.WrapQuery("claim_notifications", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// MarkSent finishes a delivery. Cancelled rows are left alone.
func (q *Queue) MarkSent(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'sent', sent_at = $2, error_message = NULL, next_attempt_at = NULL, locked_at = NULL
		WHERE id = $1 AND status <> 'cancelled'`, id, q.clock.Now().UTC())
	return errors.WrapQuery("mark_notification_sent", err)
}

// MarkFailed records a delivery error. The row is rescheduled with backoff until the retry
// budget is spent, then it becomes failed. It returns the stored status.
func (q *Queue) MarkFailed(ctx context.Context, n *models.Notification, cause error) (models.NotificationStatus, error) {
	retries := n.RetryCount + 1
	status := models.NotificationQueued
	var next interface{}
	if retries >= q.retry.MaxRetries {
		status = models.NotificationFailed
	} else {
		next = q.clock.Now().Add(q.retry.Backoff(retries)).UTC()
	}

	msg := cause.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = $2, retry_count = $3, next_attempt_at = $4, error_message = $5, locked_at = NULL
		WHERE id = $1 AND status <> 'cancelled'`,
		n.ID, string(status), retries, next, msg)
	if err != nil {
		return "", errors.WrapQuery("mark_notification_failed", err)
	}
	return status, nil
}

// Defer releases the lease and holds the row until the given time.
func (q *Queue) Defer(ctx context.Context, id string, until time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE notifications SET deliver_after = $2, locked_at = NULL
		WHERE id = $1 AND status <> 'cancelled'`, id, until.UTC())
	return errors.WrapQuery("defer_notification", err)
}

// Requeue resets a row for another delivery attempt from scratch.
func (q *Queue) Requeue(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'queued', retry_count = 0, next_attempt_at = NULL, locked_at = NULL, error_message = NULL, deliver_after = NULL
		WHERE id = $1 AND status <> 'cancelled'`, id)
	if err != nil {
		return errors.WrapQuery("requeue_notification", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewStateConflictError("notification was cancelled")
	}
	return nil
}

// Cancel stops a queued or failed notification. Sent and cancelled rows are terminal.
func (q *Queue) Cancel(ctx context.Context, id, reason string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'cancelled', locked_at = NULL, next_attempt_at = NULL, error_message = COALESCE($2, error_message)
		WHERE id = $1 AND status IN ('queued', 'failed')`, id, nullable(reason))
	if err != nil {
		return errors.WrapQuery("cancel_notification", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewStateConflictError("notification is already sent or cancelled")
	}
	return nil
}
