package notify

import (
	"context"

	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/common/logger"
	"dinein-commerce/internal/models"
)

// Admin actions.
const (
	ActionSend   = "send"
	ActionResend = "resend"
	ActionRetry  = "retry"
	ActionCancel = "cancel"
)

// Evaluator is the part of Policy used by admin actions.
type Evaluator interface {
	Evaluate(ctx context.Context, action string, n *models.Notification) (models.PolicyDecision, error)
}

// Admin implements operator resend, retry and cancel.
type Admin struct {
	queue   *Queue
	policy  Evaluator
	auditor Auditor
	logger  logger.Logger
}

func NewAdmin(queue *Queue, policy Evaluator, auditor Auditor, log logger.Logger) *Admin {
	return &Admin{
		queue:   queue,
		policy:  policy,
		auditor: auditor,
		logger:  log.WithFields(map[string]interface{}{"component": "notify_admin"}),
	}
}

// Resend re-queues a notification when the policy allows it now. A blocked resend leaves the
// row untouched and reports the reason.
func (a *Admin) Resend(ctx context.Context, id string) (models.AdminOutcome, error) {
	return a.requeue(ctx, ActionResend, id)
}

// Retry runs Resend semantics over several notifications. Failures are reported per item.
func (a *Admin) Retry(ctx context.Context, ids []string) []models.AdminOutcome {
	out := make([]models.AdminOutcome, 0, len(ids))
	for _, id := range ids {
		res, err := a.requeue(ctx, ActionRetry, id)
		if err != nil {
			res = models.AdminOutcome{ID: id, Status: models.OutcomeError, Message: errors.UserMessage(err)}
		}
		out = append(out, res)
	}
	return out
}

func (a *Admin) requeue(ctx context.Context, action, id string) (models.AdminOutcome, error) {
	n, err := a.queue.Get(ctx, id)
	if err != nil {
		return models.AdminOutcome{}, err
	}
	if n.Status == models.NotificationCancelled {
		a.audit(ctx, action, id, DecisionBlock, "cancelled", nil)
		return models.AdminOutcome{}, errors.NewStateConflictError("notification is cancelled")
	}

	decision, err := a.policy.Evaluate(ctx, action, n)
	if err != nil {
		return models.AdminOutcome{}, err
	}
	if !decision.Allowed {
		return models.AdminOutcome{
			ID:           id,
			Status:       models.OutcomeBlocked,
			Reason:       decision.Reason,
			Message:      decision.Message,
			BlockedAt:    decision.BlockedAt,
			BlockedUntil: decision.BlockedUntil,
			Throttle:     decision.Throttle,
		}, nil
	}

	if err := a.queue.Requeue(ctx, id); err != nil {
		return models.AdminOutcome{}, err
	}
	a.logger.Info("notification requeued", map[string]interface{}{"id": id, "action": action, "previousStatus": n.Status})
	return models.AdminOutcome{ID: id, Status: models.OutcomeQueued}, nil
}

// Cancel stops a queued or failed notification.
func (a *Admin) Cancel(ctx context.Context, id, reason string) (models.AdminOutcome, error) {
	if _, err := a.queue.Get(ctx, id); err != nil {
		return models.AdminOutcome{}, err
	}
	if err := a.queue.Cancel(ctx, id, reason); err != nil {
		a.audit(ctx, ActionCancel, id, DecisionError, "", map[string]interface{}{"error": err.Error()})
		return models.AdminOutcome{}, err
	}
	a.audit(ctx, ActionCancel, id, DecisionAllow, "", map[string]interface{}{"reason": reason})
	return models.AdminOutcome{ID: id, Status: models.OutcomeCancelled}, nil
}

func (a *Admin) audit(ctx context.Context, action, id, decision, reason string, details map[string]interface{}) {
	if a.auditor == nil {
		return
	}
	_ = a.auditor.Record(ctx, AuditEntry{NotificationID: id, Action: action, Decision: decision, Reason: reason, Details: details})
}
