// internal/workers/notifications/deliver-notifications/handler.go
package delivernotifications

import (
	"context"
	"encoding/json"
	"time"

	"dinein-commerce/internal/common/clock"
	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/common/logger"
	"dinein-commerce/internal/common/metrics"
	"dinein-commerce/internal/common/observability"
	"dinein-commerce/internal/models"
	"dinein-commerce/internal/notify"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "deliver-notifications"
)

// Queue is the part of *notify.Queue the consumer drives.
type Queue interface {
	Claim(ctx context.Context, limit int) ([]models.Notification, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, n *models.Notification, cause error) (models.NotificationStatus, error)
	Defer(ctx context.Context, id string, until time.Time) error
	Cancel(ctx context.Context, id, reason string) error
}

// Admitter is satisfied by *notify.Policy.
type Admitter interface {
	Admit(ctx context.Context, action string, n *models.Notification) (models.PolicyDecision, error)
}

// Recipients is satisfied by *guard.Guard.
type Recipients interface {
	Allowed(ctx context.Context, subjectID string) (bool, error)
}

type Handler struct {
	config       *Config
	queue        Queue
	policy       Admitter
	recipients   Recipients
	sender       notify.Sender
	clock        clock.Clock
	obs          *observability.Observability
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(cfg *Config, queue Queue, policy Admitter, recipients Recipients, sender notify.Sender, c clock.Clock, obs *observability.Observability, log logger.Logger) *Handler {
	if c == nil {
		c = clock.Real()
	}
	if obs == nil {
		obs = observability.Noop()
	}
	scoped := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       cfg,
		queue:        queue,
		policy:       policy,
		recipients:   recipients,
		sender:       sender,
		clock:        c,
		obs:          obs,
		errorHandler: errors.NewErrorHandler(scoped),
		logger:       scoped,
	}
}

// Handle runs one delivery pass when a process asks for it.
func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if job.Variables != "" {
		if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
			h.fail(ctx, client, job, errors.NewValidationError("parse input: "+err.Error()), start)
			return
		}
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.fail(ctx, client, job, err, start)
		return
	}
	h.completeJob(ctx, client, job, output, start)
}

// Run polls the queue every interval until ctx is cancelled.
func (h *Handler) Run(ctx context.Context) {
	ticker := h.clock.NewTicker(h.config.Interval)
	defer ticker.Stop()

	h.logger.Info("delivery loop started", map[string]interface{}{
		"interval":  h.config.Interval.String(),
		"batchSize": h.config.BatchSize,
	})
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("delivery loop stopped", nil)
			return
		case <-ticker.C:
			passCtx, cancel := context.WithTimeout(ctx, h.config.Timeout)
			if _, err := h.execute(passCtx, &Input{}); err != nil {
				h.logger.Warn("delivery pass failed", map[string]interface{}{"error": err.Error()})
			}
			cancel()
		}
	}
}

// Execute runs a single delivery pass.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	limit := input.BatchSize
	if limit <= 0 {
		limit = h.config.BatchSize
	}
	batch, err := h.queue.Claim(ctx, limit)
	if err != nil {
		return nil, err
	}
	h.obs.RecordDeliveryBatch(ctx, len(batch))

	out := &Output{Claimed: len(batch)}
	for i := range batch {
		n := &batch[i]
		result := h.deliver(ctx, n)
		metrics.NotificationDeliveries.WithLabelValues(string(n.Channel), result).Inc()
		h.obs.RecordDelivery(ctx, string(n.Channel), result)
		switch result {
		case ResultSent:
			out.Sent++
		case ResultRetrying:
			out.Retrying++
		case ResultFailed:
			out.Failed++
		case ResultDeferred:
			out.Deferred++
		case ResultCancelled:
			out.Cancelled++
		}
	}
	if out.Claimed > 0 {
		h.logger.Info("delivery pass finished", map[string]interface{}{
			"claimed":   out.Claimed,
			"sent":      out.Sent,
			"retrying":  out.Retrying,
			"failed":    out.Failed,
			"deferred":  out.Deferred,
			"cancelled": out.Cancelled,
		})
	}
	return out, nil
}

// deliver takes one leased row to its next state. Rows whose policy or opt-out lookup fails
// are held for one interval without spending a retry.
func (h *Handler) deliver(ctx context.Context, n *models.Notification) string {
	log := h.logger.WithFields(map[string]interface{}{
		"notificationId": n.ID,
		"type":           n.Type,
		"channel":        n.Channel,
		"to":             logger.MaskPhone(n.ToAddress),
	})

	if h.recipients != nil {
		allowed, err := h.recipients.Allowed(ctx, n.ToAddress)
		if err != nil {
			log.Warn("opt-out lookup failed", map[string]interface{}{"error": err.Error()})
			return h.hold(ctx, n, h.clock.Now().Add(h.config.Interval), log)
		}
		if !allowed {
			if err := h.queue.Cancel(ctx, n.ID, string(models.ReasonOptedOut)); err != nil {
				log.Warn("cancel for opted-out recipient failed", map[string]interface{}{"error": err.Error()})
			}
			log.Info("recipient opted out, notification cancelled", nil)
			return ResultCancelled
		}
	}

	decision, err := h.policy.Admit(ctx, notify.ActionSend, n)
	if err != nil {
		log.Warn("policy check failed", map[string]interface{}{"error": err.Error()})
		return h.hold(ctx, n, h.clock.Now().Add(h.config.Interval), log)
	}
	if !decision.Allowed {
		until := h.clock.Now().Add(h.config.Interval)
		if decision.BlockedUntil != nil {
			until = *decision.BlockedUntil
		}
		log.Info("delivery deferred by policy", map[string]interface{}{
			"reason": decision.Reason,
			"until":  until.UTC().Format(time.RFC3339),
		})
		return h.hold(ctx, n, until, log)
	}

	providerID, sendErr := h.sender.Send(ctx, n)
	if sendErr == nil {
		if err := h.queue.MarkSent(ctx, n.ID); err != nil {
			log.Error("failed to mark notification sent", map[string]interface{}{"error": err.Error()})
		}
		log.Info("notification sent", map[string]interface{}{"providerId": providerID})
		return ResultSent
	}

	status, err := h.queue.MarkFailed(ctx, n, sendErr)
	if err != nil {
		log.Error("failed to record delivery failure", map[string]interface{}{"error": err.Error(), "cause": sendErr.Error()})
		return ResultRetrying
	}
	if status == models.NotificationFailed {
		log.Error("notification delivery gave up", map[string]interface{}{"error": sendErr.Error(), "attempts": n.RetryCount + 1})
		return ResultFailed
	}
	log.Warn("notification delivery will be retried", map[string]interface{}{"error": sendErr.Error(), "attempt": n.RetryCount + 1})
	return ResultRetrying
}

func (h *Handler) hold(ctx context.Context, n *models.Notification, until time.Time, log logger.Logger) string {
	if err := h.queue.Defer(ctx, n.ID, until); err != nil {
		log.Warn("failed to defer notification", map[string]interface{}{"error": err.Error()})
	}
	return ResultDeferred
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output, start time.Time) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	h.obs.RecordJob(ctx, TaskType, "completed", time.Since(start))
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error, start time.Time) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
	h.obs.RecordJob(ctx, TaskType, "failed", time.Since(start))
	h.errorHandler.HandleJobError(ctx, client, job, err)
}
