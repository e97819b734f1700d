// internal/workers/orders/update-order-status/handler.go
package updateorderstatus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/common/logger"
	"dinein-commerce/internal/common/metrics"
	"dinein-commerce/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "update-order-status"
)

// OrderUpdater is satisfied by *commerce.Engine.
type OrderUpdater interface {
	UpdateOrderStatus(ctx context.Context, orderID string, to models.OrderStatus, actor models.ActorType, note string) (*models.Order, error)
}

type Handler struct {
	config       *Config
	orders       OrderUpdater
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(cfg *Config, orders OrderUpdater, log logger.Logger) *Handler {
	scoped := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       cfg,
		orders:       orders,
		errorHandler: errors.NewErrorHandler(scoped),
		logger:       scoped,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.failJob(ctx, client, job, errors.NewValidationError(fmt.Sprintf("parse input: %v", err)))
		return
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.failJob(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	actor := models.ActorType(input.Actor)
	if actor == "" {
		actor = models.ActorSystem
	}

	order, err := h.orders.UpdateOrderStatus(ctx, input.OrderID, models.OrderStatus(input.Status), actor, input.Note)
	if err != nil {
		return nil, err
	}
	return &Output{
		OrderID:   order.ID,
		OrderCode: order.Code,
		VenueID:   order.VenueID,
		Status:    string(order.Status),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func validateInput(input *Input) error {
	if input.OrderID == "" {
		return errors.NewValidationError("orderId is required")
	}
	switch models.OrderStatus(input.Status) {
	case models.OrderPaid, models.OrderServed, models.OrderCancelled:
	default:
		return errors.NewValidationError(fmt.Sprintf("status must be paid, served or cancelled, got %q", input.Status))
	}
	switch models.ActorType(input.Actor) {
	case "", models.ActorVendor, models.ActorSystem:
	default:
		return errors.NewValidationError(fmt.Sprintf("actor %q cannot change order status", input.Actor))
	}
	return nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
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
	h.logger.Info("job completed", map[string]interface{}{
		"jobKey":  job.Key,
		"orderId": output.OrderID,
		"status":  output.Status,
	})
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
}
