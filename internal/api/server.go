// Package api exposes the HTTP surface: the exchange endpoint, the WhatsApp webhook, notification
// admin operations and health probes.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/common/logger"
	"dinein-commerce/internal/exchange"
	"dinein-commerce/internal/models"
	"dinein-commerce/internal/webhook"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxWebhookBody = 1 << 20

// Exchange is satisfied by *exchange.Router.
type Exchange interface {
	Handle(ctx context.Context, req *exchange.Request) *exchange.Response
}

// Inbound is satisfied by *webhook.Dispatcher.
type Inbound interface {
	Dispatch(ctx context.Context, msg webhook.Inbound) error
}

// NotificationAdmin is satisfied by *notify.Admin.
type NotificationAdmin interface {
	Resend(ctx context.Context, id string) (models.AdminOutcome, error)
	Retry(ctx context.Context, ids []string) []models.AdminOutcome
	Cancel(ctx context.Context, id, reason string) (models.AdminOutcome, error)
}

// Check is one readiness dependency.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// WebhookConfig holds the values the webhook endpoints check.
type WebhookConfig struct {
	VerifyToken string
	AppSecret   string
}

type Server struct {
	exchange     Exchange
	inbound      Inbound
	admin        NotificationAdmin
	webhook      WebhookConfig
	checks       []Check
	checkTimeout time.Duration
	logger       logger.Logger
}

type Option func(*Server)

func WithChecks(timeout time.Duration, checks ...Check) Option {
	return func(s *Server) {
		s.checkTimeout = timeout
		s.checks = append(s.checks, checks...)
	}
}

func NewServer(ex Exchange, inbound Inbound, admin NotificationAdmin, wh WebhookConfig, log logger.Logger, opts ...Option) *Server {
	s := &Server{
		exchange:     ex,
		inbound:      inbound,
		admin:        admin,
		webhook:      wh,
		checkTimeout: 2 * time.Second,
		logger:       log.WithFields(map[string]interface{}{"component": "api"}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/exchange", s.handleExchange)

	r.Get("/webhook", s.verifyWebhook)
	r.Post("/webhook", s.receiveWebhook)

	r.Route("/admin/notifications", func(r chi.Router) {
		r.Post("/retry", s.retryNotifications)
		r.Post("/{id}/resend", s.resendNotification)
		r.Post("/{id}/cancel", s.cancelNotification)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ==========================
// Health
// ==========================

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ready pings every dependency under a bounded timeout and reports "degraded" instead of
// blocking when one is slow or down.
func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.checkTimeout)
	defer cancel()

	status := "ready"
	results := make(map[string]string, len(s.checks))
	for _, c := range s.checks {
		if err := c.Ping(ctx); err != nil {
			status = "degraded"
			results[c.Name] = err.Error()
			s.logger.Warn("readiness check failed", map[string]interface{}{"check": c.Name, "error": err.Error()})
			continue
		}
		results[c.Name] = "ok"
	}
	code := http.StatusOK
	if status != "ready" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{"status": status, "checks": results})
}

// ==========================
// Exchange
// ==========================

func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	var req exchange.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Warn("exchange: invalid request body", map[string]interface{}{"error": err.Error()})
		writeJSON(w, http.StatusOK, &exchange.Response{
			Messages: []exchange.Message{{Level: exchange.LevelWarning, Text: "Malformed request"}},
		})
		return
	}
	writeJSON(w, http.StatusOK, s.exchange.Handle(r.Context(), &req))
}

// ==========================
// Webhook
// ==========================

func (s *Server) verifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, ok := webhook.Handshake(s.webhook.VerifyToken, q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"))
	if !ok {
		s.logger.Warn("webhook handshake rejected", map[string]interface{}{"mode": q.Get("hub.mode")})
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(challenge))
}

func (s *Server) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if !webhook.VerifySignature(s.webhook.AppSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		s.logger.Warn("webhook signature mismatch", nil)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	msgs, err := webhook.Parse(body)
	if err != nil {
		s.logger.Warn("webhook payload rejected", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	failed := 0
	for _, m := range msgs {
		if err := s.inbound.Dispatch(r.Context(), m); err != nil {
			failed++
		}
	}
	if failed > 0 {
		// The provider redelivers on non-2xx; processed messages are skipped by id.
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"received": len(msgs)})
}

// ==========================
// Notification admin
// ==========================

func statusFor(err error) int {
	switch errors.KindOf(err) {
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindStateConflict, errors.KindPolicyBlocked:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) adminFailure(w http.ResponseWriter, action, id string, err error) {
	status := statusFor(err)
	fields := map[string]interface{}{"action": action, "id": id, "error": err.Error()}
	if status == http.StatusInternalServerError {
		s.logger.Error("notification admin action failed", fields)
	} else {
		s.logger.Info("notification admin action rejected", fields)
	}
	writeJSON(w, status, models.AdminOutcome{ID: id, Status: models.OutcomeError, Message: errors.UserMessage(err)})
}

func (s *Server) resendNotification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	out, err := s.admin.Resend(r.Context(), id)
	if err != nil {
		s.adminFailure(w, "resend", id, err)
		return
	}
	status := http.StatusOK
	if out.Status == models.OutcomeBlocked {
		status = http.StatusConflict
	}
	writeJSON(w, status, out)
}

type cancelBody struct {
	Reason string `json:"reason"`
}

func (s *Server) cancelNotification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body cancelBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if body.Reason == "" {
		body.Reason = "admin"
	}
	out, err := s.admin.Cancel(r.Context(), id, body.Reason)
	if err != nil {
		s.adminFailure(w, "cancel", id, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type retryBody struct {
	IDs []string `json:"ids"`
}

func (s *Server) retryNotifications(w http.ResponseWriter, r *http.Request) {
	var body retryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": s.admin.Retry(r.Context(), body.IDs)})
}
