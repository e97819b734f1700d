package notify

import (
	"context"
	"fmt"
	"time"

	"dinein-commerce/internal/common/clock"
	"dinein-commerce/internal/common/config"
	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/common/logger"
	"dinein-commerce/internal/common/metrics"
	"dinein-commerce/internal/models"
)

// QuietHours is a daily window, possibly wrapping midnight, in a fixed location.
type QuietHours struct {
	Start    time.Duration // offset from local midnight
	End      time.Duration
	Location *time.Location
}

// ParseQuietHours reads "HH:MM" bounds. Equal bounds disable the window.
func ParseQuietHours(start, end, tz string) (QuietHours, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return QuietHours{}, fmt.Errorf("quiet hours timezone: %w", err)
	}
	s, err := clockOffset(start)
	if err != nil {
		return QuietHours{}, err
	}
	e, err := clockOffset(end)
	if err != nil {
		return QuietHours{}, err
	}
	return QuietHours{Start: s, End: e, Location: loc}, nil
}

func clockOffset(hhmm string) (time.Duration, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", hhmm)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func (q QuietHours) enabled() bool {
	return q.Location != nil && q.Start != q.End
}

func localMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Contains reports whether t falls in the window.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.enabled() {
		return false
	}
	local := t.In(q.Location)
	offset := local.Sub(localMidnight(local))
	if q.Start < q.End {
		return offset >= q.Start && offset < q.End
	}
	return offset >= q.Start || offset < q.End
}

// NextEnd returns the end of the window containing t. Only meaningful when Contains(t).
func (q QuietHours) NextEnd(t time.Time) time.Time {
	local := t.In(q.Location)
	midnight := localMidnight(local)
	offset := local.Sub(midnight)
	end := midnight.Add(q.End)
	if q.Start > q.End && offset >= q.Start {
		end = localMidnight(midnight.AddDate(0, 0, 1)).Add(q.End)
	}
	return end
}

// SettingsLookup supplies venue quiet-hour overrides.
type SettingsLookup interface {
	Settings(ctx context.Context, venueID string) (*models.VenueSettings, error)
}

// Policy decides whether an outbound message may leave now.
type Policy struct {
	quiet    QuietHours
	windows  WindowStore
	limit    int
	window   time.Duration
	critical map[string]bool
	settings SettingsLookup
	auditor  Auditor
	timeout  time.Duration
	clock    clock.Clock
	logger   logger.Logger
}

type PolicyOption func(*Policy)

func WithSettings(s SettingsLookup) PolicyOption { return func(p *Policy) { p.settings = s } }
func WithAuditor(a Auditor) PolicyOption         { return func(p *Policy) { p.auditor = a } }
func WithPolicyClock(c clock.Clock) PolicyOption { return func(p *Policy) { p.clock = c } }

// NewPolicy builds the policy from configuration.
func NewPolicy(cfg config.NotificationConfig, windows WindowStore, log logger.Logger, opts ...PolicyOption) (*Policy, error) {
	pc := cfg.Policy
	quiet, err := ParseQuietHours(pc.QuietHours.Start, pc.QuietHours.End, pc.QuietHours.Timezone)
	if err != nil {
		return nil, err
	}
	p := &Policy{
		quiet:    quiet,
		windows:  windows,
		limit:    pc.Throttle.Limit,
		window:   time.Duration(pc.Throttle.WindowSeconds) * time.Second,
		critical: make(map[string]bool, len(pc.CriticalTypes)),
		timeout:  config.GetDuration(pc.Timeout),
		clock:    clock.Real(),
		logger:   log.WithFields(map[string]interface{}{"component": "notify_policy"}),
	}
	for _, t := range pc.CriticalTypes {
		p.critical[t] = true
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Evaluate checks the policy without consuming throttle budget. Admin resend and retry use it.
func (p *Policy) Evaluate(ctx context.Context, action string, n *models.Notification) (models.PolicyDecision, error) {
	return p.decide(ctx, action, n, false)
}

// Admit checks the policy and, when allowed, counts the send against the throttle window.
func (p *Policy) Admit(ctx context.Context, action string, n *models.Notification) (models.PolicyDecision, error) {
	return p.decide(ctx, action, n, true)
}

func (p *Policy) decide(ctx context.Context, action string, n *models.Notification, consume bool) (models.PolicyDecision, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	now := p.clock.Now()
	decision, err := p.check(ctx, n, now, consume)
	if err != nil {
		p.record(ctx, action, n, DecisionError, "", map[string]interface{}{"error": err.Error()})
		return models.PolicyDecision{}, err
	}

	if decision.Allowed {
		metrics.PolicyDecisions.WithLabelValues(DecisionAllow, "").Inc()
		p.record(ctx, action, n, DecisionAllow, "", nil)
		return decision, nil
	}

	metrics.PolicyDecisions.WithLabelValues(DecisionBlock, string(decision.Reason)).Inc()
	details := map[string]interface{}{"message": decision.Message}
	if decision.BlockedUntil != nil {
		details["blocked_until"] = decision.BlockedUntil.UTC().Format(time.RFC3339)
	}
	if decision.Throttle != nil {
		details["throttle"] = decision.Throttle
	}
	p.record(ctx, action, n, DecisionBlock, string(decision.Reason), details)
	p.logger.Info("outbound message blocked", map[string]interface{}{
		"notificationId": n.ID,
		"type":           n.Type,
		"reason":         decision.Reason,
		"to":             logger.MaskPhone(n.ToAddress),
	})
	return decision, nil
}

func (p *Policy) check(ctx context.Context, n *models.Notification, now time.Time, consume bool) (models.PolicyDecision, error) {
	if !p.critical[n.Type] {
		quiet := p.quietFor(ctx, n.VenueID)
		if quiet.Contains(now) {
			blockedAt := now.UTC()
			until := quiet.NextEnd(now).UTC()
			return models.PolicyDecision{
				Allowed:      false,
				Reason:       models.ReasonQuietHours,
				Message:      "Quiet hours are in effect; the message will be sent when they end.",
				BlockedAt:    &blockedAt,
				BlockedUntil: &until,
			}, nil
		}
	}

	if p.windows == nil || p.limit <= 0 || p.window <= 0 {
		return models.PolicyDecision{Allowed: true}, nil
	}

	key := string(n.Channel)
	count, resetAt, err := p.windows.Peek(ctx, key, p.window)
	if err != nil {
		return models.PolicyDecision{}, errors.NewTransientError("throttle peek", err)
	}
	if count < int64(p.limit) && consume {
		count, resetAt, err = p.windows.Incr(ctx, key, p.window)
		if err != nil {
			return models.PolicyDecision{}, errors.NewTransientError("throttle incr", err)
		}
		if count <= int64(p.limit) {
			return models.PolicyDecision{Allowed: true}, nil
		}
	} else if count < int64(p.limit) {
		return models.PolicyDecision{Allowed: true}, nil
	}

	blockedAt := now.UTC()
	until := resetAt.UTC()
	return models.PolicyDecision{
		Allowed:      false,
		Reason:       models.ReasonThrottled,
		Message:      fmt.Sprintf("Send limit of %d per %s reached for %s.", p.limit, p.window, key),
		BlockedAt:    &blockedAt,
		BlockedUntil: &until,
		Throttle: &models.ThrottleInfo{
			Limit:         p.limit,
			Count:         count,
			WindowSeconds: int(p.window / time.Second),
			ResetAt:       until,
		},
	}, nil
}

// quietFor applies venue overrides on top of the global window. Lookup failures fall back
// to the global window.
func (p *Policy) quietFor(ctx context.Context, venueID string) QuietHours {
	if venueID == "" || p.settings == nil {
		return p.quiet
	}
	s, err := p.settings.Settings(ctx, venueID)
	if err != nil {
		p.logger.Warn("venue settings lookup failed", map[string]interface{}{"venueId": venueID, "error": err.Error()})
		return p.quiet
	}
	if s.QuietStart == "" || s.QuietEnd == "" {
		return p.quiet
	}
	tz := s.Timezone
	if tz == "" {
		tz = p.quiet.Location.String()
	}
	q, err := ParseQuietHours(s.QuietStart, s.QuietEnd, tz)
	if err != nil {
		p.logger.Warn("invalid venue quiet hours", map[string]interface{}{"venueId": venueID, "error": err.Error()})
		return p.quiet
	}
	return q
}

func (p *Policy) record(ctx context.Context, action string, n *models.Notification, decision, reason string, details map[string]interface{}) {
	if p.auditor == nil {
		return
	}
	if details == nil {
		details = map[string]interface{}{}
	}
	details["type"] = n.Type
	details["channel"] = string(n.Channel)
	_ = p.auditor.Record(ctx, AuditEntry{
		NotificationID: n.ID,
		Action:         action,
		Decision:       decision,
		Reason:         reason,
		Details:        details,
	})
}
