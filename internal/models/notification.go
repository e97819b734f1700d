// internal/models/notification.go
package models

import "time"

type NotificationStatus string

const (
	NotificationQueued    NotificationStatus = "queued"
	NotificationSent      NotificationStatus = "sent"
	NotificationFailed    NotificationStatus = "failed"
	NotificationCancelled NotificationStatus = "cancelled"
)

// Channel is how a notification leaves the system.
type Channel string

const (
	ChannelTemplate Channel = "template" // WhatsApp approved template
	ChannelFreeform Channel = "freeform" // WhatsApp session text
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
)

// Notification types.
const (
	TypeOrderCreatedVendor     = "order_created_vendor"
	TypeOrderPaidCustomer      = "order_paid_customer"
	TypeOrderServedCustomer    = "order_served_customer"
	TypeOrderCancelledCustomer = "order_cancelled_customer"
	TypeCustomerPaidVendor     = "customer_paid_vendor"
	TypeStaffInvite            = "staff_invite"
	TypeOrderDigestEmail       = "order_digest_email"
)

type Notification struct {
	ID            string             `json:"id"`
	ToAddress     string             `json:"to_address"`
	Type          string             `json:"type"`
	Channel       Channel            `json:"channel"`
	Payload       Envelope           `json:"payload"`
	Status        NotificationStatus `json:"status"`
	RetryCount    int                `json:"retry_count"`
	NextAttemptAt *time.Time         `json:"next_attempt_at,omitempty"`
	LockedAt      *time.Time         `json:"locked_at,omitempty"`
	DeliverAfter  *time.Time         `json:"deliver_after,omitempty"`
	ErrorMessage  string             `json:"error_message,omitempty"`
	VenueID       string             `json:"venue_id,omitempty"`
	OrderID       string             `json:"order_id,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

// Envelope is the stored message body. Exactly one of Template or Text is set.
type Envelope struct {
	Template *TemplatePayload       `json:"template,omitempty"`
	Text     string                 `json:"text,omitempty"`
	Subject  string                 `json:"subject,omitempty"`
	Meta     map[string]interface{} `json:"meta,omitempty"`
}

type TemplatePayload struct {
	Name       string   `json:"name"`
	Language   string   `json:"language"`
	Parameters []string `json:"parameters,omitempty"`
}

// PolicyReason explains a blocked outbound decision.
type PolicyReason string

const (
	ReasonQuietHours PolicyReason = "quiet_hours"
	ReasonThrottled  PolicyReason = "throttled"
	ReasonOptedOut   PolicyReason = "opted_out"
)

type ThrottleInfo struct {
	Limit         int       `json:"limit"`
	Count         int64     `json:"count"`
	WindowSeconds int       `json:"window_seconds"`
	ResetAt       time.Time `json:"reset_at"`
}

// PolicyDecision is the outcome of evaluating the outbound policy for one send.
type PolicyDecision struct {
	Allowed      bool          `json:"allowed"`
	Reason       PolicyReason  `json:"reason,omitempty"`
	Message      string        `json:"message,omitempty"`
	BlockedAt    *time.Time    `json:"blocked_at,omitempty"`
	BlockedUntil *time.Time    `json:"blocked_until,omitempty"`
	Throttle     *ThrottleInfo `json:"throttle,omitempty"`
}

// AdminOutcome is the per-notification result of resend, cancel and retry.
type AdminOutcome struct {
	ID      string       `json:"id"`
	Status  string       `json:"status"` // queued | blocked | cancelled | error
	Reason  PolicyReason `json:"reason,omitempty"`
	Message string       `json:"message,omitempty"`

	// Set only when the policy blocked the action.
	BlockedAt    *time.Time    `json:"blocked_at,omitempty"`
	BlockedUntil *time.Time    `json:"blocked_until,omitempty"`
	Throttle     *ThrottleInfo `json:"throttle,omitempty"`
}

const (
	OutcomeQueued    = "queued"
	OutcomeBlocked   = "blocked"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)
