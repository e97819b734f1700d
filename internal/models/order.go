// internal/models/order.go
package models

import "time"

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderServed    OrderStatus = "served"
	OrderCancelled OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending: {OrderPaid, OrderCancelled},
	OrderPaid:    {OrderServed, OrderCancelled},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseOrderStatus accepts only declared statuses.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	switch OrderStatus(s) {
	case OrderPending, OrderPaid, OrderServed, OrderCancelled:
		return OrderStatus(s), true
	}
	return "", false
}

type ActorType string

const (
	ActorCustomer ActorType = "customer"
	ActorVendor   ActorType = "vendor"
	ActorSystem   ActorType = "system"
)

const (
	EventCreated            = "created"
	EventPaid               = "paid"
	EventServed             = "served"
	EventCancelled          = "cancelled"
	EventCustomerPaidSignal = "customer_paid_signal"
)

type Order struct {
	ID                 string      `json:"id"`
	Code               string      `json:"code"`
	VenueID            string      `json:"venue_id"`
	CartID             string      `json:"cart_id,omitempty"`
	SubjectID          string      `json:"subject_id"`
	SubtotalMinor      int64       `json:"subtotal_minor"`
	ServiceChargeMinor int64       `json:"service_charge_minor"`
	TotalMinor         int64       `json:"total_minor"`
	Currency           string      `json:"currency"`
	Status             OrderStatus `json:"status"`
	TableLabel         string      `json:"table_label,omitempty"`
	Note               string      `json:"note,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
}

type OrderItem struct {
	ID                string             `json:"id"`
	OrderID           string             `json:"order_id"`
	ItemID            string             `json:"item_id"`
	NameSnapshot      string             `json:"name_snapshot"`
	UnitPriceMinor    int64              `json:"unit_price_minor"`
	Qty               int                `json:"qty"`
	ModifiersSnapshot []ModifierSnapshot `json:"modifiers_snapshot"`
	LineTotalMinor    int64              `json:"line_total_minor"`
}

type OrderEvent struct {
	OrderID   string    `json:"order_id"`
	EventType string    `json:"event_type"`
	ActorType ActorType `json:"actor_type"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PaymentDescriptor is the USSD string a customer dials to pay, plus its tel: link.
type PaymentDescriptor struct {
	USSD string `json:"ussd_code_text"`
	URI  string `json:"ussd_uri"`
}
