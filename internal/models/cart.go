// internal/models/cart.go
package models

type CartStatus string

const (
	CartOpen   CartStatus = "open"
	CartLocked CartStatus = "locked"
)

type Cart struct {
	ID                 string     `json:"id"`
	SubjectID          string     `json:"subject_id"`
	VenueID            string     `json:"venue_id"`
	Status             CartStatus `json:"status"`
	SubtotalMinor      int64      `json:"subtotal_minor"`
	ServiceChargeMinor int64      `json:"service_charge_minor"`
	TotalMinor         int64      `json:"total_minor"`
}

type CartLine struct {
	ID                string             `json:"id"`
	CartID            string             `json:"cart_id"`
	ItemID            string             `json:"item_id"`
	NameSnapshot      string             `json:"name_snapshot"`
	UnitPriceMinor    int64              `json:"unit_price_minor"`
	Qty               int                `json:"qty"`
	ModifiersSnapshot []ModifierSnapshot `json:"modifiers_snapshot"`
	LineTotalMinor    int64              `json:"line_total_minor"`
}

// Totals is the result of a reprice pass.
type Totals struct {
	SubtotalMinor      int64 `json:"subtotal_minor"`
	ServiceChargeMinor int64 `json:"service_charge_minor"`
	TotalMinor         int64 `json:"total_minor"`
}
