// internal/models/venue.go
package models

import "time"

type Venue struct {
	ID           string    `json:"id"`
	Slug         string    `json:"slug"`
	Name         string    `json:"name"`
	LocationText string    `json:"location_text"`
	Country      string    `json:"country"`
	CityArea     string    `json:"city_area"`
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
	MomoCode     string    `json:"momo_code"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// VenueSettings carries pricing and quiet-hour overrides for a venue.
type VenueSettings struct {
	VenueID          string  `json:"venue_id"`
	ServiceChargePct float64 `json:"service_charge_pct"`
	Currency         string  `json:"currency"`
	QuietStart       string  `json:"quiet_start,omitempty"`
	QuietEnd         string  `json:"quiet_end,omitempty"`
	Timezone         string  `json:"timezone,omitempty"`
	OrderEmail       string  `json:"order_email,omitempty"`
}

type MenuStatus string

const (
	MenuDraft     MenuStatus = "draft"
	MenuPublished MenuStatus = "published"
	MenuArchived  MenuStatus = "archived"
)

type Menu struct {
	ID        string     `json:"id"`
	VenueID   string     `json:"venue_id"`
	Version   int        `json:"version"`
	Status    MenuStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

type Category struct {
	ID       string `json:"id"`
	VenueID  string `json:"venue_id"`
	MenuID   string `json:"menu_id"`
	ParentID string `json:"parent_id,omitempty"`
	Name     string `json:"name"`
}

type MenuItem struct {
	ID          string     `json:"id"`
	VenueID     string     `json:"venue_id"`
	MenuID      string     `json:"menu_id"`
	CategoryID  string     `json:"category_id,omitempty"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	PriceMinor  int64      `json:"price_minor"`
	Currency    string     `json:"currency"`
	IsAvailable bool       `json:"is_available"`
	Modifiers   []Modifier `json:"modifiers"`
}

type ModifierType string

const (
	ModifierSingle   ModifierType = "single"
	ModifierMultiple ModifierType = "multiple"
)

type Modifier struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Type     ModifierType     `json:"type"`
	Required bool             `json:"required"`
	Options  []ModifierOption `json:"options"`
}

type ModifierOption struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	PriceDeltaMinor int64  `json:"price_delta_minor"`
	IsDefault       bool   `json:"is_default"`
}

// ModifierSnapshot is the applied selection copied onto cart and order lines.
type ModifierSnapshot struct {
	ModifierID      string `json:"modifier_id"`
	ModifierName    string `json:"modifier_name"`
	OptionID        string `json:"option_id"`
	OptionName      string `json:"option_name"`
	PriceDeltaMinor int64  `json:"price_delta_minor"`
}

// MenuUpload is a media file a vendor sent for menu extraction.
type MenuUpload struct {
	ID         string    `json:"id"`
	VenueID    string    `json:"venue_id"`
	MediaID    string    `json:"media_id"`
	MimeType   string    `json:"mime_type"`
	Status     string    `json:"status"`
	UploadedBy string    `json:"uploaded_by"`
	CreatedAt  time.Time `json:"created_at"`
}
