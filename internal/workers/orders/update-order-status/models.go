// internal/workers/orders/update-order-status/models.go
package updateorderstatus

type Input struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	Actor   string `json:"actor,omitempty"`
	Note    string `json:"note,omitempty"`
}

type Output struct {
	OrderID   string `json:"orderId"`
	OrderCode string `json:"orderCode"`
	VenueID   string `json:"venueId"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updatedAt"`
}
