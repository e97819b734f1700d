// internal/workers/notifications/deliver-notifications/models.go
package delivernotifications

// Input is the job payload of the zeebe trigger. Zero means the configured batch size.
type Input struct {
	BatchSize int `json:"batchSize,omitempty"`
}

// Output summarizes one delivery pass.
type Output struct {
	Claimed   int `json:"claimed"`
	Sent      int `json:"sent"`
	Retrying  int `json:"retrying"`
	Failed    int `json:"failed"`
	Deferred  int `json:"deferred"`
	Cancelled int `json:"cancelled"`
}

// Per-row results.
const (
	ResultSent      = "sent"
	ResultRetrying  = "retrying"
	ResultFailed    = "failed"
	ResultDeferred  = "deferred"
	ResultCancelled = "cancelled"
)
