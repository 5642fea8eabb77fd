package domain

import "time"

// ChangeKind describes the row mutation carried by a ChangeEvent.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeUpdate ChangeKind = "UPDATE"
)

// Change feed tables.
const (
	TableRequests  = "solicitacoes"
	TableProviders = "prestadores"
)

// ChangeEvent is a best-effort notification that a row changed. Consumers
// must re-read authoritative state instead of trusting the payload.
type ChangeEvent struct {
	Table      string        `json:"table"`
	Kind       ChangeKind    `json:"kind"`
	RowID      string        `json:"row_id"`
	Status     RequestStatus `json:"status,omitempty"`
	ProviderID string        `json:"provider_id,omitempty"`
	Position   *Position     `json:"position,omitempty"`
	At         time.Time     `json:"at"`
}

// Position is a provider location as broadcast to watchers.
type Position struct {
	Lat             float64 `json:"lat"`
	Lng             float64 `json:"lng"`
	Heading         float64 `json:"heading"`
	HasHeading      bool    `json:"has_heading"`
	EtaMinutes      int     `json:"eta_min,omitempty"`
	RemainingMeters float64 `json:"remaining_m,omitempty"`
	RequestID       string  `json:"request_id,omitempty"`
}

// Fix is a raw position sample from a provider device.
type Fix struct {
	Lat float64   `json:"lat"`
	Lng float64   `json:"lng"`
	At  time.Time `json:"at"`
}
