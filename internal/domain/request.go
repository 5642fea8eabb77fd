package domain

import "time"

// RequestStatus represents the lifecycle status of a towing request.
// The string values are shared with operator tooling and must not change.
type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "pendente"
	RequestStatusDirected   RequestStatus = "direcionada"
	RequestStatusInProgress RequestStatus = "em_andamento"
	RequestStatusOnSite     RequestStatus = "no_local"
	RequestStatusEnRoute    RequestStatus = "em_viagem"
	RequestStatusFinalized  RequestStatus = "finalizado"
	RequestStatusCancelled  RequestStatus = "cancelado"
)

// Valid reports whether s is one of the known statuses.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestStatusPending, RequestStatusDirected, RequestStatusInProgress,
		RequestStatusOnSite, RequestStatusEnRoute, RequestStatusFinalized, RequestStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition can leave s.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusFinalized || s == RequestStatusCancelled
}

// IsActive reports whether a provider is committed to the request.
func (s RequestStatus) IsActive() bool {
	switch s {
	case RequestStatusInProgress, RequestStatusOnSite, RequestStatusEnRoute:
		return true
	}
	return false
}

// ProblemType classifies a problem reported by the client after completion.
type ProblemType string

const (
	ProblemNotCompleted  ProblemType = "not_completed"
	ProblemWrongLocation ProblemType = "wrong_location"
	ProblemVehicleDamage ProblemType = "vehicle_damage"
	ProblemBadBehavior   ProblemType = "bad_behavior"
	ProblemOvercharge    ProblemType = "overcharge"
	ProblemOther         ProblemType = "other"
)

// Valid reports whether p is a known problem type.
func (p ProblemType) Valid() bool {
	switch p {
	case ProblemNotCompleted, ProblemWrongLocation, ProblemVehicleDamage,
		ProblemBadBehavior, ProblemOvercharge, ProblemOther:
		return true
	}
	return false
}

// Coordinates is a WGS-84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Request represents a towing trip from creation to settlement.
type Request struct {
	ID                 string
	ClientID           string // empty for guest requests
	GuestName          string
	ProviderID         string // empty until assigned
	AgencyID           string // empty means independent provider pricing
	OriginAddress      string
	Origin             Coordinates
	DestinationAddress string
	Destination        *Coordinates // nil only on legacy rows
	DistanceKm         float64
	DurationSeconds    int
	EtaMinutes         int
	Polyline           string
	Amount             float64 // 0 means covered by an agency
	Status             RequestStatus

	TollAmount         float64
	SkatesUsed         bool
	SkatesQty          int
	SkatesAmount       float64
	FinalAmount        float64
	CommissionRate     float64
	CommissionAmount   float64
	ProblemReported    bool
	ProblemType        ProblemType
	ProblemDescription string

	CancelReason string
	CancelledAt  time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsCovered reports whether the request is paid by an agency or insurer.
func (r *Request) IsCovered() bool {
	return r.Amount == 0
}

// Target returns the point the assigned provider is currently heading to:
// the destination while en route, the pickup point otherwise.
// ok is false when the target is unknown (legacy row without destination).
func (r *Request) Target() (Coordinates, bool) {
	if r.Status == RequestStatusEnRoute {
		if r.Destination == nil {
			return Coordinates{}, false
		}
		return *r.Destination, true
	}
	return r.Origin, true
}
