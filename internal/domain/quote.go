package domain

// Quote is the normalized answer of the external pricing function.
type Quote struct {
	DistanceKm      float64
	DurationSeconds float64
	EtaMinutes      int
	Amount          float64
	AmountMissing   bool   // no usable amount; acceptable only when an agency covers the trip
	Polyline        string // empty when the pricing function returned none
	AgencyID        string // coverage rule attached by the pricing function
}
