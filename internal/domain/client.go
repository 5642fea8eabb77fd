package domain

import "time"

// Client represents a registered customer.
type Client struct {
	ID        string
	Name      string
	Phone     string
	AgencyID  string // set when the client was registered by an agency call center
	CreatedAt time.Time
}
