package domain

import "time"

// SenderRole is the side of the conversation that wrote a message.
type SenderRole string

const (
	SenderClient   SenderRole = "cliente"
	SenderProvider SenderRole = "prestador"
)

// Message is a chat entry tied to a request.
type Message struct {
	ID         string
	RequestID  string
	SenderID   string
	SenderRole SenderRole
	Body       string
	Read       bool
	CreatedAt  time.Time
}
