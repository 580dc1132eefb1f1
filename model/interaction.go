package model

import "time"

// Well-known interaction types. Any other non-empty string is accepted too.
const (
	InteractionEmail   = "Email"
	InteractionCall    = "Call"
	InteractionMeeting = "Meeting"
)

// Interaction records a contact with a customer. CustomerID is not checked
// against the customer store and survives the customer's deletion.
type Interaction struct {
	ID              uint64     `json:"id"`
	CustomerID      uint64     `json:"customer_id"`
	InteractionType string     `json:"interaction_type"`
	Content         string     `json:"content"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

type InteractionPayload struct {
	CustomerID      uint64 `json:"customer_id"`
	InteractionType string `json:"interaction_type"`
	Content         string `json:"content"`
}
