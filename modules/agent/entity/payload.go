package entity

import "time"

// SlotCandidate is an agent-generated slot carried inside a counter payload,
// appended to the negotiation when the counter is applied.
type SlotCandidate struct {
	StartsAt        time.Time `json:"starts_at"`
	DurationMinutes *int      `json:"duration_minutes,omitempty"`
}

// VenueCandidate is an agent-generated venue carried inside a counter payload.
type VenueCandidate struct {
	VenueName string `json:"venue_name"`
}

// Payload is the plaintext content of an AgentMessage. It is serialized to
// JSON and sealed before it reaches the repository; slot and venue indices
// refer to the negotiation aggregate's proposal lists.
type Payload struct {
	SlotIndex  *int `json:"slot_index,omitempty"`
	VenueIndex *int `json:"venue_index,omitempty"`
	// NewSlots and NewVenues are present on counter messages only.
	NewSlots  []SlotCandidate  `json:"new_slots,omitempty"`
	NewVenues []VenueCandidate `json:"new_venues,omitempty"`
	// Reason is present on escalate messages.
	Reason string `json:"reason,omitempty"`
}
