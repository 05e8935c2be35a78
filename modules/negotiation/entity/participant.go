package entity

import (
	"time"

	"github.com/google/uuid"
)

// ParticipantStatus represents one person's standing within a negotiation.
// Exactly one participant per negotiation is the organizer.
type ParticipantStatus string

const (
	ParticipantStatusOrganizer ParticipantStatus = "organizer"
	ParticipantStatusInvited   ParticipantStatus = "invited"
	ParticipantStatusAccepted  ParticipantStatus = "accepted"
	ParticipantStatusDeclined  ParticipantStatus = "declined"
)

type Participant struct {
	NegotiationID      string            `db:"negotiation_id" json:"negotiation_id"`
	UserID             uuid.UUID         `db:"user_id" json:"user_id"`
	Status             ParticipantStatus `db:"status" json:"status"`
	DisplayName        *string           `db:"display_name" json:"display_name,omitempty"`
	SelectedSlotIndex  *int              `db:"selected_slot_index" json:"selected_slot_index,omitempty"`
	SelectedVenueIndex *int              `db:"selected_venue_index" json:"selected_venue_index,omitempty"`
	RespondedAt        *time.Time        `db:"responded_at" json:"responded_at,omitempty"`
	CreatedAt          time.Time         `db:"created_at" json:"created_at"`
}
