package entity

import (
	"time"

	"github.com/google/uuid"
)

// NegotiationState is the lifecycle state of a negotiation. Transitions are
// monotonic except for explicit cancel; confirmed, cancelled and expired are
// terminal.
type NegotiationState string

const (
	StateAwaitingInvites NegotiationState = "awaiting_invites"
	StateAwaitingReplies NegotiationState = "awaiting_replies"
	StateConfirmed       NegotiationState = "confirmed"
	StateCancelled       NegotiationState = "cancelled"
	StateExpired         NegotiationState = "expired"
)

// IsTerminal reports whether no further replies are accepted.
func (s NegotiationState) IsTerminal() bool {
	return s == StateConfirmed || s == StateCancelled || s == StateExpired
}

// IntentCategory classifies what kind of get-together is being negotiated.
type IntentCategory string

const (
	IntentCoffee   IntentCategory = "coffee"
	IntentLunch    IntentCategory = "lunch"
	IntentDinner   IntentCategory = "dinner"
	IntentDrinks   IntentCategory = "drinks"
	IntentActivity IntentCategory = "activity"
	IntentMeeting  IntentCategory = "meeting"
	IntentOther    IntentCategory = "other"
)

// ValidIntentCategory reports whether c is one of the known categories.
func ValidIntentCategory(c IntentCategory) bool {
	switch c {
	case IntentCoffee, IntentLunch, IntentDinner, IntentDrinks, IntentActivity, IntentMeeting, IntentOther:
		return true
	}
	return false
}

// Negotiation is the unit of multi-party scheduling consensus. The ID is
// supplied by the caller and doubles as the create idempotency key.
type Negotiation struct {
	ID              string           `db:"id" json:"id"`
	OwnerID         uuid.UUID        `db:"owner_id" json:"owner_id"`
	Title           *string          `db:"title" json:"title,omitempty"`
	IntentCategory  IntentCategory   `db:"intent_category" json:"intent_category"`
	State           NegotiationState `db:"state" json:"state"`
	ShareSlug       string           `db:"share_slug" json:"share_slug"`
	ExpiresAt       time.Time        `db:"expires_at" json:"expires_at"`
	AgentMode       bool             `db:"agent_mode" json:"agent_mode"`
	AgentRound      *int             `db:"agent_round" json:"agent_round,omitempty"`
	FinalSlotIndex  *int             `db:"final_slot_index" json:"final_slot_index,omitempty"`
	FinalVenueIndex *int             `db:"final_venue_index" json:"final_venue_index,omitempty"`
	Version         int              `db:"version" json:"-"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// Aggregate is a negotiation with its owned collections loaded.
type Aggregate struct {
	Negotiation  Negotiation
	Participants []Participant
	Slots        []ProposedSlot
	Venues       []ProposedVenue
}

// Participant returns the participant row for userID, or nil.
func (a *Aggregate) Participant(userID uuid.UUID) *Participant {
	for i := range a.Participants {
		if a.Participants[i].UserID == userID {
			return &a.Participants[i]
		}
	}
	return nil
}

// NextSlotIndex returns the first unused slot index.
func (a *Aggregate) NextSlotIndex() int {
	next := 0
	for _, s := range a.Slots {
		if s.SlotIndex >= next {
			next = s.SlotIndex + 1
		}
	}
	return next
}

// NextVenueIndex returns the first unused venue index.
func (a *Aggregate) NextVenueIndex() int {
	next := 0
	for _, v := range a.Venues {
		if v.VenueIndex >= next {
			next = v.VenueIndex + 1
		}
	}
	return next
}
