package entity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ProposedSlot is a candidate time window. Slots are immutable once created;
// counter-proposals append new indices, never rewrite existing ones.
type ProposedSlot struct {
	NegotiationID   string    `db:"negotiation_id" json:"negotiation_id"`
	SlotIndex       int       `db:"slot_index" json:"slot_index"`
	StartsAt        time.Time `db:"starts_at" json:"starts_at"`
	DurationMinutes *int      `db:"duration_minutes" json:"duration_minutes,omitempty"`
	ProposedBy      uuid.UUID `db:"proposed_by" json:"proposed_by"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// VenueMetadata is free-form venue detail stored as JSONB.
type VenueMetadata map[string]string

func (m VenueMetadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *VenueMetadata) Scan(value any) error {
	if value == nil {
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, m)
}

// ProposedVenue is a candidate location, structurally parallel to ProposedSlot.
type ProposedVenue struct {
	NegotiationID string        `db:"negotiation_id" json:"negotiation_id"`
	VenueIndex    int           `db:"venue_index" json:"venue_index"`
	VenueName     string        `db:"venue_name" json:"venue_name"`
	Metadata      VenueMetadata `db:"metadata" json:"metadata,omitempty"`
	ProposedBy    uuid.UUID     `db:"proposed_by" json:"proposed_by"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
}
