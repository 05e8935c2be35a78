package dto

import (
	"time"

	"meetpact/modules/negotiation/entity"
)

// ===================== Request DTOs =====================

// CreateNegotiationRequest creates a new negotiation. ID is caller-generated
// and acts as the idempotency key.
type CreateNegotiationRequest struct {
	ID             string         `json:"id" validate:"required"`
	Title          string         `json:"title"`
	IntentCategory string         `json:"intent_category" validate:"required"`
	Participants   []string       `json:"participants" validate:"required,min=1"` // user_ids
	Slots          []SlotInput    `json:"slots" validate:"required,min=1"`
	Venues         []VenueInput   `json:"venues"`
	ExpiresAt      time.Time      `json:"expires_at" validate:"required"`
	AgentMode      bool           `json:"agent_mode"`
}

// SlotInput is one candidate time window in a create or counter request.
type SlotInput struct {
	StartsAt        time.Time `json:"starts_at" validate:"required"`
	DurationMinutes *int      `json:"duration_minutes"`
}

// VenueInput is one candidate location in a create or counter request.
type VenueInput struct {
	VenueName string            `json:"venue_name" validate:"required"`
	Metadata  map[string]string `json:"metadata"`
}

// ReplyRequest carries one participant's response.
type ReplyRequest struct {
	Action             string       `json:"action" validate:"required"` // accept | reject | counter
	SelectedSlotIndex  *int         `json:"selected_slot_index"`
	SelectedVenueIndex *int         `json:"selected_venue_index"`
	CounterSlots       []SlotInput  `json:"counter_slots"`
	CounterVenues      []VenueInput `json:"counter_venues"`
}

// ListNegotiationsQuery filters the negotiation listing.
type ListNegotiationsQuery struct {
	State         string `query:"state"`
	UpdatedAfter  string `query:"updated_after"`  // RFC3339
	UpdatedBefore string `query:"updated_before"` // RFC3339
	Limit         int    `query:"limit"`
	Cursor        string `query:"cursor"`
}

// ===================== Response DTOs =====================

type NegotiationResponse struct {
	ID              string                `json:"id"`
	OwnerID         string                `json:"owner_id"`
	Title           string                `json:"title,omitempty"`
	IntentCategory  string                `json:"intent_category"`
	State           string                `json:"state"`
	ShareSlug       string                `json:"share_slug,omitempty"`
	ExpiresAt       time.Time             `json:"expires_at"`
	AgentMode       bool                  `json:"agent_mode"`
	AgentRound      *int                  `json:"agent_round,omitempty"`
	FinalSlotIndex  *int                  `json:"final_slot_index,omitempty"`
	FinalVenueIndex *int                  `json:"final_venue_index,omitempty"`
	Participants    []ParticipantResponse `json:"participants,omitempty"`
	Slots           []SlotResponse        `json:"slots,omitempty"`
	Venues          []VenueResponse       `json:"venues,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

type ParticipantResponse struct {
	UserID             string     `json:"user_id"`
	Status             string     `json:"status"`
	DisplayName        string     `json:"display_name,omitempty"`
	SelectedSlotIndex  *int       `json:"selected_slot_index,omitempty"`
	SelectedVenueIndex *int       `json:"selected_venue_index,omitempty"`
	RespondedAt        *time.Time `json:"responded_at,omitempty"`
}

type SlotResponse struct {
	SlotIndex       int       `json:"slot_index"`
	StartsAt        time.Time `json:"starts_at"`
	DurationMinutes *int      `json:"duration_minutes,omitempty"`
}

type VenueResponse struct {
	VenueIndex int               `json:"venue_index"`
	VenueName  string            `json:"venue_name"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// PaginatedNegotiationResponse is a cursor-paged listing ordered by
// updated_at desc.
type PaginatedNegotiationResponse struct {
	Items      []NegotiationResponse `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
	HasMore    bool                  `json:"has_more"`
}

// ===================== Mapper Functions =====================

// ToNegotiationResponse maps the full aggregate to its response shape.
func ToNegotiationResponse(a *entity.Aggregate) *NegotiationResponse {
	n := a.Negotiation
	resp := &NegotiationResponse{
		ID:              n.ID,
		OwnerID:         n.OwnerID.String(),
		IntentCategory:  string(n.IntentCategory),
		State:           string(n.State),
		ShareSlug:       n.ShareSlug,
		ExpiresAt:       n.ExpiresAt,
		AgentMode:       n.AgentMode,
		AgentRound:      n.AgentRound,
		FinalSlotIndex:  n.FinalSlotIndex,
		FinalVenueIndex: n.FinalVenueIndex,
		CreatedAt:       n.CreatedAt,
		UpdatedAt:       n.UpdatedAt,
	}
	if n.Title != nil {
		resp.Title = *n.Title
	}

	for _, p := range a.Participants {
		pr := ParticipantResponse{
			UserID:             p.UserID.String(),
			Status:             string(p.Status),
			SelectedSlotIndex:  p.SelectedSlotIndex,
			SelectedVenueIndex: p.SelectedVenueIndex,
			RespondedAt:        p.RespondedAt,
		}
		if p.DisplayName != nil {
			pr.DisplayName = *p.DisplayName
		}
		resp.Participants = append(resp.Participants, pr)
	}

	for _, s := range a.Slots {
		resp.Slots = append(resp.Slots, SlotResponse{
			SlotIndex:       s.SlotIndex,
			StartsAt:        s.StartsAt,
			DurationMinutes: s.DurationMinutes,
		})
	}

	for _, v := range a.Venues {
		resp.Venues = append(resp.Venues, VenueResponse{
			VenueIndex: v.VenueIndex,
			VenueName:  v.VenueName,
			Metadata:   v.Metadata,
		})
	}

	return resp
}

// ToNegotiationSummary maps a bare negotiation row (no collections) for the
// list endpoint.
func ToNegotiationSummary(n *entity.Negotiation) NegotiationResponse {
	resp := NegotiationResponse{
		ID:              n.ID,
		OwnerID:         n.OwnerID.String(),
		IntentCategory:  string(n.IntentCategory),
		State:           string(n.State),
		ShareSlug:       n.ShareSlug,
		ExpiresAt:       n.ExpiresAt,
		AgentMode:       n.AgentMode,
		AgentRound:      n.AgentRound,
		FinalSlotIndex:  n.FinalSlotIndex,
		FinalVenueIndex: n.FinalVenueIndex,
		CreatedAt:       n.CreatedAt,
		UpdatedAt:       n.UpdatedAt,
	}
	if n.Title != nil {
		resp.Title = *n.Title
	}
	return resp
}
