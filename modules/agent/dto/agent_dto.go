package dto

import (
	"time"

	"github.com/google/uuid"

	"meetpact/modules/agent/entity"
)

// AgentMessageResponse is one log entry as shown to a participant. The
// payload is omitted: it is ciphertext and stays inside the agent runtime.
type AgentMessageResponse struct {
	ID                  int64     `json:"id"`
	NegotiationID       string    `json:"negotiation_id"`
	FromUserID          uuid.UUID `json:"from_user_id"`
	ToUserID            uuid.UUID `json:"to_user_id"`
	MessageType         string    `json:"message_type"`
	Round               int       `json:"round"`
	SenderKeyVersion    int       `json:"sender_key_version"`
	RecipientKeyVersion int       `json:"recipient_key_version"`
	PendingConfirmation bool      `json:"pending_confirmation"`
	CreatedAt           time.Time `json:"created_at"`
}

func ToAgentMessageResponse(msg *entity.AgentMessage) AgentMessageResponse {
	return AgentMessageResponse{
		ID:                  msg.ID,
		NegotiationID:       msg.NegotiationID,
		FromUserID:          msg.FromUserID,
		ToUserID:            msg.ToUserID,
		MessageType:         string(msg.MessageType),
		Round:               msg.Round,
		SenderKeyVersion:    msg.SenderKeyVersion,
		RecipientKeyVersion: msg.RecipientKeyVersion,
		PendingConfirmation: msg.PendingConfirmation,
		CreatedAt:           msg.CreatedAt,
	}
}
