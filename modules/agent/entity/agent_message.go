package entity

import (
	"time"

	"github.com/google/uuid"
)

// MessageType classifies one directed message in an agent-to-agent exchange.
type MessageType string

const (
	MessageProposal MessageType = "proposal"
	MessageCounter  MessageType = "counter"
	MessageAccept   MessageType = "accept"
	MessageReject   MessageType = "reject"
	MessageEscalate MessageType = "escalate"
	MessageFinalize MessageType = "finalize"
)

func ValidMessageType(t MessageType) bool {
	switch t {
	case MessageProposal, MessageCounter, MessageAccept, MessageReject, MessageEscalate, MessageFinalize:
		return true
	}
	return false
}

// AgentMessage is one row of the append-only agent exchange log. Payload is
// ciphertext; the repository never sees plaintext. Sender and recipient key
// versions are stamped at send time so the backlog stays decryptable after
// either party rotates keys. Ordering within a negotiation is round, then id.
type AgentMessage struct {
	ID                  int64       `json:"id" db:"id"`
	NegotiationID       string      `json:"negotiation_id" db:"negotiation_id"`
	FromUserID          uuid.UUID   `json:"from_user_id" db:"from_user_id"`
	ToUserID            uuid.UUID   `json:"to_user_id" db:"to_user_id"`
	MessageType         MessageType `json:"message_type" db:"message_type"`
	Round               int         `json:"round" db:"round"`
	Payload             []byte      `json:"-" db:"payload"`
	SenderKeyVersion    int         `json:"sender_key_version" db:"sender_key_version"`
	RecipientKeyVersion int         `json:"recipient_key_version" db:"recipient_key_version"`
	// PendingConfirmation holds a finalize message that is waiting for a
	// human confirmation before it is applied to the negotiation.
	PendingConfirmation bool      `json:"pending_confirmation" db:"pending_confirmation"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
}
