package repository

import (
	"context"
	"database/sql"

	"meetpact/core/database"
	"meetpact/core/logger"
	"meetpact/modules/agent/entity"
)

type MessageRepositoryInterface interface {
	// Append stores one message and returns it with id and created_at set.
	Append(ctx context.Context, msg *entity.AgentMessage) (*entity.AgentMessage, error)
	// GetByID returns one message, or (nil, nil) when absent.
	GetByID(ctx context.Context, id int64) (*entity.AgentMessage, error)
	// ListByNegotiation returns the full log ordered by round then insertion.
	ListByNegotiation(ctx context.Context, negotiationID string) ([]entity.AgentMessage, error)
	// PendingFinalize returns the held finalize for a negotiation, or
	// (nil, nil) when none is pending.
	PendingFinalize(ctx context.Context, negotiationID string) (*entity.AgentMessage, error)
	// ClearPending marks a held finalize as applied.
	ClearPending(ctx context.Context, id int64) error
}

type MessageRepository struct {
	db database.IDatabase
}

func NewMessageRepository(db database.IDatabase) MessageRepositoryInterface {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Append(ctx context.Context, msg *entity.AgentMessage) (*entity.AgentMessage, error) {
	query := `
		INSERT INTO agent_messages (
			negotiation_id, from_user_id, to_user_id, message_type, round,
			payload, sender_key_version, recipient_key_version, pending_confirmation
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		msg.NegotiationID, msg.FromUserID, msg.ToUserID, msg.MessageType, msg.Round,
		msg.Payload, msg.SenderKeyVersion, msg.RecipientKeyVersion, msg.PendingConfirmation,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		logger.Error("MessageRepository:Append", err)
		return nil, err
	}
	return msg, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*entity.AgentMessage, error) {
	query := `
		SELECT id, negotiation_id, from_user_id, to_user_id, message_type, round,
		       payload, sender_key_version, recipient_key_version,
		       pending_confirmation, created_at
		FROM agent_messages
		WHERE id = $1`

	var msg entity.AgentMessage
	err := r.db.GetContext(ctx, &msg, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		logger.Error("MessageRepository:GetByID", err)
		return nil, err
	}
	return &msg, nil
}

func (r *MessageRepository) ListByNegotiation(ctx context.Context, negotiationID string) ([]entity.AgentMessage, error) {
	query := `
		SELECT id, negotiation_id, from_user_id, to_user_id, message_type, round,
		       payload, sender_key_version, recipient_key_version,
		       pending_confirmation, created_at
		FROM agent_messages
		WHERE negotiation_id = $1
		ORDER BY round ASC, id ASC`

	var messages []entity.AgentMessage
	if err := r.db.SelectContext(ctx, &messages, query, negotiationID); err != nil {
		logger.Error("MessageRepository:ListByNegotiation", err)
		return nil, err
	}
	return messages, nil
}

func (r *MessageRepository) PendingFinalize(ctx context.Context, negotiationID string) (*entity.AgentMessage, error) {
	query := `
		SELECT id, negotiation_id, from_user_id, to_user_id, message_type, round,
		       payload, sender_key_version, recipient_key_version,
		       pending_confirmation, created_at
		FROM agent_messages
		WHERE negotiation_id = $1 AND message_type = $2 AND pending_confirmation
		ORDER BY id DESC
		LIMIT 1`

	var msg entity.AgentMessage
	err := r.db.GetContext(ctx, &msg, query, negotiationID, entity.MessageFinalize)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		logger.Error("MessageRepository:PendingFinalize", err)
		return nil, err
	}
	return &msg, nil
}

func (r *MessageRepository) ClearPending(ctx context.Context, id int64) error {
	err := r.db.ExecContext(ctx,
		`UPDATE agent_messages SET pending_confirmation = FALSE WHERE id = $1`, id)
	if err != nil {
		logger.Error("MessageRepository:ClearPending", err)
	}
	return err
}
