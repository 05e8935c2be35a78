package repository

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"meetpact/core/database"
	"meetpact/core/logger"
	"meetpact/modules/negotiation/entity"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ErrDuplicateKey signals a unique-constraint violation on create. The
// service maps it to the DuplicateId protocol outcome.
var ErrDuplicateKey = errors.New("duplicate key")

// ListFilter narrows the negotiation listing. Cursor fields come from the
// decoded opaque cursor; both must be set together.
type ListFilter struct {
	State           *entity.NegotiationState
	UpdatedAfter    *time.Time
	UpdatedBefore   *time.Time
	Limit           int
	CursorUpdatedAt *time.Time
	CursorID        *string
}

// ReplyUpdate is one atomic mutation of a negotiation aggregate produced by a
// reply action. ExpectedVersion implements the optimistic-concurrency check:
// the update applies only if no concurrent writer got there first.
type ReplyUpdate struct {
	NegotiationID   string
	ExpectedVersion int
	NewState        *entity.NegotiationState
	FinalSlotIndex  *int
	FinalVenueIndex *int
	AgentRound      *int
	Participant     *entity.Participant
	AppendSlots     []entity.ProposedSlot
	AppendVenues    []entity.ProposedVenue
}

// NegotiationRepository handles negotiation aggregate persistence.
type NegotiationRepository struct {
	DB database.IDatabase
}

func NewNegotiationRepository(db database.IDatabase) *NegotiationRepository {
	return &NegotiationRepository{DB: db}
}

// NegotiationRepositoryInterface defines the repository contract.
type NegotiationRepositoryInterface interface {
	Create(ctx context.Context, agg *entity.Aggregate) error
	GetNegotiation(ctx context.Context, id string) (*entity.Negotiation, error)
	GetAggregate(ctx context.Context, id string) (*entity.Aggregate, error)
	List(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]entity.Negotiation, error)
	ApplyReply(ctx context.Context, upd *ReplyUpdate) (bool, error)
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
	MissingUsers(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
}

func (r *NegotiationRepository) Create(ctx context.Context, agg *entity.Aggregate) error {
	return r.DB.Transact(ctx, func(tx *sqlx.Tx) error {
		n := agg.Negotiation
		query := `
			INSERT INTO negotiations (id, owner_id, title, intent_category, state, share_slug,
			                          expires_at, agent_mode, agent_round, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)
			RETURNING created_at, updated_at, version
		`
		row := tx.QueryRowxContext(ctx, query,
			n.ID, n.OwnerID, n.Title, n.IntentCategory, n.State, n.ShareSlug,
			n.ExpiresAt, n.AgentMode, n.AgentRound)
		if err := row.Scan(&agg.Negotiation.CreatedAt, &agg.Negotiation.UpdatedAt, &agg.Negotiation.Version); err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				return ErrDuplicateKey
			}
			logger.Error("NegotiationRepository:Create", err)
			return err
		}

		for i := range agg.Participants {
			p := &agg.Participants[i]
			_, err := tx.ExecContext(ctx, `
				INSERT INTO participants (negotiation_id, user_id, status, display_name)
				VALUES ($1, $2, $3, $4)
			`, p.NegotiationID, p.UserID, p.Status, p.DisplayName)
			if err != nil {
				logger.Error("NegotiationRepository:Create:Participant", err)
				return err
			}
		}

		if err := insertSlots(ctx, tx, agg.Slots); err != nil {
			return err
		}
		return insertVenues(ctx, tx, agg.Venues)
	})
}

func insertSlots(ctx context.Context, tx *sqlx.Tx, slots []entity.ProposedSlot) error {
	for _, s := range slots {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO proposed_slots (negotiation_id, slot_index, starts_at, duration_minutes, proposed_by)
			VALUES ($1, $2, $3, $4, $5)
		`, s.NegotiationID, s.SlotIndex, s.StartsAt, s.DurationMinutes, s.ProposedBy)
		if err != nil {
			logger.Error("NegotiationRepository:insertSlots", err)
			return err
		}
	}
	return nil
}

func insertVenues(ctx context.Context, tx *sqlx.Tx, venues []entity.ProposedVenue) error {
	for _, v := range venues {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO proposed_venues (negotiation_id, venue_index, venue_name, metadata, proposed_by)
			VALUES ($1, $2, $3, $4, $5)
		`, v.NegotiationID, v.VenueIndex, v.VenueName, v.Metadata, v.ProposedBy)
		if err != nil {
			logger.Error("NegotiationRepository:insertVenues", err)
			return err
		}
	}
	return nil
}

func (r *NegotiationRepository) GetNegotiation(ctx context.Context, id string) (*entity.Negotiation, error) {
	query := `
		SELECT id, owner_id, title, intent_category, state, share_slug, expires_at,
		       agent_mode, agent_round, final_slot_index, final_venue_index, version,
		       created_at, updated_at
		FROM negotiations WHERE id = $1
	`
	var n entity.Negotiation
	err := r.DB.GetContext(ctx, &n, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("NegotiationRepository:GetNegotiation", err)
		return nil, err
	}
	return &n, nil
}

func (r *NegotiationRepository) GetAggregate(ctx context.Context, id string) (*entity.Aggregate, error) {
	n, err := r.GetNegotiation(ctx, id)
	if err != nil || n == nil {
		return nil, err
	}

	agg := &entity.Aggregate{Negotiation: *n}

	err = r.DB.SelectContext(ctx, &agg.Participants, `
		SELECT negotiation_id, user_id, status, display_name, selected_slot_index,
		       selected_venue_index, responded_at, created_at
		FROM participants WHERE negotiation_id = $1 ORDER BY created_at, user_id
	`, id)
	if err != nil {
		logger.Error("NegotiationRepository:GetAggregate:Participants", err)
		return nil, err
	}

	err = r.DB.SelectContext(ctx, &agg.Slots, `
		SELECT negotiation_id, slot_index, starts_at, duration_minutes, proposed_by, created_at
		FROM proposed_slots WHERE negotiation_id = $1 ORDER BY slot_index
	`, id)
	if err != nil {
		logger.Error("NegotiationRepository:GetAggregate:Slots", err)
		return nil, err
	}

	err = r.DB.SelectContext(ctx, &agg.Venues, `
		SELECT negotiation_id, venue_index, venue_name, metadata, proposed_by, created_at
		FROM proposed_venues WHERE negotiation_id = $1 ORDER BY venue_index
	`, id)
	if err != nil {
		logger.Error("NegotiationRepository:GetAggregate:Venues", err)
		return nil, err
	}

	return agg, nil
}

func (r *NegotiationRepository) List(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]entity.Negotiation, error) {
	query := `
		SELECT n.id, n.owner_id, n.title, n.intent_category, n.state, n.share_slug,
		       n.expires_at, n.agent_mode, n.agent_round, n.final_slot_index,
		       n.final_venue_index, n.version, n.created_at, n.updated_at
		FROM negotiations n
		WHERE EXISTS (
			SELECT 1 FROM participants p
			WHERE p.negotiation_id = n.id AND p.user_id = $1
		)
	`
	args := []any{userID}

	if filter.State != nil {
		args = append(args, *filter.State)
		query += ` AND n.state = $` + strconv.Itoa(len(args))
	}
	if filter.UpdatedAfter != nil {
		args = append(args, *filter.UpdatedAfter)
		query += ` AND n.updated_at > $` + strconv.Itoa(len(args))
	}
	if filter.UpdatedBefore != nil {
		args = append(args, *filter.UpdatedBefore)
		query += ` AND n.updated_at < $` + strconv.Itoa(len(args))
	}
	if filter.CursorUpdatedAt != nil && filter.CursorID != nil {
		args = append(args, *filter.CursorUpdatedAt, *filter.CursorID)
		query += ` AND (n.updated_at, n.id) < ($` + strconv.Itoa(len(args)-1) + `, $` + strconv.Itoa(len(args)) + `)`
	}

	args = append(args, filter.Limit)
	query += ` ORDER BY n.updated_at DESC, n.id DESC LIMIT $` + strconv.Itoa(len(args))

	var items []entity.Negotiation
	if err := r.DB.SelectContext(ctx, &items, query, args...); err != nil {
		logger.Error("NegotiationRepository:List", err)
		return nil, err
	}
	return items, nil
}

func (r *NegotiationRepository) ApplyReply(ctx context.Context, upd *ReplyUpdate) (bool, error) {
	applied := false
	err := r.DB.Transact(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE negotiations
			SET state = COALESCE($3, state),
			    final_slot_index = COALESCE($4, final_slot_index),
			    final_venue_index = COALESCE($5, final_venue_index),
			    agent_round = COALESCE($6, agent_round),
			    version = version + 1,
			    updated_at = NOW()
			WHERE id = $1 AND version = $2
		`, upd.NegotiationID, upd.ExpectedVersion, upd.NewState,
			upd.FinalSlotIndex, upd.FinalVenueIndex, upd.AgentRound)
		if err != nil {
			logger.Error("NegotiationRepository:ApplyReply", err)
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			// A concurrent writer advanced the version; caller re-reads and
			// decides. Not an error.
			return nil
		}

		if upd.Participant != nil {
			p := upd.Participant
			_, err := tx.ExecContext(ctx, `
				UPDATE participants
				SET status = $3, selected_slot_index = $4, selected_venue_index = $5, responded_at = $6
				WHERE negotiation_id = $1 AND user_id = $2
			`, p.NegotiationID, p.UserID, p.Status, p.SelectedSlotIndex, p.SelectedVenueIndex, p.RespondedAt)
			if err != nil {
				logger.Error("NegotiationRepository:ApplyReply:Participant", err)
				return err
			}
		}

		if err := insertSlots(ctx, tx, upd.AppendSlots); err != nil {
			return err
		}
		if err := insertVenues(ctx, tx, upd.AppendVenues); err != nil {
			return err
		}

		applied = true
		return nil
	})
	return applied, err
}

// SweepExpired transitions overdue negotiations to expired. A single
// conditional UPDATE makes the sweep idempotent by construction.
func (r *NegotiationRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.NamedExecContext(ctx, `
		UPDATE negotiations
		SET state = 'expired', version = version + 1, updated_at = NOW()
		WHERE state = 'awaiting_replies' AND expires_at < :now
	`, map[string]any{"now": now})
	if err != nil {
		logger.Error("NegotiationRepository:SweepExpired", err)
		return 0, err
	}
	return res.RowsAffected()
}

// MissingUsers returns the subset of ids with no matching user row.
func (r *NegotiationRepository) MissingUsers(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	strs := make([]string, 0, len(ids))
	for _, id := range ids {
		strs = append(strs, id.String())
	}

	var known []uuid.UUID
	err := r.DB.SelectContext(ctx, &known, `SELECT id FROM users WHERE id = ANY($1)`, pq.Array(strs))
	if err != nil {
		logger.Error("NegotiationRepository:MissingUsers", err)
		return nil, err
	}

	knownSet := make(map[uuid.UUID]struct{}, len(known))
	for _, id := range known {
		knownSet[id] = struct{}{}
	}

	var missing []uuid.UUID
	for _, id := range ids {
		if _, ok := knownSet[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
