package repository

import (
	"context"
	"database/sql"
	"time"

	"meetpact/core/database"
	"meetpact/core/logger"
	"meetpact/modules/preference/entity"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PreferenceRepository handles agent preference persistence.
type PreferenceRepository struct {
	DB database.IDatabase
}

func NewPreferenceRepository(db database.IDatabase) *PreferenceRepository {
	return &PreferenceRepository{DB: db}
}

// PreferenceRepositoryInterface defines the repository contract.
type PreferenceRepositoryInterface interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*entity.AgentPreferences, error)
	Upsert(ctx context.Context, prefs *entity.AgentPreferences) error
	UpdateWithLock(ctx context.Context, userID uuid.UUID, fn func(p *entity.AgentPreferences) error) error
}

const selectColumns = `
	SELECT user_id, patterns, autonomy, veto_rules, date_updated, created_at
	FROM agent_preferences
`

func (r *PreferenceRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*entity.AgentPreferences, error) {
	var prefs entity.AgentPreferences
	err := r.DB.GetContext(ctx, &prefs, selectColumns+` WHERE user_id = $1`, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("PreferenceRepository:GetByUserID", err)
		return nil, err
	}
	return &prefs, nil
}

func (r *PreferenceRepository) Upsert(ctx context.Context, prefs *entity.AgentPreferences) error {
	err := r.DB.ExecContext(ctx, `
		INSERT INTO agent_preferences (user_id, patterns, autonomy, veto_rules, date_updated)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET patterns = $2, autonomy = $3, veto_rules = $4, date_updated = NOW()
	`, prefs.UserID, prefs.Patterns, prefs.Autonomy, prefs.VetoRules)
	if err != nil {
		logger.Error("PreferenceRepository:Upsert", err)
	}
	return err
}

// UpdateWithLock runs fn against the row under a row lock, so two concurrent
// learning passes for the same user cannot lose updates.
func (r *PreferenceRepository) UpdateWithLock(ctx context.Context, userID uuid.UUID, fn func(p *entity.AgentPreferences) error) error {
	return r.DB.Transact(ctx, func(tx *sqlx.Tx) error {
		var prefs entity.AgentPreferences
		err := tx.GetContext(ctx, &prefs, selectColumns+` WHERE user_id = $1 FOR UPDATE`, userID)
		if err == sql.ErrNoRows {
			prefs = entity.AgentPreferences{UserID: userID, DateUpdated: time.Now()}
		} else if err != nil {
			logger.Error("PreferenceRepository:UpdateWithLock:Get", err)
			return err
		}

		if err := fn(&prefs); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO agent_preferences (user_id, patterns, autonomy, veto_rules, date_updated)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (user_id) DO UPDATE
			SET patterns = $2, autonomy = $3, veto_rules = $4, date_updated = NOW()
		`, prefs.UserID, prefs.Patterns, prefs.Autonomy, prefs.VetoRules)
		if err != nil {
			logger.Error("PreferenceRepository:UpdateWithLock:Upsert", err)
		}
		return err
	})
}
