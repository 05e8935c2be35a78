package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"meetpact/core/database"
	"meetpact/core/logger"
	"meetpact/modules/channel/entity"
)

type KeyRepositoryInterface interface {
	// GetActiveKey returns the highest-version key for the user, or (nil, nil)
	// when the user has never registered one.
	GetActiveKey(ctx context.Context, userID uuid.UUID) (*entity.UserKey, error)
	// GetKey returns a specific key version, or (nil, nil) when absent. Old
	// versions stay resolvable so archived message backlogs can be decrypted.
	GetKey(ctx context.Context, userID uuid.UUID, version int) (*entity.UserKey, error)
	// Rotate inserts a new key pair one version above the user's current
	// active key and returns the stored row.
	Rotate(ctx context.Context, userID uuid.UUID, publicKey, privateKey []byte, expiresAt *time.Time) (*entity.UserKey, error)
}

type KeyRepository struct {
	db database.IDatabase
}

func NewKeyRepository(db database.IDatabase) KeyRepositoryInterface {
	return &KeyRepository{db: db}
}

func (r *KeyRepository) GetActiveKey(ctx context.Context, userID uuid.UUID) (*entity.UserKey, error) {
	query := `
		SELECT user_id, key_version, public_key, private_key, expires_at, created_at
		FROM user_keys
		WHERE user_id = $1
		ORDER BY key_version DESC
		LIMIT 1`

	var key entity.UserKey
	err := r.db.GetContext(ctx, &key, query, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		logger.Error("KeyRepository:GetActiveKey", err)
		return nil, err
	}
	return &key, nil
}

func (r *KeyRepository) GetKey(ctx context.Context, userID uuid.UUID, version int) (*entity.UserKey, error) {
	query := `
		SELECT user_id, key_version, public_key, private_key, expires_at, created_at
		FROM user_keys
		WHERE user_id = $1 AND key_version = $2`

	var key entity.UserKey
	err := r.db.GetContext(ctx, &key, query, userID, version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		logger.Error("KeyRepository:GetKey", err)
		return nil, err
	}
	return &key, nil
}

func (r *KeyRepository) Rotate(ctx context.Context, userID uuid.UUID, publicKey, privateKey []byte, expiresAt *time.Time) (*entity.UserKey, error) {
	var key entity.UserKey

	// The version read and insert run in one transaction so two concurrent
	// rotations cannot claim the same version.
	err := r.db.Transact(ctx, func(tx *sqlx.Tx) error {
		var current int
		err := tx.GetContext(ctx, &current, `
			SELECT key_version
			FROM user_keys
			WHERE user_id = $1
			ORDER BY key_version DESC
			LIMIT 1
			FOR UPDATE`, userID)
		if err == sql.ErrNoRows {
			current = 0
		} else if err != nil {
			return err
		}

		return tx.GetContext(ctx, &key, `
			INSERT INTO user_keys (user_id, key_version, public_key, private_key, expires_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING user_id, key_version, public_key, private_key, expires_at, created_at`,
			userID, current+1, publicKey, privateKey, expiresAt)
	})
	if err != nil {
		logger.Error("KeyRepository:Rotate", err)
		return nil, err
	}
	return &key, nil
}
