package dto

import (
	"encoding/base64"
	"time"

	"github.com/google/uuid"

	"meetpact/modules/channel/entity"
)

type RotateKeyRequest struct {
	// TTLDays optionally expires the new key after this many days.
	TTLDays *int `json:"ttl_days,omitempty"`
}

type PublicKeyResponse struct {
	UserID     uuid.UUID  `json:"user_id"`
	KeyVersion int        `json:"key_version"`
	PublicKey  string     `json:"public_key"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func ToPublicKeyResponse(key *entity.UserKey) *PublicKeyResponse {
	return &PublicKeyResponse{
		UserID:     key.UserID,
		KeyVersion: key.KeyVersion,
		PublicKey:  base64.StdEncoding.EncodeToString(key.PublicKey),
		ExpiresAt:  key.ExpiresAt,
		CreatedAt:  key.CreatedAt,
	}
}
