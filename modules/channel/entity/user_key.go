package entity

import (
	"time"

	"github.com/google/uuid"
)

// UserKey is one key-exchange key pair for a user. The agent runtime is
// custodial: it holds the private half so agents can negotiate while the
// owner is offline. KeyVersion increments on rotation; old rows are kept so
// the message backlog stays decryptable.
type UserKey struct {
	UserID     uuid.UUID  `db:"user_id" json:"user_id"`
	KeyVersion int        `db:"key_version" json:"key_version"`
	PublicKey  []byte     `db:"public_key" json:"public_key"`
	PrivateKey []byte     `db:"private_key" json:"-"`
	ExpiresAt  *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// Expired reports whether the key has passed its optional expiry.
func (k *UserKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
