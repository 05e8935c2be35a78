package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"meetpact/core/errors"
	"meetpact/core/logger"
	"meetpact/modules/channel/dto"
	"meetpact/modules/channel/entity"
	"meetpact/modules/channel/repository"
)

// SealedFrame is an encrypted payload plus the key versions it was sealed
// under. Both versions are stored with the message so the frame stays
// decryptable after either party rotates keys.
type SealedFrame struct {
	Frame            []byte
	SenderVersion    int
	RecipientVersion int
}

type ChannelServiceInterface interface {
	GetPublicKey(ctx context.Context, userID uuid.UUID) (*dto.PublicKeyResponse, *errors.AppError)
	RotateKey(ctx context.Context, userID uuid.UUID, req *dto.RotateKeyRequest) (*dto.PublicKeyResponse, *errors.AppError)
	Seal(ctx context.Context, negotiationID string, senderID, recipientID uuid.UUID, plaintext []byte) (*SealedFrame, *errors.AppError)
	Open(ctx context.Context, negotiationID string, senderID, recipientID uuid.UUID, senderVersion, recipientVersion int, frame []byte) ([]byte, *errors.AppError)
}

type ChannelService struct {
	keys repository.KeyRepositoryInterface
	now  func() time.Time
}

func NewChannelService(keys repository.KeyRepositoryInterface) *ChannelService {
	return &ChannelService{keys: keys, now: time.Now}
}

// GetPublicKey returns the user's active public key, creating an initial key
// pair on first use.
func (s *ChannelService) GetPublicKey(ctx context.Context, userID uuid.UUID) (*dto.PublicKeyResponse, *errors.AppError) {
	key, err := s.keys.GetActiveKey(ctx, userID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load key", err)
	}
	if key == nil || key.Expired(s.now()) {
		rotated, appErr := s.RotateKey(ctx, userID, &dto.RotateKeyRequest{})
		if appErr != nil {
			return nil, appErr
		}
		return rotated, nil
	}
	return dto.ToPublicKeyResponse(key), nil
}

// RotateKey generates a fresh X25519 key pair for the user. Earlier versions
// remain stored so past message backlogs can still be opened.
func (s *ChannelService) RotateKey(ctx context.Context, userID uuid.UUID, req *dto.RotateKeyRequest) (*dto.PublicKeyResponse, *errors.AppError) {
	var expiresAt *time.Time
	if req != nil && req.TTLDays != nil {
		if *req.TTLDays < 1 {
			return nil, errors.NewAppError(errors.ErrInvalidInput, "ttl_days must be at least 1", nil)
		}
		t := s.now().AddDate(0, 0, *req.TTLDays)
		expiresAt = &t
	}

	publicKey, privateKey, err := GenerateKeyPair()
	if err != nil {
		logger.Error("ChannelService:RotateKey", err)
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to generate key pair", err)
	}

	key, err := s.keys.Rotate(ctx, userID, publicKey, privateKey, expiresAt)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to store key", err)
	}
	return dto.ToPublicKeyResponse(key), nil
}

// Seal encrypts plaintext from sender to recipient for one negotiation using
// both parties' active keys.
func (s *ChannelService) Seal(ctx context.Context, negotiationID string, senderID, recipientID uuid.UUID, plaintext []byte) (*SealedFrame, *errors.AppError) {
	sender, appErr := s.activeKey(ctx, senderID)
	if appErr != nil {
		return nil, appErr
	}
	recipient, appErr := s.activeKey(ctx, recipientID)
	if appErr != nil {
		return nil, appErr
	}

	channel, err := NewSecureChannel(sender.PrivateKey, recipient.PublicKey, negotiationID)
	if err != nil {
		logger.Error("ChannelService:Seal", err)
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to derive channel key", err)
	}

	frame, err := channel.Seal(plaintext)
	if err != nil {
		logger.Error("ChannelService:Seal", err)
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to seal payload", err)
	}

	return &SealedFrame{
		Frame:            frame,
		SenderVersion:    sender.KeyVersion,
		RecipientVersion: recipient.KeyVersion,
	}, nil
}

// Open decrypts a stored frame using the key versions stamped on it, not the
// parties' current keys.
func (s *ChannelService) Open(ctx context.Context, negotiationID string, senderID, recipientID uuid.UUID, senderVersion, recipientVersion int, frame []byte) ([]byte, *errors.AppError) {
	sender, err := s.keys.GetKey(ctx, senderID, senderVersion)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load sender key", err)
	}
	recipient, err := s.keys.GetKey(ctx, recipientID, recipientVersion)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load recipient key", err)
	}
	if sender == nil || recipient == nil {
		return nil, errors.NewAppError(errors.ErrNotFound, "key version not found", nil)
	}

	channel, cerr := NewSecureChannel(recipient.PrivateKey, sender.PublicKey, negotiationID)
	if cerr != nil {
		logger.Error("ChannelService:Open", cerr)
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to derive channel key", cerr)
	}

	plaintext, cerr := channel.Open(frame)
	if cerr != nil {
		logger.Error("ChannelService:Open", cerr)
		return nil, errors.NewAppError(errors.ErrInvalidInput, "payload failed authentication", cerr)
	}
	return plaintext, nil
}

func (s *ChannelService) activeKey(ctx context.Context, userID uuid.UUID) (*entity.UserKey, *errors.AppError) {
	key, err := s.keys.GetActiveKey(ctx, userID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load key", err)
	}
	if key == nil || key.Expired(s.now()) {
		if _, appErr := s.RotateKey(ctx, userID, &dto.RotateKeyRequest{}); appErr != nil {
			return nil, appErr
		}
		key, err = s.keys.GetActiveKey(ctx, userID)
		if err != nil || key == nil {
			return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load rotated key", err)
		}
	}
	return key, nil
}
