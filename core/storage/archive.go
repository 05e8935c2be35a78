package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"meetpact/core/config"
	"meetpact/core/logger"
	agententity "meetpact/modules/agent/entity"
)

// Archiver exports the encrypted message backlog of a closed negotiation to
// object storage. Payloads are already ciphertext frames, so only ciphertext
// crosses the process boundary.
type Archiver struct {
	client *s3.Client
	bucket string
}

// NewArchiver returns nil when archiving is disabled in config.
func NewArchiver(cfg config.StorageConfig) *Archiver {
	if !cfg.Enabled {
		return nil
	}

	opts := s3.Options{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}

	return &Archiver{
		client: s3.New(opts),
		bucket: cfg.Bucket,
	}
}

// archiveRecord is one JSONL line. Payload stays the sealed frame; the JSON
// encoder base64s it.
type archiveRecord struct {
	ID                  int64     `json:"id"`
	FromUserID          uuid.UUID `json:"from_user_id"`
	ToUserID            uuid.UUID `json:"to_user_id"`
	MessageType         string    `json:"message_type"`
	Round               int       `json:"round"`
	Payload             []byte    `json:"payload"`
	SenderKeyVersion    int       `json:"sender_key_version"`
	RecipientKeyVersion int       `json:"recipient_key_version"`
	CreatedAt           time.Time `json:"created_at"`
}

// ArchiveMessages writes the full exchange log for one negotiation as
// newline-delimited JSON under negotiations/<id>/messages.jsonl. Re-running
// for the same negotiation overwrites the object with identical content, so
// the archive task is idempotent.
func (a *Archiver) ArchiveMessages(ctx context.Context, negotiationID string, messages []agententity.AgentMessage) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range messages {
		m := &messages[i]
		record := archiveRecord{
			ID:                  m.ID,
			FromUserID:          m.FromUserID,
			ToUserID:            m.ToUserID,
			MessageType:         string(m.MessageType),
			Round:               m.Round,
			Payload:             m.Payload,
			SenderKeyVersion:    m.SenderKeyVersion,
			RecipientKeyVersion: m.RecipientKeyVersion,
			CreatedAt:           m.CreatedAt,
		}
		if err := enc.Encode(record); err != nil {
			return fmt.Errorf("encoding message %d: %w", m.ID, err)
		}
	}

	key := fmt.Sprintf("negotiations/%s/messages.jsonl", negotiationID)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		logger.Error("Archiver:ArchiveMessages", err)
		return err
	}

	logger.Info("Archiver:ArchiveMessages", "negotiation_id", negotiationID, "messages", len(messages), "key", key)
	return nil
}
