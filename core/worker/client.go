package worker

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"

	"meetpact/core/config"
	"meetpact/core/constants"
	"meetpact/core/logger"
)

// negotiationTaskPayload routes negotiation-scoped tasks.
type negotiationTaskPayload struct {
	NegotiationID string `json:"negotiation_id"`
}

// messageTaskPayload routes one agent actor invocation.
type messageTaskPayload struct {
	MessageID int64 `json:"message_id"`
}

// Client enqueues background tasks. It satisfies the negotiation module's
// TaskEnqueuer and the agent module's ProcessEnqueuer.
type Client struct {
	client *asynq.Client
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

func (c *Client) EnqueueLearnOutcome(ctx context.Context, negotiationID string) error {
	return c.enqueueNegotiation(ctx, constants.TaskLearnOutcome, negotiationID)
}

func (c *Client) EnqueueArchive(ctx context.Context, negotiationID string) error {
	return c.enqueueNegotiation(ctx, constants.TaskArchiveMessages, negotiationID)
}

func (c *Client) EnqueueAgentKickoff(ctx context.Context, negotiationID string) error {
	return c.enqueueNegotiation(ctx, constants.TaskAgentKickoff, negotiationID)
}

func (c *Client) EnqueueProcessMessage(ctx context.Context, messageID int64) error {
	payload, err := json.Marshal(messageTaskPayload{MessageID: messageID})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, asynq.NewTask(constants.TaskProcessMessage, payload))
}

func (c *Client) enqueueNegotiation(ctx context.Context, taskName, negotiationID string) error {
	payload, err := json.Marshal(negotiationTaskPayload{NegotiationID: negotiationID})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, asynq.NewTask(taskName, payload))
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task) error {
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		logger.Error("WorkerClient:enqueue", err)
		return err
	}
	logger.Debug("WorkerClient:enqueue", "task", task.Type(), "id", info.ID, "queue", info.Queue)
	return nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
