package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"meetpact/core/config"
	"meetpact/core/constants"
	"meetpact/core/errors"
	"meetpact/core/logger"
	"meetpact/core/storage"
	agentrepo "meetpact/modules/agent/repository"
	agentservice "meetpact/modules/agent/service"
	negservice "meetpact/modules/negotiation/service"
	prefservice "meetpact/modules/preference/service"
)

// Handlers are the services the worker dispatches tasks to. Archiver may be
// nil when object storage is disabled; the archive task then no-ops.
type Handlers struct {
	Negotiations negservice.NegotiationServiceInterface
	Preferences  *prefservice.PreferenceService
	Agents       agentservice.AgentServiceInterface
	Messages     agentrepo.MessageRepositoryInterface
	Archiver     *storage.Archiver
}

// Server runs the asynq worker and the periodic scheduler.
type Server struct {
	srv       *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
}

func NewServer(cfg config.RedisConfig, h Handlers) *Server {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 10,
		Queues:      map[string]int{"default": 1},
	})

	scheduler := asynq.NewScheduler(redisOpt, nil)

	mux := asynq.NewServeMux()
	mux.HandleFunc(constants.TaskSweepExpired, func(ctx context.Context, _ *asynq.Task) error {
		_, appErr := h.Negotiations.SweepExpired(ctx)
		return unwrap(appErr)
	})
	mux.HandleFunc(constants.TaskLearnOutcome, func(ctx context.Context, t *asynq.Task) error {
		id, err := negotiationID(t)
		if err != nil {
			return err
		}
		return unwrap(h.Preferences.LearnFromNegotiation(ctx, id))
	})
	mux.HandleFunc(constants.TaskAgentKickoff, func(ctx context.Context, t *asynq.Task) error {
		id, err := negotiationID(t)
		if err != nil {
			return err
		}
		return unwrap(h.Agents.Kickoff(ctx, id))
	})
	mux.HandleFunc(constants.TaskProcessMessage, func(ctx context.Context, t *asynq.Task) error {
		var payload messageTaskPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("malformed task payload: %w", asynq.SkipRetry)
		}
		return unwrap(h.Agents.ProcessMessage(ctx, payload.MessageID))
	})
	mux.HandleFunc(constants.TaskArchiveMessages, func(ctx context.Context, t *asynq.Task) error {
		if h.Archiver == nil {
			return nil
		}
		id, err := negotiationID(t)
		if err != nil {
			return err
		}
		messages, err := h.Messages.ListByNegotiation(ctx, id)
		if err != nil {
			return err
		}
		if len(messages) == 0 {
			return nil
		}
		return h.Archiver.ArchiveMessages(ctx, id, messages)
	})

	return &Server{srv: srv, scheduler: scheduler, mux: mux}
}

// Start registers the periodic sweep and runs the worker loop. Blocks until
// Shutdown.
func (s *Server) Start() error {
	interval := fmt.Sprintf("@every %s", constants.SweepInterval)
	if _, err := s.scheduler.Register(interval, asynq.NewTask(constants.TaskSweepExpired, nil)); err != nil {
		return fmt.Errorf("registering sweep: %w", err)
	}
	if err := s.scheduler.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	return s.srv.Run(s.mux)
}

func (s *Server) Shutdown() {
	s.scheduler.Shutdown()
	s.srv.Shutdown()
}

func negotiationID(t *asynq.Task) (string, error) {
	var payload negotiationTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return "", fmt.Errorf("malformed task payload: %w", asynq.SkipRetry)
	}
	return payload.NegotiationID, nil
}

// unwrap converts a service AppError into a task result: not-found and
// invalid-transition outcomes drop the task (the negotiation moved on),
// anything else retries.
func unwrap(appErr *errors.AppError) error {
	if appErr == nil {
		return nil
	}
	switch appErr.Code {
	case errors.ErrNotFound, errors.ErrInvalidStateTransition, errors.ErrInvalidInput:
		logger.Warn("Worker:drop", "code", appErr.Code, "message", appErr.Message)
		return fmt.Errorf("%s: %w", appErr.Message, asynq.SkipRetry)
	default:
		return appErr
	}
}
