package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"meetpact/core/errors"
	"meetpact/core/logger"
	"meetpact/modules/agent/dto"
	"meetpact/modules/agent/entity"
	"meetpact/modules/agent/repository"
	chanservice "meetpact/modules/channel/service"
	negdto "meetpact/modules/negotiation/dto"
	negentity "meetpact/modules/negotiation/entity"
	prefentity "meetpact/modules/preference/entity"
	prefservice "meetpact/modules/preference/service"
)

// NegotiationReader is the read side of the negotiation module the actor
// consumes. Implemented by the negotiation repository.
type NegotiationReader interface {
	GetAggregate(ctx context.Context, negotiationID string) (*negentity.Aggregate, error)
}

// ReplyApplier surfaces agent outcomes back into the lifecycle state machine.
// Implemented by the negotiation service.
type ReplyApplier interface {
	Reply(ctx context.Context, negotiationID string, userID uuid.UUID, req *negdto.ReplyRequest) (*negdto.NegotiationResponse, *errors.AppError)
}

// PreferenceLoader loads a user's preferences, falling back to defaults.
// Implemented by the preference service.
type PreferenceLoader interface {
	Load(ctx context.Context, userID uuid.UUID) (*prefentity.AgentPreferences, error)
}

// SecureChannel seals and opens message payloads. Implemented by the channel
// service.
type SecureChannel interface {
	Seal(ctx context.Context, negotiationID string, senderID, recipientID uuid.UUID, plaintext []byte) (*chanservice.SealedFrame, *errors.AppError)
	Open(ctx context.Context, negotiationID string, senderID, recipientID uuid.UUID, senderVersion, recipientVersion int, frame []byte) ([]byte, *errors.AppError)
}

// ProcessEnqueuer hands a stored message to the recipient's agent actor.
// Implemented by the worker client; nil-safe via noopProcessEnqueuer.
type ProcessEnqueuer interface {
	EnqueueProcessMessage(ctx context.Context, messageID int64) error
}

// Notifier delivers in-app notifications for agent events. Implemented by the
// notification module; nil-safe via noopAgentNotifier.
type Notifier interface {
	NotifyEscalated(ctx context.Context, negotiationID string, title string, userIDs []uuid.UUID)
	NotifyFinalizePending(ctx context.Context, negotiationID string, title string, userIDs []uuid.UUID)
}

// AgentService drives the autonomous exchange: one actor invocation per
// inbound message, at most one outbound message per inbound.
type AgentService struct {
	messages     repository.MessageRepositoryInterface
	negotiations NegotiationReader
	replies      ReplyApplier
	preferences  PreferenceLoader
	channel      SecureChannel
	engine       *Engine
	enqueuer     ProcessEnqueuer
	notifier     Notifier
}

type AgentServiceInterface interface {
	Kickoff(ctx context.Context, negotiationID string) *errors.AppError
	ProcessMessage(ctx context.Context, messageID int64) *errors.AppError
	ConfirmFinalize(ctx context.Context, negotiationID string, userID uuid.UUID) (*negdto.NegotiationResponse, *errors.AppError)
	ListMessages(ctx context.Context, negotiationID string, userID uuid.UUID) ([]dto.AgentMessageResponse, *errors.AppError)
}

func NewAgentService(
	messages repository.MessageRepositoryInterface,
	negotiations NegotiationReader,
	replies ReplyApplier,
	preferences PreferenceLoader,
	channel SecureChannel,
	engine *Engine,
	enqueuer ProcessEnqueuer,
	notifier Notifier,
) *AgentService {
	if enqueuer == nil {
		enqueuer = noopProcessEnqueuer{}
	}
	if notifier == nil {
		notifier = noopAgentNotifier{}
	}
	return &AgentService{
		messages:     messages,
		negotiations: negotiations,
		replies:      replies,
		preferences:  preferences,
		channel:      channel,
		engine:       engine,
		enqueuer:     enqueuer,
		notifier:     notifier,
	}
}

// Kickoff opens the exchange for a fresh agent-mode negotiation: the
// organizer's agent proposes the first slot/venue pair to every invitee.
func (s *AgentService) Kickoff(ctx context.Context, negotiationID string) *errors.AppError {
	agg, appErr := s.liveAggregate(ctx, negotiationID)
	if appErr != nil || agg == nil {
		return appErr
	}

	payload := entity.Payload{SlotIndex: intPtr(0)}
	if len(agg.Venues) > 0 {
		payload.VenueIndex = intPtr(0)
	}

	for _, p := range agg.Participants {
		if p.UserID == agg.Negotiation.OwnerID {
			continue
		}
		if _, appErr := s.emit(ctx, agg, agg.Negotiation.OwnerID, p.UserID,
			entity.MessageProposal, 1, payload, true); appErr != nil {
			return appErr
		}
	}
	return nil
}

// ProcessMessage runs one agent reaction: the recipient's agent evaluates the
// inbound message and emits at most one outbound message. A terminal or
// missing negotiation makes this a no-op rather than an error, so stale
// queue entries drain harmlessly after cancel or expiry.
func (s *AgentService) ProcessMessage(ctx context.Context, messageID int64) *errors.AppError {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to load message", err)
	}
	if msg == nil {
		return errors.NewAppError(errors.ErrNotFound, "message not found", nil)
	}

	agg, appErr := s.liveAggregate(ctx, msg.NegotiationID)
	if appErr != nil || agg == nil {
		return appErr
	}
	if agg.Participant(msg.ToUserID) == nil {
		return errors.NewAppError(errors.ErrNotAParticipant, "recipient is not a participant", nil)
	}

	switch msg.MessageType {
	case entity.MessageProposal, entity.MessageCounter:
		return s.react(ctx, agg, msg)
	case entity.MessageAccept:
		return s.handleAccept(ctx, agg, msg)
	case entity.MessageFinalize:
		return s.applyFinalizeFor(ctx, agg, msg, msg.ToUserID)
	case entity.MessageEscalate:
		s.notifier.NotifyEscalated(ctx, agg.Negotiation.ID, title(agg), []uuid.UUID{msg.ToUserID})
		return nil
	case entity.MessageReject:
		return nil
	default:
		return errors.NewAppError(errors.ErrInvalidInput,
			fmt.Sprintf("unknown message type %q", msg.MessageType), nil)
	}
}

// react evaluates an inbound proposal or counter and emits the decision.
func (s *AgentService) react(ctx context.Context, agg *negentity.Aggregate, msg *entity.AgentMessage) *errors.AppError {
	payload, appErr := s.open(ctx, msg)
	if appErr != nil {
		return appErr
	}

	prefs, proposal, appErr := s.evaluationInput(ctx, agg, msg.ToUserID, msg.FromUserID, payload)
	if appErr != nil {
		return appErr
	}

	decision := s.engine.Evaluate(ctx, EvaluateInput{
		Proposal:   proposal,
		Prefs:      prefs,
		Round:      msg.Round,
		SlotIndex:  payload.SlotIndex,
		VenueIndex: payload.VenueIndex,
		UsedHours:  usedHours(agg),
		UsedVenues: usedVenues(agg),
	})

	switch decision.Type {
	case entity.MessageAccept:
		out := entity.Payload{SlotIndex: decision.SlotIndex, VenueIndex: decision.VenueIndex}
		_, appErr = s.emit(ctx, agg, msg.ToUserID, msg.FromUserID, entity.MessageAccept, msg.Round, out, true)
		return appErr

	case entity.MessageCounter:
		return s.emitCounter(ctx, agg, msg, payload, decision)

	default:
		return s.emitEscalate(ctx, agg, msg.ToUserID, msg.FromUserID, msg.Round, decision.Reason)
	}
}

// emitCounter appends the generated candidates to the negotiation through the
// state machine, then sends the counter message referencing the new indices.
func (s *AgentService) emitCounter(ctx context.Context, agg *negentity.Aggregate, msg *entity.AgentMessage, inbound *entity.Payload, decision Decision) *errors.AppError {
	nextSlot := agg.NextSlotIndex()
	nextVenue := agg.NextVenueIndex()

	req := &negdto.ReplyRequest{Action: "counter"}
	for _, c := range decision.NewSlots {
		req.CounterSlots = append(req.CounterSlots, negdto.SlotInput{
			StartsAt:        c.StartsAt,
			DurationMinutes: c.DurationMinutes,
		})
	}
	for _, c := range decision.NewVenues {
		req.CounterVenues = append(req.CounterVenues, negdto.VenueInput{VenueName: c.VenueName})
	}
	if _, appErr := s.replies.Reply(ctx, agg.Negotiation.ID, msg.ToUserID, req); appErr != nil {
		return appErr
	}

	// A venue-only counter keeps the inbound slot on the table so the payload
	// always names a scorable slot.
	out := entity.Payload{NewSlots: decision.NewSlots, NewVenues: decision.NewVenues}
	if len(decision.NewSlots) > 0 {
		out.SlotIndex = intPtr(nextSlot)
	} else {
		out.SlotIndex = inbound.SlotIndex
	}
	if len(decision.NewVenues) > 0 {
		out.VenueIndex = intPtr(nextVenue)
	} else {
		out.VenueIndex = inbound.VenueIndex
	}

	_, appErr := s.emit(ctx, agg, msg.ToUserID, msg.FromUserID, entity.MessageCounter, msg.Round+1, out, true)
	return appErr
}

// handleAccept checks for convergence: when both agents have accepted the
// same slot/venue pair, the agent holding the lower round-order emits
// finalize. require_final_confirmation on either side holds the finalize for
// a human confirmation instead of auto-applying it.
func (s *AgentService) handleAccept(ctx context.Context, agg *negentity.Aggregate, msg *entity.AgentMessage) *errors.AppError {
	payload, appErr := s.open(ctx, msg)
	if appErr != nil {
		return appErr
	}

	mine, appErr := s.ownAccept(ctx, agg, msg.ToUserID, payload)
	if appErr != nil {
		return appErr
	}
	if mine == nil {
		// We have not accepted this pair yet; evaluate it like a proposal.
		return s.react(ctx, agg, msg)
	}
	if mine.Round > msg.Round {
		// The peer holds the lower round-order and will emit finalize.
		return nil
	}

	hold, appErr := s.requiresConfirmation(ctx, msg.FromUserID, msg.ToUserID)
	if appErr != nil {
		return appErr
	}

	out := entity.Payload{SlotIndex: payload.SlotIndex, VenueIndex: payload.VenueIndex}
	stored, appErr := s.emit(ctx, agg, msg.ToUserID, msg.FromUserID, entity.MessageFinalize, msg.Round, out, !hold)
	if appErr != nil {
		return appErr
	}

	if hold {
		s.notifier.NotifyFinalizePending(ctx, agg.Negotiation.ID, title(agg), participantIDs(agg))
		return nil
	}
	return s.applyFinalizeFor(ctx, agg, stored, msg.ToUserID)
}

// applyFinalizeFor surfaces a finalize into the state machine as an accept on
// behalf of the given user. Organizer consent is implicit in having created
// the negotiation, so only invitee accepts are applied.
func (s *AgentService) applyFinalizeFor(ctx context.Context, agg *negentity.Aggregate, msg *entity.AgentMessage, userID uuid.UUID) *errors.AppError {
	if userID == agg.Negotiation.OwnerID {
		return nil
	}
	p := agg.Participant(userID)
	if p == nil || p.Status == negentity.ParticipantStatusAccepted {
		return nil
	}

	payload, appErr := s.open(ctx, msg)
	if appErr != nil {
		return appErr
	}

	_, appErr = s.replies.Reply(ctx, agg.Negotiation.ID, userID, &negdto.ReplyRequest{
		Action:             "accept",
		SelectedSlotIndex:  payload.SlotIndex,
		SelectedVenueIndex: payload.VenueIndex,
	})
	if appErr != nil && appErr.Code == errors.ErrInvalidStateTransition {
		// The negotiation closed underneath us; the finalize is moot.
		return nil
	}
	return appErr
}

// ConfirmFinalize applies a held finalize after a human approves it.
func (s *AgentService) ConfirmFinalize(ctx context.Context, negotiationID string, userID uuid.UUID) (*negdto.NegotiationResponse, *errors.AppError) {
	agg, err := s.negotiations.GetAggregate(ctx, negotiationID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load negotiation", err)
	}
	if agg == nil || agg.Participant(userID) == nil {
		return nil, errors.NewAppError(errors.ErrNotFound, "negotiation not found", nil)
	}

	pending, err := s.messages.PendingFinalize(ctx, negotiationID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load pending finalize", err)
	}
	if pending == nil {
		return nil, errors.NewAppError(errors.ErrNotFound, "no finalize is pending confirmation", nil)
	}

	for _, party := range []uuid.UUID{pending.FromUserID, pending.ToUserID} {
		if appErr := s.applyFinalizeFor(ctx, agg, pending, party); appErr != nil {
			return nil, appErr
		}
	}
	if err := s.messages.ClearPending(ctx, pending.ID); err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to clear pending finalize", err)
	}

	refreshed, err := s.negotiations.GetAggregate(ctx, negotiationID)
	if err != nil || refreshed == nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to reload negotiation", err)
	}
	return negdto.ToNegotiationResponse(refreshed), nil
}

// ListMessages returns the exchange log metadata for a participant. Payloads
// stay ciphertext and are not included.
func (s *AgentService) ListMessages(ctx context.Context, negotiationID string, userID uuid.UUID) ([]dto.AgentMessageResponse, *errors.AppError) {
	agg, err := s.negotiations.GetAggregate(ctx, negotiationID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load negotiation", err)
	}
	if agg == nil || agg.Participant(userID) == nil {
		return nil, errors.NewAppError(errors.ErrNotFound, "negotiation not found", nil)
	}

	messages, err := s.messages.ListByNegotiation(ctx, negotiationID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to list messages", err)
	}

	out := make([]dto.AgentMessageResponse, 0, len(messages))
	for i := range messages {
		out = append(out, dto.ToAgentMessageResponse(&messages[i]))
	}
	return out, nil
}

// ===================== internals =====================

// liveAggregate loads the aggregate; nil with nil error means the negotiation
// is gone or closed and the caller should no-op.
func (s *AgentService) liveAggregate(ctx context.Context, negotiationID string) (*negentity.Aggregate, *errors.AppError) {
	agg, err := s.negotiations.GetAggregate(ctx, negotiationID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load negotiation", err)
	}
	if agg == nil || agg.Negotiation.State.IsTerminal() || !agg.Negotiation.AgentMode {
		return nil, nil
	}
	return agg, nil
}

func (s *AgentService) evaluationInput(ctx context.Context, agg *negentity.Aggregate, recipientID, senderID uuid.UUID, payload *entity.Payload) (*prefentity.AgentPreferences, prefservice.Proposal, *errors.AppError) {
	prefs, err := s.preferences.Load(ctx, recipientID)
	if err != nil {
		return nil, prefservice.Proposal{}, errors.NewAppError(errors.ErrInternalServer, "failed to load preferences", err)
	}

	if payload.SlotIndex == nil {
		return nil, prefservice.Proposal{}, errors.NewAppError(errors.ErrInvalidInput, "message payload names no slot", nil)
	}
	slot := slotByIndex(agg, *payload.SlotIndex)
	if slot == nil {
		return nil, prefservice.Proposal{}, errors.NewAppError(errors.ErrInvalidInput, "message payload names an unknown slot", nil)
	}

	proposal := prefservice.Proposal{
		StartsAt:        slot.StartsAt,
		DurationMinutes: slot.DurationMinutes,
		Category:        string(agg.Negotiation.IntentCategory),
		CounterpartID:   &senderID,
	}
	if payload.VenueIndex != nil {
		if venue := venueByIndex(agg, *payload.VenueIndex); venue != nil {
			proposal.VenueID = &venue.VenueName
		} else {
			return nil, prefservice.Proposal{}, errors.NewAppError(errors.ErrInvalidInput, "message payload names an unknown venue", nil)
		}
	}
	return prefs, proposal, nil
}

// ownAccept finds the recipient's own prior accept of the same pair, if any.
func (s *AgentService) ownAccept(ctx context.Context, agg *negentity.Aggregate, userID uuid.UUID, pair *entity.Payload) (*entity.AgentMessage, *errors.AppError) {
	log, err := s.messages.ListByNegotiation(ctx, agg.Negotiation.ID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load message log", err)
	}

	for i := len(log) - 1; i >= 0; i-- {
		m := &log[i]
		if m.MessageType != entity.MessageAccept || m.FromUserID != userID {
			continue
		}
		p, appErr := s.open(ctx, m)
		if appErr != nil {
			return nil, appErr
		}
		if samePair(p, pair) {
			return m, nil
		}
	}
	return nil, nil
}

func (s *AgentService) requiresConfirmation(ctx context.Context, users ...uuid.UUID) (bool, *errors.AppError) {
	for _, id := range users {
		prefs, err := s.preferences.Load(ctx, id)
		if err != nil {
			return false, errors.NewAppError(errors.ErrInternalServer, "failed to load preferences", err)
		}
		if prefs.Autonomy.RequireFinalConfirmation {
			return true, nil
		}
	}
	return false, nil
}

// emit seals and stores one outbound message; when enqueue is set, the
// recipient's actor is scheduled to react to it.
func (s *AgentService) emit(ctx context.Context, agg *negentity.Aggregate, from, to uuid.UUID, msgType entity.MessageType, round int, payload entity.Payload, enqueue bool) (*entity.AgentMessage, *errors.AppError) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to encode payload", err)
	}

	sealed, appErr := s.channel.Seal(ctx, agg.Negotiation.ID, from, to, plaintext)
	if appErr != nil {
		return nil, appErr
	}

	msg := &entity.AgentMessage{
		NegotiationID:       agg.Negotiation.ID,
		FromUserID:          from,
		ToUserID:            to,
		MessageType:         msgType,
		Round:               round,
		Payload:             sealed.Frame,
		SenderKeyVersion:    sealed.SenderVersion,
		RecipientKeyVersion: sealed.RecipientVersion,
		PendingConfirmation: msgType == entity.MessageFinalize && !enqueue,
	}

	stored, err := s.messages.Append(ctx, msg)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to store message", err)
	}

	if enqueue {
		if err := s.enqueuer.EnqueueProcessMessage(ctx, stored.ID); err != nil {
			logger.Error("AgentService:emit:EnqueueProcessMessage", err)
		}
	}
	return stored, nil
}

func (s *AgentService) emitEscalate(ctx context.Context, agg *negentity.Aggregate, from, to uuid.UUID, round int, reason string) *errors.AppError {
	_, appErr := s.emit(ctx, agg, from, to, entity.MessageEscalate, round, entity.Payload{Reason: reason}, true)
	if appErr != nil {
		return appErr
	}
	s.notifier.NotifyEscalated(ctx, agg.Negotiation.ID, title(agg), []uuid.UUID{from})
	return nil
}

func (s *AgentService) open(ctx context.Context, msg *entity.AgentMessage) (*entity.Payload, *errors.AppError) {
	plaintext, appErr := s.channel.Open(ctx, msg.NegotiationID, msg.FromUserID, msg.ToUserID,
		msg.SenderKeyVersion, msg.RecipientKeyVersion, msg.Payload)
	if appErr != nil {
		return nil, appErr
	}

	var payload entity.Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "malformed message payload", err)
	}
	return &payload, nil
}

func samePair(a, b *entity.Payload) bool {
	return intPtrEq(a.SlotIndex, b.SlotIndex) && intPtrEq(a.VenueIndex, b.VenueIndex)
}

func intPtrEq(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func slotByIndex(agg *negentity.Aggregate, index int) *negentity.ProposedSlot {
	for i := range agg.Slots {
		if agg.Slots[i].SlotIndex == index {
			return &agg.Slots[i]
		}
	}
	return nil
}

func venueByIndex(agg *negentity.Aggregate, index int) *negentity.ProposedVenue {
	for i := range agg.Venues {
		if agg.Venues[i].VenueIndex == index {
			return &agg.Venues[i]
		}
	}
	return nil
}

func usedHours(agg *negentity.Aggregate) map[int]bool {
	used := make(map[int]bool, len(agg.Slots))
	for _, s := range agg.Slots {
		used[s.StartsAt.Hour()] = true
	}
	return used
}

func usedVenues(agg *negentity.Aggregate) map[string]bool {
	used := make(map[string]bool, len(agg.Venues))
	for _, v := range agg.Venues {
		used[v.VenueName] = true
	}
	return used
}

func participantIDs(agg *negentity.Aggregate) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(agg.Participants))
	for _, p := range agg.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

func title(agg *negentity.Aggregate) string {
	if agg.Negotiation.Title != nil {
		return *agg.Negotiation.Title
	}
	return string(agg.Negotiation.IntentCategory)
}

func intPtr(v int) *int { return &v }

type noopProcessEnqueuer struct{}

func (noopProcessEnqueuer) EnqueueProcessMessage(context.Context, int64) error { return nil }

type noopAgentNotifier struct{}

func (noopAgentNotifier) NotifyEscalated(context.Context, string, string, []uuid.UUID)       {}
func (noopAgentNotifier) NotifyFinalizePending(context.Context, string, string, []uuid.UUID) {}
