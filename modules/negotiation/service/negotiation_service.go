package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"meetpact/core/constants"
	"meetpact/core/errors"
	"meetpact/core/logger"
	"meetpact/core/utils"
	"meetpact/modules/negotiation/dto"
	"meetpact/modules/negotiation/entity"
	"meetpact/modules/negotiation/repository"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// replyRetries bounds the optimistic-concurrency retry loop. Two passes are
// enough for any realistic contention on a single negotiation; the third is
// slack.
const replyRetries = 3

// Notifier delivers in-app notifications for lifecycle events. Implemented by
// the notification module; nil-safe via the noopNotifier.
type Notifier interface {
	NotifyInvited(ctx context.Context, negotiationID string, title string, userIDs []uuid.UUID)
	NotifyConfirmed(ctx context.Context, negotiationID string, title string, userIDs []uuid.UUID)
	NotifyCancelled(ctx context.Context, negotiationID string, title string, userIDs []uuid.UUID)
}

// TaskEnqueuer schedules background work on terminal transitions. Implemented
// by the worker client.
type TaskEnqueuer interface {
	EnqueueLearnOutcome(ctx context.Context, negotiationID string) error
	EnqueueArchive(ctx context.Context, negotiationID string) error
	EnqueueAgentKickoff(ctx context.Context, negotiationID string) error
}

// NegotiationService owns the negotiation lifecycle state machine.
type NegotiationService struct {
	repo     repository.NegotiationRepositoryInterface
	notifier Notifier
	tasks    TaskEnqueuer
	now      func() time.Time
}

// NegotiationServiceInterface defines the service contract.
type NegotiationServiceInterface interface {
	Create(ctx context.Context, ownerID uuid.UUID, req *dto.CreateNegotiationRequest) (*dto.NegotiationResponse, *errors.AppError)
	Reply(ctx context.Context, negotiationID string, userID uuid.UUID, req *dto.ReplyRequest) (*dto.NegotiationResponse, *errors.AppError)
	Get(ctx context.Context, negotiationID string, userID uuid.UUID) (*dto.NegotiationResponse, *errors.AppError)
	List(ctx context.Context, userID uuid.UUID, q *dto.ListNegotiationsQuery) (*dto.PaginatedNegotiationResponse, *errors.AppError)
	Cancel(ctx context.Context, negotiationID string, userID uuid.UUID) (*dto.NegotiationResponse, *errors.AppError)
	SweepExpired(ctx context.Context) (int64, *errors.AppError)
}

func NewNegotiationService(repo repository.NegotiationRepositoryInterface, notifier Notifier, tasks TaskEnqueuer) *NegotiationService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if tasks == nil {
		tasks = noopEnqueuer{}
	}
	return &NegotiationService{
		repo:     repo,
		notifier: notifier,
		tasks:    tasks,
		now:      time.Now,
	}
}

// Create persists a new negotiation in awaiting_replies with the organizer
// plus one invited participant per id.
func (s *NegotiationService) Create(ctx context.Context, ownerID uuid.UUID, req *dto.CreateNegotiationRequest) (*dto.NegotiationResponse, *errors.AppError) {
	if strings.TrimSpace(req.ID) == "" {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "negotiation id is required", nil)
	}
	if !entity.ValidIntentCategory(entity.IntentCategory(req.IntentCategory)) {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "unknown intent category", nil)
	}
	if len(req.Slots) == 0 {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "at least one proposed slot is required", nil)
	}
	if req.ExpiresAt.Before(s.now()) {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "expires_at must be in the future", nil)
	}

	inviteeIDs, appErr := s.parseInvitees(req.Participants, ownerID)
	if appErr != nil {
		return nil, appErr
	}
	if len(inviteeIDs) == 0 {
		return nil, errors.NewAppError(errors.ErrParticipantsRequired, "at least one invitee is required", nil)
	}

	missing, err := s.repo.MissingUsers(ctx, inviteeIDs)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to resolve participants", err)
	}
	if len(missing) > 0 {
		return nil, errors.NewAppError(errors.ErrUnknownParticipants,
			fmt.Sprintf("unknown participants: %v", missing), nil)
	}

	n := entity.Negotiation{
		ID:             req.ID,
		OwnerID:        ownerID,
		IntentCategory: entity.IntentCategory(req.IntentCategory),
		State:          entity.StateAwaitingReplies,
		ExpiresAt:      req.ExpiresAt,
		AgentMode:      req.AgentMode,
	}
	if req.Title != "" {
		n.Title = &req.Title
		n.ShareSlug = slug.Make(req.Title) + "-" + utils.GenerateID()
	} else {
		n.ShareSlug = slug.Make(string(n.IntentCategory)) + "-" + utils.GenerateID()
	}
	if req.AgentMode {
		round := 0
		n.AgentRound = &round
	}

	agg := &entity.Aggregate{Negotiation: n}
	agg.Participants = append(agg.Participants, entity.Participant{
		NegotiationID: n.ID,
		UserID:        ownerID,
		Status:        entity.ParticipantStatusOrganizer,
	})
	for _, id := range inviteeIDs {
		agg.Participants = append(agg.Participants, entity.Participant{
			NegotiationID: n.ID,
			UserID:        id,
			Status:        entity.ParticipantStatusInvited,
		})
	}
	for i, in := range req.Slots {
		agg.Slots = append(agg.Slots, entity.ProposedSlot{
			NegotiationID:   n.ID,
			SlotIndex:       i,
			StartsAt:        in.StartsAt,
			DurationMinutes: in.DurationMinutes,
			ProposedBy:      ownerID,
		})
	}
	for i, in := range req.Venues {
		agg.Venues = append(agg.Venues, entity.ProposedVenue{
			NegotiationID: n.ID,
			VenueIndex:    i,
			VenueName:     in.VenueName,
			Metadata:      in.Metadata,
			ProposedBy:    ownerID,
		})
	}

	if err := s.repo.Create(ctx, agg); err != nil {
		if err == repository.ErrDuplicateKey {
			return nil, errors.NewAppError(errors.ErrDuplicateID, "negotiation id already exists", nil)
		}
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to create negotiation", err)
	}

	s.notifier.NotifyInvited(ctx, n.ID, titleOf(&agg.Negotiation), inviteeIDs)

	if n.AgentMode {
		if err := s.tasks.EnqueueAgentKickoff(ctx, n.ID); err != nil {
			logger.Error("NegotiationService:Create:EnqueueAgentKickoff", err)
		}
	}

	return dto.ToNegotiationResponse(agg), nil
}

func (s *NegotiationService) parseInvitees(raw []string, ownerID uuid.UUID) ([]uuid.UUID, *errors.AppError) {
	seen := map[uuid.UUID]struct{}{ownerID: {}}
	var ids []uuid.UUID
	for _, str := range raw {
		id, err := uuid.Parse(str)
		if err != nil {
			return nil, errors.NewAppError(errors.ErrUnknownParticipants,
				fmt.Sprintf("invalid participant id %q", str), nil)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// Reply processes one participant's accept, reject or counter. Concurrent
// replies on the same negotiation serialize via an optimistic version check:
// the loser of a confirm race re-reads, observes the terminal state and gets
// InvalidStateTransition.
func (s *NegotiationService) Reply(ctx context.Context, negotiationID string, userID uuid.UUID, req *dto.ReplyRequest) (*dto.NegotiationResponse, *errors.AppError) {
	for attempt := 0; attempt < replyRetries; attempt++ {
		agg, err := s.repo.GetAggregate(ctx, negotiationID)
		if err != nil {
			return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load negotiation", err)
		}
		if agg == nil {
			return nil, errors.NewAppError(errors.ErrNotFound, "negotiation not found", nil)
		}

		participant := agg.Participant(userID)
		if participant == nil {
			return nil, errors.NewAppError(errors.ErrNotAParticipant, "user is not a participant", nil)
		}
		if agg.Negotiation.State != entity.StateAwaitingReplies {
			return nil, errors.NewAppError(errors.ErrInvalidStateTransition,
				fmt.Sprintf("negotiation is %s", agg.Negotiation.State), nil)
		}

		upd, appErr := s.buildReplyUpdate(agg, participant, req)
		if appErr != nil {
			return nil, appErr
		}

		applied, err := s.repo.ApplyReply(ctx, upd)
		if err != nil {
			return nil, errors.NewAppError(errors.ErrInternalServer, "failed to apply reply", err)
		}
		if !applied {
			// Version moved underneath us; loop re-reads and re-decides.
			continue
		}

		if upd.NewState != nil && upd.NewState.IsTerminal() {
			s.onTerminal(ctx, agg, *upd.NewState)
		}

		return s.reload(ctx, negotiationID)
	}

	return nil, errors.NewAppError(errors.ErrInvalidStateTransition, "negotiation is being updated concurrently", nil)
}

func (s *NegotiationService) buildReplyUpdate(agg *entity.Aggregate, participant *entity.Participant, req *dto.ReplyRequest) (*repository.ReplyUpdate, *errors.AppError) {
	n := &agg.Negotiation
	now := s.now()

	upd := &repository.ReplyUpdate{
		NegotiationID:   n.ID,
		ExpectedVersion: n.Version,
	}

	switch req.Action {
	case "accept":
		if req.SelectedSlotIndex != nil && !slotExists(agg, *req.SelectedSlotIndex) {
			return nil, errors.NewAppError(errors.ErrInvalidInput, "selected slot does not exist", nil)
		}
		if req.SelectedVenueIndex != nil && !venueExists(agg, *req.SelectedVenueIndex) {
			return nil, errors.NewAppError(errors.ErrInvalidInput, "selected venue does not exist", nil)
		}

		p := *participant
		p.Status = entity.ParticipantStatusAccepted
		p.SelectedSlotIndex = req.SelectedSlotIndex
		p.SelectedVenueIndex = req.SelectedVenueIndex
		p.RespondedAt = &now
		upd.Participant = &p

		if allInviteesAccepted(agg, participant.UserID) {
			confirmed := entity.StateConfirmed
			upd.NewState = &confirmed
			finalSlot, finalVenue := finalChoice(agg, &p)
			upd.FinalSlotIndex = finalSlot
			upd.FinalVenueIndex = finalVenue
		}

	case "reject":
		// A single decline never cancels a multi-party negotiation; it waits
		// out the remaining replies or the expiry sweep.
		p := *participant
		p.Status = entity.ParticipantStatusDeclined
		p.SelectedSlotIndex = nil
		p.SelectedVenueIndex = nil
		p.RespondedAt = &now
		upd.Participant = &p

	case "counter":
		if len(req.CounterSlots) == 0 && len(req.CounterVenues) == 0 {
			return nil, errors.NewAppError(errors.ErrInvalidInput, "counter requires new slots or venues", nil)
		}
		if n.AgentMode && n.AgentRound != nil {
			round := *n.AgentRound + 1
			upd.AgentRound = &round
		}
		nextSlot := agg.NextSlotIndex()
		for i, in := range req.CounterSlots {
			upd.AppendSlots = append(upd.AppendSlots, entity.ProposedSlot{
				NegotiationID:   n.ID,
				SlotIndex:       nextSlot + i,
				StartsAt:        in.StartsAt,
				DurationMinutes: in.DurationMinutes,
				ProposedBy:      participant.UserID,
			})
		}
		nextVenue := agg.NextVenueIndex()
		for i, in := range req.CounterVenues {
			upd.AppendVenues = append(upd.AppendVenues, entity.ProposedVenue{
				NegotiationID: n.ID,
				VenueIndex:    nextVenue + i,
				VenueName:     in.VenueName,
				Metadata:      in.Metadata,
				ProposedBy:    participant.UserID,
			})
		}

	default:
		return nil, errors.NewAppError(errors.ErrInvalidInput,
			fmt.Sprintf("unknown reply action %q", req.Action), nil)
	}

	return upd, nil
}

func slotExists(agg *entity.Aggregate, index int) bool {
	for _, s := range agg.Slots {
		if s.SlotIndex == index {
			return true
		}
	}
	return false
}

func venueExists(agg *entity.Aggregate, index int) bool {
	for _, v := range agg.Venues {
		if v.VenueIndex == index {
			return true
		}
	}
	return false
}

// allInviteesAccepted reports whether every non-organizer participant other
// than acceptor has already accepted. Declined participants block
// confirmation until expiry; the quorum requires every invitee's accept.
func allInviteesAccepted(agg *entity.Aggregate, acceptor uuid.UUID) bool {
	for _, p := range agg.Participants {
		if p.Status == entity.ParticipantStatusOrganizer || p.UserID == acceptor {
			continue
		}
		if p.Status != entity.ParticipantStatusAccepted {
			return false
		}
	}
	return true
}

// finalChoice picks the confirmed slot and venue: the lowest index among
// options every acceptor selected. A participant who accepted without
// selecting is treated as accepting all options.
func finalChoice(agg *entity.Aggregate, acceptor *entity.Participant) (*int, *int) {
	acceptors := make([]entity.Participant, 0, len(agg.Participants))
	for _, p := range agg.Participants {
		if p.UserID == acceptor.UserID {
			continue
		}
		if p.Status == entity.ParticipantStatusAccepted {
			acceptors = append(acceptors, p)
		}
	}
	acceptors = append(acceptors, *acceptor)

	slotIdx := lowestMutual(agg.Slots, acceptors, func(p entity.Participant) *int { return p.SelectedSlotIndex })
	var venueIdx *int
	if len(agg.Venues) > 0 {
		venueIdx = lowestMutualVenues(agg.Venues, acceptors)
	}
	return slotIdx, venueIdx
}

func lowestMutual(slots []entity.ProposedSlot, acceptors []entity.Participant, sel func(entity.Participant) *int) *int {
	best := -1
	for _, s := range slots {
		ok := true
		for _, p := range acceptors {
			if idx := sel(p); idx != nil && *idx != s.SlotIndex {
				ok = false
				break
			}
		}
		if ok && (best == -1 || s.SlotIndex < best) {
			best = s.SlotIndex
		}
	}
	if best == -1 {
		// No mutual option; fall back to the lowest index anyone selected.
		for _, p := range acceptors {
			if idx := sel(p); idx != nil && (best == -1 || *idx < best) {
				best = *idx
			}
		}
	}
	if best == -1 {
		if len(slots) == 0 {
			return nil
		}
		best = slots[0].SlotIndex
	}
	return &best
}

func lowestMutualVenues(venues []entity.ProposedVenue, acceptors []entity.Participant) *int {
	best := -1
	for _, v := range venues {
		ok := true
		for _, p := range acceptors {
			if p.SelectedVenueIndex != nil && *p.SelectedVenueIndex != v.VenueIndex {
				ok = false
				break
			}
		}
		if ok && (best == -1 || v.VenueIndex < best) {
			best = v.VenueIndex
		}
	}
	if best == -1 {
		for _, p := range acceptors {
			if p.SelectedVenueIndex != nil && (best == -1 || *p.SelectedVenueIndex < best) {
				best = *p.SelectedVenueIndex
			}
		}
	}
	if best == -1 {
		best = venues[0].VenueIndex
	}
	return &best
}

func (s *NegotiationService) onTerminal(ctx context.Context, agg *entity.Aggregate, state entity.NegotiationState) {
	n := &agg.Negotiation

	if state == entity.StateConfirmed {
		ids := make([]uuid.UUID, 0, len(agg.Participants))
		for _, p := range agg.Participants {
			ids = append(ids, p.UserID)
		}
		s.notifier.NotifyConfirmed(ctx, n.ID, titleOf(n), ids)
	}

	if err := s.tasks.EnqueueLearnOutcome(ctx, n.ID); err != nil {
		logger.Error("NegotiationService:onTerminal:EnqueueLearnOutcome", err)
	}
	if n.AgentMode {
		if err := s.tasks.EnqueueArchive(ctx, n.ID); err != nil {
			logger.Error("NegotiationService:onTerminal:EnqueueArchive", err)
		}
	}
}

// Get returns the aggregate only to participants; everyone else sees
// not-found so existence never leaks.
func (s *NegotiationService) Get(ctx context.Context, negotiationID string, userID uuid.UUID) (*dto.NegotiationResponse, *errors.AppError) {
	agg, err := s.repo.GetAggregate(ctx, negotiationID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load negotiation", err)
	}
	if agg == nil || agg.Participant(userID) == nil {
		return nil, errors.NewAppError(errors.ErrNotFound, "negotiation not found", nil)
	}
	return dto.ToNegotiationResponse(agg), nil
}

func (s *NegotiationService) List(ctx context.Context, userID uuid.UUID, q *dto.ListNegotiationsQuery) (*dto.PaginatedNegotiationResponse, *errors.AppError) {
	filter := repository.ListFilter{Limit: constants.DefaultListLimit}

	if q.Limit > 0 {
		filter.Limit = q.Limit
		if filter.Limit > constants.MaxListLimit {
			filter.Limit = constants.MaxListLimit
		}
	}
	if q.State != "" {
		st := entity.NegotiationState(q.State)
		switch st {
		case entity.StateAwaitingInvites, entity.StateAwaitingReplies,
			entity.StateConfirmed, entity.StateCancelled, entity.StateExpired:
			filter.State = &st
		default:
			return nil, errors.NewAppError(errors.ErrInvalidInput, "unknown state filter", nil)
		}
	}
	if q.UpdatedAfter != "" {
		t, err := time.Parse(time.RFC3339, q.UpdatedAfter)
		if err != nil {
			return nil, errors.NewAppError(errors.ErrInvalidInput, "invalid updated_after", nil)
		}
		filter.UpdatedAfter = &t
	}
	if q.UpdatedBefore != "" {
		t, err := time.Parse(time.RFC3339, q.UpdatedBefore)
		if err != nil {
			return nil, errors.NewAppError(errors.ErrInvalidInput, "invalid updated_before", nil)
		}
		filter.UpdatedBefore = &t
	}
	if q.Cursor != "" {
		at, id, err := decodeCursor(q.Cursor)
		if err != nil {
			return nil, errors.NewAppError(errors.ErrInvalidInput, "invalid cursor", nil)
		}
		filter.CursorUpdatedAt = &at
		filter.CursorID = &id
	}

	// Fetch one extra row to learn whether another page exists.
	filter.Limit++
	items, err := s.repo.List(ctx, userID, filter)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to list negotiations", err)
	}

	resp := &dto.PaginatedNegotiationResponse{Items: []dto.NegotiationResponse{}}
	pageSize := filter.Limit - 1
	if len(items) > pageSize {
		resp.HasMore = true
		items = items[:pageSize]
	}
	for i := range items {
		resp.Items = append(resp.Items, dto.ToNegotiationSummary(&items[i]))
	}
	if resp.HasMore && len(items) > 0 {
		last := items[len(items)-1]
		resp.NextCursor = encodeCursor(last.UpdatedAt, last.ID)
	}
	return resp, nil
}

// Cancel is the one permitted non-monotonic transition, restricted to the
// organizer while the negotiation is still open.
func (s *NegotiationService) Cancel(ctx context.Context, negotiationID string, userID uuid.UUID) (*dto.NegotiationResponse, *errors.AppError) {
	agg, err := s.repo.GetAggregate(ctx, negotiationID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load negotiation", err)
	}
	if agg == nil || agg.Participant(userID) == nil {
		return nil, errors.NewAppError(errors.ErrNotFound, "negotiation not found", nil)
	}
	if agg.Negotiation.OwnerID != userID {
		return nil, errors.NewAppError(errors.ErrForbidden, "only the organizer can cancel", nil)
	}
	if agg.Negotiation.State.IsTerminal() {
		return nil, errors.NewAppError(errors.ErrInvalidStateTransition,
			fmt.Sprintf("negotiation is %s", agg.Negotiation.State), nil)
	}

	cancelled := entity.StateCancelled
	applied, err := s.repo.ApplyReply(ctx, &repository.ReplyUpdate{
		NegotiationID:   negotiationID,
		ExpectedVersion: agg.Negotiation.Version,
		NewState:        &cancelled,
	})
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to cancel negotiation", err)
	}
	if !applied {
		return nil, errors.NewAppError(errors.ErrInvalidStateTransition, "negotiation changed concurrently", nil)
	}

	ids := make([]uuid.UUID, 0, len(agg.Participants))
	for _, p := range agg.Participants {
		if p.UserID != userID {
			ids = append(ids, p.UserID)
		}
	}
	s.notifier.NotifyCancelled(ctx, negotiationID, titleOf(&agg.Negotiation), ids)
	s.onTerminal(ctx, agg, cancelled)

	return s.reload(ctx, negotiationID)
}

// SweepExpired expires overdue negotiations. Safe to run repeatedly: the
// second pass matches nothing.
func (s *NegotiationService) SweepExpired(ctx context.Context) (int64, *errors.AppError) {
	count, err := s.repo.SweepExpired(ctx, s.now())
	if err != nil {
		return 0, errors.NewAppError(errors.ErrInternalServer, "failed to sweep expired negotiations", err)
	}
	if count > 0 {
		logger.Info("NegotiationService:SweepExpired", "expired", count)
	}
	return count, nil
}

func (s *NegotiationService) reload(ctx context.Context, negotiationID string) (*dto.NegotiationResponse, *errors.AppError) {
	agg, err := s.repo.GetAggregate(ctx, negotiationID)
	if err != nil || agg == nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to reload negotiation", err)
	}
	return dto.ToNegotiationResponse(agg), nil
}

func titleOf(n *entity.Negotiation) string {
	if n.Title != nil {
		return *n.Title
	}
	return string(n.IntentCategory)
}

// ===================== Cursor encoding =====================

// encodeCursor packs the keyset position into an opaque token.
func encodeCursor(updatedAt time.Time, id string) string {
	raw := strconv.FormatInt(updatedAt.UnixNano(), 10) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return time.Time{}, "", fmt.Errorf("malformed cursor")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, nanos), parts[1], nil
}

type noopNotifier struct{}

func (noopNotifier) NotifyInvited(context.Context, string, string, []uuid.UUID)   {}
func (noopNotifier) NotifyConfirmed(context.Context, string, string, []uuid.UUID) {}
func (noopNotifier) NotifyCancelled(context.Context, string, string, []uuid.UUID) {}

type noopEnqueuer struct{}

func (noopEnqueuer) EnqueueLearnOutcome(context.Context, string) error  { return nil }
func (noopEnqueuer) EnqueueArchive(context.Context, string) error       { return nil }
func (noopEnqueuer) EnqueueAgentKickoff(context.Context, string) error  { return nil }
