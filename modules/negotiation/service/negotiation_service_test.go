package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"meetpact/core/errors"
	"meetpact/modules/negotiation/dto"
	"meetpact/modules/negotiation/entity"
	"meetpact/modules/negotiation/repository"
)

// fakeNegotiationRepo is an in-memory repository with the same optimistic
// concurrency semantics as the real one: ApplyReply succeeds only when the
// caller read the current version.
type fakeNegotiationRepo struct {
	mu         sync.Mutex
	aggs       map[string]*entity.Aggregate
	knownUsers map[uuid.UUID]bool
}

func newFakeNegotiationRepo(users ...uuid.UUID) *fakeNegotiationRepo {
	known := make(map[uuid.UUID]bool, len(users))
	for _, u := range users {
		known[u] = true
	}
	return &fakeNegotiationRepo{
		aggs:       map[string]*entity.Aggregate{},
		knownUsers: known,
	}
}

func copyAggregate(a *entity.Aggregate) *entity.Aggregate {
	out := &entity.Aggregate{Negotiation: a.Negotiation}
	out.Participants = append([]entity.Participant(nil), a.Participants...)
	out.Slots = append([]entity.ProposedSlot(nil), a.Slots...)
	out.Venues = append([]entity.ProposedVenue(nil), a.Venues...)
	return out
}

func (f *fakeNegotiationRepo) Create(_ context.Context, agg *entity.Aggregate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.aggs[agg.Negotiation.ID]; exists {
		return repository.ErrDuplicateKey
	}
	agg.Negotiation.Version = 1
	agg.Negotiation.CreatedAt = time.Now()
	agg.Negotiation.UpdatedAt = agg.Negotiation.CreatedAt
	f.aggs[agg.Negotiation.ID] = copyAggregate(agg)
	return nil
}

func (f *fakeNegotiationRepo) GetNegotiation(_ context.Context, id string) (*entity.Negotiation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if agg, ok := f.aggs[id]; ok {
		n := agg.Negotiation
		return &n, nil
	}
	return nil, nil
}

func (f *fakeNegotiationRepo) GetAggregate(_ context.Context, id string) (*entity.Aggregate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if agg, ok := f.aggs[id]; ok {
		return copyAggregate(agg), nil
	}
	return nil, nil
}

func (f *fakeNegotiationRepo) ApplyReply(_ context.Context, upd *repository.ReplyUpdate) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	agg, ok := f.aggs[upd.NegotiationID]
	if !ok || agg.Negotiation.Version != upd.ExpectedVersion {
		return false, nil
	}

	if upd.NewState != nil {
		agg.Negotiation.State = *upd.NewState
	}
	if upd.FinalSlotIndex != nil {
		agg.Negotiation.FinalSlotIndex = upd.FinalSlotIndex
	}
	if upd.FinalVenueIndex != nil {
		agg.Negotiation.FinalVenueIndex = upd.FinalVenueIndex
	}
	if upd.AgentRound != nil {
		agg.Negotiation.AgentRound = upd.AgentRound
	}
	if upd.Participant != nil {
		for i := range agg.Participants {
			if agg.Participants[i].UserID == upd.Participant.UserID {
				agg.Participants[i] = *upd.Participant
			}
		}
	}
	agg.Slots = append(agg.Slots, upd.AppendSlots...)
	agg.Venues = append(agg.Venues, upd.AppendVenues...)
	agg.Negotiation.Version++
	agg.Negotiation.UpdatedAt = time.Now()
	return true, nil
}

func (f *fakeNegotiationRepo) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, agg := range f.aggs {
		if !agg.Negotiation.State.IsTerminal() && agg.Negotiation.ExpiresAt.Before(now) {
			agg.Negotiation.State = entity.StateExpired
			agg.Negotiation.Version++
			count++
		}
	}
	return count, nil
}

func (f *fakeNegotiationRepo) MissingUsers(_ context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var missing []uuid.UUID
	for _, id := range ids {
		if !f.knownUsers[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (f *fakeNegotiationRepo) List(_ context.Context, userID uuid.UUID, filter repository.ListFilter) ([]entity.Negotiation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var rows []entity.Negotiation
	for _, agg := range f.aggs {
		if agg.Participant(userID) == nil {
			continue
		}
		n := agg.Negotiation
		if filter.State != nil && n.State != *filter.State {
			continue
		}
		if filter.UpdatedAfter != nil && !n.UpdatedAt.After(*filter.UpdatedAfter) {
			continue
		}
		if filter.UpdatedBefore != nil && !n.UpdatedAt.Before(*filter.UpdatedBefore) {
			continue
		}
		if filter.CursorUpdatedAt != nil {
			if n.UpdatedAt.After(*filter.CursorUpdatedAt) {
				continue
			}
			if n.UpdatedAt.Equal(*filter.CursorUpdatedAt) && n.ID >= *filter.CursorID {
				continue
			}
		}
		rows = append(rows, n)
	}

	// updated_at desc, id desc
	for i := 0; i < len(rows); i++ {
		for j := i + 1; j < len(rows); j++ {
			if rows[j].UpdatedAt.After(rows[i].UpdatedAt) ||
				(rows[j].UpdatedAt.Equal(rows[i].UpdatedAt) && rows[j].ID > rows[i].ID) {
				rows[i], rows[j] = rows[j], rows[i]
			}
		}
	}
	if filter.Limit > 0 && len(rows) > filter.Limit {
		rows = rows[:filter.Limit]
	}
	return rows, nil
}

type recordingTasks struct {
	mu       sync.Mutex
	learned  []string
	archived []string
	kickoffs []string
}

func (r *recordingTasks) EnqueueLearnOutcome(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.learned = append(r.learned, id)
	return nil
}

func (r *recordingTasks) EnqueueArchive(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.archived = append(r.archived, id)
	return nil
}

func (r *recordingTasks) EnqueueAgentKickoff(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kickoffs = append(r.kickoffs, id)
	return nil
}

// ===================== fixtures =====================

func createReq(id string, invitees ...uuid.UUID) *dto.CreateNegotiationRequest {
	var ids []string
	for _, u := range invitees {
		ids = append(ids, u.String())
	}
	return &dto.CreateNegotiationRequest{
		ID:             id,
		Title:          "Team dinner",
		IntentCategory: "dinner",
		Participants:   ids,
		Slots: []dto.SlotInput{
			{StartsAt: time.Date(2026, 9, 10, 18, 0, 0, 0, time.UTC)},
			{StartsAt: time.Date(2026, 9, 11, 19, 0, 0, 0, time.UTC)},
		},
		Venues:    []dto.VenueInput{{VenueName: "blue bottle"}},
		ExpiresAt: time.Now().Add(48 * time.Hour),
	}
}

func newService(repo repository.NegotiationRepositoryInterface, tasks TaskEnqueuer) *NegotiationService {
	return NewNegotiationService(repo, nil, tasks)
}

// ===================== create =====================

func TestCreateHappyPath(t *testing.T) {
	owner, alice := uuid.New(), uuid.New()
	repo := newFakeNegotiationRepo(owner, alice)
	svc := newService(repo, nil)

	resp, appErr := svc.Create(context.Background(), owner, createReq("neg-1", alice))
	if appErr != nil {
		t.Fatalf("Create() error = %v", appErr)
	}
	if resp.State != string(entity.StateAwaitingReplies) {
		t.Fatalf("state = %s, want awaiting_replies", resp.State)
	}
	if len(resp.Participants) != 2 {
		t.Fatalf("participants = %d, want organizer + invitee", len(resp.Participants))
	}
	if len(resp.Slots) != 2 || resp.Slots[0].SlotIndex != 0 || resp.Slots[1].SlotIndex != 1 {
		t.Fatalf("slots not indexed from 0: %+v", resp.Slots)
	}
	if resp.ShareSlug == "" {
		t.Fatal("share slug not generated")
	}
}

func TestCreateDuplicateID(t *testing.T) {
	owner, alice := uuid.New(), uuid.New()
	repo := newFakeNegotiationRepo(owner, alice)
	svc := newService(repo, nil)

	if _, appErr := svc.Create(context.Background(), owner, createReq("neg-1", alice)); appErr != nil {
		t.Fatalf("first Create() error = %v", appErr)
	}
	_, appErr := svc.Create(context.Background(), owner, createReq("neg-1", alice))
	if appErr == nil || appErr.Code != errors.ErrDuplicateID {
		t.Fatalf("second Create() error = %v, want duplicate id", appErr)
	}
}

func TestCreateParticipantValidation(t *testing.T) {
	owner, alice := uuid.New(), uuid.New()
	stranger := uuid.New()
	repo := newFakeNegotiationRepo(owner, alice)
	svc := newService(repo, nil)

	// No invitees at all.
	_, appErr := svc.Create(context.Background(), owner, createReq("neg-1"))
	if appErr == nil || appErr.Code != errors.ErrParticipantsRequired {
		t.Fatalf("Create() error = %v, want participants required", appErr)
	}

	// Inviting only yourself is the same as inviting nobody.
	_, appErr = svc.Create(context.Background(), owner, createReq("neg-2", owner))
	if appErr == nil || appErr.Code != errors.ErrParticipantsRequired {
		t.Fatalf("self-invite Create() error = %v, want participants required", appErr)
	}

	_, appErr = svc.Create(context.Background(), owner, createReq("neg-3", stranger))
	if appErr == nil || appErr.Code != errors.ErrUnknownParticipants {
		t.Fatalf("Create() error = %v, want unknown participants", appErr)
	}
}

func TestCreateAgentModeEnqueuesKickoff(t *testing.T) {
	owner, alice := uuid.New(), uuid.New()
	repo := newFakeNegotiationRepo(owner, alice)
	tasks := &recordingTasks{}
	svc := newService(repo, tasks)

	req := createReq("neg-1", alice)
	req.AgentMode = true
	resp, appErr := svc.Create(context.Background(), owner, req)
	if appErr != nil {
		t.Fatalf("Create() error = %v", appErr)
	}
	if resp.AgentRound == nil || *resp.AgentRound != 0 {
		t.Fatalf("agent round = %v, want 0", resp.AgentRound)
	}
	if len(tasks.kickoffs) != 1 || tasks.kickoffs[0] != "neg-1" {
		t.Fatalf("kickoffs = %v, want [neg-1]", tasks.kickoffs)
	}
}

// ===================== reply =====================

func TestReplyAcceptConfirmsTwoParty(t *testing.T) {
	owner, alice := uuid.New(), uuid.New()
	repo := newFakeNegotiationRepo(owner, alice)
	tasks := &recordingTasks{}
	svc := newService(repo, tasks)

	if _, appErr := svc.Create(context.Background(), owner, createReq("neg-1", alice)); appErr != nil {
		t.Fatalf("Create() error = %v", appErr)
	}

	slot := 1
	resp, appErr := svc.Reply(context.Background(), "neg-1", alice, &dto.ReplyRequest{
		Action:            "accept",
		SelectedSlotIndex: &slot,
	})
	if appErr != nil {
		t.Fatalf("Reply() error = %v", appErr)
	}
	if resp.State != string(entity.StateConfirmed) {
		t.Fatalf("state = %s, want confirmed", resp.State)
	}
	if resp.FinalSlotIndex == nil || *resp.FinalSlotIndex != 1 {
		t.Fatalf("final slot = %v, want 1", resp.FinalSlotIndex)
	}
	if len(tasks.learned) != 1 {
		t.Fatal("terminal transition did not enqueue learning")
	}
}

func TestReplyThreePartyNeedsEveryInvitee(t *testing.T) {
	owner, alice, bob := uuid.New(), uuid.New(), uuid.New()
	repo := newFakeNegotiationRepo(owner, alice, bob)
	svc := newService(repo, nil)

	if _, appErr := svc.Create(context.Background(), owner, createReq("neg-1", alice, bob)); appErr != nil {
		t.Fatalf("Create() error = %v", appErr)
	}

	resp, appErr := svc.Reply(context.Background(), "neg-1", alice, &dto.ReplyRequest{Action: "accept"})
	if appErr != nil {
		t.Fatalf("first accept error = %v", appErr)
	}
	if resp.State != string(entity.StateAwaitingReplies) {
		t.Fatalf("state after one accept = %s, want awaiting_replies", resp.State)
	}

	resp, appErr = svc.Reply(context.Background(), "neg-1", bob, &dto.ReplyRequest{Action: "accept"})
	if appErr != nil {
		t.Fatalf("second accept error = %v", appErr)
	}
	if resp.State != string(entity.StateConfirmed) {
		t.Fatalf("state after all accepts = %s, want confirmed", resp.State)
	}
	// Neither acceptor picked, so the tie-break lands on the lowest index.
	if resp.FinalSlotIndex == nil || *resp.FinalSlotIndex != 0 {
		t.Fatalf("final slot = %v, want 0", resp.FinalSlotIndex)
	}
}

func TestReplyCounterAppendsWithoutOverwriting(t *testing.T) {
	owner, alice := uuid.New(), uuid.New()
	repo := newFakeNegotiationRepo(owner, alice)
	svc := newService(repo, nil)

	if _, appErr := svc.Create(context.Background(), owner, createReq("neg-1", alice)); appErr != nil {
		t.Fatalf("Create() error = %v", appErr)
	}

	resp, appErr := svc.Reply(context.Background(), "neg-1", alice, &dto.ReplyRequest{
		Action: "counter",
		CounterSlots: []dto.SlotInput{
			{StartsAt: time.Date(2026, 9, 12, 12, 0, 0, 0, time.UTC)},
		},
		CounterVenues: []dto.VenueInput{{VenueName: "ritual"}},
	})
	if appErr != nil {
		t.Fatalf("Reply() error = %v", appErr)
	}
	if resp.State != string(entity.StateAwaitingReplies) {
		t.Fatalf("state = %s, want awaiting_replies after counter", resp.State)
	}
	if len(resp.Slots) != 3 || resp.Slots[2].SlotIndex != 2 {
		t.Fatalf("slots = %+v, want new slot at index 2", resp.Slots)
	}
	if len(resp.Venues) != 2 || resp.Venues[1].VenueIndex != 1 {
		t.Fatalf("venues = %+v, want new venue at index 1", resp.Venues)
	}
	if resp.Slots[0].SlotIndex != 0 {
		t.Fatal("counter overwrote an existing slot index")
	}

	// An empty counter is rejected.
	_, appErr = svc.Reply(context.Background(), "neg-1", alice, &dto.ReplyRequest{Action: "counter"})
	if appErr == nil || appErr.Code != errors.ErrInvalidInput {
		t.Fatalf("empty counter error = %v, want invalid input", appErr)
	}
}

func TestReplyRejectDoesNotCancel(t *testing.T) {
	owner, alice, bob := uuid.New(), uuid.New(), uuid.New()
	repo := newFakeNegotiationRepo(owner, alice, bob)
	svc := newService(repo, nil)

	if _, appErr := svc.Create(context.Background(), owner, createReq("neg-1", alice, bob)); appErr != nil {
		t.Fatalf("Create() error = %v", appErr)
	}

	resp, appErr := svc.Reply(context.Background(), "neg-1", alice, &dto.ReplyRequest{Action: "reject"})
	if appErr != nil {
		t.Fatalf("Reply() error = %v", appErr)
	}
	if resp.State != string(entity.StateAwaitingReplies) {
		t.Fatalf("state after reject = %s, want awaiting_replies", resp.State)
	}
}

func TestReplyErrors(t *testing.T) {
	owner, alice := uuid.New(), uuid.New()
	stranger := uuid.New()
	repo := newFakeNegotiationRepo(owner, alice)
	svc := newService(repo, nil)

	if _, appErr := svc.Create(context.Background(), owner, createReq("neg-1", alice)); appErr != nil {
		t.Fatalf("Create() error = %v", appErr)
	}

	tests := []struct {
		name  string
		negID string
		user  uuid.UUID
		req   *dto.ReplyRequest
		want  errors.ErrorCode
	}{
		{"unknown negotiation", "missing", alice, &dto.ReplyRequest{Action: "accept"}, errors.ErrNotFound},
		{"non participant", "neg-1", stranger, &dto.ReplyRequest{Action: "accept"}, errors.ErrNotAParticipant},
		{"unknown action", "neg-1", alice, &dto.ReplyRequest{Action: "maybe"}, errors.ErrInvalidInput},
		{"bad slot index", "neg-1", alice, &dto.ReplyRequest{Action: "accept", SelectedSlotIndex: intPtr(9)}, errors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, appErr := svc.Reply(context.Background(), tt.negID, tt.user, tt.req)
			if appErr == nil || appErr.Code != tt.want {
				t.Fatalf("Reply() error = %v, want %s", appErr, tt.want)
			}
		})
	}
}

func TestReplyAfterTerminalRejected(t *testing.T) {
	owner, alice := uuid.New(), uuid.New()
	repo := newFakeNegotiationRepo(owner, alice)
	svc := newService(repo, nil)

	if _, appErr := svc.Create(context.Background(), owner, createReq("neg-1", alice)); appErr != nil {
		t.Fatalf("Create() error = %v", appErr)
	}
	if _, appErr := svc.Reply(context.Background(), "neg-1", alice, &dto.ReplyRequest{Action: "accept"}); appErr != nil {
		t.Fatalf("accept error = %v", appErr)
	}

	_, appErr := svc.Reply(context.Background(), "neg-1", alice, &dto.ReplyRequest{Action: "accept"})
	if appErr == nil || appErr.Code != errors.ErrInvalidStateTransition {
		t.Fatalf("Reply() after confirm error = %v, want invalid state transition", appErr)
	}
}

func TestConcurrentAcceptsConfirmOnce(t *testing.T) {
	owner, alice, bob := uuid.New(), uuid.New(), uuid.New()
	repo := newFakeNegotiationRepo(owner, alice, bob)
	svc := newService(repo, nil)

	if _, appErr := svc.Create(context.Background(), owner, createReq("neg-1", alice, bob)); appErr != nil {
		t.Fatalf("Create() error = %v", appErr)
	}

	var wg sync.WaitGroup
	results := make([]*errors.AppError, 2)
	for i, user := range []uuid.UUID{alice, bob} {
		wg.Add(1)
		go func(i int, user uuid.UUID) {
			defer wg.Done()
			_, results[i] = svc.Reply(context.Background(), "neg-1", user, &dto.ReplyRequest{Action: "accept"})
		}(i, user)
	}
	wg.Wait()

	agg, _ := repo.GetAggregate(context.Background(), "neg-1")
	if agg.Negotiation.State != entity.StateConfirmed {
		t.Fatalf("final state = %s, want confirmed", agg.Negotiation.State)
	}

	// At most one reply may fail, and only with the already-closed outcome.
	failures := 0
	for _, appErr := range results {
		if appErr != nil {
			failures++
			if appErr.Code != errors.ErrInvalidStateTransition {
				t.Fatalf("loser error = %v, want invalid state transition", appErr)
			}
		}
	}
	if failures > 1 {
		t.Fatalf("%d replies failed, want at most 1", failures)
	}
}

// ===================== get / list =====================

func TestGetHidesExistenceFromOutsiders(t *testing.T) {
	owner, alice := uuid.New(), uuid.New()
	stranger := uuid.New()
	repo := newFakeNegotiationRepo(owner, alice)
	svc := newService(repo, nil)

	if _, appErr := svc.Create(context.Background(), owner, createReq("neg-1", alice)); appErr != nil {
		t.Fatalf("Create() error = %v", appErr)
	}

	if _, appErr := svc.Get(context.Background(), "neg-1", alice); appErr != nil {
		t.Fatalf("participant Get() error = %v", appErr)
	}

	_, appErr := svc.Get(context.Background(), "neg-1", stranger)
	if appErr == nil || appErr.Code != errors.ErrNotFound {
		t.Fatalf("outsider Get() error = %v, want not found", appErr)
	}
	_, appErr = svc.Get(context.Background(), "missing", alice)
	if appErr == nil || appErr.Code != errors.ErrNotFound {
		t.Fatalf("missing Get() error = %v, want not found", appErr)
	}
}

func TestListPagination(t *testing.T) {
	owner, alice := uuid.New(), uuid.New()
	repo := newFakeNegotiationRepo(owner, alice)
	svc := newService(repo, nil)

	for _, id := range []string{"neg-a", "neg-b", "neg-c", "neg-d", "neg-e"} {
		if _, appErr := svc.Create(context.Background(), owner, createReq(id, alice)); appErr != nil {
			t.Fatalf("Create(%s) error = %v", id, appErr)
		}
		time.Sleep(time.Millisecond) // distinct updated_at ordering
	}

	page1, appErr := svc.List(context.Background(), owner, &dto.ListNegotiationsQuery{Limit: 2})
	if appErr != nil {
		t.Fatalf("List() error = %v", appErr)
	}
	if len(page1.Items) != 2 || !page1.HasMore || page1.NextCursor == "" {
		t.Fatalf("page1 = %d items, has_more=%v, want 2 items with more", len(page1.Items), page1.HasMore)
	}

	seen := map[string]bool{}
	for _, item := range page1.Items {
		seen[item.ID] = true
	}

	cursor := page1.NextCursor
	total := len(page1.Items)
	for cursor != "" {
		page, appErr := svc.List(context.Background(), owner, &dto.ListNegotiationsQuery{Limit: 2, Cursor: cursor})
		if appErr != nil {
			t.Fatalf("List(cursor) error = %v", appErr)
		}
		for _, item := range page.Items {
			if seen[item.ID] {
				t.Fatalf("item %s returned twice across pages", item.ID)
			}
			seen[item.ID] = true
		}
		total += len(page.Items)
		cursor = page.NextCursor
	}
	if total != 5 {
		t.Fatalf("paged through %d items, want 5", total)
	}

	// Outsiders see an empty listing, never an error.
	empty, appErr := svc.List(context.Background(), uuid.New(), &dto.ListNegotiationsQuery{})
	if appErr != nil || len(empty.Items) != 0 || empty.HasMore {
		t.Fatalf("outsider List() = %+v, %v, want empty page", empty, appErr)
	}
}

func TestListRejectsBadFilters(t *testing.T) {
	owner := uuid.New()
	svc := newService(newFakeNegotiationRepo(owner), nil)

	if _, appErr := svc.List(context.Background(), owner, &dto.ListNegotiationsQuery{State: "nonsense"}); appErr == nil {
		t.Fatal("List() accepted an unknown state filter")
	}
	if _, appErr := svc.List(context.Background(), owner, &dto.ListNegotiationsQuery{Cursor: "not-a-cursor!"}); appErr == nil {
		t.Fatal("List() accepted a malformed cursor")
	}
	if _, appErr := svc.List(context.Background(), owner, &dto.ListNegotiationsQuery{UpdatedAfter: "yesterday"}); appErr == nil {
		t.Fatal("List() accepted a malformed updated_after")
	}
}

// ===================== cancel / sweep =====================

func TestCancelOrganizerOnly(t *testing.T) {
	owner, alice := uuid.New(), uuid.New()
	repo := newFakeNegotiationRepo(owner, alice)
	tasks := &recordingTasks{}
	svc := newService(repo, tasks)

	if _, appErr := svc.Create(context.Background(), owner, createReq("neg-1", alice)); appErr != nil {
		t.Fatalf("Create() error = %v", appErr)
	}

	_, appErr := svc.Cancel(context.Background(), "neg-1", alice)
	if appErr == nil || appErr.Code != errors.ErrForbidden {
		t.Fatalf("invitee Cancel() error = %v, want forbidden", appErr)
	}

	resp, appErr := svc.Cancel(context.Background(), "neg-1", owner)
	if appErr != nil {
		t.Fatalf("Cancel() error = %v", appErr)
	}
	if resp.State != string(entity.StateCancelled) {
		t.Fatalf("state = %s, want cancelled", resp.State)
	}

	// Terminal negotiations cannot be re-cancelled.
	_, appErr = svc.Cancel(context.Background(), "neg-1", owner)
	if appErr == nil || appErr.Code != errors.ErrInvalidStateTransition {
		t.Fatalf("second Cancel() error = %v, want invalid state transition", appErr)
	}
}

func TestSweepExpiredIsIdempotent(t *testing.T) {
	owner, alice := uuid.New(), uuid.New()
	repo := newFakeNegotiationRepo(owner, alice)
	svc := newService(repo, nil)

	req := createReq("neg-1", alice)
	req.ExpiresAt = time.Now().Add(time.Minute)
	if _, appErr := svc.Create(context.Background(), owner, req); appErr != nil {
		t.Fatalf("Create() error = %v", appErr)
	}

	svc.now = func() time.Time { return time.Now().Add(time.Hour) }

	count, appErr := svc.SweepExpired(context.Background())
	if appErr != nil || count != 1 {
		t.Fatalf("SweepExpired() = %d, %v, want 1", count, appErr)
	}

	count, appErr = svc.SweepExpired(context.Background())
	if appErr != nil || count != 0 {
		t.Fatalf("second SweepExpired() = %d, %v, want 0", count, appErr)
	}

	// A reply racing past expiry loses cleanly.
	_, replyErr := svc.Reply(context.Background(), "neg-1", alice, &dto.ReplyRequest{Action: "accept"})
	if replyErr == nil || replyErr.Code != errors.ErrInvalidStateTransition {
		t.Fatalf("Reply() after expiry error = %v, want invalid state transition", replyErr)
	}
}

// ===================== cursor =====================

func TestCursorRoundtrip(t *testing.T) {
	at := time.Date(2026, 8, 31, 10, 30, 0, 123456789, time.UTC)
	cursor := encodeCursor(at, "neg-42")

	gotAt, gotID, err := decodeCursor(cursor)
	if err != nil {
		t.Fatalf("decodeCursor() error = %v", err)
	}
	if !gotAt.Equal(at) || gotID != "neg-42" {
		t.Fatalf("decodeCursor() = %v, %s, want %v, neg-42", gotAt, gotID, at)
	}

	for _, bad := range []string{"", "!!!", "bm90LWEtY3Vyc29y", "MTIzfA"} {
		if _, _, err := decodeCursor(bad); err == nil {
			t.Fatalf("decodeCursor(%q) accepted a malformed cursor", bad)
		}
	}
}

func intPtr(v int) *int { return &v }
