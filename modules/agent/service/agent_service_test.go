package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"meetpact/core/errors"
	"meetpact/modules/agent/entity"
	chanservice "meetpact/modules/channel/service"
	negdto "meetpact/modules/negotiation/dto"
	negentity "meetpact/modules/negotiation/entity"
	prefentity "meetpact/modules/preference/entity"
	prefservice "meetpact/modules/preference/service"
)

// ===================== fakes =====================

type fakeMessages struct {
	rows   []*entity.AgentMessage
	nextID int64
}

func (f *fakeMessages) Append(_ context.Context, msg *entity.AgentMessage) (*entity.AgentMessage, error) {
	f.nextID++
	msg.ID = f.nextID
	msg.CreatedAt = time.Now()
	f.rows = append(f.rows, msg)
	return msg, nil
}

func (f *fakeMessages) GetByID(_ context.Context, id int64) (*entity.AgentMessage, error) {
	for _, m := range f.rows {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeMessages) ListByNegotiation(_ context.Context, negotiationID string) ([]entity.AgentMessage, error) {
	var out []entity.AgentMessage
	for _, m := range f.rows {
		if m.NegotiationID == negotiationID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeMessages) PendingFinalize(_ context.Context, negotiationID string) (*entity.AgentMessage, error) {
	for i := len(f.rows) - 1; i >= 0; i-- {
		m := f.rows[i]
		if m.NegotiationID == negotiationID && m.MessageType == entity.MessageFinalize && m.PendingConfirmation {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeMessages) ClearPending(_ context.Context, id int64) error {
	for _, m := range f.rows {
		if m.ID == id {
			m.PendingConfirmation = false
		}
	}
	return nil
}

func (f *fakeMessages) lastOutbound() *entity.AgentMessage {
	if len(f.rows) == 0 {
		return nil
	}
	return f.rows[len(f.rows)-1]
}

type fakeReader struct {
	aggs map[string]*negentity.Aggregate
}

func (f *fakeReader) GetAggregate(_ context.Context, id string) (*negentity.Aggregate, error) {
	return f.aggs[id], nil
}

type replyCall struct {
	userID uuid.UUID
	req    *negdto.ReplyRequest
}

type fakeReplies struct {
	calls []replyCall
}

func (f *fakeReplies) Reply(_ context.Context, _ string, userID uuid.UUID, req *negdto.ReplyRequest) (*negdto.NegotiationResponse, *errors.AppError) {
	f.calls = append(f.calls, replyCall{userID: userID, req: req})
	return nil, nil
}

type fakePrefLoader struct {
	prefs map[uuid.UUID]*prefentity.AgentPreferences
}

func (f *fakePrefLoader) Load(_ context.Context, userID uuid.UUID) (*prefentity.AgentPreferences, error) {
	if p, ok := f.prefs[userID]; ok {
		return p, nil
	}
	return prefservice.DefaultPreferences(userID), nil
}

// fakeChannel passes plaintext through unchanged; crypto has its own tests.
type fakeChannel struct{}

func (fakeChannel) Seal(_ context.Context, _ string, _, _ uuid.UUID, plaintext []byte) (*chanservice.SealedFrame, *errors.AppError) {
	return &chanservice.SealedFrame{Frame: plaintext, SenderVersion: 1, RecipientVersion: 1}, nil
}

func (fakeChannel) Open(_ context.Context, _ string, _, _ uuid.UUID, _, _ int, frame []byte) ([]byte, *errors.AppError) {
	return frame, nil
}

type recordingNotifier struct {
	escalated       int
	finalizePending int
}

func (n *recordingNotifier) NotifyEscalated(context.Context, string, string, []uuid.UUID) {
	n.escalated++
}

func (n *recordingNotifier) NotifyFinalizePending(context.Context, string, string, []uuid.UUID) {
	n.finalizePending++
}

type recordingEnqueuer struct {
	ids []int64
}

func (e *recordingEnqueuer) EnqueueProcessMessage(_ context.Context, id int64) error {
	e.ids = append(e.ids, id)
	return nil
}

// ===================== fixtures =====================

type actorFixture struct {
	svc      *AgentService
	messages *fakeMessages
	replies  *fakeReplies
	prefs    *fakePrefLoader
	notifier *recordingNotifier
	enqueuer *recordingEnqueuer
	agg      *negentity.Aggregate
	owner    uuid.UUID
	invitee  uuid.UUID
}

func newActorFixture(t *testing.T) *actorFixture {
	t.Helper()

	owner := uuid.New()
	invitee := uuid.New()
	starts := time.Date(2026, 9, 4, 18, 0, 0, 0, time.UTC)

	round := 0
	agg := &negentity.Aggregate{
		Negotiation: negentity.Negotiation{
			ID:             "neg-1",
			OwnerID:        owner,
			IntentCategory: negentity.IntentDinner,
			State:          negentity.StateAwaitingReplies,
			AgentMode:      true,
			AgentRound:     &round,
		},
		Participants: []negentity.Participant{
			{NegotiationID: "neg-1", UserID: owner, Status: negentity.ParticipantStatusOrganizer},
			{NegotiationID: "neg-1", UserID: invitee, Status: negentity.ParticipantStatusInvited},
		},
		Slots: []negentity.ProposedSlot{
			{NegotiationID: "neg-1", SlotIndex: 0, StartsAt: starts, ProposedBy: owner},
		},
		Venues: []negentity.ProposedVenue{
			{NegotiationID: "neg-1", VenueIndex: 0, VenueName: "blue bottle", ProposedBy: owner},
		},
	}

	f := &actorFixture{
		messages: &fakeMessages{},
		replies:  &fakeReplies{},
		prefs:    &fakePrefLoader{prefs: map[uuid.UUID]*prefentity.AgentPreferences{}},
		notifier: &recordingNotifier{},
		enqueuer: &recordingEnqueuer{},
		agg:      agg,
		owner:    owner,
		invitee:  invitee,
	}
	reader := &fakeReader{aggs: map[string]*negentity.Aggregate{"neg-1": agg}}
	f.svc = NewAgentService(f.messages, reader, f.replies, f.prefs, fakeChannel{}, NewEngine(nil), f.enqueuer, f.notifier)
	return f
}

// setPrefs pins a user's preferences so a slot-0 proposal scores exactly s.
func (f *actorFixture) setPrefs(userID uuid.UUID, score float64, requireConfirm bool) *prefentity.AgentPreferences {
	prefs := prefservice.DefaultPreferences(userID)
	prefs.Autonomy.RequireFinalConfirmation = requireConfirm
	prefs.Patterns.PreferredTimes = map[int]float64{18: score}
	prefs.Patterns.CategoryPreferences = map[string]float64{"dinner": score}
	prefs.Patterns.PreferredVenues = map[string]float64{"blue bottle": score}
	f.prefs.prefs[userID] = prefs
	return prefs
}

func (f *actorFixture) seed(t *testing.T, from, to uuid.UUID, msgType entity.MessageType, round int, payload entity.Payload) *entity.AgentMessage {
	t.Helper()
	stored, appErr := f.svc.emit(context.Background(), f.agg, from, to, msgType, round, payload, false)
	if appErr != nil {
		t.Fatalf("emit() error = %v", appErr)
	}
	return stored
}

// ===================== tests =====================

func TestKickoffProposesToEveryInvitee(t *testing.T) {
	f := newActorFixture(t)

	if appErr := f.svc.Kickoff(context.Background(), "neg-1"); appErr != nil {
		t.Fatalf("Kickoff() error = %v", appErr)
	}

	if len(f.messages.rows) != 1 {
		t.Fatalf("stored %d messages, want 1", len(f.messages.rows))
	}
	msg := f.messages.rows[0]
	if msg.MessageType != entity.MessageProposal || msg.Round != 1 {
		t.Fatalf("kickoff message = %s round %d, want proposal round 1", msg.MessageType, msg.Round)
	}
	if msg.FromUserID != f.owner || msg.ToUserID != f.invitee {
		t.Fatal("kickoff message has wrong direction")
	}
	if len(f.enqueuer.ids) != 1 || f.enqueuer.ids[0] != msg.ID {
		t.Fatalf("enqueued %v, want the kickoff message", f.enqueuer.ids)
	}
}

func TestProcessMessageAcceptsHighScore(t *testing.T) {
	f := newActorFixture(t)
	f.setPrefs(f.invitee, 0.90, false)

	inbound := f.seed(t, f.owner, f.invitee, entity.MessageProposal, 1,
		entity.Payload{SlotIndex: intPtr(0), VenueIndex: intPtr(0)})

	if appErr := f.svc.ProcessMessage(context.Background(), inbound.ID); appErr != nil {
		t.Fatalf("ProcessMessage() error = %v", appErr)
	}

	out := f.messages.lastOutbound()
	if out.MessageType != entity.MessageAccept {
		t.Fatalf("outbound = %s, want accept", out.MessageType)
	}
	if out.FromUserID != f.invitee || out.ToUserID != f.owner {
		t.Fatal("accept has wrong direction")
	}
	if out.Round != inbound.Round {
		t.Fatalf("accept round = %d, want %d", out.Round, inbound.Round)
	}
}

func TestProcessMessageCountersMidScore(t *testing.T) {
	f := newActorFixture(t)
	prefs := f.setPrefs(f.invitee, 0.70, false)
	prefs.Patterns.PreferredTimes[9] = 0.95

	inbound := f.seed(t, f.owner, f.invitee, entity.MessageProposal, 1,
		entity.Payload{SlotIndex: intPtr(0), VenueIndex: intPtr(0)})

	if appErr := f.svc.ProcessMessage(context.Background(), inbound.ID); appErr != nil {
		t.Fatalf("ProcessMessage() error = %v", appErr)
	}

	if len(f.replies.calls) != 1 || f.replies.calls[0].req.Action != "counter" {
		t.Fatalf("reply calls = %+v, want one counter", f.replies.calls)
	}
	if f.replies.calls[0].userID != f.invitee {
		t.Fatal("counter applied on behalf of the wrong user")
	}

	out := f.messages.lastOutbound()
	if out.MessageType != entity.MessageCounter {
		t.Fatalf("outbound = %s, want counter", out.MessageType)
	}
	if out.Round != inbound.Round+1 {
		t.Fatalf("counter round = %d, want %d", out.Round, inbound.Round+1)
	}
}

func TestProcessMessageEscalatesLowScore(t *testing.T) {
	f := newActorFixture(t)
	f.setPrefs(f.invitee, 0.40, false)

	inbound := f.seed(t, f.owner, f.invitee, entity.MessageProposal, 1,
		entity.Payload{SlotIndex: intPtr(0), VenueIndex: intPtr(0)})

	if appErr := f.svc.ProcessMessage(context.Background(), inbound.ID); appErr != nil {
		t.Fatalf("ProcessMessage() error = %v", appErr)
	}

	out := f.messages.lastOutbound()
	if out.MessageType != entity.MessageEscalate {
		t.Fatalf("outbound = %s, want escalate", out.MessageType)
	}
	if f.notifier.escalated == 0 {
		t.Fatal("escalation did not notify the human")
	}
	if len(f.replies.calls) != 0 {
		t.Fatal("escalation mutated negotiation state")
	}
}

func TestProcessMessageTerminalNegotiationIsNoop(t *testing.T) {
	f := newActorFixture(t)
	f.setPrefs(f.invitee, 0.90, false)

	inbound := f.seed(t, f.owner, f.invitee, entity.MessageProposal, 1,
		entity.Payload{SlotIndex: intPtr(0)})
	f.agg.Negotiation.State = negentity.StateCancelled

	if appErr := f.svc.ProcessMessage(context.Background(), inbound.ID); appErr != nil {
		t.Fatalf("ProcessMessage() error = %v, want no-op", appErr)
	}
	if len(f.messages.rows) != 1 {
		t.Fatal("actor emitted into a cancelled negotiation")
	}
}

func TestProcessMessageUnknownMessage(t *testing.T) {
	f := newActorFixture(t)

	appErr := f.svc.ProcessMessage(context.Background(), 999)
	if appErr == nil || appErr.Code != errors.ErrNotFound {
		t.Fatalf("ProcessMessage() error = %v, want not found", appErr)
	}
}

func TestProcessMessageMalformedSlotIndex(t *testing.T) {
	f := newActorFixture(t)
	f.setPrefs(f.invitee, 0.90, false)

	inbound := f.seed(t, f.owner, f.invitee, entity.MessageProposal, 1,
		entity.Payload{SlotIndex: intPtr(42)})

	appErr := f.svc.ProcessMessage(context.Background(), inbound.ID)
	if appErr == nil || appErr.Code != errors.ErrInvalidInput {
		t.Fatalf("ProcessMessage() error = %v, want invalid input", appErr)
	}
	if len(f.messages.rows) != 1 || len(f.replies.calls) != 0 {
		t.Fatal("structural error mutated state")
	}
}

func TestConvergenceEmitsFinalizeAndApplies(t *testing.T) {
	f := newActorFixture(t)
	f.setPrefs(f.owner, 0.90, false)
	f.setPrefs(f.invitee, 0.90, false)

	pair := entity.Payload{SlotIndex: intPtr(0), VenueIndex: intPtr(0)}

	// The invitee accepted at round 1; the owner's matching accept arrives at
	// round 2. The invitee holds the lower round-order and finalizes.
	f.seed(t, f.invitee, f.owner, entity.MessageAccept, 1, pair)
	inbound := f.seed(t, f.owner, f.invitee, entity.MessageAccept, 2, pair)

	if appErr := f.svc.ProcessMessage(context.Background(), inbound.ID); appErr != nil {
		t.Fatalf("ProcessMessage() error = %v", appErr)
	}

	out := f.messages.lastOutbound()
	if out.MessageType != entity.MessageFinalize {
		t.Fatalf("outbound = %s, want finalize", out.MessageType)
	}
	if out.PendingConfirmation {
		t.Fatal("finalize held despite no confirmation requirement")
	}

	// The invitee's accept lands in the state machine.
	if len(f.replies.calls) != 1 || f.replies.calls[0].req.Action != "accept" {
		t.Fatalf("reply calls = %+v, want one accept", f.replies.calls)
	}
	if f.replies.calls[0].userID != f.invitee {
		t.Fatal("finalize applied accept for the wrong user")
	}
	if got := f.replies.calls[0].req.SelectedSlotIndex; got == nil || *got != 0 {
		t.Fatalf("applied slot = %v, want 0", got)
	}
}

func TestConvergenceHigherRoundOrderDefers(t *testing.T) {
	f := newActorFixture(t)
	f.setPrefs(f.owner, 0.90, false)
	f.setPrefs(f.invitee, 0.90, false)

	pair := entity.Payload{SlotIndex: intPtr(0), VenueIndex: intPtr(0)}

	// The invitee accepted later than the inbound accept; the peer holds the
	// lower round-order and will finalize, so this actor stays silent.
	f.seed(t, f.invitee, f.owner, entity.MessageAccept, 3, pair)
	inbound := f.seed(t, f.owner, f.invitee, entity.MessageAccept, 2, pair)
	before := len(f.messages.rows)

	if appErr := f.svc.ProcessMessage(context.Background(), inbound.ID); appErr != nil {
		t.Fatalf("ProcessMessage() error = %v", appErr)
	}
	if len(f.messages.rows) != before {
		t.Fatal("deferring agent emitted a message")
	}
}

func TestFinalizeHeldForConfirmation(t *testing.T) {
	f := newActorFixture(t)
	f.setPrefs(f.owner, 0.90, false)
	f.setPrefs(f.invitee, 0.90, true) // invitee wants the final say

	pair := entity.Payload{SlotIndex: intPtr(0), VenueIndex: intPtr(0)}
	f.seed(t, f.invitee, f.owner, entity.MessageAccept, 1, pair)
	inbound := f.seed(t, f.owner, f.invitee, entity.MessageAccept, 2, pair)

	if appErr := f.svc.ProcessMessage(context.Background(), inbound.ID); appErr != nil {
		t.Fatalf("ProcessMessage() error = %v", appErr)
	}

	out := f.messages.lastOutbound()
	if out.MessageType != entity.MessageFinalize || !out.PendingConfirmation {
		t.Fatalf("outbound = %s pending=%v, want held finalize", out.MessageType, out.PendingConfirmation)
	}
	if len(f.replies.calls) != 0 {
		t.Fatal("held finalize was applied without confirmation")
	}
	if f.notifier.finalizePending == 0 {
		t.Fatal("held finalize did not notify humans")
	}

	// Human confirmation applies the held finalize.
	if _, appErr := f.svc.ConfirmFinalize(context.Background(), "neg-1", f.invitee); appErr != nil {
		t.Fatalf("ConfirmFinalize() error = %v", appErr)
	}
	if len(f.replies.calls) != 1 || f.replies.calls[0].userID != f.invitee {
		t.Fatalf("reply calls = %+v, want one invitee accept", f.replies.calls)
	}
	if out.PendingConfirmation {
		t.Fatal("confirmation did not clear the pending flag")
	}

	// A second confirm finds nothing pending.
	if _, appErr := f.svc.ConfirmFinalize(context.Background(), "neg-1", f.invitee); appErr == nil || appErr.Code != errors.ErrNotFound {
		t.Fatalf("second ConfirmFinalize() error = %v, want not found", appErr)
	}
}

func TestConfirmFinalizeRequiresParticipant(t *testing.T) {
	f := newActorFixture(t)

	_, appErr := f.svc.ConfirmFinalize(context.Background(), "neg-1", uuid.New())
	if appErr == nil || appErr.Code != errors.ErrNotFound {
		t.Fatalf("ConfirmFinalize() error = %v, want not found for outsiders", appErr)
	}
}

func TestListMessagesVisibility(t *testing.T) {
	f := newActorFixture(t)
	f.seed(t, f.owner, f.invitee, entity.MessageProposal, 1, entity.Payload{SlotIndex: intPtr(0)})

	items, appErr := f.svc.ListMessages(context.Background(), "neg-1", f.invitee)
	if appErr != nil {
		t.Fatalf("ListMessages() error = %v", appErr)
	}
	if len(items) != 1 || items[0].MessageType != string(entity.MessageProposal) {
		t.Fatalf("ListMessages() = %+v, want the proposal", items)
	}

	if _, appErr := f.svc.ListMessages(context.Background(), "neg-1", uuid.New()); appErr == nil || appErr.Code != errors.ErrNotFound {
		t.Fatalf("outsider ListMessages() error = %v, want not found", appErr)
	}
}
