package service

import (
	"context"
	"sort"
	"time"

	"meetpact/modules/agent/entity"
	prefentity "meetpact/modules/preference/entity"
	prefservice "meetpact/modules/preference/service"
)

// Decision is the outcome of evaluating one inbound proposal.
type Decision struct {
	Type  entity.MessageType
	Score float64
	// Reason is set on escalate decisions.
	Reason string
	// SlotIndex and VenueIndex echo the accepted pair on accept decisions.
	SlotIndex  *int
	VenueIndex *int
	// NewSlots and NewVenues carry generated candidates on counter decisions.
	NewSlots  []entity.SlotCandidate
	NewVenues []entity.VenueCandidate
}

// EvaluateInput is everything the engine needs to decide on one proposal.
// UsedHours and UsedVenues name the hours and venues already proposed on the
// negotiation, so counters never repeat an option that is already on the
// table.
type EvaluateInput struct {
	Proposal   prefservice.Proposal
	Prefs      *prefentity.AgentPreferences
	Round      int
	SlotIndex  *int
	VenueIndex *int
	UsedHours  map[int]bool
	UsedVenues map[string]bool
}

// Engine decides accept, counter or escalate for inbound proposals. Pure
// apart from the calendar lookup a respect_calendar veto rule may perform.
type Engine struct {
	calendar prefservice.CalendarChecker
}

func NewEngine(calendar prefservice.CalendarChecker) *Engine {
	return &Engine{calendar: calendar}
}

// Evaluate applies veto rules, the round limit and the threshold rule, in
// that order. Veto matches and the round limit escalate rather than error;
// escalation is an expected outcome, not a fault.
func (e *Engine) Evaluate(ctx context.Context, in EvaluateInput) Decision {
	autonomy := in.Prefs.Autonomy

	if autonomy.GlobalAutonomyLevel == prefentity.AutonomyManual {
		return Decision{Type: entity.MessageEscalate, Reason: "autonomy is set to manual"}
	}

	if v := prefservice.CheckVetoRules(ctx, in.Proposal, in.Prefs.VetoRules, e.calendar); v != nil {
		return Decision{Type: entity.MessageEscalate, Reason: v.Reason}
	}

	if in.Round > autonomy.MaxNegotiationRounds {
		return Decision{Type: entity.MessageEscalate, Reason: "negotiation round limit reached"}
	}

	score := prefservice.Score(in.Proposal, &in.Prefs.Patterns)

	switch {
	case score >= autonomy.AutoAcceptThreshold:
		return Decision{
			Type:       entity.MessageAccept,
			Score:      score,
			SlotIndex:  in.SlotIndex,
			VenueIndex: in.VenueIndex,
		}
	case score >= autonomy.AutoCounterThreshold:
		slots, venues := e.counterCandidates(in)
		if len(slots) == 0 && len(venues) == 0 {
			// Nothing left to counter with; hand the thread to the human.
			return Decision{Type: entity.MessageEscalate, Score: score, Reason: "no unused preference to counter with"}
		}
		return Decision{Type: entity.MessageCounter, Score: score, NewSlots: slots, NewVenues: venues}
	default:
		return Decision{Type: entity.MessageEscalate, Score: score, Reason: "proposal scored below counter threshold"}
	}
}

// counterCandidates picks the agent's highest-scoring unused hour and venue.
// Deterministic: score descending, then lower hour or lexicographically
// smaller venue name on ties.
func (e *Engine) counterCandidates(in EvaluateInput) ([]entity.SlotCandidate, []entity.VenueCandidate) {
	var slots []entity.SlotCandidate
	if hour, ok := bestUnusedHour(in.Prefs.Patterns.PreferredTimes, in.UsedHours); ok {
		base := in.Proposal.StartsAt
		starts := time.Date(base.Year(), base.Month(), base.Day(), hour, 0, 0, 0, base.Location())
		slots = append(slots, entity.SlotCandidate{
			StartsAt:        starts,
			DurationMinutes: in.Proposal.DurationMinutes,
		})
	}

	var venues []entity.VenueCandidate
	if name, ok := bestUnusedVenue(in.Prefs.Patterns.PreferredVenues, in.UsedVenues); ok {
		venues = append(venues, entity.VenueCandidate{VenueName: name})
	}

	return slots, venues
}

func bestUnusedHour(preferred map[int]float64, used map[int]bool) (int, bool) {
	best, bestScore, found := 0, -1.0, false
	for hour := 0; hour < 24; hour++ {
		score, ok := preferred[hour]
		if !ok || used[hour] {
			continue
		}
		if score > bestScore {
			best, bestScore, found = hour, score, true
		}
	}
	return best, found
}

func bestUnusedVenue(preferred map[string]float64, used map[string]bool) (string, bool) {
	names := make([]string, 0, len(preferred))
	for name := range preferred {
		if !used[name] {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", false
	}
	sort.Strings(names)

	best, bestScore := "", -1.0
	for _, name := range names {
		if preferred[name] > bestScore {
			best, bestScore = name, preferred[name]
		}
	}
	return best, true
}
