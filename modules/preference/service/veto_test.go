package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"meetpact/modules/preference/entity"
)

type fakeCalendar struct {
	busy  bool
	err   error
	calls int
}

func (f *fakeCalendar) IsBusy(_ context.Context, _ string, _ time.Time, _ int) (bool, error) {
	f.calls++
	return f.busy, f.err
}

func hourPtr(h int) *int { return &h }

func eveningProposal() Proposal {
	duration := 120
	return Proposal{
		StartsAt:        time.Date(2026, 9, 12, 20, 0, 0, 0, time.UTC), // Saturday 20:00
		DurationMinutes: &duration,
		VenueID:         strPtr("dive bar"),
		Category:        "drinks",
	}
}

func TestCheckVetoRulesKinds(t *testing.T) {
	counterpart := uuid.New()
	p := eveningProposal()
	p.CounterpartID = &counterpart

	tests := []struct {
		name    string
		rule    entity.VetoRule
		matches bool
	}{
		{"never_before matches earlier start", entity.VetoRule{Kind: entity.VetoNeverBefore, Active: true, Hour: hourPtr(21)}, true},
		{"never_before passes equal hour", entity.VetoRule{Kind: entity.VetoNeverBefore, Active: true, Hour: hourPtr(20)}, false},
		{"never_after matches equal hour", entity.VetoRule{Kind: entity.VetoNeverAfter, Active: true, Hour: hourPtr(20)}, true},
		{"never_after passes later cutoff", entity.VetoRule{Kind: entity.VetoNeverAfter, Active: true, Hour: hourPtr(21)}, false},
		{"never_on_days matches weekday", entity.VetoRule{Kind: entity.VetoNeverOnDays, Active: true, Days: []time.Weekday{time.Saturday}}, true},
		{"never_on_days passes other days", entity.VetoRule{Kind: entity.VetoNeverOnDays, Active: true, Days: []time.Weekday{time.Monday, time.Tuesday}}, false},
		{"never_at_venue matches blocked venue", entity.VetoRule{Kind: entity.VetoNeverAtVenue, Active: true, VenueID: strPtr("dive bar")}, true},
		{"never_at_venue passes other venue", entity.VetoRule{Kind: entity.VetoNeverAtVenue, Active: true, VenueID: strPtr("wine bar")}, false},
		{"max_duration matches overlong plan", entity.VetoRule{Kind: entity.VetoMaxDuration, Active: true, MaxDurationMinutes: hourPtr(90)}, true},
		{"max_duration passes equal duration", entity.VetoRule{Kind: entity.VetoMaxDuration, Active: true, MaxDurationMinutes: hourPtr(120)}, false},
		{"never_invite matches blocked counterpart", entity.VetoRule{Kind: entity.VetoNeverInvite, Active: true, UserID: strPtr(counterpart.String())}, true},
		{"never_invite passes other user", entity.VetoRule{Kind: entity.VetoNeverInvite, Active: true, UserID: strPtr(uuid.NewString())}, false},
		{"inactive rule never matches", entity.VetoRule{Kind: entity.VetoNeverBefore, Active: false, Hour: hourPtr(23)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := CheckVetoRules(context.Background(), p, entity.VetoRules{tt.rule}, nil)
			if (v != nil) != tt.matches {
				t.Fatalf("CheckVetoRules() violation = %v, want match=%v", v, tt.matches)
			}
		})
	}
}

func TestCheckVetoRulesFirstActiveMatchWins(t *testing.T) {
	p := eveningProposal()
	rules := entity.VetoRules{
		{Kind: entity.VetoNeverBefore, Active: true, Hour: hourPtr(8)},  // no match
		{Kind: entity.VetoNeverAfter, Active: false, Hour: hourPtr(19)}, // inactive
		{Kind: entity.VetoNeverAtVenue, Active: true, VenueID: strPtr("dive bar")},
		{Kind: entity.VetoNeverOnDays, Active: true, Days: []time.Weekday{time.Saturday}},
	}

	v := CheckVetoRules(context.Background(), p, rules, nil)
	if v == nil {
		t.Fatal("CheckVetoRules() = nil, want a violation")
	}
	if v.Rule.Kind != entity.VetoNeverAtVenue {
		t.Fatalf("violated rule = %s, want the first active match never_at_venue", v.Rule.Kind)
	}
}

func TestCheckVetoRulesRespectCalendar(t *testing.T) {
	p := eveningProposal()
	rule := entity.VetoRule{Kind: entity.VetoRespectCalendar, Active: true, CalendarRef: strPtr("cal-1")}

	t.Run("free calendar passes", func(t *testing.T) {
		cal := &fakeCalendar{busy: false}
		if v := CheckVetoRules(context.Background(), p, entity.VetoRules{rule}, cal); v != nil {
			t.Fatalf("CheckVetoRules() = %v, want nil", v)
		}
		if cal.calls != 1 {
			t.Fatalf("calendar calls = %d, want 1", cal.calls)
		}
	})

	t.Run("busy calendar vetoes", func(t *testing.T) {
		cal := &fakeCalendar{busy: true}
		v := CheckVetoRules(context.Background(), p, entity.VetoRules{rule}, cal)
		if v == nil || v.Reason != "conflicts with calendar" {
			t.Fatalf("CheckVetoRules() = %v, want calendar conflict", v)
		}
	})

	t.Run("unreachable calendar vetoes", func(t *testing.T) {
		cal := &fakeCalendar{err: errors.New("timeout")}
		v := CheckVetoRules(context.Background(), p, entity.VetoRules{rule}, cal)
		if v == nil || v.Reason != "calendar unavailable" {
			t.Fatalf("CheckVetoRules() = %v, want calendar unavailable", v)
		}
	})

	t.Run("no calendar wired skips the rule", func(t *testing.T) {
		if v := CheckVetoRules(context.Background(), p, entity.VetoRules{rule}, nil); v != nil {
			t.Fatalf("CheckVetoRules() = %v, want nil without a checker", v)
		}
	})
}

func TestCheckVetoRulesCustomPredicate(t *testing.T) {
	RegisterCustomPredicate("veto-test-long-drinks", func(body json.RawMessage, p Proposal) bool {
		var cfg struct {
			Category string `json:"category"`
		}
		if json.Unmarshal(body, &cfg) != nil {
			return false
		}
		return p.Category == cfg.Category
	})

	p := eveningProposal()
	matching := entity.VetoRule{
		Kind:       entity.VetoCustom,
		Active:     true,
		CustomName: strPtr("veto-test-long-drinks"),
		CustomBody: json.RawMessage(`{"category":"drinks"}`),
	}
	if v := CheckVetoRules(context.Background(), p, entity.VetoRules{matching}, nil); v == nil {
		t.Fatal("CheckVetoRules() = nil, want custom rule match")
	}

	unregistered := entity.VetoRule{
		Kind:       entity.VetoCustom,
		Active:     true,
		CustomName: strPtr("veto-test-missing"),
	}
	if v := CheckVetoRules(context.Background(), p, entity.VetoRules{unregistered}, nil); v != nil {
		t.Fatalf("CheckVetoRules() = %v, want nil for an unregistered predicate", v)
	}
}

func TestValidateRules(t *testing.T) {
	valid := entity.VetoRules{
		{Kind: entity.VetoNeverBefore, Active: true, Hour: hourPtr(9)},
		{Kind: entity.VetoNeverOnDays, Active: true, Days: []time.Weekday{time.Sunday}},
		{Kind: entity.VetoNeverAtVenue, Active: true, VenueID: strPtr("dive bar")},
		{Kind: entity.VetoRespectCalendar, Active: true, CalendarRef: strPtr("cal-1")},
		{Kind: entity.VetoMaxDuration, Active: true, MaxDurationMinutes: hourPtr(90)},
		{Kind: entity.VetoNeverInvite, Active: true, UserID: strPtr(uuid.NewString())},
		{Kind: entity.VetoCustom, Active: true, CustomName: strPtr("anything")},
	}
	if err := ValidateRules(valid); err != nil {
		t.Fatalf("ValidateRules(valid) error = %v", err)
	}

	invalid := []struct {
		name string
		rule entity.VetoRule
	}{
		{"hour missing", entity.VetoRule{Kind: entity.VetoNeverBefore}},
		{"hour out of range", entity.VetoRule{Kind: entity.VetoNeverAfter, Hour: hourPtr(24)}},
		{"days empty", entity.VetoRule{Kind: entity.VetoNeverOnDays}},
		{"venue missing", entity.VetoRule{Kind: entity.VetoNeverAtVenue}},
		{"calendar ref missing", entity.VetoRule{Kind: entity.VetoRespectCalendar}},
		{"duration non-positive", entity.VetoRule{Kind: entity.VetoMaxDuration, MaxDurationMinutes: hourPtr(0)}},
		{"user id missing", entity.VetoRule{Kind: entity.VetoNeverInvite}},
		{"user id not a uuid", entity.VetoRule{Kind: entity.VetoNeverInvite, UserID: strPtr("bob")}},
		{"custom name missing", entity.VetoRule{Kind: entity.VetoCustom}},
		{"unknown kind", entity.VetoRule{Kind: "never_ever"}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateRules(entity.VetoRules{tt.rule}); err == nil {
				t.Fatal("ValidateRules() accepted a broken rule")
			}
		})
	}
}
