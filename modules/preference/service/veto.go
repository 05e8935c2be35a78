package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"meetpact/core/logger"
	"meetpact/modules/preference/entity"

	"github.com/google/uuid"
)

// Violation reports the first veto rule that matched a proposal. A violation
// is a routing signal (the agent escalates), never a fault.
type Violation struct {
	Rule   entity.VetoRule
	Reason string
}

// CalendarChecker is the external calendar collaborator: reports whether the
// user is busy during the window named by a respect_calendar rule.
type CalendarChecker interface {
	IsBusy(ctx context.Context, calendarRef string, start time.Time, durationMinutes int) (bool, error)
}

// CustomPredicate evaluates a custom veto rule body against a proposal.
// Returns true when the rule matches (vetoes).
type CustomPredicate func(body json.RawMessage, p Proposal) bool

var (
	customMu         sync.RWMutex
	customPredicates = map[string]CustomPredicate{}
)

// RegisterCustomPredicate installs a named predicate for custom veto rules.
// Unknown names never match.
func RegisterCustomPredicate(name string, fn CustomPredicate) {
	customMu.Lock()
	defer customMu.Unlock()
	customPredicates[name] = fn
}

func customPredicate(name string) (CustomPredicate, bool) {
	customMu.RLock()
	defer customMu.RUnlock()
	fn, ok := customPredicates[name]
	return fn, ok
}

// CheckVetoRules evaluates rules in insertion order and returns the first
// active match, or nil. Evaluation short-circuits on the first hit.
func CheckVetoRules(ctx context.Context, p Proposal, rules entity.VetoRules, calendar CalendarChecker) *Violation {
	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		if reason := matchRule(ctx, rule, p, calendar); reason != "" {
			return &Violation{Rule: rule, Reason: reason}
		}
	}
	return nil
}

func matchRule(ctx context.Context, rule entity.VetoRule, p Proposal, calendar CalendarChecker) string {
	switch rule.Kind {
	case entity.VetoNeverBefore:
		if rule.Hour != nil && p.StartsAt.Hour() < *rule.Hour {
			return fmt.Sprintf("starts before %02d:00", *rule.Hour)
		}

	case entity.VetoNeverAfter:
		if rule.Hour != nil && p.StartsAt.Hour() >= *rule.Hour {
			return fmt.Sprintf("starts at or after %02d:00", *rule.Hour)
		}

	case entity.VetoNeverOnDays:
		day := p.StartsAt.Weekday()
		for _, d := range rule.Days {
			if d == day {
				return fmt.Sprintf("falls on %s", day)
			}
		}

	case entity.VetoNeverAtVenue:
		if rule.VenueID != nil && p.VenueID != nil && *rule.VenueID == *p.VenueID {
			return fmt.Sprintf("venue %s is blocked", *p.VenueID)
		}

	case entity.VetoRespectCalendar:
		if rule.CalendarRef == nil || calendar == nil {
			return ""
		}
		duration := 60
		if p.DurationMinutes != nil {
			duration = *p.DurationMinutes
		}
		busy, err := calendar.IsBusy(ctx, *rule.CalendarRef, p.StartsAt, duration)
		if err != nil {
			// Unreachable calendar counts as busy: escalating to the human
			// beats double-booking them.
			logger.Warn("CheckVetoRules:RespectCalendar", "calendar_ref", *rule.CalendarRef, "error", err)
			return "calendar unavailable"
		}
		if busy {
			return "conflicts with calendar"
		}

	case entity.VetoMaxDuration:
		if rule.MaxDurationMinutes != nil && p.DurationMinutes != nil && *p.DurationMinutes > *rule.MaxDurationMinutes {
			return fmt.Sprintf("duration exceeds %d minutes", *rule.MaxDurationMinutes)
		}

	case entity.VetoNeverInvite:
		if rule.UserID != nil && p.CounterpartID != nil && *rule.UserID == p.CounterpartID.String() {
			return "counterpart is blocked"
		}

	case entity.VetoCustom:
		if rule.CustomName == nil {
			return ""
		}
		fn, ok := customPredicate(*rule.CustomName)
		if ok && fn(rule.CustomBody, p) {
			return fmt.Sprintf("custom rule %s matched", *rule.CustomName)
		}
	}

	return ""
}

// ValidateRules rejects structurally broken veto rules before they are stored.
func ValidateRules(rules entity.VetoRules) error {
	for i, rule := range rules {
		switch rule.Kind {
		case entity.VetoNeverBefore, entity.VetoNeverAfter:
			if rule.Hour == nil || *rule.Hour < 0 || *rule.Hour > 23 {
				return fmt.Errorf("rule %d: hour must be 0-23", i)
			}
		case entity.VetoNeverOnDays:
			if len(rule.Days) == 0 {
				return fmt.Errorf("rule %d: days required", i)
			}
		case entity.VetoNeverAtVenue:
			if rule.VenueID == nil {
				return fmt.Errorf("rule %d: venue_id required", i)
			}
		case entity.VetoRespectCalendar:
			if rule.CalendarRef == nil {
				return fmt.Errorf("rule %d: calendar_ref required", i)
			}
		case entity.VetoMaxDuration:
			if rule.MaxDurationMinutes == nil || *rule.MaxDurationMinutes <= 0 {
				return fmt.Errorf("rule %d: max_duration_minutes must be positive", i)
			}
		case entity.VetoNeverInvite:
			if rule.UserID == nil {
				return fmt.Errorf("rule %d: user_id required", i)
			}
			if _, err := uuid.Parse(*rule.UserID); err != nil {
				return fmt.Errorf("rule %d: user_id must be a uuid", i)
			}
		case entity.VetoCustom:
			if rule.CustomName == nil {
				return fmt.Errorf("rule %d: custom_name required", i)
			}
		default:
			return fmt.Errorf("rule %d: unknown kind %q", i, rule.Kind)
		}
	}
	return nil
}
