package entity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// LearnedPatterns holds the aggregated scalar preference scores for one user.
// Scores live in [0.0, 1.0]; an absent key means "never observed" and reads
// as the neutral 0.5, an explicit fallback rather than the zero value.
type LearnedPatterns struct {
	PreferredVenues     map[string]float64 `json:"preferred_venues"`
	PreferredTimes      map[int]float64    `json:"preferred_times"` // hour of day 0-23
	CategoryPreferences map[string]float64 `json:"category_preferences"`
	DurationByCategory  map[string]float64 `json:"duration_by_category"`
	FriendAffinity      map[string]float64 `json:"friend_affinity"` // keyed by user id
	NegotiationCount    int                `json:"negotiation_count"`
}

func (p LearnedPatterns) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *LearnedPatterns) Scan(value any) error {
	return scanJSON(value, p)
}

// AutonomyLevel controls how much the agent may do without asking.
type AutonomyLevel string

const (
	AutonomyManual   AutonomyLevel = "manual"   // agent only suggests
	AutonomyBalanced AutonomyLevel = "balanced" // agent negotiates, human confirms
	AutonomyFull     AutonomyLevel = "full"     // agent accepts within thresholds
)

// AutonomySettings bound the agent's decision space. The invariant
// auto_counter_threshold <= auto_accept_threshold holds on every write.
type AutonomySettings struct {
	GlobalAutonomyLevel      AutonomyLevel `json:"global_autonomy_level"`
	AutoAcceptThreshold      float64       `json:"auto_accept_threshold"`
	AutoCounterThreshold     float64       `json:"auto_counter_threshold"`
	MaxNegotiationRounds     int           `json:"max_negotiation_rounds"`
	AllowPerPlanOverride     bool          `json:"allow_per_plan_override"`
	RequireFinalConfirmation bool          `json:"require_final_confirmation"`
}

func (a AutonomySettings) Value() (driver.Value, error) {
	return json.Marshal(a)
}

func (a *AutonomySettings) Scan(value any) error {
	return scanJSON(value, a)
}

// VetoRuleKind enumerates the hard-constraint rule types.
type VetoRuleKind string

const (
	VetoNeverBefore     VetoRuleKind = "never_before"
	VetoNeverAfter      VetoRuleKind = "never_after"
	VetoNeverOnDays     VetoRuleKind = "never_on_days"
	VetoNeverAtVenue    VetoRuleKind = "never_at_venue"
	VetoRespectCalendar VetoRuleKind = "respect_calendar"
	VetoMaxDuration     VetoRuleKind = "max_duration"
	VetoNeverInvite     VetoRuleKind = "never_invite"
	VetoCustom          VetoRuleKind = "custom"
)

// VetoRule is one hard constraint. A match always overrides any score.
// Evaluation order is the slice order; the first active match wins.
type VetoRule struct {
	Kind               VetoRuleKind    `json:"kind"`
	Active             bool            `json:"active"`
	Hour               *int            `json:"hour,omitempty"`                 // never_before / never_after
	Days               []time.Weekday  `json:"days,omitempty"`                 // never_on_days
	VenueID            *string         `json:"venue_id,omitempty"`             // never_at_venue
	CalendarRef        *string         `json:"calendar_ref,omitempty"`         // respect_calendar
	MaxDurationMinutes *int            `json:"max_duration_minutes,omitempty"` // max_duration
	UserID             *string         `json:"user_id,omitempty"`              // never_invite
	CustomName         *string         `json:"custom_name,omitempty"`          // custom predicate key
	CustomBody         json.RawMessage `json:"custom_body,omitempty"`
}

// VetoRules is an ordered rule set stored as a JSONB array.
type VetoRules []VetoRule

func (r VetoRules) Value() (driver.Value, error) {
	if r == nil {
		return json.Marshal([]VetoRule{})
	}
	return json.Marshal(r)
}

func (r *VetoRules) Scan(value any) error {
	return scanJSON(value, r)
}

// AgentPreferences is the per-user preference aggregate. Never deleted,
// versioned by DateUpdated.
type AgentPreferences struct {
	UserID      uuid.UUID        `db:"user_id" json:"user_id"`
	Patterns    LearnedPatterns  `db:"patterns" json:"patterns"`
	Autonomy    AutonomySettings `db:"autonomy" json:"autonomy"`
	VetoRules   VetoRules        `db:"veto_rules" json:"veto_rules"`
	DateUpdated time.Time        `db:"date_updated" json:"date_updated"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}

func scanJSON(value any, dest any) error {
	if value == nil {
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, dest)
}
