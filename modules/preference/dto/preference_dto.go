package dto

import (
	"time"

	"meetpact/modules/preference/entity"
)

// ===================== Request DTOs =====================

// UpdateAutonomyRequest replaces the caller's autonomy settings.
type UpdateAutonomyRequest struct {
	GlobalAutonomyLevel      string  `json:"global_autonomy_level" validate:"required"`
	AutoAcceptThreshold      float64 `json:"auto_accept_threshold"`
	AutoCounterThreshold     float64 `json:"auto_counter_threshold"`
	MaxNegotiationRounds     int     `json:"max_negotiation_rounds"`
	AllowPerPlanOverride     bool    `json:"allow_per_plan_override"`
	RequireFinalConfirmation bool    `json:"require_final_confirmation"`
}

// UpdateVetoRulesRequest replaces the caller's ordered veto rule set.
type UpdateVetoRulesRequest struct {
	Rules entity.VetoRules `json:"rules"`
}

// ===================== Response DTOs =====================

type PreferencesResponse struct {
	UserID      string                  `json:"user_id"`
	Patterns    entity.LearnedPatterns  `json:"patterns"`
	Autonomy    entity.AutonomySettings `json:"autonomy"`
	VetoRules   entity.VetoRules        `json:"veto_rules"`
	DateUpdated time.Time               `json:"date_updated"`
}

// ToPreferencesResponse maps the aggregate to its response shape.
func ToPreferencesResponse(p *entity.AgentPreferences) *PreferencesResponse {
	return &PreferencesResponse{
		UserID:      p.UserID.String(),
		Patterns:    p.Patterns,
		Autonomy:    p.Autonomy,
		VetoRules:   p.VetoRules,
		DateUpdated: p.DateUpdated,
	}
}
