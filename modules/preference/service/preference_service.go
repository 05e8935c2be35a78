package service

import (
	"context"
	"fmt"

	"meetpact/core/constants"
	"meetpact/core/errors"
	"meetpact/core/logger"
	negentity "meetpact/modules/negotiation/entity"
	"meetpact/modules/preference/dto"
	"meetpact/modules/preference/entity"
	"meetpact/modules/preference/repository"

	"github.com/google/uuid"
)

// NegotiationLoader is the read-side dependency on the negotiation module
// used by the learning pass.
type NegotiationLoader interface {
	GetAggregate(ctx context.Context, id string) (*negentity.Aggregate, error)
}

// PreferenceService owns per-user preferences, autonomy settings, veto rules
// and the post-negotiation learning update.
type PreferenceService struct {
	repo         repository.PreferenceRepositoryInterface
	negotiations NegotiationLoader
	calendar     CalendarChecker
}

// PreferenceServiceInterface defines the service contract.
type PreferenceServiceInterface interface {
	GetPreferences(ctx context.Context, userID uuid.UUID) (*dto.PreferencesResponse, *errors.AppError)
	UpdateAutonomy(ctx context.Context, userID uuid.UUID, req *dto.UpdateAutonomyRequest) (*dto.PreferencesResponse, *errors.AppError)
	UpdateVetoRules(ctx context.Context, userID uuid.UUID, req *dto.UpdateVetoRulesRequest) (*dto.PreferencesResponse, *errors.AppError)
	LearnFromNegotiation(ctx context.Context, negotiationID string) *errors.AppError
}

func NewPreferenceService(repo repository.PreferenceRepositoryInterface, negotiations NegotiationLoader, calendar CalendarChecker) *PreferenceService {
	return &PreferenceService{
		repo:         repo,
		negotiations: negotiations,
		calendar:     calendar,
	}
}

// Calendar exposes the calendar collaborator for the agent engine's veto
// checks.
func (s *PreferenceService) Calendar() CalendarChecker {
	return s.calendar
}

// DefaultPreferences is the starting aggregate for a user with no stored row.
func DefaultPreferences(userID uuid.UUID) *entity.AgentPreferences {
	return &entity.AgentPreferences{
		UserID: userID,
		Autonomy: entity.AutonomySettings{
			GlobalAutonomyLevel:      entity.AutonomyBalanced,
			AutoAcceptThreshold:      constants.DefaultAutoAcceptThreshold,
			AutoCounterThreshold:     constants.DefaultAutoCounterThreshold,
			MaxNegotiationRounds:     constants.DefaultMaxNegotiationRounds,
			AllowPerPlanOverride:     true,
			RequireFinalConfirmation: true,
		},
		VetoRules: entity.VetoRules{},
	}
}

// Load returns the stored preferences or defaults, for in-process callers
// (the agent engine).
func (s *PreferenceService) Load(ctx context.Context, userID uuid.UUID) (*entity.AgentPreferences, error) {
	prefs, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if prefs == nil {
		return DefaultPreferences(userID), nil
	}
	return prefs, nil
}

func (s *PreferenceService) GetPreferences(ctx context.Context, userID uuid.UUID) (*dto.PreferencesResponse, *errors.AppError) {
	prefs, err := s.Load(ctx, userID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load preferences", err)
	}
	return dto.ToPreferencesResponse(prefs), nil
}

func (s *PreferenceService) UpdateAutonomy(ctx context.Context, userID uuid.UUID, req *dto.UpdateAutonomyRequest) (*dto.PreferencesResponse, *errors.AppError) {
	level := entity.AutonomyLevel(req.GlobalAutonomyLevel)
	switch level {
	case entity.AutonomyManual, entity.AutonomyBalanced, entity.AutonomyFull:
	default:
		return nil, errors.NewAppError(errors.ErrInvalidInput, "unknown autonomy level", nil)
	}
	if req.AutoAcceptThreshold < 0 || req.AutoAcceptThreshold > 1 ||
		req.AutoCounterThreshold < 0 || req.AutoCounterThreshold > 1 {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "thresholds must be in [0, 1]", nil)
	}
	if req.AutoCounterThreshold > req.AutoAcceptThreshold {
		return nil, errors.NewAppError(errors.ErrInvalidInput,
			"auto_counter_threshold must not exceed auto_accept_threshold", nil)
	}
	if req.MaxNegotiationRounds < 1 {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "max_negotiation_rounds must be at least 1", nil)
	}

	err := s.repo.UpdateWithLock(ctx, userID, func(p *entity.AgentPreferences) error {
		p.Autonomy = entity.AutonomySettings{
			GlobalAutonomyLevel:      level,
			AutoAcceptThreshold:      req.AutoAcceptThreshold,
			AutoCounterThreshold:     req.AutoCounterThreshold,
			MaxNegotiationRounds:     req.MaxNegotiationRounds,
			AllowPerPlanOverride:     req.AllowPerPlanOverride,
			RequireFinalConfirmation: req.RequireFinalConfirmation,
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to update autonomy settings", err)
	}

	return s.GetPreferences(ctx, userID)
}

func (s *PreferenceService) UpdateVetoRules(ctx context.Context, userID uuid.UUID, req *dto.UpdateVetoRulesRequest) (*dto.PreferencesResponse, *errors.AppError) {
	if err := ValidateRules(req.Rules); err != nil {
		return nil, errors.NewAppError(errors.ErrInvalidInput, err.Error(), nil)
	}

	err := s.repo.UpdateWithLock(ctx, userID, func(p *entity.AgentPreferences) error {
		p.VetoRules = req.Rules
		return nil
	})
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to update veto rules", err)
	}

	return s.GetPreferences(ctx, userID)
}

// LearnFromNegotiation folds one terminal negotiation into the patterns of
// every participant who responded. Each user's update is an atomic
// read-modify-write under a row lock; only aggregated scores are retained.
func (s *PreferenceService) LearnFromNegotiation(ctx context.Context, negotiationID string) *errors.AppError {
	agg, err := s.negotiations.GetAggregate(ctx, negotiationID)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to load negotiation", err)
	}
	if agg == nil {
		return errors.NewAppError(errors.ErrNotFound, "negotiation not found", nil)
	}
	if !agg.Negotiation.State.IsTerminal() {
		return errors.NewAppError(errors.ErrInvalidStateTransition,
			fmt.Sprintf("negotiation is %s, not terminal", agg.Negotiation.State), nil)
	}

	for _, p := range agg.Participants {
		outcome, ok := outcomeFor(agg, &p)
		if !ok {
			continue
		}
		userID := p.UserID
		participant := p
		err := s.repo.UpdateWithLock(ctx, userID, func(prefs *entity.AgentPreferences) error {
			if prefs.Autonomy.AutoAcceptThreshold == 0 && prefs.Autonomy.AutoCounterThreshold == 0 {
				prefs.Autonomy = DefaultPreferences(userID).Autonomy
			}
			applyOutcome(&prefs.Patterns, agg, &participant, outcome)
			return nil
		})
		if err != nil {
			logger.Error("PreferenceService:LearnFromNegotiation", "user_id", userID, "error", err)
		}
	}

	return nil
}

// outcomeFor maps a participant's final standing to a learning target:
// acceptance pulls scores toward 1.0, rejection toward 0.0. Participants who
// never responded contribute nothing. The organizer learns only from a
// confirmed outcome.
func outcomeFor(agg *negentity.Aggregate, p *negentity.Participant) (float64, bool) {
	switch p.Status {
	case negentity.ParticipantStatusAccepted:
		return 1.0, true
	case negentity.ParticipantStatusDeclined:
		return 0.0, true
	case negentity.ParticipantStatusOrganizer:
		if agg.Negotiation.State == negentity.StateConfirmed {
			return 1.0, true
		}
	}
	return 0, false
}

func applyOutcome(patterns *entity.LearnedPatterns, agg *negentity.Aggregate, p *negentity.Participant, outcome float64) {
	slot := relevantSlot(agg, p)
	venue := relevantVenue(agg, p)
	category := string(agg.Negotiation.IntentCategory)

	if slot != nil {
		if patterns.PreferredTimes == nil {
			patterns.PreferredTimes = map[int]float64{}
		}
		nudgeInt(patterns.PreferredTimes, slot.StartsAt.Hour(), outcome)

		if slot.DurationMinutes != nil {
			if patterns.DurationByCategory == nil {
				patterns.DurationByCategory = map[string]float64{}
			}
			nudge(patterns.DurationByCategory, category, outcome)
		}
	}

	if patterns.CategoryPreferences == nil {
		patterns.CategoryPreferences = map[string]float64{}
	}
	nudge(patterns.CategoryPreferences, category, outcome)

	if venue != nil {
		if patterns.PreferredVenues == nil {
			patterns.PreferredVenues = map[string]float64{}
		}
		nudge(patterns.PreferredVenues, venue.VenueName, outcome)
	}

	if patterns.FriendAffinity == nil {
		patterns.FriendAffinity = map[string]float64{}
	}
	for _, other := range agg.Participants {
		if other.UserID == p.UserID {
			continue
		}
		nudge(patterns.FriendAffinity, other.UserID.String(), outcome)
	}

	patterns.NegotiationCount++
}

// relevantSlot picks the slot the outcome applies to: the confirmed final
// slot, else the participant's own selection, else the first proposed slot.
func relevantSlot(agg *negentity.Aggregate, p *negentity.Participant) *negentity.ProposedSlot {
	index := 0
	if agg.Negotiation.FinalSlotIndex != nil {
		index = *agg.Negotiation.FinalSlotIndex
	} else if p.SelectedSlotIndex != nil {
		index = *p.SelectedSlotIndex
	}
	for i := range agg.Slots {
		if agg.Slots[i].SlotIndex == index {
			return &agg.Slots[i]
		}
	}
	if len(agg.Slots) > 0 {
		return &agg.Slots[0]
	}
	return nil
}

func relevantVenue(agg *negentity.Aggregate, p *negentity.Participant) *negentity.ProposedVenue {
	if len(agg.Venues) == 0 {
		return nil
	}
	index := agg.Venues[0].VenueIndex
	if agg.Negotiation.FinalVenueIndex != nil {
		index = *agg.Negotiation.FinalVenueIndex
	} else if p.SelectedVenueIndex != nil {
		index = *p.SelectedVenueIndex
	}
	for i := range agg.Venues {
		if agg.Venues[i].VenueIndex == index {
			return &agg.Venues[i]
		}
	}
	return &agg.Venues[0]
}

// nudge applies the exponential moving average update
// new = old + alpha * (outcome - old), starting from the neutral score for
// unseen keys.
func nudge(m map[string]float64, key string, outcome float64) {
	old, ok := m[key]
	if !ok {
		old = constants.NeutralScore
	}
	m[key] = old + constants.LearningRate*(outcome-old)
}

func nudgeInt(m map[int]float64, key int, outcome float64) {
	old, ok := m[key]
	if !ok {
		old = constants.NeutralScore
	}
	m[key] = old + constants.LearningRate*(outcome-old)
}
