package service

import (
	"time"

	"meetpact/core/constants"
	"meetpact/modules/preference/entity"

	"github.com/google/uuid"
)

// Proposal is the slot+venue pairing being evaluated against a user's
// preferences.
type Proposal struct {
	StartsAt        time.Time
	DurationMinutes *int
	VenueID         *string
	Category        string
	CounterpartID   *uuid.UUID
}

// Score evaluates a proposal against learned patterns and returns a value in
// [0, 1]. The time-of-day and category sub-scores always apply; venue, friend
// affinity and duration apply when the proposal carries them. All applicable
// sub-scores are combined by unweighted arithmetic mean. Pure and
// deterministic: identical inputs yield bit-identical output.
func Score(p Proposal, patterns *entity.LearnedPatterns) float64 {
	scores := []float64{
		lookupInt(patterns.PreferredTimes, p.StartsAt.Hour()),
		lookup(patterns.CategoryPreferences, p.Category),
	}

	if p.VenueID != nil {
		scores = append(scores, lookup(patterns.PreferredVenues, *p.VenueID))
	}
	if p.CounterpartID != nil {
		scores = append(scores, lookup(patterns.FriendAffinity, p.CounterpartID.String()))
	}
	if p.DurationMinutes != nil {
		scores = append(scores, lookup(patterns.DurationByCategory, p.Category))
	}

	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return clamp01(sum / float64(len(scores)))
}

func lookup(m map[string]float64, key string) float64 {
	if m != nil {
		if v, ok := m[key]; ok {
			return clamp01(v)
		}
	}
	return constants.NeutralScore
}

func lookupInt(m map[int]float64, key int) float64 {
	if m != nil {
		if v, ok := m[key]; ok {
			return clamp01(v)
		}
	}
	return constants.NeutralScore
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
