// Package level is a pure function over a project's tier ladder and a
// user's lifetime spend, with no store dependency of its own:
// store.LevelRepository loads the ladder, this package only decides.
package level

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"loyalty-bonus-engine/internal/apperr"
	"loyalty-bonus-engine/internal/store"
)

// Bracket pairs a level with the earn rate that applies while lifetime
// spend sits inside it.
type Bracket struct {
	Level       store.BonusLevel
	IsTop       bool
}

// Resolve walks levels, sorted ascending by MinLifetimeSpend, and returns
// the one bracket containing lifetimeSpend. A nil result means the project
// has no ladder configured or lifetimeSpend falls in no bracket; callers
// then fall back to the project's DefaultEarnPercent.
func Resolve(levels []store.BonusLevel, lifetimeSpend decimal.Decimal) *Bracket {
	sorted := make([]store.BonusLevel, len(levels))
	copy(sorted, levels)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MinLifetimeSpend.LessThan(sorted[j].MinLifetimeSpend)
	})

	for i, l := range sorted {
		if lifetimeSpend.LessThan(l.MinLifetimeSpend) {
			continue
		}
		if l.MaxLifetimeSpend != nil && !lifetimeSpend.LessThan(*l.MaxLifetimeSpend) {
			continue
		}
		isTop := i == len(sorted)-1
		return &Bracket{Level: l, IsTop: isTop}
	}
	return nil
}

// ProgressToNext reports how much more lifetimeSpend a user needs to reach
// the next bracket above their current one, or false if they're already at
// the top (or off-ladder).
func ProgressToNext(levels []store.BonusLevel, lifetimeSpend decimal.Decimal) (decimal.Decimal, bool) {
	current := Resolve(levels, lifetimeSpend)
	if current == nil || current.IsTop || current.Level.MaxLifetimeSpend == nil {
		return decimal.Zero, false
	}
	remaining := current.Level.MaxLifetimeSpend.Sub(lifetimeSpend)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return remaining, true
}

// ValidateNoOverlap checks that no two levels of the same ladder claim
// overlapping [Min, Max) ranges. The schema has no database exclusion
// constraint for this, and store.LevelRepository's Create and ReplaceAll do
// not call this check.
func ValidateNoOverlap(levels []store.BonusLevel) error {
	sorted := make([]store.BonusLevel, len(levels))
	copy(sorted, levels)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MinLifetimeSpend.LessThan(sorted[j].MinLifetimeSpend)
	})

	for i := 1; i < len(sorted); i++ {
		prev := sorted[i-1]
		cur := sorted[i]
		if prev.MaxLifetimeSpend == nil {
			return apperr.WithDetails(apperr.KindValidation, "level_range_overlap",
				"level ranges overlap",
				apperr.Detail{Field: prev.Name, Message: "has no upper bound but is followed by another level"})
		}
		if cur.MinLifetimeSpend.LessThan(*prev.MaxLifetimeSpend) {
			return apperr.WithDetails(apperr.KindValidation, "level_range_overlap",
				"level ranges overlap",
				apperr.Detail{Field: cur.Name, Message: "overlaps with " + prev.Name})
		}
	}
	return nil
}

// CreateDefaults builds the standard three-tier ladder (Bronze/Silver/Gold)
// for a newly-created project, seeded with the project's own default earn
// percent as the Bronze rate and a modest step-up for the higher tiers.
func CreateDefaults(projectID uuid.UUID, baseEarnPercent decimal.Decimal) []store.BonusLevel {
	silverMin := decimal.NewFromInt(50000)
	goldMin := decimal.NewFromInt(200000)

	return []store.BonusLevel{
		{
			ID:               uuid.New(),
			ProjectID:        projectID,
			Name:             "Bronze",
			MinLifetimeSpend: decimal.Zero,
			MaxLifetimeSpend: &silverMin,
			EarnPercent:      baseEarnPercent,
		},
		{
			ID:               uuid.New(),
			ProjectID:        projectID,
			Name:             "Silver",
			MinLifetimeSpend: silverMin,
			MaxLifetimeSpend: &goldMin,
			EarnPercent:      baseEarnPercent.Add(decimal.NewFromInt(2)),
		},
		{
			ID:               uuid.New(),
			ProjectID:        projectID,
			Name:             "Gold",
			MinLifetimeSpend: goldMin,
			MaxLifetimeSpend: nil,
			EarnPercent:      baseEarnPercent.Add(decimal.NewFromInt(5)),
		},
	}
}
