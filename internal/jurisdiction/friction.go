// Package jurisdiction scores the regulatory friction of acquiring a rental
// in a given (city, state): licensing, inspection cadence, permit
// processing time, and known inspection fail points.
package jurisdiction

import (
	"fmt"

	"github.com/onehaven/haven/api/internal/models"
)

// ReasonUnknownRules is always appended when no jurisdiction rule exists for
// the property's city/state. Unknown friction is surfaced, never silently
// treated as zero.
const ReasonUnknownRules = "jurisdiction rules unknown"

// Bands holds the friction banding constants. The exact combination
// semantics are configuration rather than hard invariants; DefaultBands
// gives the additive banding used in production.
type Bands struct {
	LicensePenalty float64

	LongProcessingDays        int
	LongProcessingPenalty     float64
	ModerateProcessingDays    int
	ModerateProcessingPenalty float64

	ManyFailPoints    int
	FailPointsPenalty float64

	AnnualInspectionPenalty   float64
	BiennialInspectionPenalty float64

	MaxMultiplier float64
}

// DefaultBands returns the production banding constants.
func DefaultBands() Bands {
	return Bands{
		LicensePenalty:            0.10,
		LongProcessingDays:        45,
		LongProcessingPenalty:     0.10,
		ModerateProcessingDays:    21,
		ModerateProcessingPenalty: 0.05,
		ManyFailPoints:            6,
		FailPointsPenalty:         0.05,
		AnnualInspectionPenalty:   0.05,
		BiennialInspectionPenalty: 0.02,
		MaxMultiplier:             1.5,
	}
}

// Friction is the computed risk multiplier with its explanation. The
// multiplier starts at the neutral 1.0 and grows with friction; the decision
// engine divides the running score by it.
type Friction struct {
	Multiplier float64
	Reasons    []string
}

// Compute derives the friction multiplier for a jurisdiction rule.
// A nil rule yields the neutral multiplier plus the mandatory unknown-rules
// reason. Deterministic and pure.
func Compute(rule *models.JurisdictionRule, b Bands) Friction {
	if rule == nil {
		return Friction{Multiplier: 1.0, Reasons: []string{ReasonUnknownRules}}
	}

	mult := 1.0
	var reasons []string

	if rule.RentalLicenseRequired {
		mult += b.LicensePenalty
		reasons = append(reasons, "rental license required (admin friction)")
	}

	if rule.InspectionFrequency != nil {
		switch *rule.InspectionFrequency {
		case "annual":
			mult += b.AnnualInspectionPenalty
			reasons = append(reasons, "annual inspection cadence (recurring compliance friction)")
		case "biennial":
			mult += b.BiennialInspectionPenalty
			reasons = append(reasons, "biennial inspection cadence (moderate compliance friction)")
		case "complaint":
			reasons = append(reasons, "complaint-based inspections (low recurring friction)")
		}
	}

	if rule.ProcessingDays != nil {
		days := *rule.ProcessingDays
		switch {
		case days >= b.LongProcessingDays:
			mult += b.LongProcessingPenalty
			reasons = append(reasons, fmt.Sprintf("processing delay risk (~%d days)", days))
		case days >= b.ModerateProcessingDays:
			mult += b.ModerateProcessingPenalty
			reasons = append(reasons, fmt.Sprintf("moderate processing time (~%d days)", days))
		}
	}

	if len(rule.TypicalFailPoints) >= b.ManyFailPoints {
		mult += b.FailPointsPenalty
		reasons = append(reasons, fmt.Sprintf("many typical fail points (%d, reinspect likelihood)", len(rule.TypicalFailPoints)))
	}

	if mult > b.MaxMultiplier {
		mult = b.MaxMultiplier
	}

	return Friction{Multiplier: mult, Reasons: reasons}
}
