// Package decision combines resolved rent, underwriting math, and
// jurisdiction friction into an explainable PASS/REVIEW/REJECT call. Every
// branch appends a reason: the reason list is the audit trail.
package decision

import (
	"fmt"
	"math"

	"github.com/onehaven/haven/api/internal/jurisdiction"
	"github.com/onehaven/haven/api/internal/rentpolicy"
	"github.com/onehaven/haven/api/internal/underwriting"
)

// Terminal decisions. Each evaluation run is a fresh classification, not a
// transition from a prior one.
const (
	Pass   = "PASS"
	Review = "REVIEW"
	Reject = "REJECT"
)

const baseScore = 50

// Rules is the immutable threshold configuration for one evaluation. Passing
// it explicitly keeps tests deterministic with varied thresholds.
type Rules struct {
	MaxPrice          float64
	MinBedrooms       int
	RentRuleMinPct    float64 // minimum monthly rent as a fraction of price
	RentRuleTargetPct float64
	MinDSCR           float64
	TargetCashFlow    float64 // monthly
}

// Input is the full deal context for one evaluation. Underwriting is nil
// when no rent signal existed to underwrite against.
type Input struct {
	AskingPrice  float64
	Bedrooms     int
	HasGarage    bool
	Rent         rentpolicy.Resolution
	Underwriting *underwriting.Outputs
	Friction     jurisdiction.Friction

	// Ancillary proxies. Inventory is recorded for the audit trail only;
	// walk proximity is a soft score signal.
	InventoryCount *int
	WalkMinutes    *int
}

// Result is the engine's classification with its ordered audit trail.
type Result struct {
	Decision string
	Score    int
	Reasons  []string
}

// Evaluate runs the ordered rule set. Hard gates short-circuit with a single
// reason; soft signals accumulate score; friction scales the score down;
// estimated rent caps the outcome at REVIEW no matter how strong the score.
func Evaluate(in Input, rules Rules) Result {
	// Hard gates first: these force a terminal value and skip everything else.
	if in.AskingPrice > rules.MaxPrice {
		return Result{Reject, 0, []string{
			fmt.Sprintf("price %.0f exceeds max %.0f", in.AskingPrice, rules.MaxPrice),
		}}
	}
	if in.Bedrooms < rules.MinBedrooms {
		return Result{Reject, 0, []string{
			fmt.Sprintf("bedrooms %d below minimum %d", in.Bedrooms, rules.MinBedrooms),
		}}
	}
	if in.Rent.RentUsed == nil {
		return Result{Reject, 0, []string{"missing rent inputs"}}
	}

	score := float64(baseScore)
	var reasons []string

	if in.HasGarage {
		score -= 5
		reasons = append(reasons, "garage present (rehab/maintenance risk flag)")
	}

	rent := *in.Rent.RentUsed
	minRent := in.AskingPrice * rules.RentRuleMinPct
	targetRent := in.AskingPrice * rules.RentRuleTargetPct

	if rent < minRent {
		return Result{Reject, 0, []string{
			fmt.Sprintf("fails rent rule: rent %.0f below minimum %.0f", rent, minRent),
		}}
	}
	if rent >= targetRent {
		score += 15
		reasons = append(reasons, "meets target rent rule")
	} else {
		score += 5
		reasons = append(reasons, "meets minimum rent rule")
	}

	// Surface capping: a lower policy ceiling bound the rent.
	switch in.Rent.CapReason {
	case rentpolicy.CapFMR:
		score -= 3
		reasons = append(reasons, "rent capped by FMR-derived policy ceiling")
	case rentpolicy.CapComps:
		score -= 3
		reasons = append(reasons, "rent capped by rent-reasonableness comp")
	case rentpolicy.CapOverride:
		reasons = append(reasons, "manual rent ceiling override in effect")
	}

	if in.InventoryCount != nil {
		reasons = append(reasons, fmt.Sprintf("inventory proxy recorded (snapshot count): %d", *in.InventoryCount))
	}
	if in.WalkMinutes != nil {
		if *in.WalkMinutes <= 10 {
			score += 10
			reasons = append(reasons, "walkable amenity proxy good (<= 10 minutes)")
		} else {
			score -= 5
			reasons = append(reasons, "walkable amenity proxy weak (> 10 minutes)")
		}
	}

	// Higher friction lowers the score; the reasons carry over verbatim.
	if in.Friction.Multiplier > 1 {
		score /= in.Friction.Multiplier
	}
	reasons = append(reasons, in.Friction.Reasons...)

	// Underwriting gates.
	downgradeToReview := false
	if uw := in.Underwriting; uw != nil {
		if !underwriting.IsUnbounded(uw.DSCR) && uw.DSCR < rules.MinDSCR {
			return Result{Reject, 0, []string{
				fmt.Sprintf("DSCR %.2f below minimum %.2f", uw.DSCR, rules.MinDSCR),
			}}
		}
		if uw.CashFlow < rules.TargetCashFlow {
			downgradeToReview = true
			reasons = append(reasons, fmt.Sprintf("cash flow %.0f below target %.0f", uw.CashFlow, rules.TargetCashFlow))
		} else {
			reasons = append(reasons, "cash flow meets target")
		}
	}

	final := int(math.Round(math.Max(0, math.Min(100, score))))

	var dec string
	switch {
	case final >= 75:
		dec = Pass
	case final >= 55:
		dec = Review
	default:
		dec = Reject
	}

	if dec == Pass && downgradeToReview {
		dec = Review
	}

	// Estimated rent never silently passes.
	if in.Rent.IsEstimated && dec == Pass {
		dec = Review
		reasons = append(reasons, "rent was estimated; verify against comps/FMR before PASS")
	}

	return Result{dec, final, reasons}
}
