// Package rentpolicy resolves the rent a deal is underwritten against:
// the policy ceiling derived from FMR and local comps, the rent actually
// used, and a human-readable cap reason.
package rentpolicy

// Cap reasons attached to a Resolution. The reason names whichever input
// limited the rent; "none" means the market estimate was used unconstrained.
const (
	CapNone     = "none"
	CapFMR      = "fmr"
	CapComps    = "comps"
	CapOverride = "override"
)

// Ceiling sources, used both for the approved ceiling's tagged variant and
// for candidate traces in explanations.
const (
	SourceFMR      = "fmr"
	SourceComps    = "comps"
	SourceOverride = "override"
)

// Inputs are the raw rent signals for one property. Optional signals are nil
// when absent. ManualOverride only applies when OverrideMarked is set; an
// unmarked override value is ignored rather than silently applied.
type Inputs struct {
	Strategy           string
	MarketRent         *float64
	FMR                *float64
	PaymentStandardPct float64 // 0-1 scale applied to FMR; <=0 treated as 1.0
	Comp               *float64
	ManualOverride     *float64
	OverrideMarked     bool

	// IsEstimated is set by the caller when the market rent was estimated
	// rather than observed; it forces at most REVIEW downstream.
	IsEstimated bool
}

// Ceiling is the approved rent ceiling with its source tagged explicitly, so
// override precedence is visible to every consumer instead of being an
// implicit nullable-field convention.
type Ceiling struct {
	Value  float64
	Source string
}

// Candidate is one ceiling input considered during resolution, kept for
// explanations.
type Candidate struct {
	Source string  `json:"source"`
	Value  float64 `json:"value"`
}

// Resolution is the resolver's full answer. RentUsed is nil when no rent
// signal exists at all; the decision engine treats that as a reject trigger,
// never a crash.
type Resolution struct {
	Strategy        string
	MarketRent      *float64
	ApprovedCeiling *Ceiling
	RentUsed        *float64
	CapReason       string
	IsEstimated     bool
	Candidates      []Candidate
}

// positive returns the value when present and > 0, else nil. Non-positive
// rent signals are treated as missing.
func positive(v *float64) *float64 {
	if v == nil || *v <= 0 {
		return nil
	}
	return v
}

// Resolve computes the approved ceiling and the rent used for underwriting.
// Pure function: no side effects, identical inputs yield identical outputs.
func Resolve(in Inputs) Resolution {
	market := positive(in.MarketRent)

	var candidates []Candidate
	var ceiling *Ceiling

	if fmr := positive(in.FMR); fmr != nil {
		pct := in.PaymentStandardPct
		if pct <= 0 {
			pct = 1.0
		}
		adjusted := *fmr * pct
		candidates = append(candidates, Candidate{Source: SourceFMR, Value: adjusted})
		ceiling = &Ceiling{Value: adjusted, Source: SourceFMR}
	}
	if comp := positive(in.Comp); comp != nil {
		candidates = append(candidates, Candidate{Source: SourceComps, Value: *comp})
		if ceiling == nil || *comp < ceiling.Value {
			ceiling = &Ceiling{Value: *comp, Source: SourceComps}
		}
	}

	// A marked override replaces the computed ceiling outright. Unmarked
	// override values never apply.
	if in.OverrideMarked {
		if ov := positive(in.ManualOverride); ov != nil {
			candidates = append(candidates, Candidate{Source: SourceOverride, Value: *ov})
			ceiling = &Ceiling{Value: *ov, Source: SourceOverride}
		}
	}

	res := Resolution{
		Strategy:        in.Strategy,
		MarketRent:      market,
		ApprovedCeiling: ceiling,
		CapReason:       CapNone,
		IsEstimated:     in.IsEstimated,
		Candidates:      candidates,
	}

	if in.Strategy == "market" {
		// Market strategy ignores the ceiling; rent used is the market
		// estimate or nothing.
		res.RentUsed = market
		return res
	}

	// section8 (default): rent used is min(market, ceiling) when both exist.
	switch {
	case market == nil && ceiling == nil:
		// No rent signal at all: RentUsed stays nil, CapReason "none".
	case market == nil:
		v := ceiling.Value
		res.RentUsed = &v
		res.CapReason = capReasonFor(ceiling.Source)
	case ceiling == nil:
		res.RentUsed = market
	default:
		if *market > ceiling.Value {
			v := ceiling.Value
			res.RentUsed = &v
			res.CapReason = capReasonFor(ceiling.Source)
		} else {
			res.RentUsed = market
			if ceiling.Source == SourceOverride {
				// Overrides are always surfaced even when not binding.
				res.CapReason = CapOverride
			}
		}
	}

	return res
}

func capReasonFor(source string) string {
	switch source {
	case SourceFMR:
		return CapFMR
	case SourceComps:
		return CapComps
	case SourceOverride:
		return CapOverride
	default:
		return CapNone
	}
}
