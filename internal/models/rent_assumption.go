package models

import "time"

// RentAssumption holds the rent signals for a property: at most one row per
// Property. Enrichment overwrites the observed fields in place, but a marked
// ceiling override is never silently replaced.
type RentAssumption struct {
	ID                     uint     `json:"id"`
	PropertyID             uint     `json:"property_id"`
	MarketRentEstimate     *float64 `json:"market_rent_estimate,omitempty"`
	Section8FMR            *float64 `json:"section8_fmr,omitempty"`
	RentReasonablenessComp *float64 `json:"rent_reasonableness_comp,omitempty"`
	ApprovedRentCeiling    *float64 `json:"approved_rent_ceiling,omitempty"`

	// CeilingOverride marks ApprovedRentCeiling as a manual override. When
	// set, the computed min(FMR-derived, comp) ceiling does not apply and
	// every explanation must flag the override.
	CeilingOverride bool `json:"ceiling_override"`

	RentUsed *float64 `json:"rent_used,omitempty"`

	// Ancillary proxies recorded for analytics; not deal gates.
	InventoryCount *int `json:"inventory_count,omitempty"`
	WalkMinutes    *int `json:"walk_minutes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RentExplainRun is one persisted rent-resolution audit record. Explain runs
// are append-only so re-running the resolver versions the paper trail
// instead of overwriting it.
type RentExplainRun struct {
	ID                 uint      `json:"id"`
	PropertyID         uint      `json:"property_id"`
	Strategy           string    `json:"strategy"`
	CapReason          string    `json:"cap_reason"`
	RentUsed           *float64  `json:"rent_used,omitempty"`
	ApprovedCeiling    *float64  `json:"approved_ceiling,omitempty"`
	CeilingSource      *string   `json:"ceiling_source,omitempty"`
	PaymentStandardPct float64   `json:"payment_standard_pct"`
	DecisionVersion    string    `json:"decision_version"`
	CreatedAt          time.Time `json:"created_at"`
}
