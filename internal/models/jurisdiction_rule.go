package models

import "time"

// JurisdictionRule describes the rental-compliance posture of a (city,
// state). One global-default row may coexist with an org-scoped override row
// for the same key; the override is preferred when both exist.
type JurisdictionRule struct {
	ID    uint  `json:"id"`
	OrgID *uint `json:"org_id,omitempty"` // nil for the global default row

	City  string `json:"city"`
	State string `json:"state"`

	RentalLicenseRequired bool     `json:"rental_license_required"`
	InspectionAuthority   *string  `json:"inspection_authority,omitempty"`
	InspectionFrequency   *string  `json:"inspection_frequency,omitempty"` // annual|biennial|complaint
	TypicalFailPoints     []string `json:"typical_fail_points,omitempty"`
	RegistrationFee       *float64 `json:"registration_fee,omitempty"`
	ProcessingDays        *int     `json:"processing_days,omitempty"`
	TenantWaitlistDepth   *string  `json:"tenant_waitlist_depth,omitempty"`
	Notes                 *string  `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
