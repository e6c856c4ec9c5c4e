package models

import "time"

// Deal is a proposed acquisition tied to exactly one Property. Financing
// terms may be edited before evaluation; each evaluation run appends a new
// UnderwritingResult rather than mutating a prior one.
type Deal struct {
	ID                     uint      `json:"id"`
	PropertyID             uint      `json:"property_id"`
	SnapshotID             uint      `json:"snapshot_id"`
	Source                 *string   `json:"source,omitempty"`
	AskingPrice            float64   `json:"asking_price"`
	EstimatedPurchasePrice *float64  `json:"estimated_purchase_price,omitempty"`
	RehabEstimate          float64   `json:"rehab_estimate"`
	Strategy               string    `json:"strategy"`
	InterestRate           float64   `json:"interest_rate"`
	TermYears              int       `json:"term_years"`
	DownPaymentPct         float64   `json:"down_payment_pct"`
	CreatedAt              time.Time `json:"created_at"`
}

// Snapshot is an immutable batch of imported (Property, Deal) pairs sharing
// one id. Snapshots are produced by the import step and consumed read-only
// by the pipeline.
type Snapshot struct {
	ID        uint      `json:"id"`
	Source    string    `json:"source"`
	Notes     *string   `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
