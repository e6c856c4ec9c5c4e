package models

import (
	"encoding/json"
	"math"
	"time"
)

// Ratio is a financial ratio that may have no defined value (no debt
// service, no cash invested, or no achievable break-even rent). The
// unbounded sentinel encodes as JSON null so API consumers render a
// placeholder instead of choking on +Inf, which encoding/json rejects.
type Ratio float64

// UnboundedRatio is the sentinel for a ratio with no defined value.
func UnboundedRatio() Ratio { return Ratio(math.Inf(1)) }

// IsUnbounded reports whether the ratio has no defined value.
func (r Ratio) IsUnbounded() bool { return math.IsInf(float64(r), 1) }

func (r Ratio) MarshalJSON() ([]byte, error) {
	if r.IsUnbounded() {
		return []byte("null"), nil
	}
	return json.Marshal(float64(r))
}

func (r *Ratio) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = UnboundedRatio()
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = Ratio(v)
	return nil
}

// UnderwritingResult is one row per evaluation run of a Deal. The history is
// append-only: re-evaluating a deal inserts a new row so prior decisions
// remain auditable.
type UnderwritingResult struct {
	ID     uint `json:"id"`
	DealID uint `json:"deal_id"`

	Decision string   `json:"decision"` // PASS | REVIEW | REJECT
	Score    int      `json:"score"`
	Reasons  []string `json:"reasons"` // ordered, most decision-relevant first

	GrossRentUsed       float64 `json:"gross_rent_used"`
	MortgagePayment     float64 `json:"mortgage_payment"`
	OperatingExpenses   float64 `json:"operating_expenses"`
	NOI                 float64 `json:"noi"`
	CashFlow            float64 `json:"cash_flow"`
	DSCR                Ratio   `json:"dscr"`
	CashOnCash          Ratio   `json:"cash_on_cash"`
	BreakEvenRent       Ratio   `json:"break_even_rent"`
	MinRentForTargetROI Ratio   `json:"min_rent_for_target_roi"`

	RentCapReason   string `json:"rent_cap_reason"`
	RentIsEstimated bool   `json:"rent_is_estimated"`

	JurisdictionMultiplier *float64 `json:"jurisdiction_multiplier,omitempty"`
	JurisdictionReasons    []string `json:"jurisdiction_reasons,omitempty"`

	DecisionVersion        string   `json:"decision_version"`
	PaymentStandardPctUsed *float64 `json:"payment_standard_pct_used,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
