package underwriting

import "math"

// epsilon guards divisions; anything below this is treated as zero.
const epsilon = 1e-9

// Inputs holds everything the calculator needs for one deal. All rates are
// fractions (0.05 = 5%); fixed costs are monthly dollars.
type Inputs struct {
	PurchasePrice  float64
	Rehab          float64
	DownPaymentPct float64
	InterestRate   float64 // annual
	TermYears      int

	GrossRent float64 // monthly

	VacancyRate     float64
	MaintenanceRate float64
	ManagementRate  float64
	CapexRate       float64

	InsuranceMonthly float64
	TaxesMonthly     float64
	UtilitiesMonthly float64
}

// Outputs are the computed financials for one deal. Ratios that have no
// defined value (no debt service, no cash invested, or a rate structure no
// rent level can break even under) are the unbounded sentinel; callers check
// with IsUnbounded and render them instead of dividing by zero.
type Outputs struct {
	DownPayment         float64
	LoanAmount          float64
	MortgagePayment     float64
	OperatingExpenses   float64
	NOI                 float64
	CashFlow            float64
	DSCR                float64
	CashOnCash          float64
	BreakEvenRent       float64
	MinRentForTargetROI float64
}

// Unbounded is the sentinel for ratio outputs with no defined value.
func Unbounded() float64 { return math.Inf(1) }

// IsUnbounded reports whether v is the unbounded sentinel.
func IsUnbounded(v float64) bool { return math.IsInf(v, 1) }

// monthlyMortgagePayment computes the standard fixed-rate amortization
// payment. A zero rate degenerates to straight-line principal; a
// non-positive principal or term has no amortization schedule and owes
// nothing monthly.
func monthlyMortgagePayment(principal, annualRate float64, termYears int) float64 {
	if principal <= 0 || termYears <= 0 {
		return 0
	}
	r := annualRate / 12.0
	n := float64(termYears * 12)
	if r <= 0 {
		return principal / n
	}
	growth := math.Pow(1+r, n)
	return principal * (r * growth) / (growth - 1)
}

// Run computes the full underwriting output for one deal. Pure and
// deterministic: identical inputs always yield identical outputs.
func Run(in Inputs, targetROI float64) Outputs {
	allInCost := in.PurchasePrice + in.Rehab
	downPayment := allInCost * in.DownPaymentPct
	loanAmount := math.Max(allInCost-downPayment, 0)

	mortgagePayment := monthlyMortgagePayment(loanAmount, in.InterestRate, in.TermYears)

	effectiveGross := in.GrossRent * (1 - in.VacancyRate)

	varOpex := in.GrossRent * (in.MaintenanceRate + in.ManagementRate + in.CapexRate)
	fixedOpex := in.InsuranceMonthly + in.TaxesMonthly + in.UtilitiesMonthly
	operatingExpenses := varOpex + fixedOpex

	noi := effectiveGross - operatingExpenses
	cashFlow := noi - mortgagePayment

	dscr := Unbounded()
	if mortgagePayment > epsilon {
		dscr = noi / mortgagePayment
	}

	cashOnCash := Unbounded()
	if downPayment > epsilon {
		cashOnCash = (cashFlow * 12) / downPayment
	}

	// Solve cash_flow = 0 for rent. The denominator collects every
	// rent-proportional term; when it is non-positive no rent level breaks
	// even under this rate structure.
	a := (1 - in.VacancyRate) - (in.MaintenanceRate + in.ManagementRate + in.CapexRate)

	breakEvenRent := Unbounded()
	minRentForTargetROI := Unbounded()
	if a > epsilon {
		breakEvenRent = (fixedOpex + mortgagePayment) / a
		requiredMonthly := targetROI * downPayment / 12
		minRentForTargetROI = (fixedOpex + mortgagePayment + requiredMonthly) / a
	}

	return Outputs{
		DownPayment:         round2(downPayment),
		LoanAmount:          round2(loanAmount),
		MortgagePayment:     round2(mortgagePayment),
		OperatingExpenses:   round2(operatingExpenses),
		NOI:                 round2(noi),
		CashFlow:            round2(cashFlow),
		DSCR:                round3(dscr),
		CashOnCash:          round3(cashOnCash),
		BreakEvenRent:       round2(breakEvenRent),
		MinRentForTargetROI: round2(minRentForTargetROI),
	}
}

// round2 rounds money to cents. Unbounded sentinels pass through.
func round2(v float64) float64 {
	if IsUnbounded(v) {
		return v
	}
	return math.Round(v*100) / 100
}

// round3 rounds ratios to three places. Unbounded sentinels pass through.
func round3(v float64) float64 {
	if IsUnbounded(v) {
		return v
	}
	return math.Round(v*1000) / 1000
}
