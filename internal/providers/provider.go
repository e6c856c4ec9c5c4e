package providers

import (
	"context"

	"github.com/onehaven/haven/api/internal/logger"
	"github.com/onehaven/haven/api/internal/models"
)

// RentData carries the rent signals fetched for one property. Any field may
// be nil when the upstream source has no answer for it.
type RentData struct {
	MarketRent *float64
	FMR        *float64
	Comp       *float64
}

// RentDataProvider fetches external rent signals for a property. One
// FetchRentData call consumes one unit of the daily call budget regardless
// of how many upstream requests it fans out to.
type RentDataProvider interface {
	Name() string
	FetchRentData(ctx context.Context, property models.Property) (RentData, error)
}

// liveProvider chains RentCast for market rent and comps with HUD for the
// Fair Market Rent of the property's county.
type liveProvider struct {
	rentcast *RentCastClient
	hud      *HUDClient
	logger   *logger.Logger
}

// NewLiveProvider creates a provider backed by the real RentCast and HUD APIs.
func NewLiveProvider(rentcast *RentCastClient, hud *HUDClient, log *logger.Logger) RentDataProvider {
	return &liveProvider{
		rentcast: rentcast,
		hud:      hud,
		logger:   log,
	}
}

func (p *liveProvider) Name() string {
	return "rentcast"
}

func (p *liveProvider) FetchRentData(ctx context.Context, property models.Property) (RentData, error) {
	estimate, err := p.rentcast.FetchRentEstimate(ctx, property)
	if err != nil {
		return RentData{}, err
	}

	data := RentData{
		MarketRent: estimate.Rent,
		Comp:       estimate.CompMedian,
	}

	// FMR is best-effort. A missing county FIPS or an HUD outage degrades
	// the row to market-only signals instead of failing enrichment.
	entityID := fmrEntityID(property.State, estimate.CountyFIPS)
	if entityID == "" {
		p.logger.Warn("skipping FMR lookup, no county FIPS", map[string]interface{}{
			"property_id": property.ID,
			"state":       property.State,
		})
		return data, nil
	}

	fmr, err := p.hud.FetchFMR(ctx, entityID, property.Bedrooms)
	if err != nil {
		p.logger.Warn("FMR lookup failed", map[string]interface{}{
			"property_id": property.ID,
			"entity_id":   entityID,
			"error":       err.Error(),
		})
		return data, nil
	}
	data.FMR = fmr

	return data, nil
}

// fmrEntityID builds the HUD county entity ID: 2-digit state FIPS, 3-digit
// county FIPS, then the fixed "99999" county suffix HUD expects.
func fmrEntityID(state, countyFIPS string) string {
	stateFIPS, ok := stateFIPSCodes[state]
	if !ok || len(countyFIPS) != 3 {
		return ""
	}
	return stateFIPS + countyFIPS + "99999"
}

var stateFIPSCodes = map[string]string{
	"AL": "01", "AK": "02", "AZ": "04", "AR": "05", "CA": "06",
	"CO": "08", "CT": "09", "DE": "10", "DC": "11", "FL": "12",
	"GA": "13", "HI": "15", "ID": "16", "IL": "17", "IN": "18",
	"IA": "19", "KS": "20", "KY": "21", "LA": "22", "ME": "23",
	"MD": "24", "MA": "25", "MI": "26", "MN": "27", "MS": "28",
	"MO": "29", "MT": "30", "NE": "31", "NV": "32", "NH": "33",
	"NJ": "34", "NM": "35", "NY": "36", "NC": "37", "ND": "38",
	"OH": "39", "OK": "40", "OR": "41", "PA": "42", "RI": "44",
	"SC": "45", "SD": "46", "TN": "47", "TX": "48", "UT": "49",
	"VT": "50", "VA": "51", "WA": "53", "WV": "54", "WI": "55",
	"WY": "56",
}
