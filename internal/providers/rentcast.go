package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/onehaven/haven/api/internal/logger"
	"github.com/onehaven/haven/api/internal/models"
)

const rentcastTimeout = 15 * time.Second

// RentEstimate is the distilled output of one RentCast AVM lookup.
type RentEstimate struct {
	Rent       *float64
	CompMedian *float64
	CountyFIPS string
}

// RentCastClient calls the RentCast long-term rent AVM.
type RentCastClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *logger.Logger
}

// NewRentCastClient creates a RentCast API client.
func NewRentCastClient(baseURL, apiKey string, log *logger.Logger) *RentCastClient {
	return &RentCastClient{
		httpClient: &http.Client{Timeout: rentcastTimeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		logger:     log,
	}
}

type rentcastAVMResponse struct {
	Rent        *float64 `json:"rent"`
	RentLow     *float64 `json:"rentRangeLow"`
	RentHigh    *float64 `json:"rentRangeHigh"`
	CountyFIPS  string   `json:"countyFips"`
	Comparables []struct {
		Price *float64 `json:"price"`
	} `json:"comparables"`
}

// FetchRentEstimate queries the AVM for one property's long-term rent, the
// median of its comparables, and the county FIPS RentCast resolved for the
// address.
func (c *RentCastClient) FetchRentEstimate(ctx context.Context, property models.Property) (RentEstimate, error) {
	params := url.Values{}
	params.Set("address", fmt.Sprintf("%s, %s, %s %s",
		property.Address, property.City, property.State, property.Zip))
	params.Set("propertyType", "Single Family")
	params.Set("bedrooms", strconv.Itoa(property.Bedrooms))
	params.Set("bathrooms", strconv.FormatFloat(property.Bathrooms, 'f', -1, 64))

	endpoint := fmt.Sprintf("%s/avm/rent/long-term?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return RentEstimate{}, fmt.Errorf("failed to build rentcast request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return RentEstimate{}, fmt.Errorf("rentcast request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return RentEstimate{}, fmt.Errorf("rentcast returned status %d", resp.StatusCode)
	}

	var body rentcastAVMResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return RentEstimate{}, fmt.Errorf("failed to decode rentcast response: %w", err)
	}

	return RentEstimate{
		Rent:       body.Rent,
		CompMedian: medianCompPrice(body),
		CountyFIPS: body.CountyFIPS,
	}, nil
}

func medianCompPrice(body rentcastAVMResponse) *float64 {
	var prices []float64
	for _, comp := range body.Comparables {
		if comp.Price != nil && *comp.Price > 0 {
			prices = append(prices, *comp.Price)
		}
	}
	if len(prices) == 0 {
		return nil
	}

	sort.Float64s(prices)
	mid := len(prices) / 2
	var median float64
	if len(prices)%2 == 0 {
		median = (prices[mid-1] + prices[mid]) / 2
	} else {
		median = prices[mid]
	}
	return &median
}
