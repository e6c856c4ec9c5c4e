package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/onehaven/haven/api/internal/logger"
)

const hudTimeout = 15 * time.Second

// HUDClient calls the HUD User Fair Market Rent API.
type HUDClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *logger.Logger
}

// NewHUDClient creates an HUD FMR API client.
func NewHUDClient(baseURL, token string, log *logger.Logger) *HUDClient {
	return &HUDClient{
		httpClient: &http.Client{Timeout: hudTimeout},
		baseURL:    baseURL,
		token:      token,
		logger:     log,
	}
}

type hudFMRResponse struct {
	Data struct {
		BasicData map[string]json.Number `json:"basicdata"`
	} `json:"data"`
}

// FetchFMR returns the Fair Market Rent for the county entity ID and bedroom
// count. Bedroom counts above four map onto the four-bedroom figure, the
// largest HUD publishes.
func (c *HUDClient) FetchFMR(ctx context.Context, entityID string, bedrooms int) (*float64, error) {
	endpoint := fmt.Sprintf("%s/fmr/data/%s", c.baseURL, entityID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build hud request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hud request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hud returned status %d", resp.StatusCode)
	}

	var body hudFMRResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode hud response: %w", err)
	}

	key := fmrBedroomKey(bedrooms)
	raw, ok := body.Data.BasicData[key]
	if !ok {
		return nil, fmt.Errorf("hud response missing %q for entity %s", key, entityID)
	}
	fmr, err := raw.Float64()
	if err != nil {
		return nil, fmt.Errorf("hud returned non-numeric FMR for entity %s: %w", entityID, err)
	}
	if fmr <= 0 {
		return nil, nil
	}

	return &fmr, nil
}

func fmrBedroomKey(bedrooms int) string {
	switch {
	case bedrooms <= 0:
		return "Efficiency"
	case bedrooms == 1:
		return "One-Bedroom"
	case bedrooms == 2:
		return "Two-Bedroom"
	case bedrooms == 3:
		return "Three-Bedroom"
	default:
		return "Four-Bedroom"
	}
}
