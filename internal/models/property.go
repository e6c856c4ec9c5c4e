package models

import "time"

// Deal strategies. Section 8 deals are capped by the policy rent ceiling;
// market deals underwrite against the raw market rent estimate.
const (
	StrategySection8 = "section8"
	StrategyMarket   = "market"
)

// Property represents a physical rental unit. Identity is immutable;
// properties are created on intake and rarely mutated afterward.
type Property struct {
	ID           uint      `json:"id"`
	Address      string    `json:"address"`
	City         string    `json:"city"`
	State        string    `json:"state"`
	Zip          string    `json:"zip"`
	Bedrooms     int       `json:"bedrooms"`
	Bathrooms    float64   `json:"bathrooms"`
	SquareFeet   *int      `json:"square_feet,omitempty"`
	YearBuilt    *int      `json:"year_built,omitempty"`
	HasGarage    bool      `json:"has_garage"`
	PropertyType string    `json:"property_type"`
	CreatedAt    time.Time `json:"created_at"`
}
