package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	CORS      CORSConfig
	Policy    PolicyConfig
	Providers ProviderConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	PoolMin  int
	PoolMax  int
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Origins []string
}

// PolicyConfig holds every underwriting and decision threshold. It is passed
// into the calculator and rules engine as an explicit immutable value, never
// read as ambient global state.
type PolicyConfig struct {
	MaxPrice          float64
	MinBedrooms       int
	RentRuleMinPct    float64
	RentRuleTargetPct float64

	MinDSCR        float64
	TargetCashFlow float64
	TargetROI      float64

	VacancyRate     float64
	MaintenanceRate float64
	ManagementRate  float64
	CapexRate       float64

	InsuranceMonthly float64
	TaxesMonthly     float64
	UtilitiesMonthly float64

	PaymentStandardPct float64

	DefaultInterestRate   float64
	DefaultTermYears      int
	DefaultDownPaymentPct float64

	DecisionVersion string
}

// ProviderConfig holds external rent-data provider settings and the daily
// call budget the enrichment pipeline must respect.
type ProviderConfig struct {
	RentCastAPIKey  string
	RentCastBaseURL string
	HUDToken        string
	HUDBaseURL      string

	DailyCallQuota    int
	EnrichConcurrency int
}

// Load reads configuration from environment variables.
// It uses viper to read values and provides sensible defaults for development.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults for development
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_HOST", "host.docker.internal")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "haven")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_POOL_MAX", 10)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:3001")

	// Deal rule thresholds
	v.SetDefault("MAX_PRICE", 150000.0)
	v.SetDefault("MIN_BEDROOMS", 2)
	v.SetDefault("RENT_RULE_MIN_PCT", 0.013)
	v.SetDefault("RENT_RULE_TARGET_PCT", 0.015)
	v.SetDefault("MIN_DSCR", 1.20)
	v.SetDefault("TARGET_CASHFLOW", 400.0)
	v.SetDefault("TARGET_ROI", 0.15)

	// Underwriting rate assumptions
	v.SetDefault("VACANCY_RATE", 0.05)
	v.SetDefault("MAINTENANCE_RATE", 0.10)
	v.SetDefault("MANAGEMENT_RATE", 0.08)
	v.SetDefault("CAPEX_RATE", 0.05)
	v.SetDefault("INSURANCE_MONTHLY", 150.0)
	v.SetDefault("TAXES_MONTHLY", 300.0)
	v.SetDefault("UTILITIES_MONTHLY", 0.0)
	v.SetDefault("PAYMENT_STANDARD_PCT", 1.10)

	// Financing defaults applied when a deal row omits terms
	v.SetDefault("DEFAULT_INTEREST_RATE", 0.07)
	v.SetDefault("DEFAULT_TERM_YEARS", 30)
	v.SetDefault("DEFAULT_DOWN_PAYMENT_PCT", 0.20)

	v.SetDefault("DECISION_VERSION", "2026-02-10.v1")

	// External providers
	v.SetDefault("RENTCAST_BASE_URL", "https://api.rentcast.io/v1")
	v.SetDefault("HUD_BASE_URL", "https://www.huduser.gov/hudapi/public")
	v.SetDefault("PROVIDER_DAILY_QUOTA", 40)
	v.SetDefault("ENRICH_CONCURRENCY", 4)

	// Bind environment variables
	v.AutomaticEnv()

	// Build configuration
	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetString("PORT"),
			Env:  v.GetString("ENV"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			PoolMin:  v.GetInt("DB_POOL_MIN"),
			PoolMax:  v.GetInt("DB_POOL_MAX"),
		},
		CORS: CORSConfig{
			Origins: parseOrigins(v.GetString("CORS_ORIGINS")),
		},
		Policy: PolicyConfig{
			MaxPrice:              v.GetFloat64("MAX_PRICE"),
			MinBedrooms:           v.GetInt("MIN_BEDROOMS"),
			RentRuleMinPct:        v.GetFloat64("RENT_RULE_MIN_PCT"),
			RentRuleTargetPct:     v.GetFloat64("RENT_RULE_TARGET_PCT"),
			MinDSCR:               v.GetFloat64("MIN_DSCR"),
			TargetCashFlow:        v.GetFloat64("TARGET_CASHFLOW"),
			TargetROI:             v.GetFloat64("TARGET_ROI"),
			VacancyRate:           v.GetFloat64("VACANCY_RATE"),
			MaintenanceRate:       v.GetFloat64("MAINTENANCE_RATE"),
			ManagementRate:        v.GetFloat64("MANAGEMENT_RATE"),
			CapexRate:             v.GetFloat64("CAPEX_RATE"),
			InsuranceMonthly:      v.GetFloat64("INSURANCE_MONTHLY"),
			TaxesMonthly:          v.GetFloat64("TAXES_MONTHLY"),
			UtilitiesMonthly:      v.GetFloat64("UTILITIES_MONTHLY"),
			PaymentStandardPct:    v.GetFloat64("PAYMENT_STANDARD_PCT"),
			DefaultInterestRate:   v.GetFloat64("DEFAULT_INTEREST_RATE"),
			DefaultTermYears:      v.GetInt("DEFAULT_TERM_YEARS"),
			DefaultDownPaymentPct: v.GetFloat64("DEFAULT_DOWN_PAYMENT_PCT"),
			DecisionVersion:       v.GetString("DECISION_VERSION"),
		},
		Providers: ProviderConfig{
			RentCastAPIKey:    v.GetString("RENTCAST_API_KEY"),
			RentCastBaseURL:   v.GetString("RENTCAST_BASE_URL"),
			HUDToken:          v.GetString("HUD_USER_TOKEN"),
			HUDBaseURL:        v.GetString("HUD_BASE_URL"),
			DailyCallQuota:    v.GetInt("PROVIDER_DAILY_QUOTA"),
			EnrichConcurrency: v.GetInt("ENRICH_CONCURRENCY"),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	// Validate database config
	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Database.Port == "" {
		return fmt.Errorf("DB_PORT is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Database.PoolMin < 0 {
		return fmt.Errorf("DB_POOL_MIN must be non-negative")
	}
	if c.Database.PoolMax < 1 {
		return fmt.Errorf("DB_POOL_MAX must be at least 1")
	}
	if c.Database.PoolMin > c.Database.PoolMax {
		return fmt.Errorf("DB_POOL_MIN must be less than or equal to DB_POOL_MAX")
	}

	// Validate CORS config
	if len(c.CORS.Origins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required")
	}

	// Validate policy thresholds
	if c.Policy.MaxPrice <= 0 {
		return fmt.Errorf("MAX_PRICE must be positive")
	}
	if c.Policy.MinBedrooms < 0 {
		return fmt.Errorf("MIN_BEDROOMS must be non-negative")
	}
	if c.Policy.RentRuleMinPct <= 0 || c.Policy.RentRuleMinPct > 1 {
		return fmt.Errorf("RENT_RULE_MIN_PCT must be in (0, 1]")
	}
	if c.Policy.RentRuleTargetPct < c.Policy.RentRuleMinPct {
		return fmt.Errorf("RENT_RULE_TARGET_PCT must be greater than or equal to RENT_RULE_MIN_PCT")
	}
	if c.Policy.MinDSCR <= 0 {
		return fmt.Errorf("MIN_DSCR must be positive")
	}
	if c.Policy.PaymentStandardPct <= 0 {
		return fmt.Errorf("PAYMENT_STANDARD_PCT must be positive")
	}
	rates := map[string]float64{
		"VACANCY_RATE":     c.Policy.VacancyRate,
		"MAINTENANCE_RATE": c.Policy.MaintenanceRate,
		"MANAGEMENT_RATE":  c.Policy.ManagementRate,
		"CAPEX_RATE":       c.Policy.CapexRate,
	}
	for name, rate := range rates {
		if rate < 0 || rate >= 1 {
			return fmt.Errorf("%s must be in [0, 1)", name)
		}
	}

	// Validate provider config
	if c.Providers.DailyCallQuota < 0 {
		return fmt.Errorf("PROVIDER_DAILY_QUOTA must be non-negative")
	}
	if c.Providers.EnrichConcurrency < 1 {
		return fmt.Errorf("ENRICH_CONCURRENCY must be at least 1")
	}

	return nil
}

// parseOrigins splits a comma-separated string of origins into a slice.
func parseOrigins(origins string) []string {
	if origins == "" {
		return []string{}
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
