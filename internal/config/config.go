package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the full application configuration surface.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	MongoDB   MongoDBConfig
	Auth      AuthConfig
	WhatsApp  WhatsAppConfig
	Sheets    SheetsConfig
	AI        AIConfig
	Rotation  RotationConfig
	RateLimit RateLimitConfig
	Security  SecurityConfig
	Invoicing InvoicingConfig
	Reporting ReportingConfig
	LogLevel  string
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port          string
	AllowedOrigin string
}

// DatabaseConfig points at the Postgres instance holding marketplace records.
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
}

// MongoDBConfig holds settings for MongoDB.
type MongoDBConfig struct {
	URI    string
	DBName string
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// WhatsAppConfig contains credentials and options for the Meta WhatsApp Cloud API.
type WhatsAppConfig struct {
	AccessToken   string
	PhoneNumberID string
	VerifyToken   string
	// AppSecret signs webhook deliveries (X-Hub-Signature-256).
	AppSecret  string
	BaseURL    string
	APIVersion string
	// AdminRecipient receives the weekly platform summary.
	AdminRecipient string
}

// Enabled reports whether outbound WhatsApp messages can be sent.
func (c WhatsAppConfig) Enabled() bool {
	return c.AccessToken != "" && c.PhoneNumberID != ""
}

// SheetsConfig contains configuration for the invoice ledger spreadsheet.
type SheetsConfig struct {
	CredentialsPath string
	SpreadsheetID   string
}

// Enabled reports whether the invoice ledger export is configured.
func (c SheetsConfig) Enabled() bool {
	return c.CredentialsPath != "" && c.SpreadsheetID != ""
}

// AIConfig holds settings for LLM providers.
type AIConfig struct {
	AnthropicKey string
}

// RotationConfig tunes provider rotation.
type RotationConfig struct {
	OfferTimeout   time.Duration
	MaxRadiusKm    float64
	MaxQueueLength int
	SweepSchedule  string
}

// RateLimitConfig configures the per-caller token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// SecurityConfig configures failed-auth lockouts.
type SecurityConfig struct {
	FailedAuthThreshold int
	LockoutWindow       time.Duration
}

// InvoicingConfig holds billing defaults.
type InvoicingConfig struct {
	DefaultTaxRate  string
	PaymentTermDays int
}

// ReportingConfig holds scheduler-related settings.
type ReportingConfig struct {
	DailyCron  string
	WeeklyCron string
	Timezone   string
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// Ignore the returned error here; missing .env files are acceptable when
		// configuration comes from the environment directly.
		_ = godotenv.Load()
	}

	var errs []error
	cfg := &Config{
		Server: ServerConfig{
			Port:          getenvWithDefault("APP_PORT", "8080"),
			AllowedOrigin: getenvWithDefault("CORS_ALLOWED_ORIGIN", "*"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: getenvInt("DATABASE_MAX_OPEN_CONNS", 20, &errs),
		},
		MongoDB: MongoDBConfig{
			URI:    getenvWithDefault("MONGODB_URI", "mongodb://localhost:27017"),
			DBName: getenvWithDefault("MONGODB_DB_NAME", "buildmart"),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
			Issuer:    os.Getenv("JWT_ISSUER"),
		},
		WhatsApp: WhatsAppConfig{
			AccessToken:    os.Getenv("WHATSAPP_TOKEN"),
			PhoneNumberID:  os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
			VerifyToken:    os.Getenv("META_VERIFY_TOKEN"),
			AppSecret:      os.Getenv("META_APP_SECRET"),
			BaseURL:        getenvWithDefault("WHATSAPP_BASE_URL", "https://graph.facebook.com"),
			APIVersion:     getenvWithDefault("WHATSAPP_API_VERSION", "v20.0"),
			AdminRecipient: os.Getenv("WHATSAPP_ADMIN_RECIPIENT"),
		},
		Sheets: SheetsConfig{
			CredentialsPath: os.Getenv("GOOGLE_SHEETS_CREDENTIALS_PATH"),
			SpreadsheetID:   os.Getenv("INVOICE_LEDGER_SPREADSHEET_ID"),
		},
		AI: AIConfig{
			AnthropicKey: os.Getenv("ANTHROPIC_API_KEY"),
		},
		Rotation: RotationConfig{
			OfferTimeout:   getenvDuration("ROTATION_OFFER_TIMEOUT", 5*time.Minute, &errs),
			MaxRadiusKm:    getenvFloat("ROTATION_MAX_RADIUS_KM", 50, &errs),
			MaxQueueLength: getenvInt("ROTATION_MAX_QUEUE_LENGTH", 10, &errs),
			SweepSchedule:  getenvWithDefault("ROTATION_SWEEP_SCHEDULE", "@every 30s"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getenvFloat("RATE_LIMIT_RPS", 10, &errs),
			Burst:             getenvInt("RATE_LIMIT_BURST", 20, &errs),
		},
		Security: SecurityConfig{
			FailedAuthThreshold: getenvInt("SECURITY_FAILED_AUTH_THRESHOLD", 5, &errs),
			LockoutWindow:       getenvDuration("SECURITY_LOCKOUT_WINDOW", 15*time.Minute, &errs),
		},
		Invoicing: InvoicingConfig{
			DefaultTaxRate:  getenvWithDefault("INVOICE_DEFAULT_TAX_RATE", "0.15"),
			PaymentTermDays: getenvInt("INVOICE_PAYMENT_TERM_DAYS", 30, &errs),
		},
		Reporting: ReportingConfig{
			DailyCron:  getenvWithDefault("REPORT_DAILY_CRON", "5 0 * * *"),
			WeeklyCron: getenvWithDefault("REPORT_WEEKLY_CRON", "0 20 * * 5"),
			Timezone:   getenvWithDefault("TIMEZONE", "Africa/Nairobi"),
		},
		LogLevel: getenvWithDefault("LOG_LEVEL", "info"),
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}

	switch {
	case c.Database.URL == "":
		return errors.New("DATABASE_URL must be provided")
	case c.Auth.JWTSecret == "":
		return errors.New("JWT_SECRET must be provided")
	case len(c.Auth.JWTSecret) < 32:
		return errors.New("JWT_SECRET must be at least 32 characters")
	}

	if c.MongoDB.URI == "" || c.MongoDB.DBName == "" {
		return errors.New("MONGODB_URI and MONGODB_DB_NAME must not be empty")
	}

	if c.WhatsApp.Enabled() && c.WhatsApp.VerifyToken == "" {
		return errors.New("META_VERIFY_TOKEN must be provided when WhatsApp is enabled")
	}

	if c.WhatsApp.Enabled() && c.WhatsApp.AppSecret == "" {
		return errors.New("META_APP_SECRET must be provided when WhatsApp is enabled")
	}

	if c.WhatsApp.BaseURL == "" {
		return errors.New("WHATSAPP_BASE_URL must not be empty")
	}

	if c.WhatsApp.APIVersion == "" {
		return errors.New("WHATSAPP_API_VERSION must not be empty")
	}

	if (c.Sheets.CredentialsPath == "") != (c.Sheets.SpreadsheetID == "") {
		return errors.New("GOOGLE_SHEETS_CREDENTIALS_PATH and INVOICE_LEDGER_SPREADSHEET_ID must be set together")
	}

	if c.Rotation.OfferTimeout <= 0 {
		return errors.New("ROTATION_OFFER_TIMEOUT must be positive")
	}

	if c.Rotation.MaxRadiusKm <= 0 {
		return errors.New("ROTATION_MAX_RADIUS_KM must be positive")
	}

	if c.Rotation.MaxQueueLength <= 0 {
		return errors.New("ROTATION_MAX_QUEUE_LENGTH must be positive")
	}

	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	if c.Security.FailedAuthThreshold <= 0 {
		return errors.New("SECURITY_FAILED_AUTH_THRESHOLD must be positive")
	}

	if _, err := strconv.ParseFloat(c.Invoicing.DefaultTaxRate, 64); err != nil {
		return fmt.Errorf("INVOICE_DEFAULT_TAX_RATE is not a number: %w", err)
	}

	if c.Reporting.DailyCron == "" || c.Reporting.WeeklyCron == "" {
		return errors.New("REPORT_DAILY_CRON and REPORT_WEEKLY_CRON must be provided")
	}

	if _, err := time.LoadLocation(c.Reporting.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q is invalid: %w", c.Reporting.Timezone, err)
	}

	return nil
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be an integer: %w", key, err))
		return fallback
	}
	return n
}

func getenvFloat(key string, fallback float64, errs *[]error) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a number: %w", key, err))
		return fallback
	}
	return f
}

func getenvDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a duration: %w", key, err))
		return fallback
	}
	return d
}
