package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type AuthConfig struct {
	AccessSecret string
}

type LogConfig struct {
	Level string
}

// WorkflowConfig holds the process-wide knobs of the approval engine.
// Thresholds and exchange rates live in the database, not here.
type WorkflowConfig struct {
	LocalCurrency         string
	TaxRate               decimal.Decimal
	InvoiceVPThresholdKey string
	OCVPThresholdKey      string
	OverConsumptionPolicy string
}

type EventsConfig struct {
	BufferSize int
}

type Config struct {
	Environment string
	HTTP        HTTPConfig
	DB          DBConfig
	Auth        AuthConfig
	Log         LogConfig
	Workflow    WorkflowConfig
	Events      EventsConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AddConfigPath("./internal/config")
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_HOST", "0.0.0.0")
	v.SetDefault("HTTP_PORT", 7090)
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "30m")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("WORKFLOW_LOCAL_CURRENCY", "PEN")
	v.SetDefault("WORKFLOW_TAX_RATE", "0.18")
	v.SetDefault("WORKFLOW_INVOICE_VP_THRESHOLD_KEY", "INVOICE_VP_THRESHOLD")
	v.SetDefault("WORKFLOW_OC_VP_THRESHOLD_KEY", "OC_VP_THRESHOLD")
	v.SetDefault("WORKFLOW_OVERCONSUMPTION_POLICY", "warn")
	v.SetDefault("EVENTS_BUFFER_SIZE", 256)

	_ = v.ReadInConfig()

	lifetime, err := time.ParseDuration(v.GetString("DB_CONN_MAX_LIFETIME"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}
	taxRate, err := decimal.NewFromString(strings.TrimSpace(v.GetString("WORKFLOW_TAX_RATE")))
	if err != nil {
		return nil, fmt.Errorf("invalid WORKFLOW_TAX_RATE: %w", err)
	}

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		HTTP: HTTPConfig{
			Host:           v.GetString("HTTP_HOST"),
			Port:           v.GetInt("HTTP_PORT"),
			AllowedOrigins: parseList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
		DB: DBConfig{
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: lifetime,
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
		},
		Workflow: WorkflowConfig{
			LocalCurrency:         strings.ToUpper(strings.TrimSpace(v.GetString("WORKFLOW_LOCAL_CURRENCY"))),
			TaxRate:               taxRate,
			InvoiceVPThresholdKey: v.GetString("WORKFLOW_INVOICE_VP_THRESHOLD_KEY"),
			OCVPThresholdKey:      v.GetString("WORKFLOW_OC_VP_THRESHOLD_KEY"),
			OverConsumptionPolicy: strings.ToLower(strings.TrimSpace(v.GetString("WORKFLOW_OVERCONSUMPTION_POLICY"))),
		},
		Events: EventsConfig{
			BufferSize: v.GetInt("EVENTS_BUFFER_SIZE"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DB.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if len(cfg.Workflow.LocalCurrency) != 3 {
		return fmt.Errorf("WORKFLOW_LOCAL_CURRENCY must be a 3-letter code")
	}
	if cfg.Workflow.TaxRate.IsNegative() {
		return fmt.Errorf("WORKFLOW_TAX_RATE must not be negative")
	}
	switch cfg.Workflow.OverConsumptionPolicy {
	case "warn", "block":
	default:
		return fmt.Errorf("WORKFLOW_OVERCONSUMPTION_POLICY must be warn or block")
	}
	if cfg.Events.BufferSize <= 0 {
		return fmt.Errorf("EVENTS_BUFFER_SIZE must be positive")
	}
	return nil
}

func parseList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	items := strings.Split(raw, ",")
	result := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}
