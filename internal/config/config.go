package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	AutoMigrate   bool   `envconfig:"AUTO_MIGRATE" default:"false"`
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	StoreID       string `envconfig:"DEFAULT_STORE_ID" default:"main-store"`
	AuthSecret    string `envconfig:"AUTH_SECRET"`
	ManagerPIN    string `envconfig:"MANAGER_PIN"`

	TaxRatePercent float64 `envconfig:"TAX_RATE_PERCENT" default:"16"`

	BackofficeURL     string        `envconfig:"BACKOFFICE_URL" default:"http://127.0.0.1:3000"`
	BackofficeToken   string        `envconfig:"BACKOFFICE_TOKEN"`
	BackofficeTimeout time.Duration `envconfig:"BACKOFFICE_TIMEOUT" default:"15s"`

	MpesaPollInterval time.Duration `envconfig:"MPESA_POLL_INTERVAL" default:"3s"`
	MpesaMaxAttempts  int           `envconfig:"MPESA_MAX_ATTEMPTS" default:"12"`
	PesapalReturnURL  string        `envconfig:"PESAPAL_RETURN_URL" default:"http://127.0.0.1:3000/pos"`
	PendingOrderTTL   time.Duration `envconfig:"PENDING_ORDER_TTL" default:"48h"`

	// PesapalCallbackURL is this service's own return endpoint as Pesapal sees it.
	PesapalCallbackURL string `envconfig:"PESAPAL_CALLBACK_URL" default:"http://127.0.0.1:8080/api/v1/pesapal/return"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.ManagerPIN = strings.TrimSpace(cfg.ManagerPIN)
	cfg.BackofficeURL = strings.TrimRight(strings.TrimSpace(cfg.BackofficeURL), "/")

	if cfg.TaxRatePercent < 0 || cfg.TaxRatePercent > 100 {
		return Config{}, fmt.Errorf("TAX_RATE_PERCENT must be within [0,100], got %v", cfg.TaxRatePercent)
	}
	if cfg.MpesaPollInterval <= 0 {
		cfg.MpesaPollInterval = 3 * time.Second
	}
	if cfg.MpesaMaxAttempts < 1 {
		cfg.MpesaMaxAttempts = 12
	}
	if cfg.PendingOrderTTL <= 0 {
		cfg.PendingOrderTTL = 48 * time.Hour
	}

	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
