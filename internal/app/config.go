package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/petiteboutique/shop-api/internal/domain/shipping"
)

// Config is everything the server needs at startup. Values come from
// SHOP_-prefixed environment variables, flags, or a YAML file.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`

	APIKeyPepper  string `usage:"HMAC pepper for API key hashing (SHOP_API_KEY_PEPPER)" flag:"api-key-pepper"`
	WebhookSecret string `usage:"Shared token expected on payment provider webhooks" flag:"webhook-secret"`

	PublicAPIKey string `default:"" usage:"Payment provider publishable key served to the storefront" flag:"public-api-key"`
	Currency     string `default:"eur" usage:"Store currency code"`

	// TaxRate is a percentage, e.g. "20" for 20% VAT.
	TaxRate string `default:"20" usage:"Tax rate percentage applied to discounted subtotals" flag:"tax-rate"`
	// DonationPercentage is the share of each order's subtotal earmarked
	// for donation, e.g. "15".
	DonationPercentage string `default:"15" usage:"Donation share of order subtotals, in percent" flag:"donation-percentage"`

	Shipping  ShippingConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// ShippingConfig holds the delivery rate table. Amounts are decimal
// strings in store currency.
type ShippingConfig struct {
	Standard          string `default:"5.90" usage:"Standard delivery cost"`
	Express           string `default:"12.90" usage:"Express delivery cost"`
	Relay             string `default:"3.90" usage:"Relay point delivery cost"`
	FreeStandardAbove string `default:"50" usage:"Subtotal above which standard delivery is free" flag:"free-standard-above"`
}

// Rates parses the configured amounts into a shipping rate table.
func (c ShippingConfig) Rates() (shipping.Rates, error) {
	var (
		rates shipping.Rates
		err   error
	)
	if rates.Standard, err = decimal.NewFromString(c.Standard); err != nil {
		return rates, errors.Wrap(err, "standard rate")
	}
	if rates.Express, err = decimal.NewFromString(c.Express); err != nil {
		return rates, errors.Wrap(err, "express rate")
	}
	if rates.Relay, err = decimal.NewFromString(c.Relay); err != nil {
		return rates, errors.Wrap(err, "relay rate")
	}
	if rates.FreeStandardAbove, err = decimal.NewFromString(c.FreeStandardAbove); err != nil {
		return rates, errors.Wrap(err, "free standard threshold")
	}
	return rates, nil
}

// RateLimitConfig sizes the per-client request budget.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig restricts which storefront origins may call the API.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig times the shutdown sequence.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig reads configuration from the environment and optional YAML
// files, then fills in platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/shop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults honours the unprefixed DATABASE_URL and PORT
// variables that hosting platforms inject, without letting them override
// explicit SHOP_ settings.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
