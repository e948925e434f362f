package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Rates holds every percentage the settlement engine is allowed to use.
// Nothing in the domain packages carries a literal rate; this struct is the
// single source of truth.
type Rates struct {
	SellerShare           float64
	FastDeliveryRate      float64
	PickupDeliveryRate    float64
	PickupSiteRate        float64
	PlatformMarginRate    float64
	ReferralShareOfMargin float64
}

// Config bundles process-level settings loaded from the environment.
type Config struct {
	DatabaseURL string
	HTTPAddr    string
	JWTSecret   string

	KafkaBrokers []string
	OutboxTopic  string

	SellerPickupCodeTTL  time.Duration
	BuyerDeliveryCodeTTL time.Duration
	SiteHandoffCodeTTL   time.Duration

	Rates Rates
}

// Load reads .env (when present) and the process environment, applies
// defaults, and validates the result. A misconfigured rate aborts startup.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		OutboxTopic:  getEnv("OUTBOX_TOPIC", "orderflow.events"),
		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
	}

	var err error
	if cfg.SellerPickupCodeTTL, err = getDuration("SELLER_PICKUP_CODE_TTL", 30*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.BuyerDeliveryCodeTTL, err = getDuration("BUYER_DELIVERY_CODE_TTL", 60*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.SiteHandoffCodeTTL, err = getDuration("SITE_HANDOFF_CODE_TTL", 30*time.Minute); err != nil {
		return Config{}, err
	}

	if cfg.Rates.SellerShare, err = getRate("SELLER_SHARE", 0.85); err != nil {
		return Config{}, err
	}
	if cfg.Rates.FastDeliveryRate, err = getRate("FAST_DELIVERY_COMMISSION_RATE", 0.15); err != nil {
		return Config{}, err
	}
	if cfg.Rates.PickupDeliveryRate, err = getRate("PICKUP_DELIVERY_COMMISSION_RATE", 0.10); err != nil {
		return Config{}, err
	}
	if cfg.Rates.PickupSiteRate, err = getRate("PICKUP_SITE_COMMISSION_RATE", 0.05); err != nil {
		return Config{}, err
	}
	if cfg.Rates.PlatformMarginRate, err = getRate("PLATFORM_MARGIN_RATE", 0.21); err != nil {
		return Config{}, err
	}
	if cfg.Rates.ReferralShareOfMargin, err = getRate("REFERRAL_SHARE_OF_MARGIN", 0.15); err != nil {
		return Config{}, err
	}

	if err := cfg.Rates.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate rejects rate sets that could allocate more than the order total.
func (r Rates) Validate() error {
	all := map[string]float64{
		"SELLER_SHARE":                    r.SellerShare,
		"FAST_DELIVERY_COMMISSION_RATE":   r.FastDeliveryRate,
		"PICKUP_DELIVERY_COMMISSION_RATE": r.PickupDeliveryRate,
		"PICKUP_SITE_COMMISSION_RATE":     r.PickupSiteRate,
		"PLATFORM_MARGIN_RATE":            r.PlatformMarginRate,
		"REFERRAL_SHARE_OF_MARGIN":        r.ReferralShareOfMargin,
	}
	for name, v := range all {
		if v < 0 || v > 1 {
			return fmt.Errorf("config: %s out of range [0,1]: %v", name, v)
		}
	}

	maxAgent := r.FastDeliveryRate
	if r.PickupDeliveryRate > maxAgent {
		maxAgent = r.PickupDeliveryRate
	}
	if r.PickupSiteRate > maxAgent {
		maxAgent = r.PickupSiteRate
	}
	if r.SellerShare+maxAgent > 1 {
		return fmt.Errorf("config: seller share %v plus agent commission %v exceeds order total", r.SellerShare, maxAgent)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getRate(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", key)
	}
	return v, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
