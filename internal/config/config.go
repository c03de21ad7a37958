package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"gachalab/internal/models"
)

const DefaultJWTSecret = "change-me"

type Config struct {
	HTTPAddr               string
	Env                    string
	AllowedOrigins         []string
	StoreDriver            string
	SupabaseURL            string
	SupabaseServiceRoleKey string
	SupabaseJWTSecret      string
	AuthMode               string
	DatabaseDSN            string
	SpinTable              string
	StoreTimeout           time.Duration
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	GuestCookieName        string
	GuestCookieMaxAge      time.Duration
	LastSpinTTL            time.Duration
	RedeemTTL              time.Duration
	DefaultGachaID         string
	SpinRateLimit          int
	AdminToken             string
	AdminPassword          string
	JWTSecret              string
	AlipayAppID            string
	AlipayPrivateKey       string
	AlipayAppCertPath      string
	AlipayAlipayCertPath   string
	AlipayRootCertPath     string
	AlipayEnv              string
	AlipayNotifyURL        string
	AlipayReturnURL        string
	AlipayOrderSubject     string
	CreditPacks            []models.CreditPack
	PaymentsEnabled        bool
	OrderWorkerEnabled     bool
	OrderExpire            time.Duration
	SeedDemo               bool
}

func Load() Config {
	// .env never overrides variables already set in the environment.
	_ = godotenv.Load(".env")
	cfg := Config{
		HTTPAddr:               getEnv("HTTP_ADDR", ":8080"),
		Env:                    getEnv("APP_ENV", "development"),
		AllowedOrigins:         parseCSV(getEnv("ALLOWED_ORIGINS", getEnv("ALLOWED_ORIGIN", "http://localhost:5173"))),
		StoreDriver:            strings.ToLower(getEnv("STORE_DRIVER", "rest")),
		SupabaseURL:            getEnv("SUPABASE_URL", ""),
		SupabaseServiceRoleKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		SupabaseJWTSecret:      getEnv("SUPABASE_JWT_SECRET", ""),
		AuthMode:               strings.ToLower(getEnv("AUTH_MODE", "")),
		DatabaseDSN:            getEnv("DATABASE_DSN", ""),
		SpinTable:              getEnv("SPIN_TABLE", "spins"),
		StoreTimeout:           getEnvDuration("STORE_TIMEOUT", 8*time.Second),
		RedisAddr:              getEnv("REDIS_ADDR", ""),
		RedisPassword:          getEnv("REDIS_PASSWORD", ""),
		RedisDB:                getEnvInt("REDIS_DB", 0),
		GuestCookieName:        getEnv("GUEST_COOKIE_NAME", "guest_token"),
		GuestCookieMaxAge:      getEnvDuration("GUEST_COOKIE_MAX_AGE", 365*24*time.Hour),
		LastSpinTTL:            getEnvDuration("LAST_SPIN_TTL", 48*time.Hour),
		RedeemTTL:              getEnvDuration("REDEEM_TTL", 30*24*time.Hour),
		DefaultGachaID:         getEnv("DEFAULT_GACHA_ID", ""),
		SpinRateLimit:          getEnvInt("SPIN_RATE_LIMIT", 30),
		AdminToken:             getEnv("ADMIN_TOKEN", ""),
		AdminPassword:          getEnv("ADMIN_PASSWORD", ""),
		JWTSecret:              getEnv("JWT_SECRET", DefaultJWTSecret),
		AlipayAppID:            getEnv("ALIPAY_APP_ID", ""),
		AlipayPrivateKey:       getEnv("ALIPAY_PRIVATE_KEY", ""),
		AlipayAppCertPath:      getEnv("ALIPAY_APP_CERT_PATH", ""),
		AlipayAlipayCertPath:   getEnv("ALIPAY_ALIPAY_CERT_PATH", ""),
		AlipayRootCertPath:     getEnv("ALIPAY_ROOT_CERT_PATH", ""),
		AlipayEnv:              getEnv("ALIPAY_ENV", "prod"),
		AlipayNotifyURL:        getEnv("ALIPAY_NOTIFY_URL", ""),
		AlipayReturnURL:        getEnv("ALIPAY_RETURN_URL", ""),
		AlipayOrderSubject:     getEnv("ALIPAY_ORDER_SUBJECT", "Gacha credits"),
		PaymentsEnabled:        getEnvBool("PAYMENTS_ENABLED", true),
		OrderWorkerEnabled:     getEnvBool("ORDER_WORKER_ENABLED", false),
		OrderExpire:            getEnvDuration("ORDER_EXPIRE", 30*time.Minute),
		SeedDemo:               getEnvBool("SEED_DEMO", false),
	}
	packs, err := ParseCreditPacks(getEnv("CREDIT_PACKS", "p5:5:600,p12:12:1200"))
	if err == nil {
		cfg.CreditPacks = packs
	}
	if cfg.AuthMode == "" {
		cfg.AuthMode = "remote"
		if cfg.SupabaseJWTSecret != "" {
			cfg.AuthMode = "jwt"
		}
	}
	if cfg.LastSpinTTL < time.Minute {
		cfg.LastSpinTTL = time.Minute
	}
	if cfg.GuestCookieMaxAge <= 0 {
		cfg.GuestCookieMaxAge = 365 * 24 * time.Hour
	}
	if cfg.SpinRateLimit < 0 {
		cfg.SpinRateLimit = 0
	}
	return cfg
}

// AdminJWTEnabled reports whether admin bearer JWTs may be issued and
// accepted: a password is configured and the signing secret is not the default.
func (c Config) AdminJWTEnabled() bool {
	secret := strings.TrimSpace(c.JWTSecret)
	return strings.TrimSpace(c.AdminPassword) != "" && secret != "" && secret != DefaultJWTSecret
}

// SecureCookies is false only while the frontend is served from localhost.
func (c Config) SecureCookies() bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	return !strings.HasPrefix(c.AllowedOrigins[0], "http://localhost")
}

func (c Config) CreditPack(id string) (models.CreditPack, bool) {
	for _, p := range c.CreditPacks {
		if p.ID == id {
			return p, true
		}
	}
	return models.CreditPack{}, false
}

// ParseCreditPacks reads "id:credits:fen" entries separated by commas.
func ParseCreditPacks(val string) ([]models.CreditPack, error) {
	packs := make([]models.CreditPack, 0)
	for _, item := range parseCSV(val) {
		parts := strings.Split(item, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("credit pack %q: want id:credits:fen", item)
		}
		credits, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || credits <= 0 {
			return nil, fmt.Errorf("credit pack %q: bad credits", item)
		}
		fen, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil || fen <= 0 {
			return nil, fmt.Errorf("credit pack %q: bad amount", item)
		}
		packs = append(packs, models.CreditPack{ID: strings.TrimSpace(parts[0]), Credits: credits, AmountFen: fen})
	}
	return packs, nil
}

func parseCSV(val string) []string {
	out := make([]string, 0)
	for _, item := range strings.Split(val, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

func getEnv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func getEnvInt(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return parsed
}

// getEnvDuration accepts Go durations ("48h") or bare seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	if secs, err := strconv.ParseInt(val, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return parsed
}

func getEnvBool(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if val == "" {
		return def
	}
	switch val {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}
