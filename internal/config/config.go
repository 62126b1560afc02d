// Package config loads runtime settings from environment variables,
// falling back to local-development defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store and lock backends.
const (
	StoreSheets   = "sheets"
	StorePostgres = "postgres"
	LockLocal     = "local"
	LockRedis     = "redis"
)

// DB holds PostgreSQL connection settings.
type DB struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN builds a libpq-compatible connection string.
func (c DB) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Sheets holds the spreadsheet store settings.
type Sheets struct {
	SpreadsheetID   string
	CredentialsJSON string
	HistoryRange    string
	AppendRange     string
}

// Redis holds the lock client settings.
type Redis struct {
	Addr     string
	Password string
	DB       int
	TLS      bool
}

// Issuance bounds the retry loops of the claim pipeline.
type Issuance struct {
	IndexMode         string
	MaxPrimeSamples   int
	MaxClaimAttempts  int
	MaxAppendAttempts int
}

// Lock configures claim serialisation.
type Lock struct {
	Backend string
	// Fallback names the backend used when Backend is unreachable at boot.
	// Empty means startup fails instead.
	Fallback    string
	Key         string
	TTL         time.Duration
	WaitTimeout time.Duration
}

// Telegram configures the chat notifier. Empty token disables it.
type Telegram struct {
	BotToken string
	ChatID   string
	APIURL   string
}

// OpenAI configures receipt OCR. Empty key disables it.
type OpenAI struct {
	APIKey string
	Model  string
}

// Config is the complete service configuration.
type Config struct {
	Port           string
	LogLevel       string
	StoreBackend   string
	AllowedOrigins []string
	MaxUploadBytes int64

	DB       DB
	Sheets   Sheets
	Redis    Redis
	Issuance Issuance
	Lock     Lock
	Telegram Telegram
	OpenAI   OpenAI
	AMQPURL  string
}

// Load reads the configuration from the environment.
func Load() Config {
	return Config{
		Port:           getEnv("PORT", "4000"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		StoreBackend:   strings.ToLower(getEnv("STORE_BACKEND", StoreSheets)),
		AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		MaxUploadBytes: int64(envInt("MAX_UPLOAD_BYTES", 10<<20)),
		DB: DB{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "tickets"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Sheets: Sheets{
			SpreadsheetID:   os.Getenv("GOOGLE_SHEET_ID"),
			CredentialsJSON: os.Getenv("GOOGLE_CREDENTIALS_JSON"),
			HistoryRange:    getEnv("SHEET_HISTORY_RANGE", "Respuestas!H:I"),
			AppendRange:     getEnv("SHEET_APPEND_RANGE", "Respuestas!A:S"),
		},
		Redis: Redis{
			Addr:     redisAddr(),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
			TLS:      envBool("REDIS_TLS", false),
		},
		Issuance: Issuance{
			IndexMode:         getEnv("PAIR_INDEX_MODE", "available"),
			MaxPrimeSamples:   envInt("PRIME_MAX_SAMPLES", 10000),
			MaxClaimAttempts:  envInt("CLAIM_MAX_ATTEMPTS", 1000),
			MaxAppendAttempts: envInt("APPEND_MAX_ATTEMPTS", 3),
		},
		Lock: Lock{
			Backend:     strings.ToLower(getEnv("LOCK_BACKEND", LockLocal)),
			Fallback:    strings.ToLower(getEnv("LOCK_FALLBACK", "")),
			Key:         getEnv("LOCK_KEY", "ticket-codes:pairs"),
			TTL:         envDur("LOCK_TTL", 30*time.Second),
			WaitTimeout: envDur("LOCK_WAIT_TIMEOUT", 10*time.Second),
		},
		Telegram: Telegram{
			BotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
			ChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
			APIURL:   getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
		},
		OpenAI: OpenAI{
			APIKey: os.Getenv("OPENAI_API_KEY"),
			Model:  getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		},
		AMQPURL: os.Getenv("RABBITMQ_URL"),
	}
}

// Validate checks that the selected backends have what they need.
func (c Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case StoreSheets:
		if c.Sheets.SpreadsheetID == "" {
			errs = append(errs, errors.New("GOOGLE_SHEET_ID is required for the sheets store"))
		}
		if c.Sheets.CredentialsJSON == "" {
			errs = append(errs, errors.New("GOOGLE_CREDENTIALS_JSON is required for the sheets store"))
		}
	case StorePostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	switch c.Lock.Backend {
	case LockLocal, LockRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown LOCK_BACKEND %q", c.Lock.Backend))
	}
	switch c.Lock.Fallback {
	case "", LockLocal:
	default:
		errs = append(errs, fmt.Errorf("unsupported LOCK_FALLBACK %q", c.Lock.Fallback))
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == "" {
		errs = append(errs, errors.New("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set"))
	}
	return errors.Join(errs...)
}

func redisAddr() string {
	host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT")
	if host != "" && port != "" {
		return host + ":" + port
	}
	return getEnv("REDIS_ADDR", "localhost:6379")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
