// Package config loads the kiosk daemon's settings from the environment,
// optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/lannapoly/tiewson-kiosk/internal/locale"
)

// Content store backends.
const (
	StoreDynamo = "dynamo"
	StoreMemory = "memory"
)

// Completion providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderNone   = "none"
)

// DefaultSSMAPIKeyParam is read when GEMINI_API_KEY is unset.
const DefaultSSMAPIKeyParam = "/tiewson-kiosk/prod/gemini-api-key"

// Config holds every setting of the daemon.
type Config struct {
	ListenAddr string
	// StaticDir serves the kiosk page; empty disables it.
	StaticDir string
	KioskID   string
	Locale    locale.Locale

	Store        string
	ContentTable string
	MediaBucket  string
	// MediaPublicBaseURL prefixes uploaded object keys, e.g. a CDN origin.
	MediaPublicBaseURL string

	Provider       string
	GeminiAPIKey   string
	GeminiModel    string
	SSMAPIKeyParam string
	OpenAIAPIKey   string
	OpenAIModel    string
	OpenAIBaseURL  string

	FaceServiceURL string
	// ConstrainedDevice enables the speech ceiling timer.
	ConstrainedDevice bool
	// SkipConsent starts with the PDPA notice accepted (demo installs).
	SkipConsent bool

	LogLevel  string
	LogFormat string
	EMF       bool

	ShutdownTimeout time.Duration
}

// LoadDotEnv reads path (default ".env") into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("path", path).Msg("No .env file found, using environment variables")
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	log.Debug().Str("path", path).Msg("Loaded .env file")
	return nil
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	l, ok := locale.Parse(getEnv("KIOSK_LOCALE", string(locale.Default)))
	if !ok {
		return nil, fmt.Errorf("invalid configuration: unsupported KIOSK_LOCALE %q", os.Getenv("KIOSK_LOCALE"))
	}

	cfg := &Config{
		ListenAddr: getEnv("KIOSK_LISTEN_ADDR", "127.0.0.1:8080"),
		StaticDir:  getEnv("KIOSK_STATIC_DIR", "./web"),
		KioskID:    getEnv("KIOSK_ID", hostname()),
		Locale:     l,

		Store:              strings.ToLower(getEnv("KIOSK_STORE", StoreDynamo)),
		ContentTable:       getEnv("KIOSK_CONTENT_TABLE", "tiewson-news"),
		MediaBucket:        getEnv("KIOSK_MEDIA_BUCKET", ""),
		MediaPublicBaseURL: getEnv("KIOSK_MEDIA_PUBLIC_BASE_URL", ""),

		Provider:       strings.ToLower(getEnv("KIOSK_COMPLETION_PROVIDER", ProviderGemini)),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModel:    getEnv("GEMINI_MODEL", ""),
		SSMAPIKeyParam: getEnv("KIOSK_SSM_API_KEY_PARAM", DefaultSSMAPIKeyParam),
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:    getEnv("OPENAI_MODEL", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),

		FaceServiceURL:    getEnv("KIOSK_FACE_SERVICE_URL", "http://127.0.0.1:8090"),
		ConstrainedDevice: getEnvBool("KIOSK_CONSTRAINED_DEVICE", false),
		SkipConsent:       getEnvBool("KIOSK_SKIP_CONSENT", false),

		LogLevel:  strings.ToLower(getEnv("KIOSK_LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("KIOSK_LOG_FORMAT", "console")),
		EMF:       getEnvBool("KIOSK_EMF_METRICS", false),

		ShutdownTimeout: getEnvDuration("KIOSK_SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the settings are coherent.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("KIOSK_LISTEN_ADDR cannot be empty")
	}
	switch c.Store {
	case StoreMemory:
	case StoreDynamo:
		if c.ContentTable == "" {
			return fmt.Errorf("KIOSK_CONTENT_TABLE cannot be empty with the dynamo store")
		}
	default:
		return fmt.Errorf("KIOSK_STORE must be %q or %q, got %q", StoreDynamo, StoreMemory, c.Store)
	}
	switch c.Provider {
	case ProviderGemini, ProviderNone:
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required with the openai provider")
		}
	default:
		return fmt.Errorf("KIOSK_COMPLETION_PROVIDER must be gemini, openai or none, got %q", c.Provider)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("KIOSK_SHUTDOWN_TIMEOUT must be > 0")
	}
	return nil
}

// NeedsAWS reports whether any AWS client is required.
func (c *Config) NeedsAWS() bool {
	return c.Store == StoreDynamo || c.MediaBucket != "" ||
		(c.Provider == ProviderGemini && c.GeminiAPIKey == "" && c.SSMAPIKeyParam != "")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
		return d
	}
	if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "kiosk"
	}
	return h
}
