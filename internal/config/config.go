package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/liamashdown/walletsignal/internal/secrets"
)

// Config holds all application configuration
type Config struct {
	// Environment
	Environment string
	LogLevel    string

	// Ledger indexer API (Etherscan-compatible)
	LedgerAPIBaseURL     string
	LedgerAPIKey         string
	LedgerChainID        int
	LedgerMinInterval    time.Duration // Minimum spacing between request starts
	LedgerMaxAttempts    int
	LedgerRetryDelay     time.Duration
	LedgerRequestTimeout time.Duration
	AnalysisWindowRadius time.Duration // Half-width of cluster and sybil time windows
	ClusterRetryAttempts int
	ClusterRetryDelay    time.Duration
	SybilWindowPause     time.Duration

	// Reference data
	ReferenceDataPath string // Optional override for the embedded reference sets

	// HTTP API
	HTTPPort          int
	AllowEmptyWallets bool
	BypassErrors      bool
	PublicKeyPath     string
	PrivateKeyPath    string

	// Result cache
	ResultCacheRedisAddr     string
	ResultCacheRedisPassword string
	ResultCacheRedisDB       int
	ResultCacheTTL           time.Duration

	// Batch storage
	DatabaseDSN         string
	DatabaseMaxConns    int
	DatabaseMaxIdleTime time.Duration
	BatchAddressDelay   time.Duration

	// Alerts
	AlertMode          string // log, discord, smtp or a comma list
	AlertClusterScore  float64
	AlertSybilScore    float64
	DiscordWebhookURLs []string
	SMTPHost           string
	SMTPPort           int
	SMTPUser           string
	SMTPPassword       string
	SMTPFrom           string
	SMTPTo             []string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Environment:              getEnv("ENVIRONMENT", "production"),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		LedgerAPIBaseURL:         getEnv("LEDGER_API_BASE_URL", "https://api.etherscan.io/v2/api"),
		LedgerAPIKey:             secrets.GetOptionalSecret("LEDGER_API_KEY", ""),
		LedgerChainID:            getEnvInt("LEDGER_CHAIN_ID", 1),
		LedgerMinInterval:        getEnvMillis("LEDGER_MIN_REQUEST_INTERVAL_MS", 250),
		LedgerMaxAttempts:        getEnvInt("LEDGER_MAX_ATTEMPTS", 3),
		LedgerRetryDelay:         getEnvMillis("LEDGER_RETRY_DELAY_MS", 1000),
		LedgerRequestTimeout:     time.Duration(getEnvInt("LEDGER_REQUEST_TIMEOUT_SEC", 30)) * time.Second,
		AnalysisWindowRadius:     time.Duration(getEnvInt("ANALYSIS_WINDOW_MINUTES", 15)) * time.Minute,
		ClusterRetryAttempts:     getEnvInt("CLUSTER_RETRY_ATTEMPTS", 3),
		ClusterRetryDelay:        getEnvMillis("CLUSTER_RETRY_DELAY_MS", 1000),
		SybilWindowPause:         getEnvMillis("SYBIL_WINDOW_PAUSE_MS", 250),
		ReferenceDataPath:        getEnv("REFERENCE_DATA_PATH", ""),
		HTTPPort:                 getEnvInt("HTTP_PORT", 5000),
		AllowEmptyWallets:        getEnvBool("ALLOW_EMPTY_WALLETS", false),
		BypassErrors:             getEnvBool("BYPASS_ERRORS", false),
		PublicKeyPath:            getEnv("PUBLIC_KEY_PATH", "keys/public.pem"),
		PrivateKeyPath:           getEnv("PRIVATE_KEY_PATH", ""),
		ResultCacheRedisAddr:     getEnv("RESULT_CACHE_REDIS_ADDR", ""),
		ResultCacheRedisPassword: secrets.GetOptionalSecret("RESULT_CACHE_REDIS_PASSWORD", ""),
		ResultCacheRedisDB:       getEnvInt("RESULT_CACHE_REDIS_DB", 0),
		ResultCacheTTL:           time.Duration(getEnvInt("RESULT_CACHE_TTL_MINS", 30)) * time.Minute,
		DatabaseDSN:              secrets.GetOptionalSecret("DATABASE_DSN", "walletsignal:walletsignal@tcp(mysql:3306)/walletsignal?parseTime=true"),
		DatabaseMaxConns:         getEnvInt("DATABASE_MAX_CONNS", 10),
		DatabaseMaxIdleTime:      time.Duration(getEnvInt("DATABASE_MAX_IDLE_TIME_MINS", 5)) * time.Minute,
		BatchAddressDelay:        getEnvMillis("BATCH_ADDRESS_DELAY_MS", 1000),
		AlertMode:                getEnv("ALERT_MODE", "log"),
		AlertClusterScore:        getEnvFloat("ALERT_CLUSTER_SCORE", 50),
		AlertSybilScore:          getEnvFloat("ALERT_SYBIL_SCORE", 75),
		SMTPHost:                 getEnv("SMTP_HOST", ""),
		SMTPPort:                 getEnvInt("SMTP_PORT", 587),
		SMTPUser:                 getEnv("SMTP_USER", ""),
		SMTPPassword:             secrets.GetOptionalSecret("SMTP_PASSWORD", ""),
		SMTPFrom:                 getEnv("SMTP_FROM", "walletsignal@example.com"),
	}

	if getEnvBool("DEBUG", false) {
		cfg.LogLevel = "debug"
	}

	if hooks := secrets.GetOptionalSecret("DISCORD_WEBHOOK_URLS", ""); hooks != "" {
		cfg.DiscordWebhookURLs = parseCSV(hooks)
	}
	if smtpTo := getEnv("SMTP_TO", ""); smtpTo != "" {
		cfg.SMTPTo = parseCSV(smtpTo)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.LedgerAPIBaseURL == "" {
		return fmt.Errorf("LEDGER_API_BASE_URL is required")
	}
	if c.LedgerMaxAttempts < 1 {
		return fmt.Errorf("LEDGER_MAX_ATTEMPTS must be at least 1, got %d", c.LedgerMaxAttempts)
	}
	if c.ClusterRetryAttempts < 1 {
		return fmt.Errorf("CLUSTER_RETRY_ATTEMPTS must be at least 1, got %d", c.ClusterRetryAttempts)
	}
	if c.LedgerMinInterval < 0 || c.LedgerRetryDelay < 0 || c.SybilWindowPause < 0 {
		return fmt.Errorf("ledger pacing and retry delays must not be negative")
	}
	if c.AnalysisWindowRadius <= 0 {
		return fmt.Errorf("ANALYSIS_WINDOW_MINUTES must be positive")
	}

	hasDiscord := false
	hasSMTP := false
	for _, mode := range strings.Split(c.AlertMode, ",") {
		switch strings.TrimSpace(mode) {
		case "log":
		case "discord":
			hasDiscord = true
		case "smtp":
			hasSMTP = true
		default:
			return fmt.Errorf("invalid ALERT_MODE value: %s (valid values: log, discord, smtp)", mode)
		}
	}

	if hasDiscord && len(c.DiscordWebhookURLs) == 0 {
		return fmt.Errorf("DISCORD_WEBHOOK_URLS is required when discord is in ALERT_MODE")
	}
	if hasSMTP && (c.SMTPHost == "" || len(c.SMTPTo) == 0) {
		return fmt.Errorf("SMTP_HOST and SMTP_TO are required when smtp is in ALERT_MODE")
	}

	return nil
}

// AlertModes returns the trimmed list of configured alert modes
func (c *Config) AlertModes() []string {
	return parseCSV(c.AlertMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvMillis(key string, defaultMillis int) time.Duration {
	return time.Duration(getEnvInt(key, defaultMillis)) * time.Millisecond
}

func parseCSV(s string) []string {
	var result []string
	for _, item := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
