package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Backend types accepted by BACKEND_TYPE.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendSupabase = "supabase"
)

var validBackends = []string{BackendMemory, BackendSQLite, BackendPostgres, BackendSupabase}

type Config struct {
	// HTTP Server
	Port string

	// Backend selection
	BackendType string

	// Database
	SQLiteDBPath string
	DatabaseURL  string

	// Supabase
	SupabaseURL string
	SupabaseKey string

	// Session tokens (HS256)
	JWTSecret string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Budget aggregation
	ReconcileOnDelete        bool
	AggregationPollInterval  time.Duration
	AggregationBatchSize     int
	AggregationMaxRetries    int
	AggregationMaxCASRetries int

	// Google Sheets export
	SheetsSpreadsheetID      string
	SheetsRange              string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	GoogleOAuthClientJSON    string
	GoogleOAuthClientFile    string
	GoogleOAuthTokenFile     string

	// Worker health
	GRPCHealthAddr string

	SummaryCacheTTL time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		Port:        getEnv("PORT", "8081"),
		BackendType: getEnv("BACKEND_TYPE", BackendMemory),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/moneta.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		SupabaseURL: getEnv("SUPABASE_URL", ""),
		SupabaseKey: getEnv("SUPABASE_KEY", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "moneta"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_events"),

		ReconcileOnDelete:        getEnvBool("RECONCILE_ON_DELETE", true),
		AggregationPollInterval:  getEnvDuration("AGGREGATION_POLL_INTERVAL", 10*time.Second),
		AggregationBatchSize:     getEnvInt("AGGREGATION_BATCH_SIZE", 10),
		AggregationMaxRetries:    getEnvInt("AGGREGATION_MAX_RETRIES", 3),
		AggregationMaxCASRetries: getEnvInt("AGGREGATION_MAX_CAS_RETRIES", 5),

		SheetsSpreadsheetID:      getEnv("SHEETS_SPREADSHEET_ID", ""),
		SheetsRange:              getEnv("SHEETS_RANGE", "Transactions!A:G"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),
		GoogleOAuthClientJSON:    getEnv("GOOGLE_OAUTH_CLIENT_JSON", ""),
		GoogleOAuthClientFile:    getEnv("GOOGLE_OAUTH_CLIENT_FILE", ""),
		GoogleOAuthTokenFile:     getEnv("GOOGLE_OAUTH_TOKEN_FILE", "token.json"),

		GRPCHealthAddr: getEnv("GRPC_HEALTH_ADDR", ":9091"),

		SummaryCacheTTL: getEnvDuration("SUMMARY_CACHE_TTL", 30*time.Second),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// ExportEnabled reports whether transactions are exported to Google Sheets.
func (c *Config) ExportEnabled() bool {
	return c.SheetsSpreadsheetID != ""
}

// OAuthConfigured reports whether an OAuth client is set for sheets export.
func (c *Config) OAuthConfigured() bool {
	return c.GoogleOAuthClientJSON != "" || c.GoogleOAuthClientFile != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate backend
	isValidBackend := false
	for _, backend := range validBackends {
		if c.BackendType == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid backend type '%s': must be one of %v", c.BackendType, validBackends))
	}

	switch c.BackendType {
	case BackendSQLite:
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errors = append(errors, "DATABASE_URL is required when using postgres backend")
		} else if u, err := url.Parse(c.DatabaseURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid DATABASE_URL: %v", err))
		} else if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			errors = append(errors, fmt.Sprintf("invalid DATABASE_URL scheme '%s': must be 'postgres' or 'postgresql'", u.Scheme))
		}
	case BackendSupabase:
		if c.SupabaseURL == "" {
			errors = append(errors, "SUPABASE_URL is required when using supabase backend")
		}
		if c.SupabaseKey == "" {
			errors = append(errors, "SUPABASE_KEY is required when using supabase backend")
		}
	}

	if c.JWTSecret == "" {
		errors = append(errors, "JWT_SECRET is required")
	} else if len(c.JWTSecret) < 32 {
		errors = append(errors, "JWT_SECRET must be at least 32 characters")
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate aggregation processor
	if c.AggregationBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid aggregation batch size %d: must be at least 1", c.AggregationBatchSize))
	} else if c.AggregationBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid aggregation batch size %d: must be at most 1000", c.AggregationBatchSize))
	}
	if c.AggregationPollInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid aggregation poll interval %v: must be at least 1 second", c.AggregationPollInterval))
	} else if c.AggregationPollInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid aggregation poll interval %v: must be at most 24 hours", c.AggregationPollInterval))
	}
	if c.AggregationMaxRetries < 1 {
		errors = append(errors, fmt.Sprintf("invalid aggregation max retries %d: must be at least 1", c.AggregationMaxRetries))
	}
	if c.AggregationMaxCASRetries < 1 {
		errors = append(errors, fmt.Sprintf("invalid aggregation max CAS retries %d: must be at least 1", c.AggregationMaxCASRetries))
	}

	// Validate Google Sheets export if enabled
	if c.ExportEnabled() {
		if !strings.Contains(c.SheetsRange, "!") {
			errors = append(errors, fmt.Sprintf("invalid sheets range '%s': must be in 'Sheet!A:G' form", c.SheetsRange))
		}
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" && !c.OAuthConfigured() {
			errors = append(errors, "either a Google service account (GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE) or an OAuth client (GOOGLE_OAUTH_CLIENT_JSON, GOOGLE_OAUTH_CLIENT_FILE) must be provided for sheets export")
		}
		if c.GoogleServiceAccountFile != "" && c.GoogleServiceAccountJSON == "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if c.GRPCHealthAddr != "" {
		if _, _, err := net.SplitHostPort(c.GRPCHealthAddr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid gRPC health address '%s': %v", c.GRPCHealthAddr, err))
		}
	}

	if c.SummaryCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid summary cache TTL %v: must not be negative", c.SummaryCacheTTL))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
