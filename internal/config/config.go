package config

import (
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kjannette/stockviewer-backend/internal/logger"
)

type Config struct {
	AppName         string
	APIPort         int
	CORSAllowOrigin string
	WebhookURL      string

	// Database
	DatabaseURL string
	DBHost      string
	DBPort      int
	DBName      string
	DBUser      string
	DBPassword  string
	DBMaxConns  int
	AutoMigrate bool

	// Records
	StrictRecordFields bool

	// Import
	ImportFile string
	ImportURL  string

	// Logging
	Log logger.Config
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppName:         envStr("APP_NAME", "StockViewer"),
		APIPort:         envInt("API_PORT", 5000),
		CORSAllowOrigin: envStr("CORS_ALLOW_ORIGIN", "*"),
		WebhookURL:      envStr("WEBHOOK_URL", ""),

		// Database
		DatabaseURL: envStr("DATABASE_URL", ""),
		DBHost:      envStr("DB_HOST", "localhost"),
		DBPort:      envInt("DB_PORT", 5432),
		DBName:      envStr("DB_NAME", "stock_viewer"),
		DBUser:      envStr("DB_USER", "postgres"),
		DBPassword:  envStr("DB_PASSWORD", ""),
		DBMaxConns:  envInt("DB_MAX_CONNS", 20),
		AutoMigrate: envBool("AUTO_MIGRATE", true),

		StrictRecordFields: envBool("STRICT_RECORD_FIELDS", false),

		ImportFile: envStr("IMPORT_FILE", "stock_market_data.json"),
		ImportURL:  envStr("IMPORT_URL", ""),

		Log: logger.Config{
			Level:      envStr("LOG_LEVEL", "info"),
			Format:     envStr("LOG_FORMAT", "json"),
			Output:     envStr("LOG_OUTPUT", "stdout"),
			FilePath:   envStr("LOG_FILE", "logs/app.log"),
			MaxSizeMB:  envInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: envInt("LOG_MAX_BACKUPS", 10),
			MaxAgeDays: envInt("LOG_MAX_AGE_DAYS", 30),
			Compress:   envBool("LOG_COMPRESS", true),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Sprintf("API_PORT %d is out of range", c.APIPort))
	}
	if c.DatabaseURL == "" && c.DBName == "" {
		errs = append(errs, "DATABASE_URL or DB_NAME is required")
	}
	if c.DBMaxConns < 1 || c.DBMaxConns > math.MaxInt32 {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS %d is out of range", c.DBMaxConns))
	}
	if c.ImportURL != "" {
		if u, err := url.Parse(c.ImportURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("IMPORT_URL %q is not an absolute URL", c.ImportURL))
		}
	} else if c.ImportFile == "" {
		errs = append(errs, "IMPORT_FILE or IMPORT_URL is required")
	}
	switch strings.ToLower(c.Log.Output) {
	case "stdout", "file", "both":
	default:
		errs = append(errs, fmt.Sprintf("LOG_OUTPUT %q must be stdout, file or both", c.Log.Output))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// Print logs the effective configuration without secrets.
func (c *Config) Print() {
	importSource := c.ImportFile
	if c.ImportURL != "" {
		importSource = c.ImportURL
	}
	slog.Info("configuration loaded",
		"component", "config",
		"app", c.AppName,
		"api_port", c.APIPort,
		"db", fmt.Sprintf("%s:%d/%s", c.DBHost, c.DBPort, c.DBName),
		"database_url_set", c.DatabaseURL != "",
		"auto_migrate", c.AutoMigrate,
		"strict_record_fields", c.StrictRecordFields,
		"import_source", importSource,
		"webhook", boolLabel(c.WebhookURL != "", "configured", "not set"),
		"cors_origin", c.CORSAllowOrigin,
	)
	if !c.StrictRecordFields {
		slog.Warn("missing numeric record fields default to 0 (STRICT_RECORD_FIELDS=false)", "component", "config")
	}
}

// DSN returns DATABASE_URL when set, otherwise a URL built from the DB_* values.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// --- helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "true" || v == "1" || v == "yes"
	}
	return fallback
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
