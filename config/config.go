package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"newsletter-reader/internal/logging"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment   string
	AppPort       string
	AppURL        string
	SessionSecret string
	CSRFSecret    string

	DBDriver    string
	DatabaseURL string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	SQLitePath  string

	// NewsletterAPIBase is the newsletter service root. When empty the
	// reader fetches feeds and page titles directly.
	NewsletterAPIBase     string
	HTTPTimeout           time.Duration
	HTTPRetry             int
	APIRequestsPerSecond  float64
	FetchConcurrency      int
	RefreshLimitPerMinute int

	LogLevel  string
	LogFormat string
}

// source resolves a key from the environment first, then from the
// optional YAML file.
type source struct {
	file map[string]string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if _, exists := os.Stat(".env"); exists == nil {
			logging.Warn(".env file exists but couldn't be loaded", "error", err)
		}
	}

	src := source{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, err
		}
		src.file = file
	}

	cfg, err := src.build()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	logging.Info("configuration loaded",
		"environment", cfg.Environment,
		"port", cfg.AppPort,
		"app_url", cfg.AppURL,
		"db_driver", cfg.DBDriver,
		"direct_mode", cfg.DirectMode(),
	)
	return cfg, nil
}

// readFile parses a flat YAML mapping whose keys are the environment
// variable names.
func readFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		values[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return values, nil
}

func (s source) get(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	if value, ok := s.file[key]; ok {
		return value
	}
	return fallback
}

func (s source) getInt(key string, fallback int) (int, error) {
	raw := s.get(key, "")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func (s source) getFloat(key string, fallback float64) (float64, error) {
	raw := s.get(key, "")
	if raw == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func (s source) build() (*Config, error) {
	environment := s.get("ENVIRONMENT", "development")
	appPort := s.get("APP_PORT", "8080")
	appURL := s.get("APP_URL", "")

	if appURL == "" {
		if environment == "production" {
			logging.Warn("APP_URL not set in production, CSRF origin validation may fail")
		} else {
			appURL = "http://localhost:" + appPort
		}
	}

	cfg := &Config{
		Environment:       environment,
		AppPort:           appPort,
		AppURL:            appURL,
		SessionSecret:     s.get("SESSION_SECRET", ""),
		CSRFSecret:        s.get("CSRF_SECRET", ""),
		DBDriver:          strings.ToLower(s.get("DB_DRIVER", "postgres")),
		DatabaseURL:       s.get("DATABASE_URL", ""),
		SQLitePath:        s.get("SQLITE_PATH", "newsletter-reader.db"),
		NewsletterAPIBase: strings.TrimRight(s.get("NEWSLETTER_API_BASE", ""), "/"),
		LogLevel:          s.get("LOG_LEVEL", "info"),
		LogFormat:         s.get("LOG_FORMAT", "text"),
	}

	timeout, err := s.getInt("HTTP_TIMEOUT_SECONDS", 15)
	if err != nil {
		return nil, err
	}
	cfg.HTTPTimeout = time.Duration(timeout) * time.Second
	if cfg.HTTPRetry, err = s.getInt("HTTP_RETRY", 2); err != nil {
		return nil, err
	}
	if cfg.APIRequestsPerSecond, err = s.getFloat("API_REQUESTS_PER_SECOND", 10); err != nil {
		return nil, err
	}
	if cfg.FetchConcurrency, err = s.getInt("FETCH_CONCURRENCY", 0); err != nil {
		return nil, err
	}
	if cfg.RefreshLimitPerMinute, err = s.getInt("REFRESH_LIMIT_PER_MINUTE", 6); err != nil {
		return nil, err
	}

	if cfg.SessionSecret == "" {
		cfg.SessionSecret = generateRandomSecret("SESSION_SECRET")
	}
	if cfg.CSRFSecret == "" {
		cfg.CSRFSecret = generateRandomSecret("CSRF_SECRET")
	}

	if cfg.DatabaseURL != "" {
		cfg.parseDBURL()
	} else {
		cfg.DBHost = s.get("DB_HOST", "localhost")
		cfg.DBPort = s.get("DB_PORT", "5432")
		cfg.DBUser = s.get("DB_USER", "postgres")
		cfg.DBPassword = s.get("DB_PASSWORD", "password")
		cfg.DBName = s.get("DB_NAME", "newsletter_reader")
	}

	return cfg, nil
}

func (c *Config) parseDBURL() {
	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		logging.Error("error parsing DATABASE_URL", "error", err)
		return
	}

	c.DBHost = u.Hostname()
	c.DBPort = u.Port()
	if c.DBPort == "" {
		c.DBPort = "5432"
	}

	c.DBUser = u.User.Username()
	if password, ok := u.User.Password(); ok {
		c.DBPassword = password
	}

	c.DBName = strings.TrimPrefix(u.Path, "/")
}

// Validate rejects settings the reader cannot run with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.DBDriver == "sqlite" && c.SQLitePath == "" {
		return errors.New("SQLITE_PATH is required for the sqlite driver")
	}
	if c.NewsletterAPIBase != "" {
		u, err := url.Parse(c.NewsletterAPIBase)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid NEWSLETTER_API_BASE %q", c.NewsletterAPIBase)
		}
	}
	if c.HTTPTimeout <= 0 {
		return errors.New("HTTP_TIMEOUT_SECONDS must be positive")
	}
	if c.HTTPRetry < 0 || c.FetchConcurrency < 0 || c.RefreshLimitPerMinute < 0 {
		return errors.New("HTTP_RETRY, FETCH_CONCURRENCY and REFRESH_LIMIT_PER_MINUTE must not be negative")
	}
	if c.APIRequestsPerSecond < 0 {
		return errors.New("API_REQUESTS_PER_SECOND must not be negative")
	}
	return nil
}

func generateRandomSecret(name string) string {
	logging.Warn("secret not set, generating random secret (will not persist across restarts)", "name", name)

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		logging.Fatal("failed to generate random secret", "name", name, "error", err)
	}

	return base64.StdEncoding.EncodeToString(b)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// DirectMode reports whether the reader talks to newsletter sites directly
// instead of through the newsletter API.
func (c *Config) DirectMode() bool {
	return c.NewsletterAPIBase == ""
}
