package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultTargetURL = "https://www.redfin.com/neighborhood/547223/CA/Los-Angeles/Hollywood-Hills"

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DataDir     string
	LogDir      string
	DatasetName string

	TargetURL      string
	Headless       bool
	ChromeBin      string
	ScraperConfig  string
	WaitMinSec     int
	WaitMaxSec     int
	JobTimeoutSec  int
	MaxRetries     int
	RetryBaseDelay time.Duration

	ScrapeHour int
	Timezone   string
	HTTPAddr   string

	PostgresEnabled  bool
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	cfg := &Config{
		DataDir:     getEnv("DATA_DIR", "data"),
		LogDir:      getEnv("LOG_DIR", "logs"),
		DatasetName: getEnv("DATASET_NAME", "redfin_hollywood_hills"),

		TargetURL:      getEnv("TARGET_URL", defaultTargetURL),
		Headless:       getEnvBool("HEADLESS", true),
		ChromeBin:      getEnv("CHROME_BIN", ""),
		ScraperConfig:  getEnv("SCRAPER_CONFIG", ""),
		WaitMinSec:     getEnvInt("WAIT_MIN_SEC", 5),
		WaitMaxSec:     getEnvInt("WAIT_MAX_SEC", 8),
		JobTimeoutSec:  getEnvInt("JOB_TIMEOUT_SEC", 180),
		MaxRetries:     getEnvInt("MAX_RETRIES", 2),
		RetryBaseDelay: time.Duration(getEnvInt("RETRY_BASE_DELAY_MS", 3000)) * time.Millisecond,

		ScrapeHour: getEnvInt("SCRAPE_HOUR", 6),
		Timezone:   getEnv("TIMEZONE", "Local"),
		HTTPAddr:   getEnv("HTTP_ADDR", ":8080"),

		PostgresEnabled:  getEnvBool("POSTGRES_ENABLED", false),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "scraper"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "scraper123"),
		PostgresDB:       getEnv("POSTGRES_DB", "listings_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
	}
	cfg.normalise()
	return cfg
}

// normalise clamps values that would otherwise break scheduling or pacing.
func (c *Config) normalise() {
	if c.WaitMinSec < 0 {
		c.WaitMinSec = 0
	}
	if c.WaitMaxSec < c.WaitMinSec {
		c.WaitMaxSec = c.WaitMinSec
	}
	if c.JobTimeoutSec <= 0 {
		c.JobTimeoutSec = 180
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = 1
	}
	if c.ScrapeHour < 0 || c.ScrapeHour > 22 {
		// analysis runs one hour later and must stay on the same day
		log.Printf("[config] SCRAPE_HOUR=%d out of range, using 6", c.ScrapeHour)
		c.ScrapeHour = 6
	}
}

// WaitRange returns the bounded human-pacing interval.
func (c *Config) WaitRange() (time.Duration, time.Duration) {
	return time.Duration(c.WaitMinSec) * time.Second, time.Duration(c.WaitMaxSec) * time.Second
}

// JobTimeout is the hard ceiling on navigation plus extraction for one scrape.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSec) * time.Second
}

// AnalyzeHour is the daily trigger hour of the analysis job.
func (c *Config) AnalyzeHour() int {
	return c.ScrapeHour + 1
}

// Location resolves the configured timezone, defaulting to the local zone.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Printf("[config] Unknown TIMEZONE %q, using local time: %v", c.Timezone, err)
		return time.Local
	}
	return loc
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
		log.Printf("[config] %s=%q is not an integer, using %d", key, val, fallback)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
		log.Printf("[config] %s=%q is not a bool, using %t", key, val, fallback)
	}
	return fallback
}
