package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment
// variables. It is built once in main and handed to every constructor.
type Config struct {
	CouchURL      string
	CouchUsername string
	CouchAPIKey   string
	RawDBName     string
	CleanDBName   string

	SyncPageSize     int
	SyncPageDelayMs  int
	ConflictRetries  int
	TransientRetries int
	RetryBaseDelayMs int

	DataDir       string
	ListingsDir   string
	StatusLogPath string
	LedgerPath    string
	URLSheetPath  string
	PlacesFile    string

	BingMapsKey  string
	BingBaseURL  string
	GeodataRPS   float64
	GeodataBurst int

	RedisAddr        string
	RedisPassword    string
	GeocacheTTLHours int

	ReviewTableEnabled bool
	PostgresHost       string
	PostgresPort       string
	PostgresUser       string
	PostgresPassword   string
	PostgresDB         string
	PostgresSSLMode    string

	RealscoutSignInURL string
	RealscoutEmail     string
	RealscoutPassword  string
	ChromeBin          string
	Headless           bool

	LogLevel string
	LogFile  string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	dataDir := getEnv("DATA_DIR", "./data")

	return &Config{
		CouchURL:      strings.TrimRight(getEnv("COUCH_URL", "http://localhost:5984"), "/"),
		CouchUsername: getEnv("COUCH_USERNAME", ""),
		CouchAPIKey:   getEnv("COUCH_APIKEY", ""),
		RawDBName:     getEnv("RAW_DB_NAME", "deathpledge_raw"),
		CleanDBName:   getEnv("CLEAN_DB_NAME", "deathpledge_clean"),

		SyncPageSize:     getEnvInt("SYNC_PAGE_SIZE", 20),
		SyncPageDelayMs:  getEnvInt("SYNC_PAGE_DELAY_MS", 1000),
		ConflictRetries:  getEnvInt("CONFLICT_RETRIES", 1),
		TransientRetries: getEnvInt("TRANSIENT_RETRIES", 3),
		RetryBaseDelayMs: getEnvInt("RETRY_BASE_DELAY_MS", 2000),

		DataDir:       dataDir,
		ListingsDir:   getEnv("LISTINGS_DIR", filepath.Join(dataDir, "saved_listings")),
		StatusLogPath: getEnv("STATUS_LOG_PATH", filepath.Join(dataDir, "sync_status.log")),
		LedgerPath:    getEnv("LEDGER_PATH", filepath.Join(dataDir, "sync_ledger.csv")),
		URLSheetPath:  getEnv("URL_SHEET_PATH", filepath.Join(dataDir, "urls.csv")),
		PlacesFile:    getEnv("PLACES_FILE", "./config/places.yaml"),

		BingMapsKey:  getEnv("BING_MAPS_KEY", ""),
		BingBaseURL:  strings.TrimRight(getEnv("BING_BASE_URL", "http://dev.virtualearth.net/REST/v1"), "/"),
		GeodataRPS:   getEnvFloat("GEODATA_RPS", 2),
		GeodataBurst: getEnvInt("GEODATA_BURST", 1),

		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		GeocacheTTLHours: getEnvInt("GEOCACHE_TTL_HOURS", 24*30),

		ReviewTableEnabled: getEnvBool("REVIEW_TABLE_ENABLED", false),
		PostgresHost:       getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:       getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:       getEnv("POSTGRES_USER", "listings"),
		PostgresPassword:   getEnv("POSTGRES_PASSWORD", ""),
		PostgresDB:         getEnv("POSTGRES_DB", "listings"),
		PostgresSSLMode:    getEnv("POSTGRES_SSLMODE", "disable"),

		RealscoutSignInURL: getEnv("REALSCOUT_SIGN_IN_URL", "https://www.realscout.com/users/sign_in"),
		RealscoutEmail:     getEnv("REALSCOUT_EMAIL", ""),
		RealscoutPassword:  getEnv("REALSCOUT_PASSWORD", ""),
		ChromeBin:          getEnv("CHROME_BIN", ""),
		Headless:           getEnvBool("HEADLESS", true),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}
}

// DSN returns the PostgreSQL connection string for the review table.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// SyncPageDelay is the pause between consecutive store pages.
func (c *Config) SyncPageDelay() time.Duration {
	return time.Duration(c.SyncPageDelayMs) * time.Millisecond
}

// RetryBaseDelay is the first backoff step for transient store failures.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

// GeocacheTTL is how long a cached geocode stays valid.
func (c *Config) GeocacheTTL() time.Duration {
	return time.Duration(c.GeocacheTTLHours) * time.Hour
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
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}
