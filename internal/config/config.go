package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Env      string
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NewRelic NewRelicConfig
	Auth     AuthConfig
	Quote    QuoteConfig
	Dispatch DispatchConfig
	Tracking TrackingConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ApplySchema     bool
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// AuthConfig holds the JWT settings used to resolve the calling actor.
type AuthConfig struct {
	JWTSecret string
}

// QuoteConfig holds the pricing function endpoint and its credentials.
type QuoteConfig struct {
	URL          string
	APIKey       string
	Timeout      time.Duration
	TokenURL     string // empty means ServiceToken is used as-is
	ClientID     string
	ClientSecret string
	ServiceToken string
}

// DispatchConfig holds matching and lifecycle policy.
type DispatchConfig struct {
	PollInterval          time.Duration
	OfferWindow           time.Duration
	ActiveLookback        time.Duration
	InFlightLockTTL       time.Duration
	PendingScanLimit      int
	NotifyRadiusKm        float64
	DefaultCommissionRate float64
	SkatesMaxUnits        int
	AllowLegacyNullDest   bool
	RequestPollInterval   time.Duration
}

// TrackingConfig holds estimator, throttle and rendering thresholds.
type TrackingConfig struct {
	HeadingNoiseFloorM  float64
	SpeedWindow         int
	MinSpeedSamples     int
	MinSpeedKmh         float64
	MaxSpeedKmh         float64
	FallbackSpeedKmh    float64
	MaxSampleGap        time.Duration
	PersistMinInterval  time.Duration
	PersistMaxInterval  time.Duration
	PersistMinDistanceM float64
	FollowCooldown      time.Duration
	SmoothDuration      time.Duration
	SmoothFrameInterval time.Duration
}

// Load loads configuration from a .env file, if present, and environment
// variables. Variables already set in the environment take precedence.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Env: getEnv("APP_ENV", "production"),
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 0),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "towing"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),

			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getDurationEnv("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			ApplySchema:     getBoolEnv("DB_APPLY_SCHEMA", false),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
			PoolSize: getIntEnv("REDIS_POOL_SIZE", 20),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "towing-dispatch"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
		},
		Quote: QuoteConfig{
			URL:          getEnv("QUOTE_URL", "http://localhost:54321/functions/v1/compute-quote"),
			APIKey:       getEnv("QUOTE_API_KEY", ""),
			Timeout:      getDurationEnv("QUOTE_TIMEOUT", 10*time.Second),
			TokenURL:     getEnv("QUOTE_TOKEN_URL", ""),
			ClientID:     getEnv("QUOTE_CLIENT_ID", ""),
			ClientSecret: getEnv("QUOTE_CLIENT_SECRET", ""),
			ServiceToken: getEnv("QUOTE_SERVICE_TOKEN", ""),
		},
		Dispatch: DispatchConfig{
			PollInterval:          getDurationEnv("DISPATCH_POLL_INTERVAL", 10*time.Second),
			OfferWindow:           getDurationEnv("DISPATCH_OFFER_WINDOW", 30*time.Second),
			ActiveLookback:        getDurationEnv("ACTIVE_REQUEST_LOOKBACK", 24*time.Hour),
			InFlightLockTTL:       getDurationEnv("DISPATCH_INFLIGHT_LOCK_TTL", 15*time.Second),
			PendingScanLimit:      getIntEnv("DISPATCH_PENDING_SCAN_LIMIT", 20),
			NotifyRadiusKm:        getFloatEnv("DISPATCH_NOTIFY_RADIUS_KM", 30),
			DefaultCommissionRate: getFloatEnv("DEFAULT_COMMISSION_RATE", 15),
			SkatesMaxUnits:        getIntEnv("SKATES_MAX_UNITS", 4),
			AllowLegacyNullDest:   getBoolEnv("ALLOW_LEGACY_NULL_DESTINATION", true),
			RequestPollInterval:   getDurationEnv("REQUEST_POLL_INTERVAL", 8*time.Second),
		},
		Tracking: TrackingConfig{
			HeadingNoiseFloorM:  getFloatEnv("TRACKING_HEADING_NOISE_FLOOR_M", 5),
			SpeedWindow:         getIntEnv("TRACKING_SPEED_WINDOW", 10),
			MinSpeedSamples:     getIntEnv("TRACKING_MIN_SPEED_SAMPLES", 3),
			MinSpeedKmh:         getFloatEnv("TRACKING_MIN_SPEED_KMH", 1),
			MaxSpeedKmh:         getFloatEnv("TRACKING_MAX_SPEED_KMH", 200),
			FallbackSpeedKmh:    getFloatEnv("TRACKING_FALLBACK_SPEED_KMH", 40),
			MaxSampleGap:        getDurationEnv("TRACKING_MAX_SAMPLE_GAP", 60*time.Second),
			PersistMinInterval:  getDurationEnv("TRACKING_PERSIST_MIN_INTERVAL", 15*time.Second),
			PersistMaxInterval:  getDurationEnv("TRACKING_PERSIST_MAX_INTERVAL", 60*time.Second),
			PersistMinDistanceM: getFloatEnv("TRACKING_PERSIST_MIN_DISTANCE_M", 25),
			FollowCooldown:      getDurationEnv("TRACKING_FOLLOW_COOLDOWN", 8*time.Second),
			SmoothDuration:      getDurationEnv("TRACKING_SMOOTH_DURATION", 2*time.Second),
			SmoothFrameInterval: getDurationEnv("TRACKING_SMOOTH_FRAME_INTERVAL", 250*time.Millisecond),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
