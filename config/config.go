package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends accepted by STORE_DRIVER.
const (
	StorePostgres  = "postgres"
	StoreFirestore = "firestore"
	StoreMemory    = "memory"
)

// MaxPendingRidesLimit caps DISPATCH_PENDING_RIDES_LIMIT.
const MaxPendingRidesLimit = 50

// Identity verifiers accepted by AUTH_PROVIDER.
const (
	AuthFirebase = "firebase"
	AuthJWT      = "jwt"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Store    StoreConfig
	Firebase FirebaseConfig
	Auth     AuthConfig
	Maps     MapsConfig
	Kafka    KafkaConfig
	Dispatch DispatchConfig
	Location LocationConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `mapstructure:"SERVER_HOST"`
	Port         int           `mapstructure:"SERVER_PORT"`
	ReadTimeout  time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `mapstructure:"SERVER_IDLE_TIMEOUT"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"POSTGRES_HOST"`
	Port     int    `mapstructure:"POSTGRES_PORT"`
	User     string `mapstructure:"POSTGRES_USER"`
	Password string `mapstructure:"POSTGRES_PASSWORD"`
	DBName   string `mapstructure:"POSTGRES_DB"`
	SSLMode  string `mapstructure:"POSTGRES_SSLMODE"`
	MaxConns int32  `mapstructure:"POSTGRES_MAX_CONNS"`
	MinConns int32  `mapstructure:"POSTGRES_MIN_CONNS"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `mapstructure:"REDIS_HOST"`
	Port     int    `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
	PoolSize int    `mapstructure:"REDIS_POOL_SIZE"`
}

// StoreConfig selects the dispatch store backend.
type StoreConfig struct {
	Driver string `mapstructure:"STORE_DRIVER"`
}

// FirebaseConfig holds Firebase Admin SDK settings.
type FirebaseConfig struct {
	ProjectID       string `mapstructure:"FIREBASE_PROJECT_ID"`
	CredentialsFile string `mapstructure:"FIREBASE_CREDENTIALS_FILE"`
}

// AuthConfig selects and configures the identity verifier.
type AuthConfig struct {
	Provider  string        `mapstructure:"AUTH_PROVIDER"`
	JWTSecret string        `mapstructure:"AUTH_JWT_SECRET"`
	JWTIssuer string        `mapstructure:"AUTH_JWT_ISSUER"`
	TokenTTL  time.Duration `mapstructure:"AUTH_TOKEN_TTL"`
}

// MapsConfig holds the geocoding/routing provider settings.
type MapsConfig struct {
	APIKey          string        `mapstructure:"GOOGLE_MAPS_API_KEY"`
	RequestTimeout  time.Duration `mapstructure:"MAPS_REQUEST_TIMEOUT"`
	GeocodeCacheTTL time.Duration `mapstructure:"MAPS_GEOCODE_CACHE_TTL"`
}

// KafkaConfig holds ride event publishing settings. Publishing is disabled
// when Brokers is empty.
type KafkaConfig struct {
	Brokers []string `mapstructure:"KAFKA_BROKERS"`
	Topic   string   `mapstructure:"KAFKA_TOPIC"`
}

// DispatchConfig holds matching parameters.
type DispatchConfig struct {
	DriverSearchRadiusKm float64       `mapstructure:"DISPATCH_DRIVER_RADIUS_KM"`
	RideSearchRadiusKm   float64       `mapstructure:"DISPATCH_RIDE_RADIUS_KM"`
	DriverSearchTimeout  time.Duration `mapstructure:"DISPATCH_DRIVER_SEARCH_TIMEOUT"`
	PendingRidesLimit    int           `mapstructure:"DISPATCH_PENDING_RIDES_LIMIT"`
	AcceptTimeout        time.Duration `mapstructure:"DISPATCH_ACCEPT_TIMEOUT"`
}

// LocationConfig holds geolocation fallbacks and throttling.
type LocationConfig struct {
	FallbackLat      float64       `mapstructure:"LOCATION_FALLBACK_LAT"`
	FallbackLon      float64       `mapstructure:"LOCATION_FALLBACK_LON"`
	HighAccuracyWait time.Duration `mapstructure:"LOCATION_HIGH_ACCURACY_TIMEOUT"`
	LowAccuracyWait  time.Duration `mapstructure:"LOCATION_LOW_ACCURACY_TIMEOUT"`
	MinDistanceM     float64       `mapstructure:"LOCATION_MIN_DISTANCE_M"`
	MinInterval      time.Duration `mapstructure:"LOCATION_MIN_INTERVAL"`
	TrackerInterval  time.Duration `mapstructure:"LOCATION_TRACKER_INTERVAL"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"LOG_LEVEL"`
	Format string `mapstructure:"LOG_FORMAT"`
}

// DSN returns the PostgreSQL connection string.
func (p *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode,
	)
}

// Addr returns the Redis address in host:port format.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ServerAddr returns the HTTP listen address in host:port format.
func (s *ServerConfig) ServerAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	setDefaults(v)

	// Try to read .env file. If it doesn't exist (e.g., inside Docker),
	// env vars injected by docker-compose env_file are used instead.
	_ = v.ReadInConfig()

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// ── Defaults ────────────────────────────────────────
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "5s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "10s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", 5432)
	v.SetDefault("POSTGRES_USER", "gaadisathi")
	v.SetDefault("POSTGRES_PASSWORD", "gaadisathi_secret")
	v.SetDefault("POSTGRES_DB", "gaadisathi_db")
	v.SetDefault("POSTGRES_SSLMODE", "disable")
	v.SetDefault("POSTGRES_MAX_CONNS", 50)
	v.SetDefault("POSTGRES_MIN_CONNS", 10)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 100)

	v.SetDefault("STORE_DRIVER", StorePostgres)

	v.SetDefault("FIREBASE_PROJECT_ID", "")
	v.SetDefault("FIREBASE_CREDENTIALS_FILE", "")

	v.SetDefault("AUTH_PROVIDER", AuthJWT)
	v.SetDefault("AUTH_JWT_SECRET", "change-me")
	v.SetDefault("AUTH_JWT_ISSUER", "gaadisathi")
	v.SetDefault("AUTH_TOKEN_TTL", "24h")

	v.SetDefault("GOOGLE_MAPS_API_KEY", "")
	v.SetDefault("MAPS_REQUEST_TIMEOUT", "5s")
	v.SetDefault("MAPS_GEOCODE_CACHE_TTL", "24h")

	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "ride-events")

	v.SetDefault("DISPATCH_DRIVER_RADIUS_KM", 5.0)
	v.SetDefault("DISPATCH_RIDE_RADIUS_KM", 10.0)
	v.SetDefault("DISPATCH_DRIVER_SEARCH_TIMEOUT", "30s")
	v.SetDefault("DISPATCH_PENDING_RIDES_LIMIT", 50)
	v.SetDefault("DISPATCH_ACCEPT_TIMEOUT", "5s")

	v.SetDefault("LOCATION_FALLBACK_LAT", 19.0760)
	v.SetDefault("LOCATION_FALLBACK_LON", 72.8777)
	v.SetDefault("LOCATION_HIGH_ACCURACY_TIMEOUT", "25s")
	v.SetDefault("LOCATION_LOW_ACCURACY_TIMEOUT", "30s")
	v.SetDefault("LOCATION_MIN_DISTANCE_M", 10.0)
	v.SetDefault("LOCATION_MIN_INTERVAL", "2s")
	v.SetDefault("LOCATION_TRACKER_INTERVAL", "5s")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	// ── Server ──────────────────────────────────────────
	cfg.Server = ServerConfig{
		Host:         v.GetString("SERVER_HOST"),
		Port:         v.GetInt("SERVER_PORT"),
		ReadTimeout:  v.GetDuration("SERVER_READ_TIMEOUT"),
		WriteTimeout: v.GetDuration("SERVER_WRITE_TIMEOUT"),
		IdleTimeout:  v.GetDuration("SERVER_IDLE_TIMEOUT"),
	}

	// ── Postgres ────────────────────────────────────────
	cfg.Postgres = PostgresConfig{
		Host:     v.GetString("POSTGRES_HOST"),
		Port:     v.GetInt("POSTGRES_PORT"),
		User:     v.GetString("POSTGRES_USER"),
		Password: v.GetString("POSTGRES_PASSWORD"),
		DBName:   v.GetString("POSTGRES_DB"),
		SSLMode:  v.GetString("POSTGRES_SSLMODE"),
		MaxConns: v.GetInt32("POSTGRES_MAX_CONNS"),
		MinConns: v.GetInt32("POSTGRES_MIN_CONNS"),
	}

	// ── Redis ───────────────────────────────────────────
	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
		PoolSize: v.GetInt("REDIS_POOL_SIZE"),
	}

	// ── Store / identity ────────────────────────────────
	cfg.Store = StoreConfig{Driver: strings.ToLower(v.GetString("STORE_DRIVER"))}
	cfg.Firebase = FirebaseConfig{
		ProjectID:       v.GetString("FIREBASE_PROJECT_ID"),
		CredentialsFile: v.GetString("FIREBASE_CREDENTIALS_FILE"),
	}
	cfg.Auth = AuthConfig{
		Provider:  strings.ToLower(v.GetString("AUTH_PROVIDER")),
		JWTSecret: v.GetString("AUTH_JWT_SECRET"),
		JWTIssuer: v.GetString("AUTH_JWT_ISSUER"),
		TokenTTL:  v.GetDuration("AUTH_TOKEN_TTL"),
	}

	// ── External providers ──────────────────────────────
	cfg.Maps = MapsConfig{
		APIKey:          v.GetString("GOOGLE_MAPS_API_KEY"),
		RequestTimeout:  v.GetDuration("MAPS_REQUEST_TIMEOUT"),
		GeocodeCacheTTL: v.GetDuration("MAPS_GEOCODE_CACHE_TTL"),
	}
	cfg.Kafka = KafkaConfig{
		Brokers: splitList(v.GetString("KAFKA_BROKERS")),
		Topic:   v.GetString("KAFKA_TOPIC"),
	}

	// ── Dispatch ────────────────────────────────────────
	cfg.Dispatch = DispatchConfig{
		DriverSearchRadiusKm: v.GetFloat64("DISPATCH_DRIVER_RADIUS_KM"),
		RideSearchRadiusKm:   v.GetFloat64("DISPATCH_RIDE_RADIUS_KM"),
		DriverSearchTimeout:  v.GetDuration("DISPATCH_DRIVER_SEARCH_TIMEOUT"),
		PendingRidesLimit:    v.GetInt("DISPATCH_PENDING_RIDES_LIMIT"),
		AcceptTimeout:        v.GetDuration("DISPATCH_ACCEPT_TIMEOUT"),
	}

	// ── Location ────────────────────────────────────────
	cfg.Location = LocationConfig{
		FallbackLat:      v.GetFloat64("LOCATION_FALLBACK_LAT"),
		FallbackLon:      v.GetFloat64("LOCATION_FALLBACK_LON"),
		HighAccuracyWait: v.GetDuration("LOCATION_HIGH_ACCURACY_TIMEOUT"),
		LowAccuracyWait:  v.GetDuration("LOCATION_LOW_ACCURACY_TIMEOUT"),
		MinDistanceM:     v.GetFloat64("LOCATION_MIN_DISTANCE_M"),
		MinInterval:      v.GetDuration("LOCATION_MIN_INTERVAL"),
		TrackerInterval:  v.GetDuration("LOCATION_TRACKER_INTERVAL"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	return cfg
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StorePostgres, StoreMemory:
	case StoreFirestore:
		if c.Firebase.ProjectID == "" {
			return fmt.Errorf("config: FIREBASE_PROJECT_ID is required for the firestore store")
		}
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.Store.Driver)
	}

	switch c.Auth.Provider {
	case AuthFirebase:
		if c.Firebase.ProjectID == "" {
			return fmt.Errorf("config: FIREBASE_PROJECT_ID is required for firebase auth")
		}
	case AuthJWT:
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("config: AUTH_JWT_SECRET must not be empty")
		}
	default:
		return fmt.Errorf("config: unknown AUTH_PROVIDER %q", c.Auth.Provider)
	}

	if c.Dispatch.DriverSearchRadiusKm <= 0 || c.Dispatch.RideSearchRadiusKm <= 0 {
		return fmt.Errorf("config: dispatch radii must be > 0")
	}
	if c.Dispatch.PendingRidesLimit <= 0 || c.Dispatch.PendingRidesLimit > MaxPendingRidesLimit {
		return fmt.Errorf("config: DISPATCH_PENDING_RIDES_LIMIT must be in 1..%d", MaxPendingRidesLimit)
	}
	if c.Dispatch.DriverSearchTimeout <= 0 {
		return fmt.Errorf("config: DISPATCH_DRIVER_SEARCH_TIMEOUT must be > 0")
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
