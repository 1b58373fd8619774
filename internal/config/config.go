// Package config loads the bridge's runtime configuration: deployment
// settings from the environment and an optional .env file, and the
// declarative model registry / warmup plan / endpoint map from YAML.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// Config is the read-only snapshot of bridge settings captured at startup,
// per spec.md §3.
type Config struct {
	// Port is the TCP port the HTTP/WS server listens on.
	Port string

	// LogLevel and LogFormat select the logger's verbosity and renderer.
	LogLevel  string
	LogFormat string

	// BearerToken, if non-empty, must be presented by HTTP clients as
	// "Authorization: Bearer <token>". Optional per spec.md §3.
	BearerToken string
	// BearerTokenHash is the bcrypt hash of BearerToken, computed once at
	// load time so the token is never compared in the clear on the hot path.
	BearerTokenHash []byte

	// RequestTimeout is the per-request wall-clock timeout between
	// successive peer events (default 180-360s per spec.md §5).
	RequestTimeout time.Duration

	// SessionAcquireTimeout bounds how long acquire() will park a caller
	// on a model's waiter queue before returning "no session".
	SessionAcquireTimeout time.Duration

	// ResponseChannelSize is the bounded capacity of each pending
	// request's response channel (default 5 per spec.md §4.F step 4).
	ResponseChannelSize int

	// TavernModeEnabled merges all system messages into one.
	TavernModeEnabled bool
	// BypassEnabled appends a trailing placeholder user turn for chat models.
	BypassEnabled bool
	// InsertEmptyUserTurn gates the extra empty user message insertion
	// (spec.md §9 Open Questions item 1).
	InsertEmptyUserTurn bool

	// DefaultMode and DefaultBattleTarget are used when no per-model
	// override is present in the endpoint map.
	DefaultMode         Mode
	DefaultBattleTarget string

	// DefaultSessionID and DefaultMessageID are the global fallback
	// session pair used when a model has no endpoint map entry, per
	// spec.md §4.F step 2.
	DefaultSessionID string
	DefaultMessageID string

	// ModelsFile, WarmupFile and EndpointMapFile are paths to the
	// declarative YAML files described above.
	ModelsFile      string
	WarmupFile      string
	EndpointMapFile string

	// RequestLogDir is where the ndjson request/error logs are rotated.
	RequestLogDir      string
	RequestLogMaxBytes int64

	// AdminWorkerPoolSize bounds the number of goroutines draining the
	// admin surface's async log-write channel.
	AdminWorkerPoolSize int
	// AdminLogChannelSize is the buffered channel capacity feeding those workers.
	AdminLogChannelSize int
	// RequestDetailsRingSize bounds the in-memory request-details ring buffer.
	RequestDetailsRingSize int

	// HeartbeatInterval and HeartbeatTimeout are read from the environment
	// (defaults 30s / 60s) but are not passed to the peer link, whose
	// ping/pong liveness check uses its own fixed 30s / 60s constants.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// CORSAllowOrigins is passed through to rs/cors for the admin surface.
	CORSAllowOrigins []string
}

// Load builds a Config from environment variables (via .env when present),
// using the getEnvOrDefault/getEnvAsDuration/getEnvAsInt helpers below,
// then hashes the bearer token if one was configured.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to load .env file: %v", err)
	}

	cfg := &Config{
		Port:                   getEnvOrDefault("PORT", "8080"),
		LogLevel:               getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:              getEnvOrDefault("LOG_FORMAT", "text"),
		BearerToken:            os.Getenv("BRIDGE_BEARER_TOKEN"),
		RequestTimeout:         getEnvAsDuration("REQUEST_TIMEOUT", 300*time.Second),
		SessionAcquireTimeout:  getEnvAsDuration("SESSION_ACQUIRE_TIMEOUT", 120*time.Second),
		ResponseChannelSize:    getEnvAsInt("RESPONSE_CHANNEL_SIZE", 5),
		TavernModeEnabled:      getEnvAsBool("TAVERN_MODE_ENABLED", false),
		BypassEnabled:          getEnvAsBool("BYPASS_ENABLED", false),
		InsertEmptyUserTurn:    getEnvAsBool("INSERT_EMPTY_USER_TURN", true),
		DefaultMode:            Mode(getEnvOrDefault("DEFAULT_MODE", string(ModeDirectChat))),
		DefaultBattleTarget:    getEnvOrDefault("DEFAULT_BATTLE_TARGET", "a"),
		DefaultSessionID:       os.Getenv("DEFAULT_SESSION_ID"),
		DefaultMessageID:       os.Getenv("DEFAULT_MESSAGE_ID"),
		ModelsFile:             getEnvOrDefault("MODELS_FILE", "config/models.yaml"),
		WarmupFile:             getEnvOrDefault("WARMUP_FILE", "config/warmup.yaml"),
		EndpointMapFile:        getEnvOrDefault("ENDPOINT_MAP_FILE", "config/endpoint_map.jsonc"),
		RequestLogDir:          getEnvOrDefault("REQUEST_LOG_DIR", "logs"),
		RequestLogMaxBytes:     getEnvAsInt64("REQUEST_LOG_MAX_BYTES", 10*1024*1024),
		AdminWorkerPoolSize:    getEnvAsInt("ADMIN_WORKER_POOL_SIZE", 2),
		AdminLogChannelSize:    getEnvAsInt("ADMIN_LOG_CHANNEL_SIZE", 256),
		RequestDetailsRingSize: getEnvAsInt("REQUEST_DETAILS_RING_SIZE", 200),
		HeartbeatInterval:      getEnvAsDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		HeartbeatTimeout:       getEnvAsDuration("HEARTBEAT_TIMEOUT", 60*time.Second),
		CORSAllowOrigins:       []string{getEnvOrDefault("CORS_ALLOW_ORIGIN", "*")},
	}

	if err := (&cfg.DefaultMode).Validate(); err != nil {
		return nil, fmt.Errorf("DEFAULT_MODE: %w", err)
	}

	if cfg.BearerToken != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.BearerToken), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hashing bearer token: %w", err)
		}
		cfg.BearerTokenHash = hash
	}

	return cfg, nil
}

// CheckBearerToken reports whether the presented token matches the
// configured one. Always true when no token is configured (auth disabled).
func (c *Config) CheckBearerToken(presented string) bool {
	if len(c.BearerTokenHash) == 0 {
		return true
	}
	if presented == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(c.BearerTokenHash, []byte(presented)) == nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: failed to parse %s=%q as time.Duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		} else {
			log.Printf("Warning: failed to parse %s=%q as int64, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: failed to parse %s=%q as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: failed to parse %s=%q as bool, using default %t: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

// readYAMLFile decodes a YAML file into v.
func readYAMLFile(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	return decoder.Decode(v)
}
