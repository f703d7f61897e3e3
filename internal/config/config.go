package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName           = "CustodyLedger"
	defaultAppEnv            = "development"
	defaultPort              = "8080"
	defaultLogLevel          = "info"
	defaultLedgerStore       = StoreMemory
	defaultDisbursementTopic = "custody.disbursements"
	defaultEventsTopic       = "custody.events"
	defaultShutdownDelay     = 10 * time.Second
	defaultIdempotencyTTL    = 24 * time.Hour
	defaultRelayInterval     = 5 * time.Second
	defaultExecuteRateLimit  = 60
	idemTTLSecondsEnvVar     = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar         = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar    = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar   = "SHUTDOWN_TIMEOUT"
)

// Ledger store backends selectable with LEDGER_STORE.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName           string
	AppEnv            string
	Port              string
	LogLevel          string
	LedgerStore       string
	DatabaseURL       string
	DatabaseMaxConns  int32
	RedisURL          string
	KafkaBrokers      []string
	DisbursementTopic string
	EventsTopic       string
	AllowedAsset      string
	AddressPrefix     string
	CallerTokenSecret string
	ShutdownPeriod    time.Duration
	IdempotencyTTL    time.Duration
	RelayInterval     time.Duration
	ExecuteRateLimit  int
}

// Load reads an optional .env file and then the environment. Variables
// already set in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv populates a Config from environment variables only.
func FromEnv() (Config, error) {
	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		AppEnv:            getEnv("APP_ENV", defaultAppEnv),
		Port:              getEnv("PORT", defaultPort),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LedgerStore:       strings.ToLower(getEnv("LEDGER_STORE", defaultLedgerStore)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		KafkaBrokers:      splitList(os.Getenv("KAFKA_BROKERS")),
		DisbursementTopic: getEnv("DISBURSEMENT_TOPIC", defaultDisbursementTopic),
		EventsTopic:       getEnv("EVENTS_TOPIC", defaultEventsTopic),
		AllowedAsset:      strings.TrimSpace(os.Getenv("ALLOWED_ASSET")),
		AddressPrefix:     os.Getenv("ADDRESS_PREFIX"),
		CallerTokenSecret: os.Getenv("CALLER_TOKEN_SECRET"),
		ShutdownPeriod:    defaultShutdownDelay,
		IdempotencyTTL:    defaultIdempotencyTTL,
		RelayInterval:     defaultRelayInterval,
		ExecuteRateLimit:  defaultExecuteRateLimit,
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.RelayInterval, err = durationEnv("", "RELAY_INTERVAL", cfg.RelayInterval); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("EXECUTE_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid EXECUTE_RATE_LIMIT: %q", v)
		}
		cfg.ExecuteRateLimit = n
	}
	if v := os.Getenv("DATABASE_MAX_CONNS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return Config{}, fmt.Errorf("invalid DATABASE_MAX_CONNS: %w", err)
		}
		cfg.DatabaseMaxConns = int32(n)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.AllowedAsset == "" {
		return fmt.Errorf("ALLOWED_ASSET must be set")
	}
	if c.CallerTokenSecret == "" {
		return fmt.Errorf("CALLER_TOKEN_SECRET must be set")
	}

	switch c.LedgerStore {
	case StoreMemory:
		if !c.IsDev() {
			return fmt.Errorf("LEDGER_STORE=memory is only allowed in development, APP_ENV=%s", c.AppEnv)
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when LEDGER_STORE=postgres")
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when LEDGER_STORE=redis")
		}
	default:
		return fmt.Errorf("unknown LEDGER_STORE %q", c.LedgerStore)
	}

	if !c.IsDev() && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
	}
	return nil
}

// IsDev reports whether the app runs in a local or development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// durationEnv reads whole seconds from secondsKey, falling back to a Go
// duration string in durationKey.
func durationEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if secondsKey != "" {
		if v := os.Getenv(secondsKey); v != "" {
			seconds, err := strconv.Atoi(v)
			if err != nil {
				return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
			}
			return time.Duration(seconds) * time.Second, nil
		}
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
