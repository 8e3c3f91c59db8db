package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/rl1809/baller-exchange/internal/core/service"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server    ServerConfig
	Economy   EconomyConfig
	Tx        TxConfig
	Store     StoreConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Oracle    OracleConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	GRPCPort        int           `envconfig:"GRPC_PORT" default:"50051"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	AllowedOrigins  []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// EconomyConfig holds the prices and grants of the economy.
type EconomyConfig struct {
	RollCost        int64         `envconfig:"ROLL_COST" default:"1000"`
	PackRollCost    int64         `envconfig:"PACK_ROLL_COST" default:"4000"`
	RollsPerPack    int           `envconfig:"ROLLS_PER_PACK" default:"5"`
	StartingBalance int64         `envconfig:"STARTING_BALANCE" default:"4000"`
	AccrualPeriod   time.Duration `envconfig:"ACCRUAL_PERIOD" default:"5m"`
	AccrualAmount   int64         `envconfig:"ACCRUAL_AMOUNT" default:"2"`
	MaxTradeItems   int           `envconfig:"MAX_TRADE_ITEMS" default:"10"`
}

// TxConfig bounds conflict retries of the transaction coordinator.
type TxConfig struct {
	MaxAttempts int           `envconfig:"TX_MAX_ATTEMPTS" default:"10"`
	Backoff     time.Duration `envconfig:"TX_BACKOFF" default:"5ms"`
}

type StoreConfig struct {
	Backend      string        `envconfig:"STORE_BACKEND" default:"memory"` // memory | mysql
	Host         string        `envconfig:"DB_HOST" default:"localhost"`
	Port         int           `envconfig:"DB_PORT" default:"3306"`
	Name         string        `envconfig:"DB_NAME" default:"baller_exchange"`
	User         string        `envconfig:"DB_USER" default:"root"`
	Password     string        `envconfig:"DB_PASS" default:""`
	MaxOpenConns int           `envconfig:"DB_MAX_OPEN_CONNS" default:"50"`
	MaxIdleConns int           `envconfig:"DB_MAX_IDLE_CONNS" default:"10"`
	ConnLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
}

// RedisConfig enables the roll replay guard when Addr is set.
type RedisConfig struct {
	Addr           string        `envconfig:"REDIS_ADDR" default:""`
	Password       string        `envconfig:"REDIS_PASSWORD" default:""`
	DB             int           `envconfig:"REDIS_DB" default:"0"`
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
}

// AuthConfig selects how bearer tokens are verified. HMACSecret and
// PublicKeyFile are mutually exclusive.
type AuthConfig struct {
	HMACSecret    string `envconfig:"AUTH_HMAC_SECRET" default:""`
	PublicKeyFile string `envconfig:"AUTH_PUBLIC_KEY_FILE" default:""`
	UserClaim     string `envconfig:"AUTH_USER_CLAIM" default:"sub"`
	Issuer        string `envconfig:"AUTH_ISSUER" default:""`
}

type OracleConfig struct {
	Mode      string        `envconfig:"ORACLE_MODE" default:"local"` // local | http
	Endpoint  string        `envconfig:"ORACLE_ENDPOINT" default:""`
	Timeout   time.Duration `envconfig:"ORACLE_TIMEOUT" default:"10s"`
	CDNPrefix string        `envconfig:"CDN_PREFIX" default:""`
}

// RateLimitConfig limits mutating requests per user.
type RateLimitConfig struct {
	RPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"5"`
	Burst int     `envconfig:"RATE_LIMIT_BURST" default:"10"`
}

// AuditConfig schedules the invariant audit; an empty schedule disables it.
type AuditConfig struct {
	Schedule string `envconfig:"AUDIT_SCHEDULE" default:"@every 10m"`
}

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"text"` // text | json
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s *ServerConfig) GRPCAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort)
}

// DSN builds the MySQL connection string.
func (s *StoreConfig) DSN() string {
	c := mysql.NewConfig()
	c.User = s.User
	c.Passwd = s.Password
	c.Net = "tcp"
	c.Addr = fmt.Sprintf("%s:%d", s.Host, s.Port)
	c.DBName = s.Name
	c.ParseTime = true
	return c.FormatDSN()
}

// Service converts the economy settings for the service layer.
func (e EconomyConfig) Service() service.EconomyConfig {
	return service.EconomyConfig{
		RollCost:        e.RollCost,
		PackRollCost:    e.PackRollCost,
		RollsPerPack:    e.RollsPerPack,
		StartingBalance: e.StartingBalance,
		AccrualPeriod:   e.AccrualPeriod,
		AccrualAmount:   e.AccrualAmount,
		MaxTradeItems:   e.MaxTradeItems,
	}
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	e := c.Economy
	if e.RollCost <= 0 || e.PackRollCost <= 0 {
		errs = append(errs, errors.New("roll costs must be positive"))
	}
	if e.RollsPerPack <= 0 {
		errs = append(errs, errors.New("ROLLS_PER_PACK must be positive"))
	}
	if e.StartingBalance < 0 {
		errs = append(errs, errors.New("STARTING_BALANCE must not be negative"))
	}
	if e.AccrualPeriod < time.Millisecond || e.AccrualAmount <= 0 {
		errs = append(errs, errors.New("accrual period and amount must be positive"))
	}
	if e.MaxTradeItems <= 0 {
		errs = append(errs, errors.New("MAX_TRADE_ITEMS must be positive"))
	}
	if c.Tx.MaxAttempts <= 0 {
		errs = append(errs, errors.New("TX_MAX_ATTEMPTS must be positive"))
	}
	switch c.Store.Backend {
	case "memory", "mysql":
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend))
	}
	switch c.Oracle.Mode {
	case "local":
	case "http":
		if c.Oracle.Endpoint == "" {
			errs = append(errs, errors.New("ORACLE_ENDPOINT is required in http mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ORACLE_MODE %q", c.Oracle.Mode))
	}
	if c.Auth.HMACSecret != "" && c.Auth.PublicKeyFile != "" {
		errs = append(errs, errors.New("set only one of AUTH_HMAC_SECRET and AUTH_PUBLIC_KEY_FILE"))
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("rate limit must be positive"))
	}
	return errors.Join(errs...)
}

// Load reads configuration from an optional .env file and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
