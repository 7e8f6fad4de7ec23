package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthConfig
	Calls  CallsConfig
	Signal SignalConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

// CallsConfig bounds the call session lifecycle.
type CallsConfig struct {
	// MaxPendingWait is how long a call may wait for the second party before it is abandoned.
	MaxPendingWait time.Duration
	// CommitTimeout bounds the final record commit.
	CommitTimeout time.Duration
	// SweepInterval is the abandoned-call sweep period.
	SweepInterval time.Duration

	MaxActivePerRequester int
	// ActiveSlotTTL expires a requester's active-call slot if the process dies mid-call.
	ActiveSlotTTL time.Duration
}

// SignalConfig tunes the websocket signaling transport.
type SignalConfig struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")

	c.Calls.MaxPendingWait = mustDuration("CALL_MAX_PENDING_WAIT")
	c.Calls.CommitTimeout = mustDuration("CALL_COMMIT_TIMEOUT")
	c.Calls.SweepInterval = mustDuration("CALL_SWEEP_INTERVAL")
	c.Calls.ActiveSlotTTL = mustDuration("CALL_ACTIVE_SLOT_TTL")
	{
		n, err := optionalInt("CALL_MAX_ACTIVE_PER_REQUESTER")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Calls.MaxActivePerRequester = n
	}

	{
		n, err := optionalInt("WS_READ_LIMIT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Signal.ReadLimit = int64(n)
	}
	c.Signal.PingPeriod = mustDuration("WS_PING_PERIOD")
	{
		n, err := optionalInt("WS_SEND_BUFFER")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Signal.SendBuffer = n
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}

	if c.Calls.MaxPendingWait <= 0 {
		c.Calls.MaxPendingWait = 2 * time.Minute
	}
	if c.Calls.CommitTimeout <= 0 {
		c.Calls.CommitTimeout = 10 * time.Second
	}
	if c.Calls.SweepInterval <= 0 {
		c.Calls.SweepInterval = 5 * time.Second
	}
	if c.Calls.SweepInterval > c.Calls.MaxPendingWait {
		errs = append(errs, errors.New("CALL_SWEEP_INTERVAL must not exceed CALL_MAX_PENDING_WAIT"))
	}
	if c.Calls.MaxActivePerRequester < 0 {
		errs = append(errs, fmt.Errorf("CALL_MAX_ACTIVE_PER_REQUESTER must be >= 0, got %d", c.Calls.MaxActivePerRequester))
	} else if c.Calls.MaxActivePerRequester == 0 {
		c.Calls.MaxActivePerRequester = 1
	}
	if c.Calls.ActiveSlotTTL <= 0 {
		c.Calls.ActiveSlotTTL = 4 * time.Hour
	}

	if c.Signal.ReadLimit < 0 {
		errs = append(errs, fmt.Errorf("WS_READ_LIMIT must be >= 0, got %d", c.Signal.ReadLimit))
	} else if c.Signal.ReadLimit == 0 {
		c.Signal.ReadLimit = 64 << 10
	}
	if c.Signal.PingPeriod <= 0 {
		c.Signal.PingPeriod = 30 * time.Second
	}
	if c.Signal.PingPeriod >= time.Minute {
		errs = append(errs, fmt.Errorf("WS_PING_PERIOD must be below 60s, got %s", c.Signal.PingPeriod))
	}
	if c.Signal.SendBuffer < 0 {
		errs = append(errs, fmt.Errorf("WS_SEND_BUFFER must be >= 0, got %d", c.Signal.SendBuffer))
	} else if c.Signal.SendBuffer == 0 {
		c.Signal.SendBuffer = 64
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
