package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Argon2    Argon2Settings    `mapstructure:"argon2"`
	Bcrypt    BcryptSettings    `mapstructure:"bcrypt"`
	Auth      AuthSettings      `mapstructure:"auth"`
	Directory DirectorySettings `mapstructure:"directory"`
	Events    EventSettings     `mapstructure:"events"`
}

type AppSettings struct {
	Name        string   `mapstructure:"name"`
	Env         string   `mapstructure:"env"`
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	AdminTokens []string `mapstructure:"admin_tokens"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	AutoMigrate       bool          `mapstructure:"auto_migrate"`
}

// RedisSettings configures Redis connection, TLS and key layout
type RedisSettings struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	DB               int           `mapstructure:"db"`
	Password         string        `mapstructure:"password"`
	TLSEnabled       bool          `mapstructure:"tls_enabled"`
	EventPrefix      string        `mapstructure:"event_prefix"`
	EventTTL         time.Duration `mapstructure:"event_ttl"`
	GuardPrefix      string        `mapstructure:"guard_prefix"`
	GuardTTL         time.Duration `mapstructure:"guard_ttl"`
	GuardWaitTimeout time.Duration `mapstructure:"guard_wait_timeout"`
	RateLimitPrefix  string        `mapstructure:"rate_limit_prefix"`
}

// KafkaSettings configures the Kafka producer
type KafkaSettings struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

// RateLimitSettings configures the sliding windows on authentication endpoints.
// The *_max_attempts limits apply per client IP, the account_* limits per user_id or username.
type RateLimitSettings struct {
	WindowDuration                 time.Duration `mapstructure:"window_duration"`
	AuthenticateMaxAttempts        int           `mapstructure:"authenticate_max_attempts"`
	ChangeMaxAttempts              int           `mapstructure:"change_max_attempts"`
	AccountAuthenticateMaxAttempts int           `mapstructure:"account_authenticate_max_attempts"`
	AccountChangeMaxAttempts       int           `mapstructure:"account_change_max_attempts"`
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

// BcryptSettings configures the bcrypt hasher kept for migration.
type BcryptSettings struct {
	Cost int `mapstructure:"cost"`
}

type TelemetrySettings struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// AuthSettings configures lockout, aging and the local password policy.
// Zero lockout window or retry count disables lockout.
type AuthSettings struct {
	LockoutWindow                     time.Duration       `mapstructure:"lockout_window"`
	MaxRetryAttempts                  int                 `mapstructure:"max_retry_attempts"`
	TemporaryPasswordDuration         time.Duration       `mapstructure:"temporary_password_duration"`
	ExemptNewAccountsFromTempDuration bool                `mapstructure:"exempt_new_accounts_from_temp_duration"`
	CurrentAlgorithm                  string              `mapstructure:"current_algorithm"`
	HistoryRetention                  int                 `mapstructure:"history_retention"`
	Guard                             string              `mapstructure:"guard"`
	Policy                            LocalPolicySettings `mapstructure:"policy"`
}

type LocalPolicySettings struct {
	MinLength         int           `mapstructure:"min_length"`
	RequireComplexity bool          `mapstructure:"require_complexity"`
	MinCharClasses    int           `mapstructure:"min_char_classes"`
	MinStrengthScore  int           `mapstructure:"min_strength_score"`
	HistoryLength     int           `mapstructure:"history_length"`
	MaxAge            time.Duration `mapstructure:"max_age"`
}

// DirectorySettings configures LDAP and federated backends.
type DirectorySettings struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	PolicyCacheTTL   time.Duration `mapstructure:"policy_cache_ttl"`
	DisconnectedMode string        `mapstructure:"disconnected_mode"`
	SecretKey        string        `mapstructure:"secret_key"`
	InsecureSkipTLS  bool          `mapstructure:"insecure_skip_tls"`
}

// EventSettings configures the authentication event log.
type EventSettings struct {
	Store         string        `mapstructure:"store"`
	Retention     time.Duration `mapstructure:"retention"`
	PruneSchedule string        `mapstructure:"prune_schedule"`
	EvictSchedule string        `mapstructure:"evict_schedule"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("DISPENSE")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.admin_tokens",
		"app.cors_origins",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"postgres.auto_migrate",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.event_prefix",
		"redis.event_ttl",
		"redis.guard_prefix",
		"redis.guard_ttl",
		"redis.guard_wait_timeout",
		"redis.rate_limit_prefix",
		"kafka.enabled",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"rate_limit.window_duration",
		"rate_limit.authenticate_max_attempts",
		"rate_limit.change_max_attempts",
		"rate_limit.account_authenticate_max_attempts",
		"rate_limit.account_change_max_attempts",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.salt_length",
		"argon2.key_length",
		"bcrypt.cost",
		"auth.lockout_window",
		"auth.max_retry_attempts",
		"auth.temporary_password_duration",
		"auth.exempt_new_accounts_from_temp_duration",
		"auth.current_algorithm",
		"auth.history_retention",
		"auth.guard",
		"auth.policy.min_length",
		"auth.policy.require_complexity",
		"auth.policy.min_char_classes",
		"auth.policy.min_strength_score",
		"auth.policy.history_length",
		"auth.policy.max_age",
		"directory.timeout",
		"directory.policy_cache_ttl",
		"directory.disconnected_mode",
		"directory.secret_key",
		"directory.insecure_skip_tls",
		"events.store",
		"events.retention",
		"events.prune_schedule",
		"events.evict_schedule",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *AppConfig) validate() error {
	switch c.Events.Store {
	case "postgres", "redis":
	default:
		return fmt.Errorf("events.store must be postgres or redis, got %q", c.Events.Store)
	}
	switch c.Auth.Guard {
	case "postgres", "redis":
	default:
		return fmt.Errorf("auth.guard must be postgres or redis, got %q", c.Auth.Guard)
	}
	if c.Auth.LockoutWindow < 0 || c.Auth.MaxRetryAttempts < 0 {
		return fmt.Errorf("auth lockout settings must not be negative")
	}
	if c.Directory.Timeout <= 0 {
		return fmt.Errorf("directory.timeout must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "dispense-auth")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.admin_tokens", []string{})
	v.SetDefault("app.cors_origins", []string{})

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "dispense")
	v.SetDefault("postgres.password", "dispense_password")
	v.SetDefault("postgres.database", "dispense")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")
	v.SetDefault("postgres.auto_migrate", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.event_prefix", "auth:events")
	v.SetDefault("redis.event_ttl", "720h")
	v.SetDefault("redis.guard_prefix", "auth:guard")
	v.SetDefault("redis.guard_ttl", "10s")
	v.SetDefault("redis.guard_wait_timeout", "5s")
	v.SetDefault("redis.rate_limit_prefix", "auth:rate_limit")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "dispense")
	v.SetDefault("kafka.async", true)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "dispense-auth")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.authenticate_max_attempts", 30)
	v.SetDefault("rate_limit.change_max_attempts", 5)
	v.SetDefault("rate_limit.account_authenticate_max_attempts", 10)
	v.SetDefault("rate_limit.account_change_max_attempts", 3)

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)

	v.SetDefault("bcrypt.cost", 12)

	v.SetDefault("auth.lockout_window", "30m")
	v.SetDefault("auth.max_retry_attempts", 5)
	v.SetDefault("auth.temporary_password_duration", "24h")
	v.SetDefault("auth.exempt_new_accounts_from_temp_duration", false)
	v.SetDefault("auth.current_algorithm", "argon2id")
	v.SetDefault("auth.history_retention", 10)
	v.SetDefault("auth.guard", "postgres")
	v.SetDefault("auth.policy.min_length", 8)
	v.SetDefault("auth.policy.require_complexity", true)
	v.SetDefault("auth.policy.min_char_classes", 3)
	v.SetDefault("auth.policy.min_strength_score", 2)
	v.SetDefault("auth.policy.history_length", 5)
	v.SetDefault("auth.policy.max_age", "2160h")

	v.SetDefault("directory.timeout", "10s")
	v.SetDefault("directory.policy_cache_ttl", "1h")
	v.SetDefault("directory.disconnected_mode", "disabled")
	v.SetDefault("directory.secret_key", "")
	v.SetDefault("directory.insecure_skip_tls", false)

	v.SetDefault("events.store", "postgres")
	v.SetDefault("events.retention", "2160h")
	v.SetDefault("events.prune_schedule", "@daily")
	v.SetDefault("events.evict_schedule", "@every 5m")
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "DISPENSE_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
