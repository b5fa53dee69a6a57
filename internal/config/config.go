package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// RefreshTokenLifetime is how long a session stays in a user's registry.
// Refresh JWTs must not outlive it.
const RefreshTokenLifetime = 7 * 24 * time.Hour

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Driver string
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StorageConfig struct {
	Endpoint      string
	PublicURL     string
	AccessKey     string
	SecretKey     string
	BucketAvatars string
	UseSSL        bool
	Region        string
	MaxAvatarSize int64
}

// SecurityConfig holds the signing secrets and lifetimes of every credential
// the service mints. It is read once at startup and never mutated.
type SecurityConfig struct {
	JWTAccessSecret  string
	JWTRefreshSecret string
	JWTAccessTTL     time.Duration
	JWTRefreshTTL    time.Duration
	MaxSessions      int
	VerificationTTL  time.Duration
	ResetTTL         time.Duration

	// AuthRateLimit caps credential requests per client IP per AuthRateWindow; 0 disables it.
	AuthRateLimit  int64
	AuthRateWindow time.Duration
}

type MailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	From         string
	FrontendURL  string
	OutboxStream string
}

type WorkerConfig struct {
	Stream        string
	Group         string
	Consumer      string
	ClaimInterval time.Duration
}

type JobsConfig struct {
	PurgeSchedule string
}

type AppConfig struct {
	Environment      string
	LogLevel         string
	HTTP             HTTPConfig
	Database         DatabaseConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Storage          StorageConfig
	Security         SecurityConfig
	Mail             MailConfig
	Worker           WorkerConfig
	Jobs             JobsConfig
	AllowCORSOrigins []string
}

// Load reads an optional .env file, then config.yaml, then FARMMARKET_*
// environment variables, in increasing order of precedence.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("FARMMARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations under which the token issuer cannot keep
// access and refresh credentials apart.
func (c *AppConfig) Validate() error {
	if c.Security.JWTAccessSecret == "" || c.Security.JWTRefreshSecret == "" {
		return errors.New("config: security.jwtaccesssecret and security.jwtrefreshsecret are required")
	}
	if c.Security.JWTAccessSecret == c.Security.JWTRefreshSecret {
		return errors.New("config: access and refresh secrets must differ")
	}
	if c.Security.JWTRefreshTTL <= 0 || c.Security.JWTRefreshTTL > RefreshTokenLifetime {
		return fmt.Errorf("config: security.jwtrefreshttl must be in (0, %s], got %s", RefreshTokenLifetime, c.Security.JWTRefreshTTL)
	}
	if c.Security.MaxSessions < 1 {
		return fmt.Errorf("config: security.maxsessions must be positive, got %d", c.Security.MaxSessions)
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("config: unknown database.driver %q", c.Database.Driver)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("loglevel", "")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("database.driver", DriverPostgres)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")
	v.SetDefault("postgres.automigrate", true)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.publicurl", "")
	v.SetDefault("storage.accesskey", "")
	v.SetDefault("storage.secretkey", "")
	v.SetDefault("storage.bucketavatars", "farmmarket-avatars")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.maxavatarsize", 5<<20)

	v.SetDefault("security.jwtaccesssecret", "")
	v.SetDefault("security.jwtrefreshsecret", "")
	v.SetDefault("security.jwtaccessttl", "15m")
	v.SetDefault("security.jwtrefreshttl", "168h") // 7 days
	v.SetDefault("security.maxsessions", 5)
	v.SetDefault("security.verificationttl", "24h")
	v.SetDefault("security.authratelimit", 20)
	v.SetDefault("security.authratewindow", "15m")
	v.SetDefault("security.resetttl", "1h")

	v.SetDefault("mail.smtphost", "")
	v.SetDefault("mail.smtpport", 587)
	v.SetDefault("mail.smtpuser", "")
	v.SetDefault("mail.smtppassword", "")
	v.SetDefault("mail.from", "no-reply@farmmarket.local")
	v.SetDefault("mail.frontendurl", "http://localhost:5173")
	v.SetDefault("mail.outboxstream", "mail:outbox")

	v.SetDefault("worker.stream", "mail:outbox")
	v.SetDefault("worker.group", "mail-workers")
	v.SetDefault("worker.consumer", "worker-1")
	v.SetDefault("worker.claiminterval", "30s")

	v.SetDefault("jobs.purgeschedule", "0 0 * * * *")

	v.SetDefault("allowcorsorigins", []string{})
}
