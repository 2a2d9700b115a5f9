package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Password     PasswordConfig
	Token        TokenConfig
	Verification VerificationConfig
	Sendgrid     SendgridConfig
	Mailout      MailoutConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BIZGATE_APP_ENV" required:"true"`
	Port         string `envconfig:"BIZGATE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BIZGATE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BIZGATE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev) || strings.EqualFold(a.Env, "development")
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type DBConfig struct {
	DSN string `envconfig:"BIZGATE_DB_DSN"`

	LegacyHost     string `envconfig:"BIZGATE_DB_HOST"`
	LegacyPort     int    `envconfig:"BIZGATE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BIZGATE_DB_USER"`
	LegacyPassword string `envconfig:"BIZGATE_DB_PASSWORD"`
	LegacyName     string `envconfig:"BIZGATE_DB_NAME"`
	LegacySSLMode  string `envconfig:"BIZGATE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BIZGATE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BIZGATE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BIZGATE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BIZGATE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BIZGATE_REDIS_URL"`
	Address      string        `envconfig:"BIZGATE_REDIS_ADDR"`
	Password     string        `envconfig:"BIZGATE_REDIS_PASSWORD"`
	DB           int           `envconfig:"BIZGATE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BIZGATE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BIZGATE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BIZGATE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BIZGATE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BIZGATE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// PasswordConfig controls the bcrypt cost factor used when hashing credentials.
type PasswordConfig struct {
	BcryptCost int `envconfig:"BIZGATE_BCRYPT_COST" default:"12"`
}

// TokenConfig holds the signing secret and lifetime for email verification tokens.
type TokenConfig struct {
	Secret   string `envconfig:"BIZGATE_TOKEN_SECRET" required:"true"`
	TTLHours int    `envconfig:"BIZGATE_TOKEN_TTL_HOURS" default:"48"`
}

// TTL returns the verification token lifetime.
func (t TokenConfig) TTL() time.Duration {
	if t.TTLHours <= 0 {
		return 48 * time.Hour
	}
	return time.Duration(t.TTLHours) * time.Hour
}

type VerificationConfig struct {
	BaseURL string `envconfig:"BIZGATE_BASE_URL" required:"true"`
}

// Link builds the verification URL embedding the issued token.
func (v VerificationConfig) Link(token string) string {
	base := strings.TrimRight(v.BaseURL, "/")
	return fmt.Sprintf("%s/verification?token=%s", base, url.QueryEscape(token))
}

type SendgridConfig struct {
	APIKey      string `envconfig:"BIZGATE_SENDGRID_API_KEY"`
	DefaultFrom string `envconfig:"BIZGATE_SENDGRID_FROM_EMAIL"`
	FromName    string `envconfig:"BIZGATE_SENDGRID_FROM_NAME" default:"Bizgate"`
}

type MailoutConfig struct {
	BatchSize      int `envconfig:"BIZGATE_MAILOUT_BATCH_SIZE" default:"25"`
	PollIntervalMS int `envconfig:"BIZGATE_MAILOUT_POLL_MS" default:"1000"`
	MaxAttempts    int `envconfig:"BIZGATE_MAILOUT_MAX_ATTEMPTS" default:"8"`
}

// PollInterval returns the dispatcher poll cadence.
func (m MailoutConfig) PollInterval() time.Duration {
	if m.PollIntervalMS <= 0 {
		return time.Second
	}
	return time.Duration(m.PollIntervalMS) * time.Millisecond
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
