package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database    DatabaseConfig
	Redis       RedisConfig
	Session     SessionConfig
	Device      DeviceConfig
	JoinLink    JoinLinkConfig
	Tickets     TicketConfig
	Institution InstitutionConfig
	Security    SecurityConfig
	Mail        MailConfig
	CORS        CORSConfig
	Log         LogConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	QueryTimeout time.Duration
	AutoMigrate  bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// SessionConfig controls signed session tokens and the cookie carrying them.
type SessionConfig struct {
	Secret       string
	TeacherTTL   time.Duration
	StudentTTL   time.Duration
	CookieName   string
	CookieSecure bool
}

// DeviceConfig controls the long-lived device binding cookie.
type DeviceConfig struct {
	CookieName string
	CookieTTL  time.Duration
}

// JoinLinkConfig controls class join tokens.
type JoinLinkConfig struct {
	TTL     time.Duration
	BaseURL string
}

// TicketConfig controls short-lived signed tickets (class selection, email verification).
type TicketConfig struct {
	Secret           string
	SelectionTTL     time.Duration
	VerificationTTL  time.Duration
	VerificationSize int
}

// InstitutionConfig pins the civil timezone and the teacher email domain.
type InstitutionConfig struct {
	Timezone    string
	EmailDomain string
}

type SecurityConfig struct {
	PasswordHashCost int
}

// MailConfig sizes the outbound mail dispatcher.
type MailConfig struct {
	Workers    int
	Retries    int
	RetryDelay time.Duration
	Sender     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := fromViper(v)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const (
	devSessionSecret = "dev_session_secret"
	devTicketSecret  = "dev_ticket_secret"
)

// validate refuses to run production with the development signing secrets.
func (c *Config) validate() error {
	if c.Env != EnvProduction {
		return nil
	}
	if c.Session.Secret == "" || c.Session.Secret == devSessionSecret {
		return fmt.Errorf("SESSION_SECRET must be set in production")
	}
	if c.Tickets.Secret == "" || c.Tickets.Secret == devTicketSecret {
		return fmt.Errorf("TICKET_SECRET must be set in production")
	}
	return nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		QueryTimeout: parseDuration(v.GetString("DB_QUERY_TIMEOUT"), 5*time.Second),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_REDIS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Session = SessionConfig{
		Secret:       v.GetString("SESSION_SECRET"),
		TeacherTTL:   parseDuration(v.GetString("SESSION_TEACHER_TTL"), 24*time.Hour),
		StudentTTL:   parseDuration(v.GetString("SESSION_STUDENT_TTL"), 4*time.Hour),
		CookieName:   v.GetString("SESSION_COOKIE_NAME"),
		CookieSecure: v.GetBool("SESSION_COOKIE_SECURE") || cfg.Env == EnvProduction,
	}

	cfg.Device = DeviceConfig{
		CookieName: v.GetString("DEVICE_COOKIE_NAME"),
		CookieTTL:  parseDuration(v.GetString("DEVICE_COOKIE_MAX_AGE"), 365*24*time.Hour),
	}

	cfg.JoinLink = JoinLinkConfig{
		TTL:     parseDuration(v.GetString("JOIN_LINK_TTL"), 4*time.Hour),
		BaseURL: strings.TrimRight(v.GetString("JOIN_LINK_BASE_URL"), "/"),
	}

	cfg.Tickets = TicketConfig{
		Secret:           v.GetString("TICKET_SECRET"),
		SelectionTTL:     parseDuration(v.GetString("SELECTION_TICKET_TTL"), 5*time.Minute),
		VerificationTTL:  parseDuration(v.GetString("VERIFICATION_CODE_TTL"), 10*time.Minute),
		VerificationSize: v.GetInt("VERIFICATION_CODE_LENGTH"),
	}

	cfg.Institution = InstitutionConfig{
		Timezone:    v.GetString("INSTITUTION_TIMEZONE"),
		EmailDomain: strings.ToLower(strings.TrimPrefix(v.GetString("INSTITUTION_EMAIL_DOMAIN"), "@")),
	}

	cfg.Security = SecurityConfig{PasswordHashCost: v.GetInt("PASSWORD_HASH_COST")}

	cfg.Mail = MailConfig{
		Workers:    v.GetInt("MAIL_WORKERS"),
		Retries:    v.GetInt("MAIL_RETRIES"),
		RetryDelay: parseDuration(v.GetString("MAIL_RETRY_DELAY"), 2*time.Second),
		Sender:     v.GetString("MAIL_DEFAULT_SENDER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 5001)
	v.SetDefault("API_PREFIX", "/api")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "peer_evaluation")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_QUERY_TIMEOUT", "5s")
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("ENABLE_REDIS", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("SESSION_SECRET", devSessionSecret)
	v.SetDefault("SESSION_TEACHER_TTL", "24h")
	v.SetDefault("SESSION_STUDENT_TTL", "4h")
	v.SetDefault("SESSION_COOKIE_NAME", "session")
	v.SetDefault("SESSION_COOKIE_SECURE", false)

	v.SetDefault("DEVICE_COOKIE_NAME", "device_token")
	v.SetDefault("DEVICE_COOKIE_MAX_AGE", "8760h")

	v.SetDefault("JOIN_LINK_TTL", "4h")
	v.SetDefault("JOIN_LINK_BASE_URL", "http://localhost:5001")

	v.SetDefault("TICKET_SECRET", devTicketSecret)
	v.SetDefault("SELECTION_TICKET_TTL", "5m")
	v.SetDefault("VERIFICATION_CODE_TTL", "10m")
	v.SetDefault("VERIFICATION_CODE_LENGTH", 6)

	v.SetDefault("INSTITUTION_TIMEZONE", "America/New_York")
	v.SetDefault("INSTITUTION_EMAIL_DOMAIN", "monmouth.edu")

	v.SetDefault("PASSWORD_HASH_COST", 10)

	v.SetDefault("MAIL_WORKERS", 2)
	v.SetDefault("MAIL_RETRIES", 3)
	v.SetDefault("MAIL_RETRY_DELAY", "2s")
	v.SetDefault("MAIL_DEFAULT_SENDER", "noreply@peerevaluation.com")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
