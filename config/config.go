package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	Env        string `env:"ENV" envDefault:"production"`
	ServerPort int    `env:"SERVER_PORT" envDefault:"8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat  string `env:"LOG_FORMAT" envDefault:"text"`

	Database  DatabaseConfig  `envPrefix:"DB_"`
	Auth      AuthConfig
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`
	Events    EventsConfig    `envPrefix:"EVENTS_"`
	RabbitMQ  RabbitMQConfig  `envPrefix:"RABBITMQ_"`
	PubSub    PubSubConfig    `envPrefix:"PUBSUB_"`
	Minio     MinioConfig     `envPrefix:"MINIO_"`
	GCS       GCSConfig       `envPrefix:"GCS_"`
}

type DatabaseConfig struct {
	Driver   string `env:"DRIVER" envDefault:"postgres"`
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"5432"`
	User     string `env:"USER" envDefault:"roomhub"`
	Password string `env:"PASSWORD" envDefault:"password"`
	DBName   string `env:"NAME" envDefault:"roomhub"`
	UseSSL   bool   `env:"USE_SSL" envDefault:"false"`
	Path     string `env:"PATH" envDefault:"roomhub.db"`
}

// AuthConfig holds the secrets and cost factors fixed at startup.
type AuthConfig struct {
	JWTSecret  string        `env:"JWT_SECRET"`
	TokenTTL   time.Duration `env:"JWT_TTL" envDefault:"24h"`
	BcryptCost int           `env:"BCRYPT_COST" envDefault:"10"`
	CookieName string        `env:"AUTH_COOKIE_NAME" envDefault:"JWT_TOKEN"`
}

type RateLimitConfig struct {
	AuthPerMinute int `env:"AUTH_PER_MINUTE" envDefault:"30"`
	AuthBurst     int `env:"AUTH_BURST" envDefault:"10"`
}

type EventsConfig struct {
	Broker  string `env:"BROKER" envDefault:"none"`
	Channel string `env:"CHANNEL" envDefault:"roomhub.events"`
	Archive string `env:"ARCHIVE" envDefault:"none"`
}

type RabbitMQConfig struct {
	URL             string `env:"URL"`
	QueueDurable    bool   `env:"QUEUE_DURABLE" envDefault:"true"`
	QueueAutoDelete bool   `env:"QUEUE_AUTO_DELETE" envDefault:"false"`
	PrefetchCount   int    `env:"PREFETCH_COUNT" envDefault:"10"`
}

type PubSubConfig struct {
	ProjectID          string `env:"PROJECT_ID"`
	CredentialsFile    string `env:"CREDENTIALS_FILE"`
	SubscriptionSuffix string `env:"SUBSCRIPTION_SUFFIX" envDefault:"-sub"`
}

type MinioConfig struct {
	Endpoint  string `env:"ENDPOINT"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Bucket    string `env:"BUCKET" envDefault:"roomhub-events"`
	UseSSL    bool   `env:"USE_SSL" envDefault:"false"`
}

type GCSConfig struct {
	ProjectID       string `env:"PROJECT_ID"`
	Bucket          string `env:"BUCKET"`
	CredentialsFile string `env:"CREDENTIALS_FILE"`
}

// Load reads and validates the configuration the server needs.
func Load() (Config, error) {
	cfg, err := Parse()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse reads the configuration from the environment without validating
// secrets, for commands that never issue tokens. In dev, a .env file is
// loaded first.
func Parse() (Config, error) {
	if os.Getenv("ENV") == "dev" {
		_ = godotenv.Load()
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings that have no safe default.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("JWT_TTL must be positive")
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	return nil
}
