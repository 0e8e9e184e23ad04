package shared

import (
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string `envconfig:"APP_ENV" default:"prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`

	// Empty DSN in dev runs on the in-memory store.
	MySQLDSN  string `envconfig:"MYSQL_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR"`
	RedisPass string `envconfig:"REDIS_PASSWORD"`
	RedisDB   int    `envconfig:"REDIS_DB" default:"0"`
	CacheTTL  int    `envconfig:"CACHE_TTL_SECONDS" default:"900"`

	AMQPURL      string `envconfig:"AMQP_URL"`
	AMQPExchange string `envconfig:"AMQP_EXCHANGE" default:"tourbook.events"`

	WebhookSecret    string `envconfig:"WEBHOOK_SECRET"`
	WebhookTolerance int    `envconfig:"WEBHOOK_TOLERANCE_SECONDS" default:"300"`
	JWTSecret        string `envconfig:"JWT_SECRET"`

	AssignWorkers    int     `envconfig:"ASSIGN_WORKERS" default:"8"`
	StorageTimeoutMS int     `envconfig:"STORAGE_TIMEOUT_MS" default:"5000"`
	VerifyRPS        float64 `envconfig:"VERIFY_RPS" default:"1"`
	VerifyBurst      int     `envconfig:"VERIFY_BURST" default:"5"`
	// Honor X-Forwarded-For / X-Real-IP only when a trusted proxy sets them.
	TrustProxy       bool    `envconfig:"TRUST_PROXY" default:"false"`

	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

func Load() (Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, err
	}
	// envconfig only applies defaults to unset variables; APP_ENV= must not
	// produce an environment that is neither dev nor prod.
	if strings.TrimSpace(c.AppEnv) == "" {
		c.AppEnv = "prod"
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
	}
	if c.WebhookSecret == "" {
		log.Warn().Msg("WEBHOOK_SECRET is empty; payment webhooks will be rejected")
	}
	if c.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET is empty; guide and admin routes will be rejected")
	}
	return c, nil
}

func (c Config) IsDev() bool { return c.AppEnv == "dev" || c.AppEnv == "development" }

func (c Config) CacheTTLDuration() time.Duration { return time.Duration(c.CacheTTL) * time.Second }

func (c Config) StorageTimeout() time.Duration {
	return time.Duration(c.StorageTimeoutMS) * time.Millisecond
}

func (c Config) WebhookToleranceDuration() time.Duration {
	return time.Duration(c.WebhookTolerance) * time.Second
}
