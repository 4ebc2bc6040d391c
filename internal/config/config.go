package config

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Prefix of every environment variable read by Load
const Prefix = "SHOP"

const (
	minSessionKeyLength = 32
	defaultSQLiteDSN    = "file:shop.db"
)

// Config is read from SHOP_* environment variables
type Config struct {
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":9091" validate:"required"`
	Storage         string        `envconfig:"STORAGE" default:"sqlite" validate:"oneof=memory sqlite mysql postgres"`
	DatabaseDSN     string        `envconfig:"DATABASE_DSN" validate:"required_unless=Storage memory"`
	Migrate         bool          `envconfig:"MIGRATE" default:"true"`
	SessionKey      string        `envconfig:"SESSION_KEY"`
	CookieSecure    bool          `envconfig:"COOKIE_SECURE" default:"false"`
	SerializeOrders bool          `envconfig:"SERIALIZE_ORDERS" default:"true"`
	PageSize        int           `envconfig:"PAGE_SIZE" default:"5" validate:"min=1,max=100"`
	Timezone        string        `envconfig:"TIMEZONE" default:"Local" validate:"required"`
	RedisAddr       string        `envconfig:"REDIS_ADDR" validate:"omitempty,hostname_port"`
	CacheTTL        time.Duration `envconfig:"CACHE_TTL" default:"5m" validate:"min=0"`
	AMQPURL         string        `envconfig:"AMQP_URL" validate:"omitempty,url"`
	AMQPExchange    string        `envconfig:"AMQP_EXCHANGE" default:"shop.events" validate:"required"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=trace debug info warn warning error fatal panic"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=text json"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s" validate:"gt=0"`
}

// Load reads and validates the configuration
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, errors.Wrap(err, "read environment")
	}
	if cfg.Storage == "sqlite" && cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = defaultSQLiteDSN
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Location is the time zone delivery dates are interpreted in
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "timezone %q", c.Timezone)
	}
	return loc, nil
}

// SessionKeyBytes decodes SESSION_KEY. A missing or short key is replaced by
// a random one, which logs everybody out on restart.
func (c *Config) SessionKeyBytes() []byte {
	if c.SessionKey == "" {
		log.Warn("SHOP_SESSION_KEY not set, generating a random key; sessions will not survive a restart")
		return randomBytes(minSessionKeyLength)
	}
	key, err := base64.StdEncoding.DecodeString(c.SessionKey)
	if err != nil || len(key) < minSessionKeyLength {
		log.Warnf("SHOP_SESSION_KEY must be base64 of at least %d bytes, generating a random key", minSessionKeyLength)
		return randomBytes(minSessionKeyLength)
	}
	return key
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		log.WithError(err).Fatal("read random bytes")
	}
	return b
}

// Usage prints the accepted environment variables
func Usage() error {
	return envconfig.Usage(Prefix, &Config{})
}
