package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
)

// Sink kinds.
const (
	SinkREST      = "rest"
	SinkTable     = "table"
	SinkPostgREST = "postgrest"
)

// Session store backends.
const (
	SessionsMemory = "memory"
	SessionsRedis  = "redis"
)

// Notifier backends.
const (
	NotifyNone     = "none"
	NotifyKafka    = "kafka"
	NotifyRabbitMQ = "rabbitmq"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (STOREFRONT_ prefix), flags, a .env file or YAML
// config files.
type Config struct {
	Addr          string        `default:"0.0.0.0:8080" usage:"HTTP listen address"`
	SubmitTimeout time.Duration `default:"30s" usage:"Deadline of one payment sink call, 0 disables it" flag:"submit-timeout"`
	Sink          SinkConfig
	Sessions      SessionsConfig
	Notify        NotifyConfig
	RateLimit     RateLimitConfig
	CORS          CORSConfig
	Graceful      GracefulConfig
}

// SinkConfig selects where payments are recorded.
type SinkConfig struct {
	Kind      string `default:"rest" usage:"Payment sink: rest, table or postgrest"`
	REST      RESTSinkConfig
	Table     TableSinkConfig
	PostgREST PostgRESTSinkConfig `env:"POSTGREST" flag:"postgrest"`
}

// RESTSinkConfig configures the transactions endpoint sink.
type RESTSinkConfig struct {
	BaseURL string `default:"http://localhost:5003" usage:"Base URL of the payment backend; payments are POSTed to {base}/transactions"`
}

// TableSinkConfig configures the PostgreSQL transactions table sink.
type TableSinkConfig struct {
	DatabaseURL  string `usage:"PostgreSQL connection URL (or DATABASE_URL)" flag:"database-url"`
	MaxConns     int32  `default:"10" usage:"Maximum pool connections"`
	Migrate      bool   `default:"true" usage:"Create the transactions table on start"`
	CreditCardID int32  `default:"1" usage:"credit_card_id written with every transaction"`
	Description  string `default:"Storefront order" usage:"description written with every transaction"`
}

// PostgRESTSinkConfig configures the hosted table sink.
type PostgRESTSinkConfig struct {
	URL          string `usage:"Project URL of the hosted backend"`
	APIKey       string `usage:"API key sent as apikey and bearer token"`
	Table        string `default:"transactions" usage:"Table receiving the rows"`
	CreditCardID int32  `default:"1" usage:"credit_card_id written with every transaction"`
	Description  string `default:"Storefront order" usage:"description written with every transaction"`
}

// SessionsConfig selects the checkout session store.
type SessionsConfig struct {
	Backend         string        `default:"memory" usage:"Session store: memory or redis"`
	TTL             time.Duration `default:"30m" usage:"Idle lifetime of a checkout session"`
	JanitorInterval time.Duration `default:"1m" usage:"Expired session sweep interval (memory backend)"`
	Redis           RedisConfig
}

// RedisConfig configures the Redis session store.
type RedisConfig struct {
	Addr     string `default:"localhost:6379" usage:"Redis address"`
	Password string `usage:"Redis password"`
	DB       int    `default:"0" usage:"Redis database"`
}

// NotifyConfig selects where finished attempts are published.
type NotifyConfig struct {
	Backend  string        `default:"none" usage:"Outcome notifier: none, kafka or rabbitmq"`
	Timeout  time.Duration `default:"5s" usage:"Deadline for publishing one outcome"`
	Kafka    KafkaConfig
	RabbitMQ RabbitMQConfig `env:"RABBITMQ" flag:"rabbitmq"`
}

// KafkaConfig configures the Kafka notifier.
type KafkaConfig struct {
	Brokers string `usage:"Comma-separated broker addresses"`
	Topic   string `default:"checkout-outcomes" usage:"Topic receiving outcome events"`
}

// RabbitMQConfig configures the RabbitMQ notifier.
type RabbitMQConfig struct {
	URL      string `usage:"AMQP URL"`
	Exchange string `default:"storefront" usage:"Topic exchange receiving outcome events"`
}

// RateLimitConfig controls the per-client token bucket.
type RateLimitConfig struct {
	RPS   float64 `default:"10" usage:"Sustained requests per second per client"`
	Burst int     `default:"20" usage:"Burst size per client"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads .env, then environment variables, flags and YAML config
// files, applies platform defaults and validates the result.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load .env")
	}
	return loadConfig(aconfig.Config{
		Files: []string{"config.yaml", "/etc/storefront/config.yaml"},
	})
}

func loadConfig(base aconfig.Config) (*Config, error) {
	base.EnvPrefix = "STOREFRONT"
	base.FileDecoders = map[string]aconfig.FileDecoder{
		".yaml": aconfigyaml.New(),
	}

	var cfg Config
	if err := aconfig.LoaderFor(&cfg, base).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return &cfg, nil
}

// applyPlatformDefaults maps the conventional DATABASE_URL and PORT
// variables onto the STOREFRONT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Sink.Table.DatabaseURL == "" {
		c.Sink.Table.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

// Validate rejects unknown backends and missing connection settings.
func (c *Config) Validate() error {
	switch c.Sink.Kind {
	case SinkREST:
		if c.Sink.REST.BaseURL == "" {
			return errors.New("rest sink requires a base URL")
		}
	case SinkTable:
		if c.Sink.Table.DatabaseURL == "" {
			return errors.New("table sink requires a database URL: set STOREFRONT_SINK_TABLE_DATABASE_URL or DATABASE_URL")
		}
	case SinkPostgREST:
		if c.Sink.PostgREST.URL == "" || c.Sink.PostgREST.APIKey == "" {
			return errors.New("postgrest sink requires a URL and an API key")
		}
		if c.Sink.PostgREST.Table == "" {
			return errors.New("postgrest sink requires a table")
		}
	default:
		return errors.Errorf("unknown sink kind %q", c.Sink.Kind)
	}

	switch c.Sessions.Backend {
	case SessionsMemory:
	case SessionsRedis:
		if c.Sessions.Redis.Addr == "" {
			return errors.New("redis session store requires an address")
		}
	default:
		return errors.Errorf("unknown session backend %q", c.Sessions.Backend)
	}

	switch c.Notify.Backend {
	case NotifyNone:
	case NotifyKafka:
		if c.Notify.Kafka.Brokers == "" || c.Notify.Kafka.Topic == "" {
			return errors.New("kafka notifier requires brokers and a topic")
		}
	case NotifyRabbitMQ:
		if c.Notify.RabbitMQ.URL == "" || c.Notify.RabbitMQ.Exchange == "" {
			return errors.New("rabbitmq notifier requires a URL and an exchange")
		}
	default:
		return errors.Errorf("unknown notify backend %q", c.Notify.Backend)
	}

	if c.SubmitTimeout < 0 {
		return errors.New("submit timeout must not be negative")
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return errors.New("rate limit requires positive rps and burst")
	}
	return nil
}
