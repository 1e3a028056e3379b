package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server captures process level configuration.
type Server struct {
	Addr            string
	LogLevel        string
	AdminAPIToken   string
	ShutdownTimeout time.Duration

	// DatabaseURL selects the Postgres approval store; empty keeps requests in memory.
	DatabaseURL string
	// ResourceDatabaseURL selects the Postgres resource provider; empty uses the in-memory provider.
	ResourceDatabaseURL string
	// ResourceFixturesFile seeds the in-memory provider when no resource database is set.
	ResourceFixturesFile string

	Redis    RedisConfig
	Kafka    KafkaConfig
	Approval ApprovalConfig
	Notify   NotifyConfig

	PrivacyLexiconFile string
	AllowedOrigins     []string
}

// RedisConfig configures the cross-instance notification publisher.
type RedisConfig struct {
	URL          string
	Channel      string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type ApprovalConfig struct {
	TTL           time.Duration
	MaxRetries    int
	SweepInterval time.Duration
	SweepBatch    int
}

type NotifyConfig struct {
	Timeout   time.Duration
	QueueSize int
}

// LoadDotEnv pre-loads variables from a .env file when one exists.
// Variables already set in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	p := parser{}
	cfg := Server{
		Addr:                 p.str("ACCESSGATE_ADDR", ":8080"),
		LogLevel:             p.str("LOG_LEVEL", "info"),
		AdminAPIToken:        os.Getenv("ADMIN_API_TOKEN"),
		ShutdownTimeout:      p.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		ResourceDatabaseURL:  os.Getenv("RESOURCE_DATABASE_URL"),
		ResourceFixturesFile: os.Getenv("RESOURCE_FIXTURES_FILE"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			Channel:      p.str("REDIS_NOTIFY_CHANNEL", "accessgate:approval-events"),
			PoolSize:     p.integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: p.integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  p.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  p.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: p.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: p.list("KAFKA_BROKERS"),
			Topic:   p.str("KAFKA_NOTIFY_TOPIC", "approval-events"),
		},
		Approval: ApprovalConfig{
			TTL:           p.duration("APPROVAL_TTL", 24*time.Hour),
			MaxRetries:    p.integer("APPROVAL_MAX_RETRIES", 5),
			SweepInterval: p.duration("EXPIRY_SWEEP_INTERVAL", 0),
			SweepBatch:    p.integer("EXPIRY_SWEEP_BATCH", 100),
		},
		Notify: NotifyConfig{
			Timeout:   p.duration("NOTIFY_TIMEOUT", 2*time.Second),
			QueueSize: p.integer("NOTIFY_QUEUE_SIZE", 1024),
		},
		PrivacyLexiconFile: os.Getenv("PRIVACY_LEXICON_FILE"),
		AllowedOrigins:     p.list("WS_ALLOWED_ORIGINS"),
	}
	if p.err != nil {
		return Server{}, p.err
	}
	if cfg.AdminAPIToken == "" {
		return Server{}, fmt.Errorf("ADMIN_API_TOKEN is required")
	}
	if cfg.Approval.TTL <= 0 {
		return Server{}, fmt.Errorf("APPROVAL_TTL must be positive")
	}
	return cfg, nil
}

// parser keeps the first malformed value it sees.
type parser struct {
	err error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) integer(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
	return d
}

func (p *parser) list(key string) []string {
	var out []string
	for part := range strings.SplitSeq(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
