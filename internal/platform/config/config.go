package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"herdbook/pkg/platform/strings"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr           string
	RequestTimeout time.Duration
	LogLevel       string
	LogFormat      string

	Identity  IdentityConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
}

// IdentityConfig tunes matching and registration.
type IdentityConfig struct {
	MatchThreshold        float64
	MatchPolicy           string
	EmbeddingDimension    int
	RegisterLockTimeout   time.Duration
	RegisterLockTTL       time.Duration
	RegisterInsertTimeout time.Duration
	ClassifierURL         string
	ClassifierTimeout     time.Duration
}

type PostgresConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig enables the cross-process registration lock when URL is set.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig enables streaming audit events when Brokers is non-empty.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
	SampleRate float64
}

// RateLimitConfig caps requests per client IP per minute. Zero disables.
type RateLimitConfig struct {
	IdentifyPerMinute int
	RegisterPerMinute int
}

const (
	DefaultMatchThreshold     = 0.95
	DefaultEmbeddingDimension = 3136
)

// FromEnv builds a Server config from environment variables so main stays lean.
// Unparseable values fall back to defaults; Validate reports the ones that
// cannot be defaulted away.
func FromEnv() Server {
	return Server{
		Addr:           envString("HERDBOOK_ADDR", ":8080"),
		RequestTimeout: envDuration("HTTP_REQUEST_TIMEOUT", 30*time.Second),
		LogLevel:       envString("LOG_LEVEL", "info"),
		LogFormat:      envString("LOG_FORMAT", "json"),
		Identity: IdentityConfig{
			MatchThreshold:        envFloat("MATCH_THRESHOLD", DefaultMatchThreshold),
			MatchPolicy:           envString("MATCH_POLICY", "first"),
			EmbeddingDimension:    envInt("EMBEDDING_DIMENSION", DefaultEmbeddingDimension),
			RegisterLockTimeout:   envDuration("REGISTER_LOCK_TIMEOUT", 5*time.Second),
			RegisterLockTTL:       envDuration("REGISTER_LOCK_TTL", 30*time.Second),
			RegisterInsertTimeout: envDuration("REGISTER_INSERT_TIMEOUT", 10*time.Second),
			ClassifierURL:         os.Getenv("CLASSIFIER_URL"),
			ClassifierTimeout:     envDuration("CLASSIFIER_TIMEOUT", 10*time.Second),
		},
		Postgres: PostgresConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    strings.SplitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: envString("KAFKA_AUDIT_TOPIC", "herdbook.audit"),
			SampleRate: envFloat("KAFKA_AUDIT_SAMPLE_RATE", 1.0),
		},
		RateLimit: RateLimitConfig{
			IdentifyPerMinute: envInt("RATE_LIMIT_IDENTIFY_PER_MINUTE", 120),
			RegisterPerMinute: envInt("RATE_LIMIT_REGISTER_PER_MINUTE", 30),
		},
	}
}

// Validate reports configuration that would make the service misbehave.
func (s Server) Validate() error {
	var errs []error
	if t := s.Identity.MatchThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("MATCH_THRESHOLD must be in (0, 1], got %v", t))
	}
	switch s.Identity.MatchPolicy {
	case "first", "best":
	default:
		errs = append(errs, fmt.Errorf("MATCH_POLICY must be first or best, got %q", s.Identity.MatchPolicy))
	}
	if s.Identity.EmbeddingDimension < 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_DIMENSION must not be negative, got %d", s.Identity.EmbeddingDimension))
	}
	if s.Identity.RegisterLockTimeout <= 0 {
		errs = append(errs, errors.New("REGISTER_LOCK_TIMEOUT must be positive"))
	}
	if s.Identity.RegisterInsertTimeout <= 0 {
		errs = append(errs, errors.New("REGISTER_INSERT_TIMEOUT must be positive"))
	}
	if s.Redis.URL != "" && s.Identity.RegisterLockTTL <= s.Identity.RegisterLockTimeout {
		errs = append(errs, errors.New("REGISTER_LOCK_TTL must exceed REGISTER_LOCK_TIMEOUT"))
	}
	if len(s.Kafka.Brokers) > 0 && s.Kafka.AuditTopic == "" {
		errs = append(errs, errors.New("KAFKA_AUDIT_TOPIC is required when KAFKA_BROKERS is set"))
	}
	if r := s.Kafka.SampleRate; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("KAFKA_AUDIT_SAMPLE_RATE must be in [0, 1], got %v", r))
	}
	if s.RateLimit.IdentifyPerMinute < 0 || s.RateLimit.RegisterPerMinute < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	return errors.Join(errs...)
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func envFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}
