package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{
		"HERDBOOK_ADDR", "MATCH_THRESHOLD", "MATCH_POLICY", "EMBEDDING_DIMENSION",
		"REGISTER_LOCK_TIMEOUT", "REGISTER_INSERT_TIMEOUT", "DATABASE_URL", "REDIS_URL", "KAFKA_BROKERS",
	} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, DefaultMatchThreshold, cfg.Identity.MatchThreshold)
	assert.Equal(t, "first", cfg.Identity.MatchPolicy)
	assert.Equal(t, DefaultEmbeddingDimension, cfg.Identity.EmbeddingDimension)
	assert.Equal(t, 5*time.Second, cfg.Identity.RegisterLockTimeout)
	assert.Equal(t, 10*time.Second, cfg.Identity.RegisterInsertTimeout)
	assert.Empty(t, cfg.Kafka.Brokers)
	require.NoError(t, cfg.Validate())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("HERDBOOK_ADDR", ":9090")
	t.Setenv("MATCH_THRESHOLD", "0.9")
	t.Setenv("MATCH_POLICY", "best")
	t.Setenv("EMBEDDING_DIMENSION", "0")
	t.Setenv("REGISTER_LOCK_TIMEOUT", "250ms")
	t.Setenv("REGISTER_INSERT_TIMEOUT", "2s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,k1:9092")

	cfg := FromEnv()

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 0.9, cfg.Identity.MatchThreshold)
	assert.Equal(t, "best", cfg.Identity.MatchPolicy)
	assert.Zero(t, cfg.Identity.EmbeddingDimension)
	assert.Equal(t, 250*time.Millisecond, cfg.Identity.RegisterLockTimeout)
	assert.Equal(t, 2*time.Second, cfg.Identity.RegisterInsertTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	require.NoError(t, cfg.Validate())
}

func TestFromEnv_UnparseableFallsBack(t *testing.T) {
	t.Setenv("MATCH_THRESHOLD", "high")
	t.Setenv("REGISTER_LOCK_TIMEOUT", "soon")

	cfg := FromEnv()

	assert.Equal(t, DefaultMatchThreshold, cfg.Identity.MatchThreshold)
	assert.Equal(t, 5*time.Second, cfg.Identity.RegisterLockTimeout)
}

func TestValidate(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("KAFKA_BROKERS", "")
	base := FromEnv()

	tests := []struct {
		name   string
		mutate func(*Server)
		errMsg string
	}{
		{"zero threshold", func(s *Server) { s.Identity.MatchThreshold = 0 }, "MATCH_THRESHOLD"},
		{"threshold above one", func(s *Server) { s.Identity.MatchThreshold = 1.2 }, "MATCH_THRESHOLD"},
		{"unknown policy", func(s *Server) { s.Identity.MatchPolicy = "random" }, "MATCH_POLICY"},
		{"negative dimension", func(s *Server) { s.Identity.EmbeddingDimension = -1 }, "EMBEDDING_DIMENSION"},
		{"zero insert timeout", func(s *Server) { s.Identity.RegisterInsertTimeout = 0 }, "REGISTER_INSERT_TIMEOUT"},
		{"lock ttl shorter than wait", func(s *Server) {
			s.Redis.URL = "redis://localhost:6379"
			s.Identity.RegisterLockTTL = time.Second
		}, "REGISTER_LOCK_TTL"},
		{"brokers without topic", func(s *Server) {
			s.Kafka.Brokers = []string{"k1:9092"}
			s.Kafka.AuditTopic = ""
		}, "KAFKA_AUDIT_TOPIC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
