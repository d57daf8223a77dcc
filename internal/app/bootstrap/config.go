package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	StoreDriver  string
	DatabaseURL  string
	RedisURL     string
	KafkaBrokers []string

	MaxDBConns         int32
	KafkaConsumerGroup string
	KafkaConsumeTopics []string
	KafkaEventTopics   map[string]string

	JWTPublicKeyPEM string
	JWTHMACSecret   string
	JWTIssuer       string
	JWTAudience     string

	OutboxPollInterval   time.Duration
	OutboxBatchSize      int
	ConsumerPollInterval time.Duration
	ConsumerBatchSize    int
	HealthProbeInterval  time.Duration

	SnapshotCacheTTL time.Duration
	IdempotencyTTL   time.Duration
	EventDedupTTL    time.Duration
}

type configFile struct {
	Service struct {
		ID          string `yaml:"id"`
		HTTPPort    int    `yaml:"http_port"`
		GRPCPort    int    `yaml:"grpc_port"`
		StoreDriver string `yaml:"store_driver"`
	} `yaml:"service"`
	Dependencies struct {
		PostgresURL        string            `yaml:"postgres_url"`
		RedisURL           string            `yaml:"redis_url"`
		KafkaBrokers       []string          `yaml:"kafka_brokers"`
		KafkaConsumerGroup string            `yaml:"kafka_consumer_group"`
		KafkaConsumeTopics []string          `yaml:"kafka_consume_topics"`
		KafkaEventTopics   map[string]string `yaml:"kafka_event_topics"`
	} `yaml:"dependencies"`
	Auth struct {
		Issuer   string `yaml:"issuer"`
		Audience string `yaml:"audience"`
	} `yaml:"auth"`
	Escrow struct {
		SnapshotCacheSeconds int `yaml:"snapshot_cache_seconds"`
		IdempotencyTTLHours  int `yaml:"idempotency_ttl_hours"`
		EventDedupTTLHours   int `yaml:"event_dedup_ttl_hours"`
	} `yaml:"escrow"`
}

func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:          "M15-Milestone-Escrow-Service",
		HTTPPort:           8080,
		GRPCPort:           9090,
		StoreDriver:        StoreDriverPostgres,
		MaxDBConns:         20,
		KafkaConsumerGroup: "m15-milestone-escrow-service",
		KafkaConsumeTopics: []string{
			"project.created",
			"project.parties_updated",
			"project.milestone_defined",
		},
		KafkaEventTopics:     map[string]string{},
		OutboxPollInterval:   2 * time.Second,
		OutboxBatchSize:      100,
		ConsumerPollInterval: 2 * time.Second,
		ConsumerBatchSize:    50,
		HealthProbeInterval:  5 * time.Second,
		SnapshotCacheTTL:     30 * time.Second,
		IdempotencyTTL:       7 * 24 * time.Hour,
		EventDedupTTL:        7 * 24 * time.Hour,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		if f.Service.ID != "" {
			cfg.ServiceID = f.Service.ID
		}
		if f.Service.HTTPPort > 0 {
			cfg.HTTPPort = f.Service.HTTPPort
		}
		if f.Service.GRPCPort > 0 {
			cfg.GRPCPort = f.Service.GRPCPort
		}
		if f.Service.StoreDriver != "" {
			cfg.StoreDriver = f.Service.StoreDriver
		}
		if f.Dependencies.PostgresURL != "" {
			cfg.DatabaseURL = f.Dependencies.PostgresURL
		}
		if f.Dependencies.RedisURL != "" {
			cfg.RedisURL = f.Dependencies.RedisURL
		}
		if len(f.Dependencies.KafkaBrokers) > 0 {
			cfg.KafkaBrokers = trimNonEmpty(f.Dependencies.KafkaBrokers)
		}
		if f.Dependencies.KafkaConsumerGroup != "" {
			cfg.KafkaConsumerGroup = f.Dependencies.KafkaConsumerGroup
		}
		if len(f.Dependencies.KafkaConsumeTopics) > 0 {
			cfg.KafkaConsumeTopics = trimNonEmpty(f.Dependencies.KafkaConsumeTopics)
		}
		for eventType, topic := range f.Dependencies.KafkaEventTopics {
			if strings.TrimSpace(topic) != "" {
				cfg.KafkaEventTopics[eventType] = strings.TrimSpace(topic)
			}
		}
		cfg.JWTIssuer = f.Auth.Issuer
		cfg.JWTAudience = f.Auth.Audience
		if f.Escrow.SnapshotCacheSeconds > 0 {
			cfg.SnapshotCacheTTL = time.Duration(f.Escrow.SnapshotCacheSeconds) * time.Second
		}
		if f.Escrow.IdempotencyTTLHours > 0 {
			cfg.IdempotencyTTL = time.Duration(f.Escrow.IdempotencyTTLHours) * time.Hour
		}
		if f.Escrow.EventDedupTTLHours > 0 {
			cfg.EventDedupTTL = time.Duration(f.Escrow.EventDedupTTLHours) * time.Hour
		}
	}

	cfg.StoreDriver = strings.ToLower(envOrDefault("STORE_DRIVER", cfg.StoreDriver))
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaConsumerGroup = envOrDefault("KAFKA_CONSUMER_GROUP", cfg.KafkaConsumerGroup)
	cfg.KafkaConsumeTopics = envCSV("KAFKA_CONSUME_TOPICS", cfg.KafkaConsumeTopics)
	// PEM keys passed through env files usually carry literal \n sequences.
	cfg.JWTPublicKeyPEM = strings.ReplaceAll(envOrDefault("JWT_PUBLIC_KEY_PEM", cfg.JWTPublicKeyPEM), `\n`, "\n")
	cfg.JWTHMACSecret = envOrDefault("JWT_HMAC_SECRET", cfg.JWTHMACSecret)
	cfg.JWTIssuer = envOrDefault("JWT_ISSUER", cfg.JWTIssuer)
	cfg.JWTAudience = envOrDefault("JWT_AUDIENCE", cfg.JWTAudience)
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.ConsumerPollInterval = time.Duration(envInt("CONSUMER_POLL_SECONDS", int(cfg.ConsumerPollInterval.Seconds()))) * time.Second
	cfg.ConsumerBatchSize = envInt("CONSUMER_BATCH_SIZE", cfg.ConsumerBatchSize)
	cfg.HealthProbeInterval = time.Duration(envInt("HEALTH_PROBE_SECONDS", int(cfg.HealthProbeInterval.Seconds()))) * time.Second
	cfg.SnapshotCacheTTL = time.Duration(envInt("SNAPSHOT_CACHE_SECONDS", int(cfg.SnapshotCacheTTL.Seconds()))) * time.Second
	cfg.IdempotencyTTL = time.Duration(envInt("IDEMPOTENCY_TTL_HOURS", int(cfg.IdempotencyTTL.Hours()))) * time.Hour
	cfg.EventDedupTTL = time.Duration(envInt("EVENT_DEDUP_TTL_HOURS", int(cfg.EventDedupTTL.Hours()))) * time.Hour

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("missing DB_URL/POSTGRES_URL")
		}
	case StoreDriverMemory:
	default:
		return Config{}, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}
	if strings.TrimSpace(cfg.JWTPublicKeyPEM) == "" && cfg.JWTHMACSecret == "" {
		return Config{}, fmt.Errorf("missing JWT_PUBLIC_KEY_PEM or JWT_HMAC_SECRET")
	}
	return cfg, nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envCSV(name string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	return trimNonEmpty(strings.Split(raw, ","))
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
