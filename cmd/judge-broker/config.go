package main

import (
	"fmt"
	"time"

	"judgehub/internal/common/cache"
	"judgehub/internal/common/db"
	commonmw "judgehub/internal/common/http/middleware"
	"judgehub/internal/common/mq"
	"judgehub/internal/common/storage"
	"judgehub/internal/judge/auth"
	"judgehub/internal/judge/bus"
	"judgehub/internal/judge/model"
	"judgehub/internal/judge/queue"
	"judgehub/internal/judge/session"
	"judgehub/pkg/utils/logger"

	"github.com/zeromicro/go-zero/core/conf"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `json:",default=0.0.0.0:8888"`
	ReadTimeout     time.Duration `json:",default=5s"`
	WriteTimeout    time.Duration `json:",default=10s"`
	IdleTimeout     time.Duration `json:",default=60s"`
	ShutdownTimeout time.Duration `json:",default=10s"`
}

// HTTPConfig holds the browser facing API settings.
type HTTPConfig struct {
	CORS        commonmw.CORSConfig
	SubmitLimit commonmw.RateLimitPolicy
}

// KafkaConfig enables the event bridge and the rejudge consumer.
type KafkaConfig struct {
	Client          mq.KafkaConfig
	ConsumerGroup   string        `json:",default=judgehub-broker"`
	Concurrency     int           `json:",default=1"`
	MaxRetries      int           `json:",default=3"`
	RetryDelay      time.Duration `json:",default=1s"`
	DeadLetterTopic string        `json:",optional"`
}

// ProblemConfig tunes problem reads and testdata writes.
type ProblemConfig struct {
	CacheTTL  time.Duration `json:",default=5m"`
	EmptyTTL  time.Duration `json:",default=30s"`
	FileLimit int64         `json:",default=67108864"`
}

// StoreConfig holds store timeouts and TTLs.
type StoreConfig struct {
	RecordTimeout time.Duration `json:",default=5s"`
	DaemonTTL     time.Duration `json:",default=1m"`
	RecentWindow  time.Duration `json:",default=10m"`
}

// BusConfig sizes the broadcast pool.
type BusConfig struct {
	PoolSize     int           `json:",default=64"`
	CloseTimeout time.Duration `json:",default=5s"`
}

// Config is the judge broker configuration.
type Config struct {
	Server    ServerConfig
	HTTP      HTTPConfig
	Logger    logger.Config
	MySQL     db.MySQLConfig
	Redis     cache.RedisConfig
	MinIO     storage.MinIOConfig
	Kafka     *KafkaConfig `json:",optional"`
	Topics    bus.Topics
	Auth      auth.Config
	Queue     queue.Config
	Store     StoreConfig
	Problem   ProblemConfig
	Session   session.Options
	WebSocket session.WSConfig
	Bus       BusConfig
	Languages map[string]model.Language `json:",optional"`
}

func loadConfig(path string) (*Config, error) {
	var cfg Config
	if err := conf.Load(path, &cfg); err != nil {
		return nil, fmt.Errorf("load config %s failed: %w", path, err)
	}
	if cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("auth secret is required")
	}
	if cfg.Languages == nil {
		cfg.Languages = map[string]model.Language{}
	}
	return &cfg, nil
}
