package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"judgehub/internal/common/cache"
	"judgehub/internal/common/db"
	commonmw "judgehub/internal/common/http/middleware"
	"judgehub/internal/common/mq"
	"judgehub/internal/common/storage"
	"judgehub/internal/judge/controller"
	"judgehub/internal/judge/service"
	"judgehub/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	recordStoreRedis = "redis"
	recordStoreMySQL = "mysql"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`

	CORS commonmw.CORSConfig `yaml:"cors"`
}

// RateLimitConfig holds per-route limits.
type RateLimitConfig struct {
	Timeout time.Duration            `yaml:"timeout"`
	Conn    commonmw.RateLimitPolicy `yaml:"conn"`
	Tasks   commonmw.RateLimitPolicy `yaml:"tasks"`
}

// KafkaConfig holds Kafka settings. Kafka is optional: without brokers record
// events stay in process and tasks arrive only over HTTP.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	ClientID      string        `yaml:"clientID"`
	MinBytes      int           `yaml:"minBytes"`
	MaxBytes      int           `yaml:"maxBytes"`
	MaxWait       time.Duration `yaml:"maxWait"`
	BatchSize     int           `yaml:"batchSize"`
	BatchTimeout  time.Duration `yaml:"batchTimeout"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
	RequiredAcks  int           `yaml:"requiredAcks"`
	EventTopic    string        `yaml:"eventTopic"`
	TaskTopic     string        `yaml:"taskTopic"`
	ConsumerGroup string        `yaml:"consumerGroup"`
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	Secret            string        `yaml:"secret"`
	Issuer            string        `yaml:"issuer"`
	RevocationTimeout time.Duration `yaml:"revocationTimeout"`
}

// DispatchConfig holds worker session settings.
type DispatchConfig struct {
	TaskType       string        `yaml:"taskType"`
	ClaimInterval  time.Duration `yaml:"claimInterval"`
	CleanupTimeout time.Duration `yaml:"cleanupTimeout"`
	WriteWait      time.Duration `yaml:"writeWait"`
	PongWait       time.Duration `yaml:"pongWait"`
	MaxMessageSize int64         `yaml:"maxMessageSize"`
	SendBuffer     int           `yaml:"sendBuffer"`
}

// RecordStoreConfig selects the record backend.
type RecordStoreConfig struct {
	Driver string `yaml:"driver"`
}

// PropagationConfig holds post-judge retry settings.
type PropagationConfig struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseDelay   time.Duration `yaml:"baseDelay"`
	MaxDelay    time.Duration `yaml:"maxDelay"`
	// SweepInterval and SweepBatch pace the retries of records whose propagation failed.
	SweepInterval time.Duration `yaml:"sweepInterval"`
	SweepBatch    int64         `yaml:"sweepBatch"`
}

// FilesConfig holds test data link settings.
type FilesConfig struct {
	MaxFiles int `yaml:"maxFiles"`
}

// AppConfig holds judge-dispatcher config.
type AppConfig struct {
	Server      ServerConfig        `yaml:"server"`
	Logger      logger.Config       `yaml:"logger"`
	Redis       cache.RedisConfig   `yaml:"redis"`
	Database    db.MySQLConfig      `yaml:"database"`
	Kafka       KafkaConfig         `yaml:"kafka"`
	MinIO       storage.MinIOConfig `yaml:"minio"`
	Auth        AuthConfig          `yaml:"auth"`
	Dispatch    DispatchConfig      `yaml:"dispatch"`
	RecordStore RecordStoreConfig   `yaml:"recordStore"`
	Propagation PropagationConfig   `yaml:"propagation"`
	Files       FilesConfig         `yaml:"files"`
	RateLimit   RateLimitConfig     `yaml:"rateLimit"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) error {
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	if cfg.Auth.Secret == "" {
		return fmt.Errorf("auth secret is required")
	}
	applyRedisDefaults(&cfg.Redis)

	cfg.RecordStore.Driver = strings.ToLower(strings.TrimSpace(cfg.RecordStore.Driver))
	switch cfg.RecordStore.Driver {
	case "":
		cfg.RecordStore.Driver = recordStoreRedis
	case recordStoreRedis:
	case recordStoreMySQL:
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for the mysql record store")
		}
	default:
		return fmt.Errorf("unknown record store driver %q", cfg.RecordStore.Driver)
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	// Worker connections are long lived; the websocket pumps set their own deadlines.
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "judgehub"
	}
	if cfg.Auth.RevocationTimeout == 0 {
		cfg.Auth.RevocationTimeout = time.Second
	}
	if cfg.Kafka.EventTopic == "" {
		cfg.Kafka.EventTopic = "judge.record.events"
	}
	if cfg.Kafka.TaskTopic == "" {
		cfg.Kafka.TaskTopic = "judge.tasks"
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "judge-dispatcher"
	}
	return nil
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
}

func (k KafkaConfig) enabled() bool {
	return len(k.Brokers) > 0
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
	}
}

func (p PropagationConfig) toRetryPolicy() service.RetryPolicy {
	return service.RetryPolicy{
		MaxAttempts: p.MaxAttempts,
		BaseDelay:   p.BaseDelay,
		MaxDelay:    p.MaxDelay,
	}
}

func (d DispatchConfig) toConnConfig() controller.ConnConfig {
	return controller.ConnConfig{
		WriteWait:      d.WriteWait,
		PongWait:       d.PongWait,
		MaxMessageSize: d.MaxMessageSize,
		SendBuffer:     d.SendBuffer,
	}
}

func (c *AppConfig) filesConfig() controller.FilesConfig {
	return controller.FilesConfig{
		Bucket:   c.MinIO.Bucket,
		LinkTTL:  c.MinIO.PresignTTL,
		MaxFiles: c.Files.MaxFiles,
	}
}
