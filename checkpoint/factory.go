package checkpoint

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeGorm   StoreType = "gorm"
	StoreTypeBadger StoreType = "badger"
	StoreTypeMongo  StoreType = "mongo"
)

// Config selects and configures a backend.
type Config struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type"`

	// BaseDir is the base directory for file-based storage
	BaseDir string `json:"base_dir" yaml:"base_dir"`

	// AutoMigrate lets the gorm backend create its table
	AutoMigrate bool `json:"auto_migrate" yaml:"auto_migrate"`

	Redis  RedisConfig  `json:"redis" yaml:"redis"`
	Badger BadgerConfig `json:"badger" yaml:"badger"`
	Mongo  MongoConfig  `json:"mongo" yaml:"mongo"`
}

// DefaultConfig returns the default store configuration
func DefaultConfig() Config {
	return Config{
		Type:    StoreTypeMemory,
		BaseDir: "./data/checkpoints",
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "graphrepair:",
		},
		Badger: DefaultBadgerConfig(),
		Mongo:  DefaultMongoConfig(),
	}
}

// Deps carries handles owned by the caller.
type Deps struct {
	// DB is required for StoreTypeGorm.
	DB *gorm.DB
	// Transact optionally wraps gorm transactions, e.g. with retries.
	Transact TransactFunc
	Logger   *zap.Logger
}

// New creates a Store based on the configuration
func New(ctx context.Context, cfg Config, deps Deps) (Store, error) {
	switch cfg.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	case StoreTypeFile:
		return NewFileStore(cfg.BaseDir)
	case StoreTypeRedis:
		return NewRedisStore(cfg.Redis)
	case StoreTypeGorm:
		if deps.DB == nil {
			return nil, fmt.Errorf("gorm checkpoint store requires a database connection")
		}
		return NewGormStore(deps.DB, GormOptions{AutoMigrate: cfg.AutoMigrate, Transact: deps.Transact})
	case StoreTypeBadger:
		return NewBadgerStore(cfg.Badger, deps.Logger)
	case StoreTypeMongo:
		return NewMongoStore(ctx, cfg.Mongo)
	default:
		return nil, fmt.Errorf("unsupported checkpoint store type: %s", cfg.Type)
	}
}
