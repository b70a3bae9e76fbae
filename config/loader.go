// =============================================================================
// 📦 GraphRepair 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("GRAPHREPAIR").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量 → 验证器
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 GraphRepair 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" json:"server" env:"SERVER"`

	// Store 检查点存储配置
	Store StoreConfig `yaml:"store" json:"store" env:"STORE"`

	// Gateway 校验网关配置
	Gateway GatewayConfig `yaml:"gateway" json:"gateway" env:"GATEWAY"`

	// Catalog 节点类型目录配置
	Catalog CatalogConfig `yaml:"catalog" json:"catalog" env:"CATALOG"`

	// Repair 修复编排配置
	Repair RepairConfig `yaml:"repair" json:"repair" env:"REPAIR"`

	// Redis 配置（redis 存储与目录共享缓存共用）
	Redis RedisConfig `yaml:"redis" json:"redis" env:"REDIS"`

	// Database 数据库配置（gorm 存储）
	Database DatabaseConfig `yaml:"database" json:"database" env:"DATABASE"`

	// Mongo 配置（mongo 存储）
	Mongo MongoConfig `yaml:"mongo" json:"mongo" env:"MONGO"`

	// Badger 配置（badger 存储）
	Badger BadgerConfig `yaml:"badger" json:"badger" env:"BADGER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" json:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry" env:"TELEMETRY"`

	// JWT 认证配置
	JWT JWTConfig `yaml:"jwt" json:"jwt" env:"JWT"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" json:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" json:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时（需覆盖整次修复流式输出）
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每秒请求数限制
	RateLimitRPS float64 `yaml:"rate_limit_rps" json:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst" json:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// CORS 允许来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" json:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// 请求体上限（字节）
	MaxBodyBytes int64 `yaml:"max_body_bytes" json:"max_body_bytes" env:"MAX_BODY_BYTES"`
	// TLS 证书与私钥，均非空时 API 端口启用 HTTPS
	TLSCertFile string `yaml:"tls_cert_file" json:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" json:"tls_key_file" env:"TLS_KEY_FILE"`
}

// StoreConfig 检查点存储配置
type StoreConfig struct {
	// 后端类型: memory, file, redis, gorm, badger, mongo
	Type string `yaml:"type" json:"type" env:"TYPE"`
	// file 后端的根目录
	BaseDir string `yaml:"base_dir" json:"base_dir" env:"BASE_DIR"`
	// gorm 后端启动时自动建表
	AutoMigrate bool `yaml:"auto_migrate" json:"auto_migrate" env:"AUTO_MIGRATE"`
}

// GatewayConfig 校验网关配置
type GatewayConfig struct {
	// 执行服务地址，例如 http://127.0.0.1:8188
	BaseURL string `yaml:"base_url" json:"base_url" env:"BASE_URL"`
	// 单次请求超时
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	// 重试策略
	Retry RetryConfig `yaml:"retry" json:"retry" env:"RETRY"`
}

// RetryConfig 重试配置
type RetryConfig struct {
	// 总尝试次数（含首次）
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" env:"MAX_ATTEMPTS"`
	// 首次重试延迟
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay" env:"INITIAL_DELAY"`
	// 延迟上限
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay" env:"MAX_DELAY"`
	// 退避倍数
	Multiplier float64 `yaml:"multiplier" json:"multiplier" env:"MULTIPLIER"`
}

// CatalogConfig 节点类型目录配置
type CatalogConfig struct {
	// 目录服务地址，为空时使用网关地址
	BaseURL string `yaml:"base_url" json:"base_url" env:"BASE_URL"`
	// 拉取超时
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	// 进程内缓存时间
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl" env:"CACHE_TTL"`
	// 是否使用 Redis 共享缓存
	SharedCache bool `yaml:"shared_cache" json:"shared_cache" env:"SHARED_CACHE"`
	// 离线 object_info 文件，设置后不再访问远程目录
	StaticPath string `yaml:"static_path" json:"static_path" env:"STATIC_PATH"`
}

// RepairConfig 修复编排配置
type RepairConfig struct {
	// 单次运行的校验次数上限
	MaxIterations int `yaml:"max_iterations" json:"max_iterations" env:"MAX_ITERATIONS"`
	// 事件通道缓冲
	BufferSize int `yaml:"buffer_size" json:"buffer_size" env:"BUFFER_SIZE"`
	// 取消后写入最终检查点的时限
	FinalCheckpointTimeout time.Duration `yaml:"final_checkpoint_timeout" json:"final_checkpoint_timeout" env:"FINAL_CHECKPOINT_TIMEOUT"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" json:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" json:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" json:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size" env:"POOL_SIZE"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix" env:"KEY_PREFIX"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite（纯 Go）, sqlite3（CGo）
	Driver string `yaml:"driver" json:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" json:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" json:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" json:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" json:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" json:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" json:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" json:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI        string        `yaml:"uri" json:"uri" env:"URI"`
	Database   string        `yaml:"database" json:"database" env:"DATABASE"`
	Collection string        `yaml:"collection" json:"collection" env:"COLLECTION"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
}

// BadgerConfig 嵌入式 Badger 配置
type BadgerConfig struct {
	Path              string `yaml:"path" json:"path" env:"PATH"`
	InMemory          bool   `yaml:"in_memory" json:"in_memory" env:"IN_MEMORY"`
	SyncWrites        bool   `yaml:"sync_writes" json:"sync_writes" env:"SYNC_WRITES"`
	SequenceBandwidth uint64 `yaml:"sequence_bandwidth" json:"sequence_bandwidth" env:"SEQUENCE_BANDWIDTH"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" json:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" json:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" json:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" json:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" json:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" json:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" json:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" json:"sample_rate" env:"SAMPLE_RATE"`
}

// JWTConfig JWT 认证配置，Secret 与 PublicKey 均为空时不启用认证
type JWTConfig struct {
	// HS256 密钥
	Secret string `yaml:"secret" json:"secret" env:"SECRET"`
	// RS256 公钥（PEM）
	PublicKey string `yaml:"public_key" json:"public_key" env:"PUBLIC_KEY"`
	// 签发者
	Issuer string `yaml:"issuer" json:"issuer" env:"ISSUER"`
	// 受众
	Audience string `yaml:"audience" json:"audience" env:"AUDIENCE"`
}

// Enabled 报告是否配置了任一验签密钥
func (j JWTConfig) Enabled() bool {
	return j.Secret != "" || j.PublicKey != ""
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "GRAPHREPAIR",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 嵌套结构体递归处理（time.Duration 不是结构体）
		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

var storeTypes = map[string]bool{
	"memory": true,
	"file":   true,
	"redis":  true,
	"gorm":   true,
	"badger": true,
	"mongo":  true,
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	// 服务器
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.HTTPPort {
		errs = append(errs, "metrics port must differ from HTTP port")
	}

	// 存储
	if !storeTypes[c.Store.Type] {
		errs = append(errs, fmt.Sprintf("unsupported store type %q", c.Store.Type))
	}
	if c.Store.Type == "gorm" && c.Database.Driver == "" {
		errs = append(errs, "gorm store requires database.driver")
	}

	// 网关
	if c.Gateway.BaseURL == "" {
		errs = append(errs, "gateway.base_url is required")
	}
	if c.Gateway.Timeout <= 0 {
		errs = append(errs, "gateway.timeout must be positive")
	}
	if c.Gateway.Retry.MaxAttempts < 1 {
		errs = append(errs, "gateway.retry.max_attempts must be at least 1")
	}

	// 目录
	if c.Catalog.Timeout <= 0 {
		errs = append(errs, "catalog.timeout must be positive")
	}
	if c.Catalog.CacheTTL < 0 {
		errs = append(errs, "catalog.cache_ttl must not be negative")
	}

	// 修复
	if c.Repair.MaxIterations < 1 || c.Repair.MaxIterations > 100 {
		errs = append(errs, "repair.max_iterations must be between 1 and 100")
	}
	if c.Repair.FinalCheckpointTimeout <= 0 {
		errs = append(errs, "repair.final_checkpoint_timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// CatalogURL 返回目录服务地址，未单独配置时复用网关地址
func (c *Config) CatalogURL() string {
	if c.Catalog.BaseURL != "" {
		return c.Catalog.BaseURL
	}
	return c.Gateway.BaseURL
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite", "sqlite3":
		return d.Name
	default:
		return ""
	}
}
