package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	puresqlite "github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	cgosqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/graphrepair/api/handlers"
	"github.com/BaSui01/graphrepair/catalog"
	"github.com/BaSui01/graphrepair/checkpoint"
	"github.com/BaSui01/graphrepair/config"
	"github.com/BaSui01/graphrepair/fixer"
	"github.com/BaSui01/graphrepair/gateway"
	"github.com/BaSui01/graphrepair/internal/cache"
	"github.com/BaSui01/graphrepair/internal/database"
	"github.com/BaSui01/graphrepair/internal/metrics"
	"github.com/BaSui01/graphrepair/internal/server"
	"github.com/BaSui01/graphrepair/repair"
	"github.com/BaSui01/graphrepair/retry"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 GraphRepair 的主服务器
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	level      zap.AtomicLevel

	// 指标收集器
	collector *metrics.Collector

	// 存储与依赖
	db           *gorm.DB
	pool         *database.PoolManager
	cache        *cache.Manager
	store        checkpoint.Store
	catalog      catalog.TypeCatalog
	gateway      gateway.Gateway
	orchestrator *repair.Orchestrator

	// Handlers
	health    *handlers.HealthHandler
	hotReload *config.HotReloadManager

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		level:      level,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Run 初始化全部组件并阻塞运行 API 与指标服务，ctx 取消后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	defer s.close()

	if err := s.init(ctx); err != nil {
		return err
	}

	if s.hotReload != nil {
		if err := s.hotReload.Start(ctx); err != nil {
			return fmt.Errorf("start hot reload: %w", err)
		}
	}

	s.httpManager = server.NewManager(s.buildHandler(ctx), s.apiServerConfig(), s.logger)
	s.metricsManager = server.NewManager(s.metricsHandler(), server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.httpManager.Run(gctx) })
	g.Go(func() error { return s.metricsManager.Run(gctx) })

	s.logger.Info("GraphRepair started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("store", s.cfg.Store.Type),
	)
	return g.Wait()
}

func (s *Server) apiServerConfig() server.Config {
	return server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		TLSCertFile:     s.cfg.Server.TLSCertFile,
		TLSKeyFile:      s.cfg.Server.TLSKeyFile,
	}
}

// init 按依赖顺序构建组件
func (s *Server) init(ctx context.Context) error {
	if s.collector == nil {
		s.collector = metrics.NewCollector("graphrepair", s.logger)
	}
	if err := s.initStore(ctx); err != nil {
		return fmt.Errorf("init checkpoint store: %w", err)
	}
	if err := s.initCatalog(); err != nil {
		return fmt.Errorf("init catalog: %w", err)
	}
	s.initGateway()
	s.initOrchestrator()
	s.initHealth()
	s.initHotReload()
	return nil
}

// -----------------------------------------------------------------------------
// 检查点存储
// -----------------------------------------------------------------------------

func (s *Server) initStore(ctx context.Context) error {
	deps := checkpoint.Deps{Logger: s.logger.With(zap.String("component", "checkpoint"))}

	if s.cfg.Store.Type == string(checkpoint.StoreTypeGorm) {
		db, err := openDatabase(s.cfg.Database)
		if err != nil {
			return err
		}
		s.db = db

		poolCfg := database.DefaultPoolConfig()
		if s.cfg.Database.MaxOpenConns > 0 {
			poolCfg.MaxOpenConns = s.cfg.Database.MaxOpenConns
		}
		if s.cfg.Database.MaxIdleConns > 0 {
			poolCfg.MaxIdleConns = s.cfg.Database.MaxIdleConns
		}
		if s.cfg.Database.ConnMaxLifetime > 0 {
			poolCfg.ConnMaxLifetime = s.cfg.Database.ConnMaxLifetime
		}
		pool, err := database.NewPoolManager(db, poolCfg, s.logger, database.WithStatsRecorder("checkpoint", s.collector))
		if err != nil {
			return err
		}
		s.pool = pool
		deps.DB = db
		deps.Transact = pool.Transactor()
	}

	store, err := checkpoint.New(ctx, checkpoint.Config{
		Type:        checkpoint.StoreType(s.cfg.Store.Type),
		BaseDir:     s.cfg.Store.BaseDir,
		AutoMigrate: s.cfg.Store.AutoMigrate,
		Redis: checkpoint.RedisConfig{
			Addr:      s.cfg.Redis.Addr,
			Password:  s.cfg.Redis.Password,
			DB:        s.cfg.Redis.DB,
			PoolSize:  s.cfg.Redis.PoolSize,
			KeyPrefix: s.cfg.Redis.KeyPrefix,
		},
		Badger: checkpoint.BadgerConfig{
			Path:              s.cfg.Badger.Path,
			InMemory:          s.cfg.Badger.InMemory,
			SyncWrites:        s.cfg.Badger.SyncWrites,
			SequenceBandwidth: s.cfg.Badger.SequenceBandwidth,
		},
		Mongo: checkpoint.MongoConfig{
			URI:        s.cfg.Mongo.URI,
			Database:   s.cfg.Mongo.Database,
			Collection: s.cfg.Mongo.Collection,
			Timeout:    s.cfg.Mongo.Timeout,
		},
	}, deps)
	if err != nil {
		return err
	}
	s.store = store
	s.logger.Info("checkpoint store ready", zap.String("type", s.cfg.Store.Type))
	return nil
}

// openDatabase 按驱动打开 gorm 连接。sqlite 使用纯 Go 实现，sqlite3 使用 CGo 实现
func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "mysql":
		dialector = mysql.Open(cfg.DSN())
	case "sqlite":
		dialector = puresqlite.Open(cfg.DSN())
	case "sqlite3":
		dialector = cgosqlite.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}
	return db, nil
}

// -----------------------------------------------------------------------------
// 节点目录
// -----------------------------------------------------------------------------

func (s *Server) initCatalog() error {
	logger := s.logger.With(zap.String("component", "catalog"))

	if s.cfg.Catalog.StaticPath != "" {
		static, err := catalog.LoadStaticFile(s.cfg.Catalog.StaticPath)
		if err != nil {
			return err
		}
		s.catalog = static
		logger.Info("using static catalog", zap.String("path", s.cfg.Catalog.StaticPath))
		return nil
	}

	opts := []catalog.CachedOption{catalog.WithCacheRecorder(s.collector)}
	if s.cfg.Catalog.SharedCache {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Addr = s.cfg.Redis.Addr
		cacheCfg.Password = s.cfg.Redis.Password
		cacheCfg.DB = s.cfg.Redis.DB
		if s.cfg.Redis.PoolSize > 0 {
			cacheCfg.PoolSize = s.cfg.Redis.PoolSize
		}
		cacheCfg.KeyPrefix = s.cfg.Redis.KeyPrefix + "cache:"
		cacheCfg.DefaultTTL = s.cfg.Catalog.CacheTTL

		m, err := cache.NewManager(cacheCfg, logger)
		if err != nil {
			return fmt.Errorf("connect shared cache: %w", err)
		}
		s.cache = m
		opts = append(opts, catalog.WithSharedCache(m))
	}

	upstream := catalog.NewHTTPCatalog(s.cfg.CatalogURL(), s.cfg.Catalog.Timeout, logger)
	s.catalog = catalog.NewCachedCatalog(upstream, s.cfg.Catalog.CacheTTL, logger, opts...)
	return nil
}

// -----------------------------------------------------------------------------
// 校验网关与修复编排
// -----------------------------------------------------------------------------

func (s *Server) initGateway() {
	logger := s.logger.With(zap.String("component", "gateway"))
	httpGateway := gateway.NewHTTPGateway(s.cfg.Gateway.BaseURL, s.cfg.Gateway.Timeout, logger,
		gateway.WithRecorder(s.collector))

	rc := s.cfg.Gateway.Retry
	s.gateway = gateway.NewRetrying(httpGateway, retry.Policy{
		MaxAttempts:  rc.MaxAttempts,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.Multiplier,
		Jitter:       true,
	}, logger)
}

func (s *Server) initOrchestrator() {
	applier := fixer.New(s.store, s.logger.With(zap.String("component", "fixer")),
		fixer.WithRecorder(s.collector))
	s.orchestrator = repair.New(s.store, s.gateway, s.catalog, applier,
		repairConfig(s.cfg.Repair),
		s.logger.With(zap.String("component", "repair")),
		repair.WithRecorder(s.collector),
	)
}

func repairConfig(c config.RepairConfig) repair.Config {
	return repair.Config{
		MaxIterations:          c.MaxIterations,
		BufferSize:             c.BufferSize,
		FinalCheckpointTimeout: c.FinalCheckpointTimeout,
	}
}

// -----------------------------------------------------------------------------
// 健康检查
// -----------------------------------------------------------------------------

func (s *Server) initHealth() {
	s.health = handlers.NewHealthHandler(s.logger, handlers.VersionInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	})
	s.health.RegisterCheck(handlers.NewPingCheck("checkpoint_store", s.store.Ping))
	if s.pool != nil {
		s.health.RegisterCheck(handlers.NewPingCheck("database", s.pool.Ping))
	}
	if s.cache != nil {
		s.health.RegisterCheck(handlers.NewPingCheck("redis", s.cache.Ping))
	}
}

// -----------------------------------------------------------------------------
// 热更新
// -----------------------------------------------------------------------------

func (s *Server) initHotReload() {
	s.hotReload = config.NewHotReloadManager(s.cfg,
		config.WithHotReloadLogger(s.logger),
		config.WithConfigPath(s.configPath),
	)

	s.hotReload.OnChange(func(change config.ConfigChange) {
		s.logger.Info("configuration changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
		)
	})

	s.hotReload.OnReload(func(_, newConfig *config.Config) {
		s.level.SetLevel(parseLevel(newConfig.Log.Level))
		s.orchestrator.Reconfigure(repairConfig(newConfig.Repair))
	})
}

// =============================================================================
// 🌐 路由与中间件
// =============================================================================

// publicPaths 无需认证的路径
var publicPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}

// buildHandler 注册全部 API 路由并套上中间件链
func (s *Server) buildHandler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	maxBody := s.cfg.Server.MaxBodyBytes

	s.health.RegisterRoutes(mux)

	handlers.NewCheckpointHandler(s.store, s.logger,
		handlers.WithCheckpointRecorder(s.collector),
		handlers.WithCheckpointMaxBody(maxBody),
	).RegisterRoutes(mux)

	handlers.NewAnalyzeHandler(s.catalog, s.logger, maxBody).RegisterRoutes(mux)

	handlers.NewRepairHandler(s.orchestrator, s.logger,
		handlers.WithRunTracker(s.collector),
		handlers.WithRepairMaxBody(maxBody),
		handlers.WithOriginPatterns(originHosts(s.cfg.Server.CORSAllowedOrigins)...),
	).RegisterRoutes(mux)

	if s.hotReload != nil {
		config.NewConfigAPIHandler(s.hotReload).RegisterRoutes(mux)
	}

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	}
	if s.cfg.JWT.Enabled() {
		middlewares = append(middlewares, JWTAuth(s.cfg.JWT, publicPaths, s.logger))
	} else {
		s.logger.Warn("JWT authentication disabled, API is unauthenticated")
	}
	return Chain(mux, middlewares...)
}

// originHosts 将 CORS 来源转换为 WebSocket 的 host 匹配模式
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(strings.TrimPrefix(o, "https://"), "http://")
		if o = strings.TrimSuffix(o, "/"); o != "" {
			hosts = append(hosts, o)
		}
	}
	return hosts
}

func (s *Server) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// =============================================================================
// 🛑 资源释放
// =============================================================================

// close 按构建的逆序释放资源
func (s *Server) close() {
	var errs []error
	if s.hotReload != nil {
		errs = append(errs, s.hotReload.Stop())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.pool != nil {
		errs = append(errs, s.pool.Close())
	}
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Warn("error during shutdown", zap.Error(err))
	}
	s.logger.Info("server resources released")
}
