package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/memflow/memflow/agent"
	"github.com/memflow/memflow/api/handlers"
	"github.com/memflow/memflow/config"
	"github.com/memflow/memflow/embedding"
	"github.com/memflow/memflow/internal/cache"
	"github.com/memflow/memflow/internal/database"
	"github.com/memflow/memflow/internal/metrics"
	"github.com/memflow/memflow/internal/server"
	"github.com/memflow/memflow/internal/telemetry"
	"github.com/memflow/memflow/memory"
	"github.com/memflow/memflow/retrieval"
	"github.com/memflow/memflow/workflow"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 MemFlow 的主服务器, 负责组装存储、检索、生成与编排组件
// 并管理它们的生命周期.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager *server.Manager
	collector   *metrics.Collector
	otel        *telemetry.Providers

	// 存储层 (按 store.backend 三选一)
	store       memory.Store
	redisClient *redis.Client
	cacheMgr    *cache.Manager
	pool        *database.PoolManager

	// 核心组件
	registry     *agent.Registry
	orchestrator *workflow.Orchestrator

	// Handlers
	healthHandler   *handlers.HealthHandler
	queryHandler    *handlers.QueryHandler
	workflowHandler *handlers.WorkflowHandler

	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otel *telemetry.Providers) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		otel:   otel,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 组装并启动所有组件
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("memflow", prometheus.DefaultRegisterer, s.logger)

	if err := s.initStore(); err != nil {
		return fmt.Errorf("failed to init store: %w", err)
	}
	if err := s.initComponents(); err != nil {
		return fmt.Errorf("failed to init components: %w", err)
	}
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.Info("All components started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.String("store_backend", s.cfg.Store.Backend),
		zap.String("generation_provider", s.cfg.Generation.Provider),
	)
	return nil
}

// =============================================================================
// 🗄️ 存储层初始化
// =============================================================================

// initStore 按配置选择存储后端. redis 后端同时复用连接作为去重索引,
// gorm 后端挂接连接池管理器做健康检查与事务重试.
func (s *Server) initStore() error {
	dims := s.cfg.Embedding.Dimensions

	switch s.cfg.Store.Backend {
	case "memory", "":
		s.store = memory.NewInMemoryStore(memory.InMemoryStoreConfig{Dimension: dims}, s.logger)

	case "redis":
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:         s.cfg.Redis.Addr,
			Password:     s.cfg.Redis.Password,
			DB:           s.cfg.Redis.DB,
			PoolSize:     s.cfg.Redis.PoolSize,
			MinIdleConns: s.cfg.Redis.MinIdleConns,
		})
		store, err := memory.NewRedisStore(s.redisClient, memory.RedisStoreConfig{Dimension: dims}, s.logger)
		if err != nil {
			return err
		}
		s.store = store
		s.cacheMgr = cache.NewManagerWithClient(s.redisClient, s.logger)

	case "gorm":
		gormCfg := memory.GormStoreConfig{
			Driver:      s.cfg.Database.Driver,
			DSN:         s.cfg.Database.DSN(),
			Dimension:   dims,
			AutoMigrate: true,
		}
		db, err := memory.OpenGorm(gormCfg)
		if err != nil {
			return err
		}
		pool, err := database.NewPoolManager(db, database.PoolConfig{
			MaxIdleConns:    s.cfg.Database.MaxIdleConns,
			MaxOpenConns:    s.cfg.Database.MaxOpenConns,
			ConnMaxLifetime: s.cfg.Database.ConnMaxLifetime,
		}, s.logger)
		if err != nil {
			return err
		}
		s.pool = pool
		store, err := memory.NewGormStore(db, gormCfg, s.logger)
		if err != nil {
			return err
		}
		s.store = store

	default:
		return fmt.Errorf("unsupported store backend: %s", s.cfg.Store.Backend)
	}

	s.logger.Info("Memory store initialized", zap.String("backend", s.cfg.Store.Backend))
	return nil
}

// =============================================================================
// 🔧 核心组件初始化
// =============================================================================

func (s *Server) initComponents() error {
	// 嵌入层: 主提供者 + 本地哈希降级
	var primary embedding.Provider
	switch s.cfg.Embedding.Provider {
	case "openai":
		primary = embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			APIKey:            s.cfg.Embedding.APIKey,
			BaseURL:           s.cfg.Embedding.BaseURL,
			Model:             s.cfg.Embedding.Model,
			Dimensions:        s.cfg.Embedding.Dimensions,
			Timeout:           s.cfg.Embedding.Timeout,
			RequestsPerSecond: s.cfg.Embedding.RequestsPerSecond,
		})
	case "gemini":
		primary = embedding.NewGeminiProvider(embedding.GeminiConfig{
			APIKey:            s.cfg.Embedding.APIKey,
			BaseURL:           s.cfg.Embedding.BaseURL,
			Model:             s.cfg.Embedding.Model,
			Dimensions:        s.cfg.Embedding.Dimensions,
			Timeout:           s.cfg.Embedding.Timeout,
			RequestsPerSecond: s.cfg.Embedding.RequestsPerSecond,
		})
	case "":
		s.logger.Info("No embedding provider configured, all embeddings will be degraded")
	default:
		return fmt.Errorf("unsupported embedding provider: %s", s.cfg.Embedding.Provider)
	}
	embedder, err := embedding.NewFallbackProvider(primary, s.cfg.Embedding.Dimensions, s.logger)
	if err != nil {
		return err
	}

	// 代理注册表
	registry, err := agent.NewRegistry(s.cfg.Agents, s.logger)
	if err != nil {
		return err
	}
	s.registry = registry

	// 生成提供者
	var genProvider agent.GenerationProvider
	switch s.cfg.Generation.Provider {
	case "http":
		genProvider = agent.NewHTTPProvider(agent.HTTPProviderConfig{
			BaseURL: s.cfg.Generation.BaseURL,
			APIKey:  s.cfg.Generation.APIKey,
			Model:   s.cfg.Generation.Model,
			Timeout: s.cfg.Generation.Timeout,
		})
	case "template", "":
		genProvider = agent.NewTemplateProvider()
	default:
		return fmt.Errorf("unsupported generation provider: %s", s.cfg.Generation.Provider)
	}
	generator := agent.NewGenerator(genProvider, agent.NewDefaultTokenizer(), agent.GeneratorConfig{
		MaxContextTokens: s.cfg.Generation.MaxContextTokens,
	}, s.logger)

	// 检索引擎
	engine := retrieval.NewEngine(s.store, embedder, retrieval.Config{
		Timeout: s.cfg.Workflow.RetrievalTimeout,
	}, s.collector, s.logger)

	// 交互回写器; redis 后端下用共享缓存做跨实例去重
	var dedup memory.DedupIndex
	if s.cacheMgr != nil {
		dedup = s.cacheMgr
	}
	writer := memory.NewWriter(s.store, embedder, dedup, memory.WriterConfig{}, s.logger)

	// 工作流编排器
	queryOpts := memory.QueryOptions{
		TopK:      s.cfg.Workflow.TopK,
		Threshold: s.cfg.Workflow.Threshold,
	}
	s.orchestrator = workflow.NewOrchestrator(engine, generator, writer, registry, workflow.Config{
		StepTimeout: s.cfg.Workflow.StepTimeout,
		Retry: workflow.RetryPolicy{
			MaxRetries:   s.cfg.Workflow.MaxRetries,
			InitialDelay: workflow.DefaultRetryPolicy().InitialDelay,
			MaxDelay:     workflow.DefaultRetryPolicy().MaxDelay,
			Multiplier:   workflow.DefaultRetryPolicy().Multiplier,
			Jitter:       true,
		},
		Query: queryOpts,
	}, s.collector, s.logger)

	// Handlers
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	if s.cacheMgr != nil {
		s.healthHandler.Register(handlers.HealthCheckFunc{CheckName: "redis", Fn: s.cacheMgr.Ping})
	}
	if s.pool != nil {
		s.healthHandler.Register(handlers.HealthCheckFunc{CheckName: "database", Fn: s.pool.Ping})
	}
	s.queryHandler = handlers.NewQueryHandler(registry, engine, generator, writer, queryOpts, s.logger)
	s.workflowHandler = handlers.NewWorkflowHandler(s.orchestrator, s.logger)

	s.logger.Info("Components initialized", zap.Int("agents", len(registry.List())))
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.healthHandler.Handle)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteSuccess(w, map[string]string{
			"version":    Version,
			"build_time": BuildTime,
			"git_commit": GitCommit,
		})
	})

	mux.HandleFunc("POST /v1/query", s.queryHandler.Handle)
	mux.HandleFunc("POST /v1/workflows", s.workflowHandler.Trigger)
	mux.HandleFunc("GET /v1/workflows/{id}", s.workflowHandler.Get)

	skipAuthPaths := []string{"/healthz", "/metrics", "/version"}
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		rlCtx, rlCancel := context.WithCancel(context.Background())
		s.rateLimiterCancel = rlCancel
		middlewares = append(middlewares,
			RateLimiter(rlCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger))
	}
	if s.cfg.Auth.Enabled {
		middlewares = append(middlewares, JWTAuth(s.cfg.Auth, skipAuthPaths, s.logger))
	}
	handler := Chain(mux, middlewares...)

	s.httpManager = server.NewManager(handler, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	return s.httpManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有组件
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")
	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("Database pool close error", zap.Error(err))
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Redis client close error", zap.Error(err))
		}
	}
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
