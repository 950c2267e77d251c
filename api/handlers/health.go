package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🏥 健康检查处理器
// =============================================================================

// HealthCheck 单个依赖的健康检查
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthCheckFunc 函数式健康检查
type HealthCheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) error
}

func (f HealthCheckFunc) Name() string                    { return f.CheckName }
func (f HealthCheckFunc) Check(ctx context.Context) error { return f.Fn(ctx) }

// HealthStatus 健康检查结果
type HealthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Uptime string            `json:"uptime"`
}

// HealthHandler 聚合各依赖的健康状态
type HealthHandler struct {
	mu      sync.RWMutex
	checks  []HealthCheck
	started time.Time
	logger  *zap.Logger
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		started: time.Now(),
		logger:  logger.With(zap.String("component", "health_handler")),
	}
}

// Register 注册一个健康检查
func (h *HealthHandler) Register(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// Handle 处理 GET /healthz
//
// 任一检查失败时返回 503, 各检查结果在响应体中逐项列出.
func (h *HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	status := HealthStatus{
		Status: "healthy",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	}
	if len(checks) > 0 {
		status.Checks = make(map[string]string, len(checks))
	}

	healthy := true
	for _, check := range checks {
		if err := check.Check(ctx); err != nil {
			healthy = false
			status.Checks[check.Name()] = err.Error()
			h.logger.Warn("health check failed",
				zap.String("check", check.Name()),
				zap.Error(err),
			)
		} else {
			status.Checks[check.Name()] = "ok"
		}
	}

	code := http.StatusOK
	if !healthy {
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}
