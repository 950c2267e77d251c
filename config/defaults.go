// =============================================================================
// 📦 memflow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Log:        DefaultLogConfig(),
		Embedding:  DefaultEmbeddingConfig(),
		Generation: DefaultGenerationConfig(),
		Store:      StoreConfig{Backend: "memory"},
		Redis:      DefaultRedisConfig(),
		Database:   DefaultDatabaseConfig(),
		Workflow:   DefaultWorkflowConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultEmbeddingConfig 返回默认嵌入配置.
// 未配置主提供者时, 系统只用本地哈希降级嵌入, 适合离线开发环境.
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider:   "",
		Model:      "text-embedding-3-small",
		Dimensions: 256,
		Timeout:    30 * time.Second,
	}
}

// DefaultGenerationConfig 返回默认生成配置
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Provider:         "template",
		Model:            "gpt-4o-mini",
		Timeout:          60 * time.Second,
		MaxContextTokens: 2048,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "memflow",
		Name:            "memflow.db",
		SSLMode:         "disable",
		MaxOpenConns:    50,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultWorkflowConfig 返回默认工作流配置
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		TopK:             10,
		Threshold:        0.75,
		StepTimeout:      60 * time.Second,
		RetrievalTimeout: 10 * time.Second,
		MaxRetries:       2,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "memflow",
		SampleRate:   1.0,
	}
}
