// Copyright (c) MemFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 MemFlow 服务端程序入口。

# 概述

cmd/memflow 是 MemFlow 引擎的可执行入口，提供 HTTP API 服务、
数据库迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
环境变量覆盖、结构化日志（zap）与 Prometheus 指标采集。

# 核心类型

  - Server      — 主服务器，组装存储/检索/生成/编排组件并管理生命周期
  - Middleware  — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve（启动服务）、migrate（数据库迁移）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    MetricsMiddleware、RateLimiter（基于 IP）、JWTAuth（Bearer HS256）
  - 存储后端选择：memory / redis / gorm，redis 后端复用连接做写入去重
  - 优雅关闭：信号监听 → 关闭 HTTP → 关闭存储连接 → 关闭遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
