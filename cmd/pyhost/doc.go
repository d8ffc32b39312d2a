/*
Package main 提供 pyhost 服务端程序入口。

# 概述

cmd/pyhost 把执行协调器、会话注册表与环境管理装配为一个进程，
提供 HTTP/WebSocket 服务、一次性脚本执行、数据库迁移、健康检查和版本查询等子命令。

# 核心类型

  - Server     — 主服务器，管理 HTTP 与 Metrics 端口、热更新及优雅关闭
  - core       — serve 与 run 共用的执行核心（存储、解释器、工作池、协调器）
  - Middleware — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、run、migrate、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、Metrics、
    OTelTracing、CORS、RateLimiter（基于 IP）、Auth（X-API-Key 或 Bearer JWT）
  - 配置热重载：执行限制与日志级别即时生效，其余字段重启后生效
  - 存储选择：环境元数据走 GORM（sqlite/postgres/mysql）或内存，会话走 Redis 或内存
  - 优雅关闭：信号 → 停止热更新 → 关闭 HTTP → 停止执行 → 释放连接 → 刷新遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
