/*
Package handlers 提供 pyhost HTTP API 的请求处理器实现。

# 概述

handlers 包把执行协调器、环境管理与配置热更新暴露为 HTTP/WebSocket 端点，
并统一响应信封与错误映射。所有 Handler 均遵循标准 net/http 接口，
通过 RegisterRoutes 挂载到 http.ServeMux（Go 1.22 路由模式）。

# 核心类型

  - SessionHandler     — 会话注册/清理，代码、表达式、变量、批量、交互执行与停止
  - StreamHandler      — WebSocket 流式执行（代码与生成器模式）
  - EnvironmentHandler — 环境与 .star 模块管理
  - ConfigHandler      — 脱敏配置视图、重载、回滚与变更记录
  - HealthHandler      — 健康检查（/health, /healthz, /ready, /readyz）
  - Response           — 统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter     — 包装 http.ResponseWriter 以捕获状态码，支持 Hijack

# 错误约定

解释器异常、超时与取消属于执行结果，以 200 返回，data.status 标明终态。
仅参数校验失败、会话忙与宿主故障走错误信封，状态码由 types.ErrorCode 决定。
*/
package handlers
