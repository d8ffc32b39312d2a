// Package telemetry 初始化 OpenTelemetry SDK（OTLP gRPC 的 trace 与 metric 导出），
// 并提供 ExecutionMetrics，把执行指标同时写入 OTel。
// 遥测关闭时保持全局 noop 实现，不连接任何外部服务。
package telemetry
