/*
Package types 提供 pyhost 的全局共享类型定义。

types 是最底层的公共包，不依赖任何内部包，为 execution、session、
environment、api 等上层模块提供统一的错误契约。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码、Retryable、Session 标记

# 主要能力

  - 错误工具链：AsError / IsErrorCode / IsRetryable / GetErrorCode
  - 常用错误构造：NewInvalidRequestError / NewSessionBusyError / NewInternalError
  - 错误码映射：HTTPStatusFor
*/
package types
