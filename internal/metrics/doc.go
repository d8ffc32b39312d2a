/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、执行、锁与数据库。

# 核心类型

  - Collector：通过 promauto 注册全部指标，按 namespace 隔离。
    同时实现执行协调器的 Recorder 与解释器的 GILObserver。

# 主要能力

  - HTTP 指标：请求数、耗时、响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 执行指标：按 mode/status 统计的执行数与耗时、输出行数、生成器条目数、
    在途执行数与已注册会话数。
  - 锁指标：会话锁等待（acquired/busy）、GIL 等待与持有时间。
  - 数据库指标：活跃/空闲连接数 Gauge。
*/
package metrics
