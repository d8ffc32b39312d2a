/*
包 database 负责打开环境元数据所在的数据库（postgres/mysql/sqlite）
并管理其 GORM 连接池。

PoolManager 设置连接池参数，Observe 启动后台健康检查并把连接数
回报给指标收集器；Ping 供 /health 探针使用。
*/
package database
