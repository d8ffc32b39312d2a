/*
包 migration 管理 environments 表的 Schema 版本，基于 golang-migrate。

SQL 文件按方言（postgres/mysql/sqlite）内嵌于 migrations/ 目录，
DefaultMigrator 负责 Up/Down/Steps/Force 与状态查询，CLI 为
`pyhost migrate` 子命令提供格式化输出。SQLite 使用纯 Go 的
modernc.org/sqlite 驱动，无需 CGO。
*/
package migration
