// Package config 提供 pyhost 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → PYHOST_ 环境变量 的顺序加载；
// HotReloadManager 轮询配置文件，把执行限制等可热更新字段推送给运行中的服务。
package config
