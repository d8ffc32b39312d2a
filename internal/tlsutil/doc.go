// Package tlsutil 集中提供 HTTPS 服务端、Redis 连接与健康探针客户端的 TLS 配置。
// 安全加固：TLS 1.2+，仅 AEAD 密码套件。
package tlsutil
