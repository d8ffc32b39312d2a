/*
包 cache 提供基于 Redis 的缓存管理能力，是会话元数据 Redis 存储的底座。

# 核心类型

  - Manager：持有 go-redis 客户端，提供 Get/Set/Delete/Exists/Expire、
    GetJSON/SetJSON 以及 AddToSet/RemoveFromSet/SetMembers 集合操作。
    所有键自动加 KeyPrefix 前缀。
  - Config：地址、密码、连接池、默认 TTL、TLS 开关与健康检查间隔。
  - Stats：解析 INFO 得到的命中数、内存与连接数。

# 错误语义

ErrCacheMiss 表示键不存在，ErrClosed 表示管理器已关闭，均可用 errors.Is 判断。
*/
package cache
