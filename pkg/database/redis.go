package database

import (
	"context"
	"time"

	"vibin-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接。
// 与 MySQL 不同，Redis 不可用不是致命错误：kv 层会降级到进程内内存后端，
// 因此这里只记录告警并保持 RDB 为 nil。
func InitRedis(addr, password string, db int, dialTimeout time.Duration) {
	if addr == "" {
		log.Warnf("Redis 未配置，kv 层将直接使用内存后端")
		return
	}

	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: dialTimeout,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warnw("Redis 连接失败，kv 层将降级到内存后端", "addr", addr, "error", err)
		_ = client.Close()
		return
	}

	RDB = client
	log.Info("Redis client connected successfully")
}
