package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RemoteStore 把整批命令作为一次流水线往返发给远端命令服务。
// 任意一条命令出错都会使整个批次以该错误失败，由上层决定降级。
type RemoteStore struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRemoteStore 包装一个已连接的 Redis 客户端。
// timeout 约束每次流水线往返；超时视为远端失败。
func NewRemoteStore(client *redis.Client, timeout time.Duration) *RemoteStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RemoteStore{client: client, timeout: timeout}
}

// Pipeline 实现 Store 接口。
func (s *RemoteStore) Pipeline(ctx context.Context, cmds []Command) ([]interface{}, error) {
	if err := validate(cmds); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// MULTI/EXEC：批次内的命令在服务端作为一个事务执行，
	// 其他连接的命令不可能穿插其间观察到半应用的状态
	pipe := s.client.TxPipeline()
	queued := make([]redis.Cmder, len(cmds))
	for i, c := range cmds {
		queued[i] = enqueue(ctx, pipe, c)
	}

	// Exec 返回的 redis.Nil 只代表批次里有 GET 落空，不是失败
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("remote pipeline: %w", err)
	}

	results := make([]interface{}, len(cmds))
	for i, cmd := range queued {
		v, err := collect(cmd)
		if err != nil {
			return nil, fmt.Errorf("remote pipeline: command %d (%s): %w", i, cmds[i].Kind, err)
		}
		results[i] = v
	}
	return results, nil
}

// enqueue 把一条命令翻译成对应的 Redis 调用并加入流水线。
func enqueue(ctx context.Context, pipe redis.Pipeliner, c Command) redis.Cmder {
	switch c.Kind {
	case KindSet:
		return pipe.Set(ctx, c.Key, c.Args[0], c.TTL)
	case KindGet:
		return pipe.Get(ctx, c.Key)
	case KindDel:
		return pipe.Del(ctx, c.Key)
	case KindHSet:
		return pipe.HSet(ctx, c.Key, c.Args[0], c.Args[1])
	case KindHGetAll:
		return pipe.HGetAll(ctx, c.Key)
	case KindHDel:
		return pipe.HDel(ctx, c.Key, c.Args[0])
	case KindLPush:
		return pipe.LPush(ctx, c.Key, toInterfaces(c.Args)...)
	case KindRPush:
		return pipe.RPush(ctx, c.Key, toInterfaces(c.Args)...)
	case KindLRange:
		return pipe.LRange(ctx, c.Key, c.Start, c.Stop)
	case KindZAdd:
		return pipe.ZAdd(ctx, c.Key, &redis.Z{Score: c.Score, Member: c.Args[0]})
	case KindZRevRange:
		if c.WithScores {
			return pipe.ZRevRangeWithScores(ctx, c.Key, c.Start, c.Stop)
		}
		return pipe.ZRevRange(ctx, c.Key, c.Start, c.Stop)
	}
	// validate 已经排除了未知 Kind
	panic("kv: unreachable command kind")
}

// collect 把 go-redis 的结果规范化成与内存后端一致的形状。
func collect(cmd redis.Cmder) (interface{}, error) {
	switch c := cmd.(type) {
	case *redis.StatusCmd:
		if err := c.Err(); err != nil {
			return nil, err
		}
		return "OK", nil
	case *redis.StringCmd:
		v, err := c.Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return v, nil
	case *redis.IntCmd:
		return c.Result()
	case *redis.StringStringMapCmd:
		return c.Result()
	case *redis.StringSliceCmd:
		return c.Result()
	case *redis.ZSliceCmd:
		zs, err := c.Result()
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(zs)*2)
		for _, z := range zs {
			member, _ := z.Member.(string)
			out = append(out, member, strconv.FormatFloat(z.Score, 'f', -1, 64))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unexpected result type %T", cmd)
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
