// Package kv 实现了数据层的键值命令抽象：固定的命令词汇表、
// 进程内内存后端、基于 Redis 管道的远端后端，以及两者之间的
// 单向故障切换。所有更高层的引擎都只通过本包访问存储。
package kv

import (
	"context"
	"fmt"
	"time"
)

// Kind 是命令种类的封闭枚举。命令词汇表是固定的：
// 任何后端都必须且只需实现这一组操作。
type Kind uint8

const (
	KindSet Kind = iota // SET key value [TTL]
	KindGet             // GET key
	KindDel             // DEL key
	KindHSet            // HSET key field value
	KindHGetAll         // HGETALL key
	KindHDel            // HDEL key field
	KindLPush           // LPUSH key value...
	KindRPush           // RPUSH key value...
	KindLRange          // LRANGE key start stop
	KindZAdd            // ZADD key score member
	KindZRevRange       // ZREVRANGE key start stop [WITHSCORES]

	kindCount
)

var kindNames = [kindCount]string{
	KindSet:       "SET",
	KindGet:       "GET",
	KindDel:       "DEL",
	KindHSet:      "HSET",
	KindHGetAll:   "HGETALL",
	KindHDel:      "HDEL",
	KindLPush:     "LPUSH",
	KindRPush:     "RPUSH",
	KindLRange:    "LRANGE",
	KindZAdd:      "ZADD",
	KindZRevRange: "ZREVRANGE",
}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("KIND(%d)", k)
}

// Mutating 报告该命令种类是否会修改存储。
func (k Kind) Mutating() bool {
	switch k {
	case KindSet, KindDel, KindHSet, KindHDel, KindLPush, KindRPush, KindZAdd:
		return true
	}
	return false
}

// Command 是存储交互的唯一单位。各字段按 Kind 取用：
// Args 承载值/字段，TTL 仅对 SET 有效，Score 仅对 ZADD 有效，
// Start/Stop/WithScores 仅对区间查询有效。
type Command struct {
	Kind       Kind
	Key        string
	Args       []string
	TTL        time.Duration
	Score      float64
	Start      int64
	Stop       int64
	WithScores bool
}

// Set 构造一条 SET 命令，ttl 为 0 表示不过期。
func Set(key, value string, ttl time.Duration) Command {
	return Command{Kind: KindSet, Key: key, Args: []string{value}, TTL: ttl}
}

func Get(key string) Command {
	return Command{Kind: KindGet, Key: key}
}

func Del(key string) Command {
	return Command{Kind: KindDel, Key: key}
}

func HSet(key, field, value string) Command {
	return Command{Kind: KindHSet, Key: key, Args: []string{field, value}}
}

func HGetAll(key string) Command {
	return Command{Kind: KindHGetAll, Key: key}
}

func HDel(key, field string) Command {
	return Command{Kind: KindHDel, Key: key, Args: []string{field}}
}

func LPush(key string, values ...string) Command {
	return Command{Kind: KindLPush, Key: key, Args: values}
}

func RPush(key string, values ...string) Command {
	return Command{Kind: KindRPush, Key: key, Args: values}
}

// LRange 构造一条 LRANGE 命令，start/stop 支持负索引（从尾部偏移）。
func LRange(key string, start, stop int64) Command {
	return Command{Kind: KindLRange, Key: key, Start: start, Stop: stop}
}

func ZAdd(key string, score float64, member string) Command {
	return Command{Kind: KindZAdd, Key: key, Score: score, Args: []string{member}}
}

// ZRevRange 构造一条按分数降序的区间查询，withScores 为真时
// 结果中在每个成员后追加其字符串化的分数。
func ZRevRange(key string, start, stop int64, withScores bool) Command {
	return Command{Kind: KindZRevRange, Key: key, Start: start, Stop: stop, WithScores: withScores}
}

// arity 描述每种命令要求的 Args 数量，-1 表示至少一个。
var arity = [kindCount]int{
	KindSet:       1,
	KindGet:       0,
	KindDel:       0,
	KindHSet:      2,
	KindHGetAll:   0,
	KindHDel:      1,
	KindLPush:     -1,
	KindRPush:     -1,
	KindLRange:    0,
	KindZAdd:      1,
	KindZRevRange: 0,
}

// validate 在任何命令执行之前同步拒绝非法输入。
func validate(cmds []Command) error {
	if len(cmds) == 0 {
		return fmt.Errorf("kv: empty pipeline")
	}
	for i, c := range cmds {
		if c.Kind >= kindCount {
			return fmt.Errorf("kv: command %d: unknown kind %d", i, c.Kind)
		}
		if c.Key == "" {
			return fmt.Errorf("kv: command %d (%s): empty key", i, c.Kind)
		}
		want := arity[c.Kind]
		if want == -1 {
			if len(c.Args) == 0 {
				return fmt.Errorf("kv: command %d (%s): needs at least one value", i, c.Kind)
			}
		} else if len(c.Args) != want {
			return fmt.Errorf("kv: command %d (%s): expected %d args, got %d", i, c.Kind, want, len(c.Args))
		}
	}
	return nil
}

// Store 以原子管道的形式执行一批命令，结果与命令一一对应。
// 约定的结果类型：GET → string 或 nil；HGETALL → map[string]string；
// LRANGE/ZREVRANGE → []string；SET → "OK"；其余写命令 → int64。
type Store interface {
	Pipeline(ctx context.Context, cmds []Command) ([]interface{}, error)
}
