// Package repository 提供了数据访问层的实现。
// 关系、会话与设置数据都以 JSON 负载存放在 kv 层，
// 本包负责键族布局和编解码，是各自键族的唯一写入者。
package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"vibin-go/internal/kv"
	"vibin-go/internal/model"
	"vibin-go/pkg/log"
)

// ConnectionRepository 定义了关系状态记录的存取接口。
// outgoing/incoming 两侧镜像必须始终通过同一条管道写入或删除。
type ConnectionRepository interface {
	GetOutgoing(ctx context.Context, user string) (map[string]model.ConnectionState, error)
	GetIncoming(ctx context.Context, user string) (map[string]model.ConnectionState, error)
	WriteMirror(ctx context.Context, actor, target string, state model.ConnectionState) error
	DeleteMirror(ctx context.Context, actor, target string) error
}

type kvConnectionRepository struct {
	store *kv.FailoverStore
}

// NewConnectionRepository 创建一个新的 ConnectionRepository 实例。
func NewConnectionRepository(store *kv.FailoverStore) ConnectionRepository {
	return &kvConnectionRepository{store: store}
}

func outgoingKey(user string) string { return fmt.Sprintf("conn:out:%s", user) }
func incomingKey(user string) string { return fmt.Sprintf("conn:in:%s", user) }

// GetOutgoing 返回 user 对外持有的全部关系状态。
// 无法解析的记录视为不存在，不影响相邻数据的读取。
func (r *kvConnectionRepository) GetOutgoing(ctx context.Context, user string) (map[string]model.ConnectionState, error) {
	return r.readStates(ctx, outgoingKey(user))
}

// GetIncoming 返回他人对 user 持有的全部关系状态。
func (r *kvConnectionRepository) GetIncoming(ctx context.Context, user string) (map[string]model.ConnectionState, error) {
	return r.readStates(ctx, incomingKey(user))
}

func (r *kvConnectionRepository) readStates(ctx context.Context, key string) (map[string]model.ConnectionState, error) {
	res, err := r.store.Command(ctx, kv.HGetAll(key))
	if err != nil {
		return nil, fmt.Errorf("failed to read connection hash: %w", err)
	}
	raw, _ := res.(map[string]string)
	states := make(map[string]model.ConnectionState, len(raw))
	for other, data := range raw {
		var st model.ConnectionState
		if err := json.Unmarshal([]byte(data), &st); err != nil {
			log.Warnw("忽略无法解析的关系记录", "key", key, "field", other)
			continue
		}
		states[other] = st
	}
	return states, nil
}

// WriteMirror 把同一份状态原子地写入 actor 的 outgoing 和 target 的 incoming。
func (r *kvConnectionRepository) WriteMirror(ctx context.Context, actor, target string, state model.ConnectionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal connection state: %w", err)
	}
	_, err = r.store.Pipeline(ctx, []kv.Command{
		kv.HSet(outgoingKey(actor), target, string(data)),
		kv.HSet(incomingKey(target), actor, string(data)),
	})
	if err != nil {
		return fmt.Errorf("failed to write connection mirror: %w", err)
	}
	return nil
}

// DeleteMirror 原子地删除两侧镜像。status 为 none 的状态用缺失表示，不落库。
func (r *kvConnectionRepository) DeleteMirror(ctx context.Context, actor, target string) error {
	_, err := r.store.Pipeline(ctx, []kv.Command{
		kv.HDel(outgoingKey(actor), target),
		kv.HDel(incomingKey(target), actor),
	})
	if err != nil {
		return fmt.Errorf("failed to delete connection mirror: %w", err)
	}
	return nil
}
