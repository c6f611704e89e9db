package kv

import (
	"context"
	"sync/atomic"

	"vibin-go/pkg/log"
)

// Observer 在每条管道成功执行后收到其命令列表。
// 变更通知器实现此接口；观察动作不得阻塞调用方。
type Observer interface {
	ObservePipeline(cmds []Command)
}

// FailoverStore 优先走远端后端；远端一旦出错即永久降级到内存后端，
// 此后进程内所有管道都直接落在内存上。这是单向转换，不做自动恢复，
// 需要重试远端只能重启进程。
type FailoverStore struct {
	remote   Store
	local    *MemoryStore
	observer Observer
	degraded atomic.Bool
}

// NewFailoverStore 构建故障切换控制器。remote 为 nil 时从一开始就处于降级状态。
func NewFailoverStore(remote Store, local *MemoryStore, observer Observer) *FailoverStore {
	f := &FailoverStore{remote: remote, local: local, observer: observer}
	if remote == nil {
		f.degraded.Store(true)
	}
	return f
}

// Degraded 报告当前是否已降级到内存后端，供启动诊断使用。
func (f *FailoverStore) Degraded() bool {
	return f.degraded.Load()
}

// Pipeline 实现 Store 接口。
func (f *FailoverStore) Pipeline(ctx context.Context, cmds []Command) ([]interface{}, error) {
	if err := validate(cmds); err != nil {
		return nil, err
	}

	results, err := f.dispatch(ctx, cmds)
	if err != nil {
		return nil, err
	}
	if f.observer != nil {
		f.observer.ObservePipeline(cmds)
	}
	return results, nil
}

// Command 是单条命令的便捷入口。
func (f *FailoverStore) Command(ctx context.Context, c Command) (interface{}, error) {
	results, err := f.Pipeline(ctx, []Command{c})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

func (f *FailoverStore) dispatch(ctx context.Context, cmds []Command) ([]interface{}, error) {
	if f.degraded.Load() {
		return f.local.Pipeline(ctx, cmds)
	}

	results, err := f.remote.Pipeline(ctx, cmds)
	if err == nil {
		return results, nil
	}

	// 首个失败者负责记录降级事件，并发的失败是 no-op
	if f.degraded.CompareAndSwap(false, true) {
		log.Warnw("远端命令服务失败，已永久降级到内存后端", "error", err)
	}
	return f.local.Pipeline(ctx, cmds)
}
