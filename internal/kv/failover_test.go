package kv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRemote 模拟一个远端后端：可以按计划失败，并统计被调用次数。
type fakeRemote struct {
	inner *MemoryStore
	fail  bool
	calls int
}

func (f *fakeRemote) Pipeline(ctx context.Context, cmds []Command) ([]interface{}, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("connection refused")
	}
	return f.inner.Pipeline(ctx, cmds)
}

// recordingObserver 记录每次被观察到的管道。
type recordingObserver struct {
	pipelines [][]Command
}

func (o *recordingObserver) ObservePipeline(cmds []Command) {
	o.pipelines = append(o.pipelines, cmds)
}

func TestFailoverOnRemoteError(t *testing.T) {
	ctx := context.Background()
	local, _ := newTestStore(time.Now())
	remote := &fakeRemote{inner: NewMemoryStore(), fail: true}
	store := NewFailoverStore(remote, local, nil)

	require.False(t, store.Degraded())

	// 远端失败：同一条管道被重放到内存后端，调用方不感知错误
	result, err := store.Command(ctx, Set("k", "v", 0))
	require.NoError(t, err)
	assert.Equal(t, "OK", result)
	assert.True(t, store.Degraded())
	assert.Equal(t, 1, remote.calls)

	// 写入落在内存后端且可读回
	v, err := store.Command(ctx, Get("k"))
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	// 降级是进程级终态：后续管道不再尝试远端
	_, err = store.Command(ctx, Set("k2", "v2", 0))
	require.NoError(t, err)
	assert.Equal(t, 1, remote.calls)
}

func TestFailoverPreservesEarlierLocalState(t *testing.T) {
	ctx := context.Background()
	local, _ := newTestStore(time.Now())
	remote := &fakeRemote{inner: NewMemoryStore()}
	store := NewFailoverStore(remote, local, nil)

	// 先在健康的远端上写入
	_, err := store.Command(ctx, Set("stable", "1", 0))
	require.NoError(t, err)

	// 提前在内存后端埋入状态（相当于此前某次降级写入）
	_, err = local.Pipeline(ctx, []Command{Set("earlier", "kept", 0)})
	require.NoError(t, err)

	// 远端开始失败，切换后早先的内存状态仍然完好
	remote.fail = true
	_, err = store.Command(ctx, Set("after", "2", 0))
	require.NoError(t, err)
	require.True(t, store.Degraded())

	v, err := store.Command(ctx, Get("earlier"))
	require.NoError(t, err)
	assert.Equal(t, "kept", v)
}

func TestNilRemoteStartsDegraded(t *testing.T) {
	local, _ := newTestStore(time.Now())
	store := NewFailoverStore(nil, local, nil)
	assert.True(t, store.Degraded())

	v, err := store.Command(context.Background(), Set("k", "v", 0))
	require.NoError(t, err)
	assert.Equal(t, "OK", v)
}

func TestObserverSeesEveryPipeline(t *testing.T) {
	ctx := context.Background()
	local, _ := newTestStore(time.Now())
	obs := &recordingObserver{}
	store := NewFailoverStore(nil, local, obs)

	_, err := store.Pipeline(ctx, []Command{Set("a", "1", 0), Get("a")})
	require.NoError(t, err)
	_, err = store.Command(ctx, Get("a"))
	require.NoError(t, err)

	// 只读管道同样会被观察到，是否产生事件由通知器决定
	require.Len(t, obs.pipelines, 2)
	assert.Len(t, obs.pipelines[0], 2)

	// 非法管道在执行前被拒绝，不会进入观察链路
	_, err = store.Pipeline(ctx, []Command{{Kind: KindGet, Key: ""}})
	require.Error(t, err)
	assert.Len(t, obs.pipelines, 2)
}
