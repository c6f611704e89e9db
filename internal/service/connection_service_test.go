package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vibin-go/internal/kv"
	"vibin-go/internal/model"
	"vibin-go/internal/repository"
)

func newConnectionService(t *testing.T) ConnectionService {
	t.Helper()
	store := kv.NewFailoverStore(nil, kv.NewMemoryStore(), nil)
	svc := NewConnectionService(repository.NewConnectionRepository(store))
	svc.(*connectionService).now = func() time.Time {
		return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	}
	return svc
}

func TestSetConnectionMirrorsBothSides(t *testing.T) {
	ctx := context.Background()
	svc := newConnectionService(t)

	state, err := svc.SetConnection(ctx, "Ada", "Bob", model.ConnectionState{
		Status:    model.ConnectionWant,
		Anonymous: true,
		Alias:     " 神秘人 ",
	})
	require.NoError(t, err)
	assert.Equal(t, model.ConnectionWant, state.Status)
	assert.Equal(t, "神秘人", state.Alias)

	outgoing, err := svc.GetOutgoing(ctx, "ada")
	require.NoError(t, err)
	incoming, err := svc.GetIncoming(ctx, "bob")
	require.NoError(t, err)

	// 两侧镜像必须完全一致
	require.Contains(t, outgoing, "bob")
	require.Contains(t, incoming, "ada")
	assert.Equal(t, outgoing["bob"], incoming["ada"])
	assert.Equal(t, *state, outgoing["bob"])
}

func TestSetConnectionNoneDeletesBothSides(t *testing.T) {
	ctx := context.Background()
	svc := newConnectionService(t)

	_, err := svc.SetConnection(ctx, "ada", "bob", model.ConnectionState{Status: model.ConnectionKnow})
	require.NoError(t, err)

	_, err = svc.SetConnection(ctx, "ada", "bob", model.ConnectionState{Status: model.ConnectionNone})
	require.NoError(t, err)

	outgoing, err := svc.GetOutgoing(ctx, "ada")
	require.NoError(t, err)
	incoming, err := svc.GetIncoming(ctx, "bob")
	require.NoError(t, err)

	// none 用缺失表示，不存储占位记录
	assert.NotContains(t, outgoing, "bob")
	assert.NotContains(t, incoming, "ada")
}

func TestAliasClearedUnlessAnonymousWant(t *testing.T) {
	ctx := context.Background()
	svc := newConnectionService(t)

	t.Run("NonAnonymous", func(t *testing.T) {
		state, err := svc.SetConnection(ctx, "ada", "bob", model.ConnectionState{
			Status: model.ConnectionWant,
			Alias:  "fox",
		})
		require.NoError(t, err)
		assert.Empty(t, state.Alias)
	})

	t.Run("AnonymousButOnlyKnow", func(t *testing.T) {
		state, err := svc.SetConnection(ctx, "ada", "carol", model.ConnectionState{
			Status:    model.ConnectionKnow,
			Anonymous: true,
			Alias:     "fox",
		})
		require.NoError(t, err)
		assert.Empty(t, state.Alias)
	})

	t.Run("AnonymousBoth", func(t *testing.T) {
		state, err := svc.SetConnection(ctx, "ada", "dan", model.ConnectionState{
			Status:    model.ConnectionBoth,
			Anonymous: true,
			Alias:     "fox",
		})
		require.NoError(t, err)
		assert.Equal(t, "fox", state.Alias)
	})
}

func TestSetConnectionRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	svc := newConnectionService(t)

	_, err := svc.SetConnection(ctx, "  ", "bob", model.ConnectionState{Status: model.ConnectionKnow})
	assert.ErrorIs(t, err, ErrInvalidUsername)

	_, err = svc.SetConnection(ctx, "Ada", "ada ", model.ConnectionState{Status: model.ConnectionKnow})
	assert.ErrorIs(t, err, ErrSameUser)

	_, err = svc.SetConnection(ctx, "ada", "bob", model.ConnectionState{Status: "friend"})
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestApplyOutgoingMapReplacesWholeSet(t *testing.T) {
	ctx := context.Background()
	svc := newConnectionService(t)

	_, err := svc.SetConnection(ctx, "ada", "bob", model.ConnectionState{Status: model.ConnectionKnow})
	require.NoError(t, err)
	_, err = svc.SetConnection(ctx, "ada", "carol", model.ConnectionState{Status: model.ConnectionWant})
	require.NoError(t, err)

	// carol 不在期望集合里：必须被显式清除而不是遗留
	err = svc.ApplyOutgoingMap(ctx, "ada", map[string]model.ConnectionState{
		"bob": {Status: model.ConnectionBoth},
	})
	require.NoError(t, err)

	outgoing, err := svc.GetOutgoing(ctx, "ada")
	require.NoError(t, err)
	require.Len(t, outgoing, 1)
	assert.Equal(t, model.ConnectionBoth, outgoing["bob"].Status)

	// carol 的 incoming 侧也同步清除
	carolIncoming, err := svc.GetIncoming(ctx, "carol")
	require.NoError(t, err)
	assert.NotContains(t, carolIncoming, "ada")
}

func TestApplyIncomingMapReplacesWholeSet(t *testing.T) {
	ctx := context.Background()
	svc := newConnectionService(t)

	_, err := svc.SetConnection(ctx, "bob", "ada", model.ConnectionState{Status: model.ConnectionKnow})
	require.NoError(t, err)
	_, err = svc.SetConnection(ctx, "carol", "ada", model.ConnectionState{Status: model.ConnectionWant})
	require.NoError(t, err)

	err = svc.ApplyIncomingMap(ctx, "ada", map[string]model.ConnectionState{
		"carol": {Status: model.ConnectionBoth},
	})
	require.NoError(t, err)

	incoming, err := svc.GetIncoming(ctx, "ada")
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, model.ConnectionBoth, incoming["carol"].Status)

	// bob 的 outgoing 侧镜像同步删除
	bobOutgoing, err := svc.GetOutgoing(ctx, "bob")
	require.NoError(t, err)
	assert.NotContains(t, bobOutgoing, "ada")
}
