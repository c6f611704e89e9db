package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vibin-go/internal/kv"
	"vibin-go/internal/model"
	"vibin-go/internal/repository"
)

type conversationFixture struct {
	svc      ConversationService
	settings repository.SettingsRepository
	repo     repository.ConversationRepository
	clock    *time.Time
}

func newConversationFixture(t *testing.T) *conversationFixture {
	t.Helper()
	store := kv.NewFailoverStore(nil, kv.NewMemoryStore(), nil)
	repo := repository.NewConversationRepository(store)
	settings := repository.NewSettingsRepository(store)

	current := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	svc := NewConversationService(repo, settings, 50)
	svc.(*conversationService).now = func() time.Time { return current }

	return &conversationFixture{svc: svc, settings: settings, repo: repo, clock: &current}
}

func (f *conversationFixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func (f *conversationFixture) send(t *testing.T, from, to, text string) *model.Message {
	t.Helper()
	msg, err := f.svc.AppendMessage(context.Background(), from, to, text)
	require.NoError(t, err)
	return msg
}

func TestConversationIDIsSymmetric(t *testing.T) {
	assert.Equal(t, ConversationID("Bob", "ada"), ConversationID("ADA", "bob"))
	assert.Equal(t, "ada:bob", ConversationID("bob", "Ada "))
}

func TestAppendMessageRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	f := newConversationFixture(t)

	_, err := f.svc.AppendMessage(ctx, "", "bob", "hi")
	assert.ErrorIs(t, err, ErrInvalidUsername)

	_, err = f.svc.AppendMessage(ctx, "ada", "Ada", "hi")
	assert.ErrorIs(t, err, ErrSameUser)

	_, err = f.svc.AppendMessage(ctx, "ada", "bob", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestRoundTripAscendingOrder(t *testing.T) {
	ctx := context.Background()
	f := newConversationFixture(t)

	for i := 0; i < 3; i++ {
		f.send(t, "ada", "bob", "hello")
		f.advance(time.Minute)
	}

	page, err := f.svc.FetchMessages(ctx, "ada", "bob", nil, 3)
	require.NoError(t, err)
	require.Len(t, page.Messages, 3)
	assert.False(t, page.HasMore)
	assert.Equal(t, 3, page.Total)
	assert.True(t, page.Messages[0].CreatedAt.Before(page.Messages[1].CreatedAt))
	assert.True(t, page.Messages[1].CreatedAt.Before(page.Messages[2].CreatedAt))
}

func TestBackwardPagination(t *testing.T) {
	ctx := context.Background()
	f := newConversationFixture(t)

	m1 := f.send(t, "ada", "bob", "first")
	f.advance(time.Minute)
	m2 := f.send(t, "bob", "ada", "second")
	f.advance(time.Minute)
	m3 := f.send(t, "ada", "bob", "third")

	// 第一页：最新两条
	page, err := f.svc.FetchMessages(ctx, "ada", "bob", nil, 2)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, m2.ID, page.Messages[0].ID)
	assert.Equal(t, m3.ID, page.Messages[1].ID)
	assert.True(t, page.HasMore)
	require.NotNil(t, page.PreviousCursor)
	assert.True(t, page.PreviousCursor.Equal(m2.CreatedAt))

	// 第二页：严格早于游标的部分
	page, err = f.svc.FetchMessages(ctx, "ada", "bob", page.PreviousCursor, 2)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, m1.ID, page.Messages[0].ID)
	assert.False(t, page.HasMore)
}

func TestUnreadBookkeeping(t *testing.T) {
	ctx := context.Background()
	f := newConversationFixture(t)

	f.send(t, "ada", "bob", "hi")
	f.advance(time.Minute)
	f.send(t, "ada", "bob", "you there?")

	meta, err := f.svc.GetMeta(ctx, "ada", "bob")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, 2, meta.TotalMessages)
	assert.Equal(t, 0, meta.Unread["ada"])
	assert.Equal(t, 2, meta.Unread["bob"])
	// 发送即视为已读到当前
	assert.False(t, meta.ReadAt["ada"].IsZero())

	// bob 回复：自己的未读清零，ada 的未读 +1
	f.advance(time.Minute)
	f.send(t, "bob", "ada", "yes")

	meta, err = f.svc.GetMeta(ctx, "ada", "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, meta.Unread["bob"])
	assert.Equal(t, 1, meta.Unread["ada"])
	assert.Equal(t, 3, meta.TotalMessages)
}

func TestMarkRead(t *testing.T) {
	ctx := context.Background()
	f := newConversationFixture(t)

	f.send(t, "ada", "bob", "hi")
	f.advance(time.Hour)

	require.NoError(t, f.svc.MarkRead(ctx, "bob", "ada"))

	meta, err := f.svc.GetMeta(ctx, "bob", "ada")
	require.NoError(t, err)
	assert.Equal(t, 0, meta.Unread["bob"])
	assert.True(t, meta.ReadAt["bob"].Equal(*f.clock))

	// 不存在的会话标记已读是 no-op
	assert.NoError(t, f.svc.MarkRead(ctx, "carol", "dan"))
}

func TestReadReceiptPrivacyFiltering(t *testing.T) {
	ctx := context.Background()
	f := newConversationFixture(t)

	f.send(t, "ada", "bob", "hi")
	f.advance(time.Minute)
	require.NoError(t, f.svc.MarkRead(ctx, "bob", "ada"))

	// 默认开启已读回执：ada 能看到 bob 的已读时间
	meta, err := f.svc.GetMeta(ctx, "ada", "bob")
	require.NoError(t, err)
	assert.Contains(t, meta.ReadAt, "bob")

	// bob 关闭已读回执后立即对 ada 隐藏
	require.NoError(t, f.settings.Set(ctx, "bob", model.UserSettings{ReadReceipts: false}))
	meta, err = f.svc.GetMeta(ctx, "ada", "bob")
	require.NoError(t, err)
	assert.NotContains(t, meta.ReadAt, "bob")
	// 自己的已读时间不受对方设置影响
	assert.Contains(t, meta.ReadAt, "ada")

	// bob 自己仍能看到自己的已读时间
	meta, err = f.svc.GetMeta(ctx, "bob", "ada")
	require.NoError(t, err)
	assert.Contains(t, meta.ReadAt, "bob")

	// 底层存储的时间戳并未被删除，重新打开开关立即恢复可见
	raw, err := f.repo.GetMeta(ctx, ConversationID("ada", "bob"))
	require.NoError(t, err)
	assert.Contains(t, raw.ReadAt, "bob")
	require.NoError(t, f.settings.Set(ctx, "bob", model.UserSettings{ReadReceipts: true}))
	meta, err = f.svc.GetMeta(ctx, "ada", "bob")
	require.NoError(t, err)
	assert.Contains(t, meta.ReadAt, "bob")
}

func TestStreakGrowsOverAlternatingExchanges(t *testing.T) {
	ctx := context.Background()
	f := newConversationFixture(t)

	f.send(t, "ada", "bob", "hi")
	f.advance(time.Hour)
	f.send(t, "bob", "ada", "hey")
	f.advance(time.Hour)
	f.send(t, "ada", "bob", "how are you")

	meta, err := f.svc.GetMeta(ctx, "ada", "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, meta.Streak.Length)
	assert.Equal(t, 2, meta.Streak.Best)
	assert.Equal(t, "bob", meta.Streak.Awaiting)
}

func TestStreakResetsAfterLongGap(t *testing.T) {
	ctx := context.Background()
	f := newConversationFixture(t)

	f.send(t, "ada", "bob", "hi")
	f.advance(time.Hour)
	f.send(t, "bob", "ada", "hey")

	// 37 小时后的回复：交替但超窗，追加时持久化重置
	f.advance(37 * time.Hour)
	f.send(t, "ada", "bob", "long time")

	raw, err := f.repo.GetMeta(ctx, ConversationID("ada", "bob"))
	require.NoError(t, err)
	assert.Equal(t, 0, raw.Streak.Length)
	assert.Equal(t, 1, raw.Streak.Best)
	assert.Nil(t, raw.Streak.LastExchangeAt)
}

func TestStreakLazyExpiryOnRead(t *testing.T) {
	ctx := context.Background()
	f := newConversationFixture(t)

	f.send(t, "ada", "bob", "hi")
	f.advance(time.Hour)
	f.send(t, "bob", "ada", "hey")

	// 窗口内读取：连击可见
	meta, err := f.svc.GetMeta(ctx, "ada", "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, meta.Streak.Length)

	// 超窗后读取：返回给调用方的连击清零，但不回写存储
	f.advance(40 * time.Hour)
	meta, err = f.svc.GetMeta(ctx, "ada", "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, meta.Streak.Length)
	assert.Empty(t, meta.Streak.Awaiting)

	raw, err := f.repo.GetMeta(ctx, ConversationID("ada", "bob"))
	require.NoError(t, err)
	assert.Equal(t, 1, raw.Streak.Length, "惰性过期不落库")
}

// trackingConversationRepo 检测同一会话上读取元数据与持久化之间
// 是否有并发的读取-重算序列穿插进来。
type trackingConversationRepo struct {
	repository.ConversationRepository
	inFlight    int32
	interleaved int32
}

func (r *trackingConversationRepo) GetMeta(ctx context.Context, convID string) (*model.ConversationMeta, error) {
	if atomic.AddInt32(&r.inFlight, 1) > 1 {
		atomic.StoreInt32(&r.interleaved, 1)
	}
	return r.ConversationRepository.GetMeta(ctx, convID)
}

func (r *trackingConversationRepo) AppendMessage(ctx context.Context, convID string, msg model.Message, meta *model.ConversationMeta, sender, recipient string) error {
	err := r.ConversationRepository.AppendMessage(ctx, convID, msg, meta, sender, recipient)
	atomic.AddInt32(&r.inFlight, -1)
	return err
}

func TestConcurrentAppendsDoNotLoseUpdates(t *testing.T) {
	ctx := context.Background()
	store := kv.NewFailoverStore(nil, kv.NewMemoryStore(), nil)
	repo := &trackingConversationRepo{
		ConversationRepository: repository.NewConversationRepository(store),
	}
	svc := NewConversationService(repo, repository.NewSettingsRepository(store), 50)

	const appends = 8
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < appends; i++ {
		from, to := "ada", "bob"
		if i%2 == 1 {
			from, to = "bob", "ada"
		}
		wg.Add(1)
		go func(from, to string) {
			defer wg.Done()
			<-start
			_, err := svc.AppendMessage(ctx, from, to, "hi")
			assert.NoError(t, err)
		}(from, to)
	}
	close(start)
	wg.Wait()

	// 任何一次追加都不允许被覆盖：计数与日志长度必须一致
	meta, err := repo.GetMeta(ctx, ConversationID("ada", "bob"))
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, appends, meta.TotalMessages)

	messages, err := repo.GetMessages(ctx, ConversationID("ada", "bob"))
	require.NoError(t, err)
	assert.Len(t, messages, appends)

	// 读取-重算-持久化序列在同一会话上是串行的，从未穿插
	assert.Equal(t, int32(0), atomic.LoadInt32(&repo.interleaved))
}

func TestConcurrentMarkReadAndAppendKeepCountsConsistent(t *testing.T) {
	ctx := context.Background()
	f := newConversationFixture(t)

	f.send(t, "ada", "bob", "hi")

	var wg sync.WaitGroup
	start := make(chan struct{})
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		_, err := f.svc.AppendMessage(ctx, "ada", "bob", "again")
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		<-start
		assert.NoError(t, f.svc.MarkRead(ctx, "bob", "ada"))
	}()
	close(start)
	wg.Wait()

	meta, err := f.repo.GetMeta(ctx, ConversationID("ada", "bob"))
	require.NoError(t, err)
	require.NotNil(t, meta)
	// 两种合法交错：先追加后已读 → 0；先已读后追加 → 1。
	// 丢失更新会同时出现计数 2（已读被覆盖）或总数 1（追加被覆盖）。
	assert.Equal(t, 2, meta.TotalMessages)
	assert.LessOrEqual(t, meta.Unread["bob"], 1)
}

func TestListConversationsOrderedByActivity(t *testing.T) {
	ctx := context.Background()
	f := newConversationFixture(t)

	f.send(t, "ada", "bob", "hi bob")
	f.advance(time.Minute)
	f.send(t, "ada", "carol", "hi carol")
	f.advance(time.Minute)
	f.send(t, "bob", "ada", "hi ada")

	summaries, err := f.svc.ListConversations(ctx, "ada")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	// bob 的会话最近有更新，排在最前
	assert.Equal(t, "bob", summaries[0].Peer)
	assert.Equal(t, "carol", summaries[1].Peer)
	require.NotNil(t, summaries[0].Meta)
	assert.Equal(t, 2, summaries[0].Meta.TotalMessages)
}
