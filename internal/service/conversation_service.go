package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"vibin-go/internal/model"
	"vibin-go/internal/repository"

	"github.com/google/uuid"
)

// ErrEmptyMessage 表示消息正文为空。
var ErrEmptyMessage = errors.New("message text must not be empty")

// defaultPageSize 是未指定 limit 时的分页大小。
const defaultPageSize = 50

// ConversationID 把一对用户名映射为规范的会话标识：
// 归一化后排序再拼接，与消息方向无关。
func ConversationID(a, b string) string {
	x, y := normalizeUsername(a), normalizeUsername(b)
	if x > y {
		x, y = y, x
	}
	return x + ":" + y
}

// ConversationService 定义了会话引擎的业务接口。
type ConversationService interface {
	AppendMessage(ctx context.Context, sender, recipient, text string) (*model.Message, error)
	FetchMessages(ctx context.Context, viewer, other string, cursor *time.Time, limit int) (*model.ConversationPage, error)
	MarkRead(ctx context.Context, viewer, other string) error
	GetMeta(ctx context.Context, viewer, other string) (*model.ConversationMeta, error)
	ListConversations(ctx context.Context, user string) ([]model.ConversationSummary, error)
}

type conversationService struct {
	repo     repository.ConversationRepository
	settings repository.SettingsRepository
	pageSize int

	// 按会话串行化读取-重算-持久化序列，见 lockConversation
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(repo repository.ConversationRepository, settings repository.SettingsRepository, pageSize int) ConversationService {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &conversationService{
		repo:     repo,
		settings: settings,
		pageSize: pageSize,
		locks:    make(map[string]*sync.Mutex),
		now:      time.Now,
	}
}

// lockConversation 获取会话级别的互斥锁并锁定它。
// 元数据走的是读取-重算-整份覆盖的路径，同一会话上并发的追加或
// 已读标记若不互斥，后写者会基于陈旧元数据覆盖先写者的计数与连击。
// 调用方负责 Unlock。
func (s *conversationService) lockConversation(convID string) *sync.Mutex {
	s.mu.Lock()
	l, ok := s.locks[convID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[convID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l
}

// checkPair 归一化并校验一对用户名。
func checkPair(a, b string) (string, string, error) {
	x, y := normalizeUsername(a), normalizeUsername(b)
	if x == "" || y == "" {
		return "", "", ErrInvalidUsername
	}
	if x == y {
		return "", "", ErrSameUser
	}
	return x, y, nil
}

// AppendMessage 追加一条消息并在同一条管道内更新元数据：
// 总数 +1、发送方未读清零、接收方未读 +1、发送方已读时间戳刷新
// （发送即意味着已读到当前），并推进连击状态机。
func (s *conversationService) AppendMessage(ctx context.Context, sender, recipient, text string) (*model.Message, error) {
	from, to, err := checkPair(sender, recipient)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	convID := ConversationID(from, to)
	lock := s.lockConversation(convID)
	defer lock.Unlock()

	meta, err := s.repo.GetMeta(ctx, convID)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		meta = &model.ConversationMeta{Participants: []string{from, to}}
		if from > to {
			meta.Participants = []string{to, from}
		}
	}
	if meta.Unread == nil {
		meta.Unread = make(map[string]int)
	}
	if meta.ReadAt == nil {
		meta.ReadAt = make(map[string]time.Time)
	}

	now := s.now()
	msg := model.Message{
		ID:        uuid.NewString(),
		Sender:    from,
		Text:      text,
		CreatedAt: now,
	}

	prev := meta.LastMessage
	meta.Streak = advanceStreak(meta.Streak, prev, from, to, now)
	meta.TotalMessages++
	meta.Unread[from] = 0
	meta.Unread[to]++
	meta.ReadAt[from] = now
	meta.LastMessage = &msg
	meta.UpdatedAt = now

	if err := s.repo.AppendMessage(ctx, convID, msg, meta, from, to); err != nil {
		return nil, err
	}
	return &msg, nil
}

// FetchMessages 向后分页拉取消息：加载全量日志、按时间防御性排序、
// 过滤出严格早于 cursor 的部分，再取其中最新的 limit 条。
func (s *conversationService) FetchMessages(ctx context.Context, viewer, other string, cursor *time.Time, limit int) (*model.ConversationPage, error) {
	from, to, err := checkPair(viewer, other)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.pageSize
	}

	messages, err := s.repo.GetMessages(ctx, ConversationID(from, to))
	if err != nil {
		return nil, err
	}

	// 日志本应天然有序，这里仍按 createdAt 排序以抵御历史脏数据
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	total := len(messages)
	filtered := messages
	if cursor != nil {
		filtered = filtered[:0:0]
		for _, m := range messages {
			if m.CreatedAt.Before(*cursor) {
				filtered = append(filtered, m)
			}
		}
	}

	hasMore := len(filtered) > limit
	page := filtered
	if hasMore {
		page = filtered[len(filtered)-limit:]
	}

	result := &model.ConversationPage{
		Messages: page,
		HasMore:  hasMore,
		Total:    total,
	}
	if len(page) > 0 {
		oldest := page[0].CreatedAt
		result.PreviousCursor = &oldest
	}
	return result, nil
}

// MarkRead 清零 viewer 的未读计数并把其已读时间戳刷新到当前时间。
func (s *conversationService) MarkRead(ctx context.Context, viewer, other string) error {
	from, to, err := checkPair(viewer, other)
	if err != nil {
		return err
	}

	convID := ConversationID(from, to)
	lock := s.lockConversation(convID)
	defer lock.Unlock()

	meta, err := s.repo.GetMeta(ctx, convID)
	if err != nil {
		return err
	}
	if meta == nil {
		// 会话尚不存在，无可标记
		return nil
	}
	if meta.Unread == nil {
		meta.Unread = make(map[string]int)
	}
	if meta.ReadAt == nil {
		meta.ReadAt = make(map[string]time.Time)
	}
	meta.Unread[from] = 0
	meta.ReadAt[from] = s.now()
	return s.repo.SaveMeta(ctx, convID, meta)
}

// GetMeta 返回 viewer 视角下的会话元数据：
// 连击做惰性过期（不回写），对端关闭已读回执时隐藏其已读时间戳。
// 过滤发生在读取侧，因此设置的切换对既有数据立即生效。
func (s *conversationService) GetMeta(ctx context.Context, viewer, other string) (*model.ConversationMeta, error) {
	from, to, err := checkPair(viewer, other)
	if err != nil {
		return nil, err
	}

	meta, err := s.repo.GetMeta(ctx, ConversationID(from, to))
	if err != nil || meta == nil {
		return meta, err
	}

	view := *meta
	view.Streak = expireStreak(view.Streak, s.now())

	view.ReadAt = make(map[string]time.Time, len(meta.ReadAt))
	for participant, at := range meta.ReadAt {
		if participant != from {
			settings, err := s.settings.Get(ctx, participant)
			if err != nil || !settings.ReadReceipts {
				continue
			}
		}
		view.ReadAt[participant] = at
	}
	return &view, nil
}

// ListConversations 按最近活跃降序返回用户的会话列表。
func (s *conversationService) ListConversations(ctx context.Context, user string) ([]model.ConversationSummary, error) {
	u := normalizeUsername(user)
	if u == "" {
		return nil, ErrInvalidUsername
	}

	entries, err := s.repo.ListInbox(ctx, u)
	if err != nil {
		return nil, err
	}

	summaries := make([]model.ConversationSummary, 0, len(entries))
	for _, entry := range entries {
		meta, err := s.GetMeta(ctx, u, entry.Peer)
		if err != nil {
			continue
		}
		summaries = append(summaries, model.ConversationSummary{
			Peer:       entry.Peer,
			LastActive: entry.LastActive,
			Meta:       meta,
		})
	}
	return summaries, nil
}
