package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"vibin-go/internal/kv"
	"vibin-go/internal/model"
	"vibin-go/pkg/log"
)

// InboxEntry 是用户收件箱有序集合中的一项。
type InboxEntry struct {
	Peer       string
	LastActive time.Time
}

// ConversationRepository 定义了会话日志与元数据的存取接口。
// 消息日志是 append-only 列表，元数据是整份覆盖的 JSON 字符串。
type ConversationRepository interface {
	GetMeta(ctx context.Context, convID string) (*model.ConversationMeta, error)
	SaveMeta(ctx context.Context, convID string, meta *model.ConversationMeta) error
	GetMessages(ctx context.Context, convID string) ([]model.Message, error)
	// AppendMessage 在一条管道内完成：追加消息、覆盖元数据、
	// 刷新双方收件箱的活跃时间。
	AppendMessage(ctx context.Context, convID string, msg model.Message, meta *model.ConversationMeta, sender, recipient string) error
	ListInbox(ctx context.Context, user string) ([]InboxEntry, error)
}

type kvConversationRepository struct {
	store *kv.FailoverStore
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(store *kv.FailoverStore) ConversationRepository {
	return &kvConversationRepository{store: store}
}

func messagesKey(convID string) string { return fmt.Sprintf("conv:%s:messages", convID) }
func metaKey(convID string) string     { return fmt.Sprintf("conv:%s:meta", convID) }
func inboxKey(user string) string      { return fmt.Sprintf("inbox:%s", user) }

// GetMeta 读取会话元数据。记录缺失或无法解析时返回 nil，不报错。
func (r *kvConversationRepository) GetMeta(ctx context.Context, convID string) (*model.ConversationMeta, error) {
	res, err := r.store.Command(ctx, kv.Get(metaKey(convID)))
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation meta: %w", err)
	}
	data, ok := res.(string)
	if !ok || data == "" {
		return nil, nil
	}
	var meta model.ConversationMeta
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		log.Warnw("忽略无法解析的会话元数据", "conversation", convID)
		return nil, nil
	}
	return &meta, nil
}

// SaveMeta 整份覆盖会话元数据。
func (r *kvConversationRepository) SaveMeta(ctx context.Context, convID string, meta *model.ConversationMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation meta: %w", err)
	}
	if _, err := r.store.Command(ctx, kv.Set(metaKey(convID), string(data), 0)); err != nil {
		return fmt.Errorf("failed to save conversation meta: %w", err)
	}
	return nil
}

// GetMessages 加载整个消息日志，跳过无法解析的条目。
func (r *kvConversationRepository) GetMessages(ctx context.Context, convID string) ([]model.Message, error) {
	res, err := r.store.Command(ctx, kv.LRange(messagesKey(convID), 0, -1))
	if err != nil {
		return nil, fmt.Errorf("failed to load message log: %w", err)
	}
	raw, _ := res.([]string)
	messages := make([]model.Message, 0, len(raw))
	for _, item := range raw {
		var msg model.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			log.Warnw("忽略无法解析的消息记录", "conversation", convID)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// AppendMessage 以单条管道持久化一次追加的全部效果。
func (r *kvConversationRepository) AppendMessage(ctx context.Context, convID string, msg model.Message, meta *model.ConversationMeta, sender, recipient string) error {
	msgData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation meta: %w", err)
	}

	score := float64(msg.CreatedAt.UnixMilli())
	_, err = r.store.Pipeline(ctx, []kv.Command{
		kv.RPush(messagesKey(convID), string(msgData)),
		kv.Set(metaKey(convID), string(metaData), 0),
		kv.ZAdd(inboxKey(sender), score, recipient),
		kv.ZAdd(inboxKey(recipient), score, sender),
	})
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// ListInbox 按最近活跃时间降序返回用户的会话对端列表。
func (r *kvConversationRepository) ListInbox(ctx context.Context, user string) ([]InboxEntry, error) {
	res, err := r.store.Command(ctx, kv.ZRevRange(inboxKey(user), 0, -1, true))
	if err != nil {
		return nil, fmt.Errorf("failed to list inbox: %w", err)
	}
	flat, _ := res.([]string)
	entries := make([]InboxEntry, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		score, err := strconv.ParseFloat(flat[i+1], 64)
		if err != nil {
			continue
		}
		entries = append(entries, InboxEntry{
			Peer:       flat[i],
			LastActive: time.UnixMilli(int64(score)),
		})
	}
	return entries, nil
}
