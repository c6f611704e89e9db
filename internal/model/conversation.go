package model

import "time"

// Message 代表消息日志中的一条消息，追加后不可变。
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// StreakState 记录一对用户之间的连续互动状态。
// 不变量：Best >= Length；窗口超时后 Length 在读取时清零（惰性过期）。
type StreakState struct {
	Length         int        `json:"length"`
	Best           int        `json:"best"`
	ActiveSince    *time.Time `json:"activeSince,omitempty"`
	LastExchangeAt *time.Time `json:"lastExchangeAt,omitempty"`
	Awaiting       string     `json:"awaiting,omitempty"` // 等待回复的一方
	LastMessageAt  *time.Time `json:"lastMessageAt,omitempty"`
}

// ConversationMeta 是每个会话的元数据记录，与消息日志一起维护。
type ConversationMeta struct {
	Participants  []string             `json:"participants"`
	LastMessage   *Message             `json:"lastMessage,omitempty"`
	UpdatedAt     time.Time            `json:"updatedAt"`
	Unread        map[string]int       `json:"unread"`
	ReadAt        map[string]time.Time `json:"readAt"`
	TotalMessages int                  `json:"totalMessages"`
	Streak        StreakState          `json:"streak"`
}

// ConversationPage 是一次向后分页拉取的结果。
type ConversationPage struct {
	Messages       []Message  `json:"messages"`
	HasMore        bool       `json:"hasMore"`
	PreviousCursor *time.Time `json:"previousCursor,omitempty"`
	Total          int        `json:"total"`
}

// ConversationSummary 是会话列表（收件箱）中的一项。
type ConversationSummary struct {
	Peer       string            `json:"peer"`
	LastActive time.Time         `json:"lastActive"`
	Meta       *ConversationMeta `json:"meta,omitempty"`
}

// UserSettings 是用户在 kv 层的隐私设置。
type UserSettings struct {
	ReadReceipts bool `json:"readReceipts"`
}

// DefaultSettings 返回缺省的隐私设置（已读回执开启）。
func DefaultSettings() UserSettings {
	return UserSettings{ReadReceipts: true}
}
