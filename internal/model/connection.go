package model

import "time"

// ConnectionStatus 表示一个用户对另一个用户的单向关系状态。
type ConnectionStatus string

const (
	ConnectionNone ConnectionStatus = "none" // none 不落库，用删除记录表示
	ConnectionKnow ConnectionStatus = "know"
	ConnectionWant ConnectionStatus = "want"
	ConnectionBoth ConnectionStatus = "both"
)

// Valid 报告状态是否属于固定枚举。
func (s ConnectionStatus) Valid() bool {
	switch s {
	case ConnectionNone, ConnectionKnow, ConnectionWant, ConnectionBoth:
		return true
	}
	return false
}

// ConnectionState 是存储在 kv 层的关系记录。
// 同一份 JSON 会镜像写入 actor 的 outgoing 哈希和 target 的 incoming 哈希，
// 两侧必须始终一致。
type ConnectionState struct {
	Status    ConnectionStatus `json:"status"`
	Anonymous bool             `json:"anonymous"`
	Alias     string           `json:"alias,omitempty"` // 仅在匿名且状态为 want/both 时有意义
	UpdatedAt time.Time        `json:"updatedAt"`
}
