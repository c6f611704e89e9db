// Package service 包含了应用的业务逻辑层。
package service

import (
	"time"

	"vibin-go/internal/model"
)

// StreakWindow 是连续互动的滑动时间窗口：
// 距上一条消息超过该时长，连击即告失效。
const StreakWindow = 36 * time.Hour

// advanceStreak 在追加一条消息时推进连击状态机。
// prev 是本次追加之前元数据中的最后一条消息，now 是新消息的时间戳。
// 只有发送方交替且间隔不超过窗口时连击才会增长。
func advanceStreak(st model.StreakState, prev *model.Message, sender, recipient string, now time.Time) model.StreakState {
	switch {
	case prev == nil || prev.CreatedAt.IsZero():
		// 没有上一条消息，或其时间戳无法解析：初始化
		st.Awaiting = recipient
		if st.ActiveSince == nil {
			st.ActiveSince = &now
		}

	case prev.Sender == sender:
		// 同一个人连发，不算交换；activeSince 缺失时回填为上一条消息的时间
		st.Awaiting = recipient
		if st.ActiveSince == nil {
			prevAt := prev.CreatedAt
			st.ActiveSince = &prevAt
		}

	case now.Sub(prev.CreatedAt) <= StreakWindow:
		// 发送方交替且在窗口内：连击 +1
		st.Length++
		if st.Length > st.Best {
			st.Best = st.Length
		}
		exchangedAt := now
		st.LastExchangeAt = &exchangedAt
		st.Awaiting = recipient

	default:
		// 发送方交替但超出窗口：重置
		st.Length = 0
		st.ActiveSince = &now
		st.LastExchangeAt = nil
		st.Awaiting = recipient
	}

	messagedAt := now
	st.LastMessageAt = &messagedAt
	return st
}

// expireStreak 是读取路径上的惰性过期：窗口已过则把连击清零后返回，
// 但不回写存储，下一次追加会持久化权威的重置结果。
func expireStreak(st model.StreakState, now time.Time) model.StreakState {
	if st.LastMessageAt == nil {
		return st
	}
	if now.Sub(*st.LastMessageAt) > StreakWindow {
		st.Length = 0
		st.ActiveSince = nil
		st.LastExchangeAt = nil
		st.Awaiting = ""
	}
	return st
}
