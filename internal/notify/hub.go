// Package notify 实现了变更通知的扇出：每条包含写命令的管道
// 产生一个带单调版本号的变更事件，广播给所有在线订阅者，
// 并保留最新一份快照供晚加入者追赶。
package notify

import (
	"sync"
	"time"

	"vibin-go/internal/kv"
	"vibin-go/pkg/log"
)

// subscriberBuffer 是每个订阅者的事件缓冲深度。
// 缓冲打满说明订阅者消费太慢，会被直接移除而不是反压写入方。
const subscriberBuffer = 16

// Mutation 描述一次写操作命中的键。
type Mutation struct {
	Command string `json:"command"`
	Key     string `json:"key"`
}

// Event 是一条管道产生的变更摘要。Version 全局严格递增。
type Event struct {
	Version   int64      `json:"version"`
	Timestamp time.Time  `json:"timestamp"`
	Mutations []Mutation `json:"mutations"`
}

// Subscriber 是一个活跃订阅的句柄。
type Subscriber struct {
	ch chan *Event
}

// Events 返回只读的事件通道。Hub 移除订阅者时会关闭它。
func (s *Subscriber) Events() <-chan *Event {
	return s.ch
}

// Hub 维护订阅者集合、版本计数器和最新快照。
type Hub struct {
	mu      sync.Mutex
	version int64
	latest  *Event
	subs    map[*Subscriber]struct{}
	now     func() time.Time
}

// NewHub 创建一个空的通知中心。
func NewHub() *Hub {
	return &Hub{
		subs: make(map[*Subscriber]struct{}),
		now:  time.Now,
	}
}

// Subscribe 注册一个新订阅者。如果已经有过变更（版本大于零），
// 订阅者会立刻收到最新快照，从而总能同步到当前状态。
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{ch: make(chan *Event, subscriberBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[s] = struct{}{}
	if h.latest != nil {
		s.ch <- h.latest
	}
	return s
}

// Unsubscribe 注销订阅者并关闭其通道。重复调用是幂等的。
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.ch)
}

// Latest 返回最新的变更快照，尚无任何变更时返回 nil。
func (h *Hub) Latest() *Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// Subscribers 返回当前活跃订阅数，供诊断使用。
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ObservePipeline 实现 kv.Observer。从命令列表中提取写操作、
// 按 (command, key) 去重；非空时递增版本号、更新快照并发布。
// 发布是 fire-and-forget：缓冲打满的订阅者被移除，绝不阻塞写入方。
func (h *Hub) ObservePipeline(cmds []kv.Command) {
	seen := make(map[Mutation]struct{}, len(cmds))
	mutations := make([]Mutation, 0, len(cmds))
	for _, c := range cmds {
		if !c.Kind.Mutating() || c.Key == "" {
			continue
		}
		m := Mutation{Command: c.Kind.String(), Key: c.Key}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		mutations = append(mutations, m)
	}
	if len(mutations) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.version++
	event := &Event{
		Version:   h.version,
		Timestamp: h.now(),
		Mutations: mutations,
	}
	h.latest = event

	for s := range h.subs {
		select {
		case s.ch <- event:
		default:
			// 消费过慢，丢弃该订阅者，其余订阅者不受影响
			delete(h.subs, s)
			close(s.ch)
			log.Warnw("订阅者消费过慢，已移除", "version", event.Version)
		}
	}
}
