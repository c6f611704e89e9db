package kv

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryStore 是命令词汇表的进程内实现。四类容器相互独立，
// 外加一张按键的过期表。整条管道在同一个临界区内执行，
// 其他请求不可能观察到半应用的写入。
// 进程重启后数据即丢失，调用方需要容忍这一点。
type MemoryStore struct {
	mu      sync.Mutex
	strings map[string]string
	hashes  map[string]map[string]string
	lists   map[string][]string
	zsets   map[string]map[string]float64
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore 创建一个空的内存后端。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strings: make(map[string]string),
		hashes:  make(map[string]map[string]string),
		lists:   make(map[string][]string),
		zsets:   make(map[string]map[string]float64),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// memoryHandler 处理单条命令，调用时必须已持有 s.mu。
type memoryHandler func(s *MemoryStore, c Command) (interface{}, error)

// 封闭的分发表：每个 Kind 必须恰好有一个处理函数。
var memoryHandlers = [kindCount]memoryHandler{
	KindSet:       (*MemoryStore).evalSet,
	KindGet:       (*MemoryStore).evalGet,
	KindDel:       (*MemoryStore).evalDel,
	KindHSet:      (*MemoryStore).evalHSet,
	KindHGetAll:   (*MemoryStore).evalHGetAll,
	KindHDel:      (*MemoryStore).evalHDel,
	KindLPush:     (*MemoryStore).evalLPush,
	KindRPush:     (*MemoryStore).evalRPush,
	KindLRange:    (*MemoryStore).evalLRange,
	KindZAdd:      (*MemoryStore).evalZAdd,
	KindZRevRange: (*MemoryStore).evalZRevRange,
}

// Pipeline 实现 Store 接口。
func (s *MemoryStore) Pipeline(_ context.Context, cmds []Command) ([]interface{}, error) {
	if err := validate(cmds); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]interface{}, len(cmds))
	for i, c := range cmds {
		v, err := memoryHandlers[c.Kind](s, c)
		if err != nil {
			return nil, err
		}
		results[i] = v
	}
	return results, nil
}

// evictIfExpired 是所有访问器入口处的惰性过期检查：
// 一次时间戳比较，过期则把该键从所有容器中移除。
func (s *MemoryStore) evictIfExpired(key string) {
	deadline, ok := s.expires[key]
	if !ok || s.now().Before(deadline) {
		return
	}
	delete(s.expires, key)
	delete(s.strings, key)
	delete(s.hashes, key)
	delete(s.lists, key)
	delete(s.zsets, key)
}

func (s *MemoryStore) evalSet(c Command) (interface{}, error) {
	s.evictIfExpired(c.Key)
	s.strings[c.Key] = c.Args[0]
	if c.TTL > 0 {
		s.expires[c.Key] = s.now().Add(c.TTL)
	} else {
		delete(s.expires, c.Key)
	}
	return "OK", nil
}

func (s *MemoryStore) evalGet(c Command) (interface{}, error) {
	s.evictIfExpired(c.Key)
	v, ok := s.strings[c.Key]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (s *MemoryStore) evalDel(c Command) (interface{}, error) {
	s.evictIfExpired(c.Key)
	var n int64
	if _, ok := s.strings[c.Key]; ok {
		delete(s.strings, c.Key)
		n++
	}
	if _, ok := s.hashes[c.Key]; ok {
		delete(s.hashes, c.Key)
		n++
	}
	if _, ok := s.lists[c.Key]; ok {
		delete(s.lists, c.Key)
		n++
	}
	if _, ok := s.zsets[c.Key]; ok {
		delete(s.zsets, c.Key)
		n++
	}
	delete(s.expires, c.Key)
	return n, nil
}

func (s *MemoryStore) evalHSet(c Command) (interface{}, error) {
	s.evictIfExpired(c.Key)
	h, ok := s.hashes[c.Key]
	if !ok {
		h = make(map[string]string)
		s.hashes[c.Key] = h
	}
	var added int64
	if _, exists := h[c.Args[0]]; !exists {
		added = 1
	}
	h[c.Args[0]] = c.Args[1]
	return added, nil
}

func (s *MemoryStore) evalHGetAll(c Command) (interface{}, error) {
	s.evictIfExpired(c.Key)
	out := make(map[string]string, len(s.hashes[c.Key]))
	for f, v := range s.hashes[c.Key] {
		out[f] = v
	}
	return out, nil
}

func (s *MemoryStore) evalHDel(c Command) (interface{}, error) {
	s.evictIfExpired(c.Key)
	h, ok := s.hashes[c.Key]
	if !ok {
		return int64(0), nil
	}
	var n int64
	if _, exists := h[c.Args[0]]; exists {
		delete(h, c.Args[0])
		n = 1
	}
	if len(h) == 0 {
		delete(s.hashes, c.Key)
	}
	return n, nil
}

func (s *MemoryStore) evalLPush(c Command) (interface{}, error) {
	s.evictIfExpired(c.Key)
	list := s.lists[c.Key]
	// 与 Redis 一致：多个值依次头插，最终顺序与入参相反
	for _, v := range c.Args {
		list = append([]string{v}, list...)
	}
	s.lists[c.Key] = list
	return int64(len(list)), nil
}

func (s *MemoryStore) evalRPush(c Command) (interface{}, error) {
	s.evictIfExpired(c.Key)
	list := append(s.lists[c.Key], c.Args...)
	s.lists[c.Key] = list
	return int64(len(list)), nil
}

func (s *MemoryStore) evalLRange(c Command) (interface{}, error) {
	s.evictIfExpired(c.Key)
	return sliceRange(s.lists[c.Key], c.Start, c.Stop), nil
}

func (s *MemoryStore) evalZAdd(c Command) (interface{}, error) {
	s.evictIfExpired(c.Key)
	z, ok := s.zsets[c.Key]
	if !ok {
		z = make(map[string]float64)
		s.zsets[c.Key] = z
	}
	var added int64
	if _, exists := z[c.Args[0]]; !exists {
		added = 1
	}
	z[c.Args[0]] = c.Score
	return added, nil
}

func (s *MemoryStore) evalZRevRange(c Command) (interface{}, error) {
	s.evictIfExpired(c.Key)
	z := s.zsets[c.Key]
	members := make([]string, 0, len(z))
	for m := range z {
		members = append(members, m)
	}
	// 分数降序；同分时按成员逆字典序，保证结果可复现
	sort.Slice(members, func(i, j int) bool {
		if z[members[i]] != z[members[j]] {
			return z[members[i]] > z[members[j]]
		}
		return members[i] > members[j]
	})
	page := sliceRange(members, c.Start, c.Stop)
	if !c.WithScores {
		return page, nil
	}
	out := make([]string, 0, len(page)*2)
	for _, m := range page {
		out = append(out, m, strconv.FormatFloat(z[m], 'f', -1, 64))
	}
	return out, nil
}

// sliceRange 实现 Redis 风格的区间语义：负索引从尾部偏移，
// 两端钳制到有效范围，倒置的区间返回空结果。
func sliceRange(items []string, start, stop int64) []string {
	n := int64(len(items))
	if n == 0 {
		return []string{}
	}
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop > n-1 {
		stop = n - 1
	}
	if start > stop || start >= n {
		return []string{}
	}
	out := make([]string, stop-start+1)
	copy(out, items[start:stop+1])
	return out
}
