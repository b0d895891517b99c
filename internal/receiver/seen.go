// =============================================================================
// 文件: internal/receiver/seen.go
// 描述: 已投递集合 - 布隆过滤器快速路径 + 精确表兜底
// =============================================================================
package receiver

import (
	"encoding/binary"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	seenExpectedItems = 4096
	seenFalsePositive = 0.001
)

// seenSet 去重集合
// 布隆过滤器未命中即确定是新消息; 命中时再查精确表排除误报，
// 保证"重传到达但首发其实已投递"的消息不会被投递第二次
type seenSet struct {
	filter *bloom.BloomFilter
	exact  map[int32]struct{}
	mu     sync.Mutex
}

func newSeenSet(expected uint) *seenSet {
	if expected == 0 {
		expected = seenExpectedItems
	}
	return &seenSet{
		filter: bloom.NewWithEstimates(expected, seenFalsePositive),
		exact:  make(map[int32]struct{}, expected),
	}
}

// CheckAndMark 返回 true 表示首次见到，并标记
func (s *seenSet) CheckAndMark(id int32) bool {
	key := seenKey(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filter.Test(key) {
		if _, dup := s.exact[id]; dup {
			return false
		}
	}

	s.filter.Add(key)
	s.exact[id] = struct{}{}
	return true
}

// Contains 仅查询不标记
func (s *seenSet) Contains(id int32) bool {
	key := seenKey(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.filter.Test(key) {
		return false
	}
	_, ok := s.exact[id]
	return ok
}

// Len 已标记数量
func (s *seenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.exact)
}

func seenKey(id int32) []byte {
	var key [4]byte
	binary.BigEndian.PutUint32(key[:], uint32(id))
	return key[:]
}
