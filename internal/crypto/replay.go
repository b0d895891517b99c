// =============================================================================
// 文件: internal/crypto/replay.go
// 描述: 防重放保护 - 双时间片布隆过滤器 + 精确表排除误报
// =============================================================================
package crypto

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	replayExpectedItems = 65536
	replayFalsePositive = 0.0001
)

// ReplayGuard 防重放保护器
// 两个时间片轮换: 当前片接收新 nonce，上一片只读。
// 片长等于密钥窗口，更老的 nonce 已被时间戳校验拦下，无需记录
type ReplayGuard struct {
	sliceDuration time.Duration

	mu        sync.Mutex
	current   *replaySlice
	previous  *replaySlice
	rotatedAt time.Time

	stats ReplayStats
}

// ReplayStats 统计信息
type ReplayStats struct {
	TotalChecks   uint64
	ReplayBlocked uint64
}

type replaySlice struct {
	filter *bloom.BloomFilter
	exact  map[string]struct{}
}

func newReplaySlice() *replaySlice {
	return &replaySlice{
		filter: bloom.NewWithEstimates(replayExpectedItems, replayFalsePositive),
		exact:  make(map[string]struct{}),
	}
}

// contains 布隆命中后查精确表，排除误报
func (s *replaySlice) contains(nonce []byte) bool {
	if !s.filter.Test(nonce) {
		return false
	}
	_, ok := s.exact[string(nonce)]
	return ok
}

func (s *replaySlice) add(nonce []byte) {
	s.filter.Add(nonce)
	s.exact[string(nonce)] = struct{}{}
}

// NewReplayGuard 创建防重放保护器
func NewReplayGuard(sliceDuration time.Duration) *ReplayGuard {
	if sliceDuration <= 0 {
		sliceDuration = 30 * time.Second
	}
	return &ReplayGuard{
		sliceDuration: sliceDuration,
		current:       newReplaySlice(),
		previous:      newReplaySlice(),
		rotatedAt:     time.Now(),
	}
}

// CheckAndMark 检查并标记 nonce
// 返回 true 表示是新 nonce，false 表示重放
func (rg *ReplayGuard) CheckAndMark(nonce []byte) bool {
	if len(nonce) < 8 {
		return false
	}

	atomic.AddUint64(&rg.stats.TotalChecks, 1)

	rg.mu.Lock()
	defer rg.mu.Unlock()

	rg.maybeRotate()

	if rg.current.contains(nonce) || rg.previous.contains(nonce) {
		atomic.AddUint64(&rg.stats.ReplayBlocked, 1)
		return false
	}

	rg.current.add(nonce)
	return true
}

// CheckOnly 仅检查不标记 (解密前的预检)
func (rg *ReplayGuard) CheckOnly(nonce []byte) bool {
	if len(nonce) < 8 {
		return false
	}

	atomic.AddUint64(&rg.stats.TotalChecks, 1)

	rg.mu.Lock()
	defer rg.mu.Unlock()

	rg.maybeRotate()

	if rg.current.contains(nonce) || rg.previous.contains(nonce) {
		atomic.AddUint64(&rg.stats.ReplayBlocked, 1)
		return false
	}
	return true
}

// Mark 仅标记 (解密成功后调用)
func (rg *ReplayGuard) Mark(nonce []byte) {
	if len(nonce) < 8 {
		return
	}

	rg.mu.Lock()
	defer rg.mu.Unlock()

	rg.maybeRotate()
	rg.current.add(nonce)
}

// maybeRotate 片过期则轮换，调用方持锁
func (rg *ReplayGuard) maybeRotate() {
	now := time.Now()
	if now.Sub(rg.rotatedAt) < rg.sliceDuration {
		return
	}
	rg.previous = rg.current
	rg.current = newReplaySlice()
	rg.rotatedAt = now
}

// Stats 返回统计信息
func (rg *ReplayGuard) Stats() ReplayStats {
	return ReplayStats{
		TotalChecks:   atomic.LoadUint64(&rg.stats.TotalChecks),
		ReplayBlocked: atomic.LoadUint64(&rg.stats.ReplayBlocked),
	}
}
