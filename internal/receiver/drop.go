// =============================================================================
// 文件: internal/receiver/drop.go
// 描述: 丢弃策略 - 模拟不可靠的接收端
// =============================================================================
package receiver

import (
	"math/rand"
	"sync"
)

// DropDecider 丢弃决策
// 返回 true 表示本次收到的消息被静默丢弃 (不投递、不确认)
type DropDecider interface {
	ShouldDrop(id int32) bool
}

// DropFunc 函数适配器
type DropFunc func(id int32) bool

func (f DropFunc) ShouldDrop(id int32) bool { return f(id) }

// NeverDrop 全部投递
func NeverDrop() DropDecider {
	return DropFunc(func(int32) bool { return false })
}

// AlwaysDrop 全部丢弃
func AlwaysDrop() DropDecider {
	return DropFunc(func(int32) bool { return true })
}

// RandomDropper 按概率丢弃
// 种子可注入，同一种子下决策序列可复现
type RandomDropper struct {
	probability float64
	rng         *rand.Rand
	mu          sync.Mutex
}

// NewRandomDropper 创建随机丢弃器
// probability 取值 [0, 1]，越界值被截断
func NewRandomDropper(probability float64, seed int64) *RandomDropper {
	if probability < 0 {
		probability = 0
	}
	if probability > 1 {
		probability = 1
	}
	return &RandomDropper{
		probability: probability,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// ShouldDrop 掷一次骰子
func (d *RandomDropper) ShouldDrop(int32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rng.Float64() < d.probability
}
