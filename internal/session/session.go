// =============================================================================
// 文件: internal/session/session.go
// 描述: 会话状态 - 计数器、终止分类、恰好一次的终态判定
// =============================================================================
package session

import (
	"sync"
	"sync/atomic"

	"github.com/mrcgq/233/internal/transport"
)

// Outcome 会话终态
// 流式进行中为 OutcomeStreaming，结束后恰好进入三个终态之一
type Outcome int

const (
	OutcomeStreaming    Outcome = iota // 进行中 (非终态)
	OutcomeComplete                    // 正常完成
	OutcomeCancelled                   // 对端主动取消
	OutcomeDisconnected                // 网络断连
)

// String 返回终态名称
func (o Outcome) String() string {
	switch o {
	case OutcomeStreaming:
		return "streaming"
	case OutcomeComplete:
		return "complete"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Terminal 是否为终态
func (o Outcome) Terminal() bool {
	return o != OutcomeStreaming
}

// Classify 将传输错误归类到会话终态
// 尽力而为: 只有传输层确实暴露了显式中止信号才能区分取消与断连，
// 应用层通常只看到"写失败、对端消失"，此时按断连处理
func Classify(err error) Outcome {
	switch transport.KindOf(err) {
	case transport.KindEOF:
		return OutcomeComplete
	case transport.KindPeerAbort:
		return OutcomeCancelled
	default:
		return OutcomeDisconnected
	}
}

// =============================================================================
// State 会话状态
// =============================================================================

// State 单次流会话的状态
// 发送端独占持有; 所有计数器原子更新，终态判定加锁且恰好发生一次
type State struct {
	total int32

	// 计数器
	sent      int64
	acked     int64
	abandoned int64
	retries   int64

	// 终态
	mu        sync.Mutex
	outcome   Outcome
	finalized bool
}

// Summary 会话摘要
type Summary struct {
	Total     int32
	Sent      int64
	Acked     int64
	Abandoned int64
	Retries   int64
	Outcome   Outcome
}

// NewState 初始化会话状态
func NewState(total int32) *State {
	return &State{total: total, outcome: OutcomeStreaming}
}

// AddSent 记录一次首发
func (s *State) AddSent() { atomic.AddInt64(&s.sent, 1) }

// AddAcked 记录一次确认
func (s *State) AddAcked() { atomic.AddInt64(&s.acked, 1) }

// AddAbandoned 记录一次放弃 (与确认分开计数)
func (s *State) AddAbandoned() { atomic.AddInt64(&s.abandoned, 1) }

// AddRetry 记录一次重传
func (s *State) AddRetry() { atomic.AddInt64(&s.retries, 1) }

// Total 配置的消息总数
func (s *State) Total() int32 { return s.total }

// Sent 已首发数
func (s *State) Sent() int64 { return atomic.LoadInt64(&s.sent) }

// Acked 已确认数
func (s *State) Acked() int64 { return atomic.LoadInt64(&s.acked) }

// Abandoned 已放弃数
func (s *State) Abandoned() int64 { return atomic.LoadInt64(&s.abandoned) }

// Retries 累计重传数
func (s *State) Retries() int64 { return atomic.LoadInt64(&s.retries) }

// Finalize 进入终态
// 返回 true 表示本次调用完成了终态判定; 后续调用一律无效 (先到先得)
func (s *State) Finalize(outcome Outcome) bool {
	if !outcome.Terminal() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return false
	}
	s.finalized = true
	s.outcome = outcome
	return true
}

// Outcome 当前终态 (未终止时为 OutcomeStreaming)
func (s *State) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Finalized 是否已终止
func (s *State) Finalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}

// Summary 生成摘要
func (s *State) Summary() Summary {
	return Summary{
		Total:     s.total,
		Sent:      s.Sent(),
		Acked:     s.Acked(),
		Abandoned: s.Abandoned(),
		Retries:   s.Retries(),
		Outcome:   s.Outcome(),
	}
}
