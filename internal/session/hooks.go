// =============================================================================
// 文件: internal/session/hooks.go
// 描述: 会话事件钩子 - 核心只发事件，不做任何日志格式化
// =============================================================================
package session

// Hooks 发送端状态变更钩子
// 所有回调在核心的工作协程内同步调用，实现方不得阻塞
type Hooks interface {
	// OnSent 消息首次写入传输成功
	OnSent(id int32)

	// OnAcked 收到确认并从待确认表移除
	OnAcked(id int32)

	// OnRetry 重传调度器触发第 attempt 次重传 (1 起)
	OnRetry(id int32, attempt int)

	// OnAbandoned 重试耗尽，消息被永久放弃
	OnAbandoned(id int32, attempts int)

	// OnTerminated 会话终止，恰好调用一次
	OnTerminated(outcome Outcome, summary Summary)
}

// NopHooks 空实现
type NopHooks struct{}

func (NopHooks) OnSent(id int32)                         {}
func (NopHooks) OnAcked(id int32)                        {}
func (NopHooks) OnRetry(id int32, attempt int)           {}
func (NopHooks) OnAbandoned(id int32, attempts int)      {}
func (NopHooks) OnTerminated(outcome Outcome, s Summary) {}
