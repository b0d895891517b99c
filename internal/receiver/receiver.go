// =============================================================================
// 文件: internal/receiver/receiver.go
// 描述: 接收端 - 读取数据帧、模拟丢弃、去重投递、回发确认
// =============================================================================
package receiver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrcgq/233/internal/protocol"
	"github.com/mrcgq/233/internal/session"
	"github.com/mrcgq/233/internal/transport"
)

// Events 接收端事件钩子
// 回调在读循环内同步调用，实现方不得阻塞
type Events interface {
	// OnDelivered 消息首次投递给上层
	OnDelivered(msg *protocol.DataMessage)

	// OnDropped 消息被丢弃策略吞掉 (不确认，等对端重传)
	OnDropped(id int32)

	// OnDuplicate 收到重复消息 (重新确认但不重复投递)
	OnDuplicate(id int32)

	// OnClosed 流结束，恰好调用一次
	OnClosed(outcome session.Outcome, err error)
}

// NopEvents 空实现
type NopEvents struct{}

func (NopEvents) OnDelivered(msg *protocol.DataMessage)     {}
func (NopEvents) OnDropped(id int32)                        {}
func (NopEvents) OnDuplicate(id int32)                      {}
func (NopEvents) OnClosed(outcome session.Outcome, e error) {}

// Config 接收端配置
type Config struct {
	// Decider 丢弃策略，nil 时按 DropProbability/DropSeed 构造随机丢弃器
	Decider         DropDecider
	DropProbability float64
	DropSeed        int64

	// ExpectedTotal 去重集合的容量估计 (0 取默认值)
	ExpectedTotal uint

	// CancelAfter 投递满该数量后主动中止流 (0 表示从不)
	CancelAfter int64
}

// Receiver 接收端
// 单读循环独占传输读半部; 确认帧与中止信号共用写半部，由写锁串行化
type Receiver struct {
	cfg     Config
	stream  transport.Stream
	decider DropDecider
	events  Events
	seen    *seenSet

	// 统计
	received   int64
	delivered  int64
	dropped    int64
	duplicates int64
	acksSent   int64

	closeOnce sync.Once
	outcome   session.Outcome
	closeErr  error
}

// New 创建接收端
func New(stream transport.Stream, cfg Config, events Events) *Receiver {
	if events == nil {
		events = NopEvents{}
	}
	decider := cfg.Decider
	if decider == nil {
		seed := cfg.DropSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		decider = NewRandomDropper(cfg.DropProbability, seed)
	}

	return &Receiver{
		cfg:     cfg,
		stream:  stream,
		decider: decider,
		events:  events,
		seen:    newSeenSet(cfg.ExpectedTotal),
		outcome: session.OutcomeStreaming,
	}
}

// Run 执行读循环，阻塞直到流结束
// 对端正常关闭返回 (OutcomeComplete, nil)，其余情况返回分类后的终态与错误
func (r *Receiver) Run(ctx context.Context) (session.Outcome, error) {
	// 上下文取消时关闭流，解除阻塞读
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			r.stream.Close()
		case <-watchDone:
		}
	}()

	for {
		data, err := r.stream.ReadFrame()
		if err != nil {
			outcome := session.Classify(err)
			if outcome == session.OutcomeComplete {
				err = nil
			}
			r.finish(outcome, err)
			return r.outcome, r.closeErr
		}

		frame, perr := protocol.ParseFrame(data)
		if perr != nil || frame.Type != protocol.TypeData {
			continue
		}
		msg := frame.Data
		atomic.AddInt64(&r.received, 1)

		// 重复消息说明上次确认丢了或迟到，重新确认但不重复投递
		if r.seen.Contains(msg.ID) {
			atomic.AddInt64(&r.duplicates, 1)
			r.events.OnDuplicate(msg.ID)
			if err := r.sendAck(msg.ID); err != nil {
				r.finish(session.Classify(err), err)
				return r.outcome, r.closeErr
			}
			continue
		}

		// 首次见到的消息才掷骰子，丢弃即静默 (等对端超时重传)
		if r.decider.ShouldDrop(msg.ID) {
			atomic.AddInt64(&r.dropped, 1)
			r.events.OnDropped(msg.ID)
			continue
		}

		r.seen.CheckAndMark(msg.ID)
		atomic.AddInt64(&r.delivered, 1)
		r.events.OnDelivered(msg)

		if err := r.sendAck(msg.ID); err != nil {
			r.finish(session.Classify(err), err)
			return r.outcome, r.closeErr
		}

		if r.cfg.CancelAfter > 0 && atomic.LoadInt64(&r.delivered) >= r.cfg.CancelAfter {
			if err := r.Abort(); err != nil {
				r.finish(session.OutcomeDisconnected, err)
				return r.outcome, r.closeErr
			}
			r.finish(session.OutcomeCancelled, transport.ErrPeerAbort)
			return r.outcome, r.closeErr
		}
	}
}

// Abort 主动中止流 (向对端发送取消信号)
func (r *Receiver) Abort() error {
	return r.stream.Abort()
}

func (r *Receiver) sendAck(id int32) error {
	ack := &protocol.AckMessage{AckID: id, Timestamp: time.Now().Unix()}
	if err := r.stream.WriteFrame(protocol.EncodeAck(ack)); err != nil {
		return fmt.Errorf("发送确认失败: %w", err)
	}
	atomic.AddInt64(&r.acksSent, 1)
	return nil
}

func (r *Receiver) finish(outcome session.Outcome, err error) {
	r.closeOnce.Do(func() {
		r.outcome = outcome
		r.closeErr = err
		// 正常结束时回应关闭，让对端也观察到流结束
		if outcome == session.OutcomeComplete {
			r.stream.CloseSend()
		}
		r.stream.Close()
		r.events.OnClosed(outcome, err)
	})
}

// =============================================================================
// 指标接口 (metrics.ReceiverStats)
// =============================================================================

// GetReceived 收到的数据帧总数 (含重复)
func (r *Receiver) GetReceived() int64 { return atomic.LoadInt64(&r.received) }

// GetDelivered 首次投递数
func (r *Receiver) GetDelivered() int64 { return atomic.LoadInt64(&r.delivered) }

// GetDropped 丢弃数
func (r *Receiver) GetDropped() int64 { return atomic.LoadInt64(&r.dropped) }

// GetDuplicates 重复数
func (r *Receiver) GetDuplicates() int64 { return atomic.LoadInt64(&r.duplicates) }

// GetAcksSent 已发确认数
func (r *Receiver) GetAcksSent() int64 { return atomic.LoadInt64(&r.acksSent) }
