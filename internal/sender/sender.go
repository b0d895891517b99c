// =============================================================================
// 文件: internal/sender/sender.go
// 描述: 发送端 - 定速生成、排空写入、定时重传、确认回收四个循环
// =============================================================================
package sender

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrcgq/233/internal/protocol"
	"github.com/mrcgq/233/internal/session"
	"github.com/mrcgq/233/internal/transport"
)

// Config 发送端配置
// 全部可注入，零值由 sanitize 填充默认值
type Config struct {
	Total         int32         // 消息总数
	Interval      time.Duration // 生成节奏
	RetryTimeout  time.Duration // 单条目重传超时 (从最近一次发送算起)
	RetryTick     time.Duration // 重传调度器扫描周期
	MaxRetries    int           // 最大重传次数
	QueueCapacity int           // 出站队列容量

	// Payload 负载生成函数，nil 使用默认文本负载
	Payload func(id int32) []byte
}

func (c *Config) sanitize() {
	if c.Total <= 0 {
		c.Total = 10
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.RetryTimeout <= 0 {
		c.RetryTimeout = 2 * time.Second
	}
	if c.RetryTick <= 0 {
		c.RetryTick = 2 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 3
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 10
	}
	if c.Payload == nil {
		c.Payload = func(id int32) []byte {
			return []byte(fmt.Sprintf("Message %d", id))
		}
	}
}

// Sender 发送端
// 四个循环共享待确认表与会话状态:
//   - generateLoop: 定速生成消息并入队 (队列满时背压阻塞)
//   - drainLoop:    队列排空，独占传输写半部
//   - retryLoop:    定时扫描超时条目，重传或放弃
//   - ackLoop:      读取确认帧，确认优先于重传
type Sender struct {
	cfg    Config
	stream transport.Stream
	table  *PendingTable
	queue  *OutboundQueue
	state  *session.State
	hooks  session.Hooks

	generated int32 // 全部消息已生成
	closing   int32 // 已进入正常关闭流程

	cancel  context.CancelFunc
	termMu  sync.Mutex
	termErr error
}

// New 创建发送端
func New(stream transport.Stream, cfg Config, hooks session.Hooks) *Sender {
	cfg.sanitize()
	if hooks == nil {
		hooks = session.NopHooks{}
	}

	return &Sender{
		cfg:    cfg,
		stream: stream,
		table:  NewPendingTable(cfg.MaxRetries),
		queue:  NewOutboundQueue(cfg.QueueCapacity),
		state:  session.NewState(cfg.Total),
		hooks:  hooks,
	}
}

// Run 执行一次投递会话，阻塞直到进入终态
// 正常完成返回 (摘要, nil)，取消或断连返回分类后的错误
func (s *Sender) Run(ctx context.Context) (session.Summary, error) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	g := new(errgroup.Group)
	g.Go(func() error { return s.generateLoop(runCtx) })
	g.Go(func() error { return s.drainLoop(runCtx) })
	g.Go(func() error { return s.retryLoop(runCtx) })
	g.Go(func() error { return s.ackLoop() })

	// 看门狗: 上下文取消后关闭流，解除 ackLoop 的阻塞读
	g.Go(func() error {
		<-runCtx.Done()
		if !s.state.Finalized() {
			s.stream.Close()
		}
		return nil
	})

	g.Wait()

	summary := s.state.Summary()
	if summary.Outcome == session.OutcomeComplete {
		return summary, nil
	}

	s.termMu.Lock()
	cause := s.termErr
	s.termMu.Unlock()
	if cause == nil {
		cause = ctx.Err()
	}
	return summary, fmt.Errorf("会话异常终止 (%s): %w", summary.Outcome, cause)
}

// generateLoop 定速生成循环
func (s *Sender) generateLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for id := int32(1); id <= s.cfg.Total; id++ {
		msg := &protocol.DataMessage{
			ID:        id,
			Timestamp: time.Now().Unix(),
			Payload:   s.cfg.Payload(id),
		}

		if err := s.queue.Enqueue(ctx, queueItem{msg: msg}); err != nil {
			return nil // 会话已终止
		}

		if id == s.cfg.Total {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}

	atomic.StoreInt32(&s.generated, 1)
	return nil
}

// drainLoop 排空循环 - 传输写半部的唯一持有者
// 写失败不在本层重试 (重试是语义层的事)，直接交给终止分类
func (s *Sender) drainLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case item := <-s.queue.C():
			// 重传条目在排队期间可能已被确认或放弃，条目不在表中即跳过
			if item.retry && !s.table.Contains(item.msg.ID) {
				continue
			}

			if err := s.stream.WriteFrame(protocol.EncodeData(item.msg)); err != nil {
				if atomic.LoadInt32(&s.closing) == 1 {
					return nil
				}
				s.terminate(session.Classify(err), err)
				return nil
			}

			now := time.Now()
			if item.retry {
				s.table.Refresh(item.msg.ID, now)
			} else {
				s.table.RecordSent(item.msg, now)
				s.state.AddSent()
				s.hooks.OnSent(item.msg.ID)
			}
		}
	}
}

// retryLoop 重传调度循环
// 表空且全部消息已发送后关闭发送方向，这是正常完成的起点
func (s *Sender) retryLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.RetryTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			retries, abandoned := s.table.Collect(now, s.cfg.RetryTimeout)

			for _, e := range abandoned {
				s.state.AddAbandoned()
				s.hooks.OnAbandoned(e.Msg.ID, e.Retries)
			}

			for _, e := range retries {
				s.state.AddRetry()
				s.hooks.OnRetry(e.Msg.ID, e.Retries)
				if err := s.queue.Enqueue(ctx, queueItem{msg: e.Msg, retry: true, attempt: e.Retries}); err != nil {
					return nil
				}
			}

			if s.readyToClose() {
				atomic.StoreInt32(&s.closing, 1)
				if err := s.stream.CloseSend(); err != nil {
					s.terminate(session.Classify(err), err)
				}
				return nil
			}
		}
	}
}

// readyToClose 正常关闭条件: 全部生成、全部首发、表空、队列空
func (s *Sender) readyToClose() bool {
	return atomic.LoadInt32(&s.generated) == 1 &&
		s.state.Sent() >= int64(s.cfg.Total) &&
		s.table.Len() == 0 &&
		s.queue.Len() == 0
}

// ackLoop 确认回收循环 - 传输读半部的唯一持有者
// 确认乱序到达是正常的，按到达顺序处理，不做重排
func (s *Sender) ackLoop() error {
	for {
		data, err := s.stream.ReadFrame()
		if err != nil {
			s.terminate(session.Classify(err), err)
			return nil
		}

		frame, err := protocol.ParseFrame(data)
		if err != nil || frame.Type != protocol.TypeAck {
			continue
		}

		// 表中无此 id (重复或迟到的确认) 为空操作
		if s.table.Ack(frame.Ack.AckID) {
			s.state.AddAcked()
			s.hooks.OnAcked(frame.Ack.AckID)
		}
	}
}

// terminate 进入终态: 先到先得，之后的调用全部无效
// 丢弃待确认表、停止全部循环、释放传输
func (s *Sender) terminate(outcome session.Outcome, cause error) {
	if !s.state.Finalize(outcome) {
		return
	}

	s.termMu.Lock()
	s.termErr = cause
	s.termMu.Unlock()

	s.table.Discard()
	s.hooks.OnTerminated(outcome, s.state.Summary())
	s.cancel()
	s.stream.Close()
}

// =============================================================================
// 指标接口 (metrics.SenderStats)
// =============================================================================

// GetTotal 配置的消息总数
func (s *Sender) GetTotal() int64 { return int64(s.state.Total()) }

// GetSent 已首发数
func (s *Sender) GetSent() int64 { return s.state.Sent() }

// GetAcked 已确认数
func (s *Sender) GetAcked() int64 { return s.state.Acked() }

// GetAbandoned 已放弃数
func (s *Sender) GetAbandoned() int64 { return s.state.Abandoned() }

// GetRetries 累计重传数
func (s *Sender) GetRetries() int64 { return s.state.Retries() }

// GetPending 在途条目数
func (s *Sender) GetPending() int { return s.table.Len() }

// GetQueueDepth 出站队列深度
func (s *Sender) GetQueueDepth() int { return s.queue.Len() }

// GetOutcome 当前终态名称
func (s *Sender) GetOutcome() string { return s.state.Outcome().String() }
