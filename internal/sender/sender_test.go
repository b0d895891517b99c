// =============================================================================
// 文件: internal/sender/sender_test.go
// 描述: 发送端集成测试 - 通过内存帧流对注入确认/丢弃/中止/断连
// =============================================================================
package sender

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mrcgq/233/internal/protocol"
	"github.com/mrcgq/233/internal/session"
	"github.com/mrcgq/233/internal/transport"
)

// fastConfig 缩短全部时间参数，让集成测试在百毫秒级完成
func fastConfig(total int32) Config {
	return Config{
		Total:         total,
		Interval:      2 * time.Millisecond,
		RetryTimeout:  15 * time.Millisecond,
		RetryTick:     10 * time.Millisecond,
		MaxRetries:    3,
		QueueCapacity: 8,
	}
}

func runSender(t *testing.T, s *Sender) (session.Summary, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	summary, err := s.Run(ctx)
	if ctx.Err() != nil {
		t.Fatal("会话未在限定时间内终止")
	}
	return summary, err
}

// ackAll 确认全部数据帧; 观察到流结束后回应关闭
func ackAll(remote *transport.PipeStream) {
	for {
		data, err := remote.ReadFrame()
		if err != nil {
			if transport.KindOf(err) == transport.KindEOF {
				remote.CloseSend()
			}
			return
		}
		frame, perr := protocol.ParseFrame(data)
		if perr != nil || frame.Type != protocol.TypeData {
			continue
		}
		ack := &protocol.AckMessage{AckID: frame.Data.ID, Timestamp: time.Now().Unix()}
		if remote.WriteFrame(protocol.EncodeAck(ack)) != nil {
			return
		}
	}
}

func TestSenderAllAcked(t *testing.T) {
	local, remote := transport.NewPipe(64)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ackAll(remote)
	}()

	snd := New(local, fastConfig(5), nil)
	summary, err := runSender(t, snd)
	<-done

	if err != nil {
		t.Fatalf("正常完成不应报错: %v", err)
	}
	if summary.Outcome != session.OutcomeComplete {
		t.Errorf("终态 = %s, want complete", summary.Outcome)
	}
	if summary.Sent != 5 || summary.Acked != 5 {
		t.Errorf("计数错误: sent=%d acked=%d, want 5/5", summary.Sent, summary.Acked)
	}
	if summary.Abandoned != 0 {
		t.Errorf("不应有放弃: %d", summary.Abandoned)
	}
	if snd.GetPending() != 0 {
		t.Errorf("终态后在途条目应为 0: %d", snd.GetPending())
	}
}

func TestSenderNeverAcked(t *testing.T) {
	local, remote := transport.NewPipe(64)

	// 对端收下全部帧但从不确认
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, err := remote.ReadFrame()
			if err != nil {
				if transport.KindOf(err) == transport.KindEOF {
					remote.CloseSend()
				}
				return
			}
		}
	}()

	cfg := fastConfig(3)
	cfg.MaxRetries = 2
	snd := New(local, cfg, nil)
	summary, err := runSender(t, snd)
	<-done

	// 放弃不是失败: 全部放弃后流仍正常完成
	if err != nil {
		t.Fatalf("放弃后的正常完成不应报错: %v", err)
	}
	if summary.Outcome != session.OutcomeComplete {
		t.Errorf("终态 = %s, want complete", summary.Outcome)
	}
	if summary.Acked != 0 {
		t.Errorf("Acked = %d, want 0", summary.Acked)
	}
	if summary.Abandoned != 3 {
		t.Errorf("Abandoned = %d, want 3", summary.Abandoned)
	}
	if summary.Retries != 6 {
		t.Errorf("Retries = %d, want 6 (3 条 x 2 次)", summary.Retries)
	}
}

func TestSenderRetryThenAck(t *testing.T) {
	local, remote := transport.NewPipe(64)

	// 每条消息的首发被吞掉，重传才确认
	done := make(chan struct{})
	go func() {
		defer close(done)
		seen := make(map[int32]bool)
		for {
			data, err := remote.ReadFrame()
			if err != nil {
				if transport.KindOf(err) == transport.KindEOF {
					remote.CloseSend()
				}
				return
			}
			frame, perr := protocol.ParseFrame(data)
			if perr != nil || frame.Type != protocol.TypeData {
				continue
			}
			if !seen[frame.Data.ID] {
				seen[frame.Data.ID] = true
				continue
			}
			ack := &protocol.AckMessage{AckID: frame.Data.ID, Timestamp: time.Now().Unix()}
			if remote.WriteFrame(protocol.EncodeAck(ack)) != nil {
				return
			}
		}
	}()

	cfg := fastConfig(3)
	cfg.MaxRetries = 5
	snd := New(local, cfg, nil)
	summary, err := runSender(t, snd)
	<-done

	if err != nil {
		t.Fatalf("不应报错: %v", err)
	}
	if summary.Outcome != session.OutcomeComplete {
		t.Errorf("终态 = %s, want complete", summary.Outcome)
	}
	if summary.Acked != 3 {
		t.Errorf("Acked = %d, want 3", summary.Acked)
	}
	if summary.Abandoned != 0 {
		t.Errorf("Abandoned = %d, want 0", summary.Abandoned)
	}
	if summary.Retries < 3 {
		t.Errorf("每条消息至少重传一次: Retries = %d", summary.Retries)
	}
}

func TestSenderPeerAbort(t *testing.T) {
	local, remote := transport.NewPipe(64)

	// 确认 3 条后显式中止
	done := make(chan struct{})
	go func() {
		defer close(done)
		acked := 0
		for acked < 3 {
			data, err := remote.ReadFrame()
			if err != nil {
				return
			}
			frame, perr := protocol.ParseFrame(data)
			if perr != nil || frame.Type != protocol.TypeData {
				continue
			}
			ack := &protocol.AckMessage{AckID: frame.Data.ID, Timestamp: time.Now().Unix()}
			if remote.WriteFrame(protocol.EncodeAck(ack)) != nil {
				return
			}
			acked++
		}
		remote.Abort()
	}()

	snd := New(local, fastConfig(10), nil)
	summary, err := runSender(t, snd)
	<-done

	if summary.Outcome != session.OutcomeCancelled {
		t.Errorf("终态 = %s, want cancelled", summary.Outcome)
	}
	if err == nil {
		t.Fatal("取消应返回错误")
	}
	if !errors.Is(err, transport.ErrPeerAbort) {
		t.Errorf("错误应携带中止信号: %v", err)
	}
	if summary.Acked > 3 {
		t.Errorf("Acked = %d, 不应超过 3", summary.Acked)
	}
}

func TestSenderDisconnect(t *testing.T) {
	local, remote := transport.NewPipe(64)

	// 读走 2 帧后模拟网络断开
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2; i++ {
			if _, err := remote.ReadFrame(); err != nil {
				return
			}
		}
		remote.Break(nil)
	}()

	snd := New(local, fastConfig(10), nil)
	summary, err := runSender(t, snd)
	<-done

	if summary.Outcome != session.OutcomeDisconnected {
		t.Errorf("终态 = %s, want disconnected", summary.Outcome)
	}
	if err == nil {
		t.Error("断连应返回错误")
	}
}

func TestSenderContextCancel(t *testing.T) {
	local, remote := transport.NewPipe(64)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, err := remote.ReadFrame(); err != nil {
				return
			}
		}
	}()

	cfg := fastConfig(1000)
	cfg.Interval = 5 * time.Millisecond
	snd := New(local, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	summary, err := snd.Run(ctx)
	remote.Close()
	<-done

	// 外部取消时本端无法区分原因，按断连处理
	if summary.Outcome != session.OutcomeDisconnected {
		t.Errorf("终态 = %s, want disconnected", summary.Outcome)
	}
	if err == nil {
		t.Error("外部取消应返回错误")
	}
}

func TestSenderHooks(t *testing.T) {
	local, remote := transport.NewPipe(64)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ackAll(remote)
	}()

	h := &countingHooks{}
	snd := New(local, fastConfig(4), h)
	summary, err := runSender(t, snd)
	<-done

	if err != nil {
		t.Fatalf("不应报错: %v", err)
	}
	if h.sent != 4 {
		t.Errorf("OnSent 调用 %d 次, want 4", h.sent)
	}
	if h.acked != 4 {
		t.Errorf("OnAcked 调用 %d 次, want 4", h.acked)
	}
	if h.terminated != 1 {
		t.Errorf("OnTerminated 调用 %d 次, want 1", h.terminated)
	}
	if h.lastOutcome != summary.Outcome {
		t.Errorf("OnTerminated 终态 = %s, want %s", h.lastOutcome, summary.Outcome)
	}
}

// countingHooks 记录回调次数
// 每个字段只被一个发送端循环写入，Run 返回后才读取，无需加锁
type countingHooks struct {
	sent        int
	acked       int
	retries     int
	abandoned   int
	terminated  int
	lastOutcome session.Outcome
}

func (h *countingHooks) OnSent(id int32)                    { h.sent++ }
func (h *countingHooks) OnAcked(id int32)                   { h.acked++ }
func (h *countingHooks) OnRetry(id int32, attempt int)      { h.retries++ }
func (h *countingHooks) OnAbandoned(id int32, attempts int) { h.abandoned++ }
func (h *countingHooks) OnTerminated(o session.Outcome, s session.Summary) {
	h.terminated++
	h.lastOutcome = o
}
