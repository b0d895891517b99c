// =============================================================================
// 文件: internal/sender/queue.go
// 描述: 出站队列 - 有界缓冲 + 阻塞背压
// =============================================================================
package sender

import (
	"context"
	"fmt"

	"github.com/mrcgq/233/internal/protocol"
)

// ErrQueueOverflow 非阻塞入队时队列已满
// 有界阻塞背压下不应出现; 出现即为配置或编程错误，必须响亮失败
var ErrQueueOverflow = fmt.Errorf("出站队列溢出")

// queueItem 出站队列条目
type queueItem struct {
	msg     *protocol.DataMessage
	retry   bool // 重传 (保留重试计数，不重置)
	attempt int  // 重传次数 (retry 时有效)
}

// OutboundQueue 出站队列
// 生产侧在队列满时阻塞 (背压)，让生产/消费速度失配显式暴露而非被掩盖
type OutboundQueue struct {
	ch       chan queueItem
	capacity int
}

// NewOutboundQueue 创建队列
func NewOutboundQueue(capacity int) *OutboundQueue {
	if capacity <= 0 {
		capacity = 10
	}
	return &OutboundQueue{
		ch:       make(chan queueItem, capacity),
		capacity: capacity,
	}
}

// Enqueue 入队，队列满时阻塞直到有空位或 ctx 取消
func (q *OutboundQueue) Enqueue(ctx context.Context, item queueItem) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue 非阻塞入队
func (q *OutboundQueue) TryEnqueue(item queueItem) error {
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrQueueOverflow
	}
}

// C 消费通道 (排空循环独占)
func (q *OutboundQueue) C() <-chan queueItem {
	return q.ch
}

// Len 当前排队条目数
func (q *OutboundQueue) Len() int {
	return len(q.ch)
}

// Cap 队列容量
func (q *OutboundQueue) Cap() int {
	return q.capacity
}
