// =============================================================================
// 文件: internal/transport/transport.go
// 描述: 传输层抽象 - 有序双向帧流 + 终止信号分类
// =============================================================================
package transport

import (
	"errors"
	"fmt"
)

// 错误定义
var (
	// ErrStreamEnded 对端正常关闭了流 (干净的流结束信号)
	ErrStreamEnded = errors.New("流已正常结束")

	// ErrPeerAbort 对端显式中止了流 (区别于普通 I/O 故障的显式信号)
	ErrPeerAbort = errors.New("对端主动中止")

	// ErrStreamClosed 本端已关闭流
	ErrStreamClosed = errors.New("流已关闭")
)

// ErrKind 传输错误类别
// 终止分类器依据此类别区分正常结束 / 取消 / 断连。
// 注意: 取消与断连的区分是尽力而为 —— 只有当底层传输确实暴露了
// 显式中止信号 (如 WebSocket 关闭码) 时才能区分，否则一律视为断连。
type ErrKind int

const (
	KindNone      ErrKind = iota // 无错误
	KindEOF                      // 干净的流结束
	KindPeerAbort                // 显式对端中止
	KindIO                       // 普通 I/O / 网络故障
)

// String 返回类别名称
func (k ErrKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindEOF:
		return "eof"
	case KindPeerAbort:
		return "peer_abort"
	case KindIO:
		return "io"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// KindOf 判定错误的传输类别
func KindOf(err error) ErrKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrStreamEnded):
		return KindEOF
	case errors.Is(err, ErrPeerAbort):
		return KindPeerAbort
	default:
		return KindIO
	}
}

// Stream 有序双向帧流
// 写半部与读半部相互独立; WriteFrame 必须可被单一持有者串行调用，
// ReadFrame 由读循环独占。
type Stream interface {
	// WriteFrame 写入一帧，失败时返回可分类的传输错误
	WriteFrame(data []byte) error

	// ReadFrame 阻塞读取下一帧
	// 流正常结束返回 ErrStreamEnded，对端显式中止返回 ErrPeerAbort
	ReadFrame() ([]byte, error)

	// CloseSend 关闭发送方向，通知对端不再有新帧
	CloseSend() error

	// Abort 显式中止流，对端将观察到 ErrPeerAbort
	Abort() error

	// Close 释放底层资源
	Close() error
}
