// =============================================================================
// 文件: internal/transport/pipe.go
// 描述: 内存帧流对 - 测试用传输，可确定性注入中止/断连故障
// =============================================================================
package transport

import (
	"fmt"
	"sync"
)

// PipeStream 内存帧流的一端
type PipeStream struct {
	in   chan []byte
	peer *PipeStream

	mu       sync.Mutex
	readErr  error
	writeErr error
	rDead    chan struct{}
	wDead    chan struct{}
}

// NewPipe 创建一对互联的内存帧流
// capacity 为单方向缓冲帧数，写满后 WriteFrame 阻塞 (背压)
func NewPipe(capacity int) (*PipeStream, *PipeStream) {
	if capacity <= 0 {
		capacity = 64
	}
	a := &PipeStream{
		in:    make(chan []byte, capacity),
		rDead: make(chan struct{}),
		wDead: make(chan struct{}),
	}
	b := &PipeStream{
		in:    make(chan []byte, capacity),
		rDead: make(chan struct{}),
		wDead: make(chan struct{}),
	}
	a.peer = b
	b.peer = a
	return a, b
}

// WriteFrame 写入一帧到对端
func (s *PipeStream) WriteFrame(data []byte) error {
	s.mu.Lock()
	werr := s.writeErr
	s.mu.Unlock()
	if werr != nil {
		return fmt.Errorf("写入失败: %w", werr)
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case s.peer.in <- buf:
		return nil
	case <-s.wDead:
		s.mu.Lock()
		werr = s.writeErr
		s.mu.Unlock()
		return fmt.Errorf("写入失败: %w", werr)
	}
}

// ReadFrame 阻塞读取下一帧
// 终止后先排空缓冲中的帧，再返回终止错误
func (s *PipeStream) ReadFrame() ([]byte, error) {
	select {
	case data := <-s.in:
		return data, nil
	case <-s.rDead:
		select {
		case data := <-s.in:
			return data, nil
		default:
		}
		s.mu.Lock()
		rerr := s.readErr
		s.mu.Unlock()
		return nil, rerr
	}
}

// CloseSend 关闭发送方向，对端读到缓冲末尾后观察到 ErrStreamEnded
func (s *PipeStream) CloseSend() error {
	s.peer.setReadErr(ErrStreamEnded)
	return nil
}

// Abort 显式中止，对端的读和写都观察到 ErrPeerAbort
func (s *PipeStream) Abort() error {
	s.peer.setReadErr(ErrPeerAbort)
	s.peer.setWriteErr(ErrPeerAbort)
	return nil
}

// Break 模拟网络断连: 两端的读写都以无标志的 I/O 错误失败
func (s *PipeStream) Break(err error) {
	if err == nil {
		err = fmt.Errorf("连接意外断开")
	}
	for _, end := range []*PipeStream{s, s.peer} {
		end.setReadErr(err)
		end.setWriteErr(err)
	}
}

// Close 释放本端
func (s *PipeStream) Close() error {
	s.setReadErr(ErrStreamClosed)
	s.setWriteErr(ErrStreamClosed)
	return nil
}

func (s *PipeStream) setReadErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr == nil {
		s.readErr = err
		close(s.rDead)
	}
}

func (s *PipeStream) setWriteErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr == nil {
		s.writeErr = err
		close(s.wDead)
	}
}
