// =============================================================================
// 文件: internal/crypto/sealed.go
// 描述: 加密流包装 - 对上层透明的帧级加解密
// =============================================================================
package crypto

import (
	"fmt"
	"sync/atomic"

	"github.com/mrcgq/233/internal/transport"
)

// SealedStream 加密流
// 写路径逐帧加密，读路径逐帧解密;
// 解密失败的帧被静默丢弃 (计数)，等同于网络层丢包
type SealedStream struct {
	inner  transport.Stream
	crypto *Crypto

	rejected int64 // 解密失败被丢弃的帧数
}

// NewSealedStream 包装底层流
func NewSealedStream(inner transport.Stream, c *Crypto) *SealedStream {
	return &SealedStream{inner: inner, crypto: c}
}

// WriteFrame 加密后写入
func (s *SealedStream) WriteFrame(p []byte) error {
	sealed, err := s.crypto.Seal(p)
	if err != nil {
		return fmt.Errorf("帧加密失败: %w", err)
	}
	return s.inner.WriteFrame(sealed)
}

// ReadFrame 读取并解密，跳过无法解密的帧
func (s *SealedStream) ReadFrame() ([]byte, error) {
	for {
		data, err := s.inner.ReadFrame()
		if err != nil {
			return nil, err
		}

		plaintext, err := s.crypto.Open(data)
		if err != nil {
			atomic.AddInt64(&s.rejected, 1)
			continue
		}
		return plaintext, nil
	}
}

// CloseSend 透传
func (s *SealedStream) CloseSend() error { return s.inner.CloseSend() }

// Abort 透传
func (s *SealedStream) Abort() error { return s.inner.Abort() }

// Close 透传
func (s *SealedStream) Close() error { return s.inner.Close() }

// Rejected 解密失败被丢弃的帧数
func (s *SealedStream) Rejected() int64 {
	return atomic.LoadInt64(&s.rejected)
}
