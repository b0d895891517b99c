// =============================================================================
// 文件: internal/crypto/crypto.go
// 描述: 帧加密 - PSK + HKDF 时间窗口密钥 + ChaCha20-Poly1305
// =============================================================================
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	PSKSize       = 32
	UserIDSize    = 4
	TimestampSize = 2
	NonceSize     = chacha20poly1305.NonceSize
	TagSize       = chacha20poly1305.Overhead
	HeaderSize    = UserIDSize + TimestampSize
)

// Crypto 帧加密器
// 密钥按时间窗口派生，解密时尝试当前与相邻窗口以容忍时钟偏差
type Crypto struct {
	psk        []byte
	userID     [UserIDSize]byte
	timeWindow int

	aeadCache sync.Map // window -> cipher.AEAD

	guard *ReplayGuard
}

// New 创建加密器
// pskBase64 必须解码为 32 字节; timeWindow 单位秒
func New(pskBase64 string, timeWindow int) (*Crypto, error) {
	psk, err := base64.StdEncoding.DecodeString(pskBase64)
	if err != nil {
		return nil, fmt.Errorf("PSK 解码失败: %w", err)
	}
	if len(psk) != PSKSize {
		return nil, fmt.Errorf("PSK 长度必须是 %d 字节", PSKSize)
	}
	if timeWindow < 1 {
		return nil, fmt.Errorf("time_window 必须大于 0")
	}

	c := &Crypto{
		psk:        psk,
		timeWindow: timeWindow,
		guard:      NewReplayGuard(time.Duration(timeWindow) * time.Second),
	}

	reader := hkdf.New(sha256.New, psk, nil, []byte("courier-userid-v1"))
	if _, err := io.ReadFull(reader, c.userID[:]); err != nil {
		return nil, fmt.Errorf("派生 UserID 失败: %w", err)
	}

	return c, nil
}

// GetUserID 返回派生的 UserID
func (c *Crypto) GetUserID() [UserIDSize]byte {
	return c.userID
}

// Seal 加密一帧
// 输出: UserID(4) + Timestamp(2) + Nonce(12) + Ciphertext + Tag(16)
func (c *Crypto) Seal(plaintext []byte) ([]byte, error) {
	aead, err := c.getAEAD(c.currentWindow())
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("生成 Nonce 失败: %w", err)
	}

	timestamp := uint16(time.Now().Unix() & 0xFFFF)

	output := make([]byte, HeaderSize+NonceSize+len(plaintext)+TagSize)
	copy(output[:UserIDSize], c.userID[:])
	binary.BigEndian.PutUint16(output[UserIDSize:HeaderSize], timestamp)
	copy(output[HeaderSize:HeaderSize+NonceSize], nonce)

	aead.Seal(output[HeaderSize+NonceSize:HeaderSize+NonceSize], nonce, plaintext, output[:HeaderSize])

	return output, nil
}

// Open 解密一帧
func (c *Crypto) Open(data []byte) ([]byte, error) {
	minSize := HeaderSize + NonceSize + TagSize
	if len(data) < minSize {
		return nil, fmt.Errorf("数据太短")
	}

	var userID [UserIDSize]byte
	copy(userID[:], data[:UserIDSize])
	if userID != c.userID {
		return nil, fmt.Errorf("UserID 不匹配")
	}

	timestamp := binary.BigEndian.Uint16(data[UserIDSize:HeaderSize])
	if !c.validateTimestamp(timestamp) {
		return nil, fmt.Errorf("时间戳无效")
	}

	nonce := data[HeaderSize : HeaderSize+NonceSize]
	if !c.guard.CheckOnly(nonce) {
		return nil, fmt.Errorf("重放攻击")
	}

	ciphertext := data[HeaderSize+NonceSize:]
	header := data[:HeaderSize]

	// 窗口切换瞬间对端可能仍用旧密钥，当前与相邻窗口都试一遍
	for _, window := range c.validWindows() {
		aead, err := c.getAEAD(window)
		if err != nil {
			continue
		}
		if plaintext, err := aead.Open(nil, nonce, ciphertext, header); err == nil {
			c.guard.Mark(nonce)
			return plaintext, nil
		}
	}

	return nil, fmt.Errorf("解密失败")
}

// ReplayStats 返回防重放统计
func (c *Crypto) ReplayStats() ReplayStats {
	return c.guard.Stats()
}

func (c *Crypto) currentWindow() int64 {
	return time.Now().Unix() / int64(c.timeWindow)
}

func (c *Crypto) validWindows() []int64 {
	w := c.currentWindow()
	return []int64{w, w - 1, w + 1}
}

func (c *Crypto) getAEAD(window int64) (cipher.AEAD, error) {
	if v, ok := c.aeadCache.Load(window); ok {
		return v.(cipher.AEAD), nil
	}

	salt := make([]byte, 8)
	binary.BigEndian.PutUint64(salt, uint64(window))
	reader := hkdf.New(sha256.New, c.psk, salt, []byte("courier-key-v1"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("派生密钥失败: %w", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("创建 AEAD 失败: %w", err)
	}

	c.aeadCache.Store(window, aead)

	// 顺手清理远离当前窗口的密钥
	cw := c.currentWindow()
	c.aeadCache.Range(func(key, value interface{}) bool {
		w := key.(int64)
		if w < cw-2 || w > cw+2 {
			c.aeadCache.Delete(key)
		}
		return true
	})

	return aead, nil
}

func (c *Crypto) validateTimestamp(ts uint16) bool {
	current := uint16(time.Now().Unix() & 0xFFFF)
	diff := int(current) - int(ts)

	// 16 位时间戳回绕
	if diff < -32768 {
		diff += 65536
	} else if diff > 32768 {
		diff -= 65536
	}
	if diff < 0 {
		diff = -diff
	}

	return diff <= c.timeWindow*3
}

// GeneratePSK 生成新的 PSK (base64)
func GeneratePSK() (string, error) {
	psk := make([]byte, PSKSize)
	if _, err := rand.Read(psk); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(psk), nil
}
