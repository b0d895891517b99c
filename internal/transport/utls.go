// =============================================================================
// 文件: internal/transport/utls.go
// 描述: uTLS 拨号器 - wss 连接的 TLS 指纹模拟
// 依赖: github.com/refraction-networking/utls
// =============================================================================
package transport

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	utls "github.com/refraction-networking/utls"
)

// Fingerprint 浏览器指纹类型
type Fingerprint string

const (
	FingerprintChrome  Fingerprint = "chrome"
	FingerprintFirefox Fingerprint = "firefox"
	FingerprintSafari  Fingerprint = "safari"
	FingerprintIOS     Fingerprint = "ios"
	FingerprintEdge    Fingerprint = "edge"
	FingerprintRandom  Fingerprint = "random"
)

// UTLSDialer uTLS 拨号器
type UTLSDialer struct {
	fingerprint Fingerprint
	serverName  string
	insecure    bool
	timeout     time.Duration

	// 统计
	totalConns  uint64
	failedConns uint64
}

// NewUTLSDialer 创建拨号器
func NewUTLSDialer(fingerprint Fingerprint, serverName string, insecure bool) *UTLSDialer {
	return &UTLSDialer{
		fingerprint: fingerprint,
		serverName:  serverName,
		insecure:    insecure,
		timeout:     10 * time.Second,
	}
}

// DialTLSContext 建立 TLS 连接，签名兼容 websocket.Dialer.NetDialTLSContext
func (d *UTLSDialer) DialTLSContext(ctx context.Context, network, addr string) (net.Conn, error) {
	atomic.AddUint64(&d.totalConns, 1)

	dialer := &net.Dialer{Timeout: d.timeout}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		atomic.AddUint64(&d.failedConns, 1)
		return nil, fmt.Errorf("连接失败: %w", err)
	}

	serverName := d.serverName
	if serverName == "" {
		host, _, _ := net.SplitHostPort(addr)
		serverName = host
	}

	tlsConfig := &utls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: d.insecure,
		NextProtos:         []string{"http/1.1"},
		MinVersion:         utls.VersionTLS12,
		MaxVersion:         utls.VersionTLS13,
	}

	utlsConn := utls.UClient(conn, tlsConfig, d.clientHelloID())
	if err := d.handshake(ctx, utlsConn); err != nil {
		conn.Close()
		atomic.AddUint64(&d.failedConns, 1)
		return nil, fmt.Errorf("TLS 握手失败: %w", err)
	}

	return utlsConn, nil
}

// clientHelloID 指纹映射
func (d *UTLSDialer) clientHelloID() utls.ClientHelloID {
	switch d.fingerprint {
	case FingerprintChrome:
		return utls.HelloChrome_Auto
	case FingerprintFirefox:
		return utls.HelloFirefox_Auto
	case FingerprintSafari:
		return utls.HelloSafari_Auto
	case FingerprintIOS:
		return utls.HelloIOS_Auto
	case FingerprintEdge:
		return utls.HelloEdge_Auto
	case FingerprintRandom:
		options := []utls.ClientHelloID{
			utls.HelloChrome_Auto,
			utls.HelloFirefox_Auto,
			utls.HelloSafari_Auto,
			utls.HelloEdge_Auto,
		}
		return options[rand.Intn(len(options))]
	default:
		return utls.HelloChrome_Auto
	}
}

// handshake 带超时的握手
func (d *UTLSDialer) handshake(ctx context.Context, conn *utls.UConn) error {
	errChan := make(chan error, 1)

	go func() {
		errChan <- conn.Handshake()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.timeout):
		return fmt.Errorf("握手超时")
	}
}
