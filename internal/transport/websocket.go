// =============================================================================
// 文件: internal/transport/websocket.go
// 描述: WebSocket 帧流 - 利用关闭码区分正常结束 / 显式中止 / 断连
// =============================================================================
package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// CloseCodeAbort 应用层中止关闭码
// 对端收到此关闭码时将其归类为显式中止 (ErrPeerAbort)，
// 这是本传输能提供的"对端主动取消"信号
const CloseCodeAbort = 4001

const (
	wsWriteTimeout = 30 * time.Second
	wsControlGrace = time.Second
	wsReadBufSize  = 32 * 1024
	wsWriteBufSize = 32 * 1024
)

// =============================================================================
// WSStream 单连接帧流
// =============================================================================

// WSStream 基于 WebSocket 的帧流
type WSStream struct {
	conn *websocket.Conn

	writeMu   sync.Mutex // 写半部单一持有者
	peerCode  int32      // 对端关闭码 (0 表示未收到关闭帧)
	closed    int32
	closeOnce sync.Once
}

// NewWSStream 包装已建立的 WebSocket 连接
func NewWSStream(conn *websocket.Conn) *WSStream {
	s := &WSStream{conn: conn}

	// 记录对端关闭码，写路径据此分类失败原因
	conn.SetCloseHandler(func(code int, text string) error {
		atomic.StoreInt32(&s.peerCode, int32(code))
		msg := websocket.FormatCloseMessage(code, "")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsControlGrace))
		return nil
	})

	return s
}

// WriteFrame 写入一帧
func (s *WSStream) WriteFrame(data []byte) error {
	if atomic.LoadInt32(&s.closed) != 0 {
		return ErrStreamClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return s.classify("写入失败", err)
	}
	return nil
}

// ReadFrame 阻塞读取下一帧，跳过非二进制消息
func (s *WSStream) ReadFrame() ([]byte, error) {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, s.classify("读取失败", err)
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

// classify 将底层错误映射到传输错误类别
// 只有收到显式关闭帧才能区分取消与断连，其余一律按 I/O 故障处理
func (s *WSStream) classify(op string, err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return fmt.Errorf("%w: %v", ErrStreamEnded, err)
	}
	if websocket.IsCloseError(err, CloseCodeAbort) {
		return fmt.Errorf("%w: %v", ErrPeerAbort, err)
	}

	// 写路径看不到关闭帧，依据读路径记录的对端关闭码补偿
	switch atomic.LoadInt32(&s.peerCode) {
	case CloseCodeAbort:
		return fmt.Errorf("%w: %s: %v", ErrPeerAbort, op, err)
	case websocket.CloseNormalClosure, websocket.CloseGoingAway:
		return fmt.Errorf("%w: %s: %v", ErrStreamEnded, op, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}

// CloseSend 关闭发送方向 (发送正常关闭帧，读半部继续等待对端回应)
func (s *WSStream) CloseSend() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsControlGrace))
	if err != nil && err != websocket.ErrCloseSent {
		return fmt.Errorf("发送关闭帧失败: %w", err)
	}
	return nil
}

// Abort 显式中止流，对端将观察到 ErrPeerAbort
func (s *WSStream) Abort() error {
	s.writeMu.Lock()
	msg := websocket.FormatCloseMessage(CloseCodeAbort, "cancelled")
	err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsControlGrace))
	s.writeMu.Unlock()

	if err != nil && err != websocket.ErrCloseSent {
		return fmt.Errorf("发送中止帧失败: %w", err)
	}
	return nil
}

// Close 释放连接
func (s *WSStream) Close() error {
	s.closeOnce.Do(func() {
		atomic.StoreInt32(&s.closed, 1)
		s.conn.Close()
	})
	return nil
}

// RemoteAddr 返回对端地址
func (s *WSStream) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// =============================================================================
// WSServer 服务端
// =============================================================================

// SessionHandler 会话处理器，每个接入连接调用一次
type SessionHandler func(ctx context.Context, stream *WSStream)

// WSServer WebSocket 服务端
type WSServer struct {
	addr     string
	path     string
	handler  SessionHandler
	logLevel int

	httpServer *http.Server
	upgrader   websocket.Upgrader
	stopCh     chan struct{}
	wg         sync.WaitGroup

	// 统计
	activeConns int64
	totalConns  uint64
}

// NewWSServer 创建服务端
func NewWSServer(addr, path string, handler SessionHandler, logLevel string) *WSServer {
	level := 1
	switch logLevel {
	case "debug":
		level = 2
	case "error":
		level = 0
	}

	return &WSServer{
		addr:     addr,
		path:     path,
		handler:  handler,
		logLevel: level,
		stopCh:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsReadBufSize,
			WriteBufferSize: wsWriteBufSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Start 启动服务端
func (s *WSServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, func(w http.ResponseWriter, r *http.Request) {
		s.handleStream(ctx, w, r)
	})
	mux.HandleFunc("/", s.handleFakePage)

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log(0, "HTTP 服务器错误: %v", err)
		}
	}()

	s.log(1, "WebSocket 服务端已启动: %s%s", s.addr, s.path)
	return nil
}

// handleStream 处理 WebSocket 升级并交给会话处理器
func (s *WSServer) handleStream(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.stopCh:
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log(2, "WebSocket 升级失败: %v", err)
		return
	}

	atomic.AddInt64(&s.activeConns, 1)
	atomic.AddUint64(&s.totalConns, 1)
	defer atomic.AddInt64(&s.activeConns, -1)

	s.log(1, "接收端接入: %s", r.RemoteAddr)

	stream := NewWSStream(conn)
	defer stream.Close()

	s.handler(ctx, stream)
}

// handleFakePage 伪装页面
func (s *WSServer) handleFakePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Welcome</title>
    <meta charset="utf-8">
</head>
<body>
    <h1>It works!</h1>
    <p>This is the default page.</p>
</body>
</html>`)
}

// Stop 停止服务端
func (s *WSServer) Stop() {
	close(s.stopCh)

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
	}

	s.wg.Wait()
}

// GetActiveConns 获取活跃连接数
func (s *WSServer) GetActiveConns() int64 {
	return atomic.LoadInt64(&s.activeConns)
}

// GetTotalConns 获取累计连接数
func (s *WSServer) GetTotalConns() uint64 {
	return atomic.LoadUint64(&s.totalConns)
}

func (s *WSServer) log(level int, format string, args ...interface{}) {
	if level > s.logLevel {
		return
	}
	prefix := map[int]string{0: "[ERROR]", 1: "[INFO]", 2: "[DEBUG]"}[level]
	fmt.Printf("%s %s [WebSocket] %s\n", prefix, time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
}

// =============================================================================
// 客户端拨号
// =============================================================================

// DialOptions 拨号选项
type DialOptions struct {
	HandshakeTimeout time.Duration
	Fingerprint      Fingerprint // wss 时的 TLS 指纹，空则使用标准 TLS
	ServerName       string      // SNI 覆盖，空则取自 URL
	Insecure         bool        // 跳过证书校验 (仅测试用)
}

// Dial 建立到发送端的帧流
func Dial(ctx context.Context, rawURL string, opts DialOptions) (*WSStream, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("无效地址 %q: %w", rawURL, err)
	}

	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
		ReadBufferSize:   wsReadBufSize,
		WriteBufferSize:  wsWriteBufSize,
	}

	// wss + 指纹: 用 uTLS 替换标准 TLS 握手
	if u.Scheme == "wss" && opts.Fingerprint != "" {
		serverName := opts.ServerName
		if serverName == "" {
			serverName = u.Hostname()
		}
		utlsClient := NewUTLSDialer(opts.Fingerprint, serverName, opts.Insecure)
		dialer.NetDialTLSContext = utlsClient.DialTLSContext
	}

	conn, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("拨号失败 (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("拨号失败: %w", err)
	}

	return NewWSStream(conn), nil
}
