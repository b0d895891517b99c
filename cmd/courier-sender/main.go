// =============================================================================
// 文件: cmd/courier-sender/main.go
// 描述: 发送端入口 - WebSocket 服务端，每个接入连接执行一次投递会话
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mrcgq/233/internal/config"
	"github.com/mrcgq/233/internal/crypto"
	"github.com/mrcgq/233/internal/metrics"
	"github.com/mrcgq/233/internal/sender"
	"github.com/mrcgq/233/internal/session"
	"github.com/mrcgq/233/internal/transport"
)

var (
	Version   = "1.2.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
	startTime = time.Now()
)

func main() {
	configPath := flag.String("c", "config.yaml", "配置文件路径")
	showVersion := flag.Bool("v", false, "显示版本")
	genPSK := flag.Bool("gen-psk", false, "生成新的 PSK")
	genConfig := flag.Bool("gen-config", false, "生成示例配置文件")
	listen := flag.String("listen", "", "覆盖监听地址")
	total := flag.Int("total", 0, "覆盖消息总数")
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	if *genPSK {
		psk, _ := crypto.GeneratePSK()
		fmt.Println(psk)
		return
	}

	if *genConfig {
		if err := config.WriteExampleConfig("config.example.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "生成配置失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("已生成示例配置文件: config.example.yaml")
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		os.Exit(1)
	}

	if *listen != "" {
		cfg.Listen = *listen
	}
	if *total > 0 {
		cfg.Delivery.Total = *total
	}

	// PSK 留空为明文传输
	var cry *crypto.Crypto
	if cfg.PSK != "" {
		cry, err = crypto.New(cfg.PSK, cfg.TimeWindow)
		if err != nil {
			fmt.Fprintf(os.Stderr, "加密模块错误: %v\n", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := newLogger(cfg.LogLevel)
	holder := &senderHolder{}

	// Metrics 服务器
	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(
			cfg.Metrics.Listen,
			cfg.Metrics.Path,
			cfg.Metrics.HealthPath,
			cfg.Metrics.EnablePprof,
		)
		metricsServer.MustRegisterCollector(metrics.NewSenderCollector(holder))
		metricsServer.SetHealthCheck(func() metrics.HealthStatus {
			return metrics.HealthStatus{
				Status:    "healthy",
				Timestamp: time.Now(),
				Version:   Version,
				Uptime:    time.Since(startTime),
			}
		})
		if err := metricsServer.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Metrics 启动失败: %v\n", err)
		}
	}

	senderCfg := sender.Config{
		Total:         int32(cfg.Delivery.Total),
		Interval:      cfg.Delivery.SendInterval(),
		RetryTimeout:  cfg.Delivery.RetryTimeout(),
		RetryTick:     cfg.Delivery.RetryTick(),
		MaxRetries:    cfg.Delivery.MaxRetries,
		QueueCapacity: cfg.Delivery.QueueCapacity,
	}

	handler := func(sessionCtx context.Context, ws *transport.WSStream) {
		var stream transport.Stream = ws
		if cry != nil {
			stream = crypto.NewSealedStream(ws, cry)
		}

		snd := sender.New(stream, senderCfg, &logHooks{log: log})
		holder.set(snd)

		summary, err := snd.Run(sessionCtx)
		printSummary(log, summary, err)
	}

	server := transport.NewWSServer(cfg.Listen, cfg.WebSocket.Path, handler, cfg.LogLevel)
	if err := server.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "启动失败: %v\n", err)
		os.Exit(1)
	}

	printBanner(cfg, cry != nil, metricsServer)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\n正在关闭...")
	cancel()

	if metricsServer != nil {
		metricsServer.Stop()
	}
	server.Stop()
}

// loadConfig 加载配置，默认路径不存在时使用内置默认值
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && path == "config.yaml" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

// =============================================================================
// 会话事件日志
// =============================================================================

type logHooks struct {
	log *logger
}

func (h *logHooks) OnSent(id int32) {
	h.log.debug("消息 #%d 已发送", id)
}

func (h *logHooks) OnAcked(id int32) {
	h.log.debug("消息 #%d 已确认", id)
}

func (h *logHooks) OnRetry(id int32, attempt int) {
	h.log.info("消息 #%d 第 %d 次重传", id, attempt)
}

func (h *logHooks) OnAbandoned(id int32, attempts int) {
	h.log.warn("消息 #%d 重试 %d 次后放弃", id, attempts)
}

func (h *logHooks) OnTerminated(outcome session.Outcome, s session.Summary) {
	h.log.info("会话终止: %s", outcome)
}

func printSummary(log *logger, s session.Summary, err error) {
	log.info("投递摘要: 总数=%d 已发送=%d 已确认=%d 已放弃=%d 重传=%d 终态=%s",
		s.Total, s.Sent, s.Acked, s.Abandoned, s.Retries, s.Outcome)
	if err != nil {
		log.warn("%v", err)
	}
}

// =============================================================================
// 指标适配: 始终指向最近一次会话
// =============================================================================

type senderHolder struct {
	v atomic.Value // *sender.Sender
}

func (h *senderHolder) set(s *sender.Sender) { h.v.Store(s) }

func (h *senderHolder) get() *sender.Sender {
	s, _ := h.v.Load().(*sender.Sender)
	return s
}

func (h *senderHolder) GetTotal() int64 {
	if s := h.get(); s != nil {
		return s.GetTotal()
	}
	return 0
}

func (h *senderHolder) GetSent() int64 {
	if s := h.get(); s != nil {
		return s.GetSent()
	}
	return 0
}

func (h *senderHolder) GetAcked() int64 {
	if s := h.get(); s != nil {
		return s.GetAcked()
	}
	return 0
}

func (h *senderHolder) GetAbandoned() int64 {
	if s := h.get(); s != nil {
		return s.GetAbandoned()
	}
	return 0
}

func (h *senderHolder) GetRetries() int64 {
	if s := h.get(); s != nil {
		return s.GetRetries()
	}
	return 0
}

func (h *senderHolder) GetPending() int {
	if s := h.get(); s != nil {
		return s.GetPending()
	}
	return 0
}

func (h *senderHolder) GetQueueDepth() int {
	if s := h.get(); s != nil {
		return s.GetQueueDepth()
	}
	return 0
}

func (h *senderHolder) GetOutcome() string {
	if s := h.get(); s != nil {
		return s.GetOutcome()
	}
	return "streaming"
}

// =============================================================================
// 日志
// =============================================================================

type logger struct {
	level int // 0=error 1=warn 2=info 3=debug
}

func newLogger(level string) *logger {
	l := 2
	switch level {
	case "debug":
		l = 3
	case "warn":
		l = 1
	case "error":
		l = 0
	}
	return &logger{level: l}
}

func (l *logger) logf(min int, prefix, format string, args ...interface{}) {
	if l.level < min {
		return
	}
	fmt.Printf("%s %s [Sender] %s\n", prefix, time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
}

func (l *logger) debug(format string, args ...interface{}) { l.logf(3, "[DEBUG]", format, args...) }
func (l *logger) info(format string, args ...interface{})  { l.logf(2, "[INFO]", format, args...) }
func (l *logger) warn(format string, args ...interface{})  { l.logf(1, "[WARN]", format, args...) }

// =============================================================================
// 版本和横幅
// =============================================================================

func printVersion() {
	fmt.Printf("Courier Sender v%s\n", Version)
	fmt.Printf("  Build: %s\n", BuildTime)
	fmt.Printf("  Commit: %s\n", GitCommit)
	fmt.Printf("  Go: %s\n", runtime.Version())
	fmt.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Println()
	fmt.Println("使用示例:")
	fmt.Println("  # 默认配置启动 (10 条消息, 1s 节奏)")
	fmt.Println("  courier-sender")
	fmt.Println()
	fmt.Println("  # 指定配置文件")
	fmt.Println("  courier-sender -c config.yaml")
	fmt.Println()
	fmt.Println("  # 生成 PSK 并启用加密")
	fmt.Println("  courier-sender -gen-psk")
	fmt.Println()
	fmt.Println("监控:")
	fmt.Println("  - /metrics  : Prometheus 格式指标")
	fmt.Println("  - /health   : JSON 健康状态")
}

func printBanner(cfg *config.Config, encrypted bool, ms *metrics.MetricsServer) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════════╗")
	fmt.Printf("║         Courier Sender v%-41s ║\n", Version)
	fmt.Println("╠══════════════════════════════════════════════════════════════════╣")
	fmt.Printf("║  监听地址: %-53s ║\n", cfg.Listen+cfg.WebSocket.Path)
	fmt.Printf("║  消息总数: %-53d ║\n", cfg.Delivery.Total)
	fmt.Printf("║  生成节奏: %-53s ║\n", cfg.Delivery.SendInterval())
	fmt.Printf("║  重传超时: %-53s ║\n", cfg.Delivery.RetryTimeout())
	fmt.Printf("║  最大重传: %-53d ║\n", cfg.Delivery.MaxRetries)
	if encrypted {
		fmt.Println("║  加密:     ChaCha20-Poly1305 (PSK)                               ║")
	} else {
		fmt.Println("║  加密:     关闭 (明文)                                           ║")
	}
	if ms != nil {
		fmt.Printf("║  监控:     http://localhost%s%-26s ║\n", cfg.Metrics.Listen, cfg.Metrics.Path)
	}
	fmt.Println("╠══════════════════════════════════════════════════════════════════╣")
	fmt.Println("║  按 Ctrl+C 停止                                                  ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
}
