// =============================================================================
// 文件: cmd/courier-receiver/main.go
// 描述: 接收端入口 - 拨号、模拟丢弃、确认，支持主动取消与断线重连
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
	"github.com/mrcgq/233/internal/protocol"
	"github.com/mrcgq/233/internal/receiver"
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
	url := flag.String("url", "ws://127.0.0.1:54330/stream", "发送端地址")
	mode := flag.String("mode", "simple", "运行模式: simple (收完为止) / cancel (中途取消)")
	cancelAfter := flag.Int("cancel-after", 0, "cancel 模式下投递满 N 条后取消 (0 取默认值 5)")
	drop := flag.Float64("drop", -1, "覆盖丢弃概率 (0-1)")
	seed := flag.Int64("seed", 0, "覆盖随机种子")
	fingerprint := flag.String("fp", "", "覆盖 TLS 指纹 (wss): chrome/firefox/safari/ios/edge/random")
	insecure := flag.Bool("insecure", false, "跳过证书校验")
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		os.Exit(1)
	}

	if *drop >= 0 {
		cfg.Receiver.DropProbability = *drop
	}
	if *seed != 0 {
		cfg.Receiver.DropSeed = *seed
	}
	if *fingerprint != "" {
		cfg.Receiver.Fingerprint = *fingerprint
	}
	if *insecure {
		cfg.Receiver.Insecure = true
	}

	switch *mode {
	case "simple":
	case "cancel":
		if *cancelAfter <= 0 {
			*cancelAfter = 5
		}
		cfg.Receiver.CancelAfter = *cancelAfter
	default:
		fmt.Fprintf(os.Stderr, "无效模式: %s (支持: simple, cancel)\n", *mode)
		os.Exit(1)
	}

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

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n正在关闭...")
		cancel()
	}()

	log := newLogger(cfg.LogLevel)
	holder := &receiverHolder{}

	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(
			cfg.Metrics.Listen,
			cfg.Metrics.Path,
			cfg.Metrics.HealthPath,
			cfg.Metrics.EnablePprof,
		)
		metricsServer.MustRegisterCollector(metrics.NewReceiverCollector(holder))
		if err := metricsServer.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Metrics 启动失败: %v\n", err)
		}
		defer metricsServer.Stop()
	}

	log.info("连接 %s (模式: %s, 丢弃率: %.0f%%)", *url, *mode, cfg.Receiver.DropProbability*100)

	recvCfg := receiver.Config{
		DropProbability: cfg.Receiver.DropProbability,
		DropSeed:        cfg.Receiver.DropSeed,
		ExpectedTotal:   uint(cfg.Delivery.Total),
		CancelAfter:     int64(cfg.Receiver.CancelAfter),
	}

	dialOpts := transport.DialOptions{
		Fingerprint: transport.Fingerprint(cfg.Receiver.Fingerprint),
		ServerName:  cfg.Receiver.ServerName,
		Insecure:    cfg.Receiver.Insecure,
	}

	// 拨号失败与断连都按退避重连，正常完成或主动取消则退出
	attempt := 0
	for {
		ws, err := transport.Dial(ctx, *url, dialOpts)
		if err != nil {
			if ctx.Err() != nil {
				os.Exit(1)
			}
			attempt++
			if attempt > cfg.Receiver.ReconnectMax {
				fmt.Fprintf(os.Stderr, "连接失败 (已重试 %d 次): %v\n", attempt-1, err)
				os.Exit(1)
			}
			delay := cfg.Receiver.ReconnectDelay() * time.Duration(attempt)
			log.warn("连接失败: %v (%s 后重试)", err, delay)
			sleep(ctx, delay)
			continue
		}
		attempt = 0

		var stream transport.Stream = ws
		if cry != nil {
			stream = crypto.NewSealedStream(ws, cry)
		}

		rcv := receiver.New(stream, recvCfg, &logEvents{log: log})
		holder.set(rcv)

		outcome, err := rcv.Run(ctx)
		printStats(log, rcv, outcome)

		switch outcome {
		case session.OutcomeComplete:
			log.info("流正常结束")
			return
		case session.OutcomeCancelled:
			log.info("已主动取消")
			return
		default:
			if ctx.Err() != nil {
				os.Exit(1)
			}
			attempt++
			if attempt > cfg.Receiver.ReconnectMax {
				fmt.Fprintf(os.Stderr, "连接断开 (已重试 %d 次): %v\n", attempt-1, err)
				os.Exit(1)
			}
			delay := cfg.Receiver.ReconnectDelay() * time.Duration(attempt)
			log.warn("连接断开: %v (%s 后重连)", err, delay)
			sleep(ctx, delay)
		}
	}
}

// loadConfig 加载配置，默认路径不存在时使用内置默认值
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && path == "config.yaml" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func printStats(log *logger, r *receiver.Receiver, outcome session.Outcome) {
	log.info("接收摘要: 收到=%d 投递=%d 丢弃=%d 重复=%d 确认=%d 终态=%s",
		r.GetReceived(), r.GetDelivered(), r.GetDropped(), r.GetDuplicates(), r.GetAcksSent(), outcome)
}

// =============================================================================
// 接收事件日志
// =============================================================================

type logEvents struct {
	log *logger
}

func (e *logEvents) OnDelivered(msg *protocol.DataMessage) {
	e.log.info("收到消息 #%d: %s", msg.ID, string(msg.Payload))
}

func (e *logEvents) OnDropped(id int32) {
	e.log.info("模拟丢弃消息 #%d", id)
}

func (e *logEvents) OnDuplicate(id int32) {
	e.log.debug("重复消息 #%d (重新确认)", id)
}

func (e *logEvents) OnClosed(outcome session.Outcome, err error) {
	if err != nil {
		e.log.warn("流关闭: %s (%v)", outcome, err)
		return
	}
	e.log.debug("流关闭: %s", outcome)
}

// =============================================================================
// 指标适配: 始终指向最近一次会话
// =============================================================================

type receiverHolder struct {
	v atomic.Value // *receiver.Receiver
}

func (h *receiverHolder) set(r *receiver.Receiver) { h.v.Store(r) }

func (h *receiverHolder) get() *receiver.Receiver {
	r, _ := h.v.Load().(*receiver.Receiver)
	return r
}

func (h *receiverHolder) GetReceived() int64 {
	if r := h.get(); r != nil {
		return r.GetReceived()
	}
	return 0
}

func (h *receiverHolder) GetDelivered() int64 {
	if r := h.get(); r != nil {
		return r.GetDelivered()
	}
	return 0
}

func (h *receiverHolder) GetDropped() int64 {
	if r := h.get(); r != nil {
		return r.GetDropped()
	}
	return 0
}

func (h *receiverHolder) GetDuplicates() int64 {
	if r := h.get(); r != nil {
		return r.GetDuplicates()
	}
	return 0
}

func (h *receiverHolder) GetAcksSent() int64 {
	if r := h.get(); r != nil {
		return r.GetAcksSent()
	}
	return 0
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
	fmt.Printf("%s %s [Receiver] %s\n", prefix, time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
}

func (l *logger) debug(format string, args ...interface{}) { l.logf(3, "[DEBUG]", format, args...) }
func (l *logger) info(format string, args ...interface{})  { l.logf(2, "[INFO]", format, args...) }
func (l *logger) warn(format string, args ...interface{})  { l.logf(1, "[WARN]", format, args...) }

// =============================================================================
// 版本
// =============================================================================

func printVersion() {
	fmt.Printf("Courier Receiver v%s\n", Version)
	fmt.Printf("  Build: %s\n", BuildTime)
	fmt.Printf("  Commit: %s\n", GitCommit)
	fmt.Printf("  Go: %s\n", runtime.Version())
	fmt.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Println()
	fmt.Println("运行模式:")
	fmt.Println("  - simple : 按概率丢弃，收完为止")
	fmt.Println("  - cancel : 投递满 N 条后主动取消 (-cancel-after)")
	fmt.Println()
	fmt.Println("使用示例:")
	fmt.Println("  # 模拟 10% 丢包")
	fmt.Println("  courier-receiver -url ws://127.0.0.1:54330/stream -drop 0.1")
	fmt.Println()
	fmt.Println("  # 收到 5 条后取消")
	fmt.Println("  courier-receiver -mode cancel -cancel-after 5")
	fmt.Println()
	fmt.Println("  # wss + Chrome TLS 指纹")
	fmt.Println("  courier-receiver -url wss://example.com/stream -fp chrome")
}
