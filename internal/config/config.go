// =============================================================================
// 文件: internal/config/config.go
// 描述: 配置管理 - 加载、默认值、校验、端口冲突检测
// =============================================================================
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 主配置
type Config struct {
	Listen     string `yaml:"listen"`
	PSK        string `yaml:"psk"` // 留空为明文传输
	TimeWindow int    `yaml:"time_window"`
	LogLevel   string `yaml:"log_level"`

	Delivery  DeliveryConfig  `yaml:"delivery"`
	Receiver  ReceiverConfig  `yaml:"receiver"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// DeliveryConfig 投递与重传配置
type DeliveryConfig struct {
	Total          int `yaml:"total"`
	SendIntervalMs int `yaml:"send_interval_ms"`
	RetryTimeoutMs int `yaml:"retry_timeout_ms"`
	RetryTickMs    int `yaml:"retry_tick_ms"`
	MaxRetries     int `yaml:"max_retries"`
	QueueCapacity  int `yaml:"queue_capacity"`
}

// ReceiverConfig 接收端配置
type ReceiverConfig struct {
	DropProbability float64 `yaml:"drop_probability"`
	DropSeed        int64   `yaml:"drop_seed"` // 0 = 随机种子
	CancelAfter     int     `yaml:"cancel_after"`

	Fingerprint string `yaml:"fingerprint"` // wss 时的 TLS 指纹
	ServerName  string `yaml:"server_name"`
	Insecure    bool   `yaml:"insecure"`

	ReconnectMax     int `yaml:"reconnect_max"`
	ReconnectDelayMs int `yaml:"reconnect_delay_ms"`
}

// WebSocketConfig WebSocket 传输配置
type WebSocketConfig struct {
	Path     string `yaml:"path"`
	TLS      bool   `yaml:"tls"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Listen      string `yaml:"listen"`
	Path        string `yaml:"path"`
	HealthPath  string `yaml:"health_path"`
	EnablePprof bool   `yaml:"enable_pprof"`
}

// Load 加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Listen:     ":54330",
		TimeWindow: 30,
		LogLevel:   "info",

		Delivery: DeliveryConfig{
			Total:          10,
			SendIntervalMs: 1000,
			RetryTimeoutMs: 2000,
			RetryTickMs:    2000,
			MaxRetries:     3,
			QueueCapacity:  10,
		},

		Receiver: ReceiverConfig{
			DropProbability:  0.1,
			Fingerprint:      "chrome",
			ReconnectMax:     3,
			ReconnectDelayMs: 1000,
		},

		WebSocket: WebSocketConfig{
			Path: "/stream",
		},

		Metrics: MetricsConfig{
			Enabled:     false,
			Listen:      ":9100",
			Path:        "/metrics",
			HealthPath:  "/health",
			EnablePprof: false,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	mainPort, err := parsePort(c.Listen)
	if err != nil {
		return fmt.Errorf("listen 端口格式错误: %w", err)
	}

	if c.PSK != "" {
		if c.TimeWindow < 1 || c.TimeWindow > 300 {
			return fmt.Errorf("time_window 需在 1-300 之间")
		}
	}

	d := c.Delivery
	if d.Total < 1 || d.Total > 1000000 {
		return fmt.Errorf("delivery.total 需在 1-1000000 之间")
	}
	if d.SendIntervalMs < 1 {
		return fmt.Errorf("delivery.send_interval_ms 必须大于 0")
	}
	if d.RetryTimeoutMs < 1 {
		return fmt.Errorf("delivery.retry_timeout_ms 必须大于 0")
	}
	if d.RetryTickMs < 1 {
		return fmt.Errorf("delivery.retry_tick_ms 必须大于 0")
	}
	if d.MaxRetries < 0 || d.MaxRetries > 50 {
		return fmt.Errorf("delivery.max_retries 需在 0-50 之间")
	}
	if d.QueueCapacity < 1 || d.QueueCapacity > 65536 {
		return fmt.Errorf("delivery.queue_capacity 需在 1-65536 之间")
	}

	if c.Receiver.DropProbability < 0 || c.Receiver.DropProbability > 1 {
		return fmt.Errorf("receiver.drop_probability 需在 0-1 之间")
	}
	if c.Receiver.CancelAfter < 0 {
		return fmt.Errorf("receiver.cancel_after 不能为负数")
	}

	if c.WebSocket.Path == "" {
		c.WebSocket.Path = "/stream"
	}
	if !strings.HasPrefix(c.WebSocket.Path, "/") {
		return fmt.Errorf("websocket.path 必须以 / 开头")
	}
	if c.WebSocket.TLS {
		if c.WebSocket.CertFile == "" || c.WebSocket.KeyFile == "" {
			return fmt.Errorf("websocket TLS 模式需要配置 cert_file 和 key_file")
		}
	}

	if c.Metrics.Enabled {
		metricsPort, err := parsePort(c.Metrics.Listen)
		if err != nil {
			return fmt.Errorf("metrics.listen 端口格式错误: %w", err)
		}
		if metricsPort == mainPort {
			return fmt.Errorf("metrics.listen 端口 (%d) 与 listen 冲突", metricsPort)
		}
	}

	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("无效的日志级别: %s (支持: debug, info, warn, error)", c.LogLevel)
	}

	return nil
}

// SendInterval 生成节奏
func (d DeliveryConfig) SendInterval() time.Duration {
	return time.Duration(d.SendIntervalMs) * time.Millisecond
}

// RetryTimeout 单条目重传超时
func (d DeliveryConfig) RetryTimeout() time.Duration {
	return time.Duration(d.RetryTimeoutMs) * time.Millisecond
}

// RetryTick 调度器扫描周期
func (d DeliveryConfig) RetryTick() time.Duration {
	return time.Duration(d.RetryTickMs) * time.Millisecond
}

// ReconnectDelay 重连退避基准
func (r ReceiverConfig) ReconnectDelay() time.Duration {
	return time.Duration(r.ReconnectDelayMs) * time.Millisecond
}

// parsePort 解析端口号
func parsePort(addr string) (int, error) {
	if strings.HasPrefix(addr, ":") {
		return strconv.Atoi(addr[1:])
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return strconv.Atoi(addr)
	}
	return strconv.Atoi(portStr)
}

// GetListenPort 获取监听端口
func (c *Config) GetListenPort() int {
	port, _ := parsePort(c.Listen)
	return port
}

// =============================================================================
// 配置文件示例生成
// =============================================================================

// GenerateExampleConfig 生成示例配置
func GenerateExampleConfig() string {
	return `# Courier 配置文件示例
# =============================================================================

# 基础配置
listen: ":54330"                    # 发送端监听地址
psk: ""                             # 预共享密钥 (使用 --gen-psk 生成，留空为明文)
time_window: 30                     # 密钥时间窗口 (秒，仅加密时生效)
log_level: "info"                   # 日志级别: debug, info, warn, error

# 投递与重传
delivery:
  total: 10                         # 消息总数
  send_interval_ms: 1000            # 生成节奏 (毫秒)
  retry_timeout_ms: 2000            # 重传超时 (毫秒)
  retry_tick_ms: 2000               # 调度器扫描周期 (毫秒)
  max_retries: 3                    # 最大重传次数
  queue_capacity: 10                # 出站队列容量

# 接收端
receiver:
  drop_probability: 0.1             # 丢弃概率
  drop_seed: 0                      # 随机种子 (0 = 按时间)
  cancel_after: 0                   # 投递满 N 条后主动取消 (0 = 从不)
  fingerprint: "chrome"             # wss TLS 指纹: chrome, firefox, safari, ios, edge, random
  server_name: ""                   # SNI 覆盖
  insecure: false                   # 跳过证书校验
  reconnect_max: 3                  # 最大重连次数
  reconnect_delay_ms: 1000          # 重连退避基准 (毫秒)

# WebSocket 传输
websocket:
  path: "/stream"                   # WebSocket 路径
  tls: false                        # 启用 TLS
  cert_file: ""                     # TLS 证书文件
  key_file: ""                      # TLS 密钥文件

# Prometheus 监控
metrics:
  enabled: false
  listen: ":9100"                   # 监控端口
  path: "/metrics"                  # Prometheus 指标路径
  health_path: "/health"            # 健康检查路径
  enable_pprof: false               # 启用 pprof
`
}

// WriteExampleConfig 写入示例配置文件
func WriteExampleConfig(path string) error {
	return os.WriteFile(path, []byte(GenerateExampleConfig()), 0644)
}
