// =============================================================================
// 文件: internal/config/config_test.go
// 描述: 配置鲁棒性测试 - 确保错误配置能在启动前被拦截
// =============================================================================
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// 默认值测试
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("基础配置默认值", func(t *testing.T) {
		if cfg.Listen != ":54330" {
			t.Errorf("Listen 默认值错误: got %s, want :54330", cfg.Listen)
		}
		if cfg.TimeWindow != 30 {
			t.Errorf("TimeWindow 默认值错误: got %d, want 30", cfg.TimeWindow)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel 默认值错误: got %s, want info", cfg.LogLevel)
		}
		if cfg.PSK != "" {
			t.Error("PSK 默认应为空 (明文)")
		}
	})

	t.Run("投递配置默认值", func(t *testing.T) {
		if cfg.Delivery.Total != 10 {
			t.Errorf("Delivery.Total 默认值错误: got %d, want 10", cfg.Delivery.Total)
		}
		if cfg.Delivery.SendIntervalMs != 1000 {
			t.Errorf("Delivery.SendIntervalMs 默认值错误: got %d, want 1000", cfg.Delivery.SendIntervalMs)
		}
		if cfg.Delivery.RetryTimeoutMs != 2000 {
			t.Errorf("Delivery.RetryTimeoutMs 默认值错误: got %d, want 2000", cfg.Delivery.RetryTimeoutMs)
		}
		if cfg.Delivery.RetryTickMs != 2000 {
			t.Errorf("Delivery.RetryTickMs 默认值错误: got %d, want 2000", cfg.Delivery.RetryTickMs)
		}
		if cfg.Delivery.MaxRetries != 3 {
			t.Errorf("Delivery.MaxRetries 默认值错误: got %d, want 3", cfg.Delivery.MaxRetries)
		}
		if cfg.Delivery.QueueCapacity != 10 {
			t.Errorf("Delivery.QueueCapacity 默认值错误: got %d, want 10", cfg.Delivery.QueueCapacity)
		}
	})

	t.Run("接收端配置默认值", func(t *testing.T) {
		if cfg.Receiver.DropProbability != 0.1 {
			t.Errorf("Receiver.DropProbability 默认值错误: got %f, want 0.1", cfg.Receiver.DropProbability)
		}
		if cfg.Receiver.Fingerprint != "chrome" {
			t.Errorf("Receiver.Fingerprint 默认值错误: got %s, want chrome", cfg.Receiver.Fingerprint)
		}
		if cfg.Receiver.ReconnectMax != 3 {
			t.Errorf("Receiver.ReconnectMax 默认值错误: got %d, want 3", cfg.Receiver.ReconnectMax)
		}
	})

	t.Run("WebSocket配置默认值", func(t *testing.T) {
		if cfg.WebSocket.Path != "/stream" {
			t.Errorf("WebSocket.Path 默认值错误: got %s, want /stream", cfg.WebSocket.Path)
		}
		if cfg.WebSocket.TLS {
			t.Error("WebSocket.TLS 默认应为 false")
		}
	})

	t.Run("Metrics配置默认值", func(t *testing.T) {
		if cfg.Metrics.Enabled {
			t.Error("Metrics.Enabled 默认应为 false")
		}
		if cfg.Metrics.Listen != ":9100" {
			t.Errorf("Metrics.Listen 默认值错误: got %s, want :9100", cfg.Metrics.Listen)
		}
		if cfg.Metrics.Path != "/metrics" {
			t.Errorf("Metrics.Path 默认值错误: got %s, want /metrics", cfg.Metrics.Path)
		}
	})

	t.Run("默认配置应通过校验", func(t *testing.T) {
		if err := cfg.Validate(); err != nil {
			t.Errorf("默认配置不应报错: %v", err)
		}
	})
}

// =============================================================================
// 校验测试
// =============================================================================

func TestValidateDelivery(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"总数为0", func(c *Config) { c.Delivery.Total = 0 }, "total"},
		{"总数过大", func(c *Config) { c.Delivery.Total = 2000000 }, "total"},
		{"生成节奏为0", func(c *Config) { c.Delivery.SendIntervalMs = 0 }, "send_interval_ms"},
		{"重传超时为0", func(c *Config) { c.Delivery.RetryTimeoutMs = 0 }, "retry_timeout_ms"},
		{"扫描周期为0", func(c *Config) { c.Delivery.RetryTickMs = 0 }, "retry_tick_ms"},
		{"重传次数为负", func(c *Config) { c.Delivery.MaxRetries = -1 }, "max_retries"},
		{"重传次数过大", func(c *Config) { c.Delivery.MaxRetries = 100 }, "max_retries"},
		{"队列容量为0", func(c *Config) { c.Delivery.QueueCapacity = 0 }, "queue_capacity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("应该校验失败")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("错误信息应包含 %q: %v", tt.field, err)
			}
		})
	}

	t.Run("重传次数为0合法", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Delivery.MaxRetries = 0 // 发一次就放弃
		if err := cfg.Validate(); err != nil {
			t.Errorf("重传次数 0 应该合法: %v", err)
		}
	})
}

func TestValidateReceiver(t *testing.T) {
	t.Run("丢弃概率越界", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Receiver.DropProbability = 1.5

		err := cfg.Validate()
		if err == nil {
			t.Error("丢弃概率 1.5 应该报错")
		}
	})

	t.Run("丢弃概率边界值", func(t *testing.T) {
		for _, p := range []float64{0, 0.5, 1} {
			cfg := DefaultConfig()
			cfg.Receiver.DropProbability = p
			if err := cfg.Validate(); err != nil {
				t.Errorf("丢弃概率 %v 应该合法: %v", p, err)
			}
		}
	})

	t.Run("取消阈值为负", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Receiver.CancelAfter = -1

		if err := cfg.Validate(); err == nil {
			t.Error("取消阈值为负应该报错")
		}
	})
}

func TestValidateTimeWindow(t *testing.T) {
	t.Run("明文时不校验时间窗口", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.PSK = ""
		cfg.TimeWindow = 0

		if err := cfg.Validate(); err != nil {
			t.Errorf("明文模式不应校验 time_window: %v", err)
		}
	})

	t.Run("加密时时间窗口越界", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.PSK = "some-psk"
		cfg.TimeWindow = 0

		err := cfg.Validate()
		if err == nil {
			t.Error("time_window 为 0 应该报错")
		}
		if !strings.Contains(err.Error(), "time_window") {
			t.Errorf("错误信息应包含'time_window': %v", err)
		}
	})
}

func TestValidateWebSocket(t *testing.T) {
	t.Run("路径缺少斜杠", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.WebSocket.Path = "stream"

		if err := cfg.Validate(); err == nil {
			t.Error("路径不以 / 开头应该报错")
		}
	})

	t.Run("空路径回填默认值", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.WebSocket.Path = ""

		if err := cfg.Validate(); err != nil {
			t.Fatalf("空路径不应报错: %v", err)
		}
		if cfg.WebSocket.Path != "/stream" {
			t.Errorf("空路径应回填为 /stream: got %s", cfg.WebSocket.Path)
		}
	})

	t.Run("TLS缺少证书", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.WebSocket.TLS = true

		if err := cfg.Validate(); err == nil {
			t.Error("TLS 缺少证书应该报错")
		}
	})
}

func TestValidatePortConflict(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Listen = ":9100"
	cfg.Metrics.Listen = ":9100"

	err := cfg.Validate()
	if err == nil {
		t.Error("应该检测到端口冲突")
	}
	if !strings.Contains(err.Error(), "冲突") {
		t.Errorf("错误信息应包含'冲突': %v", err)
	}
}

func TestValidateLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "verbose"

	if err := cfg.Validate(); err == nil {
		t.Error("无效日志级别应该报错")
	}
}

// =============================================================================
// 时长换算测试
// =============================================================================

func TestDurations(t *testing.T) {
	d := DeliveryConfig{SendIntervalMs: 250, RetryTimeoutMs: 1500, RetryTickMs: 500}

	if d.SendInterval() != 250*time.Millisecond {
		t.Errorf("SendInterval 错误: got %v", d.SendInterval())
	}
	if d.RetryTimeout() != 1500*time.Millisecond {
		t.Errorf("RetryTimeout 错误: got %v", d.RetryTimeout())
	}
	if d.RetryTick() != 500*time.Millisecond {
		t.Errorf("RetryTick 错误: got %v", d.RetryTick())
	}

	r := ReceiverConfig{ReconnectDelayMs: 750}
	if r.ReconnectDelay() != 750*time.Millisecond {
		t.Errorf("ReconnectDelay 错误: got %v", r.ReconnectDelay())
	}
}

// =============================================================================
// 端口解析测试
// =============================================================================

func TestParsePort(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		want    int
		wantErr bool
	}{
		{"冒号前缀", ":54330", 54330, false},
		{"完整地址", "0.0.0.0:8080", 8080, false},
		{"IPv6地址", "[::]:9000", 9000, false},
		{"仅端口号", "12345", 12345, false},
		{"无效格式", "invalid", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePort(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Errorf("parsePort(%s) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parsePort(%s) = %d, want %d", tt.addr, got, tt.want)
			}
		})
	}
}

// =============================================================================
// 配置文件加载测试
// =============================================================================

func TestLoad(t *testing.T) {
	t.Run("文件不存在", func(t *testing.T) {
		_, err := Load("/nonexistent/path/config.yaml")
		if err == nil {
			t.Error("加载不存在的文件应该报错")
		}
	})

	t.Run("有效配置文件", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.yaml")

		configContent := `
listen: ":54331"
log_level: "debug"

delivery:
  total: 20
  send_interval_ms: 500
  max_retries: 5

receiver:
  drop_probability: 0.25
`
		if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
			t.Fatalf("创建临时配置文件失败: %v", err)
		}

		cfg, err := Load(configPath)
		if err != nil {
			t.Fatalf("加载配置文件失败: %v", err)
		}

		if cfg.Listen != ":54331" {
			t.Errorf("Listen 错误: got %s", cfg.Listen)
		}
		if cfg.Delivery.Total != 20 {
			t.Errorf("Delivery.Total 错误: got %d", cfg.Delivery.Total)
		}
		if cfg.Delivery.MaxRetries != 5 {
			t.Errorf("Delivery.MaxRetries 错误: got %d", cfg.Delivery.MaxRetries)
		}
		if cfg.Receiver.DropProbability != 0.25 {
			t.Errorf("Receiver.DropProbability 错误: got %f", cfg.Receiver.DropProbability)
		}
		// 未覆盖的字段保持默认值
		if cfg.Delivery.RetryTimeoutMs != 2000 {
			t.Errorf("未覆盖字段应保持默认: got %d", cfg.Delivery.RetryTimeoutMs)
		}
	})

	t.Run("无效YAML格式", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "invalid.yaml")

		invalidContent := `
listen: ":54330"
  invalid: indentation
`
		if err := os.WriteFile(configPath, []byte(invalidContent), 0644); err != nil {
			t.Fatalf("创建临时配置文件失败: %v", err)
		}

		if _, err := Load(configPath); err == nil {
			t.Error("解析无效YAML应该报错")
		}
	})

	t.Run("非法值被校验拦截", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "bad.yaml")

		content := `
delivery:
  total: 0
`
		if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
			t.Fatalf("创建临时配置文件失败: %v", err)
		}

		if _, err := Load(configPath); err == nil {
			t.Error("total 为 0 应该校验失败")
		}
	})
}

// =============================================================================
// 示例配置测试
// =============================================================================

func TestExampleConfigRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "example.yaml")

	if err := WriteExampleConfig(configPath); err != nil {
		t.Fatalf("写入示例配置失败: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("示例配置应该能加载: %v", err)
	}

	def := DefaultConfig()
	if cfg.Listen != def.Listen {
		t.Errorf("示例配置 Listen 与默认值不一致: %s != %s", cfg.Listen, def.Listen)
	}
	if cfg.Delivery != def.Delivery {
		t.Errorf("示例配置 Delivery 与默认值不一致: %+v != %+v", cfg.Delivery, def.Delivery)
	}
}
