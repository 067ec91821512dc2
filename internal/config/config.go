// =============================================================================
// 文件: internal/config/config.go
// 描述: 配置管理 - YAML 加载、默认值与启动前校验
// =============================================================================
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mrcgq/minitcp/internal/transport"
)

// Config 主配置
type Config struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`

	Transport TransportConfig `yaml:"transport"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// TransportConfig 可靠传输参数
type TransportConfig struct {
	RecvWindow int `yaml:"recv_window"`
	MSS        int `yaml:"mss"`

	RTOInitMs int `yaml:"rto_init_ms"`
	RTOMinMs  int `yaml:"rto_min_ms"`
	RTOMaxMs  int `yaml:"rto_max_ms"`

	SynRetries        int `yaml:"syn_retries"`
	SynTimeoutMs      int `yaml:"syn_timeout_ms"`
	ConnectTimeoutSec int `yaml:"connect_timeout_sec"`
	AcceptAckWaitSec  int `yaml:"accept_ack_wait_sec"`

	DrainTimeoutSec int `yaml:"drain_timeout_sec"`
	CloseTimeoutSec int `yaml:"close_timeout_sec"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Listen      string `yaml:"listen"`
	Path        string `yaml:"path"`
	HealthPath  string `yaml:"health_path"`
	EnablePprof bool   `yaml:"enable_pprof"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Listen:   ":45321",
		LogLevel: "info",
		Transport: TransportConfig{
			RecvWindow:        transport.DefaultRecvWindow,
			MSS:               transport.DefaultMSS,
			RTOInitMs:         1500,
			RTOMinMs:          100,
			RTOMaxMs:          3000,
			SynRetries:        transport.DefaultSynRetries,
			SynTimeoutMs:      1500,
			ConnectTimeoutSec: 12,
			AcceptAckWaitSec:  5,
			DrainTimeoutSec:   15,
			CloseTimeoutSec:   5,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			Listen:     ":9090",
			Path:       "/metrics",
			HealthPath: "/health",
		},
	}
}

// WriteExampleConfig 生成带注释的示例配置文件
func WriteExampleConfig(path string) error {
	example := `# minitcp 配置文件

# 数据报监听地址 (被动侧)
listen: ":45321"

# 日志级别: debug / info / error
log_level: info

# 可靠传输参数
transport:
  recv_window: 4096        # 本地通告接收窗口 (字节, 最大 65535)
  mss: 1380                # 单段最大有效载荷 (字节)
  rto_init_ms: 1500        # 首个 RTT 样本前的重传超时
  rto_min_ms: 100          # RTO 钳制下限
  rto_max_ms: 3000         # RTO 钳制上限
  syn_retries: 8           # SYN 最大重发次数
  syn_timeout_ms: 1500     # 单次 SYN 等待时长
  connect_timeout_sec: 12  # 主动握手总时长上限
  accept_ack_wait_sec: 5   # 被动侧等待握手最终 ACK 时限
  drain_timeout_sec: 15    # 关闭前等待发送缓冲区排空上限
  close_timeout_sec: 5     # 等待四次挥手完成上限

# Prometheus 监控
metrics:
  enabled: false
  listen: ":9090"
  path: "/metrics"
  health_path: "/health"
  enable_pprof: false
`
	return os.WriteFile(path, []byte(example), 0644)
}

// Load 从文件加载配置, 未设置的字段保持默认值
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate 启动前校验, 错误配置在使用前就被拦截
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "error":
	default:
		return fmt.Errorf("无效的 log_level: %s (可选: debug/info/error)", c.LogLevel)
	}

	t := &c.Transport
	if t.RecvWindow <= 0 || t.RecvWindow > 65535 {
		return fmt.Errorf("recv_window 必须在 (0, 65535] 范围内: %d", t.RecvWindow)
	}
	if t.MSS <= 0 {
		return fmt.Errorf("mss 必须为正数: %d", t.MSS)
	}
	if t.MSS > t.RecvWindow {
		return fmt.Errorf("mss(%d) 不能大于 recv_window(%d): 单段必须能装入对端窗口", t.MSS, t.RecvWindow)
	}
	if t.RTOMinMs <= 0 {
		return fmt.Errorf("rto_min_ms 必须为正数: %d", t.RTOMinMs)
	}
	if t.RTOMaxMs < t.RTOMinMs {
		return fmt.Errorf("rto_max_ms(%d) 不能小于 rto_min_ms(%d)", t.RTOMaxMs, t.RTOMinMs)
	}
	if t.RTOInitMs <= 0 {
		return fmt.Errorf("rto_init_ms 必须为正数: %d", t.RTOInitMs)
	}
	if t.SynRetries <= 0 {
		return fmt.Errorf("syn_retries 必须为正数: %d", t.SynRetries)
	}
	if t.SynTimeoutMs <= 0 {
		return fmt.Errorf("syn_timeout_ms 必须为正数: %d", t.SynTimeoutMs)
	}
	if t.ConnectTimeoutSec <= 0 {
		return fmt.Errorf("connect_timeout_sec 必须为正数: %d", t.ConnectTimeoutSec)
	}
	if t.DrainTimeoutSec < 0 || t.CloseTimeoutSec < 0 {
		return fmt.Errorf("关闭等待时长不能为负数")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Listen == "" {
			return fmt.Errorf("metrics.enabled 时必须设置 metrics.listen")
		}
		if c.Metrics.Path == "" || c.Metrics.Path[0] != '/' {
			return fmt.Errorf("无效的 metrics.path: %q", c.Metrics.Path)
		}
		if c.Metrics.HealthPath == "" || c.Metrics.HealthPath[0] != '/' {
			return fmt.Errorf("无效的 metrics.health_path: %q", c.Metrics.HealthPath)
		}
		if c.Metrics.Path == c.Metrics.HealthPath {
			return fmt.Errorf("metrics.path 与 metrics.health_path 不能相同: %s", c.Metrics.Path)
		}
	}

	return nil
}

// ConnConfig 转换为传输层连接配置
func (t *TransportConfig) ConnConfig(logLevel string) *transport.Config {
	return &transport.Config{
		RecvWindow:       uint16(t.RecvWindow),
		MSS:              t.MSS,
		RTOInit:          time.Duration(t.RTOInitMs) * time.Millisecond,
		RTOMin:           time.Duration(t.RTOMinMs) * time.Millisecond,
		RTOMax:           time.Duration(t.RTOMaxMs) * time.Millisecond,
		SynRetries:       t.SynRetries,
		SynTimeout:       time.Duration(t.SynTimeoutMs) * time.Millisecond,
		ConnectTimeout:   time.Duration(t.ConnectTimeoutSec) * time.Second,
		AcceptAckTimeout: time.Duration(t.AcceptAckWaitSec) * time.Second,
		DrainTimeout:     time.Duration(t.DrainTimeoutSec) * time.Second,
		CloseTimeout:     time.Duration(t.CloseTimeoutSec) * time.Second,
		LogLevel:         logLevel,
	}
}
