// =============================================================================
// 文件: internal/transport/types.go
// 描述: 可靠传输 - 类型、常量与错误定义
// =============================================================================
package transport

import (
	"errors"
	"time"
)

// 错误定义
var (
	// ErrNotConnected 在握手完成前调用 Send
	ErrNotConnected = errors.New("连接未建立")

	// ErrConnectTimeout 主动握手重试预算耗尽
	ErrConnectTimeout = errors.New("连接超时: SYN 重试预算耗尽")

	// ErrClosed 连接已关闭
	ErrClosed = errors.New("连接已关闭")
)

// 默认参数
const (
	// DefaultRecvWindow 本地通告接收窗口 (字节)
	DefaultRecvWindow = 4096

	// DefaultMSS 单段最大有效载荷: 1400 MTU 预算减去 20 字节段头
	DefaultMSS = 1380

	// RTT 自适应超时: 首个样本到来前使用初始值, 之后按 EWMA 估算并
	// 钳制在 [RTOMin, RTOMax] 区间, 避免病态停顿或重传风暴
	DefaultRTOInit = 1500 * time.Millisecond
	DefaultRTOMin  = 100 * time.Millisecond
	DefaultRTOMax  = 3 * time.Second

	// 握手预算: 固定短超时重发 SYN, 次数与总时长双重上限
	DefaultSynRetries     = 8
	DefaultSynTimeout     = 1500 * time.Millisecond
	DefaultConnectTimeout = 12 * time.Second

	// DefaultAcceptAckTimeout 被动侧等待握手最终 ACK 的时限,
	// 超时后回到等待新 SYN
	DefaultAcceptAckTimeout = 5 * time.Second

	// 挥手预算: 先等发送缓冲区排空, 再等双方 FIN/ACK 齐备,
	// 两段都有硬上限 - Close 永不无限期阻塞
	DefaultDrainTimeout = 15 * time.Second
	DefaultCloseTimeout = 5 * time.Second

	// maxDatagramSize 单次读取的数据报缓冲大小
	maxDatagramSize = 65536

	// pollInterval 窗口等待与挥手等待的轮询间隔 (短睡眠, 非忙等)
	pollInterval = 10 * time.Millisecond
)

// State 连接状态
type State uint8

const (
	StateClosed State = iota
	StateListen
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait
	StateLastAck
)

func (s State) String() string {
	names := []string{
		"CLOSED", "LISTEN", "SYN_SENT", "SYN_RECEIVED",
		"ESTABLISHED", "FIN_WAIT", "LAST_ACK",
	}
	if int(s) < len(names) {
		return names[s]
	}
	return "UNKNOWN"
}

// Config 连接配置
type Config struct {
	RecvWindow uint16 // 本地通告接收窗口
	MSS        int    // 单段最大有效载荷

	RTOInit time.Duration
	RTOMin  time.Duration
	RTOMax  time.Duration

	SynRetries       int           // SYN 最大重发次数
	SynTimeout       time.Duration // 单次 SYN 等待时长
	ConnectTimeout   time.Duration // 主动握手总时长上限
	AcceptAckTimeout time.Duration // 被动侧等待最终 ACK 时限

	DrainTimeout time.Duration // 关闭前等待发送缓冲区排空上限
	CloseTimeout time.Duration // 等待四次挥手完成上限

	LogLevel string // error / info / debug
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		RecvWindow:       DefaultRecvWindow,
		MSS:              DefaultMSS,
		RTOInit:          DefaultRTOInit,
		RTOMin:           DefaultRTOMin,
		RTOMax:           DefaultRTOMax,
		SynRetries:       DefaultSynRetries,
		SynTimeout:       DefaultSynTimeout,
		ConnectTimeout:   DefaultConnectTimeout,
		AcceptAckTimeout: DefaultAcceptAckTimeout,
		DrainTimeout:     DefaultDrainTimeout,
		CloseTimeout:     DefaultCloseTimeout,
		LogLevel:         "info",
	}
}

// sanitize 补齐零值字段, 避免调用方传入残缺配置
func (c *Config) sanitize() {
	def := DefaultConfig()
	if c.RecvWindow == 0 {
		c.RecvWindow = def.RecvWindow
	}
	if c.MSS <= 0 {
		c.MSS = def.MSS
	}
	if c.RTOInit <= 0 {
		c.RTOInit = def.RTOInit
	}
	if c.RTOMin <= 0 {
		c.RTOMin = def.RTOMin
	}
	if c.RTOMax <= 0 {
		c.RTOMax = def.RTOMax
	}
	if c.SynRetries <= 0 {
		c.SynRetries = def.SynRetries
	}
	if c.SynTimeout <= 0 {
		c.SynTimeout = def.SynTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.AcceptAckTimeout <= 0 {
		c.AcceptAckTimeout = def.AcceptAckTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = def.DrainTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = def.CloseTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

// Stats 连接统计快照
type Stats struct {
	BytesSent     uint64
	BytesReceived uint64

	SegmentsSent     uint64
	SegmentsReceived uint64
	AcksSent         uint64
	AcksReceived     uint64

	Retransmits      uint64
	DupSegments      uint64 // 乱序/重复丢弃的数据段
	MalformedDropped uint64

	InFlightBytes int
	PeerWindow    uint16

	EstimatedRTT time.Duration
	DevRTT       time.Duration
	RTO          time.Duration

	State  string
	Uptime time.Duration
}
