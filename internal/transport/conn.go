// =============================================================================
// 文件: internal/transport/conn.go
// 描述: 可靠传输连接 - 三次握手、四次挥手与用户 API。
//       所有可变连接状态由单个互斥锁保护, 发送路径与接收循环共享。
// =============================================================================
package transport

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrcgq/minitcp/internal/channel"
	"github.com/mrcgq/minitcp/internal/segment"
)

// Conn 一条基于不可靠数据报通道的有序字节流连接。
// 每条连接独占一条通道、一组缓冲区和一个重传定时器, 连接之间无共享状态。
type Conn struct {
	ch  channel.Channel
	cfg *Config

	// mu 保护以下全部可变状态。临界区保持短小,
	// 每次外部操作 (Send/Recv/Close/定时器回调/接收循环) 只获取一次锁。
	mu    sync.Mutex
	state State
	seq   uint32 // 下一个待用序列号, 只增不减
	ack   uint32 // 期望对端的下一个序列号, 只增不减

	recvWindow uint16 // 本地通告窗口
	peerWindow uint16 // 对端最近通告的窗口

	sendBuf  []*sendEntry // 未确认段, 按序列号升序且字节流上连续
	inFlight int          // 在途未确认字节数
	recvBuf  []byte       // 按序交付的载荷累积缓冲

	connected   bool
	finSent     bool
	finAcked    bool
	finReceived bool
	running     bool   // 接收循环存活标志
	finSeq      uint32 // 本端 FIN 占用的序列号

	rtt *rttEstimator

	// 重传定时器: 单个定时器始终绑定最老的未确认段。
	// 代数计数保证 arm/disarm 与并发的确认处理互不干扰;
	// timerSeq 记录武装时的头端序列号, 头端换人只重新武装不重传。
	timer      *time.Timer
	timerArmed bool
	timerGen   uint64
	timerSeq   uint32

	// dataReady 容量为 1 的到货通知, 唤醒阻塞中的 Recv
	dataReady chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	grp    *errgroup.Group

	closeOnce sync.Once

	stats    statCounters
	start    time.Time
	logLevel int
}

// New 在给定通道上创建一条未连接的 Conn。
// 初始序列号随机抽取 (经典 TCP 做法, 避免陈旧连接的序列号碰撞)。
func New(ch channel.Channel, cfg *Config) *Conn {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.sanitize()

	ctx, cancel := context.WithCancel(context.Background())

	return &Conn{
		ch:         ch,
		cfg:        cfg,
		state:      StateClosed,
		seq:        uint32(rand.Intn(65536)),
		recvWindow: cfg.RecvWindow,
		peerWindow: cfg.RecvWindow, // 对端窗口未知前先按本地窗口估计
		rtt:        newRTTEstimator(cfg),
		dataReady:  make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		start:      time.Now(),
		logLevel:   parseLogLevel(cfg.LogLevel),
	}
}

// =============================================================================
// 握手 - 主动侧
// =============================================================================

// Connect 主动建立连接: CLOSED → SYN_SENT → ESTABLISHED。
// SYN 按固定短超时重发, 次数与总时长都受限; 预算耗尽返回 ErrConnectTimeout。
func (c *Conn) Connect(ctx context.Context, raddr net.Addr) error {
	c.mu.Lock()
	if c.state != StateClosed {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("无效状态: %s", state)
	}
	c.state = StateSynSent
	isn := c.seq
	c.mu.Unlock()

	c.ch.SetRemote(raddr)

	// ctx 取消时把读截止时间拨到过去, 解除阻塞中的 Recv (与 Accept 同款)
	stop := context.AfterFunc(ctx, func() {
		c.ch.SetRecvDeadline(time.Now())
	})
	defer stop()

	syn := segment.NewSyn(c.localPort(), c.remotePort(), isn, c.recvWindow)
	raw := syn.Encode()
	deadline := time.Now().Add(c.cfg.ConnectTimeout)
	buf := make([]byte, maxDatagramSize)

	for attempt := 1; attempt <= c.cfg.SynRetries && time.Now().Before(deadline); attempt++ {
		if err := ctx.Err(); err != nil {
			c.ch.SetRecvDeadline(time.Time{})
			c.setState(StateClosed)
			return err
		}

		if _, err := c.ch.Send(raw); err != nil {
			c.setState(StateClosed)
			return fmt.Errorf("发送 SYN 失败: %w", err)
		}
		c.stats.addSegmentSent()
		c.logf(2, "SYN 已发送 (第 %d 次), isn=%d", attempt, isn)

		attemptDeadline := time.Now().Add(c.cfg.SynTimeout)
		if attemptDeadline.After(deadline) {
			attemptDeadline = deadline
		}
		c.ch.SetRecvDeadline(attemptDeadline)

		// 本轮窗口内可能先收到无关数据报, 循环读取直到超时或命中 SYN-ACK
		for {
			n, _, err := c.ch.Recv(buf)
			if err != nil {
				break // 超时, 重发 SYN
			}
			seg, derr := segment.Decode(buf[:n])
			if derr != nil || seg.Kind() != segment.KindSYNACK {
				continue
			}

			c.ch.SetRecvDeadline(time.Time{})

			c.mu.Lock()
			c.ack = seg.Seq + 1 // 对端 isn + 1
			c.seq = isn + 1     // 本端 SYN 占用一个序列号
			if seg.Window > 0 {
				c.peerWindow = seg.Window
			}
			final := segment.NewAck(c.localPort(), c.remotePort(), c.seq, c.ack, c.recvWindow)
			c.ch.Send(final.Encode())
			c.stats.addSegmentSent()
			c.stats.addAckSent()
			c.connected = true
			c.running = true
			c.state = StateEstablished
			c.mu.Unlock()

			c.startReceiveLoop()
			c.logf(1, "连接已建立 (主动侧): seq=%d, ack=%d", isn+1, seg.Seq+1)
			return nil
		}
	}

	c.ch.SetRecvDeadline(time.Time{})
	c.setState(StateClosed)
	if err := ctx.Err(); err != nil {
		return err // 取消发生在最后一轮等待期间
	}
	return ErrConnectTimeout
}

// =============================================================================
// 握手 - 被动侧
// =============================================================================

// Accept 被动建立连接: LISTEN → SYN_RCVD → ESTABLISHED。
// 阻塞直到某个对端完成三次握手; 等待最终 ACK 超时则回到等待新 SYN。
func (c *Conn) Accept(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateClosed && c.state != StateListen {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("无效状态: %s", state)
	}
	c.state = StateListen
	isn := c.seq
	c.mu.Unlock()

	// ctx 取消时把读截止时间拨到过去, 解除阻塞中的 Recv
	stop := context.AfterFunc(ctx, func() {
		c.ch.SetRecvDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, maxDatagramSize)

	for {
		n, from, err := c.ch.Recv(buf)
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StateClosed)
				return ctx.Err()
			}
			if channel.IsTimeout(err) {
				continue
			}
			c.setState(StateClosed)
			return fmt.Errorf("等待 SYN 失败: %w", err)
		}

		seg, derr := segment.Decode(buf[:n])
		if derr != nil || seg.Kind() != segment.KindSYN {
			continue
		}

		c.ch.SetRemote(from)
		c.mu.Lock()
		c.ack = seg.Seq + 1
		if seg.Window > 0 {
			c.peerWindow = seg.Window
		}
		c.state = StateSynReceived
		c.mu.Unlock()

		synAck := segment.NewSynAck(c.localPort(), c.remotePort(), isn, seg.Seq+1, c.recvWindow)
		synAckRaw := synAck.Encode()
		c.ch.Send(synAckRaw)
		c.stats.addSegmentSent()
		c.logf(2, "收到 SYN (seq=%d), 已回复 SYN-ACK (isn=%d)", seg.Seq, isn)

		if c.waitFinalAck(isn, synAckRaw, buf) {
			c.mu.Lock()
			c.seq = isn + 1
			c.connected = true
			c.running = true
			c.state = StateEstablished
			c.mu.Unlock()

			c.startReceiveLoop()
			c.logf(1, "连接已建立 (被动侧): seq=%d, ack=%d", isn+1, seg.Seq+1)
			return nil
		}

		// 最终 ACK 未在时限内到达: 丢弃半连接, 回到监听
		c.logf(1, "等待握手最终 ACK 超时, 回到监听")
		c.setState(StateListen)
	}
}

// waitFinalAck 等待 ack 字段等于 isn+1 的握手最终 ACK。
// 期间重复到达的 SYN 视为 SYN-ACK 丢失, 原样重发。
func (c *Conn) waitFinalAck(isn uint32, synAckRaw, buf []byte) bool {
	c.ch.SetRecvDeadline(time.Now().Add(c.cfg.AcceptAckTimeout))
	defer c.ch.SetRecvDeadline(time.Time{})

	for {
		n, _, err := c.ch.Recv(buf)
		if err != nil {
			return false
		}
		seg, derr := segment.Decode(buf[:n])
		if derr != nil {
			continue
		}

		switch seg.Kind() {
		case segment.KindSYN:
			c.ch.Send(synAckRaw)
			c.stats.addSegmentSent()
		case segment.KindACK:
			if seg.Ack == isn+1 {
				return true
			}
		}
	}
}

// =============================================================================
// 接收 API
// =============================================================================

// Recv 读取最多 max 字节的按序载荷。缓冲区为空时阻塞,
// 直到数据到达或连接不再运行 - 连接结束返回空切片而非错误。
func (c *Conn) Recv(max int) ([]byte, error) {
	if max <= 0 {
		return nil, nil
	}

	for {
		c.mu.Lock()
		if len(c.recvBuf) > 0 {
			n := max
			if n > len(c.recvBuf) {
				n = len(c.recvBuf)
			}
			out := make([]byte, n)
			copy(out, c.recvBuf[:n])
			c.recvBuf = c.recvBuf[n:]
			c.mu.Unlock()
			return out, nil
		}
		running := c.running
		c.mu.Unlock()

		if !running {
			return nil, nil
		}

		select {
		case <-c.dataReady:
		case <-c.ctx.Done():
		}
	}
}

// =============================================================================
// 关闭 - 四次挥手
// =============================================================================

// Close 优雅关闭: 先等发送缓冲区排空 (有上限), 发出 FIN,
// 再等双方 FIN/ACK 齐备 (有上限), 最后无条件释放通道资源。
// 即使对端完全失联, Close 也在有界时间内返回。
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		wasConnected := c.connected
		c.mu.Unlock()

		if wasConnected {
			c.drainSendBuffer()

			c.mu.Lock()
			if !c.finSent {
				fin := segment.NewFin(c.localPort(), c.remotePort(), c.seq, c.ack, c.recvWindow)
				c.ch.Send(fin.Encode())
				c.stats.addSegmentSent()
				c.finSeq = c.seq
				c.seq++ // FIN 占用一个序列号
				c.finSent = true
				c.state = StateFinWait
				c.logf(1, "FIN 已发送: seq=%d", c.finSeq)
			}
			c.mu.Unlock()

			c.waitPeerClose()

			c.mu.Lock()
			if c.finReceived && !c.finAcked {
				// 对端 FIN 已到但本端 FIN 未获确认: 补发最终 ACK 后不再等待
				final := segment.NewAck(c.localPort(), c.remotePort(), c.seq, c.ack, c.recvWindow)
				c.ch.Send(final.Encode())
				c.stats.addSegmentSent()
				c.stats.addAckSent()
				c.logf(1, "最终 ACK 已发送")
			}
			c.stopTimerLocked()
			c.running = false
			c.connected = false
			c.state = StateClosed
			c.mu.Unlock()
		} else {
			c.mu.Lock()
			c.stopTimerLocked()
			c.running = false
			c.state = StateClosed
			c.mu.Unlock()
		}

		c.cancel()
		c.notifyData() // 唤醒阻塞中的 Recv
		c.ch.Close()   // 关闭数据报通道, 解除接收循环的阻塞读
		if c.grp != nil {
			c.grp.Wait()
		}
		c.logf(1, "连接已关闭")
	})

	return nil
}

// drainSendBuffer 等待未确认数据排空, 最多 DrainTimeout,
// 避免把未确认的应用数据直接丢弃
func (c *Conn) drainSendBuffer() {
	deadline := time.Now().Add(c.cfg.DrainTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		c.mu.Lock()
		empty := len(c.sendBuf) == 0
		c.mu.Unlock()
		if empty {
			return
		}
		if time.Now().After(deadline) {
			c.mu.Lock()
			left := c.inFlight
			c.mu.Unlock()
			c.logf(0, "关闭时发送缓冲区未排空, 放弃 %d 字节在途数据", left)
			return
		}
		select {
		case <-ticker.C:
		case <-c.ctx.Done():
			return
		}
	}
}

// waitPeerClose 等待 finReceived 与 finAcked 同时成立, 最多 CloseTimeout
func (c *Conn) waitPeerClose() {
	deadline := time.Now().Add(c.cfg.CloseTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		c.mu.Lock()
		done := c.finReceived && c.finAcked
		c.mu.Unlock()
		if done || time.Now().After(deadline) {
			return
		}
		select {
		case <-ticker.C:
		case <-c.ctx.Done():
			return
		}
	}
}

// =============================================================================
// 辅助方法
// =============================================================================

func (c *Conn) startReceiveLoop() {
	c.grp = new(errgroup.Group)
	c.grp.Go(c.receiveLoop)
}

// State 当前连接状态
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsEstablished 是否已完成握手
func (c *Conn) IsEstablished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Conn) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Conn) localPort() uint16 {
	return channel.AddrPort(c.ch.LocalAddr())
}

func (c *Conn) remotePort() uint16 {
	if addr := c.ch.RemoteAddr(); addr != nil {
		return channel.AddrPort(addr)
	}
	return 0
}

// notifyData 非阻塞投递到货通知
func (c *Conn) notifyData() {
	select {
	case c.dataReady <- struct{}{}:
	default:
	}
}

// =============================================================================
// 日志方法
// =============================================================================

func parseLogLevel(level string) int {
	switch level {
	case "debug":
		return 2
	case "error":
		return 0
	}
	return 1
}

func (c *Conn) logf(level int, format string, args ...interface{}) {
	if level > c.logLevel {
		return
	}
	prefix := map[int]string{0: "[ERROR]", 1: "[INFO]", 2: "[DEBUG]"}[level]
	fmt.Printf("%s %s [Conn] %s\n", prefix, time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
}
