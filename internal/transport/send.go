// =============================================================================
// 文件: internal/transport/send.go
// 描述: 可靠发送路径 - 分段、流量控制、累积确认处理与头端重传定时器
// =============================================================================
package transport

import (
	"time"

	"github.com/mrcgq/minitcp/internal/segment"
)

// sendEntry 发送缓冲区条目: 序列号 → {编码后的段, 发送时刻, 载荷}。
// 条目在字节流上始终连续 (发送侧不产生乱序)。
type sendEntry struct {
	seq     uint32
	raw     []byte // 编码后的完整段, 重传时原样发出
	payload []byte
	sentAt  time.Time
}

// end 该段载荷在字节流上的结束偏移 (不含)
func (e *sendEntry) end() uint32 {
	return e.seq + uint32(len(e.payload))
}

// =============================================================================
// 发送 API
// =============================================================================

// Send 发送应用数据。未建立连接时立即返回 ErrNotConnected。
// 数据按对端通告窗口与 MSS 切块; 在途字节数触顶时阻塞等待窗口释放
// (短间隔轮询, 非忙等)。
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.mu.Unlock()

	for off := 0; off < len(data); {
		if err := c.waitWindow(); err != nil {
			return err
		}

		c.mu.Lock()
		if !c.connected {
			c.mu.Unlock()
			return ErrNotConnected
		}

		// 窗口可能在等待后又被并发的 Send 占用, 持锁重算预算
		budget := int(c.peerWindow) - c.inFlight
		if budget <= 0 {
			c.mu.Unlock()
			continue
		}
		n := len(data) - off
		if n > budget {
			n = budget
		}
		if n > c.cfg.MSS {
			n = c.cfg.MSS
		}

		seg := segment.NewData(c.localPort(), c.remotePort(), c.seq, c.ack, c.recvWindow, data[off:off+n])
		entry := &sendEntry{
			seq:     c.seq,
			raw:     seg.Encode(),
			payload: seg.Payload,
			sentAt:  time.Now(),
		}
		c.sendBuf = append(c.sendBuf, entry)
		c.inFlight += n

		c.ch.Send(entry.raw)
		c.seq += uint32(n)
		c.armTimerLocked()

		c.stats.addSegmentSent()
		c.stats.addBytesSent(uint64(n))
		c.logf(2, "数据段已发送: seq=%d, len=%d, 在途=%d", entry.seq, n, c.inFlight)
		c.mu.Unlock()

		off += n
	}

	return nil
}

// waitWindow 阻塞直到对端窗口内出现可用预算。连接终止时返回 ErrClosed。
func (c *Conn) waitWindow() error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		c.mu.Lock()
		if !c.running {
			c.mu.Unlock()
			return ErrClosed
		}
		budget := int(c.peerWindow) - c.inFlight
		c.mu.Unlock()

		if budget > 0 {
			return nil
		}

		select {
		case <-c.ctx.Done():
			return ErrClosed
		case <-ticker.C:
		}
	}
}

// =============================================================================
// 累积确认处理
// =============================================================================

// handleAck 处理收到的确认号: 移除所有结束偏移 ≤ ackNum 的缓冲条目
// (确认字节 N 即隐含确认 N 之前的全部字节)。最老被移除条目的存活时长
// 作为 RTT 样本喂给估算器; 缓冲区排空则停掉重传定时器。
func (c *Conn) handleAck(seg *segment.Segment) {
	ackNum := seg.Ack

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	var sample time.Duration
	for len(c.sendBuf) > 0 {
		e := c.sendBuf[0]
		if e.end() > ackNum {
			break // 未被完整覆盖的段保留
		}
		if removed == 0 {
			sample = time.Since(e.sentAt)
		}
		c.inFlight -= len(e.payload)
		c.sendBuf = c.sendBuf[1:]
		removed++
	}

	if removed > 0 {
		c.rtt.addSample(sample)
		c.logf(2, "ACK=%d 确认 %d 段, 样本 RTT=%v, RTO=%v", ackNum, removed, sample, c.rtt.timeout())
	}

	if c.finSent && !c.finAcked && ackNum >= c.finSeq+1 {
		c.finAcked = true
		c.logf(2, "本端 FIN 已获确认")
	}

	if len(c.sendBuf) == 0 {
		c.stopTimerLocked()
	}
}

// =============================================================================
// 重传定时器 - 单定时器绑定最老未确认段 (头端重传)
// =============================================================================

// armTimerLocked 启动定时器。幂等: 已在运行或无未确认段时不做任何事。
// 调用方必须持有 c.mu。
func (c *Conn) armTimerLocked() {
	if c.timerArmed || len(c.sendBuf) == 0 {
		return
	}
	c.timerArmed = true
	c.timerSeq = c.sendBuf[0].seq
	c.timerGen++
	gen := c.timerGen
	c.timer = time.AfterFunc(c.rtt.timeout(), func() {
		c.onRetransmitTimeout(gen)
	})
}

// stopTimerLocked 停止定时器。幂等; 代数递增使迟到的回调自行失效。
// 调用方必须持有 c.mu。
func (c *Conn) stopTimerLocked() {
	if !c.timerArmed {
		return
	}
	c.timerArmed = false
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
	}
}

// onRetransmitTimeout 定时器回调: 若绑定的条目仍是头端则重传并刷新其时间戳,
// 随后按当前超时间隔重新武装; 绑定条目已在等待期间被确认则只针对
// 新头端重新武装, 不重传 - 刚发出的段还在自己的 RTO 之内;
// 缓冲区已被并发确认清空则就此停下。
func (c *Conn) onRetransmitTimeout(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.timerGen || !c.timerArmed {
		return // 定时器已被并发的确认处理或关闭流程作废
	}
	c.timerArmed = false

	if !c.running || len(c.sendBuf) == 0 {
		return
	}

	e := c.sendBuf[0]
	if e.seq != c.timerSeq {
		c.logf(2, "定时器绑定段已确认, 针对新头端 seq=%d 重新武装", e.seq)
		c.armTimerLocked()
		return
	}
	c.ch.Send(e.raw)
	e.sentAt = time.Now()
	c.stats.addRetransmit()
	c.stats.addSegmentSent()
	c.logf(1, "重传: seq=%d, len=%d, RTO=%v", e.seq, len(e.payload), c.rtt.timeout())

	c.armTimerLocked()
}
