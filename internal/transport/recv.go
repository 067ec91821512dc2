// =============================================================================
// 文件: internal/transport/recv.go
// 描述: 接收循环 - 唯一的入站数据报消费者, 按段类型分派到
//       确认处理、数据交付或连接拆除
// =============================================================================
package transport

import (
	"github.com/mrcgq/minitcp/internal/segment"
)

// receiveLoop 连接存活期间持续运行。底层通道读取失败视为正常终止信号
// (例如并发 Close 关掉了套接字), 不作为错误向上传播。
func (c *Conn) receiveLoop() error {
	buf := make([]byte, maxDatagramSize)

	for {
		if !c.isRunning() {
			return nil
		}

		n, _, err := c.ch.Recv(buf)
		if err != nil {
			return nil
		}
		c.stats.addSegmentReceived()

		seg, derr := segment.Decode(buf[:n])
		if derr != nil {
			// 不足一个头部的数据报直接丢弃, 不回复
			c.stats.addMalformedDropped()
			continue
		}

		c.handleSegment(seg)
	}
}

// handleSegment 按解析出的段类型分派
func (c *Conn) handleSegment(seg *segment.Segment) {
	// 对端窗口以最近一次非零通告为准 (流量控制预算)
	if seg.Window > 0 {
		c.mu.Lock()
		c.peerWindow = seg.Window
		c.mu.Unlock()
	}

	switch seg.Kind() {
	case segment.KindACK:
		c.stats.addAckReceived()
		c.handleAck(seg)
	case segment.KindPSH:
		c.handleData(seg)
	case segment.KindFIN:
		c.handleFin(seg)
	default:
		// SYN / SYN-ACK 只在握手阶段有意义, 残留的握手重传忽略
	}
}

// handleData 处理数据段。只接受序列号恰好等于期望值的按序段
// (不缓存乱序段, 有意的简化); 乱序与重复段不推进任何状态,
// 但无条件回复携带当前确认号与本地窗口的 ACK, 让对端尽快对齐。
func (c *Conn) handleData(seg *segment.Segment) {
	c.mu.Lock()

	if seg.Seq == c.ack {
		c.recvBuf = append(c.recvBuf, seg.Payload...)
		c.ack += uint32(len(seg.Payload))
		c.stats.addBytesReceived(uint64(len(seg.Payload)))
		c.notifyData()
		c.logf(2, "数据段已交付: seq=%d, len=%d, ack=%d", seg.Seq, len(seg.Payload), c.ack)
	} else {
		c.stats.addDupSegment()
		c.logf(2, "乱序/重复数据段: seq=%d, 期望=%d, 重新确认", seg.Seq, c.ack)
	}

	reply := segment.NewAck(c.localPort(), c.remotePort(), c.seq, c.ack, c.recvWindow)
	c.ch.Send(reply.Encode())
	c.stats.addSegmentSent()
	c.stats.addAckSent()

	c.mu.Unlock()
}

// handleFin 处理对端 FIN: 记录 finReceived 并立即确认;
// 本端尚未发 FIN 则顺势发出 (被动关闭回声), 构成经典四次挥手 -
// 双方同时关闭时两个方向的交换自然重叠。
func (c *Conn) handleFin(seg *segment.Segment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.finReceived = true

	// FIN 占用一个序列号; 只有按序到达才推进确认号,
	// 乱序 FIN 不能越过尚未交付的数据
	if seg.Seq == c.ack {
		c.ack = seg.Seq + 1
	}

	reply := segment.NewAck(c.localPort(), c.remotePort(), c.seq, c.ack, c.recvWindow)
	c.ch.Send(reply.Encode())
	c.stats.addSegmentSent()
	c.stats.addAckSent()
	c.logf(1, "收到 FIN: seq=%d, 已确认", seg.Seq)

	if !c.finSent {
		fin := segment.NewFin(c.localPort(), c.remotePort(), c.seq, c.ack, c.recvWindow)
		c.ch.Send(fin.Encode())
		c.stats.addSegmentSent()
		c.finSeq = c.seq
		c.seq++
		c.finSent = true
		c.state = StateLastAck
		c.logf(1, "FIN 已回发 (被动关闭): seq=%d", c.finSeq)
	}
}
