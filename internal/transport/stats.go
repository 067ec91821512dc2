// =============================================================================
// 文件: internal/transport/stats.go
// 描述: 连接统计 - 原子计数器、快照与监控取值方法
// =============================================================================
package transport

import (
	"sync/atomic"
	"time"
)

// statCounters 热路径上的原子计数器, 不经过连接锁
type statCounters struct {
	bytesSent     uint64
	bytesReceived uint64

	segmentsSent     uint64
	segmentsReceived uint64
	acksSent         uint64
	acksReceived     uint64

	retransmits      uint64
	dupSegments      uint64
	malformedDropped uint64
}

func (s *statCounters) addBytesSent(n uint64)     { atomic.AddUint64(&s.bytesSent, n) }
func (s *statCounters) addBytesReceived(n uint64) { atomic.AddUint64(&s.bytesReceived, n) }
func (s *statCounters) addSegmentSent()           { atomic.AddUint64(&s.segmentsSent, 1) }
func (s *statCounters) addSegmentReceived()       { atomic.AddUint64(&s.segmentsReceived, 1) }
func (s *statCounters) addAckSent()               { atomic.AddUint64(&s.acksSent, 1) }
func (s *statCounters) addAckReceived()           { atomic.AddUint64(&s.acksReceived, 1) }
func (s *statCounters) addRetransmit()            { atomic.AddUint64(&s.retransmits, 1) }
func (s *statCounters) addDupSegment()            { atomic.AddUint64(&s.dupSegments, 1) }
func (s *statCounters) addMalformedDropped()      { atomic.AddUint64(&s.malformedDropped, 1) }

// Stats 当前统计快照
func (c *Conn) Stats() Stats {
	c.mu.Lock()
	inFlight := c.inFlight
	peerWindow := c.peerWindow
	estimated := c.rtt.estimated
	dev := c.rtt.dev
	rto := c.rtt.timeout()
	state := c.state
	c.mu.Unlock()

	return Stats{
		BytesSent:        atomic.LoadUint64(&c.stats.bytesSent),
		BytesReceived:    atomic.LoadUint64(&c.stats.bytesReceived),
		SegmentsSent:     atomic.LoadUint64(&c.stats.segmentsSent),
		SegmentsReceived: atomic.LoadUint64(&c.stats.segmentsReceived),
		AcksSent:         atomic.LoadUint64(&c.stats.acksSent),
		AcksReceived:     atomic.LoadUint64(&c.stats.acksReceived),
		Retransmits:      atomic.LoadUint64(&c.stats.retransmits),
		DupSegments:      atomic.LoadUint64(&c.stats.dupSegments),
		MalformedDropped: atomic.LoadUint64(&c.stats.malformedDropped),
		InFlightBytes:    inFlight,
		PeerWindow:       peerWindow,
		EstimatedRTT:     estimated,
		DevRTT:           dev,
		RTO:              rto,
		State:            state.String(),
		Uptime:           time.Since(c.start),
	}
}

// =============================================================================
// 监控取值方法 - 供 metrics.ConnStats 接口消费
// =============================================================================

func (c *Conn) GetBytesSent() uint64 {
	return atomic.LoadUint64(&c.stats.bytesSent)
}

func (c *Conn) GetBytesReceived() uint64 {
	return atomic.LoadUint64(&c.stats.bytesReceived)
}

func (c *Conn) GetSegmentsSent() uint64 {
	return atomic.LoadUint64(&c.stats.segmentsSent)
}

func (c *Conn) GetSegmentsReceived() uint64 {
	return atomic.LoadUint64(&c.stats.segmentsReceived)
}

func (c *Conn) GetAcksSent() uint64 {
	return atomic.LoadUint64(&c.stats.acksSent)
}

func (c *Conn) GetAcksReceived() uint64 {
	return atomic.LoadUint64(&c.stats.acksReceived)
}

func (c *Conn) GetRetransmits() uint64 {
	return atomic.LoadUint64(&c.stats.retransmits)
}

func (c *Conn) GetDupSegments() uint64 {
	return atomic.LoadUint64(&c.stats.dupSegments)
}

func (c *Conn) GetInFlightBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

func (c *Conn) GetPeerWindow() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerWindow
}

func (c *Conn) GetSRTTSeconds() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rtt.estimated.Seconds()
}

func (c *Conn) GetRTOSeconds() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rtt.timeout().Seconds()
}

func (c *Conn) GetStateName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.String()
}

func (c *Conn) GetUptimeSeconds() float64 {
	return time.Since(c.start).Seconds()
}
