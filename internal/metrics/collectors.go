// =============================================================================
// 文件: internal/metrics/collectors.go
// 描述: Prometheus 指标收集器定义 - 按连接导出传输层统计
// =============================================================================
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ConnStats 连接统计数据接口, 由 transport.Conn 实现
type ConnStats interface {
	GetBytesSent() uint64
	GetBytesReceived() uint64
	GetSegmentsSent() uint64
	GetSegmentsReceived() uint64
	GetAcksSent() uint64
	GetAcksReceived() uint64
	GetRetransmits() uint64
	GetDupSegments() uint64
	GetInFlightBytes() int
	GetPeerWindow() uint16
	GetSRTTSeconds() float64
	GetRTOSeconds() float64
	GetStateName() string
	GetUptimeSeconds() float64
}

// ConnCollector 单条连接的指标收集器
type ConnCollector struct {
	stats ConnStats

	bytesSentDesc     *prometheus.Desc
	bytesReceivedDesc *prometheus.Desc
	segmentsSentDesc  *prometheus.Desc
	segmentsRecvDesc  *prometheus.Desc
	acksSentDesc      *prometheus.Desc
	acksRecvDesc      *prometheus.Desc
	retransmitsDesc   *prometheus.Desc
	dupSegmentsDesc   *prometheus.Desc
	inFlightDesc      *prometheus.Desc
	peerWindowDesc    *prometheus.Desc
	srttDesc          *prometheus.Desc
	rtoDesc           *prometheus.Desc
	stateDesc         *prometheus.Desc
	uptimeDesc        *prometheus.Desc
}

// NewConnCollector 创建连接指标收集器, name 作为 conn 标签区分多条连接
func NewConnCollector(name string, stats ConnStats) *ConnCollector {
	labels := prometheus.Labels{"conn": name}

	return &ConnCollector{
		stats: stats,

		bytesSentDesc: prometheus.NewDesc(
			"minitcp_conn_bytes_sent_total",
			"应用数据发送字节总数", nil, labels),
		bytesReceivedDesc: prometheus.NewDesc(
			"minitcp_conn_bytes_received_total",
			"按序交付的应用数据字节总数", nil, labels),
		segmentsSentDesc: prometheus.NewDesc(
			"minitcp_conn_segments_sent_total",
			"发出的段总数 (含重传与控制段)", nil, labels),
		segmentsRecvDesc: prometheus.NewDesc(
			"minitcp_conn_segments_received_total",
			"收到的数据报总数", nil, labels),
		acksSentDesc: prometheus.NewDesc(
			"minitcp_conn_acks_sent_total",
			"发出的确认段总数", nil, labels),
		acksRecvDesc: prometheus.NewDesc(
			"minitcp_conn_acks_received_total",
			"收到的确认段总数", nil, labels),
		retransmitsDesc: prometheus.NewDesc(
			"minitcp_conn_retransmits_total",
			"超时重传次数", nil, labels),
		dupSegmentsDesc: prometheus.NewDesc(
			"minitcp_conn_dup_segments_total",
			"被丢弃的乱序/重复数据段数", nil, labels),
		inFlightDesc: prometheus.NewDesc(
			"minitcp_conn_in_flight_bytes",
			"在途未确认字节数", nil, labels),
		peerWindowDesc: prometheus.NewDesc(
			"minitcp_conn_peer_window_bytes",
			"对端最近通告的接收窗口", nil, labels),
		srttDesc: prometheus.NewDesc(
			"minitcp_conn_srtt_seconds",
			"平滑往返时延估计", nil, labels),
		rtoDesc: prometheus.NewDesc(
			"minitcp_conn_rto_seconds",
			"当前重传超时间隔", nil, labels),
		stateDesc: prometheus.NewDesc(
			"minitcp_conn_state",
			"连接状态 (state 标签, 值恒为 1)", []string{"state"}, labels),
		uptimeDesc: prometheus.NewDesc(
			"minitcp_conn_uptime_seconds",
			"连接存活时长", nil, labels),
	}
}

// Describe 实现 prometheus.Collector
func (c *ConnCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytesSentDesc
	ch <- c.bytesReceivedDesc
	ch <- c.segmentsSentDesc
	ch <- c.segmentsRecvDesc
	ch <- c.acksSentDesc
	ch <- c.acksRecvDesc
	ch <- c.retransmitsDesc
	ch <- c.dupSegmentsDesc
	ch <- c.inFlightDesc
	ch <- c.peerWindowDesc
	ch <- c.srttDesc
	ch <- c.rtoDesc
	ch <- c.stateDesc
	ch <- c.uptimeDesc
}

// Collect 实现 prometheus.Collector
func (c *ConnCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.bytesSentDesc,
		prometheus.CounterValue, float64(c.stats.GetBytesSent()))
	ch <- prometheus.MustNewConstMetric(c.bytesReceivedDesc,
		prometheus.CounterValue, float64(c.stats.GetBytesReceived()))
	ch <- prometheus.MustNewConstMetric(c.segmentsSentDesc,
		prometheus.CounterValue, float64(c.stats.GetSegmentsSent()))
	ch <- prometheus.MustNewConstMetric(c.segmentsRecvDesc,
		prometheus.CounterValue, float64(c.stats.GetSegmentsReceived()))
	ch <- prometheus.MustNewConstMetric(c.acksSentDesc,
		prometheus.CounterValue, float64(c.stats.GetAcksSent()))
	ch <- prometheus.MustNewConstMetric(c.acksRecvDesc,
		prometheus.CounterValue, float64(c.stats.GetAcksReceived()))
	ch <- prometheus.MustNewConstMetric(c.retransmitsDesc,
		prometheus.CounterValue, float64(c.stats.GetRetransmits()))
	ch <- prometheus.MustNewConstMetric(c.dupSegmentsDesc,
		prometheus.CounterValue, float64(c.stats.GetDupSegments()))
	ch <- prometheus.MustNewConstMetric(c.inFlightDesc,
		prometheus.GaugeValue, float64(c.stats.GetInFlightBytes()))
	ch <- prometheus.MustNewConstMetric(c.peerWindowDesc,
		prometheus.GaugeValue, float64(c.stats.GetPeerWindow()))
	ch <- prometheus.MustNewConstMetric(c.srttDesc,
		prometheus.GaugeValue, c.stats.GetSRTTSeconds())
	ch <- prometheus.MustNewConstMetric(c.rtoDesc,
		prometheus.GaugeValue, c.stats.GetRTOSeconds())
	ch <- prometheus.MustNewConstMetric(c.stateDesc,
		prometheus.GaugeValue, 1, c.stats.GetStateName())
	ch <- prometheus.MustNewConstMetric(c.uptimeDesc,
		prometheus.GaugeValue, c.stats.GetUptimeSeconds())
}
