// =============================================================================
// 文件: internal/segment/segment.go
// 描述: 段编解码 - 固定 20 字节头部 (仿 TCP 段头), 无状态纯函数
// =============================================================================
package segment

import (
	"encoding/binary"
	"errors"
)

// 协议常量
const (
	// HeaderSize 头部固定大小:
	// 源端口(2) + 目的端口(2) + 序列号(4) + 确认号(4) +
	// 头长/标志(2) + 接收窗口(2) + 校验和保留(2) + 紧急指针保留(2) = 20 bytes
	HeaderSize = 20

	// 标志位 (头长/标志字段的低 12 位)
	FlagFIN uint16 = 0x0001 // 结束 (连接关闭)
	FlagSYN uint16 = 0x0002 // 同步 (连接建立)
	FlagPSH uint16 = 0x0008 // 数据推送
	FlagACK uint16 = 0x0010 // 确认

	// FlagSYNACK SYN 与 ACK 的组合 (握手第二步)
	FlagSYNACK = FlagSYN | FlagACK // 0x0012

	// 头长字段: 高 4 位恒为 5 (20 字节 / 4)
	headerLenBits uint16 = 5 << 12

	// flagMask 标志位掩码 (低 12 位)
	flagMask uint16 = 0x0FFF
)

// ErrMalformedSegment 数据报不足一个完整头部
var ErrMalformedSegment = errors.New("段格式错误: 头部不完整")

// Segment 线上传输单元
type Segment struct {
	SrcPort uint16 // 源端口
	DstPort uint16 // 目的端口
	Seq     uint32 // 序列号
	Ack     uint32 // 确认号
	Flags   uint16 // 标志位 (低 12 位有效)
	Window  uint16 // 通告接收窗口
	Payload []byte // 有效载荷
}

// Kind 段类型 - 按固定优先级从标志位解析出的带标签枚举
type Kind uint8

const (
	KindUnknown Kind = iota
	KindSYNACK
	KindSYN
	KindACK
	KindFIN
	KindPSH
)

func (k Kind) String() string {
	switch k {
	case KindSYNACK:
		return "SYN-ACK"
	case KindSYN:
		return "SYN"
	case KindACK:
		return "ACK"
	case KindFIN:
		return "FIN"
	case KindPSH:
		return "PSH"
	}
	return "UNKNOWN"
}

// Kind 解析段类型, 优先级固定: SYN-ACK > SYN > ACK > FIN > PSH。
// 注意这意味着 PSH|ACK 组合会被解析为 ACK; 数据段因此始终以纯 PSH 发送。
func (s *Segment) Kind() Kind {
	switch {
	case s.Flags&FlagSYNACK == FlagSYNACK:
		return KindSYNACK
	case s.Flags&FlagSYN != 0:
		return KindSYN
	case s.Flags&FlagACK != 0:
		return KindACK
	case s.Flags&FlagFIN != 0:
		return KindFIN
	case s.Flags&FlagPSH != 0:
		return KindPSH
	}
	return KindUnknown
}

// Encode 编码为数据报 (网络字节序)
func (s *Segment) Encode() []byte {
	buf := make([]byte, HeaderSize+len(s.Payload))

	binary.BigEndian.PutUint16(buf[0:2], s.SrcPort)
	binary.BigEndian.PutUint16(buf[2:4], s.DstPort)
	binary.BigEndian.PutUint32(buf[4:8], s.Seq)
	binary.BigEndian.PutUint32(buf[8:12], s.Ack)
	binary.BigEndian.PutUint16(buf[12:14], headerLenBits|(s.Flags&flagMask))
	binary.BigEndian.PutUint16(buf[14:16], s.Window)
	// buf[16:18] 校验和、buf[18:20] 紧急指针: 保留字段, 恒为 0

	copy(buf[HeaderSize:], s.Payload)
	return buf
}

// Decode 解码数据报。载荷长度由数据报总长减去头部长度隐式确定。
// 本层不校验载荷完整性 (有意的简化, 不做位翻转检测)。
func Decode(data []byte) (*Segment, error) {
	if len(data) < HeaderSize {
		return nil, ErrMalformedSegment
	}

	s := &Segment{
		SrcPort: binary.BigEndian.Uint16(data[0:2]),
		DstPort: binary.BigEndian.Uint16(data[2:4]),
		Seq:     binary.BigEndian.Uint32(data[4:8]),
		Ack:     binary.BigEndian.Uint32(data[8:12]),
		Flags:   binary.BigEndian.Uint16(data[12:14]) & flagMask,
		Window:  binary.BigEndian.Uint16(data[14:16]),
	}

	if len(data) > HeaderSize {
		s.Payload = make([]byte, len(data)-HeaderSize)
		copy(s.Payload, data[HeaderSize:])
	}

	return s, nil
}

// NewSyn 创建 SYN 段 (握手第一步)
func NewSyn(src, dst uint16, seq uint32, window uint16) *Segment {
	return &Segment{
		SrcPort: src,
		DstPort: dst,
		Seq:     seq,
		Flags:   FlagSYN,
		Window:  window,
	}
}

// NewSynAck 创建 SYN-ACK 段 (握手第二步)
func NewSynAck(src, dst uint16, seq, ack uint32, window uint16) *Segment {
	return &Segment{
		SrcPort: src,
		DstPort: dst,
		Seq:     seq,
		Ack:     ack,
		Flags:   FlagSYNACK,
		Window:  window,
	}
}

// NewAck 创建纯 ACK 段
func NewAck(src, dst uint16, seq, ack uint32, window uint16) *Segment {
	return &Segment{
		SrcPort: src,
		DstPort: dst,
		Seq:     seq,
		Ack:     ack,
		Flags:   FlagACK,
		Window:  window,
	}
}

// NewData 创建数据段。只带 PSH 标志: 加上 ACK 会被对端按优先级解析成纯确认。
func NewData(src, dst uint16, seq, ack uint32, window uint16, payload []byte) *Segment {
	s := &Segment{
		SrcPort: src,
		DstPort: dst,
		Seq:     seq,
		Ack:     ack,
		Flags:   FlagPSH,
		Window:  window,
	}
	if len(payload) > 0 {
		s.Payload = make([]byte, len(payload))
		copy(s.Payload, payload)
	}
	return s
}

// NewFin 创建 FIN 段。同样只带 FIN 标志, 理由同上。
func NewFin(src, dst uint16, seq, ack uint32, window uint16) *Segment {
	return &Segment{
		SrcPort: src,
		DstPort: dst,
		Seq:     seq,
		Ack:     ack,
		Flags:   FlagFIN,
		Window:  window,
	}
}
