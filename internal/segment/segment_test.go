// =============================================================================
// 文件: internal/segment/segment_test.go
// 描述: 段编解码测试
// =============================================================================
package segment

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestSegmentEncodeDecode(t *testing.T) {
	original := NewData(40001, 50002, 12345, 67890, 4096, []byte("hello, segment"))

	encoded := original.Encode()
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}

	if decoded.SrcPort != original.SrcPort {
		t.Errorf("SrcPort 不匹配: got %d, want %d", decoded.SrcPort, original.SrcPort)
	}
	if decoded.DstPort != original.DstPort {
		t.Errorf("DstPort 不匹配: got %d, want %d", decoded.DstPort, original.DstPort)
	}
	if decoded.Seq != original.Seq {
		t.Errorf("Seq 不匹配: got %d, want %d", decoded.Seq, original.Seq)
	}
	if decoded.Ack != original.Ack {
		t.Errorf("Ack 不匹配: got %d, want %d", decoded.Ack, original.Ack)
	}
	if decoded.Window != original.Window {
		t.Errorf("Window 不匹配: got %d, want %d", decoded.Window, original.Window)
	}
	if !bytes.Equal(decoded.Payload, original.Payload) {
		t.Errorf("Payload 不匹配: got %q, want %q", decoded.Payload, original.Payload)
	}
}

func TestSegmentHeaderLayout(t *testing.T) {
	seg := NewSyn(1, 2, 99, 4096)
	raw := seg.Encode()

	if len(raw) != HeaderSize {
		t.Fatalf("无载荷段长度应为 %d: got %d", HeaderSize, len(raw))
	}

	t.Run("头长与标志组合字段", func(t *testing.T) {
		offsetFlags := binary.BigEndian.Uint16(raw[12:14])
		if offsetFlags>>12 != 5 {
			t.Errorf("头长字段应为 5: got %d", offsetFlags>>12)
		}
		if offsetFlags&flagMask != FlagSYN {
			t.Errorf("标志位应为 SYN(0x02): got 0x%02x", offsetFlags&flagMask)
		}
	})

	t.Run("保留字段恒为零", func(t *testing.T) {
		if binary.BigEndian.Uint16(raw[16:18]) != 0 {
			t.Error("校验和保留字段应为 0")
		}
		if binary.BigEndian.Uint16(raw[18:20]) != 0 {
			t.Error("紧急指针保留字段应为 0")
		}
	})
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode(make([]byte, HeaderSize-1)); err != ErrMalformedSegment {
		t.Errorf("不足 20 字节应返回 ErrMalformedSegment: got %v", err)
	}
	if _, err := Decode(nil); err != ErrMalformedSegment {
		t.Errorf("空数据报应返回 ErrMalformedSegment: got %v", err)
	}
	if _, err := Decode(make([]byte, HeaderSize)); err != nil {
		t.Errorf("恰好 20 字节应解码成功: got %v", err)
	}
}

func TestDecodePayloadLength(t *testing.T) {
	payload := []byte("0123456789")
	raw := NewData(1, 2, 0, 0, 0, payload).Encode()

	seg, err := Decode(raw)
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	// 载荷长度 = 数据报总长 - 头部长度
	if len(seg.Payload) != len(payload) {
		t.Errorf("载荷长度不正确: got %d, want %d", len(seg.Payload), len(payload))
	}
}

func TestKindPriority(t *testing.T) {
	cases := []struct {
		name  string
		flags uint16
		want  Kind
	}{
		{"纯 SYN", FlagSYN, KindSYN},
		{"纯 ACK", FlagACK, KindACK},
		{"纯 FIN", FlagFIN, KindFIN},
		{"纯 PSH", FlagPSH, KindPSH},
		{"SYN-ACK 优先于 SYN 和 ACK", FlagSYN | FlagACK, KindSYNACK},
		{"ACK 优先于 PSH", FlagPSH | FlagACK, KindACK},
		{"ACK 优先于 FIN", FlagFIN | FlagACK, KindACK},
		{"全零标志", 0, KindUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Segment{Flags: tc.flags}
			if got := s.Kind(); got != tc.want {
				t.Errorf("Kind 不正确: got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestNewDataCopiesPayload(t *testing.T) {
	src := []byte("mutable")
	seg := NewData(1, 2, 0, 0, 0, src)
	src[0] = 'X'

	if seg.Payload[0] == 'X' {
		t.Error("NewData 应拷贝载荷而不是引用调用方切片")
	}
}
