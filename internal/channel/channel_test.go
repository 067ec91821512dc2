// =============================================================================
// 文件: internal/channel/channel_test.go
// 描述: 数据报通道测试 - UDP 往返、超时语义与 WebSocket 通道
// =============================================================================
package channel

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestUDPRoundtrip(t *testing.T) {
	a, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("绑定通道 A 失败: %v", err)
	}
	defer a.Close()

	b, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("绑定通道 B 失败: %v", err)
	}
	defer b.Close()

	a.SetRemote(b.LocalAddr())
	b.SetRemote(a.LocalAddr())

	msg := []byte("datagram payload")
	if _, err := a.Send(msg); err != nil {
		t.Fatalf("发送失败: %v", err)
	}

	buf := make([]byte, 1024)
	b.SetRecvDeadline(time.Now().Add(2 * time.Second))
	n, from, err := b.Recv(buf)
	if err != nil {
		t.Fatalf("接收失败: %v", err)
	}
	if !bytes.Equal(buf[:n], msg) {
		t.Errorf("数据不一致: got %q, want %q", buf[:n], msg)
	}
	if AddrPort(from) != AddrPort(a.LocalAddr()) {
		t.Errorf("来源端口不正确: got %d, want %d", AddrPort(from), AddrPort(a.LocalAddr()))
	}
}

func TestUDPSendWithoutRemote(t *testing.T) {
	ch, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("绑定通道失败: %v", err)
	}
	defer ch.Close()

	if _, err := ch.Send([]byte("nowhere")); err != ErrNoRemote {
		t.Errorf("未绑定对端时 Send 应返回 ErrNoRemote: got %v", err)
	}
	if ch.RemoteAddr() != nil {
		t.Error("未绑定对端时 RemoteAddr 应为 nil")
	}
}

func TestUDPRecvDeadline(t *testing.T) {
	ch, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("绑定通道失败: %v", err)
	}
	defer ch.Close()

	ch.SetRecvDeadline(time.Now().Add(50 * time.Millisecond))

	buf := make([]byte, 64)
	start := time.Now()
	_, _, err = ch.Recv(buf)
	if err == nil {
		t.Fatal("截止时间过后 Recv 应返回错误")
	}
	if !IsTimeout(err) {
		t.Errorf("IsTimeout 应识别截止时间错误: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("超时返回耗时过长: %v", elapsed)
	}
}

func TestAddrPort(t *testing.T) {
	tests := []struct {
		name string
		addr net.Addr
		want uint16
	}{
		{"UDP 地址", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9999}, 9999},
		{"TCP 地址", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8888}, 8888},
		{"不支持的地址类型", &net.UnixAddr{Name: "/tmp/sock"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AddrPort(tt.addr); got != tt.want {
				t.Errorf("AddrPort(%v) = %d, want %d", tt.addr, got, tt.want)
			}
		})
	}
}

// =============================================================================
// WebSocket 通道
// =============================================================================

func TestWSRoundtrip(t *testing.T) {
	serverChs := make(chan *WSChannel, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := UpgradeWS(w, r)
		if err != nil {
			t.Errorf("升级 WebSocket 失败: %v", err)
			return
		}
		serverChs <- ws
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client, err := DialWS(ctx, url)
	if err != nil {
		t.Fatalf("拨号失败: %v", err)
	}
	defer client.Close()

	var server *WSChannel
	select {
	case server = <-serverChs:
	case <-time.After(3 * time.Second):
		t.Fatal("等待服务端通道超时")
	}
	defer server.Close()

	// 客户端 → 服务端
	msg := []byte{0x00, 0x01, 0xFF, 0x7E} // 二进制数据报原样往返
	if _, err := client.Send(msg); err != nil {
		t.Fatalf("客户端发送失败: %v", err)
	}
	buf := make([]byte, 1024)
	server.SetRecvDeadline(time.Now().Add(2 * time.Second))
	n, from, err := server.Recv(buf)
	if err != nil {
		t.Fatalf("服务端接收失败: %v", err)
	}
	if !bytes.Equal(buf[:n], msg) {
		t.Errorf("服务端收到数据不一致: got %v, want %v", buf[:n], msg)
	}
	if from == nil {
		t.Error("来源地址不应为 nil")
	}

	// 服务端 → 客户端
	reply := []byte("pong")
	if _, err := server.Send(reply); err != nil {
		t.Fatalf("服务端发送失败: %v", err)
	}
	client.SetRecvDeadline(time.Now().Add(2 * time.Second))
	n, _, err = client.Recv(buf)
	if err != nil {
		t.Fatalf("客户端接收失败: %v", err)
	}
	if !bytes.Equal(buf[:n], reply) {
		t.Errorf("客户端收到数据不一致: got %q, want %q", buf[:n], reply)
	}
}

func TestWSAddrs(t *testing.T) {
	serverChs := make(chan *WSChannel, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ws, err := UpgradeWS(w, r); err == nil {
			serverChs <- ws
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client, err := DialWS(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatalf("拨号失败: %v", err)
	}
	defer client.Close()

	select {
	case server := <-serverChs:
		defer server.Close()
		if server.LocalAddr() == nil || server.RemoteAddr() == nil {
			t.Error("WebSocket 通道两端地址都应非空")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("等待服务端通道超时")
	}

	if client.LocalAddr() == nil || client.RemoteAddr() == nil {
		t.Error("客户端通道两端地址都应非空")
	}
}
