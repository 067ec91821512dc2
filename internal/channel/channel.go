// =============================================================================
// 文件: internal/channel/channel.go
// 描述: 数据报通道抽象 - 可靠传输引擎与底层介质解耦, 默认走 UDP
// =============================================================================
package channel

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ErrNoRemote 对端地址未绑定
var ErrNoRemote = errors.New("通道未绑定对端地址")

// Channel 一条点对点的数据报通道。每个 Recv/Send 对应一个完整数据报,
// 不保证可靠与有序 - 可靠性由上层传输引擎负责。
type Channel interface {
	// Recv 阻塞读取一个数据报, 返回长度与来源地址
	Recv(buf []byte) (int, net.Addr, error)

	// Send 向已绑定的对端发送一个数据报
	Send(p []byte) (int, error)

	// SetRemote 绑定对端地址 (被动侧在收到第一个 SYN 后调用)
	SetRemote(addr net.Addr)

	// SetRecvDeadline 设置读截止时间, 零值清除。
	// 并发关闭底层套接字同样会解除阻塞中的 Recv。
	SetRecvDeadline(t time.Time) error

	LocalAddr() net.Addr
	RemoteAddr() net.Addr

	Close() error
}

// IsTimeout 判断读取错误是否为截止时间超时
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// AddrPort 从通用地址中提取端口号 (段头的源/目的端口字段)
func AddrPort(addr net.Addr) uint16 {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return uint16(a.Port)
	case *net.TCPAddr:
		return uint16(a.Port)
	}
	return 0
}

// =============================================================================
// UDP 通道
// =============================================================================

// UDPChannel 基于未连接 UDP 套接字的数据报通道
type UDPChannel struct {
	conn *net.UDPConn

	mu     sync.RWMutex
	remote *net.UDPAddr
}

// ListenUDP 在本地地址上绑定一条 UDP 通道。
// 主动侧随后调用 SetRemote, 被动侧由第一个 SYN 的来源地址确定对端。
func ListenUDP(laddr string) (*UDPChannel, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("解析本地地址失败: %w", err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("绑定 UDP 套接字失败: %w", err)
	}

	return &UDPChannel{conn: conn}, nil
}

// ResolveUDP 解析一个 UDP 对端地址 (SetRemote 的参数)
func ResolveUDP(raddr string) (net.Addr, error) {
	return net.ResolveUDPAddr("udp", raddr)
}

func (c *UDPChannel) Recv(buf []byte) (int, net.Addr, error) {
	n, from, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		return 0, nil, err
	}
	return n, from, nil
}

func (c *UDPChannel) Send(p []byte) (int, error) {
	c.mu.RLock()
	remote := c.remote
	c.mu.RUnlock()

	if remote == nil {
		return 0, ErrNoRemote
	}
	return c.conn.WriteToUDP(p, remote)
}

func (c *UDPChannel) SetRemote(addr net.Addr) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return
	}
	c.mu.Lock()
	c.remote = udpAddr
	c.mu.Unlock()
}

func (c *UDPChannel) SetRecvDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *UDPChannel) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *UDPChannel) RemoteAddr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.remote == nil {
		return nil
	}
	return c.remote
}

func (c *UDPChannel) Close() error {
	return c.conn.Close()
}
