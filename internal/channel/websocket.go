// =============================================================================
// 文件: internal/channel/websocket.go
// 描述: WebSocket 数据报通道 - 每条二进制消息承载一个数据报, CDN 友好
// =============================================================================
package channel

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsReadBufferSize  = 32 * 1024
	wsWriteBufferSize = 32 * 1024
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  wsReadBufferSize,
	WriteBufferSize: wsWriteBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// WSChannel 基于单条 WebSocket 连接的数据报通道。
// 对端在拨号/升级时即固定, SetRemote 为空操作。
type WSChannel struct {
	conn *websocket.Conn

	// websocket.Conn 不支持并发写, 用互斥串行化
	writeMu sync.Mutex
}

// DialWS 主动侧: 拨号建立 WebSocket 通道
func DialWS(ctx context.Context, url string) (*WSChannel, error) {
	dialer := websocket.Dialer{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("WebSocket 拨号失败: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	return &WSChannel{conn: conn}, nil
}

// UpgradeWS 被动侧: 把一个 HTTP 请求升级为 WebSocket 通道
func UpgradeWS(w http.ResponseWriter, r *http.Request) (*WSChannel, error) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("WebSocket 升级失败: %w", err)
	}
	return &WSChannel{conn: conn}, nil
}

func (c *WSChannel) Recv(buf []byte) (int, net.Addr, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return 0, nil, err
		}
		if mt != websocket.BinaryMessage {
			// 控制帧以外的文本消息直接忽略
			continue
		}
		n := copy(buf, data)
		return n, c.conn.RemoteAddr(), nil
	}
}

func (c *WSChannel) Send(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetRemote WebSocket 通道点对点, 对端固定, 此处为空操作
func (c *WSChannel) SetRemote(addr net.Addr) {}

func (c *WSChannel) SetRecvDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *WSChannel) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *WSChannel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *WSChannel) Close() error {
	return c.conn.Close()
}
