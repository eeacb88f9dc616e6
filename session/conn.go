package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// ClientConn 面向客户端的下行通道抽象
type ClientConn interface {
	// Send 发送一条下行消息
	Send(ctx context.Context, n Notice) error
}

// WebSocketClientConn 将 websocket 连接适配为 ClientConn。
// 写操作通过 mutex 保护，因为 WebSocket 不支持并发写。
type WebSocketClientConn struct {
	conn   *websocket.Conn
	logger *zap.Logger
	mu     sync.Mutex // 保护写操作
	closed bool
}

// NewWebSocketClientConn 从已建立的 WebSocket 连接创建适配器。
func NewWebSocketClientConn(conn *websocket.Conn, logger *zap.Logger) *WebSocketClientConn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketClientConn{
		conn:   conn,
		logger: logger.With(zap.String("component", "client_conn")),
	}
}

// Send 将 Notice 序列化为 JSON 并通过 WebSocket 发送。
func (w *WebSocketClientConn) Send(ctx context.Context, n Notice) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("connection closed")
	}

	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}

	if err := w.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}

	return nil
}

// Close 关闭 WebSocket 连接。
func (w *WebSocketClientConn) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	return w.conn.Close(websocket.StatusNormalClosure, "closing")
}

// IsAlive 检查连接是否存活。
func (w *WebSocketClientConn) IsAlive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.closed
}
