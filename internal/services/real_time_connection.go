package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Daneel-Li/feedback-back/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type WSMessage struct {
	Type string      `json:"type"` // auth/feedback/pong
	Data interface{} `json:"data"`
}

// wsClient gorilla 连接不支持并发写，每个连接一把锁
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	slog.Debug("WriteJSON", "remote_addr", c.conn.RemoteAddr().String(), "content", v)
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

func (c *wsClient) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(100*time.Millisecond))
}

// WSManager 后台审核面板的实时连接，收到反馈事件后广播给所有在线审核员
type WSManager struct {
	// 一个连接对应一个审核员终端
	connections     map[TerminalKey]*wsClient
	moderatorIndex  map[string][]TerminalKey
	jwt             JWTService
	cleanupInterval time.Duration
	sync.RWMutex
}

func NewWsManager(jwt JWTService, cleanupInterval time.Duration) *WSManager {
	return &WSManager{
		jwt:             jwt,
		cleanupInterval: cleanupInterval,
		connections:     make(map[TerminalKey]*wsClient),
		moderatorIndex:  make(map[string][]TerminalKey),
	}
}

var _ NotificationDispatcher = (*WSManager)(nil)

type TerminalKey struct {
	Moderator string `json:"moderator"`
	Random    string `json:"random"` //随机短串
}

func (t TerminalKey) ToString() string {
	return fmt.Sprintf("%s:%s", t.Moderator, t.Random)
}

func (m *WSManager) getClient(key TerminalKey) *wsClient {
	m.RLock()
	defer m.RUnlock()
	return m.connections[key]
}

// setClient 同一 key 重连时替换旧连接，返回被替换的旧连接
func (m *WSManager) setClient(key TerminalKey, c *wsClient) *wsClient {
	m.Lock()
	defer m.Unlock()
	prev, exists := m.connections[key]
	m.connections[key] = c
	if !exists {
		m.moderatorIndex[key.Moderator] = append(m.moderatorIndex[key.Moderator], key)
	}
	return prev
}

// ConnectionCount 在线终端数
func (m *WSManager) ConnectionCount() int {
	m.RLock()
	defer m.RUnlock()
	return len(m.connections)
}

// RemoveConnection 删除连接（同步清理索引），key 已被新连接占用时不动
func (m *WSManager) RemoveConnection(key TerminalKey, c *wsClient) {
	m.Lock()
	defer m.Unlock()
	if m.connections[key] != c {
		return
	}
	m.removeLocked(key)
}

func (m *WSManager) removeLocked(key TerminalKey) {
	delete(m.connections, key)

	keys := m.moderatorIndex[key.Moderator]
	newKeys := make([]TerminalKey, 0, len(keys))
	for _, k := range keys {
		if k != key {
			newKeys = append(newKeys, k)
		}
	}
	if len(newKeys) == 0 {
		delete(m.moderatorIndex, key.Moderator)
	} else {
		m.moderatorIndex[key.Moderator] = newKeys
	}
}

func generateTerminalKey(moderator string) TerminalKey {
	return TerminalKey{
		moderator,
		uuid.New().String()[:8], // 短随机会话ID
	}
}

// AuthenticateAndRegister 首帧携带 token 鉴权，通过后注册并进入读循环
func (m *WSManager) AuthenticateAndRegister(conn *websocket.Conn) {
	defer func() {
		if err := recover(); err != nil {
			slog.Error("ws register panic", "error", err)
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "Server Error"),
				time.Now().Add(5*time.Second),
			)
			conn.Close()
		}
	}()

	// 首帧鉴权超时（5秒）
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}

	var auth struct {
		Token string       `json:"token"`
		WsKey *TerminalKey `json:"ws_key"` //断线重连时沿用原来的key
	}
	if json.Unmarshal(msg, &auth) != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Invalid auth msg"))
		conn.Close()
		return
	}
	moderator, err := m.jwt.ValidateToken(auth.Token)
	if err != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Invalid Token"))
		conn.Close()
		return
	}

	key := TerminalKey{}
	if auth.WsKey != nil && auth.WsKey.Moderator == moderator && auth.WsKey.Random != "" {
		key = *auth.WsKey
	} else {
		key = generateTerminalKey(moderator)
	}
	client := &wsClient{conn: conn}
	if prev := m.setClient(key, client); prev != nil {
		slog.Info("终端重连，关闭旧连接", "terminal", key.ToString())
		prev.conn.Close()
	}
	if err := client.writeJSON(WSMessage{
		Type: "auth",
		Data: map[string]interface{}{"terminal_key": key.ToString()}}); err != nil {
		slog.Error("push auth msg failed", "error", err)
	}

	go m.handleConnection(key, client)
}

func (m *WSManager) handleConnection(key TerminalKey, c *wsClient) {
	defer func() {
		m.RemoveConnection(key, c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Time{})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn(fmt.Sprintf("终端 %v 异常断开: %v", key, err))
			}
			return
		}

		in := WSMessage{}
		if err := json.Unmarshal(msg, &in); err != nil {
			slog.Error(fmt.Sprintf("解析终端 %v 消息失败: %v", key, err))
			continue
		}
		if in.Type == "ping" {
			if err := c.writeJSON(WSMessage{Type: "pong"}); err != nil {
				slog.Error(fmt.Sprintf("终端 %v 回送 pong 失败: %v", key, err))
			}
		}
	}
}

// PushMsg 发给指定终端
func (m *WSManager) PushMsg(key TerminalKey, v interface{}) error {
	c := m.getClient(key)
	if c == nil {
		return fmt.Errorf("no connection found for key: %s", key.ToString())
	}
	return c.writeJSON(v)
}

func (m *WSManager) snapshot() map[TerminalKey]*wsClient {
	m.RLock()
	defer m.RUnlock()
	out := make(map[TerminalKey]*wsClient, len(m.connections))
	for k, c := range m.connections {
		out[k] = c
	}
	return out
}

// Broadcast 推送给所有在线终端，单个失败不影响其他终端，返回成功送达的终端数
func (m *WSManager) Broadcast(v interface{}) (int, error) {
	var errs []error
	delivered := 0
	for key, c := range m.snapshot() {
		if err := c.writeJSON(v); err != nil {
			slog.Error("WriteJSON 失败", "terminal", key.ToString(), "error", err)
			errs = append(errs, err)
			continue
		}
		delivered++
	}
	if len(errs) > 0 {
		return delivered, fmt.Errorf("部分发送失败: %w", errors.Join(errs...))
	}
	return delivered, nil
}

// Send 至少送达一个终端即成功，失败的终端由定时 ping 清理
func (m *WSManager) Send(ctx context.Context, event Event, item *models.Feedback) error {
	delivered, err := m.Broadcast(WSMessage{Type: "feedback", Data: NewEnvelope(event, item)})
	if err != nil && delivered > 0 {
		return nil
	}
	return err
}

// Start 周期 ping，清理失效连接
func (m *WSManager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.cleanupDeadConnections()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *WSManager) cleanupDeadConnections() {
	for key, c := range m.snapshot() {
		if err := c.ping(); err != nil {
			m.RemoveConnection(key, c)
			c.conn.Close()
		}
	}
}
