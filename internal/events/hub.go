// Package events 实现状态流转事件的 WebSocket 推送：订阅者可按 subjectId 过滤。
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// Event 一次状态流转。
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // <kind>.<action>，如 policy_request.approve、claim.pay
	SubjectID string    `json:"subjectId"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher 事件发布；实现不得阻塞调用方。
type Publisher interface {
	Publish(ev Event)
}

// Nop 丢弃所有事件。
type Nop struct{}

func (Nop) Publish(Event) {}

// ClientMessage 客户端消息：subscribe 为空表示接收全部。
type ClientMessage struct {
	Subscribe *string `json:"subscribe,omitempty"`
	Ping      string  `json:"ping,omitempty"`
}

// ServerMessage 服务端消息。
type ServerMessage struct {
	Event      *Event  `json:"event,omitempty"`
	Subscribed *string `json:"subscribed,omitempty"`
	Pong       string  `json:"pong,omitempty"`
}

const sendBuffer = 32

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan ServerMessage

	mu     sync.RWMutex
	filter string
}

func (c *client) wants(subjectID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter == "" || c.filter == subjectID
}

// Hub 维护订阅连接并广播事件。慢订阅者的事件被丢弃而不是阻塞发布方。
type Hub struct {
	log logrus.FieldLogger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub 创建 Hub。
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{log: log.WithField("component", "events"), clients: make(map[*client]struct{})}
}

// Publish 实现 Publisher；补全 ID 与时间戳。
func (h *Hub) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(ev.SubjectID) {
			continue
		}
		e := ev
		select {
		case c.send <- ServerMessage{Event: &e}:
		default:
			h.log.WithFields(logrus.Fields{"event": ev.Type, "subject": ev.SubjectID}).Warn("事件订阅者过慢，已丢弃")
		}
	}
}

// Subscribers 当前连接数。
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP 升级为 WebSocket 并注册订阅者，直到连接断开。
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, send: make(chan ServerMessage, sendBuffer), filter: r.URL.Query().Get("subjectId")}
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	done := make(chan struct{})
	go h.writeLoop(c, done)
	h.readLoop(c)
	h.unregister(c)
	<-done
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// readLoop 处理 subscribe / ping；连接出错即返回。
func (h *Hub) readLoop(c *client) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Subscribe != nil {
			c.mu.Lock()
			c.filter = *msg.Subscribe
			c.mu.Unlock()
			h.trySend(c, ServerMessage{Subscribed: msg.Subscribe})
		}
		if msg.Ping != "" {
			h.trySend(c, ServerMessage{Pong: "pong"})
		}
	}
}

func (h *Hub) trySend(c *client, m ServerMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- m:
	default:
	}
}

// writeLoop 是连接上唯一的写者。
func (h *Hub) writeLoop(c *client, done chan<- struct{}) {
	defer close(done)
	for m := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteJSON(m); err != nil {
			_ = c.conn.Close()
			for range c.send {
			}
			return
		}
	}
	_ = c.conn.Close()
}

// Close 断开所有订阅者；之后的连接立即关闭。
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.Unlock()
	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

var _ Publisher = (*Hub)(nil)
