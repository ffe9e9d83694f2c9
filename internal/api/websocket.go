// Package api provides the HTTP and WebSocket server operators use to
// watch and steer a running orchestrator.
package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/DreamFulFil/atrader/internal/events"
)

// MessageType labels what a WSMessage carries.
type MessageType string

const (
	MsgTypeBar           MessageType = "bar"
	MsgTypeSignal        MessageType = "signal"
	MsgTypeFill          MessageType = "fill"
	MsgTypeRiskAlert     MessageType = "risk_alert"
	MsgTypeDrawdown      MessageType = "drawdown"
	MsgTypePositionUpdate MessageType = "position_update"
	MsgTypeHeartbeat     MessageType = "heartbeat"

	MsgTypeSubscribe   MessageType = "subscribe"
	MsgTypeUnsubscribe MessageType = "unsubscribe"
)

// WSMessage is the envelope pushed to and read from operator clients.
type WSMessage struct {
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Client is one connected operator's WebSocket session.
type Client struct {
	id            string
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]bool
	mu            sync.RWMutex
}

// Hub fans bus events out to every connected operator client, optionally
// filtered by the symbol-scoped channel a client subscribed to.
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	channels   map[string]map[*Client]bool
	mu         sync.RWMutex
}

// NewHub constructs an empty Hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		channels:   make(map[string]map[*Client]bool),
	}
}

// Run processes register/unregister/broadcast traffic and a 30-second
// heartbeat in an endless loop. It takes no context and never returns, so
// it runs in its own goroutine.
func (h *Hub) Run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("operator client registered", zap.String("id", client.id))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				for channel := range client.subscriptions {
					if clients, ok := h.channels[channel]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.channels, channel)
						}
					}
				}
			}
			h.mu.Unlock()
			h.logger.Debug("operator client unregistered", zap.String("id", client.id))

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()

		case <-ticker.C:
			h.sendHeartbeat()
		}
	}
}

func (h *Hub) sendHeartbeat() {
	data, _ := json.Marshal(WSMessage{Type: MsgTypeHeartbeat, Timestamp: time.Now().UnixMilli()})
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
		}
	}
}

// Subscribe adds client to channel's distribution list.
func (h *Hub) Subscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Client]bool)
	}
	h.channels[channel][client] = true

	client.mu.Lock()
	client.subscriptions[channel] = true
	client.mu.Unlock()
}

// Unsubscribe removes client from channel's distribution list.
func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.channels[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channels, channel)
		}
	}

	client.mu.Lock()
	delete(client.subscriptions, channel)
	client.mu.Unlock()
}

func (h *Hub) publishToChannel(channel string, msgType MessageType, payload interface{}) {
	dataBytes, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal WS payload", zap.Error(err))
		return
	}
	msgBytes, err := json.Marshal(WSMessage{Type: msgType, Channel: channel, Data: dataBytes, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		h.logger.Error("failed to marshal WS message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.channels[channel]; ok {
		for client := range clients {
			select {
			case client.send <- msgBytes:
			default:
			}
		}
	}
}

func (h *Hub) broadcastAll(msgType MessageType, payload interface{}) {
	dataBytes, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal broadcast payload", zap.Error(err))
		return
	}
	msgBytes, err := json.Marshal(WSMessage{Type: msgType, Data: dataBytes, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		h.logger.Error("failed to marshal broadcast", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- msgBytes:
	default:
		h.logger.Warn("WS broadcast channel full, dropping message")
	}
}

// ClientCount reports the number of currently connected operator clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscribeBus registers a single catch-all handler on bus that fans each
// event out to the Hub: bar/signal/fill events go to their per-symbol
// channel ("bar:2454.TW") as well as the type-wide channel ("bar"),
// position events go only to their per-symbol channel ("position:2454.TW"),
// and risk/drawdown events broadcast to every connected client since an
// operator watching any symbol needs to see them.
func (h *Hub) SubscribeBus(bus *events.EventBus) {
	bus.SubscribeAll(func(event events.Event) error {
		switch e := event.(type) {
		case *events.BarEvent:
			h.publishToChannel("bar", MsgTypeBar, e)
			h.publishToChannel("bar:"+e.Symbol, MsgTypeBar, e)
		case *events.SignalEvent:
			h.publishToChannel("signal", MsgTypeSignal, e)
			h.publishToChannel("signal:"+e.Symbol, MsgTypeSignal, e)
		case *events.FillEvent:
			h.publishToChannel("fill", MsgTypeFill, e)
			h.publishToChannel("fill:"+e.Symbol, MsgTypeFill, e)
		case *events.RiskAlertEvent:
			h.broadcastAll(MsgTypeRiskAlert, e)
		case *events.DrawdownEvent:
			h.broadcastAll(MsgTypeDrawdown, e)
		case *events.PositionEvent:
			h.publishToChannel("position:"+e.Symbol, MsgTypePositionUpdate, e)
		}
		return nil
	})
}

// NewClient wraps conn as a registered operator session.
func NewClient(id string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{id: id, hub: hub, conn: conn, send: make(chan []byte, 256), subscriptions: make(map[string]bool)}
}

// ReadPump pumps subscribe/unsubscribe requests from conn to the hub until
// the connection closes.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WS read error", zap.Error(err))
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Warn("invalid WS message", zap.Error(err))
			continue
		}
		switch msg.Type {
		case MsgTypeSubscribe:
			c.hub.Subscribe(c, msg.Channel)
		case MsgTypeUnsubscribe:
			c.hub.Unsubscribe(c, msg.Channel)
		}
	}
}

// WritePump pumps queued messages from the hub to conn, pinging on an idle
// 54-second tick to keep the connection alive through proxies.
func (c *Client) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
