package notify

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"orderflow/auth"
	"orderflow/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The channel is authenticated by the login handshake, not the origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Conn is one realtime client. Outbound events go through a buffered channel
// drained by a single writer goroutine; a full buffer drops the event.
type Conn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
}

// push enqueues without blocking. Delivery is best-effort, at most once.
func (c *Conn) push(msg []byte) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		metrics.NotificationsDroppedTotal.Inc()
	}
}

// Hub upgrades websocket clients, runs the login handshake and routes
// inbound room events. It owns the Registry address books.
type Hub struct {
	registry *Registry
	verifier *auth.Verifier
	log      *zap.Logger
}

func NewHub(registry *Registry, verifier *auth.Verifier, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{registry: registry, verifier: verifier, log: log}
}

// ServeHTTP upgrades the request and services the connection until it
// closes. All registry entries for the connection are removed on exit.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &Conn{
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	go c.writePump()
	h.readPump(c)
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (h *Hub) readPump(c *Conn) {
	defer func() {
		h.registry.Unregister(c)
		metrics.ActiveConnections.Set(float64(h.registry.Size()))
		close(c.done)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			h.log.Debug("malformed realtime event", zap.Error(err))
			continue
		}
		if err := h.handle(c, ev); err != nil {
			return
		}
	}
}

// handle processes one inbound event. A non-nil error tears the connection
// down.
func (h *Hub) handle(c *Conn, ev Event) error {
	if ev.Name == EventLogin {
		id, err := h.verifier.Verify(ev.Token)
		if err != nil {
			h.log.Warn("realtime login rejected", zap.Error(err))
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid token"),
				time.Now().Add(writeWait))
			return err
		}
		h.registry.Register(c, id)
		metrics.ActiveConnections.Set(float64(h.registry.Size()))
		h.log.Info("realtime client signed in",
			zap.String("user_id", id.UserID),
			zap.String("role", string(id.Role)),
		)
		return nil
	}

	// Everything past the handshake requires a bound identity.
	id, ok := h.registry.Identity(c)
	if !ok {
		return nil
	}

	switch ev.Name {
	case EventChatJoin:
		if ev.OrderID == "" {
			return nil
		}
		h.registry.JoinRoom(c, orderRoom(ev.OrderID))

	case EventChatNewMessage:
		if ev.OrderID == "" {
			return nil
		}
		h.relay(ev.OrderID, Event{
			Name:    EventChatNewMessage,
			OrderID: ev.OrderID,
			Data:    withSender(ev.Data, id.UserID),
		})

	case EventLocationShare:
		if ev.OrderID == "" {
			return nil
		}
		h.relay(ev.OrderID, Event{
			Name:    EventLocationShared,
			OrderID: ev.OrderID,
			Data:    withSender(ev.Data, id.UserID),
		})
	}
	return nil
}

func (h *Hub) relay(orderID string, ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		return
	}
	for _, c := range h.registry.RoomConns(orderRoom(orderID)) {
		c.push(msg)
	}
}

func withSender(data map[string]any, userID string) map[string]any {
	if data == nil {
		data = make(map[string]any)
	}
	data["sender_id"] = userID
	return data
}
