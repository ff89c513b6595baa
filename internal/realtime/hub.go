// Package realtime fans out record changes to subscribed websocket clients.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mamadbah2/buildmart/internal/domain/models"
	"github.com/mamadbah2/buildmart/internal/metrics"
)

// EventType mirrors the row-level change kinds clients already understand.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Tables clients may subscribe to.
const (
	TablePurchaseOrders     = "purchase_orders"
	TableDeliveryNotes      = "delivery_notes"
	TableGoodsReceivedNotes = "goods_received_notes"
	TableInvoices           = "invoices"
	TableDeliveries         = "deliveries"
	TableDeliveryRequests   = "delivery_requests"
	TableRotationEntries    = "rotation_entries"
	TableQRCodes            = "qr_codes"
)

var knownTables = map[string]struct{}{
	TablePurchaseOrders:     {},
	TableDeliveryNotes:      {},
	TableGoodsReceivedNotes: {},
	TableInvoices:           {},
	TableDeliveries:         {},
	TableDeliveryRequests:   {},
	TableRotationEntries:    {},
	TableQRCodes:            {},
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 4096
)

// Change is one record change delivered to clients.
type Change struct {
	Table    string    `json:"table"`
	Type     EventType `json:"type"`
	RecordID string    `json:"record_id"`
	Record   any       `json:"record,omitempty"`
	// Audience holds the user ids allowed to see the change.
	Audience []string  `json:"-"`
	At       time.Time `json:"at"`
}

type clientMessage struct {
	Action string `json:"action"`
	Table  string `json:"table"`
}

type serverMessage struct {
	Type   string  `json:"type"`
	Table  string  `json:"table,omitempty"`
	Error  string  `json:"error,omitempty"`
	Change *Change `json:"change,omitempty"`
}

// Hub tracks connected clients and routes changes to them.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]struct{}
	upgrader   websocket.Upgrader
	sendBuffer int
	logger     *zap.Logger
}

// NewHub constructs a Hub. sendBuffer bounds each client's outgoing queue.
func NewHub(sendBuffer int, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Hub{
		clients:    make(map[*client]struct{}),
		sendBuffer: sendBuffer,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin is enforced by the bearer token, not the browser origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Serve upgrades the request and pumps messages for the authenticated actor
// until the connection closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, actor models.Actor) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{
		hub:    h,
		conn:   conn,
		actor:  actor,
		send:   make(chan serverMessage, h.sendBuffer),
		tables: make(map[string]struct{}),
	}
	h.register(c)

	go c.writePump()
	c.readPump()
	return nil
}

// Publish delivers the change to every subscribed client in its audience.
// It never blocks; clients whose queue is full are disconnected.
func (h *Hub) Publish(change Change) {
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}

	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		if !c.wants(change) {
			continue
		}
		msg := serverMessage{Type: "change", Change: &change}
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow realtime client", zap.String("user_id", c.actor.UserID))
		h.unregister(c)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.unregister(c)
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.RealtimeConnected(1)
	h.logger.Debug("realtime client connected", zap.String("user_id", c.actor.UserID))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.mu.Unlock()
	metrics.RealtimeConnected(-1)
	h.logger.Debug("realtime client disconnected", zap.String("user_id", c.actor.UserID))
}

type client struct {
	hub   *Hub
	conn  *websocket.Conn
	actor models.Actor
	send  chan serverMessage

	mu     sync.RWMutex
	tables map[string]struct{}
}

func (c *client) wants(change Change) bool {
	c.mu.RLock()
	_, subscribed := c.tables[change.Table]
	c.mu.RUnlock()
	if !subscribed {
		return false
	}
	if c.actor.IsAdmin() {
		return true
	}
	for _, id := range change.Audience {
		if id == c.actor.UserID {
			return true
		}
	}
	return false
}

// reply queues a control message without blocking the read loop.
func (c *client) reply(msg serverMessage) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("realtime read failed", zap.Error(err))
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(serverMessage{Type: "error", Error: "malformed message"})
			continue
		}
		if _, ok := knownTables[msg.Table]; !ok {
			c.reply(serverMessage{Type: "error", Table: msg.Table, Error: "unknown table"})
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.mu.Lock()
			c.tables[msg.Table] = struct{}{}
			c.mu.Unlock()
			c.reply(serverMessage{Type: "subscribed", Table: msg.Table})
		case "unsubscribe":
			c.mu.Lock()
			delete(c.tables, msg.Table)
			c.mu.Unlock()
			c.reply(serverMessage{Type: "unsubscribed", Table: msg.Table})
		default:
			c.reply(serverMessage{Type: "error", Error: "unknown action"})
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Publisher is implemented by Hub; services depend on it to announce writes.
type Publisher interface {
	Publish(change Change)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Change) {}

// OrNop returns p, or a publisher that drops changes when p is nil.
func OrNop(p Publisher) Publisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}
