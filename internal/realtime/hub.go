// Package realtime рассылает события предложения подписчикам по websocket.
package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/senyabanana/coop-offers/internal/events"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub держит подключения, сгруппированные по предложению.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*client]struct{}
	logger *log.Logger
}

// NewHub создаёт новый экземпляр Hub.
func NewHub(logger *log.Logger) *Hub {
	return &Hub{rooms: make(map[string]map[*client]struct{}), logger: logger}
}

func (h *Hub) register(offerID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[offerID]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[offerID] = room
	}
	room[c] = struct{}{}
}

func (h *Hub) unregister(offerID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[offerID]
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, offerID)
	}
}

// Subscribers возвращает число подключений к предложению.
func (h *Hub) Subscribers(offerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[offerID])
}

// Deliver отправляет событие всем подписчикам его предложения.
func (h *Hub) Deliver(_ context.Context, evt events.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	h.mu.RLock()
	clients := make([]*client, 0, len(h.rooms[evt.OfferID]))
	for c := range h.rooms[evt.OfferID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(payload); err != nil {
			h.logger.Printf("[realtime] write to subscriber of %s failed: %v", evt.OfferID, err)
			h.unregister(evt.OfferID, c)
			_ = c.conn.Close()
		}
	}
	return nil
}

// ServeWS переводит запрос в websocket и держит подписку, пока клиент не отключится.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, offerID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{conn: conn}
	h.register(offerID, c)
	defer func() {
		h.unregister(offerID, c)
		_ = conn.Close()
	}()

	// Протокол односторонний, входящие сообщения игнорируются.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}
