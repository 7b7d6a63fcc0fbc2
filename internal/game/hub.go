package game

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

type Client struct {
	conn   *websocket.Conn
	userID string
	mu     sync.Mutex
}

// Hub fans broadcasts out to every connection and routes targeted
// events by user ID. A user may hold several connections at once
// (reconnects, multiple tabs); targeted events reach all of them.
type Hub struct {
	clients    map[*Client]bool
	byUser     map[string]map[*Client]bool
	broadcast  chan any
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		byUser:     make(map[string]map[*Client]bool),
		broadcast:  make(chan any, 100),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if h.byUser[client.userID] == nil {
				h.byUser[client.userID] = make(map[*Client]bool)
			}
			h.byUser[client.userID][client] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("[WS] client connected: %s (total: %d)", client.userID, total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				if set := h.byUser[client.userID]; set != nil {
					delete(set, client)
					if len(set) == 0 {
						delete(h.byUser, client.userID)
					}
				}
				client.conn.Close()
				log.Printf("[WS] client disconnected: %s (total: %d)", client.userID, len(h.clients))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				log.Printf("[WS] marshal error: %v", err)
				continue
			}
			h.mu.RLock()
			for client := range h.clients {
				go client.send(data)
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues a message for every connected client. Never blocks;
// drops when the hub is backed up so the round clock is never stalled
// by slow consumers.
func (h *Hub) Broadcast(message any) {
	select {
	case h.broadcast <- message:
	default:
		log.Println("[WS] broadcast channel full, dropping message")
	}
}

// SendToUser delivers a targeted event to every connection the user
// currently holds. No-op when the user is offline.
func (h *Hub) SendToUser(userID string, message any) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("[WS] marshal error: %v", err)
		return
	}
	h.mu.RLock()
	set := h.byUser[userID]
	targets := make([]*Client, 0, len(set))
	for client := range set {
		targets = append(targets, client)
	}
	h.mu.RUnlock()
	for _, client := range targets {
		go client.send(data)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("[WS] write error for user %s: %v", c.userID, err)
	}
}

func (h *Hub) RegisterClient(conn *websocket.Conn, userID string) {
	h.register <- &Client{conn: conn, userID: userID}
}

func (h *Hub) UnregisterClient(conn *websocket.Conn) {
	h.mu.RLock()
	for client := range h.clients {
		if client.conn == conn {
			h.mu.RUnlock()
			h.unregister <- client
			return
		}
	}
	h.mu.RUnlock()
}
