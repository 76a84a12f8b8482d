package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// Client is one websocket subscriber, pinned to a single round topic.
type Client struct {
	conn    *websocket.Conn
	roundID string
	mu      sync.Mutex
}

// Hub fans round updates out to the subscribers of each round's topic. The
// game core only produces messages; the hub owns all subscriber bookkeeping.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Client]struct{} // roundID -> subscribers
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[*Client]struct{})}
}

// Push implements game.Pusher: best-effort delivery to every subscriber of
// the round's topic.
func (h *Hub) Push(roundID string, message any) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("[WS] Marshal error: %v", err)
		return
	}

	h.mu.RLock()
	subscribers := h.topics[roundID]
	clients := make([]*Client, 0, len(subscribers))
	for c := range subscribers {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		go c.send(data)
	}
}

func (h *Hub) Subscribe(conn *websocket.Conn, roundID string) *Client {
	client := &Client{conn: conn, roundID: roundID}
	h.mu.Lock()
	if h.topics[roundID] == nil {
		h.topics[roundID] = make(map[*Client]struct{})
	}
	h.topics[roundID][client] = struct{}{}
	total := len(h.topics[roundID])
	h.mu.Unlock()
	log.Printf("[WS] Subscriber joined round %s (%d on topic)", roundID, total)
	return client
}

func (h *Hub) Unsubscribe(client *Client) {
	h.mu.Lock()
	if subs, ok := h.topics[client.roundID]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.topics, client.roundID)
		}
	}
	h.mu.Unlock()
	client.conn.Close()
	log.Printf("[WS] Subscriber left round %s", client.roundID)
}

// SubscriberCount counts subscribers across all round topics.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.topics {
		n += len(subs)
	}
	return n
}

func (c *Client) send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("[WS] Write error on round %s: %v", c.roundID, err)
	}
}
