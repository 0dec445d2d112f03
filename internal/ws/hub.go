package ws

import (
	"log"
	"sync"
)

// Hub tracks the connected clients per space and fans messages out to
// everyone in a space except the sender.
type Hub struct {
	// Connected clients by space id
	spaces map[string]map[*Client]bool

	// Inbound messages from clients
	broadcast chan *Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	mu sync.RWMutex
}

type Message struct {
	SpaceID string
	Data    []byte
	Sender  *Client
}

func NewHub() *Hub {
	return &Hub{
		spaces:     make(map[string]map[*Client]bool),
		broadcast:  make(chan *Message),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.spaces[client.spaceID]; !ok {
				h.spaces[client.spaceID] = make(map[*Client]bool)
			}
			h.spaces[client.spaceID][client] = true
			count := len(h.spaces[client.spaceID])
			h.mu.Unlock()

			log.Printf("Client joined space %s (total: %d)", client.spaceID, count)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.spaces[client.spaceID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.send)

					if len(clients) == 0 {
						delete(h.spaces, client.spaceID)
						log.Printf("Space channel %s closed (empty)", client.spaceID)
					} else {
						log.Printf("Client left space %s (remaining: %d)", client.spaceID, len(clients))
					}
				}
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			// Write lock: evicting a slow consumer mutates the client set,
			// and ClientCount/SpaceCount iterate it from other goroutines.
			h.mu.Lock()
			if clients, ok := h.spaces[message.SpaceID]; ok {
				for client := range clients {
					if client != message.Sender {
						select {
						case client.send <- message.Data:
						default:
							close(client.send)
							delete(clients, client)
						}
					}
				}
				if len(clients) == 0 {
					delete(h.spaces, message.SpaceID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast fans data out to every client in a space. Server-originated
// frames (no sender) go through here, so HTTP writes reach connected
// editors too.
func (h *Hub) Broadcast(spaceID string, data []byte) {
	h.broadcast <- &Message{SpaceID: spaceID, Data: data}
}

// ClientCount returns the number of connected clients across all spaces.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, clients := range h.spaces {
		total += len(clients)
	}
	return total
}

// SpaceCount returns the number of spaces with at least one client.
func (h *Hub) SpaceCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.spaces)
}
