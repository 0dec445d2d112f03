package ws

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/stanza-editor/stanza/backend/internal/auth"
	"github.com/stanza-editor/stanza/backend/internal/presence"
	"github.com/stanza-editor/stanza/backend/internal/ratelimit"
	"github.com/stanza-editor/stanza/backend/internal/room"
	"github.com/stanza-editor/stanza/backend/internal/store"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	messagesPerSecond = 100
	messageBurst      = 200
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Client struct {
	hub         *Hub
	registry    *room.Registry
	conn        *websocket.Conn
	send        chan []byte
	spaceID     string
	room        *room.Room
	username    string
	rateLimiter *ratelimit.Limiter
	clientID    string
}

// ServeWS handles a realtime-connection attempt at /ws/{space}. The space
// id is validated and the connection policy applied before the upgrade:
// anonymous connections (no credentials at all) are allowed through
// without presence, verified ones get a presence identity, and partially
// or wrongly credentialed ones are refused.
func ServeWS(hub *Hub, registry *room.Registry, gate *auth.Gate, tracker *presence.Tracker, w http.ResponseWriter, r *http.Request) {
	spaceID := mux.Vars(r)["space"]
	if !store.ValidID(spaceID) {
		http.Error(w, "Invalid space id", http.StatusBadRequest)
		return
	}

	username, ok := gate.ConnectionIdentity(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	liveRoom, err := registry.Open(spaceID)
	if err != nil {
		http.Error(w, "Failed to open space", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	if username != "" {
		tracker.Mark(spaceID, username)
	}

	client := &Client{
		hub:         hub,
		registry:    registry,
		conn:        conn,
		send:        make(chan []byte, 512),
		spaceID:     spaceID,
		room:        liveRoom,
		username:    username,
		rateLimiter: ratelimit.NewLimiter(messagesPerSecond, messageBurst),
		clientID:    uuid.NewString(),
	}

	hub.register <- client

	// Catch-up frame: late joiners start from the current document state.
	client.send <- EncodeMessage(MessageUpdate, liveRoom.Doc().State())

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				log.Printf("Rate limit exceeded for client %s in space %s (warning #%d)",
					c.clientID, c.spaceID, rateLimitWarnings)
			}
			if rateLimitWarnings > 1000 {
				log.Printf("Disconnecting client %s for excessive rate limit violations", c.clientID)
				return
			}
			continue
		}

		messageType, payload, err := ParseMessage(message)
		if err != nil {
			log.Printf("Invalid message from client %s: %v", c.clientID, err)
			continue
		}

		if messageType == MessageUpdate {
			if err := c.registry.ApplyUpdateToRoom(c.room, payload); err != nil {
				log.Printf("Update from client %s rejected: %v", c.clientID, err)
				continue
			}
		}

		c.hub.broadcast <- &Message{
			SpaceID: c.spaceID,
			Data:    message,
			Sender:  c,
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.BinaryMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
