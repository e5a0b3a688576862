package ws

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zaqqye/proctor_backend_v1/internal/models"
	"github.com/zaqqye/proctor_backend_v1/internal/registry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256
)

// ReadingEvent is pushed to reviewer dashboards when the engine accepts a
// reading for some session.
type ReadingEvent struct {
	Type    string         `json:"type"` // "reading"
	Reading models.Reading `json:"reading"`
}

// RefreshEvent carries the periodically re-derived summary list.
type RefreshEvent struct {
	Type     string             `json:"type"` // "sessions"
	Sessions []registry.Summary `json:"sessions"`
}

type sessionMessage struct {
	examID  string // empty = every client
	payload []byte
}

// SessionHub fans live proctoring updates out to reviewer websocket
// clients, optionally scoped to one exam.
type SessionHub struct {
	register   chan *sessionClient
	unregister chan *sessionClient
	broadcast  chan sessionMessage
	clients    map[*sessionClient]struct{}
}

func NewSessionHub() *SessionHub {
	return &SessionHub{
		register:   make(chan *sessionClient),
		unregister: make(chan *sessionClient),
		broadcast:  make(chan sessionMessage, 256),
		clients:    make(map[*sessionClient]struct{}),
	}
}

func (h *SessionHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				client.conn.Close()
			}
		case msg := <-h.broadcast:
			for client := range h.clients {
				if client.examID != "" && msg.examID != "" && client.examID != msg.examID {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					delete(h.clients, client)
					close(client.send)
					client.conn.Close()
				}
			}
		}
	}
}

// ReadingAccepted implements the engine's notifier hook.
func (h *SessionHub) ReadingAccepted(r *models.Reading) {
	if h == nil || r == nil {
		return
	}
	h.push(r.ExamID, ReadingEvent{Type: "reading", Reading: *r})
}

// SummariesRefreshed implements the registry refresher's broadcaster hook.
func (h *SessionHub) SummariesRefreshed(summaries []registry.Summary) {
	if h == nil {
		return
	}
	h.push("", RefreshEvent{Type: "sessions", Sessions: summaries})
}

func (h *SessionHub) push(examID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ws: failed to marshal payload: %v", err)
		return
	}
	h.broadcast <- sessionMessage{examID: examID, payload: data}
}

type sessionClient struct {
	hub    *SessionHub
	conn   *websocket.Conn
	send   chan []byte
	examID string // empty = all exams
}

func newSessionClient(hub *SessionHub, conn *websocket.Conn, examID string) *sessionClient {
	return &sessionClient{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		examID: examID,
	}
}

func (c *sessionClient) readPump() {
	defer func() {
		c.hub.unregister <- c
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *sessionClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
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
