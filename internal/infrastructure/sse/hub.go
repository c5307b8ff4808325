// Package sse fans projection updates out to streaming HTTP clients.
package sse

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/samtwin/companion/internal/core/domain"
)

const (
	HeartbeatInterval = 30 * time.Second
	clientBuffer      = 16
)

const (
	EventProjection = "projection"
	EventClosed     = "closed"
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	ID     string
	UserID string
	Events chan Event
	Done   chan struct{}
}

// Hub keeps the latest projection of each user and broadcasts every new one
// to that user's clients. Slow clients miss intermediate projections; each
// event carries the whole projection so the next one catches them up.
type Hub struct {
	log zerolog.Logger

	mu      sync.RWMutex
	clients map[string]map[*Client]bool // userID -> set of clients
	latest  map[string]Event
	closed  map[string]bool // users whose session ended; Publish ignores them
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[string]map[*Client]bool),
		latest:  make(map[string]Event),
		closed:  make(map[string]bool),
	}
}

// Subscribe registers a client for userID. The latest known projection, if
// any, is queued immediately.
func (h *Hub) Subscribe(userID string) *Client {
	client := &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Events: make(chan Event, clientBuffer),
		Done:   make(chan struct{}),
	}

	h.mu.Lock()
	delete(h.closed, userID)
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*Client]bool)
	}
	h.clients[userID][client] = true
	if ev, ok := h.latest[userID]; ok {
		client.Events <- ev
	}
	count := len(h.clients[userID])
	h.mu.Unlock()

	h.log.Info().
		Str("user_id", userID).
		Str("client_id", client.ID).
		Int("client_count", count).
		Msg("stream client subscribed")
	return client
}

func (h *Hub) Unsubscribe(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.clients[client.UserID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.Done)
	if len(clients) == 0 {
		delete(h.clients, client.UserID)
	}

	h.log.Info().
		Str("user_id", client.UserID).
		Str("client_id", client.ID).
		Int("client_count", len(clients)).
		Msg("stream client unsubscribed")
}

// OpenUser accepts projections for userID again after CloseUser. It is called
// when a session for that user starts.
func (h *Hub) OpenUser(userID string) {
	h.mu.Lock()
	delete(h.closed, userID)
	h.mu.Unlock()
}

// Publish stores p as the latest projection of its user and broadcasts it.
// Projections of a closed user are dropped.
func (h *Hub) Publish(p domain.Projection) {
	if p.UserID == "" {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode projection")
		return
	}
	ev := Event{Type: EventProjection, Data: data}

	h.mu.Lock()
	if h.closed[p.UserID] {
		h.mu.Unlock()
		h.log.Debug().Str("user_id", p.UserID).Msg("projection dropped, session ended")
		return
	}
	h.latest[p.UserID] = ev
	clients := make([]*Client, 0, len(h.clients[p.UserID]))
	for c := range h.clients[p.UserID] {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.offer(c, ev)
	}
}

// CloseUser forgets the user's projection and disconnects its clients. It is
// called when the session of that user ends.
func (h *Hub) CloseUser(userID string) {
	h.mu.Lock()
	h.closed[userID] = true
	delete(h.latest, userID)
	clients := h.clients[userID]
	delete(h.clients, userID)
	h.mu.Unlock()

	for c := range clients {
		close(c.Done)
	}
	if len(clients) > 0 {
		h.log.Info().Str("user_id", userID).Int("client_count", len(clients)).Msg("stream clients disconnected, session ended")
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.clients {
		for c := range clients {
			close(c.Done)
		}
	}
	h.clients = make(map[string]map[*Client]bool)
	h.latest = make(map[string]Event)
}

func (h *Hub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// offer queues ev, replacing the oldest queued event when the buffer is full.
func (h *Hub) offer(c *Client, ev Event) {
	for i := 0; i < 2; i++ {
		select {
		case c.Events <- ev:
			return
		default:
		}
		select {
		case <-c.Events:
			h.log.Warn().Str("client_id", c.ID).Msg("client event buffer full, dropping stale projection")
		default:
		}
	}
}
