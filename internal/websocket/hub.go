package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/brokerdesk/internal/model"
)

// Message is a frame pushed to account feed subscribers.
type Message struct {
	Type    string                `json:"type"`
	Login   string                `json:"login"`
	Account *model.AccountSummary `json:"account,omitempty"`
	Error   string                `json:"error,omitempty"`
	Time    time.Time             `json:"time"`
}

// NewSnapshot wraps an account summary for delivery.
func NewSnapshot(acct *model.AccountSummary, at time.Time) Message {
	return Message{Type: "account_snapshot", Login: acct.Login, Account: acct, Time: at}
}

// NewUnavailable reports that the login's snapshot could not be loaded.
func NewUnavailable(login string, at time.Time) Message {
	return Message{Type: "account_unavailable", Login: login, Error: "Account data unavailable.", Time: at}
}

// Hub tracks connected clients grouped by the login they subscribe to.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.login]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.login] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client and closes its send channel. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if set, ok := h.clients[c.login]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
		}
		if len(set) == 0 {
			delete(h.clients, c.login)
		}
	}
	h.mu.Unlock()
}

// Send delivers msg to every client subscribed to msg.Login.
func (h *Hub) Send(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal feed message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[msg.Login] {
		select {
		case c.send <- data:
		default:
			// slow client, drop
		}
	}
}

// Logins returns the logins with at least one subscriber.
func (h *Hub) Logins() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.clients))
	for login := range h.clients {
		out = append(out, login)
	}
	return out
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}
