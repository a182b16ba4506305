package notify

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/raspadinha/raspadinha/internal/handlers/userctx"
)

// Hub holds websocket connections keyed by user id and pushes authoritative
// balances to them. It is strictly read-only with respect to the ledger.
type Hub struct {
	upgrader websocket.Upgrader

	mu sync.RWMutex
	// userID -> set of connections
	subs map[uuid.UUID]map[*websocket.Conn]struct{}
}

func NewHub(allowOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		subs:     make(map[uuid.UUID]map[*websocket.Conn]struct{}),
	}
}

// HandleWS upgrades the request and keeps the connection subscribed to the
// authenticated user's balance until the client goes away. The user id comes
// from the request context, so a client can only ever observe its own account.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := userctx.FromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	h.mu.Lock()
	if _, ok := h.subs[userID]; !ok {
		h.subs[userID] = make(map[*websocket.Conn]struct{})
	}
	h.subs[userID][conn] = struct{}{}
	h.mu.Unlock()

	// Drain client messages; the stream is server-to-client only, but reads
	// are needed to notice the peer closing.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	if m, ok := h.subs[userID]; ok {
		delete(m, conn)
		if len(m) == 0 {
			delete(h.subs, userID)
		}
	}
	h.mu.Unlock()
}

// Broadcast pushes the event to every connection subscribed to its user.
func (h *Hub) Broadcast(event BalanceEvent) {
	// Snapshot the connections under the lock; the set is mutated by
	// HandleWS whenever a client disconnects.
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.subs[event.UserID]))
	for c := range h.subs[event.UserID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	if len(conns) == 0 {
		return
	}

	b, _ := json.Marshal(event)
	for _, c := range conns {
		_ = c.WriteMessage(websocket.TextMessage, b)
	}
}
