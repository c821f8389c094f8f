package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // read-only public feed
	},
}

const writeWait = 10 * time.Second

// FeedHandler streams battle snapshots over a websocket.
type FeedHandler struct {
	battles  *BattleHandler
	interval time.Duration
}

func NewFeedHandler(battles *BattleHandler, interval time.Duration) *FeedHandler {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &FeedHandler{battles: battles, interval: interval}
}

// Stream pushes a frame immediately and then on every tick until the client
// goes away.
func (h *FeedHandler) Stream(w http.ResponseWriter, r *http.Request) {
	log := h.battles.logger
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	log.Debug("Feed client connected", map[string]interface{}{"remote": r.RemoteAddr})

	// Clients never send anything we act on; reading surfaces the close frame.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.send(conn); err != nil {
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := h.send(conn); err != nil {
				log.Debug("Feed write failed", map[string]interface{}{"error": err.Error()})
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *FeedHandler) send(conn *websocket.Conn) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))

	arena := h.battles.arena
	snap, err := arena.Status()
	if err != nil {
		return conn.WriteJSON(map[string]interface{}{
			"type":      "idle",
			"timestamp": time.Now(),
			"stats":     arena.Stats(),
		})
	}
	return conn.WriteJSON(map[string]interface{}{
		"type":      "battle_update",
		"timestamp": time.Now(),
		"battle":    snap,
		"prize":     arena.PrizePool(),
	})
}
