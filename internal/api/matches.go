package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/centi-network/centi/internal/domain"
)

// ─── Matches ────────────────────────────────────────────────────────────────
//
// GET /api/matches?participant=     — latest ranked matches
// GET /api/matches/ws?participant=  — WebSocket feed, one message per tick

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// matchMessage is one feed frame.
type matchMessage struct {
	Type    string         `json:"type"`
	TickAt  time.Time      `json:"tick_at"`
	Matches []domain.Match `json:"matches"`
	Count   int            `json:"count"`
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	matches := s.deps.Matcher.Latest(r.URL.Query().Get("participant"))
	writeJSON(w, http.StatusOK, matchMessage{
		Type:    "matches",
		TickAt:  s.deps.Matcher.LastTick(),
		Matches: matches,
		Count:   len(matches),
	})
}

func (s *Server) handleMatchFeed(w http.ResponseWriter, r *http.Request) {
	participantID := r.URL.Query().Get("participant")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Warn(r.Context(), "websocket upgrade failed: "+err.Error())
		return
	}

	feed, unsubscribe := s.deps.Matcher.Subscribe(participantID)
	ctx := s.logger.WithParticipant(r.Context(), participantID)
	s.logger.Debug(ctx, "match feed connected")

	c := &feedClient{conn: conn, feed: feed, lastTick: s.deps.Matcher.LastTick}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		c.readPump()
		cancel()
	}()
	c.writePump(ctx)

	unsubscribe()
	conn.Close()
	s.logger.Debug(ctx, "match feed closed")
}

// feedClient pumps match lists to one WebSocket connection. The client only
// receives; anything it sends is discarded.
type feedClient struct {
	conn     *websocket.Conn
	feed     <-chan []domain.Match
	lastTick func() time.Time
}

func (c *feedClient) readPump() {
	c.conn.SetReadLimit(4 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *feedClient) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case matches, ok := <-c.feed:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			msg, err := json.Marshal(matchMessage{
				Type:    "matches",
				TickAt:  c.lastTick(),
				Matches: matches,
				Count:   len(matches),
			})
			if err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
