package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"labsync/internal/util"
	"labsync/pkg/domain"
	"labsync/pkg/realtime"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 4 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Token auth already gates the endpoint; browser clients connect from
	// arbitrary origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

// inboundFrame is what clients may send over the socket. Only typing events
// are accepted; messages go through REST so they are durable before fan-out.
type inboundFrame struct {
	Event string `json:"event"`
}

// handleRealtime bridges a websocket onto the conversation's broadcast topic.
// The first frame the client receives is the presence sync snapshot.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request, user domain.User) {
	conversationID := r.URL.Query().Get("conversationId")
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, "conversationId is required")
		return
	}
	member, err := s.app.IsParticipant(conversationID, user.ID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if !member {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if s.channel == nil {
		writeError(w, http.StatusInternalServerError, "realtime channel not configured")
		return
	}

	log := util.LoggerFromContext(r.Context()).With("conversation_id", conversationID, "user_id", user.ID)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}

	topic := realtime.Topic(conversationID)
	sub, err := s.channel.Subscribe(r.Context(), topic, realtime.Presence{
		UserID:   user.ID,
		UserName: user.Name,
		OnlineAt: time.Now().Unix(),
	})
	if err != nil {
		log.Error("subscribe failed", "error", err)
		_ = conn.Close()
		return
	}
	log.Info("realtime session opened")

	go s.writePump(conn, sub)
	s.readPump(conn, sub, topic, user.ID, log)
}

func (s *Server) writePump(conn *websocket.Conn, sub *realtime.Subscription) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case <-sub.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case event := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readPump(conn *websocket.Conn, sub *realtime.Subscription, topic, userID string, log *slog.Logger) {
	defer func() {
		_ = sub.Close()
		_ = conn.Close()
		log.Info("realtime session closed")
	}()
	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame inboundFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			continue
		}
		eventType := realtime.EventType(frame.Event)
		if eventType != realtime.EventTypingStart && eventType != realtime.EventTypingStop {
			continue
		}
		if err := s.channel.Publish(context.Background(), topic, realtime.Event{
			Type:   eventType,
			UserID: userID,
		}); err != nil {
			log.Warn("typing broadcast failed", "event", frame.Event, "error", err)
		}
	}
}
