package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/paulgibert/chaingpt/internal/hub"
)

// StreamEvents upgrades to a WebSocket that first replays the session's
// stored events newer than after_ts, then pushes new ones as they happen.
// The stream ends when the session closes.
func (h *Handler) StreamEvents(c echo.Context) error {
	if h.hub == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "event stream disabled"})
	}
	sessionID := c.Param("session_id")

	var afterTs int64
	if v := c.QueryParam("after_ts"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return badRequest(c, "after_ts must be an integer")
		}
		afterTs = ts
	}

	ctx := c.Request().Context()
	sess, err := h.service.GetSession(ctx, sessionID)
	if err != nil {
		return h.respondError(c, err)
	}
	backlog, err := h.service.ListEvents(ctx, sessionID, afterTs, h.stream.ReplayLimit)
	if err != nil {
		return h.respondError(c, err)
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.WithError(err).Warn("failed to upgrade websocket")
		return nil
	}
	ws.SetReadLimit(h.stream.MaxMessageSize)

	conn := h.hub.NewConnection(ws, sessionID)
	for _, event := range backlog {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if err := h.hub.SendToConnection(conn, data); err != nil {
			break
		}
	}

	log := h.logger.WithFields(logrus.Fields{"conn_id": conn.ID, "session_id": sessionID})
	if sess.ClosedAt != nil {
		// Nothing more will happen; drain the backlog and hang up.
		close(conn.Send)
		go h.writePump(conn, log)
		return nil
	}

	h.subscribe(ctx, conn, log)
	go h.writePump(conn, log)
	go h.readPump(conn, log)
	return nil
}

// subscribe registers conn for live events. A close that happened after the
// session was looked up has already been broadcast to nobody, so the session
// is checked again once the hub holds the connection.
func (h *Handler) subscribe(ctx context.Context, conn *hub.Connection, log logrus.FieldLogger) {
	h.hub.Register(conn)

	sess, err := h.service.GetSession(ctx, conn.SessionID)
	if err != nil || sess.ClosedAt != nil {
		log.Debug("session closed while subscribing")
		h.hub.CloseSession(conn.SessionID)
	}
}

// readPump discards client messages and keeps the read deadline fresh.
func (h *Handler) readPump(conn *hub.Connection, log logrus.FieldLogger) {
	defer func() {
		h.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(h.stream.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.stream.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithError(err).Debug("websocket read failed")
			}
			return
		}
	}
}

// writePump writes queued events and keeps the connection alive with pings.
func (h *Handler) writePump(conn *hub.Connection, log logrus.FieldLogger) {
	ticker := time.NewTicker(h.stream.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(h.stream.WriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.WithError(err).Debug("websocket write failed")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(h.stream.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
