package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/crzyc98/planwise-navigator-sub000/internal/logging"
)

// heartbeatFrame keeps idle sockets alive; clients use it to tell a quiet
// run from a dead connection.
var heartbeatFrame = []byte(`{"type":"heartbeat"}`)

const writeWait = 10 * time.Second

// checkOrigin admits browsers on the configured origin allow-list. "*"
// admits everyone; non-browser clients send no Origin header and always
// pass.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.deps.Settings.Gateway.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// StreamRun streams telemetry snapshots for one run over a websocket. On
// connect the subscriber gets the latest snapshot when one exists, then
// every published frame; heartbeats fill the gaps while the engine is
// quiet. The socket closes normally once the run reaches a terminal state.
func (s *Server) StreamRun(c *gin.Context) {
	runID := c.Param("id")
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade wrote the HTTP error already.
		s.log.Debug("websocket upgrade refused", zap.String("run", runID), zap.Error(err))
		return
	}
	defer conn.Close()
	if s.deps.Metrics != nil {
		s.deps.Metrics.SocketsUpgraded.Inc()
	}

	sub := s.deps.Hub.Subscribe(runID)
	defer s.deps.Hub.Unsubscribe(sub)

	// The reader's only job is to notice the client going away; inbound
	// frames are discarded.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(s.deps.Settings.GetHeartbeatInterval())
	defer heartbeat.Stop()

	logging.Gateway("ws: run %s: subscriber connected", runID)
	for {
		select {
		case snap, ok := <-sub.C():
			if !ok {
				// Terminal frame already delivered; say goodbye properly.
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snap); err != nil {
				logging.GatewayDebug("ws: run %s: write: %v", runID, err)
				return
			}
		case <-heartbeat.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, heartbeatFrame); err != nil {
				return
			}
		case <-clientGone:
			logging.GatewayDebug("ws: run %s: client closed", runID)
			return
		}
	}
}
