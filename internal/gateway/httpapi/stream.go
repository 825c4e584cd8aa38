package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const streamWriteTimeout = 5 * time.Second

// handleDecisionStream upgrades to a websocket and pushes every recorded
// sandbox decision as a JSON text message until the client disconnects.
func (g *Gateway) handleDecisionStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Warn("decision stream upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	events, cancel := g.hub.Subscribe()
	defer cancel()

	// The stream is server-to-client; CloseRead handles control frames and
	// cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	g.logger.Info("decision stream subscriber connected", slog.String("remote", r.RemoteAddr))
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case e, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "stream closed")
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			wctx, wcancel := context.WithTimeout(ctx, streamWriteTimeout)
			err = conn.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				g.logger.Debug("decision stream write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}
