package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"reqlens/internal/domain"
)

var ingestUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// handleCaptureWS receives capture events from an instrumented host over a
// websocket. Each text message is one JSON CaptureEvent; undecodable
// messages are counted and dropped so one bad frame never kills the feed.
func (d *Deps) handleCaptureWS(w http.ResponseWriter, r *http.Request) {
	c, err := ingestUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer c.Close()
	d.Logger.Info().Str("remote", r.RemoteAddr).Msg("capture feed connected")
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			d.Logger.Info().Str("remote", r.RemoteAddr).Msg("capture feed closed")
			return
		}
		var ev domain.CaptureEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			d.Metrics.IngestErrorsTotal.Inc()
			d.Logger.Debug().Err(err).Msg("capture event decode failed")
			continue
		}
		d.Norm.Feed(ev)
	}
}
