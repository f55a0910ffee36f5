package server

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/carvidal/metrodl/api"
	"github.com/carvidal/metrodl/internal/logger"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEvent is the wire form of a pipeline event. Errors are flattened to
// strings; payloads the page does not need are omitted.
type wsEvent struct {
	Type    string  `json:"type"`
	Status  string  `json:"status,omitempty"`
	Percent int     `json:"percent"`
	BPM     float64 `json:"bpm,omitempty"`
	Title   string  `json:"title,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// ProgressHandler upgrades the connection and streams pipeline events
// until the client disconnects.
func (h *APIHandler) ProgressHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}
	defer conn.Close()

	ch := h.bus.Subscribe()
	defer h.bus.Unsubscribe(ch)

	for ev := range ch {
		msg := wsEvent{Percent: ev.Percent}
		switch ev.Type {
		case api.EventStatus:
			msg.Type = "status"
			msg.Status = ev.Status
		case api.EventProgress:
			msg.Type = "progress"
		case api.EventMetadata:
			msg.Type = "metadata"
			if ev.Metadata != nil {
				msg.Title = ev.Metadata.Title
			}
		case api.EventGridReady:
			msg.Type = "grid"
			if ev.Grid != nil {
				msg.BPM = ev.Grid.BPM
			}
		case api.EventError:
			msg.Type = "error"
			if ev.Err != nil {
				msg.Error = ev.Err.Error()
			}
		case api.EventPlaybackStarted:
			msg.Type = "playback_started"
		case api.EventPlaybackStopped:
			msg.Type = "playback_stopped"
		default:
			continue
		}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
