package app

import (
	"context"
	"net/http"
	"time"

	"aidoc/editor/internal/editor"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamReadTimeout  = 60 * time.Second
	streamPingInterval = 25 * time.Second
	streamEventBuffer  = 64
)

type streamFrame struct {
	Type    string        `json:"type"`
	Project *ProjectView  `json:"project,omitempty"`
	Event   *editor.Event `json:"event,omitempty"`
}

func (s *HTTPServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return s.corsOrigin == "*" || origin == "" || origin == s.corsOrigin
}

// handleStream pushes a snapshot frame whenever the collection changes and
// an event frame for every editor event. Snapshots are latest-wins; a slow
// client skips intermediate ones.
func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request, projectID int64) {
	ed, err := s.service.Editor(context.WithoutCancel(r.Context()), projectID)
	if err != nil {
		s.fail(w, err)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.V(1).Infof("app: stream upgrade for project %d: %v", projectID, err)
		return
	}
	defer ws.Close()

	sub := ed.Subscribe()
	defer sub.Close()
	events, stopEvents := ed.SubscribeEvents(streamEventBuffer)
	defer stopEvents()

	handleCtx, handleCancel := context.WithCancel(context.Background())
	defer handleCancel()

	// client messages are ignored; reading keeps pongs and close frames flowing
	go func() {
		defer handleCancel()
		ws.SetReadLimit(4096)
		ws.SetReadDeadline(time.Now().Add(streamReadTimeout))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(streamReadTimeout))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				glog.V(2).Infof("app: stream read for project %d: %v", projectID, err)
				return
			}
		}
	}()

	write := func(frame streamFrame) bool {
		ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := ws.WriteJSON(frame); err != nil {
			glog.V(1).Infof("app: stream write for project %d: %v", projectID, err)
			return false
		}
		return true
	}

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-handleCtx.Done():
			return
		case snap, ok := <-sub.C:
			if !ok {
				return
			}
			view := viewOf(ed, snap)
			if !write(streamFrame{Type: "snapshot", Project: &view}) {
				return
			}
		case event, ok := <-events:
			if !ok {
				return
			}
			if !write(streamFrame{Type: "event", Event: &event}) {
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		}
	}
}
